package store

import (
	"fmt"
	"slices"
	"sync/atomic"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tiendc/go-deepcopy"

	"undostore/internal/codec"
	"undostore/internal/snapshot"
)

// Tx is exclusive access to a Store, obtained from Lock or Exclusive. Its
// methods mirror the Store's but run under the token already held, so a
// sequence of them is atomic. A Tx must not be shared between goroutines.
type Tx struct {
	s        *Store
	released atomic.Bool
}

// Release gives up exclusive access. It is safe to call more than once;
// every other method fails with ErrTxReleased afterwards.
func (tx *Tx) Release() {
	if tx.released.CompareAndSwap(false, true) {
		tx.s.token.Release()
	}
}

func (tx *Tx) check() error {
	if tx.released.Load() {
		return ErrTxReleased
	}
	return nil
}

func (tx *Tx) Get(key string, def any) (any, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	v, ok := tx.s.state[key]
	if !ok {
		return def, nil
	}
	return clone(v), nil
}

func (tx *Tx) Lookup(key string) (any, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	v, ok := tx.s.state[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyAbsent, key)
	}
	return clone(v), nil
}

func (tx *Tx) Contains(key string) (bool, error) {
	if err := tx.check(); err != nil {
		return false, err
	}
	_, ok := tx.s.state[key]
	return ok, nil
}

func (tx *Tx) Keys() ([]string, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	return sortedKeys(tx.s.state), nil
}

func (tx *Tx) Values() ([]any, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	keys := sortedKeys(tx.s.state)
	vals := make([]any, len(keys))
	for i, k := range keys {
		vals[i] = clone(tx.s.state[k])
	}
	return vals, nil
}

func (tx *Tx) Len() (int, error) {
	if err := tx.check(); err != nil {
		return 0, err
	}
	return len(tx.s.state), nil
}

func (tx *Tx) Set(key string, value any) error {
	if err := tx.check(); err != nil {
		return err
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("set %q: %w: key is not valid UTF-8", key, codec.ErrEncode)
	}
	norm, err := codec.Normalize(value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	tx.s.log.RecordFrom(tx.s.state, key)
	tx.s.state[key] = norm
	tx.s.metrics.observeState(tx.s)
	logger.Debug("set", "key", key, "pending", tx.s.log.Len())
	return nil
}

func (tx *Tx) Pop(key string, def any) (any, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	tx.s.log.RecordFrom(tx.s.state, key)
	v, ok := tx.s.state[key]
	delete(tx.s.state, key)
	tx.s.metrics.observeState(tx.s)
	logger.Debug("pop", "key", key, "present", ok, "pending", tx.s.log.Len())
	if !ok {
		return def, nil
	}
	// The undo entry still references v.
	return clone(v), nil
}

func (tx *Tx) Remove(key string) (any, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	if _, ok := tx.s.state[key]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyAbsent, key)
	}
	return tx.Pop(key, nil)
}

func (tx *Tx) Commit() error {
	if err := tx.check(); err != nil {
		return err
	}
	s := tx.s
	n, err := snapshot.Save(s.backend, s.state)
	if err != nil {
		s.metrics.commits.WithLabelValues("error").Inc()
		logger.Error("commit failed", "location", s.Location(), "pending", s.log.Len(), "err", err)
		return fmt.Errorf("commit: %w", err)
	}
	id := uuid.NewString()
	cleared := s.log.Len()
	s.log.Clear()
	s.lastCommit = id
	s.metrics.commits.WithLabelValues("ok").Inc()
	s.metrics.snapshotBytes.Set(float64(n))
	s.metrics.observeState(s)
	logger.Info("committed", "location", s.Location(), "commit_id", id, "keys", len(s.state), "cleared", cleared, "bytes", n)
	return nil
}

func (tx *Tx) Revert(n int) (int, error) {
	if err := tx.check(); err != nil {
		return 0, err
	}
	s := tx.s
	reverted, err := s.log.Revert(s.state, n)
	if err != nil {
		return 0, fmt.Errorf("revert: %w", err)
	}
	s.metrics.reverted.Add(float64(reverted))
	s.metrics.observeState(s)
	logger.Debug("reverted", "entries", reverted, "pending", s.log.Len())
	return reverted, nil
}

func (tx *Tx) Describe() (Description, error) {
	if err := tx.check(); err != nil {
		return Description{}, err
	}
	s := tx.s
	state := make(map[string]any, len(s.state))
	for k, v := range s.state {
		state[k] = clone(v)
	}
	pending := s.log.Entries()
	for i := range pending {
		if !pending[i].Absent() {
			pending[i].Prior = clone(pending[i].Prior)
		}
	}
	return Description{
		Location:   s.Location(),
		State:      state,
		Pending:    pending,
		LastCommit: s.lastCommit,
	}, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// clone deep-copies a stored value so callers never alias state. Stored
// values are normalized JSON trees; only objects and arrays are mutable.
func clone(v any) any {
	var err error
	switch t := v.(type) {
	case map[string]any:
		var out map[string]any
		if err = deepcopy.Copy(&out, t); err == nil {
			return out
		}
	case []any:
		var out []any
		if err = deepcopy.Copy(&out, t); err == nil {
			return out
		}
	default:
		return v
	}
	logger.Error("copying value", "type", fmt.Sprintf("%T", v), "err", err)
	return v
}
