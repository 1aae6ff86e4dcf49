// Package store is a single-process key-value store over JSON values with an
// in-memory undo log.
//
// Every operation, reads included, runs while holding one access token, so
// operations are strictly serialized in the order they acquire it.
// Mutations are recorded in the undo log and can be reverted in memory
// until Commit writes a full snapshot to the backend and clears the log.
// Anything not committed is lost when the process exits.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"undostore/internal/access"
	"undostore/internal/logging"
	"undostore/internal/snapshot"
	"undostore/internal/snapshot/file"
	"undostore/internal/undo"
)

var (
	ErrKeyAbsent          = errors.New("key absent")
	ErrInvalidRevertCount = undo.ErrInvalidRevertCount
	ErrTxReleased         = errors.New("exclusive access already released")
)

var logger = logging.For("store")

// Store holds the state map and its undo log. Both are only touched while
// holding token.
type Store struct {
	token   *access.Token
	backend snapshot.Backend
	metrics *Metrics

	state      map[string]any
	log        *undo.Log
	lastCommit string

	registerer prometheus.Registerer
}

// Option configures a Store at Open.
type Option func(*Store)

// WithMetrics registers the store's collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Store) {
		s.registerer = reg
	}
}

// Open creates a store over backend. With load set, the initial state is
// read from the backend (missing or undecodable snapshots give an empty
// store). Without it, the store starts empty and immediately commits
// that empty snapshot, replacing whatever the backend held.
func Open(ctx context.Context, backend snapshot.Backend, load bool, opts ...Option) (*Store, error) {
	s := &Store{
		token:   access.New(),
		backend: backend,
		metrics: newMetrics(),
		log:     undo.NewLog(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if load {
		state, err := snapshot.Load(backend)
		if err != nil {
			return nil, err
		}
		s.state = state
		s.metrics.observeState(s)
		logger.Info("store opened", "location", backend.Location(), "keys", len(state))
	} else {
		s.state = map[string]any{}
		if err := s.Commit(ctx); err != nil {
			return nil, fmt.Errorf("initializing %s: %w", backend.Location(), err)
		}
		logger.Info("store initialized empty", "location", backend.Location())
	}

	// Only a store that opened leaves collectors on the registry.
	if s.registerer != nil {
		if err := s.metrics.register(s.registerer); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}
	return s, nil
}

// OpenFile opens a store backed by the JSON file at path.
func OpenFile(ctx context.Context, path string, load bool, opts ...Option) (*Store, error) {
	return Open(ctx, file.New(path), load, opts...)
}

// Location identifies the backing snapshot.
func (s *Store) Location() string {
	return s.backend.Location()
}

// Close releases the backend. It does not commit.
func (s *Store) Close() error {
	return s.token.Do(context.Background(), func() error {
		if n := s.log.Len(); n > 0 {
			logger.Warn("closing with uncommitted changes", "location", s.Location(), "pending", n)
		}
		return s.backend.Close()
	})
}

// run executes fn with exclusive access, counting it as operation op.
func (s *Store) run(ctx context.Context, op string, fn func(tx *Tx) error) error {
	tx, err := s.Lock(ctx)
	if err != nil {
		return err
	}
	defer tx.Release()
	s.metrics.operations.WithLabelValues(op).Inc()
	return fn(tx)
}

// Lock acquires exclusive access and returns a Tx that holds it until
// Release. Prefer Exclusive, which cannot leak the token.
func (s *Store) Lock(ctx context.Context) (*Tx, error) {
	start := time.Now()
	if err := s.token.Acquire(ctx); err != nil {
		return nil, err
	}
	s.metrics.tokenWait.Observe(time.Since(start).Seconds())
	return &Tx{s: s}, nil
}

// Exclusive runs fn with exclusive access for its whole duration, so a
// compound read-modify-write is atomic with respect to every other
// operation. The token is released however fn returns.
func (s *Store) Exclusive(ctx context.Context, fn func(tx *Tx) error) error {
	return s.run(ctx, "exclusive", fn)
}

// Get returns the value bound to key, or def when key is absent.
func (s *Store) Get(ctx context.Context, key string, def any) (any, error) {
	var v any
	err := s.run(ctx, "get", func(tx *Tx) error {
		var err error
		v, err = tx.Get(key, def)
		return err
	})
	return v, err
}

// Lookup returns the value bound to key, or ErrKeyAbsent.
func (s *Store) Lookup(ctx context.Context, key string) (any, error) {
	var v any
	err := s.run(ctx, "get", func(tx *Tx) error {
		var err error
		v, err = tx.Lookup(key)
		return err
	})
	return v, err
}

func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.run(ctx, "contains", func(tx *Tx) error {
		var err error
		ok, err = tx.Contains(key)
		return err
	})
	return ok, err
}

// Keys returns the current keys in ascending order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.run(ctx, "keys", func(tx *Tx) error {
		var err error
		keys, err = tx.Keys()
		return err
	})
	return keys, err
}

// Values returns copies of the current values, ordered by key.
func (s *Store) Values(ctx context.Context) ([]any, error) {
	var vals []any
	err := s.run(ctx, "values", func(tx *Tx) error {
		var err error
		vals, err = tx.Values()
		return err
	})
	return vals, err
}

func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	err := s.run(ctx, "len", func(tx *Tx) error {
		var err error
		n, err = tx.Len()
		return err
	})
	return n, err
}

// Iter returns the keys present when the token was acquired. The keys are
// copied before the token is released, so the sequence is finite, can be
// ranged over more than once, and is unaffected by later mutations.
func (s *Store) Iter(ctx context.Context) (iter.Seq[string], error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	return func(yield func(string) bool) {
		for _, k := range keys {
			if !yield(k) {
				return
			}
		}
	}, nil
}

// Set binds key to value, recording the previous binding for Revert.
// value must be JSON-serializable; it is stored in normalized form (as it
// would read back after a reload).
func (s *Store) Set(ctx context.Context, key string, value any) error {
	return s.run(ctx, "set", func(tx *Tx) error {
		return tx.Set(key, value)
	})
}

// Pop removes key and returns its value, or def when key was absent. The
// pop is recorded for Revert either way.
func (s *Store) Pop(ctx context.Context, key string, def any) (any, error) {
	var v any
	err := s.run(ctx, "pop", func(tx *Tx) error {
		var err error
		v, err = tx.Pop(key, def)
		return err
	})
	return v, err
}

// Remove removes key and returns its value. An absent key fails with
// ErrKeyAbsent and records nothing.
func (s *Store) Remove(ctx context.Context, key string) (any, error) {
	var v any
	err := s.run(ctx, "pop", func(tx *Tx) error {
		var err error
		v, err = tx.Remove(key)
		return err
	})
	return v, err
}

// Commit writes the full state to the backend and clears the undo log.
// If the write fails, neither the log nor the backend's previous snapshot
// change.
func (s *Store) Commit(ctx context.Context) error {
	return s.run(ctx, "commit", func(tx *Tx) error {
		return tx.Commit()
	})
}

// Revert undoes the last n mutations in memory, newest first. n == 0
// undoes everything since the last commit or load. It returns how many
// mutations were undone.
func (s *Store) Revert(ctx context.Context, n int) (int, error) {
	var reverted int
	err := s.run(ctx, "revert", func(tx *Tx) error {
		var err error
		reverted, err = tx.Revert(n)
		return err
	})
	return reverted, err
}

// Describe returns a diagnostic view of the state, location and pending
// undo entries.
func (s *Store) Describe(ctx context.Context) (Description, error) {
	var d Description
	err := s.run(ctx, "describe", func(tx *Tx) error {
		var err error
		d, err = tx.Describe()
		return err
	})
	return d, err
}
