// Package snapshot moves whole-state snapshots between memory and a
// backing location. Every write is a full snapshot; there is no
// incremental persistence.
package snapshot

import (
	"errors"
	"fmt"

	"undostore/internal/codec"
	"undostore/internal/logging"
)

var (
	ErrNotExist = errors.New("snapshot does not exist")
	ErrIO       = errors.New("snapshot i/o failed")
)

var logger = logging.For("snapshot")

// Backend holds one encoded snapshot. The file backend is the default;
// the interface allows other single-document stores (bbolt) without
// touching the store itself.
type Backend interface {
	// Read returns the stored document, or an error matching ErrNotExist
	// when nothing has been written yet.
	Read() ([]byte, error)
	// Write replaces the stored document.
	Write(data []byte) error
	// Location identifies the backing file for diagnostics.
	Location() string
	Close() error
}

// Load returns the state held by b. A missing snapshot yields an empty
// state. So does an undecodable one: the failure is logged as a warning
// and the stored document is left untouched until the next Save.
// Only read failures are returned, wrapped in ErrIO.
func Load(b Backend) (map[string]any, error) {
	data, err := b.Read()
	if errors.Is(err, ErrNotExist) {
		logger.Debug("no snapshot yet, starting empty", "location", b.Location())
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrIO, b.Location(), err)
	}

	state, err := codec.Decode(data)
	if err != nil {
		logger.Warn("snapshot unreadable, starting empty", "location", b.Location(), "err", err)
		return map[string]any{}, nil
	}
	logger.Info("loaded snapshot", "location", b.Location(), "keys", len(state), "bytes", len(data))
	return state, nil
}

// Save encodes the complete state and writes it to b, returning the
// snapshot size. Encode failures wrap codec.ErrEncode, write failures
// wrap ErrIO; in both cases the previous snapshot is still in place.
func Save(b Backend, state map[string]any) (int, error) {
	data, err := codec.Encode(state)
	if err != nil {
		return 0, err
	}
	if err := b.Write(data); err != nil {
		return 0, fmt.Errorf("%w: writing %s: %v", ErrIO, b.Location(), err)
	}
	return len(data), nil
}
