package store

import (
	"context"
	"errors"
	"fmt"

	"undostore/internal/codec"
)

// Typed gives one key a Go type. The store itself stays agnostic of value
// shape; Typed converts through the JSON codec at the boundary, so T must
// round-trip through JSON.
type Typed[T any] struct {
	s   *Store
	key string
}

func NewTyped[T any](s *Store, key string) Typed[T] {
	return Typed[T]{s: s, key: key}
}

func (t Typed[T]) Key() string {
	return t.key
}

// Load decodes the stored value into a T. ok is false when the key is
// absent.
func (t Typed[T]) Load(ctx context.Context) (v T, ok bool, err error) {
	raw, err := t.s.Lookup(ctx, t.key)
	if errors.Is(err, ErrKeyAbsent) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := codec.Convert(raw, &v); err != nil {
		return v, false, fmt.Errorf("decoding %q: %w", t.key, err)
	}
	return v, true, nil
}

func (t Typed[T]) Save(ctx context.Context, v T) error {
	return t.s.Set(ctx, t.key, v)
}

// Update loads the value (zero T when absent), applies fn and stores the
// result, all under one exclusive access. It records a single undo entry;
// if fn fails nothing is stored.
func (t Typed[T]) Update(ctx context.Context, fn func(v *T) error) error {
	return t.s.Exclusive(ctx, func(tx *Tx) error {
		var v T
		raw, err := tx.Lookup(t.key)
		switch {
		case errors.Is(err, ErrKeyAbsent):
		case err != nil:
			return err
		default:
			if err := codec.Convert(raw, &v); err != nil {
				return fmt.Errorf("decoding %q: %w", t.key, err)
			}
		}
		if err := fn(&v); err != nil {
			return err
		}
		return tx.Set(t.key, v)
	})
}
