// Package access provides the single serialization point for store state.
package access

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Token is a context-aware mutex. Waiters are granted the token in the
// order they called Acquire. A waiter whose context ends before it is
// granted the token leaves without ever holding it.
type Token struct {
	sem *semaphore.Weighted
}

func New() *Token {
	return &Token{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the token is held or ctx is done. An already
// cancelled context never acquires, even when the token is free.
func (t *Token) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.sem.Acquire(ctx, 1)
}

// Release hands the token to the next waiter. Releasing a token that is
// not held panics.
func (t *Token) Release() {
	t.sem.Release(1)
}

// Do runs fn while holding the token. The token is released on every
// exit path, panics included.
func (t *Token) Do(ctx context.Context, fn func() error) error {
	if err := t.Acquire(ctx); err != nil {
		return err
	}
	defer t.Release()
	return fn()
}
