// Package undo records prior values of mutated keys so the most recent
// mutations can be rolled back in memory.
package undo

import (
	"errors"
	"fmt"
)

var ErrInvalidRevertCount = errors.New("invalid revert count")

type tombstone struct{}

func (tombstone) String() string { return "<absent>" }

// Tombstone marks an entry whose key did not exist before the mutation.
// Its type is unexported, so no stored value can ever equal it.
var Tombstone any = tombstone{}

// Entry is a single undo record: the key that was mutated and the value it
// held before, or Tombstone.
type Entry struct {
	Key   string
	Prior any
}

// Absent reports whether the key had no binding before the mutation.
func (e Entry) Absent() bool {
	_, ok := e.Prior.(tombstone)
	return ok
}

// Log is an append-only sequence of entries in chronological order.
// It is not safe for concurrent use; the store guards it with the same
// token as the state it describes.
type Log struct {
	entries []Entry
}

func NewLog() *Log {
	return &Log{}
}

// Record appends the prior binding of key. prior is the previous value
// or Tombstone.
func (l *Log) Record(key string, prior any) {
	l.entries = append(l.entries, Entry{Key: key, Prior: prior})
}

// RecordFrom appends the current binding of key in state.
func (l *Log) RecordFrom(state map[string]any, key string) {
	if v, ok := state[key]; ok {
		l.Record(key, v)
		return
	}
	l.Record(key, Tombstone)
}

func (l *Log) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the log, oldest first.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clear drops every entry without touching any state.
func (l *Log) Clear() {
	l.entries = nil
}

// Revert undoes the last n entries against state, newest first, and
// returns how many were undone. n == 0 drains the whole log. A negative n
// or one larger than Len fails with ErrInvalidRevertCount and changes
// nothing.
func (l *Log) Revert(state map[string]any, n int) (int, error) {
	if n < 0 || n > len(l.entries) {
		return 0, fmt.Errorf("%w: %d (log holds %d)", ErrInvalidRevertCount, n, len(l.entries))
	}
	if n == 0 {
		n = len(l.entries)
	}
	keep := len(l.entries) - n
	for i := len(l.entries) - 1; i >= keep; i-- {
		e := l.entries[i]
		if e.Absent() {
			delete(state, e.Key)
		} else {
			state[e.Key] = e.Prior
		}
		l.entries[i] = Entry{}
	}
	l.entries = l.entries[:keep]
	return n, nil
}
