package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"undostore/internal/codec"
)

type feedback struct {
	Score int    `json:"score"`
	Text  string `json:"text"`
}

type user struct {
	UID       int                 `json:"uid"`
	Rating    *float64            `json:"rating"`
	Feedbacks map[string]feedback `json:"feedbacks"`
}

func TestTypedLoadSave(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	users := NewTyped[user](s, "user:42")

	if users.Key() != "user:42" {
		t.Fatalf("Key() = %q", users.Key())
	}
	if _, ok, err := users.Load(ctx); err != nil || ok {
		t.Fatalf("Load(absent) = (ok=%v, %v), want (false, nil)", ok, err)
	}

	r := 4.5
	in := user{UID: 42, Rating: &r, Feedbacks: map[string]feedback{"7": {Score: 5, Text: "kind"}}}
	if err := users.Save(ctx, in); err != nil {
		t.Fatal(err)
	}
	got, ok, err := users.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load = (ok=%v, %v)", ok, err)
	}
	if got.UID != 42 || got.Rating == nil || *got.Rating != 4.5 || got.Feedbacks["7"].Text != "kind" {
		t.Fatalf("Load = %+v", got)
	}

	// Stored form stays opaque JSON.
	raw, _ := s.Get(ctx, "user:42", nil)
	if _, isMap := raw.(map[string]any); !isMap {
		t.Fatalf("stored value is %T, want map[string]any", raw)
	}
}

func TestTypedLoadMismatch(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	mustSet(t, s, "k", "not a user")

	_, _, err := NewTyped[user](s, "k").Load(ctx)
	if !errors.Is(err, codec.ErrDecode) {
		t.Fatalf("Load(string into struct) = %v, want codec.ErrDecode", err)
	}
}

func TestTypedUpdate(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	counter := NewTyped[int](s, "counter")

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := counter.Update(ctx, func(v *int) error {
				*v++
				return nil
			}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, ok, err := counter.Load(ctx)
	if err != nil || !ok || got != 20 {
		t.Fatalf("counter = (%d, %v, %v), want 20", got, ok, err)
	}
	d, _ := s.Describe(ctx)
	if len(d.Pending) != 20 {
		t.Fatalf("pending = %d, want one entry per update", len(d.Pending))
	}
}

func TestTypedUpdateErrorStoresNothing(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	counter := NewTyped[int](s, "counter")

	boom := errors.New("boom")
	err := counter.Update(ctx, func(v *int) error {
		*v = 99
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update = %v, want boom", err)
	}
	if ok, _ := s.Contains(ctx, "counter"); ok {
		t.Fatal("failed Update must not store")
	}
	d, _ := s.Describe(ctx)
	if len(d.Pending) != 0 {
		t.Fatal("failed Update must not record")
	}
}
