package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestExclusiveCheckThenSet(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)

	const workers = 32
	var (
		wg      sync.WaitGroup
		winners int
		mu      sync.Mutex
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Exclusive(ctx, func(tx *Tx) error {
				ok, err := tx.Contains("owner")
				if err != nil || ok {
					return err
				}
				mu.Lock()
				winners++
				mu.Unlock()
				return tx.Set("owner", i)
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
	d, _ := s.Describe(ctx)
	if len(d.Pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(d.Pending))
	}
}

func TestConcurrentReadModifyWrite(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	mustSet(t, s, "n", 0)

	const workers, rounds = 8, 25
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range rounds {
				err := s.Exclusive(ctx, func(tx *Tx) error {
					v, err := tx.Get("n", json.Number("0"))
					if err != nil {
						return err
					}
					n, err := v.(json.Number).Int64()
					if err != nil {
						return err
					}
					return tx.Set("n", n+1)
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	v, _ := s.Get(ctx, "n", nil)
	if v != json.Number(strconv.Itoa(workers*rounds)) {
		t.Fatalf("n = %v, want %d", v, workers*rounds)
	}
	// Every increment is individually revertable.
	n, err := s.Revert(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != workers*rounds+1 {
		t.Fatalf("reverted %d, want %d", n, workers*rounds+1)
	}
}

func TestLockBlocksOtherOperations(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)

	tx, err := s.Lock(ctx)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Set(ctx, "k", "from-other") }()

	select {
	case <-done:
		t.Fatal("Set completed while another caller held exclusive access")
	case <-time.After(30 * time.Millisecond):
	}

	if err := tx.Set("k", "from-tx"); err != nil {
		t.Fatal(err)
	}
	tx.Release()

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	v, _ := s.Get(ctx, "k", nil)
	if v != "from-other" {
		t.Fatalf("k = %v, want from-other (applied after the tx)", v)
	}
}

func TestWaiterCancelledWhileLocked(t *testing.T) {
	s := tempStore(t)
	tx, err := s.Lock(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Set(ctx, "k", 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Set while locked = %v, want DeadlineExceeded", err)
	}
	tx.Release()

	if ok, _ := s.Contains(context.Background(), "k"); ok {
		t.Fatal("cancelled waiter must not apply its Set")
	}
}

func TestTxReleaseIdempotent(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	tx, err := s.Lock(ctx)
	if err != nil {
		t.Fatal(err)
	}
	tx.Release()
	tx.Release()

	if err := tx.Set("k", 1); !errors.Is(err, ErrTxReleased) {
		t.Fatalf("Set after Release = %v, want ErrTxReleased", err)
	}
	if _, err := tx.Get("k", nil); !errors.Is(err, ErrTxReleased) {
		t.Fatalf("Get after Release = %v, want ErrTxReleased", err)
	}
	if err := tx.Commit(); !errors.Is(err, ErrTxReleased) {
		t.Fatalf("Commit after Release = %v, want ErrTxReleased", err)
	}

	// The double release did not free a token someone else holds.
	tx2, err := s.Lock(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Release()
	tx.Release()
	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := s.Lock(shortCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Lock while tx2 holds = %v, want DeadlineExceeded", err)
	}
}

func TestExclusiveReleasesOnErrorAndPanic(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)

	boom := errors.New("boom")
	if err := s.Exclusive(ctx, func(tx *Tx) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Exclusive = %v, want boom", err)
	}

	func() {
		defer func() { _ = recover() }()
		_ = s.Exclusive(ctx, func(tx *Tx) error { panic("boom") })
	}()

	shortCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.Set(shortCtx, "k", 1); err != nil {
		t.Fatalf("token leaked: %v", err)
	}
}

func TestExclusiveCompoundIsRevertable(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	mustSet(t, s, "a", 1)
	if err := s.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	err := s.Exclusive(ctx, func(tx *Tx) error {
		v, err := tx.Pop("a", nil)
		if err != nil {
			return err
		}
		if err := tx.Set("b", v); err != nil {
			return err
		}
		_, err = tx.Revert(1)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	keys, _ := s.Keys(ctx)
	if len(keys) != 0 {
		t.Fatalf("keys = %v, want none (a popped, b reverted)", keys)
	}
	mustRevert(t, s, 0)
	if v, _ := s.Get(ctx, "a", nil); v != json.Number("1") {
		t.Fatalf("a = %v, want 1", v)
	}
}

func TestCloseWaitsForExclusiveAccess(t *testing.T) {
	ctx := context.Background()
	s, err := OpenFile(ctx, t.TempDir()+"/store.json", false)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := s.Lock(ctx)
	if err != nil {
		t.Fatal(err)
	}

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while a Tx held the token")
	case <-time.After(20 * time.Millisecond):
	}
	tx.Release()
	if err := <-closed; err != nil {
		t.Fatalf("Close: %v", err)
	}
}
