package journal

import (
	"errors"
	"sync"
	"testing"

	"github.com/Learath2/libtw2/internal/snap"
)

func snapWith(words ...int32) snap.Snap {
	return snap.MustNew(snap.Item{Key: snap.ItemKey{Type: 1, ID: 1}, Data: words})
}

func TestStorageRejectsNonMonotonicTicks(t *testing.T) {
	s := New(4)
	for tick := snap.Tick(1); tick <= 3; tick++ {
		if err := s.Insert(tick, snapWith(int32(tick))); err != nil {
			t.Fatalf("insert %d: %v", tick, err)
		}
	}

	err := s.Insert(2, snapWith(2))
	if !errors.Is(err, ErrMonotonicityViolation) {
		t.Fatalf("expected monotonicity violation, got %v", err)
	}
	var typed *MonotonicityError
	if !errors.As(err, &typed) || typed.Tick != 2 || typed.Newest != 3 {
		t.Fatalf("expected typed error for tick 2 after 3, got %#v", err)
	}
	if err := s.Insert(3, snapWith(3)); !errors.Is(err, ErrMonotonicityViolation) {
		t.Fatalf("expected duplicate tick to be rejected, got %v", err)
	}
}

func TestStorageTrimEvictsOlderTicks(t *testing.T) {
	s := New(4)
	for tick := snap.Tick(1); tick <= 3; tick++ {
		if err := s.Insert(tick, snapWith(int32(tick))); err != nil {
			t.Fatalf("insert %d: %v", tick, err)
		}
	}

	evicted := s.Trim(2)
	if len(evicted) != 1 || evicted[0].Tick != 1 || evicted[0].Reason != ReasonUnreferenced {
		t.Fatalf("expected tick 1 to be evicted, got %+v", evicted)
	}
	if _, ok := s.Get(1); ok {
		t.Fatalf("expected tick 1 to be gone after trim")
	}
	got, ok := s.Get(2)
	if !ok {
		t.Fatalf("expected tick 2 to survive trim")
	}
	if !got.Equal(snapWith(2)) {
		t.Fatalf("expected stored snapshot for tick 2, got %v", got.Items())
	}

	size, oldest, newest := s.Window()
	if size != 2 || oldest != 2 || newest != 3 {
		t.Fatalf("unexpected window size=%d oldest=%d newest=%d", size, oldest, newest)
	}
}

func TestStorageTrimIsIdempotent(t *testing.T) {
	s := New(0)
	for _, tick := range []snap.Tick{5, 7, 9} {
		if err := s.Insert(tick, snapWith(int32(tick))); err != nil {
			t.Fatalf("insert %d: %v", tick, err)
		}
	}
	if evicted := s.Trim(8); len(evicted) != 2 {
		t.Fatalf("expected two evictions, got %+v", evicted)
	}
	if evicted := s.Trim(8); len(evicted) != 0 {
		t.Fatalf("expected repeated trim to be a no-op, got %+v", evicted)
	}
	if s.Len() != 1 {
		t.Fatalf("expected one snapshot to remain, got %d", s.Len())
	}
	if evicted := s.Trim(100); len(evicted) != 1 {
		t.Fatalf("expected final snapshot to be evicted, got %+v", evicted)
	}
	if _, _, ok := s.Latest(); ok {
		t.Fatalf("expected empty storage to report no latest snapshot")
	}
	if err := s.Insert(9, snapWith(9)); !errors.Is(err, ErrMonotonicityViolation) {
		t.Fatalf("expected trimmed tick to stay burned, got %v", err)
	}
	if err := s.Insert(10, snapWith(10)); err != nil {
		t.Fatalf("insert after trim: %v", err)
	}
}

func TestStorageResetKeepsCursor(t *testing.T) {
	s := New(2)
	if err := s.Insert(1, snapWith(1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if evicted := s.Reset(); len(evicted) != 1 || evicted[0].Reason != ReasonReset {
		t.Fatalf("unexpected reset evictions %+v", evicted)
	}
	if err := s.Insert(1, snapWith(1)); !errors.Is(err, ErrMonotonicityViolation) {
		t.Fatalf("expected reset to keep monotonic cursor, got %v", err)
	}
}

func TestStorageConcurrentReads(t *testing.T) {
	s := New(64)
	for tick := snap.Tick(1); tick <= 64; tick++ {
		if err := s.Insert(tick, snapWith(int32(tick))); err != nil {
			t.Fatalf("insert %d: %v", tick, err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tick := snap.Tick(33); tick <= 64; tick++ {
				if _, ok := s.Get(tick); !ok {
					t.Errorf("expected tick %d to be readable", tick)
					return
				}
			}
		}()
	}
	s.Trim(33)
	wg.Wait()
}
