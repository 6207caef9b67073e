package alert

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testAlert(id string) *Info {
	return &Info{
		AlertID:           id,
		UserID:            1,
		StockCode:         "005930",
		StockName:         "Samsung Electronics",
		SignalType:        "BUY",
		Confidence:        0.85,
		CurrentPrice:      70_000,
		SuggestedQuantity: 10,
		Reason:            "RSI oversold (25.0), volume spike",
		CreatedAt:         time.Now(),
	}
}

func TestSaveGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := testAlert("a1")
	if err := s.Save(ctx, a); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.StockCode != a.StockCode || got.SuggestedQuantity != a.SuggestedQuantity {
		t.Errorf("Get returned %+v, want %+v", got, a)
	}

	// Stored alert must be a copy, not an alias.
	a.SuggestedQuantity = 999
	got2, _ := s.Get(ctx, "a1")
	if got2.SuggestedQuantity == 999 {
		t.Error("store aliased the caller's alert")
	}

	deleted, err := s.Delete(ctx, "a1")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted {
		t.Error("Delete of a stored alert reported absent")
	}
	if _, err := s.Get(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	// Deleting again is a no-op reporting absence.
	deleted, err = s.Delete(ctx, "a1")
	if err != nil {
		t.Errorf("second Delete: %v", err)
	}
	if deleted {
		t.Error("second Delete reported present")
	}
}

func TestGetMissing(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPopConsumes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Save(ctx, testAlert("a1"))

	if _, err := s.Pop(ctx, "a1"); err != nil {
		t.Fatalf("first Pop: %v", err)
	}
	if _, err := s.Pop(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Pop = %v, want ErrNotFound", err)
	}
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Now()
	s.now = func() time.Time { return now }

	a := testAlert("a1")
	a.CreatedAt = now
	s.Save(ctx, a)

	// One second before the TTL edge it is still live.
	now = a.CreatedAt.Add(TTL - time.Second)
	if _, err := s.Get(ctx, "a1"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	// 301 seconds after creation reads no longer see it, but a pop still
	// returns the payload so the approval layer can answer "expired"
	// rather than "not found".
	now = a.CreatedAt.Add(TTL + time.Second)
	if _, err := s.Get(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after expiry = %v, want ErrNotFound", err)
	}
	got, err := s.PopAtomic(ctx, "a1")
	if err != nil {
		t.Fatalf("PopAtomic after expiry = %v, want the stored alert", err)
	}
	if !got.Expired(now) {
		t.Error("popped alert not reported expired at the current time")
	}
	// The pop consumed it; the next pop finds nothing.
	if _, err := s.PopAtomic(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("PopAtomic after consumption = %v, want ErrNotFound", err)
	}
}

func TestGetAllSkipsExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Now()
	s.now = func() time.Time { return now }

	fresh := testAlert("fresh")
	fresh.CreatedAt = now
	stale := testAlert("stale")
	stale.CreatedAt = now.Add(-TTL - time.Minute)
	s.Save(ctx, fresh)
	s.Save(ctx, stale)

	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 1 || all[0].AlertID != "fresh" {
		t.Errorf("GetAll = %v alerts, want just fresh", len(all))
	}
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Now()
	s.now = func() time.Time { return now }

	for _, id := range []string{"a", "b", "c"} {
		a := testAlert(id)
		a.CreatedAt = now
		s.Save(ctx, a)
	}

	if removed := s.Sweep(ctx); removed != 0 {
		t.Errorf("sweep of fresh alerts removed %d", removed)
	}

	now = now.Add(TTL + time.Second)
	if removed := s.Sweep(ctx); removed != 3 {
		t.Errorf("sweep removed %d, want 3", removed)
	}
	// Second sweep is a no-op.
	if removed := s.Sweep(ctx); removed != 0 {
		t.Errorf("second sweep removed %d, want 0", removed)
	}
}

func TestPopAtomicExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Save(ctx, testAlert("contested"))

	const goroutines = 32
	var wins atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := s.PopAtomic(ctx, "contested"); err == nil {
				wins.Add(1)
			} else if !errors.Is(err, ErrNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("%d winners, want exactly 1", wins.Load())
	}
}
