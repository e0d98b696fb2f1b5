package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kitemq/kite/messaging"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestStoreAndGetSuccess(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.StoreSuccess(ctx, "k1", map[string]int{"total": 42}, time.Hour); err != nil {
		t.Fatal(err)
	}
	r, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.Status != messaging.IdempotencySuccess {
		t.Fatalf("expected cached success, got %+v", r)
	}
	ok, _ := s.Exists(ctx, "k1")
	if !ok {
		t.Error("expected key to exist")
	}
}

func TestStoreFailurePreservesError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	failure := messaging.ValidationError("INVALID_AMOUNT", "amount must be positive")
	if err := s.StoreFailure(ctx, "k1", failure, time.Hour); err != nil {
		t.Fatal(err)
	}
	r, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != messaging.IdempotencyFailure {
		t.Errorf("expected cached failure, got %v", r.Status)
	}
	if r.ErrorKind != messaging.ErrorKindValidationFailed || r.ErrorCode != "INVALID_AMOUNT" {
		t.Errorf("cached failure should preserve kind and code, got %v %q", r.ErrorKind, r.ErrorCode)
	}
}

func TestExpiryAtBoundary(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStoreWithClock(clock.Now)
	ctx := context.Background()

	_ = s.StoreSuccess(ctx, "k1", nil, time.Minute)

	clock.Advance(time.Minute - time.Nanosecond)
	if r, _ := s.Get(ctx, "k1"); r == nil {
		t.Error("entry should be live just before expiry")
	}
	clock.Advance(time.Nanosecond)
	// exactly at expiry the entry is gone
	if r, _ := s.Get(ctx, "k1"); r != nil {
		t.Error("entry should be expired exactly at its TTL")
	}
}

func TestCleanupExpired(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStoreWithClock(clock.Now)
	ctx := context.Background()

	_ = s.StoreSuccess(ctx, "short", nil, time.Minute)
	_ = s.StoreSuccess(ctx, "long", nil, time.Hour)

	clock.Advance(2 * time.Minute)
	n, err := s.CleanupExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 cleaned, got %d", n)
	}
	if r, _ := s.Get(ctx, "long"); r == nil {
		t.Error("unexpired entry should survive cleanup")
	}
}

func TestGetMissingKey(t *testing.T) {
	s := NewMemoryStore()
	r, err := s.Get(context.Background(), "absent")
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		t.Errorf("expected nil for missing key, got %+v", r)
	}
}
