// Package idempotency provides response-cache stores for the idempotency
// decorator: an in-process map store and a Redis-backed store for
// multi-process deployments.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/kitemq/kite/messaging"
)

// DefaultTTL bounds how long cached responses are retained when the caller
// does not specify one.
const DefaultTTL = 24 * time.Hour

// MemoryStore caches responses in a mutex-guarded map.
type MemoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	responses map[string]*messaging.IdempotencyResponse
}

// NewMemoryStore creates an in-process idempotency store
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates a store with an injected clock
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{now: now, responses: make(map[string]*messaging.IdempotencyResponse)}
}

// Get returns the cached response, or nil when absent or expired
func (s *MemoryStore) Get(ctx context.Context, key string) (*messaging.IdempotencyResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responses[key]
	if !ok {
		return nil, nil
	}
	if r.Expired(s.now()) {
		delete(s.responses, key)
		return nil, nil
	}
	c := *r
	return &c, nil
}

// StoreSuccess caches a successful handler outcome
func (s *MemoryStore) StoreSuccess(ctx context.Context, key string, data any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.responses[key] = &messaging.IdempotencyResponse{
		Key:       key,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
		Status:    messaging.IdempotencySuccess,
		Data:      data,
	}
	return nil
}

// StoreFailure caches a failed handler outcome
func (s *MemoryStore) StoreFailure(ctx context.Context, key string, failure *messaging.Error, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.responses[key] = &messaging.IdempotencyResponse{
		Key:          key,
		StoredAt:     now,
		ExpiresAt:    now.Add(ttl),
		Status:       messaging.IdempotencyFailure,
		ErrorKind:    failure.Kind,
		ErrorCode:    failure.Code,
		ErrorMessage: failure.Message,
	}
	return nil
}

// Exists reports whether an unexpired response is cached for key
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	r, err := s.Get(ctx, key)
	return r != nil, err
}

// CleanupExpired removes expired responses and reports how many
func (s *MemoryStore) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, r := range s.responses {
		if r.Expired(now) {
			delete(s.responses, k)
			n++
		}
	}
	return n, nil
}
