package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kitemq/kite/messaging"
)

// RedisStore caches responses in Redis so multiple processes share one
// idempotency window. Expiry is delegated to Redis key TTLs.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed idempotency store
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "kite:idempotency:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

// Get returns the cached response, or nil when absent or expired
func (s *RedisStore) Get(ctx context.Context, key string) (*messaging.IdempotencyResponse, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency get %s: %w", key, err)
	}
	var r messaging.IdempotencyResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("idempotency decode %s: %w", key, err)
	}
	return &r, nil
}

func (s *RedisStore) store(ctx context.Context, r *messaging.IdempotencyResponse, ttl time.Duration) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("idempotency encode %s: %w", r.Key, err)
	}
	if err := s.client.Set(ctx, s.key(r.Key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency set %s: %w", r.Key, err)
	}
	return nil
}

// StoreSuccess caches a successful handler outcome
func (s *RedisStore) StoreSuccess(ctx context.Context, key string, data any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	return s.store(ctx, &messaging.IdempotencyResponse{
		Key:       key,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
		Status:    messaging.IdempotencySuccess,
		Data:      data,
	}, ttl)
}

// StoreFailure caches a failed handler outcome
func (s *RedisStore) StoreFailure(ctx context.Context, key string, failure *messaging.Error, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	return s.store(ctx, &messaging.IdempotencyResponse{
		Key:          key,
		StoredAt:     now,
		ExpiresAt:    now.Add(ttl),
		Status:       messaging.IdempotencyFailure,
		ErrorKind:    failure.Kind,
		ErrorCode:    failure.Code,
		ErrorMessage: failure.Message,
	}, ttl)
}

// Exists reports whether a response is cached for key
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency exists %s: %w", key, err)
	}
	return n > 0, nil
}

// CleanupExpired is a no-op: Redis evicts expired keys natively
func (s *RedisStore) CleanupExpired(ctx context.Context) (int, error) {
	return 0, nil
}
