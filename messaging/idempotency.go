package messaging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// IdempotencyStatus distinguishes cached success from cached failure.
type IdempotencyStatus int

const (
	IdempotencySuccess IdempotencyStatus = iota
	IdempotencyFailure
)

// IdempotencyResponse is a cached handler outcome keyed by an idempotency
// key. Cached responses are immutable; a duplicate key within the TTL
// returns the cached outcome without invoking the handler.
type IdempotencyResponse struct {
	Key       string            `json:"key"`
	StoredAt  time.Time         `json:"storedAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Status    IdempotencyStatus `json:"status"`

	// Data is the cached success payload
	Data any `json:"data,omitempty"`

	// ErrorKind/ErrorCode/ErrorMessage rehydrate a cached failure
	ErrorKind    ErrorKind `json:"errorKind,omitempty"`
	ErrorCode    string    `json:"errorCode,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// Expired reports whether the response is past its TTL at t.
// A response exactly at its expiry is treated as expired.
func (r *IdempotencyResponse) Expired(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}

// IdempotencyStore caches handler responses by key with TTL expiry.
// The store serializes individual key operations; read-or-insert-then-execute
// coordination is the idempotency decorator's job.
type IdempotencyStore interface {
	// Get returns the cached response, or nil when absent or expired
	Get(ctx context.Context, key string) (*IdempotencyResponse, error)

	StoreSuccess(ctx context.Context, key string, data any, ttl time.Duration) error
	StoreFailure(ctx context.Context, key string, failure *Error, ttl time.Duration) error

	Exists(ctx context.Context, key string) (bool, error)

	// CleanupExpired removes expired entries and reports how many
	CleanupExpired(ctx context.Context) (int, error)
}

// KeyGenerator derives a stable idempotency key from a message.
type KeyGenerator func(env *Envelope) string

// DefaultKeyGenerator hashes message identity, type and payload.
func DefaultKeyGenerator(env *Envelope) string {
	h := sha256.New()
	h.Write([]byte(env.Type))
	h.Write([]byte{0})
	h.Write([]byte(env.ID))
	h.Write([]byte{0})
	if env.Payload != nil {
		if b, err := json.Marshal(env.Payload); err == nil {
			h.Write(b)
		}
	} else {
		h.Write(env.Body)
	}
	return hex.EncodeToString(h.Sum(nil))
}
