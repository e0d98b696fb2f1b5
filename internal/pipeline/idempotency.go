package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/kitemq/kite/internal/common/metrics"
	"github.com/kitemq/kite/messaging"
)

// IdempotencyConfig configures the idempotency decorator.
type IdempotencyConfig struct {
	Store messaging.IdempotencyStore

	// KeyGenerator derives the cache key; nil selects the default
	KeyGenerator messaging.KeyGenerator

	// TTL bounds how long successful responses are cached (default 24h)
	TTL time.Duration

	// CacheFailures caches failed outcomes too; off, a duplicate of a
	// failed message reaches the handler again
	CacheFailures bool

	// FailureTTL bounds cached failures; zero falls back to TTL
	FailureTTL time.Duration
}

// Idempotency returns the cached outcome for a duplicate message without
// invoking the handler. Queries bypass the cache: they are reads and may
// legitimately repeat. Cancelled results are never cached; cancellation
// says nothing about the handler outcome.
func Idempotency(cfg IdempotencyConfig) messaging.Middleware {
	keyGen := cfg.KeyGenerator
	if keyGen == nil {
		keyGen = messaging.DefaultKeyGenerator
	}
	return func(next messaging.Handler) messaging.Handler {
		return func(ctx context.Context, env *messaging.Envelope) messaging.Result {
			if env.Kind == messaging.KindQuery {
				return next(ctx, env)
			}

			key := keyGen(env)
			cached, err := cfg.Store.Get(ctx, key)
			if err != nil {
				// the cache being down must not block processing
				slog.Warn("Idempotency lookup failed", "type", env.Type, "error", err)
			}
			if cached != nil {
				metrics.IdempotencyLookups.WithLabelValues("hit").Inc()
				return rehydrate(cached)
			}
			metrics.IdempotencyLookups.WithLabelValues("miss").Inc()

			res := next(ctx, env)
			if res.IsCancelled() {
				return res
			}

			switch {
			case res.IsSuccess():
				err = cfg.Store.StoreSuccess(ctx, key, res.Data(), cfg.TTL)
			case cfg.CacheFailures:
				ttl := cfg.FailureTTL
				if ttl <= 0 {
					ttl = cfg.TTL
				}
				err = cfg.Store.StoreFailure(ctx, key, res.Err(), ttl)
			default:
				return res
			}
			if err != nil {
				slog.Warn("Idempotency store failed", "type", env.Type, "error", err)
			}
			return res
		}
	}
}

// rehydrate converts a cached response back into a result
func rehydrate(r *messaging.IdempotencyResponse) messaging.Result {
	if r.Status == messaging.IdempotencySuccess {
		return messaging.Success(r.Data)
	}
	return messaging.Failure(messaging.NewError(r.ErrorKind, r.ErrorCode, r.ErrorMessage))
}
