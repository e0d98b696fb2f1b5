package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kitemq/kite/internal/common/metrics"
	"github.com/kitemq/kite/messaging"
)

// BreakerConfig configures the circuit breaker decorator.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit (default 5)
	FailureThreshold int

	// BreakDuration is how long the circuit stays open before a single
	// half-open probe is allowed (default 30s)
	BreakDuration time.Duration
}

// CircuitBreaker fails fast with CIRCUIT_OPEN while a message type's
// handler is tripping. Each message type gets its own breaker: one failing
// handler must not block unrelated types.
func CircuitBreaker(cfg BreakerConfig) messaging.Middleware {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.BreakDuration <= 0 {
		cfg.BreakDuration = 30 * time.Second
	}

	var mu sync.Mutex
	breakers := make(map[string]*gobreaker.CircuitBreaker)

	breakerFor := func(msgType string) *gobreaker.CircuitBreaker {
		mu.Lock()
		defer mu.Unlock()
		if cb, ok := breakers[msgType]; ok {
			return cb
		}
		cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        msgType,
			MaxRequests: 1, // single half-open probe
			Timeout:     cfg.BreakDuration,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
				if to == gobreaker.StateOpen {
					metrics.CircuitBreakerTrips.WithLabelValues(name).Inc()
					slog.Warn("Circuit breaker opened", "type", name, "previous", from.String())
				} else {
					slog.Info("Circuit breaker state changed", "type", name,
						"from", from.String(), "to", to.String())
				}
			},
		})
		breakers[msgType] = cb
		return cb
	}

	return func(next messaging.Handler) messaging.Handler {
		return func(ctx context.Context, env *messaging.Envelope) messaging.Result {
			cb := breakerFor(env.Type)

			var res messaging.Result
			_, err := cb.Execute(func() (any, error) {
				res = next(ctx, env)
				// cancellation is the caller's doing, not downstream health
				if res.IsFailure() && !res.IsCancelled() {
					return nil, res.Err()
				}
				return nil, nil
			})

			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return messaging.Failure(messaging.NewError(
					messaging.ErrorKindCircuitOpen, "CIRCUIT_OPEN",
					"circuit breaker open for "+env.Type).WithCause(err))
			}
			return res
		}
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return metrics.BreakerOpen
	case gobreaker.StateHalfOpen:
		return metrics.BreakerHalfOpen
	default:
		return metrics.BreakerClosed
	}
}
