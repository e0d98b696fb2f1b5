package pipeline

import (
	"context"
	"time"

	"github.com/kitemq/kite/internal/common/metrics"
	"github.com/kitemq/kite/messaging"
)

// RetryConfig configures the retry decorator.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first. Zero means the
	// handler is invoked exactly once and its failure returned unchanged.
	MaxRetries int

	// Delay is the base delay between attempts (default 100ms)
	Delay time.Duration

	// Exponential doubles the delay per attempt; otherwise the delay grows
	// linearly (attempt x base)
	Exponential bool

	// MaxDelay caps the computed delay; zero means uncapped
	MaxDelay time.Duration
}

// Retry re-invokes the handler on transient failure. Permanent failures and
// cancellation return immediately. When retries are exhausted the failure
// is wrapped as RETRY_EXHAUSTED with the original error as the cause.
func Retry(cfg RetryConfig) messaging.Middleware {
	if cfg.Delay <= 0 {
		cfg.Delay = 100 * time.Millisecond
	}
	return func(next messaging.Handler) messaging.Handler {
		return func(ctx context.Context, env *messaging.Envelope) messaging.Result {
			res := next(ctx, env)
			if res.IsSuccess() || cfg.MaxRetries == 0 {
				return res
			}

			for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
				failure := res.Err()
				if res.IsCancelled() || failure.Kind.IsPermanent() || failure.Kind == messaging.ErrorKindCircuitOpen {
					return res
				}

				select {
				case <-ctx.Done():
					return messaging.FailureFrom(ctx.Err())
				case <-time.After(cfg.backoff(attempt)):
				}

				metrics.PipelineRetries.WithLabelValues(env.Type).Inc()
				res = next(ctx, env)
				if res.IsSuccess() {
					return res
				}
			}

			if res.IsCancelled() || res.Err().Kind.IsPermanent() {
				return res
			}
			original := res.Err()
			return messaging.Failure(messaging.NewError(
				messaging.ErrorKindRetryExhausted, "RETRY_EXHAUSTED",
				"all retry attempts failed for "+env.Type).
				WithDetail("attempts", cfg.MaxRetries+1).
				WithCause(original))
		}
	}
}

func (cfg RetryConfig) backoff(attempt int) time.Duration {
	var d time.Duration
	if cfg.Exponential {
		d = cfg.Delay << (attempt - 1)
	} else {
		d = cfg.Delay * time.Duration(attempt)
	}
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}
