package pipeline

import (
	"context"

	"github.com/kitemq/kite/internal/common/metrics"
	"github.com/kitemq/kite/messaging"
)

// ValidationRule checks a message before it reaches the handler. A nil
// return means the message is valid.
type ValidationRule func(env *messaging.Envelope) *messaging.Error

// ValidationConfig configures the validation decorator.
type ValidationConfig struct {
	// Rules maps message types to their validation rule
	Rules map[string]ValidationRule
}

// Validation rejects malformed messages with VALIDATION_FAILED before the
// handler runs. Structural envelope checks always apply; per-type rules run
// afterwards when configured.
func Validation(cfg ValidationConfig) messaging.Middleware {
	return func(next messaging.Handler) messaging.Handler {
		return func(ctx context.Context, env *messaging.Envelope) messaging.Result {
			if env == nil {
				metrics.PipelineValidationFailures.WithLabelValues("nil").Inc()
				return messaging.Failure(messaging.ValidationError("ENVELOPE_NIL", "envelope is nil"))
			}
			if err := checkEnvelope(env); err != nil {
				metrics.PipelineValidationFailures.WithLabelValues(env.Type).Inc()
				return messaging.Failure(err)
			}
			if rule, ok := cfg.Rules[env.Type]; ok {
				if err := rule(env); err != nil {
					metrics.PipelineValidationFailures.WithLabelValues(env.Type).Inc()
					return messaging.Failure(err)
				}
			}
			return next(ctx, env)
		}
	}
}

func checkEnvelope(env *messaging.Envelope) *messaging.Error {
	if env.ID == "" {
		return messaging.ValidationError("MESSAGE_ID_EMPTY", "message id is empty")
	}
	if env.Type == "" {
		return messaging.ValidationError("MESSAGE_TYPE_EMPTY", "message type is empty")
	}
	return nil
}
