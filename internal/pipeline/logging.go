package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/kitemq/kite/messaging"
)

// Logging records every handler invocation with its outcome and duration.
// Placed outermost so it observes the result after all other decorators.
func Logging() messaging.Middleware {
	return func(next messaging.Handler) messaging.Handler {
		return func(ctx context.Context, env *messaging.Envelope) messaging.Result {
			slog.Debug("Processing message",
				"type", env.Type,
				"kind", env.Kind.String(),
				"message_id", env.ID,
				"correlation_id", env.CorrelationID)

			start := time.Now()
			res := next(ctx, env)
			elapsed := time.Since(start)

			if res.IsSuccess() {
				slog.Debug("Message processed",
					"type", env.Type,
					"message_id", env.ID,
					"duration", elapsed)
			} else {
				slog.Warn("Message processing failed",
					"type", env.Type,
					"message_id", env.ID,
					"error_kind", res.Err().Kind.String(),
					"error", res.Err().Error(),
					"duration", elapsed)
			}
			return res
		}
	}
}
