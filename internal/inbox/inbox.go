// Package inbox deduplicates incoming messages: each (message ID, source)
// pair is processed at most once within the deduplication window.
package inbox

import (
	"context"
	"log/slog"

	"github.com/kitemq/kite/internal/common/metrics"
	"github.com/kitemq/kite/messaging"
)

// Service guards message processing with inbox claims.
type Service struct {
	store messaging.InboxStore
}

// NewService creates an inbox service
func NewService(store messaging.InboxStore) *Service {
	return &Service{store: store}
}

// Process runs the handler under an inbox claim. An already-processed
// duplicate is acknowledged with success without invoking the handler; a
// concurrent in-flight claim fails with DUPLICATE_MESSAGE so the caller can
// redeliver later. Handler failure releases the claim for a future attempt.
func (s *Service) Process(ctx context.Context, env *messaging.Envelope, opts messaging.InboxOptions, handler messaging.Handler) messaging.Result {
	if !opts.RequireIdempotency {
		return handler(ctx, env)
	}
	if opts.DeduplicationWindow <= 0 {
		opts.DeduplicationWindow = messaging.DefaultInboxOptions().DeduplicationWindow
	}

	claim, err := s.store.TryClaim(ctx, env.ID, opts.Source, opts.DeduplicationWindow)
	if err != nil {
		return messaging.Failure(messaging.StorageError("inbox claim failed", err))
	}

	switch claim {
	case messaging.ClaimProcessed:
		metrics.InboxClaims.WithLabelValues("processed").Inc()
		slog.Debug("Duplicate message acknowledged",
			"message_id", env.ID, "source", opts.Source)
		return messaging.Success(nil)
	case messaging.ClaimInFlight:
		metrics.InboxClaims.WithLabelValues("in_flight").Inc()
		return messaging.Failure(messaging.NewError(
			messaging.ErrorKindDuplicateMessage, "IN_FLIGHT",
			"message is being processed by another claim"))
	}
	metrics.InboxClaims.WithLabelValues("new").Inc()

	res := handler(ctx, env)
	if res.IsSuccess() {
		if err := s.store.MarkProcessed(ctx, env.ID, opts.Source); err != nil {
			slog.Error("Inbox mark processed failed",
				"message_id", env.ID, "source", opts.Source, "error", err)
		}
		return res
	}

	// release the claim so a redelivery can try again
	if err := s.store.MarkFailed(ctx, env.ID, opts.Source); err != nil {
		slog.Error("Inbox mark failed errored",
			"message_id", env.ID, "source", opts.Source, "error", err)
	}
	return res
}
