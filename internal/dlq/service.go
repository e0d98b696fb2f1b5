package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kitemq/kite/internal/common/metrics"
	"github.com/kitemq/kite/messaging"
)

// RedispatchFunc re-submits a dead-lettered envelope into the runtime.
// The bus wires this to its dispatch path.
type RedispatchFunc func(ctx context.Context, env *messaging.Envelope) messaging.Result

// Statistics summarizes the dead letter queue for the ops surface.
type Statistics struct {
	Total       int            `json:"total"`
	Active      int            `json:"active"`
	ByStatus    map[string]int `json:"byStatus"`
	ByComponent map[string]int `json:"byComponent"`
}

// Service retains failed messages and supports manual retry and discard.
// Entries only ever leave through a terminal state; nothing is silently
// dropped.
type Service struct {
	store      messaging.DeadLetterStore
	redispatch RedispatchFunc
}

// NewService creates a dead-letter service
func NewService(store messaging.DeadLetterStore, redispatch RedispatchFunc) *Service {
	return &Service{store: store, redispatch: redispatch}
}

// Send retains a failed message with its failure context
func (s *Service) Send(ctx context.Context, env *messaging.Envelope, failure *messaging.Error, pctx messaging.ProcessingContext) error {
	entry := &messaging.DeadLetterEntry{
		ID:          uuid.NewString(),
		Envelope:    env.Clone(),
		Reason:      failure.Code,
		Error:       failure.Error(),
		Component:   pctx.Component(),
		RetryCount:  pctx.RetryCount(),
		FailureTime: time.Now(),
	}
	if err := s.store.Add(ctx, entry); err != nil {
		return fmt.Errorf("dead letter add: %w", err)
	}

	metrics.DeadLettersTotal.WithLabelValues("added").Inc()
	if n, err := s.store.Count(ctx); err == nil {
		metrics.DeadLetterSize.Set(float64(n))
	}
	slog.Warn("Message dead-lettered",
		"message_id", env.ID,
		"type", env.Type,
		"component", pctx.Component(),
		"retry_count", pctx.RetryCount(),
		"error", failure.Error())
	return nil
}

// Get returns a dead-letter entry by ID
func (s *Service) Get(ctx context.Context, id string) (*messaging.DeadLetterEntry, error) {
	return s.store.Get(ctx, id)
}

// List returns up to limit entries, most recent first
func (s *Service) List(ctx context.Context, limit int) ([]*messaging.DeadLetterEntry, error) {
	return s.store.List(ctx, limit)
}

// Count returns the number of Active entries
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// Retry re-dispatches an Active entry. On success the entry transitions to
// Retried; on failure it stays Active for another attempt.
func (s *Service) Retry(ctx context.Context, id string) error {
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry.Status.IsTerminal() {
		return messaging.ErrTerminalState
	}
	if s.redispatch == nil {
		return fmt.Errorf("no redispatch configured")
	}

	res := s.redispatch(ctx, entry.Envelope)
	if res.IsFailure() {
		slog.Warn("Dead letter retry failed",
			"entry_id", id,
			"message_id", entry.Envelope.ID,
			"error", res.Err().Error())
		return res.Err()
	}
	if err := s.store.MarkRetried(ctx, id); err != nil {
		return err
	}
	metrics.DeadLettersTotal.WithLabelValues("retried").Inc()
	if n, err := s.store.Count(ctx); err == nil {
		metrics.DeadLetterSize.Set(float64(n))
	}
	slog.Info("Dead letter retried", "entry_id", id, "message_id", entry.Envelope.ID)
	return nil
}

// Discard transitions an Active entry to Discarded
func (s *Service) Discard(ctx context.Context, id string) error {
	if err := s.store.MarkDiscarded(ctx, id); err != nil {
		return err
	}
	metrics.DeadLettersTotal.WithLabelValues("discarded").Inc()
	if n, err := s.store.Count(ctx); err == nil {
		metrics.DeadLetterSize.Set(float64(n))
	}
	slog.Info("Dead letter discarded", "entry_id", id)
	return nil
}

// Statistics aggregates entries by status and component
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	entries, err := s.store.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	stats := &Statistics{
		Total:       len(entries),
		ByStatus:    make(map[string]int),
		ByComponent: make(map[string]int),
	}
	for _, e := range entries {
		stats.ByStatus[e.Status.String()]++
		stats.ByComponent[e.Component]++
		if e.Status == messaging.DeadLetterActive {
			stats.Active++
		}
	}
	return stats, nil
}
