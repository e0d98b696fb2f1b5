// Package outbox implements store-then-publish delivery: entries are
// persisted in the caller's transaction and a background processor leases
// and publishes them with retry, backoff and dead-lettering.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kitemq/kite/internal/common/metrics"
	"github.com/kitemq/kite/messaging"
)

// Publisher persists messages to the outbox. Adding an entry is the only
// step that happens on the caller's path; delivery is the processor's job.
type Publisher struct {
	store messaging.OutboxStore
}

// NewPublisher creates an outbox publisher
func NewPublisher(store messaging.OutboxStore) *Publisher {
	return &Publisher{store: store}
}

// Publish persists an envelope for later delivery and returns the entry
func (p *Publisher) Publish(ctx context.Context, env *messaging.Envelope, opts messaging.OutboxOptions) (*messaging.OutboxEntry, error) {
	if env == nil {
		return nil, fmt.Errorf("outbox publish: nil envelope")
	}
	entry := &messaging.OutboxEntry{
		ID:          uuid.NewString(),
		Envelope:    env.Clone(),
		Destination: opts.Destination,
		Priority:    opts.Priority,
		CreatedAt:   time.Now(),
		Status:      messaging.OutboxPending,
		MaxRetries:  opts.MaxRetries,
		RetryDelay:  opts.RetryDelay,
	}
	if err := p.store.Add(ctx, entry); err != nil {
		return nil, fmt.Errorf("outbox add: %w", err)
	}
	if n, err := p.store.CountPending(ctx); err == nil {
		metrics.OutboxPending.Set(float64(n))
	}
	return entry, nil
}
