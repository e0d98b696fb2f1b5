package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/kitemq/kite/internal/common/metrics"
	"github.com/kitemq/kite/internal/dlq"
	"github.com/kitemq/kite/internal/polling"
	"github.com/kitemq/kite/messaging"
)

// PublishFunc delivers a leased entry to its destination. The bus wires
// this to the transport's send path.
type PublishFunc func(ctx context.Context, entry *messaging.OutboxEntry) error

// ProcessorConfig configures the outbox processor.
type ProcessorConfig struct {
	// PollInterval paces the loop while the outbox is empty (default 1s)
	PollInterval time.Duration

	// BatchSize bounds entries leased per cycle (default 50)
	BatchSize int

	// LeaseFor is how long a leased entry stays invisible (default 30s)
	LeaseFor time.Duration

	// MaxRetries is the retry budget after the first attempt; an entry is
	// attempted MaxRetries+1 times before dead-lettering (default 3)
	MaxRetries int

	// RetryDelay is the fixed delay between attempts; zero selects
	// exponential backoff starting at 1s
	RetryDelay time.Duration
}

func (c *ProcessorConfig) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.LeaseFor <= 0 {
		c.LeaseFor = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// Processor leases ready outbox entries and publishes them. Failed entries
// retry with backoff; once the attempt count exceeds MaxRetries they are
// marked DeadLettered in the outbox and mirrored to the dead-letter service.
type Processor struct {
	cfg         ProcessorConfig
	store       messaging.OutboxStore
	publish     PublishFunc
	deadLetters *dlq.Service
	loop        *polling.Loop[*messaging.OutboxEntry]
}

// NewProcessor creates an outbox processor. deadLetters may be nil.
func NewProcessor(cfg ProcessorConfig, store messaging.OutboxStore, publish PublishFunc, deadLetters *dlq.Service) *Processor {
	cfg.defaults()
	p := &Processor{
		cfg:         cfg,
		store:       store,
		publish:     publish,
		deadLetters: deadLetters,
	}
	p.loop = polling.NewLoop(polling.Config{
		Name:      "outbox",
		IdleDelay: cfg.PollInterval,
	}, p.lease, p.processBatch)
	return p
}

// Start recovers entries stuck on expired leases from a previous run, then
// launches the polling loop
func (p *Processor) Start() error {
	n, err := p.store.ReclaimExpired(context.Background(), time.Now())
	if err != nil {
		slog.Error("Outbox lease recovery failed", "error", err)
	} else if n > 0 {
		metrics.OutboxRecoveredLeases.Add(float64(n))
		slog.Info("Recovered outbox entries from expired leases", "count", n)
	}
	return p.loop.Start()
}

// Stop halts the polling loop
func (p *Processor) Stop(ctx context.Context) error {
	return p.loop.Stop(ctx)
}

func (p *Processor) lease(ctx context.Context) ([]*messaging.OutboxEntry, error) {
	now := time.Now()
	if n, err := p.store.ReclaimExpired(ctx, now); err == nil && n > 0 {
		metrics.OutboxRecoveredLeases.Add(float64(n))
		slog.Warn("Reclaimed outbox entries from expired leases", "count", n)
	}
	return p.store.LeaseReady(ctx, p.cfg.BatchSize, p.cfg.LeaseFor, now)
}

func (p *Processor) processBatch(ctx context.Context, batch []*messaging.OutboxEntry) error {
	start := time.Now()
	for _, entry := range batch {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.processEntry(ctx, entry)
	}
	metrics.OutboxPollDuration.Observe(time.Since(start).Seconds())
	if n, err := p.store.CountPending(ctx); err == nil {
		metrics.OutboxPending.Set(float64(n))
	}
	return nil
}

func (p *Processor) processEntry(ctx context.Context, entry *messaging.OutboxEntry) {
	err := p.publish(ctx, entry)
	if err == nil {
		if err := p.store.MarkPublished(ctx, entry.ID, entry.LeaseToken); err != nil {
			slog.Error("Outbox mark published failed", "entry_id", entry.ID, "error", err)
			return
		}
		metrics.OutboxEntriesTotal.WithLabelValues("published").Inc()
		slog.Debug("Outbox entry published",
			"entry_id", entry.ID,
			"message_id", entry.Envelope.ID,
			"destination", entry.Destination,
			"attempt", entry.Attempt+1)
		return
	}

	attempt := entry.Attempt + 1
	maxRetries := entry.MaxRetries
	if maxRetries <= 0 {
		maxRetries = p.cfg.MaxRetries
	}

	if attempt > maxRetries {
		p.deadLetter(ctx, entry, attempt, err)
		return
	}

	delay := p.retryDelay(entry, attempt)
	if markErr := p.store.MarkFailed(ctx, entry.ID, entry.LeaseToken, delay, err.Error()); markErr != nil {
		slog.Error("Outbox mark failed errored", "entry_id", entry.ID, "error", markErr)
		return
	}
	metrics.OutboxEntriesTotal.WithLabelValues("retried").Inc()
	slog.Warn("Outbox publish failed, will retry",
		"entry_id", entry.ID,
		"message_id", entry.Envelope.ID,
		"attempt", attempt,
		"retry_in", delay,
		"error", err)
}

func (p *Processor) deadLetter(ctx context.Context, entry *messaging.OutboxEntry, attempt int, cause error) {
	if err := p.store.MarkDeadLettered(ctx, entry.ID, entry.LeaseToken, cause.Error()); err != nil {
		slog.Error("Outbox mark dead-lettered failed", "entry_id", entry.ID, "error", err)
		return
	}
	metrics.OutboxEntriesTotal.WithLabelValues("dead_lettered").Inc()

	if p.deadLetters != nil {
		pctx := messaging.NewProcessingContext("outbox").
			WithHandlerType(entry.Envelope.Type).
			WithRetryCount(attempt - 1)
		failure := messaging.TransportError("outbox delivery failed", cause)
		if err := p.deadLetters.Send(ctx, entry.Envelope, failure, pctx); err != nil {
			slog.Error("Outbox dead-letter mirror failed", "entry_id", entry.ID, "error", err)
		}
	}
	slog.Error("Outbox entry dead-lettered",
		"entry_id", entry.ID,
		"message_id", entry.Envelope.ID,
		"attempts", attempt,
		"error", cause)
}

func (p *Processor) retryDelay(entry *messaging.OutboxEntry, attempt int) time.Duration {
	if entry.RetryDelay > 0 {
		return entry.RetryDelay
	}
	if p.cfg.RetryDelay > 0 {
		return p.cfg.RetryDelay
	}
	return time.Second << (attempt - 1)
}
