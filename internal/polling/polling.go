// Package polling provides a generic poll-process loop with idle, busy and
// error pacing. Outbox publishing, queue consumption and idempotency cleanup
// are all built on it.
package polling

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kitemq/kite/internal/common/metrics"
)

const (
	// DefaultIdleDelay paces the loop when a poll returns nothing
	DefaultIdleDelay = 1 * time.Second

	// DefaultErrorDelay paces the loop after a poll or process error
	DefaultErrorDelay = 5 * time.Second
)

// Source fetches the next batch. An empty batch with a nil error means
// nothing is ready.
type Source[T any] func(ctx context.Context) ([]T, error)

// Processor handles a non-empty batch.
type Processor[T any] func(ctx context.Context, batch []T) error

// Config configures a Loop.
type Config struct {
	// Name labels logs and metrics
	Name string

	// IdleDelay is the pause after an empty poll (default 1s)
	IdleDelay time.Duration

	// BusyDelay is the pause after a productive poll (default 0: poll
	// again immediately while work is available)
	BusyDelay time.Duration

	// ErrorDelay is the pause after a failed poll or process (default 5s)
	ErrorDelay time.Duration
}

// Loop repeatedly polls a source and hands batches to a processor. The loop
// runs on its own goroutine between Start and Stop.
type Loop[T any] struct {
	cfg     Config
	source  Source[T]
	process Processor[T]

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewLoop creates a polling loop
func NewLoop[T any](cfg Config, source Source[T], process Processor[T]) *Loop[T] {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = DefaultIdleDelay
	}
	if cfg.ErrorDelay <= 0 {
		cfg.ErrorDelay = DefaultErrorDelay
	}
	return &Loop[T]{cfg: cfg, source: source, process: process}
}

// Start launches the loop goroutine. Starting a running loop is a no-op.
func (l *Loop[T]) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true

	go l.run(ctx)
	slog.Debug("Polling loop started", "loop", l.cfg.Name, "idle_delay", l.cfg.IdleDelay)
	return nil
}

// Stop cancels the loop and waits for the current cycle to finish
func (l *Loop[T]) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	select {
	case <-done:
		slog.Debug("Polling loop stopped", "loop", l.cfg.Name)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop[T]) run(ctx context.Context) {
	defer close(l.done)
	for {
		delay := l.cycle(ctx)
		if delay == 0 {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// cycle performs one poll-process round and returns the pause before the
// next round
func (l *Loop[T]) cycle(ctx context.Context) time.Duration {
	batch, err := l.source(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		metrics.PollingCycles.WithLabelValues(l.cfg.Name, "error").Inc()
		slog.Error("Poll failed", "loop", l.cfg.Name, "error", err)
		return l.cfg.ErrorDelay
	}
	if len(batch) == 0 {
		metrics.PollingCycles.WithLabelValues(l.cfg.Name, "idle").Inc()
		return l.cfg.IdleDelay
	}
	if err := l.process(ctx, batch); err != nil {
		if ctx.Err() != nil {
			return 0
		}
		metrics.PollingCycles.WithLabelValues(l.cfg.Name, "error").Inc()
		slog.Error("Batch processing failed", "loop", l.cfg.Name, "batch_size", len(batch), "error", err)
		return l.cfg.ErrorDelay
	}
	metrics.PollingCycles.WithLabelValues(l.cfg.Name, "busy").Inc()
	return l.cfg.BusyDelay
}
