// Package queue implements the named-queue engine: declared queues with
// priority ordering, delayed visibility, per-queue parallelism and rate
// limits, and retry-then-dead-letter consumption.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kitemq/kite/internal/common/metrics"
	"github.com/kitemq/kite/internal/dlq"
	"github.com/kitemq/kite/messaging"
)

// Config configures one named queue.
type Config struct {
	Name string

	// BatchSize bounds messages leased per poll cycle (default 10)
	BatchSize int

	// LeaseFor is how long a leased message stays invisible (default 30s)
	LeaseFor time.Duration

	// PollInterval paces the loop while the queue is empty (default 250ms)
	PollInterval time.Duration

	// Parallelism is the consumer worker count (default 1: ordered)
	Parallelism int

	// RatePerSecond throttles deliveries; zero means unlimited
	RatePerSecond float64

	// MaxRetries is the redelivery budget after the first attempt; a message
	// is attempted MaxRetries+1 times before dead-lettering (default 3)
	MaxRetries int

	// RetryDelay is the fixed redelivery delay; zero selects exponential
	// backoff starting at 1s
	RetryDelay time.Duration
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.LeaseFor <= 0 {
		c.LeaseFor = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 1
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// Engine manages named queues. Each declared queue gets its own polling
// loop, worker pool and optional rate limiter; consumption retries with
// backoff and dead-letters poisoned messages.
type Engine struct {
	store        messaging.QueueStore
	deadLetters  *dlq.Service
	errorHandler messaging.ErrorHandler

	mu     sync.RWMutex
	queues map[string]*runner
}

// NewEngine creates a queue engine. errorHandler nil selects the default
// policy; deadLetters may be nil (dead-letter decisions then discard).
func NewEngine(store messaging.QueueStore, deadLetters *dlq.Service, errorHandler messaging.ErrorHandler) *Engine {
	if errorHandler == nil {
		errorHandler = dlq.NewDefaultHandler(dlq.HandlerConfig{})
	}
	return &Engine{
		store:        store,
		deadLetters:  deadLetters,
		errorHandler: errorHandler,
		queues:       make(map[string]*runner),
	}
}

// Declare registers a queue with its consumer handler. The queue does not
// consume until started.
func (e *Engine) Declare(cfg Config, handler messaging.Handler) error {
	if cfg.Name == "" {
		return fmt.Errorf("queue name is empty")
	}
	cfg.defaults()

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.queues[cfg.Name]; exists {
		return fmt.Errorf("queue %q already declared", cfg.Name)
	}
	e.queues[cfg.Name] = newRunner(cfg, e, handler)
	slog.Info("Queue declared", "queue", cfg.Name, "parallelism", cfg.Parallelism)
	return nil
}

// Enqueue puts a message on a declared queue. Unknown queues fail with
// QUEUE_DISABLED; a stopped queue still accepts messages, they wait.
func (e *Engine) Enqueue(ctx context.Context, queueName string, env *messaging.Envelope, opts messaging.EnqueueOptions) error {
	e.mu.RLock()
	_, known := e.queues[queueName]
	e.mu.RUnlock()
	if !known {
		return messaging.NewError(messaging.ErrorKindQueueDisabled, "QUEUE_UNKNOWN",
			fmt.Sprintf("queue %q is not declared", queueName))
	}

	enriched := env
	for k, v := range opts.Metadata {
		enriched = enriched.WithMetadata(k, v)
	}
	now := time.Now()
	msg := &messaging.QueueMessage{
		Envelope:    enriched,
		QueueName:   queueName,
		Priority:    opts.Priority,
		EnqueueTime: now,
		VisibleAt:   now.Add(opts.Delay),
	}
	if err := e.store.Enqueue(ctx, msg); err != nil {
		return messaging.StorageError("enqueue failed", err)
	}
	if depth, err := e.store.Depth(ctx, queueName); err == nil {
		metrics.QueueDepth.WithLabelValues(queueName).Set(float64(depth))
	}
	return nil
}

// Start launches consumption on every declared queue
func (e *Engine) Start() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for name, r := range e.queues {
		if err := r.start(); err != nil {
			return fmt.Errorf("start queue %q: %w", name, err)
		}
	}
	return nil
}

// Stop halts consumption on every queue and drains in-flight work
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var firstErr error
	for _, r := range e.queues {
		if err := r.stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StartQueue starts consumption on one queue
func (e *Engine) StartQueue(name string) error {
	r, err := e.runner(name)
	if err != nil {
		return err
	}
	return r.start()
}

// StopQueue pauses consumption on one queue; enqueued messages wait
func (e *Engine) StopQueue(ctx context.Context, name string) error {
	r, err := e.runner(name)
	if err != nil {
		return err
	}
	return r.stop(ctx)
}

// Depth returns the number of messages on a queue
func (e *Engine) Depth(ctx context.Context, name string) (int, error) {
	return e.store.Depth(ctx, name)
}

// Queues lists declared queue names
func (e *Engine) Queues() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.queues))
	for name := range e.queues {
		out = append(out, name)
	}
	return out
}

func (e *Engine) runner(name string) (*runner, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.queues[name]
	if !ok {
		return nil, messaging.NewError(messaging.ErrorKindQueueDisabled, "QUEUE_UNKNOWN",
			fmt.Sprintf("queue %q is not declared", name))
	}
	return r, nil
}
