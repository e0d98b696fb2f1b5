package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kitemq/kite/internal/common/metrics"
	"github.com/kitemq/kite/internal/polling"
	"github.com/kitemq/kite/internal/workqueue"
	"github.com/kitemq/kite/messaging"
)

// runner drives consumption of one declared queue.
type runner struct {
	cfg     Config
	engine  *Engine
	handler messaging.Handler
	limiter *rate.Limiter

	mu      sync.Mutex
	loop    *polling.Loop[*messaging.QueueMessage]
	workers *workqueue.Queue
	running bool
}

func newRunner(cfg Config, engine *Engine, handler messaging.Handler) *runner {
	r := &runner{cfg: cfg, engine: engine, handler: handler}
	if cfg.RatePerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return r
}

func (r *runner) start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.workers = workqueue.New(workqueue.Config{
		Name:        "queue:" + r.cfg.Name,
		Capacity:    r.cfg.BatchSize * 2,
		Parallelism: r.cfg.Parallelism,
	})
	r.loop = polling.NewLoop(polling.Config{
		Name:      "queue:" + r.cfg.Name,
		IdleDelay: r.cfg.PollInterval,
	}, r.lease, r.processBatch)
	if err := r.loop.Start(); err != nil {
		return err
	}
	r.running = true
	slog.Info("Queue started", "queue", r.cfg.Name)
	return nil
}

func (r *runner) stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	r.running = false
	if err := r.loop.Stop(ctx); err != nil {
		return err
	}
	if err := r.workers.Complete(ctx); err != nil {
		return err
	}
	slog.Info("Queue stopped", "queue", r.cfg.Name)
	return nil
}

func (r *runner) lease(ctx context.Context) ([]*messaging.QueueMessage, error) {
	now := time.Now()
	if n, err := r.engine.store.ReclaimExpired(ctx, now); err == nil && n > 0 {
		slog.Warn("Reclaimed queue messages from expired leases", "queue", r.cfg.Name, "count", n)
	}
	return r.engine.store.LeaseReady(ctx, r.cfg.Name, r.cfg.BatchSize, r.cfg.LeaseFor, now)
}

func (r *runner) processBatch(ctx context.Context, batch []*messaging.QueueMessage) error {
	for _, msg := range batch {
		if r.limiter != nil {
			if !r.limiter.Allow() {
				metrics.QueueRateLimited.WithLabelValues(r.cfg.Name).Inc()
				if err := r.limiter.Wait(ctx); err != nil {
					return err
				}
			}
		}
		msg := msg
		if err := r.workers.Submit(ctx, func(taskCtx context.Context) {
			r.processMessage(taskCtx, msg)
		}); err != nil {
			// loop stopping: the lease expires and the message is redelivered
			return err
		}
	}
	if depth, err := r.engine.store.Depth(ctx, r.cfg.Name); err == nil {
		metrics.QueueDepth.WithLabelValues(r.cfg.Name).Set(float64(depth))
	}
	return nil
}

func (r *runner) processMessage(ctx context.Context, msg *messaging.QueueMessage) {
	res := r.handler(ctx, msg.Envelope)
	if res.IsSuccess() {
		if err := r.engine.store.Acknowledge(ctx, r.cfg.Name, msg.Envelope.ID, msg.LeaseToken); err != nil {
			slog.Error("Queue acknowledge failed",
				"queue", r.cfg.Name, "message_id", msg.Envelope.ID, "error", err)
			return
		}
		metrics.QueueMessagesTotal.WithLabelValues(r.cfg.Name, "success").Inc()
		return
	}

	failure := res.Err()
	pctx := messaging.NewProcessingContext("queue:" + r.cfg.Name).
		WithHandlerType(msg.Envelope.Type).
		WithRetryCount(msg.Attempt).
		WithFirstFailure(time.Now())

	decision := r.decide(msg, failure, pctx)
	switch decision.Action {
	case messaging.ActionRetry:
		visibleAt := time.Now().Add(decision.Delay)
		if err := r.engine.store.Requeue(ctx, r.cfg.Name, msg.Envelope.ID, msg.LeaseToken, visibleAt, msg.Attempt+1); err != nil {
			slog.Error("Queue requeue failed",
				"queue", r.cfg.Name, "message_id", msg.Envelope.ID, "error", err)
			return
		}
		metrics.QueueMessagesTotal.WithLabelValues(r.cfg.Name, "retried").Inc()
		slog.Warn("Queue message failed, redelivering",
			"queue", r.cfg.Name,
			"message_id", msg.Envelope.ID,
			"attempt", msg.Attempt+1,
			"retry_in", decision.Delay,
			"error", failure.Error())

	case messaging.ActionDeadLetter:
		if r.engine.deadLetters != nil {
			if err := r.engine.deadLetters.Send(ctx, msg.Envelope, failure, pctx); err != nil {
				slog.Error("Queue dead-letter failed",
					"queue", r.cfg.Name, "message_id", msg.Envelope.ID, "error", err)
				return
			}
		}
		if err := r.engine.store.Acknowledge(ctx, r.cfg.Name, msg.Envelope.ID, msg.LeaseToken); err != nil {
			slog.Error("Queue acknowledge after dead-letter failed",
				"queue", r.cfg.Name, "message_id", msg.Envelope.ID, "error", err)
			return
		}
		metrics.QueueMessagesTotal.WithLabelValues(r.cfg.Name, "dead_lettered").Inc()

	case messaging.ActionDiscard:
		if err := r.engine.store.Acknowledge(ctx, r.cfg.Name, msg.Envelope.ID, msg.LeaseToken); err != nil {
			slog.Error("Queue acknowledge after discard failed",
				"queue", r.cfg.Name, "message_id", msg.Envelope.ID, "error", err)
		}
		slog.Info("Queue message discarded",
			"queue", r.cfg.Name, "message_id", msg.Envelope.ID, "reason", decision.Reason)

	case messaging.ActionEscalate:
		// nothing to escalate to on an async consumer: release the
		// message unchanged so a later delivery retries it
		if err := r.engine.store.Requeue(ctx, r.cfg.Name, msg.Envelope.ID, msg.LeaseToken, time.Now(), msg.Attempt); err != nil {
			slog.Error("Queue release failed",
				"queue", r.cfg.Name, "message_id", msg.Envelope.ID, "error", err)
		}
	}
}

// decide applies the engine's error policy with the queue's retry settings
func (r *runner) decide(msg *messaging.QueueMessage, failure *messaging.Error, pctx messaging.ProcessingContext) messaging.Decision {
	decision := r.engine.errorHandler.Handle(msg.Envelope, failure, pctx)
	if decision.Action != messaging.ActionRetry {
		return decision
	}
	if msg.Attempt+1 > r.cfg.MaxRetries {
		return messaging.DeadLetter("retries exhausted")
	}
	if r.cfg.RetryDelay > 0 {
		decision.Delay = r.cfg.RetryDelay
	} else if decision.Delay <= 0 {
		decision.Delay = time.Second << msg.Attempt
	}
	return decision
}
