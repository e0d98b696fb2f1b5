package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kitemq/kite/internal/common/metrics"
	"github.com/kitemq/kite/internal/workqueue"
	"github.com/kitemq/kite/messaging"
)

// Config configures a Dispatcher.
type Config struct {
	Registry *Registry

	// Middleware wraps every handler invocation, first entry outermost
	Middleware []messaging.Middleware

	// Timeout bounds a single dispatch when the caller's context carries
	// no deadline; zero means unbounded
	Timeout time.Duration

	// EventConcurrency caps concurrent handlers during event fan-out
	// (default 8)
	EventConcurrency int

	// CommandQueueCapacity bounds commands of one type waiting for their
	// turn (default 100)
	CommandQueueCapacity int
}

// Dispatcher executes commands, queries and events against the registry,
// with the configured middleware chain around every handler. Commands of
// the same type are serialized through a single-worker queue so they run
// one at a time in submission order; queries and events are not.
type Dispatcher struct {
	cfg Config

	mu        sync.Mutex
	cmdQueues map[string]*workqueue.Queue
}

// NewDispatcher creates a dispatcher
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.EventConcurrency <= 0 {
		cfg.EventConcurrency = 8
	}
	return &Dispatcher{
		cfg:       cfg,
		cmdQueues: make(map[string]*workqueue.Queue),
	}
}

// Registry returns the dispatcher's registry
func (d *Dispatcher) Registry() *Registry {
	return d.cfg.Registry
}

// Send dispatches a command to its single handler. Commands sharing a type
// run strictly one at a time, in the order their senders enqueued them.
func (d *Dispatcher) Send(ctx context.Context, env *messaging.Envelope) messaging.Result {
	entry, ok := d.cfg.Registry.CommandHandler(env.Type)
	if !ok {
		metrics.DispatchHandlerMissing.WithLabelValues("command", env.Type).Inc()
		return messaging.Failure(messaging.HandlerMissingError(env.Type))
	}

	resCh := make(chan messaging.Result, 1)
	err := d.commandQueue(env.Type).Submit(ctx, func(context.Context) {
		resCh <- d.invoke(ctx, "command", env, entry)
	})
	if err != nil {
		return messaging.FailureFrom(err)
	}
	select {
	case res := <-resCh:
		return res
	case <-ctx.Done():
		return messaging.FailureFrom(ctx.Err())
	}
}

// commandQueue returns the single-worker queue serializing one command type
func (d *Dispatcher) commandQueue(msgType string) *workqueue.Queue {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.cmdQueues[msgType]
	if !ok {
		q = workqueue.New(workqueue.Config{
			Name:        "command:" + msgType,
			Capacity:    d.cfg.CommandQueueCapacity,
			Parallelism: 1,
		})
		d.cmdQueues[msgType] = q
	}
	return q
}

// Query dispatches a query to its single handler
func (d *Dispatcher) Query(ctx context.Context, env *messaging.Envelope) messaging.Result {
	entry, ok := d.cfg.Registry.QueryHandler(env.Type)
	if !ok {
		metrics.DispatchHandlerMissing.WithLabelValues("query", env.Type).Inc()
		return messaging.Failure(messaging.HandlerMissingError(env.Type))
	}
	return d.invoke(ctx, "query", env, entry)
}

// handlerFailure pairs a failing event handler with its error
type handlerFailure struct {
	component string
	err       *messaging.Error
}

// Publish fans an event out to every registered handler. All handlers run
// even when siblings fail; the result aggregates per-handler failures. An
// event with no handlers succeeds.
func (d *Dispatcher) Publish(ctx context.Context, env *messaging.Envelope) messaging.Result {
	entries := d.cfg.Registry.EventHandlers(env.Type)
	if len(entries) == 0 {
		return messaging.Success(nil)
	}

	var g errgroup.Group
	g.SetLimit(d.cfg.EventConcurrency)

	var mu sync.Mutex
	var failures []handlerFailure

	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			res := d.invoke(ctx, "event", env, entry)
			if res.IsFailure() {
				mu.Lock()
				failures = append(failures, handlerFailure{entry.Component, res.Err()})
				mu.Unlock()
			}
			// never abort siblings
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) == 0 {
		return messaging.Success(nil)
	}
	err := messaging.NewError(messaging.ErrorKindInternal, "EVENT_HANDLERS_FAILED",
		fmt.Sprintf("%d of %d event handlers failed for %q", len(failures), len(entries), env.Type))
	seen := make(map[string]int, len(failures))
	for _, f := range failures {
		key := f.component
		seen[f.component]++
		// handlers may share a component name; keep every failure visible
		if n := seen[f.component]; n > 1 {
			key = fmt.Sprintf("%s#%d", f.component, n)
		}
		err = err.WithDetail(key, f.err.Error())
	}
	return messaging.Failure(err)
}

// invoke runs one handler through the middleware chain with logging,
// metrics and the optional default timeout
func (d *Dispatcher) invoke(ctx context.Context, kind string, env *messaging.Envelope, entry messaging.HandlerEntry) messaging.Result {
	if d.cfg.Timeout > 0 {
		if _, has := ctx.Deadline(); !has {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
			defer cancel()
		}
	}

	handler := messaging.Chain(entry.Handle, d.cfg.Middleware...)

	start := time.Now()
	res := handler(ctx, env)
	elapsed := time.Since(start)

	metrics.DispatchDuration.WithLabelValues(kind, env.Type).Observe(elapsed.Seconds())
	if res.IsSuccess() {
		metrics.DispatchMessagesTotal.WithLabelValues(kind, env.Type, "success").Inc()
	} else {
		metrics.DispatchMessagesTotal.WithLabelValues(kind, env.Type, "failed").Inc()
		slog.Warn("Dispatch failed",
			"kind", kind,
			"type", env.Type,
			"message_id", env.ID,
			"component", entry.Component,
			"error", res.Err().Error(),
			"duration", elapsed)
	}
	return res
}
