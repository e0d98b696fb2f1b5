package bus

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kitemq/kite/internal/common/health"
	"github.com/kitemq/kite/internal/queue"
	"github.com/kitemq/kite/messaging"
)

// SendCommand dispatches a command through the pipeline to its handler
func (b *Bus) SendCommand(ctx context.Context, env *messaging.Envelope) messaging.Result {
	if env.Kind != messaging.KindCommand {
		return messaging.Failure(messaging.ValidationError("NOT_A_COMMAND",
			fmt.Sprintf("envelope %q is a %s, not a command", env.Type, env.Kind)))
	}
	return b.dispatcher.Send(ctx, env)
}

// SendQuery dispatches a query and returns the handler's response
func (b *Bus) SendQuery(ctx context.Context, env *messaging.Envelope) messaging.Result {
	if env.Kind != messaging.KindQuery {
		return messaging.Failure(messaging.ValidationError("NOT_A_QUERY",
			fmt.Sprintf("envelope %q is a %s, not a query", env.Type, env.Kind)))
	}
	return b.dispatcher.Query(ctx, env)
}

// PublishEvent fans an event out to every registered handler. An event with
// no handlers succeeds.
func (b *Bus) PublishEvent(ctx context.Context, env *messaging.Envelope) messaging.Result {
	if env.Kind != messaging.KindEvent {
		return messaging.Failure(messaging.ValidationError("NOT_AN_EVENT",
			fmt.Sprintf("envelope %q is a %s, not an event", env.Type, env.Kind)))
	}
	return b.dispatcher.Publish(ctx, env)
}

// SendBatch dispatches commands concurrently and returns per-envelope
// success flags in input order. One failure never aborts the others.
func (b *Bus) SendBatch(ctx context.Context, envs []*messaging.Envelope) []bool {
	return b.batch(ctx, envs, b.SendCommand)
}

// PublishBatch publishes events concurrently and returns per-envelope
// success flags in input order
func (b *Bus) PublishBatch(ctx context.Context, envs []*messaging.Envelope) []bool {
	return b.batch(ctx, envs, b.PublishEvent)
}

func (b *Bus) batch(ctx context.Context, envs []*messaging.Envelope,
	op func(context.Context, *messaging.Envelope) messaging.Result) []bool {

	results := make([]bool, len(envs))
	var g errgroup.Group
	g.SetLimit(b.cfg.MaxConcurrency)
	for i, env := range envs {
		i, env := i, env
		g.Go(func() error {
			results[i] = op(ctx, env).IsSuccess()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// PublishToOutbox persists an envelope for store-then-publish delivery.
// The entry is picked up by the background processor; the caller only pays
// for the storage write.
func (b *Bus) PublishToOutbox(ctx context.Context, env *messaging.Envelope, opts messaging.OutboxOptions) (*messaging.OutboxEntry, error) {
	return b.outboxPub.Publish(ctx, env, opts)
}

// ProcessIncoming runs an externally received envelope through the inbox
// dedup guard and, when the claim is new, through the dispatcher
func (b *Bus) ProcessIncoming(ctx context.Context, env *messaging.Envelope, opts messaging.InboxOptions) messaging.Result {
	return b.inbox.Process(ctx, env, opts, b.dispatch)
}

// Consume subscribes to a transport address and routes deliveries through
// ProcessIncoming, so transport ingress gets the same dedup and pipeline
// treatment as direct calls
func (b *Bus) Consume(ctx context.Context, addr string, opts messaging.ConsumerOptions) (messaging.Consumer, error) {
	if b.transport == nil {
		return nil, fmt.Errorf("no transport configured")
	}
	handler := func(ctx context.Context, env *messaging.Envelope) error {
		res := b.ProcessIncoming(ctx, env, messaging.InboxOptions{
			Source:             addr,
			RequireIdempotency: true,
		})
		if res.IsFailure() {
			return res.Err()
		}
		return nil
	}
	return b.transport.Subscribe(ctx, addr, handler, opts)
}

// DeclareQueue registers a named queue. A nil handler routes consumed
// messages through the dispatcher by envelope kind.
func (b *Bus) DeclareQueue(cfg queue.Config, handler messaging.Handler) error {
	if handler == nil {
		handler = b.dispatch
	}
	return b.engine.Declare(cfg, handler)
}

// Enqueue places an envelope on a declared queue
func (b *Bus) Enqueue(ctx context.Context, queueName string, env *messaging.Envelope, opts messaging.EnqueueOptions) error {
	return b.engine.Enqueue(ctx, queueName, env, opts)
}

// StartQueue resumes consumption on a declared queue
func (b *Bus) StartQueue(name string) error {
	return b.engine.StartQueue(name)
}

// StopQueue pauses consumption; enqueues still succeed
func (b *Bus) StopQueue(ctx context.Context, name string) error {
	return b.engine.StopQueue(ctx, name)
}

// QueueDepth returns the number of visible messages on a queue
func (b *Bus) QueueDepth(ctx context.Context, name string) (int, error) {
	return b.engine.Depth(ctx, name)
}

// MetricsSnapshot is a point-in-time summary of the runtime for callers
// that do not scrape Prometheus
type MetricsSnapshot struct {
	OutboxPending  int            `json:"outboxPending"`
	DeadLetters    int            `json:"deadLetters"`
	QueueDepths    map[string]int `json:"queueDepths"`
	TransportState string         `json:"transportState,omitempty"`
}

// Metrics returns a snapshot of the runtime counters
func (b *Bus) Metrics(ctx context.Context) (MetricsSnapshot, error) {
	snap := MetricsSnapshot{QueueDepths: make(map[string]int)}

	pending, err := b.storage.Outbox().CountPending(ctx)
	if err != nil {
		return snap, fmt.Errorf("outbox pending: %w", err)
	}
	snap.OutboxPending = pending

	dead, err := b.dead.Count(ctx)
	if err != nil {
		return snap, fmt.Errorf("dead letter count: %w", err)
	}
	snap.DeadLetters = dead

	for _, name := range b.engine.Queues() {
		depth, err := b.engine.Depth(ctx, name)
		if err != nil {
			return snap, fmt.Errorf("queue depth %q: %w", name, err)
		}
		snap.QueueDepths[name] = depth
	}

	if b.transport != nil {
		snap.TransportState = b.transport.State().String()
	}
	return snap, nil
}

// Health runs the liveness and readiness checks and returns the combined
// report
func (b *Bus) Health() health.HealthResponse {
	return b.checker.GetHealth()
}
