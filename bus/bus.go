// Package bus is the public facade of the kite runtime. A Bus owns the
// dispatcher, the processing pipeline, the outbox processor, the inbox
// guard, the dead-letter service and the named-queue engine, and wires
// them to a storage backend and an optional transport.
package bus

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/kitemq/kite/internal/common/health"
	"github.com/kitemq/kite/internal/dispatch"
	"github.com/kitemq/kite/internal/dlq"
	"github.com/kitemq/kite/internal/idempotency"
	"github.com/kitemq/kite/internal/inbox"
	"github.com/kitemq/kite/internal/outbox"
	"github.com/kitemq/kite/internal/pipeline"
	"github.com/kitemq/kite/internal/queue"
	"github.com/kitemq/kite/internal/storage/memory"
	"github.com/kitemq/kite/messaging"
)

// Storage provides the persistent stores the bus depends on. The in-memory
// backend satisfies it; a durable backend plugs in the same way.
type Storage interface {
	Outbox() messaging.OutboxStore
	Inbox() messaging.InboxStore
	Queues() messaging.QueueStore
	DeadLetters() messaging.DeadLetterStore
	Ping(ctx context.Context) error
}

// CoreConfig configures a Bus. Zero values select the in-memory storage,
// no transport and a pipeline without breaker or retries; start from
// DefaultCoreConfig for the standard processing defaults.
type CoreConfig struct {
	// Storage backs the outbox, inbox, queues and dead letters (default
	// in-memory)
	Storage Storage

	// Transport carries outbox entries and consumer subscriptions; nil
	// keeps everything in-process through the dispatcher
	Transport messaging.Transport

	// MaxConcurrency caps event fan-out and batch dispatch (default core
	// count)
	MaxConcurrency int

	// ProcessingTimeout bounds a dispatch without a caller deadline; zero
	// means unbounded
	ProcessingTimeout time.Duration

	// MaxRetries is the pipeline retry budget after the first attempt
	MaxRetries int

	// RetryDelay is the base delay between pipeline retries
	RetryDelay time.Duration

	// ExponentialBackoff doubles the retry delay per attempt
	ExponentialBackoff bool

	// EnableCircuitBreaker adds the per-type breaker to the pipeline
	EnableCircuitBreaker bool

	// CircuitBreakerThreshold is the consecutive-failure count that opens
	// the circuit
	CircuitBreakerThreshold int

	// CircuitBreakerTimeout is how long an open circuit stays open
	CircuitBreakerTimeout time.Duration

	// SigningKey enables signature verification when non-empty
	SigningKey string

	// RequireSignature rejects unsigned messages
	RequireSignature bool

	// IdempotencyStore caches command outcomes (default in-memory)
	IdempotencyStore messaging.IdempotencyStore

	// IdempotencyTTL bounds cached successful outcomes (default 24h)
	IdempotencyTTL time.Duration

	// IdempotencyCacheFailures caches failed outcomes too, so duplicates
	// of a failed command do not re-run the handler
	IdempotencyCacheFailures bool

	// IdempotencyFailureTTL bounds cached failures; zero falls back to
	// IdempotencyTTL
	IdempotencyFailureTTL time.Duration

	// ValidationRules maps message types to per-type validation
	ValidationRules map[string]pipeline.ValidationRule

	// ErrorHandler decides retry/dead-letter/discard for queue consumption;
	// nil selects the default policy
	ErrorHandler messaging.ErrorHandler

	// Outbox configures the background outbox processor
	Outbox outbox.ProcessorConfig

	// DisableOutbox skips the outbox processor entirely
	DisableOutbox bool
}

// DefaultCoreConfig returns the standard processing defaults
func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		MaxConcurrency:          runtime.NumCPU(),
		ProcessingTimeout:       5 * time.Minute,
		MaxRetries:              3,
		RetryDelay:              time.Second,
		ExponentialBackoff:      true,
		EnableCircuitBreaker:    true,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   time.Minute,
		IdempotencyTTL:          24 * time.Hour,

		IdempotencyCacheFailures: true,
	}
}

// Bus is the runtime facade. Construct with New, register handlers, then
// Start. All methods are safe for concurrent use.
type Bus struct {
	cfg       CoreConfig
	storage   Storage
	transport messaging.Transport

	registry   *dispatch.Registry
	dispatcher *dispatch.Dispatcher

	outboxPub  *outbox.Publisher
	outboxProc *outbox.Processor
	inbox      *inbox.Service
	dead       *dlq.Service
	engine     *queue.Engine
	checker    *health.Checker

	started atomic.Bool
}

// New assembles a bus from the configuration
func New(cfg CoreConfig) (*Bus, error) {
	if cfg.Storage == nil {
		cfg.Storage = memory.New()
	}
	if cfg.IdempotencyStore == nil {
		cfg.IdempotencyStore = idempotency.NewMemoryStore()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = runtime.NumCPU()
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}

	b := &Bus{
		cfg:       cfg,
		storage:   cfg.Storage,
		transport: cfg.Transport,
		registry:  dispatch.NewRegistry(),
		checker:   health.NewChecker(),
	}

	b.dispatcher = dispatch.NewDispatcher(dispatch.Config{
		Registry:         b.registry,
		Middleware:       b.buildPipeline(),
		Timeout:          cfg.ProcessingTimeout,
		EventConcurrency: cfg.MaxConcurrency,
	})

	b.dead = dlq.NewService(b.storage.DeadLetters(), b.dispatch)
	b.engine = queue.NewEngine(b.storage.Queues(), b.dead, cfg.ErrorHandler)
	b.inbox = inbox.NewService(b.storage.Inbox())
	b.outboxPub = outbox.NewPublisher(b.storage.Outbox())
	if !cfg.DisableOutbox {
		b.outboxProc = outbox.NewProcessor(cfg.Outbox, b.storage.Outbox(), b.publishEntry, b.dead)
	}

	b.checker.AddReadinessCheck(health.StorageCheck("storage", func() error {
		return b.storage.Ping(context.Background())
	}))
	if b.transport != nil {
		b.checker.AddReadinessCheck(health.TransportCheck("transport", b.transport.State))
	}

	return b, nil
}

// buildPipeline assembles the middleware chain, first entry outermost:
// logging, validation, signing, idempotency, circuit breaker, retry
func (b *Bus) buildPipeline() []messaging.Middleware {
	mw := []messaging.Middleware{
		pipeline.Logging(),
		pipeline.Validation(pipeline.ValidationConfig{Rules: b.cfg.ValidationRules}),
	}
	if b.cfg.SigningKey != "" {
		mw = append(mw, pipeline.Signing(pipeline.SigningConfig{
			Signer:  pipeline.NewSigner(b.cfg.SigningKey),
			Require: b.cfg.RequireSignature,
		}))
	}
	mw = append(mw, pipeline.Idempotency(pipeline.IdempotencyConfig{
		Store:         b.cfg.IdempotencyStore,
		TTL:           b.cfg.IdempotencyTTL,
		CacheFailures: b.cfg.IdempotencyCacheFailures,
		FailureTTL:    b.cfg.IdempotencyFailureTTL,
	}))
	if b.cfg.EnableCircuitBreaker {
		mw = append(mw, pipeline.CircuitBreaker(pipeline.BreakerConfig{
			FailureThreshold: b.cfg.CircuitBreakerThreshold,
			BreakDuration:    b.cfg.CircuitBreakerTimeout,
		}))
	}
	mw = append(mw, pipeline.Retry(pipeline.RetryConfig{
		MaxRetries:  b.cfg.MaxRetries,
		Delay:       b.cfg.RetryDelay,
		Exponential: b.cfg.ExponentialBackoff,
	}))
	return mw
}

// dispatch routes an envelope to the handler chain for its kind. It backs
// dead-letter redispatch, inbox processing and local outbox delivery.
func (b *Bus) dispatch(ctx context.Context, env *messaging.Envelope) messaging.Result {
	switch env.Kind {
	case messaging.KindQuery:
		return b.dispatcher.Query(ctx, env)
	case messaging.KindEvent:
		return b.dispatcher.Publish(ctx, env)
	default:
		return b.dispatcher.Send(ctx, env)
	}
}

// publishEntry delivers a leased outbox entry. With a transport, entries
// with a destination go point-to-point and the rest fan out on the message
// type as topic; without one, delivery is a local dispatch.
func (b *Bus) publishEntry(ctx context.Context, entry *messaging.OutboxEntry) error {
	if b.transport == nil {
		if res := b.dispatch(ctx, entry.Envelope); res.IsFailure() {
			return res.Err()
		}
		return nil
	}
	if entry.Destination != "" {
		return b.transport.Send(ctx, entry.Destination, entry.Envelope)
	}
	return b.transport.Publish(ctx, entry.Envelope.Type, entry.Envelope)
}

// Start connects the transport and launches the outbox processor and the
// queue engine. Starting twice is an error.
func (b *Bus) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return fmt.Errorf("bus already started")
	}
	if b.transport != nil {
		if err := b.transport.Connect(ctx); err != nil {
			b.started.Store(false)
			return fmt.Errorf("transport connect: %w", err)
		}
	}
	if b.outboxProc != nil {
		if err := b.outboxProc.Start(); err != nil {
			b.started.Store(false)
			return fmt.Errorf("outbox start: %w", err)
		}
	}
	if err := b.engine.Start(); err != nil {
		b.started.Store(false)
		return fmt.Errorf("queue engine start: %w", err)
	}
	return nil
}

// Stop halts background processing in reverse start order
func (b *Bus) Stop(ctx context.Context) error {
	if !b.started.CompareAndSwap(true, false) {
		return nil
	}
	var firstErr error
	if err := b.engine.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if b.outboxProc != nil {
		if err := b.outboxProc.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.transport != nil {
		if err := b.transport.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RegisterCommandHandler registers the single handler for a command type.
// A second registration for the same type is an error.
func (b *Bus) RegisterCommandHandler(msgType string, h messaging.Handler) error {
	return b.registry.RegisterCommand(msgType, messaging.HandlerEntry{
		Component: "command:" + msgType,
		Handle:    h,
	})
}

// RegisterQueryHandler registers the single handler for a query type
func (b *Bus) RegisterQueryHandler(msgType string, h messaging.Handler) error {
	return b.registry.RegisterQuery(msgType, messaging.HandlerEntry{
		Component: "query:" + msgType,
		Handle:    h,
	})
}

// RegisterEventHandler adds a handler to an event type's fan-out set
func (b *Bus) RegisterEventHandler(msgType, component string, h messaging.Handler) {
	if component == "" {
		component = "event:" + msgType
	}
	b.registry.RegisterEvent(msgType, messaging.HandlerEntry{
		Component: component,
		Handle:    h,
	})
}

// Registry returns the handler registry for inspection
func (b *Bus) Registry() *dispatch.Registry { return b.registry }

// DeadLetters returns the dead-letter service
func (b *Bus) DeadLetters() *dlq.Service { return b.dead }

// QueueEngine returns the named-queue engine
func (b *Bus) QueueEngine() *queue.Engine { return b.engine }

// Checker returns the health checker backing Health
func (b *Bus) Checker() *health.Checker { return b.checker }

// Transport returns the configured transport, nil when in-process only
func (b *Bus) Transport() messaging.Transport { return b.transport }
