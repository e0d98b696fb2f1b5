package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatch metrics

	// DispatchMessagesTotal tracks messages dispatched through the bus
	DispatchMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Total messages dispatched through the bus",
		},
		[]string{"kind", "message_type", "result"}, // result: success, failed
	)

	// DispatchDuration tracks handler execution duration
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kite",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time to dispatch a message to its handler",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "message_type"},
	)

	// DispatchHandlerMissing tracks dispatches with no registered handler
	DispatchHandlerMissing = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "dispatch",
			Name:      "handler_missing_total",
			Help:      "Total dispatches that found no registered handler",
		},
		[]string{"kind", "message_type"},
	)

	// Work queue metrics

	// WorkQueueDepth tracks pending tasks per work queue
	WorkQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kite",
			Subsystem: "workqueue",
			Name:      "depth",
			Help:      "Number of tasks pending in the work queue",
		},
		[]string{"queue"},
	)

	// WorkQueueTasksTotal tracks tasks processed per work queue
	WorkQueueTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "workqueue",
			Name:      "tasks_total",
			Help:      "Total tasks processed by the work queue",
		},
		[]string{"queue", "result"}, // result: completed, dropped, panicked
	)

	// WorkQueueActiveWorkers tracks busy workers per work queue
	WorkQueueActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kite",
			Subsystem: "workqueue",
			Name:      "active_workers",
			Help:      "Number of workers currently executing tasks",
		},
		[]string{"queue"},
	)

	// Pipeline metrics

	// PipelineRetries tracks retry attempts by the retry decorator
	PipelineRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "pipeline",
			Name:      "retries_total",
			Help:      "Total retry attempts made by the retry decorator",
		},
		[]string{"message_type"},
	)

	// PipelineValidationFailures tracks validation decorator rejections
	PipelineValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "pipeline",
			Name:      "validation_failures_total",
			Help:      "Total messages rejected by the validation decorator",
		},
		[]string{"message_type"},
	)

	// PipelineSignatureFailures tracks signing decorator rejections
	PipelineSignatureFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "pipeline",
			Name:      "signature_failures_total",
			Help:      "Total messages rejected by the signing decorator",
		},
		[]string{"message_type"},
	)

	// CircuitBreakerState tracks circuit breaker state per message type
	// 0 = closed (healthy), 1 = open (tripped), 2 = half-open (testing)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kite",
			Subsystem: "pipeline",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"message_type"},
	)

	// CircuitBreakerTrips tracks circuit breaker trip events
	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "pipeline",
			Name:      "circuit_breaker_trips_total",
			Help:      "Total circuit breaker trip events",
		},
		[]string{"message_type"},
	)

	// IdempotencyLookups tracks idempotency decorator cache lookups
	IdempotencyLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "pipeline",
			Name:      "idempotency_lookups_total",
			Help:      "Total idempotency cache lookups",
		},
		[]string{"result"}, // result: hit, miss
	)

	// Outbox metrics

	// OutboxEntriesTotal tracks outbox entries by final disposition
	OutboxEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "outbox",
			Name:      "entries_total",
			Help:      "Total outbox entries processed",
		},
		[]string{"result"}, // result: published, retried, dead_lettered
	)

	// OutboxPending tracks entries awaiting publication
	OutboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kite",
			Subsystem: "outbox",
			Name:      "pending",
			Help:      "Number of outbox entries awaiting publication",
		},
	)

	// OutboxPollDuration tracks outbox poll cycle duration
	OutboxPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kite",
			Subsystem: "outbox",
			Name:      "poll_duration_seconds",
			Help:      "Time to lease and publish an outbox batch",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// OutboxRecoveredLeases tracks leases reclaimed from expired publishers
	OutboxRecoveredLeases = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "outbox",
			Name:      "recovered_leases_total",
			Help:      "Total outbox leases reclaimed after expiry",
		},
	)

	// Inbox metrics

	// InboxClaims tracks inbox claim attempts by outcome
	InboxClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "inbox",
			Name:      "claims_total",
			Help:      "Total inbox claim attempts",
		},
		[]string{"result"}, // result: new, in_flight, processed
	)

	// Named queue metrics

	// QueueDepth tracks messages waiting per named queue
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kite",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of messages waiting in the named queue",
		},
		[]string{"queue"},
	)

	// QueueMessagesTotal tracks messages processed per named queue
	QueueMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "queue",
			Name:      "messages_total",
			Help:      "Total messages processed from the named queue",
		},
		[]string{"queue", "result"}, // result: success, retried, dead_lettered
	)

	// QueueRateLimited tracks deliveries delayed by the queue rate limiter
	QueueRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "queue",
			Name:      "rate_limited_total",
			Help:      "Total deliveries delayed by the queue rate limiter",
		},
		[]string{"queue"},
	)

	// Dead letter metrics

	// DeadLettersTotal tracks dead letter operations
	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "dlq",
			Name:      "entries_total",
			Help:      "Total dead letter operations",
		},
		[]string{"action"}, // action: added, retried, discarded
	)

	// DeadLetterSize tracks current dead letter queue size
	DeadLetterSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kite",
			Subsystem: "dlq",
			Name:      "size",
			Help:      "Number of entries in the dead letter queue",
		},
	)

	// Transport metrics

	// TransportMessagesTotal tracks messages moved through a transport
	TransportMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "transport",
			Name:      "messages_total",
			Help:      "Total messages moved through the transport",
		},
		[]string{"transport", "direction", "result"}, // direction: send, deliver
	)

	// TransportState tracks connection state per transport
	// 0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=faulted
	TransportState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kite",
			Subsystem: "transport",
			Name:      "state",
			Help:      "Transport connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=faulted)",
		},
		[]string{"transport"},
	)

	// TransportDropped tracks messages dropped by full bounded queues
	TransportDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "transport",
			Name:      "dropped_total",
			Help:      "Total messages dropped by full bounded queues",
		},
		[]string{"transport", "queue"},
	)

	// Polling loop metrics

	// PollingCycles tracks polling loop cycles by outcome
	PollingCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kite",
			Subsystem: "polling",
			Name:      "cycles_total",
			Help:      "Total polling loop cycles",
		},
		[]string{"loop", "result"}, // result: busy, idle, error
	)
)

// CircuitBreakerState constants
const (
	BreakerClosed   = 0
	BreakerOpen     = 1
	BreakerHalfOpen = 2
)
