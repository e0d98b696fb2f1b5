package messaging

import (
	"context"
	"time"
)

// TransportState is the connection state of a transport.
type TransportState int

const (
	TransportDisconnected TransportState = iota
	TransportConnecting
	TransportConnected
	TransportReconnecting
	TransportFaulted
	TransportDisconnecting
)

// String returns a human-readable state name
func (s TransportState) String() string {
	switch s {
	case TransportDisconnected:
		return "DISCONNECTED"
	case TransportConnecting:
		return "CONNECTING"
	case TransportConnected:
		return "CONNECTED"
	case TransportReconnecting:
		return "RECONNECTING"
	case TransportFaulted:
		return "FAULTED"
	case TransportDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// StateChange is raised when the transport transitions between states.
type StateChange struct {
	Previous TransportState
	Current  TransportState
	At       time.Time
}

// StateListener receives transport state transitions.
type StateListener func(StateChange)

// ConsumerOptions configures a subscription created via Transport.Subscribe.
type ConsumerOptions struct {
	// StartImmediately starts delivery as soon as the consumer is created
	StartImmediately bool

	// AutoAcknowledge acknowledges messages before the handler runs.
	// When false, a message whose handler exhausts its attempts stays
	// available for other consumers or dead-lettering.
	AutoAcknowledge bool

	// MaxAttempts is the per-message handler attempt limit (minimum 1)
	MaxAttempts int

	// InitialDelay is the delay before the first handler retry
	InitialDelay time.Duration

	// UseExponentialBackoff doubles the delay after each failed attempt
	UseExponentialBackoff bool

	// Broadcast subscribes this consumer to fan-out delivery instead of
	// competing with other consumers of the same address
	Broadcast bool
}

// DefaultConsumerOptions returns the options applied when zero values are given
func DefaultConsumerOptions() ConsumerOptions {
	return ConsumerOptions{
		StartImmediately:      true,
		AutoAcknowledge:       true,
		MaxAttempts:           3,
		InitialDelay:          100 * time.Millisecond,
		UseExponentialBackoff: true,
	}
}

// ConsumerStats reports per-consumer delivery counters.
type ConsumerStats struct {
	Received     uint64
	Processed    uint64
	Acknowledged uint64
	Failed       uint64
}

// SuccessRate returns processed/received in [0,1]; 1 when nothing received
func (s ConsumerStats) SuccessRate() float64 {
	if s.Received == 0 {
		return 1
	}
	return float64(s.Processed) / float64(s.Received)
}

// Consumer is a handle to an active subscription.
type Consumer interface {
	// Address returns the queue or topic the consumer is bound to
	Address() string

	// Start begins delivery (no-op when already started)
	Start(ctx context.Context) error

	// Stop halts delivery; in-flight handlers complete first
	Stop(ctx context.Context) error

	// Stats returns a snapshot of the delivery counters
	Stats() ConsumerStats
}

// QueueSpec declares a transport queue and its bounding policy.
type QueueSpec struct {
	Name string

	// MaxLength bounds the queue; 0 means the transport default
	MaxLength int

	// DropWhenFull drops new writes instead of blocking when full
	DropWhenFull bool
}

// TopicBinding routes a published topic to a queue.
type TopicBinding struct {
	Topic string
	Queue string
}

// Topology declares the queues and topic bindings a transport should ensure.
type Topology struct {
	Queues   []QueueSpec
	Bindings []TopicBinding
}

// TransportHealth reports the observable state of a transport.
type TransportHealth struct {
	State           TransportState
	ActiveConns     int
	ActiveConsumers int
	PendingMessages int
	Uptime          time.Duration
	LastError       string
}

// Transport is an opaque message endpoint. Send is point-to-point delivery
// to exactly one consumer of the addressed queue; Publish fans out to every
// live subscriber of the topic.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	Send(ctx context.Context, addr string, env *Envelope) error
	Publish(ctx context.Context, topic string, env *Envelope) error

	Subscribe(ctx context.Context, addr string, handler func(ctx context.Context, env *Envelope) error, opts ConsumerOptions) (Consumer, error)

	ConfigureTopology(ctx context.Context, topology Topology) error

	State() TransportState
	OnStateChanged(listener StateListener)
	Health() TransportHealth
}
