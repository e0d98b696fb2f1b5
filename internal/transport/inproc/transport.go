// Package inproc implements the Transport contract inside a single process.
// Published messages stage through a ring buffer and fan out to bounded
// per-queue channels; point-to-point sends go straight to the queue. It is
// the default transport when no broker is configured.
package inproc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kitemq/kite/internal/common/metrics"
	"github.com/kitemq/kite/internal/sequence"
	"github.com/kitemq/kite/messaging"
)

// Config configures the in-process transport.
type Config struct {
	// Name labels the transport in logs and metrics (default "inproc")
	Name string

	// BufferSize is the publish staging ring size, a power of two (default 1024)
	BufferSize int

	// DefaultQueueLength bounds queues created without a spec (default 1024)
	DefaultQueueLength int
}

func (c *Config) defaults() {
	if c.Name == "" {
		c.Name = "inproc"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.DefaultQueueLength <= 0 {
		c.DefaultQueueLength = 1024
	}
}

type staged struct {
	topic string
	env   *messaging.Envelope
}

// boundedQueue is one named delivery channel. Competing consumers share it.
type boundedQueue struct {
	name         string
	ch           chan *messaging.Envelope
	dropWhenFull bool
}

// Transport moves messages between in-process producers and consumers.
type Transport struct {
	cfg Config

	mu        sync.Mutex
	state     messaging.TransportState
	listeners []messaging.StateListener
	queues    map[string]*boundedQueue
	bindings  map[string][]string // topic -> queue names
	topics    map[string][]*consumer
	consumers []*consumer
	lastError string
	startedAt time.Time

	ring   *sequence.RingBuffer[staged]
	reader *sequence.Reader[staged]
	cancel context.CancelFunc
	done   chan struct{}

	notify     chan messaging.StateChange
	stopNotify chan struct{}
}

// New creates a disconnected in-process transport
func New(cfg Config) *Transport {
	cfg.defaults()
	t := &Transport{
		cfg:        cfg,
		state:      messaging.TransportDisconnected,
		queues:     make(map[string]*boundedQueue),
		bindings:   make(map[string][]string),
		topics:     make(map[string][]*consumer),
		notify:     make(chan messaging.StateChange, 16),
		stopNotify: make(chan struct{}),
	}
	go t.notifyListeners(t.notify, t.stopNotify)
	return t
}

// notifyListeners delivers state changes to listeners in transition order.
// On stop it drains what is already staged, then exits.
func (t *Transport) notifyListeners(notify chan messaging.StateChange, stop chan struct{}) {
	deliver := func(change messaging.StateChange) {
		t.mu.Lock()
		listeners := make([]messaging.StateListener, len(t.listeners))
		copy(listeners, t.listeners)
		t.mu.Unlock()
		for _, l := range listeners {
			l(change)
		}
	}
	for {
		select {
		case change := <-notify:
			deliver(change)
		case <-stop:
			for {
				select {
				case change := <-notify:
					deliver(change)
				default:
					return
				}
			}
		}
	}
}

// Connect brings the transport up and starts the publish fan-out
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state == messaging.TransportConnected {
		t.mu.Unlock()
		return nil
	}
	if t.notify == nil {
		// a previous Disconnect retired the notifier
		t.notify = make(chan messaging.StateChange, 16)
		t.stopNotify = make(chan struct{})
		go t.notifyListeners(t.notify, t.stopNotify)
	}
	t.setStateLocked(messaging.TransportConnecting)

	ring, err := sequence.NewRingBuffer[staged](sequence.Config{
		Size:          t.cfg.BufferSize,
		MultiProducer: true,
	})
	if err != nil {
		t.lastError = err.Error()
		t.setStateLocked(messaging.TransportFaulted)
		t.mu.Unlock()
		return err
	}
	t.ring = ring
	t.reader = ring.NewReader()

	fanoutCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.fanout(fanoutCtx)

	t.startedAt = time.Now()
	t.setStateLocked(messaging.TransportConnected)
	t.mu.Unlock()

	slog.Info("Transport connected", "transport", t.cfg.Name)
	return nil
}

// Disconnect stops consumers and the fan-out, then drops to Disconnected
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	if t.state == messaging.TransportDisconnected {
		t.mu.Unlock()
		return nil
	}
	t.setStateLocked(messaging.TransportDisconnecting)
	consumers := make([]*consumer, len(t.consumers))
	copy(consumers, t.consumers)
	cancel, done, reader := t.cancel, t.done, t.reader
	t.mu.Unlock()

	for _, c := range consumers {
		if err := c.Stop(ctx); err != nil {
			slog.Warn("Consumer stop failed", "transport", t.cfg.Name, "address", c.Address(), "error", err)
		}
	}
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if reader != nil {
		reader.Close()
	}

	t.mu.Lock()
	t.setStateLocked(messaging.TransportDisconnected)
	stop := t.stopNotify
	t.notify, t.stopNotify = nil, nil
	t.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	slog.Info("Transport disconnected", "transport", t.cfg.Name)
	return nil
}

// Send delivers env to exactly one consumer of the addressed queue
func (t *Transport) Send(ctx context.Context, addr string, env *messaging.Envelope) error {
	if err := t.requireConnected(); err != nil {
		return err
	}
	q := t.ensureQueue(addr)
	if t.offer(ctx, q, env) {
		metrics.TransportMessagesTotal.WithLabelValues(t.cfg.Name, "send", "ok").Inc()
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	metrics.TransportMessagesTotal.WithLabelValues(t.cfg.Name, "send", "dropped").Inc()
	return messaging.TransportError(fmt.Sprintf("queue %q is full", addr), nil)
}

// Publish stages env on the ring buffer; the fan-out goroutine routes it to
// every bound queue and broadcast subscriber of the topic
func (t *Transport) Publish(ctx context.Context, topic string, env *messaging.Envelope) error {
	if err := t.requireConnected(); err != nil {
		return err
	}
	if err := t.ring.Publish(ctx, staged{topic: topic, env: env}); err != nil {
		return err
	}
	metrics.TransportMessagesTotal.WithLabelValues(t.cfg.Name, "publish", "ok").Inc()
	return nil
}

// Subscribe attaches a handler to a queue or, with Broadcast, to a topic
func (t *Transport) Subscribe(ctx context.Context, addr string, handler func(ctx context.Context, env *messaging.Envelope) error, opts messaging.ConsumerOptions) (messaging.Consumer, error) {
	if handler == nil {
		return nil, fmt.Errorf("subscribe %q: handler is nil", addr)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}

	var ch chan *messaging.Envelope
	if opts.Broadcast {
		ch = make(chan *messaging.Envelope, t.cfg.DefaultQueueLength)
	} else {
		ch = t.ensureQueue(addr).ch
	}
	c := newConsumer(t.cfg.Name, addr, ch, handler, opts)

	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	if opts.Broadcast {
		t.topics[addr] = append(t.topics[addr], c)
	}
	t.mu.Unlock()

	if opts.StartImmediately {
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ConfigureTopology ensures the declared queues and topic bindings exist
func (t *Transport) ConfigureTopology(ctx context.Context, topology messaging.Topology) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, spec := range topology.Queues {
		if spec.Name == "" {
			return fmt.Errorf("topology queue with empty name")
		}
		if _, exists := t.queues[spec.Name]; exists {
			continue
		}
		length := spec.MaxLength
		if length <= 0 {
			length = t.cfg.DefaultQueueLength
		}
		t.queues[spec.Name] = &boundedQueue{
			name:         spec.Name,
			ch:           make(chan *messaging.Envelope, length),
			dropWhenFull: spec.DropWhenFull,
		}
	}
	for _, b := range topology.Bindings {
		if _, exists := t.queues[b.Queue]; !exists {
			return fmt.Errorf("binding %q -> %q references an undeclared queue", b.Topic, b.Queue)
		}
		t.bindings[b.Topic] = append(t.bindings[b.Topic], b.Queue)
	}
	return nil
}

// State returns the current connection state
func (t *Transport) State() messaging.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// OnStateChanged registers a listener for state transitions
func (t *Transport) OnStateChanged(listener messaging.StateListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, listener)
}

// Health reports the transport's observable state
func (t *Transport) Health() messaging.TransportHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	pending := 0
	for _, q := range t.queues {
		pending += len(q.ch)
	}
	h := messaging.TransportHealth{
		State:           t.state,
		ActiveConsumers: len(t.consumers),
		PendingMessages: pending,
		LastError:       t.lastError,
	}
	if t.state == messaging.TransportConnected {
		h.ActiveConns = 1
		h.Uptime = time.Since(t.startedAt)
	}
	return h
}

// fanout drains the staging ring and routes each entry to its destinations
func (t *Transport) fanout(ctx context.Context) {
	defer close(t.done)
	for {
		_, err := t.reader.Poll(ctx, 64, func(s staged) {
			t.route(ctx, s)
		})
		if err != nil {
			return
		}
	}
}

func (t *Transport) route(ctx context.Context, s staged) {
	t.mu.Lock()
	queues := make([]*boundedQueue, 0, len(t.bindings[s.topic]))
	for _, name := range t.bindings[s.topic] {
		if q, ok := t.queues[name]; ok {
			queues = append(queues, q)
		}
	}
	subscribers := make([]*consumer, len(t.topics[s.topic]))
	copy(subscribers, t.topics[s.topic])
	t.mu.Unlock()

	for _, q := range queues {
		if t.offer(ctx, q, s.env) {
			metrics.TransportMessagesTotal.WithLabelValues(t.cfg.Name, "deliver", "ok").Inc()
		}
	}
	for _, c := range subscribers {
		// broadcast subscribers never block the fan-out
		select {
		case c.ch <- s.env:
			metrics.TransportMessagesTotal.WithLabelValues(t.cfg.Name, "deliver", "ok").Inc()
		default:
			metrics.TransportDropped.WithLabelValues(t.cfg.Name, c.Address()).Inc()
		}
	}
}

// offer writes env to the queue, dropping instead of blocking when the queue
// declares DropWhenFull
func (t *Transport) offer(ctx context.Context, q *boundedQueue, env *messaging.Envelope) bool {
	if q.dropWhenFull {
		select {
		case q.ch <- env:
			return true
		default:
			metrics.TransportDropped.WithLabelValues(t.cfg.Name, q.name).Inc()
			return false
		}
	}
	select {
	case q.ch <- env:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *Transport) ensureQueue(name string) *boundedQueue {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[name]
	if !ok {
		q = &boundedQueue{
			name: name,
			ch:   make(chan *messaging.Envelope, t.cfg.DefaultQueueLength),
		}
		t.queues[name] = q
	}
	return q
}

func (t *Transport) requireConnected() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != messaging.TransportConnected {
		return messaging.TransportError(
			fmt.Sprintf("transport is %s", t.state), nil)
	}
	return nil
}

// setStateLocked transitions the state and notifies listeners. Caller holds mu.
func (t *Transport) setStateLocked(next messaging.TransportState) {
	prev := t.state
	if prev == next {
		return
	}
	t.state = next
	metrics.TransportState.WithLabelValues(t.cfg.Name).Set(float64(next))
	if t.notify == nil {
		return
	}
	change := messaging.StateChange{Previous: prev, Current: next, At: time.Now()}
	select {
	case t.notify <- change:
	default:
		// a slow listener is not allowed to stall state transitions
		slog.Warn("Transport state notification dropped",
			"transport", t.cfg.Name, "state", next.String())
	}
}
