// Package natsq implements the Transport contract on NATS JetStream.
// Queues and topics map to subjects under a common prefix; competing
// consumers share a durable JetStream consumer, broadcast subscribers get
// ephemeral ones.
package natsq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/kitemq/kite/internal/common/metrics"
	"github.com/kitemq/kite/messaging"
)

// Config configures the NATS transport.
type Config struct {
	// URL is the NATS server address (default nats://localhost:4222)
	URL string

	// Name labels the transport in logs and metrics (default "nats")
	Name string

	// StreamName is the JetStream stream backing all queues (default "KITE")
	StreamName string

	// SubjectPrefix roots every queue and topic subject (default "kite")
	SubjectPrefix string

	// AckWait is the redelivery deadline for unacknowledged messages (default 2m)
	AckWait time.Duration

	// MaxDeliver caps JetStream delivery attempts per message (default 5)
	MaxDeliver int

	// MaxAge expires stream messages (default 24h)
	MaxAge time.Duration
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = "nats://localhost:4222"
	}
	if c.Name == "" {
		c.Name = "nats"
	}
	if c.StreamName == "" {
		c.StreamName = "KITE"
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "kite"
	}
	if c.AckWait <= 0 {
		c.AckWait = 2 * time.Minute
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = 5
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
}

// Transport moves messages through a JetStream stream.
type Transport struct {
	cfg Config

	mu        sync.Mutex
	state     messaging.TransportState
	listeners []messaging.StateListener
	bindings  map[string][]string // topic -> queue names
	consumers []*consumer
	lastError string
	startedAt time.Time

	conn *nats.Conn
	js   jetstream.JetStream
}

// New creates a disconnected NATS transport
func New(cfg Config) *Transport {
	cfg.defaults()
	return &Transport{
		cfg:      cfg,
		state:    messaging.TransportDisconnected,
		bindings: make(map[string][]string),
	}
}

// Connect dials the server, creates the JetStream context and ensures the
// backing stream exists
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state == messaging.TransportConnected {
		t.mu.Unlock()
		return nil
	}
	t.setStateLocked(messaging.TransportConnecting)
	t.mu.Unlock()

	conn, err := nats.Connect(t.cfg.URL,
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "transport", t.cfg.Name, "error", err)
				t.setState(messaging.TransportReconnecting)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected", "transport", t.cfg.Name)
			t.setState(messaging.TransportConnected)
		}),
	)
	if err != nil {
		t.fault(err)
		return messaging.TransportError("nats connect failed", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		t.fault(err)
		return messaging.TransportError("jetstream context failed", err)
	}

	if err := t.ensureStream(ctx, js); err != nil {
		conn.Close()
		t.fault(err)
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.js = js
	t.startedAt = time.Now()
	t.setStateLocked(messaging.TransportConnected)
	t.mu.Unlock()

	slog.Info("Transport connected", "transport", t.cfg.Name, "url", t.cfg.URL, "stream", t.cfg.StreamName)
	return nil
}

// Disconnect stops consumers and closes the connection
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	if t.state == messaging.TransportDisconnected {
		t.mu.Unlock()
		return nil
	}
	t.setStateLocked(messaging.TransportDisconnecting)
	consumers := make([]*consumer, len(t.consumers))
	copy(consumers, t.consumers)
	conn := t.conn
	t.mu.Unlock()

	for _, c := range consumers {
		if err := c.Stop(ctx); err != nil {
			slog.Warn("Consumer stop failed", "transport", t.cfg.Name, "address", c.Address(), "error", err)
		}
	}
	if conn != nil {
		conn.Close()
	}

	t.mu.Lock()
	t.conn = nil
	t.js = nil
	t.setStateLocked(messaging.TransportDisconnected)
	t.mu.Unlock()
	slog.Info("Transport disconnected", "transport", t.cfg.Name)
	return nil
}

// Send publishes env to the queue's subject; JetStream dedups on message ID
func (t *Transport) Send(ctx context.Context, addr string, env *messaging.Envelope) error {
	js, err := t.stream()
	if err != nil {
		return err
	}
	if err := t.publish(ctx, js, t.queueSubject(addr), env, env.ID); err != nil {
		metrics.TransportMessagesTotal.WithLabelValues(t.cfg.Name, "send", "error").Inc()
		return err
	}
	metrics.TransportMessagesTotal.WithLabelValues(t.cfg.Name, "send", "ok").Inc()
	return nil
}

// Publish fans env out to the topic's subject and every bound queue
func (t *Transport) Publish(ctx context.Context, topic string, env *messaging.Envelope) error {
	js, err := t.stream()
	if err != nil {
		return err
	}

	t.mu.Lock()
	bound := make([]string, len(t.bindings[topic]))
	copy(bound, t.bindings[topic])
	t.mu.Unlock()

	subject := t.topicSubject(topic)
	if err := t.publish(ctx, js, subject, env, env.ID+":"+subject); err != nil {
		metrics.TransportMessagesTotal.WithLabelValues(t.cfg.Name, "publish", "error").Inc()
		return err
	}
	for _, queue := range bound {
		qs := t.queueSubject(queue)
		// distinct dedup IDs per destination so the stream keeps each copy
		if err := t.publish(ctx, js, qs, env, env.ID+":"+qs); err != nil {
			metrics.TransportMessagesTotal.WithLabelValues(t.cfg.Name, "publish", "error").Inc()
			return err
		}
	}
	metrics.TransportMessagesTotal.WithLabelValues(t.cfg.Name, "publish", "ok").Inc()
	return nil
}

func (t *Transport) publish(ctx context.Context, js jetstream.JetStream, subject string, env *messaging.Envelope, dedupID string) error {
	data, err := json.Marshal(env)
	if err != nil {
		return messaging.InternalError("envelope marshal failed", err)
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  make(nats.Header),
	}
	msg.Header.Set("Nats-Msg-Id", dedupID)
	if _, err := js.PublishMsg(ctx, msg); err != nil {
		return messaging.TransportError(fmt.Sprintf("publish to %s failed", subject), err)
	}
	return nil
}

// Subscribe attaches a handler to a queue or, with Broadcast, to a topic.
// Competing consumers of the same queue share a durable JetStream consumer.
func (t *Transport) Subscribe(ctx context.Context, addr string, handler func(ctx context.Context, env *messaging.Envelope) error, opts messaging.ConsumerOptions) (messaging.Consumer, error) {
	js, err := t.stream()
	if err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %q: handler is nil", addr)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}

	consumerCfg := jetstream.ConsumerConfig{
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       t.cfg.AckWait,
		MaxDeliver:    t.cfg.MaxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
		MaxAckPending: 1000,
	}
	if opts.Broadcast {
		// ephemeral: each subscriber sees every message on the topic
		consumerCfg.FilterSubject = t.topicSubject(addr)
	} else {
		name := durableName(addr)
		consumerCfg.Name = name
		consumerCfg.Durable = name
		consumerCfg.FilterSubject = t.queueSubject(addr)
	}

	stream, err := js.Stream(ctx, t.cfg.StreamName)
	if err != nil {
		return nil, messaging.TransportError("stream lookup failed", err)
	}
	jsConsumer, err := stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, messaging.TransportError("consumer create failed", err)
	}

	c := newConsumer(t.cfg.Name, addr, jsConsumer, handler, opts)
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()

	if opts.StartImmediately {
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ConfigureTopology records topic bindings. Queues need no declaration on
// JetStream: the stream's wildcard subject covers them.
func (t *Transport) ConfigureTopology(ctx context.Context, topology messaging.Topology) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range topology.Bindings {
		if b.Topic == "" || b.Queue == "" {
			return fmt.Errorf("binding with empty topic or queue")
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
	state := t.state
	consumers := len(t.consumers)
	lastError := t.lastError
	startedAt := t.startedAt
	js := t.js
	t.mu.Unlock()

	h := messaging.TransportHealth{
		State:           state,
		ActiveConsumers: consumers,
		LastError:       lastError,
	}
	if state == messaging.TransportConnected {
		h.ActiveConns = 1
		h.Uptime = time.Since(startedAt)
	}
	if js != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if stream, err := js.Stream(ctx, t.cfg.StreamName); err == nil {
			if info, err := stream.Info(ctx); err == nil {
				h.PendingMessages = int(info.State.Msgs)
			}
		}
	}
	return h
}

func (t *Transport) ensureStream(ctx context.Context, js jetstream.JetStream) error {
	streamCfg := jetstream.StreamConfig{
		Name:      t.cfg.StreamName,
		Subjects:  []string{t.cfg.SubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    t.cfg.MaxAge,
		Replicas:  1,
		Discard:   jetstream.DiscardOld,
		MaxMsgs:   -1,
		MaxBytes:  -1,
	}
	if _, err := js.Stream(ctx, t.cfg.StreamName); err != nil {
		if _, err := js.CreateStream(ctx, streamCfg); err != nil {
			return messaging.TransportError("stream create failed", err)
		}
		slog.Info("Created JetStream stream", "stream", t.cfg.StreamName)
		return nil
	}
	if _, err := js.UpdateStream(ctx, streamCfg); err != nil {
		return messaging.TransportError("stream update failed", err)
	}
	return nil
}

func (t *Transport) queueSubject(name string) string {
	return t.cfg.SubjectPrefix + ".q." + name
}

func (t *Transport) topicSubject(name string) string {
	return t.cfg.SubjectPrefix + ".t." + name
}

func (t *Transport) stream() (jetstream.JetStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != messaging.TransportConnected || t.js == nil {
		return nil, messaging.TransportError(fmt.Sprintf("transport is %s", t.state), nil)
	}
	return t.js, nil
}

func (t *Transport) fault(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastError = err.Error()
	t.setStateLocked(messaging.TransportFaulted)
}

func (t *Transport) setState(next messaging.TransportState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setStateLocked(next)
}

// setStateLocked transitions the state and notifies listeners. Caller holds mu.
func (t *Transport) setStateLocked(next messaging.TransportState) {
	prev := t.state
	if prev == next {
		return
	}
	t.state = next
	metrics.TransportState.WithLabelValues(t.cfg.Name).Set(float64(next))
	change := messaging.StateChange{Previous: prev, Current: next, At: time.Now()}
	listeners := make([]messaging.StateListener, len(t.listeners))
	copy(listeners, t.listeners)
	go func() {
		for _, l := range listeners {
			l(change)
		}
	}()
}

// durableName makes an address safe for use as a JetStream durable name
func durableName(addr string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", "/", "_", " ", "_")
	return "kite_" + r.Replace(addr)
}
