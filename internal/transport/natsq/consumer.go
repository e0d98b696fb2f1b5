package natsq

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/kitemq/kite/internal/common/metrics"
	"github.com/kitemq/kite/messaging"
)

// consumer drives one JetStream consumer through the handler with the
// configured retry policy.
type consumer struct {
	transport string
	addr      string
	js        jetstream.Consumer
	handler   func(ctx context.Context, env *messaging.Envelope) error
	opts      messaging.ConsumerOptions

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	received     atomic.Uint64
	processed    atomic.Uint64
	acknowledged atomic.Uint64
	failed       atomic.Uint64
}

func newConsumer(transport, addr string, js jetstream.Consumer, handler func(ctx context.Context, env *messaging.Envelope) error, opts messaging.ConsumerOptions) *consumer {
	return &consumer{
		transport: transport,
		addr:      addr,
		js:        js,
		handler:   handler,
		opts:      opts,
	}
}

// Address returns the queue or topic this consumer is bound to
func (c *consumer) Address() string { return c.addr }

// Start begins delivery; already-started consumers are left alone
func (c *consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	go c.loop(loopCtx)
	return nil
}

// Stop halts delivery; the in-flight handler completes first
func (c *consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the delivery counters
func (c *consumer) Stats() messaging.ConsumerStats {
	return messaging.ConsumerStats{
		Received:     c.received.Load(),
		Processed:    c.processed.Load(),
		Acknowledged: c.acknowledged.Load(),
		Failed:       c.failed.Load(),
	}
}

func (c *consumer) loop(ctx context.Context) {
	defer close(c.done)

	iter, err := c.js.Messages()
	if err != nil {
		slog.Error("Consumer message iterator failed",
			"transport", c.transport, "address", c.addr, "error", err)
		return
	}
	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Consumer next failed",
				"transport", c.transport, "address", c.addr, "error", err)
			return
		}
		c.deliver(ctx, msg)
	}
}

func (c *consumer) deliver(ctx context.Context, msg jetstream.Msg) {
	c.received.Add(1)

	var env messaging.Envelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		slog.Error("Envelope unmarshal failed",
			"transport", c.transport, "address", c.addr, "error", err)
		c.failed.Add(1)
		// malformed payloads are terminal: never redeliver them
		_ = msg.Term()
		return
	}

	if c.opts.AutoAcknowledge {
		if err := msg.Ack(); err == nil {
			c.acknowledged.Add(1)
		}
	}

	delay := c.opts.InitialDelay
	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, &env)
		if err == nil {
			c.processed.Add(1)
			if !c.opts.AutoAcknowledge {
				if err := msg.Ack(); err == nil {
					c.acknowledged.Add(1)
				}
			}
			return
		}
		if ctx.Err() != nil || attempt >= c.opts.MaxAttempts {
			c.failed.Add(1)
			metrics.TransportMessagesTotal.WithLabelValues(c.transport, "deliver", "failed").Inc()
			if !c.opts.AutoAcknowledge {
				// hand the message back to JetStream for redelivery
				if nakErr := msg.Nak(); nakErr != nil {
					slog.Warn("Nak failed",
						"transport", c.transport, "address", c.addr, "error", nakErr)
				}
			}
			return
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				c.failed.Add(1)
				return
			}
		}
		if c.opts.UseExponentialBackoff {
			delay *= 2
		}
	}
}
