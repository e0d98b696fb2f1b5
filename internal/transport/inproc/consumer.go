package inproc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kitemq/kite/internal/common/metrics"
	"github.com/kitemq/kite/messaging"
)

// consumer drains one delivery channel. Consumers of the same queue share a
// channel and compete; broadcast consumers own theirs.
type consumer struct {
	transport string
	addr      string
	ch        chan *messaging.Envelope
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

func newConsumer(transport, addr string, ch chan *messaging.Envelope, handler func(ctx context.Context, env *messaging.Envelope) error, opts messaging.ConsumerOptions) *consumer {
	return &consumer{
		transport: transport,
		addr:      addr,
		ch:        ch,
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
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.ch:
			c.deliver(ctx, env)
		}
	}
}

// deliver runs the handler with the configured retry policy
func (c *consumer) deliver(ctx context.Context, env *messaging.Envelope) {
	c.received.Add(1)
	if c.opts.AutoAcknowledge {
		c.acknowledged.Add(1)
	}

	delay := c.opts.InitialDelay
	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, env)
		if err == nil {
			c.processed.Add(1)
			if !c.opts.AutoAcknowledge {
				c.acknowledged.Add(1)
			}
			return
		}
		if ctx.Err() != nil || attempt >= c.opts.MaxAttempts {
			c.failed.Add(1)
			metrics.TransportMessagesTotal.WithLabelValues(c.transport, "deliver", "failed").Inc()
			c.unacknowledge(env)
			return
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				c.failed.Add(1)
				c.unacknowledge(env)
				return
			}
		}
		if c.opts.UseExponentialBackoff {
			delay *= 2
		}
	}
}

// unacknowledge returns an unacked envelope to the delivery channel so it
// stays available to the queue's consumers. Auto-acknowledged messages were
// settled on receipt and are not returned.
func (c *consumer) unacknowledge(env *messaging.Envelope) {
	if c.opts.AutoAcknowledge {
		return
	}
	select {
	case c.ch <- env:
	default:
		metrics.TransportDropped.WithLabelValues(c.transport, c.addr).Inc()
	}
}
