package sequence

import (
	"context"
	"fmt"
)

// Config configures a ring buffer.
type Config struct {
	// Size is the slot count; must be a power of two
	Size int

	// MultiProducer selects CAS-based claiming for concurrent publishers
	MultiProducer bool

	// Wait is the consumer wait strategy; nil selects blocking
	Wait WaitStrategy
}

// RingBuffer is a fixed-size pre-allocated buffer coordinated by sequence
// numbers instead of locks. Producers claim slots through the sequencer,
// write, then publish; readers gate producers so unread slots are never
// overwritten.
type RingBuffer[T any] struct {
	entries []T
	mask    int64
	seq     Sequencer
	wait    WaitStrategy
}

// NewRingBuffer creates a ring buffer from cfg
func NewRingBuffer[T any](cfg Config) (*RingBuffer[T], error) {
	if cfg.Size <= 0 || cfg.Size&(cfg.Size-1) != 0 {
		return nil, fmt.Errorf("ring buffer size must be a power of two, got %d", cfg.Size)
	}
	wait := cfg.Wait
	if wait == nil {
		wait = NewBlockingWaitStrategy()
	}
	var seq Sequencer
	if cfg.MultiProducer {
		seq = NewMultiProducerSequencer(cfg.Size, wait)
	} else {
		seq = NewSingleProducerSequencer(cfg.Size, wait)
	}
	return &RingBuffer[T]{
		entries: make([]T, cfg.Size),
		mask:    int64(cfg.Size) - 1,
		seq:     seq,
		wait:    wait,
	}, nil
}

// Size returns the buffer capacity
func (b *RingBuffer[T]) Size() int { return b.seq.BufferSize() }

// Publish writes v into the next slot, blocking while the buffer is full
func (b *RingBuffer[T]) Publish(ctx context.Context, v T) error {
	hi, err := b.seq.Next(ctx, 1)
	if err != nil {
		return err
	}
	b.entries[hi&b.mask] = v
	b.seq.Publish(hi, hi)
	return nil
}

// TryPublish writes v if a slot is free without blocking
func (b *RingBuffer[T]) TryPublish(v T) bool {
	hi, ok := b.seq.TryNext(1)
	if !ok {
		return false
	}
	b.entries[hi&b.mask] = v
	b.seq.Publish(hi, hi)
	return true
}

// PublishBatch writes vs into a contiguous claimed range
func (b *RingBuffer[T]) PublishBatch(ctx context.Context, vs []T) error {
	if len(vs) == 0 {
		return nil
	}
	hi, err := b.seq.Next(ctx, len(vs))
	if err != nil {
		return err
	}
	lo := hi - int64(len(vs)) + 1
	for i, v := range vs {
		b.entries[(lo+int64(i))&b.mask] = v
	}
	b.seq.Publish(lo, hi)
	return nil
}

// NewReader registers an independent consumer. Each reader sees every
// published entry; its position gates producers until Close.
func (b *RingBuffer[T]) NewReader() *Reader[T] {
	r := &Reader[T]{buf: b, pos: NewSequence(InitialValue)}
	b.seq.AddGating(r.pos)
	return r
}

// Reader consumes entries from a ring buffer at its own pace.
type Reader[T any] struct {
	buf *RingBuffer[T]
	pos *Sequence
}

// Poll waits for at least one entry, delivers up to max entries to fn, and
// returns how many were delivered
func (r *Reader[T]) Poll(ctx context.Context, max int, fn func(T)) (int, error) {
	next := r.pos.Get() + 1
	for {
		claimed, err := r.buf.wait.WaitFor(ctx, next, r.buf.seq.Cursor())
		if err != nil {
			return 0, err
		}
		hi := r.buf.seq.HighestPublished(next, claimed)
		if hi < next {
			// claimed but not yet published; wait for the writer
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			continue
		}
		if limit := next + int64(max) - 1; hi > limit {
			hi = limit
		}
		for seq := next; seq <= hi; seq++ {
			fn(r.buf.entries[seq&r.buf.mask])
		}
		r.pos.Set(hi)
		return int(hi - next + 1), nil
	}
}

// TryPoll delivers up to max already-published entries without blocking
func (r *Reader[T]) TryPoll(max int, fn func(T)) int {
	next := r.pos.Get() + 1
	claimed := r.buf.seq.Cursor().Get()
	if claimed < next {
		return 0
	}
	hi := r.buf.seq.HighestPublished(next, claimed)
	if hi < next {
		return 0
	}
	if limit := next + int64(max) - 1; hi > limit {
		hi = limit
	}
	for seq := next; seq <= hi; seq++ {
		fn(r.buf.entries[seq&r.buf.mask])
	}
	r.pos.Set(hi)
	return int(hi - next + 1)
}

// Position returns the last consumed sequence
func (r *Reader[T]) Position() int64 { return r.pos.Get() }

// Close unregisters the reader so it no longer gates producers
func (r *Reader[T]) Close() {
	r.buf.seq.RemoveGating(r.pos)
	// unstick producers parked on this reader's old position
	r.buf.wait.SignalAll()
}
