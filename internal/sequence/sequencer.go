package sequence

import (
	"context"
	"sync/atomic"
	"time"
)

// Sequencer claims slot ranges for producers and tracks which slots have
// been published. Claimed sequences form a contiguous range [hi-n+1, hi].
type Sequencer interface {
	// Next claims n slots and returns the highest claimed sequence. Blocks
	// while the buffer is full until gating consumers free capacity or the
	// context is cancelled.
	Next(ctx context.Context, n int) (int64, error)

	// TryNext claims n slots without blocking; ok is false when full
	TryNext(n int) (int64, bool)

	// Publish marks the claimed range [lo, hi] visible to consumers
	Publish(lo, hi int64)

	// HighestPublished returns the highest sequence in [lo, hi] up to which
	// every slot has been published
	HighestPublished(lo, hi int64) int64

	Cursor() *Sequence
	BufferSize() int

	AddGating(s *Sequence)
	RemoveGating(s *Sequence)
}

// producerPark is the backoff applied while a producer waits on a full
// buffer.
const producerPark = 50 * time.Microsecond

// SingleProducerSequencer claims slots without atomics on the claim path.
// Safe only when exactly one goroutine publishes.
type SingleProducerSequencer struct {
	bufferSize int64
	wait       WaitStrategy
	cursor     *Sequence
	gating     group

	// single-writer state, no synchronization needed
	nextValue  int64
	cachedGate int64
}

// NewSingleProducerSequencer creates a single-producer sequencer
func NewSingleProducerSequencer(bufferSize int, wait WaitStrategy) *SingleProducerSequencer {
	return &SingleProducerSequencer{
		bufferSize: int64(bufferSize),
		wait:       wait,
		cursor:     NewSequence(InitialValue),
		nextValue:  InitialValue,
		cachedGate: InitialValue,
	}
}

// Next claims n slots, blocking while consumers lag a full buffer behind
func (s *SingleProducerSequencer) Next(ctx context.Context, n int) (int64, error) {
	next := s.nextValue + int64(n)
	wrapPoint := next - s.bufferSize
	if wrapPoint > s.cachedGate {
		for {
			gate := s.gating.Minimum(s.cursor.Get())
			if wrapPoint <= gate {
				s.cachedGate = gate
				break
			}
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(producerPark):
			}
		}
	}
	s.nextValue = next
	return next, nil
}

// TryNext claims n slots or reports the buffer full
func (s *SingleProducerSequencer) TryNext(n int) (int64, bool) {
	next := s.nextValue + int64(n)
	wrapPoint := next - s.bufferSize
	if wrapPoint > s.cachedGate {
		gate := s.gating.Minimum(s.cursor.Get())
		if wrapPoint > gate {
			return 0, false
		}
		s.cachedGate = gate
	}
	s.nextValue = next
	return next, true
}

// Publish advances the cursor to hi and wakes waiters
func (s *SingleProducerSequencer) Publish(_, hi int64) {
	s.cursor.Set(hi)
	s.wait.SignalAll()
}

// HighestPublished returns hi: a single producer publishes in claim order
func (s *SingleProducerSequencer) HighestPublished(_, hi int64) int64 {
	return hi
}

// Cursor returns the publish cursor
func (s *SingleProducerSequencer) Cursor() *Sequence { return s.cursor }

// BufferSize returns the capacity the sequencer coordinates
func (s *SingleProducerSequencer) BufferSize() int { return int(s.bufferSize) }

// AddGating registers a consumer sequence that gates producer progress
func (s *SingleProducerSequencer) AddGating(seq *Sequence) { s.gating.Add(seq) }

// RemoveGating unregisters a gating sequence
func (s *SingleProducerSequencer) RemoveGating(seq *Sequence) { s.gating.Remove(seq) }

// MultiProducerSequencer claims slots with a CAS on the shared cursor.
// Publication is tracked per slot with a generation flag: the flag stores
// sequence>>indexShift, so a slot is only readable once its current
// generation has been published, never a stale one.
type MultiProducerSequencer struct {
	bufferSize int64
	wait       WaitStrategy
	cursor     *Sequence
	gating     group
	gateCache  *Sequence

	available  []atomic.Int32
	indexMask  int64
	indexShift uint
}

// NewMultiProducerSequencer creates a multi-producer sequencer
func NewMultiProducerSequencer(bufferSize int, wait WaitStrategy) *MultiProducerSequencer {
	s := &MultiProducerSequencer{
		bufferSize: int64(bufferSize),
		wait:       wait,
		cursor:     NewSequence(InitialValue),
		gateCache:  NewSequence(InitialValue),
		available:  make([]atomic.Int32, bufferSize),
		indexMask:  int64(bufferSize) - 1,
		indexShift: log2(bufferSize),
	}
	for i := range s.available {
		s.available[i].Store(-1)
	}
	return s
}

// Next claims n slots with a CAS loop, blocking while the buffer is full
func (s *MultiProducerSequencer) Next(ctx context.Context, n int) (int64, error) {
	for {
		current := s.cursor.Get()
		next := current + int64(n)
		wrapPoint := next - s.bufferSize
		gate := s.gateCache.Get()
		if wrapPoint > gate || gate > current {
			gate = s.gating.Minimum(current)
			if wrapPoint > gate {
				select {
				case <-ctx.Done():
					return 0, ctx.Err()
				case <-time.After(producerPark):
				}
				continue
			}
			s.gateCache.Set(gate)
			continue
		}
		if s.cursor.CompareAndSwap(current, next) {
			return next, nil
		}
	}
}

// TryNext claims n slots or reports the buffer full
func (s *MultiProducerSequencer) TryNext(n int) (int64, bool) {
	for {
		current := s.cursor.Get()
		next := current + int64(n)
		wrapPoint := next - s.bufferSize
		if wrapPoint > s.gating.Minimum(current) {
			return 0, false
		}
		if s.cursor.CompareAndSwap(current, next) {
			return next, true
		}
	}
}

// Publish flags each slot in [lo, hi] with its generation and wakes waiters
func (s *MultiProducerSequencer) Publish(lo, hi int64) {
	for seq := lo; seq <= hi; seq++ {
		s.available[seq&s.indexMask].Store(int32(seq >> s.indexShift))
	}
	s.wait.SignalAll()
}

// HighestPublished scans [lo, hi] and returns the last contiguously
// published sequence. Slots claimed but not yet flagged stop the scan.
func (s *MultiProducerSequencer) HighestPublished(lo, hi int64) int64 {
	for seq := lo; seq <= hi; seq++ {
		if s.available[seq&s.indexMask].Load() != int32(seq>>s.indexShift) {
			return seq - 1
		}
	}
	return hi
}

// Cursor returns the claim cursor. For multi-producer buffers this tracks
// the highest claimed sequence; readers must narrow it via HighestPublished.
func (s *MultiProducerSequencer) Cursor() *Sequence { return s.cursor }

// BufferSize returns the capacity the sequencer coordinates
func (s *MultiProducerSequencer) BufferSize() int { return int(s.bufferSize) }

// AddGating registers a consumer sequence that gates producer progress
func (s *MultiProducerSequencer) AddGating(seq *Sequence) { s.gating.Add(seq) }

// RemoveGating unregisters a gating sequence
func (s *MultiProducerSequencer) RemoveGating(seq *Sequence) { s.gating.Remove(seq) }

func log2(v int) uint {
	var r uint
	for v > 1 {
		v >>= 1
		r++
	}
	return r
}
