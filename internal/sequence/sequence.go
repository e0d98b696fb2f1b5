// Package sequence implements the lock-free coordination primitives behind
// the ring buffer: cache-padded sequences, single- and multi-producer
// sequencers with gating, and pluggable wait strategies.
package sequence

import (
	"sync"
	"sync/atomic"
)

// InitialValue is the value of a fresh sequence (nothing claimed yet).
const InitialValue int64 = -1

// Sequence is a cache-line-padded monotonically increasing counter.
// The padding keeps hot producer and consumer cursors on separate lines.
type Sequence struct {
	_   [56]byte
	val atomic.Int64
	_   [56]byte
}

// NewSequence creates a sequence starting at initial
func NewSequence(initial int64) *Sequence {
	s := &Sequence{}
	s.val.Store(initial)
	return s
}

// Get returns the current value
func (s *Sequence) Get() int64 {
	return s.val.Load()
}

// Set stores a new value
func (s *Sequence) Set(v int64) {
	s.val.Store(v)
}

// CompareAndSwap atomically replaces old with new
func (s *Sequence) CompareAndSwap(old, new int64) bool {
	return s.val.CompareAndSwap(old, new)
}

// Add atomically adds n and returns the new value
func (s *Sequence) Add(n int64) int64 {
	return s.val.Add(n)
}

// group holds the registered gating sequences. Mutation swaps an immutable
// slice under a short lock; readers load it without locking.
type group struct {
	mu   sync.Mutex
	refs atomic.Value // []*Sequence
}

// Add registers a gating sequence
func (g *group) Add(s *Sequence) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cur, _ := g.refs.Load().([]*Sequence)
	next := make([]*Sequence, len(cur)+1)
	copy(next, cur)
	next[len(cur)] = s
	g.refs.Store(next)
}

// Remove unregisters a gating sequence
func (g *group) Remove(s *Sequence) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cur, _ := g.refs.Load().([]*Sequence)
	next := make([]*Sequence, 0, len(cur))
	for _, ref := range cur {
		if ref != s {
			next = append(next, ref)
		}
	}
	g.refs.Store(next)
}

// Minimum returns the smallest registered sequence value, or def when no
// sequences are registered
func (g *group) Minimum(def int64) int64 {
	cur, _ := g.refs.Load().([]*Sequence)
	if len(cur) == 0 {
		return def
	}
	min := cur[0].Get()
	for _, ref := range cur[1:] {
		if v := ref.Get(); v < min {
			min = v
		}
	}
	return min
}
