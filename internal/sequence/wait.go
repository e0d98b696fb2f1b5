package sequence

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// WaitStrategy controls how a consumer waits for the producer cursor to
// advance past a target sequence. WaitFor returns the observed cursor value,
// which may be greater than the target.
type WaitStrategy interface {
	WaitFor(ctx context.Context, target int64, cursor *Sequence) (int64, error)

	// SignalAll wakes blocked waiters after a publish
	SignalAll()
}

// BusySpinWaitStrategy spins on the cursor. Lowest latency, burns a core.
type BusySpinWaitStrategy struct{}

// NewBusySpinWaitStrategy creates a busy-spin strategy
func NewBusySpinWaitStrategy() *BusySpinWaitStrategy { return &BusySpinWaitStrategy{} }

// WaitFor spins until the cursor reaches target
func (*BusySpinWaitStrategy) WaitFor(ctx context.Context, target int64, cursor *Sequence) (int64, error) {
	for spins := 0; ; spins++ {
		if v := cursor.Get(); v >= target {
			return v, nil
		}
		// check cancellation only periodically to keep the hot loop tight
		if spins&1023 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
	}
}

// SignalAll is a no-op for spinning waiters
func (*BusySpinWaitStrategy) SignalAll() {}

// YieldingWaitStrategy spins briefly then yields the processor between
// checks. Good latency without monopolizing a core.
type YieldingWaitStrategy struct {
	// SpinTries is how many pure spins to attempt before yielding
	SpinTries int
}

// NewYieldingWaitStrategy creates a yielding strategy with default spin tries
func NewYieldingWaitStrategy() *YieldingWaitStrategy {
	return &YieldingWaitStrategy{SpinTries: 100}
}

// WaitFor spins then yields until the cursor reaches target
func (w *YieldingWaitStrategy) WaitFor(ctx context.Context, target int64, cursor *Sequence) (int64, error) {
	tries := w.SpinTries
	for spins := 0; ; spins++ {
		if v := cursor.Get(); v >= target {
			return v, nil
		}
		if tries > 0 {
			tries--
			continue
		}
		runtime.Gosched()
		if spins&255 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
	}
}

// SignalAll is a no-op for yielding waiters
func (*YieldingWaitStrategy) SignalAll() {}

// SleepingWaitStrategy sleeps a fixed interval between checks. Cheapest on
// CPU, highest latency.
type SleepingWaitStrategy struct {
	Interval time.Duration
}

// NewSleepingWaitStrategy creates a sleeping strategy with the given interval
func NewSleepingWaitStrategy(interval time.Duration) *SleepingWaitStrategy {
	if interval <= 0 {
		interval = 100 * time.Microsecond
	}
	return &SleepingWaitStrategy{Interval: interval}
}

// WaitFor sleeps between cursor checks until target is reached
func (w *SleepingWaitStrategy) WaitFor(ctx context.Context, target int64, cursor *Sequence) (int64, error) {
	for {
		if v := cursor.Get(); v >= target {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(w.Interval):
		}
	}
}

// SignalAll is a no-op for sleeping waiters
func (*SleepingWaitStrategy) SignalAll() {}

// BlockingWaitStrategy parks waiters until a publish signals them. Zero CPU
// while idle; a broadcast channel is swapped on each signal so waiters never
// miss a wakeup between the cursor check and the park.
type BlockingWaitStrategy struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewBlockingWaitStrategy creates a blocking strategy
func NewBlockingWaitStrategy() *BlockingWaitStrategy {
	return &BlockingWaitStrategy{ch: make(chan struct{})}
}

// WaitFor parks until signalled, re-checking the cursor on each wakeup
func (w *BlockingWaitStrategy) WaitFor(ctx context.Context, target int64, cursor *Sequence) (int64, error) {
	for {
		if v := cursor.Get(); v >= target {
			return v, nil
		}
		w.mu.Lock()
		ch := w.ch
		w.mu.Unlock()
		// re-check after capturing the channel: a publish between the first
		// check and the capture would have closed the previous channel
		if v := cursor.Get(); v >= target {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ch:
		}
	}
}

// SignalAll wakes every parked waiter
func (w *BlockingWaitStrategy) SignalAll() {
	w.mu.Lock()
	close(w.ch)
	w.ch = make(chan struct{})
	w.mu.Unlock()
}
