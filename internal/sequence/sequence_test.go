package sequence

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSequenceBasics(t *testing.T) {
	s := NewSequence(InitialValue)
	if s.Get() != -1 {
		t.Errorf("expected initial -1, got %d", s.Get())
	}
	s.Set(5)
	if s.Get() != 5 {
		t.Errorf("expected 5, got %d", s.Get())
	}
	if !s.CompareAndSwap(5, 6) {
		t.Error("CAS should succeed")
	}
	if s.CompareAndSwap(5, 7) {
		t.Error("CAS should fail on stale value")
	}
	if v := s.Add(4); v != 10 {
		t.Errorf("expected 10, got %d", v)
	}
}

func TestGroupMinimum(t *testing.T) {
	var g group
	if v := g.Minimum(42); v != 42 {
		t.Errorf("empty group should return default, got %d", v)
	}
	a := NewSequence(10)
	b := NewSequence(3)
	g.Add(a)
	g.Add(b)
	if v := g.Minimum(42); v != 3 {
		t.Errorf("expected 3, got %d", v)
	}
	g.Remove(b)
	if v := g.Minimum(42); v != 10 {
		t.Errorf("expected 10 after remove, got %d", v)
	}
}

func TestRingBufferSizeMustBePowerOfTwo(t *testing.T) {
	if _, err := NewRingBuffer[int](Config{Size: 10}); err == nil {
		t.Error("expected error for non-power-of-two size")
	}
	if _, err := NewRingBuffer[int](Config{Size: 0}); err == nil {
		t.Error("expected error for zero size")
	}
	if _, err := NewRingBuffer[int](Config{Size: 16}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSingleProducerPublishAndPoll(t *testing.T) {
	buf, err := NewRingBuffer[int](Config{Size: 8})
	if err != nil {
		t.Fatal(err)
	}
	r := buf.NewReader()
	defer r.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := buf.Publish(ctx, i); err != nil {
			t.Fatal(err)
		}
	}

	var got []int
	n, err := r.Poll(ctx, 10, func(v int) { got = append(got, v) })
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("expected 5 delivered, got %d", n)
	}
	for i, v := range got {
		if v != i {
			t.Errorf("expected %d at position %d, got %d", i, i, v)
		}
	}
}

func TestTryPublishFullBuffer(t *testing.T) {
	buf, err := NewRingBuffer[int](Config{Size: 4})
	if err != nil {
		t.Fatal(err)
	}
	r := buf.NewReader()
	defer r.Close()

	for i := 0; i < 4; i++ {
		if !buf.TryPublish(i) {
			t.Fatalf("publish %d should succeed", i)
		}
	}
	if buf.TryPublish(99) {
		t.Error("publish into full buffer should fail")
	}

	// consuming one slot frees capacity for exactly one publish
	if n := r.TryPoll(1, func(int) {}); n != 1 {
		t.Fatalf("expected 1 consumed, got %d", n)
	}
	if !buf.TryPublish(99) {
		t.Error("publish should succeed after consume")
	}
	if buf.TryPublish(100) {
		t.Error("buffer should be full again")
	}
}

func TestPublishBlocksUntilConsumerFreesCapacity(t *testing.T) {
	buf, err := NewRingBuffer[int](Config{Size: 2})
	if err != nil {
		t.Fatal(err)
	}
	r := buf.NewReader()
	defer r.Close()

	ctx := context.Background()
	if err := buf.Publish(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := buf.Publish(ctx, 2); err != nil {
		t.Fatal(err)
	}

	published := make(chan error, 1)
	go func() { published <- buf.Publish(ctx, 3) }()

	select {
	case <-published:
		t.Fatal("publish should block while the buffer is full")
	case <-time.After(20 * time.Millisecond):
	}

	if n := r.TryPoll(1, func(int) {}); n != 1 {
		t.Fatalf("expected 1 consumed, got %d", n)
	}
	select {
	case err := <-published:
		if err != nil {
			t.Errorf("unexpected publish error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publish should unblock after consume")
	}
}

func TestPublishCancelledWhileFull(t *testing.T) {
	buf, err := NewRingBuffer[int](Config{Size: 2})
	if err != nil {
		t.Fatal(err)
	}
	r := buf.NewReader()
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_ = buf.Publish(ctx, 1)
	_ = buf.Publish(ctx, 2)

	done := make(chan error, 1)
	go func() { done <- buf.Publish(ctx, 3) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("publish should return after cancel")
	}
}

func TestPollBlocksUntilPublish(t *testing.T) {
	buf, err := NewRingBuffer[string](Config{Size: 8, Wait: NewBlockingWaitStrategy()})
	if err != nil {
		t.Fatal(err)
	}
	r := buf.NewReader()
	defer r.Close()

	ctx := context.Background()
	got := make(chan string, 1)
	go func() {
		_, _ = r.Poll(ctx, 1, func(v string) { got <- v })
	}()

	time.Sleep(10 * time.Millisecond)
	if err := buf.Publish(ctx, "hello"); err != nil {
		t.Fatal(err)
	}

	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("expected hello, got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("poll should wake after publish")
	}
}

func TestPollCancelled(t *testing.T) {
	buf, err := NewRingBuffer[int](Config{Size: 8})
	if err != nil {
		t.Fatal(err)
	}
	r := buf.NewReader()
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Poll(ctx, 1, func(int) {})
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("poll should return after cancel")
	}
}

func TestMultipleReadersSeeEveryEntry(t *testing.T) {
	buf, err := NewRingBuffer[int](Config{Size: 8})
	if err != nil {
		t.Fatal(err)
	}
	r1 := buf.NewReader()
	defer r1.Close()
	r2 := buf.NewReader()
	defer r2.Close()

	ctx := context.Background()
	if err := buf.PublishBatch(ctx, []int{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	var sum1, sum2 int
	if n := r1.TryPoll(10, func(v int) { sum1 += v }); n != 3 {
		t.Errorf("reader 1 expected 3 entries, got %d", n)
	}
	if n := r2.TryPoll(10, func(v int) { sum2 += v }); n != 3 {
		t.Errorf("reader 2 expected 3 entries, got %d", n)
	}
	if sum1 != 6 || sum2 != 6 {
		t.Errorf("both readers should see every entry, got %d and %d", sum1, sum2)
	}
}

func TestMultiProducerNoLossNoDuplicates(t *testing.T) {
	const producers = 4
	const perProducer = 1000

	buf, err := NewRingBuffer[int](Config{Size: 64, MultiProducer: true, Wait: NewYieldingWaitStrategy()})
	if err != nil {
		t.Fatal(err)
	}
	r := buf.NewReader()

	ctx := context.Background()
	seen := make([]atomic.Int32, producers*perProducer)
	var consumed atomic.Int64

	done := make(chan struct{})
	go func() {
		defer close(done)
		for consumed.Load() < producers*perProducer {
			n, err := r.Poll(ctx, 32, func(v int) {
				seen[v].Add(1)
			})
			if err != nil {
				return
			}
			consumed.Add(int64(n))
		}
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := buf.Publish(ctx, p*perProducer+i); err != nil {
					t.Errorf("publish failed: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("consumer did not drain in time")
	}
	r.Close()

	for i := range seen {
		if c := seen[i].Load(); c != 1 {
			t.Fatalf("value %d seen %d times", i, c)
		}
	}
}

func TestMultiProducerHighestPublished(t *testing.T) {
	s := NewMultiProducerSequencer(8, NewBusySpinWaitStrategy())
	ctx := context.Background()

	hi, err := s.Next(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if hi != 2 {
		t.Fatalf("expected claim up to 2, got %d", hi)
	}

	// publish out of order: slot 1 before slot 0
	s.Publish(1, 1)
	if h := s.HighestPublished(0, 2); h != -1 {
		t.Errorf("nothing contiguous yet, got %d", h)
	}
	s.Publish(0, 0)
	if h := s.HighestPublished(0, 2); h != 1 {
		t.Errorf("expected contiguous up to 1, got %d", h)
	}
	s.Publish(2, 2)
	if h := s.HighestPublished(0, 2); h != 2 {
		t.Errorf("expected contiguous up to 2, got %d", h)
	}
}

func TestGenerationFlagRejectsStaleSlot(t *testing.T) {
	s := NewMultiProducerSequencer(4, NewBusySpinWaitStrategy())
	gate := NewSequence(InitialValue)
	s.AddGating(gate)
	ctx := context.Background()

	// fill generation zero and release it
	hi, _ := s.Next(ctx, 4)
	s.Publish(0, hi)
	gate.Set(hi)

	// claim one slot of the next generation without publishing it
	hi2, _ := s.Next(ctx, 1)
	if hi2 != 4 {
		t.Fatalf("expected claim 4, got %d", hi2)
	}
	// slot 0 still carries generation 0's flag and must not read as sequence 4
	if h := s.HighestPublished(4, 4); h != 3 {
		t.Errorf("stale slot reported as published, got %d", h)
	}
	s.Publish(4, 4)
	if h := s.HighestPublished(4, 4); h != 4 {
		t.Errorf("expected 4 after publish, got %d", h)
	}
}

func TestWaitStrategies(t *testing.T) {
	strategies := map[string]WaitStrategy{
		"busy-spin": NewBusySpinWaitStrategy(),
		"yielding":  NewYieldingWaitStrategy(),
		"sleeping":  NewSleepingWaitStrategy(time.Millisecond),
		"blocking":  NewBlockingWaitStrategy(),
	}
	for name, ws := range strategies {
		t.Run(name, func(t *testing.T) {
			cursor := NewSequence(InitialValue)
			done := make(chan int64, 1)
			go func() {
				v, err := ws.WaitFor(context.Background(), 3, cursor)
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				done <- v
			}()
			time.Sleep(5 * time.Millisecond)
			cursor.Set(3)
			ws.SignalAll()
			select {
			case v := <-done:
				if v < 3 {
					t.Errorf("expected at least 3, got %d", v)
				}
			case <-time.After(time.Second):
				t.Fatal("waiter did not wake")
			}
		})
	}
}
