package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordingService logs start/stop order into a shared journal
type recordingService struct {
	name     string
	journal  *journal
	startErr error
	healthy  error
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.journal.add("start:" + s.name)
	<-ctx.Done()
	return nil
}

func (s *recordingService) Stop(ctx context.Context) error {
	s.journal.add("stop:" + s.name)
	return nil
}

func (s *recordingService) Health() error { return s.healthy }

func TestSupervisorStartsInOrderStopsInReverse(t *testing.T) {
	j := &journal{}
	a := &recordingService{name: "a", journal: j}
	b := &recordingService{name: "b", journal: j}

	sup := NewSupervisor(a, b)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// let both services pass their startup windows
	time.Sleep(250 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit")
	}

	want := []string{"start:a", "start:b", "stop:b", "stop:a"}
	got := j.snapshot()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestSupervisorStopsStartedServicesOnFailure(t *testing.T) {
	j := &journal{}
	a := &recordingService{name: "a", journal: j}
	broken := &recordingService{name: "broken", journal: j, startErr: errors.New("bind failed")}

	sup := NewSupervisor(a, broken)
	err := sup.Run(context.Background())
	if err == nil {
		t.Fatal("expected startup failure to propagate")
	}

	got := j.snapshot()
	want := []string{"start:a", "stop:a"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSupervisorHealthAggregates(t *testing.T) {
	j := &journal{}
	healthy := &recordingService{name: "ok", journal: j}
	sick := &recordingService{name: "sick", journal: j, healthy: errors.New("degraded")}

	if err := NewSupervisor(healthy).Health(); err != nil {
		t.Errorf("expected healthy supervisor, got %v", err)
	}
	if err := NewSupervisor(healthy, sick).Health(); err == nil {
		t.Error("expected unhealthy service to surface")
	}
}

func TestSupervisorRejectsDoubleRun(t *testing.T) {
	j := &journal{}
	svc := &recordingService{name: "a", journal: j}

	sup := NewSupervisor(svc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sup.Run(ctx)
	time.Sleep(150 * time.Millisecond)

	if err := sup.Run(context.Background()); err == nil {
		t.Error("expected error on second Run")
	}
}

func TestServiceFuncAdapter(t *testing.T) {
	var started, stopped atomic.Bool

	svc := NewServiceFunc("adapter",
		func(ctx context.Context) error {
			started.Store(true)
			<-ctx.Done()
			return nil
		},
		func(ctx context.Context) error {
			stopped.Store(true)
			return nil
		},
	).WithHealth(func() error { return errors.New("not ready") })

	if svc.Name() != "adapter" {
		t.Errorf("unexpected name %s", svc.Name())
	}
	if svc.Health() == nil {
		t.Error("expected health probe to report")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done
	svc.Stop(context.Background())

	if !started.Load() || !stopped.Load() {
		t.Error("expected start and stop to run")
	}
}
