// Package workqueue provides a bounded task queue with a fixed worker pool,
// panic isolation and a drain-on-complete lifecycle.
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kitemq/kite/internal/common/metrics"
)

var (
	// ErrQueueFull is returned by TrySubmit when no capacity is available
	ErrQueueFull = errors.New("workqueue: queue full")

	// ErrQueueCompleted is returned when submitting after Complete
	ErrQueueCompleted = errors.New("workqueue: queue completed")
)

const (
	// DefaultCapacity is the pending-task bound when none is configured
	DefaultCapacity = 100

	// DefaultParallelism is the worker count when none is configured.
	// A single worker preserves submission order.
	DefaultParallelism = 1
)

// Task is a unit of work executed by the queue.
type Task func(ctx context.Context)

// Config configures a Queue.
type Config struct {
	// Name labels logs and metrics
	Name string

	// Capacity bounds pending tasks (default 100)
	Capacity int

	// Parallelism is the worker count (default 1)
	Parallelism int
}

// Queue is a bounded work queue. Tasks beyond Parallelism wait in a bounded
// channel; a full queue either blocks the submitter (Submit) or rejects the
// task (TrySubmit). With Parallelism 1 tasks run in submission order.
type Queue struct {
	name    string
	tasks   chan Task
	workers int

	mu        sync.RWMutex
	completed bool

	wg         sync.WaitGroup
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New creates and starts a work queue
func New(cfg Config) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		name:       cfg.Name,
		tasks:      make(chan Task, cfg.Capacity),
		workers:    cfg.Parallelism,
		baseCtx:    ctx,
		cancelBase: cancel,
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	slog.Debug("Work queue started",
		"queue", q.name,
		"capacity", cfg.Capacity,
		"parallelism", cfg.Parallelism)
	return q
}

// Submit enqueues a task, blocking while the queue is full. Returns
// ErrQueueCompleted after Complete, or the context error if ctx ends first.
func (q *Queue) Submit(ctx context.Context, task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.completed {
		return ErrQueueCompleted
	}
	select {
	case q.tasks <- task:
		metrics.WorkQueueDepth.WithLabelValues(q.name).Set(float64(len(q.tasks)))
		return nil
	default:
	}
	select {
	case q.tasks <- task:
		metrics.WorkQueueDepth.WithLabelValues(q.name).Set(float64(len(q.tasks)))
		return nil
	case <-ctx.Done():
		metrics.WorkQueueTasksTotal.WithLabelValues(q.name, "dropped").Inc()
		return ctx.Err()
	}
}

// TrySubmit enqueues a task or returns ErrQueueFull without blocking
func (q *Queue) TrySubmit(task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.completed {
		return ErrQueueCompleted
	}
	select {
	case q.tasks <- task:
		metrics.WorkQueueDepth.WithLabelValues(q.name).Set(float64(len(q.tasks)))
		return nil
	default:
		metrics.WorkQueueTasksTotal.WithLabelValues(q.name, "dropped").Inc()
		return ErrQueueFull
	}
}

// Depth returns the number of pending tasks
func (q *Queue) Depth() int {
	return len(q.tasks)
}

// Complete stops accepting tasks and waits for pending tasks to drain.
// Returns the context error if ctx ends before the drain finishes; workers
// keep draining in the background in that case.
func (q *Queue) Complete(ctx context.Context) error {
	q.mu.Lock()
	if q.completed {
		q.mu.Unlock()
		return nil
	}
	q.completed = true
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Debug("Work queue drained", "queue", q.name)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks and cancels the context passed to running
// tasks, then waits like Complete
func (q *Queue) Shutdown(ctx context.Context) error {
	q.cancelBase()
	return q.Complete(ctx)
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for task := range q.tasks {
		metrics.WorkQueueDepth.WithLabelValues(q.name).Set(float64(len(q.tasks)))
		metrics.WorkQueueActiveWorkers.WithLabelValues(q.name).Inc()
		q.run(id, task)
		metrics.WorkQueueActiveWorkers.WithLabelValues(q.name).Dec()
	}
}

// run executes a single task with panic isolation: a panicking task is
// logged and counted, the worker survives
func (q *Queue) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			metrics.WorkQueueTasksTotal.WithLabelValues(q.name, "panicked").Inc()
			slog.Error("Task panicked",
				"queue", q.name,
				"worker", id,
				"panic", fmt.Sprintf("%v", r))
			return
		}
		metrics.WorkQueueTasksTotal.WithLabelValues(q.name, "completed").Inc()
	}()
	task(q.baseCtx)
}
