package dlq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kitemq/kite/internal/storage/memory"
	"github.com/kitemq/kite/messaging"
)

func TestDefaultHandlerRetriesTransient(t *testing.T) {
	h := NewDefaultHandler(HandlerConfig{MaxRetries: 3, BaseDelay: time.Second})
	pctx := messaging.NewProcessingContext("queue:work")

	d := h.Handle(messaging.NewCommand("pay", nil), messaging.TransportError("down", nil), pctx)
	if d.Action != messaging.ActionRetry {
		t.Fatalf("expected retry, got %s", d.Action)
	}
	if d.Delay != time.Second {
		t.Errorf("expected 1s first delay, got %v", d.Delay)
	}

	// second failure backs off further
	d = h.Handle(messaging.NewCommand("pay", nil), messaging.TransportError("down", nil), pctx.WithRetryCount(1))
	if d.Action != messaging.ActionRetry || d.Delay != 2*time.Second {
		t.Errorf("expected 2s linear backoff, got %s %v", d.Action, d.Delay)
	}
}

func TestDefaultHandlerDeadLettersAfterMaxRetries(t *testing.T) {
	h := NewDefaultHandler(HandlerConfig{MaxRetries: 3})
	pctx := messaging.NewProcessingContext("queue:work").WithRetryCount(3)

	d := h.Handle(messaging.NewCommand("pay", nil), messaging.TransportError("down", nil), pctx)
	if d.Action != messaging.ActionDeadLetter {
		t.Errorf("expected dead-letter after max retries, got %s", d.Action)
	}
}

func TestDefaultHandlerDeadLettersPermanent(t *testing.T) {
	h := NewDefaultHandler(HandlerConfig{})
	pctx := messaging.NewProcessingContext("dispatch")

	d := h.Handle(messaging.NewCommand("pay", nil), messaging.ValidationError("BAD", "broken"), pctx)
	if d.Action != messaging.ActionDeadLetter {
		t.Errorf("permanent failures dead-letter immediately, got %s", d.Action)
	}
}

func TestDefaultHandlerEscalatesCancellation(t *testing.T) {
	h := NewDefaultHandler(HandlerConfig{})
	d := h.Handle(messaging.NewCommand("pay", nil), messaging.CancelledError(), messaging.NewProcessingContext("dispatch"))
	if d.Action != messaging.ActionEscalate {
		t.Errorf("cancellation escalates, got %s", d.Action)
	}
}

func TestDefaultHandlerExponentialBackoffCapped(t *testing.T) {
	h := NewDefaultHandler(HandlerConfig{MaxRetries: 10, BaseDelay: time.Second, Exponential: true, MaxDelay: 4 * time.Second})
	pctx := messaging.NewProcessingContext("queue:work")

	d := h.Handle(messaging.NewCommand("pay", nil), messaging.TransportError("down", nil), pctx.WithRetryCount(5))
	if d.Delay != 4*time.Second {
		t.Errorf("backoff should cap at MaxDelay, got %v", d.Delay)
	}
}

func TestServiceSendAndStatistics(t *testing.T) {
	store := memory.New()
	svc := NewService(store.DeadLetters(), nil)
	ctx := context.Background()

	pctx := messaging.NewProcessingContext("outbox").WithRetryCount(3)
	env := messaging.NewCommand("pay", nil)
	if err := svc.Send(ctx, env, messaging.TransportError("down", nil), pctx); err != nil {
		t.Fatal(err)
	}

	entries, err := svc.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Component != "outbox" || e.RetryCount != 3 {
		t.Errorf("entry should carry failure context, got component=%q retries=%d", e.Component, e.RetryCount)
	}
	if e.Envelope.ID != env.ID {
		t.Error("entry should retain the original envelope")
	}

	stats, err := svc.Statistics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 || stats.Active != 1 || stats.ByComponent["outbox"] != 1 {
		t.Errorf("unexpected statistics: %+v", stats)
	}
}

func TestServiceRetrySuccess(t *testing.T) {
	store := memory.New()
	var redispatched *messaging.Envelope
	svc := NewService(store.DeadLetters(), func(ctx context.Context, env *messaging.Envelope) messaging.Result {
		redispatched = env
		return messaging.Success(nil)
	})
	ctx := context.Background()

	env := messaging.NewCommand("pay", nil)
	_ = svc.Send(ctx, env, messaging.TransportError("down", nil), messaging.NewProcessingContext("queue:work"))
	entries, _ := svc.List(ctx, 1)
	id := entries[0].ID

	if err := svc.Retry(ctx, id); err != nil {
		t.Fatal(err)
	}
	if redispatched == nil || redispatched.ID != env.ID {
		t.Error("retry should redispatch the retained envelope")
	}

	got, _ := svc.Get(ctx, id)
	if got.Status != messaging.DeadLetterRetried {
		t.Errorf("expected Retried, got %s", got.Status)
	}
	// terminal: a second retry is rejected
	if err := svc.Retry(ctx, id); !errors.Is(err, messaging.ErrTerminalState) {
		t.Errorf("expected ErrTerminalState, got %v", err)
	}
}

func TestServiceRetryFailureKeepsEntryActive(t *testing.T) {
	store := memory.New()
	svc := NewService(store.DeadLetters(), func(ctx context.Context, env *messaging.Envelope) messaging.Result {
		return messaging.Failure(messaging.TransportError("still down", nil))
	})
	ctx := context.Background()

	_ = svc.Send(ctx, messaging.NewCommand("pay", nil), messaging.TransportError("down", nil), messaging.NewProcessingContext("queue:work"))
	entries, _ := svc.List(ctx, 1)
	id := entries[0].ID

	if err := svc.Retry(ctx, id); err == nil {
		t.Fatal("expected retry failure")
	}
	got, _ := svc.Get(ctx, id)
	if got.Status != messaging.DeadLetterActive {
		t.Errorf("failed retry must keep the entry Active, got %s", got.Status)
	}
}

func TestServiceDiscard(t *testing.T) {
	store := memory.New()
	svc := NewService(store.DeadLetters(), nil)
	ctx := context.Background()

	_ = svc.Send(ctx, messaging.NewCommand("pay", nil), messaging.TransportError("down", nil), messaging.NewProcessingContext("queue:work"))
	entries, _ := svc.List(ctx, 1)
	id := entries[0].ID

	if err := svc.Discard(ctx, id); err != nil {
		t.Fatal(err)
	}
	got, _ := svc.Get(ctx, id)
	if got.Status != messaging.DeadLetterDiscarded {
		t.Errorf("expected Discarded, got %s", got.Status)
	}
	if n, _ := svc.Count(ctx); n != 0 {
		t.Errorf("discarded entries are not active, count %d", n)
	}
}
