package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kitemq/kite/internal/common/health"
	"github.com/kitemq/kite/internal/dlq"
	"github.com/kitemq/kite/internal/queue"
	"github.com/kitemq/kite/internal/storage/memory"
	"github.com/kitemq/kite/messaging"
)

func seedDeadLetter(t *testing.T, svc *dlq.Service) string {
	t.Helper()
	env := messaging.NewCommand("pay", nil)
	failure := messaging.TransportError("endpoint down", nil)
	pctx := messaging.NewProcessingContext("queue:work").WithRetryCount(3)
	if err := svc.Send(context.Background(), env, failure, pctx); err != nil {
		t.Fatal(err)
	}
	entries, err := svc.List(context.Background(), 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d (%v)", len(entries), err)
	}
	return entries[0].ID
}

func TestHealthEndpoint(t *testing.T) {
	checker := health.NewChecker()
	h := NewHandler(checker, nil, nil, nil)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/q/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestListDeadLetters(t *testing.T) {
	store := memory.New()
	svc := dlq.NewService(store.DeadLetters(), nil)
	seedDeadLetter(t, svc)

	h := NewHandler(nil, svc, nil, nil)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ops/dlq")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var dtos []DeadLetterDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		t.Fatal(err)
	}
	if len(dtos) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(dtos))
	}
	if dtos[0].Component != "queue:work" || dtos[0].MessageType != "pay" {
		t.Errorf("unexpected dto %+v", dtos[0])
	}
}

func TestRetryDeadLetter(t *testing.T) {
	store := memory.New()
	redispatched := 0
	svc := dlq.NewService(store.DeadLetters(), func(ctx context.Context, env *messaging.Envelope) messaging.Result {
		redispatched++
		return messaging.Success(nil)
	})
	id := seedDeadLetter(t, svc)

	h := NewHandler(nil, svc, nil, nil)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/ops/dlq/"+id+"/retry", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if redispatched != 1 {
		t.Errorf("expected 1 redispatch, got %d", redispatched)
	}

	// retrying a terminal entry conflicts
	resp2, err := http.Post(srv.URL+"/ops/dlq/"+id+"/retry", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for terminal entry, got %d", resp2.StatusCode)
	}
}

func TestDiscardDeadLetterNotFound(t *testing.T) {
	store := memory.New()
	svc := dlq.NewService(store.DeadLetters(), nil)

	h := NewHandler(nil, svc, nil, nil)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/ops/dlq/missing/discard", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestListQueues(t *testing.T) {
	store := memory.New()
	engine := queue.NewEngine(store.Queues(), nil, nil)
	handler := func(context.Context, *messaging.Envelope) messaging.Result {
		return messaging.Success(nil)
	}
	if err := engine.Declare(queue.Config{Name: "work"}, handler); err != nil {
		t.Fatal(err)
	}
	_ = engine.Enqueue(context.Background(), "work", messaging.NewCommand("task", nil), messaging.EnqueueOptions{})

	h := NewHandler(nil, nil, engine, nil)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ops/queues")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var dtos []QueueDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		t.Fatal(err)
	}
	if len(dtos) != 1 || dtos[0].Name != "work" || dtos[0].Depth != 1 {
		t.Errorf("unexpected queues %+v", dtos)
	}
}

type fakeRegistry struct{}

func (fakeRegistry) RegisteredTypes() map[messaging.Kind][]string {
	return map[messaging.Kind][]string{
		messaging.KindCommand: {"pay", "refund"},
		messaging.KindEvent:   {"order.placed"},
	}
}

func TestListHandlers(t *testing.T) {
	h := NewHandler(nil, nil, nil, fakeRegistry{})
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ops/handlers")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string][]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out["COMMAND"]) != 2 || len(out["EVENT"]) != 1 {
		t.Errorf("unexpected handlers %+v", out)
	}
}
