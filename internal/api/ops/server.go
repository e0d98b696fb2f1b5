// Package ops serves the operational HTTP surface: health probes,
// Prometheus metrics, dead-letter management and queue inspection.
package ops

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kitemq/kite/internal/common/health"
	"github.com/kitemq/kite/internal/dlq"
	"github.com/kitemq/kite/internal/queue"
	"github.com/kitemq/kite/messaging"
)

// Registry exposes the registered message types for inspection.
type Registry interface {
	RegisteredTypes() map[messaging.Kind][]string
}

// Handler serves the ops endpoints.
type Handler struct {
	checker     *health.Checker
	deadLetters *dlq.Service
	engine      *queue.Engine
	registry    Registry
}

// NewHandler creates an ops handler. Any dependency may be nil; the
// corresponding endpoints then report empty results.
func NewHandler(checker *health.Checker, deadLetters *dlq.Service, engine *queue.Engine, registry Registry) *Handler {
	if checker == nil {
		checker = health.NewChecker()
	}
	return &Handler{
		checker:     checker,
		deadLetters: deadLetters,
		engine:      engine,
		registry:    registry,
	}
}

// Routes returns the router for the ops surface
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/q/health", h.checker.HandleHealth)
	r.Get("/q/health/live", h.checker.HandleLive)
	r.Get("/q/health/ready", h.checker.HandleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/ops", func(r chi.Router) {
		r.Get("/dlq", h.ListDeadLetters)
		r.Get("/dlq/stats", h.DeadLetterStats)
		r.Post("/dlq/{id}/retry", h.RetryDeadLetter)
		r.Post("/dlq/{id}/discard", h.DiscardDeadLetter)
		r.Get("/queues", h.ListQueues)
		r.Get("/handlers", h.ListHandlers)
	})

	return r
}

// DeadLetterDTO represents a dead-letter entry for API responses
type DeadLetterDTO struct {
	ID          string    `json:"id"`
	MessageID   string    `json:"messageId"`
	MessageType string    `json:"messageType"`
	Component   string    `json:"component"`
	Reason      string    `json:"reason"`
	Error       string    `json:"error"`
	RetryCount  int       `json:"retryCount"`
	Status      string    `json:"status"`
	FailureTime time.Time `json:"failureTime"`
}

// QueueDTO represents a declared queue for API responses
type QueueDTO struct {
	Name  string `json:"name"`
	Depth int    `json:"depth"`
}

// ListDeadLetters handles GET /ops/dlq
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.deadLetters == nil {
		writeJSON(w, http.StatusOK, []DeadLetterDTO{})
		return
	}
	entries, err := h.deadLetters.List(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	dtos := make([]DeadLetterDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, DeadLetterDTO{
			ID:          e.ID,
			MessageID:   e.Envelope.ID,
			MessageType: e.Envelope.Type,
			Component:   e.Component,
			Reason:      e.Reason,
			Error:       e.Error,
			RetryCount:  e.RetryCount,
			Status:      e.Status.String(),
			FailureTime: e.FailureTime,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DeadLetterStats handles GET /ops/dlq/stats
func (h *Handler) DeadLetterStats(w http.ResponseWriter, r *http.Request) {
	if h.deadLetters == nil {
		writeJSON(w, http.StatusOK, dlq.Statistics{})
		return
	}
	stats, err := h.deadLetters.Statistics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// RetryDeadLetter handles POST /ops/dlq/{id}/retry
func (h *Handler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	if h.deadLetters == nil {
		writeError(w, http.StatusNotFound, "dead letter queue not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.deadLetters.Retry(r.Context(), id); err != nil {
		writeDLQError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "retried"})
}

// DiscardDeadLetter handles POST /ops/dlq/{id}/discard
func (h *Handler) DiscardDeadLetter(w http.ResponseWriter, r *http.Request) {
	if h.deadLetters == nil {
		writeError(w, http.StatusNotFound, "dead letter queue not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.deadLetters.Discard(r.Context(), id); err != nil {
		writeDLQError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "discarded"})
}

// ListQueues handles GET /ops/queues
func (h *Handler) ListQueues(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusOK, []QueueDTO{})
		return
	}
	names := h.engine.Queues()
	dtos := make([]QueueDTO, 0, len(names))
	for _, name := range names {
		depth, err := h.engine.Depth(r.Context(), name)
		if err != nil {
			depth = -1
		}
		dtos = append(dtos, QueueDTO{Name: name, Depth: depth})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListHandlers handles GET /ops/handlers
func (h *Handler) ListHandlers(w http.ResponseWriter, r *http.Request) {
	out := make(map[string][]string)
	if h.registry != nil {
		for kind, types := range h.registry.RegisteredTypes() {
			out[kind.String()] = types
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeDLQError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, messaging.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, messaging.ErrTerminalState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
