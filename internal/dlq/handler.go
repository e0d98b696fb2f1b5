// Package dlq implements failed-message handling: the default error
// classification policy and the dead-letter service that retains, retries
// and discards poisoned messages.
package dlq

import (
	"fmt"
	"time"

	"github.com/kitemq/kite/messaging"
)

// HandlerConfig configures the default error handling policy.
type HandlerConfig struct {
	// MaxRetries before a message is dead-lettered (default 3)
	MaxRetries int

	// BaseDelay is the delay before the first retry (default 1s)
	BaseDelay time.Duration

	// Exponential doubles the delay per retry; otherwise linear
	Exponential bool

	// MaxDelay caps the computed delay (default 5m)
	MaxDelay time.Duration
}

// DefaultHandler is the standard error policy: permanent failures are
// dead-lettered immediately, cancellation escalates to the caller, and
// transient failures retry with backoff until MaxRetries, then dead-letter.
type DefaultHandler struct {
	cfg HandlerConfig
}

// NewDefaultHandler creates the default error handler
func NewDefaultHandler(cfg HandlerConfig) *DefaultHandler {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Minute
	}
	return &DefaultHandler{cfg: cfg}
}

// Handle classifies a failure into a decision
func (h *DefaultHandler) Handle(env *messaging.Envelope, failure *messaging.Error, pctx messaging.ProcessingContext) messaging.Decision {
	if failure.Kind == messaging.ErrorKindCancelled {
		return messaging.Escalate()
	}
	if failure.Kind.IsPermanent() {
		return messaging.DeadLetter(fmt.Sprintf("permanent failure: %s", failure.Kind))
	}
	if pctx.RetryCount() >= h.cfg.MaxRetries {
		return messaging.DeadLetter(fmt.Sprintf("retries exhausted after %d attempts", pctx.RetryCount()))
	}
	return messaging.Retry(h.delay(pctx.RetryCount() + 1))
}

func (h *DefaultHandler) delay(attempt int) time.Duration {
	var d time.Duration
	if h.cfg.Exponential {
		d = h.cfg.BaseDelay << (attempt - 1)
	} else {
		d = h.cfg.BaseDelay * time.Duration(attempt)
	}
	if d > h.cfg.MaxDelay {
		d = h.cfg.MaxDelay
	}
	return d
}
