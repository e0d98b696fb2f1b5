package messaging

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind categorizes a processing failure. The kind decides how the
// runtime reacts: transient kinds are retried, permanent kinds are discarded
// or dead-lettered, and Cancelled always propagates.
type ErrorKind int

const (
	// ErrorKindInternal represents unexpected failures inside the runtime
	ErrorKindInternal ErrorKind = iota

	// ErrorKindHandlerMissing - no handler registered for the message type
	ErrorKindHandlerMissing

	// ErrorKindValidationFailed - the message violated a validation rule
	ErrorKindValidationFailed

	// ErrorKindSignatureInvalid - HMAC signature verification failed
	ErrorKindSignatureInvalid

	// ErrorKindCircuitOpen - the circuit breaker rejected the call fast
	ErrorKindCircuitOpen

	// ErrorKindRetryExhausted - all retry attempts failed
	ErrorKindRetryExhausted

	// ErrorKindIdempotencyCollision - conflicting cached response for a key
	ErrorKindIdempotencyCollision

	// ErrorKindCancelled - the caller's context was cancelled
	ErrorKindCancelled

	// ErrorKindTimeout - the operation exceeded its deadline
	ErrorKindTimeout

	// ErrorKindTransportUnavailable - the transport rejected or lost the message
	ErrorKindTransportUnavailable

	// ErrorKindStorageUnavailable - a storage backend failed transiently
	ErrorKindStorageUnavailable

	// ErrorKindDuplicateMessage - the message was already seen by an inbox
	ErrorKindDuplicateMessage

	// ErrorKindQueueDisabled - the named queue is stopped or unknown
	ErrorKindQueueDisabled
)

// String returns the string representation of the error kind
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindHandlerMissing:
		return "HANDLER_MISSING"
	case ErrorKindValidationFailed:
		return "VALIDATION_FAILED"
	case ErrorKindSignatureInvalid:
		return "SIGNATURE_INVALID"
	case ErrorKindCircuitOpen:
		return "CIRCUIT_OPEN"
	case ErrorKindRetryExhausted:
		return "RETRY_EXHAUSTED"
	case ErrorKindIdempotencyCollision:
		return "IDEMPOTENCY_COLLISION"
	case ErrorKindCancelled:
		return "CANCELLED"
	case ErrorKindTimeout:
		return "TIMEOUT"
	case ErrorKindTransportUnavailable:
		return "TRANSPORT_UNAVAILABLE"
	case ErrorKindStorageUnavailable:
		return "STORAGE_UNAVAILABLE"
	case ErrorKindDuplicateMessage:
		return "DUPLICATE_MESSAGE"
	case ErrorKindQueueDisabled:
		return "QUEUE_DISABLED"
	case ErrorKindInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// IsTransient reports whether failures of this kind are worth retrying
func (k ErrorKind) IsTransient() bool {
	switch k {
	case ErrorKindTimeout, ErrorKindTransportUnavailable, ErrorKindStorageUnavailable:
		return true
	default:
		return false
	}
}

// IsPermanent reports whether failures of this kind must never be retried
func (k ErrorKind) IsPermanent() bool {
	switch k {
	case ErrorKindValidationFailed, ErrorKindHandlerMissing, ErrorKindSignatureInvalid:
		return true
	default:
		return false
	}
}

// Error is the structured failure carried through the pipeline in a Result.
// Expected failures never unwind the stack; only cancellation and panics do.
type Error struct {
	Kind    ErrorKind      `json:"kind"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	// Cause is the underlying error, preserved across decorator wrapping
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Kind.String(), e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether the error is retryable
func (e *Error) IsTransient() bool {
	return e.Kind.IsTransient()
}

// WithDetail adds a detail entry and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause attaches an underlying error and returns the error for chaining.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// NewError creates an error of the given kind
func NewError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// HandlerMissingError creates a HANDLER_MISSING error for a message type
func HandlerMissingError(msgType string) *Error {
	return NewError(ErrorKindHandlerMissing, "NO_HANDLER",
		fmt.Sprintf("no handler registered for message type %q", msgType))
}

// ValidationError creates a VALIDATION_FAILED error
func ValidationError(code, message string) *Error {
	return NewError(ErrorKindValidationFailed, code, message)
}

// TimeoutError creates a TIMEOUT error
func TimeoutError(message string) *Error {
	return NewError(ErrorKindTimeout, "DEADLINE_EXCEEDED", message)
}

// CancelledError creates a CANCELLED error
func CancelledError() *Error {
	return NewError(ErrorKindCancelled, "CANCELLED", "operation cancelled").
		WithCause(context.Canceled)
}

// InternalError creates an INTERNAL error wrapping cause
func InternalError(message string, cause error) *Error {
	return NewError(ErrorKindInternal, "INTERNAL", message).WithCause(cause)
}

// TransportError creates a TRANSPORT_UNAVAILABLE error wrapping cause
func TransportError(message string, cause error) *Error {
	return NewError(ErrorKindTransportUnavailable, "TRANSPORT_UNAVAILABLE", message).
		WithCause(cause)
}

// StorageError creates a STORAGE_UNAVAILABLE error wrapping cause
func StorageError(message string, cause error) *Error {
	return NewError(ErrorKindStorageUnavailable, "STORAGE_UNAVAILABLE", message).
		WithCause(cause)
}

// FromError converts an arbitrary error to an *Error. Context cancellation
// and deadline errors map to their dedicated kinds; an *Error passes through
// unchanged; anything else becomes INTERNAL.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) {
		return NewError(ErrorKindCancelled, "CANCELLED", err.Error()).WithCause(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrorKindTimeout, "DEADLINE_EXCEEDED", err.Error()).WithCause(err)
	}
	return InternalError(err.Error(), err)
}
