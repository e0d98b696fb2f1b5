package messaging

import "context"

// Result is the outcome of a handler invocation. Expected failures travel
// inside the result; decorators inspect and wrap them without panicking or
// using errors as control flow.
type Result struct {
	data    any
	err     *Error
	success bool
}

// Success creates a successful result carrying optional response data.
func Success(data any) Result {
	return Result{data: data, success: true}
}

// Failure creates a failed result.
func Failure(err *Error) Result {
	if err == nil {
		err = InternalError("failure with nil error", nil)
	}
	return Result{err: err}
}

// FailureFrom wraps an arbitrary error into a failed result.
func FailureFrom(err error) Result {
	return Failure(FromError(err))
}

// IsSuccess returns true if the result is successful.
func (r Result) IsSuccess() bool {
	return r.success
}

// IsFailure returns true if the result is a failure.
func (r Result) IsFailure() bool {
	return !r.success
}

// Data returns the success value. Only meaningful after checking IsSuccess().
func (r Result) Data() any {
	return r.data
}

// Err returns the error if the result is a failure, nil otherwise.
func (r Result) Err() *Error {
	return r.err
}

// IsCancelled reports whether the result failed due to cancellation.
// Decorators must pass cancellation through untouched.
func (r Result) IsCancelled() bool {
	return r.err != nil && r.err.Kind == ErrorKindCancelled
}

// Handler processes a single envelope and returns its result. Command and
// query handlers put response data into the success result; event handlers
// return Success(nil). Handlers must honor ctx cancellation.
type Handler func(ctx context.Context, env *Envelope) Result

// HandlerEntry associates a registered handler with the component name used
// in logs, metrics and dead-letter entries.
type HandlerEntry struct {
	Component string
	Handle    Handler
}

// Middleware decorates a handler with cross-cutting behavior. Decorators
// compose; each may short-circuit, transform the result, or pass through.
type Middleware func(next Handler) Handler

// Chain composes middlewares so the first one listed is the outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
