package messaging

import "time"

// ErrorAction is what the runtime should do with a failed message.
type ErrorAction int

const (
	// ActionRetry - requeue the message after Decision.Delay
	ActionRetry ErrorAction = iota

	// ActionDeadLetter - move the message to the dead-letter queue
	ActionDeadLetter

	// ActionDiscard - drop the message
	ActionDiscard

	// ActionEscalate - propagate the error to the caller
	ActionEscalate
)

// String returns a human-readable action name
func (a ErrorAction) String() string {
	switch a {
	case ActionRetry:
		return "RETRY"
	case ActionDeadLetter:
		return "DEAD_LETTER"
	case ActionDiscard:
		return "DISCARD"
	case ActionEscalate:
		return "ESCALATE"
	default:
		return "UNKNOWN"
	}
}

// Decision is an error handler's verdict for a failed message.
type Decision struct {
	Action ErrorAction
	Delay  time.Duration
	Reason string
}

// Retry builds a retry decision with the given delay
func Retry(delay time.Duration) Decision {
	return Decision{Action: ActionRetry, Delay: delay}
}

// DeadLetter builds a dead-letter decision
func DeadLetter(reason string) Decision {
	return Decision{Action: ActionDeadLetter, Reason: reason}
}

// Discard builds a discard decision
func Discard(reason string) Decision {
	return Decision{Action: ActionDiscard, Reason: reason}
}

// Escalate builds an escalate decision
func Escalate() Decision {
	return Decision{Action: ActionEscalate}
}

// ErrorHandler classifies a processing failure into a Decision.
type ErrorHandler interface {
	Handle(env *Envelope, failure *Error, pctx ProcessingContext) Decision
}

// ErrorHandlerFunc adapts a function to the ErrorHandler interface.
type ErrorHandlerFunc func(env *Envelope, failure *Error, pctx ProcessingContext) Decision

// Handle implements ErrorHandler.
func (f ErrorHandlerFunc) Handle(env *Envelope, failure *Error, pctx ProcessingContext) Decision {
	return f(env, failure, pctx)
}
