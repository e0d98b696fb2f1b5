package messaging

import "time"

// ProcessingContext is an immutable record describing where a message is in
// its processing lifecycle. Mutation is copy-with-update; prior values are
// preserved so error handlers see a consistent snapshot.
type ProcessingContext struct {
	component    string
	handlerType  string
	retryCount   int
	firstFailure time.Time
	metadata     map[string]string
}

// NewProcessingContext creates a context for the named component
func NewProcessingContext(component string) ProcessingContext {
	return ProcessingContext{component: component}
}

// Component returns the component name
func (c ProcessingContext) Component() string { return c.component }

// HandlerType returns the message type tag of the handler, if known
func (c ProcessingContext) HandlerType() string { return c.handlerType }

// RetryCount returns the number of retries already attempted
func (c ProcessingContext) RetryCount() int { return c.retryCount }

// FirstFailure returns when the first failure was observed (zero if none)
func (c ProcessingContext) FirstFailure() time.Time { return c.firstFailure }

// Meta returns the metadata value for key, or "" when absent
func (c ProcessingContext) Meta(key string) string {
	if c.metadata == nil {
		return ""
	}
	return c.metadata[key]
}

// WithHandlerType returns a copy with the handler type set
func (c ProcessingContext) WithHandlerType(t string) ProcessingContext {
	c.handlerType = t
	return c
}

// WithRetryCount returns a copy with the retry count set
func (c ProcessingContext) WithRetryCount(n int) ProcessingContext {
	c.retryCount = n
	return c
}

// WithFirstFailure returns a copy recording the first failure time.
// If a first failure is already recorded, it is preserved.
func (c ProcessingContext) WithFirstFailure(t time.Time) ProcessingContext {
	if c.firstFailure.IsZero() {
		c.firstFailure = t
	}
	return c
}

// WithMeta returns a copy with the metadata key set
func (c ProcessingContext) WithMeta(key, value string) ProcessingContext {
	next := make(map[string]string, len(c.metadata)+1)
	for k, v := range c.metadata {
		next[k] = v
	}
	next[key] = value
	c.metadata = next
	return c
}
