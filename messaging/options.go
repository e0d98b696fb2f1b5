package messaging

import "time"

// EnqueueOptions configures a single enqueue onto a named queue.
type EnqueueOptions struct {
	// Priority orders messages within the queue; higher is leased first
	Priority int

	// Delay defers visibility: VisibleAt = now + Delay
	Delay time.Duration

	// Metadata is merged into the envelope metadata
	Metadata map[string]string
}

// OutboxOptions configures a PublishToOutbox call.
type OutboxOptions struct {
	// Destination is the transport address the entry is published to
	Destination string

	// Priority orders dispatch; higher is published first
	Priority int

	// MaxRetries before the entry is dead-lettered (default 3)
	MaxRetries int

	// RetryDelay is the fixed delay between attempts; zero selects
	// exponential backoff
	RetryDelay time.Duration
}

// InboxOptions configures a ProcessIncoming call.
type InboxOptions struct {
	// Source identifies the ingress channel; dedup is per (messageID, source)
	Source string

	// RequireIdempotency enables the dedup claim (default true)
	RequireIdempotency bool

	// DeduplicationWindow bounds how long processed IDs are remembered
	// (default 7 days)
	DeduplicationWindow time.Duration
}

// DefaultInboxOptions returns the inbox defaults
func DefaultInboxOptions() InboxOptions {
	return InboxOptions{
		RequireIdempotency:  true,
		DeduplicationWindow: 7 * 24 * time.Hour,
	}
}
