package messaging

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by storage backends.
var (
	// ErrNotFound - the requested entry does not exist (or has expired)
	ErrNotFound = errors.New("messaging: not found")

	// ErrLeaseMismatch - the lease token does not match the current lease
	ErrLeaseMismatch = errors.New("messaging: lease token mismatch")

	// ErrTerminalState - the entry is in a terminal state and cannot change
	ErrTerminalState = errors.New("messaging: entry in terminal state")
)

// OutboxStatus is the lifecycle state of an outbox entry.
type OutboxStatus int

const (
	// OutboxPending - waiting to be leased by the processor
	OutboxPending OutboxStatus = iota

	// OutboxPublishing - leased and being handed to the transport
	OutboxPublishing

	// OutboxPublished - delivered to the transport at least once
	OutboxPublished

	// OutboxFailed - last attempt failed; will be retried after backoff
	OutboxFailed

	// OutboxDeadLettered - retries exhausted; retained and mirrored to the DLQ
	OutboxDeadLettered
)

// String returns a human-readable status name
func (s OutboxStatus) String() string {
	switch s {
	case OutboxPending:
		return "PENDING"
	case OutboxPublishing:
		return "PUBLISHING"
	case OutboxPublished:
		return "PUBLISHED"
	case OutboxFailed:
		return "FAILED"
	case OutboxDeadLettered:
		return "DEAD_LETTERED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal returns true if the status is final
func (s OutboxStatus) IsTerminal() bool {
	return s == OutboxPublished || s == OutboxDeadLettered
}

// OutboxEntry is a message persisted for store-then-publish delivery.
// It is created in the caller's business transaction and published by the
// background processor.
type OutboxEntry struct {
	ID            string
	Envelope      *Envelope
	Destination   string
	Priority      int
	CreatedAt     time.Time
	Status        OutboxStatus
	Attempt       int
	NextAttemptAt time.Time
	LeaseToken    string
	LeaseExpiry   time.Time
	LastError     string

	// MaxRetries and RetryDelay override the processor's defaults when
	// non-zero
	MaxRetries int
	RetryDelay time.Duration
}

// InboxStatus is the lifecycle state of an inbox entry.
type InboxStatus int

const (
	InboxReceived InboxStatus = iota
	InboxProcessing
	InboxProcessed
	InboxFailed
)

// String returns a human-readable status name
func (s InboxStatus) String() string {
	switch s {
	case InboxReceived:
		return "RECEIVED"
	case InboxProcessing:
		return "PROCESSING"
	case InboxProcessed:
		return "PROCESSED"
	case InboxFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// InboxEntry records a message seen on ingress for deduplication.
// Invariant: for any (messageID, source) within the dedup window, at most
// one entry is Processing or Processed.
type InboxEntry struct {
	MessageID   string
	Source      string
	ReceivedAt  time.Time
	Status      InboxStatus
	ProcessedAt time.Time
	Attempt     int
}

// ClaimResult is the outcome of an inbox claim attempt.
type ClaimResult int

const (
	// ClaimNew - the claim succeeded; the caller owns processing
	ClaimNew ClaimResult = iota

	// ClaimInFlight - another claim is currently Processing
	ClaimInFlight

	// ClaimProcessed - the message was already processed within the window
	ClaimProcessed
)

// DeadLetterStatus is the lifecycle state of a dead-letter entry.
// Terminal states (Retried, Discarded, Expired) are never left again.
type DeadLetterStatus int

const (
	DeadLetterActive DeadLetterStatus = iota
	DeadLetterRetried
	DeadLetterDiscarded
	DeadLetterExpired
)

// String returns a human-readable status name
func (s DeadLetterStatus) String() string {
	switch s {
	case DeadLetterActive:
		return "ACTIVE"
	case DeadLetterRetried:
		return "RETRIED"
	case DeadLetterDiscarded:
		return "DISCARDED"
	case DeadLetterExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal returns true if the status is final
func (s DeadLetterStatus) IsTerminal() bool {
	return s != DeadLetterActive
}

// DeadLetterEntry retains a message that could not be processed, with enough
// context to retry or discard it manually.
type DeadLetterEntry struct {
	ID          string
	Envelope    *Envelope
	Reason      string
	Error       string
	Component   string
	RetryCount  int
	FailureTime time.Time
	Status      DeadLetterStatus
	Metadata    map[string]string
}

// QueueMessage is a message persisted on a named queue. Ordering is priority
// descending, then enqueue time ascending, then ID ascending.
type QueueMessage struct {
	Envelope    *Envelope
	QueueName   string
	Priority    int
	EnqueueTime time.Time
	VisibleAt   time.Time
	Attempt     int
	LeaseToken  string
	LeaseExpiry time.Time
}

// MessageQuery selects messages from a MessageStore.
type MessageQuery struct {
	Type  string
	Since time.Time
	Until time.Time
	Limit int
}

// MessageStore persists raw envelopes with optional TTL expiry.
// TTL-expired entries behave as deleted on subsequent reads.
type MessageStore interface {
	Store(ctx context.Context, env *Envelope, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Envelope, error)

	// Update replaces a stored envelope in place, keeping its remaining
	// TTL; ErrNotFound when the entry is absent or expired
	Update(ctx context.Context, env *Envelope) error

	Query(ctx context.Context, q MessageQuery) ([]*Envelope, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error

	// WithTx runs fn inside the backend's transactional scope; store calls
	// made with the passed context join it. Backends without transactions
	// run fn directly.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OutboxStore persists outbox entries. Leased entries are invisible to other
// pollers until the lease expires or the entry reaches a terminal status.
type OutboxStore interface {
	// Add persists a new entry with status Pending
	Add(ctx context.Context, entry *OutboxEntry) error

	// LeaseReady leases up to limit Pending or Failed entries whose
	// NextAttemptAt is not after now, ordered by priority desc, createdAt
	// asc, id asc. Returned entries are Publishing and carry a fresh lease
	// token.
	LeaseReady(ctx context.Context, limit int, leaseFor time.Duration, now time.Time) ([]*OutboxEntry, error)

	// MarkPublished transitions a leased entry to Published
	MarkPublished(ctx context.Context, id, leaseToken string) error

	// MarkFailed transitions a leased entry to Failed with an incremented
	// attempt counter and NextAttemptAt pushed out by retryAfter
	MarkFailed(ctx context.Context, id, leaseToken string, retryAfter time.Duration, cause string) error

	// MarkDeadLettered transitions a leased entry to DeadLettered
	MarkDeadLettered(ctx context.Context, id, leaseToken string, cause string) error

	// ReclaimExpired returns Publishing entries with expired leases to
	// Pending and reports how many were reclaimed
	ReclaimExpired(ctx context.Context, now time.Time) (int, error)

	// ListDeadLettered returns up to limit DeadLettered entries
	ListDeadLettered(ctx context.Context, limit int) ([]*OutboxEntry, error)

	// CountPending returns the number of entries awaiting publication
	// (Pending or Failed)
	CountPending(ctx context.Context) (int, error)
}

// InboxStore deduplicates incoming messages per (messageID, source).
type InboxStore interface {
	// TryClaim atomically claims (messageID, source) for processing within
	// the dedup window. ClaimNew marks the entry Processing.
	TryClaim(ctx context.Context, messageID, source string, window time.Duration) (ClaimResult, error)

	// MarkProcessed transitions the claimed entry to Processed
	MarkProcessed(ctx context.Context, messageID, source string) error

	// MarkFailed transitions the claimed entry to Failed so a later
	// delivery may claim it again
	MarkFailed(ctx context.Context, messageID, source string) error
}

// QueueStore persists named-queue messages with visibility and leases.
type QueueStore interface {
	Enqueue(ctx context.Context, msg *QueueMessage) error

	// LeaseReady leases up to limit messages of the queue whose VisibleAt
	// is not after now, ordered by priority desc, enqueueTime asc, id asc
	LeaseReady(ctx context.Context, queue string, limit int, leaseFor time.Duration, now time.Time) ([]*QueueMessage, error)

	// Acknowledge deletes a leased message
	Acknowledge(ctx context.Context, queue, messageID, leaseToken string) error

	// Requeue makes a leased message visible again at visibleAt with the
	// given attempt counter
	Requeue(ctx context.Context, queue, messageID, leaseToken string, visibleAt time.Time, attempt int) error

	// ExtendLease pushes out the lease expiry of a leased message
	ExtendLease(ctx context.Context, queue, messageID, leaseToken string, until time.Time) error

	// ReclaimExpired returns leased messages with expired leases to the
	// ready set and reports how many were reclaimed
	ReclaimExpired(ctx context.Context, now time.Time) (int, error)

	// Depth returns the number of messages on the queue (ready + leased)
	Depth(ctx context.Context, queue string) (int, error)
}

// DeadLetterStore persists dead-letter entries.
type DeadLetterStore interface {
	Add(ctx context.Context, entry *DeadLetterEntry) error
	Get(ctx context.Context, id string) (*DeadLetterEntry, error)
	List(ctx context.Context, limit int) ([]*DeadLetterEntry, error)

	// MarkRetried transitions an Active entry to Retried; terminal entries
	// are never transitioned again
	MarkRetried(ctx context.Context, id string) error

	// MarkDiscarded transitions an Active entry to Discarded
	MarkDiscarded(ctx context.Context, id string) error

	Count(ctx context.Context) (int, error)
}

// Tx is a storage transaction handle. The in-memory backend satisfies the
// contract with no-op transactions; durable backends bind it to their unit
// of work.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Storage aggregates the store contracts a backend must provide.
type Storage interface {
	Messages() MessageStore
	Outbox() OutboxStore
	Inbox() InboxStore
	Queues() QueueStore
	DeadLetters() DeadLetterStore

	// Begin opens a transactional scope covering subsequent store calls
	// made with the returned context
	Begin(ctx context.Context) (Tx, error)

	// Ping reports whether the backend is reachable
	Ping(ctx context.Context) error
}
