// Package memory implements the storage contracts on in-process maps.
// It is the default backend: single-node, mutex-guarded, no persistence.
// All returned entries are copies; callers never share memory with the store.
package memory

import (
	"context"
	"time"

	"github.com/kitemq/kite/messaging"
)

// Storage is the in-memory backend aggregating every store.
type Storage struct {
	now func() time.Time

	messages    *messageStore
	outbox      *outboxStore
	inbox       *inboxStore
	queues      *queueStore
	deadLetters *deadLetterStore
}

// New creates an in-memory storage backend
func New() *Storage {
	return NewWithClock(time.Now)
}

// NewWithClock creates a backend with an injected clock. Tests use this to
// control TTL and dedup-window expiry.
func NewWithClock(now func() time.Time) *Storage {
	return &Storage{
		now:         now,
		messages:    newMessageStore(now),
		outbox:      newOutboxStore(now),
		inbox:       newInboxStore(now),
		queues:      newQueueStore(),
		deadLetters: newDeadLetterStore(),
	}
}

// Messages returns the message store
func (s *Storage) Messages() messaging.MessageStore { return s.messages }

// Outbox returns the outbox store
func (s *Storage) Outbox() messaging.OutboxStore { return s.outbox }

// Inbox returns the inbox store
func (s *Storage) Inbox() messaging.InboxStore { return s.inbox }

// Queues returns the named-queue store
func (s *Storage) Queues() messaging.QueueStore { return s.queues }

// DeadLetters returns the dead-letter store
func (s *Storage) DeadLetters() messaging.DeadLetterStore { return s.deadLetters }

// Begin returns a no-op transaction: in-memory operations are individually
// atomic and there is no unit of work to bind
func (s *Storage) Begin(ctx context.Context) (messaging.Tx, error) {
	return noopTx{}, nil
}

// Ping always succeeds for the in-memory backend
func (s *Storage) Ping(ctx context.Context) error { return nil }

type noopTx struct{}

// Commit is a no-op
func (noopTx) Commit(ctx context.Context) error { return nil }

// Rollback is a no-op
func (noopTx) Rollback(ctx context.Context) error { return nil }
