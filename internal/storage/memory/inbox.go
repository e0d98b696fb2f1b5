package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kitemq/kite/messaging"
)

type inboxStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[inboxKey]*messaging.InboxEntry
}

type inboxKey struct {
	messageID string
	source    string
}

func newInboxStore(now func() time.Time) *inboxStore {
	return &inboxStore{now: now, entries: make(map[inboxKey]*messaging.InboxEntry)}
}

// TryClaim atomically claims (messageID, source) for processing. Within the
// dedup window at most one claim is ever Processing or Processed; entries
// outside the window behave as never seen.
func (s *inboxStore) TryClaim(ctx context.Context, messageID, source string, window time.Duration) (messaging.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := inboxKey{messageID: messageID, source: source}
	e, ok := s.entries[key]
	if ok && window > 0 {
		switch e.Status {
		case messaging.InboxProcessing:
			if now.Before(e.ReceivedAt.Add(window)) {
				return messaging.ClaimInFlight, nil
			}
		case messaging.InboxProcessed:
			if now.Before(e.ProcessedAt.Add(window)) {
				return messaging.ClaimProcessed, nil
			}
		}
	}

	attempt := 1
	if ok {
		attempt = e.Attempt + 1
	}
	s.entries[key] = &messaging.InboxEntry{
		MessageID:  messageID,
		Source:     source,
		ReceivedAt: now,
		Status:     messaging.InboxProcessing,
		Attempt:    attempt,
	}
	return messaging.ClaimNew, nil
}

// MarkProcessed transitions the claimed entry to Processed
func (s *inboxStore) MarkProcessed(ctx context.Context, messageID, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[inboxKey{messageID: messageID, source: source}]
	if !ok {
		return messaging.ErrNotFound
	}
	e.Status = messaging.InboxProcessed
	e.ProcessedAt = s.now()
	return nil
}

// MarkFailed transitions the claimed entry to Failed so a later delivery
// may claim it again
func (s *inboxStore) MarkFailed(ctx context.Context, messageID, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[inboxKey{messageID: messageID, source: source}]
	if !ok {
		return messaging.ErrNotFound
	}
	e.Status = messaging.InboxFailed
	return nil
}
