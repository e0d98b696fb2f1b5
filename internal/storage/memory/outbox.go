package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kitemq/kite/messaging"
)

type outboxStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*messaging.OutboxEntry
}

func newOutboxStore(now func() time.Time) *outboxStore {
	return &outboxStore{now: now, entries: make(map[string]*messaging.OutboxEntry)}
}

func copyOutboxEntry(e *messaging.OutboxEntry) *messaging.OutboxEntry {
	c := *e
	if e.Envelope != nil {
		c.Envelope = e.Envelope.Clone()
	}
	return &c
}

// Add persists a new entry with status Pending
func (s *outboxStore) Add(ctx context.Context, entry *messaging.OutboxEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := copyOutboxEntry(entry)
	c.Status = messaging.OutboxPending
	s.entries[c.ID] = c
	return nil
}

// LeaseReady leases ready Pending/Failed entries ordered by priority desc,
// createdAt asc, id asc
func (s *outboxStore) LeaseReady(ctx context.Context, limit int, leaseFor time.Duration, now time.Time) ([]*messaging.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []*messaging.OutboxEntry
	for _, e := range s.entries {
		if e.Status != messaging.OutboxPending && e.Status != messaging.OutboxFailed {
			continue
		}
		if e.NextAttemptAt.After(now) {
			continue
		}
		ready = append(ready, e)
	}
	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}

	out := make([]*messaging.OutboxEntry, 0, len(ready))
	for _, e := range ready {
		e.Status = messaging.OutboxPublishing
		e.LeaseToken = uuid.NewString()
		e.LeaseExpiry = now.Add(leaseFor)
		out = append(out, copyOutboxEntry(e))
	}
	return out, nil
}

// checkLease returns the live entry if id exists, is Publishing and the
// token matches
func (s *outboxStore) checkLease(id, leaseToken string) (*messaging.OutboxEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, messaging.ErrNotFound
	}
	if e.Status.IsTerminal() {
		return nil, messaging.ErrTerminalState
	}
	if e.Status != messaging.OutboxPublishing || e.LeaseToken != leaseToken {
		return nil, messaging.ErrLeaseMismatch
	}
	return e, nil
}

// MarkPublished transitions a leased entry to Published
func (s *outboxStore) MarkPublished(ctx context.Context, id, leaseToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.checkLease(id, leaseToken)
	if err != nil {
		return err
	}
	e.Status = messaging.OutboxPublished
	e.LeaseToken = ""
	e.LeaseExpiry = time.Time{}
	return nil
}

// MarkFailed transitions a leased entry to Failed with backoff
func (s *outboxStore) MarkFailed(ctx context.Context, id, leaseToken string, retryAfter time.Duration, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.checkLease(id, leaseToken)
	if err != nil {
		return err
	}
	e.Status = messaging.OutboxFailed
	e.Attempt++
	e.NextAttemptAt = s.now().Add(retryAfter)
	e.LastError = cause
	e.LeaseToken = ""
	e.LeaseExpiry = time.Time{}
	return nil
}

// MarkDeadLettered transitions a leased entry to DeadLettered
func (s *outboxStore) MarkDeadLettered(ctx context.Context, id, leaseToken string, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.checkLease(id, leaseToken)
	if err != nil {
		return err
	}
	e.Status = messaging.OutboxDeadLettered
	e.LastError = cause
	e.LeaseToken = ""
	e.LeaseExpiry = time.Time{}
	return nil
}

// ReclaimExpired returns Publishing entries with expired leases to Pending
func (s *outboxStore) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Status == messaging.OutboxPublishing && !e.LeaseExpiry.After(now) {
			e.Status = messaging.OutboxPending
			e.LeaseToken = ""
			e.LeaseExpiry = time.Time{}
			n++
		}
	}
	return n, nil
}

// ListDeadLettered returns up to limit DeadLettered entries, oldest first
func (s *outboxStore) ListDeadLettered(ctx context.Context, limit int) ([]*messaging.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*messaging.OutboxEntry
	for _, e := range s.entries {
		if e.Status == messaging.OutboxDeadLettered {
			out = append(out, copyOutboxEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountPending returns entries awaiting publication
func (s *outboxStore) CountPending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Status == messaging.OutboxPending || e.Status == messaging.OutboxFailed {
			n++
		}
	}
	return n, nil
}
