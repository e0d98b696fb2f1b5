package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/kitemq/kite/messaging"
)

type deadLetterStore struct {
	mu      sync.Mutex
	entries map[string]*messaging.DeadLetterEntry
}

func newDeadLetterStore() *deadLetterStore {
	return &deadLetterStore{entries: make(map[string]*messaging.DeadLetterEntry)}
}

func copyDeadLetter(e *messaging.DeadLetterEntry) *messaging.DeadLetterEntry {
	c := *e
	if e.Envelope != nil {
		c.Envelope = e.Envelope.Clone()
	}
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Add persists a dead-letter entry with status Active
func (s *deadLetterStore) Add(ctx context.Context, entry *messaging.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := copyDeadLetter(entry)
	c.Status = messaging.DeadLetterActive
	s.entries[c.ID] = c
	return nil
}

// Get returns an entry by ID
func (s *deadLetterStore) Get(ctx context.Context, id string) (*messaging.DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, messaging.ErrNotFound
	}
	return copyDeadLetter(e), nil
}

// List returns up to limit entries, most recent failures first
func (s *deadLetterStore) List(ctx context.Context, limit int) ([]*messaging.DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*messaging.DeadLetterEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, copyDeadLetter(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FailureTime.Equal(out[j].FailureTime) {
			return out[i].FailureTime.After(out[j].FailureTime)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// transition moves an Active entry to a terminal status. Terminal entries
// are never transitioned again.
func (s *deadLetterStore) transition(id string, to messaging.DeadLetterStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return messaging.ErrNotFound
	}
	if e.Status.IsTerminal() {
		return messaging.ErrTerminalState
	}
	e.Status = to
	return nil
}

// MarkRetried transitions an Active entry to Retried
func (s *deadLetterStore) MarkRetried(ctx context.Context, id string) error {
	return s.transition(id, messaging.DeadLetterRetried)
}

// MarkDiscarded transitions an Active entry to Discarded
func (s *deadLetterStore) MarkDiscarded(ctx context.Context, id string) error {
	return s.transition(id, messaging.DeadLetterDiscarded)
}

// Count returns the number of Active entries
func (s *deadLetterStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Status == messaging.DeadLetterActive {
			n++
		}
	}
	return n, nil
}
