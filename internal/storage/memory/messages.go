package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kitemq/kite/messaging"
)

type storedMessage struct {
	env       *messaging.Envelope
	expiresAt time.Time // zero means no TTL
}

func (m *storedMessage) expired(now time.Time) bool {
	return !m.expiresAt.IsZero() && !now.Before(m.expiresAt)
}

type messageStore struct {
	mu   sync.RWMutex
	now  func() time.Time
	msgs map[string]*storedMessage
}

func newMessageStore(now func() time.Time) *messageStore {
	return &messageStore{now: now, msgs: make(map[string]*storedMessage)}
}

// Store persists an envelope; ttl zero means no expiry
func (s *messageStore) Store(ctx context.Context, env *messaging.Envelope, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	s.msgs[env.ID] = &storedMessage{env: env.Clone(), expiresAt: expiresAt}
	return nil
}

// Get returns the envelope, or ErrNotFound when absent or expired.
// An entry exactly at its expiry is already expired.
func (s *messageStore) Get(ctx context.Context, id string) (*messaging.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, messaging.ErrNotFound
	}
	if m.expired(s.now()) {
		delete(s.msgs, id)
		return nil, messaging.ErrNotFound
	}
	return m.env.Clone(), nil
}

// Update replaces a stored envelope, keeping its remaining TTL
func (s *messageStore) Update(ctx context.Context, env *messaging.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[env.ID]
	if !ok {
		return messaging.ErrNotFound
	}
	if m.expired(s.now()) {
		delete(s.msgs, env.ID)
		return messaging.ErrNotFound
	}
	m.env = env.Clone()
	return nil
}

// WithTx runs fn directly: individual in-memory operations are atomic and
// there is no unit of work to join
func (s *messageStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Query returns envelopes matching q ordered by timestamp asc, id asc
func (s *messageStore) Query(ctx context.Context, q messaging.MessageQuery) ([]*messaging.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	var out []*messaging.Envelope
	for _, m := range s.msgs {
		if m.expired(now) {
			continue
		}
		if q.Type != "" && m.env.Type != q.Type {
			continue
		}
		if !q.Since.IsZero() && m.env.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && m.env.Timestamp.After(q.Until) {
			continue
		}
		out = append(out, m.env.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Delete removes an entry; deleting an absent entry is not an error
func (s *messageStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.msgs, id)
	return nil
}

// Exists reports whether an unexpired entry is present
func (s *messageStore) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.msgs[id]
	return ok && !m.expired(s.now()), nil
}

// Count returns the number of unexpired entries
func (s *messageStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	n := 0
	for _, m := range s.msgs {
		if !m.expired(now) {
			n++
		}
	}
	return n, nil
}

// Clear removes all entries
func (s *messageStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = make(map[string]*storedMessage)
	return nil
}
