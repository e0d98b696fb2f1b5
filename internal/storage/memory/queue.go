package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kitemq/kite/messaging"
)

type queueStore struct {
	mu     sync.Mutex
	queues map[string]map[string]*messaging.QueueMessage // queue -> message ID -> message
}

func newQueueStore() *queueStore {
	return &queueStore{queues: make(map[string]map[string]*messaging.QueueMessage)}
}

func copyQueueMessage(m *messaging.QueueMessage) *messaging.QueueMessage {
	c := *m
	if m.Envelope != nil {
		c.Envelope = m.Envelope.Clone()
	}
	return &c
}

// Enqueue persists a message on its named queue
func (s *queueStore) Enqueue(ctx context.Context, msg *messaging.QueueMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[msg.QueueName]
	if !ok {
		q = make(map[string]*messaging.QueueMessage)
		s.queues[msg.QueueName] = q
	}
	c := copyQueueMessage(msg)
	c.LeaseToken = ""
	c.LeaseExpiry = time.Time{}
	q[c.Envelope.ID] = c
	return nil
}

// LeaseReady leases visible unleased messages ordered by priority desc,
// enqueueTime asc, id asc
func (s *queueStore) LeaseReady(ctx context.Context, queue string, limit int, leaseFor time.Duration, now time.Time) ([]*messaging.QueueMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[queue]
	var ready []*messaging.QueueMessage
	for _, m := range q {
		if m.LeaseToken != "" {
			continue
		}
		if m.VisibleAt.After(now) {
			continue
		}
		ready = append(ready, m)
	}
	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.EnqueueTime.Equal(b.EnqueueTime) {
			return a.EnqueueTime.Before(b.EnqueueTime)
		}
		return a.Envelope.ID < b.Envelope.ID
	})
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}

	out := make([]*messaging.QueueMessage, 0, len(ready))
	for _, m := range ready {
		m.LeaseToken = uuid.NewString()
		m.LeaseExpiry = now.Add(leaseFor)
		out = append(out, copyQueueMessage(m))
	}
	return out, nil
}

func (s *queueStore) leased(queue, messageID, leaseToken string) (*messaging.QueueMessage, error) {
	m, ok := s.queues[queue][messageID]
	if !ok {
		return nil, messaging.ErrNotFound
	}
	if m.LeaseToken == "" || m.LeaseToken != leaseToken {
		return nil, messaging.ErrLeaseMismatch
	}
	return m, nil
}

// Acknowledge deletes a leased message
func (s *queueStore) Acknowledge(ctx context.Context, queue, messageID, leaseToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.leased(queue, messageID, leaseToken); err != nil {
		return err
	}
	delete(s.queues[queue], messageID)
	return nil
}

// Requeue makes a leased message visible again at visibleAt
func (s *queueStore) Requeue(ctx context.Context, queue, messageID, leaseToken string, visibleAt time.Time, attempt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.leased(queue, messageID, leaseToken)
	if err != nil {
		return err
	}
	m.LeaseToken = ""
	m.LeaseExpiry = time.Time{}
	m.VisibleAt = visibleAt
	m.Attempt = attempt
	return nil
}

// ExtendLease pushes out the lease expiry of a leased message
func (s *queueStore) ExtendLease(ctx context.Context, queue, messageID, leaseToken string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.leased(queue, messageID, leaseToken)
	if err != nil {
		return err
	}
	m.LeaseExpiry = until
	return nil
}

// ReclaimExpired returns messages with expired leases to the ready set
func (s *queueStore) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queues {
		for _, m := range q {
			if m.LeaseToken != "" && !m.LeaseExpiry.After(now) {
				m.LeaseToken = ""
				m.LeaseExpiry = time.Time{}
				n++
			}
		}
	}
	return n, nil
}

// Depth returns the number of messages on the queue, ready and leased
func (s *queueStore) Depth(ctx context.Context, queue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[queue]), nil
}
