// Package dispatch routes envelopes to registered handlers by message type.
// Lookup is a map keyed by the envelope's type tag; no reflection is
// involved.
package dispatch

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kitemq/kite/messaging"
)

// Registry holds handler registrations. Commands and queries allow exactly
// one handler per type; events allow any number.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]messaging.HandlerEntry
	queries  map[string]messaging.HandlerEntry
	events   map[string][]messaging.HandlerEntry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]messaging.HandlerEntry),
		queries:  make(map[string]messaging.HandlerEntry),
		events:   make(map[string][]messaging.HandlerEntry),
	}
}

// RegisterCommand registers the single handler for a command type
func (r *Registry) RegisterCommand(msgType string, entry messaging.HandlerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[msgType]; exists {
		return fmt.Errorf("command handler already registered for %q", msgType)
	}
	r.commands[msgType] = entry
	return nil
}

// RegisterQuery registers the single handler for a query type
func (r *Registry) RegisterQuery(msgType string, entry messaging.HandlerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.queries[msgType]; exists {
		return fmt.Errorf("query handler already registered for %q", msgType)
	}
	r.queries[msgType] = entry
	return nil
}

// RegisterEvent adds a handler for an event type. Multiple handlers per
// type are allowed; each receives every published event.
func (r *Registry) RegisterEvent(msgType string, entry messaging.HandlerEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[msgType] = append(r.events[msgType], entry)
}

// CommandHandler returns the handler for a command type
func (r *Registry) CommandHandler(msgType string) (messaging.HandlerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.commands[msgType]
	return e, ok
}

// QueryHandler returns the handler for a query type
func (r *Registry) QueryHandler(msgType string) (messaging.HandlerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.queries[msgType]
	return e, ok
}

// EventHandlers returns all handlers for an event type in registration order
func (r *Registry) EventHandlers(msgType string) []messaging.HandlerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.events[msgType]
	out := make([]messaging.HandlerEntry, len(entries))
	copy(out, entries)
	return out
}

// RegisteredTypes lists all registered message types per kind, sorted.
// Used by the ops API.
func (r *Registry) RegisteredTypes() map[messaging.Kind][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[messaging.Kind][]string{
		messaging.KindCommand: sortedKeys(r.commands),
		messaging.KindQuery:   sortedKeys(r.queries),
		messaging.KindEvent:   sortedEventKeys(r.events),
	}
	return out
}

func sortedKeys(m map[string]messaging.HandlerEntry) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedEventKeys(m map[string][]messaging.HandlerEntry) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
