// Package messaging defines the data model and the contracts shared by the
// kite runtime: the message envelope, handler and result types, the error
// taxonomy, and the storage, transport, idempotency and serializer interfaces
// that pluggable backends implement.
package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a message by its dispatch semantics.
type Kind int

const (
	// KindCommand - an intent that mutates state; at most one handler,
	// optionally returns a response.
	KindCommand Kind = iota

	// KindQuery - a read-only request; at most one handler, returns a response.
	KindQuery

	// KindEvent - a notification; fan-out to zero or more handlers.
	KindEvent
)

// String returns a human-readable kind name
func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "COMMAND"
	case KindQuery:
		return "QUERY"
	case KindEvent:
		return "EVENT"
	default:
		return "UNKNOWN"
	}
}

// Envelope is the opaque message container moved through the runtime.
// The Type tag selects the handler chain; Payload carries the user value.
// Body holds the serialized form when the envelope crosses a transport.
type Envelope struct {
	// ID is the unique message identifier (UUID). It is stable for the
	// lifetime of the message and drives inbox deduplication.
	ID string `json:"id"`

	// Type is the message type tag used for handler lookup
	Type string `json:"type"`

	// Kind is the dispatch semantics of the message
	Kind Kind `json:"kind"`

	// Payload is the in-process message value
	Payload any `json:"payload,omitempty"`

	// Body is the serialized payload, set when crossing a transport
	Body []byte `json:"body,omitempty"`

	// ContentType identifies the serialization of Body
	ContentType string `json:"contentType,omitempty"`

	// CorrelationID links messages belonging to the same interaction
	CorrelationID string `json:"correlationId,omitempty"`

	// CausationID is the ID of the message that caused this one
	CausationID string `json:"causationId,omitempty"`

	// Timestamp is assigned at creation and is monotone per producer
	Timestamp time.Time `json:"timestamp"`

	// Metadata carries string-keyed context (tracing, signatures, routing)
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewCommand creates a command envelope for the given type tag
func NewCommand(msgType string, payload any) *Envelope {
	return newEnvelope(msgType, KindCommand, payload)
}

// NewQuery creates a query envelope for the given type tag
func NewQuery(msgType string, payload any) *Envelope {
	return newEnvelope(msgType, KindQuery, payload)
}

// NewEvent creates an event envelope for the given type tag
func NewEvent(msgType string, payload any) *Envelope {
	return newEnvelope(msgType, KindEvent, payload)
}

func newEnvelope(msgType string, kind Kind, payload any) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Type:      msgType,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// WithCorrelation returns a copy with correlation and causation set
func (e *Envelope) WithCorrelation(correlationID, causationID string) *Envelope {
	clone := e.Clone()
	clone.CorrelationID = correlationID
	clone.CausationID = causationID
	return clone
}

// WithMetadata returns a copy with the given metadata key set.
// The original envelope is never mutated.
func (e *Envelope) WithMetadata(key, value string) *Envelope {
	clone := e.Clone()
	if clone.Metadata == nil {
		clone.Metadata = make(map[string]string, 1)
	}
	clone.Metadata[key] = value
	return clone
}

// Meta returns the metadata value for key, or "" when absent
func (e *Envelope) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// Clone returns a copy of the envelope with its own metadata map.
// Payload and Body are shared; callers must treat them as immutable.
func (e *Envelope) Clone() *Envelope {
	clone := *e
	if e.Metadata != nil {
		clone.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
