package messaging

import "encoding/json"

// Compression selects the payload compression applied by a serializer.
// Compression is chosen by configuration and transparent to callers.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionFastest
	CompressionOptimal
	CompressionSmallestSize
)

// Serializer converts message payloads to and from bytes. Implementations
// are plugins; the runtime only depends on this contract. ContentType is
// recorded on envelopes so the receiving side can pick the right plugin.
type Serializer interface {
	ContentType() string
	Serialize(v any) ([]byte, error)
	Deserialize(data []byte, v any) error
}

// JSONSerializer is the default serializer used when none is configured.
type JSONSerializer struct{}

// ContentType returns the media type of the serialized form
func (JSONSerializer) ContentType() string { return "application/json" }

// Serialize encodes v as JSON
func (JSONSerializer) Serialize(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Deserialize decodes JSON data into v
func (JSONSerializer) Deserialize(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
