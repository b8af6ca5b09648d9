package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the canonical wire format every inter-stage payload is
// wrapped in exactly once (spec §4.10). Double-wrapping an already-wrapped
// payload is a bug, not a supported pattern.
type Envelope struct {
	MessageID     string          `json:"message_id"`
	Schema        string          `json:"schema"`
	CorrelationID string          `json:"correlation_id"`
	TraceID       string          `json:"trace_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Priority      int             `json:"priority"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload (marshalled to JSON) in an Envelope with a
// freshly generated message ID and the current UTC timestamp.
func NewEnvelope(schema, correlationID, traceID string, priority int, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope payload: %w", err)
	}
	return Envelope{
		MessageID:     uuid.New().String(),
		Schema:        schema,
		CorrelationID: correlationID,
		TraceID:       traceID,
		Timestamp:     time.Now().UTC(),
		Priority:      priority,
		Payload:       raw,
	}, nil
}

// Decode unmarshals the envelope's payload into dst. Callers are expected
// to switch on Schema before calling Decode, and to fail closed (return an
// error, never best-effort guess) on an unrecognized schema.
func (e Envelope) Decode(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("events: decode envelope payload for schema %s: %w", e.Schema, err)
	}
	return nil
}

// UnknownSchemaError is returned by decoders that switch on Envelope.Schema
// when no case matches. Decoders must fail closed rather than guess.
type UnknownSchemaError struct {
	Schema string
}

func (e UnknownSchemaError) Error() string {
	return fmt.Sprintf("events: unknown schema %q", e.Schema)
}
