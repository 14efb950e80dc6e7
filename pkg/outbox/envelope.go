package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/heuristiclogix/eventrelay/pkg/enums"
)

// Envelope is the stable payload structure stored in outbox_events and
// delivered to consumers unchanged.
type Envelope struct {
	EventID       string          `json:"eventId"`
	Type          enums.EventType `json:"type"`
	SchemaVersion int             `json:"schemaVersion"`
	Topic         string          `json:"topic"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Historic      bool            `json:"historic,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// ID parses the event id.
func (e Envelope) ID() (uuid.UUID, error) {
	return uuid.Parse(e.EventID)
}

// DecodeEnvelope parses and validates a serialized envelope.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if _, err := env.ID(); err != nil {
		return nil, fmt.Errorf("%w: event id %q", ErrInvalidEnvelope, env.EventID)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: type missing", ErrInvalidEnvelope)
	}
	if env.SchemaVersion <= 0 {
		return nil, fmt.Errorf("%w: schema version %d", ErrInvalidEnvelope, env.SchemaVersion)
	}
	trimmed := bytes.TrimSpace(env.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: data missing", ErrInvalidEnvelope)
	}
	return &env, nil
}
