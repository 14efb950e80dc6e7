package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/heuristiclogix/eventrelay/pkg/enums"
	"github.com/heuristiclogix/eventrelay/pkg/outbox"
	"github.com/heuristiclogix/eventrelay/pkg/outbox/payloads"
)

// EventDescriptor links an event type and schema version to its topic and
// payload schema.
type EventDescriptor struct {
	EventType      enums.EventType
	SchemaVersion  int
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is the result of decoding a delivered envelope.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.Envelope
	Payload    any
}

type registryKey struct {
	eventType enums.EventType
	version   int
}

// EventRegistry maps each supported (event type, version) to its descriptor.
// Producers use it to route an event to its topic; consumers use it to decode
// payloads.
type EventRegistry struct {
	mtx     sync.RWMutex
	entries map[registryKey]EventDescriptor
	latest  map[enums.EventType]int
}

// NonRetryableError signals that redelivering the same bytes can never succeed.
type NonRetryableError struct {
	Err error
}

// Error implements error.
func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error.
func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err carries a NonRetryableError.
func IsNonRetryable(err error) bool {
	var nonRetry NonRetryableError
	return errors.As(err, &nonRetry)
}

// NewEmptyRegistry builds a registry with no events registered.
func NewEmptyRegistry() *EventRegistry {
	return &EventRegistry{
		entries: make(map[registryKey]EventDescriptor),
		latest:  make(map[enums.EventType]int),
	}
}

// NewEventRegistry builds the registry of every event this system emits.
func NewEventRegistry() *EventRegistry {
	reg := NewEmptyRegistry()
	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventOrderCreated,
			SchemaVersion:  1,
			Topic:          enums.TopicExpertDecisions,
			PayloadFactory: func() any { return &payloads.OrderCreatedEvent{} },
		},
		{
			EventType:      enums.EventOrderDecided,
			SchemaVersion:  1,
			Topic:          enums.TopicExpertDecisions,
			PayloadFactory: func() any { return &payloads.OrderDecidedEvent{} },
		},
		{
			EventType:      enums.EventOrderDelivered,
			SchemaVersion:  1,
			Topic:          enums.TopicHistoricDeliveries,
			PayloadFactory: func() any { return &payloads.OrderDeliveredEvent{} },
		},
		{
			EventType:      enums.EventTelemetryReported,
			SchemaVersion:  1,
			Topic:          enums.TopicHeuristicTelemetry,
			PayloadFactory: func() any { return &payloads.TelemetryReportedEvent{} },
		},
	} {
		// static descriptors above are always valid
		_ = reg.Register(desc)
	}
	return reg
}

// Register stores a descriptor, replacing any previous one for the same
// type and version.
func (r *EventRegistry) Register(desc EventDescriptor) error {
	if !desc.EventType.IsValid() {
		return fmt.Errorf("unknown event type %q", desc.EventType)
	}
	if desc.SchemaVersion <= 0 {
		return fmt.Errorf("schema version must be positive for %s", desc.EventType)
	}
	if desc.Topic == "" {
		return fmt.Errorf("topic is required for %s", desc.EventType)
	}
	if desc.PayloadFactory == nil {
		return fmt.Errorf("payload factory is required for %s", desc.EventType)
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.entries[registryKey{eventType: desc.EventType, version: desc.SchemaVersion}] = desc
	if desc.SchemaVersion > r.latest[desc.EventType] {
		r.latest[desc.EventType] = desc.SchemaVersion
	}
	return nil
}

// Lookup returns the newest descriptor registered for eventType.
func (r *EventRegistry) Lookup(eventType enums.EventType) (EventDescriptor, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	version, ok := r.latest[eventType]
	if !ok {
		return EventDescriptor{}, false
	}
	desc, ok := r.entries[registryKey{eventType: eventType, version: version}]
	return desc, ok
}

// Topics lists every topic a registered event is routed to, sorted.
func (r *EventRegistry) Topics() []string {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	seen := map[string]struct{}{}
	for _, desc := range r.entries {
		seen[desc.Topic] = struct{}{}
	}
	topics := make([]string, 0, len(seen))
	for topic := range seen {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Resolve validates a serialized envelope and decodes its typed payload.
// Every failure is non-retryable: the same bytes will fail again.
func (r *EventRegistry) Resolve(raw []byte) (*ResolvedEvent, error) {
	envelope, err := outbox.DecodeEnvelope(raw)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}

	r.mtx.RLock()
	desc, ok := r.entries[registryKey{eventType: envelope.Type, version: envelope.SchemaVersion}]
	r.mtx.RUnlock()
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event %s@v%d", envelope.Type, envelope.SchemaVersion))
	}
	if envelope.Topic != "" && envelope.Topic != desc.Topic {
		return nil, NewNonRetryableError(fmt.Errorf("topic mismatch for %s: expected %s got %s", envelope.Type, desc.Topic, envelope.Topic))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", envelope.Type, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   *envelope,
		Payload:    payload,
	}, nil
}
