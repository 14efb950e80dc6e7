package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/heuristiclogix/eventrelay/pkg/enums"
	"github.com/heuristiclogix/eventrelay/pkg/outbox"
	"github.com/heuristiclogix/eventrelay/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := NewEventRegistry()

	orderID := uuid.New()
	raw := mustEnvelope(t, enums.EventOrderDecided, 1, enums.TopicExpertDecisions, payloads.OrderDecidedEvent{
		OrderID:   orderID,
		Reference: "ORD-1",
		Decision:  enums.OrderDecisionAccept,
		Status:    enums.OrderStatusAccepted,
		DecidedAt: time.Now().UTC(),
	})

	resolved, err := reg.Resolve(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != enums.TopicExpertDecisions {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.OrderDecidedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.OrderID != orderID || payload.Decision != enums.OrderDecisionAccept {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
}

func TestEventRegistryResolveUnknownVersion(t *testing.T) {
	reg := NewEventRegistry()
	raw := mustEnvelope(t, enums.EventOrderDecided, 7, enums.TopicExpertDecisions, map[string]string{"x": "y"})

	_, err := reg.Resolve(raw)
	if !IsNonRetryable(err) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestEventRegistryResolveTopicMismatch(t *testing.T) {
	reg := NewEventRegistry()
	raw := mustEnvelope(t, enums.EventOrderDelivered, 1, enums.TopicExpertDecisions, payloads.OrderDeliveredEvent{OrderID: uuid.New()})

	_, err := reg.Resolve(raw)
	if !IsNonRetryable(err) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestEventRegistryResolveInvalidEnvelope(t *testing.T) {
	reg := NewEventRegistry()

	_, err := reg.Resolve([]byte(`{"eventId":"nope"}`))
	if err == nil {
		t.Fatalf("expected error")
	}
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %T", err)
	}
	if !errors.Is(err, outbox.ErrInvalidEnvelope) {
		t.Fatalf("expected invalid envelope cause, got %v", err)
	}
}

func TestEventRegistryLookupAndTopics(t *testing.T) {
	reg := NewEventRegistry()

	desc, ok := reg.Lookup(enums.EventOrderDelivered)
	if !ok || desc.Topic != enums.TopicHistoricDeliveries {
		t.Fatalf("unexpected descriptor %+v ok=%v", desc, ok)
	}

	if err := reg.Register(EventDescriptor{
		EventType:      enums.EventOrderDelivered,
		SchemaVersion:  2,
		Topic:          enums.TopicHistoricDeliveries,
		PayloadFactory: func() any { return &map[string]any{} },
	}); err != nil {
		t.Fatalf("register v2: %v", err)
	}
	desc, _ = reg.Lookup(enums.EventOrderDelivered)
	if desc.SchemaVersion != 2 {
		t.Fatalf("expected newest version, got %d", desc.SchemaVersion)
	}

	topics := reg.Topics()
	want := []string{enums.TopicExpertDecisions, enums.TopicHeuristicTelemetry, enums.TopicHistoricDeliveries}
	if len(topics) != len(want) {
		t.Fatalf("unexpected topics %v", topics)
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Fatalf("unexpected topics %v", topics)
		}
	}
}

func TestEventRegistryRegisterValidates(t *testing.T) {
	reg := NewEmptyRegistry()
	if err := reg.Register(EventDescriptor{EventType: "bogus", SchemaVersion: 1, Topic: "t", PayloadFactory: func() any { return nil }}); err == nil {
		t.Fatal("expected error for unknown event type")
	}
	if err := reg.Register(EventDescriptor{EventType: enums.EventOrderCreated, SchemaVersion: 1, Topic: "t"}); err == nil {
		t.Fatal("expected error for missing factory")
	}
	if _, ok := reg.Lookup(enums.EventOrderCreated); ok {
		t.Fatal("rejected descriptor must not be registered")
	}
}

func mustEnvelope(t *testing.T, eventType enums.EventType, version int, topic string, data any) []byte {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	raw, err := json.Marshal(outbox.Envelope{
		EventID:       uuid.NewString(),
		Type:          eventType,
		SchemaVersion: version,
		Topic:         topic,
		OccurredAt:    time.Now().UTC(),
		Data:          payload,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}
