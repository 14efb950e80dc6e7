package enums

import "fmt"

// OutboxStatus maps to the outbox_status enum in Postgres.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

var validOutboxStatuses = []OutboxStatus{
	OutboxStatusPending,
	OutboxStatusPublished,
	OutboxStatusFailed,
}

func (s OutboxStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches the canonical outbox_status enum.
func (s OutboxStatus) IsValid() bool {
	for _, candidate := range validOutboxStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the publisher will never touch a record in this status again.
func (s OutboxStatus) IsTerminal() bool {
	return s == OutboxStatusPublished || s == OutboxStatusFailed
}

// CanTransitionTo reports whether the status machine allows moving to next.
// Failed -> Pending is the operator requeue.
func (s OutboxStatus) CanTransitionTo(next OutboxStatus) bool {
	switch s {
	case OutboxStatusPending:
		return next == OutboxStatusPublished || next == OutboxStatusFailed
	case OutboxStatusFailed:
		return next == OutboxStatusPending
	default:
		return false
	}
}

// ParseOutboxStatus converts raw input into OutboxStatus.
func ParseOutboxStatus(value string) (OutboxStatus, error) {
	for _, candidate := range validOutboxStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox status %q", value)
}

// EventType names the business fact carried in an outbox envelope.
type EventType string

const (
	EventOrderCreated      EventType = "order_created"
	EventOrderDecided      EventType = "order_decided"
	EventOrderDelivered    EventType = "order_delivered"
	EventTelemetryReported EventType = "telemetry_reported"
)

var validEventTypes = []EventType{
	EventOrderCreated,
	EventOrderDecided,
	EventOrderDelivered,
	EventTelemetryReported,
}

func (e EventType) String() string {
	return string(e)
}

// IsValid reports whether the value is a known event type.
func (e EventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventType converts raw input into EventType.
func ParseEventType(value string) (EventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// Topic names shared by producers and the enrichment workers.
const (
	TopicExpertDecisions    = "expert.decisions.v1"
	TopicHeuristicTelemetry = "heuristic.telemetry.v1"
	TopicHistoricDeliveries = "historic.deliveries.v1"
)
