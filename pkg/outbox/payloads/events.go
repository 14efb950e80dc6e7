package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/heuristiclogix/eventrelay/pkg/enums"
)

// OrderCreatedEvent signals a new dispatch order awaiting an expert decision.
type OrderCreatedEvent struct {
	OrderID   uuid.UUID `json:"order_id"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderDecidedEvent is emitted when an expert accepts or rejects an order.
type OrderDecidedEvent struct {
	OrderID   uuid.UUID           `json:"order_id"`
	Reference string              `json:"reference"`
	Decision  enums.OrderDecision `json:"decision"`
	Status    enums.OrderStatus   `json:"status"`
	Reason    string              `json:"reason,omitempty"`
	DecidedBy string              `json:"decided_by,omitempty"`
	DecidedAt time.Time           `json:"decided_at"`
}

// OrderDeliveredEvent closes an accepted order. It always travels with the
// historic flag so workers can treat it as training history.
type OrderDeliveredEvent struct {
	OrderID     uuid.UUID           `json:"order_id"`
	Reference   string              `json:"reference"`
	Decision    enums.OrderDecision `json:"decision"`
	DecidedAt   *time.Time          `json:"decided_at,omitempty"`
	DeliveredAt time.Time           `json:"delivered_at"`
}

// TelemetryReportedEvent carries one heuristic measurement.
type TelemetryReportedEvent struct {
	Source     string            `json:"source"`
	Metric     string            `json:"metric"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	ObservedAt time.Time         `json:"observed_at"`
}
