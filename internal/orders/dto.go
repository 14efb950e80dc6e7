package orders

import (
	"github.com/google/uuid"

	"github.com/heuristiclogix/eventrelay/pkg/db/models"
	"github.com/heuristiclogix/eventrelay/pkg/enums"
)

// CreateInput registers a new order awaiting an expert decision.
type CreateInput struct {
	Reference string
}

// DecisionInput captures an expert's call on a pending order.
type DecisionInput struct {
	OrderID   uuid.UUID
	Decision  enums.OrderDecision
	Reason    string
	DecidedBy string
}

// DeliveryInput closes an accepted order.
type DeliveryInput struct {
	OrderID uuid.UUID
}

// OrderList wraps a page of orders plus the next page cursor.
type OrderList struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
