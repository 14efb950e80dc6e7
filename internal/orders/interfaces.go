package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heuristiclogix/eventrelay/pkg/db/models"
	"github.com/heuristiclogix/eventrelay/pkg/enums"
	"github.com/heuristiclogix/eventrelay/pkg/outbox"
	"github.com/heuristiclogix/eventrelay/pkg/outbox/registry"
	"github.com/heuristiclogix/eventrelay/pkg/pagination"
)

// Service defines order-level operations. Every state change commits together
// with the outbox record describing it.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Decide(ctx context.Context, input DecisionInput) (*models.Order, error)
	MarkDelivered(ctx context.Context, input DeliveryInput) (*models.Order, error)
}

// Repository is the orders table. WithTx rebinds it to a caller's transaction
// so the state change and its outbox record commit together.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// UpdateFromStatus is a compare-and-set on status; false means another
	// writer moved the order first.
	UpdateFromStatus(ctx context.Context, id uuid.UUID, from enums.OrderStatus, updates map[string]any) (bool, error)
	List(ctx context.Context, params pagination.Params, status *enums.OrderStatus) (*OrderList, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxWriter interface {
	Append(ctx context.Context, tx *gorm.DB, topic string, event outbox.Event) (*models.OutboxEvent, error)
}

// eventRouter resolves the topic an event type is published to.
type eventRouter interface {
	Lookup(eventType enums.EventType) (registry.EventDescriptor, bool)
}
