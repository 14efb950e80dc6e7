package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/heuristiclogix/eventrelay/pkg/enums"
)

// Order is a dispatch order awaiting, or carrying, an expert decision.
type Order struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Reference      string               `gorm:"column:reference;not null;uniqueIndex" json:"reference"`
	Status         enums.OrderStatus    `gorm:"column:status;not null" json:"status"`
	Decision       *enums.OrderDecision `gorm:"column:decision" json:"decision,omitempty"`
	DecisionReason *string              `gorm:"column:decision_reason" json:"decision_reason,omitempty"`
	DecidedBy      *string              `gorm:"column:decided_by" json:"decided_by,omitempty"`
	DecidedAt      *time.Time           `gorm:"column:decided_at" json:"decided_at,omitempty"`
	DeliveredAt    *time.Time           `gorm:"column:delivered_at" json:"delivered_at,omitempty"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
