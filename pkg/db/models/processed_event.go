package models

import (
	"time"

	"github.com/google/uuid"
)

// ProcessedEvent marks an event id as applied by a consumer.
type ProcessedEvent struct {
	Consumer    string    `gorm:"column:consumer;primaryKey"`
	EventID     uuid.UUID `gorm:"column:event_id;type:uuid;primaryKey"`
	ProcessedAt time.Time `gorm:"column:processed_at;not null"`
}
