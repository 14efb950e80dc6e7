package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/heuristiclogix/eventrelay/pkg/db/types"
	"github.com/heuristiclogix/eventrelay/pkg/enums"
)

// OutboxEvent is one domain event written in the same transaction as the
// business mutation it reports. Sequence orders events for publishing.
type OutboxEvent struct {
	Sequence      int64              `gorm:"column:sequence;primaryKey;autoIncrement"`
	ID            uuid.UUID          `gorm:"column:id;type:uuid;uniqueIndex;not null"`
	Topic         string             `gorm:"column:topic;not null"`
	EventType     enums.EventType    `gorm:"column:event_type;not null"`
	SchemaVersion int                `gorm:"column:schema_version;not null;default:1"`
	Payload       dbtypes.JSON       `gorm:"column:payload;not null"`
	Status        enums.OutboxStatus `gorm:"column:status;not null;index:idx_outbox_events_status_next_attempt,priority:1"`
	// AttemptCount counts failed publish attempts only; a success leaves it
	// unchanged, and operator requeue resets it to zero.
	AttemptCount  int        `gorm:"column:attempt_count;not null;default:0"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null;index:idx_outbox_events_status_next_attempt,priority:2"`
	ClaimToken    *uuid.UUID `gorm:"column:claim_token;type:uuid"`
	ClaimedUntil  *time.Time `gorm:"column:claimed_until"`
	LastError     *string    `gorm:"column:last_error"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	PublishedAt   *time.Time `gorm:"column:published_at"`
	FailedAt      *time.Time `gorm:"column:failed_at"`
}
