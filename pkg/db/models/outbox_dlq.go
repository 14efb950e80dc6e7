package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/heuristiclogix/eventrelay/pkg/db/types"
	"github.com/heuristiclogix/eventrelay/pkg/enums"
)

// OutboxDLQ is the audit trail of outbox events that became Failed.
type OutboxDLQ struct {
	ID           uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	EventID      uuid.UUID                  `gorm:"column:event_id;type:uuid;not null;index"`
	Topic        string                     `gorm:"column:topic;not null"`
	EventType    enums.EventType            `gorm:"column:event_type;not null"`
	Payload      dbtypes.JSON               `gorm:"column:payload_json;not null"`
	ErrorReason  enums.OutboxDLQErrorReason `gorm:"column:error_reason;not null"`
	ErrorMessage *string                    `gorm:"column:error_message"`
	AttemptCount int                        `gorm:"column:attempt_count;not null;default:0"`
	FailedAt     time.Time                  `gorm:"column:failed_at;not null"`
	CreatedAt    time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (OutboxDLQ) TableName() string {
	return "outbox_dlq"
}
