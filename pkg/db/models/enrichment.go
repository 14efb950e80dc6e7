package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/heuristiclogix/eventrelay/pkg/db/types"
	"github.com/heuristiclogix/eventrelay/pkg/enums"
)

// Enrichment is the derived record the enrichment consumer writes once per event.
type Enrichment struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	EventID          uuid.UUID       `gorm:"column:event_id;type:uuid;not null;uniqueIndex"`
	EventType        enums.EventType `gorm:"column:event_type;not null"`
	Topic            string          `gorm:"column:topic;not null"`
	Tags             dbtypes.JSON    `gorm:"column:tags;not null"`
	ConfidenceScore  float64         `gorm:"column:confidence_score;not null"`
	Reasoning        string          `gorm:"column:reasoning;not null"`
	SuggestedActions dbtypes.JSON    `gorm:"column:suggested_actions;not null"`
	ProcessingTimeMs int64           `gorm:"column:processing_time_ms;not null"`
	Historic         bool            `gorm:"column:historic;not null;default:false"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
}
