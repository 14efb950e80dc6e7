package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heuristiclogix/eventrelay/pkg/db/models"
	"github.com/heuristiclogix/eventrelay/pkg/enums"
)

const maxDLQErrorLen = 1024

// DLQRepository keeps the append-only failure history of outbox events.
// Every transition to Failed adds a row, so a requeued event that fails again
// has several.
type DLQRepository struct {
	db *gorm.DB
}

// FailureSummary condenses an event's failure history for operators.
type FailureSummary struct {
	Reason      enums.OutboxDLQErrorReason `json:"reason"`
	Failures    int                        `json:"failures"`
	LastFailure time.Time                  `json:"last_failure_at"`
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx must share the transaction that marks the event Failed.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return ErrTransactionRequired
	}
	if !entry.ErrorReason.IsValid() {
		return fmt.Errorf("dlq entry for %s: invalid reason %q", entry.EventID, entry.ErrorReason)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		msg := TruncateUTF8(*entry.ErrorMessage, maxDLQErrorLen)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// History returns every failure of one event, newest first.
func (r *DLQRepository) History(ctx context.Context, eventID uuid.UUID) ([]models.OutboxDLQ, error) {
	var rows []models.OutboxDLQ
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("failed_at DESC").
		Find(&rows).Error
	return rows, err
}

// Latest returns nil, nil when the event never failed.
func (r *DLQRepository) Latest(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var row models.OutboxDLQ
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("failed_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Summaries folds the history of several events in one query. Events with
// no failure rows are absent from the map.
func (r *DLQRepository) Summaries(ctx context.Context, eventIDs []uuid.UUID) (map[uuid.UUID]FailureSummary, error) {
	out := make(map[uuid.UUID]FailureSummary, len(eventIDs))
	if len(eventIDs) == 0 {
		return out, nil
	}
	var rows []models.OutboxDLQ
	err := r.db.WithContext(ctx).
		Select("event_id", "error_reason", "failed_at").
		Where("event_id IN ?", eventIDs).
		Order("failed_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		summary, seen := out[row.EventID]
		if !seen {
			summary.Reason = row.ErrorReason
			summary.LastFailure = row.FailedAt
		}
		summary.Failures++
		out[row.EventID] = summary
	}
	return out, nil
}
