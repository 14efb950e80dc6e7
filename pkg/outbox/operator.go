package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heuristiclogix/eventrelay/pkg/db"
	"github.com/heuristiclogix/eventrelay/pkg/db/models"
	dbtypes "github.com/heuristiclogix/eventrelay/pkg/db/types"
	"github.com/heuristiclogix/eventrelay/pkg/enums"
	pkgerrors "github.com/heuristiclogix/eventrelay/pkg/errors"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
	"github.com/heuristiclogix/eventrelay/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// FailedEvent is the operator view of a Failed record.
type FailedEvent struct {
	ID            uuid.UUID       `json:"id"`
	Topic         string          `json:"topic"`
	EventType     enums.EventType `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	AttemptCount  int             `json:"attempt_count"`
	LastError     *string         `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	FailedAt      *time.Time      `json:"failed_at,omitempty"`
	Payload       dbtypes.JSON    `json:"payload"`
	Failure       *FailureSummary `json:"failure,omitempty"`
}

type FailedPage struct {
	Items  []FailedEvent `json:"items"`
	Cursor string        `json:"cursor,omitempty"`
}

// Operator serves the manual inspection and requeue surface. Requeue is the
// only way a Failed record is retried.
type Operator struct {
	tx       txRunner
	repo     *Repository
	signaler Signaler
	dlq      *DLQRepository
	now      func() time.Time
	logg     *logger.Logger
}

func NewOperator(tx txRunner, repo *Repository, signaler Signaler, logg *logger.Logger) (*Operator, error) {
	if tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	if repo == nil {
		return nil, errors.New("outbox repository is required")
	}
	if signaler == nil {
		return nil, errors.New("signaler is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Operator{tx: tx, repo: repo, signaler: signaler, now: time.Now, logg: logg}, nil
}

// WithFailureHistory makes ListFailed attach each record's DLQ summary.
func (o *Operator) WithFailureHistory(dlq *DLQRepository) *Operator {
	o.dlq = dlq
	return o
}

func (o *Operator) ListFailed(ctx context.Context, params pagination.Params) (*FailedPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := o.repo.ListFailed(ctx, params.Limit, cursor)
	if err != nil {
		return nil, storageError(err, "list failed outbox events")
	}
	rows, next := pagination.Trim(rows, params.Limit, failedCursor)

	summaries, err := o.failureSummaries(ctx, rows)
	if err != nil {
		return nil, storageError(err, "load failure history")
	}

	page := &FailedPage{Items: make([]FailedEvent, 0, len(rows)), Cursor: next}
	for _, row := range rows {
		item := toFailedEvent(row)
		if summary, ok := summaries[row.ID]; ok {
			item.Failure = &summary
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

func (o *Operator) failureSummaries(ctx context.Context, rows []models.OutboxEvent) (map[uuid.UUID]FailureSummary, error) {
	if o.dlq == nil || len(rows) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return o.dlq.Summaries(ctx, ids)
}

func failedCursor(row models.OutboxEvent) pagination.Cursor {
	at := row.CreatedAt
	if row.FailedAt != nil {
		at = *row.FailedAt
	}
	return pagination.Cursor{At: at, ID: row.ID}
}

// Requeue resets a Failed record to Pending with a zero attempt count and
// wakes the publisher after commit.
func (o *Operator) Requeue(ctx context.Context, id uuid.UUID) (*models.OutboxEvent, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}

	var requeued *models.OutboxEvent
	err := o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := o.repo.RequeueTx(tx, id, o.now().UTC())
		if err != nil {
			return storageError(err, "requeue outbox event")
		}

		var row models.OutboxEvent
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "outbox event not found")
			}
			return storageError(err, "load outbox event")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only failed events can be requeued").
				WithDetails(map[string]any{"status": row.Status})
		}
		requeued = &row
		db.AfterCommit(tx, o.signaler.Notify)
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logg.Info(o.logg.WithFields(ctx, map[string]any{
		"event_id": requeued.ID.String(),
		"topic":    requeued.Topic,
	}), "outbox event requeued")
	return requeued, nil
}

func toFailedEvent(row models.OutboxEvent) FailedEvent {
	return FailedEvent{
		ID:            row.ID,
		Topic:         row.Topic,
		EventType:     row.EventType,
		SchemaVersion: row.SchemaVersion,
		AttemptCount:  row.AttemptCount,
		LastError:     row.LastError,
		CreatedAt:     row.CreatedAt,
		FailedAt:      row.FailedAt,
		Payload:       row.Payload,
	}
}
