package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/heuristiclogix/eventrelay/pkg/db/models"
	"github.com/heuristiclogix/eventrelay/pkg/enums"
	"github.com/heuristiclogix/eventrelay/pkg/pagination"
)

// blockedPredecessor rejects a row while an older Pending row of the same
// topic is backing off or leased by someone else, so a topic drains in order.
const blockedPredecessor = `NOT EXISTS (
	SELECT 1 FROM outbox_events AS prior
	WHERE prior.topic = outbox_events.topic
	  AND prior.status = ?
	  AND prior.sequence < outbox_events.sequence
	  AND (prior.next_attempt_at > ? OR (prior.claimed_until IS NOT NULL AND prior.claimed_until > ?))
)`

// claimLockKey names the transaction-scoped advisory lock that serializes
// claim transactions on Postgres. Without it a second claimer skips rows the
// first has locked but not yet leased, and the predecessor guard above reads
// their pre-claim state, so one topic could drain on two instances at once.
const claimLockKey int64 = 0x65766e7472656c79

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new record inside the caller's transaction.
func (r *Repository) Insert(tx *gorm.DB, event *models.OutboxEvent) error {
	if tx == nil {
		return ErrTransactionRequired
	}
	return tx.Create(event).Error
}

// ClaimPendingTx selects up to limit claimable rows, oldest sequence first,
// and stamps them with token until leaseUntil. Row locks are taken with
// SKIP LOCKED where the dialect supports them.
func (r *Repository) ClaimPendingTx(tx *gorm.DB, now time.Time, limit int, token uuid.UUID, leaseUntil time.Time) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, ErrTransactionRequired
	}
	if limit <= 0 {
		return nil, nil
	}

	if err := serializeClaims(tx); err != nil {
		return nil, err
	}

	var rows []models.OutboxEvent
	err := tx.Model(&models.OutboxEvent{}).
		Where("status = ?", enums.OutboxStatusPending).
		Where("next_attempt_at <= ?", now).
		Where("(claimed_until IS NULL OR claimed_until <= ?)", now).
		Where(blockedPredecessor, enums.OutboxStatusPending, now, now).
		Order("sequence ASC").
		Limit(limit).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	sequences := make([]int64, 0, len(rows))
	for _, row := range rows {
		sequences = append(sequences, row.Sequence)
	}
	if err := tx.Model(&models.OutboxEvent{}).
		Where("sequence IN ?", sequences).
		Updates(map[string]any{
			"claim_token":   token,
			"claimed_until": leaseUntil,
		}).Error; err != nil {
		return nil, err
	}

	for i := range rows {
		claimToken := token
		until := leaseUntil
		rows[i].ClaimToken = &claimToken
		rows[i].ClaimedUntil = &until
	}
	return rows, nil
}

// serializeClaims blocks until no other claim transaction is open. The lock
// is released when tx ends. SQLite serializes writers already.
func serializeClaims(tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", claimLockKey).Error
}

// NextDue returns the earliest time after now at which a Pending row may
// become claimable: a backoff ending or a foreign lease expiring. The zero
// time means nothing is waiting.
func (r *Repository) NextDue(ctx context.Context, now time.Time) (time.Time, error) {
	var due time.Time
	for _, column := range []string{"next_attempt_at", "claimed_until"} {
		var rows []models.OutboxEvent
		err := r.db.WithContext(ctx).
			Select(column).
			Where("status = ? AND "+column+" > ?", enums.OutboxStatusPending, now).
			Order(column + " ASC").
			Limit(1).
			Find(&rows).Error
		if err != nil {
			return time.Time{}, err
		}
		if len(rows) == 0 {
			continue
		}
		at := rows[0].NextAttemptAt
		if column == "claimed_until" && rows[0].ClaimedUntil != nil {
			at = *rows[0].ClaimedUntil
		}
		if due.IsZero() || at.Before(due) {
			due = at
		}
	}
	return due, nil
}

// MarkPublished moves a claimed Pending row to Published. It reports false
// when the claim was lost or the row already left Pending.
func (r *Repository) MarkPublished(ctx context.Context, id, token uuid.UUID, publishedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, enums.OutboxStatusPending, token).
		Updates(map[string]any{
			"status":        enums.OutboxStatusPublished,
			"published_at":  publishedAt,
			"claim_token":   nil,
			"claimed_until": nil,
		})
	return res.RowsAffected == 1, res.Error
}

// RecordRetry counts a failed attempt and schedules the next one.
func (r *Repository) RecordRetry(ctx context.Context, id, token uuid.UUID, nextAttemptAt time.Time, lastErr string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, enums.OutboxStatusPending, token).
		Updates(map[string]any{
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"next_attempt_at": nextAttemptAt,
			"last_error":      lastErr,
			"claim_token":     nil,
			"claimed_until":   nil,
		})
	return res.RowsAffected == 1, res.Error
}

// MarkFailedTx counts the final attempt and moves a claimed row to Failed.
func (r *Repository) MarkFailedTx(tx *gorm.DB, id, token uuid.UUID, failedAt time.Time, lastErr string) (bool, error) {
	if tx == nil {
		return false, ErrTransactionRequired
	}
	res := tx.Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, enums.OutboxStatusPending, token).
		Updates(map[string]any{
			"status":        enums.OutboxStatusFailed,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"failed_at":     failedAt,
			"last_error":    lastErr,
			"claim_token":   nil,
			"claimed_until": nil,
		})
	return res.RowsAffected == 1, res.Error
}

// ReleaseClaims drops the lease on rows this token still holds without
// counting an attempt.
func (r *Repository) ReleaseClaims(ctx context.Context, token uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id IN ? AND status = ? AND claim_token = ?", ids, enums.OutboxStatusPending, token).
		Updates(map[string]any{
			"claim_token":   nil,
			"claimed_until": nil,
		}).Error
}

// FindByID returns nil, nil when the record does not exist.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.OutboxEvent, error) {
	var row models.OutboxEvent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ListFailed returns Failed rows, most recent failure first, one past limit
// for pagination.Trim.
func (r *Repository) ListFailed(ctx context.Context, limit int, cursor *pagination.Cursor) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.OutboxStatusFailed).
		Scopes(pagination.Keyset("failed_at", cursor, limit)).
		Find(&rows).Error
	return rows, err
}

// RequeueTx resets a Failed row to a fresh Pending row. It reports false when
// the row is missing or not Failed.
func (r *Repository) RequeueTx(tx *gorm.DB, id uuid.UUID, now time.Time) (bool, error) {
	if tx == nil {
		return false, ErrTransactionRequired
	}
	res := tx.Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", id, enums.OutboxStatusFailed).
		Updates(map[string]any{
			"status":          enums.OutboxStatusPending,
			"attempt_count":   0,
			"next_attempt_at": now,
			"last_error":      nil,
			"failed_at":       nil,
			"claim_token":     nil,
			"claimed_until":   nil,
		})
	return res.RowsAffected == 1, res.Error
}

// CountByStatus returns the number of rows per status.
func (r *Repository) CountByStatus(ctx context.Context) (map[enums.OutboxStatus]int64, error) {
	var rows []struct {
		Status enums.OutboxStatus
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[enums.OutboxStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// DeletePublishedBefore removes at most limit Published rows older than
// cutoff, oldest sequence first. A non-positive limit removes every match.
func (r *Repository) DeletePublishedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	if tx == nil {
		return 0, ErrTransactionRequired
	}
	expired := tx.Model(&models.OutboxEvent{}).
		Select("id").
		Where("status = ? AND published_at < ?", enums.OutboxStatusPublished, cutoff).
		Order("sequence ASC")
	if limit > 0 {
		expired = expired.Limit(limit)
	}
	res := tx.Where("id IN (?)", expired).Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}
