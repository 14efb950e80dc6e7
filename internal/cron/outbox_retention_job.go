package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/heuristiclogix/eventrelay/pkg/logger"
)

const (
	defaultOutboxRetentionDays = 14
	defaultRetentionBatchSize  = 1000
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxRetentionRepo
	Retention  int
	// BatchSize caps the rows removed per transaction.
	BatchSize int
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	repo      outboxRetentionRepo
	retention time.Duration
	days      int
	batchSize int
	now       func() time.Time
}

// NewOutboxRetentionJob prunes Published records whose publish time is older
// than the retention window. Pending and Failed records stay.
func NewOutboxRetentionJob(p OutboxRetentionJobParams) (Job, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger required")
	case p.DB == nil:
		return nil, errors.New("db runner required")
	case p.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	days := p.Retention
	if days <= 0 {
		days = defaultOutboxRetentionDays
	}
	batch := p.BatchSize
	if batch <= 0 {
		batch = defaultRetentionBatchSize
	}
	return &outboxRetentionJob{
		logg:      p.Logger,
		db:        p.DB,
		repo:      p.Repository,
		retention: time.Duration(days) * 24 * time.Hour,
		days:      days,
		batchSize: batch,
		now:       time.Now,
	}, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run deletes one batch per transaction until a short batch shows the
// window is clear. Cancellation between batches keeps what was deleted.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	batches := 0
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("outbox retention stopped after %d rows: %w", total, err)
		}
		var rows int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			rows, err = j.repo.DeletePublishedBefore(tx, cutoff, j.batchSize)
			return err
		})
		if err != nil {
			return fmt.Errorf("outbox retention batch %d: %w", batches+1, err)
		}
		batches++
		total += rows
		if rows < int64(j.batchSize) {
			break
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.days,
		"batches":        batches,
		"rows_deleted":   total,
	}), "outbox retention cleanup complete")
	return nil
}
