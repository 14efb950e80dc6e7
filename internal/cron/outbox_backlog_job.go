package cron

import (
	"context"
	"errors"
	"fmt"

	"github.com/heuristiclogix/eventrelay/pkg/enums"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
)

type outboxCounter interface {
	CountByStatus(ctx context.Context) (map[enums.OutboxStatus]int64, error)
}

type backlogGauge interface {
	SetBacklog(status string, count int64)
}

type OutboxBacklogJobParams struct {
	Logger     *logger.Logger
	Repository outboxCounter
	Metrics    backlogGauge
}

// NewOutboxBacklogJob publishes per-status outbox counts as gauges. Failed
// records need an operator, so a non-zero Failed count is logged as an error.
func NewOutboxBacklogJob(params OutboxBacklogJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository required")
	}
	return &outboxBacklogJob{
		logg:    params.Logger,
		repo:    params.Repository,
		metrics: params.Metrics,
	}, nil
}

type outboxBacklogJob struct {
	logg    *logger.Logger
	repo    outboxCounter
	metrics backlogGauge
}

func (j *outboxBacklogJob) Name() string { return "outbox-backlog" }

func (j *outboxBacklogJob) Run(ctx context.Context) error {
	counts, err := j.repo.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count outbox backlog: %w", err)
	}
	statuses := []enums.OutboxStatus{
		enums.OutboxStatusPending,
		enums.OutboxStatusPublished,
		enums.OutboxStatusFailed,
	}
	fields := make(map[string]any, len(statuses))
	for _, status := range statuses {
		count := counts[status]
		if j.metrics != nil {
			j.metrics.SetBacklog(string(status), count)
		}
		fields[string(status)] = count
	}
	logCtx := j.logg.WithFields(ctx, fields)
	if failed := counts[enums.OutboxStatusFailed]; failed > 0 {
		j.logg.Error(logCtx, "outbox has failed records awaiting requeue", fmt.Errorf("%d failed outbox records", failed))
		return nil
	}
	j.logg.Info(logCtx, "outbox backlog sampled")
	return nil
}
