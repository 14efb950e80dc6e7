// Package cron runs the outbox maintenance jobs on a fixed cadence, with a
// Redis lock making sure only one cron-worker replica runs a cycle at a time.
package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/heuristiclogix/eventrelay/pkg/logger"
	"github.com/heuristiclogix/eventrelay/pkg/metrics"
)

const (
	defaultInterval   = time.Minute
	defaultJobTimeout = 30 * time.Second
)

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout bounds each job; it should stay below the lock TTL.
	JobTimeout time.Duration
}

type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
}

// JobResult is the outcome of one job within a cycle.
type JobResult struct {
	Job  string
	Err  error
	Took time.Duration
}

// CycleReport describes one pass over the registry. Skipped is set when
// another replica held the lock.
type CycleReport struct {
	Skipped bool
	Results []JobResult
}

// Err joins the failures of the cycle, or nil when every job succeeded.
func (r CycleReport) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Job, res.Err))
		}
	}
	return errors.Join(errs...)
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock required")
	}
	s := &Service{
		logg:       params.Logger,
		registry:   params.Registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
	}
	if s.registry == nil {
		s.registry = &Registry{}
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.jobTimeout <= 0 {
		s.jobTimeout = defaultJobTimeout
	}
	return s, nil
}

// Run executes a cycle right away and then once per interval until ctx is
// canceled. Cycle failures are logged; they never stop the loop.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"interval":    s.interval.String(),
		"job_timeout": s.jobTimeout.String(),
		"jobs":        s.registry.Names(),
	}), "cron service started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single locked pass over every registered job. The
// returned error covers the lock and cancellation only; job failures are
// reported through CycleReport.
func (s *Service) RunOnce(ctx context.Context) (CycleReport, error) {
	if err := ctx.Err(); err != nil {
		return CycleReport{}, err
	}
	jobs := s.registry.Jobs()
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return CycleReport{}, fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		for _, job := range jobs {
			s.metrics.Skipped(job.Name())
		}
		s.logg.Info(ctx, "cron lock held elsewhere; cycle skipped")
		return CycleReport{Skipped: true}, nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "failed to release cron lock", err)
		}
	}()

	report := CycleReport{Results: make([]JobResult, 0, len(jobs))}
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Results = append(report.Results, s.runJob(ctx, job))
	}
	return report, nil
}

func (s *Service) runJob(ctx context.Context, job Job) (res JobResult) {
	res.Job = job.Name()
	jobCtx := s.logg.WithField(ctx, "job", res.Job)
	jobCtx, cancel := context.WithTimeout(jobCtx, s.jobTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("job panicked: %v", r)
		}
		res.Took = time.Since(start)
		s.metrics.ObserveRun(res.Job, res.Err, res.Took)

		logCtx := s.logg.WithField(jobCtx, "duration_ms", res.Took.Milliseconds())
		if res.Err != nil {
			s.logg.Error(logCtx, "cron job failed", res.Err)
			return
		}
		s.logg.Info(logCtx, "cron job completed")
	}()

	res.Err = job.Run(jobCtx)
	return res
}
