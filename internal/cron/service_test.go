package cron

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/heuristiclogix/eventrelay/pkg/metrics"
)

type fakeLock struct {
	held     bool
	releases int
	err      error
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	lock := &fakeLock{}
	reg := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: mustRegistry(t, failure, success),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	report, err := service.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(report.Results) != 2 || report.Err() == nil {
		t.Fatalf("expected two results with one failure, got %+v", report)
	}
	if success.runs != 1 || failure.runs != 1 {
		t.Fatalf("expected both jobs to run once, got success=%d failure=%d", success.runs, failure.runs)
	}
	if lock.releases != 1 || lock.held {
		t.Fatalf("expected lock released once, releases=%d held=%v", lock.releases, lock.held)
	}
	count, err := testutil.GatherAndCount(reg, "eventrelay_cron_job_runs_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected one success and one failure series, got %d", count)
	}
}

func TestServiceSkipsCycleWhenLockHeld(t *testing.T) {
	job := &testJob{name: "outbox-retention"}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: mustRegistry(t, job),
		Lock:     &fakeLock{held: true},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	report, err := service.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if !report.Skipped {
		t.Fatal("expected skipped report")
	}
	if job.runs != 0 {
		t.Fatalf("expected job to be skipped, ran %d", job.runs)
	}
}

func TestServiceRunCycleReportsLockError(t *testing.T) {
	service, err := NewService(ServiceParams{
		Logger: testLogger(),
		Lock:   &fakeLock{err: errors.New("redis down")},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if _, err := service.RunOnce(context.Background()); err == nil {
		t.Fatal("expected lock error")
	}
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "outbox-backlog"}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: mustRegistry(t, job),
		Lock:     &fakeLock{},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := service.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewServiceRequiresLock(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: testLogger()}); err == nil {
		t.Fatal("expected error without lock")
	}
}

type panicJob struct{}

func (panicJob) Name() string { return "panics" }

func (panicJob) Run(context.Context) error { panic("nil map") }

type slowJob struct{}

func (slowJob) Name() string { return "slow" }

func (slowJob) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunOnceIsolatesPanicsAndTimeouts(t *testing.T) {
	after := &testJob{name: "after"}
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{
		Logger:     testLogger(),
		Registry:   mustRegistry(t, panicJob{}, slowJob{}, after),
		Lock:       lock,
		JobTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	report, err := service.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(report.Results) != 3 {
		t.Fatalf("expected three results, got %d", len(report.Results))
	}
	if report.Results[0].Err == nil || !strings.Contains(report.Results[0].Err.Error(), "panicked") {
		t.Fatalf("expected panic error, got %v", report.Results[0].Err)
	}
	if !errors.Is(report.Results[1].Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", report.Results[1].Err)
	}
	if report.Results[2].Err != nil || after.runs != 1 {
		t.Fatalf("expected trailing job to run, got %v runs=%d", report.Results[2].Err, after.runs)
	}
	if lock.releases != 1 {
		t.Fatalf("expected lock released once, got %d", lock.releases)
	}
}
