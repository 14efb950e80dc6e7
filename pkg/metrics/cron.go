package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "eventrelay"

// Cron run results.
const (
	CronSucceeded     = "success"
	CronFailed        = "failure"
	CronSkippedLocked = "skipped_locked"
)

// CronJobMetrics covers the maintenance jobs run by cron-worker.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_runs_total",
			Help:      "Cron job runs by job and result.",
		}, []string{"job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_duration_seconds",
			Help:      "Wall time of executed cron jobs.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run per job.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess)
	return m
}

// ObserveRun records one executed job. Skipped runs go through Skipped.
func (m *CronJobMetrics) ObserveRun(job string, err error, took time.Duration) {
	if m == nil || m.runs == nil {
		return
	}
	job = labelOrUnknown(job)
	m.duration.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		m.runs.WithLabelValues(job, CronFailed).Inc()
		return
	}
	m.runs.WithLabelValues(job, CronSucceeded).Inc()
	m.lastSuccess.WithLabelValues(job).SetToCurrentTime()
}

// Skipped counts a run another instance's lock prevented.
func (m *CronJobMetrics) Skipped(job string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(labelOrUnknown(job), CronSkippedLocked).Inc()
}

func labelOrUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
