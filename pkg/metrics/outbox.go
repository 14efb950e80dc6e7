package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Publish outcomes recorded by the outbox publisher.
const (
	OutcomePublished = "published"
	OutcomeRetry     = "retry"
	OutcomeFailed    = "failed"
	OutcomeLostClaim = "lost_claim"
)

// OutboxMetrics tracks the publisher loop and the outbox backlog.
type OutboxMetrics struct {
	publishes      *prometheus.CounterVec
	publishLatency *prometheus.HistogramVec
	deliveryLag    prometheus.Histogram
	batchSize      prometheus.Histogram
	wakes          *prometheus.CounterVec
	backlog        *prometheus.GaugeVec
}

// NewOutboxMetrics registers the outbox metrics on reg. A nil registerer
// returns a no-op instance.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "publish_total",
			Help:      "Publish attempts by topic and outcome.",
		}, []string{"topic", "outcome"}),
		publishLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "publish_duration_seconds",
			Help:      "Broker publish call duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
		deliveryLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "delivery_lag_seconds",
			Help:      "Time from outbox insert to successful publish.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30, 120, 600},
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "claimed_batch_size",
			Help:      "Records claimed per drain.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		wakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "wakeups_total",
			Help:      "Publisher wake-ups by reason.",
		}, []string{"reason"}),
		backlog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "records",
			Help:      "Outbox records by status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.publishes, m.publishLatency, m.deliveryLag, m.batchSize, m.wakes, m.backlog)
	return m
}

// ObservePublish records one publish attempt.
func (m *OutboxMetrics) ObservePublish(topic, outcome string, took time.Duration) {
	if m == nil || m.publishes == nil {
		return
	}
	m.publishes.WithLabelValues(labelOrUnknown(topic), labelOrUnknown(outcome)).Inc()
	m.publishLatency.WithLabelValues(labelOrUnknown(topic)).Observe(took.Seconds())
}

// ObserveOutcome records an outcome that involved no broker call.
func (m *OutboxMetrics) ObserveOutcome(topic, outcome string) {
	if m == nil || m.publishes == nil {
		return
	}
	m.publishes.WithLabelValues(labelOrUnknown(topic), labelOrUnknown(outcome)).Inc()
}

// ObserveDeliveryLag records the age of a record when it was published.
func (m *OutboxMetrics) ObserveDeliveryLag(lag time.Duration) {
	if m == nil || m.deliveryLag == nil {
		return
	}
	if lag < 0 {
		lag = 0
	}
	m.deliveryLag.Observe(lag.Seconds())
}

// ObserveBatch records the number of records claimed by one drain.
func (m *OutboxMetrics) ObserveBatch(size int) {
	if m == nil || m.batchSize == nil {
		return
	}
	m.batchSize.Observe(float64(size))
}

// IncWake counts a publisher wake-up.
func (m *OutboxMetrics) IncWake(reason string) {
	if m == nil || m.wakes == nil {
		return
	}
	m.wakes.WithLabelValues(labelOrUnknown(reason)).Inc()
}

// SetBacklog sets the record count for one status.
func (m *OutboxMetrics) SetBacklog(status string, count int64) {
	if m == nil || m.backlog == nil {
		return
	}
	m.backlog.WithLabelValues(labelOrUnknown(status)).Set(float64(count))
}
