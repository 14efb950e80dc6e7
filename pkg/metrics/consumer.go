package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Consumer results.
const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
	ResultRetry     = "retry"
)

// ConsumerMetrics tracks deliveries handled by the enrichment workers.
type ConsumerMetrics struct {
	deliveries *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func NewConsumerMetrics(reg prometheus.Registerer) *ConsumerMetrics {
	if reg == nil {
		return &ConsumerMetrics{}
	}
	m := &ConsumerMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "deliveries_total",
			Help:      "Deliveries handled by topic and result.",
		}, []string{"topic", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "handle_duration_seconds",
			Help:      "Time spent handling one delivery.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
	}
	reg.MustRegister(m.deliveries, m.duration)
	return m
}

func (m *ConsumerMetrics) Observe(topic, result string, took time.Duration) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(labelOrUnknown(topic), labelOrUnknown(result)).Inc()
	m.duration.WithLabelValues(labelOrUnknown(topic)).Observe(took.Seconds())
}
