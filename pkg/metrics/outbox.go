package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics records what the outbox publisher does with each row.
type OutboxMetrics struct {
	results    *prometheus.CounterVec
	batch      prometheus.Histogram
	deadLetter *prometheus.GaugeVec
}

// NewOutboxMetrics registers the publisher metrics. A nil registerer yields a
// no-op recorder.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_total",
			Help: "Outbox rows handled by the publisher, by event type and result.",
		}, []string{"event_type", "result"}),
		batch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_batch_duration_seconds",
			Help:    "Time spent draining one outbox batch.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		deadLetter: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "outbox_dead_letters",
			Help: "Dead-lettered outbox rows by reason, as of the last count.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.results, m.batch, m.deadLetter)
	return m
}

// IncResult counts one row outcome: published, retry or dead_letter.
func (m *OutboxMetrics) IncResult(eventType, result string) {
	if m == nil || m.results == nil {
		return
	}
	m.results.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

func (m *OutboxMetrics) ObserveBatch(d time.Duration) {
	if m == nil || m.batch == nil {
		return
	}
	m.batch.Observe(d.Seconds())
}

// SetDeadLetters replaces the dead-letter gauge with counts.
func (m *OutboxMetrics) SetDeadLetters(counts map[string]int64) {
	if m == nil || m.deadLetter == nil {
		return
	}
	m.deadLetter.Reset()
	for reason, n := range counts {
		m.deadLetter.WithLabelValues(normalizeLabel(reason)).Set(float64(n))
	}
}
