package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentsMetrics records orchestrator outcomes, webhook handling and gateway latency.
type PaymentsMetrics struct {
	outcomes *prometheus.CounterVec
	webhooks *prometheus.CounterVec
	gateway  *prometheus.HistogramVec
}

// NewPaymentsMetrics registers the payments metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewPaymentsMetrics(reg prometheus.Registerer) *PaymentsMetrics {
	if reg == nil {
		return &PaymentsMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_outcomes_total",
		Help: "Payment processing outcomes by code and purchase type.",
	}, []string{"code", "purchase_type"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_webhooks_total",
		Help: "Inbound payment webhooks by provider and handling result.",
	}, []string{"provider", "result"})
	gateway := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payments_gateway_duration_seconds",
		Help:    "Latency of gateway CreatePayment calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"driver", "status"})
	reg.MustRegister(outcomes, webhooks, gateway)
	return &PaymentsMetrics{
		outcomes: outcomes,
		webhooks: webhooks,
		gateway:  gateway,
	}
}

// IncOutcome counts one orchestrator result. Successful outcomes use code "success".
func (m *PaymentsMetrics) IncOutcome(code, purchaseType string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(code), normalizeLabel(purchaseType)).Inc()
}

// IncWebhook counts one webhook delivery.
func (m *PaymentsMetrics) IncWebhook(provider, result string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(provider), normalizeLabel(result)).Inc()
}

// ObserveGateway records the duration of one gateway call.
func (m *PaymentsMetrics) ObserveGateway(driver, status string, duration time.Duration) {
	if m == nil || m.gateway == nil {
		return
	}
	m.gateway.WithLabelValues(normalizeLabel(driver), normalizeLabel(status)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
