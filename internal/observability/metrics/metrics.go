package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconciliationMetrics exposes counters/histograms for the webhook and
// reconciliation flows.
type ReconciliationMetrics struct {
	webhookTotal        *prometheus.CounterVec
	webhookLatency      *prometheus.HistogramVec
	applyOutcomes       *prometheus.CounterVec
	signatureFailures   *prometheus.CounterVec
	versionConflicts    prometheus.Counter
	outboxDeliveryTotal *prometheus.CounterVec
}

func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	m := &ReconciliationMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingsync",
			Subsystem: "webhooks",
			Name:      "inbound_total",
			Help:      "Total inbound provider webhooks",
		}, []string{"provider", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookingsync",
			Subsystem: "webhooks",
			Name:      "latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		applyOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingsync",
			Subsystem: "recon",
			Name:      "apply_outcomes_total",
			Help:      "Reconciliation apply outcomes by source, kind and result",
		}, []string{"source", "kind", "outcome"}),
		signatureFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingsync",
			Subsystem: "webhooks",
			Name:      "signature_failures_total",
			Help:      "Rejected webhook signatures by provider and reason",
		}, []string{"provider", "reason"}),
		versionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookingsync",
			Subsystem: "recon",
			Name:      "version_conflicts_total",
			Help:      "Optimistic concurrency conflicts during apply",
		}),
		outboxDeliveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingsync",
			Subsystem: "outbox",
			Name:      "delivery_total",
			Help:      "Outbox deliveries by transition and status",
		}, []string{"transition", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.webhookTotal,
		m.webhookLatency,
		m.applyOutcomes,
		m.signatureFailures,
		m.versionConflicts,
		m.outboxDeliveryTotal,
	)
	return m
}

func (m *ReconciliationMetrics) ObserveWebhook(provider, status string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(provider, status).Inc()
}

func (m *ReconciliationMetrics) ObserveWebhookLatency(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(provider).Observe(seconds)
}

func (m *ReconciliationMetrics) ObserveApply(source, kind, outcome string) {
	if m == nil {
		return
	}
	m.applyOutcomes.WithLabelValues(source, kind, outcome).Inc()
}

func (m *ReconciliationMetrics) ObserveSignatureFailure(provider, reason string) {
	if m == nil {
		return
	}
	m.signatureFailures.WithLabelValues(provider, reason).Inc()
}

func (m *ReconciliationMetrics) ObserveVersionConflict() {
	if m == nil {
		return
	}
	m.versionConflicts.Inc()
}

func (m *ReconciliationMetrics) ObserveOutboxDelivery(transition, status string) {
	if m == nil {
		return
	}
	m.outboxDeliveryTotal.WithLabelValues(transition, status).Inc()
}
