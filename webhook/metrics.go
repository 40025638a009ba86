package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the delivery engine's Prometheus instruments.
type Metrics struct {
	Enqueued   *prometheus.CounterVec
	Deliveries *prometheus.CounterVec
	QueueDepth prometheus.Gauge
}

// NewMetrics creates and registers the webhook metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "steward",
			Subsystem: "webhook",
			Name:      "enqueued_total",
			Help:      "Webhook events enqueued, by provider.",
		}, []string{"provider"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "steward",
			Subsystem: "webhook",
			Name:      "delivery_attempts_total",
			Help:      "Delivery attempts, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "steward",
			Subsystem: "webhook",
			Name:      "queue_depth",
			Help:      "Due events observed on the last dispatcher scan.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Enqueued, m.Deliveries, m.QueueDepth)
	}
	return m
}
