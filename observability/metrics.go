// Package observability carries the bridge's metrics, tracing and
// settings-driven log filtering.
package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments, backed by any go-utils MetricFactory.
type Metrics struct {
	EventsTotal      gu.Counter
	DecisionsTotal   gu.Counter
	DeliveriesTotal  gu.Counter
	DeliveryLatency  gu.Histogram
	DeliveryAttempts gu.Histogram
	RechecksPending  gu.Gauge
	DLQSize          gu.Gauge
}

// NewMetrics creates the instruments using factory.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		EventsTotal:      factory.Counter("flowbridge_events_total"),
		DecisionsTotal:   factory.Counter("flowbridge_gate_decisions_total"),
		DeliveriesTotal:  factory.Counter("flowbridge_deliveries_total"),
		DeliveryLatency:  factory.Histogram("flowbridge_delivery_latency_seconds"),
		DeliveryAttempts: factory.Histogram("flowbridge_delivery_attempts"),
		RechecksPending:  factory.Gauge("flowbridge_rechecks_pending"),
		DLQSize:          factory.Gauge("flowbridge_dlq_size"),
	}
}

// RecordEvent counts an inbound trigger by kind.
func (m *Metrics) RecordEvent(kind string) {
	m.EventsTotal.WithLabels(map[string]string{"kind": kind}).Inc()
}

// RecordDecision counts a gate outcome.
func (m *Metrics) RecordDecision(outcome string) {
	m.DecisionsTotal.WithLabels(map[string]string{"outcome": outcome}).Inc()
}

// RecordDelivery records a finished delivery with its status, latency and
// the number of HTTP attempts it took.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64, attempts int) {
	m.DeliveriesTotal.WithLabels(map[string]string{"status": status}).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
	m.DeliveryAttempts.Observe(float64(attempts))
}
