package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type DisputeMetrics struct {
	transitions         *prometheus.CounterVec
	actionRejections    *prometheus.CounterVec
	invariantViolations prometheus.Counter
	quarantined         prometheus.Gauge
	eventLag            prometheus.Gauge
	intentLatency       prometheus.Histogram
}

var (
	disputeOnce     sync.Once
	disputeRegistry *DisputeMetrics
)

func Dispute() *DisputeMetrics {
	disputeOnce.Do(func() {
		disputeRegistry = &DisputeMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "dispute_transitions_total",
				Help: "Count of confirmed dispute transitions applied by event type.",
			}, []string{"event"}),
			actionRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "dispute_action_rejections_total",
				Help: "Count of locally rejected actions by rejection code.",
			}, []string{"code"}),
			invariantViolations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "dispute_invariant_violations_total",
				Help: "Count of confirmed events that contradicted the local model.",
			}),
			quarantined: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "dispute_quarantined_records",
				Help: "Number of dispute records currently frozen pending resync.",
			}),
			eventLag: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "dispute_event_lag_seconds",
				Help: "Age of the newest applied ledger event.",
			}),
			intentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "dispute_intent_latency_seconds",
				Help:    "Wall time from intent submission to ledger confirmation.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			}),
		}
		prometheus.MustRegister(
			disputeRegistry.transitions,
			disputeRegistry.actionRejections,
			disputeRegistry.invariantViolations,
			disputeRegistry.quarantined,
			disputeRegistry.eventLag,
			disputeRegistry.intentLatency,
		)
	})
	return disputeRegistry
}

func (m *DisputeMetrics) ObserveTransition(event string) {
	if m == nil {
		return
	}
	if event == "" {
		event = "unknown"
	}
	m.transitions.WithLabelValues(event).Inc()
}

func (m *DisputeMetrics) ObserveRejection(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.actionRejections.WithLabelValues(code).Inc()
}

func (m *DisputeMetrics) ObserveInvariantViolation() {
	if m == nil {
		return
	}
	m.invariantViolations.Inc()
}

func (m *DisputeMetrics) SetQuarantined(count int) {
	if m == nil {
		return
	}
	m.quarantined.Set(float64(count))
}

func (m *DisputeMetrics) SetEventLag(seconds float64) {
	if m == nil {
		return
	}
	m.eventLag.Set(seconds)
}

func (m *DisputeMetrics) ObserveIntentLatency(seconds float64) {
	if m == nil {
		return
	}
	m.intentLatency.Observe(seconds)
}
