package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the lifecycle counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	events           *prometheus.CounterVec
	handlerFaults    *prometheus.CounterVec
	reconciliation   *prometheus.CounterVec
	abuseBlocks      *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	sweepTransitions *prometheus.CounterVec
}

// NewMetrics registers the lifecycle counters on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_events_total",
				Help: "Inbound lifecycle events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		handlerFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_handler_faults_total",
				Help: "Events whose handler failed and were dead-lettered",
			},
			[]string{"type"},
		),
		reconciliation: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_reconciliation_gaps_total",
				Help: "Processor side effects not mirrored by a local write",
			},
			[]string{"stage"},
		),
		abuseBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_abuse_blocks_total",
				Help: "Trial signups blocked by rule",
			},
			[]string{"rule"},
		),
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_notifications_total",
				Help: "Notices sent by kind and result",
			},
			[]string{"kind", "result"},
		),
		sweepTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_sweep_transitions_total",
				Help: "Subscribers advanced by periodic sweeps",
			},
			[]string{"sweep"},
		),
	}
}

func (m *Metrics) event(t EventType, outcome Outcome) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(t), string(outcome)).Inc()
}

func (m *Metrics) handlerFault(t EventType) {
	if m == nil {
		return
	}
	m.handlerFaults.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) reconciliationGap(stage string) {
	if m == nil {
		return
	}
	m.reconciliation.WithLabelValues(stage).Inc()
}

func (m *Metrics) abuseBlock(rule string) {
	if m == nil {
		return
	}
	m.abuseBlocks.WithLabelValues(rule).Inc()
}

func (m *Metrics) notification(kind NoticeKind, ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.notifications.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) sweep(name string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.sweepTransitions.WithLabelValues(name).Add(float64(n))
}
