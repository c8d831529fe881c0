// Package metrics defines the Prometheus collectors exposed on /metrics.
// All series carry the simflow_ prefix and low-cardinality labels only:
// provider slugs, channel slugs, outcome enums. Order ids and correlation
// ids never become labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/voyasim/simflow/core"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeManual  = "pending_manual"
)

// Metrics bundles every collector the platform emits.
type Metrics struct {
	FulfillmentsTotal   *prometheus.CounterVec
	FulfillmentDuration *prometheus.HistogramVec
	ProviderAttempts    *prometheus.CounterVec
	RetriesTotal        *prometheus.CounterVec
	BreakerState        *prometheus.GaugeVec
	BreakerTransitions  *prometheus.CounterVec
	InquiriesSynced     *prometheus.CounterVec
	RepliesSent         *prometheus.CounterVec
	WebhookEvents       *prometheus.CounterVec
	EmailsSent          *prometheus.CounterVec
	ReconcileResumed    prometheus.Counter
	StepLogsDropped     prometheus.Counter
}

// New registers all collectors with reg. Pass prometheus.DefaultRegisterer
// in production; tests use their own registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FulfillmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "simflow_fulfillments_total",
			Help: "Fulfillment pipeline completions by final outcome.",
		}, []string{"provider", "outcome"}),
		FulfillmentDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "simflow_fulfillment_duration_seconds",
			Help:    "End-to-end fulfillment latency.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 15, 20, 25, 30},
		}, []string{"outcome"}),
		ProviderAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "simflow_provider_attempts_total",
			Help: "Individual provider purchase attempts by result kind.",
		}, []string{"provider", "result"}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "simflow_provider_retries_total",
			Help: "Retry sleeps performed per provider.",
		}, []string{"provider"}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "simflow_breaker_state",
			Help: "Circuit state per provider: 0 closed, 1 half_open, 2 open.",
		}, []string{"provider"}),
		BreakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "simflow_breaker_transitions_total",
			Help: "Circuit state transitions by target state.",
		}, []string{"provider", "to"}),
		InquiriesSynced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "simflow_inquiries_synced_total",
			Help: "Inquiries pulled from external channels.",
		}, []string{"channel"}),
		RepliesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "simflow_replies_sent_total",
			Help: "Agent replies dispatched to channels by outcome.",
		}, []string{"channel", "outcome"}),
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "simflow_webhook_events_total",
			Help: "Inbound webhook deliveries by source and outcome.",
		}, []string{"source", "outcome"}),
		EmailsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "simflow_emails_sent_total",
			Help: "Delivery emails sent by outcome.",
		}, []string{"outcome"}),
		ReconcileResumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "simflow_reconcile_resumed_total",
			Help: "Stuck orders resumed by the reconciliation sweep.",
		}),
		StepLogsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "simflow_step_logs_dropped_total",
			Help: "Automation log mirror entries dropped due to backlog.",
		}),
	}
}

// RecordTransition counts a circuit transition into the target phase.
func (m *Metrics) RecordTransition(provider string, to core.BreakerPhase) {
	m.BreakerTransitions.WithLabelValues(provider, string(to)).Inc()
}

// SetPhase reports the current circuit phase on the state gauge.
func (m *Metrics) SetPhase(provider string, phase core.BreakerPhase) {
	m.SetBreakerState(provider, phase)
}

// SetBreakerState records the numeric gauge for a circuit phase.
func (m *Metrics) SetBreakerState(provider string, phase core.BreakerPhase) {
	var v float64
	switch phase {
	case core.BreakerHalfOpen:
		v = 1
	case core.BreakerOpen:
		v = 2
	}
	m.BreakerState.WithLabelValues(provider).Set(v)
}

// NewNop returns metrics bound to a throwaway registry, for tests and
// library consumers that do not scrape.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
