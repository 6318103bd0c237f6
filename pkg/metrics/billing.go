package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BillingRunMetrics tracks the charge-attempt pipeline.
type BillingRunMetrics struct {
	scheduled    prometheus.Counter
	outcomes     *prometheus.CounterVec
	staleEvents  prometheus.Counter
	applyLatency prometheus.Histogram
}

// NewBillingRunMetrics registers billing run metrics on the provided registerer.
func NewBillingRunMetrics(reg prometheus.Registerer) *BillingRunMetrics {
	if reg == nil {
		return &BillingRunMetrics{}
	}
	scheduled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_runs_scheduled_total",
		Help: "Billing runs created by the scheduler sweep.",
	})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_run_outcomes_total",
		Help: "Processor outcomes applied to billing runs.",
	}, []string{"outcome"})
	staleEvents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_run_stale_events_total",
		Help: "Processor events discarded because a newer event was already recorded.",
	})
	applyLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "billing_run_outcome_apply_seconds",
		Help:    "Time spent applying a processor outcome.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(scheduled, outcomes, staleEvents, applyLatency)
	return &BillingRunMetrics{
		scheduled:    scheduled,
		outcomes:     outcomes,
		staleEvents:  staleEvents,
		applyLatency: applyLatency,
	}
}

// IncScheduled counts a newly created run.
func (b *BillingRunMetrics) IncScheduled() {
	if b == nil || b.scheduled == nil {
		return
	}
	b.scheduled.Inc()
}

// IncOutcome counts an applied processor outcome.
func (b *BillingRunMetrics) IncOutcome(outcome string) {
	if b == nil || b.outcomes == nil {
		return
	}
	b.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncStaleEvent counts a discarded out-of-order event.
func (b *BillingRunMetrics) IncStaleEvent() {
	if b == nil || b.staleEvents == nil {
		return
	}
	b.staleEvents.Inc()
}

// ObserveApply records how long an outcome application took.
func (b *BillingRunMetrics) ObserveApply(duration time.Duration) {
	if b == nil || b.applyLatency == nil {
		return
	}
	b.applyLatency.Observe(duration.Seconds())
}
