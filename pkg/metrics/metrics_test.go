package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilReceiversAreSafe(t *testing.T) {
	var cron *CronJobMetrics
	cron.ObserveDuration("job", time.Second)
	cron.IncSuccess("job")
	cron.IncFailure("job")

	var billing *BillingRunMetrics
	billing.IncScheduled()
	billing.IncOutcome("succeeded")
	billing.IncStaleEvent()
	billing.ObserveApply(time.Second)
}

func TestRegistersWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	cron := NewCronJobMetrics(reg)
	cron.IncSuccess("Billing Run Sweep")
	cron.ObserveDuration("billing-run-sweep", 50*time.Millisecond)

	billing := NewBillingRunMetrics(reg)
	billing.IncScheduled()
	billing.IncOutcome("failed")
}

func TestNormalizeLabel(t *testing.T) {
	if got := normalizeLabel("  Billing Run Sweep "); got != "billing_run_sweep" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := normalizeLabel(""); got != "unknown" {
		t.Fatalf("unexpected label %q", got)
	}
}
