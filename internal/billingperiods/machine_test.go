package billingperiods

import (
	"testing"
	"time"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
)

func testPeriod(status enums.BillingPeriodStatus, start, end time.Time) *models.BillingPeriod {
	return &models.BillingPeriod{
		StartDate: start,
		EndDate:   end,
		Status:    status,
	}
}

func TestTransitionActivationRequiresStartDate(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	period := testPeriod(enums.BillingPeriodStatusUpcoming, start, end)

	_, err := Transition(period, enums.BillingPeriodStatusActive, start.Add(-time.Hour))
	if !pkgerrors.HasCode(err, pkgerrors.CodePremature) {
		t.Fatalf("expected premature transition error, got %v", err)
	}
	if period.Status != enums.BillingPeriodStatusUpcoming {
		t.Fatalf("status must be unchanged on rejected transition, got %s", period.Status)
	}

	changed, err := Transition(period, enums.BillingPeriodStatusActive, start)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if !changed || period.Status != enums.BillingPeriodStatusActive {
		t.Fatalf("expected active period, got changed=%v status=%s", changed, period.Status)
	}
}

func TestTransitionTerminalIsNoOp(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	for _, terminal := range []enums.BillingPeriodStatus{
		enums.BillingPeriodStatusCompleted,
		enums.BillingPeriodStatusCanceled,
	} {
		period := testPeriod(terminal, start, end)
		changed, err := Transition(period, enums.BillingPeriodStatusActive, end)
		if err != nil {
			t.Fatalf("terminal transition must not error, got %v", err)
		}
		if changed || period.Status != terminal {
			t.Fatalf("terminal period must stay %s, got changed=%v status=%s", terminal, changed, period.Status)
		}
	}
}

func TestTransitionScheduleToCancelOnlyBeforeStart(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	period := testPeriod(enums.BillingPeriodStatusUpcoming, start, end)
	changed, err := Transition(period, enums.BillingPeriodStatusScheduledToCancel, start.Add(-24*time.Hour))
	if err != nil || !changed {
		t.Fatalf("expected schedule-to-cancel before start, got changed=%v err=%v", changed, err)
	}

	started := testPeriod(enums.BillingPeriodStatusUpcoming, start, end)
	_, err = Transition(started, enums.BillingPeriodStatusScheduledToCancel, start.Add(time.Hour))
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict after start date, got %v", err)
	}
}

func TestTransitionRepeatedTargetIsIdempotent(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	period := testPeriod(enums.BillingPeriodStatusActive, start, start.AddDate(0, 1, 0))

	changed, err := Transition(period, enums.BillingPeriodStatusActive, start)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if changed {
		t.Fatal("transition to the current status must not report a change")
	}
}

func TestTransitionDisallowedEdge(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	period := testPeriod(enums.BillingPeriodStatusUpcoming, start, start.AddDate(0, 1, 0))

	_, err := Transition(period, enums.BillingPeriodStatusCompleted, start)
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict for upcoming->completed, got %v", err)
	}
}
