package billingperiods

import (
	"time"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
)

var allowedPeriodTransitions = map[enums.BillingPeriodStatus][]enums.BillingPeriodStatus{
	enums.BillingPeriodStatusUpcoming: {
		enums.BillingPeriodStatusActive,
		enums.BillingPeriodStatusScheduledToCancel,
		enums.BillingPeriodStatusCanceled,
	},
	enums.BillingPeriodStatusActive: {
		enums.BillingPeriodStatusCompleted,
		enums.BillingPeriodStatusPastDue,
		enums.BillingPeriodStatusCanceled,
	},
	enums.BillingPeriodStatusScheduledToCancel: {
		enums.BillingPeriodStatusCompleted,
		enums.BillingPeriodStatusCanceled,
	},
	enums.BillingPeriodStatusPastDue: {
		enums.BillingPeriodStatusCompleted,
		enums.BillingPeriodStatusCanceled,
	},
	enums.BillingPeriodStatusCompleted: {},
	enums.BillingPeriodStatusCanceled:  {},
}

// Transition evaluates the period state machine against the target status.
// It mutates the period in place and reports whether anything changed.
// Transitions requested on a terminal period are a no-op, never an error, so
// sweeps and webhook handlers can retry safely.
func Transition(period *models.BillingPeriod, target enums.BillingPeriodStatus, now time.Time) (bool, error) {
	if !target.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "unknown billing period status")
	}
	if period.Status == target {
		return false, nil
	}
	if period.Status.IsTerminal() {
		return false, nil
	}

	switch target {
	case enums.BillingPeriodStatusActive:
		if now.Before(period.StartDate) {
			return false, pkgerrors.New(pkgerrors.CodePremature, "billing period has not started yet").
				WithDetails(map[string]any{"start_date": period.StartDate, "now": now})
		}
	case enums.BillingPeriodStatusScheduledToCancel:
		// Once the period is underway it must run to completion instead.
		if !now.Before(period.StartDate) {
			return false, pkgerrors.New(pkgerrors.CodeConflict, "billing period already started, it must run to completion")
		}
	}

	if !transitionAllowed(period.Status, target) {
		return false, pkgerrors.New(pkgerrors.CodeConflict, "billing period transition not permitted").
			WithDetails(map[string]any{"from": period.Status, "to": target})
	}

	period.Status = target
	return true, nil
}

func transitionAllowed(from, to enums.BillingPeriodStatus) bool {
	for _, candidate := range allowedPeriodTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
