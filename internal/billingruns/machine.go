package billingruns

import (
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
)

var allowedRunTransitions = map[enums.BillingRunStatus][]enums.BillingRunStatus{
	// Processor events can overtake the local InProgress write, so outcome
	// states are reachable straight from Scheduled.
	enums.BillingRunStatusScheduled: {
		enums.BillingRunStatusInProgress,
		enums.BillingRunStatusAwaitingPaymentConfirmation,
		enums.BillingRunStatusSucceeded,
		enums.BillingRunStatusFailed,
		enums.BillingRunStatusAbandoned,
		enums.BillingRunStatusAborted,
	},
	enums.BillingRunStatusInProgress: {
		enums.BillingRunStatusAwaitingPaymentConfirmation,
		enums.BillingRunStatusSucceeded,
		enums.BillingRunStatusFailed,
		enums.BillingRunStatusAbandoned,
		enums.BillingRunStatusAborted,
	},
	enums.BillingRunStatusAwaitingPaymentConfirmation: {
		enums.BillingRunStatusSucceeded,
		enums.BillingRunStatusFailed,
		enums.BillingRunStatusAbandoned,
		enums.BillingRunStatusAborted,
	},
	enums.BillingRunStatusSucceeded: {},
	enums.BillingRunStatusFailed:    {},
	enums.BillingRunStatusAbandoned: {},
	enums.BillingRunStatusAborted:   {},
}

// Transition applies the target status to the run. A retry never reuses a
// run; Failed is terminal here and the executor schedules a fresh attempt
// instead. Re-applying the current status is a no-op.
func Transition(run *models.BillingRun, target enums.BillingRunStatus) (bool, error) {
	if !target.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "unknown billing run status")
	}
	if run.Status == target {
		return false, nil
	}
	if run.Status.IsTerminal() {
		return false, pkgerrors.New(pkgerrors.CodeTerminalState, "billing run is in a terminal status").
			WithDetails(map[string]any{"current": run.Status, "requested": target})
	}
	if !runTransitionAllowed(run.Status, target) {
		return false, pkgerrors.New(pkgerrors.CodeConflict, "billing run transition not permitted").
			WithDetails(map[string]any{"from": run.Status, "to": target})
	}
	run.Status = target
	return true, nil
}

func runTransitionAllowed(from, to enums.BillingRunStatus) bool {
	for _, candidate := range allowedRunTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
