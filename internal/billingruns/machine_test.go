package billingruns

import (
	"testing"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
)

func TestRunTransitionHappyPath(t *testing.T) {
	t.Parallel()

	run := &models.BillingRun{Status: enums.BillingRunStatusScheduled}
	for _, target := range []enums.BillingRunStatus{
		enums.BillingRunStatusInProgress,
		enums.BillingRunStatusAwaitingPaymentConfirmation,
		enums.BillingRunStatusSucceeded,
	} {
		changed, err := Transition(run, target)
		if err != nil || !changed {
			t.Fatalf("transition to %s failed: changed=%v err=%v", target, changed, err)
		}
	}
}

func TestRunTransitionOutcomeStraightFromScheduled(t *testing.T) {
	t.Parallel()

	run := &models.BillingRun{Status: enums.BillingRunStatusScheduled}
	changed, err := Transition(run, enums.BillingRunStatusSucceeded)
	if err != nil || !changed {
		t.Fatalf("scheduled run must accept a processor outcome, changed=%v err=%v", changed, err)
	}
}

func TestRunTransitionTerminalIsFrozen(t *testing.T) {
	t.Parallel()

	for _, terminal := range []enums.BillingRunStatus{
		enums.BillingRunStatusSucceeded,
		enums.BillingRunStatusFailed,
		enums.BillingRunStatusAbandoned,
		enums.BillingRunStatusAborted,
	} {
		run := &models.BillingRun{Status: terminal}

		changed, err := Transition(run, terminal)
		if err != nil || changed {
			t.Fatalf("re-applying %s must be a no-op, changed=%v err=%v", terminal, changed, err)
		}

		_, err = Transition(run, enums.BillingRunStatusInProgress)
		if !pkgerrors.HasCode(err, pkgerrors.CodeTerminalState) {
			t.Fatalf("expected terminal state violation from %s, got %v", terminal, err)
		}
	}
}
