package subscriptions

import (
	"time"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
)

// allowedSubscriptionTransitions is the edge list of the subscription
// lifecycle. CancellationScheduled is an overlay reachable from any paying
// state; it still moves through PastDue when a charge is abandoned so the
// eventual cancellation does not mask the delinquency.
var allowedSubscriptionTransitions = map[enums.SubscriptionStatus][]enums.SubscriptionStatus{
	enums.SubscriptionStatusIncomplete: {
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusIncompleteExpired,
		enums.SubscriptionStatusCanceled,
	},
	enums.SubscriptionStatusTrialing: {
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusCancellationScheduled,
		enums.SubscriptionStatusCanceled,
	},
	enums.SubscriptionStatusActive: {
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusCancellationScheduled,
		enums.SubscriptionStatusCanceled,
	},
	enums.SubscriptionStatusPastDue: {
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusCancellationScheduled,
		enums.SubscriptionStatusCanceled,
	},
	enums.SubscriptionStatusCancellationScheduled: {
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusCanceled,
	},
}

// Transition applies the target status to the subscription in place. Applying
// the current status again is a no-op. Once terminal, any differing target
// fails; the record is read-only from then on.
func Transition(sub *models.Subscription, target enums.SubscriptionStatus, now time.Time) (bool, error) {
	if sub.Status == target {
		return false, nil
	}
	if sub.Status.IsTerminal() {
		return false, pkgerrors.New(pkgerrors.CodeTerminalState, "subscription is in a terminal state").
			WithDetails(map[string]any{
				"subscription_id": sub.ID,
				"status":          sub.Status,
				"target":          target,
			})
	}
	if !transitionAllowed(sub.Status, target) {
		return false, pkgerrors.New(pkgerrors.CodeConflict, "subscription transition not allowed").
			WithDetails(map[string]any{
				"subscription_id": sub.ID,
				"status":          sub.Status,
				"target":          target,
			})
	}

	sub.Status = target
	if target == enums.SubscriptionStatusCanceled {
		canceledAt := now
		sub.CanceledAt = &canceledAt
	}
	return true, nil
}

func transitionAllowed(from, to enums.SubscriptionStatus) bool {
	for _, candidate := range allowedSubscriptionTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
