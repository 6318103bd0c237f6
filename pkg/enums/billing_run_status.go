package enums

import "fmt"

// BillingRunStatus tracks a single charge attempt for a billing period.
type BillingRunStatus string

const (
	BillingRunStatusScheduled                   BillingRunStatus = "scheduled"
	BillingRunStatusInProgress                  BillingRunStatus = "in_progress"
	BillingRunStatusAwaitingPaymentConfirmation BillingRunStatus = "awaiting_payment_confirmation"
	BillingRunStatusSucceeded                   BillingRunStatus = "succeeded"
	BillingRunStatusFailed                      BillingRunStatus = "failed"
	BillingRunStatusAbandoned                   BillingRunStatus = "abandoned"
	BillingRunStatusAborted                     BillingRunStatus = "aborted"
)

var validBillingRunStatuses = []BillingRunStatus{
	BillingRunStatusScheduled,
	BillingRunStatusInProgress,
	BillingRunStatusAwaitingPaymentConfirmation,
	BillingRunStatusSucceeded,
	BillingRunStatusFailed,
	BillingRunStatusAbandoned,
	BillingRunStatusAborted,
}

// String implements fmt.Stringer.
func (s BillingRunStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s BillingRunStatus) IsValid() bool {
	for _, candidate := range validBillingRunStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the run can no longer progress. Failed runs are
// terminal for the run itself; the scheduler may still create a fresh attempt.
func (s BillingRunStatus) IsTerminal() bool {
	switch s {
	case BillingRunStatusSucceeded, BillingRunStatusFailed, BillingRunStatusAbandoned, BillingRunStatusAborted:
		return true
	}
	return false
}

// ParseBillingRunStatus converts raw input into a BillingRunStatus.
func ParseBillingRunStatus(value string) (BillingRunStatus, error) {
	for _, candidate := range validBillingRunStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing run status %q", value)
}
