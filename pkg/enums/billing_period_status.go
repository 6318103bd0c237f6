package enums

import "fmt"

// BillingPeriodStatus tracks a billing period from creation to settlement.
type BillingPeriodStatus string

const (
	BillingPeriodStatusUpcoming          BillingPeriodStatus = "upcoming"
	BillingPeriodStatusActive            BillingPeriodStatus = "active"
	BillingPeriodStatusScheduledToCancel BillingPeriodStatus = "scheduled_to_cancel"
	BillingPeriodStatusPastDue           BillingPeriodStatus = "past_due"
	BillingPeriodStatusCompleted         BillingPeriodStatus = "completed"
	BillingPeriodStatusCanceled          BillingPeriodStatus = "canceled"
)

var validBillingPeriodStatuses = []BillingPeriodStatus{
	BillingPeriodStatusUpcoming,
	BillingPeriodStatusActive,
	BillingPeriodStatusScheduledToCancel,
	BillingPeriodStatusPastDue,
	BillingPeriodStatusCompleted,
	BillingPeriodStatusCanceled,
}

// String implements fmt.Stringer.
func (s BillingPeriodStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s BillingPeriodStatus) IsValid() bool {
	for _, candidate := range validBillingPeriodStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the period has settled.
func (s BillingPeriodStatus) IsTerminal() bool {
	return s == BillingPeriodStatusCompleted || s == BillingPeriodStatusCanceled
}

// ParseBillingPeriodStatus converts raw input into a BillingPeriodStatus.
func ParseBillingPeriodStatus(value string) (BillingPeriodStatus, error) {
	for _, candidate := range validBillingPeriodStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing period status %q", value)
}
