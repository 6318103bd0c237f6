package enums

import "fmt"

// SubscriptionStatus tracks a subscription through its lifecycle.
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete            SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired     SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusTrialing              SubscriptionStatus = "trialing"
	SubscriptionStatusActive                SubscriptionStatus = "active"
	SubscriptionStatusPastDue               SubscriptionStatus = "past_due"
	SubscriptionStatusCancellationScheduled SubscriptionStatus = "cancellation_scheduled"
	SubscriptionStatusCanceled              SubscriptionStatus = "canceled"
)

var validSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusIncomplete,
	SubscriptionStatusIncompleteExpired,
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusCancellationScheduled,
	SubscriptionStatusCanceled,
}

// String implements fmt.Stringer.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubscriptionStatus) IsValid() bool {
	for _, candidate := range validSubscriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further status change is permitted.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCanceled || s == SubscriptionStatusIncompleteExpired
}

// ParseSubscriptionStatus converts raw input into a SubscriptionStatus.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	for _, candidate := range validSubscriptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription status %q", value)
}
