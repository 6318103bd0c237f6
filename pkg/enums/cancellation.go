package enums

import "fmt"

// CancellationTiming selects when a requested cancellation takes effect.
type CancellationTiming string

const (
	CancellationTimingImmediately  CancellationTiming = "immediately"
	CancellationTimingAtPeriodEnd  CancellationTiming = "at_end_of_current_billing_period"
	CancellationTimingAtFutureDate CancellationTiming = "at_future_date"
)

var validCancellationTimings = []CancellationTiming{
	CancellationTimingImmediately,
	CancellationTimingAtPeriodEnd,
	CancellationTimingAtFutureDate,
}

// String implements fmt.Stringer.
func (c CancellationTiming) String() string {
	return string(c)
}

// IsValid reports whether the value is known.
func (c CancellationTiming) IsValid() bool {
	for _, candidate := range validCancellationTimings {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCancellationTiming converts raw input into a CancellationTiming.
func ParseCancellationTiming(value string) (CancellationTiming, error) {
	for _, candidate := range validCancellationTimings {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cancellation timing %q", value)
}

// CancellationRefundPolicy selects how an immediate cancellation refunds the
// current period.
type CancellationRefundPolicy string

const (
	CancellationRefundNone     CancellationRefundPolicy = "none"
	CancellationRefundFull     CancellationRefundPolicy = "full"
	CancellationRefundProrated CancellationRefundPolicy = "prorated"
)

var validCancellationRefundPolicies = []CancellationRefundPolicy{
	CancellationRefundNone,
	CancellationRefundFull,
	CancellationRefundProrated,
}

// String implements fmt.Stringer.
func (c CancellationRefundPolicy) String() string {
	return string(c)
}

// IsValid reports whether the value is known.
func (c CancellationRefundPolicy) IsValid() bool {
	for _, candidate := range validCancellationRefundPolicies {
		if candidate == c {
			return true
		}
	}
	return false
}

// AdjustmentTiming selects when a plan/quantity change takes effect.
type AdjustmentTiming string

const (
	AdjustmentTimingImmediately AdjustmentTiming = "immediately"
	AdjustmentTimingAtPeriodEnd AdjustmentTiming = "at_end_of_current_billing_period"
)

var validAdjustmentTimings = []AdjustmentTiming{
	AdjustmentTimingImmediately,
	AdjustmentTimingAtPeriodEnd,
}

// String implements fmt.Stringer.
func (a AdjustmentTiming) String() string {
	return string(a)
}

// IsValid reports whether the value is known.
func (a AdjustmentTiming) IsValid() bool {
	for _, candidate := range validAdjustmentTimings {
		if candidate == a {
			return true
		}
	}
	return false
}
