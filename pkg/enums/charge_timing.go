package enums

import "fmt"

// ChargeTiming selects whether a billing run is scheduled at the period start
// (in advance) or at the period end (in arrears).
type ChargeTiming string

const (
	ChargeTimingInAdvance ChargeTiming = "in_advance"
	ChargeTimingInArrears ChargeTiming = "in_arrears"
)

var validChargeTimings = []ChargeTiming{ChargeTimingInAdvance, ChargeTimingInArrears}

// String implements fmt.Stringer.
func (c ChargeTiming) String() string {
	return string(c)
}

// IsValid reports whether the value is known.
func (c ChargeTiming) IsValid() bool {
	for _, candidate := range validChargeTimings {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseChargeTiming converts raw input into a ChargeTiming.
func ParseChargeTiming(value string) (ChargeTiming, error) {
	for _, candidate := range validChargeTimings {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid charge timing %q", value)
}

// PaymentOutcome is the already-verified processor verdict fed into the engine.
type PaymentOutcome string

const (
	PaymentOutcomeSucceeded      PaymentOutcome = "succeeded"
	PaymentOutcomeFailed         PaymentOutcome = "failed"
	PaymentOutcomeRequiresAction PaymentOutcome = "requires_action"
)

var validPaymentOutcomes = []PaymentOutcome{
	PaymentOutcomeSucceeded,
	PaymentOutcomeFailed,
	PaymentOutcomeRequiresAction,
}

// String implements fmt.Stringer.
func (p PaymentOutcome) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p PaymentOutcome) IsValid() bool {
	for _, candidate := range validPaymentOutcomes {
		if candidate == p {
			return true
		}
	}
	return false
}
