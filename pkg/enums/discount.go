package enums

import "fmt"

// DiscountType distinguishes percent from fixed-amount discounts.
type DiscountType string

const (
	DiscountTypePercent DiscountType = "percent"
	DiscountTypeFixed   DiscountType = "fixed"
)

var validDiscountTypes = []DiscountType{DiscountTypePercent, DiscountTypeFixed}

// String implements fmt.Stringer.
func (d DiscountType) String() string {
	return string(d)
}

// IsValid reports whether the value is known.
func (d DiscountType) IsValid() bool {
	for _, candidate := range validDiscountTypes {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDiscountType converts raw input into a DiscountType.
func ParseDiscountType(value string) (DiscountType, error) {
	for _, candidate := range validDiscountTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid discount type %q", value)
}

// DiscountDuration bounds how many redemptions a discount allows.
type DiscountDuration string

const (
	DiscountDurationOnce             DiscountDuration = "once"
	DiscountDurationForever          DiscountDuration = "forever"
	DiscountDurationNumberOfPayments DiscountDuration = "number_of_payments"
)

var validDiscountDurations = []DiscountDuration{
	DiscountDurationOnce,
	DiscountDurationForever,
	DiscountDurationNumberOfPayments,
}

// String implements fmt.Stringer.
func (d DiscountDuration) String() string {
	return string(d)
}

// IsValid reports whether the value is known.
func (d DiscountDuration) IsValid() bool {
	for _, candidate := range validDiscountDurations {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDiscountDuration converts raw input into a DiscountDuration.
func ParseDiscountDuration(value string) (DiscountDuration, error) {
	for _, candidate := range validDiscountDurations {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid discount duration %q", value)
}
