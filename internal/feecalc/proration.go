package feecalc

import "time"

// ProrationPolicy decides how much of a period's amount is attributable to
// the time remaining at a given instant. Used for immediate cancellation
// refunds and mid-period plan adjustments.
type ProrationPolicy interface {
	Prorate(amountCents int64, periodStart, periodEnd, at time.Time) int64
}

// RemainingTimeProration scales the amount linearly by the fraction of the
// period left at the reference instant, rounding toward zero.
type RemainingTimeProration struct{}

func (RemainingTimeProration) Prorate(amountCents int64, periodStart, periodEnd, at time.Time) int64 {
	if !periodStart.Before(periodEnd) || amountCents <= 0 {
		return 0
	}
	if !at.After(periodStart) {
		return amountCents
	}
	if !at.Before(periodEnd) {
		return 0
	}
	remaining := periodEnd.Sub(at)
	length := periodEnd.Sub(periodStart)
	return amountCents * int64(remaining) / int64(length)
}

// NoProration always attributes zero to the remaining time.
type NoProration struct{}

func (NoProration) Prorate(int64, time.Time, time.Time, time.Time) int64 {
	return 0
}
