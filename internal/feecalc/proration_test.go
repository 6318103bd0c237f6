package feecalc

import (
	"testing"
	"time"
)

func TestRemainingTimeProration(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, time.January, 31, 0, 0, 0, 0, time.UTC)
	policy := RemainingTimeProration{}

	if got := policy.Prorate(3000, start, end, start); got != 3000 {
		t.Fatalf("expected full amount at period start, got %d", got)
	}
	if got := policy.Prorate(3000, start, end, end); got != 0 {
		t.Fatalf("expected zero at period end, got %d", got)
	}
	mid := start.Add(end.Sub(start) / 2)
	if got := policy.Prorate(3000, start, end, mid); got != 1500 {
		t.Fatalf("expected half the amount mid-period, got %d", got)
	}
	if got := policy.Prorate(3000, end, start, mid); got != 0 {
		t.Fatalf("expected zero for inverted period, got %d", got)
	}
}

func TestNoProration(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	if got := (NoProration{}).Prorate(3000, now, now.Add(time.Hour), now); got != 0 {
		t.Fatalf("expected zero, got %d", got)
	}
}
