package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billflow-backend/pkg/enums"
)

// BillingPeriod is a half-open interval [StartDate, EndDate) owned by exactly
// one subscription. Periods are contiguous, never overlap and are never
// deleted, only transitioned to a terminal status.
type BillingPeriod struct {
	ID             uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID uuid.UUID                 `gorm:"column:subscription_id;type:uuid;not null;index;uniqueIndex:idx_billing_periods_sub_start"`
	StartDate      time.Time                 `gorm:"column:start_date;not null;uniqueIndex:idx_billing_periods_sub_start"`
	EndDate        time.Time                 `gorm:"column:end_date;not null"`
	Status         enums.BillingPeriodStatus `gorm:"column:status;type:billing_period_status;not null;default:'upcoming'"`
	TrialPeriod    bool                      `gorm:"column:trial_period;not null;default:false"`
	Livemode       bool                      `gorm:"column:livemode;not null;default:false"`
	CreatedAt      time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

// Contains reports whether the instant falls inside the period.
func (p *BillingPeriod) Contains(at time.Time) bool {
	return !at.Before(p.StartDate) && at.Before(p.EndDate)
}
