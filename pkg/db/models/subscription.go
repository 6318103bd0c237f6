package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billflow-backend/pkg/enums"
)

// Subscription is the top-level recurring-billing entity. Exactly one of its
// billing periods contains now whenever the subscription is active.
type Subscription struct {
	ID                     uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID             uuid.UUID                `gorm:"column:customer_id;type:uuid;not null;index"`
	PlanID                 uuid.UUID                `gorm:"column:plan_id;type:uuid;not null"`
	Status                 enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'incomplete'"`
	Quantity               int64                    `gorm:"column:quantity;not null;default:1"`
	CurrentPeriodStart     time.Time                `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd       time.Time                `gorm:"column:current_period_end;not null"`
	IntervalUnit           enums.BillingInterval    `gorm:"column:interval_unit;type:billing_interval;not null;default:'month'"`
	IntervalCount          int                      `gorm:"column:interval_count;not null;default:1"`
	TrialEnd               *time.Time               `gorm:"column:trial_end"`
	CancelAt               *time.Time               `gorm:"column:cancel_at"`
	CanceledAt             *time.Time               `gorm:"column:canceled_at"`
	CancelScheduledAt      *time.Time               `gorm:"column:cancel_scheduled_at"`
	DefaultPaymentMethodID *uuid.UUID               `gorm:"column:default_payment_method_id;type:uuid"`
	BackupPaymentMethodID  *uuid.UUID               `gorm:"column:backup_payment_method_id;type:uuid"`
	PendingPlanID          *uuid.UUID               `gorm:"column:pending_plan_id;type:uuid"`
	PendingQuantity        *int64                   `gorm:"column:pending_quantity"`
	Livemode               bool                     `gorm:"column:livemode;not null;default:false"`
	CreatedAt              time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// HasPendingAdjustment reports whether a queued plan/quantity change is waiting
// for the next billing period.
func (s *Subscription) HasPendingAdjustment() bool {
	return s.PendingPlanID != nil || s.PendingQuantity != nil
}
