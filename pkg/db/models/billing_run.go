package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billflow-backend/pkg/enums"
)

// BillingRun is one charge attempt for a billing period. Retries create new
// runs; a partial unique index keeps at most one non-terminal run per period.
type BillingRun struct {
	ID                              uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BillingPeriodID                 uuid.UUID              `gorm:"column:billing_period_id;type:uuid;not null;index"`
	Status                          enums.BillingRunStatus `gorm:"column:status;type:billing_run_status;not null;default:'scheduled'"`
	ScheduledFor                    time.Time              `gorm:"column:scheduled_for;not null"`
	StartedAt                       *time.Time             `gorm:"column:started_at"`
	CompletedAt                     *time.Time             `gorm:"column:completed_at"`
	AttemptNumber                   int                    `gorm:"column:attempt_number;not null;default:1"`
	ErrorDetails                    *string                `gorm:"column:error_details"`
	PaymentMethodID                 *uuid.UUID             `gorm:"column:payment_method_id;type:uuid"`
	LastPaymentIntentEventTimestamp *time.Time             `gorm:"column:last_payment_intent_event_timestamp"`
	Livemode                        bool                   `gorm:"column:livemode;not null;default:false"`
	CreatedAt                       time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                       time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// SeenNewerEvent reports whether a processor event at the given timestamp is
// stale relative to the run's recorded high-water mark.
func (r *BillingRun) SeenNewerEvent(eventTimestamp time.Time) bool {
	return r.LastPaymentIntentEventTimestamp != nil &&
		eventTimestamp.Before(*r.LastPaymentIntentEventTimestamp)
}
