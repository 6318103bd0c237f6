package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billflow-backend/pkg/enums"
)

// Discount is a reusable coupon. Edits never retroactively change terms that
// were already redeemed; redemptions snapshot the discount at redemption time.
type Discount struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Code             string                 `gorm:"column:code;not null;uniqueIndex"`
	Type             enums.DiscountType     `gorm:"column:type;type:discount_type;not null"`
	AmountCents      int64                  `gorm:"column:amount_cents;not null;default:0"`
	PercentOff       int                    `gorm:"column:percent_off;not null;default:0"`
	Duration         enums.DiscountDuration `gorm:"column:duration;type:discount_duration;not null"`
	NumberOfPayments *int                   `gorm:"column:number_of_payments"`
	Active           bool                   `gorm:"column:active;not null;default:true"`
	Livemode         bool                   `gorm:"column:livemode;not null;default:false"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// DiscountRedemption snapshots the discount terms applied to one purchase or
// subscription. At most one redemption exists per purchase, enforced by a
// uniqueness constraint and an insert-do-nothing repository contract.
type DiscountRedemption struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DiscountID        uuid.UUID              `gorm:"column:discount_id;type:uuid;not null;index"`
	PurchaseID        *uuid.UUID             `gorm:"column:purchase_id;type:uuid;uniqueIndex:idx_discount_redemptions_purchase"`
	SubscriptionID    *uuid.UUID             `gorm:"column:subscription_id;type:uuid;uniqueIndex:idx_discount_redemptions_subscription"`
	Type              enums.DiscountType     `gorm:"column:type;type:discount_type;not null"`
	AmountCents       int64                  `gorm:"column:amount_cents;not null;default:0"`
	PercentOff        int                    `gorm:"column:percent_off;not null;default:0"`
	Duration          enums.DiscountDuration `gorm:"column:duration;type:discount_duration;not null"`
	PaymentsRemaining *int                   `gorm:"column:payments_remaining"`
	Livemode          bool                   `gorm:"column:livemode;not null;default:false"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// Exhausted reports whether the redemption has no payments left to discount.
func (r *DiscountRedemption) Exhausted() bool {
	if r.Duration == enums.DiscountDurationForever {
		return false
	}
	return r.PaymentsRemaining != nil && *r.PaymentsRemaining <= 0
}
