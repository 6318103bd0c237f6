package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billflow-backend/pkg/enums"
)

// FeeCalculation is a persisted snapshot of a fee breakdown, tied to either a
// purchase session or a billing period. It is never mutated after creation; a
// new calculation supersedes it when the chargeable parameters change,
// detected by comparing ParamsHash.
type FeeCalculation struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BillingPeriodID   *uuid.UUID              `gorm:"column:billing_period_id;type:uuid;index"`
	PurchaseSessionID *uuid.UUID              `gorm:"column:purchase_session_id;type:uuid;index"`
	ParamsHash        string                  `gorm:"column:params_hash;not null"`
	PriceCents        int64                   `gorm:"column:price_cents;not null"`
	Quantity          int64                   `gorm:"column:quantity;not null;default:1"`
	DiscountID        *uuid.UUID              `gorm:"column:discount_id;type:uuid"`
	PaymentMethodType enums.PaymentMethodType `gorm:"column:payment_method_type;type:payment_method_type;not null"`
	BillingAddress    json.RawMessage         `gorm:"column:billing_address;type:jsonb"`
	Currency          enums.Currency          `gorm:"column:currency;not null;default:'usd'"`

	SubtotalCents       int64 `gorm:"column:subtotal_cents;not null"`
	DiscountAmountCents int64 `gorm:"column:discount_amount_cents;not null;default:0"`
	TaxAmountCents      int64 `gorm:"column:tax_amount_cents;not null;default:0"`
	ProcessorFeeCents   int64 `gorm:"column:processor_fee_cents;not null;default:0"`
	PlatformFeeCents    int64 `gorm:"column:platform_fee_cents;not null;default:0"`
	TotalCents          int64 `gorm:"column:total_cents;not null"`

	SupersededAt *time.Time `gorm:"column:superseded_at"`
	Livemode     bool       `gorm:"column:livemode;not null;default:false"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
