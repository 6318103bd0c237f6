package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/billflow-backend/pkg/enums"
)

// BillingPlan is the price-plan catalog entry a subscription references.
type BillingPlan struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name          string                `gorm:"column:name;not null"`
	Status        enums.PlanStatus      `gorm:"column:status;type:plan_status;not null;default:'active'"`
	IsDefault     bool                  `gorm:"column:is_default;not null;default:false"`
	Interval      enums.BillingInterval `gorm:"column:interval;type:billing_interval;not null"`
	IntervalCount int                   `gorm:"column:interval_count;not null;default:1"`
	PriceCents    int64                 `gorm:"column:price_cents;not null"`
	Currency      enums.Currency        `gorm:"column:currency;not null;default:'usd'"`
	TaxRate       decimal.Decimal       `gorm:"column:tax_rate;type:numeric(6,4);not null;default:0"`
	TrialDays     int                   `gorm:"column:trial_days;not null;default:0"`
	ChargeTiming  enums.ChargeTiming    `gorm:"column:charge_timing;type:charge_timing;not null;default:'in_arrears'"`
	Features      pq.StringArray        `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	Livemode      bool                  `gorm:"column:livemode;not null;default:false"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// PaymentMethod stores a tokenized payment instrument reference. Tokenization
// itself happens at the processor; the engine only picks which method a run
// charges.
type PaymentMethod struct {
	ID         uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID uuid.UUID               `gorm:"column:customer_id;type:uuid;not null;index"`
	Type       enums.PaymentMethodType `gorm:"column:type;type:payment_method_type;not null"`
	// Billing address of the instrument, as reported by the processor at
	// tokenization time. Locates the tax jurisdiction for charges.
	BillingCountry string `gorm:"column:billing_country;not null;default:''"`
	BillingState   string `gorm:"column:billing_state;not null;default:''"`
	IsDefault      bool   `gorm:"column:is_default;not null;default:false"`
	IsBackup   bool                    `gorm:"column:is_backup;not null;default:false"`
	Livemode   bool                    `gorm:"column:livemode;not null;default:false"`
	CreatedAt  time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
