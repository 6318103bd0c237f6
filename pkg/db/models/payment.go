package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billflow-backend/pkg/enums"
)

// Payment records one charge against an invoice. Append-mostly: a settled
// payment may only move from Succeeded to Refunded, for the exact original
// amount.
type Payment struct {
	ID                  uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	InvoiceID           uuid.UUID           `gorm:"column:invoice_id;type:uuid;not null;index"`
	Status              enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'processing'"`
	AmountCents         int64               `gorm:"column:amount_cents;not null"`
	Currency            enums.Currency      `gorm:"column:currency;not null;default:'usd'"`
	ChargeDate          time.Time           `gorm:"column:charge_date;not null"`
	ProcessorReference  *string             `gorm:"column:processor_reference"`
	RefundedAmountCents *int64              `gorm:"column:refunded_amount_cents"`
	RefundedAt          *time.Time          `gorm:"column:refunded_at"`
	Livemode            bool                `gorm:"column:livemode;not null;default:false"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
