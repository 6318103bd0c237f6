package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billflow-backend/pkg/enums"
)

// Invoice belongs to a billing period (subscription invoices), a purchase
// (one-time) or neither (standalone). Once terminal it is immutable.
type Invoice struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID      uuid.UUID           `gorm:"column:customer_id;type:uuid;not null;index"`
	BillingPeriodID *uuid.UUID          `gorm:"column:billing_period_id;type:uuid;index"`
	PurchaseID      *uuid.UUID          `gorm:"column:purchase_id;type:uuid"`
	Status          enums.InvoiceStatus `gorm:"column:status;type:invoice_status;not null;default:'draft'"`
	InvoiceNumber   string              `gorm:"column:invoice_number;not null;uniqueIndex"`
	Currency        enums.Currency      `gorm:"column:currency;not null;default:'usd'"`
	SubtotalCents   int64               `gorm:"column:subtotal_cents;not null;default:0"`
	DiscountCents   int64               `gorm:"column:discount_cents;not null;default:0"`
	TaxCents        int64               `gorm:"column:tax_cents;not null;default:0"`
	TotalCents      int64               `gorm:"column:total_cents;not null;default:0"`
	Livemode        bool                `gorm:"column:livemode;not null;default:false"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`

	LineItems []InvoiceLineItem `gorm:"foreignKey:InvoiceID"`
}

// InvoiceLineItem is a single priced line on an invoice. Line items may only
// change while the owning invoice is non-terminal.
type InvoiceLineItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	InvoiceID      uuid.UUID `gorm:"column:invoice_id;type:uuid;not null;index"`
	Description    string    `gorm:"column:description;not null"`
	Quantity       int64     `gorm:"column:quantity;not null;default:1"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	AmountCents    int64     `gorm:"column:amount_cents;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
