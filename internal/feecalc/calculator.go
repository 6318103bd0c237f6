package feecalc

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
)

// Address locates the tax jurisdiction for a charge.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

// AppliedDiscount is the discount snapshot used for a single calculation.
// PaymentsRemaining is nil for discounts without a redemption count.
type AppliedDiscount struct {
	Type              enums.DiscountType `json:"type"`
	AmountCents       int64              `json:"amount_cents"`
	PercentOff        int                `json:"percent_off"`
	PaymentsRemaining *int               `json:"payments_remaining,omitempty"`
}

// Input is the chargeable context for one fee calculation. A non-nil TaxRate
// overrides the jurisdiction table; plans with a contractual rate set it so
// the charge does not depend on address data being present.
type Input struct {
	PriceCents        int64                   `json:"price_cents"`
	Quantity          int64                   `json:"quantity"`
	Currency          enums.Currency          `json:"currency"`
	PaymentMethodType enums.PaymentMethodType `json:"payment_method_type"`
	BillingAddress    *Address                `json:"billing_address,omitempty"`
	TaxRate           *decimal.Decimal        `json:"tax_rate,omitempty"`
	Discount          *AppliedDiscount        `json:"discount,omitempty"`
}

// Breakdown is the computed result. Processor and platform fees describe how
// the total splits, they are not added on top of it.
type Breakdown struct {
	SubtotalCents     int64 `json:"subtotal_cents"`
	DiscountCents     int64 `json:"discount_cents"`
	TaxCents          int64 `json:"tax_cents"`
	ProcessorFeeCents int64 `json:"processor_fee_cents"`
	PlatformFeeCents  int64 `json:"platform_fee_cents"`
	TotalCents        int64 `json:"total_cents"`
}

type processorRate struct {
	percent decimal.Decimal
	fixed   int64
}

// Calculator computes fee breakdowns. It holds rate tables only, no state,
// so identical inputs always produce identical output.
type Calculator struct {
	taxRates        map[string]decimal.Decimal
	processorRates  map[enums.PaymentMethodType]processorRate
	platformFeeRate decimal.Decimal
}

// NewCalculator returns a calculator with the default rate tables. Tax rates
// are keyed by "COUNTRY-STATE"; jurisdictions without an entry are untaxed.
func NewCalculator() *Calculator {
	return &Calculator{
		taxRates: map[string]decimal.Decimal{
			"US-CA": decimal.NewFromFloat(0.0725),
			"US-NY": decimal.NewFromFloat(0.04),
			"US-TX": decimal.NewFromFloat(0.0625),
			"CA-ON": decimal.NewFromFloat(0.13),
			"GB-":   decimal.NewFromFloat(0.20),
		},
		processorRates: map[enums.PaymentMethodType]processorRate{
			enums.PaymentMethodTypeCard:        {percent: decimal.NewFromFloat(0.029), fixed: 30},
			enums.PaymentMethodTypeBankAccount: {percent: decimal.NewFromFloat(0.008), fixed: 0},
			enums.PaymentMethodTypeSEPADebit:   {percent: decimal.Zero, fixed: 35},
		},
		platformFeeRate: decimal.NewFromFloat(0.01),
	}
}

// Calculate produces the breakdown for the given input. It rejects negative
// prices and quantities and discounts with no redemptions left.
func (c *Calculator) Calculate(input Input) (Breakdown, error) {
	if input.PriceCents < 0 {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}
	if input.Quantity < 0 {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	if input.Currency != "" && !input.Currency.IsValid() {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency")
	}

	subtotal := input.PriceCents * input.Quantity

	discount, err := discountAmount(input.Discount, subtotal)
	if err != nil {
		return Breakdown{}, err
	}

	taxable := decimal.NewFromInt(subtotal - discount)
	tax := taxable.Mul(c.taxRate(input)).Round(0).IntPart()

	total := subtotal - discount + tax

	rate := c.processorRates[input.PaymentMethodType]
	processorFee := decimal.NewFromInt(total).Mul(rate.percent).Round(0).IntPart()
	if total > 0 {
		processorFee += rate.fixed
	}
	platformFee := decimal.NewFromInt(total).Mul(c.platformFeeRate).Round(0).IntPart()

	return Breakdown{
		SubtotalCents:     subtotal,
		DiscountCents:     discount,
		TaxCents:          tax,
		ProcessorFeeCents: processorFee,
		PlatformFeeCents:  platformFee,
		TotalCents:        total,
	}, nil
}

func discountAmount(discount *AppliedDiscount, subtotal int64) (int64, error) {
	if discount == nil {
		return 0, nil
	}
	if discount.PaymentsRemaining != nil && *discount.PaymentsRemaining <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "discount has no redemptions remaining")
	}
	switch discount.Type {
	case enums.DiscountTypePercent:
		if discount.PercentOff < 0 || discount.PercentOff > 100 {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "percent_off must be between 0 and 100")
		}
		pct := decimal.NewFromInt(int64(discount.PercentOff)).Div(decimal.NewFromInt(100))
		return decimal.NewFromInt(subtotal).Mul(pct).Round(0).IntPart(), nil
	case enums.DiscountTypeFixed:
		if discount.AmountCents < 0 {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "discount amount must not be negative")
		}
		// Fixed discounts never push the taxable base below zero.
		if discount.AmountCents > subtotal {
			return subtotal, nil
		}
		return discount.AmountCents, nil
	default:
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "unknown discount type")
	}
}

func (c *Calculator) taxRate(input Input) decimal.Decimal {
	if input.TaxRate != nil {
		if input.TaxRate.IsNegative() {
			return decimal.Zero
		}
		return *input.TaxRate
	}
	address := input.BillingAddress
	if address == nil {
		return decimal.Zero
	}
	key := strings.ToUpper(address.Country) + "-" + strings.ToUpper(address.State)
	if rate, ok := c.taxRates[key]; ok {
		return rate
	}
	return decimal.Zero
}

// ParamsHash derives a stable digest of the chargeable parameter subset.
// Two inputs hash equal exactly when a persisted calculation for one is
// still valid for the other.
func ParamsHash(input Input) string {
	payload, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
