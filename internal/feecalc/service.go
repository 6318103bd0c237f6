package feecalc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the fee calculation service.
type ServiceParams struct {
	Tx         txRunner
	Repo       Repository
	Calculator *Calculator
}

// Service exposes fee previews and persisted snapshots.
type Service struct {
	tx   txRunner
	repo Repository
	calc *Calculator
}

// NewService builds a fee calculation service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("repo required")
	}
	if params.Calculator == nil {
		params.Calculator = NewCalculator()
	}
	return &Service{tx: params.Tx, repo: params.Repo, calc: params.Calculator}, nil
}

// CalculateFee computes a breakdown without touching storage.
func (s *Service) CalculateFee(input Input) (Breakdown, error) {
	return s.calc.Calculate(input)
}

// CurrentForBillingPeriod returns the live snapshot for a billing period, or
// nil when none has been written yet.
func (s *Service) CurrentForBillingPeriod(ctx context.Context, billingPeriodID uuid.UUID) (*models.FeeCalculation, error) {
	return s.repo.FindCurrentForBillingPeriod(ctx, billingPeriodID)
}

// SnapshotForBillingPeriod persists the breakdown for a billing period. When
// a current snapshot with the same chargeable parameters already exists it is
// returned untouched; otherwise the old snapshot is superseded and a fresh
// one is written, both in the same transaction.
func (s *Service) SnapshotForBillingPeriod(ctx context.Context, billingPeriodID uuid.UUID, input Input, discountID *uuid.UUID, livemode bool, now time.Time) (*models.FeeCalculation, error) {
	breakdown, err := s.calc.Calculate(input)
	if err != nil {
		return nil, err
	}
	hash := ParamsHash(input)

	var result *models.FeeCalculation
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		current, err := repo.FindCurrentForBillingPeriod(ctx, billingPeriodID)
		if err != nil {
			return err
		}
		if current != nil && current.ParamsHash == hash {
			result = current
			return nil
		}
		if current != nil {
			if err := repo.MarkSuperseded(ctx, current.ID, now); err != nil {
				return err
			}
		}

		calc := buildSnapshot(input, breakdown, hash, discountID, livemode)
		calc.BillingPeriodID = &billingPeriodID
		if err := repo.Create(ctx, calc); err != nil {
			return err
		}
		result = calc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func buildSnapshot(input Input, breakdown Breakdown, hash string, discountID *uuid.UUID, livemode bool) *models.FeeCalculation {
	var address json.RawMessage
	if input.BillingAddress != nil {
		address, _ = json.Marshal(input.BillingAddress)
	}
	return &models.FeeCalculation{
		ParamsHash:          hash,
		PriceCents:          input.PriceCents,
		Quantity:            input.Quantity,
		DiscountID:          discountID,
		PaymentMethodType:   input.PaymentMethodType,
		BillingAddress:      address,
		Currency:            input.Currency,
		SubtotalCents:       breakdown.SubtotalCents,
		DiscountAmountCents: breakdown.DiscountCents,
		TaxAmountCents:      breakdown.TaxCents,
		ProcessorFeeCents:   breakdown.ProcessorFeeCents,
		PlatformFeeCents:    breakdown.PlatformFeeCents,
		TotalCents:          breakdown.TotalCents,
		Livemode:            livemode,
	}
}
