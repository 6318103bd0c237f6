package discounts

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/internal/feecalc"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the discount service.
type ServiceParams struct {
	Tx   txRunner
	Repo Repository
}

// Service owns the discount redemption ledger. Redemptions snapshot the
// discount terms so later edits never change what was already redeemed.
type Service struct {
	tx   txRunner
	repo Repository
}

// NewService builds a discount service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("repo required")
	}
	return &Service{tx: params.Tx, repo: params.Repo}, nil
}

// RedeemInput identifies the discount and the target it applies to. Exactly
// one of PurchaseID or SubscriptionID must be set.
type RedeemInput struct {
	Code           string
	DiscountID     *uuid.UUID
	PurchaseID     *uuid.UUID
	SubscriptionID *uuid.UUID
	Livemode       bool
}

// Redeem records the discount against the target. A repeated call for the
// same target returns the existing redemption unchanged.
func (s *Service) Redeem(ctx context.Context, input RedeemInput) (*models.DiscountRedemption, error) {
	if (input.PurchaseID == nil) == (input.SubscriptionID == nil) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "exactly one of purchase id or subscription id required")
	}

	var result *models.DiscountRedemption
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		discount, err := s.loadDiscount(ctx, repo, input)
		if err != nil {
			return err
		}
		if !discount.Active {
			return pkgerrors.New(pkgerrors.CodeValidation, "discount is not active")
		}
		if discount.Livemode != input.Livemode {
			return pkgerrors.New(pkgerrors.CodeNotFound, "discount not found")
		}

		redemption := &models.DiscountRedemption{
			DiscountID:        discount.ID,
			PurchaseID:        input.PurchaseID,
			SubscriptionID:    input.SubscriptionID,
			Type:              discount.Type,
			AmountCents:       discount.AmountCents,
			PercentOff:        discount.PercentOff,
			Duration:          discount.Duration,
			PaymentsRemaining: initialPaymentsRemaining(discount),
			Livemode:          input.Livemode,
		}
		created, _, err := repo.CreateRedemption(ctx, redemption)
		if err != nil {
			return err
		}
		result = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) loadDiscount(ctx context.Context, repo Repository, input RedeemInput) (*models.Discount, error) {
	if input.DiscountID != nil {
		discount, err := repo.FindByID(ctx, *input.DiscountID)
		if err != nil {
			return nil, err
		}
		if discount == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "discount not found")
		}
		return discount, nil
	}
	if input.Code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount code or id required")
	}
	discount, err := repo.FindByCode(ctx, input.Code)
	if err != nil {
		return nil, err
	}
	if discount == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "discount not found")
	}
	return discount, nil
}

func initialPaymentsRemaining(discount *models.Discount) *int {
	switch discount.Duration {
	case enums.DiscountDurationOnce:
		one := 1
		return &one
	case enums.DiscountDurationNumberOfPayments:
		if discount.NumberOfPayments != nil {
			count := *discount.NumberOfPayments
			return &count
		}
		zero := 0
		return &zero
	default:
		return nil
	}
}

// AppliedForSubscription returns the discount terms the fee calculator should
// use for the subscription's next charge, or nil when no redemption exists or
// the redemption has no payments left.
func (s *Service) AppliedForSubscription(ctx context.Context, subscriptionID uuid.UUID) (*feecalc.AppliedDiscount, *uuid.UUID, error) {
	redemption, err := s.repo.FindRedemptionForSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, nil, err
	}
	if redemption == nil || redemption.Exhausted() {
		return nil, nil, nil
	}
	applied := &feecalc.AppliedDiscount{
		Type:              redemption.Type,
		AmountCents:       redemption.AmountCents,
		PercentOff:        redemption.PercentOff,
		PaymentsRemaining: redemption.PaymentsRemaining,
	}
	return applied, &redemption.DiscountID, nil
}

// ConsumePayment burns one redemption count after a successful charge. It is
// a no-op for forever-duration redemptions and for already exhausted ones.
func (s *Service) ConsumePayment(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	redemption, err := repo.FindRedemptionForSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if redemption == nil || redemption.PaymentsRemaining == nil {
		return nil
	}
	return repo.DecrementPaymentsRemaining(ctx, redemption.ID)
}
