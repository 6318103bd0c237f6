package discounts

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/pkg/db"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
)

// Repository persists discounts and their redemption ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Discount, error)
	FindByCode(ctx context.Context, code string) (*models.Discount, error)
	CreateDiscount(ctx context.Context, discount *models.Discount) error
	// CreateRedemption inserts the redemption unless one already exists for
	// the same purchase or subscription. The duplicate case returns the
	// existing row with created=false instead of an error.
	CreateRedemption(ctx context.Context, redemption *models.DiscountRedemption) (*models.DiscountRedemption, bool, error)
	FindRedemptionBySubscription(ctx context.Context, discountID, subscriptionID uuid.UUID) (*models.DiscountRedemption, error)
	FindRedemptionForSubscription(ctx context.Context, subscriptionID uuid.UUID) (*models.DiscountRedemption, error)
	FindRedemptionByPurchase(ctx context.Context, purchaseID uuid.UUID) (*models.DiscountRedemption, error)
	DecrementPaymentsRemaining(ctx context.Context, redemptionID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a discount repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Discount, error) {
	var discount models.Discount
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&discount).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &discount, nil
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.Discount, error) {
	if code == "" {
		return nil, nil
	}
	var discount models.Discount
	if err := r.db.WithContext(ctx).
		Where("code = ?", code).
		First(&discount).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &discount, nil
}

func (r *repository) CreateDiscount(ctx context.Context, discount *models.Discount) error {
	return r.db.WithContext(ctx).Create(discount).Error
}

func (r *repository) CreateRedemption(ctx context.Context, redemption *models.DiscountRedemption) (*models.DiscountRedemption, bool, error) {
	err := r.db.WithContext(ctx).Create(redemption).Error
	if err == nil {
		return redemption, true, nil
	}
	if !db.IsUniqueViolation(err, "") {
		return nil, false, err
	}

	var existing *models.DiscountRedemption
	var lookupErr error
	switch {
	case redemption.PurchaseID != nil:
		existing, lookupErr = r.FindRedemptionByPurchase(ctx, *redemption.PurchaseID)
	case redemption.SubscriptionID != nil:
		existing, lookupErr = r.FindRedemptionBySubscription(ctx, redemption.DiscountID, *redemption.SubscriptionID)
	}
	if lookupErr != nil {
		return nil, false, lookupErr
	}
	if existing == nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *repository) FindRedemptionBySubscription(ctx context.Context, discountID, subscriptionID uuid.UUID) (*models.DiscountRedemption, error) {
	var redemption models.DiscountRedemption
	if err := r.db.WithContext(ctx).
		Where("discount_id = ? AND subscription_id = ?", discountID, subscriptionID).
		First(&redemption).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &redemption, nil
}

func (r *repository) FindRedemptionForSubscription(ctx context.Context, subscriptionID uuid.UUID) (*models.DiscountRedemption, error) {
	var redemption models.DiscountRedemption
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC").
		First(&redemption).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &redemption, nil
}

func (r *repository) FindRedemptionByPurchase(ctx context.Context, purchaseID uuid.UUID) (*models.DiscountRedemption, error) {
	var redemption models.DiscountRedemption
	if err := r.db.WithContext(ctx).
		Where("purchase_id = ?", purchaseID).
		First(&redemption).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &redemption, nil
}

func (r *repository) DecrementPaymentsRemaining(ctx context.Context, redemptionID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.DiscountRedemption{}).
		Where("id = ? AND payments_remaining IS NOT NULL AND payments_remaining > 0", redemptionID).
		Update("payments_remaining", gorm.Expr("payments_remaining - 1")).Error
}
