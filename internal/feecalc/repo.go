package feecalc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
)

// Repository persists fee calculation snapshots.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, calc *models.FeeCalculation) error
	FindCurrentForBillingPeriod(ctx context.Context, billingPeriodID uuid.UUID) (*models.FeeCalculation, error)
	FindCurrentForPurchaseSession(ctx context.Context, sessionID uuid.UUID) (*models.FeeCalculation, error)
	MarkSuperseded(ctx context.Context, id uuid.UUID, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a fee calculation repository bound to the database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, calc *models.FeeCalculation) error {
	return r.db.WithContext(ctx).Create(calc).Error
}

func (r *repository) FindCurrentForBillingPeriod(ctx context.Context, billingPeriodID uuid.UUID) (*models.FeeCalculation, error) {
	var calc models.FeeCalculation
	if err := r.db.WithContext(ctx).
		Where("billing_period_id = ? AND superseded_at IS NULL", billingPeriodID).
		Order("created_at DESC").
		First(&calc).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &calc, nil
}

func (r *repository) FindCurrentForPurchaseSession(ctx context.Context, sessionID uuid.UUID) (*models.FeeCalculation, error) {
	var calc models.FeeCalculation
	if err := r.db.WithContext(ctx).
		Where("purchase_session_id = ? AND superseded_at IS NULL", sessionID).
		Order("created_at DESC").
		First(&calc).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &calc, nil
}

func (r *repository) MarkSuperseded(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.FeeCalculation{}).
		Where("id = ? AND superseded_at IS NULL", id).
		Update("superseded_at", at).Error
}
