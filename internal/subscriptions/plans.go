package subscriptions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
)

// PlanRepository reads the billing plan catalog.
type PlanRepository interface {
	WithTx(tx *gorm.DB) PlanRepository
	Create(ctx context.Context, plan *models.BillingPlan) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.BillingPlan, error)
	// FindDefault returns the plan new subscriptions fall back to when none
	// is named, or nil when the catalog has no default.
	FindDefault(ctx context.Context, livemode bool) (*models.BillingPlan, error)
	ListActive(ctx context.Context, livemode bool) ([]models.BillingPlan, error)
}

type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository returns a plan repository bound to the database.
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) WithTx(tx *gorm.DB) PlanRepository {
	if tx == nil {
		return r
	}
	return &planRepository{db: tx}
}

func (r *planRepository) Create(ctx context.Context, plan *models.BillingPlan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *planRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.BillingPlan, error) {
	var plan models.BillingPlan
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) FindDefault(ctx context.Context, livemode bool) (*models.BillingPlan, error) {
	var plan models.BillingPlan
	err := r.db.WithContext(ctx).
		Where("is_default = ? AND status = ? AND livemode = ?", true, enums.PlanStatusActive, livemode).
		First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) ListActive(ctx context.Context, livemode bool) ([]models.BillingPlan, error) {
	var plans []models.BillingPlan
	err := r.db.WithContext(ctx).
		Where("status = ? AND livemode = ?", enums.PlanStatusActive, livemode).
		Order("created_at ASC").
		Find(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}
