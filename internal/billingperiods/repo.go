package billingperiods

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/pkg/db"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
)

// Repository persists billing periods.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// Create inserts the period unless one with the same subscription and
	// start date already exists, in which case the existing row is returned
	// with created=false.
	Create(ctx context.Context, period *models.BillingPeriod) (*models.BillingPeriod, bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.BillingPeriod, error)
	FindBySubscriptionAndStart(ctx context.Context, subscriptionID uuid.UUID, start time.Time) (*models.BillingPeriod, error)
	FindCurrentForSubscription(ctx context.Context, subscriptionID uuid.UUID, at time.Time) (*models.BillingPeriod, error)
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.BillingPeriod, error)
	ListEndingWithin(ctx context.Context, rangeStart, rangeEnd time.Time, livemode bool) ([]models.BillingPeriod, error)
	ListStartingWithin(ctx context.Context, rangeStart, rangeEnd time.Time, livemode bool) ([]models.BillingPeriod, error)
	Save(ctx context.Context, period *models.BillingPeriod) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing period repository bound to the database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, period *models.BillingPeriod) (*models.BillingPeriod, bool, error) {
	err := r.db.WithContext(ctx).Create(period).Error
	if err == nil {
		return period, true, nil
	}
	if !db.IsUniqueViolation(err, "") {
		return nil, false, err
	}
	existing, lookupErr := r.FindBySubscriptionAndStart(ctx, period.SubscriptionID, period.StartDate)
	if lookupErr != nil {
		return nil, false, lookupErr
	}
	if existing == nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.BillingPeriod, error) {
	var period models.BillingPeriod
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&period).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &period, nil
}

func (r *repository) FindBySubscriptionAndStart(ctx context.Context, subscriptionID uuid.UUID, start time.Time) (*models.BillingPeriod, error) {
	var period models.BillingPeriod
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND start_date = ?", subscriptionID, start).
		First(&period).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &period, nil
}

func (r *repository) FindCurrentForSubscription(ctx context.Context, subscriptionID uuid.UUID, at time.Time) (*models.BillingPeriod, error) {
	var period models.BillingPeriod
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND start_date <= ? AND end_date > ?", subscriptionID, at, at).
		Order("start_date DESC").
		First(&period).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &period, nil
}

func (r *repository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.BillingPeriod, error) {
	var periods []models.BillingPeriod
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("start_date ASC").
		Find(&periods).Error; err != nil {
		return nil, err
	}
	return periods, nil
}

func (r *repository) ListEndingWithin(ctx context.Context, rangeStart, rangeEnd time.Time, livemode bool) ([]models.BillingPeriod, error) {
	return r.listBoundaryWithin(ctx, "end_date", rangeStart, rangeEnd, livemode)
}

func (r *repository) ListStartingWithin(ctx context.Context, rangeStart, rangeEnd time.Time, livemode bool) ([]models.BillingPeriod, error) {
	return r.listBoundaryWithin(ctx, "start_date", rangeStart, rangeEnd, livemode)
}

func (r *repository) listBoundaryWithin(ctx context.Context, column string, rangeStart, rangeEnd time.Time, livemode bool) ([]models.BillingPeriod, error) {
	statuses := []enums.BillingPeriodStatus{
		enums.BillingPeriodStatusUpcoming,
		enums.BillingPeriodStatusActive,
	}
	var periods []models.BillingPeriod
	if err := r.db.WithContext(ctx).
		Where(column+" >= ? AND "+column+" <= ?", rangeStart, rangeEnd).
		Where("status IN (?)", statuses).
		Where("livemode = ?", livemode).
		Order(column + " ASC").
		Find(&periods).Error; err != nil {
		return nil, err
	}
	return periods, nil
}

func (r *repository) Save(ctx context.Context, period *models.BillingPeriod) error {
	return r.db.WithContext(ctx).Save(period).Error
}
