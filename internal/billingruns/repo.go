package billingruns

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/pkg/db"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
)

var liveRunStatuses = []enums.BillingRunStatus{
	enums.BillingRunStatusScheduled,
	enums.BillingRunStatusInProgress,
	enums.BillingRunStatusAwaitingPaymentConfirmation,
}

// Repository persists billing runs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// CreateScheduledRun inserts the run unless a non-terminal run already
	// exists for the billing period. A concurrent duplicate fails closed on
	// the uniqueness constraint and the existing run is returned with
	// created=false, so double-scheduling can never double-charge.
	CreateScheduledRun(ctx context.Context, run *models.BillingRun) (*models.BillingRun, bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.BillingRun, error)
	FindLiveByPeriod(ctx context.Context, billingPeriodID uuid.UUID) (*models.BillingRun, error)
	ListByPeriod(ctx context.Context, billingPeriodID uuid.UUID) ([]models.BillingRun, error)
	// ListDueScheduled returns scheduled runs whose charge instant has
	// arrived, oldest first.
	ListDueScheduled(ctx context.Context, before time.Time, livemode bool, limit int) ([]models.BillingRun, error)
	Save(ctx context.Context, run *models.BillingRun) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing run repository bound to the database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateScheduledRun(ctx context.Context, run *models.BillingRun) (*models.BillingRun, bool, error) {
	err := r.db.WithContext(ctx).Create(run).Error
	if err == nil {
		return run, true, nil
	}
	if !db.IsUniqueViolation(err, "") {
		return nil, false, err
	}
	existing, lookupErr := r.FindLiveByPeriod(ctx, run.BillingPeriodID)
	if lookupErr != nil {
		return nil, false, lookupErr
	}
	if existing == nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.BillingRun, error) {
	var run models.BillingRun
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&run).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (r *repository) FindLiveByPeriod(ctx context.Context, billingPeriodID uuid.UUID) (*models.BillingRun, error) {
	var run models.BillingRun
	if err := r.db.WithContext(ctx).
		Where("billing_period_id = ? AND status IN (?)", billingPeriodID, liveRunStatuses).
		First(&run).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (r *repository) ListByPeriod(ctx context.Context, billingPeriodID uuid.UUID) ([]models.BillingRun, error) {
	var runs []models.BillingRun
	if err := r.db.WithContext(ctx).
		Where("billing_period_id = ?", billingPeriodID).
		Order("attempt_number ASC").
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *repository) ListDueScheduled(ctx context.Context, before time.Time, livemode bool, limit int) ([]models.BillingRun, error) {
	var runs []models.BillingRun
	query := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ? AND livemode = ?", enums.BillingRunStatusScheduled, before, livemode).
		Order("scheduled_for ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *repository) Save(ctx context.Context, run *models.BillingRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}
