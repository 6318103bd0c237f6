package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	"github.com/angelmondragon/billflow-backend/pkg/pagination"
)

// Repository persists subscriptions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	List(ctx context.Context, params ListQuery) ([]models.Subscription, *pagination.Cursor, error)
	// ListDueForCancellation returns cancellation_scheduled subscriptions
	// whose effective instant is at or before the range end, oldest first.
	ListDueForCancellation(ctx context.Context, rangeEnd time.Time, livemode bool, limit int) ([]models.Subscription, error)
	// ListPastDueSince returns past_due subscriptions that have not changed
	// since the cutoff, oldest first.
	ListPastDueSince(ctx context.Context, cutoff time.Time, livemode bool, limit int) ([]models.Subscription, error)
	// ListTrialsEndingBy returns trialing subscriptions whose trial ends at
	// or before the cutoff, earliest ending first.
	ListTrialsEndingBy(ctx context.Context, cutoff time.Time, livemode bool, limit int) ([]models.Subscription, error)
	// ListIncompleteCreatedBefore returns incomplete subscriptions created
	// at or before the cutoff, oldest first.
	ListIncompleteCreatedBefore(ctx context.Context, cutoff time.Time, livemode bool, limit int) ([]models.Subscription, error)
	Save(ctx context.Context, sub *models.Subscription) error
}

// ListQuery configures subscription list queries.
type ListQuery struct {
	CustomerID *uuid.UUID
	Status     *enums.SubscriptionStatus
	Livemode   bool
	Limit      int
	Cursor     *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) List(ctx context.Context, params ListQuery) ([]models.Subscription, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Subscription{}).Where("livemode = ?", params.Livemode)
	if params.CustomerID != nil {
		query = query.Where("customer_id = ?", *params.CustomerID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var subs []models.Subscription
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&subs).Error; err != nil {
		return nil, nil, err
	}
	if len(subs) > limit {
		next := subs[limit]
		subs = subs[:limit]
		return subs, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return subs, nil, nil
}

func (r *repository) ListDueForCancellation(ctx context.Context, rangeEnd time.Time, livemode bool, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	query := r.db.WithContext(ctx).
		Where("status = ?", enums.SubscriptionStatusCancellationScheduled).
		Where("cancel_scheduled_at IS NOT NULL AND cancel_scheduled_at <= ?", rangeEnd).
		Where("livemode = ?", livemode).
		Order("cancel_scheduled_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListPastDueSince(ctx context.Context, cutoff time.Time, livemode bool, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	query := r.db.WithContext(ctx).
		Where("status = ?", enums.SubscriptionStatusPastDue).
		Where("updated_at <= ?", cutoff).
		Where("livemode = ?", livemode).
		Order("updated_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListTrialsEndingBy(ctx context.Context, cutoff time.Time, livemode bool, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	query := r.db.WithContext(ctx).
		Where("status = ?", enums.SubscriptionStatusTrialing).
		Where("trial_end IS NOT NULL AND trial_end <= ?", cutoff).
		Where("livemode = ?", livemode).
		Order("trial_end ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListIncompleteCreatedBefore(ctx context.Context, cutoff time.Time, livemode bool, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	query := r.db.WithContext(ctx).
		Where("status = ?", enums.SubscriptionStatusIncomplete).
		Where("created_at <= ?", cutoff).
		Where("livemode = ?", livemode).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) Save(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}
