package billingperiods

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the billing period manager.
type ServiceParams struct {
	Tx     txRunner
	Repo   Repository
	Logger *logger.Logger
}

// Service owns the billing period state machine and the scheduling of the
// next period boundary for a subscription.
type Service struct {
	tx   txRunner
	repo Repository
	log  *logger.Logger
}

// NewService builds a billing period manager.
func NewService(params ServiceParams) (*Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("repo required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{tx: params.Tx, repo: params.Repo, log: params.Logger}, nil
}

// Repo exposes the repository for callers composing multi-entity
// transactions.
func (s *Service) Repo() Repository {
	return s.repo
}

// CreateForSubscription writes the period covering the subscription's current
// boundaries. Re-running for the same boundaries returns the existing period.
func (s *Service) CreateForSubscription(ctx context.Context, tx *gorm.DB, sub *models.Subscription, trial bool, now time.Time) (*models.BillingPeriod, error) {
	if !sub.CurrentPeriodStart.Before(sub.CurrentPeriodEnd) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "period start must precede period end")
	}
	status := enums.BillingPeriodStatusUpcoming
	if !now.Before(sub.CurrentPeriodStart) {
		status = enums.BillingPeriodStatusActive
	}
	period := &models.BillingPeriod{
		SubscriptionID: sub.ID,
		StartDate:      sub.CurrentPeriodStart,
		EndDate:        sub.CurrentPeriodEnd,
		Status:         status,
		TrialPeriod:    trial,
		Livemode:       sub.Livemode,
	}
	created, wasCreated, err := s.repo.WithTx(tx).Create(ctx, period)
	if err != nil {
		return nil, err
	}
	if !wasCreated {
		logCtx := s.log.WithSubscriptionID(ctx, sub.ID.String())
		logCtx = s.log.WithField(logCtx, "billing_period_id", created.ID.String())
		s.log.Info(logCtx, "billing period already exists for boundary")
	}
	return created, nil
}

// NextBoundary computes the end of the period that starts at the given
// instant for the subscription's interval configuration.
func NextBoundary(start time.Time, unit enums.BillingInterval, count int) time.Time {
	if count <= 0 {
		count = 1
	}
	switch unit {
	case enums.BillingIntervalDay:
		return start.AddDate(0, 0, count)
	case enums.BillingIntervalWeek:
		return start.AddDate(0, 0, 7*count)
	case enums.BillingIntervalMonth:
		return start.AddDate(0, count, 0)
	case enums.BillingIntervalYear:
		return start.AddDate(count, 0, 0)
	default:
		return start.AddDate(0, count, 0)
	}
}

// Advance creates the period immediately following prev. The new period is
// contiguous: it starts exactly where prev ends.
func (s *Service) Advance(ctx context.Context, tx *gorm.DB, sub *models.Subscription, prev *models.BillingPeriod, now time.Time) (*models.BillingPeriod, error) {
	start := prev.EndDate
	end := NextBoundary(start, sub.IntervalUnit, sub.IntervalCount)
	status := enums.BillingPeriodStatusUpcoming
	if !now.Before(start) {
		status = enums.BillingPeriodStatusActive
	}
	period := &models.BillingPeriod{
		SubscriptionID: sub.ID,
		StartDate:      start,
		EndDate:        end,
		Status:         status,
		Livemode:       sub.Livemode,
	}
	created, _, err := s.repo.WithTx(tx).Create(ctx, period)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// TransitionByID loads the period, applies the target status through the
// state machine and persists the result, all in one transaction. Idempotent
// re-application returns the current record without a write.
func (s *Service) TransitionByID(ctx context.Context, id uuid.UUID, target enums.BillingPeriodStatus, now time.Time) (*models.BillingPeriod, error) {
	var result *models.BillingPeriod
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		period, err := repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if period == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "billing period not found")
		}
		changed, err := Transition(period, target, now)
		if err != nil {
			return err
		}
		if changed {
			if err := repo.Save(ctx, period); err != nil {
				return err
			}
		}
		result = period
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TransitionInTx applies the target status to an already-loaded period inside
// the caller's transaction.
func (s *Service) TransitionInTx(ctx context.Context, tx *gorm.DB, period *models.BillingPeriod, target enums.BillingPeriodStatus, now time.Time) error {
	changed, err := Transition(period, target, now)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.repo.WithTx(tx).Save(ctx, period)
}
