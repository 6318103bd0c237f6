package billingruns

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
)

// ScheduleDueBillingRuns creates exactly one scheduled run for every billing
// period whose charge boundary falls inside [rangeStart, rangeEnd]. The
// boundary is the period end for charge-in-arrears plans and the period start
// for charge-in-advance plans. Safe to call concurrently with overlapping
// ranges: duplicates fail closed on the one-live-run-per-period constraint
// and resolve to the existing run.
func (s *Service) ScheduleDueBillingRuns(ctx context.Context, rangeStart, rangeEnd time.Time, livemode bool) ([]models.BillingRun, error) {
	if !rangeStart.Before(rangeEnd) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "range start must precede range end")
	}

	periodRepo := s.periods.Repo()
	ending, err := periodRepo.ListEndingWithin(ctx, rangeStart, rangeEnd, livemode)
	if err != nil {
		return nil, err
	}
	starting, err := periodRepo.ListStartingWithin(ctx, rangeStart, rangeEnd, livemode)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(ending)+len(starting))
	candidates := make([]models.BillingPeriod, 0, len(ending)+len(starting))
	for _, period := range append(ending, starting...) {
		if seen[period.ID] {
			continue
		}
		seen[period.ID] = true
		candidates = append(candidates, period)
	}

	var scheduled []models.BillingRun
	for _, period := range candidates {
		run, err := s.scheduleForPeriod(ctx, period, rangeStart, rangeEnd)
		if err != nil {
			return scheduled, err
		}
		if run != nil {
			scheduled = append(scheduled, *run)
		}
	}
	return scheduled, nil
}

func (s *Service) scheduleForPeriod(ctx context.Context, period models.BillingPeriod, rangeStart, rangeEnd time.Time) (*models.BillingRun, error) {
	if period.TrialPeriod {
		return nil, nil
	}

	sub, err := s.subs.FindByID(ctx, period.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.Status.IsTerminal() {
		return nil, nil
	}

	plan, err := s.plans.FindByID(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "billing plan not found").
			WithDetails(map[string]any{"plan_id": sub.PlanID})
	}

	chargeAt := period.EndDate
	if plan.ChargeTiming == enums.ChargeTimingInAdvance {
		chargeAt = period.StartDate
	}
	if chargeAt.Before(rangeStart) || chargeAt.After(rangeEnd) {
		return nil, nil
	}

	var result *models.BillingRun
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		run := &models.BillingRun{
			BillingPeriodID: period.ID,
			Status:          enums.BillingRunStatusScheduled,
			ScheduledFor:    chargeAt,
			AttemptNumber:   1,
			PaymentMethodID: sub.DefaultPaymentMethodID,
			Livemode:        period.Livemode,
		}
		created, wasCreated, err := s.repo.WithTx(tx).CreateScheduledRun(ctx, run)
		if err != nil {
			return err
		}
		if wasCreated {
			s.metrics.IncScheduled()
		}
		result = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
