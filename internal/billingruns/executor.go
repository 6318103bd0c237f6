package billingruns

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/internal/feecalc"
	"github.com/angelmondragon/billflow-backend/internal/invoices"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
)

// ChargeRequest describes the charge the caller should dispatch to the
// payment processor. The dispatch happens outside any storage transaction.
type ChargeRequest struct {
	RunID           uuid.UUID
	InvoiceID       uuid.UUID
	PaymentID       uuid.UUID
	AmountCents     int64
	Currency        enums.Currency
	PaymentMethodID *uuid.UUID
}

// StartRun moves a scheduled run into progress: it resolves the amount due
// through the fee calculator and discount ledger, opens the invoice and
// returns the charge request to dispatch. A run that is no longer in
// Scheduled returns nil without error so sweep retries stay harmless.
func (s *Service) StartRun(ctx context.Context, runID uuid.UUID, now time.Time) (*ChargeRequest, error) {
	var request *ChargeRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		run, err := repo.FindByID(ctx, runID)
		if err != nil {
			return err
		}
		if run == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "billing run not found")
		}
		if run.Status != enums.BillingRunStatusScheduled {
			return nil
		}
		if now.Before(run.ScheduledFor) {
			return pkgerrors.New(pkgerrors.CodePremature, "billing run is not due yet").
				WithDetails(map[string]any{"scheduled_for": run.ScheduledFor, "now": now})
		}

		period, err := s.periods.Repo().WithTx(tx).FindByID(ctx, run.BillingPeriodID)
		if err != nil {
			return err
		}
		if period == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "billing period not found")
		}
		if period.Status == enums.BillingPeriodStatusUpcoming {
			if err := s.periods.TransitionInTx(ctx, tx, period, enums.BillingPeriodStatusActive, now); err != nil {
				return err
			}
		}

		sub, err := s.subs.FindByID(ctx, period.SubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		plan, err := s.plans.FindByID(ctx, sub.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "billing plan not found")
		}

		applied, discountID, err := s.discounts.AppliedForSubscription(ctx, sub.ID)
		if err != nil {
			return err
		}

		method := s.resolvePaymentMethod(ctx, run.PaymentMethodID)
		calc, err := s.fees.SnapshotForBillingPeriod(ctx, period.ID, feecalc.Input{
			PriceCents:        plan.PriceCents,
			Quantity:          sub.Quantity,
			Currency:          plan.Currency,
			PaymentMethodType: paymentMethodType(method),
			BillingAddress:    billingAddress(method),
			TaxRate:           planTaxRate(plan),
			Discount:          applied,
		}, discountID, sub.Livemode, now)
		if err != nil {
			return err
		}

		invoice, payment, err := s.invoices.OpenForBillingRun(ctx, tx, invoices.OpenRunInvoiceInput{
			CustomerID:      sub.CustomerID,
			BillingPeriodID: period.ID,
			Currency:        calc.Currency,
			Description:     plan.Name,
			Quantity:        sub.Quantity,
			UnitPriceCents:  plan.PriceCents,
			SubtotalCents:   calc.SubtotalCents,
			DiscountCents:   calc.DiscountAmountCents,
			TaxCents:        calc.TaxAmountCents,
			TotalCents:      calc.TotalCents,
			ChargeDate:      now,
			Livemode:        sub.Livemode,
		})
		if err != nil {
			return err
		}

		if _, err := Transition(run, enums.BillingRunStatusInProgress); err != nil {
			return err
		}
		startedAt := now
		run.StartedAt = &startedAt
		if err := repo.Save(ctx, run); err != nil {
			return err
		}

		request = &ChargeRequest{
			RunID:           run.ID,
			InvoiceID:       invoice.ID,
			PaymentID:       payment.ID,
			AmountCents:     calc.TotalCents,
			Currency:        calc.Currency,
			PaymentMethodID: run.PaymentMethodID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *Service) resolvePaymentMethod(ctx context.Context, paymentMethodID *uuid.UUID) *models.PaymentMethod {
	if s.paymentMethods == nil || paymentMethodID == nil {
		return nil
	}
	method, err := s.paymentMethods.FindByID(ctx, *paymentMethodID)
	if err != nil {
		return nil
	}
	return method
}

func paymentMethodType(method *models.PaymentMethod) enums.PaymentMethodType {
	if method == nil {
		return enums.PaymentMethodTypeCard
	}
	return method.Type
}

func billingAddress(method *models.PaymentMethod) *feecalc.Address {
	if method == nil || method.BillingCountry == "" {
		return nil
	}
	return &feecalc.Address{Country: method.BillingCountry, State: method.BillingState}
}

func planTaxRate(plan *models.BillingPlan) *decimal.Decimal {
	if !plan.TaxRate.IsPositive() {
		return nil
	}
	rate := plan.TaxRate
	return &rate
}

// ApplyPaymentOutcomeInput is one processor callback. EventTimestamp orders
// callbacks; older events than the run's recorded high-water mark are
// discarded.
type ApplyPaymentOutcomeInput struct {
	RunID              uuid.UUID
	EventTimestamp     time.Time
	Outcome            enums.PaymentOutcome
	ProcessorReference string
	AmountCents        int64
}

// ApplyPaymentOutcome applies a processor callback to the run and fans the
// result out to the invoice reconciler, the billing period and the
// subscription manager, all in one transaction. Safe to call multiple times
// with the same or an older event timestamp.
func (s *Service) ApplyPaymentOutcome(ctx context.Context, input ApplyPaymentOutcomeInput, now time.Time) (*models.BillingRun, error) {
	if !input.Outcome.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment outcome")
	}
	started := time.Now()
	defer func() {
		s.metrics.ObserveApply(time.Since(started))
	}()

	var result *models.BillingRun
	applied := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		run, err := repo.FindByID(ctx, input.RunID)
		if err != nil {
			return err
		}
		if run == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "billing run not found")
		}

		if run.SeenNewerEvent(input.EventTimestamp) {
			logCtx := s.log.WithBillingRunID(ctx, run.ID.String())
			logCtx = s.log.WithField(logCtx, "event_timestamp", input.EventTimestamp)
			s.log.Info(logCtx, "discarding stale payment event")
			s.metrics.IncStaleEvent()
			result = run
			return nil
		}

		if run.Status.IsTerminal() {
			if outcomeSatisfiedBy(run.Status, input.Outcome) {
				result = run
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeTerminalState, "billing run already settled").
				WithDetails(map[string]any{"status": run.Status, "outcome": input.Outcome})
		}

		eventTS := input.EventTimestamp
		run.LastPaymentIntentEventTimestamp = &eventTS

		switch input.Outcome {
		case enums.PaymentOutcomeRequiresAction:
			err = s.applyRequiresAction(ctx, tx, run, input)
		case enums.PaymentOutcomeSucceeded:
			err = s.applySuccess(ctx, tx, run, input, now)
		case enums.PaymentOutcomeFailed:
			err = s.applyFailure(ctx, tx, run, input, now)
		}
		if err != nil {
			return err
		}
		if err := repo.Save(ctx, run); err != nil {
			return err
		}
		result = run
		applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if applied {
		s.metrics.IncOutcome(string(input.Outcome))
	}
	return result, nil
}

func outcomeSatisfiedBy(status enums.BillingRunStatus, outcome enums.PaymentOutcome) bool {
	switch outcome {
	case enums.PaymentOutcomeSucceeded:
		return status == enums.BillingRunStatusSucceeded
	case enums.PaymentOutcomeFailed:
		return status == enums.BillingRunStatusFailed || status == enums.BillingRunStatusAbandoned
	default:
		return false
	}
}

func (s *Service) applyRequiresAction(ctx context.Context, tx *gorm.DB, run *models.BillingRun, input ApplyPaymentOutcomeInput) error {
	if _, err := Transition(run, enums.BillingRunStatusAwaitingPaymentConfirmation); err != nil {
		return err
	}
	return s.invoices.RecordRunOutcome(ctx, tx, invoices.RunOutcomeInput{
		BillingPeriodID:    run.BillingPeriodID,
		Outcome:            enums.PaymentOutcomeRequiresAction,
		AmountCents:        input.AmountCents,
		ProcessorReference: input.ProcessorReference,
		Now:                input.EventTimestamp,
	})
}

func (s *Service) applySuccess(ctx context.Context, tx *gorm.DB, run *models.BillingRun, input ApplyPaymentOutcomeInput, now time.Time) error {
	if _, err := Transition(run, enums.BillingRunStatusSucceeded); err != nil {
		return err
	}
	completedAt := now
	run.CompletedAt = &completedAt

	if err := s.invoices.RecordRunOutcome(ctx, tx, invoices.RunOutcomeInput{
		BillingPeriodID:    run.BillingPeriodID,
		Outcome:            enums.PaymentOutcomeSucceeded,
		AmountCents:        input.AmountCents,
		ProcessorReference: input.ProcessorReference,
		Now:                now,
	}); err != nil {
		return err
	}

	period, err := s.periods.Repo().WithTx(tx).FindByID(ctx, run.BillingPeriodID)
	if err != nil {
		return err
	}
	if period == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "billing period not found")
	}
	if err := s.periods.TransitionInTx(ctx, tx, period, enums.BillingPeriodStatusCompleted, now); err != nil {
		return err
	}
	if err := s.discounts.ConsumePayment(ctx, tx, period.SubscriptionID); err != nil {
		return err
	}
	if s.lifecycle != nil {
		return s.lifecycle.OnBillingRunOutcome(ctx, tx, period.SubscriptionID, enums.PaymentOutcomeSucceeded, false, now)
	}
	return nil
}

func (s *Service) applyFailure(ctx context.Context, tx *gorm.DB, run *models.BillingRun, input ApplyPaymentOutcomeInput, now time.Time) error {
	repo := s.repo.WithTx(tx)
	completedAt := now
	details := "payment failed"
	if input.ProcessorReference != "" {
		details = "payment failed: " + input.ProcessorReference
	}

	if run.AttemptNumber >= s.billing.MaxRetryAttempts {
		if _, err := Transition(run, enums.BillingRunStatusAbandoned); err != nil {
			return err
		}
		run.CompletedAt = &completedAt
		run.ErrorDetails = &details

		period, err := s.periods.Repo().WithTx(tx).FindByID(ctx, run.BillingPeriodID)
		if err != nil {
			return err
		}
		if period == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "billing period not found")
		}
		if err := s.periods.TransitionInTx(ctx, tx, period, enums.BillingPeriodStatusPastDue, now); err != nil {
			return err
		}
		if err := s.invoices.MarkUncollectible(ctx, tx, run.BillingPeriodID); err != nil {
			return err
		}
		if s.lifecycle != nil {
			return s.lifecycle.OnBillingRunOutcome(ctx, tx, period.SubscriptionID, enums.PaymentOutcomeFailed, true, now)
		}
		return nil
	}

	if _, err := Transition(run, enums.BillingRunStatusFailed); err != nil {
		return err
	}
	run.CompletedAt = &completedAt
	run.ErrorDetails = &details

	if err := s.invoices.RecordRunOutcome(ctx, tx, invoices.RunOutcomeInput{
		BillingPeriodID:    run.BillingPeriodID,
		Outcome:            enums.PaymentOutcomeFailed,
		AmountCents:        input.AmountCents,
		ProcessorReference: input.ProcessorReference,
		Now:                now,
	}); err != nil {
		return err
	}

	// The failed run is terminal; the retry is a fresh attempt. Saving the
	// failed run first releases the one-live-run-per-period slot.
	if err := repo.Save(ctx, run); err != nil {
		return err
	}
	retry := &models.BillingRun{
		BillingPeriodID: run.BillingPeriodID,
		Status:          enums.BillingRunStatusScheduled,
		ScheduledFor:    now.Add(s.billing.RetryBackoff),
		AttemptNumber:   run.AttemptNumber + 1,
		PaymentMethodID: run.PaymentMethodID,
		Livemode:        run.Livemode,
	}
	if _, _, err := repo.CreateScheduledRun(ctx, retry); err != nil {
		return err
	}
	return nil
}

// AbortForPeriod aborts the period's outstanding run, if any. Called inside
// the caller's transaction when a subscription is canceled mid-flight.
func (s *Service) AbortForPeriod(ctx context.Context, tx *gorm.DB, billingPeriodID uuid.UUID, now time.Time) error {
	repo := s.repo.WithTx(tx)
	run, err := repo.FindLiveByPeriod(ctx, billingPeriodID)
	if err != nil {
		return err
	}
	if run == nil {
		return nil
	}
	if _, err := Transition(run, enums.BillingRunStatusAborted); err != nil {
		return err
	}
	completedAt := now
	run.CompletedAt = &completedAt
	return repo.Save(ctx, run)
}
