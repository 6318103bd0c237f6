package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/internal/billingperiods"
	"github.com/angelmondragon/billflow-backend/internal/billingruns"
	"github.com/angelmondragon/billflow-backend/internal/discounts"
	"github.com/angelmondragon/billflow-backend/internal/feecalc"
	"github.com/angelmondragon/billflow-backend/internal/invoices"
	"github.com/angelmondragon/billflow-backend/pkg/config"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
	"github.com/angelmondragon/billflow-backend/pkg/validate"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the subscription lifecycle manager.
type ServiceParams struct {
	Tx             txRunner
	Repo           Repository
	Plans          PlanRepository
	PaymentMethods PaymentMethodRepository
	Periods        *billingperiods.Service
	Runs           *billingruns.Service
	Invoices       *invoices.Service
	Fees           *feecalc.Service
	Discounts      *discounts.Service
	Proration      feecalc.ProrationPolicy
	Logger         *logger.Logger
	Billing        config.BillingConfig
}

// Service is the top-level orchestrator: it owns subscription status, drives
// billing periods forward on successful runs, and exposes the cancellation
// and adjustment commands.
type Service struct {
	tx             txRunner
	repo           Repository
	plans          PlanRepository
	paymentMethods PaymentMethodRepository
	periods        *billingperiods.Service
	runs           *billingruns.Service
	invoices       *invoices.Service
	fees           *feecalc.Service
	discounts      *discounts.Service
	proration      feecalc.ProrationPolicy
	log            *logger.Logger
	billing        config.BillingConfig
}

// NewService builds a subscription lifecycle manager.
func NewService(params ServiceParams) (*Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("repo required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan repo required")
	}
	if params.Periods == nil {
		return nil, fmt.Errorf("billing period service required")
	}
	if params.Runs == nil {
		return nil, fmt.Errorf("billing run service required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice service required")
	}
	if params.Fees == nil {
		return nil, fmt.Errorf("fee service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Proration == nil {
		params.Proration = feecalc.RemainingTimeProration{}
	}
	return &Service{
		tx:             params.Tx,
		repo:           params.Repo,
		plans:          params.Plans,
		paymentMethods: params.PaymentMethods,
		periods:        params.Periods,
		runs:           params.Runs,
		invoices:       params.Invoices,
		fees:           params.Fees,
		discounts:      params.Discounts,
		proration:      params.Proration,
		log:            params.Logger,
		billing:        params.Billing,
	}, nil
}

// Repo exposes the repository for callers composing multi-entity
// transactions.
func (s *Service) Repo() Repository {
	return s.repo
}

// CreateSubscriptionInput describes a new subscription. When PlanID is nil
// the catalog's default plan is used.
type CreateSubscriptionInput struct {
	CustomerID      uuid.UUID `validate:"required"`
	PlanID          *uuid.UUID
	Quantity        int64 `validate:"gte=0"`
	PaymentMethodID *uuid.UUID
	DiscountCode    string
	StartAt         time.Time
	TrialDays       *int `validate:"omitempty,gte=0"`
	Livemode        bool
}

// CreateSubscription writes a new Incomplete subscription with its first
// billing period. Activation is a separate step once the customer's first
// payment setup is confirmed.
func (s *Service) CreateSubscription(ctx context.Context, input CreateSubscriptionInput, now time.Time) (*models.Subscription, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	plan, err := s.resolvePlan(ctx, input.PlanID, input.Livemode)
	if err != nil {
		return nil, err
	}

	quantity := input.Quantity
	if quantity == 0 {
		quantity = 1
	}
	start := input.StartAt
	if start.IsZero() {
		start = now
	}

	// An explicit zero opts out of trials entirely; the configured default
	// applies only when neither the caller nor the plan says anything.
	var trialDays int
	switch {
	case input.TrialDays != nil:
		trialDays = *input.TrialDays
	case plan.TrialDays > 0:
		trialDays = plan.TrialDays
	default:
		trialDays = s.billing.DefaultTrialDays
	}

	sub := &models.Subscription{
		ID:                     uuid.New(),
		CustomerID:             input.CustomerID,
		PlanID:                 plan.ID,
		Status:                 enums.SubscriptionStatusIncomplete,
		Quantity:               quantity,
		IntervalUnit:           plan.Interval,
		IntervalCount:          plan.IntervalCount,
		DefaultPaymentMethodID: input.PaymentMethodID,
		Livemode:               input.Livemode,
	}

	trial := trialDays > 0
	if trial {
		trialEnd := start.AddDate(0, 0, trialDays)
		sub.TrialEnd = &trialEnd
		sub.CurrentPeriodStart = start
		sub.CurrentPeriodEnd = trialEnd
	} else {
		sub.CurrentPeriodStart = start
		sub.CurrentPeriodEnd = billingperiods.NextBoundary(start, sub.IntervalUnit, sub.IntervalCount)
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, sub); err != nil {
			return err
		}
		_, err := s.periods.CreateForSubscription(ctx, tx, sub, trial, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if input.DiscountCode != "" && s.discounts != nil {
		_, err := s.discounts.Redeem(ctx, discounts.RedeemInput{
			Code:           input.DiscountCode,
			SubscriptionID: &sub.ID,
			Livemode:       input.Livemode,
		})
		if err != nil {
			return nil, err
		}
	}

	logCtx := s.log.WithSubscriptionID(ctx, sub.ID.String())
	s.log.Info(logCtx, "subscription created")
	return sub, nil
}

// ActivateSubscription moves an Incomplete subscription into Trialing or
// Active once its payment setup is confirmed. Re-activation is a no-op.
func (s *Service) ActivateSubscription(ctx context.Context, id uuid.UUID, now time.Time) (*models.Subscription, error) {
	var result *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if sub.Status == enums.SubscriptionStatusTrialing || sub.Status == enums.SubscriptionStatusActive {
			result = sub
			return nil
		}

		target := enums.SubscriptionStatusActive
		if sub.TrialEnd != nil && now.Before(*sub.TrialEnd) {
			target = enums.SubscriptionStatusTrialing
		}
		changed, err := Transition(sub, target, now)
		if err != nil {
			return err
		}
		if changed {
			if err := repo.Save(ctx, sub); err != nil {
				return err
			}
		}

		period, err := s.periods.Repo().WithTx(tx).FindBySubscriptionAndStart(ctx, sub.ID, sub.CurrentPeriodStart)
		if err != nil {
			return err
		}
		if period != nil && period.Status == enums.BillingPeriodStatusUpcoming && !now.Before(period.StartDate) {
			if err := s.periods.TransitionInTx(ctx, tx, period, enums.BillingPeriodStatusActive, now); err != nil {
				return err
			}
		}
		result = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ScheduleCancellationInput selects when a cancellation takes effect and how
// the current period is refunded for immediate cancellations.
type ScheduleCancellationInput struct {
	SubscriptionID uuid.UUID                `validate:"required"`
	Timing         enums.CancellationTiming `validate:"required"`
	EffectiveAt    *time.Time
	RefundPolicy   enums.CancellationRefundPolicy
}

// CancellationResult reports what a cancellation did. CreditCents is set when
// the refund policy computed a credit that could not be issued as a payment
// refund; payments support full refunds only, so partial credits are settled
// out of band.
type CancellationResult struct {
	Subscription    *models.Subscription
	RefundedPayment *models.Payment
	CreditCents     int64
}

// ScheduleCancellation cancels now or records a future cancellation for the
// sweep to finalize. Repeating a call that already took effect is a no-op.
func (s *Service) ScheduleCancellation(ctx context.Context, input ScheduleCancellationInput, now time.Time) (*CancellationResult, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	if !input.Timing.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown cancellation timing").
			WithDetails(map[string]any{"timing": input.Timing})
	}
	policy := input.RefundPolicy
	if policy == "" {
		policy = enums.CancellationRefundNone
	}
	if !policy.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown refund policy").
			WithDetails(map[string]any{"refund_policy": policy})
	}

	switch input.Timing {
	case enums.CancellationTimingImmediately:
		return s.cancelImmediately(ctx, input.SubscriptionID, policy, now)
	case enums.CancellationTimingAtPeriodEnd:
		return s.scheduleCancelAt(ctx, input.SubscriptionID, nil, now)
	default:
		if input.EffectiveAt == nil || !input.EffectiveAt.After(now) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "future cancellation requires a future effective time")
		}
		return s.scheduleCancelAt(ctx, input.SubscriptionID, input.EffectiveAt, now)
	}
}

func (s *Service) cancelImmediately(ctx context.Context, subscriptionID uuid.UUID, policy enums.CancellationRefundPolicy, now time.Time) (*CancellationResult, error) {
	result := &CancellationResult{}
	var periodForRefund *models.BillingPeriod
	alreadyCanceled := false

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.FindByID(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		result.Subscription = sub
		if sub.Status == enums.SubscriptionStatusCanceled {
			alreadyCanceled = true
			return nil
		}

		period, err := s.periods.Repo().WithTx(tx).FindBySubscriptionAndStart(ctx, sub.ID, sub.CurrentPeriodStart)
		if err != nil {
			return err
		}
		if period != nil {
			if err := s.runs.AbortForPeriod(ctx, tx, period.ID, now); err != nil {
				return err
			}
			if err := s.periods.TransitionInTx(ctx, tx, period, enums.BillingPeriodStatusCanceled, now); err != nil {
				return err
			}
			periodForRefund = period
		}

		if _, err := Transition(sub, enums.SubscriptionStatusCanceled, now); err != nil {
			return err
		}
		cancelAt := now
		sub.CancelAt = &cancelAt
		return repo.Save(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.log.WithSubscriptionID(ctx, subscriptionID.String())
	if alreadyCanceled {
		s.log.Info(logCtx, "subscription already canceled")
		return result, nil
	}
	s.log.Info(logCtx, "subscription canceled immediately")

	if policy == enums.CancellationRefundNone || periodForRefund == nil {
		return result, nil
	}
	return s.applyCancellationRefund(ctx, result, periodForRefund, policy, now)
}

// applyCancellationRefund runs after the cancellation commits, mirroring the
// processor-call-outside-transaction rule. Retries are safe: refunds are
// idempotent and the cancellation itself no-ops on a second call.
func (s *Service) applyCancellationRefund(ctx context.Context, result *CancellationResult, period *models.BillingPeriod, policy enums.CancellationRefundPolicy, now time.Time) (*CancellationResult, error) {
	invoice, err := s.invoices.Repo().FindInvoiceByBillingPeriod(ctx, period.ID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return result, nil
	}
	payment, err := s.invoices.Repo().FindLatestPaymentForInvoice(ctx, invoice.ID)
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.Status != enums.PaymentStatusSucceeded {
		return result, nil
	}

	refundCents := payment.AmountCents
	if policy == enums.CancellationRefundProrated {
		refundCents = s.proration.Prorate(payment.AmountCents, period.StartDate, period.EndDate, now)
	}
	if refundCents <= 0 {
		return result, nil
	}
	if refundCents < payment.AmountCents {
		result.CreditCents = refundCents
		logCtx := s.log.WithField(ctx, "payment_id", payment.ID.String())
		logCtx = s.log.WithField(logCtx, "credit_cents", refundCents)
		s.log.Info(logCtx, "prorated credit recorded, payment refunds are full amount only")
		return result, nil
	}

	refunded, err := s.invoices.Refund(ctx, invoices.RefundInput{
		PaymentID:   payment.ID,
		AmountCents: payment.AmountCents,
	}, now)
	if err != nil {
		return nil, err
	}
	result.RefundedPayment = refunded
	return result, nil
}

// scheduleCancelAt records the effective cancellation instant; a nil
// effectiveAt means the end of the current billing period.
func (s *Service) scheduleCancelAt(ctx context.Context, subscriptionID uuid.UUID, effectiveAt *time.Time, now time.Time) (*CancellationResult, error) {
	result := &CancellationResult{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.FindByID(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		result.Subscription = sub

		effective := sub.CurrentPeriodEnd
		if effectiveAt != nil {
			effective = *effectiveAt
		}
		if sub.Status == enums.SubscriptionStatusCancellationScheduled &&
			sub.CancelScheduledAt != nil && sub.CancelScheduledAt.Equal(effective) {
			return nil
		}

		if _, err := Transition(sub, enums.SubscriptionStatusCancellationScheduled, now); err != nil {
			return err
		}
		sub.CancelScheduledAt = &effective
		sub.CancelAt = &effective
		if err := repo.Save(ctx, sub); err != nil {
			return err
		}

		// An upcoming period that the cancellation beats never runs; a
		// period already underway runs to completion instead.
		period, err := s.periods.Repo().WithTx(tx).FindBySubscriptionAndStart(ctx, sub.ID, sub.CurrentPeriodStart)
		if err != nil {
			return err
		}
		if period != nil && period.Status == enums.BillingPeriodStatusUpcoming && !effective.After(period.StartDate) {
			if err := s.periods.TransitionInTx(ctx, tx, period, enums.BillingPeriodStatusScheduledToCancel, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FinalizeScheduledCancellations cancels every subscription whose scheduled
// cancellation instant has arrived. Safe to call with overlapping ranges;
// per-subscription failures are aggregated and do not stop the sweep.
func (s *Service) FinalizeScheduledCancellations(ctx context.Context, rangeStart, rangeEnd time.Time, livemode bool) ([]models.Subscription, error) {
	if !rangeStart.Before(rangeEnd) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "range start must precede range end")
	}

	due, err := s.repo.ListDueForCancellation(ctx, rangeEnd, livemode, s.billing.SweepBatchLimit)
	if err != nil {
		return nil, err
	}

	var finalized []models.Subscription
	var sweepErr error
	for _, candidate := range due {
		sub, err := s.finalizeCancellation(ctx, candidate.ID, rangeEnd)
		if err != nil {
			logCtx := s.log.WithSubscriptionID(ctx, candidate.ID.String())
			s.log.Error(logCtx, "finalizing scheduled cancellation", err)
			sweepErr = multierr.Append(sweepErr, err)
			continue
		}
		if sub != nil {
			finalized = append(finalized, *sub)
		}
	}
	return finalized, sweepErr
}

func (s *Service) finalizeCancellation(ctx context.Context, subscriptionID uuid.UUID, rangeEnd time.Time) (*models.Subscription, error) {
	var result *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.FindByID(ctx, subscriptionID)
		if err != nil {
			return err
		}
		// A concurrent sweep may have finalized it already.
		if sub == nil || sub.Status != enums.SubscriptionStatusCancellationScheduled {
			return nil
		}
		if sub.CancelScheduledAt == nil || sub.CancelScheduledAt.After(rangeEnd) {
			return nil
		}
		effective := *sub.CancelScheduledAt

		period, err := s.periods.Repo().WithTx(tx).FindBySubscriptionAndStart(ctx, sub.ID, sub.CurrentPeriodStart)
		if err != nil {
			return err
		}
		if period != nil {
			if err := s.runs.AbortForPeriod(ctx, tx, period.ID, effective); err != nil {
				return err
			}
			target := enums.BillingPeriodStatusCanceled
			if !effective.Before(period.EndDate) {
				target = enums.BillingPeriodStatusCompleted
			}
			if err := s.periods.TransitionInTx(ctx, tx, period, target, effective); err != nil {
				return err
			}
		}

		if _, err := Transition(sub, enums.SubscriptionStatusCanceled, effective); err != nil {
			return err
		}
		if err := repo.Save(ctx, sub); err != nil {
			return err
		}
		result = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ConvertExpiredTrials moves every trialing subscription whose trial end has
// passed onto its first paid period: the trial period completes without a
// charge, a paid period opens at the trial boundary and the subscription goes
// Active. The run sweep then schedules the first charge against the paid
// period. Per-subscription failures are aggregated and do not stop the sweep.
func (s *Service) ConvertExpiredTrials(ctx context.Context, asOf time.Time, livemode bool) ([]models.Subscription, error) {
	due, err := s.repo.ListTrialsEndingBy(ctx, asOf, livemode, s.billing.SweepBatchLimit)
	if err != nil {
		return nil, err
	}

	var converted []models.Subscription
	var sweepErr error
	for _, candidate := range due {
		sub, err := s.convertTrial(ctx, candidate.ID, asOf)
		if err != nil {
			logCtx := s.log.WithSubscriptionID(ctx, candidate.ID.String())
			s.log.Error(logCtx, "converting expired trial", err)
			sweepErr = multierr.Append(sweepErr, err)
			continue
		}
		if sub != nil {
			converted = append(converted, *sub)
		}
	}
	return converted, sweepErr
}

func (s *Service) convertTrial(ctx context.Context, subscriptionID uuid.UUID, asOf time.Time) (*models.Subscription, error) {
	var result *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.FindByID(ctx, subscriptionID)
		if err != nil {
			return err
		}
		// A concurrent sweep may have converted or canceled it already.
		if sub == nil || sub.Status != enums.SubscriptionStatusTrialing {
			return nil
		}
		if sub.TrialEnd == nil || sub.TrialEnd.After(asOf) {
			return nil
		}
		trialEnd := *sub.TrialEnd

		period, err := s.periods.Repo().WithTx(tx).FindBySubscriptionAndStart(ctx, sub.ID, sub.CurrentPeriodStart)
		if err != nil {
			return err
		}
		if period != nil && !period.Status.IsTerminal() {
			if period.Status == enums.BillingPeriodStatusUpcoming {
				if err := s.periods.TransitionInTx(ctx, tx, period, enums.BillingPeriodStatusActive, trialEnd); err != nil {
					return err
				}
			}
			if err := s.periods.TransitionInTx(ctx, tx, period, enums.BillingPeriodStatusCompleted, trialEnd); err != nil {
				return err
			}
		}

		sub.CurrentPeriodStart = trialEnd
		sub.CurrentPeriodEnd = billingperiods.NextBoundary(trialEnd, sub.IntervalUnit, sub.IntervalCount)
		if _, err := s.periods.CreateForSubscription(ctx, tx, sub, false, asOf); err != nil {
			return err
		}

		if _, err := Transition(sub, enums.SubscriptionStatusActive, asOf); err != nil {
			return err
		}
		if err := repo.Save(ctx, sub); err != nil {
			return err
		}
		result = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result != nil {
		logCtx := s.log.WithSubscriptionID(ctx, result.ID.String())
		s.log.Info(logCtx, "trial converted to paid period")
	}
	return result, nil
}

// ExpireIncompleteSubscriptions expires subscriptions that never confirmed
// their payment setup: every Incomplete subscription created at or before the
// cutoff moves to IncompleteExpired and its pending period is canceled.
func (s *Service) ExpireIncompleteSubscriptions(ctx context.Context, cutoff time.Time, livemode bool, now time.Time) ([]models.Subscription, error) {
	stale, err := s.repo.ListIncompleteCreatedBefore(ctx, cutoff, livemode, s.billing.SweepBatchLimit)
	if err != nil {
		return nil, err
	}

	var expired []models.Subscription
	var sweepErr error
	for _, candidate := range stale {
		sub, err := s.expireIncomplete(ctx, candidate.ID, now)
		if err != nil {
			logCtx := s.log.WithSubscriptionID(ctx, candidate.ID.String())
			s.log.Error(logCtx, "expiring incomplete subscription", err)
			sweepErr = multierr.Append(sweepErr, err)
			continue
		}
		if sub != nil {
			expired = append(expired, *sub)
		}
	}
	return expired, sweepErr
}

func (s *Service) expireIncomplete(ctx context.Context, subscriptionID uuid.UUID, now time.Time) (*models.Subscription, error) {
	var result *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.FindByID(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if sub == nil || sub.Status != enums.SubscriptionStatusIncomplete {
			return nil
		}

		period, err := s.periods.Repo().WithTx(tx).FindBySubscriptionAndStart(ctx, sub.ID, sub.CurrentPeriodStart)
		if err != nil {
			return err
		}
		if period != nil {
			if err := s.runs.AbortForPeriod(ctx, tx, period.ID, now); err != nil {
				return err
			}
			if err := s.periods.TransitionInTx(ctx, tx, period, enums.BillingPeriodStatusCanceled, now); err != nil {
				return err
			}
		}

		if _, err := Transition(sub, enums.SubscriptionStatusIncompleteExpired, now); err != nil {
			return err
		}
		if err := repo.Save(ctx, sub); err != nil {
			return err
		}
		result = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AdjustSubscriptionInput changes the plan and/or quantity, now or at the
// next period boundary.
type AdjustSubscriptionInput struct {
	SubscriptionID uuid.UUID `validate:"required"`
	PlanID         *uuid.UUID
	Quantity       *int64
	Timing         enums.AdjustmentTiming `validate:"required"`
}

// AdjustmentResult reports the updated subscription and, for immediate
// adjustments that raise the amount due, the incremental charge appended to
// the period's open invoice.
type AdjustmentResult struct {
	Subscription           *models.Subscription
	Invoice                *models.Invoice
	LineItems              []models.InvoiceLineItem
	IncrementalChargeCents int64
}

// AdjustSubscription applies a plan or quantity change. Immediate adjustments
// re-snapshot the current period's fee calculation; period-end adjustments
// queue the change for the next period.
func (s *Service) AdjustSubscription(ctx context.Context, input AdjustSubscriptionInput, now time.Time) (*AdjustmentResult, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	if input.PlanID == nil && input.Quantity == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment requires a plan or quantity change")
	}
	if input.Quantity != nil && *input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if !input.Timing.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown adjustment timing").
			WithDetails(map[string]any{"timing": input.Timing})
	}

	result := &AdjustmentResult{}
	var priorTotal int64
	var period *models.BillingPeriod

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.FindByID(ctx, input.SubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if sub.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeTerminalState, "subscription is in a terminal state").
				WithDetails(map[string]any{"subscription_id": sub.ID, "status": sub.Status})
		}
		result.Subscription = sub

		if input.PlanID != nil {
			plan, err := s.plans.WithTx(tx).FindByID(ctx, *input.PlanID)
			if err != nil {
				return err
			}
			if plan == nil {
				return pkgerrors.New(pkgerrors.CodeNotFound, "billing plan not found").
					WithDetails(map[string]any{"plan_id": *input.PlanID})
			}
		}

		if input.Timing == enums.AdjustmentTimingAtPeriodEnd {
			sub.PendingPlanID = input.PlanID
			sub.PendingQuantity = input.Quantity
			return repo.Save(ctx, sub)
		}

		if input.PlanID != nil {
			sub.PlanID = *input.PlanID
		}
		if input.Quantity != nil {
			sub.Quantity = *input.Quantity
		}
		sub.PendingPlanID = nil
		sub.PendingQuantity = nil
		if err := repo.Save(ctx, sub); err != nil {
			return err
		}

		period, err = s.periods.Repo().WithTx(tx).FindBySubscriptionAndStart(ctx, sub.ID, sub.CurrentPeriodStart)
		if err != nil {
			return err
		}
		if period != nil {
			prior, err := s.fees.CurrentForBillingPeriod(ctx, period.ID)
			if err != nil {
				return err
			}
			if prior != nil {
				priorTotal = prior.TotalCents
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if input.Timing == enums.AdjustmentTimingAtPeriodEnd || period == nil || period.TrialPeriod {
		return result, nil
	}
	return s.applyImmediateRepricing(ctx, result, period, priorTotal, now)
}

// applyImmediateRepricing re-snapshots the fee calculation for the period and
// bills the difference on the open invoice when the new total is higher. A
// lower total leaves the already-billed amount in place.
func (s *Service) applyImmediateRepricing(ctx context.Context, result *AdjustmentResult, period *models.BillingPeriod, priorTotal int64, now time.Time) (*AdjustmentResult, error) {
	sub := result.Subscription
	plan, err := s.plans.FindByID(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "billing plan not found").
			WithDetails(map[string]any{"plan_id": sub.PlanID})
	}

	method := s.resolveChargeMethod(ctx, sub)
	feeInput := feecalc.Input{
		PriceCents:        plan.PriceCents,
		Quantity:          sub.Quantity,
		Currency:          plan.Currency,
		PaymentMethodType: chargeMethodType(method),
		BillingAddress:    chargeMethodAddress(method),
		TaxRate:           planTaxRate(plan),
	}
	var discountID *uuid.UUID
	if s.discounts != nil {
		applied, id, err := s.discounts.AppliedForSubscription(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		feeInput.Discount = applied
		discountID = id
	}

	snapshot, err := s.fees.SnapshotForBillingPeriod(ctx, period.ID, feeInput, discountID, sub.Livemode, now)
	if err != nil {
		return nil, err
	}

	delta := snapshot.TotalCents - priorTotal
	if priorTotal == 0 || delta <= 0 {
		return result, nil
	}
	result.IncrementalChargeCents = delta

	invoice, err := s.invoices.Repo().FindInvoiceByBillingPeriod(ctx, period.ID)
	if err != nil {
		return nil, err
	}
	if invoice == nil || invoice.Status != enums.InvoiceStatusOpen {
		// No open invoice yet; the period's billing run will charge the new
		// snapshot in full.
		return result, nil
	}

	updated, err := s.invoices.AddLineItem(ctx, invoice.ID, models.InvoiceLineItem{
		Description:    fmt.Sprintf("Adjustment for plan %s", plan.Name),
		Quantity:       1,
		UnitPriceCents: delta,
		AmountCents:    delta,
	})
	if err != nil {
		return nil, err
	}
	result.Invoice = updated
	result.LineItems = updated.LineItems
	return result, nil
}

// OnBillingRunOutcome is the billing run executor's callback. A successful
// run advances the subscription to its next period and applies any queued
// adjustment; an abandoned run parks the subscription in PastDue.
func (s *Service) OnBillingRunOutcome(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, outcome enums.PaymentOutcome, abandoned bool, now time.Time) error {
	repo := s.repo.WithTx(tx)
	sub, err := repo.FindByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub == nil || sub.Status.IsTerminal() {
		return nil
	}

	if abandoned {
		changed, err := Transition(sub, enums.SubscriptionStatusPastDue, now)
		if err != nil {
			return err
		}
		if changed {
			if err := repo.Save(ctx, sub); err != nil {
				return err
			}
			logCtx := s.log.WithSubscriptionID(ctx, sub.ID.String())
			s.log.Warn(logCtx, "subscription past due after abandoned billing run")
		}
		return nil
	}
	if outcome != enums.PaymentOutcomeSucceeded {
		return nil
	}
	return s.advanceAfterSuccess(ctx, tx, sub, now)
}

func (s *Service) advanceAfterSuccess(ctx context.Context, tx *gorm.DB, sub *models.Subscription, now time.Time) error {
	repo := s.repo.WithTx(tx)

	prev, err := s.periods.Repo().WithTx(tx).FindBySubscriptionAndStart(ctx, sub.ID, sub.CurrentPeriodStart)
	if err != nil {
		return err
	}

	// The sweep owns the ending when the cancellation lands inside the paid
	// period; the subscription must not roll into a period it will not use.
	if sub.Status == enums.SubscriptionStatusCancellationScheduled &&
		sub.CancelScheduledAt != nil && prev != nil &&
		!sub.CancelScheduledAt.After(prev.EndDate) {
		return nil
	}

	if sub.HasPendingAdjustment() {
		if sub.PendingPlanID != nil {
			plan, err := s.plans.WithTx(tx).FindByID(ctx, *sub.PendingPlanID)
			if err != nil {
				return err
			}
			if plan != nil {
				sub.PlanID = plan.ID
				sub.IntervalUnit = plan.Interval
				sub.IntervalCount = plan.IntervalCount
			}
		}
		if sub.PendingQuantity != nil {
			sub.Quantity = *sub.PendingQuantity
		}
		sub.PendingPlanID = nil
		sub.PendingQuantity = nil
	}

	if prev != nil {
		next, err := s.periods.Advance(ctx, tx, sub, prev, now)
		if err != nil {
			return err
		}
		sub.CurrentPeriodStart = next.StartDate
		sub.CurrentPeriodEnd = next.EndDate
	}

	if sub.Status == enums.SubscriptionStatusPastDue ||
		sub.Status == enums.SubscriptionStatusTrialing ||
		sub.Status == enums.SubscriptionStatusIncomplete {
		if _, err := Transition(sub, enums.SubscriptionStatusActive, now); err != nil {
			return err
		}
	}
	return repo.Save(ctx, sub)
}

// resolveChargeMethod finds the instrument the next charge would use: the
// subscription's default method, then the customer default. The fee snapshot
// has to price with the same instrument the run executor charges with.
func (s *Service) resolveChargeMethod(ctx context.Context, sub *models.Subscription) *models.PaymentMethod {
	if s.paymentMethods == nil {
		return nil
	}
	if sub.DefaultPaymentMethodID != nil {
		method, err := s.paymentMethods.FindByID(ctx, *sub.DefaultPaymentMethodID)
		if err == nil && method != nil {
			return method
		}
	}
	method, err := s.paymentMethods.FindDefaultForCustomer(ctx, sub.CustomerID, sub.Livemode)
	if err != nil {
		return nil
	}
	return method
}

func chargeMethodType(method *models.PaymentMethod) enums.PaymentMethodType {
	if method == nil {
		return enums.PaymentMethodTypeCard
	}
	return method.Type
}

func chargeMethodAddress(method *models.PaymentMethod) *feecalc.Address {
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

func (s *Service) resolvePlan(ctx context.Context, planID *uuid.UUID, livemode bool) (*models.BillingPlan, error) {
	if planID != nil {
		plan, err := s.plans.FindByID(ctx, *planID)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "billing plan not found").
				WithDetails(map[string]any{"plan_id": *planID})
		}
		return plan, nil
	}
	plan, err := s.plans.FindDefault(ctx, livemode)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no default billing plan configured")
	}
	return plan, nil
}
