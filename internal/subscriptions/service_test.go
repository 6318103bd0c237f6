package subscriptions

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
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
)

type stubTx struct {
	db *gorm.DB
}

func (s stubTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(s.db)
}

func setupLifecycleTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS billing_plans (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  name TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  is_default INTEGER NOT NULL DEFAULT 0,
  interval TEXT NOT NULL,
  interval_count INTEGER NOT NULL DEFAULT 1,
  price_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  tax_rate NUMERIC NOT NULL DEFAULT 0,
  trial_days INTEGER NOT NULL DEFAULT 0,
  charge_timing TEXT NOT NULL DEFAULT 'in_arrears',
  features TEXT,
  livemode INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS payment_methods (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  customer_id TEXT NOT NULL,
  type TEXT NOT NULL,
  billing_country TEXT NOT NULL DEFAULT '',
  billing_state TEXT NOT NULL DEFAULT '',
  is_default INTEGER NOT NULL DEFAULT 0,
  is_backup INTEGER NOT NULL DEFAULT 0,
  livemode INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  customer_id TEXT NOT NULL,
  plan_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'incomplete',
  quantity INTEGER NOT NULL DEFAULT 1,
  current_period_start DATETIME NOT NULL,
  current_period_end DATETIME NOT NULL,
  interval_unit TEXT NOT NULL DEFAULT 'month',
  interval_count INTEGER NOT NULL DEFAULT 1,
  trial_end DATETIME,
  cancel_at DATETIME,
  canceled_at DATETIME,
  cancel_scheduled_at DATETIME,
  default_payment_method_id TEXT,
  backup_payment_method_id TEXT,
  pending_plan_id TEXT,
  pending_quantity INTEGER,
  livemode INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS billing_periods (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  subscription_id TEXT NOT NULL,
  start_date DATETIME NOT NULL,
  end_date DATETIME NOT NULL,
  status TEXT NOT NULL DEFAULT 'upcoming',
  trial_period INTEGER NOT NULL DEFAULT 0,
  livemode INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (subscription_id, start_date)
);
CREATE TABLE IF NOT EXISTS billing_runs (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  billing_period_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'scheduled',
  scheduled_for DATETIME NOT NULL,
  started_at DATETIME,
  completed_at DATETIME,
  attempt_number INTEGER NOT NULL DEFAULT 1,
  error_details TEXT,
  payment_method_id TEXT,
  last_payment_intent_event_timestamp DATETIME,
  livemode INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_runs_one_live_per_period
  ON billing_runs (billing_period_id)
  WHERE status IN ('scheduled', 'in_progress', 'awaiting_payment_confirmation');
CREATE TABLE IF NOT EXISTS invoices (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  customer_id TEXT NOT NULL,
  billing_period_id TEXT,
  purchase_id TEXT,
  status TEXT NOT NULL DEFAULT 'draft',
  invoice_number TEXT NOT NULL UNIQUE,
  currency TEXT NOT NULL DEFAULT 'usd',
  subtotal_cents INTEGER NOT NULL DEFAULT 0,
  discount_cents INTEGER NOT NULL DEFAULT 0,
  tax_cents INTEGER NOT NULL DEFAULT 0,
  total_cents INTEGER NOT NULL DEFAULT 0,
  livemode INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS invoice_counters (
  livemode INTEGER PRIMARY KEY,
  next_seq INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS invoice_line_items (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  invoice_id TEXT NOT NULL,
  description TEXT NOT NULL,
  quantity INTEGER NOT NULL DEFAULT 1,
  unit_price_cents INTEGER NOT NULL,
  amount_cents INTEGER NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  invoice_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'processing',
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  charge_date DATETIME NOT NULL,
  processor_reference TEXT,
  refunded_amount_cents INTEGER,
  refunded_at DATETIME,
  livemode INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS fee_calculations (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  billing_period_id TEXT,
  purchase_session_id TEXT,
  params_hash TEXT NOT NULL,
  price_cents INTEGER NOT NULL,
  quantity INTEGER NOT NULL DEFAULT 1,
  discount_id TEXT,
  payment_method_type TEXT NOT NULL,
  billing_address TEXT,
  currency TEXT NOT NULL DEFAULT 'usd',
  subtotal_cents INTEGER NOT NULL,
  discount_amount_cents INTEGER NOT NULL DEFAULT 0,
  tax_amount_cents INTEGER NOT NULL DEFAULT 0,
  processor_fee_cents INTEGER NOT NULL DEFAULT 0,
  platform_fee_cents INTEGER NOT NULL DEFAULT 0,
  total_cents INTEGER NOT NULL,
  superseded_at DATETIME,
  livemode INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS discounts (
  id TEXT PRIMARY KEY,
  code TEXT NOT NULL UNIQUE,
  type TEXT NOT NULL,
  amount_cents INTEGER NOT NULL DEFAULT 0,
  percent_off INTEGER NOT NULL DEFAULT 0,
  duration TEXT NOT NULL,
  number_of_payments INTEGER,
  active INTEGER NOT NULL DEFAULT 1,
  livemode INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS discount_redemptions (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  discount_id TEXT NOT NULL,
  purchase_id TEXT UNIQUE,
  subscription_id TEXT,
  type TEXT NOT NULL,
  amount_cents INTEGER NOT NULL DEFAULT 0,
  percent_off INTEGER NOT NULL DEFAULT 0,
  duration TEXT NOT NULL,
  payments_remaining INTEGER,
  livemode INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (discount_id, subscription_id)
);`
	require.NoError(t, conn.Exec(schema).Error)
	return conn
}

type lifecycleFixture struct {
	conn     *gorm.DB
	svc      *Service
	periods  *billingperiods.Service
	runs     *billingruns.Service
	invoices *invoices.Service
	fees     *feecalc.Service
	plans    PlanRepository
	plan     *models.BillingPlan
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()

	conn := setupLifecycleTestDB(t)
	log := logger.New(logger.Options{Output: io.Discard})
	tx := stubTx{db: conn}
	billing := config.BillingConfig{
		MaxRetryAttempts: 4,
		RetryBackoff:     24 * time.Hour,
		SweepBatchLimit:  100,
	}

	periodSvc, err := billingperiods.NewService(billingperiods.ServiceParams{
		Tx:     tx,
		Repo:   billingperiods.NewRepository(conn),
		Logger: log,
	})
	require.NoError(t, err)

	invoiceSvc, err := invoices.NewService(invoices.ServiceParams{
		Tx:     tx,
		Repo:   invoices.NewRepository(conn),
		Logger: log,
	})
	require.NoError(t, err)

	feeSvc, err := feecalc.NewService(feecalc.ServiceParams{
		Tx:   tx,
		Repo: feecalc.NewRepository(conn),
	})
	require.NoError(t, err)

	discountSvc, err := discounts.NewService(discounts.ServiceParams{
		Tx:   tx,
		Repo: discounts.NewRepository(conn),
	})
	require.NoError(t, err)

	subRepo := NewRepository(conn)
	planRepo := NewPlanRepository(conn)

	runSvc, err := billingruns.NewService(billingruns.ServiceParams{
		Tx:            tx,
		Repo:          billingruns.NewRepository(conn),
		Periods:       periodSvc,
		Subscriptions: subRepo,
		Plans:         planRepo,
		Discounts:     discountSvc,
		Fees:          feeSvc,
		Invoices:      invoiceSvc,
		Logger:        log,
		Billing:       billing,
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Tx:             tx,
		Repo:           subRepo,
		Plans:          planRepo,
		PaymentMethods: NewPaymentMethodRepository(conn),
		Periods:        periodSvc,
		Runs:           runSvc,
		Invoices:       invoiceSvc,
		Fees:           feeSvc,
		Discounts:      discountSvc,
		Logger:         log,
		Billing:        billing,
	})
	require.NoError(t, err)
	runSvc.SetLifecycle(svc)

	plan := &models.BillingPlan{
		ID:            uuid.New(),
		Name:          "Pro",
		Status:        enums.PlanStatusActive,
		IsDefault:     true,
		Interval:      enums.BillingIntervalMonth,
		IntervalCount: 1,
		PriceCents:    10000,
		Currency:      enums.CurrencyUSD,
		ChargeTiming:  enums.ChargeTimingInArrears,
	}
	require.NoError(t, planRepo.Create(context.Background(), plan))

	return &lifecycleFixture{
		conn:     conn,
		svc:      svc,
		periods:  periodSvc,
		runs:     runSvc,
		invoices: invoiceSvc,
		fees:     feeSvc,
		plans:    planRepo,
		plan:     plan,
	}
}

var lifecycleEpoch = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

func (f *lifecycleFixture) createActiveSubscription(t *testing.T) *models.Subscription {
	t.Helper()

	ctx := context.Background()
	sub, err := f.svc.CreateSubscription(ctx, CreateSubscriptionInput{
		CustomerID: uuid.New(),
		StartAt:    lifecycleEpoch,
	}, lifecycleEpoch)
	require.NoError(t, err)

	activated, err := f.svc.ActivateSubscription(ctx, sub.ID, lifecycleEpoch)
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusActive, activated.Status)
	return activated
}

// settleCurrentPeriod opens and pays the invoice for the subscription's
// current period directly through the reconciler.
func (f *lifecycleFixture) settleCurrentPeriod(t *testing.T, sub *models.Subscription, at time.Time) *models.BillingPeriod {
	t.Helper()

	ctx := context.Background()
	period, err := f.periods.Repo().FindBySubscriptionAndStart(ctx, sub.ID, sub.CurrentPeriodStart)
	require.NoError(t, err)
	require.NotNil(t, period)

	_, _, err = f.invoices.OpenForBillingRun(ctx, f.conn, invoices.OpenRunInvoiceInput{
		CustomerID:      sub.CustomerID,
		BillingPeriodID: period.ID,
		Currency:        enums.CurrencyUSD,
		Description:     "Pro",
		Quantity:        sub.Quantity,
		UnitPriceCents:  10000,
		SubtotalCents:   10000,
		TotalCents:      10000,
		ChargeDate:      at,
	})
	require.NoError(t, err)
	require.NoError(t, f.invoices.RecordRunOutcome(ctx, f.conn, invoices.RunOutcomeInput{
		BillingPeriodID: period.ID,
		Outcome:         enums.PaymentOutcomeSucceeded,
		AmountCents:     10000,
		Now:             at,
	}))
	return period
}

func TestCreateSubscriptionUsesDefaultPlan(t *testing.T) {
	t.Parallel()

	f := newLifecycleFixture(t)
	ctx := context.Background()

	sub, err := f.svc.CreateSubscription(ctx, CreateSubscriptionInput{
		CustomerID: uuid.New(),
		StartAt:    lifecycleEpoch,
	}, lifecycleEpoch)
	require.NoError(t, err)
	require.Equal(t, f.plan.ID, sub.PlanID)
	require.Equal(t, enums.SubscriptionStatusIncomplete, sub.Status)
	require.True(t, sub.CurrentPeriodStart.Before(sub.CurrentPeriodEnd))
	require.True(t, sub.CurrentPeriodEnd.Equal(lifecycleEpoch.AddDate(0, 1, 0)))

	period, err := f.periods.Repo().FindBySubscriptionAndStart(ctx, sub.ID, sub.CurrentPeriodStart)
	require.NoError(t, err)
	require.NotNil(t, period)
	require.False(t, period.TrialPeriod)
}

func TestCreateSubscriptionWithTrial(t *testing.T) {
	t.Parallel()

	f := newLifecycleFixture(t)
	ctx := context.Background()
	trialDays := 14

	sub, err := f.svc.CreateSubscription(ctx, CreateSubscriptionInput{
		CustomerID: uuid.New(),
		StartAt:    lifecycleEpoch,
		TrialDays:  &trialDays,
	}, lifecycleEpoch)
	require.NoError(t, err)
	require.NotNil(t, sub.TrialEnd)
	require.True(t, sub.CurrentPeriodEnd.Equal(lifecycleEpoch.AddDate(0, 0, 14)))

	period, err := f.periods.Repo().FindBySubscriptionAndStart(ctx, sub.ID, sub.CurrentPeriodStart)
	require.NoError(t, err)
	require.True(t, period.TrialPeriod)

	activated, err := f.svc.ActivateSubscription(ctx, sub.ID, lifecycleEpoch)
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusTrialing, activated.Status)
}

func TestActivateSubscriptionIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newLifecycleFixture(t)
	sub := f.createActiveSubscription(t)

	again, err := f.svc.ActivateSubscription(context.Background(), sub.ID, lifecycleEpoch.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusActive, again.Status)
}

func TestImmediateCancellationCancelsPeriodAndRepeats(t *testing.T) {
	t.Parallel()

	f := newLifecycleFixture(t)
	ctx := context.Background()
	sub := f.createActiveSubscription(t)
	now := lifecycleEpoch.AddDate(0, 0, 10)

	result, err := f.svc.ScheduleCancellation(ctx, ScheduleCancellationInput{
		SubscriptionID: sub.ID,
		Timing:         enums.CancellationTimingImmediately,
	}, now)
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusCanceled, result.Subscription.Status)
	require.NotNil(t, result.Subscription.CanceledAt)

	period, err := f.periods.Repo().FindBySubscriptionAndStart(ctx, sub.ID, sub.CurrentPeriodStart)
	require.NoError(t, err)
	require.Equal(t, enums.BillingPeriodStatusCanceled, period.Status)

	// Scenario: the same call repeated is a no-op.
	repeat, err := f.svc.ScheduleCancellation(ctx, ScheduleCancellationInput{
		SubscriptionID: sub.ID,
		Timing:         enums.CancellationTimingImmediately,
	}, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusCanceled, repeat.Subscription.Status)
	require.True(t, repeat.Subscription.CanceledAt.Equal(*result.Subscription.CanceledAt))
}

func TestImmediateCancellationAbortsOutstandingRun(t *testing.T) {
	t.Parallel()

	f := newLifecycleFixture(t)
	ctx := context.Background()
	sub := f.createActiveSubscription(t)

	runs, err := f.runs.ScheduleDueBillingRuns(ctx, sub.CurrentPeriodEnd.Add(-time.Hour), sub.CurrentPeriodEnd.Add(time.Hour), false)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	_, err = f.svc.ScheduleCancellation(ctx, ScheduleCancellationInput{
		SubscriptionID: sub.ID,
		Timing:         enums.CancellationTimingImmediately,
	}, sub.CurrentPeriodEnd.Add(-30*time.Minute))
	require.NoError(t, err)

	run, err := f.runs.Repo().FindByID(ctx, runs[0].ID)
	require.NoError(t, err)
	require.Equal(t, enums.BillingRunStatusAborted, run.Status)
}

func TestImmediateCancellationFullRefund(t *testing.T) {
	t.Parallel()

	f := newLifecycleFixture(t)
	ctx := context.Background()
	sub := f.createActiveSubscription(t)
	paidAt := lifecycleEpoch.AddDate(0, 0, 5)
	f.settleCurrentPeriod(t, sub, paidAt)

	result, err := f.svc.ScheduleCancellation(ctx, ScheduleCancellationInput{
		SubscriptionID: sub.ID,
		Timing:         enums.CancellationTimingImmediately,
		RefundPolicy:   enums.CancellationRefundFull,
	}, paidAt.AddDate(0, 0, 5))
	require.NoError(t, err)
	require.NotNil(t, result.RefundedPayment)
	require.Equal(t, enums.PaymentStatusRefunded, result.RefundedPayment.Status)
	require.Equal(t, int64(10000), *result.RefundedPayment.RefundedAmountCents)
}

func TestImmediateCancellationProratedCredit(t *testing.T) {
	t.Parallel()

	f := newLifecycleFixture(t)
	ctx := context.Background()
	sub := f.createActiveSubscription(t)
	f.settleCurrentPeriod(t, sub, lifecycleEpoch.AddDate(0, 0, 1))

	// Mid-period the prorated credit is partial, which payments cannot
	// refund; the credit is reported instead.
	result, err := f.svc.ScheduleCancellation(ctx, ScheduleCancellationInput{
		SubscriptionID: sub.ID,
		Timing:         enums.CancellationTimingImmediately,
		RefundPolicy:   enums.CancellationRefundProrated,
	}, lifecycleEpoch.AddDate(0, 0, 15))
	require.NoError(t, err)
	require.Nil(t, result.RefundedPayment)
	require.Greater(t, result.CreditCents, int64(0))
	require.Less(t, result.CreditCents, int64(10000))
}

func TestScheduleCancellationAtPeriodEndAndSweep(t *testing.T) {
	t.Parallel()

	f := newLifecycleFixture(t)
	ctx := context.Background()
	sub := f.createActiveSubscription(t)
	now := lifecycleEpoch.AddDate(0, 0, 10)

	result, err := f.svc.ScheduleCancellation(ctx, ScheduleCancellationInput{
		SubscriptionID: sub.ID,
		Timing:         enums.CancellationTimingAtPeriodEnd,
	}, now)
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusCancellationScheduled, result.Subscription.Status)
	require.NotNil(t, result.Subscription.CancelScheduledAt)
	require.True(t, result.Subscription.CancelScheduledAt.Equal(sub.CurrentPeriodEnd))

	// Before the boundary the sweep leaves it alone.
	early, err := f.svc.FinalizeScheduledCancellations(ctx, now, sub.CurrentPeriodEnd.Add(-time.Hour), false)
	require.NoError(t, err)
	require.Empty(t, early)

	finalized, err := f.svc.FinalizeScheduledCancellations(ctx, now, sub.CurrentPeriodEnd.Add(time.Hour), false)
	require.NoError(t, err)
	require.Len(t, finalized, 1)
	require.Equal(t, enums.SubscriptionStatusCanceled, finalized[0].Status)
	require.True(t, finalized[0].CanceledAt.Equal(sub.CurrentPeriodEnd))

	period, err := f.periods.Repo().FindBySubscriptionAndStart(ctx, sub.ID, sub.CurrentPeriodStart)
	require.NoError(t, err)
	require.Equal(t, enums.BillingPeriodStatusCompleted, period.Status)

	// Overlapping re-run finds nothing left to do.
	again, err := f.svc.FinalizeScheduledCancellations(ctx, now, sub.CurrentPeriodEnd.Add(2*time.Hour), false)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestScheduleCancellationAtFutureDateValidation(t *testing.T) {
	t.Parallel()

	f := newLifecycleFixture(t)
	sub := f.createActiveSubscription(t)
	now := lifecycleEpoch.AddDate(0, 0, 10)
	past := now.Add(-time.Hour)

	_, err := f.svc.ScheduleCancellation(context.Background(), ScheduleCancellationInput{
		SubscriptionID: sub.ID,
		Timing:         enums.CancellationTimingAtFutureDate,
		EffectiveAt:    &past,
	}, now)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestAdjustSubscriptionAtPeriodEndQueuesChange(t *testing.T) {
	t.Parallel()

	f := newLifecycleFixture(t)
	ctx := context.Background()
	sub := f.createActiveSubscription(t)
	quantity := int64(3)

	result, err := f.svc.AdjustSubscription(ctx, AdjustSubscriptionInput{
		SubscriptionID: sub.ID,
		Quantity:       &quantity,
		Timing:         enums.AdjustmentTimingAtPeriodEnd,
	}, lifecycleEpoch.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.True(t, result.Subscription.HasPendingAdjustment())
	require.Equal(t, int64(1), result.Subscription.Quantity)

	// The queued change lands when the period's run succeeds.
	require.NoError(t, f.svc.OnBillingRunOutcome(ctx, f.conn, sub.ID, enums.PaymentOutcomeSucceeded, false, sub.CurrentPeriodEnd))

	reloaded, err := f.svc.Repo().FindByID(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), reloaded.Quantity)
	require.False(t, reloaded.HasPendingAdjustment())
	require.True(t, reloaded.CurrentPeriodStart.Equal(sub.CurrentPeriodEnd))
	require.True(t, reloaded.CurrentPeriodEnd.Equal(sub.CurrentPeriodEnd.AddDate(0, 1, 0)))

	periods, err := f.periods.Repo().ListBySubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, periods, 2)
}

func TestAdjustSubscriptionImmediatelyBillsTheDifference(t *testing.T) {
	t.Parallel()

	f := newLifecycleFixture(t)
	ctx := context.Background()
	sub := f.createActiveSubscription(t)

	period, err := f.periods.Repo().FindBySubscriptionAndStart(ctx, sub.ID, sub.CurrentPeriodStart)
	require.NoError(t, err)

	// Snapshot and open the invoice the way a started run would.
	_, err = f.fees.SnapshotForBillingPeriod(ctx, period.ID, feecalc.Input{
		PriceCents:        10000,
		Quantity:          1,
		Currency:          enums.CurrencyUSD,
		PaymentMethodType: enums.PaymentMethodTypeCard,
	}, nil, false, lifecycleEpoch)
	require.NoError(t, err)
	_, _, err = f.invoices.OpenForBillingRun(ctx, f.conn, invoices.OpenRunInvoiceInput{
		CustomerID:      sub.CustomerID,
		BillingPeriodID: period.ID,
		Currency:        enums.CurrencyUSD,
		Description:     "Pro",
		Quantity:        1,
		UnitPriceCents:  10000,
		SubtotalCents:   10000,
		TotalCents:      10000,
		ChargeDate:      lifecycleEpoch,
	})
	require.NoError(t, err)

	quantity := int64(2)
	result, err := f.svc.AdjustSubscription(ctx, AdjustSubscriptionInput{
		SubscriptionID: sub.ID,
		Quantity:       &quantity,
		Timing:         enums.AdjustmentTimingImmediately,
	}, lifecycleEpoch.AddDate(0, 0, 3))
	require.NoError(t, err)
	require.Equal(t, int64(2), result.Subscription.Quantity)
	require.Equal(t, int64(10000), result.IncrementalChargeCents)
	require.NotNil(t, result.Invoice)
	require.Equal(t, int64(20000), result.Invoice.TotalCents)
	require.Len(t, result.LineItems, 2)
}

func TestAdjustSubscriptionTerminalGuard(t *testing.T) {
	t.Parallel()

	f := newLifecycleFixture(t)
	ctx := context.Background()
	sub := f.createActiveSubscription(t)

	_, err := f.svc.ScheduleCancellation(ctx, ScheduleCancellationInput{
		SubscriptionID: sub.ID,
		Timing:         enums.CancellationTimingImmediately,
	}, lifecycleEpoch.AddDate(0, 0, 1))
	require.NoError(t, err)

	quantity := int64(2)
	_, err = f.svc.AdjustSubscription(ctx, AdjustSubscriptionInput{
		SubscriptionID: sub.ID,
		Quantity:       &quantity,
		Timing:         enums.AdjustmentTimingImmediately,
	}, lifecycleEpoch.AddDate(0, 0, 2))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeTerminalState))
}

func TestOnBillingRunOutcomeAbandonedParksPastDue(t *testing.T) {
	t.Parallel()

	f := newLifecycleFixture(t)
	ctx := context.Background()
	sub := f.createActiveSubscription(t)

	require.NoError(t, f.svc.OnBillingRunOutcome(ctx, f.conn, sub.ID, enums.PaymentOutcomeFailed, true, sub.CurrentPeriodEnd))

	reloaded, err := f.svc.Repo().FindByID(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusPastDue, reloaded.Status)

	// A later successful retry recovers the subscription and advances it.
	require.NoError(t, f.svc.OnBillingRunOutcome(ctx, f.conn, sub.ID, enums.PaymentOutcomeSucceeded, false, sub.CurrentPeriodEnd.Add(24*time.Hour)))
	recovered, err := f.svc.Repo().FindByID(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusActive, recovered.Status)
	require.True(t, recovered.CurrentPeriodStart.Equal(sub.CurrentPeriodEnd))
}

func TestOnBillingRunOutcomeHoldsAdvanceWhenCancellationDue(t *testing.T) {
	t.Parallel()

	f := newLifecycleFixture(t)
	ctx := context.Background()
	sub := f.createActiveSubscription(t)

	_, err := f.svc.ScheduleCancellation(ctx, ScheduleCancellationInput{
		SubscriptionID: sub.ID,
		Timing:         enums.CancellationTimingAtPeriodEnd,
	}, lifecycleEpoch.AddDate(0, 0, 10))
	require.NoError(t, err)

	require.NoError(t, f.svc.OnBillingRunOutcome(ctx, f.conn, sub.ID, enums.PaymentOutcomeSucceeded, false, sub.CurrentPeriodEnd))

	reloaded, err := f.svc.Repo().FindByID(ctx, sub.ID)
	require.NoError(t, err)
	require.True(t, reloaded.CurrentPeriodStart.Equal(sub.CurrentPeriodStart), "no next period while cancellation is pending")

	periods, err := f.periods.Repo().ListBySubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, periods, 1)
}

func TestConvertExpiredTrialsOpensFirstPaidPeriod(t *testing.T) {
	t.Parallel()

	f := newLifecycleFixture(t)
	ctx := context.Background()
	trialDays := 14

	sub, err := f.svc.CreateSubscription(ctx, CreateSubscriptionInput{
		CustomerID: uuid.New(),
		StartAt:    lifecycleEpoch,
		TrialDays:  &trialDays,
	}, lifecycleEpoch)
	require.NoError(t, err)

	activated, err := f.svc.ActivateSubscription(ctx, sub.ID, lifecycleEpoch)
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusTrialing, activated.Status)

	trialEnd := lifecycleEpoch.AddDate(0, 0, trialDays)

	// Sweeping before the trial is over touches nothing.
	converted, err := f.svc.ConvertExpiredTrials(ctx, trialEnd.Add(-time.Hour), false)
	require.NoError(t, err)
	require.Empty(t, converted)

	converted, err = f.svc.ConvertExpiredTrials(ctx, trialEnd.Add(time.Hour), false)
	require.NoError(t, err)
	require.Len(t, converted, 1)
	require.Equal(t, enums.SubscriptionStatusActive, converted[0].Status)
	require.True(t, converted[0].CurrentPeriodStart.Equal(trialEnd))
	require.True(t, converted[0].CurrentPeriodEnd.Equal(trialEnd.AddDate(0, 1, 0)))

	periods, err := f.periods.Repo().ListBySubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, periods, 2)
	var sawCompletedTrial, sawPaid bool
	for _, period := range periods {
		if period.TrialPeriod {
			sawCompletedTrial = period.Status == enums.BillingPeriodStatusCompleted
			continue
		}
		sawPaid = true
		require.True(t, period.StartDate.Equal(trialEnd))
	}
	require.True(t, sawCompletedTrial, "trial period completes without a charge")
	require.True(t, sawPaid, "paid period opens at the trial boundary")

	// The paid period is now chargeable: the run sweep schedules its first
	// charge at the period end.
	paidEnd := trialEnd.AddDate(0, 1, 0)
	runs, err := f.runs.ScheduleDueBillingRuns(ctx, paidEnd.Add(-time.Hour), paidEnd.Add(time.Hour), false)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	// Re-sweeping finds nothing left to convert.
	converted, err = f.svc.ConvertExpiredTrials(ctx, trialEnd.Add(2*time.Hour), false)
	require.NoError(t, err)
	require.Empty(t, converted)
}

func TestCreateSubscriptionExplicitZeroTrialDaysOptsOut(t *testing.T) {
	t.Parallel()

	f := newLifecycleFixture(t)
	ctx := context.Background()

	trialPlan := &models.BillingPlan{
		ID:            uuid.New(),
		Name:          "Pro with trial",
		Status:        enums.PlanStatusActive,
		Interval:      enums.BillingIntervalMonth,
		IntervalCount: 1,
		PriceCents:    10000,
		Currency:      enums.CurrencyUSD,
		TrialDays:     14,
		ChargeTiming:  enums.ChargeTimingInArrears,
	}
	require.NoError(t, f.plans.Create(ctx, trialPlan))

	noTrial := 0
	sub, err := f.svc.CreateSubscription(ctx, CreateSubscriptionInput{
		CustomerID: uuid.New(),
		PlanID:     &trialPlan.ID,
		StartAt:    lifecycleEpoch,
		TrialDays:  &noTrial,
	}, lifecycleEpoch)
	require.NoError(t, err)
	require.Nil(t, sub.TrialEnd)
	require.True(t, sub.CurrentPeriodEnd.Equal(lifecycleEpoch.AddDate(0, 1, 0)))

	period, err := f.periods.Repo().FindBySubscriptionAndStart(ctx, sub.ID, sub.CurrentPeriodStart)
	require.NoError(t, err)
	require.NotNil(t, period)
	require.False(t, period.TrialPeriod)

	// Without the explicit zero the plan trial still applies.
	withPlanTrial, err := f.svc.CreateSubscription(ctx, CreateSubscriptionInput{
		CustomerID: uuid.New(),
		PlanID:     &trialPlan.ID,
		StartAt:    lifecycleEpoch,
	}, lifecycleEpoch)
	require.NoError(t, err)
	require.NotNil(t, withPlanTrial.TrialEnd)
	require.True(t, withPlanTrial.TrialEnd.Equal(lifecycleEpoch.AddDate(0, 0, 14)))
}

func TestAdjustSubscriptionSnapshotsWithSubscriptionPaymentMethod(t *testing.T) {
	t.Parallel()

	f := newLifecycleFixture(t)
	ctx := context.Background()

	methodRepo := NewPaymentMethodRepository(f.conn)
	method := &models.PaymentMethod{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		Type:       enums.PaymentMethodTypeBankAccount,
	}
	require.NoError(t, methodRepo.Create(ctx, method))

	sub, err := f.svc.CreateSubscription(ctx, CreateSubscriptionInput{
		CustomerID:      method.CustomerID,
		PaymentMethodID: &method.ID,
		StartAt:         lifecycleEpoch,
	}, lifecycleEpoch)
	require.NoError(t, err)
	_, err = f.svc.ActivateSubscription(ctx, sub.ID, lifecycleEpoch)
	require.NoError(t, err)

	quantity := int64(2)
	_, err = f.svc.AdjustSubscription(ctx, AdjustSubscriptionInput{
		SubscriptionID: sub.ID,
		Quantity:       &quantity,
		Timing:         enums.AdjustmentTimingImmediately,
	}, lifecycleEpoch.AddDate(0, 0, 3))
	require.NoError(t, err)

	period, err := f.periods.Repo().FindBySubscriptionAndStart(ctx, sub.ID, lifecycleEpoch)
	require.NoError(t, err)
	require.NotNil(t, period)
	snapshot, err := f.fees.CurrentForBillingPeriod(ctx, period.ID)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	require.Equal(t, enums.PaymentMethodTypeBankAccount, snapshot.PaymentMethodType)
	// 0.8% bank transfer rate on the 20000 cent total, no fixed component.
	require.Equal(t, int64(160), snapshot.ProcessorFeeCents)
}

func TestExpireIncompleteSubscriptions(t *testing.T) {
	t.Parallel()

	f := newLifecycleFixture(t)
	ctx := context.Background()

	sub, err := f.svc.CreateSubscription(ctx, CreateSubscriptionInput{
		CustomerID: uuid.New(),
		StartAt:    lifecycleEpoch,
	}, lifecycleEpoch)
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusIncomplete, sub.Status)

	cutoff := time.Now().UTC().Add(time.Minute)
	expired, err := f.svc.ExpireIncompleteSubscriptions(ctx, cutoff, false, lifecycleEpoch.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, enums.SubscriptionStatusIncompleteExpired, expired[0].Status)

	period, err := f.periods.Repo().FindBySubscriptionAndStart(ctx, sub.ID, sub.CurrentPeriodStart)
	require.NoError(t, err)
	require.NotNil(t, period)
	require.Equal(t, enums.BillingPeriodStatusCanceled, period.Status)

	// The sweep is idempotent and the expired subscription stays terminal.
	expired, err = f.svc.ExpireIncompleteSubscriptions(ctx, cutoff, false, lifecycleEpoch.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Empty(t, expired)

	_, err = f.svc.ActivateSubscription(ctx, sub.ID, lifecycleEpoch.AddDate(0, 0, 3))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeTerminalState))
}
