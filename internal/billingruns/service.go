package billingruns

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/internal/billingperiods"
	"github.com/angelmondragon/billflow-backend/internal/feecalc"
	"github.com/angelmondragon/billflow-backend/internal/invoices"
	"github.com/angelmondragon/billflow-backend/pkg/config"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
	"github.com/angelmondragon/billflow-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type subscriptionSource interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
}

type planSource interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.BillingPlan, error)
}

type paymentMethodSource interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error)
}

type discountSource interface {
	AppliedForSubscription(ctx context.Context, subscriptionID uuid.UUID) (*feecalc.AppliedDiscount, *uuid.UUID, error)
	ConsumePayment(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID) error
}

type feeSnapshotter interface {
	SnapshotForBillingPeriod(ctx context.Context, billingPeriodID uuid.UUID, input feecalc.Input, discountID *uuid.UUID, livemode bool, now time.Time) (*models.FeeCalculation, error)
}

type invoiceReconciler interface {
	OpenForBillingRun(ctx context.Context, tx *gorm.DB, input invoices.OpenRunInvoiceInput) (*models.Invoice, *models.Payment, error)
	RecordRunOutcome(ctx context.Context, tx *gorm.DB, input invoices.RunOutcomeInput) error
	MarkUncollectible(ctx context.Context, tx *gorm.DB, billingPeriodID uuid.UUID) error
}

// lifecycleNotifier lets the subscription manager react to run outcomes
// without this package depending on it.
type lifecycleNotifier interface {
	OnBillingRunOutcome(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, outcome enums.PaymentOutcome, abandoned bool, now time.Time) error
}

// ServiceParams groups dependencies for the billing run scheduler/executor.
type ServiceParams struct {
	Tx             txRunner
	Repo           Repository
	Periods        *billingperiods.Service
	Subscriptions  subscriptionSource
	Plans          planSource
	PaymentMethods paymentMethodSource
	Discounts      discountSource
	Fees           feeSnapshotter
	Invoices       invoiceReconciler
	Lifecycle      lifecycleNotifier
	Metrics        *metrics.BillingRunMetrics
	Logger         *logger.Logger
	Billing        config.BillingConfig
}

// Service owns the billing run state machine: it decides when a charge
// attempt should occur, drives retries and applies processor outcomes.
type Service struct {
	tx             txRunner
	repo           Repository
	periods        *billingperiods.Service
	subs           subscriptionSource
	plans          planSource
	paymentMethods paymentMethodSource
	discounts      discountSource
	fees           feeSnapshotter
	invoices       invoiceReconciler
	lifecycle      lifecycleNotifier
	metrics        *metrics.BillingRunMetrics
	log            *logger.Logger
	billing        config.BillingConfig
}

// NewService builds a billing run service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("repo required")
	}
	if params.Periods == nil {
		return nil, fmt.Errorf("billing period service required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription source required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan source required")
	}
	if params.Discounts == nil {
		return nil, fmt.Errorf("discount source required")
	}
	if params.Fees == nil {
		return nil, fmt.Errorf("fee snapshotter required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice reconciler required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Billing.MaxRetryAttempts < 1 {
		params.Billing.MaxRetryAttempts = 1
	}
	if params.Billing.RetryBackoff <= 0 {
		params.Billing.RetryBackoff = 24 * time.Hour
	}
	return &Service{
		tx:             params.Tx,
		repo:           params.Repo,
		periods:        params.Periods,
		subs:           params.Subscriptions,
		plans:          params.Plans,
		paymentMethods: params.PaymentMethods,
		discounts:      params.Discounts,
		fees:           params.Fees,
		invoices:       params.Invoices,
		lifecycle:      params.Lifecycle,
		metrics:        params.Metrics,
		log:            params.Logger,
		billing:        params.Billing,
	}, nil
}

// Repo exposes the repository for callers composing multi-entity
// transactions.
func (s *Service) Repo() Repository {
	return s.repo
}

// SetLifecycle wires the subscription manager after construction. The
// subscription manager itself depends on this service, so one of the two
// links has to be attached late.
func (s *Service) SetLifecycle(notifier lifecycleNotifier) {
	s.lifecycle = notifier
}
