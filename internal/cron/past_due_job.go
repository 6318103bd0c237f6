package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/billflow-backend/internal/subscriptions"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
)

const defaultPastDueGrace = 30 * 24 * time.Hour

type delinquentLister interface {
	ListPastDueSince(ctx context.Context, cutoff time.Time, livemode bool, limit int) ([]models.Subscription, error)
}

type subscriptionCanceler interface {
	ScheduleCancellation(ctx context.Context, input subscriptions.ScheduleCancellationInput, now time.Time) (*subscriptions.CancellationResult, error)
}

// PastDueJobParams configures the delinquency re-evaluation job.
type PastDueJobParams struct {
	Logger      *logger.Logger
	SubRepo     delinquentLister
	Canceler    subscriptionCanceler
	Livemode    bool
	GracePeriod time.Duration
	BatchLimit  int
}

// NewPastDueJob constructs the job that cancels subscriptions left past due
// beyond the grace period.
func NewPastDueJob(params PastDueJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.SubRepo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Canceler == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	if params.GracePeriod <= 0 {
		params.GracePeriod = defaultPastDueGrace
	}
	return &pastDueJob{
		logg:       params.Logger,
		subRepo:    params.SubRepo,
		canceler:   params.Canceler,
		livemode:   params.Livemode,
		grace:      params.GracePeriod,
		batchLimit: params.BatchLimit,
		now:        time.Now,
	}, nil
}

type pastDueJob struct {
	logg       *logger.Logger
	subRepo    delinquentLister
	canceler   subscriptionCanceler
	livemode   bool
	grace      time.Duration
	batchLimit int
	now        func() time.Time
}

func (j *pastDueJob) Name() string {
	return "past-due-review"
}

func (j *pastDueJob) Run(ctx context.Context) error {
	now := j.now()
	delinquent, err := j.subRepo.ListPastDueSince(ctx, now.Add(-j.grace), j.livemode, j.batchLimit)
	if err != nil {
		return fmt.Errorf("listing past due subscriptions: %w", err)
	}

	var jobErr error
	for _, sub := range delinquent {
		_, err := j.canceler.ScheduleCancellation(ctx, subscriptions.ScheduleCancellationInput{
			SubscriptionID: sub.ID,
			Timing:         enums.CancellationTimingImmediately,
			RefundPolicy:   enums.CancellationRefundNone,
		}, now)
		if err != nil {
			logCtx := j.logg.WithSubscriptionID(ctx, sub.ID.String())
			j.logg.Error(logCtx, "canceling delinquent subscription", err)
			jobErr = multierr.Append(jobErr, err)
			continue
		}
		logCtx := j.logg.WithSubscriptionID(ctx, sub.ID.String())
		j.logg.Info(logCtx, "delinquent subscription canceled")
	}
	return jobErr
}
