package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
)

const defaultCancellationWindow = 24 * time.Hour

type cancellationFinalizer interface {
	FinalizeScheduledCancellations(ctx context.Context, rangeStart, rangeEnd time.Time, livemode bool) ([]models.Subscription, error)
}

// CancellationSweepJobParams configures the scheduled cancellation sweep.
type CancellationSweepJobParams struct {
	Logger        *logger.Logger
	Subscriptions cancellationFinalizer
	Livemode      bool
	Window        time.Duration
}

// NewCancellationSweepJob constructs the job that finalizes subscriptions
// whose scheduled cancellation instant has arrived.
func NewCancellationSweepJob(params CancellationSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	if params.Window <= 0 {
		params.Window = defaultCancellationWindow
	}
	return &cancellationSweepJob{
		logg:     params.Logger,
		subs:     params.Subscriptions,
		livemode: params.Livemode,
		window:   params.Window,
		now:      time.Now,
	}, nil
}

type cancellationSweepJob struct {
	logg     *logger.Logger
	subs     cancellationFinalizer
	livemode bool
	window   time.Duration
	now      func() time.Time
}

func (j *cancellationSweepJob) Name() string {
	return "cancellation-sweep"
}

func (j *cancellationSweepJob) Run(ctx context.Context) error {
	now := j.now()
	finalized, err := j.subs.FinalizeScheduledCancellations(ctx, now.Add(-j.window), now, j.livemode)
	if len(finalized) > 0 {
		logCtx := j.logg.WithField(ctx, "finalized", len(finalized))
		j.logg.Info(logCtx, "scheduled cancellations finalized")
	}
	return err
}
