package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
)

type trialConverter interface {
	ConvertExpiredTrials(ctx context.Context, asOf time.Time, livemode bool) ([]models.Subscription, error)
}

// TrialConversionJobParams configures the trial expiry sweep.
type TrialConversionJobParams struct {
	Logger        *logger.Logger
	Subscriptions trialConverter
	Livemode      bool
}

// NewTrialConversionJob constructs the job that rolls expired trials onto
// their first paid period. The run sweep picks the new period up and
// schedules the first charge.
func NewTrialConversionJob(params TrialConversionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	return &trialConversionJob{
		logg:     params.Logger,
		subs:     params.Subscriptions,
		livemode: params.Livemode,
		now:      time.Now,
	}, nil
}

type trialConversionJob struct {
	logg     *logger.Logger
	subs     trialConverter
	livemode bool
	now      func() time.Time
}

func (j *trialConversionJob) Name() string {
	return "trial-conversion"
}

func (j *trialConversionJob) Run(ctx context.Context) error {
	converted, err := j.subs.ConvertExpiredTrials(ctx, j.now(), j.livemode)
	if len(converted) > 0 {
		logCtx := j.logg.WithField(ctx, "converted", len(converted))
		j.logg.Info(logCtx, "expired trials converted")
	}
	return err
}
