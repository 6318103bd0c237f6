package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
)

const defaultIncompleteExpiry = 24 * time.Hour

type incompleteExpirer interface {
	ExpireIncompleteSubscriptions(ctx context.Context, cutoff time.Time, livemode bool, now time.Time) ([]models.Subscription, error)
}

// IncompleteExpiryJobParams configures the incomplete-subscription expiry
// sweep.
type IncompleteExpiryJobParams struct {
	Logger        *logger.Logger
	Subscriptions incompleteExpirer
	Livemode      bool
	Expiry        time.Duration
}

// NewIncompleteExpiryJob constructs the job that expires subscriptions whose
// payment setup was never confirmed within the expiry window.
func NewIncompleteExpiryJob(params IncompleteExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	if params.Expiry <= 0 {
		params.Expiry = defaultIncompleteExpiry
	}
	return &incompleteExpiryJob{
		logg:     params.Logger,
		subs:     params.Subscriptions,
		livemode: params.Livemode,
		expiry:   params.Expiry,
		now:      time.Now,
	}, nil
}

type incompleteExpiryJob struct {
	logg     *logger.Logger
	subs     incompleteExpirer
	livemode bool
	expiry   time.Duration
	now      func() time.Time
}

func (j *incompleteExpiryJob) Name() string {
	return "incomplete-expiry"
}

func (j *incompleteExpiryJob) Run(ctx context.Context) error {
	now := j.now()
	expired, err := j.subs.ExpireIncompleteSubscriptions(ctx, now.Add(-j.expiry), j.livemode, now)
	if len(expired) > 0 {
		logCtx := j.logg.WithField(ctx, "expired", len(expired))
		j.logg.Info(logCtx, "incomplete subscriptions expired")
	}
	return err
}
