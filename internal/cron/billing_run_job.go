package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/billflow-backend/internal/billingruns"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
)

const defaultSchedulerLookahead = time.Hour

type billingRunService interface {
	ScheduleDueBillingRuns(ctx context.Context, rangeStart, rangeEnd time.Time, livemode bool) ([]models.BillingRun, error)
	StartRun(ctx context.Context, runID uuid.UUID, now time.Time) (*billingruns.ChargeRequest, error)
}

type dueRunLister interface {
	ListDueScheduled(ctx context.Context, before time.Time, livemode bool, limit int) ([]models.BillingRun, error)
}

// chargeDispatcher hands a charge request to the payment processor. Dispatch
// happens outside any storage transaction; the processor's outcome comes back
// later through ApplyPaymentOutcome.
type chargeDispatcher interface {
	Dispatch(ctx context.Context, request billingruns.ChargeRequest) error
}

// BillingRunJobParams configures the billing run sweep.
type BillingRunJobParams struct {
	Logger     *logger.Logger
	Runs       billingRunService
	RunRepo    dueRunLister
	Dispatcher chargeDispatcher
	Livemode   bool
	Lookahead  time.Duration
	BatchLimit int
}

// NewBillingRunJob constructs the job that schedules due billing runs and
// starts the ones whose charge instant has arrived.
func NewBillingRunJob(params BillingRunJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Runs == nil {
		return nil, fmt.Errorf("billing run service required")
	}
	if params.RunRepo == nil {
		return nil, fmt.Errorf("billing run repository required")
	}
	if params.Lookahead <= 0 {
		params.Lookahead = defaultSchedulerLookahead
	}
	return &billingRunJob{
		logg:       params.Logger,
		runs:       params.Runs,
		runRepo:    params.RunRepo,
		dispatcher: params.Dispatcher,
		livemode:   params.Livemode,
		lookahead:  params.Lookahead,
		batchLimit: params.BatchLimit,
		now:        time.Now,
	}, nil
}

type billingRunJob struct {
	logg       *logger.Logger
	runs       billingRunService
	runRepo    dueRunLister
	dispatcher chargeDispatcher
	livemode   bool
	lookahead  time.Duration
	batchLimit int
	now        func() time.Time
}

func (j *billingRunJob) Name() string {
	return "billing-run-sweep"
}

func (j *billingRunJob) Run(ctx context.Context) error {
	now := j.now()

	// The window reaches back one lookahead so a missed cycle still picks up
	// periods whose charge instant has just passed.
	scheduled, err := j.runs.ScheduleDueBillingRuns(ctx, now.Add(-j.lookahead), now.Add(j.lookahead), j.livemode)
	if err != nil {
		return fmt.Errorf("scheduling due billing runs: %w", err)
	}
	if len(scheduled) > 0 {
		logCtx := j.logg.WithField(ctx, "scheduled", len(scheduled))
		j.logg.Info(logCtx, "billing runs scheduled")
	}

	due, err := j.runRepo.ListDueScheduled(ctx, now, j.livemode, j.batchLimit)
	if err != nil {
		return fmt.Errorf("listing due billing runs: %w", err)
	}

	var jobErr error
	for _, run := range due {
		request, err := j.runs.StartRun(ctx, run.ID, now)
		if err != nil {
			logCtx := j.logg.WithBillingRunID(ctx, run.ID.String())
			j.logg.Error(logCtx, "starting billing run", err)
			jobErr = multierr.Append(jobErr, err)
			continue
		}
		if request == nil {
			continue
		}
		if err := j.dispatch(ctx, *request); err != nil {
			jobErr = multierr.Append(jobErr, err)
		}
	}
	return jobErr
}

func (j *billingRunJob) dispatch(ctx context.Context, request billingruns.ChargeRequest) error {
	logCtx := j.logg.WithBillingRunID(ctx, request.RunID.String())
	logCtx = j.logg.WithField(logCtx, "amount_cents", request.AmountCents)
	if j.dispatcher == nil {
		j.logg.Warn(logCtx, "no charge dispatcher configured; charge request dropped")
		return nil
	}
	if err := j.dispatcher.Dispatch(ctx, request); err != nil {
		j.logg.Error(logCtx, "dispatching charge request", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dispatching charge request")
	}
	j.logg.Info(logCtx, "charge request dispatched")
	return nil
}
