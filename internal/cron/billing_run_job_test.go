package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billflow-backend/internal/billingruns"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
)

type stubRunService struct {
	scheduled   []models.BillingRun
	startErr    map[uuid.UUID]error
	started     []uuid.UUID
	rangeStarts []time.Time
}

func (s *stubRunService) ScheduleDueBillingRuns(_ context.Context, rangeStart, _ time.Time, _ bool) ([]models.BillingRun, error) {
	s.rangeStarts = append(s.rangeStarts, rangeStart)
	return s.scheduled, nil
}

func (s *stubRunService) StartRun(_ context.Context, runID uuid.UUID, _ time.Time) (*billingruns.ChargeRequest, error) {
	if err := s.startErr[runID]; err != nil {
		return nil, err
	}
	s.started = append(s.started, runID)
	return &billingruns.ChargeRequest{RunID: runID, AmountCents: 10000}, nil
}

type stubRunLister struct {
	due []models.BillingRun
}

func (s *stubRunLister) ListDueScheduled(context.Context, time.Time, bool, int) ([]models.BillingRun, error) {
	return s.due, nil
}

type stubDispatcher struct {
	requests []billingruns.ChargeRequest
	err      error
}

func (s *stubDispatcher) Dispatch(_ context.Context, request billingruns.ChargeRequest) error {
	if s.err != nil {
		return s.err
	}
	s.requests = append(s.requests, request)
	return nil
}

func newBillingRunJobForTest(t *testing.T, svc *stubRunService, lister *stubRunLister, dispatcher chargeDispatcher) *billingRunJob {
	t.Helper()
	job, err := NewBillingRunJob(BillingRunJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron-test"}),
		Runs:       svc,
		RunRepo:    lister,
		Dispatcher: dispatcher,
		Lookahead:  time.Hour,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	return job.(*billingRunJob)
}

func TestBillingRunJobStartsDueRunsAndDispatches(t *testing.T) {
	runA := models.BillingRun{ID: uuid.New()}
	runB := models.BillingRun{ID: uuid.New()}
	svc := &stubRunService{}
	lister := &stubRunLister{due: []models.BillingRun{runA, runB}}
	dispatcher := &stubDispatcher{}

	job := newBillingRunJobForTest(t, svc, lister, dispatcher)
	job.now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(svc.started) != 2 {
		t.Fatalf("expected 2 started runs, got %d", len(svc.started))
	}
	if len(dispatcher.requests) != 2 {
		t.Fatalf("expected 2 dispatched charges, got %d", len(dispatcher.requests))
	}
	if dispatcher.requests[0].RunID != runA.ID {
		t.Fatalf("unexpected dispatch order")
	}
}

func TestBillingRunJobContinuesAfterStartFailure(t *testing.T) {
	runA := models.BillingRun{ID: uuid.New()}
	runB := models.BillingRun{ID: uuid.New()}
	svc := &stubRunService{startErr: map[uuid.UUID]error{runA.ID: errors.New("boom")}}
	lister := &stubRunLister{due: []models.BillingRun{runA, runB}}
	dispatcher := &stubDispatcher{}

	job := newBillingRunJobForTest(t, svc, lister, dispatcher)
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected aggregated error")
	}
	if len(svc.started) != 1 || svc.started[0] != runB.ID {
		t.Fatalf("expected the second run to still start")
	}
}

func TestBillingRunJobWithoutDispatcherDropsRequests(t *testing.T) {
	run := models.BillingRun{ID: uuid.New()}
	svc := &stubRunService{}
	lister := &stubRunLister{due: []models.BillingRun{run}}

	job := newBillingRunJobForTest(t, svc, lister, nil)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(svc.started) != 1 {
		t.Fatalf("expected run to start even without a dispatcher")
	}
}
