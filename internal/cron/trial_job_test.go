package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
)

type stubTrialConverter struct {
	converted []models.Subscription
	err       error
	asOf      time.Time
}

func (s *stubTrialConverter) ConvertExpiredTrials(_ context.Context, asOf time.Time, _ bool) ([]models.Subscription, error) {
	s.asOf = asOf
	return s.converted, s.err
}

func TestTrialConversionJobSweepsAtNow(t *testing.T) {
	converter := &stubTrialConverter{converted: []models.Subscription{{ID: uuid.New()}}}
	job, err := NewTrialConversionJob(TrialConversionJobParams{
		Logger:        logger.New(logger.Options{ServiceName: "cron-test"}),
		Subscriptions: converter,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	job.(*trialConversionJob).now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !converter.asOf.Equal(now) {
		t.Fatalf("asOf = %v, want %v", converter.asOf, now)
	}
}

func TestTrialConversionJobPropagatesError(t *testing.T) {
	converter := &stubTrialConverter{err: errors.New("boom")}
	job, err := NewTrialConversionJob(TrialConversionJobParams{
		Logger:        logger.New(logger.Options{ServiceName: "cron-test"}),
		Subscriptions: converter,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}
