package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/billflow-backend/internal/billingperiods"
	"github.com/angelmondragon/billflow-backend/internal/billingruns"
	"github.com/angelmondragon/billflow-backend/internal/cron"
	"github.com/angelmondragon/billflow-backend/internal/discounts"
	"github.com/angelmondragon/billflow-backend/internal/feecalc"
	"github.com/angelmondragon/billflow-backend/internal/invoices"
	"github.com/angelmondragon/billflow-backend/internal/subscriptions"
	"github.com/angelmondragon/billflow-backend/pkg/config"
	"github.com/angelmondragon/billflow-backend/pkg/db"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
	"github.com/angelmondragon/billflow-backend/pkg/metrics"
	"github.com/angelmondragon/billflow-backend/pkg/migrate"
	"github.com/angelmondragon/billflow-backend/pkg/redis"
)

const lockKeyFormat = "billflow:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry, err := buildRegistry(cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron jobs", err)
		os.Exit(1)
	}

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildRegistry wires the billing engine and registers its sweep jobs.
func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	conn := dbClient.DB()

	periodSvc, err := billingperiods.NewService(billingperiods.ServiceParams{
		Tx:     dbClient,
		Repo:   billingperiods.NewRepository(conn),
		Logger: logg,
	})
	if err != nil {
		return nil, err
	}

	invoiceSvc, err := invoices.NewService(invoices.ServiceParams{
		Tx:     dbClient,
		Repo:   invoices.NewRepository(conn),
		Logger: logg,
	})
	if err != nil {
		return nil, err
	}

	feeSvc, err := feecalc.NewService(feecalc.ServiceParams{
		Tx:   dbClient,
		Repo: feecalc.NewRepository(conn),
	})
	if err != nil {
		return nil, err
	}

	discountSvc, err := discounts.NewService(discounts.ServiceParams{
		Tx:   dbClient,
		Repo: discounts.NewRepository(conn),
	})
	if err != nil {
		return nil, err
	}

	subRepo := subscriptions.NewRepository(conn)
	planRepo := subscriptions.NewPlanRepository(conn)
	methodRepo := subscriptions.NewPaymentMethodRepository(conn)

	runSvc, err := billingruns.NewService(billingruns.ServiceParams{
		Tx:             dbClient,
		Repo:           billingruns.NewRepository(conn),
		Periods:        periodSvc,
		Subscriptions:  subRepo,
		Plans:          planRepo,
		PaymentMethods: methodRepo,
		Discounts:      discountSvc,
		Fees:           feeSvc,
		Invoices:       invoiceSvc,
		Metrics:        metrics.NewBillingRunMetrics(prometheus.DefaultRegisterer),
		Logger:         logg,
		Billing:        cfg.Billing,
	})
	if err != nil {
		return nil, err
	}

	subSvc, err := subscriptions.NewService(subscriptions.ServiceParams{
		Tx:             dbClient,
		Repo:           subRepo,
		Plans:          planRepo,
		PaymentMethods: methodRepo,
		Periods:        periodSvc,
		Runs:           runSvc,
		Invoices:       invoiceSvc,
		Fees:           feeSvc,
		Discounts:      discountSvc,
		Logger:         logg,
		Billing:        cfg.Billing,
	})
	if err != nil {
		return nil, err
	}
	runSvc.SetLifecycle(subSvc)

	runJob, err := cron.NewBillingRunJob(cron.BillingRunJobParams{
		Logger:     logg,
		Runs:       runSvc,
		RunRepo:    runSvc.Repo(),
		Livemode:   cfg.Billing.Livemode,
		Lookahead:  cfg.Billing.SchedulerLookahead,
		BatchLimit: cfg.Billing.SweepBatchLimit,
	})
	if err != nil {
		return nil, err
	}

	cancellationJob, err := cron.NewCancellationSweepJob(cron.CancellationSweepJobParams{
		Logger:        logg,
		Subscriptions: subSvc,
		Livemode:      cfg.Billing.Livemode,
	})
	if err != nil {
		return nil, err
	}

	pastDueJob, err := cron.NewPastDueJob(cron.PastDueJobParams{
		Logger:     logg,
		SubRepo:    subRepo,
		Canceler:   subSvc,
		Livemode:   cfg.Billing.Livemode,
		BatchLimit: cfg.Billing.SweepBatchLimit,
	})
	if err != nil {
		return nil, err
	}

	trialJob, err := cron.NewTrialConversionJob(cron.TrialConversionJobParams{
		Logger:        logg,
		Subscriptions: subSvc,
		Livemode:      cfg.Billing.Livemode,
	})
	if err != nil {
		return nil, err
	}

	incompleteJob, err := cron.NewIncompleteExpiryJob(cron.IncompleteExpiryJobParams{
		Logger:        logg,
		Subscriptions: subSvc,
		Livemode:      cfg.Billing.Livemode,
	})
	if err != nil {
		return nil, err
	}

	return cron.NewRegistry(runJob, cancellationJob, pastDueJob, trialJob, incompleteJob), nil
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
