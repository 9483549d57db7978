package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/greenmile-app/greenmile-backend/internal/cron"
	"github.com/greenmile-app/greenmile-backend/internal/dispatch"
	"github.com/greenmile-app/greenmile-backend/internal/wallets"
	"github.com/greenmile-app/greenmile-backend/pkg/config"
	"github.com/greenmile-app/greenmile-backend/pkg/db"
	"github.com/greenmile-app/greenmile-backend/pkg/logger"
	"github.com/greenmile-app/greenmile-backend/pkg/metrics"
	"github.com/greenmile-app/greenmile-backend/pkg/migrate"
	"github.com/greenmile-app/greenmile-backend/pkg/outbox"
	"github.com/greenmile-app/greenmile-backend/pkg/pricing"
	"github.com/greenmile-app/greenmile-backend/pkg/redis"
)

const lockKeyFormat = "gm:cron-worker:lock:%s"

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

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	calc, err := pricing.NewCalculator(cfg.Platform, cfg.Dispatch)
	if err != nil {
		logg.Error(context.Background(), "failed to build pricing calculator", err)
		os.Exit(1)
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	dispatchRepo := dispatch.NewRepository(dbClient.DB())
	dispatchService, err := dispatch.NewService(dispatchRepo, dbClient, outboxService, calc, cfg.Dispatch)
	if err != nil {
		logg.Error(context.Background(), "failed to build dispatch service", err)
		os.Exit(1)
	}

	walletsRepo := wallets.NewRepository(dbClient.DB())
	walletsService, err := wallets.NewService(walletsRepo, dbClient, outboxService, calc, cfg.Platform.MinPayoutCents)
	if err != nil {
		logg.Error(context.Background(), "failed to build wallets service", err)
		os.Exit(1)
	}

	sweepJob, err := cron.NewDispatchSweepJob(cron.DispatchSweepJobParams{
		Logger:      logg,
		Reader:      dispatchRepo,
		Dispatch:    dispatchService,
		GracePeriod: cfg.Dispatch.RiderGracePeriod,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build dispatch sweep job", err)
		os.Exit(1)
	}

	reconcileJob, err := cron.NewWalletReconcileJob(cron.WalletReconcileJobParams{
		Logger:  logg,
		Reader:  walletsRepo,
		Wallets: walletsService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build wallet reconcile job", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outbox.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build outbox retention job", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(sweepJob, reconcileJob, retentionJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
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

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
