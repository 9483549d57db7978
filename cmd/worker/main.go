package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/greenmile-app/greenmile-backend/internal/dispatch"
	"github.com/greenmile-app/greenmile-backend/internal/orders"
	"github.com/greenmile-app/greenmile-backend/internal/settlement"
	"github.com/greenmile-app/greenmile-backend/internal/wallets"
	"github.com/greenmile-app/greenmile-backend/pkg/config"
	"github.com/greenmile-app/greenmile-backend/pkg/db"
	"github.com/greenmile-app/greenmile-backend/pkg/logger"
	"github.com/greenmile-app/greenmile-backend/pkg/migrate"
	"github.com/greenmile-app/greenmile-backend/pkg/outbox"
	"github.com/greenmile-app/greenmile-backend/pkg/outbox/idempotency"
	"github.com/greenmile-app/greenmile-backend/pkg/pricing"
	"github.com/greenmile-app/greenmile-backend/pkg/pubsub"
	"github.com/greenmile-app/greenmile-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "settlement-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "settlement-worker"

	logg = logger.New(logger.Options{
		ServiceName: "settlement-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		requireResource(ctx, logg, "dev migrations", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	subscription := pubsubClient.SettlementSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "settlement subscription", errors.New("subscription not configured"))
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.ConsumerIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	calc, err := pricing.NewCalculator(cfg.Platform, cfg.Dispatch)
	requireResource(ctx, logg, "pricing calculator", err)

	platformOwnerID, err := uuid.Parse(cfg.Platform.OwnerID)
	requireResource(ctx, logg, "platform wallet owner id", err)

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	ordersRepo := orders.NewRepository(dbClient.DB())

	walletsService, err := wallets.NewService(
		wallets.NewRepository(dbClient.DB()),
		dbClient,
		outboxService,
		calc,
		cfg.Platform.MinPayoutCents,
	)
	requireResource(ctx, logg, "wallets service", err)

	dispatchService, err := dispatch.NewService(
		dispatch.NewRepository(dbClient.DB()),
		dbClient,
		outboxService,
		calc,
		cfg.Dispatch,
	)
	requireResource(ctx, logg, "dispatch service", err)

	consumer, err := settlement.NewConsumer(
		ordersRepo,
		walletsService,
		dispatchService,
		dbClient,
		calc,
		platformOwnerID,
		manager,
		logg,
	)
	requireResource(ctx, logg, "settlement consumer", err)

	service, err := NewService(subscription, consumer, logg)
	requireResource(ctx, logg, "settlement worker service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(runCtx, "settlement worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "settlement worker failed", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
