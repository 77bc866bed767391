package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/learnonline/payments-backend/internal/certificates"
	"github.com/learnonline/payments-backend/internal/courses"
	"github.com/learnonline/payments-backend/pkg/broker"
	"github.com/learnonline/payments-backend/pkg/config"
	"github.com/learnonline/payments-backend/pkg/db"
	"github.com/learnonline/payments-backend/pkg/logger"
	"github.com/learnonline/payments-backend/pkg/migrate"
	"github.com/learnonline/payments-backend/pkg/outbox"
	"github.com/learnonline/payments-backend/pkg/outbox/idempotency"
	"github.com/learnonline/payments-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "certificate-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "certificate-worker"

	logg = logger.New(logger.Options{
		ServiceName: "certificate-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		Environment: cfg.App.Env,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "failed to close database", err)
		}
	}()
	requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	subscription, err := broker.NewSubscription(ctx, cfg, logg)
	requireResource(ctx, logg, "event broker", err)
	defer func() {
		if err := subscription.Close(); err != nil {
			logg.Error(ctx, "failed to close event broker", err)
		}
	}()

	tracker, err := idempotency.NewTracker(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "event tracker", err)

	emitter := outbox.NewEmitter(outbox.NewRepository(dbClient.DB()), logg)
	issuer, err := certificates.NewIssuer(dbClient, courses.NewRepository(dbClient.DB()), emitter, logg)
	requireResource(ctx, logg, "certificate issuer", err)

	consumer, err := certificates.NewConsumer(subscription.Subscriber, issuer, tracker, logg)
	requireResource(ctx, logg, "certificate consumer", err)

	service, err := NewService(ServiceParams{
		Logger:   logg,
		Consumer: consumer,
		Probes: map[string]probe{
			"database": dbClient.Ping,
			"redis":    redisClient.Ping,
			"broker":   subscription.Ping,
		},
	})
	requireResource(ctx, logg, "worker service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"broker":      cfg.Eventing.NormalizedBroker(),
	})
	logg.Info(runCtx, "certificate worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "certificate worker failed", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "certificate worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
