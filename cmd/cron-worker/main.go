package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/learnonline/payments-backend/internal/courses"
	"github.com/learnonline/payments-backend/internal/cron"
	"github.com/learnonline/payments-backend/internal/payments"
	"github.com/learnonline/payments-backend/pkg/config"
	"github.com/learnonline/payments-backend/pkg/db"
	"github.com/learnonline/payments-backend/pkg/enums"
	"github.com/learnonline/payments-backend/pkg/gateway"
	"github.com/learnonline/payments-backend/pkg/logger"
	"github.com/learnonline/payments-backend/pkg/metrics"
	"github.com/learnonline/payments-backend/pkg/migrate"
	"github.com/learnonline/payments-backend/pkg/outbox"
	"github.com/learnonline/payments-backend/pkg/redis"
)

const lockKeyFormat = "%s:cron-worker:lock:%s"

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		Environment: cfg.App.Env,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()
	requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	primary, err := gateway.New(ctx, *cfg, logg)
	requireResource(ctx, logg, "payment gateway", err)
	currency, err := enums.ParseCurrency(cfg.Payments.Currency)
	requireResource(ctx, logg, "payments currency", err)

	outboxRepo := outbox.NewRepository(dbClient.DB())
	paymentService, err := payments.NewService(payments.ServiceParams{
		DB:       dbClient,
		Payments: payments.NewRepository(dbClient.DB()),
		Courses:  courses.NewRepository(dbClient.DB()),
		Gateways: gateway.NewRegistry(primary),
		Outbox:   outbox.NewEmitter(outboxRepo, logg),
		Logger:   logg,
		Currency: currency,
	})
	requireResource(ctx, logg, "payment service", err)

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Outbox:        outboxRepo,
		RetentionDays: cfg.Cron.OutboxRetentionDays,
	})
	requireResource(ctx, logg, "outbox retention job", err)

	expiry, err := cron.NewPendingPaymentExpiryJob(cron.PendingPaymentExpiryJobParams{
		Logger:    logg,
		Payments:  paymentService,
		MaxAge:    cfg.Payments.PendingExpiry,
		BatchSize: cfg.Cron.BatchSize,
	})
	requireResource(ctx, logg, "pending payment expiry job", err)

	registry, err := cron.NewRegistry(retention, expiry)
	requireResource(ctx, logg, "cron registry", err)

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.Redis.KeyPrefix, cfg.App.Env), cfg.Cron.LockTTL)
	requireResource(ctx, logg, "cron lock", err)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(promRegistry),
		Interval: cfg.Cron.Interval,
	})
	requireResource(ctx, logg, "cron service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"jobs":        registry.Names(),
	})

	if *once {
		ran, err := service.RunOnce(runCtx)
		if err != nil {
			logg.Error(runCtx, "cron cycle failed", err)
			os.Exit(1)
		}
		if !ran {
			logg.Info(runCtx, "cron lock held elsewhere; nothing to do")
		}
		return
	}

	go func() {
		if err := metrics.Serve(runCtx, cfg.Service.MetricsAddr, promRegistry, logg); err != nil {
			logg.Error(runCtx, "metrics endpoint stopped", err)
		}
	}()

	logg.Info(runCtx, "starting cron worker")
	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "cron worker shutting down gracefully")
}

func lockKey(prefix, env string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "lo"
	}
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, prefix, env)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
