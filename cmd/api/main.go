package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/learnonline/payments-backend/api/routes"
	"github.com/learnonline/payments-backend/internal/courses"
	"github.com/learnonline/payments-backend/internal/payments"
	"github.com/learnonline/payments-backend/pkg/auth"
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

const shutdownTimeout = 15 * time.Second

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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
	gateways := gateway.NewRegistry(primary)

	currency, err := enums.ParseCurrency(cfg.Payments.Currency)
	requireResource(ctx, logg, "payments currency", err)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	paymentsMetrics := metrics.NewPaymentsMetrics(registry)

	paymentsRepo := payments.NewRepository(dbClient.DB())
	coursesRepo := courses.NewRepository(dbClient.DB())
	emitter := outbox.NewEmitter(outbox.NewRepository(dbClient.DB()), logg)

	paymentService, err := payments.NewService(payments.ServiceParams{
		DB:       dbClient,
		Payments: paymentsRepo,
		Courses:  coursesRepo,
		Gateways: gateways,
		Outbox:   emitter,
		Metrics:  paymentsMetrics,
		Logger:   logg,
		Currency: currency,
	})
	requireResource(ctx, logg, "payment service", err)

	guard, err := payments.NewReplayGuard(redisClient, cfg.Payments.WebhookReplayTTL)
	requireResource(ctx, logg, "webhook replay guard", err)

	webhookService, err := payments.NewWebhookService(payments.WebhookServiceParams{
		DB:       dbClient,
		Payments: paymentsRepo,
		Courses:  coursesRepo,
		Gateways: gateways,
		Outbox:   emitter,
		Guard:    guard,
		Metrics:  paymentsMetrics,
		Logger:   logg,
	})
	requireResource(ctx, logg, "webhook service", err)

	tokens, err := auth.NewTokens(cfg.JWT)
	requireResource(ctx, logg, "token verifier", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	runCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
		"driver":   primary.Name(),
	})
	logg.Info(runCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:   cfg,
			Logger:   logg,
			Tokens:   tokens,
			DB:       dbClient,
			Redis:    redisClient,
			Payments: paymentService,
			Webhooks: webhookService,
			Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(runCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(runCtx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(runCtx, "api server shutdown failed", err)
		}
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
