package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/learnonline/payments-backend/api/controllers"
	paymentcontrollers "github.com/learnonline/payments-backend/api/controllers/payments"
	webhookcontrollers "github.com/learnonline/payments-backend/api/controllers/webhooks"
	"github.com/learnonline/payments-backend/api/middleware"
	"github.com/learnonline/payments-backend/pkg/auth"
	"github.com/learnonline/payments-backend/pkg/config"
	"github.com/learnonline/payments-backend/pkg/logger"
	"github.com/learnonline/payments-backend/pkg/redis"
)

// RedisStore is the slice of the Redis client used by the HTTP middleware.
type RedisStore interface {
	redis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
	Ping(ctx context.Context) error
}

type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	Tokens   *auth.Tokens
	DB       controllers.Pinger
	Redis    RedisStore
	Payments paymentcontrollers.Service
	Webhooks webhookcontrollers.PaymentWebhookService
	Metrics  http.Handler
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	processPolicy := middleware.NewRateLimitPolicy(
		"process",
		cfg.Payments.RateLimitWindow,
		cfg.Payments.RateLimitPerIP,
		cfg.Payments.RateLimitPerUser,
	)
	refundPolicy := middleware.NewRateLimitPolicy(
		"refund",
		cfg.Payments.RateLimitWindow,
		cfg.Payments.RateLimitPerIP,
		cfg.Payments.RateLimitPerUser,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readinessDeps(p)))
	})
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/payments", func(r chi.Router) {
			r.Post("/webhooks/{provider}", webhookcontrollers.PaymentWebhook(p.Webhooks, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(p.Tokens, logg))
				r.Get("/", paymentcontrollers.List(p.Payments, logg))
				r.Get("/{transactionID}", paymentcontrollers.Get(p.Payments, logg))
				r.Get("/{transactionID}/logs", paymentcontrollers.Logs(p.Payments, logg))
				r.With(
					middleware.RateLimit(refundPolicy, p.Redis, logg),
					middleware.Idempotency(p.Redis, cfg.Payments.RefundRequestTTL, logg),
				).Post("/{transactionID}/refund", paymentcontrollers.Refund(p.Payments, logg))
			})
		})

		r.Route("/courses/{courseID}", func(r chi.Router) {
			r.Use(middleware.Auth(p.Tokens, logg))
			r.Get("/checkout", paymentcontrollers.Quote(p.Payments, logg))
			r.With(middleware.RateLimit(processPolicy, p.Redis, logg)).Post("/payments", paymentcontrollers.Process(p.Payments, logg))
			r.With(middleware.RateLimit(processPolicy, p.Redis, logg)).Post("/payments/{purchaseType}", paymentcontrollers.Process(p.Payments, logg))
		})
	})

	return r
}

func readinessDeps(p RouterParams) map[string]controllers.Pinger {
	deps := map[string]controllers.Pinger{}
	if p.DB != nil {
		deps["database"] = p.DB
	}
	if p.Redis != nil {
		deps["redis"] = p.Redis
	}
	return deps
}

