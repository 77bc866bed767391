package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/learnonline/payments-backend/api/middleware"
	"github.com/learnonline/payments-backend/api/responses"
	"github.com/learnonline/payments-backend/internal/payments"
	pkgerrors "github.com/learnonline/payments-backend/pkg/errors"
	"github.com/learnonline/payments-backend/pkg/logger"
)

const maxWebhookBytes = 1 << 20

type PaymentWebhookService interface {
	Handle(ctx context.Context, in payments.WebhookInput) (payments.WebhookResult, error)
}

// PaymentWebhook receives processor callbacks for /payments/webhooks/{provider}.
// Rejections answer 400 with received=false; processing failures answer 5xx so
// the processor retries.
func PaymentWebhook(svc PaymentWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		result, err := svc.Handle(ctx, payments.WebhookInput{
			Provider: chi.URLParam(r, "provider"),
			Header:   r.Header,
			Body:     payload,
			Request: payments.RequestMeta{
				IPAddress: middleware.ClientIP(r),
				UserAgent: r.UserAgent(),
			},
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		status := result.HTTPStatus
		if status == 0 {
			status = http.StatusOK
		}
		responses.WriteJSON(w, status, result)
	}
}
