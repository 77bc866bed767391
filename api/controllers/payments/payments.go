package payments

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/learnonline/payments-backend/api/middleware"
	"github.com/learnonline/payments-backend/api/responses"
	"github.com/learnonline/payments-backend/api/validators"
	"github.com/learnonline/payments-backend/internal/payments"
	"github.com/learnonline/payments-backend/pkg/db/models"
	pkgerrors "github.com/learnonline/payments-backend/pkg/errors"
	"github.com/learnonline/payments-backend/pkg/logger"
	"github.com/learnonline/payments-backend/pkg/pagination"
)

// Service is the payments surface used by the HTTP layer.
type Service interface {
	Process(ctx context.Context, input payments.ProcessInput) (payments.Outcome, error)
	Quote(ctx context.Context, userID, courseID uuid.UUID, purchaseType string) (*payments.Quote, error)
	Get(ctx context.Context, userID uuid.UUID, transactionID string) (*payments.PaymentView, error)
	List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*payments.HistoryPage, error)
	Logs(ctx context.Context, userID uuid.UUID, transactionID string) ([]payments.LogView, error)
	Refund(ctx context.Context, input payments.RefundInput) (*models.Payment, error)
}

// Process submits the checkout form for a course. The response is the flat
// outcome document rather than the data envelope.
func Process(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		courseID, err := uuidParam(r, "courseID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var form payments.PaymentForm
		if err := validators.DecodeBody(r, &form); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		purchaseType := chi.URLParam(r, "purchaseType")
		if purchaseType == "" {
			purchaseType = r.URL.Query().Get("purchase_type")
		}

		outcome, err := svc.Process(r.Context(), payments.ProcessInput{
			Actor:          actor,
			CourseID:       courseID,
			PurchaseType:   purchaseType,
			Form:           form,
			IdempotencyKey: strings.TrimSpace(r.Header.Get(middleware.IdempotencyHeader)),
			Request:        requestMeta(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteJSON(w, outcome.HTTPStatus, outcome)
	}
}

// Quote prices the purchase and reports eligibility for the checkout page.
func Quote(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		courseID, err := uuidParam(r, "courseID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		quote, err := svc.Quote(r.Context(), actor.UserID, courseID, r.URL.Query().Get("purchase_type"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}

// Get returns one payment for its owner.
func Get(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Get(r.Context(), actor.UserID, chi.URLParam(r, "transactionID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// List returns one page of the actor's payment history. Pass next_cursor back as cursor for the next page.
func List(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.QueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.List(r.Context(), actor.UserID, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// Logs returns a payment's audit trail for its owner.
func Logs(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		logs, err := svc.Logs(r.Context(), actor.UserID, chi.URLParam(r, "transactionID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, logs)
	}
}

type refundRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// Refund refunds a completed payment in full.
func Refund(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body refundRequest
		if err := validators.DecodeBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payment, err := svc.Refund(r.Context(), payments.RefundInput{
			Actor:         actor,
			TransactionID: chi.URLParam(r, "transactionID"),
			Reason:        validators.CleanText(body.Reason, 500),
			Request:       requestMeta(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payments.ViewOf(payment))
	}
}

func actorFromRequest(r *http.Request) (payments.Actor, error) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return payments.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return payments.Actor{UserID: p.UserID, Email: p.Email, Role: string(p.Role)}, nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid "+name).WithDetails(map[string]any{name: raw})
	}
	return id, nil
}

func requestMeta(r *http.Request) payments.RequestMeta {
	return payments.RequestMeta{
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}
