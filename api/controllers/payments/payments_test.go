package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/learnonline/payments-backend/api/middleware"
	"github.com/learnonline/payments-backend/internal/payments"
	"github.com/learnonline/payments-backend/pkg/auth"
	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/enums"
	pkgerrors "github.com/learnonline/payments-backend/pkg/errors"
	"github.com/learnonline/payments-backend/pkg/pagination"
)

type fakeService struct {
	outcome      payments.Outcome
	processInput payments.ProcessInput
	refundInput  payments.RefundInput
	getErr       error
	listParams   pagination.Params
}

func (f *fakeService) Process(_ context.Context, in payments.ProcessInput) (payments.Outcome, error) {
	f.processInput = in
	return f.outcome, nil
}

func (f *fakeService) Quote(_ context.Context, _, courseID uuid.UUID, purchaseType string) (*payments.Quote, error) {
	return &payments.Quote{Course: payments.CourseSummary{ID: courseID}, PurchaseType: enums.PurchaseType(purchaseType)}, nil
}

func (f *fakeService) Get(_ context.Context, _ uuid.UUID, transactionID string) (*payments.PaymentView, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &payments.PaymentView{TransactionID: transactionID}, nil
}

func (f *fakeService) List(_ context.Context, _ uuid.UUID, params pagination.Params) (*payments.HistoryPage, error) {
	f.listParams = params
	return &payments.HistoryPage{Payments: []payments.PaymentView{}}, nil
}

func (f *fakeService) Logs(context.Context, uuid.UUID, string) ([]payments.LogView, error) {
	return []payments.LogView{}, nil
}

func (f *fakeService) Refund(_ context.Context, in payments.RefundInput) (*models.Payment, error) {
	f.refundInput = in
	return &models.Payment{TransactionID: in.TransactionID, Status: enums.PaymentStatusRefunded}, nil
}

func newRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/courses/{courseID}/payments", Process(svc, nil))
	r.Post("/api/v1/courses/{courseID}/payments/{purchaseType}", Process(svc, nil))
	r.Get("/api/v1/courses/{courseID}/checkout", Quote(svc, nil))
	r.Get("/api/v1/payments", List(svc, nil))
	r.Get("/api/v1/payments/{transactionID}", Get(svc, nil))
	r.Post("/api/v1/payments/{transactionID}/refund", Refund(svc, nil))
	return r
}

func authed(req *http.Request, userID uuid.UUID) *http.Request {
	return req.WithContext(middleware.WithPrincipal(req.Context(), auth.Principal{
		UserID: userID,
		Role:   enums.MemberRoleLearner,
		Email:  "learner@example.com",
	}))
}

func TestProcessAcceptsFormPost(t *testing.T) {
	svc := &fakeService{outcome: payments.Outcome{Success: true, Message: "Payment processed successfully", TransactionID: "ABC", RedirectURL: "/payments/success/ABC", HTTPStatus: http.StatusOK}}
	userID, courseID := uuid.New(), uuid.New()

	form := url.Values{}
	form.Set("card_type", "visa")
	form.Set("client_token", "tok-1")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/courses/"+courseID.String()+"/payments/certificate", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "browser/1.0")
	req.RemoteAddr = "203.0.113.9:5000"
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, authed(req, userID))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	in := svc.processInput
	if in.Actor.UserID != userID || in.Actor.Email != "learner@example.com" {
		t.Fatalf("unexpected actor %+v", in.Actor)
	}
	if in.CourseID != courseID || in.PurchaseType != "certificate" {
		t.Fatalf("unexpected course or type: %s %s", in.CourseID, in.PurchaseType)
	}
	if in.Form.Method() != "visa" || in.Form.ClientToken != "tok-1" {
		t.Fatalf("form not decoded: %+v", in.Form)
	}
	if in.Request.IPAddress != "203.0.113.9" || in.Request.UserAgent != "browser/1.0" {
		t.Fatalf("unexpected request meta %+v", in.Request)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["transaction_id"] != "ABC" || body["redirect_url"] != "/payments/success/ABC" {
		t.Fatalf("expected flat outcome document, got %v", body)
	}
}

func TestProcessUsesOutcomeStatus(t *testing.T) {
	svc := &fakeService{outcome: payments.Outcome{Code: payments.CodePaymentInProgress, TransactionID: "T1", HTTPStatus: http.StatusConflict}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/courses/"+uuid.NewString()+"/payments?purchase_type=course", strings.NewReader(`{"payment_method":"visa"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.IdempotencyHeader, "key-1")
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, authed(req, uuid.New()))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if svc.processInput.IdempotencyKey != "key-1" || svc.processInput.PurchaseType != "course" {
		t.Fatalf("unexpected input %+v", svc.processInput)
	}
}

func TestProcessRequiresActor(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/courses/"+uuid.NewString()+"/payments", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	newRouter(&fakeService{}).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProcessRejectsBadCourseID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/courses/not-a-uuid/payments", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	newRouter(&fakeService{}).ServeHTTP(rec, authed(req, uuid.New()))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetMapsNotFound(t *testing.T) {
	svc := &fakeService{getErr: pkgerrors.NotFound("payment")}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/ABC", nil)
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, authed(req, uuid.New()))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRefundPassesReasonAndActor(t *testing.T) {
	svc := &fakeService{}
	userID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/ABC/refund", strings.NewReader(`{"reason":"  duplicate purchase "}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, authed(req, userID))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.refundInput.TransactionID != "ABC" || svc.refundInput.Reason != "duplicate purchase" {
		t.Fatalf("unexpected refund input %+v", svc.refundInput)
	}
	if svc.refundInput.Actor.Role != string(enums.MemberRoleLearner) {
		t.Fatalf("role not forwarded")
	}
	if !strings.Contains(rec.Body.String(), `"status":"refunded"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestQuoteReadsPurchaseType(t *testing.T) {
	courseID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/courses/"+courseID.String()+"/checkout?purchase_type=certificate", nil)
	rec := httptest.NewRecorder()
	newRouter(&fakeService{}).ServeHTTP(rec, authed(req, uuid.New()))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"purchase_type":"certificate"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestListPassesCursorAndLimit(t *testing.T) {
	svc := &fakeService{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments?limit=5&cursor=abc", nil)
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, authed(req, uuid.New()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.listParams.Limit != 5 || svc.listParams.Cursor != "abc" {
		t.Fatalf("unexpected params %+v", svc.listParams)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/payments?limit=500", nil)
	rec = httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, authed(req, uuid.New()))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized limit, got %d", rec.Code)
	}
}
