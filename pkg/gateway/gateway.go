// Package gateway abstracts the payment processor. The orchestrator and the
// webhook receiver only talk to the Gateway interface; drivers are selected by
// configuration through New and Registry.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/learnonline/payments-backend/pkg/enums"
)

// SignatureHeader carries the shared-secret signature on inbound webhooks.
const SignatureHeader = "X-Payments-Signature"

const (
	msgInvalidSignature = "invalid signature"
	msgMalformedPayload = "malformed payload"
	msgUnsupportedState = "unsupported status"
)

// ErrRefundUnsupported is returned when the active driver cannot refund.
var ErrRefundUnsupported = errors.New("gateway does not support refunds")

// PaymentRequest is everything a driver needs to charge a learner.
type PaymentRequest struct {
	UserID         uuid.UUID
	CourseID       uuid.UUID
	PurchaseType   enums.PurchaseType
	Amount         decimal.Decimal
	Currency       enums.Currency
	IdempotencyKey string
	TransactionID  string
	SourceToken    string
	BuyerEmail     string
	Metadata       map[string]string
}

// PaymentResult is the driver's answer. Success=false means the processor
// refused the charge; Status is then failed.
type PaymentResult struct {
	Success                bool
	Status                 enums.PaymentStatus
	ProcessorTransactionID string
	Message                string
}

// WebhookEvent is a verified (or rejected) inbound notification.
type WebhookEvent struct {
	Valid                  bool
	Status                 enums.PaymentStatus
	ProcessorTransactionID string
	EventID                string
	Message                string
}

// Gateway is implemented by every payment driver.
type Gateway interface {
	Name() string
	CreatePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error)
	VerifyWebhook(header http.Header, body []byte) WebhookEvent
}

// RefundRequest identifies the processor payment to refund.
type RefundRequest struct {
	ProcessorTransactionID string
	Amount                 decimal.Decimal
	Currency               enums.Currency
	IdempotencyKey         string
	Reason                 string
}

// RefundResult reports the processor's refund outcome.
type RefundResult struct {
	Success  bool
	RefundID string
	Message  string
}

// Refunder is implemented by drivers that can refund completed payments.
type Refunder interface {
	RefundPayment(ctx context.Context, req RefundRequest) (RefundResult, error)
}

type webhookPayload struct {
	ProcessorTransactionID string `json:"processor_transaction_id"`
	Status                 string `json:"status"`
	EventID                string `json:"event_id,omitempty"`
}

// parseWebhookBody decodes the shared webhook document once the signature
// has been checked. Statuses outside the payment state machine are rejected.
func parseWebhookBody(body []byte) WebhookEvent {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookEvent{Message: msgMalformedPayload}
	}
	status, err := enums.ParsePaymentStatus(strings.ToLower(strings.TrimSpace(payload.Status)))
	if err != nil {
		return WebhookEvent{Message: msgUnsupportedState}
	}
	return WebhookEvent{
		Valid:                  true,
		Status:                 status,
		ProcessorTransactionID: strings.TrimSpace(payload.ProcessorTransactionID),
		EventID:                strings.TrimSpace(payload.EventID),
	}
}

func invalidSignature() WebhookEvent {
	return WebhookEvent{Message: msgInvalidSignature}
}
