package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	nanoid "github.com/jaevor/go-nanoid"

	"github.com/learnonline/payments-backend/pkg/config"
	"github.com/learnonline/payments-backend/pkg/enums"
)

const (
	mockIDAlphabet   = "0123456789ABCDEF"
	mockIDLength     = 24
	mockProcessorPfx = "MOCK-"
	mockRefundPfx    = "MOCKREF-"
	mockApproved     = "Mock payment approved"
)

// MockGateway simulates a synchronous processor: every charge, free ones
// included, completes immediately and webhooks are signed with the plain shared secret.
type MockGateway struct {
	secret string
	nextID func() string
}

// NewMock builds the mock driver around the configured webhook secret.
func NewMock(secret string) (*MockGateway, error) {
	gen, err := nanoid.CustomASCII(mockIDAlphabet, mockIDLength)
	if err != nil {
		return nil, err
	}
	return &MockGateway{secret: secret, nextID: gen}, nil
}

func (g *MockGateway) Name() string {
	return config.PaymentsDriverMock
}

func (g *MockGateway) CreatePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return PaymentResult{}, err
	}
	return PaymentResult{
		Success:                true,
		Status:                 enums.PaymentStatusCompleted,
		ProcessorTransactionID: mockProcessorPfx + g.nextID(),
		Message:                mockApproved,
	}, nil
}

// VerifyWebhook compares the signature header to the secret in constant time.
func (g *MockGateway) VerifyWebhook(header http.Header, body []byte) WebhookEvent {
	signature := header.Get(SignatureHeader)
	if g.secret == "" || subtle.ConstantTimeCompare([]byte(signature), []byte(g.secret)) != 1 {
		return invalidSignature()
	}
	return parseWebhookBody(body)
}

func (g *MockGateway) RefundPayment(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return RefundResult{}, err
	}
	if req.ProcessorTransactionID == "" {
		return RefundResult{}, errors.New("processor transaction id is required")
	}
	return RefundResult{
		Success:  true,
		RefundID: mockRefundPfx + g.nextID(),
		Message:  "Mock refund approved",
	}, nil
}
