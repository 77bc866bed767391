package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"

	"github.com/learnonline/payments-backend/pkg/config"
	"github.com/learnonline/payments-backend/pkg/enums"
	"github.com/learnonline/payments-backend/pkg/square"
)

// sandboxCardNonce is Square's test nonce that always authorizes.
const sandboxCardNonce = "cnon:card-nonce-ok"

type squarePayments interface {
	CreatePayment(ctx context.Context, charge square.Charge) (*sq.Payment, error)
	RefundPayment(ctx context.Context, refund square.Refund) (*sq.PaymentRefund, error)
	IsSandbox() bool
}

// SquareGateway charges card nonces through Square. Webhooks carry a hex
// HMAC-SHA256 of the raw body keyed with the shared secret.
type SquareGateway struct {
	client  squarePayments
	secret  string
	timeout time.Duration
}

// NewSquare wraps an initialized Square client.
func NewSquare(client squarePayments, secret string, timeout time.Duration) (*SquareGateway, error) {
	if client == nil {
		return nil, errors.New("square client is required")
	}
	return &SquareGateway{client: client, secret: secret, timeout: timeout}, nil
}

func (g *SquareGateway) Name() string {
	return config.PaymentsDriverSquare
}

func (g *SquareGateway) CreatePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	source := strings.TrimSpace(req.SourceToken)
	if source == "" && g.client.IsSandbox() {
		source = sandboxCardNonce
	}
	if source == "" {
		return PaymentResult{Status: enums.PaymentStatusFailed, Message: "A card token is required for this payment provider."}, nil
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	payment, err := g.client.CreatePayment(ctx, square.Charge{
		Amount:         req.Currency.ToMinorUnits(req.Amount),
		Currency:       req.Currency,
		SourceID:       source,
		IdempotencyKey: req.IdempotencyKey,
		BuyerEmail:     req.BuyerEmail,
		Note:           fmt.Sprintf("LearnOnline %s purchase", req.PurchaseType),
		ReferenceID:    req.TransactionID,
	})
	if err != nil {
		var declined *square.DeclinedError
		if errors.As(err, &declined) {
			return PaymentResult{Status: enums.PaymentStatusFailed, Message: declineMessage(declined)}, nil
		}
		return PaymentResult{}, err
	}
	if payment == nil {
		return PaymentResult{}, errors.New("square returned no payment")
	}

	status := statusFromSquare(payment.GetStatus())
	return PaymentResult{
		Success:                status != enums.PaymentStatusFailed,
		Status:                 status,
		ProcessorTransactionID: derefPayment(payment.GetID()),
		Message:                fmt.Sprintf("Square payment %s", strings.ToLower(derefPayment(payment.GetStatus()))),
	}, nil
}

func (g *SquareGateway) VerifyWebhook(header http.Header, body []byte) WebhookEvent {
	if !validHMAC(g.secret, header.Get(SignatureHeader), body) {
		return invalidSignature()
	}
	return parseWebhookBody(body)
}

func (g *SquareGateway) RefundPayment(ctx context.Context, req RefundRequest) (RefundResult, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	refund, err := g.client.RefundPayment(ctx, square.Refund{
		PaymentID:      req.ProcessorTransactionID,
		Amount:         req.Currency.ToMinorUnits(req.Amount),
		Currency:       req.Currency,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return RefundResult{}, err
	}
	status := strings.ToUpper(square.RefundStatus(refund))
	if status == "REJECTED" || status == "FAILED" {
		return RefundResult{RefundID: square.RefundID(refund), Message: "Square refund " + strings.ToLower(status)}, nil
	}
	return RefundResult{Success: true, RefundID: square.RefundID(refund), Message: "Square refund " + strings.ToLower(status)}, nil
}

func (g *SquareGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// Sign returns the signature Square-driver webhooks are expected to carry.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validHMAC(secret, signature string, body []byte) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func statusFromSquare(raw *string) enums.PaymentStatus {
	switch strings.ToUpper(derefPayment(raw)) {
	case "COMPLETED":
		return enums.PaymentStatusCompleted
	case "APPROVED", "PENDING":
		return enums.PaymentStatusPending
	default:
		return enums.PaymentStatusFailed
	}
}

func declineMessage(err *square.DeclinedError) string {
	if err.Detail != "" {
		return err.Detail
	}
	return "Payment declined: " + strings.ToLower(strings.ReplaceAll(err.Code, "_", " "))
}

func derefPayment(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
