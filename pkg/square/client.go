// Package square wraps the Square Payments and Refunds APIs.
package square

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/learnonline/payments-backend/pkg/config"
	"github.com/learnonline/payments-backend/pkg/enums"
	"github.com/learnonline/payments-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"

	// Square rejects idempotency keys longer than this.
	maxIdempotencyKeyLen = 45

	defaultAttempts = 3
	retryBaseDelay  = 200 * time.Millisecond
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// Charge is one card charge against the configured location.
type Charge struct {
	Amount         int64
	Currency       enums.Currency
	SourceID       string
	IdempotencyKey string
	ReferenceID    string
	BuyerEmail     string
	Note           string
}

// Refund returns money from a completed Square payment.
type Refund struct {
	PaymentID      string
	Amount         int64
	Currency       enums.Currency
	Reason         string
	IdempotencyKey string
}

type api struct {
	createPayment func(context.Context, *sq.CreatePaymentRequest) (*sq.Payment, error)
	refundPayment func(context.Context, *sq.RefundPaymentRequest) (*sq.PaymentRefund, error)
}

// Client books payments at one Square location. Calls that fail with a
// transient error are retried with the same idempotency key, which Square
// deduplicates.
type Client struct {
	api        api
	env        string
	locationID string
	attempts   int
	sleep      func(context.Context, time.Duration) error
	logg       *logger.Logger
}

func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errors.New("square logger is required")
	}
	env := strings.ToLower(strings.TrimSpace(cfg.Environment()))
	if env == "" {
		env = sandboxEnv
	}
	baseURL, ok := baseURLs[env]
	if !ok {
		return nil, fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("square access token is required")
	}
	locationID := strings.TrimSpace(cfg.LocationID)
	if locationID == "" {
		return nil, errors.New("square location id is required")
	}

	sdk := sqclient.NewClient(sqoption.WithBaseURL(baseURL), sqoption.WithToken(token))
	logg.Info(logg.WithField(ctx, "square_env", env), "square client initialized")
	return newClient(sdkAPI(sdk), env, locationID, logg), nil
}

func newClient(a api, env, locationID string, logg *logger.Logger) *Client {
	return &Client{
		api:        a,
		env:        env,
		locationID: locationID,
		attempts:   defaultAttempts,
		sleep:      sleepCtx,
		logg:       logg,
	}
}

func sdkAPI(sdk *sqclient.Client) api {
	return api{
		createPayment: func(ctx context.Context, req *sq.CreatePaymentRequest) (*sq.Payment, error) {
			resp, err := sdk.Payments.Create(ctx, req)
			if err != nil {
				return nil, err
			}
			return resp.GetPayment(), nil
		},
		refundPayment: func(ctx context.Context, req *sq.RefundPaymentRequest) (*sq.PaymentRefund, error) {
			resp, err := sdk.Refunds.RefundPayment(ctx, req)
			if err != nil {
				return nil, err
			}
			return resp.GetRefund(), nil
		},
	}
}

// IsSandbox reports whether the client talks to the Square sandbox.
func (c *Client) IsSandbox() bool {
	return c != nil && c.env == sandboxEnv
}

// CreatePayment charges ch.SourceID and autocompletes the payment. Card
// problems come back as *DeclinedError.
func (c *Client) CreatePayment(ctx context.Context, ch Charge) (*sq.Payment, error) {
	req := &sq.CreatePaymentRequest{
		IdempotencyKey:    idempotencyKey("pay", ch.IdempotencyKey),
		SourceID:          ch.SourceID,
		LocationID:        optional(c.locationID),
		AmountMoney:       money(ch.Amount, ch.Currency),
		Autocomplete:      ptr(true),
		ReferenceID:       optional(ch.ReferenceID),
		BuyerEmailAddress: optional(ch.BuyerEmail),
		Note:              optional(ch.Note),
	}
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"square_op":    "create_payment",
		"reference_id": ch.ReferenceID,
		"amount_minor": ch.Amount,
		"currency":     string(ch.Currency),
	})

	var payment *sq.Payment
	err := c.call(logCtx, func(ctx context.Context) (err error) {
		payment, err = c.api.createPayment(ctx, req)
		return err
	})
	if err != nil {
		return nil, classify(err, "create payment")
	}
	if payment == nil {
		return nil, errors.New("square returned no payment")
	}
	c.logg.Info(c.logg.WithFields(logCtx, map[string]any{
		"payment_id": deref(payment.GetID()),
		"status":     deref(payment.GetStatus()),
	}), "square payment created")
	return payment, nil
}

// RefundPayment refunds r.Amount of a completed payment.
func (c *Client) RefundPayment(ctx context.Context, r Refund) (*sq.PaymentRefund, error) {
	req := &sq.RefundPaymentRequest{
		IdempotencyKey: idempotencyKey("refund", r.IdempotencyKey),
		PaymentID:      optional(r.PaymentID),
		AmountMoney:    money(r.Amount, r.Currency),
		Reason:         optional(r.Reason),
	}
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"square_op":    "refund_payment",
		"payment_id":   r.PaymentID,
		"amount_minor": r.Amount,
	})

	var refund *sq.PaymentRefund
	err := c.call(logCtx, func(ctx context.Context) (err error) {
		refund, err = c.api.refundPayment(ctx, req)
		return err
	})
	if err != nil {
		return nil, classify(err, "refund payment")
	}
	c.logg.Info(c.logg.WithFields(logCtx, map[string]any{
		"refund_id": RefundID(refund),
		"status":    RefundStatus(refund),
	}), "square refund created")
	return refund, nil
}

func (c *Client) call(ctx context.Context, do func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = do(ctx); err == nil || !transient(err) || attempt == c.attempts {
			break
		}
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		}), "square call failed, retrying")
		if sleepErr := c.sleep(ctx, retryBaseDelay<<(attempt-1)); sleepErr != nil {
			return errors.Join(err, sleepErr)
		}
	}
	if err != nil {
		c.logg.Error(ctx, "square call failed", err)
	}
	return err
}

// idempotencyKey keeps caller keys that fit Square's limit, hashes longer
// ones down to size and mints a key when none is given.
func idempotencyKey(prefix, key string) string {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return prefix + "-" + uuid.NewString()
	case len(key) > maxIdempotencyKeyLen:
		sum := sha256.Sum256([]byte(key))
		return hex.EncodeToString(sum[:])[:maxIdempotencyKeyLen]
	default:
		return key
	}
}

func money(amount int64, currency enums.Currency) *sq.Money {
	if amount <= 0 {
		return nil
	}
	code := sq.Currency(strings.ToUpper(strings.TrimSpace(string(currency))))
	if code == "" {
		code = sq.Currency(enums.CurrencyUSD)
	}
	return &sq.Money{Amount: ptr(amount), Currency: &code}
}

func ptr[T any](v T) *T {
	return &v
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// RefundID returns the Square refund id, or "" for a nil refund.
func RefundID(refund *sq.PaymentRefund) string {
	if refund == nil {
		return ""
	}
	return refund.GetID()
}

// RefundStatus is PENDING, COMPLETED, REJECTED or FAILED.
func RefundStatus(refund *sq.PaymentRefund) string {
	if refund == nil {
		return ""
	}
	return deref(refund.GetStatus())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
