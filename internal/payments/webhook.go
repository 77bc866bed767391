package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/learnonline/payments-backend/internal/courses"
	"github.com/learnonline/payments-backend/pkg/db"
	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/enums"
	"github.com/learnonline/payments-backend/pkg/gateway"
	"github.com/learnonline/payments-backend/pkg/logger"
	"github.com/learnonline/payments-backend/pkg/metrics"
)

const msgUnknownProvider = "unknown provider"

// webhook results, also used as the payments_webhooks_total result label.
const (
	webhookInvalid    = "invalid"
	webhookUnmatched  = "unmatched"
	webhookDuplicate  = "duplicate"
	webhookApplied    = "applied"
	webhookReplayed   = "replayed"
	webhookIgnored    = "ignored"
	webhookFailed     = "error"
	webhookNoProcID   = "no_processor_id"
	webhookUnresolved = "unknown_provider"
)

type replayGuard interface {
	CheckAndMark(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// WebhookInput is one inbound delivery as read off the wire.
type WebhookInput struct {
	Provider string
	Header   http.Header
	Body     []byte
	Request  RequestMeta
}

// WebhookResult is the acknowledgement returned to the sender.
type WebhookResult struct {
	Received   bool   `json:"received"`
	Message    string `json:"message,omitempty"`
	HTTPStatus int    `json:"-"`
}

type WebhookServiceParams struct {
	DB       txRunner
	Payments Repository
	Courses  courses.Repository
	Gateways *gateway.Registry
	Outbox   eventEmitter
	Guard    replayGuard
	Metrics  *metrics.PaymentsMetrics
	Logger   *logger.Logger
	Now      func() time.Time
}

// WebhookService applies processor notifications to payments.
type WebhookService struct {
	db       txRunner
	payments Repository
	courses  courses.Repository
	gateways *gateway.Registry
	outbox   eventEmitter
	guard    replayGuard
	metrics  *metrics.PaymentsMetrics
	logg     *logger.Logger
	now      func() time.Time
}

func NewWebhookService(params WebhookServiceParams) (*WebhookService, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Payments == nil {
		return nil, errors.New("payments repository is required")
	}
	if params.Courses == nil {
		return nil, errors.New("courses repository is required")
	}
	if params.Gateways == nil {
		return nil, errors.New("gateway registry is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &WebhookService{
		db:       params.DB,
		payments: params.Payments,
		courses:  params.Courses,
		gateways: params.Gateways,
		outbox:   params.Outbox,
		guard:    params.Guard,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// Handle verifies and applies one delivery. Rejected deliveries come back as
// a 400 result; the error is reserved for store or cache failures, after
// which the sender is expected to retry.
func (s *WebhookService) Handle(ctx context.Context, in WebhookInput) (WebhookResult, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	ctx = s.logg.WithField(ctx, "provider", provider)

	gw, ok := s.gateways.Lookup(provider)
	if !ok {
		s.metrics.IncWebhook(provider, webhookUnresolved)
		return rejected(msgUnknownProvider), nil
	}

	event := gw.VerifyWebhook(in.Header, in.Body)
	if !event.Valid {
		s.logg.Warn(ctx, "webhook rejected: "+event.Message)
		s.metrics.IncWebhook(provider, webhookInvalid)
		return rejected(event.Message), nil
	}
	if event.ProcessorTransactionID == "" {
		s.metrics.IncWebhook(provider, webhookNoProcID)
		return acknowledged(), nil
	}
	ctx = s.logg.WithField(ctx, "processor_transaction_id", event.ProcessorTransactionID)

	key := replayKey(provider, event.ProcessorTransactionID, string(event.Status), event.EventID)
	if s.guard != nil {
		seen, err := s.guard.CheckAndMark(ctx, key)
		if err != nil {
			s.metrics.IncWebhook(provider, webhookFailed)
			return WebhookResult{}, err
		}
		if seen {
			s.metrics.IncWebhook(provider, webhookDuplicate)
			return acknowledged(), nil
		}
	}

	result, err := s.apply(ctx, provider, event, in.Request)
	if err != nil {
		s.releaseReplayKey(ctx, key)
		s.metrics.IncWebhook(provider, webhookFailed)
		return WebhookResult{}, err
	}
	if result == webhookUnmatched {
		// The processor id may not be stored yet; a redelivery must get through.
		s.releaseReplayKey(ctx, key)
	}
	s.metrics.IncWebhook(provider, result)
	return acknowledged(), nil
}

func (s *WebhookService) releaseReplayKey(ctx context.Context, key string) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Delete(ctx, key); err != nil {
		s.logg.Error(ctx, "failed to release webhook replay key", err)
	}
}

func (s *WebhookService) apply(ctx context.Context, provider string, event gateway.WebhookEvent, meta RequestMeta) (string, error) {
	result := webhookUnmatched
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		paymentsRepo := s.payments.WithTx(tx)
		found, err := paymentsRepo.FindByProcessorID(ctx, event.ProcessorTransactionID)
		if err != nil {
			if db.IsNotFound(err) {
				return nil
			}
			return err
		}
		payment, err := paymentsRepo.FindByIDForUpdate(ctx, found.ID)
		if err != nil {
			return err
		}
		ctx := s.logg.WithTransactionID(ctx, payment.TransactionID)

		updates := map[string]any{}
		transitioned := false
		switch {
		case payment.Status == event.Status:
			result = webhookReplayed
		case payment.Status.CanTransitionTo(event.Status):
			previous := payment.Status
			next := event.Status
			if err := paymentsRepo.AppendLog(ctx, &models.PaymentLog{
				PaymentID:      payment.ID,
				EventType:      enums.PaymentLogWebhookReceived,
				PreviousStatus: &previous,
				NewStatus:      &next,
				Message:        fmt.Sprintf("Webhook from %s", provider),
				IPAddress:      meta.ipPtr(),
				UserAgent:      meta.userAgentPtr(),
			}); err != nil {
				return err
			}
			updates["status"] = next
			payment.Status = next
			transitioned = true
			result = webhookApplied
		default:
			s.logg.Warn(ctx, fmt.Sprintf("ignoring webhook transition %s -> %s", payment.Status, event.Status))
			result = webhookIgnored
			return nil
		}

		linked, err := ensureEnrollment(ctx, s.courses.WithTx(tx), payment)
		if err != nil {
			return err
		}
		if linked {
			updates["enrollment_id"] = *payment.EnrollmentID
		}
		if err := paymentsRepo.UpdateFields(ctx, payment.ID, updates); err != nil {
			return err
		}
		if transitioned {
			if err := emitStatusEvent(ctx, s.outbox, tx, payment, nil, fmt.Sprintf("Webhook from %s", provider), s.now()); err != nil {
				return err
			}
			s.logg.Info(ctx, fmt.Sprintf("payment moved to %s by webhook", payment.Status))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func acknowledged() WebhookResult {
	return WebhookResult{Received: true, HTTPStatus: http.StatusOK}
}

func rejected(message string) WebhookResult {
	return WebhookResult{Received: false, Message: message, HTTPStatus: http.StatusBadRequest}
}
