package certificates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/enums"
	"github.com/learnonline/payments-backend/pkg/logger"
	"github.com/learnonline/payments-backend/pkg/outbox"
	"github.com/learnonline/payments-backend/pkg/outbox/idempotency"
	"github.com/learnonline/payments-backend/pkg/outbox/payloads"
)

const consumerName = "certificate-issuer"

type eventTracker interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (idempotency.State, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

var errEventInFlight = errors.New("event is being handled by another worker")

type certificateIssuer interface {
	Issue(ctx context.Context, event payloads.PaymentCompletedEvent) (*models.Certificate, bool, error)
}

// Consumer reads payment events off the broker and issues certificates for
// completed certificate purchases.
type Consumer struct {
	subscriber outbox.Subscriber
	issuer     certificateIssuer
	tracker    eventTracker
	logg       *logger.Logger
}

func NewConsumer(subscriber outbox.Subscriber, issuer certificateIssuer, tracker eventTracker, logg *logger.Logger) (*Consumer, error) {
	if subscriber == nil {
		return nil, errors.New("subscriber is required")
	}
	if issuer == nil {
		return nil, errors.New("certificate issuer is required")
	}
	if tracker == nil {
		return nil, errors.New("event tracker is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{subscriber: subscriber, issuer: issuer, tracker: tracker, logg: logg}, nil
}

// Run consumes until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscriber.Receive(ctx, c.Handle)
}

// Handle processes one delivery. Malformed or unrelated deliveries are
// acknowledged; a returned error asks the broker to redeliver.
func (c *Consumer) Handle(ctx context.Context, delivery outbox.Delivery) error {
	fields := map[string]any{
		"message_id":   delivery.ID,
		"event_type":   delivery.Attributes["event_type"],
		"aggregate_id": delivery.Attributes["aggregate_id"],
	}
	logCtx := c.logg.WithFields(ctx, fields)

	if enums.OutboxEventType(strings.TrimSpace(delivery.Attributes["event_type"])) != enums.EventPaymentCompleted {
		return nil
	}

	envelope, err := outbox.DecodeEnvelope(delivery.Data)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "invalid payload envelope")
		return nil
	}
	rawID := strings.TrimSpace(envelope.EventID)
	if rawID == "" {
		rawID = strings.TrimSpace(delivery.Attributes["event_id"])
	}
	eventID, err := uuid.Parse(rawID)
	if err != nil {
		c.logg.Warn(logCtx, "invalid event id")
		return nil
	}
	logCtx = c.logg.WithField(logCtx, "event_id", eventID.String())

	var event payloads.PaymentCompletedEvent
	if err := json.Unmarshal(envelope.Data, &event); err != nil {
		c.logg.Warn(logCtx, "invalid payment_completed payload")
		return nil
	}
	if event.PurchaseType != enums.PurchaseTypeCertificate {
		return nil
	}

	state, err := c.tracker.Claim(logCtx, consumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "event claim failed", err)
		return fmt.Errorf("claim event: %w", err)
	}
	switch state {
	case idempotency.Done:
		c.logg.Info(logCtx, "event already processed")
		return nil
	case idempotency.InFlight:
		return errEventInFlight
	}

	_, _, err = c.issuer.Issue(logCtx, event)
	switch {
	case errors.Is(err, ErrNotEnrolled):
		c.logg.Warn(logCtx, "certificate purchase has no enrollment")
	case err != nil:
		c.logg.Error(logCtx, "certificate issue failed", err)
		if relErr := c.tracker.Release(logCtx, consumerName, eventID); relErr != nil {
			c.logg.Error(logCtx, "event release failed", relErr)
		}
		return err
	}
	if err := c.tracker.Complete(logCtx, consumerName, eventID); err != nil {
		c.logg.Error(logCtx, "event completion not recorded", err)
	}
	return nil
}
