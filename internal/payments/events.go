package payments

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/enums"
	"github.com/learnonline/payments-backend/pkg/outbox"
	"github.com/learnonline/payments-backend/pkg/outbox/payloads"
)

// eventEmitter writes domain events in the caller's transaction.
type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// emitStatusEvent queues the event announcing payment's current status.
// Statuses without an event (pending) are ignored.
func emitStatusEvent(ctx context.Context, emitter eventEmitter, tx *gorm.DB, payment *models.Payment, actor *outbox.ActorRef, reason string, at time.Time) error {
	if emitter == nil {
		return nil
	}
	eventType, ok := enums.PaymentEventForStatus(payment.Status)
	if !ok {
		return nil
	}

	var data any
	switch eventType {
	case enums.EventPaymentCompleted:
		data = payloads.PaymentCompletedEvent{
			TransactionID: payment.TransactionID,
			UserID:        payment.UserID,
			CourseID:      payment.CourseID,
			EnrollmentID:  payment.EnrollmentID,
			PurchaseType:  payment.PurchaseType,
			Amount:        payment.Amount,
			Currency:      payment.Currency,
			CompletedAt:   at,
		}
	case enums.EventPaymentFailed:
		data = payloads.PaymentFailedEvent{
			TransactionID: payment.TransactionID,
			UserID:        payment.UserID,
			CourseID:      payment.CourseID,
			PurchaseType:  payment.PurchaseType,
			Reason:        reason,
		}
	case enums.EventPaymentRefunded:
		data = payloads.PaymentRefundedEvent{
			TransactionID: payment.TransactionID,
			UserID:        payment.UserID,
			CourseID:      payment.CourseID,
			PurchaseType:  payment.PurchaseType,
			Amount:        payment.Amount,
			Currency:      payment.Currency,
		}
	}

	return emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.TransactionID,
		Actor:         actor,
		Data:          data,
		OccurredAt:    at,
	})
}
