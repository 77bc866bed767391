package payments

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/learnonline/payments-backend/pkg/db"
	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/enums"
	pkgerrors "github.com/learnonline/payments-backend/pkg/errors"
	"github.com/learnonline/payments-backend/pkg/gateway"
	"github.com/learnonline/payments-backend/pkg/outbox"
)

const refundKeyPrefix = "refund-"

// RefundInput asks for a completed payment to be refunded in full.
type RefundInput struct {
	Actor         Actor
	TransactionID string
	Reason        string
	Request       RequestMeta
}

// Refund returns a completed payment's money through the gateway and moves
// it to refunded. Only the payment owner or an admin may refund.
func (s *Service) Refund(ctx context.Context, input RefundInput) (*models.Payment, error) {
	payment, err := s.payments.FindByTransactionID(ctx, strings.TrimSpace(input.TransactionID))
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.NotFound("payment")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	isAdmin := enums.MemberRole(input.Actor.Role) == enums.MemberRoleAdmin
	if payment.UserID != input.Actor.UserID && !isAdmin {
		return nil, pkgerrors.NotFound("payment")
	}
	ctx = s.logg.WithTransactionID(ctx, payment.TransactionID)

	if payment.Status != enums.PaymentStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only completed payments can be refunded").
			WithDetails(map[string]any{"status": payment.Status})
	}
	refunder, ok := s.gateways.Primary().(gateway.Refunder)
	if !ok {
		return nil, pkgerrors.Wrap(pkgerrors.CodeRefundUnsupported, gateway.ErrRefundUnsupported, "refund unsupported")
	}
	if payment.ProcessorID() == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has no processor reference")
	}

	reason := strings.TrimSpace(input.Reason)
	result, err := refunder.RefundPayment(ctx, gateway.RefundRequest{
		ProcessorTransactionID: payment.ProcessorID(),
		Amount:                 payment.Amount,
		Currency:               payment.Currency,
		IdempotencyKey:         refundKeyPrefix + payment.TransactionID,
		Reason:                 reason,
	})
	ctx, cancel := detach(ctx)
	defer cancel()
	if err != nil {
		s.logg.Error(ctx, "gateway refund failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "refund payment")
	}
	if !result.Success {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, result.Message)
	}

	message := "Refund " + result.RefundID
	if reason != "" {
		message += ": " + reason
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		paymentsRepo := s.payments.WithTx(tx)
		current, err := paymentsRepo.FindByIDForUpdate(ctx, payment.ID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(enums.PaymentStatusRefunded) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only completed payments can be refunded").
				WithDetails(map[string]any{"status": current.Status})
		}
		previous := current.Status
		refunded := enums.PaymentStatusRefunded
		if err := paymentsRepo.AppendLog(ctx, &models.PaymentLog{
			PaymentID:      current.ID,
			EventType:      enums.PaymentLogRefundInitiated,
			PreviousStatus: &previous,
			NewStatus:      &refunded,
			Message:        message,
			IPAddress:      input.Request.ipPtr(),
			UserAgent:      input.Request.userAgentPtr(),
		}); err != nil {
			return err
		}
		if err := paymentsRepo.UpdateFields(ctx, current.ID, map[string]any{"status": refunded}); err != nil {
			return err
		}
		current.Status = refunded
		actor := &outbox.ActorRef{UserID: input.Actor.UserID, Role: input.Actor.Role}
		if err := emitStatusEvent(ctx, s.outbox, tx, current, actor, reason, s.now()); err != nil {
			return err
		}
		payment = current
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
	}

	s.logg.Info(ctx, "payment refunded")
	return payment, nil
}
