package payments

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/enums"
)

const (
	msgPaymentExpired  = "Payment expired awaiting confirmation"
	expiredReason      = "expired"
	defaultExpiryBatch = 200
)

// ExpirePending fails payments that stayed pending since before cutoff.
// Each row is re-read under lock so a webhook that settled it first wins.
// It returns how many payments were moved to failed.
func (s *Service) ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultExpiryBatch
	}
	stale, err := s.payments.ListPendingBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending payments: %w", err)
	}

	expired := 0
	for i := range stale {
		ok, err := s.expireOne(s.logg.WithTransactionID(ctx, stale[i].TransactionID), stale[i].ID)
		if err != nil {
			return expired, fmt.Errorf("expire payment %s: %w", stale[i].TransactionID, err)
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, id int64) (bool, error) {
	expired := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		paymentsRepo := s.payments.WithTx(tx)
		current, err := paymentsRepo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != enums.PaymentStatusPending {
			return nil
		}
		previous := current.Status
		failed := enums.PaymentStatusFailed
		if err := paymentsRepo.AppendLog(ctx, &models.PaymentLog{
			PaymentID:      current.ID,
			EventType:      enums.PaymentLogStatusChange,
			PreviousStatus: &previous,
			NewStatus:      &failed,
			Message:        msgPaymentExpired,
		}); err != nil {
			return err
		}
		if err := paymentsRepo.UpdateFields(ctx, current.ID, map[string]any{"status": failed}); err != nil {
			return err
		}
		current.Status = failed
		if err := emitStatusEvent(ctx, s.outbox, tx, current, nil, expiredReason, s.now()); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err == nil && expired {
		s.logg.Info(ctx, "pending payment expired")
	}
	return expired, err
}
