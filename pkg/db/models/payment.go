package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/learnonline/payments-backend/pkg/enums"
)

// Payment is one purchase attempt for a course enrollment or certificate unlock.
// At most one pending/completed row exists per
// (user_id, course_id, purchase_type, idempotency_key); see ux_payments_active_idempotency.
type Payment struct {
	ID                     int64               `gorm:"column:id;primaryKey;autoIncrement"`
	TransactionID          string              `gorm:"column:transaction_id;size:20;not null;uniqueIndex"`
	UserID                 uuid.UUID           `gorm:"column:user_id;type:uuid;not null"`
	CourseID               *uuid.UUID          `gorm:"column:course_id;type:uuid"`
	EnrollmentID           *uuid.UUID          `gorm:"column:enrollment_id;type:uuid"`
	Amount                 decimal.Decimal     `gorm:"column:amount;type:numeric(10,2);not null"`
	Currency               enums.Currency      `gorm:"column:currency;size:3;not null;default:'USD'"`
	Status                 enums.PaymentStatus `gorm:"column:status;size:20;not null;default:'pending'"`
	PaymentMethod          enums.PaymentMethod `gorm:"column:payment_method;size:20;not null"`
	PurchaseType           enums.PurchaseType  `gorm:"column:purchase_type;size:20;not null;default:'course'"`
	ProcessorTransactionID *string             `gorm:"column:processor_transaction_id;index"`
	IdempotencyKey         string              `gorm:"column:idempotency_key;not null;index"`
	CreatedAt              time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// ProcessorID returns the gateway id or an empty string when the gateway has not answered.
func (p Payment) ProcessorID() string {
	if p.ProcessorTransactionID == nil {
		return ""
	}
	return *p.ProcessorTransactionID
}
