package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/learnonline/payments-backend/pkg/enums"
)

// PaymentCompletedEvent is emitted when a payment reaches completed, either
// synchronously from the gateway or later through a webhook.
type PaymentCompletedEvent struct {
	TransactionID string             `json:"transaction_id"`
	UserID        uuid.UUID          `json:"user_id"`
	CourseID      *uuid.UUID         `json:"course_id,omitempty"`
	EnrollmentID  *uuid.UUID         `json:"enrollment_id,omitempty"`
	PurchaseType  enums.PurchaseType `json:"purchase_type"`
	Amount        decimal.Decimal    `json:"amount"`
	Currency      enums.Currency     `json:"currency"`
	CompletedAt   time.Time          `json:"completed_at"`
}

// PaymentFailedEvent is emitted when the gateway refuses or errors.
type PaymentFailedEvent struct {
	TransactionID string             `json:"transaction_id"`
	UserID        uuid.UUID          `json:"user_id"`
	CourseID      *uuid.UUID         `json:"course_id,omitempty"`
	PurchaseType  enums.PurchaseType `json:"purchase_type"`
	Reason        string             `json:"reason,omitempty"`
}

// PaymentRefundedEvent is emitted once a completed payment is refunded.
type PaymentRefundedEvent struct {
	TransactionID string             `json:"transaction_id"`
	UserID        uuid.UUID          `json:"user_id"`
	CourseID      *uuid.UUID         `json:"course_id,omitempty"`
	PurchaseType  enums.PurchaseType `json:"purchase_type"`
	Amount        decimal.Decimal    `json:"amount"`
	Currency      enums.Currency     `json:"currency"`
}

// CertificateIssuedEvent is emitted by the certificate worker.
type CertificateIssuedEvent struct {
	CertificateID     uuid.UUID `json:"certificate_id"`
	CertificateNumber string    `json:"certificate_number"`
	UserID            uuid.UUID `json:"user_id"`
	CourseID          uuid.UUID `json:"course_id"`
	TransactionID     string    `json:"transaction_id"`
}
