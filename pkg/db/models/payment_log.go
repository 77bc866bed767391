package models

import (
	"time"

	"github.com/learnonline/payments-backend/pkg/enums"
)

// PaymentLog is an append-only audit row for one event in a payment's lifetime.
type PaymentLog struct {
	ID             int64                     `gorm:"column:id;primaryKey;autoIncrement"`
	PaymentID      int64                     `gorm:"column:payment_id;not null;index"`
	EventType      enums.PaymentLogEventType `gorm:"column:event_type;size:30;not null"`
	PreviousStatus *enums.PaymentStatus      `gorm:"column:previous_status;size:20"`
	NewStatus      *enums.PaymentStatus      `gorm:"column:new_status;size:20"`
	Message        string                    `gorm:"column:message;not null;default:''"`
	IPAddress      *string                   `gorm:"column:ip_address"`
	UserAgent      *string                   `gorm:"column:user_agent;size:500"`
	CreatedAt      time.Time                 `gorm:"column:created_at;autoCreateTime"`
}
