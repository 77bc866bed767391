package enums

import "fmt"

// PaymentLogEventType classifies an audit entry in a payment's history.
type PaymentLogEventType string

const (
	PaymentLogCreated         PaymentLogEventType = "created"
	PaymentLogStatusChange    PaymentLogEventType = "status_change"
	PaymentLogWebhookReceived PaymentLogEventType = "webhook_received"
	PaymentLogRefundInitiated PaymentLogEventType = "refund_initiated"
)

var validPaymentLogEventTypes = []PaymentLogEventType{
	PaymentLogCreated,
	PaymentLogStatusChange,
	PaymentLogWebhookReceived,
	PaymentLogRefundInitiated,
}

func (e PaymentLogEventType) String() string {
	return string(e)
}

func (e PaymentLogEventType) IsValid() bool {
	for _, candidate := range validPaymentLogEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

func ParsePaymentLogEventType(value string) (PaymentLogEventType, error) {
	for _, candidate := range validPaymentLogEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment log event type %q", value)
}
