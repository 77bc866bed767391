package enums

import (
	"fmt"
	"strings"
)

// PaymentMethod is the brand or wallet a learner pays with.
type PaymentMethod string

const (
	PaymentMethodVisa       PaymentMethod = "visa"
	PaymentMethodMastercard PaymentMethod = "mastercard"
	PaymentMethodPayPal     PaymentMethod = "paypal"
	PaymentMethodMoMo       PaymentMethod = "momo"
	PaymentMethodZaloPay    PaymentMethod = "zalopay"
	PaymentMethodLocalBank  PaymentMethod = "local_bank"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodVisa,
	PaymentMethodMastercard,
	PaymentMethodPayPal,
	PaymentMethodMoMo,
	PaymentMethodZaloPay,
	PaymentMethodLocalBank,
}

var paymentMethodLabels = map[PaymentMethod]string{
	PaymentMethodVisa:       "Visa",
	PaymentMethodMastercard: "Mastercard",
	PaymentMethodPayPal:     "PayPal",
	PaymentMethodMoMo:       "MoMo",
	PaymentMethodZaloPay:    "ZaloPay",
	PaymentMethodLocalBank:  "Local Bank",
}

// String implements fmt.Stringer.
func (m PaymentMethod) String() string {
	return string(m)
}

// Label returns the display name of the method.
func (m PaymentMethod) Label() string {
	return paymentMethodLabels[m]
}

// IsValid reports whether the value is a known PaymentMethod.
func (m PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// IsCard reports whether the method is a card brand that needs card details.
func (m PaymentMethod) IsCard() bool {
	return m == PaymentMethodVisa || m == PaymentMethodMastercard
}

// ParsePaymentMethod converts raw input into a PaymentMethod (case-insensitive).
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPaymentMethods {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}

// PaymentMethods returns every supported method in display order.
func PaymentMethods() []PaymentMethod {
	out := make([]PaymentMethod, len(validPaymentMethods))
	copy(out, validPaymentMethods)
	return out
}
