package payments

import (
	"strings"

	"github.com/learnonline/payments-backend/pkg/cards"
	"github.com/learnonline/payments-backend/pkg/enums"
)

type fieldErrors map[string][]string

func (f fieldErrors) add(field, message string) {
	f[field] = append(f[field], message)
}

// validateForm collects every missing or malformed field at once. email is
// the resolved address (form value or the account email).
func validateForm(form PaymentForm, email string) (enums.PaymentMethod, fieldErrors) {
	errs := fieldErrors{}

	raw := form.Method()
	if raw == "" {
		errs.add("payment_method", msgSelectPaymentMethod)
		return "", errs
	}
	method, err := enums.ParsePaymentMethod(raw)
	if err != nil {
		errs.add("payment_method", msgInvalidMethod)
		return "", errs
	}

	if method.IsCard() {
		requireField(errs, "card_number", form.CardNumber, msgFieldRequired)
		if len(strings.TrimSpace(form.CardholderName)) < 2 {
			errs.add("cardholder_name", msgCardholderName)
		}
		requireField(errs, "expiry_date", form.ExpiryDate, msgFieldRequired)
		requireField(errs, "cvv", form.CVV, msgFieldRequired)
		requireField(errs, "billing_address", form.BillingAddress, msgBillingAddress)
		requireField(errs, "zip_code", form.ZipCode, msgZipCode)
		requireField(errs, "email", email, msgEmailRequired)
	}
	return method, errs
}

func requireField(errs fieldErrors, field, value, message string) {
	if strings.TrimSpace(value) == "" {
		errs.add(field, message)
	}
}

// validateCard runs the offline card checks for card brands only.
func validateCard(method enums.PaymentMethod, number string) fieldErrors {
	if !method.IsCard() {
		return nil
	}
	if ok, reason := cards.Validate(number, method); !ok {
		return fieldErrors{"card_number": {reason}}
	}
	return nil
}
