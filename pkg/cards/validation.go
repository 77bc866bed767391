// Package cards validates card numbers offline: length, brand BIN prefix and
// the Luhn checksum. It never contacts a network and keeps no state.
package cards

import (
	"strconv"
	"strings"

	"github.com/learnonline/payments-backend/pkg/enums"
)

const (
	MinDigits = 13
	MaxDigits = 19
)

const (
	MsgLength          = "Card number must be 13-19 digits."
	MsgVisaPrefix      = "Visa cards must start with 4."
	MsgMastercardRange = "Invalid Mastercard number."
	MsgChecksum        = "Invalid card number (checksum failed)."
)

// binRule reports whether digits carry a prefix valid for a brand, and the
// message to surface when they do not.
type binRule struct {
	match   func(digits string) bool
	message string
}

var binRules = map[enums.PaymentMethod]binRule{
	enums.PaymentMethodVisa: {
		match:   func(d string) bool { return strings.HasPrefix(d, "4") },
		message: MsgVisaPrefix,
	},
	enums.PaymentMethodMastercard: {
		match:   isMastercardPrefix,
		message: MsgMastercardRange,
	},
}

// Validate checks a card number for the given method. It returns (true, "")
// when the number is acceptable, otherwise false and a human-readable reason.
// Methods without a BIN rule (wallets, bank transfer) only get the length and
// checksum checks.
func Validate(cardNumber string, method enums.PaymentMethod) (bool, string) {
	digits := Digits(cardNumber)
	if len(digits) < MinDigits || len(digits) > MaxDigits {
		return false, MsgLength
	}

	if rule, ok := binRules[method]; ok && !rule.match(digits) {
		return false, rule.message
	}

	if !Luhn(digits) {
		return false, MsgChecksum
	}
	return true, ""
}

// Digits strips every non-digit character (spaces, dashes) from s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Luhn reports whether an all-digit string satisfies the Luhn checksum.
// Positions are counted from the right starting at 0; odd positions are doubled.
func Luhn(digits string) bool {
	if digits == "" {
		return false
	}
	sum := 0
	for i := 0; i < len(digits); i++ {
		c := digits[len(digits)-1-i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if i%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}

// CheckDigit returns the digit that makes partial+digit pass Luhn.
func CheckDigit(partial string) int {
	for d := 0; d <= 9; d++ {
		if Luhn(partial + strconv.Itoa(d)) {
			return d
		}
	}
	return 0
}

// Mask keeps the last four digits and replaces the rest, for logs and receipts.
func Mask(cardNumber string) string {
	digits := Digits(cardNumber)
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

func isMastercardPrefix(digits string) bool {
	if len(digits) >= 2 {
		if p, err := strconv.Atoi(digits[:2]); err == nil && p >= 51 && p <= 55 {
			return true
		}
	}
	if len(digits) >= 4 {
		if p, err := strconv.Atoi(digits[:4]); err == nil && p >= 2221 && p <= 2720 {
			return true
		}
	}
	return false
}
