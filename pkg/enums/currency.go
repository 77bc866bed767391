package enums

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 code accepted for course and certificate prices.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyVND Currency = "VND"
)

// minorExponent is the ISO 4217 number of decimal places per currency.
var minorExponent = map[Currency]int32{
	CurrencyUSD: 2,
	CurrencyEUR: 2,
	CurrencyVND: 0,
}

func (c Currency) String() string {
	return string(c)
}

func (c Currency) IsValid() bool {
	_, ok := minorExponent[c]
	return ok
}

// Exponent is the number of decimal places in one major unit of c.
func (c Currency) Exponent() int32 {
	if exp, ok := minorExponent[c]; ok {
		return exp
	}
	return 2
}

// ToMinorUnits converts amount into the smallest unit of c, rounding half
// away from zero. 10.00 USD becomes 1000 and 250000 VND stays 250000.
func (c Currency) ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(c.Exponent()).Round(0).IntPart()
}

// ParseCurrency accepts any letter case and surrounding whitespace.
func ParseCurrency(value string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(value)))
	if !c.IsValid() {
		return "", fmt.Errorf("invalid currency %q", value)
	}
	return c, nil
}
