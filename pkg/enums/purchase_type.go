package enums

import (
	"fmt"
	"strings"
)

// PurchaseType distinguishes a course enrollment purchase from a certificate unlock.
type PurchaseType string

const (
	PurchaseTypeCourse      PurchaseType = "course"
	PurchaseTypeCertificate PurchaseType = "certificate"
)

var validPurchaseTypes = []PurchaseType{
	PurchaseTypeCourse,
	PurchaseTypeCertificate,
}

// String implements fmt.Stringer.
func (p PurchaseType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PurchaseType.
func (p PurchaseType) IsValid() bool {
	for _, candidate := range validPurchaseTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePurchaseType converts raw input into a PurchaseType. Empty input means course.
func ParsePurchaseType(value string) (PurchaseType, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return PurchaseTypeCourse, nil
	}
	for _, candidate := range validPurchaseTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid purchase type %q", value)
}
