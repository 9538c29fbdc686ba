package shared

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// NewID generates a new random entity identifier.
func NewID() string {
	return uuid.NewString()
}

// IsValidUUID reports whether s is a well-formed UUID.
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// RequireID validates that an identifier is present.
func RequireID(domain, op, name, id string) error {
	if strings.TrimSpace(id) == "" {
		return NewDomainError(domain, op, ErrInvalidID, name+" is required")
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Amounts
// ═══════════════════════════════════════════════════════════════════════════

// ParseAmount parses an exact decimal amount. Malformed input is a validation
// error; it is never coerced to zero.
func ParseAmount(domain, op, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, WrapError(domain, op, ErrValidation, "malformed numeric value "+quote(raw), ErrInvalidFormat)
	}
	return v, nil
}

// RequirePositive validates that an amount is strictly positive.
func RequirePositive(domain, op string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewDomainError(domain, op, ErrValidation, "amount must be positive")
	}
	return nil
}

func quote(s string) string {
	return "\"" + s + "\""
}
