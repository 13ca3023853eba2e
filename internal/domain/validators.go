package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// NormalizeCurrency upper-cases a currency code; the provider reports lower case.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// ValidateCurrency checks if a currency code is ISO 4217.
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return ErrValidation(fmt.Sprintf("invalid currency code: %s", currency))
	}
	return nil
}

// ValidatePositiveAmount checks that an amount is positive (in cents).
func ValidatePositiveAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount(fmt.Sprintf("amount must be positive, got %d", amount))
	}
	return nil
}

// ValidatePayoutMethod accepts the provider's payout speeds.
func ValidatePayoutMethod(method PayoutMethod) error {
	switch method {
	case PayoutStandard, PayoutInstant:
		return nil
	}
	return ErrValidation(fmt.Sprintf("invalid payout method: %s", method))
}
