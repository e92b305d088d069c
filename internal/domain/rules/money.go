package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const minorUnitExp = 2

var ErrInvalidAmount = errors.New("invalid amount")

// FormatMinor renders minor units as the provider's decimal string ("490.00").
func FormatMinor(minor int64) string {
	return decimal.New(minor, -minorUnitExp).StringFixed(minorUnitExp)
}

// ParseMinor converts a provider decimal string into minor units. Values
// with sub-minor precision are rejected rather than rounded.
func ParseMinor(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidAmount
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if value.IsNegative() {
		return 0, ErrInvalidAmount
	}
	shifted := value.Shift(minorUnitExp)
	if !shifted.IsInteger() {
		return 0, ErrInvalidAmount
	}
	return shifted.IntPart(), nil
}
