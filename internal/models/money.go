package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an exact decimal amount in the configured currency.
type Money = decimal.Decimal

// DefaultCurrency is used when no CURRENCY is configured
const DefaultCurrency = "AUD"

// Zero returns a zero amount
func Zero() Money {
	return decimal.Zero
}

// FromCents builds an amount from minor units
func FromCents(cents int64) Money {
	return decimal.New(cents, -2)
}

// ToCents converts an amount to minor units. Amounts with more than two
// decimal places are rejected rather than rounded.
func ToCents(m Money) (int64, error) {
	cents := m.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount %s has sub-cent precision", ErrInvalidInput, m.String())
	}
	return cents.IntPart(), nil
}

// Times multiplies an amount by a count
func Times(m Money, n int) Money {
	return m.Mul(decimal.NewFromInt(int64(n)))
}

// ParseMoney parses a decimal string such as "85.00"
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid amount %q", ErrInvalidInput, s)
	}
	return d, nil
}

// FormatMoney renders an amount with two decimal places
func FormatMoney(m Money) string {
	return m.StringFixed(2)
}

// SameAmount reports exact decimal equality; 85 and 85.00 are equal, 85.00 and 84.99 are not.
func SameAmount(a, b Money) bool {
	return a.Equal(b)
}
