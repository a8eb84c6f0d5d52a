// Package core provides the ledger domain types and money handling.
//
// Money is a decimal amount with two fractional digits. Arithmetic is
// exact; persistence layers store the value as integer minor units.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits kept on every amount.
const MoneyScale = 2

var (
	// MaxAmount is the largest amount a single transaction may carry.
	MaxAmount = MoneyFromCents(1_000_000_000_000_000)
	// MaxBalance bounds a stored account balance. Sums of bounded values
	// stay inside int64 minor units.
	MaxBalance = MoneyFromCents(100_000_000_000_000_000)
)

// Money is an exact monetary amount. The zero value is 0.00.
type Money struct {
	d decimal.Decimal
}

// NewMoney rounds d half away from zero to two fractional digits.
func NewMoney(d decimal.Decimal) Money {
	return Money{d: d.Round(MoneyScale)}
}

// MoneyFromCents builds an amount from minor units.
func MoneyFromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -MoneyScale)}
}

// ParseMoney parses a decimal string such as "12.34" or "12,34".
//
// Only the syntax is checked here; sign rules belong to the caller.
//
//	ParseMoney("12.345") -> 12.35
//	ParseMoney("12,34")  -> 12.34
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, Validation("amount", "amount is required")
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, Validation("amount", "amount must be a decimal number")
	}
	return NewMoney(d), nil
}

// MinorUnits returns the amount in minor units. ok is false when the value
// does not fit in an int64.
func (m Money) MinorUnits() (cents int64, ok bool) {
	b := m.d.Shift(MoneyScale).Round(0).BigInt()
	if !b.IsInt64() {
		return 0, false
	}
	return b.Int64(), true
}

// Cents returns the amount in minor units, or 0 when it is out of range.
// Persistence goes through MinorUnits.
func (m Money) Cents() int64 {
	c, _ := m.MinorUnits()
	return c
}

// Decimal exposes the underlying decimal value.
func (m Money) Decimal() decimal.Decimal {
	return m.d
}

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }
func (m Money) Neg() Money        { return Money{d: m.d.Neg()} }
func (m Money) Abs() Money        { return Money{d: m.d.Abs()} }

func (m Money) IsZero() bool     { return m.d.IsZero() }
func (m Money) IsPositive() bool { return m.d.IsPositive() }
func (m Money) IsNegative() bool { return m.d.IsNegative() }

// Cmp returns -1, 0 or +1 comparing m with o.
func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }

// Equal reports whether both amounts are numerically equal.
func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }

// Ratio returns m/den as a float, or 0 when den is zero.
func (m Money) Ratio(den Money) float64 {
	if den.d.IsZero() {
		return 0
	}
	return m.d.DivRound(den.d, 8).InexactFloat64()
}

// String renders the amount with exactly two fractional digits.
func (m Money) String() string {
	return m.d.StringFixed(MoneyScale)
}

// MarshalJSON writes the amount as a JSON number with two fractional digits.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted decimal strings.
func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return Validation("amount", "amount must be a decimal number")
	}
	*m = NewMoney(d)
	return nil
}

// SumMoney adds up amounts.
func SumMoney(amounts ...Money) Money {
	total := Money{}
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
