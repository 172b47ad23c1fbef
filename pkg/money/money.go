// Package money represents monetary values in integer minor units to avoid
// floating point errors anywhere near a balance.
package money

import (
	"fmt"
)

// Money represents a monetary value in a specific currency.
type Money struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"` // ISO 4217 code
	Scale       int    `json:"scale"`    // e.g. 2 for EGP/USD/EUR, 8 for BTC
}

// New creates a new Money instance with the default scale for the currency.
func New(amountMinor int64, currency string) Money {
	scale := 2
	if currency == "BTC" || currency == "ETH" {
		scale = 8
	}
	return Money{
		AmountMinor: amountMinor,
		Currency:    currency,
		Scale:       scale,
	}
}

// Add adds two Money amounts. Returns error on currency or scale mismatch.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	if m.Scale != other.Scale {
		return Money{}, fmt.Errorf("scale mismatch: %d vs %d", m.Scale, other.Scale)
	}
	return Money{
		AmountMinor: m.AmountMinor + other.AmountMinor,
		Currency:    m.Currency,
		Scale:       m.Scale,
	}, nil
}

// Sub subtracts other Money from m. Returns error on currency mismatch.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{
		AmountMinor: m.AmountMinor - other.AmountMinor,
		Currency:    m.Currency,
		Scale:       m.Scale,
	}, nil
}

// IsZero returns true if the amount is 0.
func (m Money) IsZero() bool {
	return m.AmountMinor == 0
}

// IsPositive returns true if the amount is > 0.
func (m Money) IsPositive() bool {
	return m.AmountMinor > 0
}

// IsNegative returns true if the amount is < 0.
func (m Money) IsNegative() bool {
	return m.AmountMinor < 0
}

// String formats the amount with its scale, e.g. "100.00 EGP".
func (m Money) String() string {
	divisor := int64(1)
	for i := 0; i < m.Scale; i++ {
		divisor *= 10
	}
	whole := m.AmountMinor / divisor
	frac := m.AmountMinor % divisor
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%0*d %s", whole, m.Scale, frac, m.Currency)
}
