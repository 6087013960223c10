// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posdata

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an exact decimal amount that serializes as a bare JSON number,
// which is what the remote numeric columns expect.
type Money struct {
	decimal.Decimal
}

// NewMoney builds a Money from a float literal.
func NewMoney(v float64) Money { return Money{decimal.NewFromFloat(v)} }

// MoneyFromInt builds a Money from an integer amount.
func MoneyFromInt(v int64) Money { return Money{decimal.NewFromInt(v)} }

// ParseMoney parses a decimal string such as "12.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Money{d}, nil
}

func (m Money) Add(o Money) Money { return Money{m.Decimal.Add(o.Decimal)} }

func (m Money) Sub(o Money) Money { return Money{m.Decimal.Sub(o.Decimal)} }

func (m Money) Neg() Money { return Money{m.Decimal.Neg()} }

func (m Money) MulInt(n int64) Money { return Money{m.Decimal.Mul(decimal.NewFromInt(n))} }

func (m Money) Equal(o Money) bool { return m.Decimal.Equal(o.Decimal) }

func (m Money) LessOrEqualZero() bool { return m.Decimal.LessThanOrEqual(decimal.Zero) }

func (m Money) LessThan(o Money) bool { return m.Decimal.LessThan(o.Decimal) }

// Percent returns rate percent of m rounded to cents.
func (m Money) Percent(rate Money) Money {
	return Money{m.Decimal.Mul(rate.Decimal).Div(decimal.NewFromInt(100)).Round(2)}
}

func (m Money) String() string { return m.Decimal.String() }

// Float returns the amount as a float64 for display purposes.
func (m Money) Float() float64 {
	f, _ := m.Decimal.Float64()
	return f
}

// MarshalJSON writes the amount as a JSON number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal.String()), nil
}

// UnmarshalJSON accepts a JSON number, a quoted decimal string or null.
func (m *Money) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		m.Decimal = decimal.Zero
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			m.Decimal = decimal.Zero
			return nil
		}
		b = []byte(s)
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return fmt.Errorf("invalid amount %s: %w", b, err)
	}
	m.Decimal = d
	return nil
}
