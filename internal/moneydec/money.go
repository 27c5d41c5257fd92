// Package moneydec implements fixed-point scale-2 money values.
//
// Floating-point is never used for amounts (spec: DESIGN NOTES §9). Values
// are stored as an integer cent count internally; the decimal.Decimal type
// from shopspring/decimal is used only at the edges (parsing/formatting)
// since it already guarantees exact base-10 arithmetic without the
// binary-rounding surprises of float64.
package moneydec

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a fixed-point amount with scale 2 (cents), matching ISO 4217
// minor-unit currencies. All comparisons and arithmetic are exact integer
// operations on Cents.
type Money struct {
	Cents int64
}

// Zero is the additive identity.
var Zero = Money{}

// FromCents builds a Money directly from an integer cent count.
func FromCents(cents int64) Money {
	return Money{Cents: cents}
}

// Parse converts a plain decimal string ("1045.00", "-3", "12.5") into Money.
// Shorter fractions are padded to two digits; a value with more than two
// significant fractional digits is rejected (spec §4.3 amount normalization
// rule). Thousands separators are not accepted.
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.Equal(d.Round(2)) {
		return Money{}, fmt.Errorf("invalid amount %q: more than two fractional digits", s)
	}
	scaled := d.Shift(2).Round(0)
	return Money{Cents: scaled.IntPart()}, nil
}

// MustParse panics on error; used only in tests and literal fixtures.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal returns the shopspring/decimal representation, scale 2.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String renders the canonical wire representation, e.g. "1045.00".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Add returns m + other.
func (m Money) Add(other Money) Money {
	return Money{Cents: m.Cents + other.Cents}
}

// Sub returns m - other.
func (m Money) Sub(other Money) Money {
	return Money{Cents: m.Cents - other.Cents}
}

// Abs returns the absolute value.
func (m Money) Abs() Money {
	if m.Cents < 0 {
		return Money{Cents: -m.Cents}
	}
	return m
}

// Cmp returns -1, 0, or 1 as m is less than, equal to, or greater than other.
func (m Money) Cmp(other Money) int {
	switch {
	case m.Cents < other.Cents:
		return -1
	case m.Cents > other.Cents:
		return 1
	default:
		return 0
	}
}

// IsNegative reports whether the amount is strictly below zero.
func (m Money) IsNegative() bool {
	return m.Cents < 0
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.Cents == 0
}

// WithinTolerance reports whether |m - other| <= toleranceCents.
func (m Money) WithinTolerance(other Money, toleranceCents int64) bool {
	return m.Sub(other).Abs().Cents <= toleranceCents
}

// RatioVariance returns |m - other| / max(m, other) as a float64, used only
// for scoring (never for persisted/compared state). Returns 0 if both are
// zero, and 1 if exactly one of them is zero (maximal variance).
func RatioVariance(a, b Money) float64 {
	aAbs, bAbs := a.Abs().Cents, b.Abs().Cents
	denom := aAbs
	if bAbs > denom {
		denom = bAbs
	}
	if denom == 0 {
		return 0
	}
	diff := a.Sub(b).Abs().Cents
	return float64(diff) / float64(denom)
}

// Value implements driver.Valuer for direct use with database/sql and pgx.
func (m Money) Value() (driver.Value, error) {
	return m.Decimal().String(), nil
}

// Scan implements sql.Scanner.
func (m *Money) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = Zero
		return nil
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	case int64:
		*m = FromCents(v)
		return nil
	default:
		return fmt.Errorf("moneydec: unsupported scan type %T", src)
	}
}

// MarshalJSON renders the canonical string form, per spec §6 ("string
// representation preferred to avoid floating-point drift").
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts either a quoted decimal string or a bare JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
