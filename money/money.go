// Package money provides the fixed-point decimal value used for every cost,
// ratio and share in the system. Values never pass through float64.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits of the currency's minor unit.
const Scale int32 = 2

// Money is an immutable fixed-point decimal.
type Money struct {
	d decimal.Decimal
}

var (
	Zero = Money{d: decimal.Zero}
	One  = Money{d: decimal.NewFromInt(1)}
	// MinorUnit is the smallest representable currency step (0.01).
	MinorUnit = Money{d: decimal.New(1, -Scale)}
)

func New(value int64, exp int32) Money {
	return Money{d: decimal.New(value, exp)}
}

func FromInt(v int64) Money {
	return Money{d: decimal.NewFromInt(v)}
}

// FromMinorUnits builds a value from an integer count of minor units (cents).
func FromMinorUnits(units int64) Money {
	return Money{d: decimal.New(units, -Scale)}
}

func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parsing money %q: %w", s, err)
	}
	return Money{d: d}, nil
}

// MustParse is intended for constants and tests.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }
func (m Money) Mul(o Money) Money { return Money{d: m.d.Mul(o.d)} }
func (m Money) Neg() Money { return Money{d: m.d.Neg()} }

// DivRound divides and rounds half-up (away from zero) to Scale digits.
// The divisor must not be zero.
func (m Money) DivRound(o Money) Money {
	q, r := m.d.QuoRem(o.d, Scale)
	if r.IsZero() {
		return Money{d: q}
	}
	// |r| < |o| * 10^-Scale; round away from zero when the dropped part is at least half a step.
	if r.Abs().Shift(Scale).Mul(decimal.NewFromInt(2)).Cmp(o.d.Abs()) >= 0 {
		step := decimal.New(1, -Scale)
		if m.d.Sign()*o.d.Sign() < 0 {
			step = step.Neg()
		}
		q = q.Add(step)
	}
	return Money{d: q}
}

// Round rounds half-up (away from zero) to Scale digits.
func (m Money) Round() Money { return Money{d: m.d.Round(Scale)} }

func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }
func (m Money) LessThan(o Money) bool { return m.d.LessThan(o.d) }
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }
func (m Money) IsZero() bool { return m.d.IsZero() }
func (m Money) IsNegative() bool { return m.d.IsNegative() }
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// Max returns the larger of m and o.
func Max(m, o Money) Money {
	if m.Cmp(o) >= 0 {
		return m
	}
	return o
}

// Sum adds values exactly.
func Sum(values ...Money) Money {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v.d)
	}
	return Money{d: total}
}

// MinorUnits returns the value as an integer number of minor units. The value
// is rounded to Scale first.
func (m Money) MinorUnits() int64 {
	return m.d.Round(Scale).Shift(Scale).IntPart()
}

// String always renders Scale fractional digits, e.g. "83.30".
func (m Money) String() string { return m.d.StringFixed(Scale) }

func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("decoding money: %w", err)
	}
	m.d = d
	return nil
}

// Scan implements sql.Scanner for NUMERIC columns.
func (m *Money) Scan(value interface{}) error {
	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return fmt.Errorf("scanning money: %w", err)
	}
	m.d = d
	return nil
}

// Value implements driver.Valuer.
func (m Money) Value() (driver.Value, error) {
	return m.d.StringFixed(Scale), nil
}
