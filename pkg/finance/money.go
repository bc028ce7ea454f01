package finance

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Mindburn-Labs/treasury/pkg/errs"
)

// Money is a fixed-point amount of a single token.
// It uses integer math (minor units) so conserved totals never drift.
type Money struct {
	Amount    int64  `json:"amount"`    // minor units
	Symbol    string `json:"symbol"`    // e.g. "TLOS"
	Precision int    `json:"precision"` // decimal places, e.g. 4
}

// New creates a Money of the given minor-unit amount.
func New(amount int64, symbol string, precision int) Money {
	return Money{Amount: amount, Symbol: symbol, Precision: precision}
}

// Zero returns a zero amount with m's symbol and precision.
func (m Money) Zero() Money {
	return Money{Symbol: m.Symbol, Precision: m.Precision}
}

// WithAmount returns an amount with m's symbol and precision.
func (m Money) WithAmount(amount int64) Money {
	return Money{Amount: amount, Symbol: m.Symbol, Precision: m.Precision}
}

func (m Money) compatible(op string, other Money) error {
	if m.Symbol != other.Symbol {
		return errs.Arithmetic(op, "symbol mismatch: %s vs %s", m.Symbol, other.Symbol)
	}
	if m.Precision != other.Precision {
		return errs.Arithmetic(op, "precision mismatch: %d vs %d", m.Precision, other.Precision)
	}
	return nil
}

// Add returns m + other. Overflow is an arithmetic error.
func (m Money) Add(other Money) (Money, error) {
	if err := m.compatible("finance.add", other); err != nil {
		return Money{}, err
	}
	sum := m.Amount + other.Amount
	if (other.Amount > 0 && sum < m.Amount) || (other.Amount < 0 && sum > m.Amount) {
		return Money{}, errs.Arithmetic("finance.add", "overflow adding %d to %d", other.Amount, m.Amount)
	}
	return m.WithAmount(sum), nil
}

// Sub returns m - other. A negative result is an arithmetic error: balances
// in this system never go below zero.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.compatible("finance.sub", other); err != nil {
		return Money{}, err
	}
	if other.Amount > m.Amount {
		return Money{}, errs.Arithmetic("finance.sub", "negative balance: %d - %d", m.Amount, other.Amount)
	}
	return m.WithAmount(m.Amount - other.Amount), nil
}

// MulInt returns m * n for non-negative m and n.
func (m Money) MulInt(n int64) (Money, error) {
	if m.Amount < 0 || n < 0 {
		return Money{}, errs.Arithmetic("finance.mul", "negative operand: %d * %d", m.Amount, n)
	}
	if n != 0 && m.Amount > math.MaxInt64/n {
		return Money{}, errs.Arithmetic("finance.mul", "overflow multiplying %d by %d", m.Amount, n)
	}
	return m.WithAmount(m.Amount * n), nil
}

// Half returns floor(m / 2).
func (m Money) Half() Money {
	return m.WithAmount(m.Amount / 2)
}

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if b.Amount < a.Amount {
		return b
	}
	return a
}

// LessThan reports m < other.
func (m Money) LessThan(other Money) bool { return m.Amount < other.Amount }

// LessOrEqual reports m <= other.
func (m Money) LessOrEqual(other Money) bool { return m.Amount <= other.Amount }

// IsZero returns true if the amount is 0.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// IsPositive returns true if the amount is > 0.
func (m Money) IsPositive() bool {
	return m.Amount > 0
}

// IsNegative returns true if the amount is < 0.
func (m Money) IsNegative() bool {
	return m.Amount < 0
}

// Decimal returns m as a decimal in whole-token units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, int32(-m.Precision))
}

// String formats m as "12.3456 TLOS".
func (m Money) String() string {
	s := m.Decimal().StringFixed(int32(m.Precision))
	if m.Symbol == "" {
		return s
	}
	return s + " " + m.Symbol
}

// Parse reads a whole-token decimal ("12.3456" or "12.3456 TLOS") into
// minor units. More fractional digits than precision allows is a validation
// error rather than a silent truncation.
func Parse(s, symbol string, precision int) (Money, error) {
	fields := strings.Fields(s)
	switch len(fields) {
	case 1:
	case 2:
		if fields[1] != symbol {
			return Money{}, errs.Validation("finance.parse", "symbol %q does not match %q", fields[1], symbol)
		}
	default:
		return Money{}, errs.Validation("finance.parse", "malformed amount %q", s)
	}

	d, err := decimal.NewFromString(fields[0])
	if err != nil {
		return Money{}, errs.Wrap(errs.KindValidation, "finance.parse", fmt.Errorf("malformed amount %q: %w", s, err))
	}
	if d.IsNegative() {
		return Money{}, errs.Validation("finance.parse", "negative amount %q", s)
	}

	scaled := d.Shift(int32(precision))
	if !scaled.Equal(scaled.Truncate(0)) {
		return Money{}, errs.Validation("finance.parse", "amount %q has more than %d decimal places", s, precision)
	}
	if scaled.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return Money{}, errs.Validation("finance.parse", "amount %q out of range", s)
	}
	return New(scaled.IntPart(), symbol, precision), nil
}

// WholeTokens converts an integer number of whole tokens to minor units.
func WholeTokens(tokens int64, symbol string, precision int) (Money, error) {
	unit := int64(1)
	for i := 0; i < precision; i++ {
		unit *= 10
	}
	return New(unit, symbol, precision).MulInt(tokens)
}
