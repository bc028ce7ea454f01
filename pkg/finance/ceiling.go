package finance

import (
	"github.com/Mindburn-Labs/treasury/pkg/errs"
)

// Ceiling is the maximum per-interval amount a beneficiary kind may be
// configured with. It is enforced when a rule is set, never by the scheduler.
type Ceiling struct {
	Kind  string `json:"kind"`
	Limit Money  `json:"limit"`
}

// Check rejects amounts above the ceiling or in a different unit.
func (c Ceiling) Check(amount Money) error {
	if amount.Symbol != c.Limit.Symbol || amount.Precision != c.Limit.Precision {
		return errs.Validation("finance.ceiling", "amount %s is not denominated in %s", amount, c.Limit.Symbol)
	}
	if amount.IsNegative() {
		return errs.Validation("finance.ceiling", "amount %s is negative", amount)
	}
	if c.Limit.LessThan(amount) {
		return errs.Validation("finance.ceiling", "max amount for %s is %s per interval", c.Kind, c.Limit)
	}
	return nil
}
