// Package payout holds the interval-gated disbursement rules and the
// scheduler that accrues and pays them.
package payout

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/treasury/pkg/finance"
)

// Rule pays Amount to Beneficiary once per elapsed Interval.
type Rule struct {
	Beneficiary  string        `json:"beneficiary"`
	Amount       finance.Money `json:"amount"`   // per interval; ceiling enforced by the caller
	Interval     time.Duration `json:"interval"` // whole seconds, > 0
	LastPayoutAt time.Time     `json:"last_payout_at"`
}

// PeriodsDue returns the number of whole intervals elapsed between the last
// payout and now. A clock behind LastPayoutAt yields zero.
func (r Rule) PeriodsDue(now time.Time) int64 {
	interval := int64(r.Interval / time.Second)
	if interval <= 0 {
		return 0
	}
	elapsed := now.Unix() - r.LastPayoutAt.Unix()
	if elapsed <= 0 {
		return 0
	}
	return elapsed / interval
}

// Repository is the durable table of rules keyed by beneficiary.
type Repository interface {
	// Get returns the rule and whether it exists.
	Get(ctx context.Context, beneficiary string) (Rule, bool, error)
	// List returns every rule ordered by beneficiary.
	List(ctx context.Context) ([]Rule, error)
	// Put inserts or replaces a rule.
	Put(ctx context.Context, r Rule) error
	// Delete removes a rule; deleting a missing rule is not an error here.
	Delete(ctx context.Context, beneficiary string) error
}
