// Package rexbuy keeps the queue of recurring resource-purchase obligations
// and the allocator that funds them from resource payouts.
//
// An obligation asks for network and compute capacity for a receiver once
// per interval. Funding may arrive across several payout runs; an obligation
// that has been partly funded is "in progress" and is served before any new
// cycle is started.
package rexbuy

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/treasury/pkg/errs"
	"github.com/Mindburn-Labs/treasury/pkg/finance"
)

// Obligation is one receiver's recurring purchase.
type Obligation struct {
	Receiver   string        `json:"receiver"`
	InProgress bool          `json:"in_progress"`
	Interval   time.Duration `json:"interval"`
	BuyTime    time.Time     `json:"buy_time"` // start of the current cycle
	TargetNet  finance.Money `json:"target_net"`
	TargetCPU  finance.Money `json:"target_cpu"`
	NetLeft    finance.Money `json:"net_left"` // unfunded part of the current cycle
	CPULeft    finance.Money `json:"cpu_left"`
}

// Due returns the unfunded total of the current cycle.
func (o Obligation) Due() (finance.Money, error) {
	return o.NetLeft.Add(o.CPULeft)
}

// Funded reports whether the current cycle has nothing left to pay.
func (o Obligation) Funded() bool {
	return o.NetLeft.IsZero() && o.CPULeft.IsZero()
}

// IsDue reports whether the current cycle has started at now.
func (o Obligation) IsDue(now time.Time) bool {
	return !o.BuyTime.After(now)
}

// Validate checks the balance invariants: 0 <= left <= target per side.
func (o Obligation) Validate() error {
	if o.NetLeft.IsNegative() || o.CPULeft.IsNegative() {
		return errs.Arithmetic("rexbuy.validate", "negative balance for %s", o.Receiver)
	}
	if o.TargetNet.LessThan(o.NetLeft) || o.TargetCPU.LessThan(o.CPULeft) {
		return errs.Arithmetic("rexbuy.validate", "balance above target for %s", o.Receiver)
	}
	return nil
}

// Repository is the durable table of obligations keyed by receiver with a
// non-unique ascending index on BuyTime.
type Repository interface {
	Get(ctx context.Context, receiver string) (Obligation, bool, error)
	// ListByBuyTime returns every obligation ascending by BuyTime. Equal
	// buy times are ordered by receiver.
	ListByBuyTime(ctx context.Context) ([]Obligation, error)
	Put(ctx context.Context, o Obligation) error
	Delete(ctx context.Context, receiver string) error
}
