package payout

import (
	"context"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/treasury/pkg/errs"
	"github.com/Mindburn-Labs/treasury/pkg/finance"
	"github.com/Mindburn-Labs/treasury/pkg/settlement"
)

const (
	DefaultTransferMemo = "TEDP Funding"
	DefaultResidualMemo = "TEDP Funding: unallocated resource funds"
)

// Allocator spends funds owed to the resource-funding beneficiary and
// returns what it could not place.
type Allocator interface {
	Allocate(ctx context.Context, now time.Time, available finance.Money) (finance.Money, error)
}

// Config names the accounts a run pays between.
type Config struct {
	Treasury            string // paying account
	ResourceBeneficiary string // payouts to this account are routed to the Allocator
	TransferMemo        string
	ResidualMemo        string
}

// Disbursement records what one rule produced in a run.
type Disbursement struct {
	Beneficiary string        `json:"beneficiary"`
	Periods     int64         `json:"periods"`
	Due         finance.Money `json:"due"`
	// Allocated and Residual are set only for the resource beneficiary.
	Allocated finance.Money `json:"allocated"`
	Residual  finance.Money `json:"residual"`
	Resource  bool          `json:"resource"`
}

// Scheduler accrues elapsed intervals for every rule and pays them out.
// It reads and writes only the repository it is given, so a caller runs it
// inside one unit of work.
type Scheduler struct {
	rules  Repository
	alloc  Allocator
	sink   settlement.Sink
	cfg    Config
	logger *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewScheduler(rules Repository, alloc Allocator, sink settlement.Sink, cfg Config, opts ...SchedulerOption) *Scheduler {
	if cfg.TransferMemo == "" {
		cfg.TransferMemo = DefaultTransferMemo
	}
	if cfg.ResidualMemo == "" {
		cfg.ResidualMemo = DefaultResidualMemo
	}
	s := &Scheduler{
		rules:  rules,
		alloc:  alloc,
		sink:   sink,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "payout.scheduler")
	return s
}

// Run pays every rule with at least one whole interval elapsed at now.
//
// A paid rule's LastPayoutAt is reset to now, discarding any partial
// interval. If no rule is due the run fails with a precondition error and
// nothing has been written.
func (s *Scheduler) Run(ctx context.Context, now time.Time) ([]Disbursement, error) {
	rules, err := s.rules.List(ctx)
	if err != nil {
		return nil, err
	}

	var paid []Disbursement
	for _, r := range rules {
		periods := r.PeriodsDue(now)
		if periods == 0 {
			continue
		}

		d, err := s.pay(ctx, r, periods, now)
		if err != nil {
			return nil, err
		}
		paid = append(paid, d)
	}

	if len(paid) == 0 {
		return nil, errs.Precondition("payout.run", "no payouts are due")
	}
	return paid, nil
}

func (s *Scheduler) pay(ctx context.Context, r Rule, periods int64, now time.Time) (Disbursement, error) {
	due, err := r.Amount.MulInt(periods)
	if err != nil {
		return Disbursement{}, err
	}

	r.LastPayoutAt = now
	if err := s.rules.Put(ctx, r); err != nil {
		return Disbursement{}, err
	}

	d := Disbursement{Beneficiary: r.Beneficiary, Periods: periods, Due: due}

	if r.Beneficiary == s.cfg.ResourceBeneficiary && s.alloc != nil {
		residual, err := s.alloc.Allocate(ctx, now, due)
		if err != nil {
			return Disbursement{}, err
		}
		allocated, err := due.Sub(residual)
		if err != nil {
			return Disbursement{}, err
		}
		d.Resource = true
		d.Allocated = allocated
		d.Residual = residual

		if residual.IsPositive() {
			ev := settlement.Transfer(s.cfg.Treasury, r.Beneficiary, residual, s.cfg.ResidualMemo)
			if err := s.sink.Emit(ctx, ev); err != nil {
				return Disbursement{}, err
			}
		}
		s.logger.InfoContext(ctx, "resource payout",
			"beneficiary", r.Beneficiary, "periods", periods,
			"due", due.String(), "allocated", allocated.String(), "residual", residual.String())
		return d, nil
	}

	if due.IsPositive() {
		ev := settlement.Transfer(s.cfg.Treasury, r.Beneficiary, due, s.cfg.TransferMemo)
		if err := s.sink.Emit(ctx, ev); err != nil {
			return Disbursement{}, err
		}
	}
	s.logger.InfoContext(ctx, "payout", "beneficiary", r.Beneficiary, "periods", periods, "due", due.String())
	return d, nil
}
