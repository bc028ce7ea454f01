package rexbuy

import (
	"context"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/treasury/pkg/errs"
	"github.com/Mindburn-Labs/treasury/pkg/finance"
	"github.com/Mindburn-Labs/treasury/pkg/settlement"
)

// FillType distinguishes a completed cycle from an incremental payment.
type FillType string

const (
	FillFull    FillType = "full"
	FillPartial FillType = "partial"
)

// Fill describes one obligation funded by an Allocate call.
type Fill struct {
	Receiver string        `json:"receiver"`
	Type     FillType      `json:"type"`
	Pass     string        `json:"pass"`
	Net      finance.Money `json:"net"` // funds assigned to network capacity
	CPU      finance.Money `json:"cpu"` // funds assigned to compute capacity
}

// pass is one ordered walk of the buy-time index.
type pass struct {
	name string
	// visits selects the obligations this pass may fund.
	visits func(Obligation) bool
	// partialInProgress is the InProgress value left after a partial fill.
	partialInProgress bool
	// startsCycle reloads a funded obligation's balances from its targets
	// before funding it.
	startsCycle bool
}

var (
	continuePass = pass{
		name:              "continue",
		visits:            func(o Obligation) bool { return o.InProgress },
		partialInProgress: true,
	}
	startPass = pass{
		name:              "start",
		visits:            func(o Obligation) bool { return !o.InProgress },
		partialInProgress: true,
		startsCycle:       true,
	}
)

// Allocator funds due obligations from resource payouts.
//
// Allocate walks the buy-time index twice: first finishing cycles already in
// progress, then starting new ones. Within a pass obligations are funded
// greedily in ascending BuyTime order until the funds run out.
type Allocator struct {
	repo   Repository
	sink   settlement.Sink
	payer  string
	onFill func(Fill)
	logger *slog.Logger
}

// AllocatorOption configures an Allocator.
type AllocatorOption func(*Allocator)

// WithFillHook registers a callback invoked for every fill.
func WithFillHook(fn func(Fill)) AllocatorOption {
	return func(a *Allocator) { a.onFill = fn }
}

// WithLogger sets the allocator logger.
func WithLogger(l *slog.Logger) AllocatorOption {
	return func(a *Allocator) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAllocator creates an allocator that pays on behalf of payer.
func NewAllocator(repo Repository, sink settlement.Sink, payer string, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		repo:   repo,
		sink:   sink,
		payer:  payer,
		onFill: func(Fill) {},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "rexbuy.allocator")
	return a
}

// Allocate spends up to available on due obligations and returns the unspent
// remainder. Obligations whose BuyTime is after now are never read for
// funding nor written. The only errors are storage failures and broken
// invariants; running out of funds is not an error.
func (a *Allocator) Allocate(ctx context.Context, now time.Time, available finance.Money) (finance.Money, error) {
	if available.IsNegative() {
		return finance.Money{}, errs.Arithmetic("rexbuy.allocate", "negative funds %s", available)
	}

	remaining := available
	for _, p := range []pass{continuePass, startPass} {
		var err error
		remaining, err = a.runPass(ctx, p, now, remaining)
		if err != nil {
			return finance.Money{}, err
		}
	}
	return remaining, nil
}

func (a *Allocator) runPass(ctx context.Context, p pass, now time.Time, available finance.Money) (finance.Money, error) {
	if !available.IsPositive() {
		return available, nil
	}

	obligations, err := a.repo.ListByBuyTime(ctx)
	if err != nil {
		return finance.Money{}, err
	}

	for _, o := range obligations {
		if !available.IsPositive() {
			break
		}
		if !p.visits(o) || !o.IsDue(now) {
			continue
		}

		if p.startsCycle && o.Funded() {
			o.NetLeft = o.TargetNet
			o.CPULeft = o.TargetCPU
		}

		due, err := o.Due()
		if err != nil {
			return finance.Money{}, err
		}

		if due.LessOrEqual(available) {
			available, err = a.fillFull(ctx, p, o, due, available)
		} else {
			available, err = a.fillPartial(ctx, p, o, available)
		}
		if err != nil {
			return finance.Money{}, err
		}
	}
	return available, nil
}

// fillFull completes the obligation's cycle and schedules the next one.
func (a *Allocator) fillFull(ctx context.Context, p pass, o Obligation, due, available finance.Money) (finance.Money, error) {
	rest, err := available.Sub(due)
	if err != nil {
		return finance.Money{}, err
	}

	// Rentals are for the balances being paid off, captured before zeroing.
	net, cpu := o.NetLeft, o.CPULeft

	o.InProgress = false
	o.BuyTime = o.BuyTime.Add(o.Interval)
	o.NetLeft = net.Zero()
	o.CPULeft = cpu.Zero()
	if err := a.repo.Put(ctx, o); err != nil {
		return finance.Money{}, err
	}

	if err := a.emit(ctx, o.Receiver, due, net, cpu); err != nil {
		return finance.Money{}, err
	}

	a.logger.DebugContext(ctx, "obligation funded", "receiver", o.Receiver, "pass", p.name, "amount", due.String(), "next_buy_time", o.BuyTime)
	a.onFill(Fill{Receiver: o.Receiver, Type: FillFull, Pass: p.name, Net: net, CPU: cpu})
	return rest, nil
}

// fillPartial spends all of available on o, which owes more than that.
func (a *Allocator) fillPartial(ctx context.Context, p pass, o Obligation, available finance.Money) (finance.Money, error) {
	toNet, toCPU := split(available, o.NetLeft, o.CPULeft)

	assigned, err := toNet.Add(toCPU)
	if err != nil {
		return finance.Money{}, err
	}
	// Conservation: never hand out more than was offered.
	if available.LessThan(assigned) {
		return finance.Money{}, errs.Arithmetic("rexbuy.allocate", "assigned %s exceeds available %s for %s", assigned, available, o.Receiver)
	}

	if o.NetLeft, err = o.NetLeft.Sub(toNet); err != nil {
		return finance.Money{}, err
	}
	if o.CPULeft, err = o.CPULeft.Sub(toCPU); err != nil {
		return finance.Money{}, err
	}
	o.InProgress = p.partialInProgress
	if err := o.Validate(); err != nil {
		return finance.Money{}, err
	}
	if err := a.repo.Put(ctx, o); err != nil {
		return finance.Money{}, err
	}

	if err := a.emit(ctx, o.Receiver, assigned, o.NetLeft, o.CPULeft); err != nil {
		return finance.Money{}, err
	}

	a.logger.DebugContext(ctx, "obligation partly funded", "receiver", o.Receiver, "pass", p.name,
		"net", toNet.String(), "cpu", toCPU.String(), "net_left", o.NetLeft.String(), "cpu_left", o.CPULeft.String())
	a.onFill(Fill{Receiver: o.Receiver, Type: FillPartial, Pass: p.name, Net: toNet, CPU: toCPU})
	return available.Sub(assigned)
}

// split divides available evenly between the two resources. A side that
// owes less than its half is capped at its balance and the surplus goes to
// the other side. The odd minor unit of an odd amount goes to net, or to cpu
// if net is capped, so the whole amount is always assigned.
//
// Callers guarantee netLeft + cpuLeft > available, so neither side can be
// pushed past its balance.
func split(available, netLeft, cpuLeft finance.Money) (toNet, toCPU finance.Money) {
	half := available.Half()
	toNet = finance.Min(available.WithAmount(available.Amount-half.Amount), netLeft)
	toCPU = finance.Min(available.WithAmount(available.Amount-toNet.Amount), cpuLeft)
	toNet = available.WithAmount(available.Amount - toCPU.Amount)
	return toNet, toCPU
}

func (a *Allocator) emit(ctx context.Context, receiver string, deposit, net, cpu finance.Money) error {
	events := []settlement.Event{
		settlement.Deposit(a.payer, deposit),
		settlement.RentNet(a.payer, receiver, net),
		settlement.RentCPU(a.payer, receiver, cpu),
	}
	for _, ev := range events {
		if ev.Amount.IsZero() {
			continue
		}
		if err := a.sink.Emit(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
