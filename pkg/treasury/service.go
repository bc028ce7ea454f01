// Package treasury is the operation surface of the disbursement engine.
//
// A Service resolves beneficiary kinds against the configured profile,
// enforces ceilings, account validity and operator authority, and runs every
// mutation as one unit of work on the storage backend. Processes sharing a
// database are kept apart by the backend itself: PostgreSQL units of work
// hold an advisory lock and SQLite admits one writer, so racing payout runs
// commit one after the other and the later run finds nothing due. Payout
// runs also take a runlock.Locker, which with Redis keeps replicas from
// queueing on the database at all.
package treasury

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/treasury/pkg/auth"
	"github.com/Mindburn-Labs/treasury/pkg/config"
	"github.com/Mindburn-Labs/treasury/pkg/errs"
	"github.com/Mindburn-Labs/treasury/pkg/finance"
	"github.com/Mindburn-Labs/treasury/pkg/identity"
	"github.com/Mindburn-Labs/treasury/pkg/observability"
	"github.com/Mindburn-Labs/treasury/pkg/payout"
	"github.com/Mindburn-Labs/treasury/pkg/rexbuy"
	"github.com/Mindburn-Labs/treasury/pkg/runlock"
	"github.com/Mindburn-Labs/treasury/pkg/settlement"
	"github.com/Mindburn-Labs/treasury/pkg/store"
)

// Settings identify the paying account, its unit and who it pays.
type Settings struct {
	Account   string
	Symbol    string
	Precision int
	Profile   *config.Profile
}

// Report summarizes one committed payout run.
type Report struct {
	RunID         string                `json:"run_id"`
	Now           time.Time             `json:"now"`
	Disbursements []payout.Disbursement `json:"disbursements"`
	Fills         []rexbuy.Fill         `json:"fills,omitempty"`
	Allocated     finance.Money         `json:"allocated"` // spent on obligations
	Residual      finance.Money         `json:"residual"`  // forwarded to the resource beneficiary
}

// Service implements the treasury operations.
type Service struct {
	backend   store.Backend
	settings  Settings
	clock     *monotonic
	validator identity.Validator
	gate      auth.Gate
	locker    runlock.Locker
	obs       *observability.Provider
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = &monotonic{src: c}
		}
	}
}

func WithValidator(v identity.Validator) Option {
	return func(s *Service) {
		if v != nil {
			s.validator = v
		}
	}
}

func WithGate(g auth.Gate) Option {
	return func(s *Service) {
		if g != nil {
			s.gate = g
		}
	}
}

func WithLocker(l runlock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithObservability(p *observability.Provider) Option {
	return func(s *Service) {
		if p != nil {
			s.obs = p
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Service. Without options it uses the wall clock, the
// account-name rule, a treasurer role gate and an in-process lock.
func New(backend store.Backend, settings Settings, opts ...Option) (*Service, error) {
	if backend == nil {
		return nil, errs.Validation("treasury.new", "backend is required")
	}
	if settings.Profile == nil {
		settings.Profile = config.DefaultProfile()
	}
	if err := settings.Profile.Validate(); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "treasury.new", err)
	}
	if !(identity.NameRule{}).IsValidAccount(context.Background(), settings.Account) {
		return nil, errs.Validation("treasury.new", "invalid treasury account %q", settings.Account)
	}

	s := &Service{
		backend:   backend,
		settings:  settings,
		clock:     &monotonic{src: WallClock{}},
		validator: identity.NameRule{},
		gate:      auth.RoleGate{Role: auth.RoleTreasurer},
		locker:    runlock.NewLocal(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.obs == nil {
		// A disabled provider never fails.
		s.obs, _ = observability.New(context.Background(), &observability.Config{Enabled: false})
	}
	s.logger = s.logger.With("component", "treasury")
	return s, nil
}

func (s *Service) zero() finance.Money {
	return finance.New(0, s.settings.Symbol, s.settings.Precision)
}

// SetRule sets the per-interval amount paid to the beneficiary of kind. The
// first call for a kind starts accrual at the current time; later calls
// change the rate without touching accrual.
func (s *Service) SetRule(ctx context.Context, kind string, amount finance.Money) (rule payout.Rule, err error) {
	ctx, finish := s.obs.TrackOperation(ctx, "treasury.set_rule", observability.BeneficiaryAttr(kind))
	defer func() { finish(err) }()

	if err := s.gate.RequireAuthority(ctx); err != nil {
		return payout.Rule{}, err
	}
	b, ok := s.settings.Profile.Lookup(kind)
	if !ok {
		return payout.Rule{}, errs.Validation("treasury.set_rule", "unknown beneficiary kind %q", kind)
	}
	ceiling, err := b.CeilingIn(s.settings.Symbol, s.settings.Precision)
	if err != nil {
		return payout.Rule{}, err
	}
	if err := ceiling.Check(amount); err != nil {
		return payout.Rule{}, err
	}
	if !s.validator.IsValidAccount(ctx, b.Account) {
		return payout.Rule{}, errs.Validation("treasury.set_rule", "account %s does not exist", b.Account)
	}

	now := s.clock.Now()
	err = s.backend.Atomic(ctx, func(ctx context.Context, r store.Repos) error {
		var err error
		rule, err = payout.NewRuleStore(r.Rules).Upsert(ctx, b.Account, amount, b.Interval(), now)
		return err
	})
	if err != nil {
		return payout.Rule{}, err
	}

	s.logger.InfoContext(ctx, "payout rule set",
		"kind", kind, "beneficiary", b.Account, "amount", amount.String(),
		"interval", b.Interval().String(), "last_payout_at", rule.LastPayoutAt)
	return rule, nil
}

// DeleteRule stops payouts to beneficiary. Accrued but unpaid intervals are
// forfeited.
func (s *Service) DeleteRule(ctx context.Context, beneficiary string) (err error) {
	ctx, finish := s.obs.TrackOperation(ctx, "treasury.delete_rule", observability.BeneficiaryAttr(beneficiary))
	defer func() { finish(err) }()

	if err := s.gate.RequireAuthority(ctx); err != nil {
		return err
	}
	err = s.backend.Atomic(ctx, func(ctx context.Context, r store.Repos) error {
		return payout.NewRuleStore(r.Rules).Remove(ctx, beneficiary)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "payout rule deleted", "beneficiary", beneficiary)
	return nil
}

// RunPayouts pays every due rule and funds resource obligations from the
// resource beneficiary's share. Anyone may trigger it. It fails with a
// precondition error when nothing is due; any failure leaves no trace.
func (s *Service) RunPayouts(ctx context.Context) (report Report, err error) {
	runID := uuid.NewString()
	ctx, finish := s.obs.TrackOperation(ctx, "treasury.run_payouts", observability.RunIDAttr(runID))
	defer func() { finish(err) }()

	err = s.locker.WithLock(ctx, runlock.DefaultKey, func(ctx context.Context) error {
		var runErr error
		report, runErr = s.runPayouts(ctx, runID)
		return runErr
	})
	if err != nil {
		return Report{}, err
	}

	for _, d := range report.Disbursements {
		s.obs.RecordDisbursement(ctx, d.Beneficiary, d.Due.Amount)
	}
	for _, f := range report.Fills {
		// Fill amounts are already in the treasury unit.
		s.obs.RecordFill(ctx, string(f.Type), f.Net.Amount+f.CPU.Amount)
	}
	s.logger.InfoContext(ctx, "payout run committed",
		"run_id", report.RunID, "now", report.Now, "disbursements", len(report.Disbursements),
		"fills", len(report.Fills), "allocated", report.Allocated.String(), "residual", report.Residual.String())
	return report, nil
}

func (s *Service) runPayouts(ctx context.Context, runID string) (Report, error) {
	now := s.clock.Now()
	report := Report{RunID: runID, Now: now, Allocated: s.zero(), Residual: s.zero()}

	var resource string
	if b, ok := s.settings.Profile.ResourceBeneficiary(); ok {
		resource = b.Account
	}

	err := s.backend.Atomic(ctx, func(ctx context.Context, r store.Repos) error {
		report.Fills = nil
		sink := settlement.Stamp(r.Outbox, runID, now)
		alloc := rexbuy.NewAllocator(r.Obligations, sink, s.settings.Account,
			rexbuy.WithFillHook(func(f rexbuy.Fill) { report.Fills = append(report.Fills, f) }),
			rexbuy.WithLogger(s.logger),
		)
		sched := payout.NewScheduler(r.Rules, alloc, sink, payout.Config{
			Treasury:            s.settings.Account,
			ResourceBeneficiary: resource,
		}, payout.WithLogger(s.logger))

		paid, err := sched.Run(ctx, now)
		if err != nil {
			return err
		}
		report.Disbursements = paid
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	for _, d := range report.Disbursements {
		if !d.Resource {
			continue
		}
		if report.Allocated, err = report.Allocated.Add(d.Allocated); err != nil {
			return Report{}, err
		}
		if report.Residual, err = report.Residual.Add(d.Residual); err != nil {
			return Report{}, err
		}
	}
	return report, nil
}

// RegisterObligation queues a recurring resource purchase for receiver whose
// first cycle starts at buyTime.
func (s *Service) RegisterObligation(ctx context.Context, receiver string, buyTime time.Time, interval time.Duration, cpu, net finance.Money) (o rexbuy.Obligation, err error) {
	ctx, finish := s.obs.TrackOperation(ctx, "treasury.register_obligation", observability.ReceiverAttr(receiver))
	defer func() { finish(err) }()

	if err := s.gate.RequireAuthority(ctx); err != nil {
		return rexbuy.Obligation{}, err
	}
	if !s.validator.IsValidAccount(ctx, receiver) {
		return rexbuy.Obligation{}, errs.Validation("treasury.register_obligation", "account %s does not exist", receiver)
	}
	for _, m := range []finance.Money{cpu, net} {
		if m.Symbol != s.settings.Symbol || m.Precision != s.settings.Precision {
			return rexbuy.Obligation{}, errs.Validation("treasury.register_obligation",
				"amount %s is not denominated in %s", m, s.settings.Symbol)
		}
	}

	buyTime = buyTime.UTC().Truncate(time.Second)
	err = s.backend.Atomic(ctx, func(ctx context.Context, r store.Repos) error {
		var err error
		o, err = rexbuy.NewQueue(r.Obligations).Register(ctx, receiver, buyTime, interval, cpu, net)
		return err
	})
	if err != nil {
		return rexbuy.Obligation{}, err
	}

	s.logger.InfoContext(ctx, "resource obligation registered",
		"receiver", receiver, "buy_time", buyTime, "interval", interval.String(),
		"cpu", cpu.String(), "net", net.String())
	return o, nil
}

// CancelObligation removes receiver's obligation, including any partly
// funded cycle.
func (s *Service) CancelObligation(ctx context.Context, receiver string) (err error) {
	ctx, finish := s.obs.TrackOperation(ctx, "treasury.cancel_obligation", observability.ReceiverAttr(receiver))
	defer func() { finish(err) }()

	if err := s.gate.RequireAuthority(ctx); err != nil {
		return err
	}
	err = s.backend.Atomic(ctx, func(ctx context.Context, r store.Repos) error {
		return rexbuy.NewQueue(r.Obligations).Cancel(ctx, receiver)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "resource obligation cancelled", "receiver", receiver)
	return nil
}

// Rules returns every payout rule ordered by beneficiary.
func (s *Service) Rules(ctx context.Context) ([]payout.Rule, error) {
	var rules []payout.Rule
	err := s.backend.Atomic(ctx, func(ctx context.Context, r store.Repos) error {
		var err error
		rules, err = payout.NewRuleStore(r.Rules).List(ctx)
		return err
	})
	return rules, err
}

// Obligations returns every obligation in funding order.
func (s *Service) Obligations(ctx context.Context) ([]rexbuy.Obligation, error) {
	var obs []rexbuy.Obligation
	err := s.backend.Atomic(ctx, func(ctx context.Context, r store.Repos) error {
		var err error
		obs, err = rexbuy.NewQueue(r.Obligations).List(ctx)
		return err
	})
	return obs, err
}
