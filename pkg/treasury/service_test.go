package treasury

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/treasury/pkg/auth"
	"github.com/Mindburn-Labs/treasury/pkg/errs"
	"github.com/Mindburn-Labs/treasury/pkg/finance"
	"github.com/Mindburn-Labs/treasury/pkg/identity"
	"github.com/Mindburn-Labs/treasury/pkg/rexbuy"
	"github.com/Mindburn-Labs/treasury/pkg/runlock"
	"github.com/Mindburn-Labs/treasury/pkg/settlement"
	"github.com/Mindburn-Labs/treasury/pkg/store"
)

const treasuryAccount = "eosio.tedp"

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func tlos(units int64) finance.Money { return finance.New(units, "TLOS", 4) }

func operator() context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{ID: "ops", Roles: []string{auth.RoleTreasurer}})
}

type fixture struct {
	svc     *Service
	backend *store.Memory
	clock   *FixedClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	backend := store.NewMemory()
	clock := NewFixedClock(t0)
	opts = append([]Option{WithClock(clock)}, opts...)
	svc, err := New(backend, Settings{Account: treasuryAccount, Symbol: "TLOS", Precision: 4}, opts...)
	require.NoError(t, err)
	return &fixture{svc: svc, backend: backend, clock: clock}
}

func (f *fixture) pending(t *testing.T) []settlement.Event {
	t.Helper()
	events, err := f.backend.Pending(context.Background(), 0)
	require.NoError(t, err)
	return events
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Settings{Account: treasuryAccount})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = New(store.NewMemory(), Settings{Account: "Not.Valid!"})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestSetRule(t *testing.T) {
	f := newFixture(t)

	rule, err := f.svc.SetRule(operator(), "tf", tlos(100_000))
	require.NoError(t, err)
	assert.Equal(t, "tf", rule.Beneficiary)
	assert.Equal(t, 24*time.Hour, rule.Interval)
	assert.Equal(t, t0, rule.LastPayoutAt)
}

func TestSetRule_UpdateKeepsAccrual(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetRule(operator(), "econdev", tlos(10_000))
	require.NoError(t, err)

	f.clock.Advance(5 * time.Hour)
	rule, err := f.svc.SetRule(operator(), "econdev", tlos(20_000))
	require.NoError(t, err)
	assert.Equal(t, t0, rule.LastPayoutAt)
	assert.Equal(t, int64(20_000), rule.Amount.Amount)
}

func TestSetRule_Rejections(t *testing.T) {
	denyAll := identity.Func(func(context.Context, string) bool { return false })

	tests := []struct {
		name   string
		ctx    context.Context
		opts   []Option
		kind   string
		amount finance.Money
		want   error
	}{
		{"no principal", context.Background(), nil, "tf", tlos(1), errs.ErrUnauthorized},
		{"unknown kind", operator(), nil, "marketing", tlos(1), errs.ErrValidation},
		{"above ceiling", operator(), nil, "rex", tlos(6_850_001), errs.ErrValidation},
		{"wrong unit", operator(), nil, "tf", finance.New(1, "EOS", 4), errs.ErrValidation},
		{"negative", operator(), nil, "tf", tlos(-1), errs.ErrValidation},
		{"invalid account", operator(), []Option{WithValidator(denyAll)}, "tf", tlos(1), errs.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts...)
			_, err := f.svc.SetRule(tt.ctx, tt.kind, tt.amount)
			assert.ErrorIs(t, err, tt.want)

			rules, err := f.svc.Rules(context.Background())
			require.NoError(t, err)
			assert.Empty(t, rules)
		})
	}
}

func TestSetRule_AtCeiling(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetRule(operator(), "rex", tlos(6_850_000))
	assert.NoError(t, err)
}

func TestDeleteRule(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetRule(operator(), "tf", tlos(1))
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteRule(context.Background(), "tf"), errs.ErrUnauthorized)
	require.NoError(t, f.svc.DeleteRule(operator(), "tf"))
	assert.ErrorIs(t, f.svc.DeleteRule(operator(), "tf"), errs.ErrNotFound)
}

func TestRunPayouts_NothingDue(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RunPayouts(context.Background())
	assert.ErrorIs(t, err, errs.ErrPrecondition)

	_, err = f.svc.SetRule(operator(), "tf", tlos(1))
	require.NoError(t, err)
	f.clock.Advance(23 * time.Hour)

	_, err = f.svc.RunPayouts(context.Background())
	assert.ErrorIs(t, err, errs.ErrPrecondition)
	assert.Empty(t, f.pending(t))
}

func TestRunPayouts_DirectTransfer(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetRule(operator(), "tf", tlos(100_000))
	require.NoError(t, err)

	f.clock.Advance(49 * time.Hour)
	report, err := f.svc.RunPayouts(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Disbursements, 1)
	d := report.Disbursements[0]
	assert.Equal(t, int64(2), d.Periods)
	assert.Equal(t, int64(200_000), d.Due.Amount)
	assert.True(t, report.Allocated.IsZero())

	events := f.pending(t)
	require.Len(t, events, 1)
	assert.Equal(t, settlement.KindTransfer, events[0].Kind)
	assert.Equal(t, treasuryAccount, events[0].From)
	assert.Equal(t, "tf", events[0].To)
	assert.Equal(t, report.RunID, events[0].RunID)
	assert.Equal(t, t0.Add(49*time.Hour), events[0].CreatedAt)

	rules, err := f.svc.Rules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, t0.Add(49*time.Hour), rules[0].LastPayoutAt)

	// Same instant again: the hour left over was discarded, nothing is due.
	_, err = f.svc.RunPayouts(context.Background())
	assert.ErrorIs(t, err, errs.ErrPrecondition)
}

func TestRunPayouts_ResourceFunding(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetRule(operator(), "rex", tlos(10_000))
	require.NoError(t, err)
	_, err = f.svc.RegisterObligation(operator(), "alice", t0, time.Hour, tlos(3_000), tlos(2_000))
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	report, err := f.svc.RunPayouts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(5_000), report.Allocated.Amount)
	assert.Equal(t, int64(5_000), report.Residual.Amount)
	require.Len(t, report.Fills, 1)
	assert.Equal(t, rexbuy.FillFull, report.Fills[0].Type)

	events := f.pending(t)
	require.Len(t, events, 4)
	assert.Equal(t, settlement.KindDeposit, events[0].Kind)
	assert.Equal(t, int64(5_000), events[0].Amount.Amount)
	assert.Equal(t, settlement.KindRentNet, events[1].Kind)
	assert.Equal(t, int64(2_000), events[1].Amount.Amount)
	assert.Equal(t, settlement.KindRentCPU, events[2].Kind)
	assert.Equal(t, "alice", events[2].To)
	assert.Equal(t, settlement.KindTransfer, events[3].Kind)
	assert.Equal(t, "eosio.rex", events[3].To)
	assert.Equal(t, int64(5_000), events[3].Amount.Amount)

	obs, err := f.svc.Obligations(context.Background())
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, t0.Add(time.Hour), obs[0].BuyTime)
	assert.False(t, obs[0].InProgress)
}

// failingOutbox wraps a backend so every emitted event fails.
type failingOutbox struct {
	*store.Memory
}

func (b failingOutbox) Atomic(ctx context.Context, fn func(ctx context.Context, r store.Repos) error) error {
	return b.Memory.Atomic(ctx, func(ctx context.Context, r store.Repos) error {
		r.Outbox = sinkFunc(func(context.Context, settlement.Event) error { return errors.New("outbox unavailable") })
		return fn(ctx, r)
	})
}

type sinkFunc func(context.Context, settlement.Event) error

func (f sinkFunc) Emit(ctx context.Context, ev settlement.Event) error { return f(ctx, ev) }

func TestRunPayouts_FailureRollsBack(t *testing.T) {
	mem := store.NewMemory()
	clock := NewFixedClock(t0)
	good, err := New(mem, Settings{Account: treasuryAccount, Symbol: "TLOS", Precision: 4}, WithClock(clock))
	require.NoError(t, err)
	_, err = good.SetRule(operator(), "tf", tlos(1))
	require.NoError(t, err)
	_, err = good.RegisterObligation(operator(), "alice", t0, time.Hour, tlos(1), tlos(1))
	require.NoError(t, err)

	bad, err := New(failingOutbox{mem}, Settings{Account: treasuryAccount, Symbol: "TLOS", Precision: 4}, WithClock(clock))
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)
	_, err = bad.RunPayouts(context.Background())
	require.Error(t, err)

	rules, err := good.Rules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, t0, rules[0].LastPayoutAt)
	events, err := mem.Pending(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

type countingLocker struct {
	runlock.Locker
	keys []string
}

func (l *countingLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.keys = append(l.keys, key)
	return l.Locker.WithLock(ctx, key, fn)
}

func TestRunPayouts_HoldsRunLock(t *testing.T) {
	locker := &countingLocker{Locker: runlock.NewLocal()}
	f := newFixture(t, WithLocker(locker))
	_, err := f.svc.SetRule(operator(), "tf", tlos(1))
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)

	_, err = f.svc.RunPayouts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{runlock.DefaultKey}, locker.keys)
}

func TestRegisterObligation(t *testing.T) {
	f := newFixture(t)

	o, err := f.svc.RegisterObligation(operator(), "alice", t0.Add(1500*time.Millisecond), time.Hour, tlos(30), tlos(20))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Second), o.BuyTime)
	assert.False(t, o.InProgress)

	_, err = f.svc.RegisterObligation(operator(), "alice", t0, time.Hour, tlos(1), tlos(1))
	assert.ErrorIs(t, err, errs.ErrAlreadyExists)

	obs, err := f.svc.Obligations(context.Background())
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, int64(30), obs[0].TargetCPU.Amount)
}

func TestRegisterObligation_Rejections(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RegisterObligation(context.Background(), "alice", t0, time.Hour, tlos(1), tlos(1))
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = f.svc.RegisterObligation(operator(), "Alice!", t0, time.Hour, tlos(1), tlos(1))
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = f.svc.RegisterObligation(operator(), "alice", t0, time.Hour, finance.New(1, "EOS", 4), tlos(1))
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = f.svc.RegisterObligation(operator(), "alice", t0, 0, tlos(1), tlos(1))
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestCancelObligation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RegisterObligation(operator(), "alice", t0, time.Hour, tlos(1), tlos(1))
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.CancelObligation(context.Background(), "alice"), errs.ErrUnauthorized)
	require.NoError(t, f.svc.CancelObligation(operator(), "alice"))
	assert.ErrorIs(t, f.svc.CancelObligation(operator(), "alice"), errs.ErrNotFound)
}

func TestMonotonicClock(t *testing.T) {
	src := NewFixedClock(t0.Add(1500 * time.Millisecond))
	m := &monotonic{src: src}

	assert.Equal(t, t0.Add(time.Second), m.Now())

	src.Set(t0.Add(-time.Hour))
	assert.Equal(t, t0.Add(time.Second), m.Now())

	src.Set(t0.Add(time.Minute).In(time.FixedZone("X", 3600)))
	got := m.Now()
	assert.Equal(t, t0.Add(time.Minute), got)
	assert.Equal(t, time.UTC, got.Location())
}
