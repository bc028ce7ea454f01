package payout

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Mindburn-Labs/treasury/pkg/errs"
	"github.com/Mindburn-Labs/treasury/pkg/finance"
)

// RuleStore applies registry semantics on top of a Repository.
type RuleStore struct {
	repo Repository
}

func NewRuleStore(repo Repository) *RuleStore {
	return &RuleStore{repo: repo}
}

// Upsert creates the rule with LastPayoutAt = now, or updates amount and
// interval of an existing rule. An existing LastPayoutAt is never touched,
// so changing a rate does not restart or skip accrual.
func (s *RuleStore) Upsert(ctx context.Context, beneficiary string, amount finance.Money, interval time.Duration, now time.Time) (Rule, error) {
	if beneficiary == "" {
		return Rule{}, errs.Validation("payout.upsert", "beneficiary is required")
	}
	if amount.IsNegative() {
		return Rule{}, errs.Validation("payout.upsert", "amount %s is negative", amount)
	}
	if interval < time.Second || interval%time.Second != 0 {
		return Rule{}, errs.Validation("payout.upsert", "interval %s must be a positive whole number of seconds", interval)
	}

	r, ok, err := s.repo.Get(ctx, beneficiary)
	if err != nil {
		return Rule{}, err
	}
	if !ok {
		r = Rule{Beneficiary: beneficiary, LastPayoutAt: now}
	}
	r.Amount = amount
	r.Interval = interval

	if err := s.repo.Put(ctx, r); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Remove deletes the rule for beneficiary.
func (s *RuleStore) Remove(ctx context.Context, beneficiary string) error {
	_, ok, err := s.repo.Get(ctx, beneficiary)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound("payout.remove", "payout for %s does not exist", beneficiary)
	}
	return s.repo.Delete(ctx, beneficiary)
}

// List returns every rule ordered by beneficiary.
func (s *RuleStore) List(ctx context.Context) ([]Rule, error) {
	return s.repo.List(ctx)
}

// MemoryRepository implements Repository in memory.
// Thread-safe via RWMutex.
type MemoryRepository struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rules: make(map[string]Rule)}
}

func (m *MemoryRepository) Get(_ context.Context, beneficiary string) (Rule, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[beneficiary]
	return r, ok, nil
}

func (m *MemoryRepository) List(_ context.Context) ([]Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Beneficiary < out[j].Beneficiary })
	return out, nil
}

func (m *MemoryRepository) Put(_ context.Context, r Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.Beneficiary] = r
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, beneficiary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, beneficiary)
	return nil
}

// Clone returns an independent copy; Rule holds no references so a shallow
// map copy suffices.
func (m *MemoryRepository) Clone() *MemoryRepository {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := NewMemoryRepository()
	for k, v := range m.rules {
		c.rules[k] = v
	}
	return c
}
