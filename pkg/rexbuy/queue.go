package rexbuy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Mindburn-Labs/treasury/pkg/errs"
	"github.com/Mindburn-Labs/treasury/pkg/finance"
)

// Queue applies registration semantics on top of a Repository.
type Queue struct {
	repo Repository
}

func NewQueue(repo Repository) *Queue {
	return &Queue{repo: repo}
}

// Register adds an obligation for receiver whose first cycle starts at
// buyTime. A receiver holds at most one obligation.
func (q *Queue) Register(ctx context.Context, receiver string, buyTime time.Time, interval time.Duration, cpu, net finance.Money) (Obligation, error) {
	if receiver == "" {
		return Obligation{}, errs.Validation("rexbuy.register", "receiver is required")
	}
	if interval < time.Second || interval%time.Second != 0 {
		return Obligation{}, errs.Validation("rexbuy.register", "interval %s must be a positive whole number of seconds", interval)
	}
	if cpu.IsNegative() || net.IsNegative() {
		return Obligation{}, errs.Validation("rexbuy.register", "amounts must not be negative")
	}
	total, err := cpu.Add(net)
	if err != nil {
		return Obligation{}, errs.Validation("rexbuy.register", "cpu and net amounts must share a unit: %v", err)
	}
	if !total.IsPositive() {
		return Obligation{}, errs.Validation("rexbuy.register", "cpu and net amounts are both zero")
	}

	_, exists, err := q.repo.Get(ctx, receiver)
	if err != nil {
		return Obligation{}, err
	}
	if exists {
		return Obligation{}, errs.AlreadyExists("rexbuy.register", "rexbuy already exists for account %s", receiver)
	}

	o := Obligation{
		Receiver:  receiver,
		Interval:  interval,
		BuyTime:   buyTime,
		TargetNet: net,
		TargetCPU: cpu,
		NetLeft:   net,
		CPULeft:   cpu,
	}
	if err := q.repo.Put(ctx, o); err != nil {
		return Obligation{}, err
	}
	return o, nil
}

// Cancel removes receiver's obligation, funded or not.
func (q *Queue) Cancel(ctx context.Context, receiver string) error {
	_, exists, err := q.repo.Get(ctx, receiver)
	if err != nil {
		return err
	}
	if !exists {
		return errs.NotFound("rexbuy.cancel", "rexbuy does not exist for account %s", receiver)
	}
	return q.repo.Delete(ctx, receiver)
}

// List returns obligations ascending by BuyTime.
func (q *Queue) List(ctx context.Context) ([]Obligation, error) {
	return q.repo.ListByBuyTime(ctx)
}

// MemoryRepository implements Repository in memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]Obligation
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]Obligation)}
}

func (m *MemoryRepository) Get(_ context.Context, receiver string) (Obligation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.items[receiver]
	return o, ok, nil
}

func (m *MemoryRepository) ListByBuyTime(_ context.Context) ([]Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Obligation, 0, len(m.items))
	for _, o := range m.items {
		out = append(out, o)
	}
	SortByBuyTime(out)
	return out, nil
}

func (m *MemoryRepository) Put(_ context.Context, o Obligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[o.Receiver] = o
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, receiver string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, receiver)
	return nil
}

// Clone returns an independent copy.
func (m *MemoryRepository) Clone() *MemoryRepository {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := NewMemoryRepository()
	for k, v := range m.items {
		c.items[k] = v
	}
	return c
}

// SortByBuyTime orders obligations the way the buy-time index does.
func SortByBuyTime(obs []Obligation) {
	sort.SliceStable(obs, func(i, j int) bool {
		if !obs[i].BuyTime.Equal(obs[j].BuyTime) {
			return obs[i].BuyTime.Before(obs[j].BuyTime)
		}
		return obs[i].Receiver < obs[j].Receiver
	})
}
