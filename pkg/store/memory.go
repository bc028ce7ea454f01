package store

import (
	"context"
	"sync"

	"github.com/Mindburn-Labs/treasury/pkg/payout"
	"github.com/Mindburn-Labs/treasury/pkg/rexbuy"
	"github.com/Mindburn-Labs/treasury/pkg/settlement"
)

// Memory is an in-process Backend. A unit of work operates on copies of the
// tables which replace the committed ones only if it succeeds.
type Memory struct {
	mu          sync.Mutex
	rules       *payout.MemoryRepository
	obligations *rexbuy.MemoryRepository
	outbox      []settlement.Event
	published   map[string]bool
	seq         int64
}

func NewMemory() *Memory {
	return &Memory{
		rules:       payout.NewMemoryRepository(),
		obligations: rexbuy.NewMemoryRepository(),
		published:   make(map[string]bool),
	}
}

func (m *Memory) Atomic(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rules := m.rules.Clone()
	obligations := m.obligations.Clone()
	pending := settlement.NewBuffer()

	if err := fn(ctx, Repos{Rules: rules, Obligations: obligations, Outbox: pending}); err != nil {
		return err
	}

	m.rules = rules
	m.obligations = obligations
	for _, ev := range pending.Events() {
		m.seq++
		ev.Seq = m.seq
		m.outbox = append(m.outbox, ev)
	}
	return nil
}

func (m *Memory) Pending(_ context.Context, limit int) ([]settlement.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []settlement.Event
	for _, ev := range m.outbox {
		if limit > 0 && len(out) >= limit {
			break
		}
		if !m.published[ev.ID] {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) MarkPublished(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.published[id] = true
	}
	return nil
}

func (m *Memory) Close() error { return nil }
