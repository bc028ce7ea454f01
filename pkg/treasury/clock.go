package treasury

import (
	"sync"
	"time"
)

// Clock provides the authority time for payout runs.
type Clock interface {
	Now() time.Time
}

// WallClock reads the system clock.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

// FixedClock returns a settable instant. Safe for concurrent use.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixedClock(t time.Time) *FixedClock { return &FixedClock{t: t} }

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// monotonic clamps a source clock so that successive readings never go
// backwards. Readings are UTC whole seconds, the resolution stored by every
// backend.
type monotonic struct {
	mu   sync.Mutex
	src  Clock
	last time.Time
}

func (m *monotonic) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.src.Now().UTC().Truncate(time.Second)
	if t.Before(m.last) {
		return m.last
	}
	m.last = t
	return t
}
