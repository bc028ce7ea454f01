package settlement

import (
	"context"
	"log/slog"
	"sync"
)

// Publisher hands a committed event to the settlement layer. Delivery
// ordering and retry beyond a single attempt belong to the Relay.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// LogPublisher writes events to a structured log. Used when no settlement
// transport is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger.With("component", "settlement")}
}

func (p *LogPublisher) Publish(ctx context.Context, ev Event) error {
	p.logger.InfoContext(ctx, "settlement event",
		"id", ev.ID,
		"seq", ev.Seq,
		"run_id", ev.RunID,
		"kind", string(ev.Kind),
		"from", ev.From,
		"to", ev.To,
		"amount", ev.Amount.String(),
		"memo", ev.Memo,
	)
	return nil
}

// MemoryPublisher records published events. FailAfter, when positive, makes
// every publish after that many successes fail with Err.
type MemoryPublisher struct {
	mu        sync.Mutex
	published []Event
	FailAfter int
	Err       error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailAfter > 0 && len(p.published) >= p.FailAfter {
		return p.Err
	}
	p.published = append(p.published, ev)
	return nil
}

// Published returns a copy of the delivered events.
func (p *MemoryPublisher) Published() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.published))
	copy(out, p.published)
	return out
}
