package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Buffer is an in-memory Sink that keeps events in emission order.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Emit(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

// Events returns a copy of everything emitted so far.
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// stamped fills identity fields before forwarding to the underlying sink.
type stamped struct {
	next  Sink
	runID string
	at    time.Time
}

// Stamp wraps next so every event carries a fresh ID, the run it belongs to
// and the run's timestamp.
func Stamp(next Sink, runID string, at time.Time) Sink {
	return &stamped{next: next, runID: runID, at: at}
}

func (s *stamped) Emit(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.RunID = s.runID
	ev.CreatedAt = s.at
	return s.next.Emit(ctx, ev)
}

// OutboxReader exposes committed, not yet published events to a Relay.
type OutboxReader interface {
	// Pending returns up to limit unpublished events ordered by Seq. A limit
	// of zero or less returns every unpublished event.
	Pending(ctx context.Context, limit int) ([]Event, error)
	// MarkPublished flags events as delivered to the settlement layer.
	MarkPublished(ctx context.Context, ids []string) error
}
