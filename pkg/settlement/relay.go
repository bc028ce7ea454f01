package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
)

const defaultBatch = 100

// Relay drains committed outbox events to a Publisher in Seq order.
// A publish failure stops the drain; the failed event and everything after
// it stay pending for the next call.
type Relay struct {
	outbox    OutboxReader
	publisher Publisher
	limiter   *rate.Limiter
	batch     int
	logger    *slog.Logger
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRate bounds publishing to eventsPerSecond with the given burst.
func WithRate(eventsPerSecond float64, burst int) RelayOption {
	return func(r *Relay) {
		if eventsPerSecond > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(eventsPerSecond), burst)
		}
	}
}

// WithBatch sets how many events one Drain reads from the outbox.
func WithBatch(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithRelayLogger sets the relay logger.
func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRelay(outbox OutboxReader, publisher Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		outbox:    outbox,
		publisher: publisher,
		limiter:   rate.NewLimiter(rate.Inf, 0),
		batch:     defaultBatch,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "settlement.relay")
	return r
}

// Drain publishes one batch of pending events and returns how many were
// delivered.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	pending, err := r.outbox.Pending(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("relay: read outbox: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	done := make([]string, 0, len(pending))
	var pubErr error
	for _, ev := range pending {
		if err := r.limiter.Wait(ctx); err != nil {
			pubErr = err
			break
		}
		if err := r.publisher.Publish(ctx, ev); err != nil {
			pubErr = fmt.Errorf("relay: publish %s: %w", ev.ID, err)
			break
		}
		done = append(done, ev.ID)
	}

	if len(done) > 0 {
		if err := r.outbox.MarkPublished(ctx, done); err != nil {
			return 0, fmt.Errorf("relay: mark published: %w", err)
		}
	}
	if pubErr != nil {
		r.logger.WarnContext(ctx, "relay stopped early", "delivered", len(done), "pending", len(pending)-len(done), "error", pubErr)
		return len(done), pubErr
	}

	r.logger.DebugContext(ctx, "relay drained", "delivered", len(done))
	return len(done), nil
}
