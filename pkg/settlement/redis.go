package settlement

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream settlement consumers read from.
const DefaultStream = "treasury:settlement"

// RedisStreamPublisher appends events to a Redis stream with XADD. The
// canonical payload and its digest travel with every entry so consumers can
// drop redeliveries.
type RedisStreamPublisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewRedisStreamPublisher creates a publisher for the given stream. maxLen
// caps the stream length approximately; zero keeps every entry.
func NewRedisStreamPublisher(client redis.UniversalClient, stream string, maxLen int64) *RedisStreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, ev Event) error {
	body, digest, err := Encode(ev)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"id":      ev.ID,
			"seq":     ev.Seq,
			"run_id":  ev.RunID,
			"kind":    string(ev.Kind),
			"digest":  digest,
			"payload": string(body),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("settlement: xadd %s: %w", p.stream, err)
	}
	return nil
}
