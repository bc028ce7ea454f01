package settlement

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/treasury/pkg/finance"
)

func tlos(amount int64) finance.Money { return finance.New(amount, "TLOS", 4) }

// fakeOutbox is an OutboxReader over a fixed list of events.
type fakeOutbox struct {
	mu        sync.Mutex
	events    []Event
	published map[string]bool
}

func newFakeOutbox(n int) *fakeOutbox {
	o := &fakeOutbox{published: map[string]bool{}}
	for i := 0; i < n; i++ {
		ev := Deposit("eosio.tedp", tlos(int64(i+1)))
		ev.ID = string(rune('a' + i))
		ev.Seq = int64(i + 1)
		o.events = append(o.events, ev)
	}
	return o
}

func (o *fakeOutbox) Pending(_ context.Context, limit int) ([]Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Event
	for _, ev := range o.events {
		if !o.published[ev.ID] {
			out = append(out, ev)
		}
		if len(out) == limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (o *fakeOutbox) MarkPublished(_ context.Context, ids []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range ids {
		o.published[id] = true
	}
	return nil
}

func TestStamp_FillsIdentity(t *testing.T) {
	buf := NewBuffer()
	at := time.Unix(1_700_000_000, 0).UTC()
	sink := Stamp(buf, "run-1", at)

	require.NoError(t, sink.Emit(context.Background(), Transfer("eosio.tedp", "tf", tlos(10), "TEDP Funding")))
	require.NoError(t, sink.Emit(context.Background(), Deposit("eosio.tedp", tlos(5))))

	events := buf.Events()
	require.Len(t, events, 2)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)
	assert.Equal(t, "run-1", events[1].RunID)
	assert.Equal(t, at, events[0].CreatedAt)
	assert.Equal(t, KindTransfer, events[0].Kind)
}

func TestEncode_StableDigest(t *testing.T) {
	ev := RentNet("eosio.tedp", "alice", tlos(30))
	ev.ID = "evt-1"
	ev.RunID = "run-1"

	body1, d1, err := Encode(ev)
	require.NoError(t, err)

	ev.Seq = 99
	ev.CreatedAt = time.Now()
	body2, d2, err := Encode(ev)
	require.NoError(t, err)

	assert.Equal(t, d1, d2, "bookkeeping fields must not change the digest")
	assert.Equal(t, body1, body2)
	assert.Contains(t, string(body1), `"kind":"rentnet"`)

	ev.Amount = tlos(31)
	_, d3, err := Encode(ev)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestRelay_DrainsInOrder(t *testing.T) {
	outbox := newFakeOutbox(3)
	pub := NewMemoryPublisher()
	relay := NewRelay(outbox, pub)

	n, err := relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got := pub.Published()
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{got[0].Seq, got[1].Seq, got[2].Seq})

	n, err = relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelay_FailureLeavesRestPending(t *testing.T) {
	outbox := newFakeOutbox(3)
	pub := NewMemoryPublisher()
	pub.FailAfter = 1
	pub.Err = errors.New("broker down")
	relay := NewRelay(outbox, pub, WithBatch(10))

	n, err := relay.Drain(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)

	pending, err := outbox.Pending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(2), pending[0].Seq)

	pub.FailAfter = 0
	n, err = relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRelay_RateLimited(t *testing.T) {
	outbox := newFakeOutbox(2)
	relay := NewRelay(outbox, NewMemoryPublisher(), WithRate(1000, 1))

	n, err := relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRedisStreamPublisher_XAdd(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	pub := NewRedisStreamPublisher(client, "", 0)
	ev := RentCPU("eosio.tedp", "alice", tlos(20))
	ev.ID = "evt-9"
	ev.RunID = "run-3"
	ev.Seq = 9

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, ev))

	entries, err := client.XRange(ctx, DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	_, digest, err := Encode(ev)
	require.NoError(t, err)
	assert.Equal(t, "evt-9", entries[0].Values["id"])
	assert.Equal(t, "rentcpu", entries[0].Values["kind"])
	assert.Equal(t, digest, entries[0].Values["digest"])
}

func TestRedisStreamPublisher_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer func() { _ = client.Close() }()
	mr.Close()

	err := NewRedisStreamPublisher(client, "s", 10).Publish(context.Background(), Deposit("x", tlos(1)))
	assert.Error(t, err)
}
