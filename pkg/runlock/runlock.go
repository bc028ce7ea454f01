// Package runlock serializes state-mutating operations across goroutines and,
// with Redis, across treasury processes sharing one database.
package runlock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the lock taken around a payout run. Rule and obligation
// edits do not take it; they rely on the store's unit of work.
const DefaultKey = "lock:treasury:mutations"

// Locker runs fn while holding the lock named key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Local is an in-process Locker.
type Local struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*sync.Mutex)}
}

func (l *Local) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Options tunes lock acquisition.
type Options struct {
	// Expiry bounds how long a crashed holder blocks others. A live holder
	// extends the lock every Expiry/3 until its run returns.
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultOptions suit a payout run that completes within seconds.
func DefaultOptions() Options {
	return Options{
		Expiry:     30 * time.Second,
		Tries:      20,
		RetryDelay: 250 * time.Millisecond,
	}
}

// Redis is a Locker backed by the RedLock algorithm.
type Redis struct {
	rs     *redsync.Redsync
	opts   Options
	logger *slog.Logger
}

// NewRedis creates a distributed locker on client.
func NewRedis(client redis.UniversalClient, opts Options) *Redis {
	if opts.Expiry <= 0 {
		opts = DefaultOptions()
	}
	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: slog.Default().With("component", "runlock"),
	}
}

func (r *Redis) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	mutex := r.rs.NewMutex(key,
		redsync.WithExpiry(r.opts.Expiry),
		redsync.WithTries(r.opts.Tries),
		redsync.WithRetryDelay(r.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	defer func() {
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			r.logger.Warn("failed to release lock", "key", key, "ok", ok, "error", err)
		}
	}()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.keepAlive(ctx, mutex, key, done)
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	return fn(ctx)
}

// keepAlive extends mutex until done is closed.
func (r *Redis) keepAlive(ctx context.Context, mutex *redsync.Mutex, key string, done <-chan struct{}) {
	ticker := time.NewTicker(r.opts.Expiry / 3)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if ok, err := mutex.ExtendContext(context.WithoutCancel(ctx)); !ok || err != nil {
				r.logger.Warn("failed to extend lock", "key", key, "ok", ok, "error", err)
			}
		}
	}
}
