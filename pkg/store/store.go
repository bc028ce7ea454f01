// Package store persists payout rules, resource-buy obligations and the
// settlement outbox, and runs every mutation as one atomic unit of work.
//
// Two backends are provided: Memory for tests and single-process use, and
// SQL for SQLite (lite mode) and PostgreSQL.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Mindburn-Labs/treasury/pkg/payout"
	"github.com/Mindburn-Labs/treasury/pkg/rexbuy"
	"github.com/Mindburn-Labs/treasury/pkg/settlement"
)

// Repos are the tables visible inside one unit of work. Writes through any
// of them, including events emitted to Outbox, commit or roll back together.
type Repos struct {
	Rules       payout.Repository
	Obligations rexbuy.Repository
	Outbox      settlement.Sink
}

// Backend runs units of work and serves the committed outbox to a relay.
type Backend interface {
	// Atomic runs fn in a unit of work. If fn returns an error nothing it
	// wrote is kept. Units of work never overlap.
	Atomic(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
	settlement.OutboxReader
	Close() error
}

// Open returns the backend for url:
//
//	memory://                      in-process, not durable
//	sqlite://path/to/treasury.db   lite mode
//	postgres://... | postgresql:// PostgreSQL via lib/pq
func Open(ctx context.Context, url string) (Backend, error) {
	switch {
	case url == "" || url == "memory://":
		return NewMemory(), nil
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, fmt.Errorf("store: create data dir: %w", err)
			}
		}
		return OpenSQL(ctx, SQLite, path)
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return OpenSQL(ctx, Postgres, url)
	default:
		return nil, fmt.Errorf("store: unsupported database url %q", url)
	}
}
