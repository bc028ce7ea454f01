package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour of a SQL backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

const schemaCommon = `
CREATE TABLE IF NOT EXISTS payout_rules (
	beneficiary      TEXT PRIMARY KEY,
	amount           BIGINT NOT NULL,
	symbol           TEXT NOT NULL,
	decimals         INTEGER NOT NULL,
	interval_seconds BIGINT NOT NULL,
	last_payout_at   BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS resource_buys (
	receiver         TEXT PRIMARY KEY,
	in_progress      BOOLEAN NOT NULL,
	interval_seconds BIGINT NOT NULL,
	buy_time         BIGINT NOT NULL,
	target_net       BIGINT NOT NULL,
	target_cpu       BIGINT NOT NULL,
	net_left         BIGINT NOT NULL,
	cpu_left         BIGINT NOT NULL,
	symbol           TEXT NOT NULL,
	decimals         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS resource_buys_buy_time ON resource_buys (buy_time);
`

const outboxColumns = `
	id           TEXT NOT NULL UNIQUE,
	run_id       TEXT NOT NULL,
	kind         TEXT NOT NULL,
	from_account TEXT NOT NULL,
	to_account   TEXT NOT NULL DEFAULT '',
	amount       BIGINT NOT NULL,
	symbol       TEXT NOT NULL,
	decimals     INTEGER NOT NULL,
	memo         TEXT NOT NULL DEFAULT '',
	digest       TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	published_at TEXT
`

var outboxSchema = map[Dialect]string{
	SQLite:   `CREATE TABLE IF NOT EXISTS settlement_outbox (seq INTEGER PRIMARY KEY AUTOINCREMENT,` + outboxColumns + `);`,
	Postgres: `CREATE TABLE IF NOT EXISTS settlement_outbox (seq BIGSERIAL PRIMARY KEY,` + outboxColumns + `);`,
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQL is a Backend on database/sql. Queries are written with ? placeholders
// and rebound for the dialect.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQL wraps an open database. Call Init before first use.
func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect}
}

// OpenSQL opens dsn with the dialect's driver and creates the schema.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQL, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// One writer; keeps the file free of SQLITE_BUSY under the run loop.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", dialect, err)
	}
	s := NewSQL(db, dialect)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the tables if they do not exist.
func (s *SQL) Init(ctx context.Context) error {
	for _, stmt := range splitStatements(schemaCommon + outboxSchema[s.dialect]) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

// advisoryLockKey names the PostgreSQL advisory lock held by every unit of
// work. It spells "treasury" in ASCII.
const advisoryLockKey int64 = 0x7472656173757279

// Atomic runs fn in one transaction. On PostgreSQL the transaction first
// takes a transaction-scoped advisory lock, so units of work from any number
// of processes sharing the database run one at a time. SQLite gets the same
// effect from its single writer.
func (s *SQL) Atomic(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.dialect == Postgres {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
			return fmt.Errorf("store: advisory lock: %w", err)
		}
	}

	repos := Repos{
		Rules:       &ruleTable{q: tx, rebind: s.rebind},
		Obligations: &obligationTable{q: tx, rebind: s.rebind},
		Outbox:      &outboxTable{q: tx, rebind: s.rebind},
	}
	if err := fn(ctx, repos); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (s *SQL) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQL) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func splitStatements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// isUniqueViolation reports a primary-key or unique-constraint conflict.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func unixSeconds(t time.Time) int64 { return t.Unix() }

func fromUnix(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
