package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/treasury/pkg/errs"
	"github.com/Mindburn-Labs/treasury/pkg/finance"
	"github.com/Mindburn-Labs/treasury/pkg/settlement"
)

// outboxTable implements settlement.Sink inside a transaction.
type outboxTable struct {
	q      querier
	rebind func(string) string
}

func (t *outboxTable) Emit(ctx context.Context, ev settlement.Event) error {
	_, digest, err := settlement.Encode(ev)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO settlement_outbox (id, run_id, kind, from_account, to_account, amount, symbol, decimals, memo, digest, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = t.q.ExecContext(ctx, t.rebind(query),
		ev.ID, ev.RunID, string(ev.Kind), ev.From, ev.To,
		ev.Amount.Amount, ev.Amount.Symbol, ev.Amount.Precision, ev.Memo, digest, formatTime(ev.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.AlreadyExists("store.outbox", "event %s already scheduled", ev.ID)
		}
		return fmt.Errorf("failed to schedule settlement event: %w", err)
	}
	return nil
}

func (s *SQL) Pending(ctx context.Context, limit int) ([]settlement.Event, error) {
	query := `
		SELECT seq, id, run_id, kind, from_account, to_account, amount, symbol, decimals, memo, created_at
		FROM settlement_outbox
		WHERE published_at IS NULL
		ORDER BY seq ASC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	//nolint:prealloc // result count unknown from SQL query
	var results []settlement.Event
	for rows.Next() {
		var (
			ev        settlement.Event
			kind      string
			amount    int64
			symbol    string
			decimals  int
			createdAt string
		)
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.RunID, &kind, &ev.From, &ev.To, &amount, &symbol, &decimals, &ev.Memo, &createdAt); err != nil {
			return nil, err
		}
		ev.Kind = settlement.Kind(kind)
		ev.Amount = finance.New(amount, symbol, decimals)
		ev.CreatedAt = parseTime(createdAt)
		results = append(results, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *SQL) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	query := s.rebind(`UPDATE settlement_outbox SET published_at = ? WHERE id = ?`)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, query, now, id); err != nil {
			return fmt.Errorf("failed to mark %s published: %w", id, err)
		}
	}
	return tx.Commit()
}
