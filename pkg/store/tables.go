package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/treasury/pkg/finance"
	"github.com/Mindburn-Labs/treasury/pkg/payout"
	"github.com/Mindburn-Labs/treasury/pkg/rexbuy"
)

// ruleTable implements payout.Repository on payout_rules.
type ruleTable struct {
	q      querier
	rebind func(string) string
}

const ruleColumns = `beneficiary, amount, symbol, decimals, interval_seconds, last_payout_at`

func (t *ruleTable) Get(ctx context.Context, beneficiary string) (payout.Rule, bool, error) {
	row := t.q.QueryRowContext(ctx, t.rebind(`SELECT `+ruleColumns+` FROM payout_rules WHERE beneficiary = ?`), beneficiary)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return payout.Rule{}, false, nil
	}
	if err != nil {
		return payout.Rule{}, false, fmt.Errorf("store: get rule %s: %w", beneficiary, err)
	}
	return r, true, nil
}

func (t *ruleTable) List(ctx context.Context) ([]payout.Rule, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT `+ruleColumns+` FROM payout_rules ORDER BY beneficiary`)
	if err != nil {
		return nil, fmt.Errorf("store: list rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	//nolint:prealloc // result count unknown from SQL query
	var out []payout.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *ruleTable) Put(ctx context.Context, r payout.Rule) error {
	query := `
		INSERT INTO payout_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (beneficiary) DO UPDATE SET
			amount = EXCLUDED.amount,
			symbol = EXCLUDED.symbol,
			decimals = EXCLUDED.decimals,
			interval_seconds = EXCLUDED.interval_seconds,
			last_payout_at = EXCLUDED.last_payout_at
	`
	_, err := t.q.ExecContext(ctx, t.rebind(query),
		r.Beneficiary, r.Amount.Amount, r.Amount.Symbol, r.Amount.Precision,
		int64(r.Interval/time.Second), unixSeconds(r.LastPayoutAt),
	)
	if err != nil {
		return fmt.Errorf("store: put rule %s: %w", r.Beneficiary, err)
	}
	return nil
}

func (t *ruleTable) Delete(ctx context.Context, beneficiary string) error {
	if _, err := t.q.ExecContext(ctx, t.rebind(`DELETE FROM payout_rules WHERE beneficiary = ?`), beneficiary); err != nil {
		return fmt.Errorf("store: delete rule %s: %w", beneficiary, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner) (payout.Rule, error) {
	var (
		r                payout.Rule
		amount, interval int64
		lastPayout       int64
		symbol           string
		decimals         int
	)
	if err := s.Scan(&r.Beneficiary, &amount, &symbol, &decimals, &interval, &lastPayout); err != nil {
		return payout.Rule{}, err
	}
	r.Amount = finance.New(amount, symbol, decimals)
	r.Interval = time.Duration(interval) * time.Second
	r.LastPayoutAt = fromUnix(lastPayout)
	return r, nil
}

// obligationTable implements rexbuy.Repository on resource_buys.
type obligationTable struct {
	q      querier
	rebind func(string) string
}

const obligationColumns = `receiver, in_progress, interval_seconds, buy_time, target_net, target_cpu, net_left, cpu_left, symbol, decimals`

func (t *obligationTable) Get(ctx context.Context, receiver string) (rexbuy.Obligation, bool, error) {
	row := t.q.QueryRowContext(ctx, t.rebind(`SELECT `+obligationColumns+` FROM resource_buys WHERE receiver = ?`), receiver)
	o, err := scanObligation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rexbuy.Obligation{}, false, nil
	}
	if err != nil {
		return rexbuy.Obligation{}, false, fmt.Errorf("store: get obligation %s: %w", receiver, err)
	}
	return o, true, nil
}

func (t *obligationTable) ListByBuyTime(ctx context.Context) ([]rexbuy.Obligation, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT `+obligationColumns+` FROM resource_buys ORDER BY buy_time, receiver`)
	if err != nil {
		return nil, fmt.Errorf("store: list obligations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	//nolint:prealloc // result count unknown from SQL query
	var out []rexbuy.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan obligation: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *obligationTable) Put(ctx context.Context, o rexbuy.Obligation) error {
	query := `
		INSERT INTO resource_buys (` + obligationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (receiver) DO UPDATE SET
			in_progress = EXCLUDED.in_progress,
			interval_seconds = EXCLUDED.interval_seconds,
			buy_time = EXCLUDED.buy_time,
			target_net = EXCLUDED.target_net,
			target_cpu = EXCLUDED.target_cpu,
			net_left = EXCLUDED.net_left,
			cpu_left = EXCLUDED.cpu_left,
			symbol = EXCLUDED.symbol,
			decimals = EXCLUDED.decimals
	`
	// All four amounts share the target net unit.
	unit := o.TargetNet
	_, err := t.q.ExecContext(ctx, t.rebind(query),
		o.Receiver, o.InProgress, int64(o.Interval/time.Second), unixSeconds(o.BuyTime),
		o.TargetNet.Amount, o.TargetCPU.Amount, o.NetLeft.Amount, o.CPULeft.Amount,
		unit.Symbol, unit.Precision,
	)
	if err != nil {
		return fmt.Errorf("store: put obligation %s: %w", o.Receiver, err)
	}
	return nil
}

func (t *obligationTable) Delete(ctx context.Context, receiver string) error {
	if _, err := t.q.ExecContext(ctx, t.rebind(`DELETE FROM resource_buys WHERE receiver = ?`), receiver); err != nil {
		return fmt.Errorf("store: delete obligation %s: %w", receiver, err)
	}
	return nil
}

func scanObligation(s scanner) (rexbuy.Obligation, error) {
	var (
		o                    rexbuy.Obligation
		interval, buyTime    int64
		targetNet, targetCPU int64
		netLeft, cpuLeft     int64
		symbol               string
		decimals             int
	)
	if err := s.Scan(&o.Receiver, &o.InProgress, &interval, &buyTime,
		&targetNet, &targetCPU, &netLeft, &cpuLeft, &symbol, &decimals); err != nil {
		return rexbuy.Obligation{}, err
	}
	o.Interval = time.Duration(interval) * time.Second
	o.BuyTime = fromUnix(buyTime)
	o.TargetNet = finance.New(targetNet, symbol, decimals)
	o.TargetCPU = finance.New(targetCPU, symbol, decimals)
	o.NetLeft = finance.New(netLeft, symbol, decimals)
	o.CPULeft = finance.New(cpuLeft, symbol, decimals)
	return o, nil
}
