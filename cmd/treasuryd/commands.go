package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/treasury/pkg/errs"
	"github.com/Mindburn-Labs/treasury/pkg/finance"
)

// command parses flags, builds the app and runs fn. Exit codes: 0 success,
// 1 operation failed, 2 usage error.
func command(name string, nargs int, usage string, args []string, stdout, stderr io.Writer,
	fn func(ctx context.Context, a *app, args []string) error) int {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { _, _ = fmt.Fprintf(stderr, "Usage: treasuryd %s %s\n", name, usage) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != nargs {
		fs.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close(context.Background())

	if err := fn(ctx, a, fs.Args()); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func runServeCmd(args []string, stdout, stderr io.Writer) int {
	return command("serve", 0, "", args, stdout, stderr, func(ctx context.Context, a *app, _ []string) error {
		a.logger.InfoContext(ctx, "treasury daemon started",
			"account", a.cfg.Account, "interval", a.cfg.PayInterval.String(), "database", redactURL(a.cfg.DatabaseURL))

		ticker := time.NewTicker(a.cfg.PayInterval)
		defer ticker.Stop()
		for {
			tick(ctx, a)
			select {
			case <-ctx.Done():
				a.logger.Info("treasury daemon stopping")
				return nil
			case <-ticker.C:
			}
		}
	})
}

// tick runs one payout round and relays whatever is pending, including
// events left over from earlier rounds.
func tick(ctx context.Context, a *app) {
	report, err := a.svc.RunPayouts(ctx)
	switch {
	case errors.Is(err, errs.ErrPrecondition):
		a.logger.DebugContext(ctx, "no payouts due")
	case err != nil:
		a.logger.ErrorContext(ctx, "payout run failed", "error", err)
	default:
		a.logger.InfoContext(ctx, "payout run", "run_id", report.RunID, "disbursements", len(report.Disbursements))
	}

	if n, err := a.relay.Drain(ctx); err != nil {
		a.logger.WarnContext(ctx, "settlement relay", "delivered", n, "error", err)
	}
}

func runPayCmd(args []string, stdout, stderr io.Writer) int {
	return command("pay", 0, "", args, stdout, stderr, func(ctx context.Context, a *app, _ []string) error {
		report, err := a.svc.RunPayouts(ctx)
		if err != nil {
			return err
		}
		if _, err := a.relay.Drain(ctx); err != nil {
			return err
		}
		return writeJSON(stdout, report)
	})
}

func runSetRuleCmd(args []string, stdout, stderr io.Writer) int {
	return command("set-rule", 2, "<kind> <amount>", args, stdout, stderr, func(ctx context.Context, a *app, args []string) error {
		amount, err := finance.Parse(args[1], a.cfg.Symbol, a.cfg.Precision)
		if err != nil {
			return err
		}
		if ctx, err = a.operatorContext(ctx); err != nil {
			return err
		}
		rule, err := a.svc.SetRule(ctx, args[0], amount)
		if err != nil {
			return err
		}
		return writeJSON(stdout, rule)
	})
}

func runDeleteRuleCmd(args []string, stdout, stderr io.Writer) int {
	return command("delete-rule", 1, "<account>", args, stdout, stderr, func(ctx context.Context, a *app, args []string) error {
		ctx, err := a.operatorContext(ctx)
		if err != nil {
			return err
		}
		if err := a.svc.DeleteRule(ctx, args[0]); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "deleted payout rule for %s\n", args[0])
		return nil
	})
}

func runRegisterCmd(args []string, stdout, stderr io.Writer) int {
	usage := "<receiver> <buy_time_unix> <interval_s> <cpu> <net>"
	return command("register", 5, usage, args, stdout, stderr, func(ctx context.Context, a *app, args []string) error {
		buyTime, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return errs.Validation("register", "buy_time %q is not a unix timestamp", args[1])
		}
		interval, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return errs.Validation("register", "interval %q is not a number of seconds", args[2])
		}
		cpu, err := finance.Parse(args[3], a.cfg.Symbol, a.cfg.Precision)
		if err != nil {
			return err
		}
		net, err := finance.Parse(args[4], a.cfg.Symbol, a.cfg.Precision)
		if err != nil {
			return err
		}

		if ctx, err = a.operatorContext(ctx); err != nil {
			return err
		}
		o, err := a.svc.RegisterObligation(ctx, args[0], time.Unix(buyTime, 0), time.Duration(interval)*time.Second, cpu, net)
		if err != nil {
			return err
		}
		return writeJSON(stdout, o)
	})
}

func runCancelCmd(args []string, stdout, stderr io.Writer) int {
	return command("cancel", 1, "<receiver>", args, stdout, stderr, func(ctx context.Context, a *app, args []string) error {
		ctx, err := a.operatorContext(ctx)
		if err != nil {
			return err
		}
		if err := a.svc.CancelObligation(ctx, args[0]); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "cancelled resource purchase for %s\n", args[0])
		return nil
	})
}

func runListCmd(args []string, stdout, stderr io.Writer) int {
	return command("list", 0, "", args, stdout, stderr, func(ctx context.Context, a *app, _ []string) error {
		rules, err := a.svc.Rules(ctx)
		if err != nil {
			return err
		}
		obligations, err := a.svc.Obligations(ctx)
		if err != nil {
			return err
		}
		return writeJSON(stdout, map[string]any{
			"rules":       rules,
			"obligations": obligations,
		})
	})
}

// redactURL drops credentials from a database URL before logging it.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
