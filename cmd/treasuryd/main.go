package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "serve", "server":
		return runServeCmd(args[2:], stdout, stderr)
	case "pay":
		return runPayCmd(args[2:], stdout, stderr)
	case "set-rule":
		return runSetRuleCmd(args[2:], stdout, stderr)
	case "delete-rule":
		return runDeleteRuleCmd(args[2:], stdout, stderr)
	case "register":
		return runRegisterCmd(args[2:], stdout, stderr)
	case "cancel":
		return runCancelCmd(args[2:], stdout, stderr)
	case "list":
		return runListCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: treasuryd <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Commands:")
	printCommand(w, "serve", "Run payouts every PAY_INTERVAL and relay settlement events")
	printCommand(w, "pay", "Run due payouts once")
	printCommand(w, "set-rule", "<kind> <amount>  Set the per-interval payout for a beneficiary kind")
	printCommand(w, "delete-rule", "<account>  Stop payouts to an account")
	printCommand(w, "register", "<receiver> <buy_time_unix> <interval_s> <cpu> <net>  Queue a resource purchase")
	printCommand(w, "cancel", "<receiver>  Remove a resource purchase")
	printCommand(w, "list", "Print rules and obligations as JSON")
	printCommand(w, "help", "Show this help")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Configuration is read from the environment (DATABASE_URL, TREASURY_ACCOUNT, ...).")
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %-12s %s\n", name, desc)
}
