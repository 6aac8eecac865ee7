package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeagent/executor"
	"github.com/rustyeddy/tradeagent/intent"
)

var executeCmd = &cobra.Command{
	Use:   "execute <intent-id>",
	Short: "Execute an approved order intent",
	Long: `Run the full execution gate for one intent and place the order.

Every gate is re-checked at execution time: hash integrity, expiry, approval
binding, kill switch, and a fresh risk evaluation. Live execution further
requires dry_run off, the double live-trading consent, and exchange
credentials.

Example:
  tradeagent execute 1a2b3c...`,
	Args: cobra.ExactArgs(1),
	RunE: runExecute,
}

func init() {
	rootCmd.AddCommand(executeCmd)
}

func runExecute(cmd *cobra.Command, args []string) error {
	svc, err := buildServices()
	if err != nil {
		return err
	}
	defer svc.close()

	outcome, err := svc.exec.Execute(cmd.Context(), args[0])
	if err != nil {
		if outcome.Reason != "" {
			fmt.Printf("Execution blocked: %s\n", outcome.Reason)
		}
		return err
	}

	printOutcome(outcome)
	return nil
}

func printOutcome(outcome executor.Outcome) {
	switch outcome.Status {
	case intent.StatusFilled:
		fmt.Printf("✓ Filled: %.8f @ %.2f\n", outcome.FillSize, outcome.Price)
		fmt.Printf("  Fee: %.2f  PnL: %.2f\n", outcome.Fee, outcome.PnL)
	case intent.StatusOpen:
		fmt.Printf("Order resting, not filled (%s)\n", outcome.Reason)
	case intent.StatusCanceled:
		fmt.Printf("Order canceled after timeout (filled %.8f)\n", outcome.FillSize)
	default:
		fmt.Printf("Execution ended with status %s: %s\n", outcome.Status, outcome.Reason)
	}
}
