package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/propose"
)

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Propose a full close of the open position",
	Long: `Create a sell intent for the entire open position at the latest close
price. The intent still passes through approval and execution like any other.

Example:
  tradeagent close --mode paper`,
	RunE: runClose,
}

var (
	closeSymbol string
	closeMode   string
)

func init() {
	rootCmd.AddCommand(closeCmd)

	closeCmd.Flags().StringVarP(&closeSymbol, "symbol", "s", "", "symbol to close (default: first whitelisted)")
	closeCmd.Flags().StringVarP(&closeMode, "mode", "m", "", "execution mode: paper or live (default: config trading.mode)")
}

func runClose(cmd *cobra.Command, args []string) error {
	svc, err := buildServices()
	if err != nil {
		return err
	}
	defer svc.close()

	mode := closeMode
	if mode == "" {
		mode = svc.cfg.Trading.Mode
	}

	result, err := svc.proposer.ClosePosition(closeSymbol, intent.Mode(mode))
	if err != nil {
		return err
	}

	if result.Status != propose.CandidateProposed {
		fmt.Printf("Rejected: %s\n", result.Reason)
		return nil
	}
	fmt.Printf("✓ Close intent proposed: %s\n", result.IntentID)
	fmt.Printf("  sell %.8f @ %.2f\n", result.Size, result.Price)
	fmt.Printf("\nApprove with:\n  tradeagent approve %s --phrase \"%s\"\n",
		result.IntentID, svc.cfg.Trading.ApprovalPhrase)
	return nil
}
