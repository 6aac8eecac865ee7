package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/propose"
)

var proposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Generate a trade plan and freeze it into an order intent",
	Long: `Run the configured strategy over stored candles and news, gate the plan
through the risk engine, and persist the result as a proposed order intent.

A hold or risk-rejected plan creates no intent; the reason is printed instead.

Example:
  tradeagent propose --strategy news_overlay --refresh`,
	RunE: runPropose,
}

var (
	proposeSymbol   string
	proposeStrategy string
	proposeMode     string
	proposeRefresh  bool
)

func init() {
	rootCmd.AddCommand(proposeCmd)

	proposeCmd.Flags().StringVarP(&proposeSymbol, "symbol", "s", "", "symbol to trade (default: first whitelisted)")
	proposeCmd.Flags().StringVar(&proposeStrategy, "strategy", "news_overlay", "strategy: baseline or news_overlay")
	proposeCmd.Flags().StringVarP(&proposeMode, "mode", "m", "", "execution mode: paper or live (default: config trading.mode)")
	proposeCmd.Flags().BoolVar(&proposeRefresh, "refresh", false, "fetch fresh candles from the exchange first")
}

func runPropose(cmd *cobra.Command, args []string) error {
	svc, err := buildServices()
	if err != nil {
		return err
	}
	defer svc.close()

	mode := proposeMode
	if mode == "" {
		mode = svc.cfg.Trading.Mode
	}

	result, err := svc.proposer.Propose(cmd.Context(), propose.Params{
		Symbol:   proposeSymbol,
		Strategy: proposeStrategy,
		Mode:     intent.Mode(mode),
		Refresh:  proposeRefresh,
	})
	if err != nil {
		return err
	}

	switch result.Status {
	case propose.CandidateProposed:
		fmt.Printf("✓ Intent proposed: %s\n", result.IntentID)
		fmt.Printf("  Hash: %s\n", result.Hash)
		fmt.Printf("  %s %s %.8f @ %.2f (confidence %.2f)\n",
			result.Side, proposeSymbolOrDefault(svc), result.Size, result.Price, result.Confidence)
		fmt.Printf("  Rationale: %s\n", result.Rationale)
		fmt.Printf("  Expires: %s\n", result.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Printf("\nApprove with:\n  tradeagent approve %s --phrase \"%s\"\n",
			result.IntentID, svc.cfg.Trading.ApprovalPhrase)
	case propose.CandidateHold:
		fmt.Printf("No trade: %s\n", result.Rationale)
	default:
		fmt.Printf("Rejected: %s\n", result.Reason)
	}
	return nil
}

func proposeSymbolOrDefault(svc *services) string {
	if proposeSymbol != "" {
		return proposeSymbol
	}
	return svc.cfg.Trading.SymbolWhitelist[0]
}
