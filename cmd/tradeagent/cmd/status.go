package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/risk"
	"github.com/rustyeddy/tradeagent/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show position, risk state and intent counts",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	svc, err := buildServices()
	if err != nil {
		return err
	}
	defer svc.close()

	symbol := svc.cfg.Trading.SymbolWhitelist[0]
	timeframe := svc.cfg.Trading.Timeframes[0]

	position, avgCost, err := svc.store.PositionState(symbol)
	if err != nil {
		return err
	}

	fmt.Printf("Mode: %s  DryRun: %v  KillSwitch: %v\n",
		svc.cfg.Trading.Mode, svc.cfg.Trading.DryRun, svc.cfg.Trading.KillSwitch)
	fmt.Printf("Symbol: %s\n", symbol)
	fmt.Printf("Position: %.8f", position)
	if position > 0 {
		fmt.Printf(" (avg cost %.2f)", avgCost)
	}
	fmt.Println()

	latest, ok, err := svc.store.LatestCandle(symbol, timeframe)
	if err != nil {
		return err
	}
	if ok {
		fmt.Printf("Last price: %.2f (%s %s)\n", latest.Close, timeframe, latest.Time().Format("2006-01-02 15:04"))
		state, err := risk.FromStorageSnapshot(svc.store, symbol, latest.Close, time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Printf("Today: pnl=%.2f orders=%d/%d unrealized=%.2f\n",
			state.DailyPnL, state.DailyOrders, svc.cfg.Risk.MaxOrdersPerDay, state.UnrealizedPnL)
	}

	counts, err := svc.store.CountIntents()
	if err != nil {
		return err
	}
	if len(counts) > 0 {
		fmt.Println("\nIntents:")
		for _, s := range []intent.Status{
			intent.StatusProposed, intent.StatusApproved, intent.StatusOpen,
			intent.StatusFilled, intent.StatusRejected, intent.StatusExpired,
			intent.StatusCanceled, intent.StatusError,
		} {
			if n := counts[s]; n > 0 {
				fmt.Printf("  %-9s %d\n", s, n)
			}
		}
	}

	rec, err := svc.store.LatestIntentByStatus(intent.StatusProposed)
	if err != nil && !errors.Is(err, store.ErrIntentNotFound) {
		return err
	}
	if err == nil {
		fmt.Printf("\nLatest proposed: %s (%s %.8f @ %.2f)\n",
			rec.Intent.IntentID, rec.Intent.Side, rec.Intent.Size, rec.Intent.Price)
	}
	return nil
}
