package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeagent/backtest"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay stored history through the strategy and risk stack",
	Long: `Run a point-in-time-correct backtest over stored candles and news.

At each bar the strategy only sees data that was available at that bar's open
time; risk state resets at every UTC day boundary, matching live operation.
Reports (metrics JSON, equity CSV, text summary) are written to the output
directory.

Example:
  tradeagent backtest --start 2026-01-01 --end 2026-03-31 --strategy news_overlay`,
	RunE: runBacktest,
}

var (
	backtestSymbol    string
	backtestTimeframe string
	backtestStart     string
	backtestEnd       string
	backtestStrategy  string
	backtestOutput    string
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVarP(&backtestSymbol, "symbol", "s", "", "symbol to backtest (default: first whitelisted)")
	backtestCmd.Flags().StringVarP(&backtestTimeframe, "timeframe", "t", "", "candle timeframe (default: first configured)")
	backtestCmd.Flags().StringVar(&backtestStart, "start", "", "start date YYYY-MM-DD (required)")
	backtestCmd.Flags().StringVar(&backtestEnd, "end", "", "end date YYYY-MM-DD (required)")
	backtestCmd.Flags().StringVar(&backtestStrategy, "strategy", "news_overlay", "strategy: baseline or news_overlay")
	backtestCmd.Flags().StringVarP(&backtestOutput, "output", "o", "reports", "output directory for reports")
	backtestCmd.MarkFlagRequired("start")
	backtestCmd.MarkFlagRequired("end")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	svc, err := buildServices()
	if err != nil {
		return err
	}
	defer svc.close()

	symbol := backtestSymbol
	if symbol == "" {
		symbol = svc.cfg.Trading.SymbolWhitelist[0]
	}
	timeframe := backtestTimeframe
	if timeframe == "" {
		timeframe = svc.cfg.Trading.Timeframes[0]
	}

	engine := backtest.NewEngine(svc.store, svc.cfg)
	result, err := engine.Run(backtest.Request{
		Symbol:    symbol,
		Timeframe: timeframe,
		Start:     backtestStart,
		End:       backtestEnd,
		Strategy:  backtestStrategy,
		OutputDir: backtestOutput,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Backtest %s %s %s..%s (%d trades)\n\n",
		symbol, timeframe, backtestStart, backtestEnd, result.Metrics.NumTrades)
	fmt.Print(backtest.FormatSummary(result.Metrics))
	fmt.Printf("\nReports:\n  %s\n  %s\n  %s\n",
		result.Paths.JSON, result.Paths.Equity, result.Paths.Summary)
	return nil
}
