package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/propose"
	"github.com/rustyeddy/tradeagent/runner"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the unattended ingest and propose loop",
	Long: `Start the scheduling runner: periodic market ingest and proposal
generation with jittered schedules, duplicate-plan suppression, exponential
error backoff, and a state file that survives restarts.

The runner only proposes; executing an intent still requires approval unless
autopilot engages within its own caps.

Example:
  tradeagent run
  tradeagent run --once`,
	RunE: runRunner,
}

var (
	runOnce      bool
	runMaxCycles int
	runStrategy  string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single cycle and exit")
	runCmd.Flags().IntVar(&runMaxCycles, "max-cycles", 0, "stop after N cycles (0 = unlimited)")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "news_overlay", "strategy: baseline or news_overlay")
}

func runRunner(cmd *cobra.Command, args []string) error {
	svc, err := buildServices()
	if err != nil {
		return err
	}
	defer svc.close()

	if !svc.cfg.Runner.Enabled {
		return fmt.Errorf("runner is disabled in config")
	}

	mode := intent.Mode(svc.cfg.Trading.Mode)
	params := propose.Params{Strategy: runStrategy, Mode: mode}

	funcs := runner.Funcs{
		MarketIngest: func(ctx context.Context) error {
			return svc.proposer.RefreshMarket(ctx, "", svc.cfg.Runner.Orderbook)
		},
		Prepare: func(ctx context.Context) (propose.Candidate, error) {
			return svc.proposer.Prepare(ctx, params)
		},
		Finalize: func(candidate propose.Candidate) (propose.Proposal, error) {
			return svc.proposer.Finalize(candidate, params)
		},
	}

	r := runner.New(svc.cfg, funcs, svc.log, runner.Options{})

	// Stop is observed between cycles: the signal handler only flags the
	// runner, so the cycle in flight finishes and persists its state.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		svc.log.Info("stop requested")
		r.Stop()
	}()

	fmt.Printf("Runner started (mode=%s strategy=%s). Ctrl-C to stop.\n", mode, runStrategy)
	return r.Run(cmd.Context(), runOnce, runMaxCycles)
}
