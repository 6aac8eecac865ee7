package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rustyeddy/tradeagent/approval"
	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/exchange"
	"github.com/rustyeddy/tradeagent/executor"
	"github.com/rustyeddy/tradeagent/propose"
	"github.com/rustyeddy/tradeagent/store"
)

var rootCmd = &cobra.Command{
	Use:   "tradeagent",
	Short: "A decision-to-execution trading agent with human-approved order intents",
	Long: `Tradeagent separates deciding from executing.

Strategies produce trade plans; the risk engine gates and resizes them; an
approved plan is frozen into a hashed order intent that a human signs off on
before anything touches an exchange. Paper trading, live trading, backtests
and the unattended runner all pass through the same gates.

Typical flow:
  tradeagent propose --refresh
  tradeagent approve <intent-id> --phrase "I APPROVE"
  tradeagent execute <intent-id>`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

var cfgPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "tradeagent.yaml", "path to config file (YAML or JSON)")
}

func loadSettings() (*config.Settings, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if _, err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Settings) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.App.LogLevel); err != nil {
		level = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}

// services bundles the wired application for subcommands.
type services struct {
	cfg       *config.Settings
	store     *store.Store
	venue     exchange.Client
	proposer  *propose.Service
	approvals *approval.Service
	exec      *executor.Executor
	log       *zap.Logger
}

func (s *services) close() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.log != nil {
		_ = s.log.Sync()
	}
}

func buildServices() (*services, error) {
	cfg, err := loadSettings()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	st, err := store.Open(cfg.ResolveDBPath())
	if err != nil {
		return nil, err
	}

	venue := exchange.Client(exchange.NewREST(cfg.Exchange))
	approvals := approval.New(st, cfg.Trading.ApprovalPhrase)

	return &services{
		cfg:       cfg,
		store:     st,
		venue:     venue,
		proposer:  propose.New(st, venue, cfg, log),
		approvals: approvals,
		exec:      executor.New(st, venue, approvals, cfg, log),
		log:       log,
	}, nil
}
