package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Settings is the complete agent configuration. Values missing from the
// config file keep their defaults from Default().
type Settings struct {
	App       AppConfig       `json:"app" yaml:"app"`
	Exchange  ExchangeConfig  `json:"exchange" yaml:"exchange"`
	Trading   TradingConfig   `json:"trading" yaml:"trading"`
	Risk      RiskConfig      `json:"risk" yaml:"risk"`
	News      NewsConfig      `json:"news" yaml:"news"`
	Strategy  StrategyConfig  `json:"strategy" yaml:"strategy"`
	Paper     PaperConfig     `json:"paper" yaml:"paper"`
	Backtest  BacktestConfig  `json:"backtest" yaml:"backtest"`
	Autopilot AutopilotConfig `json:"autopilot" yaml:"autopilot"`
	Runner    RunnerConfig    `json:"runner" yaml:"runner"`
}

// AppConfig contains process-level parameters.
type AppConfig struct {
	Name     string `json:"name" yaml:"name"`
	DataDir  string `json:"data_dir" yaml:"data_dir"`
	DBPath   string `json:"db_path" yaml:"db_path"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// ExchangeConfig names the exchange and the environment variables holding
// its credentials. Secrets never live in the config file itself.
type ExchangeConfig struct {
	Name         string `json:"name" yaml:"name"`
	BaseURL      string `json:"base_url" yaml:"base_url"`
	APIKeyEnv    string `json:"api_key_env" yaml:"api_key_env"`
	APISecretEnv string `json:"api_secret_env" yaml:"api_secret_env"`
	HasPostOnly  bool   `json:"has_post_only" yaml:"has_post_only"`
	HasOHLCV     bool   `json:"has_ohlcv" yaml:"has_ohlcv"`
}

// MakerEmulationConfig tunes the synthetic post-only price when the exchange
// lacks native support.
type MakerEmulationConfig struct {
	BufferBps float64 `json:"buffer_bps" yaml:"buffer_bps"`
	UseTick   bool    `json:"use_tick" yaml:"use_tick"`
}

// TradingConfig contains the global trade gating parameters.
type TradingConfig struct {
	Mode                   string               `json:"mode" yaml:"mode"`
	DryRun                 bool                 `json:"dry_run" yaml:"dry_run"`
	RequireApproval        bool                 `json:"require_approval" yaml:"require_approval"`
	ApprovalPhrase         string               `json:"approval_phrase" yaml:"approval_phrase"`
	KillSwitch             bool                 `json:"kill_switch" yaml:"kill_switch"`
	IUnderstandLiveTrading bool                 `json:"i_understand_live_trading" yaml:"i_understand_live_trading"`
	LongOnly               bool                 `json:"long_only" yaml:"long_only"`
	SymbolWhitelist        []string             `json:"symbol_whitelist" yaml:"symbol_whitelist"`
	BaseCurrency           string               `json:"base_currency" yaml:"base_currency"`
	Timeframes             []string             `json:"timeframes" yaml:"timeframes"`
	CandleLimit            int                  `json:"candle_limit" yaml:"candle_limit"`
	OrderTimeoutSeconds    int                  `json:"order_timeout_seconds" yaml:"order_timeout_seconds"`
	PostOnly               bool                 `json:"post_only" yaml:"post_only"`
	IntentExpirySeconds    int                  `json:"intent_expiry_seconds" yaml:"intent_expiry_seconds"`
	MakerEmulation         MakerEmulationConfig `json:"maker_emulation" yaml:"maker_emulation"`
}

// RiskConfig holds the hard limits the risk engine enforces. Monetary values
// are in the account's base currency.
type RiskConfig struct {
	Capital           float64 `json:"capital" yaml:"capital"`
	MaxPositionPct    float64 `json:"max_position_pct" yaml:"max_position_pct"`
	MaxOrderNotional  float64 `json:"max_order_notional" yaml:"max_order_notional"`
	MaxLossPerTrade   float64 `json:"max_loss_per_trade" yaml:"max_loss_per_trade"`
	MaxLossPerDay     float64 `json:"max_loss_per_day" yaml:"max_loss_per_day"`
	MaxOrdersPerDay   int     `json:"max_orders_per_day" yaml:"max_orders_per_day"`
	CooldownMinutes   int     `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	CooldownBypassPct float64 `json:"cooldown_bypass_pct" yaml:"cooldown_bypass_pct"`
}

// NewsConfig controls the point-in-time news feature window.
type NewsConfig struct {
	SentimentLookbackHours int `json:"sentiment_lookback_hours" yaml:"sentiment_lookback_hours"`
	NewsLatencySeconds     int `json:"news_latency_seconds" yaml:"news_latency_seconds"`
}

// BaselineConfig parameterizes the SMA+momentum baseline strategy.
type BaselineConfig struct {
	SMAPeriod        int     `json:"sma_period" yaml:"sma_period"`
	MomentumLookback int     `json:"momentum_lookback" yaml:"momentum_lookback"`
	BasePositionPct  float64 `json:"base_position_pct" yaml:"base_position_pct"`
}

// NewsOverlayConfig parameterizes the sentiment overlay strategy.
type NewsOverlayConfig struct {
	SentimentBoostThreshold float64 `json:"sentiment_boost_threshold" yaml:"sentiment_boost_threshold"`
	SentimentCutThreshold   float64 `json:"sentiment_cut_threshold" yaml:"sentiment_cut_threshold"`
	BoostMultiplier         float64 `json:"boost_multiplier" yaml:"boost_multiplier"`
	CutMultiplier           float64 `json:"cut_multiplier" yaml:"cut_multiplier"`
}

// StrategyConfig groups per-strategy settings.
type StrategyConfig struct {
	Baseline    BaselineConfig    `json:"baseline" yaml:"baseline"`
	NewsOverlay NewsOverlayConfig `json:"news_overlay" yaml:"news_overlay"`
}

// PaperConfig tunes the deterministic paper fill model.
type PaperConfig struct {
	Seed            int64   `json:"seed" yaml:"seed"`
	SlippageBps     float64 `json:"slippage_bps" yaml:"slippage_bps"`
	FeeBps          float64 `json:"fee_bps" yaml:"fee_bps"`
	FillProbability float64 `json:"fill_probability" yaml:"fill_probability"`
	SpreadBps       float64 `json:"spread_bps" yaml:"spread_bps"`
}

// BacktestConfig tunes the replay fill assumptions.
type BacktestConfig struct {
	MakerFeeBps float64 `json:"maker_fee_bps" yaml:"maker_fee_bps"`
	TakerFeeBps float64 `json:"taker_fee_bps" yaml:"taker_fee_bps"`
	SlippageBps float64 `json:"slippage_bps" yaml:"slippage_bps"`
	AssumeTaker bool    `json:"assume_taker" yaml:"assume_taker"`
}

// AutopilotConfig bounds unattended execution. Every cap here must be at
// least as strict as the global risk limits for autopilot to engage.
type AutopilotConfig struct {
	Enabled          bool     `json:"enabled" yaml:"enabled"`
	MaxOrderNotional float64  `json:"max_order_notional" yaml:"max_order_notional"`
	MaxLossPerTrade  float64  `json:"max_loss_per_trade" yaml:"max_loss_per_trade"`
	MinConfidence    float64  `json:"min_confidence" yaml:"min_confidence"`
	SymbolWhitelist  []string `json:"symbol_whitelist" yaml:"symbol_whitelist"`
}

// RunnerConfig controls the scheduling loop.
type RunnerConfig struct {
	Enabled                bool `json:"enabled" yaml:"enabled"`
	MarketPollSeconds      int  `json:"market_poll_seconds" yaml:"market_poll_seconds"`
	NewsPollSeconds        int  `json:"news_poll_seconds" yaml:"news_poll_seconds"`
	ProposePollSeconds     int  `json:"propose_poll_seconds" yaml:"propose_poll_seconds"`
	ProposeCooldownSeconds int  `json:"propose_cooldown_seconds" yaml:"propose_cooldown_seconds"`
	Orderbook              bool `json:"orderbook" yaml:"orderbook"`
	JitterSeconds          int  `json:"jitter_seconds" yaml:"jitter_seconds"`
	MaxBackoffSeconds      int  `json:"max_backoff_seconds" yaml:"max_backoff_seconds"`
}

// Default returns a configuration with sensible paper-mode defaults.
func Default() *Settings {
	return &Settings{
		App: AppConfig{
			Name:     "tradeagent",
			DataDir:  "data",
			DBPath:   "tradeagent.db",
			LogLevel: "info",
		},
		Exchange: ExchangeConfig{
			Name:         "bitflyer",
			APIKeyEnv:    "EXCHANGE_API_KEY",
			APISecretEnv: "EXCHANGE_API_SECRET",
			HasPostOnly:  false,
			HasOHLCV:     true,
		},
		Trading: TradingConfig{
			Mode:                "paper",
			DryRun:              true,
			RequireApproval:     true,
			ApprovalPhrase:      "I APPROVE",
			LongOnly:            true,
			SymbolWhitelist:     []string{"BTC/JPY"},
			BaseCurrency:        "JPY",
			Timeframes:          []string{"1m"},
			CandleLimit:         500,
			OrderTimeoutSeconds: 30,
			PostOnly:            true,
			IntentExpirySeconds: 900,
			MakerEmulation:      MakerEmulationConfig{BufferBps: 0.1, UseTick: true},
		},
		Risk: RiskConfig{
			Capital:           500000,
			MaxPositionPct:    0.2,
			MaxOrderNotional:  50000,
			MaxLossPerTrade:   5000,
			MaxLossPerDay:     15000,
			MaxOrdersPerDay:   5,
			CooldownMinutes:   5,
			CooldownBypassPct: 0.02,
		},
		News: NewsConfig{
			SentimentLookbackHours: 12,
			NewsLatencySeconds:     600,
		},
		Strategy: StrategyConfig{
			Baseline: BaselineConfig{
				SMAPeriod:        20,
				MomentumLookback: 10,
				BasePositionPct:  0.1,
			},
			NewsOverlay: NewsOverlayConfig{
				SentimentBoostThreshold: 0.2,
				SentimentCutThreshold:   -0.2,
				BoostMultiplier:         1.3,
				CutMultiplier:           0.5,
			},
		},
		Paper: PaperConfig{
			Seed:            42,
			SlippageBps:     5,
			FeeBps:          10,
			FillProbability: 0.7,
			SpreadBps:       2,
		},
		Backtest: BacktestConfig{
			MakerFeeBps: 5,
			TakerFeeBps: 10,
			SlippageBps: 5,
			AssumeTaker: true,
		},
		Autopilot: AutopilotConfig{
			Enabled:          false,
			MaxOrderNotional: 10000,
			MaxLossPerTrade:  2000,
			MinConfidence:    0.6,
			SymbolWhitelist:  []string{"BTC/JPY"},
		},
		Runner: RunnerConfig{
			Enabled:                true,
			MarketPollSeconds:      30,
			NewsPollSeconds:        120,
			ProposePollSeconds:     60,
			ProposeCooldownSeconds: 300,
			JitterSeconds:          2,
			MaxBackoffSeconds:      300,
		},
	}
}

// Load reads configuration from a file (YAML or JSON), layered over the
// defaults. A `.env` file next to the process, if present, is loaded first so
// credential env vars referenced by the exchange section resolve.
func Load(path string) (*Settings, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile writes the configuration to a file, format chosen by extension.
func (s *Settings) SaveToFile(path string) error {
	var data []byte
	var err error

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		data, err = yaml.Marshal(s)
	} else {
		data, err = json.MarshalIndent(s, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for fatal misconfiguration. These are
// surfaced at startup, never deferred into a runner cycle.
func (s *Settings) Validate() error {
	if s.Exchange.Name == "" {
		return fmt.Errorf("exchange.name is required")
	}
	if s.Trading.Mode != "paper" && s.Trading.Mode != "live" {
		return fmt.Errorf("trading.mode must be 'paper' or 'live'")
	}
	if len(s.Trading.SymbolWhitelist) == 0 {
		return fmt.Errorf("trading.symbol_whitelist must not be empty")
	}
	for _, sym := range s.Trading.SymbolWhitelist {
		if !strings.Contains(sym, "/") {
			return fmt.Errorf("invalid symbol %q: use BASE/QUOTE form (e.g. BTC/JPY)", sym)
		}
	}
	if len(s.Trading.Timeframes) == 0 {
		return fmt.Errorf("trading.timeframes must not be empty")
	}
	if s.Trading.IntentExpirySeconds <= 0 {
		return fmt.Errorf("trading.intent_expiry_seconds must be positive")
	}
	if s.Risk.Capital <= 0 {
		return fmt.Errorf("risk.capital must be positive")
	}
	if s.Risk.MaxOrderNotional > s.Risk.Capital {
		return fmt.Errorf("risk.max_order_notional exceeds capital")
	}
	if s.Paper.FillProbability < 0 || s.Paper.FillProbability > 1 {
		return fmt.Errorf("paper.fill_probability must be within [0,1]")
	}
	if s.Autopilot.MinConfidence < 0 || s.Autopilot.MinConfidence > 1 {
		return fmt.Errorf("autopilot.min_confidence must be within [0,1]")
	}
	return nil
}

// EnsureDataDir creates the data directory if missing and returns its path.
func (s *Settings) EnsureDataDir() (string, error) {
	if err := os.MkdirAll(s.App.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return s.App.DataDir, nil
}

// ResolveDBPath returns the sqlite path, placing relative paths under the
// data directory.
func (s *Settings) ResolveDBPath() string {
	if filepath.IsAbs(s.App.DBPath) {
		return s.App.DBPath
	}
	return filepath.Join(s.App.DataDir, s.App.DBPath)
}
