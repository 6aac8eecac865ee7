// Package strategy generates trade plans from market and news inputs.
// Strategies are pure: same inputs, same plan. They never size against risk
// limits beyond the configured base position; the risk engine owns the caps.
package strategy

import (
	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/market"
	"github.com/rustyeddy/tradeagent/news"
)

// Input is everything a strategy may look at for one decision. Candles are
// oldest first; NewsItems hold only point-in-time-available rows, filtered by
// the caller.
type Input struct {
	Symbol    string
	Candles   []market.Candle
	NewsItems []news.Item
}

// Strategy produces a plan from one decision input.
type Strategy interface {
	Name() string
	Plan(in Input) intent.TradePlan
}

// ForName resolves a configured strategy by name, defaulting to the news
// overlay.
func ForName(name string, risk config.RiskConfig, cfg config.StrategyConfig) Strategy {
	if name == "baseline" {
		return NewBaseline(risk, cfg.Baseline)
	}
	return NewNewsOverlay(risk, cfg.Baseline, cfg.NewsOverlay)
}
