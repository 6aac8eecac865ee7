package strategy

import (
	"fmt"

	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/market"
)

const baselineConfidence = 0.55

// Baseline is a trend follower: buy when price sits above its SMA with
// positive momentum, sell on the mirror condition, otherwise hold.
type Baseline struct {
	risk config.RiskConfig
	cfg  config.BaselineConfig
}

// NewBaseline builds the baseline strategy.
func NewBaseline(risk config.RiskConfig, cfg config.BaselineConfig) *Baseline {
	return &Baseline{risk: risk, cfg: cfg}
}

func (b *Baseline) Name() string { return "baseline" }

func sma(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Plan evaluates the SMA and momentum signals over the close series.
func (b *Baseline) Plan(in Input) intent.TradePlan {
	need := b.cfg.SMAPeriod
	if b.cfg.MomentumLookback > need {
		need = b.cfg.MomentumLookback
	}
	if len(in.Candles) < need+1 {
		return intent.HoldPlan(in.Symbol, b.Name(), "insufficient data")
	}

	closes := market.Closes(in.Candles)
	smaValue := sma(closes[len(closes)-b.cfg.SMAPeriod:])
	current := closes[len(closes)-1]
	momentum := current - closes[len(closes)-1-b.cfg.MomentumLookback]

	size := 0.0
	if current > 0 {
		size = b.risk.Capital * b.cfg.BasePositionPct / current
	}

	switch {
	case current > smaValue && momentum > 0:
		return intent.TradePlan{
			Symbol:     in.Symbol,
			Side:       intent.Buy,
			Size:       size,
			Price:      current,
			Confidence: baselineConfidence,
			Rationale:  fmt.Sprintf("price>%.2f, momentum=%.2f", smaValue, momentum),
			Strategy:   b.Name(),
		}
	case current < smaValue && momentum < 0:
		return intent.TradePlan{
			Symbol:     in.Symbol,
			Side:       intent.Sell,
			Size:       size,
			Price:      current,
			Confidence: baselineConfidence,
			Rationale:  fmt.Sprintf("price<%.2f, momentum=%.2f", smaValue, momentum),
			Strategy:   b.Name(),
		}
	}
	return intent.HoldPlan(in.Symbol, b.Name(),
		fmt.Sprintf("no signal (price=%.2f, sma=%.2f)", current, smaValue))
}
