package strategy

import (
	"fmt"

	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/news"
)

// NewsOverlay wraps the baseline signal and scales its size by aggregated
// news sentiment: strong positive sentiment boosts, strong negative cuts.
// Sentiment never creates a trade on its own; a baseline hold stays a hold.
type NewsOverlay struct {
	baseline *Baseline
	cfg      config.NewsOverlayConfig
}

// NewNewsOverlay builds the overlay on top of a fresh baseline instance.
func NewNewsOverlay(risk config.RiskConfig, base config.BaselineConfig, cfg config.NewsOverlayConfig) *NewsOverlay {
	return &NewsOverlay{
		baseline: NewBaseline(risk, base),
		cfg:      cfg,
	}
}

func (n *NewsOverlay) Name() string { return "news_overlay" }

func (n *NewsOverlay) Plan(in Input) intent.TradePlan {
	base := n.baseline.Plan(in)
	if base.Side == intent.Hold {
		return base
	}

	sentiment := news.Sentiment(in.NewsItems)
	plan := base
	plan.Strategy = n.Name()

	switch {
	case sentiment >= n.cfg.SentimentBoostThreshold:
		plan.Size *= n.cfg.BoostMultiplier
		plan.Confidence = min(0.95, plan.Confidence+0.1)
		plan.Rationale = fmt.Sprintf("%s; sentiment boost %.2f", base.Rationale, sentiment)
	case sentiment <= n.cfg.SentimentCutThreshold:
		plan.Size *= n.cfg.CutMultiplier
		plan.Confidence = max(0.1, plan.Confidence-0.1)
		plan.Rationale = fmt.Sprintf("%s; sentiment cut %.2f", base.Rationale, sentiment)
	}
	return plan
}
