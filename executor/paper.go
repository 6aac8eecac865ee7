package executor

import (
	"math/rand"

	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/market"
)

// PaperFill is the outcome of one simulated fill attempt.
type PaperFill struct {
	Filled bool
	Price  float64
	Fee    float64
	Reason string
}

// PaperEngine simulates limit order fills against a top-of-book snapshot.
// The RNG is seeded once so a fixed seed replays the same fill sequence.
type PaperEngine struct {
	cfg config.PaperConfig
	rng *rand.Rand
}

// NewPaperEngine builds a paper fill engine from config, seeding its RNG.
func NewPaperEngine(cfg config.PaperConfig) *PaperEngine {
	return &PaperEngine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// SimulateFill resolves a limit order against the book. A crossing order
// fills at the touch adjusted for slippage, but never through its own limit:
// if slippage pushes the fill past the limit the order rests instead. A
// non-crossing order fills at its limit price with the configured
// probability.
func (p *PaperEngine) SimulateFill(side intent.Side, size, limitPrice float64, ob market.Orderbook) PaperFill {
	slip := p.cfg.SlippageBps / 10000
	feeRate := p.cfg.FeeBps / 10000

	fill := func(price float64) PaperFill {
		return PaperFill{
			Filled: true,
			Price:  price,
			Fee:    price * size * feeRate,
			Reason: "crossed",
		}
	}

	switch side {
	case intent.Buy:
		if limitPrice >= ob.Ask {
			price := ob.Ask * (1 + slip)
			if price > limitPrice {
				return PaperFill{Reason: "slippage past limit"}
			}
			return fill(price)
		}
	case intent.Sell:
		if limitPrice <= ob.Bid {
			price := ob.Bid * (1 - slip)
			if price < limitPrice {
				return PaperFill{Reason: "slippage past limit"}
			}
			return fill(price)
		}
	}

	if p.rng.Float64() < p.cfg.FillProbability {
		return PaperFill{
			Filled: true,
			Price:  limitPrice,
			Fee:    limitPrice * size * feeRate,
			Reason: "resting fill",
		}
	}
	return PaperFill{Reason: "no fill"}
}
