package executor

import (
	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/market"
)

// MakerPrice emulates post-only semantics on venues without native support.
// The price is first clamped to the passive side of the book, then padded
// away from the touch if it would still cross: by one tick when the tick size
// is known, otherwise by the configured buffer in basis points. An empty book
// side is skipped rather than treated as price zero.
func MakerPrice(side intent.Side, price float64, ob market.Orderbook, tick float64, cfg config.MakerEmulationConfig) float64 {
	buffer := cfg.BufferBps / 10000

	switch side {
	case intent.Buy:
		if ob.Bid > 0 && price > ob.Bid {
			price = ob.Bid
		}
		if ob.Ask > 0 && price >= ob.Ask {
			if cfg.UseTick && tick > 0 {
				price = ob.Ask - tick
			} else {
				price = ob.Ask * (1 - buffer)
			}
		}
	case intent.Sell:
		if ob.Ask > 0 && price < ob.Ask {
			price = ob.Ask
		}
		if ob.Bid > 0 && price <= ob.Bid {
			if cfg.UseTick && tick > 0 {
				price = ob.Bid + tick
			} else {
				price = ob.Bid * (1 + buffer)
			}
		}
	}
	return price
}
