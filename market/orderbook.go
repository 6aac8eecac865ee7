package market

import "time"

// Orderbook is a top-of-book snapshot. The engine never needs depth beyond
// best bid/ask (fills are modeled probabilistically, not matched).
type Orderbook struct {
	Symbol  string
	Bid     float64
	Ask     float64
	BidSize float64
	AskSize float64
	TS      time.Time
}

// Mid returns the midpoint price, or whichever side exists when the other
// is empty.
func (o Orderbook) Mid() float64 {
	switch {
	case o.Bid > 0 && o.Ask > 0:
		return (o.Bid + o.Ask) / 2
	case o.Bid > 0:
		return o.Bid
	default:
		return o.Ask
	}
}

// EstimateFromPrice synthesizes a top-of-book snapshot from a last price and
// a configured spread, for paper fills when no real snapshot is stored.
func EstimateFromPrice(symbol string, price, spreadBps float64, ts time.Time) Orderbook {
	half := price * (spreadBps / 10000) / 2
	bid := price - half
	if bid < 0 {
		bid = 0
	}
	return Orderbook{
		Symbol:  symbol,
		Bid:     bid,
		Ask:     price + half,
		BidSize: 1.0,
		AskSize: 1.0,
		TS:      ts,
	}
}
