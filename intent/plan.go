// Package intent defines trade plans and the durable, hashed order intents
// derived from them. An intent is the frozen form of an approved decision:
// its canonical serialization is the binding target for human approval and
// for execution-time integrity checks.
package intent

// Side is the direction of a plan or intent.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
	Hold Side = "hold"
)

// Valid reports whether the side is one of the three known values.
func (s Side) Valid() bool {
	return s == Buy || s == Sell || s == Hold
}

// TradePlan is the ephemeral output of a strategy, before risk gating.
// A hold plan carries informational value only: size, price and confidence
// are all zero.
type TradePlan struct {
	Symbol     string
	Side       Side
	Size       float64
	Price      float64
	Confidence float64
	Rationale  string
	Strategy   string
}

// HoldPlan returns a hold-shaped plan carrying a rationale, used both for
// "no signal" and for soft risk rejections under long-only trading.
func HoldPlan(symbol, strategy, rationale string) TradePlan {
	return TradePlan{
		Symbol:    symbol,
		Side:      Hold,
		Rationale: rationale,
		Strategy:  strategy,
	}
}
