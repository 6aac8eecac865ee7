package store

import (
	"time"

	"github.com/rustyeddy/tradeagent/intent"
)

// IntentRecord is a stored intent together with its persisted status and the
// hash computed at save time. Executor-side integrity checks compare the
// stored hash against the recomputed hash of the payload.
type IntentRecord struct {
	Intent     intent.OrderIntent
	Status     intent.Status
	IntentHash string
}

// Execution is one execution attempt against an intent. An execution owns
// zero or more fills: zero when rejected, left open, or canceled unfilled.
type Execution struct {
	ExecID        string
	IntentID      string
	IntentHash    string
	ExecutedAt    time.Time
	Mode          intent.Mode
	Status        intent.Status
	Fee           float64
	SlippageModel string
	Details       map[string]any
}

// Fill is one realized trade slice.
type Fill struct {
	FillID      string
	ExecID      string
	Symbol      string
	Side        intent.Side
	Size        float64
	Price       float64
	Fee         float64
	FeeCurrency string
	TS          time.Time
}

// TradeResult records realized PnL for a completed execution, with arbitrary
// metadata (fill price, notional, fees).
type TradeResult struct {
	TradeID   string
	IntentID  string
	PnL       float64
	CreatedAt time.Time
	Mode      intent.Mode
	Meta      map[string]any
}
