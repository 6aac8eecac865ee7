package intent

import (
	"time"

	"github.com/rustyeddy/tradeagent/pkg/id"
)

// Mode distinguishes simulated from real execution.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Valid reports whether the mode is known.
func (m Mode) Valid() bool { return m == ModePaper || m == ModeLive }

// OrderIntent is the durable, immutable record of an approved trade plan.
// Only its stored status ever changes after creation; the hash of the
// canonical serialization binds approvals and executions to this exact
// content.
type OrderIntent struct {
	IntentID    string
	CreatedAt   time.Time
	Symbol      string
	Side        Side
	Size        float64
	Price       float64
	OrderType   string
	TimeInForce string
	Strategy    string
	Confidence  float64
	Rationale   string
	FeaturesRef string // pointer to the feature snapshot used, may be empty
	ExpiresAt   time.Time
	Mode        Mode
}

// FromPlan freezes an approved plan into a new intent. The caller supplies
// the execution mode and expiry window; featuresRef may be empty when no
// feature snapshot informed the plan.
func FromPlan(plan TradePlan, mode Mode, expiry time.Duration, featuresRef string) OrderIntent {
	now := time.Now().UTC()
	return OrderIntent{
		IntentID:    id.UUID(),
		CreatedAt:   now,
		Symbol:      plan.Symbol,
		Side:        plan.Side,
		Size:        plan.Size,
		Price:       plan.Price,
		OrderType:   "limit",
		TimeInForce: "GTC",
		Strategy:    plan.Strategy,
		Confidence:  plan.Confidence,
		Rationale:   plan.Rationale,
		FeaturesRef: featuresRef,
		ExpiresAt:   now.Add(expiry),
		Mode:        mode,
	}
}

// CanonicalJSON renders the intent in its canonical byte form: keys in fixed
// sort order, stable float formatting, ASCII-safe escaping. This is the input
// to Hash and must never change shape without a deliberate format version
// bump.
func (oi OrderIntent) CanonicalJSON() string {
	ref := "null"
	if oi.FeaturesRef != "" {
		ref = EscapeString(oi.FeaturesRef)
	}
	return encodeFields([]field{
		{"intent_id", EscapeString(oi.IntentID)},
		{"created_at", EscapeString(ISOTime(oi.CreatedAt))},
		{"symbol", EscapeString(oi.Symbol)},
		{"side", EscapeString(string(oi.Side))},
		{"size", FormatFloat(oi.Size)},
		{"price", FormatFloat(oi.Price)},
		{"order_type", EscapeString(oi.OrderType)},
		{"time_in_force", EscapeString(oi.TimeInForce)},
		{"strategy", EscapeString(oi.Strategy)},
		{"confidence", FormatFloat(oi.Confidence)},
		{"rationale", EscapeString(oi.Rationale)},
		{"rationale_features_ref", ref},
		{"expires_at", EscapeString(ISOTime(oi.ExpiresAt))},
		{"mode", EscapeString(string(oi.Mode))},
	})
}

// Hash returns the SHA-256 hex digest of the canonical serialization.
func (oi OrderIntent) Hash() string {
	return SHA256Hex(oi.CanonicalJSON())
}

// Expired reports whether the intent may no longer execute.
func (oi OrderIntent) Expired(now time.Time) bool {
	return !now.Before(oi.ExpiresAt)
}

// Plan reconstructs the trade plan the intent froze, for risk re-evaluation
// at execution time.
func (oi OrderIntent) Plan() TradePlan {
	return TradePlan{
		Symbol:     oi.Symbol,
		Side:       oi.Side,
		Size:       oi.Size,
		Price:      oi.Price,
		Confidence: oi.Confidence,
		Rationale:  oi.Rationale,
		Strategy:   oi.Strategy,
	}
}
