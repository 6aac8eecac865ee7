// Package risk gates trade plans against position, loss and frequency
// limits. Evaluate is a pure function: all position and day state is passed
// in, nothing is read or written here.
package risk

import (
	"math"
	"time"

	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/intent"
)

// SizeEpsilon bounds float comparisons where size equality matters, e.g.
// re-validating an intent's size against its risk-approved size at execution
// time.
const SizeEpsilon = 1e-9

// Result is the outcome of a risk evaluation. Rejections are values, not
// errors: Reason is always human-readable and the caller decides what to do.
// Plan carries the (possibly resized) approved plan, or a hold-shaped plan
// for soft long-only rejections.
type Result struct {
	Approved bool
	Reason   string
	Plan     *intent.TradePlan
}

func reject(reason string) Result {
	return Result{Approved: false, Reason: reason}
}

// Evaluate runs the ordered risk checks against a plan. The first failing
// check wins. recentCloses is the point-in-time close series for the symbol's
// primary timeframe (oldest first); only the last two values matter, for the
// volatility cooldown bypass.
func Evaluate(
	plan intent.TradePlan,
	limits config.RiskConfig,
	trading config.TradingConfig,
	position float64,
	state State,
	recentCloses []float64,
	now time.Time,
) Result {
	if plan.Side == intent.Hold {
		p := plan
		return Result{Approved: false, Reason: "no trade", Plan: &p}
	}

	if trading.KillSwitch {
		return reject("kill switch enabled")
	}

	if !whitelisted(plan.Symbol, trading.SymbolWhitelist) {
		return reject("symbol not whitelisted")
	}

	if plan.Size <= 0 || plan.Price <= 0 {
		return reject("invalid size or price")
	}

	lossProxy := state.DailyPnL + math.Min(state.UnrealizedPnL, 0)
	if lossProxy <= -math.Abs(limits.MaxLossPerDay) {
		return reject("daily loss limit reached")
	}

	if state.DailyOrders >= limits.MaxOrdersPerDay {
		return reject("max orders per day reached")
	}

	if !state.LastExecAt.IsZero() {
		cooldownEnd := state.LastExecAt.Add(time.Duration(limits.CooldownMinutes) * time.Minute)
		if now.Before(cooldownEnd) && !cooldownBypass(recentCloses, limits.CooldownBypassPct) {
			return reject("cooldown active")
		}
	}

	if plan.Side == intent.Sell && position <= 0 {
		if trading.LongOnly {
			// Soft rejection: downstream callers distinguish "nothing to do"
			// from "blocked" by the hold-shaped plan.
			hold := intent.HoldPlan(plan.Symbol, plan.Strategy, "long-only: no position to sell")
			return Result{Approved: false, Reason: "long-only: no position to sell", Plan: &hold}
		}
		return reject("no position to sell")
	}

	size := plan.Size

	if plan.Side == intent.Buy {
		maxPosition := limits.Capital * limits.MaxPositionPct / plan.Price
		if position+size > maxPosition {
			size = math.Max(maxPosition-position, 0)
		}
	}

	notionalCap := math.Min(limits.MaxOrderNotional, limits.MaxLossPerTrade)
	if size*plan.Price > notionalCap {
		size = notionalCap / plan.Price
	}

	if size <= 0 {
		return reject("size reduced to zero")
	}

	adjusted := plan
	adjusted.Size = size
	return Result{Approved: true, Reason: "ok", Plan: &adjusted}
}

// cooldownBypass reports whether the last two closes moved enough, in
// relative terms, to override the order-frequency cooldown.
func cooldownBypass(closes []float64, bypassPct float64) bool {
	if bypassPct <= 0 || len(closes) < 2 {
		return false
	}
	prev := closes[len(closes)-2]
	last := closes[len(closes)-1]
	if prev <= 0 {
		return false
	}
	return math.Abs(last-prev)/prev >= bypassPct
}

func whitelisted(symbol string, whitelist []string) bool {
	for _, s := range whitelist {
		if s == symbol {
			return true
		}
	}
	return false
}
