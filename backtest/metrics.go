// Package backtest replays stored candles and news through the strategy and
// risk stack with strict point-in-time visibility, then scores the resulting
// trades.
package backtest

import (
	"math"
	"time"

	"github.com/rustyeddy/tradeagent/store"
)

// Trade is one executed backtest or recorded trade in scoring form.
type Trade struct {
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Size      float64   `json:"size"`
	Price     float64   `json:"price"`
	PnL       float64   `json:"pnl"`
	Notional  float64   `json:"notional"`
	Fee       float64   `json:"fee"`
	CreatedAt time.Time `json:"created_at"`
}

// Metrics is the performance summary over a trade sequence. Sharpe is
// trade-based, not time-based: per-trade returns against starting capital.
type Metrics struct {
	TotalPnL     float64 `json:"total_pnl"`
	TotalReturn  float64 `json:"total_return"`
	CAGR         float64 `json:"cagr"`
	Sharpe       float64 `json:"sharpe"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	Turnover     float64 `json:"turnover"`
	Fees         float64 `json:"fees"`
	NumTrades    int     `json:"num_trades"`
}

func maxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	var maxDD float64
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if dd := peak - v; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// ComputeMetrics scores a trade sequence. capital scales return metrics;
// start and end bound the CAGR window together with the trade timestamps.
// The returned equity curve is cumulative realized PnL per trade.
func ComputeMetrics(trades []Trade, capital float64, start, end time.Time) (Metrics, []float64) {
	equity := make([]float64, 0, len(trades))
	var running float64
	var wins int
	var grossProfit, grossLoss float64
	var m Metrics

	for _, t := range trades {
		running += t.PnL
		equity = append(equity, running)
		m.TotalPnL += t.PnL
		m.Turnover += t.Notional
		m.Fees += t.Fee
		if t.PnL > 0 {
			wins++
			grossProfit += t.PnL
		} else if t.PnL < 0 {
			grossLoss += -t.PnL
		}
	}

	m.NumTrades = len(trades)
	if m.NumTrades > 0 {
		m.WinRate = float64(wins) / float64(m.NumTrades)
	}
	if capital > 0 {
		m.TotalReturn = m.TotalPnL / capital
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	}
	m.MaxDrawdown = maxDrawdown(equity)

	first, last := start, end
	for _, t := range trades {
		if t.CreatedAt.IsZero() {
			continue
		}
		if first.IsZero() || t.CreatedAt.Before(first) {
			first = t.CreatedAt
		}
		if last.IsZero() || t.CreatedAt.After(last) {
			last = t.CreatedAt
		}
	}
	if capital > 0 && !first.IsZero() && last.After(first) {
		years := last.Sub(first).Hours() / (365.25 * 24)
		if years > 0 && m.TotalReturn > -1.0 {
			m.CAGR = math.Pow(1+m.TotalReturn, 1/years) - 1
		}
	}

	if capital > 0 && len(trades) >= 2 {
		returns := make([]float64, len(trades))
		var sum float64
		for i, t := range trades {
			returns[i] = t.PnL / capital
			sum += returns[i]
		}
		avg := sum / float64(len(returns))
		var variance float64
		for _, r := range returns {
			variance += (r - avg) * (r - avg)
		}
		// Sample stdev, matching the trade-based convention.
		sd := math.Sqrt(variance / float64(len(returns)-1))
		if sd > 0 {
			m.Sharpe = avg / sd * math.Sqrt(float64(len(returns)))
		}
	}

	return m, equity
}

// TradesFromResults converts stored trade results into scoring form, reading
// notional and fee from the trade metadata.
func TradesFromResults(results []store.TradeResult) []Trade {
	out := make([]Trade, 0, len(results))
	for _, r := range results {
		t := Trade{PnL: r.PnL, CreatedAt: r.CreatedAt}
		if v, ok := r.Meta["notional"].(float64); ok {
			t.Notional = v
		}
		if v, ok := r.Meta["fee"].(float64); ok {
			t.Fee = v
		}
		out = append(out, t)
	}
	return out
}
