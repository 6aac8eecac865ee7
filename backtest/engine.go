package backtest

import (
	"fmt"
	"sort"
	"time"

	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/market"
	"github.com/rustyeddy/tradeagent/news"
	"github.com/rustyeddy/tradeagent/risk"
	"github.com/rustyeddy/tradeagent/store"
	"github.com/rustyeddy/tradeagent/strategy"
)

// Result is the output of one backtest run.
type Result struct {
	Metrics Metrics
	Equity  []float64
	Trades  []Trade
	Paths   ReportPaths
}

// Request parameterizes a backtest. Start and End are inclusive UTC calendar
// dates in YYYY-MM-DD form.
type Request struct {
	Symbol    string
	Timeframe string
	Start     string
	End       string
	Strategy  string
	OutputDir string
}

// Engine replays stored history through the strategy and risk stack.
type Engine struct {
	store *store.Store
	cfg   *config.Settings
}

// NewEngine builds a backtest engine over the store.
func NewEngine(st *store.Store, cfg *config.Settings) *Engine {
	return &Engine{store: st, cfg: cfg}
}

func parseDay(day string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", day, err)
	}
	return t.UTC(), nil
}

// availableItem pairs a news item with its decided availability moment so the
// replay can release items in order.
type availableItem struct {
	item news.Item
	at   time.Time
}

// Run replays candles in [Start, End]. At each bar the strategy sees only
// candles up to that bar and news already available by the bar's open time;
// the risk state resets at every UTC day boundary, mirroring live operation.
func (e *Engine) Run(req Request) (Result, error) {
	startDay, err := parseDay(req.Start)
	if err != nil {
		return Result{}, err
	}
	endDay, err := parseDay(req.End)
	if err != nil {
		return Result{}, err
	}
	startAt := startDay
	endAt := endDay.Add(24*time.Hour - time.Second)

	candles, err := e.store.CandlesBetween(req.Symbol, req.Timeframe, startAt.UnixMilli(), endAt.UnixMilli())
	if err != nil {
		return Result{}, fmt.Errorf("load candles: %w", err)
	}
	if len(candles) == 0 {
		return Result{}, fmt.Errorf("no candles in range %s..%s", req.Start, req.End)
	}

	latency := time.Duration(e.cfg.News.NewsLatencySeconds) * time.Second
	lookback := time.Duration(e.cfg.News.SentimentLookbackHours) * time.Hour

	rawNews, err := e.store.NewsItemsWindow(startAt, endAt, endAt)
	if err != nil {
		return Result{}, fmt.Errorf("load news: %w", err)
	}
	pending := make([]availableItem, 0, len(rawNews))
	for _, it := range rawNews {
		pending = append(pending, availableItem{item: it, at: it.AvailableAt(latency)})
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].at.Before(pending[j].at) })

	strat := strategy.ForName(req.Strategy, e.cfg.Risk, e.cfg.Strategy)

	var (
		position float64
		avgCost  float64
		trades   []Trade
		day      string
		state    risk.State
		newsIdx  int
		released []news.Item
	)

	feeBps := e.cfg.Backtest.MakerFeeBps
	if e.cfg.Backtest.AssumeTaker {
		feeBps = e.cfg.Backtest.TakerFeeBps
	}
	feeRate := feeBps / 10000
	slippage := e.cfg.Backtest.SlippageBps / 10000

	for idx, candle := range candles {
		now := candle.Time()

		for newsIdx < len(pending) && !pending[newsIdx].at.After(now) {
			released = append(released, pending[newsIdx].item)
			newsIdx++
		}

		windowStart := now.Add(-lookback)
		var visible []news.Item
		for _, it := range released {
			if !it.PublishedAt.Before(windowStart) && !it.PublishedAt.After(now) {
				visible = append(visible, it)
			}
		}

		features := news.Aggregate(visible)
		if err := e.store.SaveFeatureSnapshot(req.Symbol, candle.TS, "news_v1", features, windowStart, now); err != nil {
			return Result{}, fmt.Errorf("save features: %w", err)
		}

		slice := candles[:idx+1]
		plan := strat.Plan(strategy.Input{
			Symbol:    req.Symbol,
			Candles:   slice,
			NewsItems: visible,
		})

		if dk := risk.DayKey(now); dk != day {
			day = dk
			state = risk.FreshForDay(now)
		}

		price := candle.Close
		state.UnrealizedPnL = 0
		if position > 0 {
			state.UnrealizedPnL = (price - avgCost) * position
		}

		res := risk.Evaluate(plan, e.cfg.Risk, e.cfg.Trading, position, state, market.Closes(slice), now)
		if !res.Approved || res.Plan == nil {
			continue
		}
		approved := *res.Plan

		switch {
		case approved.Side == intent.Buy && position <= 0:
			size := approved.Size
			execPrice := price * (1 + slippage)
			fee := execPrice * size * feeRate
			totalCost := execPrice*size + fee
			if position+size > 0 {
				avgCost = (avgCost*position + totalCost) / (position + size)
			} else {
				avgCost = 0
			}
			position += size
			state.DailyOrders++
			state.LastExecAt = now
			trades = append(trades, Trade{
				Symbol:    req.Symbol,
				Side:      string(intent.Buy),
				Size:      size,
				Price:     execPrice,
				PnL:       0,
				Notional:  execPrice * size,
				Fee:       fee,
				CreatedAt: now,
			})

		case approved.Side == intent.Sell && position > 0:
			size := approved.Size
			if size > position {
				size = position
			}
			execPrice := price * (1 - slippage)
			fee := execPrice * size * feeRate
			pnl := (execPrice-avgCost)*size - fee
			position -= size
			if position <= 0 {
				position = 0
				avgCost = 0
			}
			state.DailyOrders++
			state.DailyPnL += pnl
			state.LastExecAt = now
			trades = append(trades, Trade{
				Symbol:    req.Symbol,
				Side:      string(intent.Sell),
				Size:      size,
				Price:     execPrice,
				PnL:       pnl,
				Notional:  execPrice * size,
				Fee:       fee,
				CreatedAt: now,
			})
		}
	}

	metrics, equity := ComputeMetrics(trades, e.cfg.Risk.Capital, startAt, endAt)
	paths, err := SaveReport(metrics, equity, req.OutputDir, "backtest_"+strat.Name())
	if err != nil {
		return Result{}, err
	}
	return Result{Metrics: metrics, Equity: equity, Trades: trades, Paths: paths}, nil
}
