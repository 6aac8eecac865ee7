// Package propose assembles decision inputs, runs the strategy and risk
// gate, and freezes approved plans into durable order intents. Prepare and
// Finalize are split so callers (the runner in particular) can inspect or
// deduplicate a candidate before anything is persisted as an intent.
package propose

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/exchange"
	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/market"
	"github.com/rustyeddy/tradeagent/news"
	"github.com/rustyeddy/tradeagent/risk"
	"github.com/rustyeddy/tradeagent/store"
	"github.com/rustyeddy/tradeagent/strategy"
)

const featureVersion = "news_v1"

// Params selects what to propose. An empty Symbol falls back to the first
// whitelisted symbol.
type Params struct {
	Symbol   string
	Strategy string
	Mode     intent.Mode
	Refresh  bool
}

// CandidateStatus classifies a prepared proposal.
type CandidateStatus string

const (
	CandidateProposed CandidateStatus = "proposed"
	CandidateHold     CandidateStatus = "hold"
	CandidateRejected CandidateStatus = "rejected"
)

// Candidate is a prepared proposal before any intent exists.
type Candidate struct {
	Status      CandidateStatus
	Plan        *intent.TradePlan
	FeaturesRef string
	Reason      string
}

// Proposal is the persisted outcome of a finalized candidate.
type Proposal struct {
	Status      CandidateStatus
	IntentID    string
	Hash        string
	Side        intent.Side
	Size        float64
	Price       float64
	Strategy    string
	Confidence  float64
	Rationale   string
	FeaturesRef string
	ExpiresAt   time.Time
	Reason      string
}

// Service wires the propose pipeline. venue may be nil; Refresh and the
// maker price clamp then degrade to stored data only.
type Service struct {
	store *store.Store
	venue exchange.Client
	cfg   *config.Settings
	log   *zap.Logger
	now   func() time.Time
}

// New builds a propose service.
func New(st *store.Store, venue exchange.Client, cfg *config.Settings, log *zap.Logger) *Service {
	return &Service{
		store: st,
		venue: venue,
		cfg:   cfg,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the service clock.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) symbolOrDefault(symbol string) string {
	if symbol != "" {
		return symbol
	}
	return s.cfg.Trading.SymbolWhitelist[0]
}

// RefreshMarket pulls fresh candles (and optionally the orderbook) from the
// venue into the store.
func (s *Service) RefreshMarket(ctx context.Context, symbol string, withOrderbook bool) error {
	if s.venue == nil {
		return fmt.Errorf("no exchange client configured")
	}
	symbol = s.symbolOrDefault(symbol)
	timeframe := s.cfg.Trading.Timeframes[0]

	candles, err := s.venue.FetchCandles(ctx, symbol, timeframe, s.cfg.Trading.CandleLimit)
	if err != nil {
		return fmt.Errorf("fetch candles: %w", err)
	}
	added, err := s.store.SaveCandles(candles)
	if err != nil {
		return fmt.Errorf("save candles: %w", err)
	}
	s.log.Debug("candles refreshed",
		zap.String("symbol", symbol),
		zap.Int("fetched", len(candles)),
		zap.Int("added", added))

	if withOrderbook {
		ob, err := s.venue.FetchOrderbook(ctx, symbol)
		if err != nil {
			return fmt.Errorf("fetch orderbook: %w", err)
		}
		if err := s.store.SaveOrderbook(ob); err != nil {
			return fmt.Errorf("save orderbook: %w", err)
		}
	}
	return nil
}

// recentNews returns the point-in-time usable news items as of now.
func (s *Service) recentNews(now time.Time) ([]news.Item, time.Time, error) {
	lookback := time.Duration(s.cfg.News.SentimentLookbackHours) * time.Hour
	latency := time.Duration(s.cfg.News.NewsLatencySeconds) * time.Second
	start := now.Add(-lookback)

	items, err := s.store.NewsItemsWindow(start, now, now)
	if err != nil {
		return nil, start, err
	}
	return news.WindowFilter(items, now, lookback, latency), start, nil
}

// Prepare assembles inputs, runs the strategy and the risk gate, and returns
// the candidate. Nothing is persisted except the feature snapshot and the
// risk_check audit record.
func (s *Service) Prepare(ctx context.Context, params Params) (Candidate, error) {
	if params.Strategy != "baseline" && params.Strategy != "news_overlay" {
		return Candidate{}, fmt.Errorf("invalid strategy %q", params.Strategy)
	}
	if !params.Mode.Valid() {
		return Candidate{}, fmt.Errorf("invalid mode %q", params.Mode)
	}

	symbol := s.symbolOrDefault(params.Symbol)
	timeframe := s.cfg.Trading.Timeframes[0]
	now := s.now()

	if params.Refresh {
		if err := s.RefreshMarket(ctx, symbol, s.cfg.Runner.Orderbook); err != nil {
			return Candidate{}, err
		}
	}

	candles, err := s.store.Candles(symbol, timeframe, s.cfg.Trading.CandleLimit)
	if err != nil {
		return Candidate{}, fmt.Errorf("load candles: %w", err)
	}
	if len(candles) == 0 {
		return Candidate{}, fmt.Errorf("no candles available for %s; run ingest first", symbol)
	}
	latestTS := candles[len(candles)-1].TS

	items, windowStart, err := s.recentNews(now)
	if err != nil {
		return Candidate{}, fmt.Errorf("load news: %w", err)
	}
	features := news.Aggregate(items)
	if err := s.store.SaveFeatureSnapshot(symbol, latestTS, featureVersion, features, windowStart, now); err != nil {
		return Candidate{}, fmt.Errorf("save features: %w", err)
	}
	featuresRef := fmt.Sprintf("%s:%d:%s", symbol, latestTS, featureVersion)

	strat := strategy.ForName(params.Strategy, s.cfg.Risk, s.cfg.Strategy)
	plan := strat.Plan(strategy.Input{Symbol: symbol, Candles: candles, NewsItems: items})

	position, _, err := s.store.PositionState(symbol)
	if err != nil {
		return Candidate{}, fmt.Errorf("load position: %w", err)
	}

	// Pre-clamp to a maker price before risk sizing so the notional the risk
	// engine caps is the notional that will actually rest on the book.
	if plan.Side != intent.Hold && s.cfg.Trading.PostOnly && !s.cfg.Exchange.HasPostOnly {
		plan = s.clampMakerPrice(ctx, plan)
	}

	originalSize := plan.Size
	state, err := risk.FromStorageSnapshot(s.store, symbol, plan.Price, now)
	if err != nil {
		return Candidate{}, fmt.Errorf("load risk state: %w", err)
	}
	res := risk.Evaluate(plan, s.cfg.Risk, s.cfg.Trading, position, state, market.Closes(candles), now)

	adjustedSize := 0.0
	if res.Plan != nil {
		adjustedSize = res.Plan.Size
	}
	riskStatus := "rejected"
	if res.Approved {
		riskStatus = "approved"
	}
	_ = s.store.LogEvent("risk_check", map[string]any{
		"symbol":        plan.Symbol,
		"strategy":      plan.Strategy,
		"side":          string(plan.Side),
		"status":        riskStatus,
		"reason":        res.Reason,
		"original_size": originalSize,
		"adjusted_size": adjustedSize,
	})

	if !res.Approved || res.Plan == nil {
		if res.Plan != nil && res.Plan.Side == intent.Hold {
			return Candidate{Status: CandidateHold, Plan: res.Plan, FeaturesRef: featuresRef, Reason: res.Reason}, nil
		}
		return Candidate{Status: CandidateRejected, FeaturesRef: featuresRef, Reason: res.Reason}, nil
	}
	return Candidate{Status: CandidateProposed, Plan: res.Plan, FeaturesRef: featuresRef}, nil
}

// clampMakerPrice moves the plan price to the passive side of the current
// book. Book fetch failures leave the plan untouched; the executor clamps
// again before placement anyway.
func (s *Service) clampMakerPrice(ctx context.Context, plan intent.TradePlan) intent.TradePlan {
	var ob market.Orderbook
	var ok bool

	if s.venue != nil {
		fetched, err := s.venue.FetchOrderbook(ctx, plan.Symbol)
		if err == nil {
			ob, ok = fetched, true
			_ = s.store.SaveOrderbook(fetched)
		}
	}
	if !ok {
		stored, found, err := s.store.LatestOrderbook(plan.Symbol)
		if err != nil || !found {
			return plan
		}
		ob = stored
	}

	switch plan.Side {
	case intent.Buy:
		if plan.Price > ob.Bid {
			plan.Price = ob.Bid
			plan.Rationale += "; maker price at bid"
		}
	case intent.Sell:
		if plan.Price < ob.Ask {
			plan.Price = ob.Ask
			plan.Rationale += "; maker price at ask"
		}
	}
	return plan
}

// Finalize persists a proposed candidate as an order intent. Hold and
// rejected candidates pass through without creating anything.
func (s *Service) Finalize(candidate Candidate, params Params) (Proposal, error) {
	if candidate.Status != CandidateProposed || candidate.Plan == nil {
		p := Proposal{Status: candidate.Status, Reason: candidate.Reason}
		if candidate.Plan != nil {
			p.Rationale = candidate.Plan.Rationale
		}
		return p, nil
	}

	expiry := time.Duration(s.cfg.Trading.IntentExpirySeconds) * time.Second
	oi := intent.FromPlan(*candidate.Plan, params.Mode, expiry, candidate.FeaturesRef)

	if _, err := s.store.SaveIntent(oi); err != nil {
		return Proposal{}, fmt.Errorf("save intent: %w", err)
	}
	_ = s.store.LogEvent("propose", map[string]any{
		"intent_id": oi.IntentID,
		"symbol":    oi.Symbol,
		"side":      string(oi.Side),
	})

	s.log.Info("intent proposed",
		zap.String("intent_id", oi.IntentID),
		zap.String("symbol", oi.Symbol),
		zap.String("side", string(oi.Side)),
		zap.Float64("size", oi.Size),
		zap.Float64("price", oi.Price))

	return Proposal{
		Status:      CandidateProposed,
		IntentID:    oi.IntentID,
		Hash:        oi.Hash(),
		Side:        oi.Side,
		Size:        oi.Size,
		Price:       oi.Price,
		Strategy:    oi.Strategy,
		Confidence:  oi.Confidence,
		Rationale:   oi.Rationale,
		FeaturesRef: candidate.FeaturesRef,
		ExpiresAt:   oi.ExpiresAt,
	}, nil
}

// Propose runs Prepare and Finalize in one step.
func (s *Service) Propose(ctx context.Context, params Params) (Proposal, error) {
	candidate, err := s.Prepare(ctx, params)
	if err != nil {
		return Proposal{}, err
	}
	return s.Finalize(candidate, params)
}

// ClosePosition proposes a full-size sell of the open position at the latest
// close, tagged as a manual close.
func (s *Service) ClosePosition(symbol string, mode intent.Mode) (Proposal, error) {
	if !mode.Valid() {
		return Proposal{}, fmt.Errorf("invalid mode %q", mode)
	}
	symbol = s.symbolOrDefault(symbol)
	now := s.now()

	size, _, err := s.store.PositionState(symbol)
	if err != nil {
		return Proposal{}, fmt.Errorf("load position: %w", err)
	}
	if size <= 0 {
		return Proposal{Status: CandidateRejected, Reason: "no position to close"}, nil
	}

	timeframe := s.cfg.Trading.Timeframes[0]
	latest, ok, err := s.store.LatestCandle(symbol, timeframe)
	if err != nil {
		return Proposal{}, fmt.Errorf("load latest candle: %w", err)
	}
	if !ok {
		return Proposal{}, fmt.Errorf("no latest price available for %s", symbol)
	}

	plan := intent.TradePlan{
		Symbol:     symbol,
		Side:       intent.Sell,
		Size:       size,
		Price:      latest.Close,
		Confidence: 1.0,
		Rationale:  "manual close position",
		Strategy:   "manual_close",
	}

	state, err := risk.FromStorageSnapshot(s.store, symbol, plan.Price, now)
	if err != nil {
		return Proposal{}, fmt.Errorf("load risk state: %w", err)
	}
	candles, err := s.store.Candles(symbol, timeframe, 2)
	if err != nil {
		return Proposal{}, fmt.Errorf("load candles: %w", err)
	}
	res := risk.Evaluate(plan, s.cfg.Risk, s.cfg.Trading, size, state, market.Closes(candles), now)

	adjustedSize := 0.0
	if res.Plan != nil {
		adjustedSize = res.Plan.Size
	}
	riskStatus := "rejected"
	if res.Approved {
		riskStatus = "approved"
	}
	_ = s.store.LogEvent("risk_check", map[string]any{
		"symbol":        plan.Symbol,
		"strategy":      plan.Strategy,
		"side":          string(plan.Side),
		"status":        riskStatus,
		"reason":        res.Reason,
		"original_size": size,
		"adjusted_size": adjustedSize,
	})
	if !res.Approved || res.Plan == nil {
		return Proposal{Status: CandidateRejected, Reason: res.Reason}, nil
	}

	return s.Finalize(
		Candidate{Status: CandidateProposed, Plan: res.Plan},
		Params{Symbol: symbol, Strategy: "manual_close", Mode: mode},
	)
}
