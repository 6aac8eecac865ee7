// Package executor turns approved order intents into fills. Every execution
// attempt re-checks the gate conditions at its own moment in time: intent
// integrity, expiry, approval binding, kill switch and a fresh risk
// evaluation. Paper and live orders share the same precondition chain and
// diverge only at order placement.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradeagent/approval"
	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/exchange"
	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/market"
	"github.com/rustyeddy/tradeagent/pkg/id"
	"github.com/rustyeddy/tradeagent/risk"
	"github.com/rustyeddy/tradeagent/store"
)

// liveConsentEnv must be set to "yes" in the environment, in addition to the
// config flag, before any live order is placed.
const liveConsentEnv = "I_UNDERSTAND_LIVE_TRADING"

var (
	// ErrDryRun blocks live execution while dry_run is on.
	ErrDryRun = errors.New("dry run enabled, refusing live execution")
	// ErrNoLiveConsent blocks live execution without the double opt-in.
	ErrNoLiveConsent = errors.New("live trading consent not given")
	// ErrNoCredentials blocks live execution without exchange credentials.
	ErrNoCredentials = errors.New("exchange credentials missing")
	// ErrNotApproved blocks execution of an unapproved intent.
	ErrNotApproved = errors.New("intent not approved")
	// ErrTerminal reports an execution attempt on a finished intent.
	ErrTerminal = errors.New("intent already in terminal state")
)

// Outcome summarizes one execution attempt.
type Outcome struct {
	IntentID string
	ExecID   string
	Status   intent.Status
	FillSize float64
	Price    float64
	Fee      float64
	PnL      float64
	Reason   string
}

// Executor drives intents through execution against the store and venue.
type Executor struct {
	store     *store.Store
	venue     exchange.Client
	approvals *approval.Service
	paper     *PaperEngine
	cfg       *config.Settings
	log       *zap.Logger
	now       func() time.Time
}

// New builds an executor. venue may be nil for pure paper setups that fill
// from stored orderbook snapshots.
func New(st *store.Store, venue exchange.Client, approvals *approval.Service, cfg *config.Settings, log *zap.Logger) *Executor {
	return &Executor{
		store:     st,
		venue:     venue,
		approvals: approvals,
		paper:     NewPaperEngine(cfg.Paper),
		cfg:       cfg,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the executor's clock.
func (e *Executor) SetClock(now func() time.Time) { e.now = now }

// AutopilotEligible reports whether an intent may execute without human
// approval. Every autopilot cap must pass; autopilot never relaxes a limit,
// so a global per-trade loss cap looser than autopilot's own disables it.
func AutopilotEligible(oi intent.OrderIntent, ap config.AutopilotConfig, limits config.RiskConfig) bool {
	if !ap.Enabled {
		return false
	}
	if limits.MaxLossPerTrade > ap.MaxLossPerTrade {
		return false
	}
	if oi.Confidence < ap.MinConfidence {
		return false
	}
	notional := oi.Size * oi.Price
	if notional > math.Min(ap.MaxOrderNotional, ap.MaxLossPerTrade) {
		return false
	}
	for _, s := range ap.SymbolWhitelist {
		if s == oi.Symbol {
			return true
		}
	}
	return false
}

func (e *Executor) fail(intentID, reason string, status intent.Status, err error) (Outcome, error) {
	if serr := e.store.UpdateIntentStatus(intentID, status); serr != nil {
		e.log.Warn("status update failed", zap.String("intent_id", intentID), zap.Error(serr))
	}
	_ = e.store.LogEvent("execution_blocked", map[string]any{
		"intent_id": intentID,
		"reason":    reason,
		"status":    string(status),
	})
	return Outcome{IntentID: intentID, Status: status, Reason: reason}, err
}

// Execute runs the full precondition chain for one intent, then places the
// order in the intent's mode. Gate failures move the intent to a terminal
// state and are reported in the Outcome; only infrastructure faults return a
// non-nil error alongside.
func (e *Executor) Execute(ctx context.Context, intentID string) (Outcome, error) {
	now := e.now()

	rec, err := e.store.Intent(intentID)
	if err != nil {
		return Outcome{IntentID: intentID}, err
	}
	oi := rec.Intent

	if rec.Status.Terminal() {
		return Outcome{IntentID: intentID, Status: rec.Status, Reason: "already terminal"}, ErrTerminal
	}

	if oi.Hash() != rec.IntentHash {
		return e.fail(intentID, "intent hash mismatch", intent.StatusError, approval.ErrHashMismatch)
	}

	if oi.Expired(now) {
		return e.fail(intentID, "intent expired", intent.StatusExpired, nil)
	}

	if e.cfg.Trading.KillSwitch {
		return e.fail(intentID, "kill switch enabled", intent.StatusRejected, nil)
	}

	if e.cfg.Trading.RequireApproval && !AutopilotEligible(oi, e.cfg.Autopilot, e.cfg.Risk) {
		ok, err := e.approvals.Verify(rec)
		if err != nil {
			return e.fail(intentID, "approval verification failed", intent.StatusError, err)
		}
		if !ok || rec.Status != intent.StatusApproved {
			return Outcome{IntentID: intentID, Status: rec.Status, Reason: "approval required"}, ErrNotApproved
		}
	}

	// Risk conditions may have drifted since proposal. Re-evaluate the frozen
	// plan against current state; any resizing means the approved content no
	// longer matches reality and the intent must not run.
	timeframe := e.cfg.Trading.Timeframes[0]
	candles, err := e.store.Candles(oi.Symbol, timeframe, 2)
	if err != nil {
		return Outcome{IntentID: intentID}, fmt.Errorf("load recent candles: %w", err)
	}
	position, avgCost, err := e.store.PositionState(oi.Symbol)
	if err != nil {
		return Outcome{IntentID: intentID}, fmt.Errorf("load position: %w", err)
	}
	state, err := risk.FromStorageSnapshot(e.store, oi.Symbol, oi.Price, now)
	if err != nil {
		return Outcome{IntentID: intentID}, fmt.Errorf("load risk state: %w", err)
	}

	res := risk.Evaluate(oi.Plan(), e.cfg.Risk, e.cfg.Trading, position, state, market.Closes(candles), now)
	if !res.Approved {
		return e.fail(intentID, "risk re-check: "+res.Reason, intent.StatusRejected, nil)
	}
	if math.Abs(res.Plan.Size-oi.Size) > risk.SizeEpsilon {
		return e.fail(intentID, "risk limits changed since proposal", intent.StatusRejected, nil)
	}

	switch oi.Mode {
	case intent.ModePaper:
		return e.executePaper(oi, position, avgCost, now)
	case intent.ModeLive:
		return e.executeLive(ctx, oi, avgCost, now)
	default:
		return e.fail(intentID, "unknown mode "+string(oi.Mode), intent.StatusError, nil)
	}
}

// ApproveAndExecute is the one-step operator flow: approve the intent with
// the given phrase, then run it through the normal execution chain.
func (e *Executor) ApproveAndExecute(ctx context.Context, intentID, phrase, approvedBy string) (Outcome, error) {
	if err := e.approvals.Approve(intentID, phrase, approvedBy, e.now()); err != nil {
		return Outcome{IntentID: intentID, Reason: "approval failed"}, err
	}
	return e.Execute(ctx, intentID)
}

// realizedPnL books PnL on sells only. A buy fill realizes nothing: its fee
// is folded into the position's average cost and comes out on the way down.
func realizedPnL(side intent.Side, price, size, avgCost, fee float64) float64 {
	if side == intent.Sell {
		return (price-avgCost)*size - fee
	}
	return 0
}

func (e *Executor) executePaper(oi intent.OrderIntent, position, avgCost float64, now time.Time) (Outcome, error) {
	ob, ok, err := e.store.LatestOrderbook(oi.Symbol)
	if err != nil {
		return Outcome{IntentID: oi.IntentID}, fmt.Errorf("load orderbook: %w", err)
	}
	if !ok {
		ob = market.EstimateFromPrice(oi.Symbol, oi.Price, e.cfg.Paper.SpreadBps, now)
	}

	price := oi.Price
	if e.cfg.Trading.PostOnly && !e.cfg.Exchange.HasPostOnly {
		tick := 0.0
		if e.venue != nil {
			tick = e.venue.PriceTick(oi.Symbol)
		}
		price = MakerPrice(oi.Side, price, ob, tick, e.cfg.Trading.MakerEmulation)
	}

	fill := e.paper.SimulateFill(oi.Side, oi.Size, price, ob)

	exec := store.Execution{
		ExecID:        id.UUID(),
		IntentID:      oi.IntentID,
		IntentHash:    oi.Hash(),
		ExecutedAt:    now,
		Mode:          intent.ModePaper,
		Fee:           fill.Fee,
		SlippageModel: "paper_bps",
		Details: map[string]any{
			"limit_price": price,
			"bid":         ob.Bid,
			"ask":         ob.Ask,
			"fill_reason": fill.Reason,
		},
	}

	if !fill.Filled {
		exec.Status = intent.StatusOpen
		if err := e.store.RecordExecution(exec, nil, nil, intent.StatusOpen); err != nil {
			return Outcome{IntentID: oi.IntentID}, err
		}
		return Outcome{IntentID: oi.IntentID, ExecID: exec.ExecID, Status: intent.StatusOpen, Reason: fill.Reason}, nil
	}

	exec.Status = intent.StatusFilled
	f := store.Fill{
		FillID:      id.UUID(),
		ExecID:      exec.ExecID,
		Symbol:      oi.Symbol,
		Side:        oi.Side,
		Size:        oi.Size,
		Price:       fill.Price,
		Fee:         fill.Fee,
		FeeCurrency: e.cfg.Trading.BaseCurrency,
		TS:          now,
	}
	pnl := realizedPnL(oi.Side, fill.Price, oi.Size, avgCost, fill.Fee)
	trade := &store.TradeResult{
		TradeID:   id.UUID(),
		IntentID:  oi.IntentID,
		PnL:       pnl,
		CreatedAt: now,
		Mode:      intent.ModePaper,
		Meta: map[string]any{
			"fill_price": fill.Price,
			"size":       oi.Size,
			"fee":        fill.Fee,
			"notional":   fill.Price * oi.Size,
		},
	}
	if err := e.store.RecordExecution(exec, []store.Fill{f}, trade, intent.StatusFilled); err != nil {
		return Outcome{IntentID: oi.IntentID}, err
	}

	e.log.Info("paper fill",
		zap.String("intent_id", oi.IntentID),
		zap.String("side", string(oi.Side)),
		zap.Float64("size", oi.Size),
		zap.Float64("price", fill.Price),
		zap.Float64("pnl", pnl))

	return Outcome{
		IntentID: oi.IntentID,
		ExecID:   exec.ExecID,
		Status:   intent.StatusFilled,
		FillSize: oi.Size,
		Price:    fill.Price,
		Fee:      fill.Fee,
		PnL:      pnl,
		Reason:   fill.Reason,
	}, nil
}

func (e *Executor) executeLive(ctx context.Context, oi intent.OrderIntent, avgCost float64, now time.Time) (Outcome, error) {
	if e.cfg.Trading.DryRun {
		return Outcome{IntentID: oi.IntentID, Status: intent.StatusApproved, Reason: "dry run"}, ErrDryRun
	}
	if !e.cfg.Trading.IUnderstandLiveTrading || os.Getenv(liveConsentEnv) != "yes" {
		return Outcome{IntentID: oi.IntentID, Status: intent.StatusApproved, Reason: "consent missing"}, ErrNoLiveConsent
	}
	if e.venue == nil || !exchange.HasCredentials(e.cfg.Exchange) {
		return Outcome{IntentID: oi.IntentID, Status: intent.StatusApproved, Reason: "credentials missing"}, ErrNoCredentials
	}

	price := oi.Price
	if e.cfg.Trading.PostOnly && !e.cfg.Exchange.HasPostOnly {
		ob, err := e.venue.FetchOrderbook(ctx, oi.Symbol)
		if err != nil {
			return e.fail(oi.IntentID, "orderbook fetch failed: "+err.Error(), intent.StatusError, err)
		}
		price = MakerPrice(oi.Side, price, ob, e.venue.PriceTick(oi.Symbol), e.cfg.Trading.MakerEmulation)
	}

	order, err := e.venue.CreateLimitOrder(ctx, oi.Symbol, string(oi.Side), oi.Size, price,
		e.cfg.Trading.PostOnly && e.cfg.Exchange.HasPostOnly)
	if err != nil {
		return e.fail(oi.IntentID, "order placement failed: "+err.Error(), intent.StatusError, err)
	}

	e.log.Info("live order placed",
		zap.String("intent_id", oi.IntentID),
		zap.String("order_id", order.OrderID),
		zap.Float64("price", price))

	final, err := e.pollOrder(ctx, oi.Symbol, order.OrderID)
	if err != nil {
		return e.fail(oi.IntentID, "order polling failed: "+err.Error(), intent.StatusError, err)
	}

	exec := store.Execution{
		ExecID:        id.UUID(),
		IntentID:      oi.IntentID,
		IntentHash:    oi.Hash(),
		ExecutedAt:    now,
		Mode:          intent.ModeLive,
		SlippageModel: "live",
		Details: map[string]any{
			"order_id":    final.OrderID,
			"limit_price": price,
			// Venue fees are reconciled out of band; the fee recorded here is
			// a placeholder, not a measurement.
			"fee_known": false,
		},
	}

	switch {
	case final.Filled():
		exec.Status = intent.StatusFilled
		f := store.Fill{
			FillID:      id.UUID(),
			ExecID:      exec.ExecID,
			Symbol:      oi.Symbol,
			Side:        oi.Side,
			Size:        final.FilledSize,
			Price:       final.AvgFillPrice,
			Fee:         0,
			FeeCurrency: e.cfg.Trading.BaseCurrency,
			TS:          e.now(),
		}
		pnl := realizedPnL(oi.Side, final.AvgFillPrice, final.FilledSize, avgCost, 0)
		trade := &store.TradeResult{
			TradeID:   id.UUID(),
			IntentID:  oi.IntentID,
			PnL:       pnl,
			CreatedAt: e.now(),
			Mode:      intent.ModeLive,
			Meta: map[string]any{
				"fill_price": final.AvgFillPrice,
				"size":       final.FilledSize,
				"fee_known":  false,
			},
		}
		if err := e.store.RecordExecution(exec, []store.Fill{f}, trade, intent.StatusFilled); err != nil {
			return Outcome{IntentID: oi.IntentID}, err
		}
		return Outcome{
			IntentID: oi.IntentID,
			ExecID:   exec.ExecID,
			Status:   intent.StatusFilled,
			FillSize: final.FilledSize,
			Price:    final.AvgFillPrice,
			PnL:      pnl,
			Reason:   "live fill",
		}, nil

	default:
		// Timed out resting, or venue-side cancel. Pull the order and record
		// any partial fill before closing the intent out.
		if final.State == exchange.OrderOpen {
			if cerr := e.venue.CancelOrder(ctx, oi.Symbol, order.OrderID); cerr != nil {
				e.log.Warn("cancel failed", zap.String("order_id", order.OrderID), zap.Error(cerr))
			}
		}
		exec.Status = intent.StatusCanceled
		var fills []store.Fill
		if final.FilledSize > 0 {
			fills = append(fills, store.Fill{
				FillID:      id.UUID(),
				ExecID:      exec.ExecID,
				Symbol:      oi.Symbol,
				Side:        oi.Side,
				Size:        final.FilledSize,
				Price:       final.AvgFillPrice,
				FeeCurrency: e.cfg.Trading.BaseCurrency,
				TS:          e.now(),
			})
		}
		if err := e.store.RecordExecution(exec, fills, nil, intent.StatusCanceled); err != nil {
			return Outcome{IntentID: oi.IntentID}, err
		}
		return Outcome{
			IntentID: oi.IntentID,
			ExecID:   exec.ExecID,
			Status:   intent.StatusCanceled,
			FillSize: final.FilledSize,
			Price:    final.AvgFillPrice,
			Reason:   "order timeout",
		}, nil
	}
}

// pollOrder polls until the order leaves the open state or the configured
// timeout elapses, returning the last observed order state.
func (e *Executor) pollOrder(ctx context.Context, symbol, orderID string) (exchange.Order, error) {
	deadline := e.now().Add(time.Duration(e.cfg.Trading.OrderTimeoutSeconds) * time.Second)
	var last exchange.Order

	for {
		order, err := e.venue.FetchOrder(ctx, symbol, orderID)
		if err != nil {
			return last, err
		}
		last = order
		if order.State != exchange.OrderOpen {
			return order, nil
		}
		if !e.now().Before(deadline) {
			return order, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}
