package propose

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/market"
	"github.com/rustyeddy/tradeagent/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "propose.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.Risk.CooldownMinutes = 0
	cfg.Strategy.Baseline = config.BaselineConfig{
		SMAPeriod:        3,
		MomentumLookback: 2,
		BasePositionPct:  0.1,
	}

	svc := New(st, nil, cfg, zap.NewNop())
	svc.SetClock(func() time.Time {
		return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	})
	return svc, st
}

func seedCandles(t *testing.T, st *store.Store, closes []float64) int64 {
	t.Helper()

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC).UnixMilli()
	candles := make([]market.Candle, len(closes))
	var last int64
	for i, c := range closes {
		last = base + int64(i)*60000
		candles[i] = market.Candle{
			Symbol:    "BTC/JPY",
			Timeframe: "1m",
			TS:        last,
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1,
			Source:    "test",
		}
	}
	_, err := st.SaveCandles(candles)
	assert.NoError(t, err)
	return last
}

func TestPrepareRejectsBadParams(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Prepare(ctx, Params{Strategy: "momentum", Mode: intent.ModePaper})
	assert.ErrorContains(t, err, "invalid strategy")

	_, err = svc.Prepare(ctx, Params{Strategy: "baseline", Mode: "dry"})
	assert.ErrorContains(t, err, "invalid mode")
}

func TestPrepareRequiresCandles(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	_, err := svc.Prepare(context.Background(), Params{Strategy: "baseline", Mode: intent.ModePaper})
	assert.ErrorContains(t, err, "no candles")
}

func TestProposeCreatesIntent(t *testing.T) {
	t.Parallel()

	svc, st := newTestService(t)
	lastTS := seedCandles(t, st, []float64{100, 101, 102, 104})

	result, err := svc.Propose(context.Background(), Params{
		Strategy: "baseline",
		Mode:     intent.ModePaper,
	})
	assert.NoError(t, err)
	assert.Equal(t, CandidateProposed, result.Status)
	assert.NotEmpty(t, result.IntentID)
	assert.Len(t, result.Hash, 64)
	assert.Equal(t, intent.Buy, result.Side)

	// Risk caps the notional at min(max_order_notional, max_loss_per_trade).
	assert.InDelta(t, 5000.0/104, result.Size, 1e-9)
	assert.Equal(t, fmt.Sprintf("BTC/JPY:%d:news_v1", lastTS), result.FeaturesRef)

	rec, err := st.Intent(result.IntentID)
	assert.NoError(t, err)
	assert.Equal(t, intent.StatusProposed, rec.Status)
	assert.Equal(t, result.Hash, rec.IntentHash)
}

func TestPrepareHoldsWithoutSignal(t *testing.T) {
	t.Parallel()

	svc, st := newTestService(t)
	seedCandles(t, st, []float64{100, 100, 100, 100})

	candidate, err := svc.Prepare(context.Background(), Params{
		Strategy: "baseline",
		Mode:     intent.ModePaper,
	})
	assert.NoError(t, err)
	assert.Equal(t, CandidateHold, candidate.Status)
	assert.NotNil(t, candidate.Plan)
	assert.Equal(t, intent.Hold, candidate.Plan.Side)

	// Hold candidates never persist an intent.
	counts, err := st.CountIntents()
	assert.NoError(t, err)
	assert.Zero(t, counts[intent.StatusProposed])
}

func TestClosePositionWithoutPosition(t *testing.T) {
	t.Parallel()

	svc, st := newTestService(t)
	seedCandles(t, st, []float64{100, 101})

	result, err := svc.ClosePosition("BTC/JPY", intent.ModePaper)
	assert.NoError(t, err)
	assert.Equal(t, CandidateRejected, result.Status)
	assert.Equal(t, "no position to close", result.Reason)

	counts, err := st.CountIntents()
	assert.NoError(t, err)
	assert.Zero(t, counts[intent.StatusProposed])
}

func TestClosePositionProposesFullSizeSell(t *testing.T) {
	t.Parallel()

	svc, st := newTestService(t)
	seedCandles(t, st, []float64{100, 101})

	// Build an open position through a recorded execution.
	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	oi := intent.OrderIntent{
		IntentID:    "44444444-4444-4444-4444-444444444444",
		CreatedAt:   created,
		Symbol:      "BTC/JPY",
		Side:        intent.Buy,
		Size:        0.01,
		Price:       100,
		OrderType:   "limit",
		TimeInForce: "GTC",
		Strategy:    "baseline",
		Confidence:  0.6,
		Rationale:   "test",
		ExpiresAt:   created.Add(15 * time.Minute),
		Mode:        intent.ModePaper,
	}
	_, err := st.SaveIntent(oi)
	assert.NoError(t, err)
	assert.NoError(t, st.UpdateIntentStatus(oi.IntentID, intent.StatusApproved))
	assert.NoError(t, st.RecordExecution(
		store.Execution{
			ExecID:     "e1",
			IntentID:   oi.IntentID,
			IntentHash: oi.Hash(),
			ExecutedAt: created,
			Mode:       intent.ModePaper,
			Status:     intent.StatusFilled,
		},
		[]store.Fill{{
			FillID: "f1", ExecID: "e1", Symbol: "BTC/JPY",
			Side: intent.Buy, Size: 0.01, Price: 100, Fee: 0.01,
			FeeCurrency: "JPY", TS: created,
		}},
		nil,
		intent.StatusFilled,
	))

	result, err := svc.ClosePosition("BTC/JPY", intent.ModePaper)
	assert.NoError(t, err)
	assert.Equal(t, CandidateProposed, result.Status)
	assert.Equal(t, intent.Sell, result.Side)
	assert.InDelta(t, 0.01, result.Size, 1e-9)
	assert.InDelta(t, 101, result.Price, 1e-9)
	assert.Equal(t, "manual_close", result.Strategy)
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)
}
