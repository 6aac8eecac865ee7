package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/market"
	"github.com/rustyeddy/tradeagent/news"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testIntent() intent.OrderIntent {
	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return intent.OrderIntent{
		IntentID:    "11111111-1111-1111-1111-111111111111",
		CreatedAt:   created,
		Symbol:      "BTC/JPY",
		Side:        intent.Buy,
		Size:        0.01,
		Price:       5000000,
		OrderType:   "limit",
		TimeInForce: "GTC",
		Strategy:    "news_overlay",
		Confidence:  0.7,
		Rationale:   "test intent",
		FeaturesRef: "BTC/JPY:1746090000000:news_v1",
		ExpiresAt:   created.Add(15 * time.Minute),
		Mode:        intent.ModePaper,
	}
}

func TestSaveIntentIdempotent(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	oi := testIntent()

	inserted, err := st.SaveIntent(oi)
	assert.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = st.SaveIntent(oi)
	assert.NoError(t, err)
	assert.False(t, inserted)

	counts, err := st.CountIntents()
	assert.NoError(t, err)
	assert.Equal(t, 1, counts[intent.StatusProposed])
}

func TestIntentRoundTrip(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	oi := testIntent()
	_, err := st.SaveIntent(oi)
	assert.NoError(t, err)

	rec, err := st.Intent(oi.IntentID)
	assert.NoError(t, err)
	assert.Equal(t, intent.StatusProposed, rec.Status)
	assert.Equal(t, oi.Hash(), rec.IntentHash)
	assert.Equal(t, oi, rec.Intent)
	// The recomputed hash of the stored payload matches the stored hash.
	assert.Equal(t, rec.IntentHash, rec.Intent.Hash())
}

func TestIntentNotFound(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	_, err := st.Intent("missing")
	assert.ErrorIs(t, err, ErrIntentNotFound)
}

func TestUpdateIntentStatusEnforcesTransitions(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	oi := testIntent()
	_, err := st.SaveIntent(oi)
	assert.NoError(t, err)

	assert.NoError(t, st.UpdateIntentStatus(oi.IntentID, intent.StatusApproved))
	assert.NoError(t, st.UpdateIntentStatus(oi.IntentID, intent.StatusFilled))

	// Terminal states are frozen.
	err = st.UpdateIntentStatus(oi.IntentID, intent.StatusApproved)
	assert.ErrorIs(t, err, ErrBadTransition)

	rec, err := st.Intent(oi.IntentID)
	assert.NoError(t, err)
	assert.Equal(t, intent.StatusFilled, rec.Status)
}

func TestApprovalRoundTrip(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	oi := testIntent()
	_, err := st.SaveIntent(oi)
	assert.NoError(t, err)

	_, _, ok, err := st.Approval(oi.IntentID)
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, st.SaveApproval(oi.IntentID, oi.Hash(), "alice", intent.SHA256Hex("I APPROVE")))

	hash, by, ok, err := st.Approval(oi.IntentID)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, oi.Hash(), hash)
	assert.Equal(t, "alice", by)
}

func TestRecordExecutionTransactional(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	oi := testIntent()
	_, err := st.SaveIntent(oi)
	assert.NoError(t, err)
	assert.NoError(t, st.UpdateIntentStatus(oi.IntentID, intent.StatusApproved))

	executedAt := time.Date(2026, 5, 1, 9, 5, 0, 0, time.UTC)
	exec := Execution{
		ExecID:        "exec-1",
		IntentID:      oi.IntentID,
		IntentHash:    oi.Hash(),
		ExecutedAt:    executedAt,
		Mode:          intent.ModePaper,
		Status:        intent.StatusFilled,
		Fee:           50,
		SlippageModel: "paper_bps",
	}
	fill := Fill{
		FillID:      "fill-1",
		ExecID:      "exec-1",
		Symbol:      oi.Symbol,
		Side:        intent.Buy,
		Size:        0.01,
		Price:       5002500,
		Fee:         50,
		FeeCurrency: "JPY",
		TS:          executedAt,
	}
	trade := &TradeResult{
		TradeID:   "trade-1",
		IntentID:  oi.IntentID,
		PnL:       -50,
		CreatedAt: executedAt,
		Mode:      intent.ModePaper,
		Meta:      map[string]any{"fee": 50.0, "notional": 50025.0},
	}

	assert.NoError(t, st.RecordExecution(exec, []Fill{fill}, trade, intent.StatusFilled))

	rec, err := st.Intent(oi.IntentID)
	assert.NoError(t, err)
	assert.Equal(t, intent.StatusFilled, rec.Status)

	pnl, err := st.DailyPnL("2026-05-01")
	assert.NoError(t, err)
	assert.InDelta(t, -50, pnl, 1e-9)

	n, err := st.DailyExecutionCount("2026-05-01")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	last, ok, err := st.LastExecutionTime()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, executedAt, last)
}

func TestRecordExecutionRollsBackOnBadTransition(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	oi := testIntent()
	_, err := st.SaveIntent(oi)
	assert.NoError(t, err)
	assert.NoError(t, st.UpdateIntentStatus(oi.IntentID, intent.StatusExpired))

	exec := Execution{
		ExecID:     "exec-1",
		IntentID:   oi.IntentID,
		IntentHash: oi.Hash(),
		ExecutedAt: time.Now().UTC(),
		Mode:       intent.ModePaper,
		Status:     intent.StatusFilled,
	}
	err = st.RecordExecution(exec, nil, nil, intent.StatusFilled)
	assert.ErrorIs(t, err, ErrBadTransition)

	// The execution insert must not survive the failed transaction.
	n, err := st.DailyExecutionCount(time.Now().UTC().Format("2006-01-02"))
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestPositionStateAverageCost(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	oi := testIntent()
	_, err := st.SaveIntent(oi)
	assert.NoError(t, err)

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	fills := []Fill{
		{FillID: "f1", ExecID: "e1", Symbol: "BTC/JPY", Side: intent.Buy, Size: 1, Price: 100, Fee: 1, FeeCurrency: "JPY", TS: base},
		{FillID: "f2", ExecID: "e1", Symbol: "BTC/JPY", Side: intent.Buy, Size: 1, Price: 110, Fee: 1.1, FeeCurrency: "JPY", TS: base.Add(time.Minute)},
		{FillID: "f3", ExecID: "e1", Symbol: "BTC/JPY", Side: intent.Sell, Size: 0.5, Price: 120, Fee: 0.6, FeeCurrency: "JPY", TS: base.Add(2 * time.Minute)},
	}
	exec := Execution{
		ExecID:     "e1",
		IntentID:   oi.IntentID,
		IntentHash: oi.Hash(),
		ExecutedAt: base,
		Mode:       intent.ModePaper,
		Status:     intent.StatusFilled,
	}
	assert.NoError(t, st.RecordExecution(exec, fills, nil, intent.StatusFilled))

	size, avg, err := st.PositionState("BTC/JPY")
	assert.NoError(t, err)
	// Cost basis: 101 + 111.1 = 212.1 over 2 units (avg 106.05); selling 0.5
	// releases cost at that average.
	assert.InDelta(t, 1.5, size, 1e-9)
	assert.InDelta(t, 106.05, avg, 1e-9)
}

func TestPositionStateFlatAfterRoundTrip(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	oi := testIntent()
	_, err := st.SaveIntent(oi)
	assert.NoError(t, err)

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	fills := []Fill{
		{FillID: "f1", ExecID: "e1", Symbol: "BTC/JPY", Side: intent.Buy, Size: 1, Price: 100, Fee: 1, FeeCurrency: "JPY", TS: base},
		{FillID: "f2", ExecID: "e1", Symbol: "BTC/JPY", Side: intent.Sell, Size: 1, Price: 105, Fee: 1, FeeCurrency: "JPY", TS: base.Add(time.Minute)},
	}
	exec := Execution{
		ExecID:     "e1",
		IntentID:   oi.IntentID,
		IntentHash: oi.Hash(),
		ExecutedAt: base,
		Mode:       intent.ModePaper,
		Status:     intent.StatusFilled,
	}
	assert.NoError(t, st.RecordExecution(exec, fills, nil, intent.StatusFilled))

	size, avg, err := st.PositionState("BTC/JPY")
	assert.NoError(t, err)
	assert.Zero(t, size)
	assert.Zero(t, avg)
}

func TestLogEventAssignsSortableIDs(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	assert.NoError(t, st.LogEvent("ingest_complete", map[string]any{"symbol": "BTC/JPY"}))
	assert.NoError(t, st.LogEvent("ingest_complete", map[string]any{"symbol": "ETH/JPY"}))

	rows, err := st.db.Query(`SELECT event_id FROM audit_logs ORDER BY event_id ASC`)
	assert.NoError(t, err)
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var eventID string
		assert.NoError(t, rows.Scan(&eventID))
		_, perr := ulid.Parse(eventID)
		assert.NoError(t, perr)
		ids = append(ids, eventID)
	}
	assert.NoError(t, rows.Err())
	assert.Len(t, ids, 2)
	assert.Less(t, ids[0], ids[1])
}

func TestSaveCandlesIdempotentAndOrdered(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	candles := []market.Candle{
		{Symbol: "BTC/JPY", Timeframe: "1m", TS: 3000, Open: 3, High: 3, Low: 3, Close: 3, Volume: 1, Source: "test"},
		{Symbol: "BTC/JPY", Timeframe: "1m", TS: 1000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1, Source: "test"},
		{Symbol: "BTC/JPY", Timeframe: "1m", TS: 2000, Open: 2, High: 2, Low: 2, Close: 2, Volume: 1, Source: "test"},
	}

	added, err := st.SaveCandles(candles)
	assert.NoError(t, err)
	assert.Equal(t, 3, added)

	added, err = st.SaveCandles(candles)
	assert.NoError(t, err)
	assert.Zero(t, added)

	got, err := st.Candles("BTC/JPY", "1m", 2)
	assert.NoError(t, err)
	assert.Len(t, got, 2)
	// Most recent two, oldest first.
	assert.Equal(t, int64(2000), got[0].TS)
	assert.Equal(t, int64(3000), got[1].TS)

	latest, ok, err := st.LatestCandle("BTC/JPY", "1m")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3000), latest.TS)

	between, err := st.CandlesBetween("BTC/JPY", "1m", 1000, 2000)
	assert.NoError(t, err)
	assert.Len(t, between, 2)
}

func TestSaveNewsItemDeduplicates(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	item := news.Item{
		Sentiment:    0.4,
		SourceWeight: 1.0,
		PublishedAt:  time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
		ObservedAt:   time.Date(2026, 5, 1, 8, 2, 0, 0, time.UTC),
	}

	inserted, err := st.SaveNewsItem("feed", "hash-1", item)
	assert.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = st.SaveNewsItem("feed", "hash-1", item)
	assert.NoError(t, err)
	assert.False(t, inserted)

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 5, 1, 23, 59, 59, 0, time.UTC)
	items, err := st.NewsItemsWindow(start, end, end)
	assert.NoError(t, err)
	assert.Len(t, items, 1)
	assert.InDelta(t, 0.4, items[0].Sentiment, 1e-9)
}

func TestOrderbookRoundTrip(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)

	_, ok, err := st.LatestOrderbook("BTC/JPY")
	assert.NoError(t, err)
	assert.False(t, ok)

	ob := market.Orderbook{
		Symbol: "BTC/JPY", Bid: 4999000, Ask: 5001000, BidSize: 0.5, AskSize: 0.3,
		TS: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	assert.NoError(t, st.SaveOrderbook(ob))

	got, ok, err := st.LatestOrderbook("BTC/JPY")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ob, got)
}
