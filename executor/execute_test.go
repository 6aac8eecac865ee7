package executor

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradeagent/approval"
	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/store"
)

var execNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type execHarness struct {
	exec      *Executor
	store     *store.Store
	approvals *approval.Service
	cfg       *config.Settings
	dbPath    string
}

func newExecHarness(t *testing.T) *execHarness {
	t.Helper()

	path := filepath.Join(t.TempDir(), "exec.db")
	st, err := store.Open(path)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.App.DataDir = t.TempDir()
	cfg.Risk.CooldownMinutes = 0
	// Deterministic resting fills.
	cfg.Paper.FillProbability = 1.0

	approvals := approval.New(st, cfg.Trading.ApprovalPhrase)
	ex := New(st, nil, approvals, cfg, zap.NewNop())
	ex.SetClock(func() time.Time { return execNow })

	return &execHarness{exec: ex, store: st, approvals: approvals, cfg: cfg, dbPath: path}
}

// seedIntent persists a paper buy intent created shortly before execNow.
func (h *execHarness) seedIntent(t *testing.T, size, price float64) intent.OrderIntent {
	t.Helper()

	created := execNow.Add(-5 * time.Minute)
	oi := intent.OrderIntent{
		IntentID:    "33333333-3333-3333-3333-333333333333",
		CreatedAt:   created,
		Symbol:      "BTC/JPY",
		Side:        intent.Buy,
		Size:        size,
		Price:       price,
		OrderType:   "limit",
		TimeInForce: "GTC",
		Strategy:    "baseline",
		Confidence:  0.7,
		Rationale:   "gate chain test",
		ExpiresAt:   created.Add(15 * time.Minute),
		Mode:        intent.ModePaper,
	}
	_, err := h.store.SaveIntent(oi)
	assert.NoError(t, err)
	return oi
}

func (h *execHarness) approve(t *testing.T, intentID string) {
	t.Helper()
	assert.NoError(t, h.approvals.Approve(intentID, "I APPROVE", "alice", execNow))
}

func (h *execHarness) status(t *testing.T, intentID string) intent.Status {
	t.Helper()
	rec, err := h.store.Intent(intentID)
	assert.NoError(t, err)
	return rec.Status
}

func TestExecuteRequiresApproval(t *testing.T) {
	t.Parallel()

	h := newExecHarness(t)
	oi := h.seedIntent(t, 0.0005, 5000000)

	outcome, err := h.exec.Execute(context.Background(), oi.IntentID)
	assert.ErrorIs(t, err, ErrNotApproved)
	assert.Equal(t, "approval required", outcome.Reason)

	// An unapproved intent is untouched, not failed.
	assert.Equal(t, intent.StatusProposed, h.status(t, oi.IntentID))
}

func TestExecuteTerminalIntentShortCircuits(t *testing.T) {
	t.Parallel()

	h := newExecHarness(t)
	oi := h.seedIntent(t, 0.0005, 5000000)
	assert.NoError(t, h.store.UpdateIntentStatus(oi.IntentID, intent.StatusRejected))

	outcome, err := h.exec.Execute(context.Background(), oi.IntentID)
	assert.ErrorIs(t, err, ErrTerminal)
	assert.Equal(t, intent.StatusRejected, outcome.Status)
}

func TestExecuteDetectsTamperedIntent(t *testing.T) {
	t.Parallel()

	h := newExecHarness(t)
	oi := h.seedIntent(t, 0.0005, 5000000)
	h.approve(t, oi.IntentID)

	// Corrupt the stored hash out of band, as a hostile write would.
	db, err := sql.Open("sqlite3", h.dbPath)
	assert.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`UPDATE order_intents SET intent_hash = ? WHERE intent_id = ?`,
		"deadbeef", oi.IntentID)
	assert.NoError(t, err)

	outcome, eerr := h.exec.Execute(context.Background(), oi.IntentID)
	assert.ErrorIs(t, eerr, approval.ErrHashMismatch)
	assert.Equal(t, intent.StatusError, outcome.Status)
	assert.Equal(t, intent.StatusError, h.status(t, oi.IntentID))
}

func TestExecuteExpiredIntentIsMarked(t *testing.T) {
	t.Parallel()

	h := newExecHarness(t)
	oi := h.seedIntent(t, 0.0005, 5000000)

	h.exec.SetClock(func() time.Time { return execNow.Add(time.Hour) })
	outcome, err := h.exec.Execute(context.Background(), oi.IntentID)
	assert.NoError(t, err)
	assert.Equal(t, intent.StatusExpired, outcome.Status)
	assert.Equal(t, intent.StatusExpired, h.status(t, oi.IntentID))
}

func TestExecuteKillSwitchRejects(t *testing.T) {
	t.Parallel()

	h := newExecHarness(t)
	oi := h.seedIntent(t, 0.0005, 5000000)
	h.cfg.Trading.KillSwitch = true

	outcome, err := h.exec.Execute(context.Background(), oi.IntentID)
	assert.NoError(t, err)
	assert.Equal(t, intent.StatusRejected, outcome.Status)
	assert.Equal(t, "kill switch enabled", outcome.Reason)
}

func TestExecuteRejectsWhenRiskWouldResize(t *testing.T) {
	t.Parallel()

	h := newExecHarness(t)
	// Notional 50000 is over the 5000 per-trade loss cap, so the risk
	// re-evaluation approves a smaller size than the frozen intent carries.
	oi := h.seedIntent(t, 0.01, 5000000)
	h.approve(t, oi.IntentID)

	outcome, err := h.exec.Execute(context.Background(), oi.IntentID)
	assert.NoError(t, err)
	assert.Equal(t, intent.StatusRejected, outcome.Status)
	assert.Equal(t, "risk limits changed since proposal", outcome.Reason)
	assert.Equal(t, intent.StatusRejected, h.status(t, oi.IntentID))
}

func TestExecutePaperFillRecordsEverything(t *testing.T) {
	t.Parallel()

	h := newExecHarness(t)
	oi := h.seedIntent(t, 0.0005, 5000000)
	h.approve(t, oi.IntentID)

	outcome, err := h.exec.Execute(context.Background(), oi.IntentID)
	assert.NoError(t, err)
	assert.Equal(t, intent.StatusFilled, outcome.Status)

	// No stored orderbook: the book is estimated around the intent price with
	// the configured 2 bps spread, and the post-only emulation pegs the buy to
	// the bid.
	assert.InDelta(t, 4999500, outcome.Price, 1e-6)
	assert.InDelta(t, 0.0005, outcome.FillSize, 1e-12)
	assert.InDelta(t, 4999500*0.0005*0.001, outcome.Fee, 1e-9)

	// A buy fill realizes nothing.
	assert.InDelta(t, 0, outcome.PnL, 1e-12)

	// Record ids are UUIDs.
	_, perr := uuid.Parse(outcome.ExecID)
	assert.NoError(t, perr)

	assert.Equal(t, intent.StatusFilled, h.status(t, oi.IntentID))

	pnl, err := h.store.DailyPnL("2026-06-01")
	assert.NoError(t, err)
	assert.InDelta(t, 0, pnl, 1e-12)

	n, err := h.store.DailyExecutionCount("2026-06-01")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	size, avgCost, err := h.store.PositionState("BTC/JPY")
	assert.NoError(t, err)
	assert.InDelta(t, 0.0005, size, 1e-12)
	// Fee blends into the cost basis.
	assert.InDelta(t, 4999500+outcome.Fee/0.0005, avgCost, 1e-6)
}
