package runner

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/propose"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testSettings(t *testing.T) *config.Settings {
	t.Helper()

	cfg := config.Default()
	cfg.App.DataDir = t.TempDir()
	cfg.Runner.JitterSeconds = 0
	cfg.Runner.MarketPollSeconds = 30
	cfg.Runner.NewsPollSeconds = 120
	cfg.Runner.ProposePollSeconds = 60
	cfg.Runner.ProposeCooldownSeconds = 300
	cfg.Runner.MaxBackoffSeconds = 4
	return cfg
}

func testPlan() intent.TradePlan {
	return intent.TradePlan{
		Symbol:     "BTC/JPY",
		Side:       intent.Buy,
		Size:       0.01,
		Price:      5000000,
		Confidence: 0.6,
		Rationale:  "test",
		Strategy:   "baseline",
	}
}

func proposedCandidate() propose.Candidate {
	plan := testPlan()
	return propose.Candidate{Status: propose.CandidateProposed, Plan: &plan}
}

func newTestRunner(t *testing.T, cfg *config.Settings, clock *fakeClock, funcs Funcs) *Runner {
	t.Helper()

	if funcs.MarketIngest == nil {
		funcs.MarketIngest = func(ctx context.Context) error { return nil }
	}
	if funcs.Prepare == nil {
		funcs.Prepare = func(ctx context.Context) (propose.Candidate, error) {
			return proposedCandidate(), nil
		}
	}
	if funcs.Finalize == nil {
		funcs.Finalize = func(c propose.Candidate) (propose.Proposal, error) {
			return propose.Proposal{Status: propose.CandidateProposed, IntentID: "i1"}, nil
		}
	}
	return New(cfg, funcs, zap.NewNop(), Options{
		StatePath: filepath.Join(cfg.App.DataDir, "runner_state.json"),
		Now:       clock.Now,
		Sleep:     func(time.Duration) {},
		Rand:      rand.New(rand.NewSource(1)),
	})
}

func TestPlanSignatureDeterministicAndRounded(t *testing.T) {
	t.Parallel()

	plan := testPlan()
	sig1 := PlanSignature(plan, intent.ModePaper)
	sig2 := PlanSignature(plan, intent.ModePaper)
	assert.Equal(t, sig1, sig2)
	assert.Len(t, sig1, 64)

	// Sub-1e-8 float noise is invisible to the signature.
	noisy := plan
	noisy.Size += 1e-12
	assert.Equal(t, sig1, PlanSignature(noisy, intent.ModePaper))

	// A real change is not.
	bigger := plan
	bigger.Size += 0.001
	assert.NotEqual(t, sig1, PlanSignature(bigger, intent.ModePaper))

	// Mode is part of the identity.
	assert.NotEqual(t, sig1, PlanSignature(plan, intent.ModeLive))
}

func TestDuplicatePlanProposedOnce(t *testing.T) {
	t.Parallel()

	cfg := testSettings(t)
	clock := &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}

	finalized := 0
	r := newTestRunner(t, cfg, clock, Funcs{
		Finalize: func(c propose.Candidate) (propose.Proposal, error) {
			finalized++
			return propose.Proposal{Status: propose.CandidateProposed, IntentID: "i1"}, nil
		},
	})

	assert.NoError(t, r.Run(context.Background(), true, 0))
	assert.Equal(t, 1, finalized)

	// Same plan again inside the cooldown window: suppressed.
	clock.Advance(31 * time.Second)
	assert.NoError(t, r.Run(context.Background(), true, 0))
	assert.Equal(t, 1, finalized)

	// After the cooldown the same plan may propose again.
	clock.Advance(time.Duration(cfg.Runner.ProposeCooldownSeconds) * time.Second)
	assert.NoError(t, r.Run(context.Background(), true, 0))
	assert.Equal(t, 2, finalized)
}

func TestChangedPlanBypassesDedup(t *testing.T) {
	t.Parallel()

	cfg := testSettings(t)
	clock := &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}

	price := 5000000.0
	finalized := 0
	r := newTestRunner(t, cfg, clock, Funcs{
		Prepare: func(ctx context.Context) (propose.Candidate, error) {
			plan := testPlan()
			plan.Price = price
			return propose.Candidate{Status: propose.CandidateProposed, Plan: &plan}, nil
		},
		Finalize: func(c propose.Candidate) (propose.Proposal, error) {
			finalized++
			return propose.Proposal{Status: propose.CandidateProposed}, nil
		},
	})

	assert.NoError(t, r.Run(context.Background(), true, 0))
	price = 5010000.0
	clock.Advance(31 * time.Second)
	assert.NoError(t, r.Run(context.Background(), true, 0))
	assert.Equal(t, 2, finalized)
}

func TestProposeSkippedOnIngestFailure(t *testing.T) {
	t.Parallel()

	cfg := testSettings(t)
	clock := &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}

	prepared := 0
	r := newTestRunner(t, cfg, clock, Funcs{
		MarketIngest: func(ctx context.Context) error { return errors.New("venue down") },
		Prepare: func(ctx context.Context) (propose.Candidate, error) {
			prepared++
			return proposedCandidate(), nil
		},
	})

	assert.NoError(t, r.Run(context.Background(), true, 0))
	assert.Zero(t, prepared)
}

func TestProposeTriggeredByFreshIngest(t *testing.T) {
	t.Parallel()

	cfg := testSettings(t)
	// Propose timer far in the future relative to the market poll.
	cfg.Runner.ProposePollSeconds = 3600
	clock := &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}

	prepared := 0
	r := newTestRunner(t, cfg, clock, Funcs{
		Prepare: func(ctx context.Context) (propose.Candidate, error) {
			prepared++
			return propose.Candidate{Status: propose.CandidateHold, Reason: "no signal"}, nil
		},
	})

	assert.NoError(t, r.Run(context.Background(), true, 0))
	assert.Equal(t, 1, prepared)

	// Second cycle: the propose timer is an hour out, but a fresh market
	// ingest still triggers a propose pass.
	clock.Advance(time.Duration(cfg.Runner.MarketPollSeconds+1) * time.Second)
	assert.NoError(t, r.Run(context.Background(), true, 0))
	assert.Equal(t, 2, prepared)
}

func TestBackoffDoublesAndResets(t *testing.T) {
	t.Parallel()

	cfg := testSettings(t)
	clock := &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}

	fail := true
	r := newTestRunner(t, cfg, clock, Funcs{
		MarketIngest: func(ctx context.Context) error {
			if fail {
				return errors.New("venue down")
			}
			return nil
		},
	})

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	for _, expected := range want {
		assert.NoError(t, r.Run(context.Background(), true, 0))
		assert.Equal(t, expected, r.Backoff())
		clock.Advance(time.Duration(cfg.Runner.MarketPollSeconds+1) * time.Second)
	}

	fail = false
	assert.NoError(t, r.Run(context.Background(), true, 0))
	assert.Zero(t, r.Backoff())
}

func TestStateSurvivesRestart(t *testing.T) {
	t.Parallel()

	cfg := testSettings(t)
	clock := &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	statePath := filepath.Join(cfg.App.DataDir, "runner_state.json")

	r := newTestRunner(t, cfg, clock, Funcs{})
	assert.NoError(t, r.Run(context.Background(), true, 0))

	st := LoadState(statePath)
	assert.Equal(t, 1, st.Iteration)
	assert.NotEmpty(t, st.LastSignature)
	assert.NotEmpty(t, st.LastProposeAt)

	// A fresh runner resumes the iteration count and the dedup signature.
	finalized := 0
	r2 := newTestRunner(t, cfg, clock, Funcs{
		Finalize: func(c propose.Candidate) (propose.Proposal, error) {
			finalized++
			return propose.Proposal{}, nil
		},
	})
	clock.Advance(31 * time.Second)
	assert.NoError(t, r2.Run(context.Background(), true, 0))
	assert.Zero(t, finalized)
	assert.Equal(t, 2, LoadState(statePath).Iteration)
}

func TestCorruptStateFileStartsFresh(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "runner_state.json")
	assert.NoError(t, State{Iteration: 7}.Save(path))
	assert.Equal(t, 7, LoadState(path).Iteration)

	assert.NoError(t, writeFile(path, "{not json"))
	assert.Zero(t, LoadState(path).Iteration)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func TestStopIsCooperative(t *testing.T) {
	t.Parallel()

	cfg := testSettings(t)
	clock := &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}

	r := newTestRunner(t, cfg, clock, Funcs{})
	r.Stop()
	r.Stop() // second stop is a no-op

	assert.NoError(t, r.Run(context.Background(), false, 0))
	assert.Zero(t, r.Snapshot().Iteration)
}

func TestStopMidCycleFinishesAndPersists(t *testing.T) {
	t.Parallel()

	cfg := testSettings(t)
	clock := &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}

	var r *Runner
	proposed := false
	r = newTestRunner(t, cfg, clock, Funcs{
		MarketIngest: func(ctx context.Context) error {
			// A stop request landing while the cycle is in flight.
			r.Stop()
			return nil
		},
		Finalize: func(c propose.Candidate) (propose.Proposal, error) {
			proposed = true
			return propose.Proposal{Status: propose.CandidateProposed, IntentID: "i1"}, nil
		},
	})

	assert.NoError(t, r.Run(context.Background(), false, 0))

	// The interrupted cycle still completed its propose and saved state.
	assert.True(t, proposed)
	assert.Equal(t, 1, r.Snapshot().Iteration)
	saved := LoadState(filepath.Join(cfg.App.DataDir, "runner_state.json"))
	assert.Equal(t, 1, saved.Iteration)
	assert.NotEmpty(t, saved.LastProposeAt)
}
