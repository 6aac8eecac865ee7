// Package runner is the unattended scheduling loop: periodic market and news
// ingest, followed by a propose pass. Each task keeps its own jittered
// schedule; a propose also piggybacks on any cycle that attempted an ingest,
// so fresh data is acted on without waiting for the propose timer.
package runner

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/propose"
)

// Funcs are the runner's injectable task implementations. Tests swap these
// for stubs; production wiring binds them to the propose service and the
// news ingest collaborator. A nil NewsIngest disables the news schedule.
type Funcs struct {
	MarketIngest func(ctx context.Context) error
	NewsIngest   func(ctx context.Context) error
	Prepare      func(ctx context.Context) (propose.Candidate, error)
	Finalize     func(candidate propose.Candidate) (propose.Proposal, error)
}

// Options tune a runner beyond its config section.
type Options struct {
	StatePath string
	Now       func() time.Time
	Sleep     func(d time.Duration)
	Rand      *rand.Rand
}

// Runner drives the ingest and propose schedules until stopped.
type Runner struct {
	cfg   config.RunnerConfig
	mode  intent.Mode
	funcs Funcs
	log   *zap.Logger

	statePath string
	state     State
	now       func() time.Time
	sleep     func(d time.Duration)
	rng       *rand.Rand

	stop    chan struct{}
	backoff time.Duration

	nextMarket  time.Time
	nextNews    time.Time
	nextPropose time.Time
}

// New builds a runner. The state file is loaded immediately so iteration
// counts and the dedup signature survive restarts.
func New(cfg *config.Settings, funcs Funcs, log *zap.Logger, opts Options) *Runner {
	statePath := opts.StatePath
	if statePath == "" {
		statePath = filepath.Join(cfg.App.DataDir, "runner_state.json")
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	r := &Runner{
		cfg:       cfg.Runner,
		mode:      intent.Mode(cfg.Trading.Mode),
		funcs:     funcs,
		log:       log,
		statePath: statePath,
		state:     LoadState(statePath),
		now:       now,
		sleep:     sleep,
		rng:       rng,
		stop:      make(chan struct{}),
	}

	start := now()
	r.nextMarket = start
	r.nextNews = start
	r.nextPropose = start
	return r
}

// Stop requests a cooperative stop. The current cycle finishes and its state
// is persisted before Run returns.
func (r *Runner) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}

func (r *Runner) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

func (r *Runner) jitter() time.Duration {
	if r.cfg.JitterSeconds <= 0 {
		return 0
	}
	return time.Duration(r.rng.Float64() * float64(r.cfg.JitterSeconds) * float64(time.Second))
}

func (r *Runner) scheduleNext(now time.Time, intervalSeconds int) time.Time {
	return now.Add(time.Duration(intervalSeconds)*time.Second + r.jitter())
}

func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

// PlanSignature fingerprints a plan for dedup: identical consecutive plans
// within the propose cooldown are not re-proposed. Size and price round to 8
// decimals so float noise does not defeat the dedup.
func PlanSignature(plan intent.TradePlan, mode intent.Mode) string {
	var b strings.Builder
	b.WriteString("{")
	b.WriteString(`"mode":` + intent.EscapeString(string(mode)) + ",")
	b.WriteString(`"order_type":"limit",`)
	b.WriteString(`"price":` + intent.FormatFloat(round8(plan.Price)) + ",")
	b.WriteString(`"side":` + intent.EscapeString(string(plan.Side)) + ",")
	b.WriteString(`"size":` + intent.FormatFloat(round8(plan.Size)) + ",")
	b.WriteString(`"strategy":` + intent.EscapeString(plan.Strategy) + ",")
	b.WriteString(`"symbol":` + intent.EscapeString(plan.Symbol) + ",")
	b.WriteString(`"time_in_force":"GTC"`)
	b.WriteString("}")
	return intent.SHA256Hex(b.String())
}

func (r *Runner) withinCooldown(signature string, now time.Time) bool {
	if r.state.LastSignature == "" || r.state.LastSignatureAt == "" {
		return false
	}
	if r.state.LastSignature != signature {
		return false
	}
	last, err := intent.ParseISOTime(r.state.LastSignatureAt)
	if err != nil {
		return false
	}
	return now.Sub(last) < time.Duration(r.cfg.ProposeCooldownSeconds)*time.Second
}

// Run loops until Stop, once completes a single cycle, maxCycles bounds the
// loop when positive.
func (r *Runner) Run(ctx context.Context, once bool, maxCycles int) error {
	cycles := 0
	for !r.stopped() {
		if once && cycles >= 1 {
			break
		}
		if maxCycles > 0 && cycles >= maxCycles {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cycles++
		r.state.Iteration++
		now := r.now()
		var errs []string
		ingestAttempted := false
		ingestFailed := false

		if !now.Before(r.nextMarket) {
			ingestAttempted = true
			if err := r.funcs.MarketIngest(ctx); err != nil {
				ingestFailed = true
				errs = append(errs, fmt.Sprintf("market ingest: %v", err))
				r.log.Warn("market ingest failed", zap.Error(err))
			} else {
				r.state.LastIngestMarketAt = intent.ISOTime(r.now())
				r.log.Info("market ingest ok")
			}
			r.nextMarket = r.scheduleNext(now, r.cfg.MarketPollSeconds)
		}

		if r.funcs.NewsIngest != nil && !now.Before(r.nextNews) {
			ingestAttempted = true
			if err := r.funcs.NewsIngest(ctx); err != nil {
				ingestFailed = true
				errs = append(errs, fmt.Sprintf("news ingest: %v", err))
				r.log.Warn("news ingest failed", zap.Error(err))
			} else {
				r.state.LastIngestNewsAt = intent.ISOTime(r.now())
				r.log.Info("news ingest ok")
			}
			r.nextNews = r.scheduleNext(now, r.cfg.NewsPollSeconds)
		}

		proposeDue := !now.Before(r.nextPropose)
		if proposeDue || ingestAttempted {
			if ingestFailed {
				// A propose on stale or partial data is worse than no propose.
				r.log.Warn("propose skipped, ingest failed")
			} else if err := r.proposeOnce(ctx, now); err != nil {
				errs = append(errs, fmt.Sprintf("propose: %v", err))
				r.log.Warn("propose failed", zap.Error(err))
			}
			r.nextPropose = r.scheduleNext(now, r.cfg.ProposePollSeconds)
		}

		if len(errs) > 0 {
			r.state.LastErrorAt = intent.ISOTime(r.now())
			summary := strings.Join(errs, "; ")
			if len(summary) > 500 {
				summary = summary[:500]
			}
			r.state.LastErrorSummary = summary
			if r.backoff <= 0 {
				r.backoff = time.Second
			} else {
				r.backoff *= 2
				if limit := time.Duration(r.cfg.MaxBackoffSeconds) * time.Second; r.backoff > limit {
					r.backoff = limit
				}
			}
		} else {
			r.backoff = 0
		}

		if err := r.state.Save(r.statePath); err != nil {
			r.log.Warn("state save failed", zap.Error(err))
		}

		if once || r.stopped() {
			break
		}

		nextDue := r.nextMarket
		if r.funcs.NewsIngest != nil && r.nextNews.Before(nextDue) {
			nextDue = r.nextNews
		}
		if r.nextPropose.Before(nextDue) {
			nextDue = r.nextPropose
		}
		sleepFor := nextDue.Sub(r.now())
		if sleepFor < 0 {
			sleepFor = 0
		}
		if r.backoff > sleepFor {
			sleepFor = r.backoff
		}
		r.log.Debug("cycle complete",
			zap.Int("iteration", r.state.Iteration),
			zap.Duration("sleep", sleepFor))
		if sleepFor > 0 {
			r.sleep(sleepFor)
		}
	}
	return nil
}

// Backoff exposes the current error backoff, for tests and status reporting.
func (r *Runner) Backoff() time.Duration { return r.backoff }

// Snapshot returns a copy of the persisted state.
func (r *Runner) Snapshot() State { return r.state }

func (r *Runner) proposeOnce(ctx context.Context, now time.Time) error {
	candidate, err := r.funcs.Prepare(ctx)
	if err != nil {
		return err
	}
	if candidate.Status != propose.CandidateProposed || candidate.Plan == nil {
		r.log.Info("no proposal",
			zap.String("status", string(candidate.Status)),
			zap.String("reason", candidate.Reason))
		return nil
	}

	signature := PlanSignature(*candidate.Plan, r.mode)
	if r.withinCooldown(signature, now) {
		r.log.Info("propose skipped, no change")
		return nil
	}

	result, err := r.funcs.Finalize(candidate)
	if err != nil {
		return err
	}
	nowISO := intent.ISOTime(r.now())
	r.state.LastProposeAt = nowISO
	r.state.LastSignature = signature
	r.state.LastSignatureAt = nowISO
	r.log.Info("intent proposed",
		zap.String("intent_id", result.IntentID),
		zap.String("side", string(result.Side)),
		zap.Float64("size", result.Size),
		zap.Float64("price", result.Price))
	return nil
}
