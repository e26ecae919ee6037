// Package engine implements the Engine (C13) and the Clock & Scheduler
// (C1): it wires every other component into one cycle function and paces
// cycles with dynamic sleep, backoff and a circuit breaker.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"nof0-api/pkg/contracts"
	"nof0-api/pkg/executor"
	"nof0-api/pkg/gate"
	"nof0-api/pkg/journal"
	"nof0-api/pkg/panel"
	"nof0-api/pkg/portfolio"
	"nof0-api/pkg/reconcile"
	"nof0-api/pkg/risk"
	"nof0-api/pkg/rules"
	"nof0-api/pkg/scan"
)

// CyclePublisher persists a completed cycle's record for audit (C13 cycle
// publication). Optional: a nil CyclePublisher in Deps disables journaling
// without otherwise affecting the cycle loop.
type CyclePublisher interface {
	WriteCycle(rec *journal.CycleRecord) (string, error)
}

// MetricsRecorder observes cycle-boundary events for the Prometheus
// endpoint. Optional: a nil MetricsRecorder in Deps disables observability
// without otherwise affecting the cycle loop.
type MetricsRecorder interface {
	RecordCycle(outcome string, durationSeconds float64)
	RecordTradesExecuted(n int)
	RecordAnalystFailure(analystID string)
	RecordCircuitBreakerTrip()
}

// circuitBreakerThreshold is the consecutive-failure count that trips the
// circuit breaker (spec.md P7).
const circuitBreakerThreshold = 10

// Deps bundles every collaborator the Engine drives each cycle.
type Deps struct {
	Fetcher      *scan.Fetcher
	Specs        *contracts.Cache
	Portfolio    *portfolio.Aggregator
	Analysts     []panel.Analyst
	PanelConfig  panel.Config
	ExchangeSrc  portfolio.ExchangeSource
	Executor     *executor.Executor
	Reconciler   *reconcile.Reconciler
	Registry     *executor.Registry
	HoldHours    func(portfolio.Position) float64
	// EquitySink is called once per cycle with the freshly built view's
	// equity, if set. Lets the history collaborator (internal/persistence)
	// build its own PnL-window time series without re-deriving it from the
	// exchange, which exposes no history endpoint. Optional: nil disables
	// equity recording.
	EquitySink func(ctx context.Context, equity float64, at time.Time) error
	// Journal publishes every completed cycle's record for audit. Optional:
	// nil disables cycle journaling.
	Journal CyclePublisher
	// Metrics observes cycle-boundary counters for the /metrics endpoint.
	// Optional: nil disables observability.
	Metrics MetricsRecorder
}

// Engine owns the cycle record and counters. It exclusively owns the
// mutable counters (cycleCount, consecutive{Failures,Holds},
// totalAnalysesRun, totalTokensSaved); a new Engine must start with empty
// counters. The anti-churn cache lives inside Deps.Executor, which owns it
// for the Engine's lifetime.
type Engine struct {
	cfg  Config
	deps Deps

	startMu sync.Mutex
	state   State
	cancel  context.CancelFunc

	statusMu            sync.Mutex
	cycleCount          int
	consecutiveFailures int
	consecutiveHolds    int
	totalAnalysesRun    int
	totalTokensSaved    int
	lastCycle           *Cycle
}

// New builds an Engine with empty counters.
func New(cfg Config, deps Deps) *Engine {
	return &Engine{
		cfg:   cfg,
		deps:  deps,
		state: StateIdle,
	}
}

// Status is a consistent snapshot of the Engine's counters, taken under
// lock; it never exposes the live counters directly.
type Status struct {
	IsRunning           bool
	CycleCount          int
	ConsecutiveFailures int
	ConsecutiveHolds    int
	TotalAnalysesRun    int
	TotalTokensSaved    int
	LastCycle           *Cycle
}

// Status returns the current snapshot.
func (e *Engine) Status() Status {
	e.startMu.Lock()
	running := e.state == StateRunning
	e.startMu.Unlock()

	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return Status{
		IsRunning:           running,
		CycleCount:          e.cycleCount,
		ConsecutiveFailures: e.consecutiveFailures,
		ConsecutiveHolds:    e.consecutiveHolds,
		TotalAnalysesRun:    e.totalAnalysesRun,
		TotalTokensSaved:    e.totalTokensSaved,
		LastCycle:           e.lastCycle,
	}
}

// Start runs the cycle loop until ctx is cancelled or the circuit breaker
// trips. Concurrent Start calls are serialized: a call made while another is
// STARTING or RUNNING is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.startMu.Lock()
	if e.state == StateRunning || e.state == StateStarting {
		e.startMu.Unlock()
		return nil
	}
	e.state = StateStarting
	e.startMu.Unlock()

	if err := e.bootstrap(ctx); err != nil {
		e.startMu.Lock()
		e.state = StateIdle
		e.startMu.Unlock()
		return fmt.Errorf("engine: startup failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.startMu.Lock()
	e.state = StateRunning
	e.cancel = cancel
	e.startMu.Unlock()

	e.runForever(runCtx)
	return nil
}

// bootstrap refreshes the contract spec cache before the first cycle; a
// fatal startup error (no specs available after retries) refuses to start.
func (e *Engine) bootstrap(ctx context.Context) error {
	if e.deps.Specs == nil {
		return nil
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := e.deps.Specs.RefreshIfStale(ctx, e.cfg.Universe); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("no contract specs available after retries: %w", lastErr)
}

// Stop requests cancellation; the currently-executing cycle finishes its
// current step and the loop transitions STOPPING -> IDLE.
func (e *Engine) Stop() {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Cleanup is idempotent and guarded against concurrent invocation: calling
// it twice produces the same terminal state as calling it once (spec.md P9).
func (e *Engine) Cleanup() {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.state == StateStopping || e.state == StateRunning {
		e.state = StateIdle
	}
}

func (e *Engine) runForever(ctx context.Context) {
	defer e.Cleanup()
	for {
		if ctx.Err() != nil {
			e.transitionStopping()
			return
		}

		started := time.Now()
		hold, executed, cycleErr := e.runCycle(ctx)

		e.statusMu.Lock()
		if cycleErr == nil {
			e.consecutiveFailures = 0
		} else {
			e.consecutiveFailures++
		}
		if hold {
			e.consecutiveHolds++
		} else if executed {
			e.consecutiveHolds = 0
		}
		trip := e.consecutiveFailures >= circuitBreakerThreshold
		failures := e.consecutiveFailures
		holds := e.consecutiveHolds
		e.statusMu.Unlock()

		if trip {
			logx.WithContext(ctx).Errorf("engine: circuit breaker tripped after %d consecutive failures", failures)
			if e.deps.Metrics != nil {
				e.deps.Metrics.RecordCircuitBreakerTrip()
			}
			e.transitionStopping()
			return
		}

		elapsed := time.Since(started)
		sleep := nextSleep(e.cfg.CycleInterval, elapsed, failures, holds)
		if !cancellableSleep(ctx, sleep) {
			e.transitionStopping()
			return
		}
	}
}

func (e *Engine) transitionStopping() {
	e.startMu.Lock()
	e.state = StateStopping
	e.startMu.Unlock()
}

// nextSleep implements spec.md §4.1's backoff formula.
func nextSleep(base, elapsed time.Duration, consecutiveFailures, consecutiveHolds int) time.Duration {
	sleep := base - elapsed
	if sleep < 0 {
		sleep = 0
	}
	switch {
	case consecutiveFailures >= 1:
		factor := 1.0
		for i := 0; i < consecutiveFailures; i++ {
			factor *= 1.5
		}
		scaled := time.Duration(float64(sleep) * factor)
		ceiling := 4 * base
		if scaled > ceiling {
			scaled = ceiling
		}
		sleep = scaled
	case consecutiveHolds >= 3:
		factor := 1 + 0.25*float64(consecutiveHolds-2)
		scaled := time.Duration(float64(sleep) * factor)
		ceiling := 2 * base
		if scaled > ceiling {
			scaled = ceiling
		}
		sleep = scaled
	}
	return sleep
}

// cancellableSleep waits for d or ctx cancellation, whichever comes first.
// Returns false if ctx was cancelled.
func cancellableSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// runCycle executes one full cycle: C3 -> C2 -> C4 -> C5 -> (C6/C7/C8/C9/
// C10 or C12) -> C11 -> freeze. Returns whether the cycle ended as a HOLD,
// whether an action was executed, and the cycle's terminal error (nil on
// any successful outcome, including a HOLD or a validation rejection).
func (e *Engine) runCycle(ctx context.Context) (hold bool, executed bool, cycleErr error) {
	e.statusMu.Lock()
	e.cycleCount++
	number := e.cycleCount
	e.statusMu.Unlock()

	cycle := newCycle(number, time.Now().UnixMilli())
	defer func() {
		cycle.freeze(time.Now().UnixMilli(), cycle.Outcome)
		e.statusMu.Lock()
		e.lastCycle = cycle
		e.statusMu.Unlock()
		e.publishCycle(cycle, cycleErr)
	}()

	if e.deps.Specs != nil {
		if err := e.deps.Specs.RefreshIfStale(ctx, e.cfg.Universe); err != nil {
			logx.WithContext(ctx).Errorf("engine: contract spec refresh failed, serving stale data: %v", err)
		}
	}
	if ctx.Err() != nil {
		cycle.freeze(time.Now().UnixMilli(), "cancelled")
		return false, false, nil
	}

	snapshots, err := e.deps.Fetcher.Fetch(ctx, e.cfg.Universe)
	if err != nil {
		cycle.addError(err)
		cycle.Outcome = "market fetch failed"
		return false, false, err
	}
	for sym := range snapshots {
		cycle.SymbolsAnalyzed = append(cycle.SymbolsAnalyzed, sym)
	}
	if ctx.Err() != nil {
		cycle.freeze(time.Now().UnixMilli(), "cancelled")
		return false, false, nil
	}

	view, err := e.deps.Portfolio.Build(ctx, time.Now())
	if err != nil {
		cycle.addError(err)
		cycle.Outcome = "portfolio view failed"
		return false, false, err
	}
	if e.deps.EquitySink != nil {
		if err := e.deps.EquitySink(ctx, view.Equity, time.Now()); err != nil {
			logx.WithContext(ctx).Errorf("engine: equity sink failed: %v", err)
		}
	}

	decision := gate.EvaluateView(e.cfg.Gate, view, e.deps.HoldHours)

	e.statusMu.Lock()
	e.totalTokensSaved += decision.TokensSaved()
	e.statusMu.Unlock()

	switch decision.Verdict {
	case gate.Skip:
		cycle.Outcome = "skip: " + decision.Reason
		return false, false, nil
	case gate.DirectManage:
		return e.directManage(ctx, cycle, decision, snapshots, view)
	case gate.RuleManage:
		return e.ruleManage(ctx, cycle, decision, snapshots, view)
	default:
		return e.runFull(ctx, cycle, snapshots, view)
	}
}

func (e *Engine) runFull(ctx context.Context, cycle *Cycle, snapshots map[string]scan.MarketSnapshot, view portfolio.View) (bool, bool, error) {
	input := panel.Input{
		Universe:  e.cfg.Universe,
		Snapshots: snapshots,
		Portfolio: view,
	}
	opinions, failures, err := panel.Consult(ctx, e.deps.PanelConfig, e.deps.Analysts, input)
	for _, f := range failures {
		cycle.addError(f.Err)
		if e.deps.Metrics != nil {
			e.deps.Metrics.RecordAnalystFailure(f.AnalystID)
		}
	}
	if err != nil {
		cycle.Outcome = "analysis failed"
		return false, false, err
	}

	e.statusMu.Lock()
	e.totalAnalysesRun += len(opinions)
	cycle.AnalysesRun = len(opinions)
	e.statusMu.Unlock()

	decision := panel.Judge(e.cfg.Judge, opinions, e.cfg.Universe, snapshots)
	return e.finalize(ctx, cycle, decision, snapshots, view)
}

func (e *Engine) directManage(ctx context.Context, cycle *Cycle, gd gate.Decision, snapshots map[string]scan.MarketSnapshot, view portfolio.View) (bool, bool, error) {
	// Direct management bypasses the panel entirely: the rule ladder is
	// applied immediately to the single most-urgent position.
	hold, executed, err := e.ruleManageSymbol(ctx, cycle, gd.TargetSymbol, gd.TargetSide, snapshots, view)
	if err == nil {
		cycle.Outcome = "direct-managed " + gd.TargetSymbol
	}
	return hold, executed, err
}

func (e *Engine) ruleManage(ctx context.Context, cycle *Cycle, gd gate.Decision, snapshots map[string]scan.MarketSnapshot, view portfolio.View) (bool, bool, error) {
	hold, executed, err := e.ruleManageSymbol(ctx, cycle, gd.TargetSymbol, gd.TargetSide, snapshots, view)
	if err == nil {
		cycle.Outcome = "rule-managed " + gd.TargetSymbol
	}
	return hold, executed, err
}

func (e *Engine) ruleManageSymbol(ctx context.Context, cycle *Cycle, symbol string, side portfolio.Side, snapshots map[string]scan.MarketSnapshot, view portfolio.View) (bool, bool, error) {
	pos, ok := view.PositionOn(symbol, side)
	if !ok {
		return true, false, nil
	}
	verdict := rules.Evaluate(e.cfg.Rules, pos, time.Now())
	var decision panel.FinalDecision
	switch verdict {
	case rules.CloseFull:
		decision = panel.FinalDecision{Winner: "rule-manager", Action: panel.ActionClose, Symbol: symbol}
	case rules.TakePartial:
		decision = panel.FinalDecision{Winner: "rule-manager", Action: panel.ActionReduce, Symbol: symbol}
	default:
		return true, false, nil
	}
	return e.finalize(ctx, cycle, decision, snapshots, view)
}

func (e *Engine) finalize(ctx context.Context, cycle *Cycle, decision panel.FinalDecision, snapshots map[string]scan.MarketSnapshot, view portfolio.View) (bool, bool, error) {
	if decision.Action == panel.ActionHold {
		cycle.Outcome = "hold"
		return true, false, nil
	}

	snap, ok := snapshots[decision.Symbol]
	var currentPrice float64
	if ok {
		currentPrice = snap.CurrentPrice
	} else if pos, found := view.PositionOn(decision.Symbol, sideForAction(decision)); found {
		currentPrice = portfolio.DerivedCurrentPrice(pos, 0, false)
	}

	result := risk.Evaluate(e.cfg.Risk, decision, currentPrice, view, e.deps.Specs)
	if result.Decision.Action == panel.ActionHold {
		cycle.Outcome = "validation_rejected"
		return true, false, nil
	}

	outcome, err := e.deps.Executor.Execute(ctx, result.Decision, currentPrice, time.Now())
	if err != nil {
		cycle.addError(err)
		cycle.Outcome = "execution failed"
		return false, false, err
	}
	if outcome.Executed {
		cycle.TradesExecuted++
	}
	cycle.Outcome = outcome.Note

	if e.deps.Reconciler != nil && e.deps.ExchangeSrc != nil {
		if positions, posErr := e.deps.ExchangeSrc.GetPositions(ctx); posErr == nil {
			if err := e.deps.Reconciler.Run(ctx, positions); err != nil {
				logx.WithContext(ctx).Errorf("engine: reconcile failed: %v", err)
			}
		}
	}

	return false, outcome.Executed, nil
}

// publishCycle hands the just-frozen cycle to the configured journal and
// metrics recorder, if any. Journaling/metrics failures are logged, never
// returned: a broken audit or observability sink must not stop the cycle
// loop.
func (e *Engine) publishCycle(cycle *Cycle, cycleErr error) {
	if e.deps.Journal != nil {
		rec := &journal.CycleRecord{
			Timestamp:   time.UnixMilli(cycle.StartMs),
			CycleNumber: cycle.CycleNumber,
			Success:     cycleErr == nil,
			Actions: []map[string]any{{
				"symbols_analyzed": cycle.SymbolsAnalyzed,
				"trades_executed":  cycle.TradesExecuted,
				"analyses_run":     cycle.AnalysesRun,
				"outcome":          cycle.Outcome,
				"duration_ms":      cycle.EndMs - cycle.StartMs,
			}},
		}
		if cycleErr != nil {
			rec.ErrorMessage = cycleErr.Error()
		}
		if len(cycle.Errors) > 0 {
			rec.Extra = map[string]any{"errors": cycle.Errors}
		}
		if _, err := e.deps.Journal.WriteCycle(rec); err != nil {
			logx.Errorf("engine: cycle journal write failed: %v", err)
		}
	}
	if e.deps.Metrics != nil {
		duration := time.Duration(cycle.EndMs-cycle.StartMs) * time.Millisecond
		e.deps.Metrics.RecordCycle(cycle.Outcome, duration.Seconds())
		if cycle.TradesExecuted > 0 {
			e.deps.Metrics.RecordTradesExecuted(cycle.TradesExecuted)
		}
	}
}

func sideForAction(d panel.FinalDecision) portfolio.Side {
	if d.Action == panel.ActionSell {
		return portfolio.Short
	}
	return portfolio.Long
}
