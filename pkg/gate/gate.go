// Package gate implements the Pre-Gate (C5): four cheap checks that decide
// whether a cycle runs the full analyst panel, falls back to direct or
// rule-based management, or skips entirely.
package gate

import (
	"sort"

	"nof0-api/pkg/portfolio"
)

// Verdict is the Pre-Gate's single output per cycle.
type Verdict string

const (
	RunFull      Verdict = "RUN_FULL"
	DirectManage Verdict = "DIRECT_MANAGE"
	RuleManage   Verdict = "RULE_MANAGE"
	Skip         Verdict = "SKIP"
)

// Urgency classifies a single position's need for attention. It is a pure
// function of (pnlPct, holdHours): calling it twice on the same inputs
// yields the same verdict.
type Urgency string

const (
	VeryUrgent Urgency = "VERY_URGENT"
	Moderate   Urgency = "MODERATE"
	Low        Urgency = "LOW"
)

// Classify implements the urgency ladder from spec.md §4.5.
func Classify(pnlPct, holdHours float64) Urgency {
	switch {
	case pnlPct >= 5 || pnlPct <= -5 || holdHours >= 12:
		return VeryUrgent
	case pnlPct >= 2 || pnlPct <= -2.5 || holdHours >= 9:
		return Moderate
	default:
		return Low
	}
}

// Config holds the Pre-Gate's numeric limits.
type Config struct {
	MinBalance                float64
	MaxWeeklyDrawdownPct      float64
	MaxDailyTrades            int
	MaxConcurrentPositions    int
	MaxSameDirectionPositions int
}

// Decision is the Pre-Gate's output: a verdict, optionally naming the
// position it singled out for direct/rule-based management, plus a
// reporting field for tokens saved by skipping the full pipeline.
type Decision struct {
	Verdict          Verdict
	TargetSymbol     string
	TargetSide       portfolio.Side
	Reason           string
	FullPipelineCost int
	ChosenCost       int
}

// TokensSaved is FULL - chosen_cost, a monotone-across-cycles reporting
// field (spec.md P10); callers accumulate it, the gate only computes the
// per-cycle delta.
func (d Decision) TokensSaved() int {
	saved := d.FullPipelineCost - d.ChosenCost
	if saved < 0 {
		return 0
	}
	return saved
}

// costFull/costDirect/costRule/costSkip approximate relative token spend of
// each path for the tokens-saved reporting field; RUN_FULL spends the whole
// budget, everything else is progressively cheaper.
const (
	costFull   = 100
	costDirect = 10
	costRule   = 5
	costSkip   = 0
)

// EvaluateView runs the four checks in order against view and returns
// exactly one verdict. holdHours computes a position's current hold
// duration in hours (supplied by the caller so this package stays free of
// a direct time.Now() dependency).
func EvaluateView(cfg Config, view portfolio.View, holdHours func(portfolio.Position) float64) Decision {
	if view.AvailableBalance < cfg.MinBalance {
		return Decision{Verdict: Skip, Reason: "balance below minimum", FullPipelineCost: costFull, ChosenCost: costSkip}
	}
	if cfg.MaxWeeklyDrawdownPct > 0 && view.RecentPnL.WeekPct < -cfg.MaxWeeklyDrawdownPct {
		return Decision{Verdict: Skip, Reason: "weekly drawdown exceeded", FullPipelineCost: costFull, ChosenCost: costSkip}
	}
	if cfg.MaxDailyTrades > 0 && view.DailyTradeCount >= cfg.MaxDailyTrades {
		return Decision{Verdict: Skip, Reason: "daily trade count exceeded", FullPipelineCost: costFull, ChosenCost: costSkip}
	}

	if positionsAtLimit(cfg, view.Positions) {
		target, side, urgency, ok := mostUrgent(view, holdHours)
		if !ok {
			return Decision{Verdict: Skip, Reason: "positions at limit, nothing to manage", FullPipelineCost: costFull, ChosenCost: costSkip}
		}
		switch urgency {
		case VeryUrgent:
			return Decision{Verdict: DirectManage, TargetSymbol: target, TargetSide: side, Reason: "very urgent position", FullPipelineCost: costFull, ChosenCost: costDirect}
		case Moderate:
			return Decision{Verdict: RuleManage, TargetSymbol: target, TargetSide: side, Reason: "moderate urgency position", FullPipelineCost: costFull, ChosenCost: costRule}
		default:
			return Decision{Verdict: Skip, Reason: "positions at limit, none urgent", FullPipelineCost: costFull, ChosenCost: costSkip}
		}
	}

	return Decision{Verdict: RunFull, FullPipelineCost: costFull, ChosenCost: costFull}
}

func positionsAtLimit(cfg Config, positions []portfolio.Position) bool {
	if cfg.MaxConcurrentPositions > 0 && len(positions) >= cfg.MaxConcurrentPositions {
		return true
	}
	if cfg.MaxSameDirectionPositions <= 0 {
		return false
	}
	var longs, shorts int
	for _, p := range positions {
		if p.Side == portfolio.Long {
			longs++
		} else {
			shorts++
		}
	}
	return longs >= cfg.MaxSameDirectionPositions && shorts >= cfg.MaxSameDirectionPositions
}

// mostUrgent returns the single most urgent position, preferring VERY_URGENT
// over MODERATE over LOW and, among ties, the largest absolute pnlPct.
func mostUrgent(view portfolio.View, holdHours func(portfolio.Position) float64) (symbol string, side portfolio.Side, urgency Urgency, ok bool) {
	type candidate struct {
		pos     portfolio.Position
		urgency Urgency
		pnlPct  float64
	}
	var candidates []candidate
	for _, p := range view.Positions {
		h := holdHours(p)
		pnl := p.PnLPct()
		candidates = append(candidates, candidate{pos: p, urgency: Classify(pnl, h), pnlPct: pnl})
	}
	if len(candidates) == 0 {
		return "", "", Low, false
	}
	rank := map[Urgency]int{VeryUrgent: 0, Moderate: 1, Low: 2}
	sort.SliceStable(candidates, func(i, j int) bool {
		if rank[candidates[i].urgency] != rank[candidates[j].urgency] {
			return rank[candidates[i].urgency] < rank[candidates[j].urgency]
		}
		return abs(candidates[i].pnlPct) > abs(candidates[j].pnlPct)
	})
	best := candidates[0]
	if best.urgency == Low {
		return "", "", Low, false
	}
	return best.pos.Symbol, best.pos.Side, best.urgency, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
