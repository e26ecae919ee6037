// Package rules implements the Rule-Based Manager (C12): a deterministic
// ladder applied to one position with no AI call and no TP/SL adjustment.
package rules

import (
	"time"

	"nof0-api/pkg/portfolio"
)

// Verdict is the Rule-Based Manager's output for a single position.
type Verdict string

const (
	NoAction Verdict = "NO_ACTION"
	// CloseFull closes the entire position.
	CloseFull Verdict = "CLOSE_FULL"
	// TakePartial closes half of the position. This is the canonical name
	// for the partial-exit verdict; "CLOSE_PARTIAL" is a rejected alias
	// (SPEC_FULL.md open-question (b)).
	TakePartial Verdict = "TAKE_PARTIAL"
)

// PartialFraction is the fraction of the position TakePartial closes.
const PartialFraction = 0.5

// Config holds the ladder's numeric thresholds.
type Config struct {
	TargetProfitPct float64
	StopLossPct     float64
	MaxHoldHours    float64
	PartialTPPct    float64
}

// Evaluate applies the ladder, in priority order (target profit, stop loss,
// max hold, partial take-profit, else no-op), to a position's current pnlPct
// and hold duration as of now.
func Evaluate(cfg Config, pos portfolio.Position, now time.Time) Verdict {
	return evaluate(cfg, pos.PnLPct(), pos.HoldHours(now))
}

func evaluate(cfg Config, pnlPct, holdHours float64) Verdict {
	switch {
	case cfg.TargetProfitPct > 0 && pnlPct >= cfg.TargetProfitPct:
		return CloseFull
	case cfg.StopLossPct > 0 && pnlPct <= -cfg.StopLossPct:
		return CloseFull
	case cfg.MaxHoldHours > 0 && holdHours >= cfg.MaxHoldHours:
		return CloseFull
	case cfg.PartialTPPct > 0 && pnlPct >= cfg.PartialTPPct:
		return TakePartial
	default:
		return NoAction
	}
}

// NormalizeVerdict rejects the "CLOSE_PARTIAL" alias some external configs
// still use, forcing callers onto the canonical TakePartial name.
func NormalizeVerdict(s string) (Verdict, bool) {
	switch s {
	case string(NoAction), string(CloseFull), string(TakePartial):
		return Verdict(s), true
	default:
		return "", false
	}
}
