// Package portfolio implements the Portfolio View: the engine's read model
// of balance, open positions, hold-times and recent realized PnL.
package portfolio

import (
	"math"
	"time"
)

// Side is a position direction.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// ViewID identifies a portfolio view. Elevated from the source's bare
// "collaborative" string literal per SPEC_FULL.md open-question (c).
type ViewID string

// Collaborative is the single process-wide portfolio this engine manages.
const Collaborative = ViewID("collaborative")

// Position mirrors spec.md's Position entity.
type Position struct {
	Symbol           string
	Side             Side
	Size             float64
	EntryPrice       float64
	Leverage         float64
	UnrealizedPnl    float64
	LiquidationPrice *float64
	OpenedAt         time.Time
}

// PnLWindow reports percentage PnL over standard windows.
type PnLWindow struct {
	DayPct  float64
	WeekPct float64
}

// View is the aggregated portfolio snapshot consumed by the Pre-Gate, the
// Analyst Panel and the Risk Governor.
type View struct {
	ID               ViewID
	AvailableBalance float64
	Equity           float64
	Positions        []Position
	RecentPnL        PnLWindow
	DailyTradeCount  int
	HoldTimes        map[string]time.Duration
}

// PositionOn returns the open position for (symbol, side), if any. Spec.md
// guarantees at most one position per (symbol, side) in the engine's view.
func (v View) PositionOn(symbol string, side Side) (Position, bool) {
	for _, p := range v.Positions {
		if p.Symbol == symbol && p.Side == side {
			return p, true
		}
	}
	return Position{}, false
}

// PositionsOn returns every open position (either side) for a symbol.
func (v View) PositionsOn(symbol string) []Position {
	var out []Position
	for _, p := range v.Positions {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out
}

// NotionalExposurePct is 100 * Sigma(openNotional) / equity, used by the Risk
// Governor's exposure-conditioned leverage cap.
func (v View) NotionalExposurePct() float64 {
	if v.Equity <= 0 {
		return 0
	}
	var notional float64
	for _, p := range v.Positions {
		notional += p.Size * p.EntryPrice
	}
	return 100 * notional / v.Equity
}

// DerivedCurrentPrice implements spec.md §4.4: market price if available and
// finite, else entryPrice +/- unrealizedPnl/size with the correct sign per
// side, else entryPrice (stale but safe).
func DerivedCurrentPrice(p Position, marketPrice float64, marketPriceAvailable bool) float64 {
	if marketPriceAvailable && isFinitePositive(marketPrice) {
		return marketPrice
	}
	if p.Size > 0 {
		delta := p.UnrealizedPnl / p.Size
		if p.Side == Short {
			delta = -delta
		}
		derived := p.EntryPrice + delta
		if isFinitePositive(derived) {
			return derived
		}
	}
	return p.EntryPrice
}

func isFinitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// HoldHours returns the position's current hold duration in hours.
func (p Position) HoldHours(now time.Time) float64 {
	if p.OpenedAt.IsZero() {
		return 0
	}
	return now.Sub(p.OpenedAt).Hours()
}

// PnLPct returns unrealized PnL as a percentage of the position's notional.
func (p Position) PnLPct() float64 {
	notional := p.Size * p.EntryPrice
	if notional <= 0 {
		return 0
	}
	return 100 * p.UnrealizedPnl / notional
}
