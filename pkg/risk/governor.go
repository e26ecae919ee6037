// Package risk implements the Risk Governor (C9): an ordered, pure-function
// pipeline that adjusts or rejects a FinalDecision before it reaches the
// Executor. It never places orders and never mutates external state; the
// only I/O is the exposure lookup the caller supplies via portfolio.View.
package risk

import (
	"math"

	"nof0-api/pkg/contracts"
	"nof0-api/pkg/panel"
	"nof0-api/pkg/portfolio"
)

// Config holds the numeric limits the Governor pipeline enforces. All
// thresholds are loaded at startup and never hot-reloaded.
type Config struct {
	MinConfidence            int
	AutoApproveThreshold     int
	MaxStopLossPct           float64
	MaxLeverage              int
	HourlyVolatilityPct      float64
	MaxPositionPctOfEquityAtSizeTen float64
}

func (c Config) maxStopLossPct() float64 {
	if c.MaxStopLossPct <= 0 {
		return 10
	}
	return c.MaxStopLossPct
}

func (c Config) hourlyVolatilityPct() float64 {
	if c.HourlyVolatilityPct <= 0 {
		return 1.5
	}
	return c.HourlyVolatilityPct
}

func (c Config) maxLeverage() int {
	if c.MaxLeverage <= 0 || c.MaxLeverage > 20 {
		return 20
	}
	return c.MaxLeverage
}

// Result is the pipeline's output: the adjusted decision plus any warnings
// and adjustment notes accumulated along the way. A terminal rejection is
// represented as Decision.Action == HOLD, never as an error.
type Result struct {
	Decision    panel.FinalDecision
	Adjustments []string
}

// exposureBands maps notional-exposure percentage thresholds (inclusive
// lower bound) to the maximum leverage permitted at that exposure level.
// Grounded on the single worked example in the spec (60% exposure -> 5x);
// the intermediate bands interpolate linearly between the named points.
var exposureBands = []struct {
	minPct   float64
	maxLever int
}{
	{0, 20},
	{20, 15},
	{40, 10},
	{60, 5},
	{80, 2},
}

// maxLeverageForExposure returns the leverage ceiling for a given notional
// exposure percentage of equity.
func maxLeverageForExposure(pct float64) int {
	lever := exposureBands[0].maxLever
	for _, b := range exposureBands {
		if pct >= b.minPct {
			lever = b.maxLever
		}
	}
	return lever
}

// requiredMaxSlPct is the configured ceiling on stop-loss width regardless
// of leverage; the liquidation-distance check in step 6 applies the tighter
// of the two.
func requiredMaxSlPct(cfg Config, leverage int) float64 {
	return cfg.maxStopLossPct()
}

// Evaluate runs the eight-step pipeline against decision, using view for
// exposure/current-price context and specs for tick/step rounding.
func Evaluate(cfg Config, decision panel.FinalDecision, currentPrice float64, view portfolio.View, specs *contracts.Cache) Result {
	var adjustments []string
	d := decision

	// 1. Validate action.
	if d.Action == panel.ActionBuy || d.Action == panel.ActionSell {
		if d.Confidence < cfg.MinConfidence {
			return Result{Decision: panel.Hold("confidence below floor"), Adjustments: adjustments}
		}
	}
	if d.Action == panel.ActionHold {
		return Result{Decision: d, Adjustments: adjustments}
	}

	// Steps 2-8 size/leverage/TP-SL logic only applies to entries (BUY/SELL).
	// CLOSE/REDUCE pass through untouched; the Executor handles their sizing.
	if d.Action != panel.ActionBuy && d.Action != panel.ActionSell {
		return Result{Decision: d, Adjustments: adjustments}
	}

	// 2. Leverage auto-approval.
	threshold := cfg.AutoApproveThreshold
	if threshold <= 0 {
		threshold = 10
	}
	if d.Leverage > threshold && d.Confidence < 70 {
		adjustments = append(adjustments, "leverage clamped to auto-approve threshold")
		d.Leverage = threshold
	}

	// 3. Exposure-conditioned cap.
	exposureCap := maxLeverageForExposure(view.NotionalExposurePct())
	if d.Leverage > exposureCap {
		d.Leverage = exposureCap
		d.Warnings = append(d.Warnings, "reduced by exposure cap")
		adjustments = append(adjustments, "leverage reduced by exposure cap")
	}

	// 4. Exchange+safety clamp.
	minLeverage, maxLeverage := 1, cfg.maxLeverage()
	if specs != nil {
		if spec, ok := specs.Get(d.Symbol); ok {
			minLeverage = spec.MinLeverage
			if spec.MaxLeverage < maxLeverage {
				maxLeverage = spec.MaxLeverage
			}
		}
	}
	if minLeverage > maxLeverage || minLeverage > 20 {
		return Result{Decision: panel.Hold("corrupted leverage spec"), Adjustments: adjustments}
	}
	if d.Leverage < minLeverage {
		d.Leverage = minLeverage
	}
	if d.Leverage > maxLeverage {
		d.Leverage = maxLeverage
	}

	// 5. TP/SL direction.
	isLong := d.Action == panel.ActionBuy
	if d.TPPrice != nil {
		if (isLong && *d.TPPrice <= currentPrice) || (!isLong && *d.TPPrice >= currentPrice) {
			d.TPPrice = nil
			adjustments = append(adjustments, "tp price on wrong side of current price, nulled")
		}
	}
	if d.SLPrice != nil {
		if (isLong && *d.SLPrice >= currentPrice) || (!isLong && *d.SLPrice <= currentPrice) {
			d.SLPrice = nil
			adjustments = append(adjustments, "sl price on wrong side of current price, nulled")
		}
	}

	// 6. Stop-loss width vs liquidation distance.
	if d.SLPrice != nil && d.Leverage > 0 && currentPrice > 0 {
		liqDistancePct := 100 / float64(d.Leverage)
		maxSlPct := math.Min(requiredMaxSlPct(cfg, d.Leverage), 0.8*liqDistancePct)
		slDistancePct := math.Abs(currentPrice-*d.SLPrice) / currentPrice * 100
		if slDistancePct > maxSlPct {
			sign := -1.0
			if !isLong {
				sign = 1.0
			}
			tightened := currentPrice * (1 + sign*maxSlPct/100)
			if isFinite(tightened) {
				d.SLPrice = &tightened
				d.Warnings = append(d.Warnings, "stop-loss tightened to liquidation-safe distance")
				adjustments = append(adjustments, "sl tightened")
			} else {
				adjustments = append(adjustments, "sl recompute non-finite, original kept")
			}
		}
	}

	// 7. Size.
	if currentPrice <= 0 {
		return Result{Decision: panel.Hold("no current price for sizing"), Adjustments: adjustments}
	}
	size := d.AllocationUSD / currentPrice
	if specs != nil {
		rounded, err := specs.RoundToStep(d.Symbol, size)
		if err != nil {
			return Result{Decision: panel.Hold("size below minimum step"), Adjustments: adjustments}
		}
		size = rounded
	}
	d.AllocationUSD = size * currentPrice

	// 8. Monte-Carlo advisory (non-blocking).
	if d.TPPrice != nil && d.SLPrice != nil && currentPrice > 0 {
		tpPct := math.Abs(*d.TPPrice-currentPrice) / currentPrice * 100
		slPct := math.Abs(currentPrice-*d.SLPrice) / currentPrice * 100
		if note := monteCarloAdvisory(tpPct, slPct, cfg.hourlyVolatilityPct()); note != "" {
			d.Warnings = append(d.Warnings, note)
		}
	}

	return Result{Decision: d, Adjustments: adjustments}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// monteCarloAdvisory estimates a rough TP-before-SL survival probability
// from a random-walk approximation: wider stops relative to hourly
// volatility survive longer, so the ratio of target widths scaled by
// volatility stands in for a full simulation. Non-blocking: callers only
// ever see this as a warning annotation, never a rejection.
func monteCarloAdvisory(tpPct, slPct, hourlyVolPct float64) string {
	if tpPct <= 0 || slPct <= 0 || hourlyVolPct <= 0 {
		return ""
	}
	survivalEstimate := slPct / (tpPct + slPct)
	hoursToSL := slPct / hourlyVolPct
	if survivalEstimate < 0.4 && hoursToSL < 2 {
		return "monte-carlo advisory: elevated stop-out risk within the first 2h"
	}
	return ""
}
