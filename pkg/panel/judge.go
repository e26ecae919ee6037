package panel

import (
	"sort"

	"nof0-api/pkg/scan"
)

// JudgeConfig controls the confidence floor below which no opinion can win.
type JudgeConfig struct {
	ConfidenceFloor int
}

func (c JudgeConfig) floor() int {
	if c.ConfidenceFloor <= 0 {
		return 60
	}
	return c.ConfidenceFloor
}

// Judge collapses a panel's opinions into exactly one FinalDecision. It
// never invents a symbol outside the universe and falls back to HOLD/NONE
// when BUY and SELL candidates are tied on summed confidence or no opinion
// clears the confidence floor. A direction disagreement with unequal
// weights is resolved by picking the highest-confidence candidate.
func Judge(cfg JudgeConfig, opinions map[string]AnalystOpinion, universe []string, snapshots map[string]scan.MarketSnapshot) FinalDecision {
	if len(opinions) == 0 {
		return Hold("no analyst opinions to judge")
	}

	inUniverse := make(map[string]bool, len(universe))
	for _, sym := range universe {
		inUniverse[sym] = true
	}

	candidates := make([]AnalystOpinion, 0, len(opinions))
	for id, op := range opinions {
		op.AnalystID = id
		if op.Action == ActionHold {
			continue
		}
		if op.Symbol == "" || !inUniverse[op.Symbol] {
			continue
		}
		if op.Confidence < cfg.floor() {
			continue
		}
		candidates = append(candidates, op)
	}
	if len(candidates) == 0 {
		return Hold("no opinion cleared the confidence floor")
	}

	if warn, msg := directionDisagreement(candidates); warn {
		d := Hold("panel disagreed on direction without a clear winner")
		d.Warnings = append(d.Warnings, msg)
		return d
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	winner := candidates[0]

	var warnings []string
	for _, op := range opinions {
		if op.Action != ActionHold && op.Symbol != "" && !inUniverse[op.Symbol] {
			warnings = append(warnings, "analyst "+op.AnalystID+" proposed an out-of-universe symbol, discarded")
		}
	}

	return FinalDecision{
		Winner:        winner.AnalystID,
		Action:        winner.Action,
		Symbol:        winner.Symbol,
		Confidence:    winner.Confidence,
		Leverage:      winner.RecommendedLeverage,
		AllocationUSD: winner.RecommendedSizeUSD,
		TPPrice:       winner.TPPrice,
		SLPrice:       winner.SLPrice,
		Rationale:     winner.Rationale,
		ExitPlan:      winner.ExitPlan,
		Warnings:      warnings,
	}
}

// directionDisagreement reports whether the surviving candidates disagree on
// direction (BUY vs SELL) closely enough that no clear scoring winner
// exists: neither direction holds a confidence-weighted majority.
func directionDisagreement(candidates []AnalystOpinion) (bool, string) {
	var buyWeight, sellWeight float64
	var buys, sells int
	for _, op := range candidates {
		switch op.Action {
		case ActionBuy:
			buyWeight += float64(op.Confidence)
			buys++
		case ActionSell:
			sellWeight += float64(op.Confidence)
			sells++
		}
	}
	if buys == 0 || sells == 0 {
		return false, ""
	}
	if buyWeight == sellWeight {
		return true, "buy/sell confidence tied, no scoring winner"
	}
	return false, ""
}
