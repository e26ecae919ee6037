package panel

import "math"

// echoChamberThreshold is the directional-consensus ratio (spec.md §4.6:
// "≥75% directional consensus") that triggers a warning.
const echoChamberThreshold = 0.75

// stopLossClusterPct is the width (spec.md §4.6: "stops clustered within
// 5%") within which prior stop-losses are considered clustered.
const stopLossClusterPct = 0.05

// DetectEchoChamber is a pure function over prior turns: it warns when the
// panel's own recent history shows lopsided directional agreement, a signal
// that the panel may be reinforcing itself rather than reasoning
// independently.
func DetectEchoChamber(priorTurns []PriorTurn) (warn bool, message string) {
	var buys, sells, directional int
	for _, t := range priorTurns {
		switch t.Action {
		case ActionBuy:
			buys++
			directional++
		case ActionSell:
			sells++
			directional++
		}
	}
	if directional == 0 {
		return false, ""
	}
	majority := buys
	label := "BUY"
	if sells > majority {
		majority = sells
		label = "SELL"
	}
	ratio := float64(majority) / float64(directional)
	if ratio >= echoChamberThreshold {
		return true, "echo-chamber: prior turns show " + label + " consensus"
	}
	return false, ""
}

// DetectStopLossClustering is a pure function over prior turns: it warns
// when recent stop-losses cluster tightly together, suggesting the panel is
// anchoring on a shared reference rather than reasoning from current risk.
func DetectStopLossClustering(priorTurns []PriorTurn) (warn bool, message string) {
	var stops []float64
	for _, t := range priorTurns {
		if t.SLPrice != nil && t.Price > 0 {
			stops = append(stops, math.Abs(*t.SLPrice-t.Price)/t.Price)
		}
	}
	if len(stops) < 2 {
		return false, ""
	}
	min, max := stops[0], stops[0]
	for _, s := range stops[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	if max-min <= stopLossClusterPct {
		return true, "stop-loss-clustering: recent SL distances span less than 5%"
	}
	return false, ""
}
