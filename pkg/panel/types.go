// Package panel implements the Analyst Panel (fan-out to N independent AI
// analysts) and the Judge that collapses their opinions into one
// FinalDecision.
package panel

import (
	"fmt"

	"nof0-api/pkg/portfolio"
	"nof0-api/pkg/scan"
)

// Action is the action an analyst opinion or final decision proposes.
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionHold  Action = "HOLD"
	ActionClose Action = "CLOSE"
	ActionReduce Action = "REDUCE"
)

func (a Action) valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold, ActionClose, ActionReduce:
		return true
	default:
		return false
	}
}

// NoWinner is the FinalDecision.Winner value when action == HOLD.
const NoWinner = "NONE"

// AnalystOpinion is one analyst's opinion for a single cycle.
type AnalystOpinion struct {
	AnalystID           string
	Action              Action
	Symbol              string
	Confidence           int
	Rationale            string
	Thesis                string
	RecommendedLeverage   int
	RecommendedSizeUSD    float64
	TPPrice               *float64
	SLPrice               *float64
	ExitPlan              string
}

// FinalDecision is the cycle's single actionable outcome.
type FinalDecision struct {
	Winner        string
	Action        Action
	Symbol        string
	Confidence    int
	Leverage      int
	AllocationUSD float64
	TPPrice       *float64
	SLPrice       *float64
	Rationale     string
	ExitPlan      string
	Warnings      []string
}

// Validate enforces action=HOLD <=> winner=NONE.
func (d FinalDecision) Validate() error {
	if !d.Action.valid() {
		return fmt.Errorf("panel: invalid action %q", d.Action)
	}
	if (d.Action == ActionHold) != (d.Winner == NoWinner || d.Winner == "") {
		return fmt.Errorf("panel: action=%s must have winner=%s, got %q", d.Action, NoWinner, d.Winner)
	}
	return nil
}

// Hold returns the canonical "no trade this cycle" decision.
func Hold(reason string) FinalDecision {
	return FinalDecision{
		Winner: NoWinner,
		Action: ActionHold,
		Rationale: reason,
	}
}

// PriorTurn is one historical analyst opinion, used by the echo-chamber and
// stop-loss-clustering detectors. Kept minimal and side-effect free so the
// detectors remain pure functions re-runnable over the same history.
type PriorTurn struct {
	AnalystID string
	Action    Action
	SLPrice   *float64
	Price     float64
}

// Input is everything an analyst needs to produce an opinion for one cycle.
type Input struct {
	Universe    []string
	Snapshots   map[string]scan.MarketSnapshot
	Portfolio   portfolio.View
	PriorTurns  []PriorTurn
}
