package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nof0-api/pkg/portfolio"
)

func TestClassifyUrgency(t *testing.T) {
	assert.Equal(t, VeryUrgent, Classify(6, 1), "pnlPct >= 5 is VERY_URGENT")
	assert.Equal(t, VeryUrgent, Classify(-6, 1), "pnlPct <= -5 is VERY_URGENT")
	assert.Equal(t, VeryUrgent, Classify(0, 12), "holdHours >= 12 is VERY_URGENT")
	assert.Equal(t, Moderate, Classify(3, 1), "pnlPct >= 2 is MODERATE")
	assert.Equal(t, Low, Classify(0, 0), "small pnl and short hold is LOW")
}

func noHold(portfolio.Position) float64 { return 0 }

func TestEvaluateViewSkipsBelowMinBalance(t *testing.T) {
	cfg := Config{MinBalance: 100}
	view := portfolio.View{AvailableBalance: 50}
	d := EvaluateView(cfg, view, noHold)
	assert.Equal(t, Skip, d.Verdict)
}

func TestEvaluateViewSkipsOnWeeklyDrawdown(t *testing.T) {
	cfg := Config{MaxWeeklyDrawdownPct: 10}
	view := portfolio.View{AvailableBalance: 1000, RecentPnL: portfolio.PnLWindow{WeekPct: -15}}
	d := EvaluateView(cfg, view, noHold)
	assert.Equal(t, Skip, d.Verdict)
}

func TestEvaluateViewSkipsOnDailyTradeCount(t *testing.T) {
	cfg := Config{MaxDailyTrades: 5}
	view := portfolio.View{AvailableBalance: 1000, DailyTradeCount: 5}
	d := EvaluateView(cfg, view, noHold)
	assert.Equal(t, Skip, d.Verdict)
}

func TestEvaluateViewRunsFullWhenClear(t *testing.T) {
	cfg := Config{MinBalance: 10, MaxConcurrentPositions: 5}
	view := portfolio.View{AvailableBalance: 1000}
	d := EvaluateView(cfg, view, noHold)
	assert.Equal(t, RunFull, d.Verdict)
	assert.Equal(t, d.FullPipelineCost, d.ChosenCost, "RUN_FULL spends the whole budget")
	assert.Equal(t, 0, d.TokensSaved())
}

func TestEvaluateViewDirectManagesVeryUrgentAtLimit(t *testing.T) {
	cfg := Config{MaxConcurrentPositions: 1}
	view := portfolio.View{
		AvailableBalance: 1000,
		Positions: []portfolio.Position{
			{Symbol: "BTC", Side: portfolio.Long, Size: 1, EntryPrice: 100, UnrealizedPnl: 10},
		},
	}
	d := EvaluateView(cfg, view, noHold)
	assert.Equal(t, DirectManage, d.Verdict)
	assert.Equal(t, "BTC", d.TargetSymbol)
	assert.Greater(t, d.TokensSaved(), 0)
}

func TestEvaluateViewRuleManagesModerateAtLimit(t *testing.T) {
	cfg := Config{MaxConcurrentPositions: 1}
	view := portfolio.View{
		AvailableBalance: 1000,
		Positions: []portfolio.Position{
			{Symbol: "ETH", Side: portfolio.Long, Size: 1, EntryPrice: 100, UnrealizedPnl: 3},
		},
	}
	d := EvaluateView(cfg, view, noHold)
	assert.Equal(t, RuleManage, d.Verdict)
	assert.Equal(t, "ETH", d.TargetSymbol)
}

func TestEvaluateViewSkipsAtLimitWhenNoneUrgent(t *testing.T) {
	cfg := Config{MaxConcurrentPositions: 1}
	view := portfolio.View{
		AvailableBalance: 1000,
		Positions: []portfolio.Position{
			{Symbol: "ETH", Side: portfolio.Long, Size: 1, EntryPrice: 100, UnrealizedPnl: 0.1},
		},
	}
	d := EvaluateView(cfg, view, noHold)
	assert.Equal(t, Skip, d.Verdict)
}

func TestTokensSavedNeverNegative(t *testing.T) {
	d := Decision{FullPipelineCost: 10, ChosenCost: 50}
	assert.Equal(t, 0, d.TokensSaved())
}
