package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nof0-api/pkg/panel"
	"nof0-api/pkg/portfolio"
)

func TestEvaluateRejectsBelowConfidenceFloor(t *testing.T) {
	cfg := Config{MinConfidence: 60}
	d := panel.FinalDecision{Winner: "a", Action: panel.ActionBuy, Symbol: "BTC", Confidence: 50, Leverage: 5, AllocationUSD: 100}
	r := Evaluate(cfg, d, 100, portfolio.View{}, nil)
	assert.Equal(t, panel.ActionHold, r.Decision.Action)
}

func TestEvaluateHoldPassesThrough(t *testing.T) {
	cfg := Config{MinConfidence: 60}
	d := panel.Hold("nothing to do")
	r := Evaluate(cfg, d, 100, portfolio.View{}, nil)
	assert.Equal(t, panel.ActionHold, r.Decision.Action)
}

func TestMaxLeverageForExposureWorkedExample(t *testing.T) {
	assert.Equal(t, 5, maxLeverageForExposure(60), "spec worked example: 60% exposure caps leverage at 5x")
}

func TestEvaluateClampsLeverageByExposure(t *testing.T) {
	cfg := Config{MinConfidence: 0, MaxLeverage: 20}
	d := panel.FinalDecision{Winner: "a", Action: panel.ActionBuy, Symbol: "BTC", Confidence: 80, Leverage: 20, AllocationUSD: 1000}
	view := portfolio.View{
		Equity: 1000,
		Positions: []portfolio.Position{
			{Symbol: "ETH", Side: portfolio.Long, Size: 6, EntryPrice: 100}, // 600 notional / 1000 equity = 60%
		},
	}
	r := Evaluate(cfg, d, 100, view, nil)
	assert.Equal(t, 5, r.Decision.Leverage, "60% exposure must cap leverage at 5x")
}

func TestEvaluateNullsWrongSideTPSL(t *testing.T) {
	cfg := Config{MinConfidence: 0, MaxLeverage: 20}
	badTP := 90.0  // below current price for a long: wrong side
	badSL := 110.0 // above current price for a long: wrong side
	d := panel.FinalDecision{
		Winner: "a", Action: panel.ActionBuy, Symbol: "BTC", Confidence: 80,
		Leverage: 5, AllocationUSD: 1000, TPPrice: &badTP, SLPrice: &badSL,
	}
	r := Evaluate(cfg, d, 100, portfolio.View{}, nil)
	assert.Nil(t, r.Decision.TPPrice)
	assert.Nil(t, r.Decision.SLPrice)
}

func TestEvaluateTightensStopLossBeyondLiquidationSafeDistance(t *testing.T) {
	// leverage=20 -> liqDistancePct=5, 0.8*5=4 binds tighter than the 10%
	// default MaxStopLossPct, so requiredMaxSlPct must not be the binding
	// constraint here.
	cfg := Config{MinConfidence: 0, MaxLeverage: 20}
	sl := 90.0 // 10% away from currentPrice=100, wider than the 4% ceiling
	d := panel.FinalDecision{
		Winner: "a", Action: panel.ActionBuy, Symbol: "BTC", Confidence: 80,
		Leverage: 20, AllocationUSD: 1000, SLPrice: &sl,
	}
	r := Evaluate(cfg, d, 100, portfolio.View{}, nil)
	assert.NotNil(t, r.Decision.SLPrice)
	assert.InDelta(t, 96.0, *r.Decision.SLPrice, 0.01, "sl must be tightened to 4%% below current price")
}

func TestEvaluateRejectsNonPositiveCurrentPrice(t *testing.T) {
	cfg := Config{}
	d := panel.FinalDecision{Winner: "a", Action: panel.ActionBuy, Symbol: "BTC", Confidence: 80, Leverage: 5, AllocationUSD: 1000}
	r := Evaluate(cfg, d, 0, portfolio.View{}, nil)
	assert.Equal(t, panel.ActionHold, r.Decision.Action)
}

func TestEvaluateClosePassesThroughUntouched(t *testing.T) {
	cfg := Config{}
	d := panel.FinalDecision{Winner: "a", Action: panel.ActionClose, Symbol: "BTC"}
	r := Evaluate(cfg, d, 100, portfolio.View{}, nil)
	assert.Equal(t, panel.ActionClose, r.Decision.Action)
}
