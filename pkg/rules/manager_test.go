package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"nof0-api/pkg/portfolio"
)

func position(pnlPct float64, openedHoursAgo float64) portfolio.Position {
	// notional = 100, so unrealizedPnl = pnlPct maps 1:1 onto percent.
	return portfolio.Position{
		Symbol:        "BTC",
		Side:          portfolio.Long,
		Size:          1,
		EntryPrice:    100,
		UnrealizedPnl: pnlPct,
		OpenedAt:      time.Now().Add(-time.Duration(openedHoursAgo * float64(time.Hour))),
	}
}

func TestEvaluateTargetProfitClosesFull(t *testing.T) {
	cfg := Config{TargetProfitPct: 10, StopLossPct: 5, MaxHoldHours: 24}
	v := Evaluate(cfg, position(12, 1), time.Now())
	assert.Equal(t, CloseFull, v)
}

func TestEvaluateStopLossClosesFull(t *testing.T) {
	cfg := Config{TargetProfitPct: 10, StopLossPct: 5, MaxHoldHours: 24}
	v := Evaluate(cfg, position(-6, 1), time.Now())
	assert.Equal(t, CloseFull, v)
}

func TestEvaluateMaxHoldClosesFull(t *testing.T) {
	cfg := Config{TargetProfitPct: 10, StopLossPct: 5, MaxHoldHours: 24}
	v := Evaluate(cfg, position(1, 25), time.Now())
	assert.Equal(t, CloseFull, v)
}

func TestEvaluatePartialTakeProfit(t *testing.T) {
	cfg := Config{TargetProfitPct: 10, StopLossPct: 5, MaxHoldHours: 24, PartialTPPct: 4}
	v := Evaluate(cfg, position(5, 1), time.Now())
	assert.Equal(t, TakePartial, v)
}

func TestEvaluateNoAction(t *testing.T) {
	cfg := Config{TargetProfitPct: 10, StopLossPct: 5, MaxHoldHours: 24, PartialTPPct: 8}
	v := Evaluate(cfg, position(1, 1), time.Now())
	assert.Equal(t, NoAction, v)
}

func TestNormalizeVerdictRejectsClosePartialAlias(t *testing.T) {
	_, ok := NormalizeVerdict("CLOSE_PARTIAL")
	assert.False(t, ok, "CLOSE_PARTIAL must not be accepted; TAKE_PARTIAL is canonical")

	v, ok := NormalizeVerdict("TAKE_PARTIAL")
	assert.True(t, ok)
	assert.Equal(t, TakePartial, v)
}

func TestNormalizeVerdictRejectsUnknown(t *testing.T) {
	_, ok := NormalizeVerdict("BOGUS")
	assert.False(t, ok)
}
