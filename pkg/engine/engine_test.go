package engine

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nof0-api/pkg/contracts"
	"nof0-api/pkg/exchange"
	"nof0-api/pkg/executor"
	"nof0-api/pkg/gate"
	"nof0-api/pkg/market"
	"nof0-api/pkg/panel"
	"nof0-api/pkg/portfolio"
	"nof0-api/pkg/risk"
	"nof0-api/pkg/scan"
)

// --- fakes ---

type fakeMarketProvider struct {
	prices map[string]float64
}

func (f *fakeMarketProvider) Snapshot(ctx context.Context, symbol string) (*market.Snapshot, error) {
	price, ok := f.prices[symbol]
	if !ok {
		return nil, assertError("no price for " + symbol)
	}
	return &market.Snapshot{Symbol: symbol, Price: market.PriceInfo{Last: price}}, nil
}

func (f *fakeMarketProvider) ListAssets(ctx context.Context) ([]market.Asset, error) {
	return nil, nil
}

type assertError string

func (e assertError) Error() string { return string(e) }

type fakeContractsSource struct {
	specs []contracts.Spec
}

func (f *fakeContractsSource) GetContracts(ctx context.Context) ([]contracts.Spec, error) {
	return f.specs, nil
}

type fakeExchangeSource struct {
	positions []exchange.Position
	balance   float64
}

func (f *fakeExchangeSource) GetAccountState(ctx context.Context) (*exchange.AccountState, error) {
	return &exchange.AccountState{
		MarginSummary: exchange.MarginSummary{AccountValue: strconv.FormatFloat(f.balance, 'f', -1, 64)},
	}, nil
}

func (f *fakeExchangeSource) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	return f.positions, nil
}

type fakeHistorySource struct{}

func (fakeHistorySource) RecentPnLWindows(ctx context.Context, id portfolio.ViewID, now time.Time) (portfolio.PnLWindow, error) {
	return portfolio.PnLWindow{}, nil
}

func (fakeHistorySource) DailyTradeCount(ctx context.Context, id portfolio.ViewID, now time.Time) (int, error) {
	return 0, nil
}

func (fakeHistorySource) LastEntryTimestamp(ctx context.Context, id portfolio.ViewID, symbol string, side portfolio.Side) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

type fakeAnalyst struct {
	id       string
	opinion  panel.AnalystOpinion
	failWith error
}

func (f *fakeAnalyst) ID() string { return f.id }

func (f *fakeAnalyst) Analyze(ctx context.Context, input panel.Input) (panel.AnalystOpinion, error) {
	if f.failWith != nil {
		return panel.AnalystOpinion{}, f.failWith
	}
	op := f.opinion
	op.AnalystID = f.id
	return op, nil
}

type fakeMarketSource struct {
	assetIndex int
}

func (f *fakeMarketSource) GetAssetIndex(ctx context.Context, coin string) (int, error) {
	return f.assetIndex, nil
}

func (f *fakeMarketSource) PlaceOrder(ctx context.Context, order exchange.Order) (*exchange.OrderResponse, error) {
	return &exchange.OrderResponse{Status: "ok"}, nil
}

func (f *fakeMarketSource) UpdateLeverage(ctx context.Context, asset int, isCross bool, leverage int) error {
	return nil
}

func (f *fakeMarketSource) ClosePosition(ctx context.Context, coin string) (*exchange.OrderResponse, error) {
	return &exchange.OrderResponse{Status: "ok"}, nil
}

func newTestEngine(t *testing.T, analysts []panel.Analyst, universe []string, prices map[string]float64) *Engine {
	t.Helper()

	provider := &fakeMarketProvider{prices: prices}
	fetcher := scan.New(provider, time.Second)

	specs := contracts.New(&fakeContractsSource{specs: []contracts.Spec{
		{Symbol: "BTC", TickSize: 0.1, StepSize: 0.001, MinLeverage: 1, MaxLeverage: 20},
		{Symbol: "ETH", TickSize: 0.1, StepSize: 0.001, MinLeverage: 1, MaxLeverage: 20},
	}}, time.Hour)

	exSrc := &fakeExchangeSource{balance: 10000}
	agg := portfolio.NewAggregator(exSrc, fakeHistorySource{}, time.Minute)

	registry := executor.NewRegistry()
	exec := executor.New(executor.Config{}, &fakeMarketSource{assetIndex: 1}, specs, nil, registry, nil)

	cfg := Config{
		Universe:       universe,
		CycleInterval:  time.Minute,
		Gate:           gate.Config{MinBalance: 0},
		Judge:          panel.JudgeConfig{ConfidenceFloor: 50},
		Risk:           risk.Config{MinConfidence: 50, MaxLeverage: 20},
		AnalystTimeout: time.Second,
	}

	deps := Deps{
		Fetcher:     fetcher,
		Specs:       specs,
		Portfolio:   agg,
		Analysts:    analysts,
		PanelConfig: panel.Config{CallTimeout: time.Second},
		ExchangeSrc: exSrc,
		Executor:    exec,
		Registry:    registry,
		HoldHours:   func(portfolio.Position) float64 { return 0 },
	}

	return New(cfg, deps)
}

func TestRunCycleExecutesWinningTrade(t *testing.T) {
	analysts := []panel.Analyst{
		&fakeAnalyst{id: "a", opinion: panel.AnalystOpinion{Action: panel.ActionBuy, Symbol: "BTC", Confidence: 90, RecommendedLeverage: 5, RecommendedSizeUSD: 1000}},
		&fakeAnalyst{id: "b", opinion: panel.AnalystOpinion{Action: panel.ActionBuy, Symbol: "BTC", Confidence: 80, RecommendedLeverage: 5, RecommendedSizeUSD: 1000}},
	}
	e := newTestEngine(t, analysts, []string{"BTC", "ETH"}, map[string]float64{"BTC": 100, "ETH": 50})

	hold, executed, err := e.runCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, hold)
	assert.True(t, executed)

	status := e.Status()
	assert.Equal(t, 1, status.CycleCount)
	require.NotNil(t, status.LastCycle)
	assert.Equal(t, 1, status.LastCycle.TradesExecuted)
	assert.Equal(t, 2, status.TotalAnalysesRun)
}

func TestRunCycleHoldsWhenPanelDisagrees(t *testing.T) {
	analysts := []panel.Analyst{
		&fakeAnalyst{id: "a", opinion: panel.AnalystOpinion{Action: panel.ActionBuy, Symbol: "BTC", Confidence: 70}},
		&fakeAnalyst{id: "b", opinion: panel.AnalystOpinion{Action: panel.ActionSell, Symbol: "BTC", Confidence: 70}},
	}
	e := newTestEngine(t, analysts, []string{"BTC"}, map[string]float64{"BTC": 100})

	hold, executed, err := e.runCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, hold)
	assert.False(t, executed)
}

func TestRunCycleFailsWhenTooFewAnalystsSucceed(t *testing.T) {
	analysts := []panel.Analyst{
		&fakeAnalyst{id: "a", failWith: assertError("boom")},
	}
	e := newTestEngine(t, analysts, []string{"BTC"}, map[string]float64{"BTC": 100})

	_, _, err := e.runCycle(context.Background())
	assert.Error(t, err, "fewer than the minimum successful analysts must fail the cycle")
}

func TestNextSleepAppliesFailureBackoff(t *testing.T) {
	base := time.Minute
	sleep := nextSleep(base, 0, 2, 0)
	assert.Greater(t, sleep, base, "consecutive failures must extend the sleep beyond the base interval")
}

func TestNextSleepCapsAtFourTimesBaseOnFailures(t *testing.T) {
	base := time.Minute
	sleep := nextSleep(base, 0, 20, 0)
	assert.LessOrEqual(t, sleep, 4*base)
}

func TestNextSleepAppliesQuietMarketBackoff(t *testing.T) {
	base := time.Minute
	sleep := nextSleep(base, 0, 0, 5)
	assert.Greater(t, sleep, base)
	assert.LessOrEqual(t, sleep, 2*base)
}

func TestStatusReflectsNotRunningInitially(t *testing.T) {
	e := newTestEngine(t, nil, []string{"BTC"}, nil)
	assert.False(t, e.Status().IsRunning)
}

func TestCleanupIsIdempotent(t *testing.T) {
	e := newTestEngine(t, nil, []string{"BTC"}, nil)
	e.Cleanup()
	e.Cleanup()
	assert.False(t, e.Status().IsRunning)
}
