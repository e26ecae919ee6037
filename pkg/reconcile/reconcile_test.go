package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nof0-api/pkg/exchange"
	"nof0-api/pkg/executor"
	"nof0-api/pkg/portfolio"
)

type fakeFillSource struct {
	fills map[string][]exchange.Fill
}

func (f *fakeFillSource) RecentFills(ctx context.Context, symbol string) ([]exchange.Fill, error) {
	return f.fills[symbol], nil
}

type fakeClosedRepo struct {
	seen    map[int64]bool
	records []TradeRecord
}

func (f *fakeClosedRepo) SeenOrderIDs(ctx context.Context, symbol string) (map[int64]bool, error) {
	if f.seen == nil {
		return map[int64]bool{}, nil
	}
	return f.seen, nil
}

func (f *fakeClosedRepo) RecordTrade(ctx context.Context, rec TradeRecord) error {
	f.records = append(f.records, rec)
	return nil
}

type fakeJournal struct {
	closures []executor.TrackedTrade
}

func (f *fakeJournal) WriteClosure(ctx context.Context, trade executor.TrackedTrade, reason string) error {
	f.closures = append(f.closures, trade)
	return nil
}

func TestRunRetiresTradeMissingFromLivePositions(t *testing.T) {
	registry := executor.NewRegistry()
	registry.Register(&executor.TrackedTrade{Symbol: "BTC", Side: portfolio.Long, Size: 1, EntryPrice: 100})

	// Crossed=false marks a sell fill, the side that closes a long.
	fills := &fakeFillSource{fills: map[string][]exchange.Fill{
		"BTC": {{Oid: 1, AvgPx: "110", TotalSz: "1", Crossed: false}},
	}}
	closed := &fakeClosedRepo{}
	journal := &fakeJournal{}
	r := New(registry, fills, closed, journal)

	err := r.Run(context.Background(), nil)
	require.NoError(t, err)

	_, stillTracked := registry.Get("BTC", portfolio.Long)
	assert.False(t, stillTracked, "a trade missing from live positions must be retired")
	assert.Len(t, journal.closures, 1)
	require.Len(t, closed.records, 1)
	assert.Equal(t, "BTC", closed.records[0].Symbol)
	assert.InDelta(t, 10.0, closed.records[0].RealizedPnL, 0.001, "long closed at 110 from entry 100, size 1 -> pnl 10")
}

func TestRunKeepsTradeStillLiveOnExchange(t *testing.T) {
	registry := executor.NewRegistry()
	registry.Register(&executor.TrackedTrade{Symbol: "BTC", Side: portfolio.Long, Size: 1, EntryPrice: 100})

	r := New(registry, nil, nil, nil)
	live := []exchange.Position{{Coin: "BTC", Szi: "1"}}
	err := r.Run(context.Background(), live)
	require.NoError(t, err)

	_, stillTracked := registry.Get("BTC", portfolio.Long)
	assert.True(t, stillTracked, "a trade still open on the exchange must not be retired")
}

func TestRunSkipsAlreadySeenFills(t *testing.T) {
	registry := executor.NewRegistry()
	registry.Register(&executor.TrackedTrade{Symbol: "BTC", Side: portfolio.Long, Size: 1, EntryPrice: 100})

	fills := &fakeFillSource{fills: map[string][]exchange.Fill{
		"BTC": {{Oid: 1, AvgPx: "110", TotalSz: "1", Crossed: false}},
	}}
	closed := &fakeClosedRepo{seen: map[int64]bool{1: true}}
	r := New(registry, fills, closed, nil)

	err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, closed.records, "an already-recorded order id must not be recorded twice")
}
