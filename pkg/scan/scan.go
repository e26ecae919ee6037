// Package scan implements the Market Data Fetcher: it pulls a normalized
// snapshot for every symbol in the approved universe, concurrently, and
// drops whatever the collaborator returned malformed rather than failing
// the whole cycle.
package scan

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"nof0-api/pkg/market"
)

// MarketSnapshot is the engine's own projection of a market.Snapshot.
// Change24h carries the provider's one-hour change and Volume24h its latest
// open interest; High24h, Low24h, MarkPrice, IndexPrice, BestBid and BestAsk
// are left at their zero value.
type MarketSnapshot struct {
	Symbol           string
	CurrentPrice     float64
	High24h          float64
	Low24h           float64
	Volume24h        float64
	Change24h        float64
	FundingRate      *float64
	MarkPrice        float64
	IndexPrice       float64
	BestBid          float64
	BestAsk          float64
	FetchTimestampMs int64
}

// Fetcher pulls concurrent per-symbol snapshots with a shared timeout.
type Fetcher struct {
	provider    market.Provider
	perCallWait time.Duration
}

// New builds a Fetcher against a market data collaborator.
func New(provider market.Provider, perCallTimeout time.Duration) *Fetcher {
	if perCallTimeout <= 0 {
		perCallTimeout = 5 * time.Second
	}
	return &Fetcher{provider: provider, perCallWait: perCallTimeout}
}

// Fetch returns the subset of the universe that produced a usable snapshot.
// A symbol is dropped, not errored, when its price is non-finite or <= 0 or
// the underlying call failed; an empty universe or provider is a hard error.
func (f *Fetcher) Fetch(ctx context.Context, universe []string) (map[string]MarketSnapshot, error) {
	if f == nil || f.provider == nil {
		return nil, fmt.Errorf("scan: fetcher has no market provider")
	}
	if len(universe) == 0 {
		return nil, fmt.Errorf("scan: universe is empty")
	}

	type result struct {
		symbol   string
		snapshot MarketSnapshot
		ok       bool
	}

	results := make(chan result, len(universe))
	var wg sync.WaitGroup
	for _, symbol := range universe {
		symbol := symbol
		wg.Add(1)
		threading.GoSafe(func() {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, f.perCallWait)
			defer cancel()

			snap, err := f.provider.Snapshot(callCtx, symbol)
			if err != nil {
				logx.WithContext(ctx).Infof("scan: dropping %s: %v", symbol, err)
				results <- result{symbol: symbol}
				return
			}
			projected, ok := project(symbol, snap)
			results <- result{symbol: symbol, snapshot: projected, ok: ok}
		})
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[string]MarketSnapshot, len(universe))
	for r := range results {
		if r.ok {
			out[r.symbol] = r.snapshot
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("scan: no symbol produced a usable snapshot out of %d requested", len(universe))
	}
	return out, nil
}

func project(symbol string, snap *market.Snapshot) (MarketSnapshot, bool) {
	if snap == nil {
		return MarketSnapshot{}, false
	}
	price := snap.Price.Last
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return MarketSnapshot{}, false
	}

	out := MarketSnapshot{
		Symbol:           symbol,
		CurrentPrice:     price,
		Change24h:        snap.Change.OneHour,
		FetchTimestampMs: time.Now().UnixMilli(),
	}
	if snap.OpenInterest != nil {
		out.Volume24h = snap.OpenInterest.Latest
	}
	if snap.Funding != nil {
		rate := snap.Funding.Rate
		out.FundingRate = &rate
	}
	return out, true
}
