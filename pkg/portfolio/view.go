package portfolio

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"nof0-api/pkg/exchange"
)

// parseFloat is a best-effort parse of the Hyperliquid wire format's
// string-encoded numerics; a malformed value is treated as zero rather than
// propagated as an error.
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// ExchangeSource is the subset of the exchange collaborator the Portfolio
// View needs. Balance always comes from here, never from local storage.
type ExchangeSource interface {
	GetAccountState(ctx context.Context) (*exchange.AccountState, error)
	GetPositions(ctx context.Context) ([]exchange.Position, error)
}

// HistorySource supplies recent realized PnL and daily trade counts; backed
// by the storage collaborator (internal/repo) in production.
type HistorySource interface {
	RecentPnLWindows(ctx context.Context, id ViewID, now time.Time) (PnLWindow, error)
	DailyTradeCount(ctx context.Context, id ViewID, now time.Time) (int, error)
	LastEntryTimestamp(ctx context.Context, id ViewID, symbol string, side Side) (time.Time, bool, error)
}

// Aggregator builds View snapshots, wrapping the weekly-PnL query in a
// 60-second TTL cache that deduplicates concurrent fetches: the first
// in-flight call wins and subsequent callers await its result.
type Aggregator struct {
	exchangeSrc ExchangeSource
	historySrc  HistorySource
	ttl         time.Duration

	group singleflight.Group

	cached   View
	cachedAt time.Time
}

// NewAggregator builds an Aggregator with a 60s weekly-PnL cache TTL as
// specified by spec.md §4.4, overridable for tests.
func NewAggregator(exchangeSrc ExchangeSource, historySrc HistorySource, ttl time.Duration) *Aggregator {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Aggregator{exchangeSrc: exchangeSrc, historySrc: historySrc, ttl: ttl}
}

// Build returns the current PortfolioView. Balance and positions are always
// fetched fresh from the exchange; the recent-PnL/daily-trade-count query is
// served from the dedup-fetch TTL cache.
func (a *Aggregator) Build(ctx context.Context, now time.Time) (View, error) {
	if a == nil || a.exchangeSrc == nil {
		return View{}, fmt.Errorf("portfolio: aggregator has no exchange source")
	}

	account, err := a.exchangeSrc.GetAccountState(ctx)
	if err != nil {
		return View{}, fmt.Errorf("portfolio: get account state: %w", err)
	}
	if account == nil {
		return View{}, fmt.Errorf("portfolio: exchange returned a nil account state")
	}
	rawPositions, err := a.exchangeSrc.GetPositions(ctx)
	if err != nil {
		return View{}, fmt.Errorf("portfolio: get positions: %w", err)
	}

	positions := make([]Position, 0, len(rawPositions))
	holdTimes := make(map[string]time.Duration, len(rawPositions))
	for _, p := range rawPositions {
		szi := parseFloat(p.Szi)
		side := Long
		size := szi
		if szi < 0 {
			side = Short
			size = -szi
		}
		entryPx := 0.0
		if p.EntryPx != nil {
			entryPx = parseFloat(*p.EntryPx)
		}
		pos := Position{
			Symbol:        strings.ToUpper(p.Coin),
			Side:          side,
			Size:          size,
			EntryPrice:    entryPx,
			UnrealizedPnl: parseFloat(p.UnrealizedPnl),
		}
		if p.Leverage.Value > 0 {
			pos.Leverage = float64(p.Leverage.Value)
		}
		if p.LiquidationPx != "" {
			if val := parseFloat(p.LiquidationPx); val > 0 {
				pos.LiquidationPrice = &val
			}
		}
		if a.historySrc != nil {
			if ts, ok, _ := a.historySrc.LastEntryTimestamp(ctx, Collaborative, pos.Symbol, side); ok {
				pos.OpenedAt = ts
				holdTimes[pos.Symbol] = now.Sub(ts)
			}
		}
		positions = append(positions, pos)
	}

	pnl, tradeCount, err := a.recentHistory(ctx, now)
	if err != nil {
		return View{}, err
	}

	accountValue := parseFloat(account.MarginSummary.AccountValue)
	marginUsed := parseFloat(account.MarginSummary.TotalMarginUsed)

	return View{
		ID:               Collaborative,
		AvailableBalance: accountValue - marginUsed,
		Equity:           accountValue,
		Positions:        positions,
		RecentPnL:        pnl,
		DailyTradeCount:  tradeCount,
		HoldTimes:        holdTimes,
	}, nil
}

type historyResult struct {
	pnl   PnLWindow
	count int
}

func (a *Aggregator) recentHistory(ctx context.Context, now time.Time) (PnLWindow, int, error) {
	if a.historySrc == nil {
		return PnLWindow{}, 0, nil
	}
	if !a.cachedAt.IsZero() && now.Sub(a.cachedAt) < a.ttl {
		return a.cached.RecentPnL, a.cached.DailyTradeCount, nil
	}

	v, err, _ := a.group.Do("recent-history", func() (any, error) {
		pnl, err := a.historySrc.RecentPnLWindows(ctx, Collaborative, now)
		if err != nil {
			return nil, fmt.Errorf("portfolio: recent pnl windows: %w", err)
		}
		count, err := a.historySrc.DailyTradeCount(ctx, Collaborative, now)
		if err != nil {
			return nil, fmt.Errorf("portfolio: daily trade count: %w", err)
		}
		a.cached = View{RecentPnL: pnl, DailyTradeCount: count}
		a.cachedAt = now
		return historyResult{pnl: pnl, count: count}, nil
	})
	if err != nil {
		return PnLWindow{}, 0, err
	}
	hr := v.(historyResult)
	return hr.pnl, hr.count, nil
}
