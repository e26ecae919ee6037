// Package reconcile implements the Reconciler (C11), run at cycle end:
// position sync against the exchange, and closed-order back-fill for
// entries still missing a realized PnL.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"nof0-api/pkg/exchange"
	"nof0-api/pkg/executor"
	"nof0-api/pkg/portfolio"
)

// FillSource supplies recent closed-order history for back-fill matching.
// The pack's exchange client has no fill-history endpoint yet; this is the
// injection point a concrete implementation wires in.
type FillSource interface {
	RecentFills(ctx context.Context, symbol string) ([]exchange.Fill, error)
}

// ClosedPositionRepo tracks which order ids have already produced a
// TradeRecord, so one back-fill pass never double-counts a closure.
type ClosedPositionRepo interface {
	SeenOrderIDs(ctx context.Context, symbol string) (map[int64]bool, error)
	RecordTrade(ctx context.Context, rec TradeRecord) error
}

// TradeRecord is one closed trade's persisted ledger entry.
type TradeRecord struct {
	Symbol      string
	Side        portfolio.Side
	Size        float64
	EntryPrice  float64
	ExitPrice   float64
	RealizedPnL float64
	Winner      string
	OrderID     int64
}

// JournalWriter records every tracked position found closed out on the
// exchange; Run calls it before back-fill, whether or not a matching fill
// is later found.
type JournalWriter interface {
	WriteClosure(ctx context.Context, trade executor.TrackedTrade, reason string) error
}

// Reconciler runs the two end-of-cycle duties against the Engine's
// TrackedTrade registry.
type Reconciler struct {
	registry *executor.Registry
	fills    FillSource
	closed   ClosedPositionRepo
	journal  JournalWriter
}

// New builds a Reconciler.
func New(registry *executor.Registry, fills FillSource, closed ClosedPositionRepo, journal JournalWriter) *Reconciler {
	return &Reconciler{registry: registry, fills: fills, closed: closed, journal: journal}
}

// Run performs position sync then closed-order back-fill. livePositions is
// the exchange's current position set for this cycle (from the Portfolio
// View's underlying fetch, to avoid a duplicate query).
func (r *Reconciler) Run(ctx context.Context, livePositions []exchange.Position) error {
	live := make(map[string]bool, len(livePositions))
	for _, p := range livePositions {
		live[string(sideOf(p))+":"+p.Coin] = true
	}

	for _, t := range r.registry.All() {
		key := string(t.Side) + ":" + t.Symbol
		if live[key] {
			continue
		}
		// Missing exchange position: closed out. Journal it and retire.
		if r.journal != nil {
			if err := r.journal.WriteClosure(ctx, *t, "position closed on exchange"); err != nil {
				return fmt.Errorf("reconcile: journal closure for %s: %w", t.Symbol, err)
			}
		}
		if err := r.backfillClosure(ctx, t); err != nil {
			return fmt.Errorf("reconcile: backfill closure for %s: %w", t.Symbol, err)
		}
		r.registry.Retire(t.Symbol, t.Side)
	}
	return nil
}

// backfillClosure scans recent fills for the opposite-side closure that
// matches t, dedup'd against already-recorded order ids, and persists one
// TradeRecord with realized PnL. Picks the closure whose size is closest to
// the entry size.
func (r *Reconciler) backfillClosure(ctx context.Context, t *executor.TrackedTrade) error {
	if r.fills == nil || r.closed == nil {
		return nil
	}
	fills, err := r.fills.RecentFills(ctx, t.Symbol)
	if err != nil {
		return fmt.Errorf("recent fills: %w", err)
	}
	seen, err := r.closed.SeenOrderIDs(ctx, t.Symbol)
	if err != nil {
		return fmt.Errorf("seen order ids: %w", err)
	}

	oppositeIsBuy := t.Side == portfolio.Short // closing a short is a buy fill
	var candidates []exchange.Fill
	for _, f := range fills {
		if seen[f.Oid] {
			continue
		}
		isBuy := f.Crossed // placeholder discriminator; concrete FillSource impls set Crossed to reflect fill side
		if isBuy != oppositeIsBuy {
			continue
		}
		candidates = append(candidates, f)
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return sizeDelta(candidates[i], t.Size) < sizeDelta(candidates[j], t.Size)
	})
	best := candidates[0]

	exitPrice := parseFloat(best.AvgPx)
	realized := realizedPnL(t, exitPrice)

	return r.closed.RecordTrade(ctx, TradeRecord{
		Symbol:      t.Symbol,
		Side:        t.Side,
		Size:        t.Size,
		EntryPrice:  t.EntryPrice,
		ExitPrice:   exitPrice,
		RealizedPnL: realized,
		Winner:      t.Winner,
		OrderID:     best.Oid,
	})
}

func realizedPnL(t *executor.TrackedTrade, exitPrice float64) float64 {
	delta := exitPrice - t.EntryPrice
	if t.Side == portfolio.Short {
		delta = -delta
	}
	return delta * t.Size
}

func sizeDelta(f exchange.Fill, target float64) float64 {
	return math.Abs(parseFloat(f.TotalSz) - target)
}

func sideOf(p exchange.Position) portfolio.Side {
	if parseFloat(p.Szi) < 0 {
		return portfolio.Short
	}
	return portfolio.Long
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
