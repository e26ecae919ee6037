package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"nof0-api/pkg/portfolio"
	"nof0-api/pkg/reconcile"
)

// TradesRepo exposes the trade ledger queries the Portfolio View's history
// collaborator (C4, portfolio.HistorySource) needs: how many trades opened
// today, and when a symbol/side pair was last entered.
type TradesRepo interface {
	RecordOpen(ctx context.Context, symbol string, side portfolio.Side, openedAt time.Time, entryOrderID int64) error
	DailyTradeCount(ctx context.Context, since time.Time) (int, error)
	LastEntryTimestamp(ctx context.Context, symbol string, side portfolio.Side) (time.Time, bool, error)
	RecentRealizedPnL(ctx context.Context, since time.Time) (float64, error)
}

// ClosedPositionRepo implements pkg/reconcile.ClosedPositionRepo: it is the
// persisted record of which exit order ids have already produced a closed
// trade row, so the Reconciler's fill back-fill never double-counts.
type ClosedPositionRepo = reconcile.ClosedPositionRepo

type tradesRepo struct {
	conn sqlx.SqlConn
}

func newTradesRepo(deps Dependencies) *tradesRepo {
	return &tradesRepo{conn: deps.DBConn}
}

func (r *tradesRepo) RecordOpen(ctx context.Context, symbol string, side portfolio.Side, openedAt time.Time, entryOrderID int64) error {
	const stmt = `
INSERT INTO public.trades (symbol, side, entry_order_id, opened_at)
VALUES ($1, $2, $3, $4);`
	if _, err := r.conn.ExecCtx(ctx, stmt, symbol, string(side), entryOrderID, openedAt.UTC()); err != nil {
		return fmt.Errorf("tradesRepo.RecordOpen: %w", err)
	}
	return nil
}

func (r *tradesRepo) DailyTradeCount(ctx context.Context, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM public.trades WHERE opened_at >= $1;`
	var count int
	if err := r.conn.QueryRowCtx(ctx, &count, query, since.UTC()); err != nil {
		return 0, fmt.Errorf("tradesRepo.DailyTradeCount: %w", err)
	}
	return count, nil
}

func (r *tradesRepo) LastEntryTimestamp(ctx context.Context, symbol string, side portfolio.Side) (time.Time, bool, error) {
	const query = `
SELECT opened_at FROM public.trades
WHERE symbol = $1 AND side = $2
ORDER BY opened_at DESC
LIMIT 1;`
	var openedAt time.Time
	switch err := r.conn.QueryRowCtx(ctx, &openedAt, query, symbol, string(side)); {
	case err == sqlx.ErrNotFound:
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, fmt.Errorf("tradesRepo.LastEntryTimestamp: %w", err)
	default:
		return openedAt, true, nil
	}
}

func (r *tradesRepo) RecentRealizedPnL(ctx context.Context, since time.Time) (float64, error) {
	const query = `
SELECT COALESCE(SUM(realized_pnl), 0) FROM public.trades
WHERE closed_at >= $1;`
	var sum float64
	if err := r.conn.QueryRowCtx(ctx, &sum, query, since.UTC()); err != nil {
		return 0, fmt.Errorf("tradesRepo.RecentRealizedPnL: %w", err)
	}
	return sum, nil
}

// SeenOrderIDs implements reconcile.ClosedPositionRepo.
func (r *tradesRepo) SeenOrderIDs(ctx context.Context, symbol string) (map[int64]bool, error) {
	const query = `
SELECT exit_order_id FROM public.trades
WHERE symbol = $1 AND exit_order_id IS NOT NULL;`
	var ids []int64
	if err := r.conn.QueryRowsCtx(ctx, &ids, query, symbol); err != nil {
		return nil, fmt.Errorf("tradesRepo.SeenOrderIDs: %w", err)
	}
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	return seen, nil
}

// RecordTrade implements reconcile.ClosedPositionRepo: it upserts the
// closing leg onto the most recent open row for symbol+side that hasn't
// been closed yet, falling back to an insert if none is found (e.g. the
// opening leg predates this deploy).
func (r *tradesRepo) RecordTrade(ctx context.Context, rec reconcile.TradeRecord) error {
	const updateStmt = `
UPDATE public.trades SET
    exit_price = $1,
    realized_pnl = $2,
    exit_order_id = $3,
    closed_at = NOW()
WHERE id = (
    SELECT id FROM public.trades
    WHERE symbol = $4 AND side = $5 AND closed_at IS NULL
    ORDER BY opened_at DESC
    LIMIT 1
);`
	res, err := r.conn.ExecCtx(ctx, updateStmt, rec.ExitPrice, rec.RealizedPnL, rec.OrderID, rec.Symbol, string(rec.Side))
	if err != nil {
		return fmt.Errorf("tradesRepo.RecordTrade update: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return nil
	}

	const insertStmt = `
INSERT INTO public.trades (symbol, side, size, entry_price, exit_price, realized_pnl, exit_order_id, opened_at, closed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW());`
	if _, err := r.conn.ExecCtx(ctx, insertStmt, rec.Symbol, string(rec.Side), rec.Size, rec.EntryPrice, rec.ExitPrice, rec.RealizedPnL, rec.OrderID); err != nil {
		return fmt.Errorf("tradesRepo.RecordTrade insert: %w", err)
	}
	return nil
}
