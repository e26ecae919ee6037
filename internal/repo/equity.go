package repo

import (
	"context"
	"fmt"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// EquitySnapshot captures one point-in-time equity reading, recorded once
// per cycle by the Engine so PnL windows can be computed without re-asking
// the exchange for history it doesn't expose.
type EquitySnapshot struct {
	TimestampMs int64
	Equity      float64
}

// EquityRepo persists and queries the equity time series backing the
// Portfolio View's (C4) realized PnL windows.
type EquityRepo interface {
	// RecordSnapshot appends one equity reading.
	RecordSnapshot(ctx context.Context, snap EquitySnapshot) error
	// EquityAt returns the most recent equity reading at or before tsMs,
	// false if none exists yet (e.g. first cycle after a fresh deploy).
	EquityAt(ctx context.Context, tsMs int64) (float64, bool, error)
}

type equityRepo struct {
	conn sqlx.SqlConn
}

func newEquityRepo(deps Dependencies) EquityRepo {
	return &equityRepo{conn: deps.DBConn}
}

func (r *equityRepo) RecordSnapshot(ctx context.Context, snap EquitySnapshot) error {
	const stmt = `
INSERT INTO public.account_equity_snapshots (ts_ms, equity)
VALUES ($1, $2)
ON CONFLICT (ts_ms) DO UPDATE SET equity = EXCLUDED.equity;`
	if _, err := r.conn.ExecCtx(ctx, stmt, snap.TimestampMs, snap.Equity); err != nil {
		return fmt.Errorf("equityRepo.RecordSnapshot: %w", err)
	}
	return nil
}

func (r *equityRepo) EquityAt(ctx context.Context, tsMs int64) (float64, bool, error) {
	const query = `
SELECT equity FROM public.account_equity_snapshots
WHERE ts_ms <= $1
ORDER BY ts_ms DESC
LIMIT 1;`
	var equity float64
	switch err := r.conn.QueryRowCtx(ctx, &equity, query, tsMs); {
	case err == sqlx.ErrNotFound:
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("equityRepo.EquityAt: %w", err)
	default:
		return equity, true, nil
	}
}
