package repo

import (
	"errors"

	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlc"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	appcache "nof0-api/internal/cache"
)

// Dependencies bundles the shared infrastructure required by repository
// implementations. There is no generated model layer: every repository
// hand-rolls its SQL, the same idiom the teacher used for its read-side
// repos before a goctl model layer was introduced.
type Dependencies struct {
	DBConn     sqlx.SqlConn
	CachedConn *sqlc.CachedConn
	Cache      cache.Cache
	TTL        appcache.TTLSet
}

// Set exposes strongly typed repositories to application logic: the
// Portfolio View's history collaborator (C4) and the Reconciler's closed-
// position ledger (C11).
type Set struct {
	Equity EquityRepo
	Trades TradesRepo
	Closed ClosedPositionRepo
}

// New constructs the repository set, validating required dependencies.
func New(deps Dependencies) (*Set, error) {
	if deps.DBConn == nil {
		return nil, errors.New("repo: missing DBConn dependency")
	}

	equity := newEquityRepo(deps)
	trades := newTradesRepo(deps)

	return &Set{
		Equity: equity,
		Trades: trades,
		Closed: trades,
	}, nil
}
