// Package executor implements the Executor (C10): order placement,
// TP/SL plan orders, and the TrackedTrade registry the Reconciler later
// retires.
package executor

import (
	"sync"
	"time"

	"nof0-api/pkg/panel"
	"nof0-api/pkg/portfolio"
)

// TrackedTrade is created after an entry order is accepted, updated by the
// Reconciler, and destroyed when the corresponding position size goes to
// zero. It carries winner/attribution metadata through its whole lifetime.
type TrackedTrade struct {
	Symbol        string
	Side          portfolio.Side
	Size          float64
	EntryPrice    float64
	Leverage      int
	Winner        string
	Confidence    int
	ExitPlan      string
	Rationale     string
	ClientOrderID string
	EntryOrderID  int64
	OpenedAt      time.Time
}

// Registry is the in-memory TrackedTrade store the Engine owns for the
// lifetime of one process. Single-writer (Executor registers, Reconciler
// retires), read by the Engine/Reconciler on the cycle thread; the mutex
// only protects against incidental concurrent reads.
type Registry struct {
	mu     sync.Mutex
	trades map[string]*TrackedTrade // keyed by side:symbol
}

// NewRegistry returns an empty Registry. A new Engine must start with empty
// caches, including this one.
func NewRegistry() *Registry {
	return &Registry{trades: make(map[string]*TrackedTrade)}
}

func tradeKey(symbol string, side portfolio.Side) string {
	return string(side) + ":" + symbol
}

// Register records a newly opened trade.
func (r *Registry) Register(t *TrackedTrade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades[tradeKey(t.Symbol, t.Side)] = t
}

// Get returns the tracked trade for (symbol, side), if any.
func (r *Registry) Get(symbol string, side portfolio.Side) (*TrackedTrade, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trades[tradeKey(symbol, side)]
	return t, ok
}

// Retire removes the tracked trade for (symbol, side). Idempotent: retiring
// an already-absent trade is a no-op.
func (r *Registry) Retire(symbol string, side portfolio.Side) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.trades, tradeKey(symbol, side))
}

// All returns a snapshot of every currently tracked trade.
func (r *Registry) All() []*TrackedTrade {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*TrackedTrade, 0, len(r.trades))
	for _, t := range r.trades {
		out = append(out, t)
	}
	return out
}

// sideFromAction maps a winning action to the position side it opens.
func sideFromAction(action panel.Action) portfolio.Side {
	if action == panel.ActionSell {
		return portfolio.Short
	}
	return portfolio.Long
}
