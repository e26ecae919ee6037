// Package antichurn implements the Anti-Churn guard (C8): it suppresses
// repeated entries on the same (symbol, side) within a cooldown window.
// Exits (CLOSE/REDUCE) are never suppressed.
package antichurn

import (
	"sync"
	"time"
)

// key identifies one cooldown bucket.
type key struct {
	symbol string
	side   string
}

// Guard tracks the last recorded trade per (symbol, side). Single-writer
// (Executor, via Record), single-reader (Engine, via Allow), both invoked on
// the cycle thread, so the mutex here guards against incidental concurrent
// reads rather than a real contention path.
type Guard struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[key]time.Time
}

// New builds a Guard with the given cooldown window.
func New(cooldown time.Duration) *Guard {
	return &Guard{
		cooldown: cooldown,
		last:     make(map[key]time.Time),
	}
}

// Allow reports whether a new entry on (symbol, side) is permitted at now.
// It returns false with a reason if a trade on the same (symbol, side) was
// recorded within the cooldown window.
func (g *Guard) Allow(symbol, side string, now time.Time) (bool, string) {
	if g == nil || g.cooldown <= 0 {
		return true, ""
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	k := key{symbol: symbol, side: side}
	last, ok := g.last[k]
	if !ok {
		return true, ""
	}
	elapsed := now.Sub(last)
	if elapsed < g.cooldown {
		return false, "cooldown active, " + (g.cooldown - elapsed).String() + " remaining"
	}
	return true, ""
}

// Record marks (symbol, side) as traded at now. Must only be called after
// the Executor confirms the order was accepted by the exchange.
func (g *Guard) Record(symbol, side string, now time.Time) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last[key{symbol: symbol, side: side}] = now
}
