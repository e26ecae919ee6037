// Package contracts implements the Contract Spec Cache: per-symbol tick
// size, step size and leverage bounds, refreshed periodically from the
// exchange collaborator and served stale-but-available on refresh failure.
package contracts

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/singleflight"
)

// Spec is the per-symbol contract specification.
type Spec struct {
	Symbol      string
	TickSize    float64
	StepSize    float64
	MinLeverage int
	MaxLeverage int
}

func (s Spec) valid() bool {
	return s.TickSize > 0 && s.StepSize > 0 && s.MinLeverage > 0 && s.MinLeverage <= s.MaxLeverage
}

// Source is the exchange collaborator's contract listing call.
type Source interface {
	GetContracts(ctx context.Context) ([]Spec, error)
}

// Cache holds the current approved-universe spec set, single-writer
// (Refresh) many-reader (everything else).
type Cache struct {
	source Source
	ttl    time.Duration

	mu          sync.RWMutex
	specs       map[string]Spec
	lastRefresh time.Time

	group singleflight.Group
}

// New builds a Cache with the given refresh TTL (T_spec in spec.md, default
// 30 minutes).
func New(source Source, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Cache{
		source: source,
		ttl:    ttl,
		specs:  make(map[string]Spec),
	}
}

// RefreshIfStale triggers a refresh if any universe symbol is missing or the
// cache is older than the TTL. Concurrent callers collapse onto one
// in-flight refresh via a single-flight group. A failed refresh leaves the
// previously cached specs untouched.
func (c *Cache) RefreshIfStale(ctx context.Context, universe []string) error {
	if c == nil {
		return fmt.Errorf("contracts: nil cache")
	}
	if !c.needsRefresh(universe) {
		return nil
	}

	_, err, _ := c.group.Do("refresh", func() (any, error) {
		specs, fetchErr := c.source.GetContracts(ctx)
		if fetchErr != nil {
			return nil, fmt.Errorf("contracts: refresh: %w", fetchErr)
		}
		c.ingest(specs)
		return nil, nil
	})
	if err != nil {
		logx.WithContext(ctx).Errorf("contracts: refresh failed, serving stale data: %v", err)
		return err
	}
	return nil
}

func (c *Cache) needsRefresh(universe []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if time.Since(c.lastRefresh) > c.ttl {
		return true
	}
	for _, symbol := range universe {
		if _, ok := c.specs[symbol]; !ok {
			return true
		}
	}
	return false
}

// ingest rejects individually-corrupt entries without discarding the good
// ones, and never overwrites existing good data with bad.
func (c *Cache) ingest(specs []Spec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range specs {
		if !s.valid() {
			logx.Errorf("contracts: rejecting corrupt spec for %s: min=%d max=%d tick=%v step=%v",
				s.Symbol, s.MinLeverage, s.MaxLeverage, s.TickSize, s.StepSize)
			continue
		}
		c.specs[s.Symbol] = s
	}
	c.lastRefresh = time.Now()
}

// Get returns the cached spec for a symbol.
func (c *Cache) Get(symbol string) (Spec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.specs[symbol]
	return s, ok
}

// RoundToTick snaps a price onto the symbol's tick grid. Idempotent:
// RoundToTick(RoundToTick(p)) == RoundToTick(p).
func (c *Cache) RoundToTick(symbol string, price float64) (float64, error) {
	spec, ok := c.Get(symbol)
	if !ok {
		return 0, fmt.Errorf("contracts: no spec cached for %s", symbol)
	}
	return roundToGrid(price, spec.TickSize), nil
}

// RoundToStep snaps a size onto the symbol's step grid. Returns an error if
// the resulting size falls below one step.
func (c *Cache) RoundToStep(symbol string, size float64) (float64, error) {
	spec, ok := c.Get(symbol)
	if !ok {
		return 0, fmt.Errorf("contracts: no spec cached for %s", symbol)
	}
	rounded := roundToGrid(size, spec.StepSize)
	if rounded < spec.StepSize {
		return 0, fmt.Errorf("contracts: size %v for %s rounds below minimum step %v", size, symbol, spec.StepSize)
	}
	return rounded, nil
}

func roundToGrid(value, grid float64) float64 {
	if grid <= 0 {
		return value
	}
	return math.Round(value/grid) * grid
}
