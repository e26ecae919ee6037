package antichurn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowFirstTrade(t *testing.T) {
	g := New(15 * time.Minute)
	ok, reason := g.Allow("BTC", "BUY", time.Now())
	assert.True(t, ok, "first trade on a symbol/side must be allowed")
	assert.Empty(t, reason)
}

func TestRecordThenBlockWithinCooldown(t *testing.T) {
	g := New(15 * time.Minute)
	now := time.Now()
	g.Record("BTC", "BUY", now)

	ok, reason := g.Allow("BTC", "BUY", now.Add(5*time.Minute))
	assert.False(t, ok, "a repeat trade inside the cooldown must be blocked")
	assert.NotEmpty(t, reason)
}

func TestAllowAfterCooldownElapses(t *testing.T) {
	g := New(15 * time.Minute)
	now := time.Now()
	g.Record("BTC", "BUY", now)

	ok, _ := g.Allow("BTC", "BUY", now.Add(16*time.Minute))
	assert.True(t, ok, "a trade after the cooldown has elapsed must be allowed")
}

func TestDifferentSideIsIndependent(t *testing.T) {
	g := New(15 * time.Minute)
	now := time.Now()
	g.Record("BTC", "BUY", now)

	ok, _ := g.Allow("BTC", "SELL", now.Add(time.Minute))
	assert.True(t, ok, "opposite side on the same symbol must not share the cooldown")
}

func TestDifferentSymbolIsIndependent(t *testing.T) {
	g := New(15 * time.Minute)
	now := time.Now()
	g.Record("BTC", "BUY", now)

	ok, _ := g.Allow("ETH", "BUY", now.Add(time.Minute))
	assert.True(t, ok, "a different symbol must not share the cooldown")
}
