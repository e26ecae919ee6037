package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"nof0-api/pkg/antichurn"
	"nof0-api/pkg/contracts"
	"nof0-api/pkg/exchange"
	"nof0-api/pkg/panel"
)

// aggressiveLimitPrice brackets an IOC market order with a price far enough
// through the book that it always crosses, mirroring the exchange client's
// own aggressive-limit convention for simulated market orders.
const (
	aggressiveBuyLimit  = "999999999"
	aggressiveSellLimit = "0.00000001"
)

// MarketSource is the subset of exchange.Provider the Executor needs.
type MarketSource interface {
	GetAssetIndex(ctx context.Context, coin string) (int, error)
	PlaceOrder(ctx context.Context, order exchange.Order) (*exchange.OrderResponse, error)
	UpdateLeverage(ctx context.Context, asset int, isCross bool, leverage int) error
	ClosePosition(ctx context.Context, coin string) (*exchange.OrderResponse, error)
}

// Config controls dry-run behavior.
type Config struct {
	DryRun bool
}

// Executor places orders for a validated FinalDecision and records the
// resulting TrackedTrade. In dry-run mode nothing is sent to the exchange
// and nothing is persisted, so anti-churn and PnL attribution stay
// consistent with "nothing happened" (spec.md P8).
type Executor struct {
	cfg      Config
	market   MarketSource
	specs    *contracts.Cache
	guard    *antichurn.Guard
	registry *Registry
	recorder ConversationRecorder
}

// New builds an Executor. recorder may be nil (replaced with a no-op).
func New(cfg Config, market MarketSource, specs *contracts.Cache, guard *antichurn.Guard, registry *Registry, recorder ConversationRecorder) *Executor {
	if recorder == nil {
		recorder = NewNoopConversationRecorder()
	}
	return &Executor{cfg: cfg, market: market, specs: specs, guard: guard, registry: registry, recorder: recorder}
}

// Outcome summarizes what the Executor did for one cycle's FinalDecision.
type Outcome struct {
	Executed bool
	Trade    *TrackedTrade
	Note     string
}

// Execute dispatches decision to the right path: BUY/SELL entries, CLOSE
// (close-all for the symbol), REDUCE (close 50%, rounded to step). HOLD is
// a no-op.
func (e *Executor) Execute(ctx context.Context, decision panel.FinalDecision, currentPrice float64, now time.Time) (Outcome, error) {
	switch decision.Action {
	case panel.ActionHold:
		return Outcome{Note: "hold"}, nil
	case panel.ActionBuy, panel.ActionSell:
		return e.executeEntry(ctx, decision, currentPrice, now)
	case panel.ActionClose:
		return e.executeClose(ctx, decision)
	case panel.ActionReduce:
		return e.executeReduce(ctx, decision, currentPrice)
	default:
		return Outcome{}, fmt.Errorf("executor: unsupported action %q", decision.Action)
	}
}

func (e *Executor) executeEntry(ctx context.Context, decision panel.FinalDecision, currentPrice float64, now time.Time) (Outcome, error) {
	side := sideFromAction(decision.Action)
	if e.guard != nil {
		if allowed, reason := e.guard.Allow(decision.Symbol, string(side), now); !allowed {
			return Outcome{Note: "anti-churn: " + reason}, nil
		}
	}
	if currentPrice <= 0 {
		return Outcome{}, fmt.Errorf("executor: no current price for %s", decision.Symbol)
	}
	qty := decision.AllocationUSD / currentPrice
	if e.specs != nil {
		rounded, err := e.specs.RoundToStep(decision.Symbol, qty)
		if err != nil {
			return Outcome{}, fmt.Errorf("executor: round size: %w", err)
		}
		qty = rounded
	}
	if qty <= 0 {
		return Outcome{}, fmt.Errorf("executor: rounded size is zero for %s", decision.Symbol)
	}

	cloid := BuildCloid(decision.Symbol, string(decision.Action), qty, now)

	if e.cfg.DryRun {
		logx.WithContext(ctx).Infof("executor: dry-run %s %s qty=%.6f leverage=%d cloid=%s",
			decision.Action, decision.Symbol, qty, decision.Leverage, cloid)
		return Outcome{Note: "dry-run: no order placed"}, nil
	}

	idx, err := e.market.GetAssetIndex(ctx, decision.Symbol)
	if err != nil {
		return Outcome{}, fmt.Errorf("executor: asset index for %s: %w", decision.Symbol, err)
	}

	if decision.Leverage > 0 {
		if err := e.market.UpdateLeverage(ctx, idx, true, decision.Leverage); err != nil {
			logx.WithContext(ctx).Errorf("executor: set leverage for %s: %v (continuing, may already be set)", decision.Symbol, err)
		}
	}

	isBuy := decision.Action == panel.ActionBuy
	order := exchange.Order{
		Asset:     idx,
		IsBuy:     isBuy,
		LimitPx:   aggressiveLimitPrice(isBuy),
		Sz:        formatQty(qty),
		OrderType: exchange.OrderType{Limit: &exchange.LimitOrderType{TIF: "Ioc"}},
		Cloid:     cloid,
	}
	resp, err := e.market.PlaceOrder(ctx, order)
	if err != nil {
		return Outcome{}, fmt.Errorf("executor: place entry order for %s: %w", decision.Symbol, err)
	}
	if resp != nil && resp.Status == "err" {
		return Outcome{}, fmt.Errorf("executor: entry order rejected for %s", decision.Symbol)
	}

	if decision.TPPrice != nil {
		e.placePlanOrder(ctx, decision.Symbol, !isBuy, qty, *decision.TPPrice, "tp")
	}
	if decision.SLPrice != nil {
		e.placePlanOrder(ctx, decision.Symbol, !isBuy, qty, *decision.SLPrice, "sl")
	}

	trade := &TrackedTrade{
		Symbol:        decision.Symbol,
		Side:          side,
		Size:          qty,
		EntryPrice:    currentPrice,
		Leverage:      decision.Leverage,
		Winner:        decision.Winner,
		Confidence:    decision.Confidence,
		ExitPlan:      decision.ExitPlan,
		Rationale:     decision.Rationale,
		ClientOrderID: cloid,
		OpenedAt:      now,
	}
	if e.registry != nil {
		e.registry.Register(trade)
	}
	if e.guard != nil {
		e.guard.Record(decision.Symbol, string(side), now)
	}

	return Outcome{Executed: true, Trade: trade, Note: "entry executed"}, nil
}

// placePlanOrder places a reduce-only trigger order sized to the full
// position; failures are logged, not fatal, since the entry itself already
// succeeded.
func (e *Executor) placePlanOrder(ctx context.Context, symbol string, isBuy bool, qty, triggerPrice float64, tpsl string) {
	rounded := triggerPrice
	if e.specs != nil {
		if v, err := e.specs.RoundToTick(symbol, triggerPrice); err == nil {
			rounded = v
		}
	}
	idx, err := e.market.GetAssetIndex(ctx, symbol)
	if err != nil {
		logx.WithContext(ctx).Errorf("executor: plan order asset index for %s: %v", symbol, err)
		return
	}
	order := exchange.Order{
		Asset:      idx,
		IsBuy:      isBuy,
		LimitPx:    aggressiveLimitPrice(isBuy),
		Sz:         formatQty(qty),
		ReduceOnly: true,
		TriggerPx:  formatPrice(rounded),
		OrderType:  exchange.OrderType{Trigger: &exchange.TriggerOrderType{IsMarket: true, Tpsl: tpsl}},
	}
	if _, err := e.market.PlaceOrder(ctx, order); err != nil {
		logx.WithContext(ctx).Errorf("executor: place %s plan order for %s: %v", tpsl, symbol, err)
	}
}

func (e *Executor) executeClose(ctx context.Context, decision panel.FinalDecision) (Outcome, error) {
	if e.cfg.DryRun {
		return Outcome{Note: "dry-run: no close issued"}, nil
	}
	resp, err := e.market.ClosePosition(ctx, decision.Symbol)
	if err != nil {
		return Outcome{}, fmt.Errorf("executor: close %s: %w", decision.Symbol, err)
	}
	if resp != nil && resp.Status == "err" {
		return Outcome{}, fmt.Errorf("executor: close order rejected for %s", decision.Symbol)
	}
	return Outcome{Executed: true, Note: "close issued"}, nil
}

func (e *Executor) executeReduce(ctx context.Context, decision panel.FinalDecision, currentPrice float64) (Outcome, error) {
	if e.cfg.DryRun {
		return Outcome{Note: "dry-run: no reduce issued"}, nil
	}
	trade, ok := e.registry.Get(decision.Symbol, sideFromAction(panel.ActionBuy))
	if !ok {
		trade, ok = e.registry.Get(decision.Symbol, sideFromAction(panel.ActionSell))
	}
	if !ok {
		return Outcome{}, fmt.Errorf("executor: no tracked trade to reduce for %s", decision.Symbol)
	}
	half := trade.Size * 0.5
	if e.specs != nil {
		rounded, err := e.specs.RoundToStep(decision.Symbol, half)
		if err != nil {
			return Outcome{}, fmt.Errorf("executor: round reduce size: %w", err)
		}
		half = rounded
	}
	idx, err := e.market.GetAssetIndex(ctx, decision.Symbol)
	if err != nil {
		return Outcome{}, fmt.Errorf("executor: asset index for %s: %w", decision.Symbol, err)
	}
	isBuy := trade.Side == "SHORT"
	order := exchange.Order{
		Asset:      idx,
		IsBuy:      isBuy,
		LimitPx:    aggressiveLimitPrice(isBuy),
		Sz:         formatQty(half),
		ReduceOnly: true,
		OrderType:  exchange.OrderType{Limit: &exchange.LimitOrderType{TIF: "Ioc"}},
	}
	resp, err := e.market.PlaceOrder(ctx, order)
	if err != nil {
		return Outcome{}, fmt.Errorf("executor: reduce %s: %w", decision.Symbol, err)
	}
	if resp != nil && resp.Status == "err" {
		return Outcome{}, fmt.Errorf("executor: reduce order rejected for %s", decision.Symbol)
	}
	trade.Size -= half
	return Outcome{Executed: true, Trade: trade, Note: "reduced 50%"}, nil
}

func aggressiveLimitPrice(isBuy bool) string {
	if isBuy {
		return aggressiveBuyLimit
	}
	return aggressiveSellLimit
}

func formatQty(qty float64) string {
	return formatDecimal(qty, 6)
}

func formatPrice(px float64) string {
	return formatDecimal(px, 6)
}

func formatDecimal(v float64, prec int) string {
	s := fmt.Sprintf("%.*f", prec, v)
	return s
}
