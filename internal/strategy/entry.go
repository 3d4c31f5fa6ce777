package strategy

import (
	"context"
	"time"

	"dipbot/internal/gateway/exchange"
	"dipbot/internal/indicator"
	"dipbot/internal/logger"
	"dipbot/internal/pkg/trading"
	"dipbot/internal/types"
)

// computeEntryTarget resolves the rule's desired entry price and quantity.
// Returns false when the rule cannot produce a valid order this tick.
func (r *ruleRun) computeEntryTarget(ctx context.Context) (bool, error) {
	var target float64
	switch r.rule.Type {
	case types.RuleTypeManual:
		if r.rule.DipPct <= 0 {
			return false, nil
		}
		price, err := r.caches.price(ctx, r.client, r.rule.Symbol)
		if err != nil {
			return false, err
		}
		target = price * (1 - r.rule.DipPct/100)
	case types.RuleTypeAI:
		target = r.rule.EntryPrice
	default:
		return false, nil
	}
	target = trading.RoundToTick(target, r.filters.TickSize)
	if target <= 0 {
		return false, nil
	}

	qty := trading.FloorToStep(r.rule.BudgetUSDT/target, r.filters.StepSize)
	if qty < trading.StepValue(r.filters.MinQty) {
		logger.Debugf("strategy: rule %s qty %.10f below minQty, skipped", r.rule.ID, qty)
		return false, nil
	}
	if notional := qty * target; notional < trading.StepValue(r.filters.MinNotional) {
		logger.Debugf("strategy: rule %s notional %.4f below minNotional, skipped", r.rule.ID, notional)
		return false, nil
	}
	r.targetPrice = target
	r.entryQty = qty
	return true, nil
}

// syncEntryOrder converges the resting entry order with the target. Returns
// true when processing for this rule should stop for the tick (entry gate
// failed).
func (r *ruleRun) syncEntryOrder(ctx context.Context) (bool, error) {
	if r.rule.IndicatorSettings.HasEntryGate() {
		snap := r.caches.snapshot(ctx, r.client, r.rule.Symbol, r.rule.IndicatorSettings)
		if !indicator.EntryAllowed(r.rule.IndicatorSettings, snap) {
			logger.Debugf("strategy: rule %s entry gate closed", r.rule.ID)
			if err := r.cancelEntryOrder(ctx); err != nil {
				return true, err
			}
			return true, nil
		}
	}

	orders, err := r.caches.openOrders(ctx, r.client, r.rule.Symbol)
	if err != nil {
		return false, err
	}
	clientID := entryClientID(r.rule.ID)
	existing := findByClientID(orders, clientID)
	if existing == nil {
		if err := r.placeEntryOrder(ctx, clientID); err != nil {
			return false, err
		}
		return false, nil
	}
	if driftPct(existing.Price, r.targetPrice) > buyDriftPct {
		logger.Infof("strategy: rule %s entry drifted %.4f -> %.4f, replacing", r.rule.ID, existing.Price, r.targetPrice)
		if err := r.client.CancelOrder(ctx, r.rule.Symbol, existing.OrderID); err != nil {
			return false, err
		}
		r.caches.InvalidateOrders(r.rule.Symbol)
		if err := r.placeEntryOrder(ctx, clientID); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (r *ruleRun) placeEntryOrder(ctx context.Context, clientID string) error {
	_, err := r.client.PlaceLimitOrder(ctx, exchange.LimitOrderRequest{
		Symbol:        r.rule.Symbol,
		Side:          types.SideBuy,
		Quantity:      r.entryQty,
		Price:         r.targetPrice,
		ClientOrderID: clientID,
	})
	if err != nil {
		return err
	}
	r.caches.InvalidateOrders(r.rule.Symbol)
	r.orderSucceeded(ctx)
	logger.Infof("strategy: rule %s entry order placed %.10f @ %.8f", r.rule.ID, r.entryQty, r.targetPrice)
	return nil
}

func (r *ruleRun) cancelEntryOrder(ctx context.Context) error {
	orders, err := r.caches.openOrders(ctx, r.client, r.rule.Symbol)
	if err != nil {
		return err
	}
	existing := findByClientID(orders, entryClientID(r.rule.ID))
	if existing == nil {
		return nil
	}
	if err := r.client.CancelOrder(ctx, r.rule.Symbol, existing.OrderID); err != nil {
		return err
	}
	r.caches.InvalidateOrders(r.rule.Symbol)
	return nil
}

// detectEntryFill scans recent trades, newest first, for an unprocessed BUY
// belonging to this rule and opens a fresh position from it.
func (r *ruleRun) detectEntryFill(ctx context.Context) (bool, error) {
	trades, err := r.caches.recentTrades(ctx, r.client, r.rule.Symbol)
	if err != nil {
		return false, err
	}
	earliest := r.rule.CreatedAt.Add(-creationGrace).UnixMilli()
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		if !t.IsBuyer || t.Time < earliest {
			continue
		}
		if r.state != nil && (r.state.TradeProcessed(t.ID) || t.ID <= r.state.LastBuyTradeID) {
			continue
		}
		if driftPct(t.Price, r.targetPrice) > fillPriceTolerancePct {
			continue
		}
		return true, r.openPosition(ctx, t)
	}
	return false, nil
}

func (r *ruleRun) openPosition(ctx context.Context, t types.Trade) error {
	qty := trading.FloorToStep(t.Qty, r.filters.StepSize)
	quoteSpent := t.QuoteQty
	if quoteSpent <= 0 {
		quoteSpent = t.Price * t.Qty
	}
	openedAt := time.UnixMilli(t.Time).UTC()

	state := &types.PositionState{
		Version:         types.StateVersion,
		RuleID:          r.rule.ID,
		Symbol:          r.rule.Symbol,
		Active:          true,
		LastBuyTradeID:  t.ID,
		EntryPrice:      t.Price,
		BaseQty:         qty,
		QuoteSpent:      quoteSpent,
		RemainingQty:    qty,
		StopLossPct:     r.rule.StopLossPct,
		TrailingStopPct: r.rule.TrailingStopPct,
		OpenedAt:        openedAt,
	}
	if state.TrailingStopPct > 0 {
		state.TrailingPeakPrice = t.Price
		state.TrailingStopPrice = trading.RoundToTick(t.Price*(1-state.TrailingStopPct/100), r.filters.TickSize)
	}
	state.TakeProfitPlan = buildLadder(r.rule, r.filters, t.Price, qty)
	state.MarkTradeProcessed(t.ID)
	r.state = state

	// Persist before anything else touches the exchange: a crash after this
	// point must not forget the position exists.
	if err := r.persist(ctx); err != nil {
		return err
	}
	r.notify(ctx, EventPositionOpened, map[string]any{
		"symbol":      state.Symbol,
		"entry_price": state.EntryPrice,
		"base_qty":    state.BaseQty,
		"quote_spent": state.QuoteSpent,
	})
	logger.Infof("strategy: rule %s position opened %.10f @ %.8f (trade %d)", r.rule.ID, qty, t.Price, t.ID)
	return nil
}
