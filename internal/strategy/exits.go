package strategy

import (
	"context"
	"strings"
	"time"

	"dipbot/internal/gateway/exchange"
	"dipbot/internal/indicator"
	"dipbot/internal/logger"
	"dipbot/internal/pkg/trading"
	"dipbot/internal/types"
)

// updateTrailingPeak raises the trailing peak when price has moved past it by
// more than the noise threshold. The raised peak is persisted immediately so a
// crash cannot lower an already-ratcheted stop.
func (r *ruleRun) updateTrailingPeak(ctx context.Context) error {
	st := r.state
	if st.TrailingStopPct <= 0 {
		return nil
	}
	price, err := r.caches.price(ctx, r.client, r.rule.Symbol)
	if err != nil {
		return err
	}
	if st.TrailingPeakPrice <= 0 {
		st.TrailingPeakPrice = st.EntryPrice
	}
	if price <= st.TrailingPeakPrice*(1+trailingUpdatePct/100) {
		return nil
	}
	st.TrailingPeakPrice = price
	st.TrailingStopPrice = trading.RoundToTick(price*(1-st.TrailingStopPct/100), r.filters.TickSize)
	logger.Debugf("strategy: rule %s trailing peak raised to %.8f (stop %.8f)", r.rule.ID, price, st.TrailingStopPrice)
	return r.persist(ctx)
}

// applySellFills folds every unprocessed SELL execution into the position:
// realized proceeds rise, remaining quantity falls, and the ladder's front
// steps absorb the quantity. Returns true when the position closed.
func (r *ruleRun) applySellFills(ctx context.Context) (bool, error) {
	st := r.state
	trades, err := r.caches.recentTrades(ctx, r.client, r.rule.Symbol)
	if err != nil {
		return false, err
	}
	earliest := st.OpenedAt.Add(-creationGrace).UnixMilli()
	quoteAsset := r.filters.QuoteAsset
	baseAsset := r.filters.BaseAsset

	for _, t := range trades {
		if t.IsBuyer || t.Time < earliest || st.TradeProcessed(t.ID) {
			continue
		}
		qty := trading.FloorToStep(t.Qty, r.filters.StepSize)
		st.MarkTradeProcessed(t.ID)
		if qty <= 0 {
			continue
		}
		applied := qty
		if applied > st.RemainingQty {
			applied = st.RemainingQty
		}

		proceeds := t.QuoteQty
		if proceeds <= 0 {
			proceeds = t.Price * qty
		}
		switch {
		case strings.EqualFold(t.CommissionAsset, quoteAsset):
			proceeds -= t.Commission
		case strings.EqualFold(t.CommissionAsset, baseAsset):
			// Commission charged in base terms is converted at the trade price.
			proceeds -= t.Commission * t.Price
		}

		st.RealizedQuote += proceeds
		st.RemainingQty -= applied
		distributeFill(st.TakeProfitPlan, applied)
		logger.Infof("strategy: rule %s sell fill %.10f @ %.8f applied (trade %d)", r.rule.ID, qty, t.Price, t.ID)
	}

	if trading.ApproxZero(st.RemainingQty, r.filters.StepSize) {
		st.Close(time.Now().UTC())
		return true, nil
	}
	return false, nil
}

// syncExitOrders converges the resting sell ladder with the plan.
func (r *ruleRun) syncExitOrders(ctx context.Context) error {
	st := r.state

	if r.rule.IndicatorSettings.HasExitGate() {
		snap := r.caches.snapshot(ctx, r.client, r.rule.Symbol, r.rule.IndicatorSettings)
		if !indicator.ExitAllowed(r.rule.IndicatorSettings, snap) {
			// Hold for a better exit: suppress the ladder, keep the position.
			logger.Debugf("strategy: rule %s exit gate closed, suppressing sell ladder", r.rule.ID)
			return r.cancelPlanOrders(ctx)
		}
	}

	orders, err := r.caches.openOrders(ctx, r.client, r.rule.Symbol)
	if err != nil {
		return err
	}
	minQty := trading.StepValue(r.filters.MinQty)
	live := make(map[string]bool, len(st.TakeProfitPlan))

	for i := range st.TakeProfitPlan {
		step := &st.TakeProfitPlan[i]
		live[step.ClientOrderID] = true
		outstanding := trading.FloorToStep(step.Quantity-step.FilledQuantity, r.filters.StepSize)
		existing := findByClientID(orders, step.ClientOrderID)

		if outstanding < minQty || outstanding <= 0 {
			if existing != nil {
				if err := r.client.CancelOrder(ctx, r.rule.Symbol, existing.OrderID); err != nil {
					return err
				}
				r.caches.InvalidateOrders(r.rule.Symbol)
			}
			continue
		}
		if existing == nil {
			if err := r.placeStepOrder(ctx, step, outstanding); err != nil {
				return err
			}
			continue
		}
		if driftPct(existing.Price, step.TargetPrice) > sellDriftPct ||
			driftPct(existing.OrigQty, outstanding) > sellDriftPct {
			logger.Infof("strategy: rule %s step %s drifted, replacing", r.rule.ID, step.ID)
			if err := r.client.CancelOrder(ctx, r.rule.Symbol, existing.OrderID); err != nil {
				return err
			}
			r.caches.InvalidateOrders(r.rule.Symbol)
			if err := r.placeStepOrder(ctx, step, outstanding); err != nil {
				return err
			}
		}
	}

	// Orphan cleanup: engine-owned sells that no longer match a live step.
	prefix := rulePrefix(r.rule.ID)
	entryID := entryClientID(r.rule.ID)
	stopID := stopClientID(r.rule.ID)
	for _, o := range orders {
		if o.Side != types.SideSell || !strings.HasPrefix(o.ClientOrderID, prefix) {
			continue
		}
		if o.ClientOrderID == entryID || o.ClientOrderID == stopID || live[o.ClientOrderID] {
			continue
		}
		logger.Infof("strategy: rule %s cancelling orphan sell %s", r.rule.ID, o.ClientOrderID)
		if err := r.client.CancelOrder(ctx, r.rule.Symbol, o.OrderID); err != nil {
			return err
		}
		r.caches.InvalidateOrders(r.rule.Symbol)
	}
	return nil
}

func (r *ruleRun) placeStepOrder(ctx context.Context, step *types.TakeProfitStep, outstanding float64) error {
	_, err := r.client.PlaceLimitOrder(ctx, exchange.LimitOrderRequest{
		Symbol:        r.rule.Symbol,
		Side:          types.SideSell,
		Quantity:      outstanding,
		Price:         step.TargetPrice,
		MakerOnly:     true,
		ClientOrderID: step.ClientOrderID,
	})
	if err != nil {
		return err
	}
	r.caches.InvalidateOrders(r.rule.Symbol)
	r.orderSucceeded(ctx)
	logger.Infof("strategy: rule %s step %s placed %.10f @ %.8f", r.rule.ID, step.ID, outstanding, step.TargetPrice)
	return nil
}

func (r *ruleRun) cancelPlanOrders(ctx context.Context) error {
	orders, err := r.caches.openOrders(ctx, r.client, r.rule.Symbol)
	if err != nil {
		return err
	}
	for i := range r.state.TakeProfitPlan {
		step := &r.state.TakeProfitPlan[i]
		if existing := findByClientID(orders, step.ClientOrderID); existing != nil {
			if err := r.client.CancelOrder(ctx, r.rule.Symbol, existing.OrderID); err != nil {
				return err
			}
			r.caches.InvalidateOrders(r.rule.Symbol)
		}
	}
	return nil
}

// syncStopOrder converges the protective stop. The desired trigger is the
// higher of the fixed stop-loss and the trailing stop.
func (r *ruleRun) syncStopOrder(ctx context.Context) error {
	st := r.state
	orders, err := r.caches.openOrders(ctx, r.client, r.rule.Symbol)
	if err != nil {
		return err
	}
	clientID := stopClientID(r.rule.ID)
	existing := findByClientID(orders, clientID)
	qty := trading.FloorToStep(st.RemainingQty, r.filters.StepSize)

	wantStop := st.StopLossPct > 0 || st.TrailingStopPct > 0
	if !wantStop || qty < trading.StepValue(r.filters.MinQty) {
		if existing != nil {
			if err := r.client.CancelOrder(ctx, r.rule.Symbol, existing.OrderID); err != nil {
				return err
			}
			r.caches.InvalidateOrders(r.rule.Symbol)
		}
		st.StopOrder = nil
		return nil
	}

	desired := 0.0
	if st.StopLossPct > 0 {
		desired = st.EntryPrice * (1 - st.StopLossPct/100)
	}
	if st.TrailingStopPct > 0 && st.TrailingStopPrice > desired {
		desired = st.TrailingStopPrice
	}
	stopPrice := trading.RoundToTick(desired, r.filters.TickSize)
	if stopPrice <= 0 {
		return nil
	}
	limitPrice := trading.RoundToTick(stopPrice*(1-sellDriftPct/100), r.filters.TickSize)

	if existing == nil {
		return r.placeStopOrder(ctx, clientID, qty, stopPrice, limitPrice)
	}

	lot := trading.StepValue(r.filters.StepSize)
	qtyChanged := existing.OrigQty-qty > lot/2 || qty-existing.OrigQty > lot/2
	if driftPct(existing.StopPrice, stopPrice) > sellDriftPct || qtyChanged {
		logger.Infof("strategy: rule %s stop drifted %.8f -> %.8f, replacing", r.rule.ID, existing.StopPrice, stopPrice)
		if err := r.client.CancelOrder(ctx, r.rule.Symbol, existing.OrderID); err != nil {
			return err
		}
		r.caches.InvalidateOrders(r.rule.Symbol)
		return r.placeStopOrder(ctx, clientID, qty, stopPrice, limitPrice)
	}
	return nil
}

func (r *ruleRun) placeStopOrder(ctx context.Context, clientID string, qty, stopPrice, limitPrice float64) error {
	_, err := r.client.PlaceStopLimitOrder(ctx, exchange.StopLimitOrderRequest{
		Symbol:        r.rule.Symbol,
		Side:          types.SideSell,
		Quantity:      qty,
		StopPrice:     stopPrice,
		LimitPrice:    limitPrice,
		ClientOrderID: clientID,
	})
	if err != nil {
		return err
	}
	r.caches.InvalidateOrders(r.rule.Symbol)
	r.orderSucceeded(ctx)
	r.state.StopOrder = &types.StopOrder{
		ClientOrderID: clientID,
		StopPrice:     stopPrice,
		LimitPrice:    limitPrice,
	}
	logger.Infof("strategy: rule %s stop placed %.10f @ stop %.8f", r.rule.ID, qty, stopPrice)
	return nil
}
