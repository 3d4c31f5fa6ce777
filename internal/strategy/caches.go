package strategy

import (
	"context"
	"fmt"

	"dipbot/internal/gateway/exchange"
	"dipbot/internal/indicator"
	"dipbot/internal/logger"
	"dipbot/internal/types"
)

// TickCaches holds the short-lived exchange reads shared by all rules in one
// batch. The worker creates one per batch and drops it afterwards; nothing in
// here survives a tick.
type TickCaches struct {
	Filters    map[string]types.SymbolFilters
	Prices     map[string]float64
	OpenOrders map[string][]types.Order
	Trades     map[string][]types.Trade
	Indicators map[string]indicator.Snapshot
}

func NewTickCaches() *TickCaches {
	return &TickCaches{
		Filters:    make(map[string]types.SymbolFilters),
		Prices:     make(map[string]float64),
		OpenOrders: make(map[string][]types.Order),
		Trades:     make(map[string][]types.Trade),
		Indicators: make(map[string]indicator.Snapshot),
	}
}

// InvalidateOrders drops the cached open orders for a symbol after the engine
// mutated them.
func (c *TickCaches) InvalidateOrders(symbol string) {
	delete(c.OpenOrders, symbol)
}

func (c *TickCaches) filters(ctx context.Context, client exchange.Client, symbol string) (types.SymbolFilters, error) {
	if f, ok := c.Filters[symbol]; ok {
		return f, nil
	}
	f, err := client.SymbolFilters(ctx, symbol)
	if err != nil {
		return types.SymbolFilters{}, fmt.Errorf("fetch filters for %s: %w", symbol, err)
	}
	c.Filters[symbol] = f
	return f, nil
}

func (c *TickCaches) price(ctx context.Context, client exchange.Client, symbol string) (float64, error) {
	if p, ok := c.Prices[symbol]; ok {
		return p, nil
	}
	p, err := client.CurrentPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("fetch price for %s: %w", symbol, err)
	}
	c.Prices[symbol] = p
	return p, nil
}

func (c *TickCaches) openOrders(ctx context.Context, client exchange.Client, symbol string) ([]types.Order, error) {
	if o, ok := c.OpenOrders[symbol]; ok {
		return o, nil
	}
	o, err := client.OpenOrders(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch open orders for %s: %w", symbol, err)
	}
	c.OpenOrders[symbol] = o
	return o, nil
}

func (c *TickCaches) recentTrades(ctx context.Context, client exchange.Client, symbol string) ([]types.Trade, error) {
	if t, ok := c.Trades[symbol]; ok {
		return t, nil
	}
	t, err := client.RecentTrades(ctx, symbol, tradeScanLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch trades for %s: %w", symbol, err)
	}
	c.Trades[symbol] = t
	return t, nil
}

// snapshot computes the indicator snapshot for (symbol, interval) at most once
// per batch. A candle fetch failure yields an empty snapshot; the gates decide
// what missing data means.
func (c *TickCaches) snapshot(ctx context.Context, client exchange.Client, symbol string, set *types.IndicatorSettings) indicator.Snapshot {
	if set == nil {
		return indicator.Snapshot{}
	}
	key := symbol + "|" + set.Interval
	if snap, ok := c.Indicators[key]; ok {
		return snap
	}
	limit := indicator.MinCandles(set)
	candles, err := client.Candles(ctx, symbol, set.Interval, limit)
	if err != nil {
		logger.Warnf("strategy: candles %s %s unavailable: %v", symbol, set.Interval, err)
		c.Indicators[key] = indicator.Snapshot{}
		return indicator.Snapshot{}
	}
	closes := make([]float64, 0, len(candles))
	for _, cd := range candles {
		closes = append(closes, cd.Close)
	}
	snap := indicator.Compute(closes, set)
	c.Indicators[key] = snap
	return snap
}
