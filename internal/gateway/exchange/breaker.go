package exchange

import (
	"context"
	"errors"
	"time"

	"dipbot/internal/pkg/circuit"
	"dipbot/internal/types"
)

// ErrCircuitOpen is returned while the breaker is cooling down. It is a
// transient transport condition, never an actionable user issue.
var ErrCircuitOpen = errors.New("exchange circuit open")

const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// BreakerFactory decorates another factory so every client shares one
// breaker per user session. Actionable errors (bad symbol, no balance) are
// the user's problem, not endpoint health, and do not trip the breaker.
type BreakerFactory struct {
	Inner Factory
}

func (f *BreakerFactory) NewClient(creds types.Credentials) (Client, error) {
	client, err := f.Inner.NewClient(creds)
	if err != nil {
		return nil, err
	}
	return &breakerClient{
		inner: client,
		cb:    circuit.NewBreaker("exchange", breakerThreshold, breakerCooldown),
	}, nil
}

type breakerClient struct {
	inner Client
	cb    *circuit.Breaker
}

var _ Client = (*breakerClient)(nil)

func (c *breakerClient) observe(err error) error {
	if err == nil {
		c.cb.RecordSuccess()
		return nil
	}
	if _, ok := Actionable(err); ok {
		// The endpoint answered; the rejection is the user's problem.
		c.cb.RecordSuccess()
		return err
	}
	c.cb.RecordFailure()
	return err
}

func (c *breakerClient) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if !c.cb.Allow() {
		return 0, ErrCircuitOpen
	}
	v, err := c.inner.CurrentPrice(ctx, symbol)
	return v, c.observe(err)
}

func (c *breakerClient) SymbolFilters(ctx context.Context, symbol string) (types.SymbolFilters, error) {
	if !c.cb.Allow() {
		return types.SymbolFilters{}, ErrCircuitOpen
	}
	v, err := c.inner.SymbolFilters(ctx, symbol)
	return v, c.observe(err)
}

func (c *breakerClient) OpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	if !c.cb.Allow() {
		return nil, ErrCircuitOpen
	}
	v, err := c.inner.OpenOrders(ctx, symbol)
	return v, c.observe(err)
}

func (c *breakerClient) RecentTrades(ctx context.Context, symbol string, limit int) ([]types.Trade, error) {
	if !c.cb.Allow() {
		return nil, ErrCircuitOpen
	}
	v, err := c.inner.RecentTrades(ctx, symbol, limit)
	return v, c.observe(err)
}

func (c *breakerClient) PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*types.Order, error) {
	if !c.cb.Allow() {
		return nil, ErrCircuitOpen
	}
	v, err := c.inner.PlaceLimitOrder(ctx, req)
	return v, c.observe(err)
}

func (c *breakerClient) PlaceStopLimitOrder(ctx context.Context, req StopLimitOrderRequest) (*types.Order, error) {
	if !c.cb.Allow() {
		return nil, ErrCircuitOpen
	}
	v, err := c.inner.PlaceStopLimitOrder(ctx, req)
	return v, c.observe(err)
}

func (c *breakerClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if !c.cb.Allow() {
		return ErrCircuitOpen
	}
	return c.observe(c.inner.CancelOrder(ctx, symbol, orderID))
}

func (c *breakerClient) Candles(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	if !c.cb.Allow() {
		return nil, ErrCircuitOpen
	}
	v, err := c.inner.Candles(ctx, symbol, interval, limit)
	return v, c.observe(err)
}
