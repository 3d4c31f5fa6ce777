package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dipbot/internal/types"
)

type flakyClient struct {
	err   error
	calls int
}

func (c *flakyClient) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	c.calls++
	return 0, c.err
}

func (c *flakyClient) SymbolFilters(ctx context.Context, symbol string) (types.SymbolFilters, error) {
	c.calls++
	return types.SymbolFilters{}, c.err
}

func (c *flakyClient) OpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	c.calls++
	return nil, c.err
}

func (c *flakyClient) RecentTrades(ctx context.Context, symbol string, limit int) ([]types.Trade, error) {
	c.calls++
	return nil, c.err
}

func (c *flakyClient) PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*types.Order, error) {
	c.calls++
	return nil, c.err
}

func (c *flakyClient) PlaceStopLimitOrder(ctx context.Context, req StopLimitOrderRequest) (*types.Order, error) {
	c.calls++
	return nil, c.err
}

func (c *flakyClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	c.calls++
	return c.err
}

func (c *flakyClient) Candles(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	c.calls++
	return nil, c.err
}

type staticFactory struct {
	client Client
}

func (f staticFactory) NewClient(creds types.Credentials) (Client, error) {
	return f.client, nil
}

func wrap(t *testing.T, inner Client) Client {
	t.Helper()
	factory := &BreakerFactory{Inner: staticFactory{client: inner}}
	client, err := factory.NewClient(types.Credentials{APIKey: "k", APISecret: "s"})
	require.NoError(t, err)
	return client
}

func TestBreakerClientTripsOnTransportFailures(t *testing.T) {
	inner := &flakyClient{err: errors.New("connection reset")}
	client := wrap(t, inner)
	ctx := context.Background()

	for i := 0; i < breakerThreshold; i++ {
		_, err := client.CurrentPrice(ctx, "BTCUSDT")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, breakerThreshold, inner.calls)

	// Open: calls are refused without touching the endpoint.
	_, err := client.CurrentPrice(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, breakerThreshold, inner.calls)
}

func TestBreakerClientIgnoresActionableErrors(t *testing.T) {
	inner := &flakyClient{err: &APIError{Code: CodeInsufficientBalance, Message: "no funds"}}
	client := wrap(t, inner)
	ctx := context.Background()

	// Rejections that are the user's problem never trip the breaker.
	for i := 0; i < breakerThreshold*2; i++ {
		_, err := client.PlaceLimitOrder(ctx, LimitOrderRequest{Symbol: "BTCUSDT"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, breakerThreshold*2, inner.calls)
}

func TestBreakerClientRecoversOnSuccess(t *testing.T) {
	inner := &flakyClient{err: errors.New("timeout")}
	client := wrap(t, inner)
	ctx := context.Background()

	for i := 0; i < breakerThreshold-1; i++ {
		_, _ = client.OpenOrders(ctx, "BTCUSDT")
	}
	inner.err = nil
	_, err := client.OpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)

	// The failure streak reset; another burst is needed to trip.
	inner.err = errors.New("timeout")
	for i := 0; i < breakerThreshold-1; i++ {
		_, err := client.OpenOrders(ctx, "BTCUSDT")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
}

func TestActionable(t *testing.T) {
	code, ok := Actionable(&APIError{Code: CodeSymbolNotWhitelisted, Message: "nope"})
	assert.True(t, ok)
	assert.Equal(t, CodeSymbolNotWhitelisted, code)

	_, ok = Actionable(&APIError{Code: CodeRateLimited, Message: "slow down"})
	assert.False(t, ok)

	_, ok = Actionable(errors.New("plain"))
	assert.False(t, ok)
}
