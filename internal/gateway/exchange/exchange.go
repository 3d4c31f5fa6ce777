// Package exchange defines the client surface the strategy engine consumes.
package exchange

import (
	"context"

	"dipbot/internal/types"
)

// Client is one user's authenticated spot-exchange session.
type Client interface {
	// CurrentPrice returns the latest traded price, falling back to an
	// averaged-price quote when the ticker feed is stale or unavailable.
	CurrentPrice(ctx context.Context, symbol string) (float64, error)

	SymbolFilters(ctx context.Context, symbol string) (types.SymbolFilters, error)

	OpenOrders(ctx context.Context, symbol string) ([]types.Order, error)

	// RecentTrades returns the account's most recent executions for the
	// symbol, newest last (exchange order).
	RecentTrades(ctx context.Context, symbol string, limit int) ([]types.Trade, error)

	PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*types.Order, error)

	PlaceStopLimitOrder(ctx context.Context, req StopLimitOrderRequest) (*types.Order, error)

	CancelOrder(ctx context.Context, symbol string, orderID int64) error

	Candles(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error)
}

// LimitOrderRequest places a resting limit order. MakerOnly maps to a
// post-only time in force where the venue supports it.
type LimitOrderRequest struct {
	Symbol        string
	Side          string
	Quantity      float64
	Price         float64
	MakerOnly     bool
	ClientOrderID string
}

// StopLimitOrderRequest places a stop-limit sell guarding a position.
type StopLimitOrderRequest struct {
	Symbol        string
	Side          string
	Quantity      float64
	StopPrice     float64
	LimitPrice    float64
	ClientOrderID string
}

// Factory builds a client from per-user credentials. The tick worker caches
// clients by user and rebuilds them when the credential fingerprint changes.
type Factory interface {
	NewClient(creds types.Credentials) (Client, error)
}
