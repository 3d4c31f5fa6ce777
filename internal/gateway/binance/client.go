// Package binance adapts the go-binance spot SDK to the exchange.Client
// surface the strategy engine consumes.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"dipbot/internal/gateway/exchange"
	"dipbot/internal/pkg/convert"
	"dipbot/internal/pkg/symbol"
	"dipbot/internal/types"
)

const defaultTradeLimit = 50

// Config carries transport-level options shared by every per-user client.
type Config struct {
	RESTBaseURL string
	ProxyURL    string
	HTTPTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	return c
}

// Factory builds authenticated spot clients from cached credentials.
type Factory struct {
	cfg Config
}

func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg.withDefaults()}
}

var _ exchange.Factory = (*Factory)(nil)

func (f *Factory) NewClient(creds types.Credentials) (exchange.Client, error) {
	if !creds.Valid() {
		return nil, fmt.Errorf("binance: credentials are incomplete")
	}
	cli := binance.NewClient(creds.APIKey, creds.APISecret)
	if base := strings.TrimSpace(f.cfg.RESTBaseURL); base != "" {
		cli.BaseURL = base
	}
	httpClient := &http.Client{Timeout: f.cfg.HTTPTimeout}
	if proxy := strings.TrimSpace(f.cfg.ProxyURL); proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("binance: invalid proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("binance: http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	cli.HTTPClient = httpClient
	return &Client{api: cli}, nil
}

// Client is one user's authenticated spot session.
type Client struct {
	api *binance.Client
}

var _ exchange.Client = (*Client)(nil)

// CurrentPrice prefers the ticker price and falls back to the rolling
// averaged price when the ticker is unavailable or degenerate.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = cleanSymbol(symbol)
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err == nil {
		for _, p := range prices {
			if p == nil {
				continue
			}
			if v := convert.Float(p.Price); v > 0 {
				return v, nil
			}
		}
	}
	avg, avgErr := c.api.NewAveragePriceService().Symbol(symbol).Do(ctx)
	if avgErr != nil {
		if err != nil {
			return 0, wrapErr(err)
		}
		return 0, wrapErr(avgErr)
	}
	v := convert.Float(avg.Price)
	if v <= 0 {
		return 0, fmt.Errorf("binance: no usable price for %s", symbol)
	}
	return v, nil
}

func (c *Client) SymbolFilters(ctx context.Context, symbol string) (types.SymbolFilters, error) {
	symbol = cleanSymbol(symbol)
	info, err := c.api.NewExchangeInfoService().Symbols(symbol).Do(ctx)
	if err != nil {
		return types.SymbolFilters{}, wrapErr(err)
	}
	for _, s := range info.Symbols {
		if !strings.EqualFold(s.Symbol, symbol) {
			continue
		}
		out := types.SymbolFilters{
			Symbol:     symbol,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
		}
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "LOT_SIZE":
				out.StepSize = asString(f["stepSize"])
				out.MinQty = asString(f["minQty"])
			case "PRICE_FILTER":
				out.TickSize = asString(f["tickSize"])
			case "NOTIONAL", "MIN_NOTIONAL":
				if v := asString(f["minNotional"]); v != "" {
					out.MinNotional = v
				}
			}
		}
		return out, nil
	}
	return types.SymbolFilters{}, fmt.Errorf("binance: symbol %s not found in exchange info", symbol)
}

func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	orders, err := c.api.NewListOpenOrdersService().Symbol(cleanSymbol(symbol)).Do(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]types.Order, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		out = append(out, types.Order{
			OrderID:       o.OrderID,
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Side:          string(o.Side),
			Type:          string(o.Type),
			Price:         convert.Float(o.Price),
			StopPrice:     convert.Float(o.StopPrice),
			OrigQty:       convert.Float(o.OrigQuantity),
			ExecutedQty:   convert.Float(o.ExecutedQuantity),
		})
	}
	return out, nil
}

func (c *Client) RecentTrades(ctx context.Context, symbol string, limit int) ([]types.Trade, error) {
	if limit <= 0 {
		limit = defaultTradeLimit
	}
	trades, err := c.api.NewListTradesService().Symbol(cleanSymbol(symbol)).Limit(limit).Do(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]types.Trade, 0, len(trades))
	for _, t := range trades {
		if t == nil {
			continue
		}
		out = append(out, types.Trade{
			ID:              t.ID,
			OrderID:         t.OrderID,
			Symbol:          t.Symbol,
			Price:           convert.Float(t.Price),
			Qty:             convert.Float(t.Quantity),
			QuoteQty:        convert.Float(t.QuoteQuantity),
			Commission:      convert.Float(t.Commission),
			CommissionAsset: t.CommissionAsset,
			IsBuyer:         t.IsBuyer,
			Time:            t.Time,
		})
	}
	return out, nil
}

func (c *Client) PlaceLimitOrder(ctx context.Context, req exchange.LimitOrderRequest) (*types.Order, error) {
	svc := c.api.NewCreateOrderService().
		Symbol(cleanSymbol(req.Symbol)).
		Side(binance.SideType(req.Side)).
		Quantity(formatDecimal(req.Quantity)).
		Price(formatDecimal(req.Price))
	if req.MakerOnly {
		svc = svc.Type(binance.OrderTypeLimitMaker)
	} else {
		svc = svc.Type(binance.OrderTypeLimit).TimeInForce(binance.TimeInForceTypeGTC)
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &types.Order{
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Side:          string(res.Side),
		Type:          string(res.Type),
		Price:         convert.Float(res.Price),
		OrigQty:       convert.Float(res.OrigQuantity),
		ExecutedQty:   convert.Float(res.ExecutedQuantity),
	}, nil
}

func (c *Client) PlaceStopLimitOrder(ctx context.Context, req exchange.StopLimitOrderRequest) (*types.Order, error) {
	svc := c.api.NewCreateOrderService().
		Symbol(cleanSymbol(req.Symbol)).
		Side(binance.SideType(req.Side)).
		Type(binance.OrderTypeStopLossLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(formatDecimal(req.Quantity)).
		StopPrice(formatDecimal(req.StopPrice)).
		Price(formatDecimal(req.LimitPrice))
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &types.Order{
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Side:          string(res.Side),
		Type:          string(res.Type),
		Price:         convert.Float(res.Price),
		StopPrice:     req.StopPrice,
		OrigQty:       convert.Float(res.OrigQuantity),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	_, err := c.api.NewCancelOrderService().Symbol(cleanSymbol(symbol)).OrderID(orderID).Do(ctx)
	if err != nil {
		return wrapErr(err)
	}
	return nil
}

func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	kls, err := c.api.NewKlinesService().
		Symbol(cleanSymbol(symbol)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]types.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, types.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      convert.Float(kl.Open),
			High:      convert.Float(kl.High),
			Low:       convert.Float(kl.Low),
			Close:     convert.Float(kl.Close),
			Volume:    convert.Float(kl.Volume),
		})
	}
	return out, nil
}

func cleanSymbol(s string) string {
	return symbol.Canonical(s)
}

func formatDecimal(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// wrapErr maps binance API rejections onto the engine's error taxonomy so the
// caller can tell actionable codes from transient ones.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	msg := apiErr.Message
	lower := strings.ToLower(msg)
	code := ""
	switch {
	case apiErr.Code == -1003:
		code = exchange.CodeRateLimited
	case strings.Contains(lower, "not whitelisted"), strings.Contains(lower, "not permitted"),
		apiErr.Code == -1121:
		code = exchange.CodeSymbolNotWhitelisted
	case strings.Contains(lower, "insufficient balance"):
		code = exchange.CodeInsufficientBalance
	}
	return &exchange.APIError{Code: code, Message: fmt.Sprintf("binance %d: %s", apiErr.Code, msg)}
}
