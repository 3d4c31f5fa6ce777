package types

// SymbolFilters are the per-symbol order constraints published by the
// exchange. Quantities and prices the engine emits must be floored/rounded to
// these before use.
type SymbolFilters struct {
	Symbol      string `json:"symbol"`
	StepSize    string `json:"step_size"`
	MinQty      string `json:"min_qty"`
	TickSize    string `json:"tick_size"`
	MinNotional string `json:"min_notional"`
	BaseAsset   string `json:"base_asset"`
	QuoteAsset  string `json:"quote_asset"`
}

// Order is a resting exchange order as seen from openOrders.
type Order struct {
	OrderID       int64   `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Price         float64 `json:"price"`
	StopPrice     float64 `json:"stop_price,omitempty"`
	OrigQty       float64 `json:"orig_qty"`
	ExecutedQty   float64 `json:"executed_qty"`
}

// Trade is one execution from the account trade history.
type Trade struct {
	ID              int64   `json:"id"`
	OrderID         int64   `json:"order_id"`
	Symbol          string  `json:"symbol"`
	Price           float64 `json:"price"`
	Qty             float64 `json:"qty"`
	QuoteQty        float64 `json:"quote_qty"`
	Commission      float64 `json:"commission"`
	CommissionAsset string  `json:"commission_asset"`
	IsBuyer         bool    `json:"is_buyer"`
	Time            int64   `json:"time"` // unix millis
}

// Candle is one kline row.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)
