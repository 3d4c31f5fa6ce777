package types

import (
	"time"
)

// StateVersion is bumped whenever the persisted layout changes. A loaded state
// with a different version is discarded; there is no migration path.
const StateVersion = 3

// ProcessedTradeCap bounds the dedupe ring. It is a guard against reprocessing
// recent fills, not a full trade ledger.
const ProcessedTradeCap = 50

// StopOrder is the resting protective stop, if any.
type StopOrder struct {
	ClientOrderID string  `json:"client_order_id"`
	StopPrice     float64 `json:"stop_price"`
	LimitPrice    float64 `json:"limit_price"`
}

// PositionState is the persisted snapshot of one rule's open (or retained
// closed) position. The strategy engine is its sole writer; the state store is
// its durable owner.
type PositionState struct {
	Version int    `json:"version"`
	RuleID  string `json:"rule_id"`
	Symbol  string `json:"symbol"`
	Active  bool   `json:"active"`

	LastBuyTradeID int64   `json:"last_buy_trade_id"`
	EntryPrice     float64 `json:"entry_price"`
	BaseQty        float64 `json:"base_qty"`
	QuoteSpent     float64 `json:"quote_spent"`
	RemainingQty   float64 `json:"remaining_qty"`

	StopLossPct       float64    `json:"stop_loss_pct,omitempty"`
	TrailingStopPct   float64    `json:"trailing_stop_pct,omitempty"`
	TrailingPeakPrice float64    `json:"trailing_peak_price,omitempty"`
	TrailingStopPrice float64    `json:"trailing_stop_price,omitempty"`
	StopOrder         *StopOrder `json:"stop_order,omitempty"`

	TakeProfitPlan []TakeProfitStep `json:"take_profit_plan"`

	ProcessedTradeIDs []int64 `json:"processed_trade_ids"`

	OpenedAt      time.Time  `json:"opened_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	RealizedQuote float64    `json:"realized_quote"`
	LastUpdated   time.Time  `json:"last_updated"`
}

// TradeProcessed reports whether a trade id is already in the dedupe ring.
func (p *PositionState) TradeProcessed(id int64) bool {
	if p == nil {
		return false
	}
	for _, v := range p.ProcessedTradeIDs {
		if v == id {
			return true
		}
	}
	return false
}

// MarkTradeProcessed appends to the ring, evicting the oldest entry once the
// cap is reached.
func (p *PositionState) MarkTradeProcessed(id int64) {
	if p == nil || p.TradeProcessed(id) {
		return
	}
	p.ProcessedTradeIDs = append(p.ProcessedTradeIDs, id)
	if n := len(p.ProcessedTradeIDs); n > ProcessedTradeCap {
		p.ProcessedTradeIDs = p.ProcessedTradeIDs[n-ProcessedTradeCap:]
	}
}

// Close marks the position terminal.
func (p *PositionState) Close(at time.Time) {
	p.RemainingQty = 0
	p.Active = false
	t := at
	p.ClosedAt = &t
}
