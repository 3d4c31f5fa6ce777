// Package analytics summarizes realized trading performance from closed
// positions.
package analytics

import (
	"math"
	"time"

	"dipbot/internal/store/gormstore"
	"dipbot/internal/types"
)

// TradeResult is the realized outcome of one closed position, in quote
// currency.
type TradeResult struct {
	UserID   string     `json:"user_id,omitempty"`
	RuleID   string     `json:"rule_id,omitempty"`
	Symbol   string     `json:"symbol,omitempty"`
	Profit   float64    `json:"profit"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// PerformanceMetrics aggregates realized results.
type PerformanceMetrics struct {
	TotalTrades  int     `json:"total_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	TotalProfit  float64 `json:"total_profit"`
	WinRate      float64 `json:"win_rate"`
	AvgProfit    float64 `json:"avg_profit"`
	ProfitFactor float64 `json:"profit_factor"`
	MaxDrawdown  float64 `json:"max_drawdown"`
}

// CalculatePerformanceMetrics folds realized results into summary figures.
// WinRate is a percentage; a break-even trade counts as a loss. ProfitFactor
// is gross profit over gross loss, 0 when there are no losing trades.
// MaxDrawdown is the deepest peak-to-trough dip of the cumulative profit
// curve, in quote currency.
func CalculatePerformanceMetrics(results []TradeResult) PerformanceMetrics {
	m := PerformanceMetrics{TotalTrades: len(results)}
	if len(results) == 0 {
		return m
	}

	var grossProfit, grossLoss float64
	var cum, peak float64
	for _, r := range results {
		m.TotalProfit += r.Profit
		if r.Profit > 0 {
			m.Wins++
			grossProfit += r.Profit
		} else {
			m.Losses++
			grossLoss += -r.Profit
		}
		cum += r.Profit
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
	}

	m.WinRate = float64(m.Wins) / float64(m.TotalTrades) * 100
	m.AvgProfit = m.TotalProfit / float64(m.TotalTrades)
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	}
	return m
}

// ResultFromState extracts a realized result from a closed position. Profit is
// realized proceeds minus quote spent on entry. Open positions yield false.
func ResultFromState(userID, ruleID string, state *types.PositionState) (TradeResult, bool) {
	if state == nil || state.Active || state.ClosedAt == nil {
		return TradeResult{}, false
	}
	profit := state.RealizedQuote - state.QuoteSpent
	if math.IsNaN(profit) || math.IsInf(profit, 0) {
		return TradeResult{}, false
	}
	return TradeResult{
		UserID:   userID,
		RuleID:   ruleID,
		Symbol:   state.Symbol,
		Profit:   profit,
		ClosedAt: state.ClosedAt,
	}, true
}

// SummarizeClosedPositions builds metrics from the persisted state records,
// optionally filtered to one user.
func SummarizeClosedPositions(records []gormstore.StateRecord, userID string) PerformanceMetrics {
	results := make([]TradeResult, 0, len(records))
	for _, rec := range records {
		if userID != "" && rec.UserID != userID {
			continue
		}
		if res, ok := ResultFromState(rec.UserID, rec.RuleID, rec.State); ok {
			results = append(results, res)
		}
	}
	return CalculatePerformanceMetrics(results)
}
