package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dipbot/internal/store/gormstore"
	"dipbot/internal/types"
)

func TestCalculatePerformanceMetrics(t *testing.T) {
	t.Run("one win one loss", func(t *testing.T) {
		m := CalculatePerformanceMetrics([]TradeResult{{Profit: 10}, {Profit: -2}})
		assert.Equal(t, 2, m.TotalTrades)
		assert.Equal(t, 1, m.Wins)
		assert.Equal(t, 1, m.Losses)
		assert.InDelta(t, 8.0, m.TotalProfit, 1e-9)
		assert.InDelta(t, 50.0, m.WinRate, 1e-9)
		assert.InDelta(t, 4.0, m.AvgProfit, 1e-9)
		assert.InDelta(t, 5.0, m.ProfitFactor, 1e-9)
		assert.InDelta(t, 2.0, m.MaxDrawdown, 1e-9)
	})

	t.Run("empty", func(t *testing.T) {
		m := CalculatePerformanceMetrics(nil)
		assert.Equal(t, 0, m.TotalTrades)
		assert.Equal(t, 0.0, m.TotalProfit)
		assert.Equal(t, 0.0, m.WinRate)
	})

	t.Run("break-even counts as loss", func(t *testing.T) {
		m := CalculatePerformanceMetrics([]TradeResult{{Profit: 0}})
		assert.Equal(t, 0, m.Wins)
		assert.Equal(t, 1, m.Losses)
		assert.InDelta(t, 0.0, m.WinRate, 1e-9)
	})

	t.Run("all winners have no profit factor", func(t *testing.T) {
		m := CalculatePerformanceMetrics([]TradeResult{{Profit: 1}, {Profit: 2}})
		assert.Equal(t, 0.0, m.ProfitFactor)
		assert.Equal(t, 0.0, m.MaxDrawdown)
		assert.InDelta(t, 100.0, m.WinRate, 1e-9)
	})

	t.Run("drawdown is peak to trough", func(t *testing.T) {
		m := CalculatePerformanceMetrics([]TradeResult{
			{Profit: 10}, {Profit: -4}, {Profit: -3}, {Profit: 12},
		})
		assert.InDelta(t, 7.0, m.MaxDrawdown, 1e-9)
		assert.InDelta(t, 15.0, m.TotalProfit, 1e-9)
	})
}

func TestResultFromState(t *testing.T) {
	closedAt := time.Now()

	open := &types.PositionState{Active: true}
	_, ok := ResultFromState("u1", "r1", open)
	assert.False(t, ok)

	closed := &types.PositionState{
		Symbol:        "BTCUSDT",
		RealizedQuote: 90.81,
		QuoteSpent:    89.1,
		ClosedAt:      &closedAt,
	}
	res, ok := ResultFromState("u1", "r1", closed)
	require.True(t, ok)
	assert.InDelta(t, 1.71, res.Profit, 1e-9)
	assert.Equal(t, "BTCUSDT", res.Symbol)
}

func TestSummarizeClosedPositionsFiltersByUser(t *testing.T) {
	closedAt := time.Now()
	records := []gormstore.StateRecord{
		{UserID: "u1", RuleID: "r1", State: &types.PositionState{RealizedQuote: 110, QuoteSpent: 100, ClosedAt: &closedAt}},
		{UserID: "u2", RuleID: "r2", State: &types.PositionState{RealizedQuote: 98, QuoteSpent: 100, ClosedAt: &closedAt}},
		{UserID: "u1", RuleID: "r3", State: &types.PositionState{Active: true}},
	}

	all := SummarizeClosedPositions(records, "")
	assert.Equal(t, 2, all.TotalTrades)
	assert.InDelta(t, 8.0, all.TotalProfit, 1e-9)

	u1 := SummarizeClosedPositions(records, "u1")
	assert.Equal(t, 1, u1.TotalTrades)
	assert.InDelta(t, 10.0, u1.TotalProfit, 1e-9)
}
