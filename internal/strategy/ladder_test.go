package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dipbot/internal/types"
)

func TestBuildLadderExplicitSteps(t *testing.T) {
	rule := manualRule()
	rule.TakeProfitSteps = []types.TakeProfitStep{
		{ProfitPct: 1.0, PortionPct: 50},
		{ProfitPct: 2.5, PortionPct: 50},
	}
	plan := buildLadder(rule, btcFilters(), 30000, 0.003)

	require.Len(t, plan, 2)
	assert.InDelta(t, 30300.0, plan[0].TargetPrice, 1e-9)
	assert.InDelta(t, 30750.0, plan[1].TargetPrice, 1e-9)
	assert.InDelta(t, 0.0015, plan[0].Quantity, 1e-12)
	assert.InDelta(t, 0.0015, plan[1].Quantity, 1e-12)
	assert.Equal(t, stepClientID(rule.ID, 1), plan[0].ClientOrderID)
	assert.Equal(t, stepClientID(rule.ID, 2), plan[1].ClientOrderID)

	total := 0.0
	for _, s := range plan {
		total += s.Quantity
	}
	assert.InDelta(t, 0.003, total, 1e-12)
}

func TestBuildLadderRemainderLandsOnLastStep(t *testing.T) {
	rule := manualRule()
	rule.TakeProfitSteps = []types.TakeProfitStep{
		{ProfitPct: 1.0, PortionPct: 50},
		{ProfitPct: 2.0, PortionPct: 50},
	}
	filters := btcFilters()
	filters.StepSize = "0.001"
	filters.MinQty = "0.001"

	// 50% of 0.005 floors to 0.002 per step; the 0.001 remainder must not be
	// stranded.
	plan := buildLadder(rule, filters, 30000, 0.005)
	require.Len(t, plan, 2)
	assert.InDelta(t, 0.002, plan[0].Quantity, 1e-12)
	assert.InDelta(t, 0.003, plan[1].Quantity, 1e-12)
}

func TestBuildLadderSynthesizesFromScalarTargets(t *testing.T) {
	t.Run("tp pct", func(t *testing.T) {
		rule := manualRule()
		rule.TPPct = 3.0
		plan := buildLadder(rule, btcFilters(), 30000, 0.003)
		require.Len(t, plan, 1)
		assert.InDelta(t, 30900.0, plan[0].TargetPrice, 1e-9)
		assert.InDelta(t, 0.003, plan[0].Quantity, 1e-12)
	})

	t.Run("ai absolute exit price", func(t *testing.T) {
		rule := manualRule()
		rule.Type = types.RuleTypeAI
		rule.ExitPrice = 31500
		plan := buildLadder(rule, btcFilters(), 30000, 0.003)
		require.Len(t, plan, 1)
		assert.InDelta(t, 31500.0, plan[0].TargetPrice, 1e-9)
	})
}

func TestBuildLadderClampsTargetAboveEntry(t *testing.T) {
	rule := manualRule()
	rule.TakeProfitSteps = []types.TakeProfitStep{{ProfitPct: -1.0, PortionPct: 100}}
	plan := buildLadder(rule, btcFilters(), 30000, 0.003)
	require.Len(t, plan, 1)
	assert.Greater(t, plan[0].TargetPrice, 30000.0)
}

func TestBuildLadderDropsDustSteps(t *testing.T) {
	rule := manualRule()
	rule.TakeProfitSteps = []types.TakeProfitStep{
		{ProfitPct: 1.0, PortionPct: 1}, // 1% of 0.003 is below one lot
		{ProfitPct: 2.0, PortionPct: 99},
	}
	filters := btcFilters()
	filters.StepSize = "0.001"

	plan := buildLadder(rule, filters, 30000, 0.003)
	require.Len(t, plan, 1)
	assert.InDelta(t, 0.003, plan[0].Quantity, 1e-12)
}

func TestBuildLadderEmptyOnDegenerateInput(t *testing.T) {
	rule := manualRule()
	assert.Nil(t, buildLadder(rule, btcFilters(), 0, 0.003))
	assert.Nil(t, buildLadder(rule, btcFilters(), 30000, 0))
}

func TestDistributeFillFrontToBack(t *testing.T) {
	plan := []types.TakeProfitStep{
		{Quantity: 0.001},
		{Quantity: 0.002},
	}
	distributeFill(plan, 0.0015)
	assert.InDelta(t, 0.001, plan[0].FilledQuantity, 1e-12)
	assert.InDelta(t, 0.0005, plan[1].FilledQuantity, 1e-12)

	distributeFill(plan, 0.0015)
	assert.InDelta(t, 0.001, plan[0].FilledQuantity, 1e-12)
	assert.InDelta(t, 0.002, plan[1].FilledQuantity, 1e-12)
}
