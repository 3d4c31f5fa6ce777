package strategy

import (
	"fmt"

	"dipbot/internal/pkg/trading"
	"dipbot/internal/types"
)

// fallbackProfitPct is used when a ladder collapses entirely and a synthetic
// single-step plan has to be invented.
const fallbackProfitPct = 2.0

// buildLadder turns the rule's exit intent into a concrete take-profit plan
// for a filled quantity. Step quantities are floored to the lot step and the
// rounding remainder lands on the last step, so the plan always sums to the
// filled quantity within one lot step.
func buildLadder(rule types.Rule, filters types.SymbolFilters, entryPrice, filledQty float64) []types.TakeProfitStep {
	if entryPrice <= 0 || filledQty <= 0 {
		return nil
	}
	source := rule.TakeProfitSteps
	if len(source) == 0 {
		source = []types.TakeProfitStep{synthesizeStep(rule, entryPrice)}
	}

	stepSize := filters.StepSize
	lot := trading.StepValue(stepSize)
	tickValue := trading.StepValue(filters.TickSize)

	plan := make([]types.TakeProfitStep, 0, len(source))
	assigned := 0.0
	for i, src := range source {
		price := src.AbsolutePrice
		if price <= 0 {
			price = entryPrice * (1 + src.ProfitPct/100)
		}
		price = trading.RoundToTick(price, filters.TickSize)
		// Targets must sit strictly above entry or the step sells at a loss.
		if price <= entryPrice {
			price = trading.RoundToTick(entryPrice+tickValue, filters.TickSize)
		}
		if price <= 0 {
			continue
		}
		qty := trading.FloorToStep(filledQty*src.PortionPct/100, stepSize)
		step := src
		step.TargetPrice = price
		step.Quantity = qty
		step.FilledQuantity = 0
		step.BaseAsset = filters.BaseAsset
		step.QuoteAsset = filters.QuoteAsset
		if step.ID == "" {
			step.ID = fmt.Sprintf("tp-%d", i+1)
		}
		plan = append(plan, step)
		assigned += qty
	}

	if remainder := trading.FloorToStep(filledQty-assigned, stepSize); remainder > 0 {
		if len(plan) > 0 {
			plan[len(plan)-1].Quantity += remainder
		} else {
			step := synthesizeStep(rule, entryPrice)
			step.ProfitPct = fallbackProfitPct
			step.TargetPrice = trading.RoundToTick(entryPrice*(1+fallbackProfitPct/100), filters.TickSize)
			step.Quantity = remainder
			step.ID = "tp-1"
			step.BaseAsset = filters.BaseAsset
			step.QuoteAsset = filters.QuoteAsset
			plan = append(plan, step)
		}
	}

	// Drop dust steps after remainder reallocation.
	kept := plan[:0]
	for i, step := range plan {
		if step.Quantity < lot || step.TargetPrice <= 0 {
			continue
		}
		step.ClientOrderID = stepClientID(rule.ID, i+1)
		kept = append(kept, step)
	}
	return kept
}

// synthesizeStep derives a single 100%-portion step from the rule's scalar
// exit target.
func synthesizeStep(rule types.Rule, entryPrice float64) types.TakeProfitStep {
	step := types.TakeProfitStep{PortionPct: 100}
	switch {
	case rule.Type == types.RuleTypeAI && rule.ExitPrice > 0 && entryPrice > 0:
		step.ProfitPct = (rule.ExitPrice/entryPrice - 1) * 100
		step.AbsolutePrice = rule.ExitPrice
	case rule.TPPct > 0:
		step.ProfitPct = rule.TPPct
	default:
		step.ProfitPct = fallbackProfitPct
	}
	return step
}

// distributeFill spreads a sold quantity across the plan front to back,
// respecting each step's own outstanding amount.
func distributeFill(plan []types.TakeProfitStep, qty float64) {
	remaining := qty
	for i := range plan {
		if remaining <= 0 {
			return
		}
		outstanding := plan[i].Quantity - plan[i].FilledQuantity
		if outstanding <= 0 {
			continue
		}
		take := outstanding
		if take > remaining {
			take = remaining
		}
		plan[i].FilledQuantity += take
		remaining -= take
	}
}
