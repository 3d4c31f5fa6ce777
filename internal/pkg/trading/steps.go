// Package trading provides exchange lot-size and tick-size arithmetic.
package trading

import (
	"strings"

	"github.com/shopspring/decimal"
)

// StepDecimals returns the number of decimal places implied by a step or tick
// string as reported by the exchange, e.g. "0.00100000" -> 3, "1" -> 0.
func StepDecimals(step string) int32 {
	step = strings.TrimSpace(step)
	d, err := decimal.NewFromString(step)
	if err != nil || d.IsZero() {
		return 8
	}
	s := d.String()
	idx := strings.IndexByte(s, '.')
	if idx < 0 {
		return 0
	}
	return int32(len(s) - idx - 1)
}

// FloorToStep truncates qty down to a multiple of the lot step. The precision
// comes from the step's string form, not from float epsilon, so the result is
// exactly what the exchange will accept.
func FloorToStep(qty float64, step string) float64 {
	d, err := decimal.NewFromString(strings.TrimSpace(step))
	if err != nil || d.Sign() <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	steps := q.Div(d).Truncate(0)
	out, _ := steps.Mul(d).Truncate(StepDecimals(step)).Float64()
	return out
}

// RoundToTick truncates price to the tick grid.
func RoundToTick(price float64, tick string) float64 {
	d, err := decimal.NewFromString(strings.TrimSpace(tick))
	if err != nil || d.Sign() <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	ticks := p.Div(d).Truncate(0)
	out, _ := ticks.Mul(d).Truncate(StepDecimals(tick)).Float64()
	return out
}

// StepValue parses the step string, returning 0 on garbage.
func StepValue(step string) float64 {
	d, err := decimal.NewFromString(strings.TrimSpace(step))
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// ApproxZero reports whether qty is at or below half a lot step, the point at
// which no further sell order can be placed for it.
func ApproxZero(qty float64, step string) bool {
	return qty <= StepValue(step)/2
}
