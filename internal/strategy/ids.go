package strategy

import (
	"fmt"
	"strings"

	"dipbot/internal/types"
)

// Engine-owned orders are recognized across ticks by deterministic
// client-assigned ids derived from the rule id, never by exchange order ids.
const clientIDPrefix = "dip-"

// ruleTag compresses a rule id into the 8-character slug used in client ids.
func ruleTag(ruleID string) string {
	s := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(ruleID), "-", ""))
	if len(s) > 8 {
		s = s[:8]
	}
	return s
}

func rulePrefix(ruleID string) string {
	return clientIDPrefix + ruleTag(ruleID) + "-"
}

func entryClientID(ruleID string) string {
	return rulePrefix(ruleID) + "b"
}

func stepClientID(ruleID string, idx int) string {
	return fmt.Sprintf("%ss%d", rulePrefix(ruleID), idx)
}

func stopClientID(ruleID string) string {
	return rulePrefix(ruleID) + "x"
}

func findByClientID(orders []types.Order, clientID string) *types.Order {
	for i := range orders {
		if orders[i].ClientOrderID == clientID {
			return &orders[i]
		}
	}
	return nil
}
