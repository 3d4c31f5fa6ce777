// Package convert parses the decimal strings the exchange REST API returns.
package convert

import (
	"strconv"
	"strings"
)

// Float parses an exchange decimal string, returning 0 when the field is
// empty or malformed. Prices and quantities of zero are already sentinel
// values upstream, so the zero fallback is safe.
func Float(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
