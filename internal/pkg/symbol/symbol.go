// Package symbol parses and normalizes spot trading pair names. Rules may
// name pairs either as "BTC/USDT" or in the exchange's concatenated form.
package symbol

import "strings"

type Symbol struct {
	Base  string
	Quote string
}

// Pair returns the slash-separated form, e.g. "BTC/USDT".
func (s Symbol) Pair() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Exchange returns the concatenated venue form, e.g. "BTCUSDT".
func (s Symbol) Exchange() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// quoteAssets are tried longest-suffix-first when splitting concatenated
// pair names.
var quoteAssets = []string{"USDT", "FDUSD", "USDC", "TUSD", "BUSD", "BTC", "ETH", "BNB"}

func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	for _, quote := range quoteAssets {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

// Canonical returns the exchange form of the pair. Inputs that cannot be
// split are returned uppercased with separators stripped, so an exotic quote
// asset still reaches the venue unchanged.
func Canonical(s string) string {
	if sym := Parse(s); sym.Base != "" {
		return sym.Exchange()
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.ReplaceAll(s, "/", "")
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
