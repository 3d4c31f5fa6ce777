// Package indicator computes the RSI/MACD snapshots used to gate rule entries
// and exits.
package indicator

import (
	"github.com/markcheno/go-talib"

	"dipbot/internal/types"
)

// MACDValue is the latest MACD line, signal line and histogram.
type MACDValue struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// Snapshot holds whichever indicators could be computed for one
// (symbol, interval) this tick. Nil fields mean insufficient data.
type Snapshot struct {
	RSI  *float64   `json:"rsi,omitempty"`
	MACD *MACDValue `json:"macd,omitempty"`
}

// MinCandles is the candle window required before the snapshot is trusted.
func MinCandles(s *types.IndicatorSettings) int {
	n := 100
	if s == nil {
		return n
	}
	if v := s.MACDSlow + s.MACDSignal + 5; v > n {
		n = v
	}
	if v := s.RSIPeriod + 5; v > n {
		n = v
	}
	return n
}

// Compute derives a snapshot from a closing-price sequence (oldest first).
// RSI uses Wilder smoothing, MACD the standard EMA(fast)-EMA(slow) with an
// EMA(signal) of the difference; both come from talib.
func Compute(closes []float64, s *types.IndicatorSettings) Snapshot {
	var snap Snapshot
	if s == nil || len(closes) < MinCandles(s) {
		return snap
	}
	if s.RSIPeriod > 0 && len(closes) > s.RSIPeriod {
		rsi := talib.Rsi(closes, s.RSIPeriod)
		if len(rsi) > 0 {
			v := rsi[len(rsi)-1]
			snap.RSI = &v
		}
	}
	if s.MACDSlow > s.MACDFast && len(closes) > s.MACDSlow+s.MACDSignal {
		macdLine, signalLine, hist := talib.Macd(closes, s.MACDFast, s.MACDSlow, s.MACDSignal)
		if n := len(macdLine); n > 0 && len(signalLine) == n && len(hist) == n {
			snap.MACD = &MACDValue{
				MACD:      macdLine[n-1],
				Signal:    signalLine[n-1],
				Histogram: hist[n-1],
			}
		}
	}
	return snap
}

func (m *MACDValue) direction() types.MACDDirection {
	if m.MACD > m.Signal {
		return types.MACDBullish
	}
	return types.MACDBearish
}

// EntryAllowed evaluates the entry gate. A gate with no configured condition
// always passes; a configured condition with missing data fails closed (never
// buy without data).
func EntryAllowed(s *types.IndicatorSettings, snap Snapshot) bool {
	if !s.HasEntryGate() {
		return true
	}
	if s.RSIEntryMax != nil {
		if snap.RSI == nil || *snap.RSI > *s.RSIEntryMax {
			return false
		}
	}
	if s.MACDEntry != "" {
		if snap.MACD == nil || snap.MACD.direction() != s.MACDEntry {
			return false
		}
	}
	return true
}

// ExitAllowed evaluates the exit gate. Unlike the entry gate, missing data
// does not block: a data outage must not strand an open position behind a
// suppressed sell ladder.
func ExitAllowed(s *types.IndicatorSettings, snap Snapshot) bool {
	if !s.HasExitGate() {
		return true
	}
	if s.RSIExitMin != nil && snap.RSI != nil && *snap.RSI < *s.RSIExitMin {
		return false
	}
	if s.MACDExit != "" && snap.MACD != nil && snap.MACD.direction() != s.MACDExit {
		return false
	}
	return true
}
