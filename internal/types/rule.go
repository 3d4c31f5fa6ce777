package types

import "time"

type RuleType string

const (
	RuleTypeManual RuleType = "manual"
	RuleTypeAI     RuleType = "ai"
)

// MACDDirection expresses the macd/signal relationship a gate requires.
type MACDDirection string

const (
	MACDBullish MACDDirection = "bullish"
	MACDBearish MACDDirection = "bearish"
)

// Rule is a user's declared trading intent. The engine treats it as read-only;
// the rules registry owns its lifecycle.
type Rule struct {
	ID         string   `json:"id" mapstructure:"id"`
	Type       RuleType `json:"type" mapstructure:"type"`
	Symbol     string   `json:"symbol" mapstructure:"symbol"`
	Enabled    bool     `json:"enabled" mapstructure:"enabled"`
	BudgetUSDT float64  `json:"budget_usdt" mapstructure:"budget_usdt"`

	// Manual entry: percent below current price. AI entry: absolute price.
	DipPct     float64 `json:"dip_pct,omitempty" mapstructure:"dip_pct"`
	EntryPrice float64 `json:"entry_price,omitempty" mapstructure:"entry_price"`

	// Exit: either a single percent target, an absolute exit price (ai), or an
	// explicit ladder.
	TPPct           float64          `json:"tp_pct,omitempty" mapstructure:"tp_pct"`
	ExitPrice       float64          `json:"exit_price,omitempty" mapstructure:"exit_price"`
	TakeProfitSteps []TakeProfitStep `json:"take_profit_steps,omitempty" mapstructure:"take_profit_steps"`

	StopLossPct     float64 `json:"stop_loss_pct,omitempty" mapstructure:"stop_loss_pct"`
	TrailingStopPct float64 `json:"trailing_stop_pct,omitempty" mapstructure:"trailing_stop_pct"`

	IndicatorSettings *IndicatorSettings `json:"indicator_settings,omitempty" mapstructure:"indicator_settings"`

	CreatedAt time.Time `json:"created_at" mapstructure:"created_at"`
}

// TakeProfitStep is one rung of the exit ladder. Quantity fields are filled in
// by the engine when a position opens; the rule author only supplies targets.
type TakeProfitStep struct {
	ID            string  `json:"id" mapstructure:"id"`
	ProfitPct     float64 `json:"profit_pct" mapstructure:"profit_pct"`
	PortionPct    float64 `json:"portion_pct" mapstructure:"portion_pct"`
	AbsolutePrice float64 `json:"absolute_price,omitempty" mapstructure:"absolute_price"`

	TargetPrice    float64 `json:"target_price,omitempty" mapstructure:"-"`
	Quantity       float64 `json:"quantity,omitempty" mapstructure:"-"`
	FilledQuantity float64 `json:"filled_quantity,omitempty" mapstructure:"-"`
	ClientOrderID  string  `json:"client_order_id,omitempty" mapstructure:"-"`
	BaseAsset      string  `json:"base_asset,omitempty" mapstructure:"-"`
	QuoteAsset     string  `json:"quote_asset,omitempty" mapstructure:"-"`
}

// IndicatorSettings gates entries/exits on RSI and MACD. Present on a rule only
// when at least one gating condition is configured.
type IndicatorSettings struct {
	Interval   string `json:"interval" mapstructure:"interval"`
	RSIPeriod  int    `json:"rsi_period" mapstructure:"rsi_period"`
	MACDFast   int    `json:"macd_fast" mapstructure:"macd_fast"`
	MACDSlow   int    `json:"macd_slow" mapstructure:"macd_slow"`
	MACDSignal int    `json:"macd_signal" mapstructure:"macd_signal"`

	RSIEntryMax *float64      `json:"rsi_entry_max,omitempty" mapstructure:"rsi_entry_max"`
	RSIExitMin  *float64      `json:"rsi_exit_min,omitempty" mapstructure:"rsi_exit_min"`
	MACDEntry   MACDDirection `json:"macd_entry,omitempty" mapstructure:"macd_entry"`
	MACDExit    MACDDirection `json:"macd_exit,omitempty" mapstructure:"macd_exit"`
}

// HasEntryGate reports whether any entry-side condition is configured.
func (s *IndicatorSettings) HasEntryGate() bool {
	if s == nil {
		return false
	}
	return s.RSIEntryMax != nil || s.MACDEntry != ""
}

// HasExitGate reports whether any exit-side condition is configured.
func (s *IndicatorSettings) HasExitGate() bool {
	if s == nil {
		return false
	}
	return s.RSIExitMin != nil || s.MACDExit != ""
}

// Normalize applies the defaults the calculator expects. MACDSlow is forced
// above MACDFast.
func (s *IndicatorSettings) Normalize() {
	if s == nil {
		return
	}
	if s.Interval == "" {
		s.Interval = "1h"
	}
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = 14
	}
	if s.MACDFast <= 0 {
		s.MACDFast = 12
	}
	if s.MACDSlow <= s.MACDFast {
		s.MACDSlow = s.MACDFast + 14
	}
	if s.MACDSignal <= 0 {
		s.MACDSignal = 9
	}
}
