package types

import "time"

// RiskState 是按交易日累计的风控状态。
type RiskState struct {
	TradingDay     string    `json:"trading_day"`
	DailyPnL       float64   `json:"daily_pnl"`
	DayStartEquity float64   `json:"day_start_equity"`
	PeakEquity     float64   `json:"peak_equity"`
	Drawdown       float64   `json:"drawdown"`
	Equity         float64   `json:"equity"`
	HaltedUntil    time.Time `json:"halted_until"`
	HaltReason     string    `json:"halt_reason,omitempty"`
}

// Halted 表示 now 时刻是否仍处于风控熔断期。
func (r RiskState) Halted(now time.Time) bool {
	return !r.HaltedUntil.IsZero() && now.Before(r.HaltedUntil)
}

// GateDecision 是风控/新闻过滤的放行结果。
type GateDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func Allow() GateDecision {
	return GateDecision{Allowed: true}
}

func Deny(reason string) GateDecision {
	return GateDecision{Allowed: false, Reason: reason}
}
