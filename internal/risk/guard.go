// Package risk 实现日内亏损与权益下限熔断。
package risk

import (
	"fmt"
	"math"
	"time"

	"alphadesk/internal/config"
	"alphadesk/internal/types"

	"github.com/shopspring/decimal"
)

// Check 是纯函数：日亏损达到 max_daily_loss 或权益跌破 min_equity 时拒绝。
// 阈值为 0 表示不启用。
func Check(rs types.RiskState, cfg config.EngineConfig) types.GateDecision {
	limits := cfg.Risk
	if limits.MaxDailyLoss > 0 && -rs.DailyPnL >= limits.MaxDailyLoss {
		return types.Deny(fmt.Sprintf("daily loss %.2f reached limit %.2f", -rs.DailyPnL, limits.MaxDailyLoss))
	}
	if limits.MinEquity > 0 && rs.Equity > 0 && rs.Equity < limits.MinEquity {
		return types.Deny(fmt.Sprintf("equity %.2f below floor %.2f", rs.Equity, limits.MinEquity))
	}
	return types.Allow()
}

// Gate 在 Check 之外还尊重已持久化的熔断期。
func Gate(rs types.RiskState, cfg config.EngineConfig, now time.Time) types.GateDecision {
	if rs.Halted(now) {
		reason := rs.HaltReason
		if reason == "" {
			reason = "risk halt"
		}
		return types.Deny(fmt.Sprintf("%s (halted until %s)", reason, rs.HaltedUntil.Format(time.RFC3339)))
	}
	return Check(rs, cfg)
}

// Outcome 是一次 Advance 的结果。
type Outcome struct {
	State    types.RiskState
	Decision types.GateDecision
	Tripped  bool
	Rolled   bool
}

// Advance 用最新账户快照推进风控状态：跨日重置、更新峰值与回撤、首次触发时设置 halted_until。
// 熔断只阻止新开仓，不平掉已有持仓。
func Advance(prev types.RiskState, acct types.AccountSnapshot, cfg config.EngineConfig, now time.Time) Outcome {
	key, _, end := TradingDay(now, cfg.Location(), cfg.DayStartHour)
	next := prev
	out := Outcome{}
	if next.TradingDay != key {
		out.Rolled = next.TradingDay != ""
		// 券商报告了当日已实现+浮动盈亏时，据此倒推日初权益，覆盖盘中首次启动的情况。
		start := money(acct.Equity).Sub(money(acct.DailyPnL))
		next = types.RiskState{
			TradingDay:     key,
			DayStartEquity: start.InexactFloat64(),
			PeakEquity:     decimal.Max(start, money(acct.Equity)).InexactFloat64(),
		}
		if prev.Halted(now) {
			next.HaltedUntil = prev.HaltedUntil
			next.HaltReason = prev.HaltReason
		}
	}
	if next.DayStartEquity <= 0 {
		next.DayStartEquity = acct.Equity
	}
	next.Equity = acct.Equity
	next.DailyPnL = money(acct.Equity).Sub(money(next.DayStartEquity)).InexactFloat64()
	if acct.Equity > next.PeakEquity {
		next.PeakEquity = acct.Equity
	}
	if next.PeakEquity > 0 {
		next.Drawdown = math.Max(0, (next.PeakEquity-acct.Equity)/next.PeakEquity)
	}
	out.Decision = Gate(next, cfg, now)
	if !out.Decision.Allowed && !next.Halted(now) {
		next.HaltedUntil = end
		next.HaltReason = out.Decision.Reason
		out.Tripped = true
	}
	out.State = next
	return out
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}
