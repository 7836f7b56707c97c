// Package analytics 从已平仓交易计算绩效指标。
package analytics

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"alphadesk/internal/types"
)

const tradingDaysPerYear = 252

// Ratio 是可能为无穷或未定义的比率，JSON 中渲染为 null。
type Ratio float64

func (r Ratio) MarshalJSON() ([]byte, error) {
	v := float64(r)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

type DailyPnL struct {
	Day string  `json:"day"`
	PnL float64 `json:"pnl"`
}

type Summary struct {
	TotalTrades      int           `json:"total_trades"`
	Wins             int           `json:"wins"`
	Losses           int           `json:"losses"`
	WinRate          float64       `json:"win_rate"`
	GrossProfit      float64       `json:"gross_profit"`
	GrossLoss        float64       `json:"gross_loss"`
	NetProfit        float64       `json:"net_profit"`
	ProfitFactor     Ratio         `json:"profit_factor"`
	AvgWin           float64       `json:"avg_win"`
	AvgLoss          float64       `json:"avg_loss"`
	AvgDurationHours float64       `json:"avg_duration_hours"`
	Sharpe           Ratio         `json:"sharpe"`
	MaxDrawdownPct   float64       `json:"max_drawdown_pct"`
	InitialBalance   float64       `json:"initial_balance"`
	FinalEquity      float64       `json:"final_equity"`
	EquityCurve      []EquityPoint `json:"equity_curve"`
	Daily            []DailyPnL    `json:"daily"`
}

// Compute 计算绩效。权益曲线从 initialBalance 起，按平仓时间累加。
// 没有亏损单时 ProfitFactor 为 +Inf；少于两个交易日或日收益无波动时 Sharpe 为 NaN。
func Compute(trades []types.TradeRecord, initialBalance float64) Summary {
	sorted := append([]types.TradeRecord(nil), trades...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ClosedAt.Before(sorted[j].ClosedAt) })

	s := Summary{
		TotalTrades:    len(sorted),
		InitialBalance: initialBalance,
		FinalEquity:    initialBalance,
		Sharpe:         Ratio(math.NaN()),
		EquityCurve:    []EquityPoint{},
		Daily:          []DailyPnL{},
	}
	if len(sorted) == 0 {
		s.ProfitFactor = Ratio(math.NaN())
		return s
	}

	equity := initialBalance
	peak := initialBalance
	maxDD := 0.0
	var totalDur time.Duration
	daily := make(map[string]float64)
	s.EquityCurve = append(s.EquityCurve, EquityPoint{Time: sorted[0].OpenedAt, Equity: equity})
	for _, t := range sorted {
		switch {
		case t.Profit > 0:
			s.Wins++
			s.GrossProfit += t.Profit
		case t.Profit < 0:
			s.Losses++
			s.GrossLoss += -t.Profit
		}
		totalDur += t.Duration()
		daily[t.ClosedAt.UTC().Format("2006-01-02")] += t.Profit

		equity += t.Profit
		s.EquityCurve = append(s.EquityCurve, EquityPoint{Time: t.ClosedAt, Equity: round2(equity)})
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			maxDD = math.Max(maxDD, (peak-equity)/peak)
		}
	}

	s.NetProfit = round2(s.GrossProfit - s.GrossLoss)
	s.GrossProfit = round2(s.GrossProfit)
	s.GrossLoss = round2(s.GrossLoss)
	s.FinalEquity = round2(equity)
	s.WinRate = round2(float64(s.Wins) / float64(s.TotalTrades) * 100)
	s.MaxDrawdownPct = round2(maxDD * 100)
	s.AvgDurationHours = round2(totalDur.Hours() / float64(s.TotalTrades))
	if s.Wins > 0 {
		s.AvgWin = round2(s.GrossProfit / float64(s.Wins))
	}
	if s.Losses > 0 {
		s.AvgLoss = round2(s.GrossLoss / float64(s.Losses))
	}
	switch {
	case s.GrossLoss > 0:
		s.ProfitFactor = Ratio(round2(s.GrossProfit / s.GrossLoss))
	case s.GrossProfit > 0:
		s.ProfitFactor = Ratio(math.Inf(1))
	default:
		s.ProfitFactor = Ratio(math.NaN())
	}

	days := make([]string, 0, len(daily))
	for d := range daily {
		days = append(days, d)
	}
	sort.Strings(days)
	returns := make([]float64, 0, len(days))
	for _, d := range days {
		s.Daily = append(s.Daily, DailyPnL{Day: d, PnL: round2(daily[d])})
		returns = append(returns, daily[d])
	}
	s.Sharpe = sharpe(returns)
	return s
}

func sharpe(daily []float64) Ratio {
	if len(daily) < 2 {
		return Ratio(math.NaN())
	}
	mean := 0.0
	for _, v := range daily {
		mean += v
	}
	mean /= float64(len(daily))
	variance := 0.0
	for _, v := range daily {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(daily)-1))
	if std == 0 {
		return Ratio(math.NaN())
	}
	return Ratio(round2(mean / std * math.Sqrt(tradingDaysPerYear)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
