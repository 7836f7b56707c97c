package position

import (
	"github.com/shopspring/decimal"

	"alphadesk/internal/config"
)

const (
	MinLot = 0.01
	MaxLot = 10.0
)

var lotStep = decimal.NewFromFloat(MinLot)

// LotSize 计算开仓手数。risk_percent 模式：balance×risk%/(contract×止损价距)，结果限制在 [0.01, 10]。
func LotSize(cfg config.EngineConfig, balance, slDistance float64) float64 {
	if cfg.LotMode != config.LotModeRiskPercent {
		return clampLot(roundHalfUp(cfg.LotSize))
	}
	if slDistance <= 0 {
		slDistance = cfg.SLDistance * cfg.Point
	}
	if slDistance <= 0 || balance <= 0 || cfg.ContractSize <= 0 {
		return MinLot
	}
	risk := decimal.NewFromFloat(balance).
		Mul(decimal.NewFromFloat(cfg.RiskPercent)).
		Div(decimal.NewFromInt(100))
	perLot := decimal.NewFromFloat(cfg.ContractSize).Mul(decimal.NewFromFloat(slDistance))
	lot, _ := risk.Div(perLot).Round(2).Float64()
	return clampLot(lot)
}

// SplitVolume 计算分批平仓手数；剩余不足最小手数时返回全部平仓。
func SplitVolume(volume, percent float64) (closeVol, remaining float64, full bool) {
	total := decimal.NewFromFloat(volume)
	part := total.Mul(decimal.NewFromFloat(percent)).Div(decimal.NewFromInt(100)).Round(2)
	if part.LessThan(lotStep) {
		part = lotStep
	}
	rest := total.Sub(part)
	if rest.LessThan(lotStep) {
		v, _ := total.Float64()
		return v, 0, true
	}
	c, _ := part.Float64()
	r, _ := rest.Float64()
	return c, r, false
}

// RoundPrice 把价格对齐到 point 精度。
func RoundPrice(price, point float64) float64 {
	if point <= 0 {
		return price
	}
	p := decimal.NewFromFloat(point)
	f, _ := decimal.NewFromFloat(price).Div(p).Round(0).Mul(p).Float64()
	return f
}

// Points 把价距换算为点数，保留 6 位小数以消除浮点误差（1.105-1.1 记为 50 点）。
func Points(distance, point float64) float64 {
	if point <= 0 {
		return distance
	}
	f, _ := decimal.NewFromFloat(distance).Div(decimal.NewFromFloat(point)).Round(6).Float64()
	return f
}

func roundHalfUp(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

func clampLot(v float64) float64 {
	switch {
	case v < MinLot:
		return MinLot
	case v > MaxLot:
		return MaxLot
	}
	return v
}
