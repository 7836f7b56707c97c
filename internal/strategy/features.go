package strategy

import (
	"math"

	"alphadesk/internal/types"

	talib "github.com/markcheno/go-talib"
)

// FeatureNames 是分类器输入向量的列顺序。
var FeatureNames = []string{
	"ret_1", "ret_5", "volatility_20", "rsi_14", "ema_ratio_12_26", "atr_14_pct", "range_pct", "side",
}

// FeatureWindow 是计算特征所需的最少 K 线数。
const FeatureWindow = 30

// ComputeFeatures 从 K 线构造固定长度特征向量。
func ComputeFeatures(mc types.MarketContext) ([]float32, error) {
	bars := mc.Bars
	if len(bars) < FeatureWindow {
		return nil, ErrInsufficientData
	}
	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}
	n := len(closes)
	last := closes[n-1]
	if last <= 0 {
		return nil, ErrInsufficientData
	}
	rsi := lastValid(talib.Rsi(closes, 14))
	emaFast := lastValid(talib.Ema(closes, 12))
	emaSlow := lastValid(talib.Ema(closes, 26))
	atr := lastValid(talib.Atr(highs, lows, closes, 14))

	emaRatio := 0.0
	if emaSlow > 0 {
		emaRatio = emaFast/emaSlow - 1
	}
	lastBar := bars[n-1]
	rangePct := 0.0
	if lastBar.Close > 0 {
		rangePct = (lastBar.High - lastBar.Low) / lastBar.Close
	}
	out := []float64{
		pctChange(closes, 1),
		pctChange(closes, 5),
		returnsStd(closes, 20),
		rsi / 100,
		emaRatio,
		atr / last,
		rangePct,
		float64(mc.Exposure.Side),
	}
	vec := make([]float32, len(out))
	for i, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		vec[i] = float32(v)
	}
	return vec, nil
}

func pctChange(closes []float64, lag int) float64 {
	n := len(closes)
	if n <= lag || closes[n-1-lag] == 0 {
		return 0
	}
	return closes[n-1]/closes[n-1-lag] - 1
}

func returnsStd(closes []float64, window int) float64 {
	n := len(closes)
	if n <= window {
		return 0
	}
	rets := make([]float64, 0, window)
	for i := n - window; i < n; i++ {
		if closes[i-1] == 0 {
			continue
		}
		rets = append(rets, closes[i]/closes[i-1]-1)
	}
	if len(rets) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	ss := 0.0
	for _, r := range rets {
		ss += (r - mean) * (r - mean)
	}
	return math.Sqrt(ss / float64(len(rets)-1))
}

// lastValid 返回序列中最后一个非零值；talib 对预热区间填 0。
func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if v := series[i]; v != 0 && !math.IsNaN(v) {
			return v
		}
	}
	return 0
}
