package strategy

import (
	"fmt"
	"math"

	"alphadesk/internal/types"

	talib "github.com/markcheno/go-talib"
)

// RuleParams 是均线交叉 + RSI 过滤策略的参数。
type RuleParams struct {
	FastPeriod     int     `mapstructure:"fast_period"`
	SlowPeriod     int     `mapstructure:"slow_period"`
	RSIPeriod      int     `mapstructure:"rsi_period"`
	RSIOverbought  float64 `mapstructure:"rsi_overbought"`
	RSIOversold    float64 `mapstructure:"rsi_oversold"`
	ATRPeriod      int     `mapstructure:"atr_period"`
	StopATR        float64 `mapstructure:"stop_atr"`
	TakeATR        float64 `mapstructure:"take_atr"`
	BaseConfidence float64 `mapstructure:"base_confidence"`
	ExitOnReverse  bool    `mapstructure:"exit_on_reverse"`
}

func defaultRuleParams() RuleParams {
	return RuleParams{
		FastPeriod:     12,
		SlowPeriod:     26,
		RSIPeriod:      14,
		RSIOverbought:  70,
		RSIOversold:    30,
		ATRPeriod:      14,
		StopATR:        1.5,
		TakeATR:        3,
		BaseConfidence: 0.6,
	}
}

const ruleParamsSchema = `{
  "type": "object",
  "properties": {
    "fast_period": {"type": "integer", "minimum": 2},
    "slow_period": {"type": "integer", "minimum": 3},
    "rsi_period": {"type": "integer", "minimum": 2},
    "rsi_overbought": {"type": "number", "minimum": 50, "maximum": 100},
    "rsi_oversold": {"type": "number", "minimum": 0, "maximum": 50},
    "atr_period": {"type": "integer", "minimum": 2},
    "stop_atr": {"type": "number", "minimum": 0},
    "take_atr": {"type": "number", "minimum": 0},
    "base_confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "exit_on_reverse": {"type": "boolean"}
  },
  "additionalProperties": false
}`

// RuleAgent 在快慢 EMA 交叉时给出方向，RSI 处于极值区时不追单。
type RuleAgent struct {
	name   string
	schema int
	p      RuleParams
}

// NewRuleAgent 构造规则策略。
func NewRuleAgent(name string, schema int, p RuleParams) (*RuleAgent, error) {
	if p.FastPeriod >= p.SlowPeriod {
		return nil, fmt.Errorf("fast_period (%d) must be < slow_period (%d)", p.FastPeriod, p.SlowPeriod)
	}
	return &RuleAgent{name: name, schema: schema, p: p}, nil
}

func (a *RuleAgent) Name() string       { return a.name }
func (a *RuleAgent) SchemaVersion() int { return a.schema }

// MinBars 返回计算所需的最少 K 线数。
func (a *RuleAgent) MinBars() int {
	n := a.p.SlowPeriod + 2
	if a.p.RSIPeriod+2 > n {
		n = a.p.RSIPeriod + 2
	}
	if a.p.ATRPeriod+2 > n {
		n = a.p.ATRPeriod + 2
	}
	return n
}

func (a *RuleAgent) Evaluate(mc types.MarketContext) (types.Signal, error) {
	if len(mc.Bars) < a.MinBars() {
		return types.Signal{}, ErrInsufficientData
	}
	closes := mc.Closes()
	highs := make([]float64, len(mc.Bars))
	lows := make([]float64, len(mc.Bars))
	for i, b := range mc.Bars {
		highs[i] = b.High
		lows[i] = b.Low
	}
	fast := talib.Ema(closes, a.p.FastPeriod)
	slow := talib.Ema(closes, a.p.SlowPeriod)
	rsi := lastValid(talib.Rsi(closes, a.p.RSIPeriod))
	atr := lastValid(talib.Atr(highs, lows, closes, a.p.ATRPeriod))

	n := len(closes)
	prevDiff := fast[n-2] - slow[n-2]
	diff := fast[n-1] - slow[n-1]
	price := mc.Price
	if price <= 0 {
		price = closes[n-1]
	}
	sig := types.Signal{Symbol: mc.Symbol, Action: types.ActionHold, Time: mc.Timestamp}

	crossUp := prevDiff <= 0 && diff > 0
	crossDown := prevDiff >= 0 && diff < 0

	if a.p.ExitOnReverse && a.schema >= SchemaV2 {
		switch {
		case mc.Exposure.Side > 0 && crossDown:
			sig.Action, sig.Confidence, sig.Tag = types.ActionCloseBuy, 1, "ema_reverse"
			return sig, nil
		case mc.Exposure.Side < 0 && crossUp:
			sig.Action, sig.Confidence, sig.Tag = types.ActionCloseSell, 1, "ema_reverse"
			return sig, nil
		}
	}

	conf := a.confidence(diff, atr)
	switch {
	case crossUp && rsi < a.p.RSIOverbought:
		sig.Action = types.ActionBuy
		sig.Confidence = conf
		sig.Tag = fmt.Sprintf("ema_cross_up rsi=%.1f", rsi)
		if atr > 0 {
			sig.StopLoss = price - a.p.StopATR*atr
			sig.TakeProfit = price + a.p.TakeATR*atr
		}
	case crossDown && rsi > a.p.RSIOversold:
		sig.Action = types.ActionSell
		sig.Confidence = conf
		sig.Tag = fmt.Sprintf("ema_cross_down rsi=%.1f", rsi)
		if atr > 0 {
			sig.StopLoss = price + a.p.StopATR*atr
			sig.TakeProfit = math.Max(price-a.p.TakeATR*atr, 0)
		}
	default:
		sig.Tag = "no_cross"
	}
	return sig, nil
}

// confidence 以 EMA 差值相对 ATR 的强度在 base 之上加成，上限 1。
func (a *RuleAgent) confidence(diff, atr float64) float64 {
	c := a.p.BaseConfidence
	if atr > 0 {
		c += math.Min(math.Abs(diff)/atr, 1) * (1 - c) * 0.5
	}
	return math.Min(math.Max(c, 0), 1)
}
