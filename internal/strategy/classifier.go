package strategy

import (
	"fmt"

	"alphadesk/internal/types"
)

// Predictor 把特征向量映射为 [p_up, p_down]。
type Predictor interface {
	Predict(features []float32) ([]float32, error)
	Close() error
}

// PredictorOpener 按模型路径创建 Predictor。
type PredictorOpener func(modelPath string, featureDim, outputDim int) (Predictor, error)

// ClassifierParams 是概率分类策略的参数。
type ClassifierParams struct {
	Threshold float64 `mapstructure:"threshold"`
	StopPct   float64 `mapstructure:"stop_pct"`
	TakePct   float64 `mapstructure:"take_pct"`
	Horizon   int     `mapstructure:"horizon"`
}

func defaultClassifierParams() ClassifierParams {
	return ClassifierParams{Threshold: 0.5, StopPct: 0.005}
}

const classifierParamsSchema = `{
  "type": "object",
  "properties": {
    "threshold": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
    "stop_pct": {"type": "number", "minimum": 0, "maximum": 0.5},
    "take_pct": {"type": "number", "minimum": 0, "maximum": 1},
    "horizon": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": false
}`

// ClassifierAgent 使用外部模型预测涨跌概率，超过阈值即给出方向。
type ClassifierAgent struct {
	name   string
	schema int
	p      ClassifierParams
	model  Predictor
}

func NewClassifierAgent(name string, schema int, p ClassifierParams, model Predictor) (*ClassifierAgent, error) {
	if model == nil {
		return nil, fmt.Errorf("classifier %s: predictor is nil", name)
	}
	return &ClassifierAgent{name: name, schema: schema, p: p, model: model}, nil
}

func (a *ClassifierAgent) Name() string       { return a.name }
func (a *ClassifierAgent) SchemaVersion() int { return a.schema }

// Close 释放模型资源。
func (a *ClassifierAgent) Close() error {
	return a.model.Close()
}

func (a *ClassifierAgent) Evaluate(mc types.MarketContext) (types.Signal, error) {
	sig := types.Signal{Symbol: mc.Symbol, Action: types.ActionHold, Time: mc.Timestamp}

	if a.schema >= SchemaV2 && !mc.Exposure.Flat() {
		if a.p.Horizon > 0 && mc.Exposure.BarsHeld >= a.p.Horizon {
			sig.Action = types.ActionCloseBuy
			if mc.Exposure.Side < 0 {
				sig.Action = types.ActionCloseSell
			}
			sig.Confidence = 1
			sig.Tag = "time_exit"
			return sig, nil
		}
		sig.Tag = "holding"
		return sig, nil
	}

	feats, err := ComputeFeatures(mc)
	if err != nil {
		return sig, err
	}
	probs, err := a.model.Predict(feats)
	if err != nil {
		return sig, fmt.Errorf("predict: %w", err)
	}
	if len(probs) < 2 {
		return sig, fmt.Errorf("predictor returned %d outputs, want >= 2", len(probs))
	}
	pUp, pDown := float64(probs[0]), float64(probs[1])
	price := mc.Price
	switch {
	case pUp > a.p.Threshold && pUp >= pDown:
		sig.Action = types.ActionBuy
		sig.Confidence = clamp01(pUp)
		sig.Tag = fmt.Sprintf("clf_buy(%.2f)", pUp)
		if a.p.StopPct > 0 {
			sig.StopLoss = price * (1 - a.p.StopPct)
		}
		if a.p.TakePct > 0 {
			sig.TakeProfit = price * (1 + a.p.TakePct)
		}
	case pDown > a.p.Threshold:
		sig.Action = types.ActionSell
		sig.Confidence = clamp01(pDown)
		sig.Tag = fmt.Sprintf("clf_sell(%.2f)", pDown)
		if a.p.StopPct > 0 {
			sig.StopLoss = price * (1 + a.p.StopPct)
		}
		if a.p.TakePct > 0 {
			sig.TakeProfit = price * (1 - a.p.TakePct)
		}
	default:
		sig.Confidence = clamp01(max(pUp, pDown))
		sig.Tag = "wait"
	}
	return sig, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
