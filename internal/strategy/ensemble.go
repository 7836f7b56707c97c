package strategy

import (
	"errors"
	"fmt"
	"strings"

	"alphadesk/internal/logger"
	"alphadesk/internal/types"
)

// Member 是加权投票中的一个成员。
type Member struct {
	Agent  Agent
	Weight float64
}

// EnsembleAgent 对成员信号按权重 × 置信度投票。
// 平仓信号优先；开仓方向需超过 Quorum 占比的权重支持。
type EnsembleAgent struct {
	name    string
	members []Member
	quorum  float64
}

// EnsembleParams 是投票参数。
type EnsembleParams struct {
	Quorum float64 `mapstructure:"quorum"`
}

const ensembleParamsSchema = `{
  "type": "object",
  "properties": {
    "quorum": {"type": "number", "exclusiveMinimum": 0, "maximum": 1}
  },
  "additionalProperties": false
}`

func NewEnsembleAgent(name string, p EnsembleParams, members []Member) (*EnsembleAgent, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("ensemble %s: no members", name)
	}
	for _, m := range members {
		if m.Agent == nil || m.Weight <= 0 {
			return nil, fmt.Errorf("ensemble %s: member needs agent and weight > 0", name)
		}
	}
	if p.Quorum <= 0 {
		p.Quorum = 0.5
	}
	return &EnsembleAgent{name: name, members: members, quorum: p.Quorum}, nil
}

func (e *EnsembleAgent) Name() string { return e.name }

// SchemaVersion 取成员中的最高版本，保证每个成员都能拿到所需输入。
func (e *EnsembleAgent) SchemaVersion() int {
	v := SchemaV1
	for _, m := range e.members {
		if mv := m.Agent.SchemaVersion(); mv > v {
			v = mv
		}
	}
	return v
}

func (e *EnsembleAgent) Evaluate(mc types.MarketContext) (types.Signal, error) {
	var (
		total     float64
		votes     = map[types.Action]float64{}
		stops     = map[types.Action][]float64{}
		takes     = map[types.Action][]float64{}
		failures  []error
		responded int
	)
	for _, m := range e.members {
		total += m.Weight
		sig, err := Evaluate(m.Agent, mc)
		if err != nil {
			failures = append(failures, err)
			logger.Debugf("[strategy] ensemble %s 成员 %s 弃权: %v", e.name, m.Agent.Name(), err)
			continue
		}
		responded++
		votes[sig.Action] += m.Weight * sig.Confidence
		if sig.StopLoss > 0 {
			stops[sig.Action] = append(stops[sig.Action], sig.StopLoss)
		}
		if sig.TakeProfit > 0 {
			takes[sig.Action] = append(takes[sig.Action], sig.TakeProfit)
		}
	}
	if responded == 0 {
		return types.Signal{}, fmt.Errorf("all %d members failed: %w", len(e.members), errors.Join(failures...))
	}
	out := types.Signal{Symbol: mc.Symbol, Action: types.ActionHold, Time: mc.Timestamp}
	for _, a := range []types.Action{types.ActionCloseBuy, types.ActionCloseSell} {
		if votes[a]/total >= e.quorum {
			out.Action = a
			out.Confidence = clamp01(votes[a] / total)
			out.Tag = "ensemble:" + strings.ToLower(string(a))
			return out, nil
		}
	}
	buy, sell := votes[types.ActionBuy]/total, votes[types.ActionSell]/total
	switch {
	case buy >= e.quorum && buy > sell:
		out.Action, out.Confidence = types.ActionBuy, clamp01(buy)
	case sell >= e.quorum && sell > buy:
		out.Action, out.Confidence = types.ActionSell, clamp01(sell)
	default:
		out.Tag = fmt.Sprintf("ensemble:hold buy=%.2f sell=%.2f", buy, sell)
		return out, nil
	}
	out.StopLoss = mean(stops[out.Action])
	out.TakeProfit = mean(takes[out.Action])
	out.Tag = fmt.Sprintf("ensemble:%s %.2f", strings.ToLower(string(out.Action)), out.Confidence)
	return out, nil
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	s := 0.0
	for _, v := range vals {
		s += v
	}
	return s / float64(len(vals))
}
