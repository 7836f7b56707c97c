package types

import (
	"strings"
	"time"
)

// Action 是策略信号的动作类型。
type Action string

const (
	ActionBuy       Action = "BUY"
	ActionSell      Action = "SELL"
	ActionHold      Action = "HOLD"
	ActionCloseBuy  Action = "CLOSE_BUY"
	ActionCloseSell Action = "CLOSE_SELL"
)

// ParseAction 解析大小写不敏感的动作名，未知值返回 false。
func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	return a, a.Valid()
}

func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold, ActionCloseBuy, ActionCloseSell:
		return true
	}
	return false
}

// Signal 是一次策略评估的输出，生成后不可变。
type Signal struct {
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Tag        string    `json:"tag,omitempty"`
	Time       time.Time `json:"time"`
}

// HoldSignal 构造一个观望信号。
func HoldSignal(symbol, tag string) Signal {
	return Signal{Symbol: symbol, Action: ActionHold, Tag: tag}
}

// IsEntry 表示信号是否为开仓方向。
func (s Signal) IsEntry() bool {
	return s.Action == ActionBuy || s.Action == ActionSell
}

// IsClose 表示信号是否为平仓指令。
func (s Signal) IsClose() bool {
	return s.Action == ActionCloseBuy || s.Action == ActionCloseSell
}

// Direction 返回信号对应的持仓方向；HOLD 返回空串。
func (s Signal) Direction() Direction {
	switch s.Action {
	case ActionBuy, ActionCloseBuy:
		return DirectionBuy
	case ActionSell, ActionCloseSell:
		return DirectionSell
	}
	return ""
}
