// Package strategy 定义可插拔的策略组件契约与内置实现。
package strategy

import (
	"errors"
	"fmt"
	"math"

	"alphadesk/internal/types"
)

// 输入 schema 版本。v1 只含行情与账户，v2 额外提供持仓概况 (types.Exposure)。
const (
	SchemaV1 = 1
	SchemaV2 = 2
)

// SupportedSchemas 是引擎可以满足的输入 schema 版本。
var SupportedSchemas = []int{SchemaV1, SchemaV2}

// Agent 是策略组件。Evaluate 对相同输入必须给出相同输出。
type Agent interface {
	Name() string
	SchemaVersion() int
	Evaluate(mc types.MarketContext) (types.Signal, error)
}

// ErrInsufficientData 表示历史 K 线不足以计算。
var ErrInsufficientData = errors.New("insufficient history")

// SchemaSupported 判断版本是否可被引擎满足。
func SchemaSupported(v int) bool {
	for _, s := range SupportedSchemas {
		if s == v {
			return true
		}
	}
	return false
}

// IncompatibleSchemaError 在加载时拒绝无法满足的策略。
type IncompatibleSchemaError struct {
	Agent   string
	Version int
}

func (e *IncompatibleSchemaError) Error() string {
	return fmt.Sprintf("agent %s declares schema v%d, supported: %v", e.Agent, e.Version, SupportedSchemas)
}

// ProjectInput 按策略声明的 schema 裁剪输入，v1 策略看不到持仓信息。
func ProjectInput(a Agent, mc types.MarketContext) types.MarketContext {
	if a.SchemaVersion() < SchemaV2 {
		mc.Exposure = types.Exposure{}
	}
	return mc
}

// Evaluate 调用策略并把 panic、错误与非法输出统一包装为 SignalError。
func Evaluate(a Agent, mc types.MarketContext) (sig types.Signal, err error) {
	name := a.Name()
	defer func() {
		if r := recover(); r != nil {
			sig = types.HoldSignal(mc.Symbol, "panic")
			err = &types.SignalError{Agent: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	out, err := a.Evaluate(ProjectInput(a, mc))
	if err != nil {
		var se *types.SignalError
		if errors.As(err, &se) {
			return types.HoldSignal(mc.Symbol, "error"), err
		}
		return types.HoldSignal(mc.Symbol, "error"), &types.SignalError{Agent: name, Err: err}
	}
	if err := checkOutput(out); err != nil {
		return types.HoldSignal(mc.Symbol, "invalid"), &types.SignalError{Agent: name, Err: err}
	}
	if out.Symbol == "" {
		out.Symbol = mc.Symbol
	}
	if out.Time.IsZero() {
		out.Time = mc.Timestamp
	}
	return out, nil
}

func checkOutput(s types.Signal) error {
	if !s.Action.Valid() {
		return fmt.Errorf("invalid action %q", s.Action)
	}
	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", s.Confidence)
	}
	if s.StopLoss < 0 || s.TakeProfit < 0 || math.IsNaN(s.StopLoss) || math.IsNaN(s.TakeProfit) {
		return fmt.Errorf("invalid sl/tp %v/%v", s.StopLoss, s.TakeProfit)
	}
	return nil
}
