package engine

import (
	"fmt"
	"strings"

	"alphadesk/internal/logger"
	"alphadesk/internal/state"
	"alphadesk/internal/types"
)

// Ack 是远程命令的同步应答；完成情况稍后以 CommandCompleted 事件回报。
type Ack struct {
	CommandID string `json:"command_id"`
	Accepted  bool   `json:"accepted"`
	Message   string `json:"message"`
}

// Control 是远程入口唯一可用的写接口：只改运行标志或排队命令，从不直接调用券商。
type Control struct {
	state *state.EngineState
	emit  func(evs ...types.Event)
}

// Control 返回绑定到该引擎的命令入口。
func (e *Engine) Control() *Control {
	return &Control{state: e.state, emit: e.emit}
}

// NewControl 用于没有引擎实例的场景（如测试）。
func NewControl(st *state.EngineState, emit func(evs ...types.Event)) *Control {
	if emit == nil {
		emit = func(evs ...types.Event) { st.RecordEvents(evs...) }
	}
	return &Control{state: st, emit: emit}
}

// Start 打开运行标志，下一个 tick 边界开始交易。
func (c *Control) Start(source string) Ack {
	cmd := types.NewCommand(types.CommandStart, source)
	if !c.state.SetRunning(true) {
		return Ack{CommandID: cmd.ID, Accepted: true, Message: "already running"}
	}
	logger.Infof("[engine] 由 %s 启动", source)
	c.emit(types.NewEvent(types.EventEngineStarted, types.SeverityInfo, "engine started by "+source).
		WithCorrelation(cmd.ID).
		WithField("source", source))
	return Ack{CommandID: cmd.ID, Accepted: true, Message: "engine will start at next tick"}
}

// Stop 关闭运行标志；进行中的 tick 会先走完。
func (c *Control) Stop(source string) Ack {
	cmd := types.NewCommand(types.CommandStop, source)
	if !c.state.SetRunning(false) {
		return Ack{CommandID: cmd.ID, Accepted: true, Message: "already stopped"}
	}
	logger.Infof("[engine] 由 %s 停止", source)
	c.emit(types.NewEvent(types.EventEngineStopped, types.SeverityInfo, "engine stopped by "+source).
		WithCorrelation(cmd.ID).
		WithField("source", source))
	return Ack{CommandID: cmd.ID, Accepted: true, Message: "engine will idle from next tick"}
}

// CloseAll 排队一次全部平仓，由下一个 tick 执行。
func (c *Control) CloseAll(source string) Ack {
	return c.enqueue(types.NewCommand(types.CommandCloseAll, source))
}

// CloseTicket 排队平掉单个 ticket；ticket 为空时按 symbol 平仓。
func (c *Control) CloseTicket(source, ticket, symbol string) Ack {
	ticket = strings.TrimSpace(ticket)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if ticket == "" && symbol == "" {
		return Ack{Accepted: false, Message: "ticket or symbol is required"}
	}
	cmd := types.NewCommand(types.CommandCloseTicket, source)
	cmd.Ticket = ticket
	cmd.Symbol = symbol
	return c.enqueue(cmd)
}

// Status 返回最近一次提交的快照。
func (c *Control) Status() state.Snapshot {
	return c.state.Snapshot()
}

func (c *Control) enqueue(cmd types.Command) Ack {
	res := c.state.Enqueue(cmd)
	if res.Dropped != nil {
		d := *res.Dropped
		logger.Warnf("[engine] 命令队列已满，丢弃 %s (%s)", d.Kind, d.ID)
		c.emit(types.NewEvent(types.EventCommandCompleted, types.SeverityWarn, "dropped: command queue full").
			WithCorrelation(d.ID).
			WithTicket(d.Ticket).
			WithField("command", string(d.Kind)).
			WithField("source", d.Source))
	}
	switch {
	case !res.Accepted:
		return Ack{CommandID: cmd.ID, Accepted: false, Message: "command queue full"}
	case res.MergedInto != "":
		return Ack{CommandID: res.MergedInto, Accepted: true, Message: "merged into queued close_all"}
	}
	return Ack{CommandID: cmd.ID, Accepted: true, Message: fmt.Sprintf("%s queued for next tick", strings.ToLower(string(cmd.Kind)))}
}
