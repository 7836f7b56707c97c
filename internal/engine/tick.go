package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"alphadesk/internal/config"
	"alphadesk/internal/logger"
	"alphadesk/internal/position"
	"alphadesk/internal/risk"
	"alphadesk/internal/state"
	"alphadesk/internal/strategy"
	"alphadesk/internal/types"
)

// 每个 tick 的结果标签，用于指标。
const (
	tickOK          = "ok"
	tickIdle        = "idle"
	tickUnavailable = "broker_unavailable"
	tickPanic       = "panic"
)

// tickRun 汇集一个 tick 内产生的结果，结束时一次性提交。
type tickRun struct {
	view    state.TickView
	cfg     config.EngineConfig
	now     time.Time
	events  []types.Event
	signals map[string]types.Signal
	risk    types.RiskState
	closed  []types.TradeRecord
}

func (t *tickRun) add(evs ...types.Event) {
	t.events = append(t.events, evs...)
}

// Tick 执行一个完整的决策周期。任何组件失败都不会阻止下一个 tick。
func (e *Engine) Tick(ctx context.Context) {
	started := time.Now()
	result := tickOK
	defer func() {
		if r := recover(); r != nil {
			result = tickPanic
			logger.Errorf("[engine] tick panic: %v\n%s", r, debug.Stack())
		}
		e.metrics.Tick(result, time.Since(started))
	}()

	view := e.state.Begin()
	run := &tickRun{
		view:    view,
		cfg:     view.Config,
		now:     e.opts.Now(),
		signals: make(map[string]types.Signal),
		risk:    view.Risk,
	}
	defer e.commit(ctx, run)

	if view.Applied {
		logger.Infof("[engine] 新配置 v%d 生效 symbols=%v tick=%s", view.ConfigVersion, run.cfg.Symbols, run.cfg.TickInterval)
		run.add(types.NewEvent(types.EventConfigApplied, types.SeverityInfo,
			fmt.Sprintf("engine config v%d applied", view.ConfigVersion)).
			WithField("version", view.ConfigVersion))
	}
	agent, swapped := e.swapAgent()
	if swapped {
		logger.Infof("[engine] 策略切换为 %s (schema v%d)", agent.Name(), agent.SchemaVersion())
	}

	e.mgr.BeginTick()
	e.runCommands(ctx, run)

	if !view.Running {
		result = tickIdle
		e.absorb(run, e.mgr.RetryClosing(ctx))
		return
	}

	acct, live, ok := e.pollBroker(ctx, run)
	if !ok {
		result = tickUnavailable
		return
	}
	e.account = acct
	e.absorb(run, e.mgr.Reconcile(ctx, live))

	gate := e.evaluateRisk(run, acct)
	gate = e.evaluateNews(run, gate)

	for _, symbol := range run.cfg.Symbols {
		if ctx.Err() != nil {
			break
		}
		e.absorb(run, e.tickSymbol(ctx, run, agent, symbol, gate))
	}
	for _, symbol := range e.unlistedSymbols(run.cfg.Symbols) {
		if ctx.Err() != nil {
			break
		}
		e.absorb(run, e.manageUnlisted(ctx, run, symbol))
	}
}

// unlistedSymbols 返回有持仓但不在当前配置中的品种（配置切换后遗留或对账接管的持仓）。
func (e *Engine) unlistedSymbols(listed []string) []string {
	seen := make(map[string]bool, len(listed))
	for _, s := range listed {
		seen[s] = true
	}
	var out []string
	for _, p := range e.mgr.Positions() {
		if seen[p.Symbol] {
			continue
		}
		seen[p.Symbol] = true
		out = append(out, p.Symbol)
	}
	return out
}

// manageUnlisted 只管理既有持仓（止损、分批、时间退出），不评估策略也不开新仓。
func (e *Engine) manageUnlisted(ctx context.Context, run *tickRun, symbol string) position.Result {
	mc, err := e.broker.FetchContext(ctx, symbol, run.cfg.Timeframe, e.opts.HistoryBars)
	if err != nil {
		logger.Warnf("[engine] %s 获取行情失败，本 tick 不管理遗留持仓: %v", symbol, err)
		return position.Result{}
	}
	mc = mc.WithAccount(e.account)
	mc.Exposure = e.mgr.Exposure(symbol)
	return e.mgr.Manage(ctx, mc, types.HoldSignal(symbol, "symbol not configured"), types.Deny("symbol not configured"), run.cfg)
}

// runCommands 依接收顺序执行排队的平仓命令；引擎停止时同样执行。START/STOP 不排队，由 Control 直接切换运行标志。
func (e *Engine) runCommands(ctx context.Context, run *tickRun) {
	for _, cmd := range run.view.Commands {
		var res position.Result
		msg := ""
		switch cmd.Kind {
		case types.CommandCloseAll:
			res = e.mgr.CloseAll(ctx, position.ReasonCloseAll, cmd.ID)
			msg = fmt.Sprintf("close_all: %d closed", len(res.Closed))
		case types.CommandCloseTicket:
			if cmd.Ticket == "" && cmd.Symbol != "" {
				res = e.mgr.CloseSymbol(ctx, cmd.Symbol, position.ReasonManual, cmd.ID)
				msg = fmt.Sprintf("close %s: %d closed", cmd.Symbol, len(res.Closed))
				break
			}
			var found bool
			res, found = e.mgr.CloseTicket(ctx, cmd.Ticket, position.ReasonManual, cmd.ID)
			if !found {
				msg = fmt.Sprintf("ticket %s not open, nothing to do", cmd.Ticket)
			} else {
				msg = fmt.Sprintf("close %s: %d closed", cmd.Ticket, len(res.Closed))
			}
		default:
			msg = "no-op"
		}
		e.absorb(run, res)
		sev := types.SeverityInfo
		if failed := countFailures(res.Events); failed > 0 {
			sev = types.SeverityWarn
			msg = fmt.Sprintf("%s, %d failed (will retry)", msg, failed)
		}
		logger.Infof("[engine] 命令 %s (%s) 完成: %s", cmd.Kind, cmd.Source, msg)
		run.add(types.NewEvent(types.EventCommandCompleted, sev, msg).
			WithCorrelation(cmd.ID).
			WithTicket(cmd.Ticket).
			WithField("command", string(cmd.Kind)).
			WithField("source", cmd.Source))
	}
}

// pollBroker 读取账户与持仓。任何一步失败都跳过本 tick 的交易部分。
func (e *Engine) pollBroker(ctx context.Context, run *tickRun) (types.AccountSnapshot, []types.BrokerPosition, bool) {
	acct, err := e.broker.AccountSnapshot(ctx)
	if err == nil {
		var live []types.BrokerPosition
		live, err = e.broker.ListPositions(ctx)
		if err == nil {
			if !e.brokerOK {
				logger.Infof("[engine] 券商连接恢复")
			}
			e.brokerOK = true
			return acct, live, true
		}
	}
	logger.Warnf("[engine] 券商不可用，跳过本 tick: %v", err)
	if e.brokerOK {
		run.add(types.NewEvent(types.EventBrokerUnavailable, types.SeverityError, err.Error()).
			WithField("broker", e.broker.Name()))
	}
	e.brokerOK = false
	return types.AccountSnapshot{}, nil, false
}

// evaluateRisk 推进日内风控状态，首次触发时产生 RiskHalt 事件。
func (e *Engine) evaluateRisk(run *tickRun, acct types.AccountSnapshot) types.GateDecision {
	out := risk.Advance(run.risk, acct, run.cfg, run.now)
	if out.Rolled {
		logger.Infof("[risk] 进入新交易日 %s，起始权益 %.2f", out.State.TradingDay, out.State.DayStartEquity)
	}
	if out.Tripped {
		logger.Warnf("[risk] 熔断: %s，至 %s 前禁止开仓", out.State.HaltReason, out.State.HaltedUntil.Format(time.RFC3339))
		run.add(types.NewEvent(types.EventRiskHalt, types.SeverityWarn, out.State.HaltReason).
			WithField("halted_until", out.State.HaltedUntil.Format(time.RFC3339)).
			WithField("daily_pnl", out.State.DailyPnL).
			WithField("equity", out.State.Equity))
	}
	run.risk = out.State
	e.account.DailyPnL = out.State.DailyPnL
	e.account.DailyDrawdown = out.State.Drawdown
	e.metrics.Equity(acct.Equity)
	return out.Decision
}

// evaluateNews 在风控放行的前提下叠加新闻禁入窗口，进入窗口时产生一次事件。
func (e *Engine) evaluateNews(run *tickRun, gate types.GateDecision) types.GateDecision {
	if !run.cfg.News.Enabled {
		e.blackedOut = false
		return gate
	}
	nd := e.filter.Check(run.now, run.cfg.NewsBuffer(), run.cfg.MinImpactLevel())
	if nd.Allowed {
		if e.blackedOut {
			logger.Infof("[news] 新闻禁入窗口结束")
		}
		e.blackedOut = false
		return gate
	}
	if !e.blackedOut {
		logger.Infof("[news] 进入新闻禁入窗口: %s", nd.Reason)
		run.add(types.NewEvent(types.EventNewsBlackout, types.SeverityInfo, nd.Reason))
	}
	e.blackedOut = true
	if !gate.Allowed {
		return gate
	}
	return nd
}

func (e *Engine) tickSymbol(ctx context.Context, run *tickRun, agent strategy.Agent, symbol string, gate types.GateDecision) position.Result {
	mc, err := e.broker.FetchContext(ctx, symbol, run.cfg.Timeframe, e.opts.HistoryBars)
	if err != nil {
		logger.Warnf("[engine] %s 获取行情失败，本 tick 观望: %v", symbol, err)
		return position.Result{}
	}
	mc = mc.WithAccount(e.account)
	mc.Exposure = e.mgr.Exposure(symbol)

	sig := types.HoldSignal(symbol, "no agent")
	if agent != nil {
		sig, err = strategy.Evaluate(agent, mc)
		if err != nil {
			logger.Warnf("[engine] %s 策略评估失败，按 HOLD 处理: %v", symbol, err)
			run.add(types.NewEvent(types.EventSignalFailed, types.SeverityWarn, err.Error()).
				WithSymbol(symbol).
				WithField("agent", agent.Name()))
		}
	}
	run.signals[symbol] = sig
	e.metrics.Signal(symbol, sig.Action)
	if sig.IsEntry() && !gate.Allowed {
		logger.Infof("[engine] %s %s 信号被拦截: %s", symbol, sig.Action, gate.Reason)
	}
	return e.mgr.Manage(ctx, mc, sig, gate, run.cfg)
}

// absorb 收集事件与平仓记录并更新订单指标。
func (e *Engine) absorb(run *tickRun, res position.Result) {
	run.add(res.Events...)
	run.closed = append(run.closed, res.Closed...)
	for _, ev := range res.Events {
		op, _ := ev.Fields["op"].(string)
		switch ev.Kind {
		case types.EventPositionOpened:
			e.metrics.Order("submit_order", "ok")
		case types.EventPartialClosed, types.EventPositionClosed:
			e.metrics.Order("close_order", "ok")
		case types.EventStopMoved:
			e.metrics.Order("modify_order", "ok")
		case types.EventOrderRejected:
			e.metrics.Order(op, "rejected")
		case types.EventOrderFailed:
			e.metrics.Order(op, "failed")
		}
	}
}

// commit 在 tick 结束时持久化、写回快照并发布事件。
func (e *Engine) commit(ctx context.Context, run *tickRun) {
	persistCtx := context.WithoutCancel(ctx)
	e.persistTrades(persistCtx, run.closed)
	if run.view.Running {
		e.persistRisk(persistCtx, run.risk)
	}
	positions := e.mgr.Snapshot()
	var next *types.NewsEvent
	if ev, ok := e.filter.Next(run.now, run.cfg.MinImpactLevel()); ok {
		next = &ev
	}
	e.state.Commit(state.Commit{
		At:              run.now,
		Risk:            run.risk,
		Account:         e.account,
		Positions:       positions,
		Signals:         run.signals,
		BrokerAvailable: e.brokerOK && e.broker.Available(),
		NextNews:        next,
	})
	e.metrics.OpenPositions(len(e.mgr.Positions()))
	e.emit(run.events...)
}

func countFailures(evs []types.Event) int {
	n := 0
	for _, ev := range evs {
		if ev.Kind == types.EventOrderFailed || ev.Kind == types.EventOrderRejected {
			n++
		}
	}
	return n
}
