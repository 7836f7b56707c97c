// Package engine 实现决策循环：按 tick 串联行情、策略、风控、新闻过滤与持仓管理。
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"alphadesk/internal/broker"
	"alphadesk/internal/logger"
	"alphadesk/internal/metrics"
	"alphadesk/internal/news"
	"alphadesk/internal/position"
	"alphadesk/internal/scheduler"
	"alphadesk/internal/state"
	"alphadesk/internal/strategy"
	"alphadesk/internal/types"
)

// Broker 是带可用性探测的券商适配器，通常为 *broker.Guarded。
type Broker interface {
	broker.Adapter
	Available() bool
}

// Store 是决策循环需要的持久化子集，可为 nil。
type Store interface {
	SaveRisk(ctx context.Context, rs types.RiskState) error
	LatestRisk(ctx context.Context) (types.RiskState, bool, error)
	SavePosition(ctx context.Context, p types.Position) error
	CloseTrade(ctx context.Context, rec types.TradeRecord) error
	OpenPositions(ctx context.Context) ([]types.Position, error)
}

// Publisher 接收引擎事件，通常为 *notify.Dispatcher。
type Publisher interface {
	Publish(evs ...types.Event)
}

type Options struct {
	HistoryBars int
	// TickOffset 是周期边界之后的延迟，给券商留出收线时间。
	TickOffset time.Duration
	Now        func() time.Time
}

type Engine struct {
	state     *state.EngineState
	broker    Broker
	mgr       *position.Manager
	filter    *news.Filter
	store     Store
	publisher Publisher
	metrics   *metrics.Recorder
	opts      Options

	agentMu     sync.Mutex
	agent       strategy.Agent
	stagedAgent strategy.Agent

	// 以下字段只在 tick 内读写。
	account    types.AccountSnapshot
	brokerOK   bool
	blackedOut bool
}

func New(st *state.EngineState, b Broker, agent strategy.Agent, filter *news.Filter, store Store, pub Publisher, rec *metrics.Recorder, opts Options) *Engine {
	if opts.HistoryBars <= 0 {
		opts.HistoryBars = 200
	}
	if opts.TickOffset < 0 {
		opts.TickOffset = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if filter == nil {
		filter = news.NewFilter()
	}
	return &Engine{
		state:     st,
		broker:    b,
		mgr:       position.NewManager(b),
		filter:    filter,
		store:     store,
		publisher: pub,
		metrics:   rec,
		opts:      opts,
		agent:     agent,
		brokerOK:  true,
	}
}

// State 返回共享状态，供远程入口读取快照。
func (e *Engine) State() *state.EngineState { return e.state }

// Agent 返回当前生效的策略。
func (e *Engine) Agent() strategy.Agent {
	e.agentMu.Lock()
	defer e.agentMu.Unlock()
	return e.agent
}

// StageAgent 暂存新策略，在下一个 tick 边界替换，决不在 tick 中途切换。
func (e *Engine) StageAgent(a strategy.Agent) error {
	if a == nil {
		return fmt.Errorf("agent must not be nil")
	}
	if !strategy.SchemaSupported(a.SchemaVersion()) {
		return &strategy.IncompatibleSchemaError{Agent: a.Name(), Version: a.SchemaVersion()}
	}
	e.agentMu.Lock()
	e.stagedAgent = a
	e.agentMu.Unlock()
	return nil
}

func (e *Engine) swapAgent() (strategy.Agent, bool) {
	e.agentMu.Lock()
	defer e.agentMu.Unlock()
	swapped := false
	if e.stagedAgent != nil {
		e.agent = e.stagedAgent
		e.stagedAgent = nil
		swapped = true
	}
	return e.agent, swapped
}

// Restore 在首个 tick 之前载入持久化的风控状态与未平仓交易。
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	rs, ok, err := e.store.LatestRisk(ctx)
	if err != nil {
		return fmt.Errorf("load risk state: %w", err)
	}
	if ok {
		e.state.RestoreRisk(rs)
		if rs.Halted(e.opts.Now()) {
			logger.Warnf("[engine] 恢复风控熔断状态: %s (至 %s)", rs.HaltReason, rs.HaltedUntil.Format(time.RFC3339))
		}
	}
	open, err := e.store.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}
	e.mgr.Restore(open)
	if len(open) > 0 {
		logger.Infof("[engine] 恢复 %d 笔未平仓交易，等待首次对账", len(open))
	}
	return nil
}

// Run 按 tick_interval 对齐运行决策循环，直到 ctx 取消。
func (e *Engine) Run(ctx context.Context) error {
	s := scheduler.NewAlignedScheduler("engine", func() time.Duration {
		cfg, _, _ := e.state.Config()
		return cfg.TickDuration()
	}, e.opts.TickOffset)
	s.RunImmediately = true
	return s.Run(ctx, func(ctx context.Context) { e.Tick(ctx) })
}

// emit 记录事件并立即发布，用于 tick 之外产生的事件。
func (e *Engine) emit(evs ...types.Event) {
	if len(evs) == 0 {
		return
	}
	e.state.RecordEvents(evs...)
	if e.publisher != nil {
		e.publisher.Publish(evs...)
	}
}

func (e *Engine) persistRisk(ctx context.Context, rs types.RiskState) {
	if e.store == nil || rs.TradingDay == "" {
		return
	}
	if err := e.store.SaveRisk(ctx, rs); err != nil {
		logger.Warnf("[engine] 保存风控状态失败: %v", err)
	}
}

func (e *Engine) persistTrades(ctx context.Context, closed []types.TradeRecord) {
	if e.store == nil {
		return
	}
	for _, rec := range closed {
		if err := e.store.CloseTrade(ctx, rec); err != nil {
			logger.Warnf("[engine] 保存平仓记录 %s 失败: %v", rec.Ticket, err)
		}
	}
	for _, p := range e.mgr.Positions() {
		if err := e.store.SavePosition(ctx, p); err != nil {
			logger.Warnf("[engine] 保存持仓 %s 失败: %v", p.Ticket, err)
		}
	}
}
