// Package state 持有引擎唯一的共享状态。所有读取都返回深拷贝快照。
package state

import (
	"sync"
	"time"

	"alphadesk/internal/config"
	"alphadesk/internal/types"
)

const (
	DefaultQueueSize    = 64
	DefaultEventHistory = 200
)

// Snapshot 是 EngineState 在某次提交后的完整只读副本。
type Snapshot struct {
	Running         bool                    `json:"running"`
	Config          config.EngineConfig     `json:"config"`
	ConfigVersion   int                     `json:"config_version"`
	ConfigStaged    bool                    `json:"config_staged"`
	Risk            types.RiskState         `json:"risk"`
	Account         types.AccountSnapshot   `json:"account"`
	Positions       []types.Position        `json:"positions"`
	Signals         map[string]types.Signal `json:"signals"`
	BrokerAvailable bool                    `json:"broker_available"`
	NextNews        *types.NewsEvent        `json:"next_news,omitempty"`
	LastTick        time.Time               `json:"last_tick"`
	TickCount       int64                   `json:"tick_count"`
	QueueDepth      int                     `json:"queue_depth"`
	StartedAt       time.Time               `json:"started_at"`
}

// TickView 是决策循环在 tick 开始时一次性取得的输入。
type TickView struct {
	Running       bool
	Config        config.EngineConfig
	ConfigVersion int
	// Applied 表示本次 tick 边界生效了一份新配置。
	Applied  bool
	Commands []types.Command
	Risk     types.RiskState
}

// Commit 是 tick 结束时写回的结果。
type Commit struct {
	At              time.Time
	Risk            types.RiskState
	Account         types.AccountSnapshot
	Positions       []types.Position
	Signals         map[string]types.Signal
	BrokerAvailable bool
	NextNews        *types.NewsEvent
}

type Options struct {
	QueueSize    int
	EventHistory int
	Now          func() time.Time
}

// EngineState 由互斥锁保护；决策循环只在 Begin 和 Commit 时持锁。
type EngineState struct {
	mu sync.Mutex

	running    bool
	cfg        config.EngineConfig
	cfgVersion int
	staged     *config.EngineConfig

	risk      types.RiskState
	account   types.AccountSnapshot
	positions []types.Position
	signals   map[string]types.Signal
	brokerOK  bool
	nextNews  *types.NewsEvent
	lastTick  time.Time
	tickCount int64
	startedAt time.Time

	queue    []types.Command
	queueCap int

	events   []types.Event
	eventCap int
}

func New(cfg config.EngineConfig, opts Options) *EngineState {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.EventHistory <= 0 {
		opts.EventHistory = DefaultEventHistory
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &EngineState{
		cfg:        cfg.Clone(),
		cfgVersion: 1,
		signals:    make(map[string]types.Signal),
		brokerOK:   true,
		startedAt:  opts.Now(),
		queueCap:   opts.QueueSize,
		eventCap:   opts.EventHistory,
	}
}

// Snapshot 返回最近一次提交的状态副本。
func (s *EngineState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{
		Running:         s.running,
		Config:          s.cfg.Clone(),
		ConfigVersion:   s.cfgVersion,
		ConfigStaged:    s.staged != nil,
		Risk:            s.risk,
		Account:         s.account,
		Positions:       append([]types.Position{}, s.positions...),
		Signals:         make(map[string]types.Signal, len(s.signals)),
		BrokerAvailable: s.brokerOK,
		LastTick:        s.lastTick,
		TickCount:       s.tickCount,
		QueueDepth:      len(s.queue),
		StartedAt:       s.startedAt,
	}
	for k, v := range s.signals {
		out.Signals[k] = v
	}
	if s.nextNews != nil {
		ev := *s.nextNews
		out.NextNews = &ev
	}
	return out
}

// SetRunning 切换运行标志，返回是否发生变化。正在进行的 tick 不受影响，下一个 tick 读取新值。
func (s *EngineState) SetRunning(running bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.running != running
	s.running = running
	return changed
}

func (s *EngineState) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Config 返回当前生效的配置；若有暂存配置也一并返回。
func (s *EngineState) Config() (active config.EngineConfig, version int, staged *config.EngineConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active = s.cfg.Clone()
	if s.staged != nil {
		cp := s.staged.Clone()
		staged = &cp
	}
	return active, s.cfgVersion, staged
}

// StageConfig 暂存一份已校验的配置，在下一个 tick 边界整体替换。
func (s *EngineState) StageConfig(cfg config.EngineConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cfg.Clone()
	s.staged = &cp
}

// RestoreRisk 载入持久化的风控状态，启动时调用。
func (s *EngineState) RestoreRisk(rs types.RiskState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.risk = rs
}

// Begin 在 tick 开始时调用：应用暂存配置、取走命令队列并返回运行标志。
func (s *EngineState) Begin() TickView {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := TickView{Running: s.running}
	if s.staged != nil {
		s.cfg = *s.staged
		s.staged = nil
		s.cfgVersion++
		view.Applied = true
	}
	view.Config = s.cfg.Clone()
	view.ConfigVersion = s.cfgVersion
	view.Risk = s.risk
	if len(s.queue) > 0 {
		view.Commands = s.queue
		s.queue = nil
	}
	return view
}

// Commit 原子地写回一个 tick 的结果。
func (s *EngineState) Commit(c Commit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.risk = c.Risk
	s.account = c.Account
	s.positions = append([]types.Position{}, c.Positions...)
	if c.Signals != nil {
		for k, v := range c.Signals {
			s.signals[k] = v
		}
	}
	s.brokerOK = c.BrokerAvailable
	s.nextNews = c.NextNews
	s.lastTick = c.At
	s.tickCount++
}
