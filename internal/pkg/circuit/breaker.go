// Package circuit 提供券商调用使用的熔断器。
package circuit

import (
	"sync"
	"time"

	"alphadesk/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	}
	return "UNKNOWN"
}

// Stats 是熔断器的只读快照。
type Stats struct {
	State     State
	Failures  int
	OpenedAt  time.Time
	LastError string
}

// Breaker 连续失败达到阈值后打开；冷却期过后只放行一个试探请求，
// 试探成功关闭，失败重新打开并重新计时。
type Breaker struct {
	name     string
	failures int
	cooldown time.Duration
	nowFn    func() time.Time
	onChange func(name string, from, to State)

	mu       sync.Mutex
	state    State
	count    int
	openedAt time.Time
	probing  bool
	lastErr  string
}

func New(name string, failures int, cooldown time.Duration) *Breaker {
	if failures <= 0 {
		failures = 1
	}
	return &Breaker{name: name, failures: failures, cooldown: cooldown, nowFn: time.Now}
}

// OnChange 设置状态变化回调，回调在锁外同步执行。
func (b *Breaker) OnChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{State: b.state, Failures: b.count, OpenedAt: b.openedAt, LastError: b.lastErr}
}

// Allow 判断本次调用能否发出。返回 true 后必须调用 Report。
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	var from, to State
	changed := false
	allowed := true
	switch b.state {
	case StateOpen:
		if b.nowFn().Sub(b.openedAt) < b.cooldown {
			allowed = false
			break
		}
		from, to, changed = b.state, StateHalfOpen, true
		b.state = StateHalfOpen
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			allowed = false
		} else {
			b.probing = true
		}
	}
	b.mu.Unlock()
	if changed {
		b.notify(from, to)
	}
	return allowed
}

// Report 记录调用结果；err 为 nil 表示成功。
func (b *Breaker) Report(err error) {
	b.mu.Lock()
	from := b.state
	b.probing = false
	if err == nil {
		b.count = 0
		b.state = StateClosed
	} else {
		b.count++
		b.lastErr = err.Error()
		if b.state == StateHalfOpen || b.count >= b.failures {
			b.state = StateOpen
			b.openedAt = b.nowFn()
		}
	}
	to := b.state
	b.mu.Unlock()
	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	b.mu.Lock()
	fn := b.onChange
	stats := Stats{Failures: b.count, LastError: b.lastErr}
	b.mu.Unlock()
	if fn != nil {
		fn(b.name, from, to)
		return
	}
	logger.Warnf("[circuit] %s 状态变化: %s -> %s (failures=%d/%d, cooldown=%s, last=%s)",
		b.name, from, to, stats.Failures, b.failures, b.cooldown, stats.LastError)
}
