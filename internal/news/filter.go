// Package news 提供经济日历来源与新闻禁入窗口判断。
package news

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"alphadesk/internal/types"
)

// Check 是纯函数：now 落在任一达到 minImpact 的事件的 [t-before, t+after] 内时拒绝。
// 事件未声明窗口时使用 buffer。只约束新开仓。
func Check(events []types.NewsEvent, now time.Time, buffer time.Duration, minImpact types.Impact) types.GateDecision {
	for _, ev := range events {
		if ev.Impact < minImpact {
			continue
		}
		before, after := ev.Before, ev.After
		if before <= 0 {
			before = buffer
		}
		if after <= 0 {
			after = buffer
		}
		from, to := ev.Time.Add(-before), ev.Time.Add(after)
		if !now.Before(from) && !now.After(to) {
			return types.Deny(fmt.Sprintf("news blackout: %s %s at %s", ev.Currency, ev.Title, ev.Time.UTC().Format("15:04")))
		}
	}
	return types.Allow()
}

// Filter 持有最近一次刷新的事件列表，可被刷新协程与决策循环并发访问。
type Filter struct {
	mu        sync.RWMutex
	events    []types.NewsEvent
	updatedAt time.Time
}

func NewFilter() *Filter {
	return &Filter{}
}

// Update 替换事件列表（按时间排序）。
func (f *Filter) Update(events []types.NewsEvent, at time.Time) {
	cp := append([]types.NewsEvent(nil), events...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Time.Before(cp[j].Time) })
	f.mu.Lock()
	f.events = cp
	f.updatedAt = at
	f.mu.Unlock()
}

// Events 返回事件副本。
func (f *Filter) Events() []types.NewsEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]types.NewsEvent(nil), f.events...)
}

// UpdatedAt 返回最近一次刷新时间。
func (f *Filter) UpdatedAt() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.updatedAt
}

// Check 使用当前事件列表判断。
func (f *Filter) Check(now time.Time, buffer time.Duration, minImpact types.Impact) types.GateDecision {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Check(f.events, now, buffer, minImpact)
}

// Next 返回 now 之后第一条达到级别的事件。
func (f *Filter) Next(now time.Time, minImpact types.Impact) (types.NewsEvent, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ev := range f.events {
		if ev.Impact >= minImpact && ev.Time.After(now) {
			return ev, true
		}
	}
	return types.NewsEvent{}, false
}
