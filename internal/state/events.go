package state

import "alphadesk/internal/types"

// RecordEvents 追加到最近事件环，超出容量时丢弃最旧的。
func (s *EngineState) RecordEvents(evs ...types.Event) {
	if len(evs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evs...)
	if over := len(s.events) - s.eventCap; over > 0 {
		s.events = append([]types.Event(nil), s.events[over:]...)
	}
}

// RecentEvents 按时间倒序返回最多 limit 条事件。
func (s *EngineState) RecentEvents(limit int) []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]types.Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.events[i])
	}
	return out
}
