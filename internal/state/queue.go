package state

import "alphadesk/internal/types"

// EnqueueResult 描述一次入队的结果。
type EnqueueResult struct {
	Accepted bool
	// Dropped 为因队列满被挤掉的命令。
	Dropped *types.Command
	// MergedInto 非空时表示新命令与已排队的同类命令合并。
	MergedInto string
}

// Enqueue 把命令放入有界队列。队列满时丢弃最旧的非保护命令，CLOSE_ALL 永不丢弃。
func (s *EngineState) Enqueue(cmd types.Command) EnqueueResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) < s.queueCap {
		s.queue = append(s.queue, cmd)
		return EnqueueResult{Accepted: true}
	}
	for i, queued := range s.queue {
		if queued.Protected() {
			continue
		}
		dropped := queued
		s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
		s.queue = append(s.queue, cmd)
		return EnqueueResult{Accepted: true, Dropped: &dropped}
	}
	// 队列里全是 CLOSE_ALL。
	if cmd.Protected() {
		return EnqueueResult{Accepted: true, MergedInto: s.queue[len(s.queue)-1].ID}
	}
	return EnqueueResult{Dropped: &cmd}
}

// QueueDepth 返回当前排队的命令数。
func (s *EngineState) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
