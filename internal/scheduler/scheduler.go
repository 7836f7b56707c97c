// Package scheduler 按周期边界对齐地驱动任务。
package scheduler

import (
	"context"
	"time"

	"alphadesk/internal/logger"
)

// AlignedScheduler 在每个周期边界之后 Offset 处执行任务。
// IntervalFn 每轮重新读取，配置热更新后下一轮即按新周期对齐。
type AlignedScheduler struct {
	Name           string
	IntervalFn     func() time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAlignedScheduler(name string, interval func() time.Duration, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{
		Name:       name,
		IntervalFn: interval,
		Offset:     offset,
		nowFn:      time.Now,
	}
}

// Run 阻塞直到 ctx 取消。任务串行执行，耗时超过一个周期时跳过错过的边界。
func (s *AlignedScheduler) Run(ctx context.Context, task func(context.Context)) error {
	if task == nil || s.IntervalFn == nil {
		logger.Warnf("[scheduler] %s: 未配置任务或周期，退出", s.Name)
		return nil
	}
	if s.Offset < 0 {
		logger.Warnf("[scheduler] %s: offset=%s 为负，按 0 处理", s.Name, s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	startAt := s.nowFn().UTC()
	logger.Infof("[scheduler] %s: 启动 interval=%s offset=%s run_immediately=%v",
		s.Name, s.IntervalFn(), s.Offset, s.RunImmediately)

	if s.RunImmediately {
		task(ctx)
	}
	for {
		interval := s.IntervalFn()
		if interval <= 0 {
			logger.Warnf("[scheduler] %s: 非法周期 %s，退出", s.Name, interval)
			return nil
		}
		now := s.nowFn().UTC()
		_, wakeAt, wait := s.nextTimes(now, interval)
		logger.Debugf("[scheduler] %s: 下一次执行=%s (in %s) | uptime=%s",
			s.Name, wakeAt.Format(time.RFC3339), wait.Truncate(time.Second), now.Sub(startAt).Truncate(time.Second))

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				logger.Infof("[scheduler] %s: ctx done, exit", s.Name)
				return nil
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return nil
		}
		task(ctx)
	}
}

func (s *AlignedScheduler) nextTimes(now time.Time, interval time.Duration) (boundary, wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	boundary = now.Truncate(interval).Add(interval)
	wakeAt = boundary.Add(s.Offset)
	if s.Offset >= interval {
		wakeAt = boundary.Add(s.Offset % interval)
	}
	return boundary, wakeAt, wakeAt.Sub(now)
}
