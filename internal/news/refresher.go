package news

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alphadesk/internal/logger"
	"alphadesk/internal/types"
)

// Refresher 定期从来源刷新日历，来源按顺序作为后备；全部失败时回落到缓存。
type Refresher struct {
	sources  []Source
	cache    Cache
	filter   *Filter
	interval time.Duration
	lookback time.Duration
	horizon  time.Duration
	nowFn    func() time.Time
}

// NewRefresher 创建刷新器；cache 可为 nil。
func NewRefresher(filter *Filter, cache Cache, interval time.Duration, sources ...Source) *Refresher {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Refresher{
		sources:  sources,
		cache:    cache,
		filter:   filter,
		interval: interval,
		lookback: 24 * time.Hour,
		horizon:  7 * 24 * time.Hour,
		nowFn:    time.Now,
	}
}

// Run 立即刷新一次，之后按间隔刷新直到 ctx 取消。
func (r *Refresher) Run(ctx context.Context) error {
	if len(r.sources) == 0 {
		return nil
	}
	if err := r.Refresh(ctx); err != nil {
		logger.Warnf("[news] 首次刷新失败: %v", err)
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				logger.Warnf("[news] 刷新失败: %v", err)
			}
		}
	}
}

// Refresh 依次尝试来源，成功后更新过滤器并写缓存。
func (r *Refresher) Refresh(ctx context.Context) error {
	now := r.nowFn()
	from, to := now.Add(-r.lookback), now.Add(r.horizon)
	var errs []error
	for _, src := range r.sources {
		events, err := src.Fetch(ctx, from, to)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		r.filter.Update(events, now)
		logger.Infof("[news] 从 %s 获取 %d 条日历事件", src.Name(), len(events))
		if r.cache != nil {
			if err := r.cache.SaveNews(ctx, events); err != nil {
				logger.Warnf("[news] 写入日历缓存失败: %v", err)
			}
		}
		return nil
	}
	fetchErr := errors.Join(errs...)
	if r.cache == nil {
		return fetchErr
	}
	cached, err := r.cache.LoadNews(ctx, from, to)
	if err != nil {
		return errors.Join(fetchErr, fmt.Errorf("cache: %w", err))
	}
	if len(r.filter.Events()) == 0 {
		r.filter.Update(cached, now)
		logger.Infof("[news] 来源不可用，使用缓存中的 %d 条事件", len(cached))
	}
	return fetchErr
}

// SeedFromCache 在启动时用缓存填充过滤器。
func (r *Refresher) SeedFromCache(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	now := r.nowFn()
	events, err := r.cache.LoadNews(ctx, now.Add(-r.lookback), now.Add(r.horizon))
	if err != nil {
		return err
	}
	if len(events) > 0 {
		r.filter.Update(events, now)
	}
	return nil
}

// Upcoming 返回 now 之后 window 内达到级别的事件，供状态展示。
func Upcoming(events []types.NewsEvent, now time.Time, window time.Duration, minImpact types.Impact) []types.NewsEvent {
	var out []types.NewsEvent
	for _, ev := range events {
		if ev.Impact >= minImpact && ev.Time.After(now) && ev.Time.Before(now.Add(window)) {
			out = append(out, ev)
		}
	}
	return out
}
