package news

import (
	"context"
	"time"

	"alphadesk/internal/types"
)

// Source 是经济日历来源。
type Source interface {
	Name() string
	Fetch(ctx context.Context, from, to time.Time) ([]types.NewsEvent, error)
}

// Cache 持久化最近一次抓取结果，供断网重启时使用。
type Cache interface {
	SaveNews(ctx context.Context, events []types.NewsEvent) error
	LoadNews(ctx context.Context, from, to time.Time) ([]types.NewsEvent, error)
}
