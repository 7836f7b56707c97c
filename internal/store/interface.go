package store

import (
	"context"
	"time"

	"alphadesk/internal/config"
	"alphadesk/internal/types"
)

// RiskRepository 按交易日持久化风控状态。
type RiskRepository interface {
	LoadRisk(ctx context.Context, tradingDay string) (types.RiskState, bool, error)
	LatestRisk(ctx context.Context) (types.RiskState, bool, error)
	SaveRisk(ctx context.Context, rs types.RiskState) error
}

// ConfigRepository 保存每次生效的引擎配置。
type ConfigRepository interface {
	SaveEngineConfig(ctx context.Context, cfg config.EngineConfig, source string) (int64, error)
	LatestEngineConfig(ctx context.Context) (config.EngineConfig, bool, error)
}

// HistoryQuery 过滤历史成交。
type HistoryQuery struct {
	Symbol string
	Since  time.Time
	Limit  int
}

// TradeRepository 保存持仓与已平仓交易。
type TradeRepository interface {
	SavePosition(ctx context.Context, p types.Position) error
	CloseTrade(ctx context.Context, rec types.TradeRecord) error
	OpenPositions(ctx context.Context) ([]types.Position, error)
	TradeHistory(ctx context.Context, q HistoryQuery) ([]types.TradeRecord, error)
}

// EventRepository 保存引擎事件。
type EventRepository interface {
	SaveEvent(ctx context.Context, ev types.Event) error
	RecentEvents(ctx context.Context, limit int) ([]types.Event, error)
}

// NewsRepository 缓存经济日历，断网重启后仍能过滤。
type NewsRepository interface {
	SaveNews(ctx context.Context, events []types.NewsEvent) error
	LoadNews(ctx context.Context, from, to time.Time) ([]types.NewsEvent, error)
}

// Store 是数据库访问入口。
type Store interface {
	RiskRepository
	ConfigRepository
	TradeRepository
	EventRepository
	NewsRepository
	Close() error
}
