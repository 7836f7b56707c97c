package app

import (
	"context"
	"fmt"
	"os"

	"alphadesk/internal/config"
	"alphadesk/internal/engine"
	"alphadesk/internal/logger"
	"alphadesk/internal/news"
	"alphadesk/internal/notify"
	"alphadesk/internal/remote/telegram"
	"alphadesk/internal/store"
	"alphadesk/internal/strategy"
	apihttp "alphadesk/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动决策循环与远程入口。
type App struct {
	cfg        *config.Config
	engine     *engine.Engine
	store      store.Store
	dispatcher *notify.Dispatcher
	refresher  *news.Refresher
	bundles    *strategy.BundleWatcher
	bot        *telegram.Bot
	api        *apihttp.Server
	Summary    *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Engine 暴露决策循环，供测试使用。
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Run 恢复持久化状态后并行运行各组件，任一组件返回错误即整体退出。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil || a.engine == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.store.Close()

	if a.Summary != nil {
		a.Summary.Print(os.Stdout)
	}
	if err := a.refresher.SeedFromCache(ctx); err != nil {
		logger.Warnf("[news] 读取日历缓存失败: %v", err)
	}
	if err := a.engine.Restore(ctx); err != nil {
		logger.Warnf("[engine] 恢复状态失败，以空状态启动: %v", err)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.dispatcher.Run(ctx)
	})
	group.Go(func() error {
		return a.refresher.Run(ctx)
	})
	group.Go(func() error {
		if err := a.engine.Run(ctx); err != nil {
			return fmt.Errorf("decision loop error: %w", err)
		}
		return nil
	})
	if a.bundles != nil {
		group.Go(func() error {
			return a.bundles.Run(ctx)
		})
	}
	if a.bot != nil {
		group.Go(func() error {
			return a.bot.Run(ctx)
		})
	}
	if a.api != nil {
		group.Go(func() error {
			if err := a.api.Start(ctx); err != nil {
				return fmt.Errorf("remote api error: %w", err)
			}
			return nil
		})
	}
	return group.Wait()
}
