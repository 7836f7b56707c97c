package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"alphadesk/internal/broker"
	"alphadesk/internal/config"
	"alphadesk/internal/engine"
	"alphadesk/internal/logger"
	"alphadesk/internal/metrics"
	"alphadesk/internal/news"
	"alphadesk/internal/notify"
	"alphadesk/internal/remote/telegram"
	"alphadesk/internal/state"
	"alphadesk/internal/store"
	"alphadesk/internal/store/sqlite"
	"alphadesk/internal/strategy"
	apihttp "alphadesk/internal/transport/http"
	"alphadesk/internal/types"
)

type AppBuilder struct {
	cfg *config.Config

	storeFn  func(config.StoreConfig) (store.Store, error)
	brokerFn func(config.BrokerConfig, float64) (engine.Broker, error)
	agentFn  func(config.StrategyConfig) (strategy.Agent, error)
	metrics  *metrics.Recorder
}

type AppBuilderOption func(*AppBuilder)

// WithStore 替换数据库构造，测试使用。
func WithStore(fn func(config.StoreConfig) (store.Store, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.storeFn = fn }
}

func WithBroker(fn func(config.BrokerConfig, float64) (engine.Broker, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.brokerFn = fn }
}

func WithAgent(fn func(config.StrategyConfig) (strategy.Agent, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.agentFn = fn }
}

// WithMetrics 使用独立的 Recorder，避免重复注册全局指标。
func WithMetrics(rec *metrics.Recorder) AppBuilderOption {
	return func(b *AppBuilder) { b.metrics = rec }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:      cfg,
		storeFn:  openStore,
		brokerFn: buildBroker,
		agentFn:  loadAgent,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	return sqlite.Open(cfg)
}

func buildBroker(cfg config.BrokerConfig, contractSize float64) (engine.Broker, error) {
	return broker.NewFromConfig(cfg, contractSize)
}

func loadAgent(cfg config.StrategyConfig) (strategy.Agent, error) {
	reg := strategy.NewRegistry(strategy.WithPredictorOpener(strategy.ONNXOpener(cfg.ORTPath)))
	return reg.LoadFile(cfg.Bundle)
}

func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	watcher, err := config.NewEngineWatcher(cfg.Engine.Path, cfg.Engine.Watch)
	if err != nil {
		return nil, err
	}
	ecfg, _ := watcher.Current()
	logger.Infof("✓ 引擎配置已加载: %s symbols=%v", watcher.Path(), ecfg.Symbols)

	db, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err != nil {
			_ = db.Close()
		}
	}()
	if _, err = db.SaveEngineConfig(ctx, ecfg, "file"); err != nil {
		return nil, fmt.Errorf("persist engine config: %w", err)
	}

	agent, err := b.agentFn(cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("load strategy: %w", err)
	}
	logger.Infof("✓ 策略已加载: %s (schema v%d)", agent.Name(), agent.SchemaVersion())

	brk, err := b.brokerFn(cfg.Broker, ecfg.ContractSize)
	if err != nil {
		return nil, fmt.Errorf("build broker: %w", err)
	}

	rec := b.metrics
	if rec == nil {
		rec = metrics.New()
	}
	st := state.New(ecfg, state.Options{})
	dispatcher, hub, tg := b.buildNotify(db, rec)

	filter := news.NewFilter()
	sources, err := buildNewsSources(cfg.News, ecfg.Location())
	if err != nil {
		return nil, err
	}
	refresher := news.NewRefresher(filter, db, time.Duration(cfg.News.RefreshMinutes)*time.Minute, sources...)

	eng := engine.New(st, brk, agent, filter, db, dispatcher, rec, engine.Options{HistoryBars: cfg.Broker.HistoryBars})
	ctl := eng.Control()

	watcher.OnChange(func(next config.EngineConfig) {
		st.StageConfig(next)
		if _, err := db.SaveEngineConfig(context.Background(), next, "file"); err != nil {
			logger.Warnf("[config] 保存引擎配置历史失败: %v", err)
		}
	})
	watcher.OnInvalid(func(err error) {
		dispatcher.Publish(types.NewEvent(types.EventConfigRejected, types.SeverityWarn, err.Error()).
			WithField("source", "file"))
	})

	var bundles *strategy.BundleWatcher
	if cfg.Strategy.Watch && cfg.Strategy.Bundle != "" {
		bundles = strategy.NewBundleWatcher(cfg.Strategy.Bundle, func(path string) (strategy.Agent, error) {
			sc := cfg.Strategy
			sc.Bundle = path
			return b.agentFn(sc)
		})
		bundles.OnAgent(func(a strategy.Agent) {
			if err := eng.StageAgent(a); err != nil {
				rejectStrategy(dispatcher, err)
			}
		})
		bundles.OnError(func(err error) {
			rejectStrategy(dispatcher, err)
		})
	}

	var bot *telegram.Bot
	if tg != nil {
		bot = telegram.NewBot(tg, ctl, cfg.Telegram.ChatID, cfg.Telegram.PollTimeout)
	}

	var api *apihttp.Server
	if cfg.HTTP.Enabled {
		auth, aerr := apihttp.NewAuthenticator(cfg.HTTP.PasswordHash, time.Duration(cfg.HTTP.TokenTTLMinutes)*time.Minute, cfg.HTTP.LoginPerMinute)
		if aerr != nil {
			return nil, aerr
		}
		api, err = apihttp.NewServer(apihttp.ServerConfig{
			Addr:       cfg.HTTP.Addr,
			Auth:       auth,
			Control:    ctl,
			Stager:     st,
			Store:      db,
			Events:     dispatcher,
			EnginePath: watcher.Path(),
			WS:         http.HandlerFunc(hub.ServeWS),
			Metrics:    rec.Handler(),
		})
		if err != nil {
			return nil, err
		}
	}

	summary := &StartupSummary{
		Env:          cfg.App.Env,
		Symbols:      ecfg.Symbols,
		Timeframe:    ecfg.Timeframe,
		TickInterval: ecfg.TickInterval,
		Broker:       cfg.Broker.Kind,
		Agent:        agent.Name(),
		AgentVersion: agent.SchemaVersion(),
		NewsProvider: cfg.News.Provider,
		Sinks:        dispatcher.Sinks(),
		HTTPAddr:     api.Addr(),
		Telegram:     bot != nil,
		StorePath:    cfg.Store.Path,
		EnginePath:   watcher.Path(),
		Watching:     cfg.Engine.Watch,
	}
	return &App{
		cfg:        cfg,
		engine:     eng,
		store:      db,
		dispatcher: dispatcher,
		refresher:  refresher,
		bundles:    bundles,
		bot:        bot,
		api:        api,
		Summary:    summary,
	}, nil
}

func rejectStrategy(d *notify.Dispatcher, err error) {
	d.Publish(types.NewEvent(types.EventConfigRejected, types.SeverityWarn, "strategy bundle rejected: "+err.Error()).
		WithField("source", "strategy"))
}

// buildNotify 按配置注册通知下游；日志、数据库与 websocket 始终启用。
func (b *AppBuilder) buildNotify(db store.Store, rec *metrics.Recorder) (*notify.Dispatcher, *notify.Hub, *telegram.Client) {
	cfg := b.cfg
	d := notify.NewDispatcher(cfg.Notify.BufferSize)
	d.OnDrop(rec.EventDropped)
	d.Add(notify.LogSink{}, nil)
	d.Add(notify.NewStoreSink(db), nil)
	hub := notify.NewHub()
	d.Add(hub, nil)

	operator := notify.Any(
		notify.MinSeverity(types.SeverityWarn),
		notify.Kinds(
			types.EventEngineStarted,
			types.EventEngineStopped,
			types.EventPositionOpened,
			types.EventPositionClosed,
			types.EventPartialClosed,
			types.EventCommandCompleted,
			types.EventConfigApplied,
		),
	)
	var tg *telegram.Client
	if cfg.Telegram.Enabled {
		tg = telegram.NewClient(cfg.Telegram.APIBase, cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		d.Add(notify.NewTextSink("telegram", tg), operator)
	}
	if hook := strings.TrimSpace(cfg.Notify.DiscordWebhook); hook != "" {
		d.Add(notify.NewDiscordSink(hook), operator)
	}
	if addr := strings.TrimSpace(cfg.Notify.RedisAddr); addr != "" {
		d.Add(notify.NewRedisSink(notify.NewRedisClient(addr), cfg.Notify.RedisChannel), nil)
	}
	if len(cfg.Notify.KafkaBrokers) > 0 {
		d.Add(notify.NewKafkaSink(notify.NewKafkaWriter(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic)), nil)
	}
	return d, hub, tg
}

// buildNewsSources 按 provider 构造来源；fmp 以 ForexFactory 作为后备。
func buildNewsSources(cfg config.NewsConfig, loc *time.Location) ([]news.Source, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "fmp":
		return []news.Source{
			news.NewFMPSource(cfg.FMPBaseURL, cfg.FMPAPIKey),
			news.NewForexFactorySource(cfg.ForexFactoryURL, loc),
		}, nil
	case "forexfactory":
		return []news.Source{news.NewForexFactorySource(cfg.ForexFactoryURL, loc)}, nil
	case "file":
		return []news.Source{news.NewFileSource(cfg.File)}, nil
	}
	return nil, fmt.Errorf("unsupported news provider: %s", cfg.Provider)
}
