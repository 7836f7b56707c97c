package config

import "strings"

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppDataDir       = "data"
	defaultBrokerKind       = "paper"
	defaultBrokerTimeout    = 10
	defaultBrokerRetries    = 3
	defaultHistoryBars      = 200
	defaultBreakerFails     = 5
	defaultBreakerCooldown  = 60
	defaultPaperBalance     = 10000
	defaultHTTPAddr         = ":8765"
	defaultTokenTTLMinutes  = 720
	defaultLoginPerMinute   = 5
	defaultTelegramAPIBase  = "https://api.telegram.org"
	defaultTelegramTimeout  = 30
	defaultRedisChannel     = "alphadesk.events"
	defaultKafkaTopic       = "alphadesk.events"
	defaultNotifyBuffer     = 256
	defaultNewsProvider     = "none"
	defaultFMPBaseURL       = "https://financialmodelingprep.com"
	defaultForexFactoryURL  = "https://www.forexfactory.com/calendar?week=this"
	defaultNewsRefreshMins  = 60
	defaultStorePath        = "data/alphadesk.db"
	defaultStoreDriver      = "cgo"
	defaultEngineConfigPath = "configs/engine.yaml"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
	c.Telegram.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
	c.News.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.data_dir", &a.DataDir, defaultAppDataDir),
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("broker.kind", &b.Kind, defaultBrokerKind),
		intFieldDefault("broker.timeout_seconds", &b.TimeoutSeconds, defaultBrokerTimeout),
		intFieldDefault("broker.fetch_retries", &b.FetchRetries, defaultBrokerRetries),
		intFieldDefault("broker.history_bars", &b.HistoryBars, defaultHistoryBars),
		intFieldDefault("broker.breaker_failures", &b.BreakerFails, defaultBreakerFails),
		intFieldDefault("broker.breaker_cooldown_seconds", &b.BreakerCoolSec, defaultBreakerCooldown),
		fieldDefault{
			key:   "broker.paper_balance",
			need:  func() bool { return b.PaperBalance <= 0 },
			apply: func() { b.PaperBalance = defaultPaperBalance },
		},
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("http.enabled", &h.Enabled, true),
		stringFieldDefault("http.addr", &h.Addr, defaultHTTPAddr),
		intFieldDefault("http.token_ttl_minutes", &h.TokenTTLMinutes, defaultTokenTTLMinutes),
		intFieldDefault("http.login_per_minute", &h.LoginPerMinute, defaultLoginPerMinute),
	)
}

func (t *TelegramConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("telegram.api_base", &t.APIBase, defaultTelegramAPIBase),
		intFieldDefault("telegram.poll_timeout_seconds", &t.PollTimeout, defaultTelegramTimeout),
	)
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("notify.redis_channel", &n.RedisChannel, defaultRedisChannel),
		stringFieldDefault("notify.kafka_topic", &n.KafkaTopic, defaultKafkaTopic),
		intFieldDefault("notify.buffer_size", &n.BufferSize, defaultNotifyBuffer),
	)
}

func (n *NewsConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("news.provider", &n.Provider, defaultNewsProvider),
		stringFieldDefault("news.fmp_base_url", &n.FMPBaseURL, defaultFMPBaseURL),
		stringFieldDefault("news.forexfactory_url", &n.ForexFactoryURL, defaultForexFactoryURL),
		intFieldDefault("news.refresh_minutes", &n.RefreshMinutes, defaultNewsRefreshMins),
	)
	n.Provider = strings.ToLower(strings.TrimSpace(n.Provider))
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		stringFieldDefault("store.driver", &s.Driver, defaultStoreDriver),
	)
}

func (e *EngineFile) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("engine.path", &e.Path, defaultEngineConfigPath),
		boolFieldDefault("engine.watch", &e.Watch, true),
	)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("strategy.watch", &s.Watch, true),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
