package config

import "strings"

// Config 是 alphadesk 进程级配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Broker   BrokerConfig   `toml:"broker"`
	Strategy StrategyConfig `toml:"strategy"`
	HTTP     HTTPConfig     `toml:"http"`
	Telegram TelegramConfig `toml:"telegram"`
	Notify   NotifyConfig   `toml:"notify"`
	News     NewsConfig     `toml:"news"`
	Store    StoreConfig    `toml:"store"`
	Engine   EngineFile     `toml:"engine"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	DataDir  string `toml:"data_dir"`
}

// BrokerConfig 选择券商适配器。kind=paper 时使用内置模拟撮合。
type BrokerConfig struct {
	Kind           string  `toml:"kind"`
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	FetchRetries   int     `toml:"fetch_retries"`
	HistoryBars    int     `toml:"history_bars"`
	BreakerFails   int     `toml:"breaker_failures"`
	BreakerCoolSec int     `toml:"breaker_cooldown_seconds"`
	PaperBalance   float64 `toml:"paper_balance"`
	PaperSpread    float64 `toml:"paper_spread"`
}

// StrategyConfig 指向策略包清单文件。
type StrategyConfig struct {
	Bundle  string `toml:"bundle"`
	ORTPath string `toml:"onnxruntime_path"`
	// Watch 为 true 时清单变化后在下一个 tick 边界切换策略。
	Watch bool `toml:"watch"`
}

type HTTPConfig struct {
	Enabled         bool   `toml:"enabled"`
	Addr            string `toml:"addr"`
	PasswordHash    string `toml:"password_hash"`
	TokenTTLMinutes int    `toml:"token_ttl_minutes"`
	LoginPerMinute  int    `toml:"login_per_minute"`
}

type TelegramConfig struct {
	Enabled     bool   `toml:"enabled"`
	BotToken    string `toml:"bot_token"`
	ChatID      string `toml:"chat_id"`
	APIBase     string `toml:"api_base"`
	PollTimeout int    `toml:"poll_timeout_seconds"`
}

// NotifyConfig 配置额外的通知下游；为空的项不启用。
type NotifyConfig struct {
	DiscordWebhook string   `toml:"discord_webhook"`
	RedisAddr      string   `toml:"redis_addr"`
	RedisChannel   string   `toml:"redis_channel"`
	KafkaBrokers   []string `toml:"kafka_brokers"`
	KafkaTopic     string   `toml:"kafka_topic"`
	BufferSize     int      `toml:"buffer_size"`
}

// NewsConfig 配置经济日历来源。provider: fmp | forexfactory | file | none。
type NewsConfig struct {
	Provider        string `toml:"provider"`
	FMPAPIKey       string `toml:"fmp_api_key"`
	FMPBaseURL      string `toml:"fmp_base_url"`
	ForexFactoryURL string `toml:"forexfactory_url"`
	File            string `toml:"file"`
	RefreshMinutes  int    `toml:"refresh_minutes"`
}

// StoreConfig 配置 sqlite 持久化。driver: cgo | modernc。
type StoreConfig struct {
	Path   string `toml:"path"`
	Driver string `toml:"driver"`
}

// EngineFile 指向可热更新的引擎配置文件。
type EngineFile struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段在未显式配置时的默认值逻辑。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
