package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"alphadesk/internal/config"
	"alphadesk/internal/store"
	"alphadesk/internal/store/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	enginePath := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(enginePath, []byte("symbols: [xauusd, eurusd]\ntimeframe: 15m\ntick_interval: 1m\n"), 0o644))
	cfg := &config.Config{
		App:      config.AppConfig{Env: "test", LogLevel: "warn"},
		Broker:   config.BrokerConfig{Kind: "paper", TimeoutSeconds: 2, HistoryBars: 50, PaperBalance: 10000},
		Strategy: config.StrategyConfig{Bundle: filepath.Join("..", "strategy", "testdata", "rule.yaml")},
		News:     config.NewsConfig{Provider: "none"},
		Store:    config.StoreConfig{Path: filepath.Join(dir, "alphadesk.db"), Driver: sqlite.DriverModernc},
		Engine:   config.EngineFile{Path: enginePath},
	}
	return cfg
}

func captureStore(slot *store.Store) AppBuilderOption {
	return WithStore(func(c config.StoreConfig) (store.Store, error) {
		s, err := sqlite.Open(c)
		if err == nil {
			*slot = s
		}
		return s, err
	})
}

func TestBuildWiresComponents(t *testing.T) {
	cfg := testConfig(t)
	var opened store.Store
	db := &opened
	a, err := NewAppBuilder(cfg, captureStore(db)).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = (*db).Close() })

	require.NotNil(t, a.Engine())
	assert.Nil(t, a.api, "http disabled")
	assert.Nil(t, a.bot, "telegram disabled")
	assert.Equal(t, []string{"log", "store", "websocket"}, a.dispatcher.Sinks())

	snap := a.Engine().State().Snapshot()
	assert.Equal(t, []string{"XAUUSD", "EURUSD"}, snap.Config.Symbols)
	assert.False(t, snap.Running)

	saved, ok, err := (*db).LatestEngineConfig(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.Config.Symbols, saved.Symbols)

	var buf bytes.Buffer
	a.Summary.Print(&buf)
	out := buf.String()
	assert.Contains(t, out, "XAUUSD, EURUSD")
	assert.Contains(t, out, "ema-rsi")
	assert.Contains(t, out, "(未启用)")
}

func TestBuildRejectsPlainPasswordHash(t *testing.T) {
	cfg := testConfig(t)
	var opened store.Store
	db := &opened
	cfg.HTTP = config.HTTPConfig{Enabled: true, Addr: "127.0.0.1:0", PasswordHash: "hunter2"}
	_, err := NewAppBuilder(cfg, captureStore(db)).Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bcrypt")
}

func TestBuildEnablesOptionalSinks(t *testing.T) {
	cfg := testConfig(t)
	var opened store.Store
	db := &opened
	cfg.Telegram = config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "42", PollTimeout: 1}
	cfg.Notify.DiscordWebhook = "http://127.0.0.1:1/hook"
	a, err := NewAppBuilder(cfg, captureStore(db)).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = (*db).Close() })
	assert.NotNil(t, a.bot)
	assert.Equal(t, []string{"log", "store", "websocket", "telegram", "discord"}, a.dispatcher.Sinks())
}

func TestBuildNewsSources(t *testing.T) {
	cases := []struct {
		provider string
		want     []string
		wantErr  bool
	}{
		{provider: "none"},
		{provider: "fmp", want: []string{"fmp", "forexfactory"}},
		{provider: "forexfactory", want: []string{"forexfactory"}},
		{provider: "file", want: []string{"file"}},
		{provider: "bloomberg", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.provider, func(t *testing.T) {
			srcs, err := buildNewsSources(config.NewsConfig{Provider: tc.provider}, time.UTC)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			names := make([]string, 0, len(srcs))
			for _, s := range srcs {
				names = append(names, s.Name())
			}
			if tc.want == nil {
				assert.Empty(t, names)
				return
			}
			assert.Equal(t, tc.want, names)
		})
	}
}

func TestBundleReloadSwapsAgentAtTick(t *testing.T) {
	cfg := testConfig(t)
	var opened store.Store
	db := &opened
	raw, err := os.ReadFile(cfg.Strategy.Bundle)
	require.NoError(t, err)
	bundle := filepath.Join(filepath.Dir(cfg.Engine.Path), "bundle.yaml")
	require.NoError(t, os.WriteFile(bundle, raw, 0o644))
	cfg.Strategy.Bundle = bundle
	cfg.Strategy.Watch = true

	a, err := NewAppBuilder(cfg, captureStore(db)).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = (*db).Close() })
	require.NotNil(t, a.bundles)
	assert.Equal(t, "ema-rsi", a.Engine().Agent().Name())

	renamed := bytes.Replace(raw, []byte("name: ema-rsi"), []byte("name: ema-rsi-v2"), 1)
	require.NoError(t, os.WriteFile(bundle, renamed, 0o644))
	a.bundles.Reload()
	assert.Equal(t, "ema-rsi", a.Engine().Agent().Name(), "swap waits for the tick boundary")

	a.Engine().Tick(context.Background())
	assert.Equal(t, "ema-rsi-v2", a.Engine().Agent().Name())

	require.NoError(t, os.WriteFile(bundle, []byte("name: broken\nkind: rule\nschema_version: 7\n"), 0o644))
	a.bundles.Reload()
	a.Engine().Tick(context.Background())
	assert.Equal(t, "ema-rsi-v2", a.Engine().Agent().Name())
}
