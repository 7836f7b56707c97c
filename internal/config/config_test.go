package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"alphadesk/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMergesIncludesAndDefaults(t *testing.T) {
	cfg, err := Load("testdata/main.toml")
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 5, cfg.Broker.TimeoutSeconds)
	assert.Equal(t, defaultBrokerRetries, cfg.Broker.FetchRetries)
	assert.Equal(t, "42", cfg.Telegram.ChatID)
	assert.Equal(t, defaultTelegramTimeout, cfg.Telegram.PollTimeout)
	assert.Equal(t, "forexfactory", cfg.News.Provider)
	assert.False(t, cfg.HTTP.Enabled, "explicit false must survive defaults")
	assert.False(t, cfg.Engine.Watch)
	assert.Equal(t, defaultStoreDriver, cfg.Store.Driver)
}

func TestLoadRejectsIncludeCycle(t *testing.T) {
	_, err := Load("testdata/cycle_a.toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ALPHADESK_NEWS_FMP_API_KEY", "secret")
	t.Setenv("ALPHADESK_NEWS_PROVIDER", "fmp")
	cfg, err := Load("testdata/main.toml")
	require.NoError(t, err)
	assert.Equal(t, "fmp", cfg.News.Provider)
	assert.Equal(t, "secret", cfg.News.FMPAPIKey)
}

func TestLoadEngineConfig(t *testing.T) {
	cfg, err := LoadEngineConfig("testdata/engine.yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"XAUUSD", "EURUSD"}, cfg.Symbols)
	assert.Equal(t, LotModeRiskPercent, cfg.LotMode)
	assert.Equal(t, 2.0, cfg.RiskPercent)
	assert.False(t, cfg.SinglePositionPerSymbol)
	assert.Equal(t, 80.0, cfg.Trailing.Distance)
	assert.Equal(t, 80.0, cfg.TrailingActivation())
	assert.Equal(t, 50.0, cfg.PartialClose.TP1Distance)
	assert.Equal(t, 50.0, cfg.PartialClose.Percent)
	assert.Equal(t, 250.0, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, types.ImpactMedium, cfg.MinImpactLevel())
	assert.Equal(t, 30*time.Minute, cfg.NewsBuffer())
	assert.Equal(t, 15*time.Minute, cfg.TimeframeDuration())
	assert.Equal(t, time.Minute, cfg.TickDuration())
}

func TestDefaultEngineConfigMatchesProductDefaults(t *testing.T) {
	cfg := DefaultEngineConfig()
	require.NoError(t, ValidateEngineConfig(cfg))
	assert.Equal(t, 0.01, cfg.LotSize)
	assert.Equal(t, 1.0, cfg.RiskPercent)
	assert.Equal(t, 50.0, cfg.MaxSpread)
	assert.Equal(t, 500.0, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, 0.0, cfg.Risk.MinEquity)
	assert.Equal(t, 30, cfg.News.BufferMinutes)
	assert.Equal(t, 50.0, cfg.Trailing.Distance)
	assert.False(t, cfg.Trailing.Enabled)
	assert.True(t, cfg.SinglePositionPerSymbol)
}

func TestValidateEngineConfigCollectsFieldErrors(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Symbols = nil
	cfg.LotSize = 0
	cfg.ConfidenceThreshold = 1.5
	cfg.Timeframe = "fortnight"
	cfg.BrokerTimezone = "Mars/Olympus"
	cfg.Trailing.Step = 100

	err := ValidateEngineConfig(cfg)
	require.Error(t, err)
	var verrs types.ConfigValidationErrors
	require.ErrorAs(t, err, &verrs)
	fields := verrs.Fields()
	for _, f := range []string{"symbols", "lot_size", "confidence_threshold", "timeframe", "broker_timezone", "trailing.step"} {
		assert.Contains(t, fields, f)
	}
}

func TestParseEngineConfigJSON(t *testing.T) {
	cfg, err := ParseEngineConfigJSON([]byte(`{"symbols":["gbpusd"],"lot_size":0.05}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"GBPUSD"}, cfg.Symbols)
	assert.Equal(t, 0.05, cfg.LotSize)
	assert.Equal(t, "15m", cfg.Timeframe)

	_, err = ParseEngineConfigJSON([]byte(`{"symbols":["X"],"bogus":1}`))
	assert.True(t, types.IsConfigValidation(err))

	_, err = ParseEngineConfigJSON([]byte(`{"symbols":[],"lot_size":-1}`))
	assert.True(t, types.IsConfigValidation(err))
}

func TestParseIntervalDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"15m": 15 * time.Minute,
		"M15": 15 * time.Minute,
		"H4":  4 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseIntervalDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "m", "0m", "5x", "-1h"} {
		_, err := ParseIntervalDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestSaveEngineConfigRoundTripAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	cfg := DefaultEngineConfig()
	require.NoError(t, SaveEngineConfig(path, cfg))

	w, err := NewEngineWatcher(path, true)
	require.NoError(t, err)
	cur, ver := w.Current()
	assert.Equal(t, 1, ver)
	assert.Equal(t, cfg.Symbols, cur.Symbols)

	changed := make(chan EngineConfig, 4)
	w.OnChange(func(c EngineConfig) { changed <- c })

	next := cfg.Clone()
	next.LotSize = 0.2
	require.NoError(t, SaveEngineConfig(path, next))

	select {
	case got := <-changed:
		assert.Equal(t, 0.2, got.LotSize)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report change")
	}
}

func TestSaveEngineConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	cfg := DefaultEngineConfig()
	cfg.LotSize = -1
	assert.Error(t, SaveEngineConfig(path, cfg))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
