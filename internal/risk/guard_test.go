package risk

import (
	"testing"
	"time"

	"alphadesk/internal/config"
	"alphadesk/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.EngineConfig {
	cfg := config.DefaultEngineConfig()
	cfg.Risk.MaxDailyLoss = 500
	cfg.Risk.MinEquity = 0
	return cfg
}

func TestTradingDayBoundary(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Athens")
	require.NoError(t, err)

	now := time.Date(2024, 3, 5, 21, 30, 0, 0, time.UTC) // 23:30 Athens
	key, start, end := TradingDay(now, loc, 0)
	assert.Equal(t, "2024-03-05", key)
	assert.Equal(t, 24*time.Hour, end.Sub(start))

	key, _, _ = TradingDay(now.Add(time.Hour), loc, 0)
	assert.Equal(t, "2024-03-06", key)

	key, start, _ = TradingDay(time.Date(2024, 3, 6, 3, 0, 0, 0, time.UTC), time.UTC, 5)
	assert.Equal(t, "2024-03-05", key)
	assert.Equal(t, 5, start.Hour())
}

func TestCheck(t *testing.T) {
	cfg := testConfig()
	assert.True(t, Check(types.RiskState{DailyPnL: -499.99, Equity: 9500}, cfg).Allowed)
	assert.False(t, Check(types.RiskState{DailyPnL: -500}, cfg).Allowed)

	cfg.Risk.MinEquity = 9000
	d := Check(types.RiskState{Equity: 8999}, cfg)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "floor")

	cfg.Risk.MaxDailyLoss = 0
	cfg.Risk.MinEquity = 0
	assert.True(t, Check(types.RiskState{DailyPnL: -1e9, Equity: 1}, cfg).Allowed)
}

func TestAdvanceTripsAndHoldsUntilDayEnd(t *testing.T) {
	cfg := testConfig()
	morning := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)

	out := Advance(types.RiskState{}, types.AccountSnapshot{Equity: 10000}, cfg, morning)
	assert.True(t, out.Decision.Allowed)
	assert.Equal(t, "2024-03-05", out.State.TradingDay)
	assert.Equal(t, 10000.0, out.State.DayStartEquity)
	assert.False(t, out.Rolled)

	out = Advance(out.State, types.AccountSnapshot{Equity: 10200}, cfg, morning.Add(time.Hour))
	assert.Equal(t, 10200.0, out.State.PeakEquity)

	out = Advance(out.State, types.AccountSnapshot{Equity: 9500}, cfg, morning.Add(2*time.Hour))
	require.False(t, out.Decision.Allowed)
	assert.True(t, out.Tripped)
	assert.Equal(t, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), out.State.HaltedUntil)
	assert.InDelta(t, (10200.0-9500)/10200, out.State.Drawdown, 1e-9)

	// 权益回升也不解除当日熔断
	out = Advance(out.State, types.AccountSnapshot{Equity: 10100}, cfg, morning.Add(3*time.Hour))
	assert.False(t, out.Decision.Allowed)
	assert.False(t, out.Tripped)

	// 跨日后重置
	out = Advance(out.State, types.AccountSnapshot{Equity: 10100}, cfg, morning.Add(24*time.Hour))
	assert.True(t, out.Decision.Allowed)
	assert.True(t, out.Rolled)
	assert.Equal(t, "2024-03-06", out.State.TradingDay)
	assert.Equal(t, 0.0, out.State.DailyPnL)
}

func TestGateHonoursRestoredHalt(t *testing.T) {
	cfg := testConfig()
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	restored := types.RiskState{
		TradingDay:  "2024-03-05",
		HaltedUntil: time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
		HaltReason:  "daily loss",
	}
	d := Gate(restored, cfg, now)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "daily loss")

	out := Advance(restored, types.AccountSnapshot{Equity: 10000}, cfg, now)
	assert.False(t, out.Decision.Allowed)
	assert.False(t, out.Tripped)
	assert.Equal(t, 10000.0, out.State.DayStartEquity)
}

func TestAdvanceSeedsDayStartFromBrokerDailyPnL(t *testing.T) {
	cfg := testConfig()
	noon := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	// 盘中首次启动：券商报告当日已亏 480
	out := Advance(types.RiskState{}, types.AccountSnapshot{Equity: 9520, DailyPnL: -480}, cfg, noon)
	assert.Equal(t, 10000.0, out.State.DayStartEquity)
	assert.Equal(t, -480.0, out.State.DailyPnL)
	assert.True(t, out.Decision.Allowed)

	out = Advance(out.State, types.AccountSnapshot{Equity: 9500}, cfg, noon.Add(time.Minute))
	assert.True(t, out.Tripped, "loss taken before start counts toward the limit")
	assert.Equal(t, -500.0, out.State.DailyPnL)
}

func TestDailyPnLRoundsToCents(t *testing.T) {
	cfg := testConfig()
	morning := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	out := Advance(types.RiskState{}, types.AccountSnapshot{Equity: 10000.1}, cfg, morning)
	out = Advance(out.State, types.AccountSnapshot{Equity: 9500.1}, cfg, morning.Add(time.Hour))
	assert.Equal(t, -500.0, out.State.DailyPnL)
	assert.True(t, out.Tripped)
}
