package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alphadesk/internal/types"
)

func TestRecorderExposesMetrics(t *testing.T) {
	r := New()
	r.Tick("ok", 120*time.Millisecond)
	r.Signal("XAUUSD", types.ActionBuy)
	r.Order("submit_order", "ok")
	r.OpenPositions(2)
	r.Equity(10250.5)
	r.EventDropped("telegram")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `alphadesk_ticks_total{result="ok"} 1`)
	assert.Contains(t, text, `alphadesk_signals_total{action="BUY",symbol="XAUUSD"} 1`)
	assert.Contains(t, text, `alphadesk_orders_total{op="submit_order",result="ok"} 1`)
	assert.Contains(t, text, "alphadesk_open_positions 2")
	assert.Contains(t, text, "alphadesk_equity 10250.5")
	assert.Contains(t, text, `alphadesk_events_dropped_total{sink="telegram"} 1`)
	assert.Contains(t, text, "alphadesk_tick_duration_seconds_count 1")
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Tick("ok", time.Second)
		r.Signal("X", types.ActionHold)
		r.Order("x", "y")
		r.OpenPositions(1)
		r.Equity(1)
		r.EventDropped("x")
	})
}
