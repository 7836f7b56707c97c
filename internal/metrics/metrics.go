// Package metrics 暴露 Prometheus 指标。所有方法对 nil 接收者安全。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alphadesk/internal/types"
)

type Recorder struct {
	gatherer      prometheus.Gatherer
	ticks         *prometheus.CounterVec
	signals       *prometheus.CounterVec
	orders        *prometheus.CounterVec
	openPositions prometheus.Gauge
	equity        prometheus.Gauge
	tickDuration  prometheus.Histogram
	eventsDropped *prometheus.CounterVec
}

// New 在独立 registry 上注册指标，避免与默认 registry 冲突。
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		gatherer: g,
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alphadesk_ticks_total",
			Help: "Decision loop ticks by result",
		}, []string{"result"}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alphadesk_signals_total",
			Help: "Strategy signals by symbol and action",
		}, []string{"symbol", "action"}),
		orders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alphadesk_orders_total",
			Help: "Broker order operations by result",
		}, []string{"op", "result"}),
		openPositions: f.NewGauge(prometheus.GaugeOpts{
			Name: "alphadesk_open_positions",
			Help: "Currently tracked open positions",
		}),
		equity: f.NewGauge(prometheus.GaugeOpts{
			Name: "alphadesk_equity",
			Help: "Last observed account equity",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "alphadesk_tick_duration_seconds",
			Help:    "Decision loop tick duration",
			Buckets: prometheus.DefBuckets,
		}),
		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alphadesk_events_dropped_total",
			Help: "Events dropped by a full notification buffer",
		}, []string{"sink"}),
	}
}

func (r *Recorder) Tick(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.ticks.WithLabelValues(result).Inc()
	r.tickDuration.Observe(d.Seconds())
}

func (r *Recorder) Signal(symbol string, action types.Action) {
	if r == nil {
		return
	}
	r.signals.WithLabelValues(symbol, string(action)).Inc()
}

func (r *Recorder) Order(op, result string) {
	if r == nil {
		return
	}
	r.orders.WithLabelValues(op, result).Inc()
}

func (r *Recorder) OpenPositions(n int) {
	if r == nil {
		return
	}
	r.openPositions.Set(float64(n))
}

func (r *Recorder) Equity(v float64) {
	if r == nil {
		return
	}
	r.equity.Set(v)
}

func (r *Recorder) EventDropped(sink string) {
	if r == nil {
		return
	}
	r.eventsDropped.WithLabelValues(sink).Inc()
}

// Handler 返回 /metrics 处理器。
func (r *Recorder) Handler() http.Handler {
	if r == nil || r.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
