package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 记录桥接层的调用与事件指标。
type Metrics struct {
	invocations *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	events      *prometheus.CounterVec
	mounted     prometheus.Gauge
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_callable_invocations_total",
			Help: "Boundary callable invocations by name and result code",
		}, []string{"callable", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_callable_latency_ms",
			Help:    "Latency of boundary callables in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 15000, 60000},
		}, []string{"callable"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_account_events_total",
			Help: "Account notifications by outcome",
		}, []string{"outcome"}),
		mounted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_mounted",
			Help: "1 while the callable surface is installed",
		}),
	}
	reg.MustRegister(m.invocations, m.latency, m.events, m.mounted)
	return m
}

// durationMs 保留亚毫秒精度。
func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func (m *Metrics) observeInvocation(callable, code string, durMs float64) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(callable, code).Inc()
	m.latency.WithLabelValues(callable).Observe(durMs)
}

func (m *Metrics) incEvent(outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setMounted(mounted bool) {
	if m == nil {
		return
	}
	if mounted {
		m.mounted.Set(1)
		return
	}
	m.mounted.Set(0)
}
