package eventloop

import "github.com/prometheus/client_golang/prometheus"

// Metrics 记录事件循环的排队与执行情况。
type Metrics struct {
	queueDepth prometheus.Gauge
	latency    *prometheus.HistogramVec
	panics     *prometheus.CounterVec
	rejected   prometheus.Counter
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_loop_queue_depth",
			Help: "Number of tasks waiting on the bridge event loop",
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_loop_task_latency_ms",
			Help:    "Time from enqueue to completion of loop tasks in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
		}, []string{"task"}),
		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_loop_task_panics_total",
			Help: "Number of loop tasks that panicked",
		}, []string{"task"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_loop_rejected_total",
			Help: "Number of tasks rejected because the queue was full",
		}),
	}
	reg.MustRegister(m.queueDepth, m.latency, m.panics, m.rejected)
	return m
}

func (m *Metrics) incQueueDepth() {
	if m == nil {
		return
	}
	m.queueDepth.Inc()
}

func (m *Metrics) decQueueDepth() {
	if m == nil {
		return
	}
	m.queueDepth.Dec()
}

func (m *Metrics) observeLatency(task string, durMs float64) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(labelOrUnknown(task)).Observe(durMs)
}

func (m *Metrics) incPanic(task string) {
	if m == nil {
		return
	}
	m.panics.WithLabelValues(labelOrUnknown(task)).Inc()
}

func (m *Metrics) incRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func labelOrUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
