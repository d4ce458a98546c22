package wallet

import "github.com/prometheus/client_golang/prometheus"

// Metrics 记录钱包操作结果与连接状态。
type Metrics struct {
	operations *prometheus.CounterVec
	connected  prometheus.Gauge
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "wallet",
			Name:      "operations_total",
			Help:      "Wallet operations by kind and outcome",
		}, []string{"op", "outcome"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "wallet",
			Name:      "connected",
			Help:      "1 when a wallet account is connected",
		}),
	}
	reg.MustRegister(m.operations, m.connected)
	return m
}

func (m *Metrics) observe(op, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) setConnected(acc Account) {
	if m == nil {
		return
	}
	if acc.Present() {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}
