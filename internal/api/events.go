package bridgeapi

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aegis-sign/wallet-bridge/internal/app/bridge"
)

const defaultSubscriberBuffer = 32

// Hub 把边界事件扇出给所有订阅者。缓冲区写满的订阅者会被摘除并关闭，
// 发送方永远不会被慢订阅者阻塞。
type Hub struct {
	buffer int
	logger *slog.Logger

	dropped     prometheus.Counter
	subscribers prometheus.Gauge

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription 是一个事件订阅；C 被关闭表示订阅已结束。
type Subscription struct {
	C <-chan bridge.Event

	ch  chan bridge.Event
	hub *Hub
}

// NewHub 构造 Hub。reg 为空则注册到默认注册器。
func NewHub(buffer int, logger *slog.Logger, reg prometheus.Registerer) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	h := &Hub{
		buffer: buffer,
		logger: logger,
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_event_subscribers_dropped_total",
			Help: "Event subscribers dropped because they fell behind",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_event_subscribers",
			Help: "Number of active event subscribers",
		}),
		subs: make(map[*Subscription]struct{}),
	}
	reg.MustRegister(h.dropped, h.subscribers)
	return h
}

// Subscribe 注册新的订阅者。
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan bridge.Event, h.buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.subscribers.Set(float64(len(h.subs)))
	h.mu.Unlock()
	return sub
}

// Close 结束订阅，可重复调用。
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Emit 实现 bridge.Emitter。
func (h *Hub) Emit(_ context.Context, evt bridge.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- evt:
		default:
			delete(h.subs, sub)
			close(sub.ch)
			h.dropped.Inc()
			h.logger.Warn("event subscriber dropped: buffer full", slog.String("event", evt.Name), slog.Int("buffer", h.buffer))
		}
	}
	h.subscribers.Set(float64(len(h.subs)))
	return nil
}

// Len 返回当前订阅者数量。
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
	h.subscribers.Set(float64(len(h.subs)))
}
