package eventloop

import (
	"encoding/json"
	"net/http"
	"time"
)

// DebugHandler 返回 /debug/bridge 中事件循环部分的 handler。
func (l *Loop) DebugHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(l.Snapshot())
	})
}

// Snapshot 是事件循环的调试快照。
type Snapshot struct {
	QueueDepth int       `json:"queueDepth"`
	Capacity   int       `json:"capacity"`
	Processed  uint64    `json:"processed"`
	Panics     uint64    `json:"panics"`
	LastTask   string    `json:"lastTask,omitempty"`
	Closed     bool      `json:"closed"`
	Timestamp  time.Time `json:"timestamp"`
}

// Snapshot 返回当前状态。
func (l *Loop) Snapshot() Snapshot {
	snap := Snapshot{
		QueueDepth: len(l.queue),
		Capacity:   cap(l.queue),
		Processed:  l.processed.Load(),
		Panics:     l.panics.Load(),
		Timestamp:  time.Now(),
	}
	if last := l.lastTask.Load(); last != nil {
		snap.LastTask = *last
	}
	l.closeMu.RLock()
	snap.Closed = l.closed
	l.closeMu.RUnlock()
	return snap
}
