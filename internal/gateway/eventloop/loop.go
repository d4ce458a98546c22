// Package eventloop 提供桥接层唯一的协作式任务队列：
// 账户状态迁移与事件发送都在同一个 worker 上按到达顺序执行。
package eventloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull 当队列无可用 slot 时返回。
	ErrQueueFull = errors.New("event loop queue full")
	// ErrClosed 表示 Loop 已关闭。
	ErrClosed = errors.New("event loop closed")
)

// Loop 是单 worker 的 FIFO 任务队列。
type Loop struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	queue  chan *task
	stopCh chan struct{}
	wg     sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool

	processed atomic.Uint64
	panics    atomic.Uint64
	lastTask  atomic.Pointer[string]
}

type task struct {
	name     string
	fn       func()
	enqueued time.Time
}

// New 创建并启动 worker。
func New(cfg Config) *Loop {
	normalized := cfg.normalize()
	l := &Loop{
		cfg:     normalized,
		logger:  normalized.Logger,
		metrics: normalized.Metrics,
		queue:   make(chan *task, normalized.QueueSize),
		stopCh:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// Post 将任务入队，队列满时阻塞直到有空位或 ctx 结束。
func (l *Loop) Post(ctx context.Context, name string, fn func()) error {
	if fn == nil {
		return errors.New("task func is required")
	}
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	t := &task{name: name, fn: fn, enqueued: time.Now()}
	select {
	case l.queue <- t:
		l.metrics.incQueueDepth()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPost 非阻塞入队，队列满时返回 ErrQueueFull。
func (l *Loop) TryPost(name string, fn func()) error {
	if fn == nil {
		return errors.New("task func is required")
	}
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	t := &task{name: name, fn: fn, enqueued: time.Now()}
	select {
	case l.queue <- t:
		l.metrics.incQueueDepth()
		return nil
	default:
		l.metrics.incRejected()
		l.logger.Warn("event loop queue full", slog.String("task", name), slog.Int("capacity", cap(l.queue)))
		return ErrQueueFull
	}
}

// Do 入队并等待任务执行完成。不得在 loop 内部调用。
func (l *Loop) Do(ctx context.Context, name string, fn func()) error {
	done := make(chan struct{})
	if err := l.Post(ctx, name, func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush 等待此前入队的任务全部执行完毕。
func (l *Loop) Flush(ctx context.Context) error {
	return l.Do(ctx, "flush", func() {})
}

// Close 拒绝新任务，执行完已入队任务后停止 worker。可重复调用。
func (l *Loop) Close() {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return
	}
	l.closed = true
	l.closeMu.Unlock()
	close(l.stopCh)
	l.wg.Wait()
}

func (l *Loop) run() {
	defer l.wg.Done()
	for {
		select {
		case t := <-l.queue:
			l.execute(t)
		case <-l.stopCh:
			for {
				select {
				case t := <-l.queue:
					l.execute(t)
				default:
					return
				}
			}
		}
	}
}

func (l *Loop) execute(t *task) {
	l.metrics.decQueueDepth()
	name := t.name
	l.lastTask.Store(&name)
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.metrics.incPanic(t.name)
			l.logger.Error("event loop task panicked", slog.String("task", t.name), slog.Any("panic", r))
		}
		l.processed.Add(1)
		l.metrics.observeLatency(t.name, float64(time.Since(t.enqueued).Microseconds())/1000)
	}()
	t.fn()
}
