package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aegis-sign/wallet-bridge/internal/app/wallet"
)

// NotifierConfig 用于初始化 Notifier。
type NotifierConfig struct {
	Emitter   Emitter
	Scheduler Scheduler
	Logger    *slog.Logger
	Metrics   *Metrics
}

// NotifierSnapshot 是 Notifier 的只读快照。
type NotifierSnapshot struct {
	State      NotifierState `json:"state"`
	Account    string        `json:"account"`
	Emitted    uint64        `json:"emitted"`
	Suppressed uint64        `json:"suppressed"`
	Failed     uint64        `json:"failed"`
}

// Notifier 把适配器的账户变化转换为 ore-pubkey 事件，每个不同的值恰好发出一次。
// 所有迁移都在 Scheduler 上按到达顺序执行；Scheduler 为空时同步执行。
type Notifier struct {
	emitter   Emitter
	scheduler Scheduler
	logger    *slog.Logger
	metrics   *Metrics

	mu         sync.Mutex
	epoch      uint64
	state      NotifierState
	account    wallet.Account
	seq        uint64
	emitted    uint64
	suppressed uint64
	failed     uint64
}

// NewNotifier 构造 Notifier，初始状态为 UNKNOWN。
func NewNotifier(cfg NotifierConfig) (*Notifier, error) {
	if cfg.Emitter == nil {
		return nil, errors.New("emitter is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		emitter:   cfg.Emitter,
		scheduler: cfg.Scheduler,
		logger:    logger,
		metrics:   cfg.Metrics,
		state:     StateUnknown,
	}, nil
}

// Observe 接收一次账户观察值，可作为 wallet.Adapter 的监听者。
func (n *Notifier) Observe(acc wallet.Account) {
	n.mu.Lock()
	epoch := n.epoch
	n.mu.Unlock()
	n.schedule("account-changed", func() { n.apply(epoch, acc) })
}

// Reset 回到 UNKNOWN，下次观察必定发出事件。卸载时调用。
// Reset 之前排队但尚未执行的观察值会被丢弃。
func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.epoch++
	n.state = StateUnknown
	n.account = wallet.NoAccount()
}

// Snapshot 返回当前状态与计数。
func (n *Notifier) Snapshot() NotifierSnapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return NotifierSnapshot{
		State:      n.state,
		Account:    n.account.String(),
		Emitted:    n.emitted,
		Suppressed: n.suppressed,
		Failed:     n.failed,
	}
}

func (n *Notifier) schedule(name string, fn func()) {
	if n.scheduler == nil {
		fn()
		return
	}
	if err := n.scheduler.Post(context.Background(), name, fn); err != nil {
		n.logger.Warn("account notification dropped", slog.String("task", name), slog.Any("err", err))
	}
}

func (n *Notifier) apply(epoch uint64, acc wallet.Account) {
	n.mu.Lock()
	if epoch != n.epoch {
		n.mu.Unlock()
		n.metrics.incEvent("stale")
		n.logger.Debug("stale account notification dropped", slog.String("account", acc.String()))
		return
	}
	if n.state == StateKnown && n.account.Equal(acc) {
		n.suppressed++
		n.mu.Unlock()
		n.metrics.incEvent("suppressed")
		n.logger.Debug("duplicate account notification suppressed", slog.String("account", acc.String()))
		return
	}
	n.state = StateKnown
	n.account = acc
	n.seq++
	evt := AccountChanged(n.seq, acc)
	n.mu.Unlock()

	// 发送失败不回滚状态：账户确实已经变化，下一次不同的值仍会正常发出。
	if err := n.emitter.Emit(context.Background(), evt); err != nil {
		n.mu.Lock()
		n.failed++
		n.mu.Unlock()
		n.metrics.incEvent("failed")
		n.logger.Error("dispatch account event failed", slog.String("event", evt.Name), slog.String("account", acc.String()), slog.Any("err", err))
		return
	}
	n.mu.Lock()
	n.emitted++
	n.mu.Unlock()
	n.metrics.incEvent("emitted")
	n.logger.Info("account event dispatched", slog.String("event", evt.Name), slog.String("account", acc.String()), slog.Uint64("seq", evt.Seq))
}
