package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aegis-sign/wallet-bridge/internal/app/wallet"
	"github.com/aegis-sign/wallet-bridge/pkg/apierrors"
)

// DefaultAnchorID 是宿主提供的挂载点 id。
const DefaultAnchorID = "ore-wallet-adapter"

// AccountSource 提供账户订阅，wallet.Adapter 实现了它。
type AccountSource interface {
	WatchAccount(fn func(wallet.Account)) (unsubscribe func())
}

// RegistrarConfig 用于初始化 Registrar。
type RegistrarConfig struct {
	AnchorID string
	Accounts AccountSource
	Registry *Registry
	Handlers *Handlers
	Notifier *Notifier
	UI       UI
	Logger   *slog.Logger
	Metrics  *Metrics
	// OnStateChange 在挂载状态变化后被调用，可用于切换健康检查状态。
	OnStateChange func(mounted bool)
}

// RegistrarSnapshot 是 Registrar 的只读快照。
type RegistrarSnapshot struct {
	AnchorID  string   `json:"anchorId"`
	Anchors   []string `json:"anchors"`
	Mounted   bool     `json:"mounted"`
	Callables []string `json:"callables"`
}

// Registrar 在挂载点出现时安装边界调用面与通知器，挂载点移除时卸载。所有操作幂等。
type Registrar struct {
	cfg    RegistrarConfig
	logger *slog.Logger

	mu      sync.Mutex
	anchors map[string]struct{}
	mounted bool
	unwatch func()
}

// NewRegistrar 构造 Registrar。
func NewRegistrar(cfg RegistrarConfig) (*Registrar, error) {
	if cfg.Accounts == nil {
		return nil, errors.New("account source is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Handlers == nil {
		return nil, errors.New("handlers are required")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if cfg.AnchorID == "" {
		cfg.AnchorID = DefaultAnchorID
	}
	if cfg.UI == nil {
		cfg.UI = NopUI{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{
		cfg:     cfg,
		logger:  logger,
		anchors: make(map[string]struct{}),
	}, nil
}

// AnchorAvailable 记录宿主提供的挂载点；若是约定的挂载点则立即挂载。
func (r *Registrar) AnchorAvailable(ctx context.Context, id string) error {
	if id == "" {
		return apierrors.New(apierrors.CodeMalformedPayload, "anchor id is required")
	}
	r.mu.Lock()
	r.anchors[id] = struct{}{}
	r.mu.Unlock()
	r.logger.Info("anchor available", slog.String("anchor", id))
	if id != r.cfg.AnchorID {
		return nil
	}
	return r.Mount(ctx)
}

// AnchorRemoved 移除挂载点；若是约定的挂载点则卸载。
func (r *Registrar) AnchorRemoved(ctx context.Context, id string) error {
	r.mu.Lock()
	_, existed := r.anchors[id]
	delete(r.anchors, id)
	r.mu.Unlock()
	if !existed {
		return nil
	}
	r.logger.Info("anchor removed", slog.String("anchor", id))
	if id != r.cfg.AnchorID {
		return nil
	}
	return r.Unmount(ctx)
}

// MountWalletAdapter 是宿主的挂载触发器：挂载点不存在时什么也不做并返回 false。
func (r *Registrar) MountWalletAdapter(ctx context.Context) (bool, error) {
	r.mu.Lock()
	_, ok := r.anchors[r.cfg.AnchorID]
	r.mu.Unlock()
	if !ok {
		r.logger.Debug("mount skipped: anchor missing", slog.String("anchor", r.cfg.AnchorID))
		return false, nil
	}
	if err := r.Mount(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Mount 注册三个边界调用并重置通知器，UI 挂载成功后才接入账户订阅。已挂载时直接返回。
func (r *Registrar) Mount(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mounted {
		return nil
	}
	if _, ok := r.anchors[r.cfg.AnchorID]; !ok {
		return apierrors.New(apierrors.CodeAnchorUnavailable, fmt.Sprintf("anchor %q is not available", r.cfg.AnchorID))
	}

	for name, fn := range r.cfg.Handlers.Callables() {
		if err := r.cfg.Registry.Register(name, fn); err != nil {
			r.deregisterLocked()
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	r.cfg.Notifier.Reset()

	if err := r.cfg.UI.Mount(ctx, r.cfg.AnchorID); err != nil {
		r.deregisterLocked()
		r.logger.Error("mount wallet ui failed", slog.String("anchor", r.cfg.AnchorID), slog.Any("err", err))
		return apierrors.Wrap(apierrors.CodeAnchorUnavailable, "mount wallet ui", err)
	}
	// WatchAccount 先回放当前账户，UI 挂载期间发生的迁移不会丢失。
	r.unwatch = r.cfg.Accounts.WatchAccount(r.cfg.Notifier.Observe)
	r.mounted = true
	r.cfg.Metrics.setMounted(true)
	r.logger.Info("wallet adapter mounted", slog.String("anchor", r.cfg.AnchorID))
	if r.cfg.OnStateChange != nil {
		r.cfg.OnStateChange(true)
	}
	return nil
}

// Unmount 与 Mount 相反；未挂载时直接返回。
func (r *Registrar) Unmount(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.mounted {
		return nil
	}
	if r.unwatch != nil {
		r.unwatch()
		r.unwatch = nil
	}
	r.deregisterLocked()
	r.cfg.Notifier.Reset()
	r.mounted = false
	r.cfg.Metrics.setMounted(false)

	var uiErr error
	if err := r.cfg.UI.Unmount(ctx); err != nil {
		uiErr = fmt.Errorf("unmount wallet ui: %w", err)
		r.logger.Warn("unmount wallet ui failed", slog.Any("err", err))
	}
	r.logger.Info("wallet adapter unmounted", slog.String("anchor", r.cfg.AnchorID))
	if r.cfg.OnStateChange != nil {
		r.cfg.OnStateChange(false)
	}
	return uiErr
}

// Mounted 表示调用面当前是否已安装。
func (r *Registrar) Mounted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mounted
}

// Snapshot 返回挂载状态。
func (r *Registrar) Snapshot() RegistrarSnapshot {
	r.mu.Lock()
	snap := RegistrarSnapshot{
		AnchorID: r.cfg.AnchorID,
		Mounted:  r.mounted,
		Anchors:  make([]string, 0, len(r.anchors)),
	}
	for id := range r.anchors {
		snap.Anchors = append(snap.Anchors, id)
	}
	r.mu.Unlock()
	sort.Strings(snap.Anchors)
	snap.Callables = r.cfg.Registry.Names()
	return snap
}

func (r *Registrar) deregisterLocked() {
	for _, name := range WellKnownNames() {
		r.cfg.Registry.Deregister(name)
	}
}
