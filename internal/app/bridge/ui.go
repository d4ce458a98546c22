package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aegis-sign/wallet-bridge/internal/app/wallet"
	"github.com/aegis-sign/wallet-bridge/pkg/apierrors"
)

// UI 是钱包选择界面，由宿主或薄适配层实现。
type UI interface {
	Mount(ctx context.Context, anchorID string) error
	Unmount(ctx context.Context) error
}

// NopUI 不做任何事，适用于无界面的宿主。
type NopUI struct{}

// Mount 实现 UI。
func (NopUI) Mount(context.Context, string) error { return nil }

// Unmount 实现 UI。
func (NopUI) Unmount(context.Context) error { return nil }

// WalletSelector 是 AutoConnectUI 需要的适配器操作。
type WalletSelector interface {
	Select(ext wallet.Extension)
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// AutoConnectUI 在挂载时选择配置好的扩展，并在开启 autoConnect 时后台发起连接。
// 卸载时先关闭扩展侧会话再取消选择。
type AutoConnectUI struct {
	selector    WalletSelector
	extension   wallet.Extension
	autoConnect bool
	logger      *slog.Logger

	wg sync.WaitGroup
}

// NewAutoConnectUI 构造 AutoConnectUI。
func NewAutoConnectUI(selector WalletSelector, ext wallet.Extension, autoConnect bool, logger *slog.Logger) (*AutoConnectUI, error) {
	if selector == nil {
		return nil, errors.New("wallet selector is required")
	}
	if ext == nil {
		return nil, errors.New("wallet extension is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoConnectUI{selector: selector, extension: ext, autoConnect: autoConnect, logger: logger}, nil
}

// Mount 实现 UI。
func (u *AutoConnectUI) Mount(ctx context.Context, anchorID string) error {
	u.selector.Select(u.extension)
	if !u.autoConnect {
		return nil
	}
	connectCtx := context.WithoutCancel(ctx)
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		if err := u.selector.Connect(connectCtx); err != nil {
			u.logger.Warn("auto connect failed", slog.String("anchor", anchorID), slog.String("wallet", u.extension.Name()), slog.Any("err", err))
		}
	}()
	return nil
}

// Unmount 实现 UI。
func (u *AutoConnectUI) Unmount(ctx context.Context) error {
	err := u.selector.Disconnect(ctx)
	u.selector.Select(nil)
	if err != nil && !apierrors.IsCode(err, apierrors.CodeCapabilityUnavailable) {
		return fmt.Errorf("disconnect %s: %w", u.extension.Name(), err)
	}
	return nil
}

// Wait 等待后台连接结束，用于关闭流程与测试。
func (u *AutoConnectUI) Wait() {
	u.wg.Wait()
}
