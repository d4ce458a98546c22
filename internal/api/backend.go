package bridgeapi

import (
	"context"
	"encoding/json"

	"github.com/aegis-sign/wallet-bridge/internal/app/bridge"
	"github.com/aegis-sign/wallet-bridge/internal/app/wallet"
	"github.com/aegis-sign/wallet-bridge/pkg/codec"
)

// Invoker 是宿主唯一持有的调用入口，bridge.Registry 实现了它。
type Invoker interface {
	Invoke(ctx context.Context, name string, params json.RawMessage) (any, error)
}

// Mounter 是挂载生命周期入口，bridge.Registrar 实现了它。
type Mounter interface {
	AnchorAvailable(ctx context.Context, id string) error
	AnchorRemoved(ctx context.Context, id string) error
	MountWalletAdapter(ctx context.Context) (bool, error)
	Snapshot() bridge.RegistrarSnapshot
}

// WalletView 提供账户快照与手动连接，wallet.Adapter 实现了它。
type WalletView interface {
	Snapshot() wallet.State
	Connect(ctx context.Context) error
}

// Backend 汇总 HTTP/WebSocket/gRPC 三种传输共用的依赖。
type Backend struct {
	Callables Invoker
	Registrar Mounter
	Wallet    WalletView
	Events    *Hub
}

func (b Backend) validate() {
	if b.Callables == nil {
		panic("callable invoker is required")
	}
	if b.Registrar == nil {
		panic("registrar is required")
	}
	if b.Wallet == nil {
		panic("wallet view is required")
	}
	if b.Events == nil {
		panic("event hub is required")
	}
}

// mountResult 是挂载类操作的结果。
type mountResult struct {
	Mounted bool `json:"mounted"`
}

// accountResponse 是 GET /v1/account 的响应。
type accountResponse struct {
	Wallet       string              `json:"wallet,omitempty"`
	Connected    bool                `json:"connected"`
	Address      string              `json:"address,omitempty"`
	Pubkey       codec.ByteArray     `json:"pubkey"`
	Capabilities []wallet.Capability `json:"capabilities"`
}
