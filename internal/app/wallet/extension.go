package wallet

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// AccountSink 由扩展调用，上报账户切换或扩展侧断开（NoAccount）。
type AccountSink func(Account)

// ConnectRequest 携带建立钱包会话所需的上下文。
type ConnectRequest struct {
	// Endpoint 是外部配置的网络节点，桥本身不访问它。
	Endpoint string
	Events   AccountSink
}

// Connection 描述一次连接暴露的能力；为 nil 的函数即缺失的能力。
type Connection struct {
	PublicKey       solana.PublicKey
	Disconnect      func(ctx context.Context) error
	SignTransaction func(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)
	SignMessage     func(ctx context.Context, message []byte) ([]byte, error)
}

// Extension 是底层钱包扩展，对桥来说是黑盒。
type Extension interface {
	Name() string
	Connect(ctx context.Context, req ConnectRequest) (*Connection, error)
}
