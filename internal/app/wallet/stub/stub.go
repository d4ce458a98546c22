// Package stub 提供进程内的开发用钱包扩展，私钥只存在于本进程内存中，
// 仅用于联调与测试，生产部署应替换为真实扩展。
package stub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"

	"github.com/aegis-sign/wallet-bridge/internal/app/wallet"
)

// ErrRejected 模拟用户在钱包弹窗中拒绝请求。
var ErrRejected = errors.New("user rejected the request")

// Option 调整 stub 钱包。
type Option func(*Wallet)

// WithKey 指定签名私钥，默认随机生成。
func WithKey(key solana.PrivateKey) Option {
	return func(w *Wallet) { w.key = key }
}

// WithoutDisconnect 移除 disconnect 能力。
func WithoutDisconnect() Option {
	return func(w *Wallet) { w.noDisconnect = true }
}

// WithoutSignTransaction 移除交易签名能力。
func WithoutSignTransaction() Option {
	return func(w *Wallet) { w.noSignTransaction = true }
}

// WithoutSignMessage 移除消息签名能力。
func WithoutSignMessage() Option {
	return func(w *Wallet) { w.noSignMessage = true }
}

// Wallet 是实现 wallet.Extension 的 ed25519 钱包。
type Wallet struct {
	name string

	noDisconnect      bool
	noSignTransaction bool
	noSignMessage     bool

	reject atomic.Bool

	mu   sync.Mutex
	key  solana.PrivateKey
	sink wallet.AccountSink
}

// New 构造 stub 钱包。
func New(name string, opts ...Option) (*Wallet, error) {
	w := &Wallet{name: name}
	for _, opt := range opts {
		opt(w)
	}
	if w.name == "" {
		w.name = "stub"
	}
	if len(w.key) == 0 {
		key, err := solana.NewRandomPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("generate stub key: %w", err)
		}
		w.key = key
	}
	if len(w.key) != 64 {
		return nil, fmt.Errorf("stub key must be 64 bytes, got %d", len(w.key))
	}
	return w, nil
}

// Name 实现 wallet.Extension。
func (w *Wallet) Name() string { return w.name }

// PublicKey 返回当前账户公钥。
func (w *Wallet) PublicKey() solana.PublicKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.key.PublicKey()
}

// Connected 表示扩展侧会话是否仍然打开。
func (w *Wallet) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sink != nil
}

// SetReject 开启后所有请求都以 ErrRejected 失败。
func (w *Wallet) SetReject(reject bool) { w.reject.Store(reject) }

// Connect 实现 wallet.Extension。
func (w *Wallet) Connect(_ context.Context, req wallet.ConnectRequest) (*wallet.Connection, error) {
	if w.reject.Load() {
		return nil, ErrRejected
	}
	w.mu.Lock()
	w.sink = req.Events
	pk := w.key.PublicKey()
	w.mu.Unlock()

	conn := &wallet.Connection{PublicKey: pk}
	if !w.noDisconnect {
		conn.Disconnect = w.disconnect
	}
	if !w.noSignTransaction {
		conn.SignTransaction = w.signTransaction
	}
	if !w.noSignMessage {
		conn.SignMessage = w.signMessage
	}
	return conn, nil
}

// SwitchAccount 模拟用户在扩展内切换账户。
func (w *Wallet) SwitchAccount(key solana.PrivateKey) {
	w.mu.Lock()
	w.key = key
	sink := w.sink
	w.mu.Unlock()
	if sink != nil {
		sink(wallet.AccountOf(key.PublicKey()))
	}
}

// Lock 模拟扩展侧锁定/断开，之后需要重新 Connect。
func (w *Wallet) Lock() {
	w.mu.Lock()
	sink := w.sink
	w.sink = nil
	w.mu.Unlock()
	if sink != nil {
		sink(wallet.NoAccount())
	}
}

func (w *Wallet) disconnect(context.Context) error {
	if w.reject.Load() {
		return ErrRejected
	}
	w.mu.Lock()
	w.sink = nil
	w.mu.Unlock()
	return nil
}

func (w *Wallet) signMessage(_ context.Context, message []byte) ([]byte, error) {
	if w.reject.Load() {
		return nil, ErrRejected
	}
	w.mu.Lock()
	key := w.key
	w.mu.Unlock()
	sig, err := key.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	return sig[:], nil
}

// signTransaction 只填充本账户对应的签名位，其余签名保持不变。
func (w *Wallet) signTransaction(_ context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	if w.reject.Load() {
		return nil, ErrRejected
	}
	if tx == nil {
		return nil, errors.New("transaction is nil")
	}
	w.mu.Lock()
	key := w.key
	w.mu.Unlock()

	pk := key.PublicKey()
	required := int(tx.Message.Header.NumRequiredSignatures)
	if required > len(tx.Message.AccountKeys) {
		return nil, fmt.Errorf("header requires %d signers but message has %d keys", required, len(tx.Message.AccountKeys))
	}
	slot := -1
	for i := 0; i < required; i++ {
		if tx.Message.AccountKeys[i].Equals(pk) {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, fmt.Errorf("account %s is not a required signer", pk)
	}

	payload, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize message: %w", err)
	}
	sig, err := key.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	signed := *tx
	signed.Signatures = make([]solana.Signature, required)
	copy(signed.Signatures, tx.Signatures)
	signed.Signatures[slot] = sig
	return &signed, nil
}
