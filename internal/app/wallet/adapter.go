package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/aegis-sign/wallet-bridge/pkg/apierrors"
)

var (
	// ErrNoWallet 表示尚未选择任何钱包扩展。
	ErrNoWallet = errors.New("no wallet selected")
	// ErrNotConnected 表示当前没有活动连接。
	ErrNotConnected = errors.New("wallet not connected")
)

// AdapterConfig 控制 Adapter 行为。
type AdapterConfig struct {
	Endpoint string
	Logger   *slog.Logger
	Metrics  *Metrics
}

// State 是 Adapter 的只读快照。
type State struct {
	Wallet       string
	Account      Account
	Capabilities Capabilities
}

// Adapter 是钱包连接状态的唯一持有者，对外暴露统一的能力集合。
// 钱包调用期间不持有锁；其他组件最多在单次调用期间持有连接引用。
type Adapter struct {
	endpoint string
	logger   *slog.Logger
	metrics  *Metrics

	// transMu 串行化状态迁移与监听者回调，保证回调顺序与迁移顺序一致。
	transMu sync.Mutex

	mu        sync.RWMutex
	ext       Extension
	conn      *Connection
	account   Account
	seq       uint64
	pending   uint64
	active    uint64
	listeners []listener
	nextID    uint64
}

type listener struct {
	id uint64
	fn func(Account)
}

// NewAdapter 构造 Adapter，初始无钱包、无账户。
func NewAdapter(cfg AdapterConfig) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		endpoint: cfg.Endpoint,
		logger:   logger,
		metrics:  cfg.Metrics,
	}
	a.metrics.setConnected(NoAccount())
	return a
}

// CurrentAccount 返回账户快照。
func (a *Adapter) CurrentAccount() Account {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.account
}

// Capabilities 返回当前连接的能力集合。
func (a *Adapter) Capabilities() Capabilities {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return capabilitiesOf(a.ext, a.conn)
}

// Snapshot 返回钱包名、账户与能力的一致快照。
func (a *Adapter) Snapshot() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	state := State{Account: a.account, Capabilities: capabilitiesOf(a.ext, a.conn)}
	if a.ext != nil {
		state.Wallet = a.ext.Name()
	}
	return state
}

// OnAccountChange 注册监听者，每次账户事件都会被调用；返回取消函数。
// 监听者不得在回调中同步触发新的迁移。
func (a *Adapter) OnAccountChange(fn func(Account)) (unsubscribe func()) {
	a.transMu.Lock()
	defer a.transMu.Unlock()
	return a.addListenerLocked(fn)
}

// WatchAccount 与 OnAccountChange 相同，但会先以当前账户回调一次，
// 注册与首次回调之间不会插入任何迁移。
func (a *Adapter) WatchAccount(fn func(Account)) (unsubscribe func()) {
	a.transMu.Lock()
	defer a.transMu.Unlock()
	unsubscribe = a.addListenerLocked(fn)
	fn(a.CurrentAccount())
	return unsubscribe
}

func (a *Adapter) addListenerLocked(fn func(Account)) func() {
	if fn == nil {
		return func() {}
	}
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	a.listeners = append(a.listeners, listener{id: id, fn: fn})
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			for i, l := range a.listeners {
				if l.id == id {
					a.listeners = append(a.listeners[:i:i], a.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Select 切换到新的钱包扩展，旧连接被丢弃。传入 nil 表示取消选择。
func (a *Adapter) Select(ext Extension) {
	a.transition(func() (Account, bool) {
		if a.ext == ext {
			return Account{}, false
		}
		hadAccount := a.account.Present()
		a.ext = ext
		a.dropConnectionLocked()
		return a.account, hadAccount
	})
	name := "none"
	if ext != nil {
		name = ext.Name()
	}
	a.logger.Info("wallet selected", slog.String("wallet", name))
}

// Connect 通过已选择的扩展建立连接。
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	ext := a.ext
	a.seq++
	token := a.seq
	a.pending = token
	a.mu.Unlock()
	if ext == nil {
		a.metrics.observe("connect", "failed")
		return apierrors.Wrap(apierrors.CodeWalletOperationFailed, "connect", ErrNoWallet)
	}

	var conn *Connection
	err := guard(func() error {
		var connectErr error
		conn, connectErr = ext.Connect(context.WithoutCancel(ctx), ConnectRequest{
			Endpoint: a.endpoint,
			Events:   a.sinkFor(token),
		})
		return connectErr
	})
	if err == nil && conn == nil {
		err = errors.New("extension returned no connection")
	}
	if err != nil {
		a.metrics.observe("connect", "failed")
		a.logger.Warn("wallet connect failed", slog.String("wallet", ext.Name()), slog.Any("err", err))
		return apierrors.Wrap(apierrors.CodeWalletOperationFailed, "connect", err)
	}

	installed := false
	a.transition(func() (Account, bool) {
		if a.pending != token || a.ext != ext {
			return Account{}, false
		}
		a.conn = conn
		a.active = token
		a.account = AccountOf(conn.PublicKey)
		installed = true
		return a.account, true
	})
	if !installed {
		a.metrics.observe("connect", "superseded")
		return apierrors.Wrap(apierrors.CodeWalletOperationFailed, "connect", errors.New("connection superseded"))
	}
	a.metrics.observe("connect", "ok")
	a.logger.Info("wallet connected", slog.String("wallet", ext.Name()), slog.String("account", conn.PublicKey.String()))
	return nil
}

// Disconnect 断开当前连接；没有活动连接时为幂等成功。
// 失败时保留原连接状态。
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.RLock()
	conn := a.conn
	token := a.active
	a.mu.RUnlock()
	if conn == nil {
		a.metrics.observe("disconnect", "noop")
		return nil
	}
	if conn.Disconnect == nil {
		a.metrics.observe("disconnect", "unavailable")
		return apierrors.New(apierrors.CodeCapabilityUnavailable, "wallet does not support disconnect")
	}
	if err := guard(func() error { return conn.Disconnect(context.WithoutCancel(ctx)) }); err != nil {
		a.metrics.observe("disconnect", "failed")
		return apierrors.Wrap(apierrors.CodeWalletOperationFailed, "disconnect", err)
	}
	a.transition(func() (Account, bool) {
		if a.active != token {
			return Account{}, false
		}
		a.dropConnectionLocked()
		return a.account, true
	})
	a.metrics.observe("disconnect", "ok")
	return nil
}

// SignTransaction 请求钱包签名交易。
func (a *Adapter) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	conn, err := a.connection()
	if err != nil {
		a.metrics.observe("sign_transaction", "failed")
		return nil, apierrors.Wrap(apierrors.CodeWalletOperationFailed, "sign transaction", err)
	}
	if conn.SignTransaction == nil {
		a.metrics.observe("sign_transaction", "unavailable")
		return nil, apierrors.New(apierrors.CodeCapabilityUnavailable, "wallet does not support transaction signing")
	}
	var signed *solana.Transaction
	err = guard(func() error {
		var signErr error
		signed, signErr = conn.SignTransaction(context.WithoutCancel(ctx), tx)
		return signErr
	})
	if err == nil && signed == nil {
		err = errors.New("wallet returned no transaction")
	}
	if err != nil {
		a.metrics.observe("sign_transaction", "failed")
		return nil, apierrors.Wrap(apierrors.CodeWalletOperationFailed, "sign transaction", err)
	}
	a.metrics.observe("sign_transaction", "ok")
	return signed, nil
}

// SignMessage 请求钱包对任意字节签名，返回原始签名字节。
func (a *Adapter) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	conn, err := a.connection()
	if err != nil {
		a.metrics.observe("sign_message", "failed")
		return nil, apierrors.Wrap(apierrors.CodeWalletOperationFailed, "sign message", err)
	}
	if conn.SignMessage == nil {
		a.metrics.observe("sign_message", "unavailable")
		return nil, apierrors.New(apierrors.CodeCapabilityUnavailable, "wallet does not support message signing")
	}
	var signature []byte
	err = guard(func() error {
		var signErr error
		signature, signErr = conn.SignMessage(context.WithoutCancel(ctx), message)
		return signErr
	})
	if err != nil {
		a.metrics.observe("sign_message", "failed")
		return nil, apierrors.Wrap(apierrors.CodeWalletOperationFailed, "sign message", err)
	}
	a.metrics.observe("sign_message", "ok")
	return signature, nil
}

func (a *Adapter) connection() (*Connection, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.ext == nil {
		return nil, ErrNoWallet
	}
	if a.conn == nil {
		return nil, ErrNotConnected
	}
	return a.conn, nil
}

// sinkFor 返回绑定到某次连接的上报通道，连接被替换后的上报会被忽略。
func (a *Adapter) sinkFor(token uint64) AccountSink {
	return func(acc Account) {
		a.transition(func() (Account, bool) {
			if a.active != token || a.conn == nil {
				return Account{}, false
			}
			if !acc.Present() {
				a.dropConnectionLocked()
				return a.account, true
			}
			a.account = acc
			return a.account, true
		})
	}
}

// transition 在 transMu 下执行状态修改并按注册顺序通知监听者。
func (a *Adapter) transition(apply func() (Account, bool)) {
	a.transMu.Lock()
	defer a.transMu.Unlock()

	a.mu.Lock()
	acc, changed := apply()
	var fns []func(Account)
	if changed {
		fns = make([]func(Account), len(a.listeners))
		for i, l := range a.listeners {
			fns[i] = l.fn
		}
	}
	current := a.account
	a.mu.Unlock()

	a.metrics.setConnected(current)
	for _, fn := range fns {
		fn(acc)
	}
}

func (a *Adapter) dropConnectionLocked() {
	a.conn = nil
	a.active = 0
	a.pending = 0
	a.account = NoAccount()
}

// guard 将扩展的 panic 转换为错误，钱包异常不得向上抛出。
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("wallet extension panicked: %v", r)
		}
	}()
	return fn()
}
