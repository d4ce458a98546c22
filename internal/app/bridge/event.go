package bridge

import (
	"context"

	"github.com/aegis-sign/wallet-bridge/internal/app/wallet"
	"github.com/aegis-sign/wallet-bridge/pkg/codec"
)

const (
	// EventKindAccountChanged 是账户变更事件的种类。
	EventKindAccountChanged = "account-changed"
	// EventNamePubkey 是宿主侧监听的事件名。
	EventNamePubkey = "ore-pubkey"
)

// AccountDetail 是 ore-pubkey 事件的 detail，Pubkey 为 nil 表示没有账户。
type AccountDetail struct {
	Pubkey codec.ByteArray `json:"pubkey"`
}

// Event 是发往宿主的边界事件。
type Event struct {
	Kind   string        `json:"kind"`
	Name   string        `json:"name"`
	Seq    uint64        `json:"seq"`
	Detail AccountDetail `json:"detail"`
}

// AccountChanged 构造账户变更事件。
func AccountChanged(seq uint64, acc wallet.Account) Event {
	return Event{
		Kind:   EventKindAccountChanged,
		Name:   EventNamePubkey,
		Seq:    seq,
		Detail: AccountDetail{Pubkey: codec.ByteArray(acc.Bytes())},
	}
}

// Account 将 detail 还原为账户；非 32 字节的 pubkey 视为无账户。
func (d AccountDetail) Account() wallet.Account {
	acc, err := wallet.AccountFromBytes(d.Pubkey)
	if err != nil {
		return wallet.NoAccount()
	}
	return acc
}

// Emitter 将事件投递到宿主的事件面。
type Emitter interface {
	Emit(ctx context.Context, evt Event) error
}

// EmitterFunc 允许普通函数实现 Emitter。
type EmitterFunc func(ctx context.Context, evt Event) error

// Emit 实现 Emitter。
func (f EmitterFunc) Emit(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Scheduler 是串行执行账户迁移的任务队列，eventloop.Loop 实现了它。
type Scheduler interface {
	Post(ctx context.Context, name string, fn func()) error
}
