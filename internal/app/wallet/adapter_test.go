package wallet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/aegis-sign/wallet-bridge/pkg/apierrors"
)

func TestAdapterStartsWithoutAccount(t *testing.T) {
	a := NewAdapter(AdapterConfig{Metrics: NewMetrics(prometheus.NewRegistry())})
	require.False(t, a.CurrentAccount().Present())
	require.False(t, a.Capabilities().Connected)
	require.False(t, a.Capabilities().Selected)
	require.Empty(t, a.Snapshot().Wallet)

	a.Select(newFakeExtension(testKey(1)))
	require.True(t, a.Capabilities().Selected)
	require.False(t, a.Capabilities().Connected)
	require.Empty(t, a.Capabilities().List())
}

func TestAdapterConnectReportsAccount(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	a := NewAdapter(AdapterConfig{Endpoint: "https://rpc.test", Metrics: metrics})
	ext := newFakeExtension(testKey(1))
	a.Select(ext)

	var seen []Account
	a.OnAccountChange(func(acc Account) { seen = append(seen, acc) })

	require.NoError(t, a.Connect(context.Background()))
	require.Equal(t, "https://rpc.test", ext.endpoint)
	require.Len(t, seen, 1)
	require.True(t, seen[0].Equal(AccountOf(testKey(1))))
	require.True(t, a.Capabilities().SignMessage)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.connected))
}

func TestAdapterConnectWithoutWallet(t *testing.T) {
	a := NewAdapter(AdapterConfig{})
	err := a.Connect(context.Background())
	require.True(t, apierrors.IsCode(err, apierrors.CodeWalletOperationFailed))
	require.ErrorIs(t, err, ErrNoWallet)
}

func TestAdapterConnectFailureKeepsNoAccount(t *testing.T) {
	a := NewAdapter(AdapterConfig{})
	ext := newFakeExtension(testKey(1))
	ext.connectErr = errors.New("user closed the popup")
	a.Select(ext)

	err := a.Connect(context.Background())
	require.True(t, apierrors.IsCode(err, apierrors.CodeWalletOperationFailed))
	require.False(t, a.CurrentAccount().Present())
}

func TestAdapterWatchAccountReplaysCurrent(t *testing.T) {
	a := connectedAdapter(t, newFakeExtension(testKey(7)))

	var seen []Account
	unsubscribe := a.WatchAccount(func(acc Account) { seen = append(seen, acc) })
	require.Len(t, seen, 1)
	require.True(t, seen[0].Equal(AccountOf(testKey(7))))

	unsubscribe()
	unsubscribe()
	require.NoError(t, a.Disconnect(context.Background()))
	require.Len(t, seen, 1)
}

func TestAdapterExtensionSwitchAndLock(t *testing.T) {
	ext := newFakeExtension(testKey(1))
	a := connectedAdapter(t, ext)

	var seen []Account
	a.OnAccountChange(func(acc Account) { seen = append(seen, acc) })

	ext.report(AccountOf(testKey(2)))
	require.True(t, a.CurrentAccount().Equal(AccountOf(testKey(2))))

	ext.report(NoAccount())
	require.False(t, a.CurrentAccount().Present())
	require.False(t, a.Capabilities().Connected)

	// 连接已被丢弃，后续上报属于过期连接。
	ext.report(AccountOf(testKey(3)))
	require.False(t, a.CurrentAccount().Present())
	require.Len(t, seen, 2)
}

func TestAdapterIgnoresSupersededConnection(t *testing.T) {
	first := newFakeExtension(testKey(1))
	a := connectedAdapter(t, first)

	second := newFakeExtension(testKey(2))
	a.Select(second)
	require.False(t, a.CurrentAccount().Present())
	require.NoError(t, a.Connect(context.Background()))

	first.report(AccountOf(testKey(9)))
	require.True(t, a.CurrentAccount().Equal(AccountOf(testKey(2))))
}

func TestAdapterDisconnectIdempotent(t *testing.T) {
	a := NewAdapter(AdapterConfig{})
	require.NoError(t, a.Disconnect(context.Background()))

	ext := newFakeExtension(testKey(1))
	a = connectedAdapter(t, ext)
	require.NoError(t, a.Disconnect(context.Background()))
	require.NoError(t, a.Disconnect(context.Background()))
	require.Equal(t, int64(1), ext.disconnects.Load())
	require.False(t, a.CurrentAccount().Present())
}

func TestAdapterDisconnectFailurePreservesState(t *testing.T) {
	ext := newFakeExtension(testKey(1))
	ext.disconnectErr = errors.New("extension busy")
	a := connectedAdapter(t, ext)

	err := a.Disconnect(context.Background())
	require.True(t, apierrors.IsCode(err, apierrors.CodeWalletOperationFailed))
	require.True(t, a.CurrentAccount().Equal(AccountOf(testKey(1))))
	require.True(t, a.Capabilities().Connected)
}

func TestAdapterMissingCapability(t *testing.T) {
	ext := newFakeExtension(testKey(1))
	ext.noSignMessage = true
	a := connectedAdapter(t, ext)

	_, err := a.SignMessage(context.Background(), []byte("hello"))
	require.True(t, apierrors.IsCode(err, apierrors.CodeCapabilityUnavailable))
	require.Zero(t, ext.messages.Load())
}

func TestAdapterSignWithoutConnection(t *testing.T) {
	a := NewAdapter(AdapterConfig{})
	a.Select(newFakeExtension(testKey(1)))

	_, err := a.SignMessage(context.Background(), []byte("hello"))
	require.True(t, apierrors.IsCode(err, apierrors.CodeWalletOperationFailed))
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestAdapterWrapsWalletPanic(t *testing.T) {
	ext := newFakeExtension(testKey(1))
	ext.panicOnSign = true
	a := connectedAdapter(t, ext)

	_, err := a.SignMessage(context.Background(), []byte("hello"))
	require.True(t, apierrors.IsCode(err, apierrors.CodeWalletOperationFailed))
	require.Contains(t, err.Error(), "panicked")
}

func TestAdapterDoesNotPropagateCancellation(t *testing.T) {
	ext := newFakeExtension(testKey(1))
	a := connectedAdapter(t, ext)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sig, err := a.SignMessage(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Len(t, sig, 64)
	require.NoError(t, ext.lastCtxErr)
}

func connectedAdapter(t *testing.T, ext *fakeExtension) *Adapter {
	t.Helper()
	a := NewAdapter(AdapterConfig{Metrics: NewMetrics(prometheus.NewRegistry())})
	a.Select(ext)
	require.NoError(t, a.Connect(context.Background()))
	return a
}

func testKey(b byte) solana.PublicKey {
	var pk solana.PublicKey
	for i := range pk {
		pk[i] = b
	}
	return pk
}

type fakeExtension struct {
	key           solana.PublicKey
	connectErr    error
	disconnectErr error
	noSignMessage bool
	panicOnSign   bool

	mu         sync.Mutex
	sink       AccountSink
	endpoint   string
	lastCtxErr error

	disconnects atomic.Int64
	messages    atomic.Int64
}

func newFakeExtension(key solana.PublicKey) *fakeExtension {
	return &fakeExtension{key: key}
}

func (f *fakeExtension) Name() string { return "fake" }

func (f *fakeExtension) Connect(ctx context.Context, req ConnectRequest) (*Connection, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	f.mu.Lock()
	f.sink = req.Events
	f.endpoint = req.Endpoint
	f.mu.Unlock()

	conn := &Connection{
		PublicKey: f.key,
		Disconnect: func(context.Context) error {
			if f.disconnectErr != nil {
				return f.disconnectErr
			}
			f.disconnects.Add(1)
			return nil
		},
		SignTransaction: func(_ context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
			return tx, nil
		},
	}
	if !f.noSignMessage {
		conn.SignMessage = func(ctx context.Context, message []byte) ([]byte, error) {
			f.messages.Add(1)
			f.lastCtxErr = ctx.Err()
			if f.panicOnSign {
				panic("boom")
			}
			return make([]byte, 64), nil
		}
	}
	return conn, nil
}

func (f *fakeExtension) report(acc Account) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink != nil {
		sink(acc)
	}
}
