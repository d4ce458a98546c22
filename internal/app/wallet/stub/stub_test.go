package stub

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/aegis-sign/wallet-bridge/internal/app/wallet"
	"github.com/aegis-sign/wallet-bridge/pkg/codec"
	"github.com/aegis-sign/wallet-bridge/pkg/codec/codectest"
)

func TestStubSignsMessage(t *testing.T) {
	w, err := New("dev")
	require.NoError(t, err)
	a := connect(t, w)

	msg := []byte("sign in to ore")
	sig, err := a.SignMessage(context.Background(), msg)
	require.NoError(t, err)
	pk := w.PublicKey()
	require.True(t, ed25519.Verify(pk[:], msg, sig))
}

func TestStubSignsOwnTransactionSlot(t *testing.T) {
	w, err := New("dev")
	require.NoError(t, err)
	a := connect(t, w)

	for _, raw := range [][]byte{
		codectest.LegacyTransfer(w.PublicKey(), codectest.Key(2), 5000),
		codectest.V0Transfer(w.PublicKey(), codectest.Key(2), 5000),
	} {
		tx, err := codec.ParseTransaction(raw)
		require.NoError(t, err)

		signed, err := a.SignTransaction(context.Background(), tx)
		require.NoError(t, err)
		require.Len(t, signed.Signatures, 1)
		require.NoError(t, signed.VerifySignatures())

		// 原交易不应被修改。
		require.Equal(t, solana.Signature{}, tx.Signatures[0])
	}
}

func TestStubRejectsForeignTransaction(t *testing.T) {
	w, err := New("dev")
	require.NoError(t, err)
	a := connect(t, w)

	tx, err := codec.ParseTransaction(codectest.LegacyTransfer(codectest.Key(1), codectest.Key(2), 1))
	require.NoError(t, err)
	_, err = a.SignTransaction(context.Background(), tx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a required signer")
}

func TestStubCapabilitySwitches(t *testing.T) {
	w, err := New("dev", WithoutSignMessage(), WithoutDisconnect())
	require.NoError(t, err)
	a := connect(t, w)

	caps := a.Capabilities()
	require.True(t, caps.SignTransaction)
	require.False(t, caps.SignMessage)
	require.False(t, caps.Disconnect)
	require.Equal(t, []wallet.Capability{wallet.CapabilitySignTransaction}, caps.List())
}

func TestStubRejectMode(t *testing.T) {
	w, err := New("dev")
	require.NoError(t, err)
	a := connect(t, w)

	w.SetReject(true)
	_, err = a.SignMessage(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrRejected)
	require.ErrorIs(t, a.Disconnect(context.Background()), ErrRejected)
	require.True(t, a.CurrentAccount().Present())
}

func TestStubSwitchAndLockDriveAdapter(t *testing.T) {
	w, err := New("dev")
	require.NoError(t, err)
	a := connect(t, w)

	next, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	w.SwitchAccount(next)
	require.True(t, a.CurrentAccount().Equal(wallet.AccountOf(next.PublicKey())))

	w.Lock()
	require.False(t, a.CurrentAccount().Present())
}

func TestStubWithKey(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	w, err := New("", WithKey(key))
	require.NoError(t, err)
	require.Equal(t, "stub", w.Name())
	require.Equal(t, key.PublicKey(), w.PublicKey())

	_, err = New("bad", WithKey(solana.PrivateKey{1, 2, 3}))
	require.Error(t, err)
}

func connect(t *testing.T, w *Wallet) *wallet.Adapter {
	t.Helper()
	a := wallet.NewAdapter(wallet.AdapterConfig{})
	a.Select(w)
	require.NoError(t, a.Connect(context.Background()))
	return a
}
