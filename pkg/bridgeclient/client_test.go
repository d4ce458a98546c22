package bridgeclient

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	bridgeapi "github.com/aegis-sign/wallet-bridge/internal/api"
	"github.com/aegis-sign/wallet-bridge/internal/app/bridge"
	"github.com/aegis-sign/wallet-bridge/internal/app/wallet"
	"github.com/aegis-sign/wallet-bridge/internal/app/wallet/stub"
	"github.com/aegis-sign/wallet-bridge/pkg/apierrors"
)

func TestStatusFromPubkey(t *testing.T) {
	require.False(t, StatusFromPubkey(nil).Connected)
	require.False(t, StatusFromPubkey(make([]byte, 31)).Connected)
	require.False(t, StatusFromPubkey(make([]byte, 33)).Connected)

	raw := make([]byte, 32)
	raw[0] = 9
	status := StatusFromPubkey(raw)
	require.True(t, status.Connected)
	require.Equal(t, raw, status.Pubkey.Bytes())
	require.Equal(t, "disconnected", Status{}.String())
}

func TestClientTracksWalletStatus(t *testing.T) {
	ext, url := startBridge(t)

	var mu sync.Mutex
	var seen []Status
	client, err := Dial(context.Background(), url, Options{OnStatus: func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = client.Call(ctx, bridge.NameSignMessage, bridge.SignRequest{B64: "aGk="})
	require.True(t, apierrors.IsCode(err, apierrors.CodeUnknownCallable))

	_, err = client.Call(ctx, "anchor.available", map[string]string{"id": bridge.DefaultAnchorID})
	require.NoError(t, err)
	_, err = client.Call(ctx, "wallet.connect", nil)
	require.NoError(t, err)

	pk := ext.PublicKey()
	require.Eventually(t, func() bool {
		s := client.Status()
		return s.Connected && s.Pubkey.Equals(pk)
	}, 2*time.Second, 10*time.Millisecond)

	raw, err := client.Call(ctx, bridge.NameDisconnect, nil)
	require.NoError(t, err)
	require.Equal(t, "null", string(raw))
	require.Eventually(t, func() bool { return !client.Status().Connected }, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.False(t, seen[0].Connected)
	require.True(t, seen[1].Connected)
	require.False(t, seen[2].Connected)
}

func TestClientCallAfterClose(t *testing.T) {
	_, url := startBridge(t)
	client, err := Dial(context.Background(), url, Options{})
	require.NoError(t, err)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit")
	}
	_, err = client.Call(context.Background(), "account", nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestClientDecodesResult(t *testing.T) {
	_, url := startBridge(t)
	client, err := Dial(context.Background(), url, Options{})
	require.NoError(t, err)
	defer client.Close()

	raw, err := client.Call(context.Background(), "MountWalletAdapter", nil)
	require.NoError(t, err)
	var out struct {
		Mounted bool `json:"mounted"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	require.False(t, out.Mounted)
}

func startBridge(t *testing.T) (*stub.Wallet, string) {
	t.Helper()
	ext, err := stub.New("dev")
	require.NoError(t, err)
	adapter := wallet.NewAdapter(wallet.AdapterConfig{})
	adapter.Select(ext)

	hub := bridgeapi.NewHub(8, nil, prometheus.NewRegistry())
	registry := bridge.NewRegistry(bridge.RegistryConfig{})
	notifier, err := bridge.NewNotifier(bridge.NotifierConfig{Emitter: hub})
	require.NoError(t, err)
	registrar, err := bridge.NewRegistrar(bridge.RegistrarConfig{
		Accounts: adapter,
		Registry: registry,
		Handlers: bridge.NewHandlers(adapter, nil),
		Notifier: notifier,
		UI:       bridge.NopUI{},
	})
	require.NoError(t, err)

	handler := bridgeapi.NewHTTPHandler(bridgeapi.Backend{
		Callables: registry,
		Registrar: registrar,
		Wallet:    adapter,
		Events:    hub,
	}, bridgeapi.HTTPConfig{})
	srv := httptest.NewServer(handler.Router())
	t.Cleanup(srv.Close)
	return ext, "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
}
