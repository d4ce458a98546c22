package bridgeapi

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/aegis-sign/wallet-bridge/internal/app/bridge"
	"github.com/aegis-sign/wallet-bridge/internal/app/wallet"
	"github.com/aegis-sign/wallet-bridge/internal/app/wallet/stub"
)

type apiEnv struct {
	ext       *stub.Wallet
	adapter   *wallet.Adapter
	registry  *bridge.Registry
	registrar *bridge.Registrar
	hub       *Hub
	backend   Backend
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	ext, err := stub.New("dev")
	require.NoError(t, err)

	env := &apiEnv{
		ext:     ext,
		adapter: wallet.NewAdapter(wallet.AdapterConfig{}),
		hub:     NewHub(8, nil, prometheus.NewRegistry()),
	}
	env.adapter.Select(ext)

	metrics := bridge.NewMetrics(prometheus.NewRegistry())
	env.registry = bridge.NewRegistry(bridge.RegistryConfig{Metrics: metrics})
	notifier, err := bridge.NewNotifier(bridge.NotifierConfig{Emitter: env.hub, Metrics: metrics})
	require.NoError(t, err)
	env.registrar, err = bridge.NewRegistrar(bridge.RegistrarConfig{
		Accounts: env.adapter,
		Registry: env.registry,
		Handlers: bridge.NewHandlers(env.adapter, nil),
		Notifier: notifier,
		UI:       bridge.NopUI{},
		Metrics:  metrics,
	})
	require.NoError(t, err)

	env.backend = Backend{
		Callables: env.registry,
		Registrar: env.registrar,
		Wallet:    env.adapter,
		Events:    env.hub,
	}
	return env
}
