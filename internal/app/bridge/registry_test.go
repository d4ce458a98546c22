package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/aegis-sign/wallet-bridge/pkg/apierrors"
)

func TestRegistryRejectsUnknownNames(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	err := r.Register("SolanaSigner", constCallable("x"))
	require.True(t, apierrors.IsCode(err, apierrors.CodeUnknownCallable))
	require.Error(t, r.Register(NameSignMessage, nil))
	require.Empty(t, r.Names())
}

func TestRegistryLastRegistrationWins(t *testing.T) {
	r := NewRegistry(RegistryConfig{TracerProvider: noop.NewTracerProvider()})
	require.NoError(t, r.Register(NameSignMessage, constCallable("first")))
	require.NoError(t, r.Register(NameSignMessage, constCallable("second")))

	result, err := r.Invoke(context.Background(), NameSignMessage, nil)
	require.NoError(t, err)
	require.Equal(t, "second", result)
	require.Equal(t, []string{NameSignMessage}, r.Names())
}

func TestRegistryInvokeEmptySlot(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	r := NewRegistry(RegistryConfig{Metrics: metrics})

	_, err := r.Invoke(context.Background(), NameSignTransaction, nil)
	require.True(t, apierrors.IsCode(err, apierrors.CodeUnknownCallable))
	_, err = r.Invoke(context.Background(), "window.alert", nil)
	require.True(t, apierrors.IsCode(err, apierrors.CodeUnknownCallable))

	require.Equal(t, float64(1), testutil.ToFloat64(metrics.invocations.WithLabelValues(NameSignTransaction, string(apierrors.CodeUnknownCallable))))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.invocations.WithLabelValues("unknown", string(apierrors.CodeUnknownCallable))))
}

func TestRegistryDeregister(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	require.NoError(t, r.Register(NameDisconnect, constCallable(nil)))
	_, ok := r.Lookup(NameDisconnect)
	require.True(t, ok)

	r.Deregister(NameDisconnect)
	r.Deregister(NameDisconnect)
	_, ok = r.Lookup(NameDisconnect)
	require.False(t, ok)
}

func TestRegistryConcurrentReplaceAndInvoke(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	require.NoError(t, r.Register(NameSignMessage, constCallable("v")))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.Register(NameSignMessage, constCallable("v"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				result, err := r.Invoke(context.Background(), NameSignMessage, nil)
				if err != nil || result != "v" {
					t.Errorf("unexpected invoke result %v, %v", result, err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestDurationMsKeepsSubMillisecond(t *testing.T) {
	require.InDelta(t, 0.25, durationMs(250*time.Microsecond), 1e-9)
	require.InDelta(t, 1.5, durationMs(1500*time.Microsecond), 1e-9)
	require.Zero(t, durationMs(0))
}

func TestWellKnownNamesIsACopy(t *testing.T) {
	names := WellKnownNames()
	require.Equal(t, []string{NameSignMessage, NameSignTransaction, NameDisconnect}, names)
	names[0] = "mutated"
	require.True(t, IsWellKnown(NameSignMessage))
	require.False(t, IsWellKnown("mutated"))
}

func constCallable(v any) Callable {
	return func(context.Context, json.RawMessage) (any, error) { return v, nil }
}
