package bridgeapi

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegis-sign/wallet-bridge/internal/app/bridge"
	"github.com/aegis-sign/wallet-bridge/pkg/apierrors"
	"github.com/aegis-sign/wallet-bridge/pkg/codec"
)

func TestHTTPInvokeBeforeMount(t *testing.T) {
	env := newAPIEnv(t)
	router := NewHTTPHandler(env.backend, HTTPConfig{}).Router()

	rr := serve(router, http.MethodPost, "/v1/callables/"+bridge.NameSignMessage, `{"b64":"aGVsbG8="}`, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var body errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, string(apierrors.CodeUnknownCallable), body.Code)
}

func TestHTTPMountConnectAndSign(t *testing.T) {
	env := newAPIEnv(t)
	router := NewHTTPHandler(env.backend, HTTPConfig{}).Router()

	rr := serve(router, http.MethodPost, "/v1/mount", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"mounted":false}`, rr.Body.String())

	rr = serve(router, http.MethodPost, "/v1/anchors/"+bridge.DefaultAnchorID, "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap bridge.RegistrarSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	require.True(t, snap.Mounted)
	require.Equal(t, bridge.WellKnownNames(), snap.Callables)

	rr = serve(router, http.MethodPost, "/v1/wallet/connect", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var account accountResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &account))
	pk := env.ext.PublicKey()
	require.True(t, account.Connected)
	require.Equal(t, pk[:], []byte(account.Pubkey))
	require.Equal(t, pk.String(), account.Address)

	rr = serve(router, http.MethodPost, "/v1/callables/"+bridge.NameSignMessage, `{"b64":"aGVsbG8="}`, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body struct {
		Result bridge.SignResponse `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	sig, err := codec.Decode(body.Result.B64)
	require.NoError(t, err)
	require.True(t, ed25519.Verify(ed25519.PublicKey(pk[:]), []byte("hello"), sig))

	rr = serve(router, http.MethodPost, "/v1/callables/"+bridge.NameDisconnect, "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"result":null}`, rr.Body.String())

	rr = serve(router, http.MethodGet, "/v1/account", "", "")
	require.Contains(t, rr.Body.String(), `"pubkey":null`)
}

func TestHTTPMalformedBody(t *testing.T) {
	env := newAPIEnv(t)
	require.NoError(t, env.registrar.AnchorAvailable(context.Background(), bridge.DefaultAnchorID))
	router := NewHTTPHandler(env.backend, HTTPConfig{}).Router()

	for _, body := range []string{`{`, `{"b64":"a b"}`, ``} {
		rr := serve(router, http.MethodPost, "/v1/callables/"+bridge.NameSignTransaction, body, "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status=%d", body, rr.Code)
		}
		require.Contains(t, rr.Body.String(), string(apierrors.CodeMalformedPayload))
	}
}

func TestHTTPSignWithoutConnection(t *testing.T) {
	env := newAPIEnv(t)
	require.NoError(t, env.registrar.AnchorAvailable(context.Background(), bridge.DefaultAnchorID))
	router := NewHTTPHandler(env.backend, HTTPConfig{}).Router()

	rr := serve(router, http.MethodPost, "/v1/callables/"+bridge.NameSignMessage, `{"b64":"aGVsbG8="}`, "")
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Contains(t, rr.Body.String(), string(apierrors.CodeWalletOperationFailed))
}

func TestHTTPOriginPolicy(t *testing.T) {
	env := newAPIEnv(t)
	router := NewHTTPHandler(env.backend, HTTPConfig{AllowedOrigins: []string{"https://app.example/"}}).Router()

	rr := serve(router, http.MethodGet, "/v1/account", "", "https://evil.example")
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Contains(t, rr.Body.String(), string(apierrors.CodeOriginNotAllowed))

	rr = serve(router, http.MethodGet, "/v1/account", "", "https://APP.example")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(router, http.MethodGet, "/healthz", "", "https://evil.example")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestHTTPAnchorValidation(t *testing.T) {
	env := newAPIEnv(t)
	router := NewHTTPHandler(env.backend, HTTPConfig{}).Router()

	rr := serve(router, http.MethodDelete, "/v1/anchors/"+bridge.DefaultAnchorID, "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	rr = serve(router, http.MethodGet, "/v1/nope", "", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	rr = serve(router, http.MethodPut, "/v1/mount", "", "")
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestWriteAPIErrorRetryAfter(t *testing.T) {
	rr := httptest.NewRecorder()
	writeAPIError(rr, apierrors.New(apierrors.CodeRateLimited, "too many requests").WithRetryAfter(1500*time.Millisecond))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "2", rr.Header().Get("Retry-After"))
	var body errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "2", body.RetryAfterHint)

	rr = httptest.NewRecorder()
	writeUnknownError(rr, context.DeadlineExceeded)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func serve(h http.Handler, method, path, body, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}
