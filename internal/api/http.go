package bridgeapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aegis-sign/wallet-bridge/pkg/apierrors"
)

const maxRequestBodyBytes = 1 << 20

// HTTPConfig 控制 HTTP 传输行为。
type HTTPConfig struct {
	// AllowedOrigins 为空表示不校验 Origin；"*" 允许任意来源。
	AllowedOrigins []string
	Session        SessionConfig
	Metrics        http.Handler
	Debug          http.Handler
	Logger         *slog.Logger
}

// HTTPHandler 暴露边界调用面、挂载控制与事件 WebSocket。
type HTTPHandler struct {
	backend Backend
	cfg     HTTPConfig
	logger  *slog.Logger
	origins originPolicy
}

// NewHTTPHandler 构造 HTTP handler。
func NewHTTPHandler(backend Backend, cfg HTTPConfig) *HTTPHandler {
	backend.validate()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		origins: newOriginPolicy(cfg.AllowedOrigins),
	}
}

// Router 返回挂好全部路由的 chi router。
func (h *HTTPHandler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", h.handleHealth)
	if h.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.cfg.Metrics)
	}
	if h.cfg.Debug != nil {
		r.Method(http.MethodGet, "/debug/bridge", h.cfg.Debug)
	}
	r.Group(func(r chi.Router) {
		r.Use(h.requireOrigin)
		r.Post("/v1/callables/{name}", h.handleInvoke)
		r.Get("/v1/account", h.handleAccount)
		r.Post("/v1/wallet/connect", h.handleConnect)
		r.Post("/v1/anchors/{id}", h.handleAnchorAvailable)
		r.Delete("/v1/anchors/{id}", h.handleAnchorRemoved)
		r.Post("/v1/mount", h.handleMount)
		r.Method(http.MethodGet, "/v1/ws", h.websocketHandler())
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Code: "METHOD_NOT_ALLOWED", Message: r.Method + " not allowed"})
	})
	return r
}

type errorResponse struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	RetryAfterHint string `json:"retryAfterHint,omitempty"`
}

type invokeResponseBody struct {
	Result any `json:"result"`
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.backend.Registrar.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "mounted": snap.Mounted})
}

func (h *HTTPHandler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes+1))
	if err != nil {
		writeAPIError(w, apierrors.Wrap(apierrors.CodeMalformedPayload, "read request body", err))
		return
	}
	if len(body) > maxRequestBodyBytes {
		writeAPIError(w, apierrors.New(apierrors.CodeMalformedPayload, "request body too large"))
		return
	}
	var params json.RawMessage
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 {
		if !json.Valid(trimmed) {
			writeAPIError(w, apierrors.New(apierrors.CodeMalformedPayload, "invalid JSON body"))
			return
		}
		params = trimmed
	}
	result, err := h.backend.Callables.Invoke(r.Context(), name, params)
	if err != nil {
		h.logger.Warn("callable failed", slog.String("callable", name), slog.Any("err", err))
		writeUnknownError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invokeResponseBody{Result: result})
}

func (h *HTTPHandler) handleAccount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.account())
}

func (h *HTTPHandler) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.Wallet.Connect(r.Context()); err != nil {
		writeUnknownError(w, err)
		return
	}
	h.handleAccount(w, r)
}

func (h *HTTPHandler) handleAnchorAvailable(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.Registrar.AnchorAvailable(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeUnknownError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.backend.Registrar.Snapshot())
}

func (h *HTTPHandler) handleAnchorRemoved(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.Registrar.AnchorRemoved(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeUnknownError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.backend.Registrar.Snapshot())
}

func (h *HTTPHandler) handleMount(w http.ResponseWriter, r *http.Request) {
	mounted, err := h.backend.Registrar.MountWalletAdapter(r.Context())
	if err != nil {
		writeUnknownError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mountResult{Mounted: mounted})
}

func (h *HTTPHandler) requireOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !h.origins.allows(origin) {
			h.logger.Warn("request from disallowed origin", slog.String("origin", origin), slog.String("path", r.URL.Path))
			writeAPIError(w, apierrors.New(apierrors.CodeOriginNotAllowed, "origin not allowed"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type originPolicy struct {
	any     bool
	allowed map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	policy := originPolicy{allowed: make(map[string]struct{})}
	if len(origins) == 0 {
		policy.any = true
		return policy
	}
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			policy.any = true
			continue
		}
		if origin != "" {
			policy.allowed[strings.ToLower(origin)] = struct{}{}
		}
	}
	return policy
}

// allows 放行没有 Origin 头的非浏览器请求。
func (p originPolicy) allows(origin string) bool {
	if p.any || origin == "" {
		return true
	}
	_, ok := p.allowed[strings.ToLower(strings.TrimRight(origin, "/"))]
	return ok
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeUnknownError(w http.ResponseWriter, err error) {
	writeAPIError(w, toAPIError(err))
}

func writeAPIError(w http.ResponseWriter, apiErr *apierrors.Error) {
	if apiErr == nil {
		apiErr = apierrors.New(apierrors.CodeInternal, "internal error")
	}
	status := apierrors.HTTPStatus(apiErr.Code)
	if apierrors.RequiresRetryAfter(apiErr.Code) {
		if hint := apiErr.RetryAfterHint(); hint != "" {
			w.Header().Set("Retry-After", hint)
		}
	}
	writeJSON(w, status, newErrorResponse(apiErr))
}

func newErrorResponse(apiErr *apierrors.Error) errorResponse {
	return errorResponse{
		Code:           string(apiErr.Code),
		Message:        apiErr.Error(),
		RetryAfterHint: apiErr.RetryAfterHint(),
	}
}

func toAPIError(err error) *apierrors.Error {
	if apiErr, ok := apierrors.FromError(err); ok {
		return apiErr
	}
	return apierrors.New(apierrors.CodeInternal, "internal error")
}
