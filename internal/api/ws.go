package bridgeapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"

	"github.com/aegis-sign/wallet-bridge/internal/app/bridge"
	"github.com/aegis-sign/wallet-bridge/pkg/apierrors"
	"github.com/aegis-sign/wallet-bridge/pkg/codec"
)

const (
	MethodMountWalletAdapter = "MountWalletAdapter"
	MethodAnchorAvailable    = "anchor.available"
	MethodAnchorRemoved      = "anchor.removed"
	MethodAccount            = "account"
	MethodWalletConnect      = "wallet.connect"
)

// SessionConfig 控制单条 WebSocket 会话的限额。
type SessionConfig struct {
	MaxMessageBytes int
	RatePerSecond   float64
	Burst           int
	MaxDecodeErrors int
	// CallTimeout 为 0 表示不限时；钱包操作可能需要等待用户确认。
	CallTimeout time.Duration
}

func (c SessionConfig) normalize() SessionConfig {
	out := c
	if out.MaxMessageBytes <= 0 {
		out.MaxMessageBytes = maxRequestBodyBytes
	}
	if out.RatePerSecond <= 0 {
		out.RatePerSecond = 20
	}
	if out.Burst <= 0 {
		out.Burst = 40
	}
	if out.MaxDecodeErrors <= 0 {
		out.MaxDecodeErrors = 3
	}
	return out
}

type wsRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type wsResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *errorResponse  `json:"error,omitempty"`
}

type wsEvent struct {
	Event  string               `json:"event"`
	Seq    uint64               `json:"seq"`
	Detail bridge.AccountDetail `json:"detail"`
}

type anchorParams struct {
	ID string `json:"id"`
}

func (h *HTTPHandler) websocketHandler() http.Handler {
	return websocket.Server{
		// Origin 已经由 requireOrigin 校验过。
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   h.serveSession,
	}
}

type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *wsPeer) write(frame any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return websocket.JSON.Send(p.conn, frame)
}

func (p *wsPeer) writeError(id string, apiErr *apierrors.Error) error {
	resp := newErrorResponse(apiErr)
	return p.write(wsResponse{ID: id, Error: &resp})
}

func (h *HTTPHandler) serveSession(conn *websocket.Conn) {
	cfg := h.cfg.Session.normalize()
	conn.MaxPayloadBytes = cfg.MaxMessageBytes
	defer func() {
		_ = conn.Close()
	}()

	ctx, cancel := context.WithCancel(conn.Request().Context())
	peer := &wsPeer{conn: conn}
	sub := h.backend.Events.Subscribe()
	var calls sync.WaitGroup
	defer func() {
		cancel()
		sub.Close()
		calls.Wait()
	}()

	remote := conn.Request().RemoteAddr
	h.logger.Debug("websocket session opened", slog.String("remote", remote))

	calls.Add(1)
	go func() {
		defer calls.Done()
		h.forwardEvents(ctx, peer, sub, conn)
	}()

	limiter := rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	decodeErrors := 0
	for {
		var req wsRequest
		if err := websocket.JSON.Receive(conn, &req); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				h.logger.Debug("websocket session closed", slog.String("remote", remote))
				return
			}
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				_ = peer.writeError("", apierrors.New(apierrors.CodeMalformedPayload, "message too large"))
				continue
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
				h.logger.Debug("websocket receive failed", slog.String("remote", remote), slog.Any("err", err))
				return
			}
			decodeErrors++
			_ = peer.writeError("", apierrors.New(apierrors.CodeMalformedPayload, "invalid frame payload"))
			if decodeErrors >= cfg.MaxDecodeErrors {
				h.logger.Warn("websocket session closed after repeated decode errors", slog.String("remote", remote))
				return
			}
			continue
		}
		decodeErrors = 0

		if !limiter.Allow() {
			reservation := limiter.Reserve()
			delay := reservation.Delay()
			reservation.Cancel()
			_ = peer.writeError(req.ID, apierrors.New(apierrors.CodeRateLimited, "too many requests").WithRetryAfter(delay))
			continue
		}

		calls.Add(1)
		go func(req wsRequest) {
			defer calls.Done()
			h.handleRequest(ctx, cfg, peer, req)
		}(req)
	}
}

// forwardEvents 在订阅被 Hub 摘除时关闭连接，客户端需重连后用 account 方法补齐状态。
func (h *HTTPHandler) forwardEvents(ctx context.Context, peer *wsPeer, sub *Subscription, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				if ctx.Err() == nil {
					h.logger.Warn("websocket subscriber fell behind; closing session", slog.String("remote", conn.Request().RemoteAddr))
					_ = conn.Close()
				}
				return
			}
			if err := peer.write(wsEvent{Event: evt.Name, Seq: evt.Seq, Detail: evt.Detail}); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (h *HTTPHandler) handleRequest(ctx context.Context, cfg SessionConfig, peer *wsPeer, req wsRequest) {
	if cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.CallTimeout)
		defer cancel()
	}
	result, err := h.dispatch(ctx, req)
	if err != nil {
		h.logger.Warn("websocket request failed", slog.String("method", req.Method), slog.String("id", req.ID), slog.Any("err", err))
		_ = peer.writeError(req.ID, toAPIError(err))
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		_ = peer.writeError(req.ID, apierrors.Wrap(apierrors.CodeInternal, "encode result", err))
		return
	}
	_ = peer.write(wsResponse{ID: req.ID, Result: raw})
}

func (h *HTTPHandler) dispatch(ctx context.Context, req wsRequest) (any, error) {
	switch req.Method {
	case "":
		return nil, apierrors.New(apierrors.CodeMalformedPayload, "method is required")
	case MethodMountWalletAdapter:
		mounted, err := h.backend.Registrar.MountWalletAdapter(ctx)
		if err != nil {
			return nil, err
		}
		return mountResult{Mounted: mounted}, nil
	case MethodAnchorAvailable, MethodAnchorRemoved:
		var params anchorParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, apierrors.Wrap(apierrors.CodeMalformedPayload, "decode anchor params", err)
		}
		var err error
		if req.Method == MethodAnchorAvailable {
			err = h.backend.Registrar.AnchorAvailable(ctx, params.ID)
		} else {
			err = h.backend.Registrar.AnchorRemoved(ctx, params.ID)
		}
		if err != nil {
			return nil, err
		}
		return h.backend.Registrar.Snapshot(), nil
	case MethodAccount:
		return h.account(), nil
	case MethodWalletConnect:
		if err := h.backend.Wallet.Connect(ctx); err != nil {
			return nil, err
		}
		return h.account(), nil
	default:
		return h.backend.Callables.Invoke(ctx, req.Method, req.Params)
	}
}

func (h *HTTPHandler) account() accountResponse {
	state := h.backend.Wallet.Snapshot()
	resp := accountResponse{
		Wallet:       state.Wallet,
		Connected:    state.Capabilities.Connected,
		Pubkey:       codec.ByteArray(state.Account.Bytes()),
		Capabilities: state.Capabilities.List(),
	}
	if state.Account.Present() {
		resp.Address = state.Account.String()
	}
	return resp
}
