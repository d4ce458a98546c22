package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/singleflight"

	"github.com/aegis-sign/wallet-bridge/internal/app/wallet"
	"github.com/aegis-sign/wallet-bridge/pkg/apierrors"
	"github.com/aegis-sign/wallet-bridge/pkg/codec"
)

// Wallet 是请求处理器需要的钱包能力，wallet.Adapter 实现了它。
type Wallet interface {
	Capabilities() wallet.Capabilities
	Disconnect(ctx context.Context) error
	SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

// SignRequest 是签名类调用的参数。
type SignRequest struct {
	B64 string `json:"b64"`
}

// SignResponse 是签名类调用的结果。
type SignResponse struct {
	B64 string `json:"b64"`
}

// Handlers 实现三个边界调用。除钱包连接外，调用之间不共享可变状态。
type Handlers struct {
	wallet Wallet
	logger *slog.Logger

	disconnects singleflight.Group
}

// NewHandlers 构造请求处理器。
func NewHandlers(w Wallet, logger *slog.Logger) *Handlers {
	if w == nil {
		panic("wallet is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{wallet: w, logger: logger}
}

// Disconnect 断开当前钱包；未连接时为成功。并发调用合并为一次钱包调用。
func (h *Handlers) Disconnect(ctx context.Context) error {
	_, err, shared := h.disconnects.Do("disconnect", func() (any, error) {
		return nil, h.wallet.Disconnect(ctx)
	})
	if err != nil {
		h.logger.Error("error disconnecting wallet", slog.Bool("shared", shared), slog.Any("err", err))
		return err
	}
	return nil
}

// SignTransaction 依次执行：解码、能力检查、解析、签名、序列化、编码。
// 不校验交易语义（fee payer、指令、签名者集合）。
func (h *Handlers) SignTransaction(ctx context.Context, req SignRequest) (SignResponse, error) {
	resp, err := h.signTransaction(ctx, req)
	if err != nil {
		h.logger.Error("error signing transaction", slog.Any("err", err))
	}
	return resp, err
}

func (h *Handlers) signTransaction(ctx context.Context, req SignRequest) (SignResponse, error) {
	raw, err := codec.Decode(req.B64)
	if err != nil {
		return SignResponse{}, err
	}
	if err := h.requireCapability(wallet.CapabilitySignTransaction, "wallet does not support transaction signing"); err != nil {
		return SignResponse{}, err
	}
	tx, err := codec.ParseTransaction(raw)
	if err != nil {
		return SignResponse{}, err
	}
	signed, err := h.wallet.SignTransaction(ctx, tx)
	if err != nil {
		return SignResponse{}, err
	}
	out, err := codec.SerializeTransaction(signed)
	if err != nil {
		return SignResponse{}, apierrors.Wrap(apierrors.CodeWalletOperationFailed, "wallet returned an unserializable transaction", err)
	}
	return SignResponse{B64: codec.Encode(out)}, nil
}

// SignMessage 依次执行：解码、能力检查、签名、编码签名。
func (h *Handlers) SignMessage(ctx context.Context, req SignRequest) (SignResponse, error) {
	resp, err := h.signMessage(ctx, req)
	if err != nil {
		h.logger.Error("error signing message", slog.Any("err", err))
	}
	return resp, err
}

func (h *Handlers) signMessage(ctx context.Context, req SignRequest) (SignResponse, error) {
	message, err := codec.Decode(req.B64)
	if err != nil {
		return SignResponse{}, err
	}
	if err := h.requireCapability(wallet.CapabilitySignMessage, "wallet does not support message signing"); err != nil {
		return SignResponse{}, err
	}
	signature, err := h.wallet.SignMessage(ctx, message)
	if err != nil {
		return SignResponse{}, err
	}
	return SignResponse{B64: codec.Encode(signature)}, nil
}

// requireCapability 在没有选择钱包或已连接但缺少能力时失败；
// 已选择但未连接的钱包交给钱包调用返回 WALLET_OPERATION_FAILED。
func (h *Handlers) requireCapability(capability wallet.Capability, message string) error {
	caps := h.wallet.Capabilities()
	if !caps.Selected || (caps.Connected && !caps.Has(capability)) {
		return apierrors.New(apierrors.CodeCapabilityUnavailable, message)
	}
	return nil
}

// Callables 返回按固定名字索引的边界调用，供 Registry 注册。
func (h *Handlers) Callables() map[string]Callable {
	return map[string]Callable{
		NameDisconnect: func(ctx context.Context, _ json.RawMessage) (any, error) {
			if err := h.Disconnect(ctx); err != nil {
				return nil, err
			}
			return nil, nil
		},
		NameSignTransaction: func(ctx context.Context, params json.RawMessage) (any, error) {
			req, err := h.decodeSignRequest(params)
			if err != nil {
				return nil, err
			}
			return h.SignTransaction(ctx, req)
		},
		NameSignMessage: func(ctx context.Context, params json.RawMessage) (any, error) {
			req, err := h.decodeSignRequest(params)
			if err != nil {
				return nil, err
			}
			return h.SignMessage(ctx, req)
		},
	}
}

func (h *Handlers) decodeSignRequest(params json.RawMessage) (SignRequest, error) {
	var req SignRequest
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		err := apierrors.New(apierrors.CodeMalformedPayload, "request must be an object with a b64 field")
		h.logger.Error("error decoding sign request", slog.Any("err", err))
		return req, err
	}
	if err := json.Unmarshal(trimmed, &req); err != nil {
		wrapped := apierrors.Wrap(apierrors.CodeMalformedPayload, "invalid sign request", err)
		h.logger.Error("error decoding sign request", slog.Any("err", wrapped))
		return req, wrapped
	}
	return req, nil
}
