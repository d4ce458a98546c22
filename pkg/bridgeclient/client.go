// Package bridgeclient 是宿主侧的 WebSocket 客户端：按 id 关联请求与响应，
// 并把 ore-pubkey 事件折算为连接状态。
package bridgeclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/net/websocket"

	"github.com/aegis-sign/wallet-bridge/pkg/apierrors"
	"github.com/aegis-sign/wallet-bridge/pkg/codec"
)

// EventNamePubkey 是账户变化事件名。
const EventNamePubkey = "ore-pubkey"

// ErrClosed 表示连接已关闭。
var ErrClosed = errors.New("bridge client closed")

// Status 是宿主视角的钱包连接状态。
type Status struct {
	Connected bool
	Pubkey    solana.PublicKey
}

func (s Status) String() string {
	if !s.Connected {
		return "disconnected"
	}
	return "connected(" + s.Pubkey.String() + ")"
}

// StatusFromPubkey 只有恰好 32 字节才视为已连接，其余（包括 null）一律视为断开。
func StatusFromPubkey(pubkey []byte) Status {
	if len(pubkey) != solana.PublicKeyLength {
		return Status{}
	}
	return Status{Connected: true, Pubkey: solana.PublicKeyFromBytes(pubkey)}
}

type frame struct {
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *frameError     `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Seq    uint64          `json:"seq,omitempty"`
	Detail *struct {
		Pubkey codec.ByteArray `json:"pubkey"`
	} `json:"detail,omitempty"`
}

type frameError struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	RetryAfterHint string `json:"retryAfterHint,omitempty"`
}

func (e *frameError) apiError() *apierrors.Error {
	apiErr := apierrors.New(apierrors.Code(e.Code), e.Message)
	if seconds, err := strconv.Atoi(e.RetryAfterHint); err == nil && seconds > 0 {
		apiErr.WithRetryAfter(time.Duration(seconds) * time.Second)
	}
	return apiErr
}

type request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Options 配置客户端。
type Options struct {
	// Origin 为握手时发送的 Origin，必须是合法 URL。
	Origin   string
	Logger   *slog.Logger
	OnStatus func(Status)
}

// Client 是一条到 bridge-api 的 WebSocket 会话。
type Client struct {
	conn     *websocket.Conn
	logger   *slog.Logger
	onStatus func(Status)

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[string]chan frame
	status  Status
	closed  bool
	done    chan struct{}
}

// Dial 连接到 ws://host/v1/ws。
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if opts.Origin == "" {
		opts.Origin = "http://localhost"
	}
	cfg, err := websocket.NewConfig(url, opts.Origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	conn, err := dialConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial bridge: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		conn:     conn,
		logger:   logger,
		onStatus: opts.OnStatus,
		pending:  make(map[string]chan frame),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Status 返回最近一次事件折算出的状态。
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Done 在读循环退出后关闭。
func (c *Client) Done() <-chan struct{} { return c.done }

// Call 发起一次调用并等待对应 id 的响应。失败时返回 *apierrors.Error。
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	id := strconv.FormatUint(c.nextID, 10)
	ch := make(chan frame, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := websocket.JSON.Send(c.conn, request{ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error.apiError()
		}
		return resp.Result, nil
	}
}

// Close 关闭会话，可重复调用。
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var f frame
		if err := websocket.JSON.Receive(c.conn, &f); err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			c.closed = true
			c.mu.Unlock()
			if !wasClosed {
				c.logger.Warn("bridge session ended", slog.Any("err", err))
			}
			return
		}
		if f.Event != "" {
			c.handleEvent(f)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("response for unknown call", slog.String("id", f.ID))
			continue
		}
		ch <- f
	}
}

func (c *Client) handleEvent(f frame) {
	if f.Event != EventNamePubkey {
		c.logger.Debug("ignoring unknown event", slog.String("event", f.Event))
		return
	}
	var pubkey []byte
	if f.Detail != nil {
		pubkey = f.Detail.Pubkey
	}
	status := StatusFromPubkey(pubkey)
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	c.logger.Info("wallet status changed", slog.String("status", status.String()), slog.Uint64("seq", f.Seq))
	if c.onStatus != nil {
		c.onStatus(status)
	}
}

// dialConfig 建立底层连接后再做 WebSocket 握手；握手受 ctx 截止时间约束。
func dialConfig(ctx context.Context, cfg *websocket.Config) (*websocket.Conn, error) {
	host := cfg.Location.Host
	if cfg.Location.Port() == "" {
		port := "80"
		if cfg.Location.Scheme == "wss" {
			port = "443"
		}
		host = net.JoinHostPort(cfg.Location.Hostname(), port)
	}
	var (
		raw net.Conn
		err error
	)
	switch cfg.Location.Scheme {
	case "ws":
		var d net.Dialer
		raw, err = d.DialContext(ctx, "tcp", host)
	case "wss":
		d := tls.Dialer{Config: cfg.TlsConfig}
		raw, err = d.DialContext(ctx, "tcp", host)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", cfg.Location.Scheme)
	}
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(deadline)
	}
	conn, err := websocket.NewClient(cfg, raw)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	_ = raw.SetDeadline(time.Time{})
	return conn, nil
}
