package bridgeclient

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegis-sign/wallet-bridge/pkg/codec"
)

// SupervisorConfig 配置自动重连。
type SupervisorConfig struct {
	URL     string
	Options Options
	Backoff BackoffConfig
}

// Supervisor 维持一条会话：断开后按退避重连，重连成功后用 account 快照补齐状态，
// 因为会话之间错过的事件不会重放。
type Supervisor struct {
	cfg     SupervisorConfig
	logger  *slog.Logger
	backoff *backoff

	mu       sync.Mutex
	client   *Client
	status   Status
	sessions int
}

// NewSupervisor 构造 Supervisor；OnStatus 由 Supervisor 接管后再转发。
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	logger := cfg.Options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cfg: cfg, logger: logger, backoff: newBackoff(cfg.Backoff)}
}

// Run 阻塞直到 ctx 结束。
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.setStatus(Status{})
		wait := s.backoff.next()
		s.logger.Warn("bridge session lost; reconnecting", slog.Any("err", err), slog.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Client 返回当前会话，未连接时为 nil。
func (s *Supervisor) Client() *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Status 返回最近的连接状态。
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Sessions 返回成功建立过的会话数。
func (s *Supervisor) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

func (s *Supervisor) session(ctx context.Context) error {
	var sawEvent atomic.Bool
	opts := s.cfg.Options
	opts.OnStatus = func(status Status) {
		sawEvent.Store(true)
		s.setStatus(status)
	}
	client, err := Dial(ctx, s.cfg.URL, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	raw, err := client.Call(ctx, "account", nil)
	if err != nil {
		return err
	}
	var snap struct {
		Pubkey codec.ByteArray `json:"pubkey"`
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return err
	}
	if !sawEvent.Load() {
		s.setStatus(StatusFromPubkey(snap.Pubkey))
	}
	s.backoff.reset()

	s.mu.Lock()
	s.client = client
	s.sessions++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.client = nil
		s.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-client.Done():
		return errors.New("session closed by server")
	}
}

func (s *Supervisor) setStatus(status Status) {
	s.mu.Lock()
	changed := s.status != status
	s.status = status
	s.mu.Unlock()
	if changed && s.cfg.Options.OnStatus != nil {
		s.cfg.Options.OnStatus(status)
	}
}
