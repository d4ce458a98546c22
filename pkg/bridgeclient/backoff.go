package bridgeclient

import (
	"math/rand"
	"sync"
	"time"
)

// BackoffConfig 决定断线重连的指数退避参数。
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

func (c BackoffConfig) normalize() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = 100 * time.Millisecond
	}
	if c.Max < c.Initial {
		c.Max = 5 * time.Second
		if c.Max < c.Initial {
			c.Max = c.Initial
		}
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = 0.2
	}
	return c
}

// backoff 计算重连等待时间，带抖动。
type backoff struct {
	cfg      BackoffConfig
	mu       sync.Mutex
	attempts int
	rand     *rand.Rand
}

func newBackoff(cfg BackoffConfig) *backoff {
	return &backoff{
		cfg:  cfg.normalize(),
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *backoff) next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	base := b.cfg.Initial << b.attempts
	if base <= 0 || base > b.cfg.Max {
		base = b.cfg.Max
	}
	if b.cfg.Jitter > 0 {
		factor := 1 - b.cfg.Jitter + b.rand.Float64()*2*b.cfg.Jitter
		base = time.Duration(float64(base) * factor)
	}
	if b.attempts < 16 {
		b.attempts++
	}
	return min(max(base, b.cfg.Initial), b.cfg.Max)
}

func (b *backoff) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
}
