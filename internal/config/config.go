// Package config 读取 bridge-api 的配置：YAML 文件打底，BRIDGE_* 环境变量覆盖，最后补默认值。
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHTTPAddr = "127.0.0.1:8787"
	DefaultGRPCAddr = "127.0.0.1:9090"
	DefaultEndpoint = "https://api.mainnet-beta.solana.com"
	DefaultAnchorID = "ore-wallet-adapter"
)

// Config 是进程级配置。
type Config struct {
	HTTPAddr        string        `yaml:"http_addr" env:"BRIDGE_HTTP_ADDR"`
	GRPCAddr        string        `yaml:"grpc_addr" env:"BRIDGE_GRPC_ADDR"`
	Endpoint        string        `yaml:"endpoint" env:"BRIDGE_ENDPOINT"`
	AnchorID        string        `yaml:"anchor_id" env:"BRIDGE_ANCHOR_ID"`
	AutoConnect     bool          `yaml:"auto_connect" env:"BRIDGE_AUTO_CONNECT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"BRIDGE_ALLOWED_ORIGINS" envSeparator:","`
	LogLevel        string        `yaml:"log_level" env:"BRIDGE_LOG_LEVEL"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"BRIDGE_SHUTDOWN_TIMEOUT"`

	Loop      LoopConfig      `yaml:"loop"`
	Session   SessionConfig   `yaml:"session"`
	Keepalive KeepaliveConfig `yaml:"keepalive"`
	Stub      StubConfig      `yaml:"stub"`
}

// LoopConfig 控制事件循环与事件扇出。
type LoopConfig struct {
	QueueSize   int `yaml:"queue_size" env:"BRIDGE_LOOP_QUEUE_SIZE"`
	EventBuffer int `yaml:"event_buffer" env:"BRIDGE_EVENT_BUFFER"`
}

// SessionConfig 控制 WebSocket 会话限额。
type SessionConfig struct {
	RatePerSecond   float64       `yaml:"rate_per_second" env:"BRIDGE_SESSION_RATE"`
	Burst           int           `yaml:"burst" env:"BRIDGE_SESSION_BURST"`
	MaxMessageBytes int           `yaml:"max_message_bytes" env:"BRIDGE_SESSION_MAX_MESSAGE_BYTES"`
	MaxDecodeErrors int           `yaml:"max_decode_errors" env:"BRIDGE_SESSION_MAX_DECODE_ERRORS"`
	CallTimeout     time.Duration `yaml:"call_timeout" env:"BRIDGE_SESSION_CALL_TIMEOUT"`
}

// KeepaliveConfig 对应 gRPC 服务端 keepalive 参数。
type KeepaliveConfig struct {
	Time    time.Duration `yaml:"time" env:"BRIDGE_GRPC_KEEPALIVE_TIME"`
	Timeout time.Duration `yaml:"timeout" env:"BRIDGE_GRPC_KEEPALIVE_TIMEOUT"`
}

// StubConfig 配置进程内开发钱包。Key 为 base58 编码的 64 字节私钥，留空则随机生成。
type StubConfig struct {
	Name string `yaml:"name" env:"BRIDGE_STUB_NAME"`
	Key  string `yaml:"key" env:"BRIDGE_STUB_KEY"`
}

// Default 返回全部默认值。
func Default() Config {
	cfg := Config{AutoConnect: true}
	cfg.normalize()
	return cfg
}

// LoadFromEnv 从 BRIDGE_CONFIG 取配置文件路径（未设置则不读文件），再调用 Load。
func LoadFromEnv() (Config, error) {
	var source struct {
		Path string `env:"BRIDGE_CONFIG"`
	}
	if err := env.Parse(&source); err != nil {
		return Default(), fmt.Errorf("parse env: %w", err)
	}
	return Load(source.Path)
}

// Load 依次应用默认值、YAML 文件（path 为空则跳过）和环境变量。
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) normalize() {
	c.HTTPAddr = strings.TrimSpace(c.HTTPAddr)
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	c.GRPCAddr = strings.TrimSpace(c.GRPCAddr)
	if c.GRPCAddr == "" {
		c.GRPCAddr = DefaultGRPCAddr
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		c.Endpoint = DefaultEndpoint
	}
	if strings.TrimSpace(c.AnchorID) == "" {
		c.AnchorID = DefaultAnchorID
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.Loop.QueueSize <= 0 {
		c.Loop.QueueSize = 256
	}
	if c.Loop.EventBuffer <= 0 {
		c.Loop.EventBuffer = 32
	}
	if c.Session.RatePerSecond <= 0 {
		c.Session.RatePerSecond = 20
	}
	if c.Session.Burst <= 0 {
		c.Session.Burst = 40
	}
	if c.Session.MaxMessageBytes <= 0 {
		c.Session.MaxMessageBytes = 1 << 20
	}
	if c.Session.MaxDecodeErrors <= 0 {
		c.Session.MaxDecodeErrors = 3
	}
	if c.Keepalive.Time <= 0 {
		c.Keepalive.Time = 30 * time.Second
	}
	if c.Keepalive.Timeout <= 0 {
		c.Keepalive.Timeout = 10 * time.Second
	}
	if c.Stub.Name == "" {
		c.Stub.Name = "stub"
	}
}

// Validate 检查无法用默认值修正的字段。
func (c Config) Validate() error {
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	for _, origin := range c.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			return errors.New("allowed_origins contains an empty entry")
		}
	}
	if c.Session.Burst < 1 {
		return errors.New("session burst must be positive")
	}
	return nil
}

// SlogLevel 解析 LogLevel。
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
