package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	require.Equal(t, DefaultAnchorID, cfg.AnchorID)
	require.Equal(t, DefaultEndpoint, cfg.Endpoint)
	require.True(t, cfg.AutoConnect)
	require.Equal(t, 256, cfg.Loop.QueueSize)
	require.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

func TestLoadFromEnvReadsConfigPath(t *testing.T) {
	path := writeConfig(t, `
http_addr: ":9300"
auto_connect: false
`)
	t.Setenv("BRIDGE_CONFIG", path)
	t.Setenv("BRIDGE_GRPC_ADDR", "127.0.0.1:9301")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Equal(t, ":9300", cfg.HTTPAddr)
	require.Equal(t, "127.0.0.1:9301", cfg.GRPCAddr)
	require.False(t, cfg.AutoConnect)

	t.Setenv("BRIDGE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = LoadFromEnv()
	require.Error(t, err)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeConfig(t, `
http_addr: ":9000"
grpc_addr: "unix:///tmp/bridge.sock"
auto_connect: false
allowed_origins: ["https://ore.supply"]
log_level: debug
session:
  rate_per_second: 5
  call_timeout: 30s
stub:
  name: dev
`)
	t.Setenv("BRIDGE_HTTP_ADDR", "127.0.0.1:9100")
	t.Setenv("BRIDGE_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("BRIDGE_SESSION_BURST", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9100", cfg.HTTPAddr)
	require.Equal(t, "unix:///tmp/bridge.sock", cfg.GRPCAddr)
	require.False(t, cfg.AutoConnect)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.Equal(t, 5.0, cfg.Session.RatePerSecond)
	require.Equal(t, 7, cfg.Session.Burst)
	require.Equal(t, 30*time.Second, cfg.Session.CallTimeout)
	require.Equal(t, "dev", cfg.Stub.Name)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "http_adr: \":9000\"\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	t.Setenv("BRIDGE_LOG_LEVEL", "loud")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}
