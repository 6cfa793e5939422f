package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherlabs/tether/pkg/tether"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tether.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
reconnect_interval: 2s
max_reconnect_attempts: 7
heartbeat_interval: 15s
heartbeat_misses: 2
message_queue_size: 50
transport:
  kind: redis
  url: redis://localhost:6379/0
  dial_timeout: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.ReconnectInterval)
	assert.Equal(t, 7, cfg.MaxReconnectAttempts)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 2, cfg.HeartbeatMisses)
	assert.Equal(t, 50, cfg.MessageQueueSize)
	assert.Equal(t, "redis", cfg.Transport.Kind)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Transport.URL)
	assert.Equal(t, 5*time.Second, cfg.Transport.DialTimeout)

	require.NoError(t, cfg.Validate())
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
transport:
  kind: memory
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, tether.DefaultReconnectInterval, cfg.ReconnectInterval)
	assert.Equal(t, tether.DefaultMaxReconnectAttempts, cfg.MaxReconnectAttempts)
	assert.Equal(t, tether.DefaultHeartbeatInterval, cfg.HeartbeatInterval)
	assert.Equal(t, tether.DefaultHeartbeatMisses, cfg.HeartbeatMisses)
	assert.Equal(t, tether.DefaultMessageQueueSize, cfg.MessageQueueSize)
	require.NoError(t, cfg.Validate())
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_REDIS_URL", "redis://cache.internal:6379/1")
	path := writeConfig(t, `
transport:
  kind: redis
  url: ${TEST_REDIS_URL}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis://cache.internal:6379/1", cfg.Transport.URL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "transport: [not: a: mapping")
	_, err := Load(path)
	require.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("TETHER_RECONNECT_INTERVAL", "3s")
	t.Setenv("TETHER_MAX_RECONNECT_ATTEMPTS", "9")
	t.Setenv("TETHER_TRANSPORT", "websocket")
	t.Setenv("TETHER_TRANSPORT_URL", "wss://realtime.example.com")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.ReconnectInterval)
	assert.Equal(t, 9, cfg.MaxReconnectAttempts)
	assert.Equal(t, "websocket", cfg.Transport.Kind)
	assert.Equal(t, "wss://realtime.example.com", cfg.Transport.URL)

	// Everything unset falls back to defaults.
	assert.Equal(t, tether.DefaultHeartbeatInterval, cfg.HeartbeatInterval)
	assert.Equal(t, tether.DefaultMessageQueueSize, cfg.MessageQueueSize)
	require.NoError(t, cfg.Validate())
}

func TestFromEnv_DefaultsToMemoryTransport(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Transport.Kind)
	require.NoError(t, cfg.Validate())
}

func TestValidate_TransportRules(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	cfg.Transport.Kind = "websocket"
	cfg.Transport.URL = ""
	assert.Error(t, cfg.Validate(), "websocket without url must fail")

	cfg.Transport.URL = "wss://realtime.example.com"
	assert.NoError(t, cfg.Validate())

	cfg.Transport.Kind = "carrier-pigeon"
	assert.Error(t, cfg.Validate(), "unknown kind must fail")
}

func TestManagerConversion(t *testing.T) {
	path := writeConfig(t, `
reconnect_interval: 2s
max_reconnect_attempts: 4
heartbeat_interval: 20s
heartbeat_misses: 3
message_queue_size: 10
transport:
  kind: memory
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	manager := cfg.Manager()
	assert.Equal(t, tether.Config{
		ReconnectInterval:    2 * time.Second,
		MaxReconnectAttempts: 4,
		HeartbeatInterval:    20 * time.Second,
		HeartbeatMisses:      3,
		MessageQueueSize:     10,
	}, manager)
	require.NoError(t, manager.Validate())
}
