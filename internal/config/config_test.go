package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/consts"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, consts.DefaultSessionCapacity, cfg.Registry.Capacity)
	assert.Equal(t, consts.BrokerPollInterval, cfg.Broker.PollInterval)
	assert.Equal(t, consts.ClientMaxIterations, cfg.Client.MaxIterations)
	assert.Equal(t, consts.ClientInteractiveMaxIterations, cfg.Client.InteractiveMaxIterations)
	assert.False(t, cfg.Socket.Enabled)
	assert.False(t, cfg.WakeLock.Enabled)
	assert.NotEmpty(t, cfg.Session.Shell)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Registry, cfg.Registry)
	assert.Equal(t, DefaultConfig().Broker, cfg.Broker)
}

func TestLoadSearchesConfigDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "mobilecli"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mobilecli", "config.yaml"), []byte("log_level: debug\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadYAMLOverridesOnlyProvidedFields(t *testing.T) {
	path := writeFile(t, "config.yaml", `
root: /srv/mobilecli
registry:
  capacity: 5
broker:
  poll_interval: 50ms
  watch: false
socket:
  enabled: true
host:
  view_command: ["termux-open", "{target}"]
wake_lock:
  enabled: true
  primary:
    kind: file
    what: cpu
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/mobilecli", cfg.Root)
	assert.Equal(t, 5, cfg.Registry.Capacity)
	assert.Equal(t, consts.BufferSize1MB, cfg.Registry.HistorySize, "unset field keeps its default")
	assert.Equal(t, 50*time.Millisecond, cfg.Broker.PollInterval)
	assert.False(t, cfg.Broker.Watch)
	assert.Equal(t, consts.StaleResultAge, cfg.Broker.StaleResultAfter)
	assert.True(t, cfg.Socket.Enabled)
	assert.Equal(t, []string{"termux-open", "{target}"}, cfg.Host.ViewCommand)
	assert.True(t, cfg.WakeLock.Enabled)
	assert.Equal(t, ResourceFile, cfg.WakeLock.Primary.Kind)
	assert.Equal(t, "cpu", cfg.WakeLock.Primary.What)
	assert.Empty(t, cfg.WakeLock.Primary.Command)
	assert.Equal(t, ResourceFile, cfg.WakeLock.Secondary.Kind)

	assert.Equal(t, "/srv/mobilecli/control/mobilecli.sock", cfg.SocketPath())
	assert.Equal(t, "/srv/mobilecli/log/mobilecli.log", cfg.LogFile())
	assert.Equal(t, "/srv/mobilecli/run", cfg.RunDir())
	assert.Equal(t, "/srv/mobilecli/locks", cfg.LockDir())
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"client": {"max_iterations": 7}, "log_path": "/tmp/x.log"}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Client.MaxIterations)
	assert.Equal(t, "/tmp/x.log", cfg.LogFile())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("MOBILECLI_LOG_LEVEL", "warn")
	t.Setenv("MOBILECLI_REGISTRY_CAPACITY", "3")
	t.Setenv("MOBILECLI_CLIENT_POLL_INTERVAL", "25ms")
	t.Setenv("MOBILECLI_SOCKET_ENABLED", "true")

	path := writeFile(t, "config.yaml", "log_level: debug\nregistry:\n  capacity: 9\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 3, cfg.Registry.Capacity)
	assert.Equal(t, 25*time.Millisecond, cfg.Client.PollInterval)
	assert.True(t, cfg.Socket.Enabled)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"capacity", "registry:\n  capacity: 0\n", "registry.capacity"},
		{"poll interval", "broker:\n  poll_interval: -1s\n", "broker.poll_interval"},
		{"resource kind", "wake_lock:\n  primary:\n    kind: magic\n", "wake_lock.primary.kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(writeFile(t, "config.yaml", "registry: [unclosed\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}
