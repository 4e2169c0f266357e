package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/consts"
)

// EnvPrefix prefixes environment overrides, e.g. MOBILECLI_LOG_LEVEL or
// MOBILECLI_BROKER_POLL_INTERVAL.
const EnvPrefix = "MOBILECLI"

// Resource kinds for wake_lock.primary and wake_lock.secondary
const (
	ResourceFile      = "file"
	ResourceInhibitor = "inhibitor"
)

// Config is the complete configuration of the daemon and the client
type Config struct {
	Root     string         `mapstructure:"root"`
	LogLevel string         `mapstructure:"log_level"`
	LogPath  string         `mapstructure:"log_path"` // Empty means <root>/log/mobilecli.log
	Registry RegistryConfig `mapstructure:"registry"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Client   ClientConfig   `mapstructure:"client"`
	Socket   SocketConfig   `mapstructure:"socket"`
	WakeLock WakeLockConfig `mapstructure:"wake_lock"`
	Host     HostConfig     `mapstructure:"host"`
	Session  SessionConfig  `mapstructure:"session"`
}

// RegistryConfig bounds the session registry
type RegistryConfig struct {
	Capacity    int `mapstructure:"capacity"`
	HistorySize int `mapstructure:"history_size"` // Bytes of output kept per session
}

// BrokerConfig tunes the command slot loop
type BrokerConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	Watch            bool          `mapstructure:"watch"`
	StaleResultAfter time.Duration `mapstructure:"stale_result_after"`
	ExecTimeout      time.Duration `mapstructure:"exec_timeout"`
}

// ClientConfig tunes the polling client
type ClientConfig struct {
	PollInterval             time.Duration `mapstructure:"poll_interval"`
	MaxIterations            int           `mapstructure:"max_iterations"`
	InteractiveMaxIterations int           `mapstructure:"interactive_max_iterations"`
}

// SocketConfig controls the optional unix socket transport
type SocketConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Path           string `mapstructure:"path"` // Empty means <root>/control/mobilecli.sock
	MaxConnections int    `mapstructure:"max_connections"`
}

// WakeLockConfig configures the keep-awake lock held while the daemon runs
type WakeLockConfig struct {
	Enabled   bool           `mapstructure:"enabled"`
	Primary   ResourceConfig `mapstructure:"primary"`
	Secondary ResourceConfig `mapstructure:"secondary"`
}

// ResourceConfig describes one wake lock resource
type ResourceConfig struct {
	Kind    string   `mapstructure:"kind"` // "file" or "inhibitor"
	What    string   `mapstructure:"what"`
	Command []string `mapstructure:"command"` // Inhibitor argv; empty uses systemd-inhibit
}

// HostConfig holds the command templates of the privileged primitives
type HostConfig struct {
	ViewCommand      []string `mapstructure:"view_command"`
	ServiceCommand   []string `mapstructure:"service_command"`
	BroadcastCommand []string `mapstructure:"broadcast_command"`
}

// SessionConfig is the default shell for new sessions
type SessionConfig struct {
	Shell string   `mapstructure:"shell"`
	Args  []string `mapstructure:"args"`
	Cwd   string   `mapstructure:"cwd"`
	Env   []string `mapstructure:"env"`
	Cols  uint16   `mapstructure:"cols"`
	Rows  uint16   `mapstructure:"rows"`
}

func defaultConfigDir() string {
	if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
		return filepath.Join(configHome, "mobilecli")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "mobilecli")
}

func defaultStateDir() string {
	if runtime.GOOS == "linux" {
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "mobilecli")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "mobilecli")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".mobilecli")
}

func defaultShell() string {
	if shell := strings.TrimSpace(os.Getenv("SHELL")); shell != "" {
		return shell
	}
	return "/bin/sh"
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Root:     defaultStateDir(),
		LogLevel: "info",
		Registry: RegistryConfig{
			Capacity:    consts.DefaultSessionCapacity,
			HistorySize: consts.BufferSize1MB,
		},
		Broker: BrokerConfig{
			PollInterval:     consts.BrokerPollInterval,
			Watch:            true,
			StaleResultAfter: consts.StaleResultAge,
			ExecTimeout:      consts.Timeout30Seconds,
		},
		Client: ClientConfig{
			PollInterval:             consts.ClientPollInterval,
			MaxIterations:            consts.ClientMaxIterations,
			InteractiveMaxIterations: consts.ClientInteractiveMaxIterations,
		},
		Socket: SocketConfig{
			MaxConnections: consts.DefaultMaxConnections,
		},
		WakeLock: WakeLockConfig{
			Primary:   ResourceConfig{Kind: ResourceInhibitor, What: "sleep"},
			Secondary: ResourceConfig{Kind: ResourceFile, What: "network"},
		},
		Session: SessionConfig{
			Shell: defaultShell(),
			Args:  []string{"-l"},
			Cwd:   homeDir,
			Cols:  80,
			Rows:  24,
		},
	}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.yaml")
}

// Load reads configuration from path, falling back to defaults for
// anything the file does not set. A missing file is not an error. An empty
// path searches the default config directory for config.{yaml,json,toml}.
// Environment variables with the MOBILECLI_ prefix override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(defaultConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("root", d.Root)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_path", d.LogPath)

	v.SetDefault("registry.capacity", d.Registry.Capacity)
	v.SetDefault("registry.history_size", d.Registry.HistorySize)

	v.SetDefault("broker.poll_interval", d.Broker.PollInterval)
	v.SetDefault("broker.watch", d.Broker.Watch)
	v.SetDefault("broker.stale_result_after", d.Broker.StaleResultAfter)
	v.SetDefault("broker.exec_timeout", d.Broker.ExecTimeout)

	v.SetDefault("client.poll_interval", d.Client.PollInterval)
	v.SetDefault("client.max_iterations", d.Client.MaxIterations)
	v.SetDefault("client.interactive_max_iterations", d.Client.InteractiveMaxIterations)

	v.SetDefault("socket.enabled", d.Socket.Enabled)
	v.SetDefault("socket.path", d.Socket.Path)
	v.SetDefault("socket.max_connections", d.Socket.MaxConnections)

	v.SetDefault("wake_lock.enabled", d.WakeLock.Enabled)
	v.SetDefault("wake_lock.primary.kind", d.WakeLock.Primary.Kind)
	v.SetDefault("wake_lock.primary.what", d.WakeLock.Primary.What)
	v.SetDefault("wake_lock.primary.command", d.WakeLock.Primary.Command)
	v.SetDefault("wake_lock.secondary.kind", d.WakeLock.Secondary.Kind)
	v.SetDefault("wake_lock.secondary.what", d.WakeLock.Secondary.What)
	v.SetDefault("wake_lock.secondary.command", d.WakeLock.Secondary.Command)

	v.SetDefault("host.view_command", d.Host.ViewCommand)
	v.SetDefault("host.service_command", d.Host.ServiceCommand)
	v.SetDefault("host.broadcast_command", d.Host.BroadcastCommand)

	v.SetDefault("session.shell", d.Session.Shell)
	v.SetDefault("session.args", d.Session.Args)
	v.SetDefault("session.cwd", d.Session.Cwd)
	v.SetDefault("session.env", d.Session.Env)
	v.SetDefault("session.cols", d.Session.Cols)
	v.SetDefault("session.rows", d.Session.Rows)
}

// Validate rejects values the daemon cannot run with
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return errors.New("config: root must not be empty")
	}
	if c.Registry.Capacity <= 0 {
		return fmt.Errorf("config: registry.capacity must be positive, got %d", c.Registry.Capacity)
	}
	if c.Broker.PollInterval <= 0 {
		return fmt.Errorf("config: broker.poll_interval must be positive, got %s", c.Broker.PollInterval)
	}
	if c.Client.PollInterval <= 0 {
		return fmt.Errorf("config: client.poll_interval must be positive, got %s", c.Client.PollInterval)
	}
	for name, r := range map[string]ResourceConfig{"primary": c.WakeLock.Primary, "secondary": c.WakeLock.Secondary} {
		if r.Kind != ResourceFile && r.Kind != ResourceInhibitor {
			return fmt.Errorf("config: wake_lock.%s.kind must be %q or %q, got %q", name, ResourceFile, ResourceInhibitor, r.Kind)
		}
	}
	return nil
}

// LogFile returns the effective log file path
func (c *Config) LogFile() string {
	if c.LogPath != "" {
		return c.LogPath
	}
	return filepath.Join(c.Root, "log", "mobilecli.log")
}

// SocketPath returns the effective socket path
func (c *Config) SocketPath() string {
	if c.Socket.Path != "" {
		return c.Socket.Path
	}
	return filepath.Join(c.Root, "control", "mobilecli.sock")
}

// RunDir holds the daemon's lock and PID files
func (c *Config) RunDir() string {
	return filepath.Join(c.Root, "run")
}

// LockDir holds wake lock marker files
func (c *Config) LockDir() string {
	return filepath.Join(c.Root, "locks")
}
