// ABOUTME: Configuration loading and parsing for seneschal
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/seneschal/internal/protocol"
)

// Config represents the complete seneschal configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Identity   IdentityConfig   `yaml:"identity" toml:"identity"`
	Connection ConnectionConfig `yaml:"connection" toml:"connection"`
	Chat       ChatConfig       `yaml:"chat" toml:"chat"`
	Tools      ToolsConfig      `yaml:"tools" toml:"tools"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the websocket endpoint
type ServerConfig struct {
	URL string `yaml:"url" toml:"url"`
}

// IdentityConfig is the user sent in the auth frame and passed to tools
type IdentityConfig struct {
	UserID   string `yaml:"user_id" toml:"user_id"`
	UserName string `yaml:"user_name" toml:"user_name"`
	Role     string `yaml:"role" toml:"role"`

	ParsedRole protocol.Role `yaml:"-" toml:"-"`
}

// Caller returns the identity as a protocol caller.
func (i IdentityConfig) Caller() protocol.Caller {
	return protocol.Caller{ID: i.UserID, Name: i.UserName, Role: i.ParsedRole}
}

// ConnectionConfig holds heartbeat and reconnect timing
type ConnectionConfig struct {
	HeartbeatInterval time.Duration `yaml:"-" toml:"-"`
	ReconnectDelay    time.Duration `yaml:"-" toml:"-"`
	MaxReconnectDelay time.Duration `yaml:"-" toml:"-"`
	HandshakeTimeout  time.Duration `yaml:"-" toml:"-"`

	// MaxReconnectAttempts of -1 disables reconnecting.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts"`

	// Raw string values for unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	ReconnectDelayRaw    string `yaml:"reconnect_delay" toml:"reconnect_delay"`
	MaxReconnectDelayRaw string `yaml:"max_reconnect_delay" toml:"max_reconnect_delay"`
	HandshakeTimeoutRaw  string `yaml:"handshake_timeout" toml:"handshake_timeout"`
}

// ChatConfig holds defaults for chat_message frames
type ChatConfig struct {
	Model        string   `yaml:"model" toml:"model"`
	EnabledTools []string `yaml:"enabled_tools" toml:"enabled_tools"`
}

// ToolsConfig holds tool execution settings
type ToolsConfig struct {
	ResultCacheTTL    time.Duration `yaml:"-" toml:"-"`
	ResultCacheTTLRaw string        `yaml:"result_cache_ttl" toml:"result_cache_ttl"`
	ResultCacheSize   int           `yaml:"result_cache_size" toml:"result_cache_size"`
}

// DatabaseConfig holds database configuration. An empty path keeps
// transcripts in memory only.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file exists. The server
// URL is empty; connecting without one fails with a configuration error.
func Default() *Config {
	cfg := &Config{
		Identity: IdentityConfig{
			UserID:   "local-gm",
			UserName: "Game Master",
			Role:     "gamemaster",
		},
		Connection: ConnectionConfig{
			HeartbeatIntervalRaw: "30s",
			ReconnectDelayRaw:    "1s",
			MaxReconnectDelayRaw: "30s",
			HandshakeTimeoutRaw:  "10s",
			MaxReconnectAttempts: 5,
		},
		Chat: ChatConfig{
			EnabledTools: []string{"dice_roll"},
		},
		Tools: ToolsConfig{
			ResultCacheTTLRaw: "10m",
			ResultCacheSize:   256,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(DataDir(), "seneschal.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
	// Defaults always parse.
	_ = cfg.finish()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Unset keys keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish parses derived fields and validates.
func (c *Config) finish() error {
	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}
	c.Database.Path = expandHome(c.Database.Path)
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// envVarPattern matches ${VAR_NAME}
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
// The server URL is not required here.
func (c *Config) Validate() error {
	if c.Identity.UserID == "" {
		return fmt.Errorf("identity.user_id is required")
	}

	role, err := protocol.ParseRole(c.Identity.Role)
	if err != nil {
		return fmt.Errorf("identity.role: %w", err)
	}
	c.Identity.ParsedRole = role

	if c.Server.URL != "" &&
		!strings.HasPrefix(c.Server.URL, "ws://") && !strings.HasPrefix(c.Server.URL, "wss://") {
		return fmt.Errorf("server.url must start with ws:// or wss://, got %q", c.Server.URL)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"connection.heartbeat_interval", c.Connection.HeartbeatInterval},
		{"connection.reconnect_delay", c.Connection.ReconnectDelay},
		{"connection.max_reconnect_delay", c.Connection.MaxReconnectDelay},
		{"connection.handshake_timeout", c.Connection.HandshakeTimeout},
		{"tools.result_cache_ttl", c.Tools.ResultCacheTTL},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}

	if c.Connection.MaxReconnectDelay < c.Connection.ReconnectDelay {
		return fmt.Errorf("connection.max_reconnect_delay must not be below connection.reconnect_delay")
	}
	if c.Connection.MaxReconnectAttempts < -1 {
		return fmt.Errorf("connection.max_reconnect_attempts must be -1 (disabled) or more")
	}
	if c.Tools.ResultCacheSize <= 0 {
		return fmt.Errorf("tools.result_cache_size must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not text or json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"heartbeat_interval", cfg.Connection.HeartbeatIntervalRaw, &cfg.Connection.HeartbeatInterval},
		{"reconnect_delay", cfg.Connection.ReconnectDelayRaw, &cfg.Connection.ReconnectDelay},
		{"max_reconnect_delay", cfg.Connection.MaxReconnectDelayRaw, &cfg.Connection.MaxReconnectDelay},
		{"handshake_timeout", cfg.Connection.HandshakeTimeoutRaw, &cfg.Connection.HandshakeTimeout},
		{"result_cache_ttl", cfg.Tools.ResultCacheTTLRaw, &cfg.Tools.ResultCacheTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
