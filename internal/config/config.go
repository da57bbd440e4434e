// Package config loads agentbus settings from a TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// EnvDB overrides the database path from the config file.
const EnvDB = "AGENTBUS_DB"

// EngineConfiguration controls session expiry and host identity.
type EngineConfiguration struct {
	SessionTimeout Duration `toml:"session_timeout"`
	HostName       string   `toml:"host_name"` // Empty means os.Hostname()
}

// ServerConfiguration controls the HTTP listener.
type ServerConfiguration struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// NotifyConfiguration controls desktop notifications.
type NotifyConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Command string `toml:"command"` // "auto", "terminal-notifier", "osascript", "notify-send" or "log"
	Icon    string `toml:"icon"`    // Absolute path to a PNG, terminal-notifier only
	Sound   bool   `toml:"sound"`   // Play a sound for direct messages
}

// LoggingConfiguration controls log verbosity and encoding.
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration controls the /metrics endpoint.
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the full agentbus configuration.
type Configuration struct {
	DB         string                  `toml:"db"`
	Engine     EngineConfiguration     `toml:"engine"`
	Server     ServerConfiguration     `toml:"server"`
	Notify     NotifyConfiguration     `toml:"notify"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Duration is a time.Duration that decodes from TOML strings like "24h".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultDBPath returns ~/.claude/contrib/agent-event-bus/data.db, or a
// relative data.db when the home directory is unknown.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data.db"
	}
	return filepath.Join(home, ".claude", "contrib", "agent-event-bus", "data.db")
}

// DefaultPath returns the config file location used when none is given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "agentbus.toml"
	}
	return filepath.Join(home, ".config", "agentbus", "config.toml")
}

// Default returns the built-in configuration.
func Default() *Configuration {
	return &Configuration{
		DB: DefaultDBPath(),
		Engine: EngineConfiguration{
			SessionTimeout: Duration{24 * time.Hour},
		},
		Server: ServerConfiguration{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Notify: NotifyConfiguration{
			Enabled: true,
			Command: "auto",
			Sound:   false,
		},
		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},
		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},
	}
}

// Load reads the config file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Configuration, error) {
	c := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			log.Debug().Str("path", path).Msg("Loading configuration")
			if _, err := toml.DecodeFile(path, c); err != nil {
				return nil, fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Debug().Str("path", path).Msg("Config file not found, using defaults")
		}
	}

	if db := os.Getenv(EnvDB); db != "" {
		c.DB = db
	}

	return c, nil
}

// Validate checks configuration for errors.
func (c *Configuration) Validate() error {
	if c.DB == "" {
		return fmt.Errorf("db path is required")
	}

	if c.Engine.SessionTimeout.Duration <= 0 {
		return fmt.Errorf("session timeout must be positive, got %s", c.Engine.SessionTimeout)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Notify.Command {
	case "", "auto", "terminal-notifier", "osascript", "notify-send", "log":
	default:
		return fmt.Errorf("invalid notify command: %s", c.Notify.Command)
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	return nil
}

// EnsureDBDir creates the directory holding the database file.
func (c *Configuration) EnsureDBDir() error {
	dir := filepath.Dir(c.DB)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// Addr returns host:port for the HTTP listener.
func (c *Configuration) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
