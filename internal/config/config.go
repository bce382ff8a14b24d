// ABOUTME: Configuration loading and parsing for strandd
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and env overrides

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the complete strandd configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Sessions SessionsConfig `yaml:"sessions"`
	Runner   RunnerConfig   `yaml:"runner"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" env:"STRAND_DB_PATH"`
}

// SessionsConfig holds session lifecycle timing configuration
type SessionsConfig struct {
	DisconnectGrace       time.Duration `yaml:"-"`
	InactivityInteractive time.Duration `yaml:"-"`
	InactivityOneshot     time.Duration `yaml:"-"`
	HeartbeatInterval     time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	DisconnectGraceRaw       string `yaml:"disconnect_grace" env:"STRAND_DISCONNECT_GRACE"`
	InactivityInteractiveRaw string `yaml:"inactivity_interactive" env:"STRAND_INACTIVITY_INTERACTIVE"`
	InactivityOneshotRaw     string `yaml:"inactivity_oneshot" env:"STRAND_INACTIVITY_ONESHOT"`
	HeartbeatIntervalRaw     string `yaml:"heartbeat_interval" env:"STRAND_HEARTBEAT_INTERVAL"`
}

// RunnerConfig holds per-runner timing configuration
type RunnerConfig struct {
	InviteWait time.Duration `yaml:"-"`

	InviteWaitRaw string `yaml:"invite_wait" env:"STRAND_INVITE_WAIT"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" env:"STRAND_LOG_LEVEL"`
	Format string `yaml:"format" env:"STRAND_LOG_FORMAT"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded before parsing,
// and STRAND_* environment variables override individual fields afterwards.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Field-level env overrides win over file values
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json (got %q)", c.Logging.Format)
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
		{"sessions.disconnect_grace", cfg.Sessions.DisconnectGraceRaw, &cfg.Sessions.DisconnectGrace},
		{"sessions.inactivity_interactive", cfg.Sessions.InactivityInteractiveRaw, &cfg.Sessions.InactivityInteractive},
		{"sessions.inactivity_oneshot", cfg.Sessions.InactivityOneshotRaw, &cfg.Sessions.InactivityOneshot},
		{"sessions.heartbeat_interval", cfg.Sessions.HeartbeatIntervalRaw, &cfg.Sessions.HeartbeatInterval},
		{"runner.invite_wait", cfg.Runner.InviteWaitRaw, &cfg.Runner.InviteWait},
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
