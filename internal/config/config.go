// Package config provides configuration management for the runtime server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// APIKeyEnvVar is consulted when no API key is given on the command line.
const APIKeyEnvVar = "SWE_REX_API_KEY"

// Config represents the complete server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Shared token checked against the X-API-Key header. Empty disables
	// the check.
	APIKey string `yaml:"api_key"`
}

// SessionConfig holds bash session defaults. The prompt strings are
// configuration with the contract that they are unlikely to occur in
// natural command output.
type SessionConfig struct {
	PS1 string `yaml:"ps1"`
	PS2 string `yaml:"ps2"`
	// Default per-command timeout.
	DefaultTimeout string `yaml:"default_timeout"`
	// Time allowed for spawn + startup sources + prompt sync.
	StartupTimeout string `yaml:"startup_timeout"`
	// After a SIGINT on timeout, how long to wait for the prompt to
	// come back before the session is marked failed.
	RecoveryTimeout string `yaml:"recovery_timeout"`
	// Window for a single non-blocking PTY read.
	ReadInterval string `yaml:"read_interval"`
	// Byte sent for is_interactive_quit. Defaults to Ctrl-D.
	QuitByte byte `yaml:"quit_byte"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:   "0.0.0.0",
			Port:   8880,
			APIKey: "",
		},
		Session: SessionConfig{
			PS1:             "SWE-REX-PS1>",
			PS2:             "SWE-REX-PS2>",
			DefaultTimeout:  "30s",
			StartupTimeout:  "10s",
			RecoveryTimeout: "5s",
			ReadInterval:    "200ms",
			QuitByte:        0x04,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads configuration from a file, or returns defaults if
// no path is given or the file doesn't exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// ResolveAPIKey applies the environment fallback for the API key.
func (c *Config) ResolveAPIKey() {
	if c.Server.APIKey == "" {
		c.Server.APIKey = os.Getenv(APIKeyEnvVar)
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetDefaultTimeout returns the default command timeout as a Duration.
func (c *SessionConfig) GetDefaultTimeout() time.Duration {
	return parseDuration(c.DefaultTimeout, 30*time.Second)
}

// GetStartupTimeout returns the startup timeout as a Duration.
func (c *SessionConfig) GetStartupTimeout() time.Duration {
	return parseDuration(c.StartupTimeout, 10*time.Second)
}

// GetRecoveryTimeout returns the post-interrupt recovery deadline.
func (c *SessionConfig) GetRecoveryTimeout() time.Duration {
	return parseDuration(c.RecoveryTimeout, 5*time.Second)
}

// GetReadInterval returns the non-blocking read window.
func (c *SessionConfig) GetReadInterval() time.Duration {
	return parseDuration(c.ReadInterval, 200*time.Millisecond)
}

// GetQuitByte returns the interactive quit byte.
func (c *SessionConfig) GetQuitByte() byte {
	if c.QuitByte == 0 {
		return 0x04
	}
	return c.QuitByte
}
