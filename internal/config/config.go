// Package config provides configuration management for xssh.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration. It is built once per
// invocation and passed by value afterwards.
type Config struct {
	SSHConfig      string        `mapstructure:"ssh-config"`      // Root SSH client config file
	Backend        string        `mapstructure:"backend"`         // Remote backend (exec, native)
	SSHBinary      string        `mapstructure:"ssh-binary"`      // ssh executable used by the exec backend
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"` // Per-host connection timeout in mass mode
	MaxParallel    int           `mapstructure:"max-parallel"`    // Concurrent hosts in mass mode, 0 for unbounded
	Output         string        `mapstructure:"output"`          // Mass mode output format (text, json, yaml)
	LogLevel       string        `mapstructure:"log-level"`       // Log level (debug, info, warn, error)
	LogFile        string        `mapstructure:"log-file"`        // Optional file receiving a copy of the logs
	Progress       bool          `mapstructure:"progress"`        // Show a progress line in mass mode
}

// Manager defines the interface for configuration management
type Manager interface {
	// Load reads configuration from files and environment variables
	Load() (*Config, error)

	// SetDefaults establishes default configuration values
	SetDefaults()

	// Validate ensures configuration values are valid and consistent
	Validate(config *Config) error
}

// ViperManager implements the Manager interface using Viper
type ViperManager struct {
	v     *viper.Viper
	paths []string
}

// NewManager creates a configuration manager searching the default locations
func NewManager() *ViperManager {
	paths := []string{"."}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "xssh"))
	}
	paths = append(paths, "/etc/xssh/")
	return NewManagerWithPaths(paths...)
}

// NewManagerWithPaths creates a configuration manager that only searches paths
func NewManagerWithPaths(paths ...string) *ViperManager {
	return &ViperManager{
		v:     viper.New(),
		paths: paths,
	}
}

// SetDefaults establishes default configuration values
func (m *ViperManager) SetDefaults() {
	m.v.SetDefault("ssh-config", "~/.ssh/config")
	m.v.SetDefault("backend", "exec")
	m.v.SetDefault("ssh-binary", "ssh")
	m.v.SetDefault("connect-timeout", 5*time.Second)
	m.v.SetDefault("max-parallel", 0)
	m.v.SetDefault("output", "text")
	m.v.SetDefault("log-level", "info")
	m.v.SetDefault("log-file", "")
	m.v.SetDefault("progress", false)
}

// Load reads configuration from all sources with proper precedence:
// defaults, config file, XSSH_* environment, then any bound flags.
func (m *ViperManager) Load() (*Config, error) {
	m.SetDefaults()

	m.v.SetConfigName("config")
	for _, p := range m.paths {
		m.v.AddConfigPath(p)
	}

	m.v.SetEnvPrefix("XSSH")
	m.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	m.v.AutomaticEnv()

	if err := m.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := m.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := m.Validate(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate ensures configuration values are valid and consistent
func (m *ViperManager) Validate(config *Config) error {
	validBackends := map[string]bool{
		"exec":   true,
		"native": true,
	}
	if !validBackends[config.Backend] {
		return fmt.Errorf("invalid backend '%s': must be one of 'exec' or 'native'", config.Backend)
	}

	if config.ConnectTimeout <= 0 {
		return fmt.Errorf("connect-timeout must be positive, got %v", config.ConnectTimeout)
	}

	if config.MaxParallel < 0 {
		return fmt.Errorf("max-parallel must be non-negative, got %d", config.MaxParallel)
	}

	validOutputs := map[string]bool{
		"text": true,
		"json": true,
		"yaml": true,
	}
	if !validOutputs[config.Output] {
		return fmt.Errorf("invalid output format '%s': must be one of 'text', 'json' or 'yaml'", config.Output)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[config.LogLevel] {
		return fmt.Errorf("invalid log level '%s': must be one of 'debug', 'info', 'warn' or 'error'", config.LogLevel)
	}

	return nil
}

// GetEnvVarNames returns a list of all supported environment variable names
func GetEnvVarNames() []string {
	return []string{
		"XSSH_SSH_CONFIG",
		"XSSH_BACKEND",
		"XSSH_SSH_BINARY",
		"XSSH_CONNECT_TIMEOUT",
		"XSSH_MAX_PARALLEL",
		"XSSH_OUTPUT",
		"XSSH_LOG_LEVEL",
		"XSSH_LOG_FILE",
		"XSSH_PROGRESS",
	}
}
