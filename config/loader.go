// Package config provides configuration loading and parsing functionality
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// FormatFromPath determines the format from a file extension.
func FormatFromPath(path string) (ConfigFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported config file format: %s", filepath.Ext(path))
	}
}

// Loader handles configuration loading from files and the environment.
//
// Durations are written as "250ms" in YAML; JSON files use integer
// nanoseconds.
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Default configuration
	defaultConfig *Config

	// Environment lookup, os.LookupEnv unless replaced in tests
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	paths := []string{
		".",
		"./config",
		"./configs",
		"/etc/robo",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".robo"))
	}

	return &Loader{
		searchPaths:   paths,
		envPrefix:     "ROBO",
		defaultConfig: DefaultConfig(),
		lookupEnv:     os.LookupEnv,
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

// Load loads configuration from the specified file, or discovers one in
// the search paths when filename is empty.
func (l *Loader) Load(filename string) (*Config, error) {
	if filename == "" {
		return l.AutoLoad()
	}
	return l.LoadFromFile(filename)
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	format, err := FormatFromPath(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, filename)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.finish(data, format)
}

// LoadFromReader loads configuration from an io.Reader
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	return l.finish(data, format)
}

// AutoLoad automatically discovers and loads configuration
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, err := l.FindConfigFile()
	if errors.Is(err, ErrConfigFileNotFound) {
		config := l.defaults()
		if err := l.loadFromEnv(config); err != nil {
			return nil, fmt.Errorf("failed to load config from environment: %w", err)
		}
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfigValidateError, err)
		}
		return config, nil
	}
	if err != nil {
		return nil, err
	}

	return l.LoadFromFile(configFile)
}

// FindConfigFile searches for configuration files in search paths
func (l *Loader) FindConfigFile() (string, error) {
	filenames := []string{
		"robo.yaml", "robo.yml",
		"config.yaml", "config.yml",
		"robo.json", "config.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err == nil {
				return fullPath, nil
			}
		}
	}

	return "", ErrConfigFileNotFound
}

// finish parses data, merges it over the defaults, applies environment
// overrides and validates the result.
func (l *Loader) finish(data []byte, format ConfigFormat) (*Config, error) {
	userConfig, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}

	config := l.mergeConfig(l.defaults(), userConfig)

	if err := l.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigValidateError, err)
	}

	return config, nil
}

func (l *Loader) defaults() *Config {
	if l.defaultConfig == nil {
		return DefaultConfig()
	}
	clone := *l.defaultConfig
	clone.Units = append([]UnitConfig(nil), l.defaultConfig.Units...)
	return &clone
}

// parseConfig parses configuration data based on format
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := &Config{}

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: failed to parse YAML config: %w", ErrConfigParseError, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: failed to parse JSON config: %w", ErrConfigParseError, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}

	return config, nil
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	env := func(key string) (string, bool) {
		val, ok := l.lookupEnv(l.envPrefix + "_" + key)
		return val, ok && val != ""
	}

	// App configuration
	if val, ok := env("APP_NAME"); ok {
		config.App.Name = val
	}
	if val, ok := env("APP_ENVIRONMENT"); ok {
		config.App.Environment = Environment(val)
	}
	if val, ok := env("APP_DEBUG"); ok {
		config.App.Debug = strings.ToLower(val) == "true"
	}

	// Log configuration
	if val, ok := env("LOG_LEVEL"); ok {
		config.Log.Level = LogLevel(strings.ToLower(val))
	}
	if val, ok := env("LOG_FORMAT"); ok {
		config.Log.Format = val
	}
	if val, ok := env("LOG_OUTPUT"); ok {
		config.Log.Output = val
	}

	// Bus configuration
	if val, ok := env("BUS_WAIT_GRANULARITY"); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%w: %s_BUS_WAIT_GRANULARITY: %w", ErrEnvironmentVarError, l.envPrefix, err)
		}
		config.Bus.WaitGranularity = d
	}
	if val, ok := env("BUS_DELIVERY_POLICY"); ok {
		config.Bus.DeliveryPolicy = val
	}
	if val, ok := env("BUS_SHUTDOWN_TIMEOUT"); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%w: %s_BUS_SHUTDOWN_TIMEOUT: %w", ErrEnvironmentVarError, l.envPrefix, err)
		}
		config.Bus.ShutdownTimeout = d
	}

	// Metrics configuration
	if val, ok := env("METRICS_ENABLED"); ok {
		config.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val, ok := env("METRICS_ADDRESS"); ok {
		config.Metrics.Address = val
	}
	if val, ok := env("METRICS_PORT"); ok {
		port, err := parsePort(val)
		if err != nil {
			return fmt.Errorf("%w: %s_METRICS_PORT: %w", ErrEnvironmentVarError, l.envPrefix, err)
		}
		config.Metrics.Port = port
	}

	// Resources configuration
	if val, ok := env("RESOURCES_ROOT"); ok {
		config.Resources.Root = val
	}

	return nil
}

// Helper function to parse port number
func parsePort(val string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0, err
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port number: %d", port)
	}
	return port, nil
}

// mergeConfig merges user config with default config
func (l *Loader) mergeConfig(defaultConfig, userConfig *Config) *Config {
	// Start with default config
	merged := *defaultConfig

	// Override with user config values where specified
	if userConfig.App.Name != "" {
		merged.App.Name = userConfig.App.Name
	}
	if userConfig.App.Version != "" {
		merged.App.Version = userConfig.App.Version
	}
	if userConfig.App.Environment != "" {
		merged.App.Environment = userConfig.App.Environment
	}
	if userConfig.App.Description != "" {
		merged.App.Description = userConfig.App.Description
	}
	merged.App.Debug = userConfig.App.Debug

	// Log config
	if userConfig.Log.Level != "" {
		merged.Log.Level = userConfig.Log.Level
	}
	if userConfig.Log.Format != "" {
		merged.Log.Format = userConfig.Log.Format
	}
	if userConfig.Log.Output != "" {
		merged.Log.Output = userConfig.Log.Output
	}

	// Bus config
	if userConfig.Bus.WaitGranularity != 0 {
		merged.Bus.WaitGranularity = userConfig.Bus.WaitGranularity
	}
	if userConfig.Bus.DeliveryPolicy != "" {
		merged.Bus.DeliveryPolicy = userConfig.Bus.DeliveryPolicy
	}
	if userConfig.Bus.ShutdownTimeout != 0 {
		merged.Bus.ShutdownTimeout = userConfig.Bus.ShutdownTimeout
	}

	// Metrics config
	merged.Metrics.Enabled = userConfig.Metrics.Enabled
	if userConfig.Metrics.Address != "" {
		merged.Metrics.Address = userConfig.Metrics.Address
	}
	if userConfig.Metrics.Port != 0 {
		merged.Metrics.Port = userConfig.Metrics.Port
	}
	if userConfig.Metrics.Path != "" {
		merged.Metrics.Path = userConfig.Metrics.Path
	}

	// Resources config
	if userConfig.Resources.Root != "" {
		merged.Resources.Root = userConfig.Resources.Root
	}

	// Units
	if userConfig.Units != nil {
		merged.Units = userConfig.Units
	}

	return &merged
}
