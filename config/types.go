// Package config provides configuration management for the robo runtime
package config

import (
	"fmt"
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch LogLevel(strings.ToLower(string(l))) {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// Config represents the complete robo configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Mailbox and delivery configuration
	Bus BusConfig `yaml:"bus" json:"bus"`

	// Prometheus endpoint configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Resource loading configuration
	Resources ResourcesConfig `yaml:"resources" json:"resources"`

	// Units to register, initialize and start
	Units []UnitConfig `yaml:"units" json:"units"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug"`

	// Application description
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, text)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// BusConfig contains per-unit mailbox settings
type BusConfig struct {
	// How often a parked consumer re-checks whether its bus is still active
	WaitGranularity time.Duration `yaml:"wait_granularity" json:"wait_granularity"`

	// What happens to messages sent to a unit that is not started (drop, buffer)
	DeliveryPolicy string `yaml:"delivery_policy" json:"delivery_policy"`

	// Upper bound for stopping all units
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// MetricsConfig contains Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// ListenAddress returns the host:port the metrics server binds to.
func (m MetricsConfig) ListenAddress() string {
	return net.JoinHostPort(m.Address, strconv.Itoa(m.Port))
}

// ResourcesConfig contains resource loader settings
type ResourcesConfig struct {
	// Directory resources are resolved against; empty means the working directory
	Root string `yaml:"root" json:"root"`
}

// UnitConfig describes one unit instance
type UnitConfig struct {
	// Unique unit id
	ID string `yaml:"id" json:"id"`

	// Registered unit type, e.g. "sensor" or "ingress"
	Type string `yaml:"type" json:"type"`

	// Units that must be started first
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// Unit properties passed to Initialize
	Properties map[string]string `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// Equal reports whether two unit definitions are identical.
func (u UnitConfig) Equal(other UnitConfig) bool {
	if u.ID != other.ID || u.Type != other.Type {
		return false
	}
	return slices.Equal(u.DependsOn, other.DependsOn) && maps.Equal(u.Properties, other.Properties)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "robo",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
			Description: "robo unit runtime",
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
			Output: "stdout",
		},
		Bus: BusConfig{
			WaitGranularity: time.Second,
			DeliveryPolicy:  "drop",
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "0.0.0.0",
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate app config
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	// Validate log config
	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: %s", ErrInvalidLogFormat, c.Log.Format)
	}

	// Validate bus config
	if c.Bus.WaitGranularity <= 0 {
		return ErrInvalidWaitGranularity
	}
	switch strings.ToLower(c.Bus.DeliveryPolicy) {
	case "", "drop", "buffer":
	default:
		return fmt.Errorf("%w: %s", ErrInvalidDeliveryPolicy, c.Bus.DeliveryPolicy)
	}

	// Validate metrics config
	if c.Metrics.Enabled && (c.Metrics.Port < 0 || c.Metrics.Port > 65535) {
		return ErrInvalidPort
	}

	return c.validateUnits()
}

func (c *Config) validateUnits() error {
	ids := make(map[string]struct{}, len(c.Units))
	for i, u := range c.Units {
		if u.ID == "" {
			return fmt.Errorf("%w: unit #%d has no id", ErrInvalidUnit, i)
		}
		if u.Type == "" {
			return fmt.Errorf("%w: unit %s has no type", ErrInvalidUnit, u.ID)
		}
		if _, dup := ids[u.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateUnitID, u.ID)
		}
		ids[u.ID] = struct{}{}
	}

	for _, u := range c.Units {
		for _, dep := range u.DependsOn {
			if dep == u.ID {
				return fmt.Errorf("%w: unit %s depends on itself", ErrInvalidUnit, u.ID)
			}
			if _, ok := ids[dep]; !ok {
				return fmt.Errorf("%w: unit %s depends on unknown unit %s", ErrInvalidUnit, u.ID, dep)
			}
		}
	}
	return nil
}

// Unit returns the definition with the given id.
func (c *Config) Unit(id string) (UnitConfig, bool) {
	for _, u := range c.Units {
		if u.ID == id {
			return u, true
		}
	}
	return UnitConfig{}, false
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.Log.Level == LogLevelDebug
}
