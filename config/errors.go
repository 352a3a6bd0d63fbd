// Package config provides error definitions for configuration management
package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName         = errors.New("invalid application name")
	ErrInvalidEnvironment     = errors.New("invalid environment")
	ErrInvalidLogLevel        = errors.New("invalid log level")
	ErrInvalidLogFormat       = errors.New("invalid log format")
	ErrInvalidPort            = errors.New("invalid port number")
	ErrInvalidWaitGranularity = errors.New("invalid bus wait granularity")
	ErrInvalidDeliveryPolicy  = errors.New("invalid delivery policy")
	ErrInvalidUnit            = errors.New("invalid unit definition")
	ErrDuplicateUnitID        = errors.New("duplicate unit id")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrConfigValidateError = errors.New("configuration validation error")
	ErrEnvironmentVarError = errors.New("environment variable error")
	ErrConfigWatchError    = errors.New("configuration watch error")
)
