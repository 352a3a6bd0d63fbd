package core

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when a unit's configuration is missing or malformed.
	ErrConfiguration = errors.New("invalid unit configuration")

	// ErrUnknownTarget is returned when a unit id cannot be resolved.
	ErrUnknownTarget = errors.New("unknown target unit")

	// ErrUnsupportedAttribute is returned when a unit does not expose an attribute.
	ErrUnsupportedAttribute = errors.New("unsupported attribute")

	// ErrInvalidTransition is returned when a lifecycle operation is not allowed
	// from the unit's current state.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrDuplicateUnit is returned when a unit id is registered twice.
	ErrDuplicateUnit = errors.New("unit already registered")

	// ErrUnitFailed is returned when a message targets a unit in the FAILED state.
	ErrUnitFailed = errors.New("unit failed")

	// ErrContextClosed is returned when a closed Context is used.
	ErrContextClosed = errors.New("context closed")

	// ErrDependencyCycle is returned when unit dependencies form a cycle.
	ErrDependencyCycle = errors.New("circular unit dependency")
)

// ConfigurationError describes a missing or malformed configuration key.
type ConfigurationError struct {
	Unit   string
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Unit != "" && e.Key != "":
		return fmt.Sprintf("unit %s: key %q: %s", e.Unit, e.Key, e.Reason)
	case e.Key != "":
		return fmt.Sprintf("key %q: %s", e.Key, e.Reason)
	case e.Unit != "":
		return fmt.Sprintf("unit %s: %s", e.Unit, e.Reason)
	default:
		return e.Reason
	}
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// UnknownTargetError is returned when a Reference or lookup names a unit
// that is not registered.
type UnknownTargetError struct {
	ID string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnknownTarget, e.ID)
}

func (e *UnknownTargetError) Unwrap() error {
	return ErrUnknownTarget
}

// LifecycleError represents an error that occurred during a unit lifecycle operation.
type LifecycleError struct {
	Operation string
	Unit      string
	Err       error
}

func (e *LifecycleError) Error() string {
	if e.Unit != "" {
		return fmt.Sprintf("%s failed for unit %s: %v", e.Operation, e.Unit, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

func transitionError(op, unit string, from, to State) error {
	return &LifecycleError{
		Operation: op,
		Unit:      unit,
		Err:       fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to),
	}
}
