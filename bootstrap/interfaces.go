// Package bootstrap assembles a running application from configuration:
// logger, metrics, the unit Context, the units themselves, and the
// services that expose them.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/najoast/robo/core"
)

// Factory creates a fresh handler for a unit type.
type Factory func() core.MessageHandler

// Service is a long-running companion of the application, such as the
// metrics endpoint. Serve blocks until ctx is done or the service fails.
type Service interface {
	Name() string
	Serve(ctx context.Context) error
}

// HealthState represents the health state of a unit
type HealthState string

const (
	// HealthUnknown indicates the unit has not been started yet
	HealthUnknown HealthState = "unknown"

	// HealthStarting indicates the unit is starting up
	HealthStarting HealthState = "starting"

	// HealthHealthy indicates the unit is processing messages
	HealthHealthy HealthState = "healthy"

	// HealthCritical indicates the unit failed
	HealthCritical HealthState = "critical"

	// HealthStopping indicates the unit is shutting down
	HealthStopping HealthState = "stopping"

	// HealthStopped indicates the unit has stopped
	HealthStopped HealthState = "stopped"
)

// HealthStatus represents the health status of a unit
type HealthStatus struct {
	State     HealthState `json:"state"`
	Lifecycle string      `json:"lifecycle"`
	Delivered uint64      `json:"delivered"`
	Dropped   uint64      `json:"dropped"`
	Failures  uint64      `json:"failures"`
	Queued    int         `json:"queued"`
}

func healthOf(s core.UnitStats) HealthStatus {
	status := HealthStatus{
		Lifecycle: s.State.String(),
		Delivered: s.Delivered,
		Dropped:   s.Dropped,
		Failures:  s.Failures,
		Queued:    s.Queued,
	}

	switch s.State {
	case core.StateStarting:
		status.State = HealthStarting
	case core.StateStarted:
		status.State = HealthHealthy
	case core.StateStopping:
		status.State = HealthStopping
	case core.StateStopped:
		status.State = HealthStopped
	case core.StateFailed:
		status.State = HealthCritical
	default:
		status.State = HealthUnknown
	}
	return status
}

// LifecycleEvent represents an event in the application lifecycle
type LifecycleEvent struct {
	Type      string         `json:"type"`
	Unit      string         `json:"unit,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Error     error          `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Lifecycle event types
const (
	EventStarted        = "application.started"
	EventStopped        = "application.stopped"
	EventUnitAdded      = "unit.added"
	EventUnitRemoved    = "unit.removed"
	EventUnitFailed     = "unit.failed"
	EventConfigReloaded = "config.reloaded"
)

// ApplicationError represents an error that occurred during application lifecycle
type ApplicationError struct {
	Operation string
	Unit      string
	Err       error
}

func (e *ApplicationError) Error() string {
	if e.Unit != "" {
		return fmt.Sprintf("%s failed for unit %s: %v", e.Operation, e.Unit, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}
