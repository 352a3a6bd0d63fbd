// Package motor provides a simulated engine unit driven by motion commands.
package motor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/najoast/robo/core"
	"github.com/najoast/robo/units/command"
)

// Type is the factory name of the Motor unit.
const Type = "motor"

// DefaultMaxSpeed caps the speed when max_speed is unset.
const DefaultMaxSpeed = 100

// Motor applies motion steps to a simulated position, heading and speed.
// move and back change the position by the step value, left and right turn
// the heading in degrees, stop zeroes the speed.
//
// Configuration:
//
//	max_speed  upper bound of |speed| (default 100)
type Motor struct {
	logger   *slog.Logger
	maxSpeed int

	position atomic.Int64
	heading  atomic.Int64
	speed    atomic.Int64
	applied  atomic.Int64
}

// New creates a Motor at the origin.
func New() *Motor {
	return &Motor{logger: slog.Default(), maxSpeed: DefaultMaxSpeed}
}

// Initialize implements core.Initializable.
func (m *Motor) Initialize(env core.UnitEnv, cfg core.Configuration) error {
	if env.Logger != nil {
		m.logger = env.Logger
	}

	maxSpeed, err := cfg.Int("max_speed", DefaultMaxSpeed)
	if err != nil {
		return err
	}
	if maxSpeed <= 0 {
		return &core.ConfigurationError{Key: "max_speed", Reason: "must be positive"}
	}
	m.maxSpeed = maxSpeed
	return nil
}

// OnMessage implements core.MessageHandler. It accepts command.Step values
// and batch strings.
func (m *Motor) OnMessage(_ context.Context, payload any) error {
	switch msg := payload.(type) {
	case command.Step:
		return m.apply(msg)
	case string:
		steps, err := command.ParseBatch(msg)
		if err != nil {
			return err
		}
		for _, step := range steps {
			if err := m.apply(step); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("motor: unsupported message %T", payload)
	}
}

func (m *Motor) apply(step command.Step) error {
	if step.Command.Kind != command.KindMotion {
		return fmt.Errorf("motor: %s is not a motion command", step.Command.Name)
	}

	switch step.Command.Name {
	case "move":
		m.position.Add(int64(step.Value))
		m.speed.Store(int64(m.clamp(step.Value)))
	case "back":
		m.position.Add(-int64(step.Value))
		m.speed.Store(-int64(m.clamp(step.Value)))
	case "left":
		m.heading.Store(normalize(m.heading.Load() - int64(step.Value)))
	case "right":
		m.heading.Store(normalize(m.heading.Load() + int64(step.Value)))
	case "stop":
		m.speed.Store(0)
	}

	m.applied.Add(1)
	m.logger.Debug("step applied", "step", step.String(), "position", m.position.Load())
	return nil
}

func (m *Motor) clamp(v int) int {
	v = max(v, -v)
	return min(v, m.maxSpeed)
}

func normalize(deg int64) int64 {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

// GetAttribute implements core.AttributeQueryable.
func (m *Motor) GetAttribute(d core.AttributeDescriptor) (any, bool) {
	switch d.Name {
	case "position":
		return int(m.position.Load()), true
	case "speed":
		return int(m.speed.Load()), true
	case "heading":
		return int(m.heading.Load()), true
	case "applied":
		return m.applied.Load(), true
	}
	return nil, false
}
