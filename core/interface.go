package core

import (
	"context"
	"log/slog"
)

// MessageHandler processes messages delivered to a unit. Every unit
// implements it. OnMessage is only ever called from the unit's own consumer
// goroutine, one message at a time, while the unit is STARTED.
type MessageHandler interface {
	OnMessage(ctx context.Context, payload any) error
}

// Initializable units validate and apply their configuration.
// Return a *ConfigurationError for missing or malformed keys.
type Initializable interface {
	Initialize(env UnitEnv, cfg Configuration) error
}

// Starter units run a hook before they start receiving messages.
type Starter interface {
	OnStart(ctx context.Context) error
}

// Stopper units run a hook after their consumer has stopped.
type Stopper interface {
	OnStop(ctx context.Context) error
}

// AttributeQueryable units expose read-only attributes. GetAttribute must
// not block and must not mutate unit state; it may be called concurrently
// with OnMessage.
type AttributeQueryable interface {
	GetAttribute(d AttributeDescriptor) (any, bool)
}

// ConfigSchema units declare keys that must be present before Initialize runs.
type ConfigSchema interface {
	RequiredKeys() []string
}

// HandlerFunc adapts an ordinary function to a MessageHandler.
type HandlerFunc func(ctx context.Context, payload any) error

// OnMessage calls f(ctx, payload).
func (f HandlerFunc) OnMessage(ctx context.Context, payload any) error {
	return f(ctx, payload)
}

// UnitEnv is what a unit receives from its Context at initialization.
type UnitEnv struct {
	// ID of the unit being initialized
	ID string

	// Context owning the unit, used to look up peers
	Context *Context

	// Logger scoped to the unit
	Logger *slog.Logger

	// Resources shared by every unit of the Context
	Resources *ResourceLoader
}

// Reference resolves a peer unit through the owning Context.
func (e UnitEnv) Reference(id string) (Reference, error) {
	if e.Context == nil {
		return Reference{}, &UnknownTargetError{ID: id}
	}
	return e.Context.GetReference(id)
}
