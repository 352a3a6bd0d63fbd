package bootstrap

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/najoast/robo/core"
)

// ErrUnknownUnitType is returned when no factory is registered for a type.
var ErrUnknownUnitType = errors.New("unknown unit type")

// Registry maps unit type names to factories.
type Registry struct {
	factories map[string]Factory
	mutex     sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register registers a factory for typ.
func (r *Registry) Register(typ string, factory Factory) error {
	if typ == "" {
		return fmt.Errorf("unit type cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory for %s cannot be nil", typ)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.factories[typ]; exists {
		return fmt.Errorf("unit type %s is already registered", typ)
	}

	r.factories[typ] = factory
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(typ string, factory Factory) {
	if err := r.Register(typ, factory); err != nil {
		panic(err)
	}
}

// Has checks if a type is registered
func (r *Registry) Has(typ string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.factories[typ]
	return ok
}

// Types returns all registered type names, sorted.
func (r *Registry) Types() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// New creates a handler of the given type.
func (r *Registry) New(typ string) (core.MessageHandler, error) {
	r.mutex.RLock()
	factory, ok := r.factories[typ]
	r.mutex.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnitType, typ)
	}

	handler := factory()
	if handler == nil {
		return nil, fmt.Errorf("factory for %s returned nil", typ)
	}
	return handler, nil
}
