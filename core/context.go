package core

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
	"weak"

	"github.com/najoast/robo/bus"
	"github.com/najoast/robo/metric"
)

// Context is the registry of units of one running system. It owns every
// unit it registers and hands out References to them.
type Context struct {
	mu     sync.RWMutex
	units  map[string]*Unit
	refs   map[string]Reference
	closed bool

	logger      *slog.Logger
	metrics     *metric.Metrics
	resources   *ResourceLoader
	policy      DeliveryPolicy
	granularity time.Duration
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger the Context and its units log to.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the collectors the runtime reports to.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Context) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithResources sets the resource loader handed to units.
func WithResources(r *ResourceLoader) Option {
	return func(c *Context) {
		if r != nil {
			c.resources = r
		}
	}
}

// WithDeliveryPolicy sets the policy for messages sent to units that are not started.
func WithDeliveryPolicy(p DeliveryPolicy) Option {
	return func(c *Context) {
		c.policy = p
	}
}

// WithWaitGranularity sets the wake-up interval of every unit's bus.
func WithWaitGranularity(d time.Duration) Option {
	return func(c *Context) {
		if d > 0 {
			c.granularity = d
		}
	}
}

// NewContext creates an empty Context.
func NewContext(opts ...Option) *Context {
	c := &Context{
		units:       make(map[string]*Unit),
		refs:        make(map[string]Reference),
		logger:      slog.Default(),
		policy:      DeliveryDrop,
		granularity: bus.DefaultWaitGranularity,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metric.NewMetrics()
	}
	if c.resources == nil {
		c.resources = DefaultResourceLoader()
	}
	return c
}

// Logger returns the Context logger.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// Resources returns the resource loader shared by all units.
func (c *Context) Resources() *ResourceLoader {
	return c.resources
}

// DeliveryPolicy returns the policy applied to every unit.
func (c *Context) DeliveryPolicy() DeliveryPolicy {
	return c.policy
}

// UnitOption configures a unit at registration.
type UnitOption func(*unitOptions)

type unitOptions struct {
	deps []string
}

// DependsOn declares units that must be started before this one.
func DependsOn(ids ...string) UnitOption {
	return func(o *unitOptions) {
		o.deps = append(o.deps, ids...)
	}
}

// Register creates an UNINITIALIZED unit with the given id and behaviour.
func (c *Context) Register(id string, handler MessageHandler, opts ...UnitOption) (*Unit, error) {
	if id == "" {
		return nil, &ConfigurationError{Reason: "empty unit id"}
	}
	if handler == nil {
		return nil, &ConfigurationError{Unit: id, Reason: "nil handler"}
	}

	var o unitOptions
	for _, opt := range opts {
		opt(&o)
	}
	if slices.Contains(o.deps, id) {
		return nil, &ConfigurationError{Unit: id, Key: "depends_on", Reason: "unit depends on itself"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrContextClosed
	}
	if _, exists := c.units[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateUnit, id)
	}

	u := newUnit(c, id, handler, o.deps)
	c.units[id] = u
	c.logger.Debug("unit registered", "unit", id, "depends_on", o.deps)
	return u, nil
}

// GetUnit returns the registered unit with the given id.
func (c *Context) GetUnit(id string) (*Unit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	u, ok := c.units[id]
	if !ok {
		return nil, &UnknownTargetError{ID: id}
	}
	return u, nil
}

// GetReference returns the Reference for id. Repeated calls return an
// equal Reference.
func (c *Context) GetReference(id string) (Reference, error) {
	c.mu.RLock()
	ref, ok := c.refs[id]
	_, exists := c.units[id]
	c.mu.RUnlock()

	if ok {
		return ref, nil
	}
	if !exists {
		return Reference{}, &UnknownTargetError{ID: id}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ref, ok := c.refs[id]; ok {
		return ref, nil
	}
	if _, exists := c.units[id]; !exists {
		return Reference{}, &UnknownTargetError{ID: id}
	}
	ref = Reference{id: id, owner: weak.Make(c)}
	c.refs[id] = ref
	return ref, nil
}

// Initialize applies props to the unit with the given id.
func (c *Context) Initialize(id string, props map[string]string) error {
	u, err := c.GetUnit(id)
	if err != nil {
		return err
	}
	return u.Initialize(Configuration(props))
}

// Start starts every INITIALIZED or STOPPED unit, dependencies first. It
// stops at the first unit that fails to start; units already started keep
// running.
func (c *Context) Start(ctx context.Context) error {
	order, err := c.StartOrder()
	if err != nil {
		return fmt.Errorf("failed to calculate start order: %w", err)
	}

	for _, id := range order {
		u, err := c.GetUnit(id)
		if err != nil {
			continue
		}
		if !u.State().Startable() {
			continue
		}
		if err := u.Start(ctx); err != nil {
			return err
		}
	}

	c.logger.Info("units started", "order", order)
	return nil
}

// Shutdown stops every running unit in reverse dependency order. It is
// safe to call more than once.
func (c *Context) Shutdown(ctx context.Context) error {
	order, err := c.StartOrder()
	if err != nil {
		order = c.Units()
	}
	slices.Reverse(order)

	var errs []error
	for _, id := range order {
		u, err := c.GetUnit(id)
		if err != nil {
			continue
		}
		if err := u.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	c.logger.Info("units stopped", "order", order)
	return errors.Join(errs...)
}

// Close shuts down every unit and releases them. A closed Context rejects
// new registrations and its References resolve to unknown targets.
func (c *Context) Close(ctx context.Context) error {
	err := c.Shutdown(ctx)

	c.mu.Lock()
	ids := make([]string, 0, len(c.units))
	for id := range c.units {
		ids = append(ids, id)
	}
	c.units = make(map[string]*Unit)
	c.refs = make(map[string]Reference)
	c.closed = true
	c.mu.Unlock()

	for _, id := range ids {
		c.metrics.Forget(id)
	}
	return err
}

// Remove shuts down the unit and removes it together with its cached Reference.
func (c *Context) Remove(ctx context.Context, id string) error {
	u, err := c.GetUnit(id)
	if err != nil {
		return err
	}

	shutdownErr := u.Shutdown(ctx)

	c.mu.Lock()
	if c.units[id] == u {
		delete(c.units, id)
		delete(c.refs, id)
	}
	c.mu.Unlock()

	c.metrics.Forget(id)
	c.logger.Info("unit removed", "unit", id)
	return shutdownErr
}

// Recreate replaces a FAILED unit with a fresh one running handler. If the
// failed unit had been configured, the new one is initialized with the same
// configuration. Existing References keep working.
func (c *Context) Recreate(ctx context.Context, id string, handler MessageHandler) (*Unit, error) {
	if handler == nil {
		return nil, &ConfigurationError{Unit: id, Reason: "nil handler"}
	}

	c.mu.Lock()
	old, ok := c.units[id]
	if !ok {
		c.mu.Unlock()
		return nil, &UnknownTargetError{ID: id}
	}
	if s := old.State(); s != StateFailed {
		c.mu.Unlock()
		return nil, transitionError("recreate", id, s, StateUninitialized)
	}

	// A failed consumer may still be finishing a handler call.
	old.bus.Deactivate()

	u := newUnit(c, id, handler, old.deps)
	c.units[id] = u
	c.mu.Unlock()

	old.mu.Lock()
	cfg, configured := old.config.Clone(), old.configured
	old.mu.Unlock()

	c.logger.Info("unit recreated", "unit", id)
	if !configured {
		return u, nil
	}
	if err := u.Initialize(cfg); err != nil {
		return u, err
	}
	return u, nil
}

// Units returns the ids of all registered units in sorted order.
func (c *Context) Units() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.units))
	for id := range c.units {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Stats returns statistics for every unit, sorted by id.
func (c *Context) Stats() []UnitStats {
	c.mu.RLock()
	units := make([]*Unit, 0, len(c.units))
	for _, u := range c.units {
		units = append(units, u)
	}
	c.mu.RUnlock()

	stats := make([]UnitStats, 0, len(units))
	for _, u := range units {
		stats = append(stats, u.Stats())
	}
	slices.SortFunc(stats, func(a, b UnitStats) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return stats
}

// StartOrder returns unit ids ordered so that every unit comes after its
// dependencies. Units with no ordering constraint between them are sorted by id.
func (c *Context) StartOrder() ([]string, error) {
	c.mu.RLock()
	deps := make(map[string][]string, len(c.units))
	for id, u := range c.units {
		deps[id] = u.deps
	}
	c.mu.RUnlock()

	return startOrder(deps)
}

// startOrder is a topological sort using Kahn's algorithm.
func startOrder(deps map[string][]string) ([]string, error) {
	inDegree := make(map[string]int, len(deps))
	graph := make(map[string][]string, len(deps))

	for id := range deps {
		inDegree[id] = 0
	}

	for id, ds := range deps {
		for _, dep := range ds {
			if _, exists := deps[dep]; !exists {
				return nil, fmt.Errorf("dependency of unit %s: %w", id, &UnknownTargetError{ID: dep})
			}
			graph[dep] = append(graph[dep], id)
			inDegree[id]++
		}
	}

	var ready []string
	for id, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	slices.Sort(ready)

	result := make([]string, 0, len(deps))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		result = append(result, current)

		var next []string
		for _, dependent := range graph[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				next = append(next, dependent)
			}
		}
		ready = append(ready, next...)
		slices.Sort(ready)
	}

	if len(result) != len(deps) {
		return nil, ErrDependencyCycle
	}
	return result, nil
}

// lookup resolves a unit for a Reference.
func (c *Context) lookup(id string) (*Unit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, &UnknownTargetError{ID: id}
	}
	u, ok := c.units[id]
	if !ok {
		return nil, &UnknownTargetError{ID: id}
	}
	return u, nil
}
