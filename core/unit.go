package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/najoast/robo/bus"
	"github.com/najoast/robo/metric"
)

// Unit is a registered handler together with its mailbox, consumer
// goroutine and lifecycle state. Units are created and owned by a Context.
type Unit struct {
	id      string
	handler MessageHandler
	deps    []string
	owner   *Context

	bus    *bus.Bus[any]
	policy DeliveryPolicy

	logger  *slog.Logger
	metrics *metric.Metrics

	// mu serializes lifecycle transitions
	mu    sync.Mutex
	state atomic.Int32

	config     Configuration
	configured bool

	// consumer goroutine of the current run
	cancel context.CancelFunc
	done   chan struct{}

	// envelopes taken while not started under DeliveryBuffer
	heldMu sync.Mutex
	held   []bus.Envelope[any]

	delivered     atomic.Uint64
	dropped       atomic.Uint64
	failures      atomic.Uint64
	createdAt     time.Time
	startedAt     atomic.Int64
	lastMessageAt atomic.Int64
}

func newUnit(owner *Context, id string, handler MessageHandler, deps []string) *Unit {
	u := &Unit{
		id:        id,
		handler:   handler,
		deps:      deps,
		owner:     owner,
		bus:       bus.New[any](bus.WithWaitGranularity(owner.granularity)),
		policy:    owner.policy,
		logger:    owner.logger.With("unit", id),
		metrics:   owner.metrics,
		createdAt: time.Now(),
	}
	u.setState(StateUninitialized)
	return u
}

// ID returns the unit's identifier.
func (u *Unit) ID() string {
	return u.id
}

// State returns the unit's current lifecycle state.
func (u *Unit) State() State {
	return State(u.state.Load())
}

// Handler returns the behaviour the unit was registered with.
func (u *Unit) Handler() MessageHandler {
	return u.handler
}

// Dependencies returns the ids of the units this unit starts after.
func (u *Unit) Dependencies() []string {
	return append([]string(nil), u.deps...)
}

// Configuration returns a copy of the configuration the unit was
// initialized with.
func (u *Unit) Configuration() Configuration {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.config.Clone()
}

// Stats returns current runtime statistics for this unit.
func (u *Unit) Stats() UnitStats {
	return UnitStats{
		ID:            u.id,
		State:         u.State(),
		Delivered:     u.delivered.Load(),
		Dropped:       u.dropped.Load(),
		Failures:      u.failures.Load(),
		Queued:        u.bus.Size(),
		CreatedAt:     u.createdAt,
		StartedAt:     unixNano(u.startedAt.Load()),
		LastMessageAt: unixNano(u.lastMessageAt.Load()),
	}
}

// Initialize validates cfg and hands it to the unit. It is only valid from
// UNINITIALIZED. On failure the unit becomes FAILED.
func (u *Unit) Initialize(cfg Configuration) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.transition("initialize", StateInitializing); err != nil {
		return err
	}

	u.config = cfg.Clone()
	u.configured = true

	if schema, ok := u.handler.(ConfigSchema); ok {
		for _, key := range schema.RequiredKeys() {
			if _, ok := u.config.String(key); !ok {
				return u.fail("initialize", &ConfigurationError{Unit: u.id, Key: key, Reason: "missing required key"})
			}
		}
	}

	if initializer, ok := u.handler.(Initializable); ok {
		env := UnitEnv{
			ID:        u.id,
			Context:   u.owner,
			Logger:    u.logger,
			Resources: u.owner.resources,
		}
		err := u.protect(func() error { return initializer.Initialize(env, u.config.Clone()) })
		if err != nil {
			var cfgErr *ConfigurationError
			if errors.As(err, &cfgErr) && cfgErr.Unit == "" {
				cfgErr.Unit = u.id
			}
			return u.fail("initialize", err)
		}
	}

	if err := u.transition("initialize", StateInitialized); err != nil {
		return err
	}
	u.logger.Debug("unit initialized")
	return nil
}

// Start runs the start hook, activates the bus and launches the consumer.
// It is valid from INITIALIZED and STOPPED. Messages sent after Start
// returns are delivered.
func (u *Unit) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.transition("start", StateStarting); err != nil {
		return err
	}

	if starter, ok := u.handler.(Starter); ok {
		if err := u.protect(func() error { return starter.OnStart(ctx) }); err != nil {
			return u.fail("start", err)
		}
	}

	u.bus.Activate()
	u.requeue()

	consumerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	u.cancel = cancel
	u.done = done

	u.startedAt.Store(time.Now().UnixNano())
	if err := u.transition("start", StateStarted); err != nil {
		cancel()
		return err
	}
	go u.consume(consumerCtx, done)

	u.logger.Info("unit started")
	return nil
}

// Shutdown stops message processing, waits for the consumer to exit and
// runs the stop hook. Calling it on a unit that is not running only makes
// sure the bus is inactive. It must not be called from the unit's own
// handler.
func (u *Unit) Shutdown(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	// STARTING is never observed here because Start holds u.mu.
	if !u.State().CanTransition(StateStopping) {
		u.bus.Deactivate()
		return nil
	}
	if err := u.transition("shutdown", StateStopping); err != nil {
		return err
	}

	u.bus.Deactivate()
	u.cancel()

	select {
	case <-u.done:
	case <-ctx.Done():
		return u.fail("shutdown", fmt.Errorf("waiting for handler: %w", ctx.Err()))
	}

	if u.policy == DeliveryDrop {
		for range u.bus.Drain() {
			u.drop(metric.DropShutdown)
		}
	}

	if stopper, ok := u.handler.(Stopper); ok {
		if err := u.protect(func() error { return stopper.OnStop(ctx) }); err != nil {
			return u.fail("shutdown", err)
		}
	}

	if err := u.transition("shutdown", StateStopped); err != nil {
		return err
	}
	u.logger.Info("unit stopped")
	return nil
}

// enqueue is the Send path: the envelope is buffered when nobody is waiting.
func (u *Unit) enqueue(e bus.Envelope[any]) error {
	s := u.State()
	switch {
	case s == StateFailed:
		u.drop(metric.DropNotStarted)
		return fmt.Errorf("%w: %s", ErrUnitFailed, u.id)
	case u.policy == DeliveryDrop && !s.IsRunning():
		u.drop(metric.DropNotStarted)
		u.logger.Debug("message dropped", "state", s, "priority", e.Priority)
		return nil
	}

	route := u.bus.Enqueue(e)
	u.metrics.MessagesSent.WithLabelValues(u.id, route.String()).Inc()
	return nil
}

// tryEnqueue is the perishable path: it succeeds only when the consumer is
// parked waiting for work.
func (u *Unit) tryEnqueue(e bus.Envelope[any]) (bool, error) {
	s := u.State()
	if s == StateFailed {
		u.drop(metric.DropNotStarted)
		return false, fmt.Errorf("%w: %s", ErrUnitFailed, u.id)
	}
	if s != StateStarted {
		u.drop(metric.DropNotStarted)
		return false, nil
	}
	if !u.bus.TryEnqueue(e) {
		u.drop(metric.DropNoConsumer)
		return false, nil
	}
	u.metrics.MessagesSent.WithLabelValues(u.id, bus.RoutePrimary.String()).Inc()
	return true, nil
}

// getAttribute forwards to the handler. Unsupported attributes, values of
// the wrong type and panics all read as not found.
func (u *Unit) getAttribute(d AttributeDescriptor) (v any, found bool) {
	q, ok := u.handler.(AttributeQueryable)
	if !ok {
		return nil, false
	}

	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("attribute query panicked", "attribute", d.Name, "panic", r)
			v, found = nil, false
		}
	}()

	v, found = q.GetAttribute(d)
	if !found || !d.accepts(v) {
		return nil, false
	}
	return v, true
}

// consume is the unit's consumer loop. It exits when the bus is
// deactivated or ctx is cancelled.
func (u *Unit) consume(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	for {
		e, ok := u.bus.TakeContext(ctx)
		if !ok {
			return
		}
		u.deliver(ctx, e)
	}
}

func (u *Unit) deliver(ctx context.Context, e bus.Envelope[any]) {
	if s := u.State(); s != StateStarted {
		if u.policy == DeliveryBuffer {
			u.hold(e)
			return
		}
		reason := metric.DropNotStarted
		if s == StateStopping || s == StateStopped {
			reason = metric.DropShutdown
		}
		u.drop(reason)
		return
	}

	start := time.Now()
	u.lastMessageAt.Store(start.UnixNano())

	kind, err := u.invoke(ctx, e.Payload)

	u.delivered.Add(1)
	u.metrics.MessagesDelivered.WithLabelValues(u.id).Inc()
	u.metrics.HandlerDuration.WithLabelValues(u.id).Observe(time.Since(start).Seconds())
	u.metrics.BusDepth.WithLabelValues(u.id).Set(float64(u.bus.Size()))

	if err != nil {
		u.failures.Add(1)
		u.metrics.HandlerFailures.WithLabelValues(u.id, kind).Inc()
		u.logger.Error("message handler failed", "kind", kind, "priority", e.Priority, "error", err)
	}
}

// invoke calls the handler, converting a panic into an error.
func (u *Unit) invoke(ctx context.Context, payload any) (kind string, err error) {
	defer func() {
		if r := recover(); r != nil {
			kind = metric.FailurePanic
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()

	if err := u.handler.OnMessage(ctx, payload); err != nil {
		return metric.FailureError, err
	}
	return "", nil
}

// protect runs a lifecycle hook, converting a panic into an error.
func (u *Unit) protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (u *Unit) hold(e bus.Envelope[any]) {
	u.heldMu.Lock()
	u.held = append(u.held, e)
	u.heldMu.Unlock()
}

// requeue prepares the bus for a new run under DeliveryBuffer: held
// envelopes go back in front of whatever is still queued. Under
// DeliveryDrop there is nothing to do, since Shutdown already discarded
// the previous run's leftovers and anything queued now was accepted while
// STARTING and is delivered once the unit is STARTED. u.mu must be held.
func (u *Unit) requeue() {
	if u.policy == DeliveryDrop {
		return
	}

	u.heldMu.Lock()
	held := u.held
	u.held = nil
	u.heldMu.Unlock()

	queued := u.bus.Drain()
	for _, e := range held {
		u.bus.Enqueue(e)
	}
	for _, e := range queued {
		u.bus.Enqueue(e)
	}
}

func (u *Unit) drop(reason string) {
	u.dropped.Add(1)
	u.metrics.MessagesDropped.WithLabelValues(u.id, reason).Inc()
}

// fail moves the unit to FAILED and stops any running consumer. u.mu must be held.
func (u *Unit) fail(op string, err error) error {
	if terr := u.transition(op, StateFailed); terr != nil {
		return errors.Join(err, terr)
	}
	u.bus.Deactivate()
	if u.cancel != nil {
		u.cancel()
	}
	u.logger.Error("unit failed", "operation", op, "error", err)
	return &LifecycleError{Operation: op, Unit: u.id, Err: err}
}

// transition moves the unit along an edge of the lifecycle graph. u.mu must
// be held.
func (u *Unit) transition(op string, next State) error {
	if s := u.State(); !s.CanTransition(next) {
		return transitionError(op, u.id, s, next)
	}
	u.setState(next)
	return nil
}

func (u *Unit) setState(s State) {
	u.state.Store(int32(s))
	u.metrics.UnitState.WithLabelValues(u.id).Set(float64(s))
}

func unixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
