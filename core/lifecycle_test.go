package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUninitialized, "uninitialized"},
		{StateInitializing, "initializing"},
		{StateInitialized, "initialized"},
		{StateStarting, "starting"},
		{StateStarted, "started"},
		{StateStopping, "stopping"},
		{StateStopped, "stopped"},
		{StateFailed, "failed"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}

func TestStateCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateUninitialized, StateInitializing, true},
		{StateUninitialized, StateStarting, false},
		{StateInitializing, StateInitialized, true},
		{StateInitialized, StateStarting, true},
		{StateStarting, StateStarted, true},
		{StateStarted, StateStopping, true},
		{StateStarted, StateStarting, false},
		{StateStopping, StateStopped, true},
		{StateStopped, StateStarting, true},
		{StateStopped, StateInitializing, false},
		{StateStarted, StateFailed, true},
		{StateUninitialized, StateFailed, true},
		{StateFailed, StateStarting, false},
		{StateFailed, StateFailed, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

// hookRecorder records which capability hooks ran.
type hookRecorder struct {
	required []string

	initErr  error
	startErr error
	stopErr  error

	mu       sync.Mutex
	received []any
	cfg      Configuration
	started  atomic.Int32
	stopped  atomic.Int32
}

func (p *hookRecorder) OnMessage(_ context.Context, payload any) error {
	p.mu.Lock()
	p.received = append(p.received, payload)
	p.mu.Unlock()
	return nil
}

func (p *hookRecorder) RequiredKeys() []string { return p.required }

func (p *hookRecorder) Initialize(_ UnitEnv, cfg Configuration) error {
	p.cfg = cfg
	return p.initErr
}

func (p *hookRecorder) OnStart(context.Context) error {
	p.started.Add(1)
	return p.startErr
}

func (p *hookRecorder) OnStop(context.Context) error {
	p.stopped.Add(1)
	return p.stopErr
}

func (p *hookRecorder) messages() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.received...)
}

func newTestContext(opts ...Option) *Context {
	opts = append([]Option{WithWaitGranularity(20 * time.Millisecond)}, opts...)
	return NewContext(opts...)
}

func TestUnitLifecycleHappyPath(t *testing.T) {
	c := newTestContext()
	hooks := &hookRecorder{}

	u, err := c.Register("hooks", hooks)
	if err != nil {
		t.Fatalf("Failed to register unit: %v", err)
	}
	if u.State() != StateUninitialized {
		t.Errorf("Expected state %s, got %s", StateUninitialized, u.State())
	}

	if err := u.Initialize(Configuration{"speed": "10"}); err != nil {
		t.Fatalf("Failed to initialize unit: %v", err)
	}
	if u.State() != StateInitialized {
		t.Errorf("Expected state %s, got %s", StateInitialized, u.State())
	}
	if hooks.cfg["speed"] != "10" {
		t.Errorf("Expected configuration to be passed through, got %v", hooks.cfg)
	}

	ctx := context.Background()
	if err := u.Start(ctx); err != nil {
		t.Fatalf("Failed to start unit: %v", err)
	}
	if u.State() != StateStarted {
		t.Errorf("Expected state %s, got %s", StateStarted, u.State())
	}

	if err := u.Shutdown(ctx); err != nil {
		t.Fatalf("Failed to shut down unit: %v", err)
	}
	if u.State() != StateStopped {
		t.Errorf("Expected state %s, got %s", StateStopped, u.State())
	}
	if hooks.started.Load() != 1 || hooks.stopped.Load() != 1 {
		t.Errorf("Expected one start and one stop hook, got %d/%d", hooks.started.Load(), hooks.stopped.Load())
	}

	// Restart from STOPPED.
	if err := u.Start(ctx); err != nil {
		t.Fatalf("Failed to restart unit: %v", err)
	}
	if u.State() != StateStarted {
		t.Errorf("Expected state %s after restart, got %s", StateStarted, u.State())
	}
	_ = u.Shutdown(ctx)
}

func TestUnitInitializeMissingKey(t *testing.T) {
	c := newTestContext()
	u, _ := c.Register("sensor", &hookRecorder{required: []string{"port"}})

	err := u.Initialize(Configuration{})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Expected ErrConfiguration, got %v", err)
	}

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected *ConfigurationError, got %T", err)
	}
	if cfgErr.Key != "port" || cfgErr.Unit != "sensor" {
		t.Errorf("Expected key port on unit sensor, got %+v", cfgErr)
	}
	if u.State() != StateFailed {
		t.Errorf("Expected state %s, got %s", StateFailed, u.State())
	}
}

func TestUnitInitializeErrorFromHandler(t *testing.T) {
	c := newTestContext()
	u, _ := c.Register("motor", &hookRecorder{initErr: &ConfigurationError{Key: "speed", Reason: "not an integer"}})

	err := u.Initialize(Configuration{"speed": "fast"})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected *ConfigurationError, got %v", err)
	}
	if cfgErr.Unit != "motor" {
		t.Errorf("Expected unit id to be filled in, got %q", cfgErr.Unit)
	}
	if u.State() != StateFailed {
		t.Errorf("Expected state %s, got %s", StateFailed, u.State())
	}
}

func TestUnitInvalidTransitions(t *testing.T) {
	c := newTestContext()
	u, _ := c.Register("hooks", &hookRecorder{})
	ctx := context.Background()

	if err := u.Start(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition starting an uninitialized unit, got %v", err)
	}

	_ = u.Initialize(nil)
	if err := u.Initialize(nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition initializing twice, got %v", err)
	}

	_ = u.Start(ctx)
	if err := u.Start(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition starting twice, got %v", err)
	}
	_ = u.Shutdown(ctx)
}

func TestUnitStartHookFailure(t *testing.T) {
	c := newTestContext()
	u, _ := c.Register("hooks", &hookRecorder{startErr: errors.New("engine stalled")})
	_ = u.Initialize(nil)

	err := u.Start(context.Background())
	var lcErr *LifecycleError
	if !errors.As(err, &lcErr) {
		t.Fatalf("Expected *LifecycleError, got %v", err)
	}
	if lcErr.Operation != "start" || lcErr.Unit != "hooks" {
		t.Errorf("Unexpected lifecycle error %+v", lcErr)
	}
	if u.State() != StateFailed {
		t.Errorf("Expected state %s, got %s", StateFailed, u.State())
	}
	if !u.State().IsTerminal() {
		t.Error("Expected FAILED to be terminal")
	}
}

func TestUnitShutdownIdempotent(t *testing.T) {
	c := newTestContext()
	hooks := &hookRecorder{}
	u, _ := c.Register("hooks", hooks)
	_ = u.Initialize(nil)
	ctx := context.Background()
	_ = u.Start(ctx)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- u.Shutdown(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Expected nil from concurrent Shutdown, got %v", err)
		}
	}
	if hooks.stopped.Load() != 1 {
		t.Errorf("Expected stop hook to run once, ran %d times", hooks.stopped.Load())
	}
	if u.bus.IsActive() {
		t.Error("Expected bus to be inactive after shutdown")
	}

	// Shutdown of a never-started unit is a no-op.
	other, _ := c.Register("idle", &hookRecorder{})
	if err := other.Shutdown(ctx); err != nil {
		t.Errorf("Expected nil shutting down an idle unit, got %v", err)
	}
	if other.State() != StateUninitialized {
		t.Errorf("Expected state to be unchanged, got %s", other.State())
	}
}

func TestUnitOnlyProcessesWhileStarted(t *testing.T) {
	c := newTestContext()
	hooks := &hookRecorder{}
	u, _ := c.Register("hooks", hooks)
	ref, _ := c.GetReference("hooks")

	// Dropped: not started.
	if err := ref.Send("early"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	_ = u.Initialize(nil)
	_ = u.Start(context.Background())

	if err := ref.Send("on-time"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(hooks.messages()) < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	_ = u.Shutdown(context.Background())

	got := hooks.messages()
	if len(got) != 1 || got[0] != "on-time" {
		t.Errorf("Expected only the message sent while started, got %v", got)
	}
	if u.Stats().Dropped != 1 {
		t.Errorf("Expected one dropped message, got %d", u.Stats().Dropped)
	}
}

// stateTrail records the unit state observed inside every hook.
type stateTrail struct {
	unit   *Unit
	states []State
}

func (s *stateTrail) OnMessage(context.Context, any) error { return nil }

func (s *stateTrail) Initialize(UnitEnv, Configuration) error {
	s.states = append(s.states, s.unit.State())
	return nil
}

func (s *stateTrail) OnStart(context.Context) error {
	s.states = append(s.states, s.unit.State())
	return nil
}

func (s *stateTrail) OnStop(context.Context) error {
	s.states = append(s.states, s.unit.State())
	return nil
}

func TestUnitStateChangesFollowTransitionTable(t *testing.T) {
	c := newTestContext()
	trail := &stateTrail{}
	u, err := c.Register("trail", trail)
	if err != nil {
		t.Fatalf("Failed to register unit: %v", err)
	}
	trail.unit = u

	ctx := context.Background()
	trail.states = append(trail.states, u.State())
	if err := u.Initialize(nil); err != nil {
		t.Fatalf("Failed to initialize unit: %v", err)
	}
	trail.states = append(trail.states, u.State())
	for i := 0; i < 2; i++ {
		if err := u.Start(ctx); err != nil {
			t.Fatalf("Failed to start unit: %v", err)
		}
		trail.states = append(trail.states, u.State())
		if err := u.Shutdown(ctx); err != nil {
			t.Fatalf("Failed to shut down unit: %v", err)
		}
		trail.states = append(trail.states, u.State())
	}

	want := []State{
		StateUninitialized, StateInitializing, StateInitialized,
		StateStarting, StateStarted, StateStopping, StateStopped,
		StateStarting, StateStarted, StateStopping, StateStopped,
	}
	if len(trail.states) != len(want) {
		t.Fatalf("Expected states %v, got %v", want, trail.states)
	}
	for i := range want {
		if trail.states[i] != want[i] {
			t.Errorf("Expected state %s at step %d, got %s", want[i], i, trail.states[i])
		}
		if i > 0 && !want[i-1].CanTransition(want[i]) {
			t.Errorf("Unexpected edge %s -> %s", want[i-1], want[i])
		}
	}

	// Starting a running unit is not an edge of the graph.
	if err := u.Start(ctx); err != nil {
		t.Fatalf("Failed to start unit: %v", err)
	}
	defer u.Shutdown(ctx)
	if err := u.Start(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
}
