package core

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/robo/metric"
)

// collector is a handler that records payloads and exposes a few attributes.
type collector struct {
	mu       sync.Mutex
	payloads []any
	gate     chan struct{}
}

func (c *collector) OnMessage(_ context.Context, payload any) error {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	c.payloads = append(c.payloads, payload)
	c.mu.Unlock()

	switch p := payload.(type) {
	case error:
		return p
	case string:
		if p == "panic" {
			panic("boom")
		}
	}
	return nil
}

func (c *collector) GetAttribute(d AttributeDescriptor) (any, bool) {
	switch d.Name {
	case "count":
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.payloads), true
	case "getStatus":
		return true, true
	case "wrongType":
		return "not-an-int", true
	case "explode":
		panic("attribute failure")
	}
	return nil, false
}

func (c *collector) received() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.payloads...)
}

func startCollector(t *testing.T, c *Context, id string) (*collector, Reference) {
	t.Helper()
	h := &collector{}
	_, err := c.Register(id, h)
	require.NoError(t, err)
	require.NoError(t, c.Initialize(id, nil))
	require.NoError(t, c.Start(context.Background()))
	ref, err := c.GetReference(id)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return h, ref
}

func TestContextRegisterDuplicate(t *testing.T) {
	c := newTestContext()

	_, err := c.Register("motor", &collector{})
	require.NoError(t, err)

	_, err = c.Register("motor", &collector{})
	assert.ErrorIs(t, err, ErrDuplicateUnit)

	_, err = c.Register("", &collector{})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = c.Register("self", &collector{}, DependsOn("self"))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestContextGetReference(t *testing.T) {
	c := newTestContext()
	_, err := c.Register("sensor", &collector{})
	require.NoError(t, err)

	first, err := c.GetReference("sensor")
	require.NoError(t, err)
	second, err := c.GetReference("sensor")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "sensor", first.ID())

	_, err = c.GetReference("missing")
	var unknown *UnknownTargetError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "missing", unknown.ID)
	assert.ErrorIs(t, err, ErrUnknownTarget)

	_, err = c.GetUnit("missing")
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestZeroReference(t *testing.T) {
	var ref Reference
	assert.ErrorIs(t, ref.Send("x"), ErrUnknownTarget)
	_, _, err := ref.Query(NewAttribute[int]("count"))
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestReferenceSendDeliversInOrder(t *testing.T) {
	c := newTestContext()
	h, ref := startCollector(t, c, "recorder")

	for i := 0; i < 100; i++ {
		require.NoError(t, ref.Send(i))
	}

	require.Eventually(t, func() bool { return len(h.received()) == 100 }, time.Second, time.Millisecond)
	for i, p := range h.received() {
		assert.Equal(t, i, p)
	}
}

func TestHandlerFailuresDoNotStopConsumer(t *testing.T) {
	m := metric.NewMetrics()
	c := newTestContext(WithMetrics(m))
	h, ref := startCollector(t, c, "fragile")

	require.NoError(t, ref.Send(errors.New("bad input")))
	require.NoError(t, ref.Send("panic"))
	require.NoError(t, ref.Send("after"))

	require.Eventually(t, func() bool { return len(h.received()) == 3 }, time.Second, time.Millisecond)

	u, err := c.GetUnit("fragile")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return u.Stats().Delivered == 3 }, time.Second, time.Millisecond)

	assert.Equal(t, StateStarted, u.State())
	assert.Equal(t, uint64(2), u.Stats().Failures)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HandlerFailures.WithLabelValues("fragile", metric.FailureError)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HandlerFailures.WithLabelValues("fragile", metric.FailurePanic)))
}

func TestReferenceQuery(t *testing.T) {
	c := newTestContext()
	_, ref := startCollector(t, c, "sonic")

	status, err := QueryAs[bool](ref, "getStatus")
	require.NoError(t, err)
	assert.True(t, status)

	_, found, err := ref.Query(NewAttribute[int]("wrongType"))
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = ref.Query(NewAttribute[int]("explode"))
	require.NoError(t, err)
	assert.False(t, found)

	_, err = QueryAs[string](ref, "unknown")
	assert.ErrorIs(t, err, ErrUnsupportedAttribute)

	// Units without AttributeQueryable report everything as not found.
	_, err = c.Register("plain", HandlerFunc(func(context.Context, any) error { return nil }))
	require.NoError(t, err)
	plain, err := c.GetReference("plain")
	require.NoError(t, err)
	_, found, err = plain.Query(NewAttribute[bool]("getStatus"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReferenceTrySend(t *testing.T) {
	m := metric.NewMetrics()
	c := newTestContext(WithMetrics(m))

	h := &collector{gate: make(chan struct{})}
	u, err := c.Register("telemetry", h)
	require.NoError(t, err)
	require.NoError(t, u.Initialize(nil))
	ref, err := c.GetReference("telemetry")
	require.NoError(t, err)

	ok, err := ref.TrySend("before-start", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, u.Start(context.Background()))
	defer func() { _ = u.Shutdown(context.Background()) }()

	require.Eventually(t, u.bus.HasWaitingConsumer, time.Second, time.Millisecond)
	ok, err = ref.TrySend("first", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// The consumer is now blocked in the handler, so nobody is waiting.
	require.Eventually(t, func() bool { return !u.bus.HasWaitingConsumer() }, time.Second, time.Millisecond)
	ok, err = ref.TrySend("second", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	close(h.gate)
	require.Eventually(t, func() bool { return len(h.received()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesDropped.WithLabelValues("telemetry", metric.DropNoConsumer)))
}

func TestDeliveryPolicyBuffer(t *testing.T) {
	c := newTestContext(WithDeliveryPolicy(DeliveryBuffer))
	h := &collector{}
	u, err := c.Register("late", h)
	require.NoError(t, err)
	ref, err := c.GetReference("late")
	require.NoError(t, err)

	require.NoError(t, ref.Send("queued-1"))
	require.NoError(t, u.Initialize(nil))
	require.NoError(t, ref.Send("queued-2"))
	assert.Equal(t, 2, u.Stats().Queued)

	require.NoError(t, u.Start(context.Background()))
	require.Eventually(t, func() bool { return len(h.received()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []any{"queued-1", "queued-2"}, h.received())

	// Messages sent while stopped are held for the next run.
	require.NoError(t, u.Shutdown(context.Background()))
	require.NoError(t, ref.Send("while-stopped"))
	require.NoError(t, u.Start(context.Background()))
	require.Eventually(t, func() bool { return len(h.received()) == 3 }, time.Second, time.Millisecond)
	require.NoError(t, u.Shutdown(context.Background()))
}

func TestDeliveryPolicyDropCountsShutdown(t *testing.T) {
	m := metric.NewMetrics()
	c := newTestContext(WithMetrics(m))

	h := &collector{gate: make(chan struct{})}
	u, err := c.Register("busy", h)
	require.NoError(t, err)
	require.NoError(t, u.Initialize(nil))
	require.NoError(t, u.Start(context.Background()))
	ref, err := c.GetReference("busy")
	require.NoError(t, err)

	// First message blocks the handler; the rest queue up behind it.
	for i := 0; i < 5; i++ {
		require.NoError(t, ref.Send(i))
	}
	require.Eventually(t, func() bool { return u.Stats().Queued == 4 }, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- u.Shutdown(context.Background()) }()
	require.Eventually(t, func() bool { return u.State() == StateStopping }, time.Second, time.Millisecond)
	close(h.gate)
	require.NoError(t, <-done)

	assert.Equal(t, []any{0}, h.received())
	assert.Equal(t, 0, u.Stats().Queued)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.MessagesDropped.WithLabelValues("busy", metric.DropShutdown)))

	// Sends to a stopped unit are dropped.
	require.NoError(t, ref.Send("late"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesDropped.WithLabelValues("busy", metric.DropNotStarted)))
}

// orderRecorder appends its id to a shared log when started and stopped.
type orderRecorder struct {
	id  string
	log *[]string
	mu  *sync.Mutex
}

func (p orderRecorder) OnMessage(context.Context, any) error { return nil }

func (p orderRecorder) OnStart(context.Context) error {
	p.mu.Lock()
	*p.log = append(*p.log, "start:"+p.id)
	p.mu.Unlock()
	return nil
}

func (p orderRecorder) OnStop(context.Context) error {
	p.mu.Lock()
	*p.log = append(*p.log, "stop:"+p.id)
	p.mu.Unlock()
	return nil
}

func TestContextStartAndShutdownOrder(t *testing.T) {
	c := newTestContext()
	var log []string
	var mu sync.Mutex

	register := func(id string, deps ...string) {
		_, err := c.Register(id, orderRecorder{id: id, log: &log, mu: &mu}, DependsOn(deps...))
		require.NoError(t, err)
		require.NoError(t, c.Initialize(id, nil))
	}
	register("controller", "sensor", "motor")
	register("ingress", "controller")
	register("motor")
	register("sensor")

	order, err := c.StartOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"motor", "sensor", "controller", "ingress"}, order)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Shutdown(ctx))
	require.NoError(t, c.Shutdown(ctx))

	assert.Equal(t, []string{
		"start:motor", "start:sensor", "start:controller", "start:ingress",
		"stop:ingress", "stop:controller", "stop:sensor", "stop:motor",
	}, log)
}

func TestContextStartOrderErrors(t *testing.T) {
	c := newTestContext()
	_, err := c.Register("a", &collector{}, DependsOn("b"))
	require.NoError(t, err)
	_, err = c.Register("b", &collector{}, DependsOn("a"))
	require.NoError(t, err)

	_, err = c.StartOrder()
	assert.ErrorIs(t, err, ErrDependencyCycle)
	assert.Error(t, c.Start(context.Background()))

	c2 := newTestContext()
	_, err = c2.Register("a", &collector{}, DependsOn("ghost"))
	require.NoError(t, err)
	_, err = c2.StartOrder()
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestContextRemove(t *testing.T) {
	c := newTestContext()
	_, ref := startCollector(t, c, "temp")

	require.NoError(t, c.Remove(context.Background(), "temp"))
	assert.ErrorIs(t, ref.Send("x"), ErrUnknownTarget)
	assert.Empty(t, c.Units())

	assert.ErrorIs(t, c.Remove(context.Background(), "temp"), ErrUnknownTarget)
}

func TestContextRecreate(t *testing.T) {
	c := newTestContext()
	u, err := c.Register("motor", &hookRecorder{startErr: errors.New("stall")})
	require.NoError(t, err)
	require.NoError(t, u.Initialize(Configuration{"speed": "5"}))
	ref, err := c.GetReference("motor")
	require.NoError(t, err)

	require.Error(t, c.Start(context.Background()))
	require.Equal(t, StateFailed, u.State())
	assert.ErrorIs(t, ref.Send("x"), ErrUnitFailed)

	_, err = c.Recreate(context.Background(), "motor", &collector{})
	require.NoError(t, err)

	replacement, err := c.GetUnit("motor")
	require.NoError(t, err)
	assert.Equal(t, StateInitialized, replacement.State())
	assert.Equal(t, "5", replacement.Configuration()["speed"])

	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Shutdown(context.Background()) }()
	require.NoError(t, ref.Send("hello"))

	h := replacement.Handler().(*collector)
	require.Eventually(t, func() bool { return len(h.received()) == 1 }, time.Second, time.Millisecond)

	_, err = c.Recreate(context.Background(), "motor", &collector{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestContextClose(t *testing.T) {
	c := newTestContext()
	_, ref := startCollector(t, c, "unit")

	require.NoError(t, c.Close(context.Background()))
	assert.ErrorIs(t, ref.Send("x"), ErrUnknownTarget)

	_, err := c.Register("another", &collector{})
	assert.ErrorIs(t, err, ErrContextClosed)
}

func TestReferenceDoesNotKeepContextAlive(t *testing.T) {
	ref := func() Reference {
		c := newTestContext()
		_, err := c.Register("orphan", &collector{})
		require.NoError(t, err)
		r, err := c.GetReference("orphan")
		require.NoError(t, err)
		return r
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return errors.Is(ref.Send("x"), ErrUnknownTarget)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestContextStats(t *testing.T) {
	c := newTestContext()
	h, ref := startCollector(t, c, "b")
	_, err := c.Register("a", &collector{})
	require.NoError(t, err)

	require.NoError(t, ref.Send(1))
	require.Eventually(t, func() bool { return len(h.received()) == 1 }, time.Second, time.Millisecond)

	stats := c.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "a", stats[0].ID)
	assert.Equal(t, StateUninitialized, stats[0].State)
	assert.Equal(t, "b", stats[1].ID)
	assert.Equal(t, StateStarted, stats[1].State)
	assert.False(t, stats[1].StartedAt.IsZero())
}

func TestUnitEnvResources(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/robot/batches.yaml", []byte("line1: move(30)"), 0o644))

	c := newTestContext(WithResources(NewResourceLoader(fs, "/robot")))
	var data []byte
	loader := initFunc(func(env UnitEnv, _ Configuration) error {
		var err error
		data, err = env.Resources.ReadFile("batches.yaml")
		return err
	})
	_, err := c.Register("commander", loader)
	require.NoError(t, err)
	require.NoError(t, c.Initialize("commander", nil))
	assert.Equal(t, "line1: move(30)", string(data))

	assert.True(t, c.Resources().Exists("batches.yaml"))
	assert.False(t, c.Resources().Exists("missing.yaml"))
}

type initFunc func(env UnitEnv, cfg Configuration) error

func (f initFunc) OnMessage(context.Context, any) error { return nil }

func (f initFunc) Initialize(env UnitEnv, cfg Configuration) error { return f(env, cfg) }

func TestConfigurationHelpers(t *testing.T) {
	cfg := Configuration{
		"port":      "9000",
		"rate":      "2.5",
		"enabled":   "true",
		"period":    "250ms",
		"blank":     "  ",
		"batch.one": "move(1)",
		"bad":       "x",
	}

	n, err := cfg.Int("port", 0)
	require.NoError(t, err)
	assert.Equal(t, 9000, n)

	f, err := cfg.Float("rate", 0)
	require.NoError(t, err)
	assert.Equal(t, 2.5, f)

	b, err := cfg.Bool("enabled", false)
	require.NoError(t, err)
	assert.True(t, b)

	d, err := cfg.Duration("period", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	def, err := cfg.Int("missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, def)

	_, err = cfg.Int("bad", 0)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = cfg.Require("blank")
	assert.ErrorIs(t, err, ErrConfiguration)

	assert.Equal(t, map[string]string{"one": "move(1)"}, cfg.WithPrefix("batch."))
	assert.Equal(t, "fallback", cfg.StringOr("missing", "fallback"))
}

func TestParseDeliveryPolicy(t *testing.T) {
	p, err := ParseDeliveryPolicy("Buffer")
	require.NoError(t, err)
	assert.Equal(t, DeliveryBuffer, p)

	p, err = ParseDeliveryPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DeliveryDrop, p)

	_, err = ParseDeliveryPolicy("queue")
	assert.ErrorIs(t, err, ErrConfiguration)
}

// slowStarter blocks in OnStart until release is closed.
type slowStarter struct {
	collector
	entered chan struct{}
	release chan struct{}
}

func (s *slowStarter) OnStart(context.Context) error {
	close(s.entered)
	<-s.release
	return nil
}

func TestSendWhileStartingIsDelivered(t *testing.T) {
	for _, policy := range []DeliveryPolicy{DeliveryDrop, DeliveryBuffer} {
		t.Run(policy.String(), func(t *testing.T) {
			m := metric.NewMetrics()
			c := newTestContext(WithMetrics(m), WithDeliveryPolicy(policy))

			h := &slowStarter{entered: make(chan struct{}), release: make(chan struct{})}
			u, err := c.Register("arm", h)
			require.NoError(t, err)
			require.NoError(t, u.Initialize(nil))
			ref, err := c.GetReference("arm")
			require.NoError(t, err)

			started := make(chan error, 1)
			go func() { started <- u.Start(context.Background()) }()
			<-h.entered
			require.Equal(t, StateStarting, u.State())

			require.NoError(t, ref.Send("during-starting"))
			close(h.release)
			require.NoError(t, <-started)
			t.Cleanup(func() { _ = u.Shutdown(context.Background()) })

			require.Eventually(t, func() bool { return len(h.received()) == 1 }, time.Second, time.Millisecond)
			assert.Equal(t, []any{"during-starting"}, h.received())
			assert.Equal(t, float64(0), testutil.ToFloat64(m.MessagesDropped.WithLabelValues("arm", metric.DropShutdown)))
			assert.Equal(t, float64(0), testutil.ToFloat64(m.MessagesDropped.WithLabelValues("arm", metric.DropNotStarted)))
		})
	}
}
