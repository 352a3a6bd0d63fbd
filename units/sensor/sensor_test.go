package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/robo/core"
	"github.com/najoast/robo/units/recorder"
)

func TestLookupPort(t *testing.T) {
	p, ok := LookupPort("S3")
	require.True(t, ok)
	assert.Equal(t, 2, p.Index)

	_, ok = LookupPort("S5")
	assert.False(t, ok)
}

func TestRandomWalkStaysInBounds(t *testing.T) {
	walk := randomWalk(10, 20)
	for range 1000 {
		d := walk()
		require.GreaterOrEqual(t, d, 10.0)
		require.LessOrEqual(t, d, 20.0)
	}
}

func TestSonicConfiguration(t *testing.T) {
	tests := []struct {
		name  string
		props core.Configuration
		ok    bool
	}{
		{"valid", core.Configuration{"port": "S1"}, true},
		{"unknown port", core.Configuration{"port": "S9"}, false},
		{"bad period", core.Configuration{"port": "S1", "period": "soon"}, false},
		{"negative period", core.Configuration{"port": "S1", "period": "-1s"}, false},
		{"inverted range", core.Configuration{"port": "S1", "min_distance": "50", "max_distance": "10"}, false},
		{"unknown target", core.Configuration{"port": "S1", "target": "ghost"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := core.UnitEnv{ID: "sonic", Context: core.NewContext()}
			err := New().Initialize(env, tt.props)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSonicAttributesWithoutTarget(t *testing.T) {
	s := New()
	require.NoError(t, s.Initialize(core.UnitEnv{}, core.Configuration{"port": "S3", "period": "0s"}))
	s.Source = func() float64 { return 42.5 }

	status, ok := s.GetAttribute(core.NewAttribute[bool]("getStatus"))
	require.True(t, ok)
	assert.Equal(t, false, status)

	require.NoError(t, s.OnStart(context.Background()))
	require.NoError(t, s.OnMessage(context.Background(), "sample"))

	status, _ = s.GetAttribute(core.NewAttribute[bool]("getStatus"))
	assert.Equal(t, true, status)
	distance, _ := s.GetAttribute(core.NewAttribute[float64]("distance"))
	assert.Equal(t, 42.5, distance)

	require.NoError(t, s.OnStop(context.Background()))
}

func TestSonicEmitsReadings(t *testing.T) {
	ctx := core.NewContext(core.WithWaitGranularity(10 * time.Millisecond))
	t.Cleanup(func() { ctx.Close(context.Background()) })

	rec := recorder.New()
	_, err := ctx.Register("sink", rec)
	require.NoError(t, err)
	require.NoError(t, ctx.Initialize("sink", nil))

	sonic := New()
	sonic.Source = func() float64 { return 17 }
	_, err = ctx.Register("sonic", sonic, core.DependsOn("sink"))
	require.NoError(t, err)
	require.NoError(t, ctx.Initialize("sonic", map[string]string{
		"port":   "S3",
		"target": "sink",
		"period": "5ms",
	}))
	require.NoError(t, ctx.Start(context.Background()))

	require.Eventually(t, func() bool { return rec.Count() >= 3 }, 2*time.Second, 5*time.Millisecond)

	reading, ok := rec.Payloads()[0].(Reading)
	require.True(t, ok)
	assert.Equal(t, "S3", reading.Port)
	assert.Equal(t, 17.0, reading.Distance)

	ref, err := ctx.GetReference("sonic")
	require.NoError(t, err)
	status, err := core.QueryAs[bool](ref, "getStatus")
	require.NoError(t, err)
	assert.True(t, status)
}

func TestSonicDropsWhenTargetBusy(t *testing.T) {
	ctx := core.NewContext(core.WithWaitGranularity(10 * time.Millisecond))
	t.Cleanup(func() { ctx.Close(context.Background()) })

	// The sink is registered but never started, so every TrySend is refused.
	_, err := ctx.Register("sink", recorder.New())
	require.NoError(t, err)

	sonic := New()
	_, err = ctx.Register("sonic", sonic)
	require.NoError(t, err)
	require.NoError(t, ctx.Initialize("sonic", map[string]string{"port": "S1", "target": "sink", "period": "0s"}))

	for range 3 {
		sonic.OnMessage(context.Background(), nil)
	}

	dropped, ok := sonic.GetAttribute(core.NewAttribute[int64]("dropped"))
	require.True(t, ok)
	assert.Equal(t, int64(3), dropped)
}
