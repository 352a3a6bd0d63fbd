package ingress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/robo/core"
	"github.com/najoast/robo/network"
	"github.com/najoast/robo/units/recorder"
)

func startIngress(t *testing.T, props map[string]string) (*core.Context, *recorder.Recorder, core.Reference) {
	t.Helper()

	ctx := core.NewContext(core.WithWaitGranularity(20 * time.Millisecond))
	t.Cleanup(func() { ctx.Close(context.Background()) })

	rec := recorder.New()
	_, err := ctx.Register("sink", rec)
	require.NoError(t, err)
	require.NoError(t, ctx.Initialize("sink", map[string]string{"capacity": "100"}))

	_, err = ctx.Register("ingress", New(), core.DependsOn("sink"))
	require.NoError(t, err)
	require.NoError(t, ctx.Initialize("ingress", props))
	require.NoError(t, ctx.Start(context.Background()))

	ref, err := ctx.GetReference("ingress")
	require.NoError(t, err)
	return ctx, rec, ref
}

func dial(t *testing.T, ref core.Reference) *network.Client {
	t.Helper()

	addr, err := core.QueryAs[string](ref, "address")
	require.NoError(t, err)
	require.NotEmpty(t, addr)

	client, err := network.Dial(context.Background(), addr)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIngressForwardsFrames(t *testing.T) {
	_, rec, ref := startIngress(t, map[string]string{"target": "sink"})
	client := dial(t, ref)

	for _, payload := range []string{"move(30)", "back(30)"} {
		_, err := client.Send(0, []byte(payload))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return rec.Count() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{"move(30)", "back(30)"}, rec.Payloads())

	frames, err := core.QueryAs[int64](ref, "frames")
	require.NoError(t, err)
	assert.Equal(t, int64(2), frames)

	connections, err := core.QueryAs[int](ref, "connections")
	require.NoError(t, err)
	assert.Equal(t, 1, connections)
}

func TestIngressRateLimit(t *testing.T) {
	_, rec, ref := startIngress(t, map[string]string{"target": "sink", "rate": "0.001", "burst": "1"})
	client := dial(t, ref)

	_, err := client.Send(0, []byte("first"))
	require.NoError(t, err)
	seq, err := client.Send(0, []byte("second"))
	require.NoError(t, err)

	reply, err := client.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, network.FrameTypeError, reply.Type)
	assert.Equal(t, seq, reply.Sequence)
	assert.Equal(t, ErrRateLimited.Error(), string(reply.Payload))

	require.Eventually(t, func() bool { return rec.Count() == 1 }, 2*time.Second, 5*time.Millisecond)
	rejected, err := core.QueryAs[int64](ref, "rejected")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rejected)
}

func TestIngressStopReleasesListener(t *testing.T) {
	ctx, _, ref := startIngress(t, map[string]string{"target": "sink"})

	require.NoError(t, ctx.Shutdown(context.Background()))

	addr, err := core.QueryAs[string](ref, "address")
	require.NoError(t, err)
	assert.Empty(t, addr)
}

func TestIngressConfiguration(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]string
	}{
		{"bad port", map[string]string{"target": "sink", "port": "99999"}},
		{"bad rate", map[string]string{"target": "sink", "rate": "-1"}},
		{"bad burst", map[string]string{"target": "sink", "burst": "0"}},
		{"unknown target", map[string]string{"target": "ghost"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := core.NewContext()
			t.Cleanup(func() { ctx.Close(context.Background()) })
			_, err := ctx.Register("sink", recorder.New())
			require.NoError(t, err)
			_, err = ctx.Register("ingress", New())
			require.NoError(t, err)

			assert.Error(t, ctx.Initialize("ingress", tt.props))
		})
	}
}
