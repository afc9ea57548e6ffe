package render

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func releasesInOrder(g *fakeGPU) []string {
	var out []string
	for _, c := range g.calls {
		name := strings.TrimPrefix(c, "release ")
		if name == c || strings.HasPrefix(name, "submit") || strings.HasPrefix(name, "acquire") {
			continue
		}
		if strings.HasPrefix(name, "framebuffer") {
			name = "framebuffer"
		}
		if len(out) > 0 && out[len(out)-1] == name {
			continue
		}
		out = append(out, name)
	}
	return out
}

func TestSessionRunsUntilCloseRequested(t *testing.T) {
	g := newFakeGPU()
	g.events = func(n int) []Event {
		if n == 3 {
			return []Event{CloseRequestedEvent()}
		}
		return nil
	}
	core, logs := observer.New(zap.InfoLevel)
	metrics := NewMetrics(prometheus.NewRegistry())

	s := NewSession(DefaultSessionConfig(), g.backend(), WithLogger(zap.New(core)), WithMetrics(metrics))
	require.NoError(t, s.Run(context.Background()))
	require.NoError(t, s.Wait())

	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed")
	}

	require.Equal(t, 3, g.presents)
	require.Contains(t, g.calls, "create vertex buffer 3")
	require.Contains(t, g.calls, "create render pass 44")
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.FramesPresented.WithLabelValues(s.ID().String())))

	// Teardown happens after the GPU is idle, in reverse creation order,
	// once per resource.
	idle := -1
	for i, c := range g.calls {
		if c == "wait idle" {
			idle = i
		}
	}
	require.Less(t, idle, g.index("release framebuffer"))
	require.Equal(t, []string{
		"framebuffer",
		"vertex buffer",
		"pipeline",
		"render pass",
		"swapchain1",
		"device",
		"surface",
		"driver",
		"platform",
	}, releasesInOrder(g))
	for name, n := range g.releases {
		assert.Equal(t, 1, n, name)
	}

	for _, entry := range logs.All() {
		require.Equal(t, s.ID().String(), entry.ContextMap()["session_id"], entry.Message)
	}
	require.Equal(t, 1, logs.FilterMessage("session closed").Len())
}

func TestSessionDeviceUnavailable(t *testing.T) {
	g := newFakeGPU()
	g.adapters[0].Families[0].Present = false

	s := NewSession(DefaultSessionConfig(), g.backend())
	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	require.ErrorIs(t, s.Wait(), ErrDeviceUnavailable)
	require.NotErrorIs(t, err, ErrFatal)

	require.Equal(t, []string{"surface", "driver", "platform"}, releasesInOrder(g))
	require.Zero(t, g.acquires)
}

func TestSessionBackendFailureIsFatal(t *testing.T) {
	backend := func(SessionConfig) (Platform, Driver, error) {
		return nil, nil, errors.New("no display")
	}
	err := NewSession(DefaultSessionConfig(), backend).Run(context.Background())
	require.ErrorIs(t, err, ErrFatal)
	require.ErrorContains(t, err, "no display")
}

func TestSessionFatalFrameError(t *testing.T) {
	g := newFakeGPU()
	g.acquireErr = func(n int) error {
		if n == 2 {
			return errors.New("device lost")
		}
		return nil
	}
	err := NewSession(DefaultSessionConfig(), g.backend()).Run(context.Background())
	require.ErrorIs(t, err, ErrFatal)
	require.Equal(t, "platform", releasesInOrder(g)[len(releasesInOrder(g))-1])
}

func TestSessionDefersSwapchainForMinimizedWindow(t *testing.T) {
	g := newFakeGPU()
	g.size = Extent{}
	g.caps.MinExtent = Extent{}
	g.events = func(n int) []Event {
		switch n {
		case 1:
			return []Event{ResizeEvent(320, 240)}
		case 3:
			return []Event{CloseRequestedEvent()}
		}
		return nil
	}

	s := NewSession(DefaultSessionConfig(), g.backend())
	s.cfg.Vertices = []Vertex{{0, 0}, {1, 0}, {0, 1}, {1, 1}}
	require.NoError(t, s.Run(context.Background()))
	require.Contains(t, g.calls, "create render pass 44")
	require.Contains(t, g.calls, "create vertex buffer 4")
	require.Contains(t, g.calls, "create swapchain1 320x240 old=none")
	require.Equal(t, 2, g.presents)
}

func TestSessionCloseAndContext(t *testing.T) {
	g := newFakeGPU()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := Start(ctx, DefaultSessionConfig(), g.backend())
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop after cancel")
	}
	require.NoError(t, s.Wait())
	s.Close()

	require.Error(t, s.Run(context.Background()))
}

func TestSessionsAreIndependent(t *testing.T) {
	a := NewSession(DefaultSessionConfig(), newFakeGPU().backend())
	b := NewSession(DefaultSessionConfig(), newFakeGPU().backend())
	require.NotEqual(t, a.ID(), b.ID())

	a.Close()
	require.True(t, a.terminate.Load())
	require.False(t, b.terminate.Load())
}
