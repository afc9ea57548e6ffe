package render

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type loopFixture struct {
	g         *fakeGPU
	device    *DeviceContext
	swapchain *SwapchainManager
	loop      *FrameLoop
	metrics   *Metrics
	terminate *atomic.Bool
	slept     []time.Duration
}

func newLoopFixture(t *testing.T, g *fakeGPU) *loopFixture {
	t.Helper()
	surface := &fakeResource{g: g, name: "surface"}
	device, err := NewDeviceContext(g.driver(), surface, nil)
	require.NoError(t, err)

	swapchain := NewSwapchainManager(device.Device(), surface, PresentModeFifo, nil)
	require.NoError(t, swapchain.Create(g.size))

	f := &loopFixture{
		g:         g,
		device:    device,
		swapchain: swapchain,
		metrics:   NewMetrics(prometheus.NewRegistry()),
		terminate: atomic.NewBool(false),
	}
	f.loop = NewFrameLoop(FrameLoopConfig{
		Device:    device,
		Swapchain: swapchain,
		Draw: &DrawPipeline{
			Format:      formatA,
			Pass:        &fakeResource{g: g, name: "render pass"},
			Pipeline:    &fakeResource{g: g, name: "pipeline"},
			Vertices:    &fakeResource{g: g, name: "vertex buffer"},
			VertexCount: uint32(len(DefaultVertices)),
		},
		Platform:  &fakePlatform{g: g},
		Terminate: f.terminate,
		Metrics:   f.metrics,
		SessionID: "test",
	})
	f.loop.sleep = func(d time.Duration) { f.slept = append(f.slept, d) }
	return f
}

func (f *loopFixture) steps(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.loop.Step(), "step %d", i+1)
	}
}

func (f *loopFixture) counter(c *prometheus.CounterVec) float64 {
	return testutil.ToFloat64(c.WithLabelValues("test"))
}

func TestFrameLoopSteadyState(t *testing.T) {
	f := newLoopFixture(t, newFakeGPU())
	g := f.g
	f.steps(t, 5)

	require.Equal(t, 5, g.submits)
	require.Equal(t, 5, g.presents)
	require.Equal(t, uint64(5), f.loop.Frames())

	// Each submission waits on exactly the previous frame and its own image.
	require.Equal(t, []Future{g.acquired[0]}, Flatten(g.submitWaits[0]))
	for k := 1; k < 5; k++ {
		require.Equal(t, []Future{g.submitted[k-1], g.acquired[k]}, Flatten(g.submitWaits[k]), "submit %d", k+1)
		require.Equal(t, []Future{g.submitted[k]}, Flatten(g.presentWait[k]), "present %d", k+1)
	}

	// At most one frame is outstanding when the next one is submitted.
	for k := 3; k <= 5; k++ {
		waited := g.index(fmt.Sprintf("wait submit%d", k-2))
		submitted := g.index(fmt.Sprintf("submit%d ", k))
		require.NotEqual(t, -1, waited)
		require.Less(t, waited, submitted)
	}
	for _, s := range g.submitted[:4] {
		assert.Equal(t, 1, s.releases, s.name)
	}
	assert.Zero(t, g.submitted[4].releases)

	require.Contains(t, g.calls,
		"submit1 pipeline,vertices,viewport 800x600,begin framebuffer swapchain1/image0 800x600 800x600,draw 3,end")
	require.Contains(t, g.calls, "present2 swapchain1 image 1")

	assert.Equal(t, float64(5), f.counter(f.metrics.FramesPresented))
	assert.Zero(t, f.counter(f.metrics.FramesDropped))
	assert.Equal(t, 1, testutil.CollectAndCount(f.metrics.FrameDuration))
}

func TestFrameLoopAcquireOutOfDateRecreatesBeforeNextAcquire(t *testing.T) {
	g := newFakeGPU()
	g.acquireErr = func(n int) error {
		if n == 3 {
			return ErrOutOfDate
		}
		return nil
	}
	f := newLoopFixture(t, g)

	f.steps(t, 3)
	require.True(t, f.loop.RecreatePending())
	require.Equal(t, 2, g.submits)
	require.Equal(t, 2, g.presents)

	f.steps(t, 1)
	require.False(t, f.loop.RecreatePending())

	drained := g.index("wait submit2")
	released := g.index("release framebuffer swapchain1/image0")
	created := g.index("create swapchain2")
	acquired := g.index("acquire4")
	require.NotEqual(t, -1, drained)
	require.Less(t, drained, released)
	require.Less(t, released, created)
	require.Less(t, created, acquired)

	require.Equal(t, 3, g.presents)
	require.Contains(t, g.calls, "present3 swapchain2 image 0")
	require.Equal(t, uint64(2), f.loop.Framebuffers().Generation())
	assert.Equal(t, float64(1), f.counter(f.metrics.SwapchainRecreations))
}

func TestFrameLoopPresentOutOfDateKeepsFrame(t *testing.T) {
	g := newFakeGPU()
	g.presentErr = func(n int) error {
		if n == 1 {
			return ErrOutOfDate
		}
		return nil
	}
	f := newLoopFixture(t, g)

	f.steps(t, 1)
	require.True(t, f.loop.RecreatePending())
	require.Same(t, g.submitted[0], Flatten(f.loop.Tracker().Previous())[0])

	f.steps(t, 1)
	require.Less(t, g.index("wait submit1"), g.index("create swapchain2"))
	assert.Zero(t, f.counter(f.metrics.FramesDropped))
}

func TestFrameLoopPresentFailureResetsTracker(t *testing.T) {
	g := newFakeGPU()
	g.presentErr = func(n int) error {
		if n == 2 {
			return errors.New("surface lost")
		}
		return nil
	}
	f := newLoopFixture(t, g)

	f.steps(t, 2)
	done, err := f.loop.Tracker().Previous().Poll()
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, 1, g.submitted[1].releases)
	require.Equal(t, 1, g.acquired[1].releases)
	require.False(t, f.loop.RecreatePending())

	f.steps(t, 1)
	require.Equal(t, []Future{g.acquired[2]}, Flatten(g.submitWaits[2]))

	assert.Equal(t, float64(1), f.counter(f.metrics.FramesDropped))
	assert.Equal(t, float64(2), f.counter(f.metrics.FramesPresented))
}

func TestFrameLoopSubmitFailure(t *testing.T) {
	g := newFakeGPU()
	g.submitErr = func(n int) error {
		switch n {
		case 2:
			return errors.New("queue busy")
		case 4:
			return fmt.Errorf("%w: device lost", ErrFatal)
		}
		return nil
	}
	f := newLoopFixture(t, g)

	f.steps(t, 2)
	require.Equal(t, 1, g.acquired[1].releases)
	require.Equal(t, 1, g.presents)
	done, _ := f.loop.Tracker().Previous().Poll()
	require.True(t, done)
	assert.Equal(t, float64(1), f.counter(f.metrics.FramesDropped))

	f.steps(t, 1)
	err := f.loop.Step()
	require.ErrorIs(t, err, ErrFatal)
	require.Equal(t, 1, g.acquired[3].releases)
}

func TestFrameLoopResizeRebuildsFramebuffers(t *testing.T) {
	g := newFakeGPU()
	g.events = func(n int) []Event {
		if n == 2 {
			return []Event{ResizeEvent(1024, 768)}
		}
		return nil
	}
	f := newLoopFixture(t, g)

	f.steps(t, 1)
	before := f.loop.Framebuffers().ID()

	f.steps(t, 1)
	require.True(t, f.loop.RecreatePending())
	require.Equal(t, ViewportState{Width: 1024, Height: 768}, f.loop.Viewport())

	f.steps(t, 1)
	fbs := f.loop.Framebuffers()
	require.NotEqual(t, before, fbs.ID())
	require.Equal(t, Extent{Width: 1024, Height: 768}, fbs.Extent())
	require.Equal(t, Extent{Width: 1024, Height: 768}, f.swapchain.State().Extent)
	require.Contains(t, g.calls,
		"submit3 pipeline,vertices,viewport 1024x768,begin framebuffer swapchain2/image0 1024x768 1024x768,draw 3,end")
}

func TestFrameLoopResizeSequence(t *testing.T) {
	sizes := []Extent{
		{Width: 640, Height: 480},
		{Width: 1024, Height: 768},
		{Width: 300, Height: 200},
		{Width: 1280, Height: 720},
		{Width: 800, Height: 600},
		{Width: 1000, Height: 900},
	}
	g := newFakeGPU()
	g.events = func(n int) []Event {
		if n <= len(sizes) {
			return []Event{ResizeEvent(sizes[n-1].Width, sizes[n-1].Height)}
		}
		return nil
	}
	var f *loopFixture
	var mismatches []string
	g.submitErr = func(n int) error {
		fbs, state := f.loop.Framebuffers(), f.swapchain.State()
		if fbs.Generation() != state.Generation {
			mismatches = append(mismatches, fmt.Sprintf("submit%d: framebuffers %d, swapchain %d", n, fbs.Generation(), state.Generation))
		}
		return nil
	}
	f = newLoopFixture(t, g)

	f.steps(t, 1)
	seen := map[uint64]bool{f.loop.Framebuffers().ID(): true}

	// Every step consumes the previous resize and queues the next one.
	for idx, size := range sizes {
		t.Run(fmt.Sprintf("%d/%dx%d", idx, size.Width, size.Height), func(t *testing.T) {
			f.steps(t, 1)
			fbs := f.loop.Framebuffers()
			assert.Equal(t, size, fbs.Extent())
			assert.Equal(t, size, f.swapchain.State().Extent)
			assert.Equal(t, f.swapchain.State().Generation, fbs.Generation())
			assert.False(t, seen[fbs.ID()], "framebuffer set %d reused", fbs.ID())
			seen[fbs.ID()] = true
		})
	}

	assert.Empty(t, mismatches)
	assert.Len(t, seen, len(sizes)+1)
	assert.Equal(t, len(sizes)+1, g.presents)
	assert.Equal(t, float64(len(sizes)), f.counter(f.metrics.SwapchainRecreations))
}

func TestFrameLoopViewportFollowsChosenExtent(t *testing.T) {
	g := newFakeGPU()
	g.caps.MaxExtent = Extent{Width: 1000, Height: 1000}
	g.events = func(n int) []Event {
		if n == 1 {
			return []Event{ResizeEvent(1920, 1080)}
		}
		return nil
	}
	f := newLoopFixture(t, g)

	f.steps(t, 2)
	require.Equal(t, ViewportState{Width: 1000, Height: 1000}, f.loop.Viewport())
}

func TestFrameLoopWaitsOutUnsupportedDimensions(t *testing.T) {
	g := newFakeGPU()
	g.caps.MinExtent = Extent{}
	g.events = func(n int) []Event {
		switch n {
		case 1:
			return []Event{ResizeEvent(0, 0)}
		case 3:
			return []Event{ResizeEvent(640, 480)}
		}
		return nil
	}
	f := newLoopFixture(t, g)

	f.steps(t, 3)
	require.Len(t, f.slept, 2)
	for _, d := range f.slept {
		require.Greater(t, d, time.Duration(0))
	}
	require.Equal(t, SwapchainInvalidated, f.swapchain.Status())
	require.Nil(t, f.loop.Framebuffers())
	require.Equal(t, 1, g.presents)

	f.steps(t, 1)
	require.Equal(t, SwapchainValid, f.swapchain.Status())
	require.Equal(t, Extent{Width: 640, Height: 480}, f.swapchain.State().Extent)
	require.Equal(t, 2, g.presents)
}

func TestFrameLoopAcquireTimeout(t *testing.T) {
	g := newFakeGPU()
	g.acquireErr = func(n int) error {
		if n == 1 {
			return ErrTimeout
		}
		return nil
	}
	f := newLoopFixture(t, g)

	f.steps(t, 1)
	require.Zero(t, g.submits)
	require.Equal(t, 1, g.polls)

	f.steps(t, 1)
	require.Equal(t, 1, g.presents)
	assert.Equal(t, float64(1), f.counter(f.metrics.AcquireTimeouts))
}

func TestFrameLoopCloseRequestRetiresFrame(t *testing.T) {
	g := newFakeGPU()
	g.events = func(n int) []Event {
		if n == 2 {
			return []Event{CloseRequestedEvent()}
		}
		return nil
	}
	f := newLoopFixture(t, g)

	require.NoError(t, f.loop.Run())
	require.True(t, f.terminate.Load())
	require.Equal(t, 2, g.presents)
	require.Equal(t, 2, g.acquires)

	for _, fut := range append(g.submitted, g.acquired...) {
		assert.Equal(t, 1, fut.releases, fut.name)
	}
	require.Contains(t, g.calls, "wait submit2")
}

func TestFrameLoopRunStopsOnFatal(t *testing.T) {
	g := newFakeGPU()
	g.acquireErr = func(n int) error {
		if n == 3 {
			return errors.New("device lost")
		}
		return nil
	}
	f := newLoopFixture(t, g)

	err := f.loop.Run()
	require.ErrorIs(t, err, ErrFatal)
	require.Equal(t, 1, g.submitted[1].releases)
}

func TestFrameLoopFormatChangeIsFatal(t *testing.T) {
	g := newFakeGPU()
	f := newLoopFixture(t, g)
	f.steps(t, 1)

	g.caps.Formats = []SurfaceFormat{{Format: formatB}}
	g.events = func(int) []Event { return []Event{ResizeEvent(300, 300)} }
	f.steps(t, 1)

	err := f.loop.Step()
	require.ErrorIs(t, err, ErrFatal)
}

func TestFrameLoopDeferredSwapchain(t *testing.T) {
	g := newFakeGPU()
	surface := &fakeResource{g: g, name: "surface"}
	device, err := NewDeviceContext(g.driver(), surface, nil)
	require.NoError(t, err)
	swapchain := NewSwapchainManager(device.Device(), surface, PresentModeFifo, nil)

	loop := NewFrameLoop(FrameLoopConfig{
		Device:    device,
		Swapchain: swapchain,
		Draw:      &DrawPipeline{Format: formatA, VertexCount: 3},
		Platform:  &fakePlatform{g: g},
	})
	require.True(t, loop.RecreatePending())
	require.NoError(t, loop.Step())
	require.Equal(t, uint64(1), swapchain.State().Generation)
	require.Equal(t, 1, g.presents)
}
