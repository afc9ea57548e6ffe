package render

import (
	"fmt"
	"strings"
	"time"
)

const (
	formatA Format = 44
	formatB Format = 50
)

// fakeGPU is a scripted driver, device and window in one. Every call that
// matters for ordering is appended to calls.
type fakeGPU struct {
	calls []string

	adapters    []Adapter
	adaptersErr error
	openErr     error
	caps        SurfaceCapabilities
	size        Extent

	// Hooks receive the 1-based count of the call they gate.
	swapchainErr func(n int) error
	acquireErr   func(n int) error
	submitErr    func(n int) error
	presentErr   func(n int) error
	events       func(n int) []Event

	swapchains int
	acquires   int
	submits    int
	presents   int
	polls      int

	// acquired and submitted keep every future handed out, in order.
	acquired    []*fakeFuture
	submitted   []*fakeFuture
	submitWaits []Future
	presentWait []Future
	releases    map[string]int
}

func newFakeGPU() *fakeGPU {
	return &fakeGPU{
		adapters: []Adapter{{
			ID:       1,
			Name:     "fake",
			Kind:     "discrete",
			Families: []QueueFamily{{Index: 0, Graphics: true, Present: true}},
		}},
		caps: SurfaceCapabilities{
			MinImageCount:  2,
			MaxImageCount:  3,
			MinExtent:      Extent{Width: 1, Height: 1},
			MaxExtent:      Extent{Width: 4096, Height: 4096},
			Formats:        []SurfaceFormat{{Format: formatA}, {Format: formatB}},
			PresentModes:   []PresentMode{PresentModeFifo, PresentModeMailbox},
			CompositeAlpha: []CompositeAlpha{CompositeAlphaOpaque},
		},
		size:     Extent{Width: 800, Height: 600},
		releases: map[string]int{},
	}
}

func (g *fakeGPU) record(format string, args ...interface{}) {
	g.calls = append(g.calls, fmt.Sprintf(format, args...))
}

func (g *fakeGPU) released(name string) {
	g.releases[name]++
	g.record("release %s", name)
}

// index returns the position of the first call with the given prefix, or
// -1.
func (g *fakeGPU) index(prefix string) int {
	for i, c := range g.calls {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

func (g *fakeGPU) count(prefix string) int {
	n := 0
	for _, c := range g.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (g *fakeGPU) backend() Backend {
	return func(SessionConfig) (Platform, Driver, error) {
		g.record("open backend")
		return &fakePlatform{g: g}, &fakeDriver{g: g}, nil
	}
}

func (g *fakeGPU) driver() *fakeDriver { return &fakeDriver{g: g} }

type fakeResource struct {
	g    *fakeGPU
	name string
}

func (r *fakeResource) Release() { r.g.released(r.name) }

type fakeFuture struct {
	g        *fakeGPU
	name     string
	done     bool
	waitErr  error
	releases int
}

func (f *fakeFuture) Poll() (bool, error) { return f.done, nil }

func (f *fakeFuture) Wait() error {
	f.g.record("wait %s", f.name)
	f.done = true
	return f.waitErr
}

func (f *fakeFuture) Release() {
	f.releases++
	f.g.released(f.name)
}

type fakeDriver struct{ g *fakeGPU }

func (d *fakeDriver) CreateSurface() (Surface, error) {
	d.g.record("create surface")
	return &fakeResource{g: d.g, name: "surface"}, nil
}

func (d *fakeDriver) Adapters(Surface) ([]Adapter, error) {
	return d.g.adapters, d.g.adaptersErr
}

func (d *fakeDriver) OpenDevice(adapter Adapter, family uint32) (Device, error) {
	if d.g.openErr != nil {
		return nil, d.g.openErr
	}
	d.g.record("open device %s/%d", adapter.Name, family)
	return &fakeDevice{g: d.g}, nil
}

func (d *fakeDriver) Release() { d.g.released("driver") }

type fakeDevice struct{ g *fakeGPU }

func (d *fakeDevice) Queue() Queue { return &fakeQueue{g: d.g} }

func (d *fakeDevice) SurfaceCapabilities(Surface) (SurfaceCapabilities, error) {
	return d.g.caps, nil
}

func (d *fakeDevice) CreateSwapchain(_ Surface, desc SwapchainDescriptor, old Swapchain) (Swapchain, error) {
	n := d.g.swapchains + 1
	if d.g.swapchainErr != nil {
		if err := d.g.swapchainErr(n); err != nil {
			return nil, err
		}
	}
	d.g.swapchains = n
	oldName := "none"
	if old != nil {
		oldName = old.(*fakeSwapchain).name
	}
	sc := &fakeSwapchain{g: d.g, name: fmt.Sprintf("swapchain%d", n), extent: desc.Extent}
	for i := uint32(0); i < desc.ImageCount; i++ {
		sc.images = append(sc.images, fmt.Sprintf("%s/image%d", sc.name, i))
	}
	d.g.record("create %s %s old=%s", sc.name, desc.Extent, oldName)
	return sc, nil
}

func (d *fakeDevice) CreateRenderPass(format Format) (RenderPass, error) {
	d.g.record("create render pass %d", format)
	return &fakeResource{g: d.g, name: "render pass"}, nil
}

func (d *fakeDevice) CreatePipeline(RenderPass) (Pipeline, error) {
	d.g.record("create pipeline")
	return &fakeResource{g: d.g, name: "pipeline"}, nil
}

func (d *fakeDevice) CreateVertexBuffer(vertices []Vertex) (Buffer, error) {
	d.g.record("create vertex buffer %d", len(vertices))
	return &fakeResource{g: d.g, name: "vertex buffer"}, nil
}

func (d *fakeDevice) CreateFramebuffer(_ RenderPass, image Image, _ Format, extent Extent) (Framebuffer, error) {
	return &fakeResource{g: d.g, name: fmt.Sprintf("framebuffer %v %s", image, extent)}, nil
}

func (d *fakeDevice) NewCommandEncoder() (CommandEncoder, error) {
	return &fakeEncoder{g: d.g}, nil
}

func (d *fakeDevice) WaitIdle() error {
	d.g.record("wait idle")
	return nil
}

func (d *fakeDevice) Release() { d.g.released("device") }

type fakeQueue struct{ g *fakeGPU }

func (q *fakeQueue) Submit(cmd CommandBuffer, wait Future) (Future, error) {
	g := q.g
	g.submits++
	if g.submitErr != nil {
		if err := g.submitErr(g.submits); err != nil {
			g.record("submit%d failed", g.submits)
			return nil, err
		}
	}
	f := &fakeFuture{g: g, name: fmt.Sprintf("submit%d", g.submits)}
	g.submitted = append(g.submitted, f)
	g.submitWaits = append(g.submitWaits, wait)
	g.record("submit%d %v", g.submits, cmd)
	return f, nil
}

type fakeSwapchain struct {
	g      *fakeGPU
	name   string
	images []Image
	extent Extent
	next   uint32
}

func (s *fakeSwapchain) Images() []Image { return s.images }

func (s *fakeSwapchain) AcquireNextImage(time.Duration) (uint32, Future, error) {
	g := s.g
	g.acquires++
	if g.acquireErr != nil {
		if err := g.acquireErr(g.acquires); err != nil {
			g.record("acquire%d failed", g.acquires)
			return 0, nil, err
		}
	}
	image := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	f := &fakeFuture{g: g, name: fmt.Sprintf("acquire%d", g.acquires)}
	g.acquired = append(g.acquired, f)
	g.record("acquire%d %s image %d", g.acquires, s.name, image)
	return image, f, nil
}

func (s *fakeSwapchain) Present(_ Queue, image uint32, wait Future) error {
	g := s.g
	g.presents++
	g.presentWait = append(g.presentWait, wait)
	if g.presentErr != nil {
		if err := g.presentErr(g.presents); err != nil {
			g.record("present%d failed", g.presents)
			return err
		}
	}
	g.record("present%d %s image %d", g.presents, s.name, image)
	return nil
}

func (s *fakeSwapchain) Release() { s.g.released(s.name) }

type fakeEncoder struct {
	g   *fakeGPU
	ops []string
}

func (e *fakeEncoder) BindPipeline(Pipeline)   { e.ops = append(e.ops, "pipeline") }
func (e *fakeEncoder) BindVertexBuffer(Buffer) { e.ops = append(e.ops, "vertices") }
func (e *fakeEncoder) EndRenderPass()          { e.ops = append(e.ops, "end") }

func (e *fakeEncoder) SetViewport(v Viewport) {
	e.ops = append(e.ops, fmt.Sprintf("viewport %vx%v", v.Width, v.Height))
}

func (e *fakeEncoder) Draw(vertexCount uint32) {
	e.ops = append(e.ops, fmt.Sprintf("draw %d", vertexCount))
}

func (e *fakeEncoder) Finish() (CommandBuffer, error) {
	return strings.Join(e.ops, ","), nil
}

func (e *fakeEncoder) BeginRenderPass(_ RenderPass, target Framebuffer, area Extent, _ [4]float32) {
	e.ops = append(e.ops, fmt.Sprintf("begin %s %s", target.(*fakeResource).name, area))
}

type fakePlatform struct{ g *fakeGPU }

func (p *fakePlatform) FramebufferSize() Extent { return p.g.size }

func (p *fakePlatform) PollEvents() []Event {
	p.g.polls++
	if p.g.events == nil {
		return nil
	}
	return p.g.events(p.g.polls)
}

func (p *fakePlatform) Destroy() { p.g.released("platform") }
