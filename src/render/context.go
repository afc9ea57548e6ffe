package render

import (
	"time"
)

// Resource is any driver object released explicitly by its owner.
type Resource interface {
	Release()
}

type (
	Surface     interface{ Resource }
	RenderPass  interface{ Resource }
	Pipeline    interface{ Resource }
	Buffer      interface{ Resource }
	Framebuffer interface{ Resource }

	// Image is a presentable image owned by a swapchain. It is never
	// released on its own.
	Image interface{}

	// CommandBuffer is a finished recording. Once handed to Queue.Submit it
	// belongs to the returned Future.
	CommandBuffer interface{}
)

// Driver is the entry point of a GPU driver: an instance bound to one
// window.
type Driver interface {
	CreateSurface() (Surface, error)
	// Adapters reports every physical device, with presentation support
	// evaluated against surface.
	Adapters(surface Surface) ([]Adapter, error)
	OpenDevice(adapter Adapter, family uint32) (Device, error)
	Release()
}

type Device interface {
	Queue() Queue
	SurfaceCapabilities(surface Surface) (SurfaceCapabilities, error)
	// CreateSwapchain builds a new image chain. old may be nil; when set,
	// the driver may reuse its images and the caller releases it after.
	CreateSwapchain(surface Surface, desc SwapchainDescriptor, old Swapchain) (Swapchain, error)
	CreateRenderPass(format Format) (RenderPass, error)
	CreatePipeline(pass RenderPass) (Pipeline, error)
	CreateVertexBuffer(vertices []Vertex) (Buffer, error)
	CreateFramebuffer(pass RenderPass, image Image, format Format, extent Extent) (Framebuffer, error)
	NewCommandEncoder() (CommandEncoder, error)
	WaitIdle() error
	Release()
}

type Queue interface {
	// Submit schedules cmd once wait is satisfied and returns immediately.
	Submit(cmd CommandBuffer, wait Future) (Future, error)
}

type Swapchain interface {
	Images() []Image
	// AcquireNextImage returns the index of the next writable image and a
	// future that completes when the presentation engine has let go of it.
	// A zero timeout blocks until an image is available.
	AcquireNextImage(timeout time.Duration) (uint32, Future, error)
	Present(queue Queue, image uint32, wait Future) error
	Release()
}

type CommandEncoder interface {
	BindPipeline(pipeline Pipeline)
	BindVertexBuffer(buffer Buffer)
	SetViewport(viewport Viewport)
	BeginRenderPass(pass RenderPass, target Framebuffer, area Extent, clear [4]float32)
	Draw(vertexCount uint32)
	EndRenderPass()
	Finish() (CommandBuffer, error)
}

// Platform is the window a session renders into.
type Platform interface {
	FramebufferSize() Extent
	// PollEvents returns whatever arrived since the last call without
	// blocking.
	PollEvents() []Event
	Destroy()
}

// Backend opens the window and driver for one session. It is invoked on
// the session's worker goroutine.
type Backend func(cfg SessionConfig) (Platform, Driver, error)
