package render

import (
	"fmt"
)

type Extent struct {
	Width, Height uint32
}

func (e Extent) Empty() bool {
	return e.Width == 0 || e.Height == 0
}

func (e Extent) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

func (e Extent) clamp(min, max Extent) Extent {
	out := e
	if max.Width > 0 && out.Width > max.Width {
		out.Width = max.Width
	}
	if max.Height > 0 && out.Height > max.Height {
		out.Height = max.Height
	}
	if out.Width < min.Width {
		out.Width = min.Width
	}
	if out.Height < min.Height {
		out.Height = min.Height
	}
	return out
}

// Format and ColorSpace carry the driver's numeric values untouched.
type Format uint32

type ColorSpace uint32

type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

// PresentMode values match VkPresentModeKHR.
type PresentMode uint32

const (
	PresentModeImmediate PresentMode = iota
	PresentModeMailbox
	PresentModeFifo
	PresentModeFifoRelaxed
)

func (m PresentMode) String() string {
	switch m {
	case PresentModeImmediate:
		return "immediate"
	case PresentModeMailbox:
		return "mailbox"
	case PresentModeFifo:
		return "fifo"
	case PresentModeFifoRelaxed:
		return "fifo_relaxed"
	default:
		return fmt.Sprintf("present_mode(%d)", uint32(m))
	}
}

// ParsePresentMode accepts the names printed by PresentMode.String.
func ParsePresentMode(s string) (PresentMode, error) {
	for _, m := range []PresentMode{PresentModeImmediate, PresentModeMailbox, PresentModeFifo, PresentModeFifoRelaxed} {
		if m.String() == s {
			return m, nil
		}
	}
	return PresentModeFifo, fmt.Errorf("unknown present mode %q", s)
}

// CompositeAlpha values match the VkCompositeAlphaFlagBitsKHR bits.
type CompositeAlpha uint32

const (
	CompositeAlphaOpaque         CompositeAlpha = 1 << iota
	CompositeAlphaPreMultiplied
	CompositeAlphaPostMultiplied
	CompositeAlphaInherit
)

type SurfaceTransform uint32

// SurfaceCapabilities is what the driver reports for a surface on the
// selected device. Slices keep the driver's order.
type SurfaceCapabilities struct {
	MinImageCount uint32
	// MaxImageCount is zero when unbounded.
	MaxImageCount uint32
	// CurrentExtent is only meaningful when HasCurrentExtent is set; some
	// platforms let the swapchain decide the window size.
	CurrentExtent    Extent
	HasCurrentExtent bool
	MinExtent        Extent
	MaxExtent        Extent
	CurrentTransform SurfaceTransform
	Formats          []SurfaceFormat
	PresentModes     []PresentMode
	CompositeAlpha   []CompositeAlpha
}

type SwapchainDescriptor struct {
	ImageCount  uint32
	Format      SurfaceFormat
	Extent      Extent
	PresentMode PresentMode
	Alpha       CompositeAlpha
	Transform   SurfaceTransform
}

type QueueFamily struct {
	Index    uint32
	Graphics bool
	Present  bool
}

// Adapter is a physical device as enumerated by the driver.
type Adapter struct {
	ID       int
	Name     string
	Kind     string
	Families []QueueFamily
}

type Vertex struct {
	X, Y float32
}

// DefaultVertices is the fixed triangle drawn every frame.
var DefaultVertices = []Vertex{
	{X: -0.5, Y: -0.25},
	{X: 0.0, Y: 0.5},
	{X: 0.25, Y: -0.1},
}

type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// ViewportState tracks the size of the render target as last reported by
// the window or chosen by the swapchain.
type ViewportState struct {
	Width, Height uint32
}

func (v ViewportState) Extent() Extent {
	return Extent{Width: v.Width, Height: v.Height}
}

func (v ViewportState) Viewport() Viewport {
	return Viewport{
		Width:    float32(v.Width),
		Height:   float32(v.Height),
		MaxDepth: 1,
	}
}
