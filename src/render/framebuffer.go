package render

import (
	"fmt"

	"go.uber.org/atomic"
)

var framebufferSetIDs = atomic.NewUint64(0)

// FramebufferSet holds one render target per image of a single swapchain
// generation.
type FramebufferSet struct {
	id         uint64
	generation uint64
	extent     Extent
	targets    []Framebuffer
}

func NewFramebufferSet(device Device, pass RenderPass, state *SwapchainState) (*FramebufferSet, error) {
	if state == nil {
		return nil, fmt.Errorf("build framebuffers: no swapchain")
	}
	set := &FramebufferSet{
		id:         framebufferSetIDs.Inc(),
		generation: state.Generation,
		extent:     state.Extent,
		targets:    make([]Framebuffer, 0, len(state.Images)),
	}
	for i, image := range state.Images {
		fb, err := device.CreateFramebuffer(pass, image, state.Format.Format, state.Extent)
		if err != nil {
			set.Release()
			return nil, fmt.Errorf("framebuffer %d of generation %d: %w", i, state.Generation, err)
		}
		set.targets = append(set.targets, fb)
	}
	return set, nil
}

// ID is unique per set for the life of the process.
func (s *FramebufferSet) ID() uint64         { return s.id }
func (s *FramebufferSet) Generation() uint64 { return s.generation }
func (s *FramebufferSet) Extent() Extent     { return s.extent }
func (s *FramebufferSet) Len() int           { return len(s.targets) }

// Target returns the framebuffer for image, refusing to hand out targets
// when the set was built from a different generation than state.
func (s *FramebufferSet) Target(state *SwapchainState, image uint32) (Framebuffer, error) {
	if state == nil || state.Generation != s.generation {
		var current uint64
		if state != nil {
			current = state.Generation
		}
		return nil, fmt.Errorf("set %d is generation %d, swapchain is %d: %w",
			s.id, s.generation, current, ErrStaleFramebuffers)
	}
	if int(image) >= len(s.targets) {
		return nil, fmt.Errorf("image %d out of range (%d targets)", image, len(s.targets))
	}
	return s.targets[image], nil
}

func (s *FramebufferSet) Release() {
	for _, fb := range s.targets {
		fb.Release()
	}
	s.targets = nil
}

// DrawPipeline is the fixed render-pass description and the static state
// bound for the single draw.
type DrawPipeline struct {
	Format      Format
	Pass        RenderPass
	Pipeline    Pipeline
	Vertices    Buffer
	VertexCount uint32
}
