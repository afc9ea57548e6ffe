package render

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type SwapchainStatus int

const (
	SwapchainUninitialized SwapchainStatus = iota
	SwapchainValid
	SwapchainInvalidated
	SwapchainRecreating
)

func (s SwapchainStatus) String() string {
	switch s {
	case SwapchainUninitialized:
		return "uninitialized"
	case SwapchainValid:
		return "valid"
	case SwapchainInvalidated:
		return "invalidated"
	case SwapchainRecreating:
		return "recreating"
	default:
		return fmt.Sprintf("swapchain_status(%d)", int(s))
	}
}

// SwapchainState is one generation of the image chain. It is never
// modified after construction; a recreate produces a new value with a
// higher Generation.
type SwapchainState struct {
	Generation  uint64
	Images      []Image
	Extent      Extent
	Format      SurfaceFormat
	Alpha       CompositeAlpha
	PresentMode PresentMode
}

func (s *SwapchainState) ImageCount() int {
	if s == nil {
		return 0
	}
	return len(s.Images)
}

// ChooseSwapchain derives creation parameters from surface capabilities.
// It takes the first reported format and the first reported alpha mode
// rather than ranking them, so the result is reproducible across drivers
// that report the same lists.
func ChooseSwapchain(caps SurfaceCapabilities, preferred Extent, mode PresentMode) (SwapchainDescriptor, error) {
	if len(caps.Formats) == 0 {
		return SwapchainDescriptor{}, errors.New("surface reports no formats")
	}
	if len(caps.CompositeAlpha) == 0 {
		return SwapchainDescriptor{}, errors.New("surface reports no composite alpha modes")
	}

	extent := caps.CurrentExtent
	if !caps.HasCurrentExtent {
		extent = preferred.clamp(caps.MinExtent, caps.MaxExtent)
	}
	if extent.Empty() {
		return SwapchainDescriptor{}, fmt.Errorf("extent %s: %w", extent, ErrUnsupportedDimensions)
	}

	count := caps.MinImageCount
	if count == 0 {
		count = 1
	}
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}

	return SwapchainDescriptor{
		ImageCount:  count,
		Format:      caps.Formats[0],
		Extent:      extent,
		PresentMode: choosePresentMode(caps.PresentModes, mode),
		Alpha:       caps.CompositeAlpha[0],
		Transform:   caps.CurrentTransform,
	}, nil
}

// FIFO is the only mode every driver must support.
func choosePresentMode(available []PresentMode, want PresentMode) PresentMode {
	for _, m := range available {
		if m == want {
			return m
		}
	}
	return PresentModeFifo
}

// SwapchainManager owns the image chain bound to one surface. It is used
// from the session worker only.
type SwapchainManager struct {
	device      Device
	surface     Surface
	presentMode PresentMode
	log         *zap.Logger

	status     SwapchainStatus
	chain      Swapchain
	state      *SwapchainState
	generation uint64
}

func NewSwapchainManager(device Device, surface Surface, mode PresentMode, logger *zap.Logger) *SwapchainManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SwapchainManager{
		device:      device,
		surface:     surface,
		presentMode: mode,
		log:         logger,
	}
}

func (m *SwapchainManager) Status() SwapchainStatus { return m.status }

// State returns the current generation, or nil before Create.
func (m *SwapchainManager) State() *SwapchainState { return m.state }

func (m *SwapchainManager) Create(preferred Extent) error {
	if m.status != SwapchainUninitialized {
		return fmt.Errorf("create swapchain: already %s", m.status)
	}
	if err := m.build(preferred); err != nil {
		if errors.Is(err, ErrUnsupportedDimensions) {
			return err
		}
		return fatal("create swapchain", err)
	}
	return nil
}

// Recreate replaces the chain wholesale. ErrUnsupportedDimensions leaves
// the manager invalidated so the caller can retry; any other failure is
// fatal.
func (m *SwapchainManager) Recreate(extent Extent) error {
	if m.status == SwapchainUninitialized {
		return m.Create(extent)
	}
	m.status = SwapchainRecreating
	if err := m.build(extent); err != nil {
		m.status = SwapchainInvalidated
		if errors.Is(err, ErrUnsupportedDimensions) {
			m.log.Debug("swapchain dimensions rejected", zap.Stringer("extent", extent))
			return err
		}
		return fatal("recreate swapchain", err)
	}
	return nil
}

func (m *SwapchainManager) build(preferred Extent) error {
	caps, err := m.device.SurfaceCapabilities(m.surface)
	if err != nil {
		return fmt.Errorf("surface capabilities: %w", err)
	}
	desc, err := ChooseSwapchain(caps, preferred, m.presentMode)
	if err != nil {
		return err
	}
	chain, err := m.device.CreateSwapchain(m.surface, desc, m.chain)
	if err != nil {
		return err
	}
	if m.chain != nil {
		m.chain.Release()
	}

	m.generation++
	m.chain = chain
	m.state = &SwapchainState{
		Generation:  m.generation,
		Images:      chain.Images(),
		Extent:      desc.Extent,
		Format:      desc.Format,
		Alpha:       desc.Alpha,
		PresentMode: desc.PresentMode,
	}
	m.status = SwapchainValid

	m.log.Info("swapchain ready",
		zap.Uint64("generation", m.generation),
		zap.Stringer("extent", desc.Extent),
		zap.Int("images", len(m.state.Images)),
		zap.Stringer("present_mode", desc.PresentMode))
	return nil
}

// Acquire hands out the next image. After ErrOutOfDate the caller must
// Recreate before acquiring again.
func (m *SwapchainManager) Acquire(timeout time.Duration) (uint32, Future, error) {
	if m.status != SwapchainValid {
		return 0, nil, fmt.Errorf("acquire while %s: %w", m.status, ErrOutOfDate)
	}
	image, acquired, err := m.chain.AcquireNextImage(timeout)
	switch {
	case err == nil:
		return image, acquired, nil
	case errors.Is(err, ErrOutOfDate):
		m.status = SwapchainInvalidated
		return 0, nil, err
	case errors.Is(err, ErrTimeout):
		return 0, nil, err
	default:
		return 0, nil, fatal("acquire next image", err)
	}
}

// Present queues image for display once wait completes.
func (m *SwapchainManager) Present(queue Queue, image uint32, wait Future) error {
	err := m.chain.Present(queue, image, wait)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrOutOfDate):
		m.status = SwapchainInvalidated
		return err
	case errors.Is(err, ErrPresentFailed):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrPresentFailed, err)
	}
}

func (m *SwapchainManager) Release() {
	if m.chain == nil {
		return
	}
	m.chain.Release()
	m.chain = nil
	m.status = SwapchainUninitialized
}
