package vkdriver

import (
	"fmt"
	"time"

	vk "github.com/vulkan-go/vulkan"
	"go.uber.org/zap"

	"vkframe/src/render"
)

type swapchain struct {
	device *device
	handle vk.Swapchain
	images []render.Image
	format vk.Format
	// renderDone is signalled by the submission rendering into an image and
	// waited by that image's present.
	renderDone *imageSlots[vk.Semaphore]

	released bool
}

// image is one presentable image of a swapchain.
type image struct {
	handle vk.Image
	index  uint32
}

var _ render.Swapchain = (*swapchain)(nil)

func (d *device) CreateSwapchain(s render.Surface, desc render.SwapchainDescriptor, old render.Swapchain) (render.Swapchain, error) {
	surf, ok := s.(*surface)
	if !ok {
		return nil, fmt.Errorf("create swapchain: foreign surface %T", s)
	}
	oldHandle := vk.NullSwapchain
	if prev, ok := old.(*swapchain); ok && prev != nil && !prev.released {
		oldHandle = prev.handle
	}

	info := vk.SwapchainCreateInfo{
		SType:           vk.StructureTypeSwapchainCreateInfo,
		Surface:         surf.handle,
		MinImageCount:   desc.ImageCount,
		ImageFormat:     vk.Format(desc.Format.Format),
		ImageColorSpace: vk.ColorSpace(desc.Format.ColorSpace),
		ImageExtent: vk.Extent2D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
		},
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     vk.SurfaceTransformFlagBits(desc.Transform),
		CompositeAlpha:   vk.CompositeAlphaFlagBits(desc.Alpha),
		PresentMode:      vk.PresentMode(desc.PresentMode),
		Clipped:          vk.True,
		OldSwapchain:     oldHandle,
	}
	var handle vk.Swapchain
	if err := resultError("create swapchain", vk.CreateSwapchain(d.handle, &info, nil, &handle)); err != nil {
		return nil, err
	}

	var count uint32
	if err := resultError("swapchain images", vk.GetSwapchainImages(d.handle, handle, &count, nil)); err != nil {
		vk.DestroySwapchain(d.handle, handle, nil)
		return nil, err
	}
	handles := make([]vk.Image, count)
	if err := resultError("swapchain images", vk.GetSwapchainImages(d.handle, handle, &count, handles)); err != nil {
		vk.DestroySwapchain(d.handle, handle, nil)
		return nil, err
	}

	renderDone, err := newImageSlots(int(count), d.newSemaphore,
		func(sem vk.Semaphore) { vk.DestroySemaphore(d.handle, sem, nil) },
		d.queue.waitIdle)
	if err != nil {
		vk.DestroySwapchain(d.handle, handle, nil)
		return nil, err
	}

	sc := &swapchain{device: d, handle: handle, format: info.ImageFormat, renderDone: renderDone}
	for i, h := range handles[:count] {
		sc.images = append(sc.images, &image{handle: h, index: uint32(i)})
	}
	d.log.Debug("swapchain created",
		zap.Uint32("images", count),
		zap.Stringer("extent", desc.Extent),
		zap.Stringer("present_mode", desc.PresentMode))
	return sc, nil
}

func (s *swapchain) Images() []render.Image { return s.images }

func (s *swapchain) AcquireNextImage(timeout time.Duration) (uint32, render.Future, error) {
	sem, err := s.device.newSemaphore()
	if err != nil {
		return 0, nil, err
	}
	fence, err := s.device.newFence()
	if err != nil {
		vk.DestroySemaphore(s.device.handle, sem, nil)
		return 0, nil, err
	}

	wait := uint64(vk.MaxUint64)
	if timeout > 0 {
		wait = uint64(timeout.Nanoseconds())
	}
	var index uint32
	res := vk.AcquireNextImage(s.device.handle, s.handle, wait, sem, fence, &index)
	switch res {
	case vk.Success, vk.Suboptimal:
		return index, &acquisition{device: s.device, swapchain: s, index: index, semaphore: sem, fence: fence}, nil
	default:
		// Nothing was signalled, so both objects can go right away.
		vk.DestroyFence(s.device.handle, fence, nil)
		vk.DestroySemaphore(s.device.handle, sem, nil)
		return 0, nil, resultError("acquire next image", res)
	}
}

// Present queues image for display once every submission in wait has
// finished rendering. A suboptimal chain is reported as out of date so the
// loop rebuilds it. A present the engine rejected outright leaves its wait
// unconsumed, so the image's render-done semaphore is replaced before reuse.
func (s *swapchain) Present(q render.Queue, index uint32, wait render.Future) error {
	pq, ok := q.(*queue)
	if !ok {
		return fmt.Errorf("present: foreign queue %T", q)
	}

	var semaphores []vk.Semaphore
	for _, part := range render.Flatten(wait) {
		switch f := part.(type) {
		case *submission:
			if f.presentable {
				semaphores = append(semaphores, f.renderDone)
				continue
			}
			if err := f.Wait(); err != nil {
				return fmt.Errorf("present: %w", err)
			}
		default:
			if err := f.Wait(); err != nil {
				return fmt.Errorf("present: %w", err)
			}
		}
	}

	info := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(semaphores)),
		PWaitSemaphores:    semaphores,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.handle},
		PImageIndices:      []uint32{index},
	}
	res := vk.QueuePresent(pq.handle, &info)
	switch res {
	case vk.Success, vk.ErrorOutOfDate, vk.ErrorSurfaceLost:
	case vk.Suboptimal:
		res = vk.ErrorOutOfDate
	default:
		s.renderDone.markStale(index)
	}
	return resultError("present", res)
}

func (s *swapchain) Release() {
	if s.released {
		return
	}
	s.released = true
	// The loop idles the device before a swapchain goes, so no present is
	// still waiting on these.
	s.renderDone.release()
	vk.DestroySwapchain(s.device.handle, s.handle, nil)
	s.images = nil
}
