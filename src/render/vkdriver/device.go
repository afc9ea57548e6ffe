package vkdriver

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
	"go.uber.org/zap"

	"vkframe/src/render"
)

type device struct {
	driver *Driver
	gpu    vk.PhysicalDevice
	handle vk.Device
	family uint32
	queue  *queue
	pool   vk.CommandPool
	log    *zap.Logger

	released bool
}

var _ render.Device = (*device)(nil)

func newDevice(d *Driver, gpu vk.PhysicalDevice, family uint32) (*device, error) {
	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: family,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}
	extensions := []string{safeString(vk.KhrSwapchainExtensionName)}
	info := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
	}

	var handle vk.Device
	if err := NewError(vk.CreateDevice(gpu, &info, nil, &handle)); err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}
	dev := &device{driver: d, gpu: gpu, handle: handle, family: family, log: d.log}

	var q vk.Queue
	vk.GetDeviceQueue(handle, family, 0, &q)
	dev.queue = &queue{device: dev, handle: q}

	poolInfo := vk.CommandPoolCreateInfo{
		SType: vk.StructureTypeCommandPoolCreateInfo,
		Flags: vk.CommandPoolCreateFlags(
			vk.CommandPoolCreateResetCommandBufferBit | vk.CommandPoolCreateTransientBit),
		QueueFamilyIndex: family,
	}
	if err := NewError(vk.CreateCommandPool(handle, &poolInfo, nil, &dev.pool)); err != nil {
		vk.DestroyDevice(handle, nil)
		return nil, fmt.Errorf("create command pool: %w", err)
	}
	return dev, nil
}

func (d *device) Queue() render.Queue { return d.queue }

func (d *device) SurfaceCapabilities(s render.Surface) (render.SurfaceCapabilities, error) {
	surf, ok := s.(*surface)
	if !ok {
		return render.SurfaceCapabilities{}, fmt.Errorf("surface capabilities: foreign surface %T", s)
	}

	var caps vk.SurfaceCapabilities
	if err := resultError("surface capabilities",
		vk.GetPhysicalDeviceSurfaceCapabilities(d.gpu, surf.handle, &caps)); err != nil {
		return render.SurfaceCapabilities{}, err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()
	out := toCapabilities(caps)

	var count uint32
	vk.GetPhysicalDeviceSurfaceFormats(d.gpu, surf.handle, &count, nil)
	formats := make([]vk.SurfaceFormat, count)
	vk.GetPhysicalDeviceSurfaceFormats(d.gpu, surf.handle, &count, formats)
	for i := range formats {
		formats[i].Deref()
	}
	out.Formats = surfaceFormats(formats)

	vk.GetPhysicalDeviceSurfacePresentModes(d.gpu, surf.handle, &count, nil)
	modes := make([]vk.PresentMode, count)
	vk.GetPhysicalDeviceSurfacePresentModes(d.gpu, surf.handle, &count, modes)
	out.PresentModes = presentModes(modes)

	return out, nil
}

func (d *device) WaitIdle() error {
	return resultError("device wait idle", vk.DeviceWaitIdle(d.handle))
}

func (d *device) Release() {
	if d.released {
		return
	}
	d.released = true
	vk.DestroyCommandPool(d.handle, d.pool, nil)
	vk.DestroyDevice(d.handle, nil)
}

func (d *device) newSemaphore() (vk.Semaphore, error) {
	var sem vk.Semaphore
	info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	if err := NewError(vk.CreateSemaphore(d.handle, &info, nil, &sem)); err != nil {
		return sem, fmt.Errorf("create semaphore: %w", err)
	}
	return sem, nil
}

func (d *device) newFence() (vk.Fence, error) {
	var fence vk.Fence
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if err := NewError(vk.CreateFence(d.handle, &info, nil, &fence)); err != nil {
		return fence, fmt.Errorf("create fence: %w", err)
	}
	return fence, nil
}

func (d *device) pollFence(fence vk.Fence) (bool, error) {
	switch res := vk.GetFenceStatus(d.handle, fence); res {
	case vk.Success:
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, resultError("fence status", res)
	}
}

func (d *device) waitFence(fence vk.Fence) error {
	return resultError("wait for fence",
		vk.WaitForFences(d.handle, 1, []vk.Fence{fence}, vk.True, vk.MaxUint64))
}
