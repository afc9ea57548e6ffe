package render

import (
	"fmt"

	"go.uber.org/zap"
)

// DeviceContext owns the logical device and its single submission queue
// for the whole session.
type DeviceContext struct {
	adapter Adapter
	family  uint32
	device  Device
	queue   Queue
	log     *zap.Logger

	released bool
}

// NewDeviceContext picks the first adapter with a queue family that can
// both draw and present to surface.
func NewDeviceContext(driver Driver, surface Surface, logger *zap.Logger) (*DeviceContext, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	adapters, err := driver.Adapters(surface)
	if err != nil {
		return nil, fmt.Errorf("enumerate adapters: %w: %w", ErrDeviceUnavailable, err)
	}

	adapter, family, ok := selectAdapter(adapters)
	if !ok {
		return nil, fmt.Errorf("%d adapters checked: %w", len(adapters), ErrDeviceUnavailable)
	}

	device, err := driver.OpenDevice(adapter, family)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w: %w", adapter.Name, ErrDeviceUnavailable, err)
	}

	logger.Info("device selected",
		zap.String("adapter", adapter.Name),
		zap.String("kind", adapter.Kind),
		zap.Uint32("queue_family", family))

	return &DeviceContext{
		adapter: adapter,
		family:  family,
		device:  device,
		queue:   device.Queue(),
		log:     logger,
	}, nil
}

func selectAdapter(adapters []Adapter) (Adapter, uint32, bool) {
	for _, a := range adapters {
		for _, f := range a.Families {
			if f.Graphics && f.Present {
				return a, f.Index, true
			}
		}
	}
	return Adapter{}, 0, false
}

func (d *DeviceContext) Adapter() Adapter    { return d.adapter }
func (d *DeviceContext) QueueFamily() uint32 { return d.family }
func (d *DeviceContext) Device() Device      { return d.device }
func (d *DeviceContext) Queue() Queue        { return d.queue }

// Submit is only ever called from the session worker.
func (d *DeviceContext) Submit(cmd CommandBuffer, wait Future) (Future, error) {
	return d.queue.Submit(cmd, wait)
}

func (d *DeviceContext) WaitIdle() error {
	if d.released {
		return nil
	}
	return d.device.WaitIdle()
}

func (d *DeviceContext) Release() {
	if d.released {
		return
	}
	d.released = true
	d.device.Release()
}
