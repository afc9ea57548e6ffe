// Package vkdriver implements the render driver interfaces on Vulkan.
package vkdriver

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
	"go.uber.org/zap"

	"vkframe/src/render"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

// SurfaceProvider is the window side of instance and surface creation.
type SurfaceProvider interface {
	RequiredInstanceExtensions() []string
	InstanceProcAddr() unsafe.Pointer
	CreateSurface(instance vk.Instance) (vk.Surface, error)
}

type Options struct {
	AppName    string
	Validation bool
	// VertexShader and FragmentShader are paths to compiled SPIR-V.
	VertexShader   string
	FragmentShader string
}

var (
	loaderOnce sync.Once
	loaderErr  error
)

// Driver owns the Vulkan instance of one session.
type Driver struct {
	provider SurfaceProvider
	instance vk.Instance
	debug    vk.DebugReportCallback
	gpus     []vk.PhysicalDevice

	vertexCode   []uint32
	fragmentCode []uint32

	log *zap.Logger
}

var _ render.Driver = (*Driver)(nil)

func New(provider SurfaceProvider, opts Options, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{provider: provider, log: logger.Named("vulkan")}

	var err error
	if d.vertexCode, err = LoadSPIRV(opts.VertexShader); err != nil {
		return nil, err
	}
	if d.fragmentCode, err = LoadSPIRV(opts.FragmentShader); err != nil {
		return nil, err
	}

	loaderOnce.Do(func() {
		vk.SetGetInstanceProcAddr(provider.InstanceProcAddr())
		loaderErr = vk.Init()
	})
	if loaderErr != nil {
		return nil, fmt.Errorf("vulkan loader: %w", loaderErr)
	}

	if err := d.createInstance(opts); err != nil {
		return nil, err
	}
	if opts.Validation {
		d.installDebugReport()
	}
	return d, nil
}

func (d *Driver) createInstance(opts Options) error {
	name := opts.AppName
	if name == "" {
		name = "vkframe"
	}
	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   safeString(name),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        safeString("vkframe"),
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.MakeVersion(1, 0, 0),
	}

	extensions := safeStrings(d.provider.RequiredInstanceExtensions())
	var layers []string
	if opts.Validation {
		extensions = append(extensions, safeString("VK_EXT_debug_report"))
		layers = append(layers, safeString(validationLayer))
	}

	info := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}
	var instance vk.Instance
	if err := NewError(vk.CreateInstance(&info, nil, &instance)); err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, nil)
		return fmt.Errorf("init instance: %w", err)
	}
	d.instance = instance
	d.log.Debug("instance created", zap.Int("extensions", len(extensions)), zap.Bool("validation", opts.Validation))
	return nil
}

// installDebugReport is best effort: drivers without the extension still
// render.
func (d *Driver) installDebugReport() {
	info := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit),
		PfnCallback: d.debugReport,
	}
	var cb vk.DebugReportCallback
	if err := NewError(vk.CreateDebugReportCallback(d.instance, &info, nil, &cb)); err != nil {
		d.log.Warn("debug report unavailable", zap.Error(err))
		return
	}
	d.debug = cb
}

func (d *Driver) debugReport(flags vk.DebugReportFlags, _ vk.DebugReportObjectType,
	_ uint64, _ uint, code int32, layer string, msg string, _ unsafe.Pointer) vk.Bool32 {

	fields := []zap.Field{zap.Int32("code", code), zap.String("layer", layer)}
	if flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0 {
		d.log.Error(msg, fields...)
	} else {
		d.log.Warn(msg, fields...)
	}
	return vk.Bool32(vk.False)
}

func (d *Driver) CreateSurface() (render.Surface, error) {
	handle, err := d.provider.CreateSurface(d.instance)
	if err != nil {
		return nil, fmt.Errorf("create window surface: %w", err)
	}
	return &surface{driver: d, handle: handle}, nil
}

func (d *Driver) physicalDevices() ([]vk.PhysicalDevice, error) {
	if d.gpus != nil {
		return d.gpus, nil
	}
	var count uint32
	if err := NewError(vk.EnumeratePhysicalDevices(d.instance, &count, nil)); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errors.New("no physical devices")
	}
	gpus := make([]vk.PhysicalDevice, count)
	if err := NewError(vk.EnumeratePhysicalDevices(d.instance, &count, gpus)); err != nil {
		return nil, err
	}
	d.gpus = gpus[:count]
	return d.gpus, nil
}

// Adapters reports each physical device with presentation support to s
// evaluated per queue family.
func (d *Driver) Adapters(s render.Surface) ([]render.Adapter, error) {
	surf, ok := s.(*surface)
	if !ok {
		return nil, fmt.Errorf("adapters: foreign surface %T", s)
	}
	gpus, err := d.physicalDevices()
	if err != nil {
		return nil, err
	}

	adapters := make([]render.Adapter, 0, len(gpus))
	for i, gpu := range gpus {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(gpu, &props)
		props.Deref()

		var count uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
		families := make([]vk.QueueFamilyProperties, count)
		vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, families)

		adapter := render.Adapter{
			ID:   i,
			Name: vk.ToString(props.DeviceName[:]),
			Kind: deviceKind(props.DeviceType),
		}
		for idx := range families {
			families[idx].Deref()
			var present vk.Bool32
			res := vk.GetPhysicalDeviceSurfaceSupport(gpu, uint32(idx), surf.handle, &present)
			adapter.Families = append(adapter.Families, render.QueueFamily{
				Index:    uint32(idx),
				Graphics: families[idx].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0,
				Present:  res == vk.Success && present == vk.True,
			})
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}

func (d *Driver) OpenDevice(adapter render.Adapter, family uint32) (render.Device, error) {
	if adapter.ID < 0 || adapter.ID >= len(d.gpus) {
		return nil, fmt.Errorf("open device: unknown adapter %d", adapter.ID)
	}
	return newDevice(d, d.gpus[adapter.ID], family)
}

func (d *Driver) Release() {
	if d.instance == nil {
		return
	}
	if d.debug != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(d.instance, d.debug, nil)
		d.debug = vk.NullDebugReportCallback
	}
	vk.DestroyInstance(d.instance, nil)
	d.instance = nil
}

type surface struct {
	driver   *Driver
	handle   vk.Surface
	released bool
}

func (s *surface) Release() {
	if s.released {
		return
	}
	s.released = true
	vk.DestroySurface(s.driver.instance, s.handle, nil)
}
