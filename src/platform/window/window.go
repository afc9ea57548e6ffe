// Package window opens the native window a session renders into.
package window

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"
	"go.uber.org/zap"

	"vkframe/src/render"
	"vkframe/src/render/vkdriver"
)

// library reference counts glfw so several windows can share one
// initialization.
type library struct {
	mu        sync.Mutex
	users     int
	init      func() error
	terminate func()
}

func (l *library) acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.users == 0 {
		if err := l.init(); err != nil {
			return fmt.Errorf("glfw init: %w", err)
		}
	}
	l.users++
	return nil
}

func (l *library) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.users == 0 {
		return
	}
	l.users--
	if l.users == 0 {
		l.terminate()
	}
}

var glfwLib = &library{init: glfw.Init, terminate: glfw.Terminate}

// Window is a resizable glfw window without a client API. Its callbacks
// feed an event queue that PollEvents drains.
type Window struct {
	handle *glfw.Window
	events render.EventQueue
	log    *zap.Logger

	destroyed bool
}

var (
	_ render.Platform          = (*Window)(nil)
	_ vkdriver.SurfaceProvider = (*Window)(nil)
)

func Open(title string, width, height int, logger *zap.Logger) (*Window, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := glfwLib.acquire(); err != nil {
		return nil, err
	}
	if !glfw.VulkanSupported() {
		glfwLib.release()
		return nil, fmt.Errorf("open window: no vulkan loader found")
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	handle, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		glfwLib.release()
		return nil, fmt.Errorf("open window: %w", err)
	}

	w := &Window{handle: handle, log: logger.Named("window")}
	handle.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		w.onResize(width, height)
	})
	handle.SetCloseCallback(func(_ *glfw.Window) {
		w.onClose()
	})
	w.log.Debug("window opened", zap.String("title", title), zap.Stringer("size", w.FramebufferSize()))
	return w, nil
}

func (w *Window) onResize(width, height int) {
	size := toExtent(width, height)
	w.log.Debug("framebuffer resized", zap.Stringer("size", size))
	w.events.Push(render.ResizeEvent(size.Width, size.Height))
}

func (w *Window) onClose() {
	w.log.Debug("close requested")
	w.events.Push(render.CloseRequestedEvent())
}

// toExtent maps glfw's signed sizes onto an extent. A minimized window
// reports zero or, on some platforms, negative sizes.
func toExtent(width, height int) render.Extent {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return render.Extent{Width: uint32(width), Height: uint32(height)}
}

func (w *Window) FramebufferSize() render.Extent {
	return toExtent(w.handle.GetFramebufferSize())
}

func (w *Window) PollEvents() []render.Event {
	glfw.PollEvents()
	return w.events.Drain()
}

func (w *Window) Destroy() {
	if w.destroyed {
		return
	}
	w.destroyed = true
	w.handle.Destroy()
	glfwLib.release()
}

func (w *Window) RequiredInstanceExtensions() []string {
	return w.handle.GetRequiredInstanceExtensions()
}

func (w *Window) InstanceProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

func (w *Window) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	var surface vk.Surface
	ptr, err := w.handle.CreateWindowSurface(instance, nil)
	if err != nil {
		return surface, err
	}
	return vk.SurfaceFromPointer(ptr), nil
}

// Backend opens a window per session and binds a Vulkan driver to it.
func Backend(opts vkdriver.Options, logger *zap.Logger) render.Backend {
	return func(cfg render.SessionConfig) (render.Platform, render.Driver, error) {
		w, err := Open(cfg.Title, int(cfg.Width), int(cfg.Height), logger)
		if err != nil {
			return nil, nil, err
		}
		if opts.AppName == "" {
			opts.AppName = cfg.Title
		}
		d, err := vkdriver.New(w, opts, logger)
		if err != nil {
			w.Destroy()
			return nil, nil, err
		}
		return w, d, nil
	}
}
