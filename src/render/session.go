package render

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// SessionConfig is everything a session needs besides its backend.
type SessionConfig struct {
	Title          string
	Width, Height  uint32
	AcquireTimeout time.Duration
	PresentMode    PresentMode
	ClearColor     [4]float32
	// Vertices overrides DefaultVertices when non-empty.
	Vertices []Vertex
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Title:          "vkframe",
		Width:          800,
		Height:         600,
		AcquireTimeout: 0,
		PresentMode:    PresentModeFifo,
		ClearColor:     [4]float32{0, 0, 1, 1},
	}
}

type options struct {
	logger  *zap.Logger
	metrics *Metrics
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Session is one window, one device and one frame loop. Sessions share
// nothing with each other.
type Session struct {
	id        uuid.UUID
	cfg       SessionConfig
	backend   Backend
	metrics   *Metrics
	log       *zap.Logger
	terminate *atomic.Bool
	started   *atomic.Bool

	done chan struct{}
	err  error
}

func NewSession(cfg SessionConfig, backend Backend, opts ...Option) *Session {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	id := uuid.New()
	return &Session{
		id:        id,
		cfg:       cfg,
		backend:   backend,
		metrics:   o.metrics,
		log:       o.logger.With(zap.String("session_id", id.String())),
		terminate: atomic.NewBool(false),
		started:   atomic.NewBool(false),
		done:      make(chan struct{}),
	}
}

// Start runs a new session on its own goroutine, locked to one OS thread
// for the lifetime of the window and device.
func Start(ctx context.Context, cfg SessionConfig, backend Backend, opts ...Option) *Session {
	s := NewSession(cfg, backend, opts...)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		_ = s.Run(ctx)
	}()
	return s
}

func (s *Session) ID() uuid.UUID { return s.id }

// Close asks the loop to stop at the start of its next iteration. It never
// blocks and may be called from any goroutine, any number of times.
func (s *Session) Close() {
	if !s.terminate.Swap(true) {
		s.log.Info("session close requested")
	}
}

func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session has torn down and returns its terminal
// status: nil after a clean close, otherwise an error wrapping
// ErrDeviceUnavailable or ErrFatal.
func (s *Session) Wait() error {
	<-s.done
	return s.err
}

// Run executes the session on the calling goroutine. Platforms that bind
// windows to the main thread call it from main. Cancelling ctx is
// equivalent to Close.
func (s *Session) Run(ctx context.Context) error {
	if s.started.Swap(true) {
		return errors.New("session already started")
	}
	if ctx.Err() != nil {
		s.Close()
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-stop:
		}
	}()

	s.err = s.run()
	close(stop)
	if s.err != nil {
		s.log.Error("session failed", zap.Error(s.err))
	} else {
		s.log.Info("session closed")
	}
	close(s.done)
	return s.err
}

func (s *Session) run() error {
	td := &teardown{log: s.log}
	defer td.unwind()

	platform, driver, err := s.backend(s.cfg)
	if err != nil {
		return terminal("open backend", err)
	}
	td.push("platform", platform.Destroy)
	td.push("driver", driver.Release)

	surface, err := driver.CreateSurface()
	if err != nil {
		return terminal("create surface", err)
	}
	td.push("surface", surface.Release)

	device, err := NewDeviceContext(driver, surface, s.log)
	if err != nil {
		return terminal("open device", err)
	}
	td.push("device", device.Release)

	swapchain := NewSwapchainManager(device.Device(), surface, s.cfg.PresentMode, s.log)
	if err := swapchain.Create(platform.FramebufferSize()); err != nil {
		if !errors.Is(err, ErrUnsupportedDimensions) {
			return terminal("create swapchain", err)
		}
		s.log.Info("window has no drawable area, deferring swapchain")
	}
	td.push("swapchain", swapchain.Release)

	draw, err := s.buildPipeline(device, surface, swapchain, td)
	if err != nil {
		return terminal("build pipeline", err)
	}

	loop := NewFrameLoop(FrameLoopConfig{
		Device:         device,
		Swapchain:      swapchain,
		Draw:           draw,
		Platform:       platform,
		Terminate:      s.terminate,
		AcquireTimeout: s.cfg.AcquireTimeout,
		ClearColor:     s.cfg.ClearColor,
		Metrics:        s.metrics,
		SessionID:      s.id.String(),
		Logger:         s.log,
	})
	td.push("framebuffers", loop.Release)
	td.push("gpu idle", func() {
		if err := loop.Tracker().Drain(); err != nil {
			s.log.Warn("drain at teardown", zap.Error(err))
		}
		if err := device.WaitIdle(); err != nil {
			s.log.Warn("wait idle at teardown", zap.Error(err))
		}
	})

	s.log.Info("session started",
		zap.String("title", s.cfg.Title),
		zap.Stringer("present_mode", s.cfg.PresentMode))
	if err := loop.Run(); err != nil {
		return terminal("frame loop", err)
	}
	return nil
}

// buildPipeline creates the render pass, pipeline and vertex buffer shared
// by every swapchain generation of the session.
func (s *Session) buildPipeline(device *DeviceContext, surface Surface, swapchain *SwapchainManager, td *teardown) (*DrawPipeline, error) {
	format, err := renderFormat(device.Device(), surface, swapchain.State())
	if err != nil {
		return nil, err
	}

	pass, err := device.Device().CreateRenderPass(format)
	if err != nil {
		return nil, fmt.Errorf("render pass: %w", err)
	}
	td.push("render pass", pass.Release)

	pipeline, err := device.Device().CreatePipeline(pass)
	if err != nil {
		return nil, fmt.Errorf("graphics pipeline: %w", err)
	}
	td.push("pipeline", pipeline.Release)

	vertices := s.cfg.Vertices
	if len(vertices) == 0 {
		vertices = DefaultVertices
	}
	buffer, err := device.Device().CreateVertexBuffer(vertices)
	if err != nil {
		return nil, fmt.Errorf("vertex buffer: %w", err)
	}
	td.push("vertex buffer", buffer.Release)

	return &DrawPipeline{
		Format:      format,
		Pass:        pass,
		Pipeline:    pipeline,
		Vertices:    buffer,
		VertexCount: uint32(len(vertices)),
	}, nil
}

func renderFormat(device Device, surface Surface, state *SwapchainState) (Format, error) {
	if state != nil {
		return state.Format.Format, nil
	}
	caps, err := device.SurfaceCapabilities(surface)
	if err != nil {
		return 0, fmt.Errorf("surface capabilities: %w", err)
	}
	if len(caps.Formats) == 0 {
		return 0, errors.New("surface reports no formats")
	}
	return caps.Formats[0].Format, nil
}
