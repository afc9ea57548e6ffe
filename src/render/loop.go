package render

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type FrameLoopConfig struct {
	Device    *DeviceContext
	Swapchain *SwapchainManager
	Draw      *DrawPipeline
	Platform  Platform
	// Terminate is the session's close signal. The loop checks it only at
	// the top of an iteration so a frame already started always retires.
	Terminate      *atomic.Bool
	AcquireTimeout time.Duration
	ClearColor     [4]float32
	Metrics        *Metrics
	SessionID      string
	Logger         *zap.Logger
}

// FrameLoop drives acquire, record, submit, present and retire for one
// session. All of its state is owned by the session worker.
type FrameLoop struct {
	device       *DeviceContext
	swapchain    *SwapchainManager
	draw         *DrawPipeline
	framebuffers *FramebufferSet
	tracker      *Tracker
	platform     Platform
	terminate    *atomic.Bool

	viewport       ViewportState
	recreate       bool
	acquireTimeout time.Duration
	clearColor     [4]float32
	frames         uint64

	retry   backoff.BackOff
	sleep   func(time.Duration)
	metrics *sessionMetrics
	log     *zap.Logger
}

func NewFrameLoop(cfg FrameLoopConfig) *FrameLoop {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	terminate := cfg.Terminate
	if terminate == nil {
		terminate = atomic.NewBool(false)
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 5 * time.Millisecond
	retry.MaxInterval = 250 * time.Millisecond
	retry.MaxElapsedTime = 0

	l := &FrameLoop{
		device:         cfg.Device,
		swapchain:      cfg.Swapchain,
		draw:           cfg.Draw,
		tracker:        NewTracker(logger),
		platform:       cfg.Platform,
		terminate:      terminate,
		acquireTimeout: cfg.AcquireTimeout,
		clearColor:     cfg.ClearColor,
		retry:          retry,
		sleep:          time.Sleep,
		metrics:        cfg.Metrics.session(cfg.SessionID),
		log:            logger,
	}
	if state := cfg.Swapchain.State(); state != nil {
		l.viewport = ViewportState{Width: state.Extent.Width, Height: state.Extent.Height}
	} else {
		// The window had no drawable area at startup; the first iteration
		// creates the chain once it does.
		size := cfg.Platform.FramebufferSize()
		l.viewport = ViewportState{Width: size.Width, Height: size.Height}
		l.recreate = true
	}
	return l
}

func (l *FrameLoop) Tracker() *Tracker             { return l.tracker }
func (l *FrameLoop) Viewport() ViewportState       { return l.viewport }
func (l *FrameLoop) Framebuffers() *FramebufferSet { return l.framebuffers }
func (l *FrameLoop) RecreatePending() bool         { return l.recreate }
func (l *FrameLoop) Frames() uint64                { return l.frames }

// Run iterates until the termination flag is raised or a fatal error
// occurs. Outstanding GPU work is drained before returning either way.
func (l *FrameLoop) Run() error {
	for !l.terminate.Load() {
		if err := l.Step(); err != nil {
			l.log.Error("frame loop aborted", zap.Uint64("frame", l.frames), zap.Error(err))
			if derr := l.tracker.Drain(); derr != nil {
				l.log.Warn("drain after abort", zap.Error(derr))
			}
			return err
		}
	}
	l.log.Info("frame loop closed", zap.Uint64("frames", l.frames))
	return l.tracker.Drain()
}

// Step runs one iteration. Recoverable conditions are absorbed and
// reported as nil; only fatal errors are returned.
func (l *FrameLoop) Step() error {
	l.tracker.RetireAsync()

	if l.recreate {
		if err := l.recreateSwapchain(); err != nil {
			if errors.Is(err, ErrUnsupportedDimensions) {
				l.pollEvents()
				l.sleep(l.retry.NextBackOff())
				return nil
			}
			return err
		}
	}
	if l.framebuffers == nil {
		fbs, err := NewFramebufferSet(l.device.Device(), l.draw.Pass, l.swapchain.State())
		if err != nil {
			return fatal("build framebuffers", err)
		}
		l.framebuffers = fbs
	}

	start := time.Now()
	image, acquired, err := l.swapchain.Acquire(l.acquireTimeout)
	switch {
	case err == nil:
	case errors.Is(err, ErrOutOfDate):
		l.log.Debug("acquire out of date", zap.Uint64("frame", l.frames))
		l.recreate = true
		return nil
	case errors.Is(err, ErrTimeout):
		l.metrics.timeouts.Inc()
		l.pollEvents()
		return nil
	default:
		return err
	}

	state := l.swapchain.State()
	target, err := l.framebuffers.Target(state, image)
	if err != nil {
		acquired.Release()
		return fatal("select render target", err)
	}
	cmd, err := l.record(target)
	if err != nil {
		acquired.Release()
		return fatal("record commands", err)
	}

	l.frames++
	done, err := l.device.Submit(cmd, l.tracker.Join(acquired))
	if err != nil {
		acquired.Release()
		if errors.Is(err, ErrFatal) {
			return fmt.Errorf("submit frame %d: %w", l.frames, err)
		}
		l.log.Warn("submit failed, frame dropped", zap.Uint64("frame", l.frames), zap.Error(err))
		l.metrics.dropped.Inc()
		if err := l.tracker.Reset(nil); errors.Is(err, ErrFatal) {
			return err
		}
		l.pollEvents()
		return nil
	}
	frame := NewInFlightFrame(l.frames, image, state.Generation, done, acquired)

	err = l.swapchain.Present(l.device.Queue(), image, frame)
	switch {
	case err == nil:
	case errors.Is(err, ErrOutOfDate):
		l.recreate = true
	default:
		l.log.Warn("present failed, frame dropped", zap.Uint64("frame", l.frames), zap.Error(err))
		l.metrics.dropped.Inc()
		if err := l.tracker.Reset(frame); errors.Is(err, ErrFatal) {
			return err
		}
		l.pollEvents()
		return nil
	}

	l.metrics.presented.Inc()
	l.metrics.observeFrame(start)
	if err := l.tracker.Advance(frame); errors.Is(err, ErrFatal) {
		return err
	}
	l.pollEvents()
	return nil
}

func (l *FrameLoop) record(target Framebuffer) (CommandBuffer, error) {
	enc, err := l.device.Device().NewCommandEncoder()
	if err != nil {
		return nil, err
	}
	enc.BindPipeline(l.draw.Pipeline)
	enc.BindVertexBuffer(l.draw.Vertices)
	enc.SetViewport(l.viewport.Viewport())
	enc.BeginRenderPass(l.draw.Pass, target, l.framebuffers.Extent(), l.clearColor)
	enc.Draw(l.draw.VertexCount)
	enc.EndRenderPass()
	return enc.Finish()
}

// recreateSwapchain only runs at an iteration boundary, after every frame
// that references the current generation has retired.
func (l *FrameLoop) recreateSwapchain() error {
	if err := l.tracker.Drain(); errors.Is(err, ErrFatal) {
		return err
	}
	if err := l.device.WaitIdle(); err != nil {
		l.log.Warn("wait idle before recreate", zap.Error(err))
	}
	l.releaseFramebuffers()

	if err := l.swapchain.Recreate(l.viewport.Extent()); err != nil {
		return err
	}
	state := l.swapchain.State()
	if state.Format.Format != l.draw.Format {
		return fmt.Errorf("%w: surface format changed from %d to %d",
			ErrFatal, l.draw.Format, state.Format.Format)
	}

	l.viewport = ViewportState{Width: state.Extent.Width, Height: state.Extent.Height}
	l.recreate = false
	l.retry.Reset()
	l.metrics.recreated.Inc()
	return nil
}

func (l *FrameLoop) pollEvents() {
	for _, ev := range l.platform.PollEvents() {
		switch ev.Kind {
		case EventResize:
			l.viewport = ViewportState{Width: ev.Width, Height: ev.Height}
			l.recreate = true
		case EventCloseRequested:
			l.terminate.Store(true)
		}
	}
}

func (l *FrameLoop) releaseFramebuffers() {
	if l.framebuffers == nil {
		return
	}
	l.framebuffers.Release()
	l.framebuffers = nil
}

// Release drops the current framebuffers. The session calls it during
// teardown after the device is idle.
func (l *FrameLoop) Release() {
	l.releaseFramebuffers()
}
