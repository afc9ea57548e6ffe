// Command vkframe opens a window and renders a triangle until it is closed.
//
// The shaders are loaded as SPIR-V from the paths in the config
// (shaders/triangle.{vert,frag}.spv by default). Those files are not
// checked in; produce them from the GLSL sources with
//
//	go generate ./src/cmd/vkframe
//
// which runs glslangValidator from the Vulkan SDK.
package main

//go:generate glslangValidator -V ../../../shaders/triangle.vert -o ../../../shaders/triangle.vert.spv
//go:generate glslangValidator -V ../../../shaders/triangle.frag -o ../../../shaders/triangle.frag.spv

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vkframe/src/config"
	"vkframe/src/logger"
	"vkframe/src/platform/window"
	"vkframe/src/render"
	"vkframe/src/render/vkdriver"
)

// Window systems want their calls on the thread that started the process.
func init() {
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "vkframe:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Config{
		Environment: cfg.Environment,
		LogLevel:    cfg.LogLevel,
		ServiceName: "vkframe",
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := render.NewMetrics(reg)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		srv := newMetricsServer(cfg.MetricsAddr, reg)
		g.Go(func() error {
			log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	backend := window.Backend(vkdriver.Options{
		AppName:        cfg.Window.Title,
		Validation:     cfg.Render.Validation,
		VertexShader:   cfg.Shaders.Vertex,
		FragmentShader: cfg.Shaders.Fragment,
	}, log)
	session := render.NewSession(cfg.ToSession(), backend,
		render.WithLogger(log),
		render.WithMetrics(metrics))

	// The session owns the main thread until the window closes, a signal
	// arrives or the metrics listener fails.
	sessionErr := session.Run(gctx)
	cancel()
	groupErr := g.Wait()
	return errors.Join(sessionErr, groupErr)
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}
