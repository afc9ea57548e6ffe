// Package config loads the vkframe configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"vkframe/src/logger"
	"vkframe/src/render"
)

const envPrefix = "VKFRAME_"

type Config struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	// MetricsAddr enables the /metrics listener when set.
	MetricsAddr string `yaml:"metrics_addr"`

	Window struct {
		Title  string `yaml:"title"`
		Width  int    `yaml:"width"`
		Height int    `yaml:"height"`
	} `yaml:"window"`

	Render struct {
		AcquireTimeout time.Duration `yaml:"acquire_timeout"`
		PresentMode    string        `yaml:"present_mode"`
		ClearColor     []float32     `yaml:"clear_color"`
		Validation     bool          `yaml:"validation"`
		Vertices       [][2]float32  `yaml:"vertices"`
	} `yaml:"render"`

	Shaders struct {
		Vertex   string `yaml:"vertex"`
		Fragment string `yaml:"fragment"`
	} `yaml:"shaders"`
}

// Load reads path, applies VKFRAME_* overrides from the process environment
// and fills defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	str("ENVIRONMENT", &c.Environment)
	str("LOG_LEVEL", &c.LogLevel)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("WINDOW_TITLE", &c.Window.Title)
	str("PRESENT_MODE", &c.Render.PresentMode)
	str("VERTEX_SHADER", &c.Shaders.Vertex)
	str("FRAGMENT_SHADER", &c.Shaders.Fragment)

	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	integer("WINDOW_WIDTH", &c.Window.Width)
	integer("WINDOW_HEIGHT", &c.Window.Height)

	if v, ok := lookup(envPrefix + "ACQUIRE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sACQUIRE_TIMEOUT: %w", envPrefix, err))
		} else {
			c.Render.AcquireTimeout = d
		}
	}
	if v, ok := lookup(envPrefix + "VALIDATION"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sVALIDATION: %w", envPrefix, err))
		} else {
			c.Render.Validation = b
		}
	}
	return errors.Join(errs...)
}

func (c *Config) applyDefaults() {
	def := render.DefaultSessionConfig()
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Window.Title == "" {
		c.Window.Title = def.Title
	}
	if c.Window.Width == 0 {
		c.Window.Width = int(def.Width)
	}
	if c.Window.Height == 0 {
		c.Window.Height = int(def.Height)
	}
	// A zero acquire timeout is meaningful (block until an image is free)
	// and is left alone.
	if c.Render.PresentMode == "" {
		c.Render.PresentMode = def.PresentMode.String()
	}
	if len(c.Render.ClearColor) == 0 {
		c.Render.ClearColor = def.ClearColor[:]
	}
	// The .spv files are build outputs of `go generate ./src/cmd/vkframe`.
	if c.Shaders.Vertex == "" {
		c.Shaders.Vertex = "shaders/triangle.vert.spv"
	}
	if c.Shaders.Fragment == "" {
		c.Shaders.Fragment = "shaders/triangle.frag.spv"
	}
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		errs = append(errs, fmt.Errorf("window: size %dx%d must be positive", c.Window.Width, c.Window.Height))
	}
	if c.Render.AcquireTimeout < 0 {
		errs = append(errs, fmt.Errorf("render.acquire_timeout: %s is negative", c.Render.AcquireTimeout))
	}
	if _, err := render.ParsePresentMode(c.Render.PresentMode); err != nil {
		errs = append(errs, fmt.Errorf("render.present_mode: %w", err))
	}
	if len(c.Render.ClearColor) != 4 {
		errs = append(errs, fmt.Errorf("render.clear_color: want 4 components, got %d", len(c.Render.ClearColor)))
	}
	for i, v := range c.Render.ClearColor {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("render.clear_color[%d]: %v out of [0,1]", i, v))
		}
	}
	if n := len(c.Render.Vertices); n != 0 && n%3 != 0 {
		errs = append(errs, fmt.Errorf("render.vertices: %d is not a whole number of triangles", n))
	}
	return errors.Join(errs...)
}

// ToSession converts a validated configuration.
func (c *Config) ToSession() render.SessionConfig {
	out := render.DefaultSessionConfig()
	out.Title = c.Window.Title
	out.Width = uint32(c.Window.Width)
	out.Height = uint32(c.Window.Height)
	out.AcquireTimeout = c.Render.AcquireTimeout
	if mode, err := render.ParsePresentMode(c.Render.PresentMode); err == nil {
		out.PresentMode = mode
	}
	copy(out.ClearColor[:], c.Render.ClearColor)
	for _, v := range c.Render.Vertices {
		out.Vertices = append(out.Vertices, render.Vertex{X: v[0], Y: v[1]})
	}
	return out
}
