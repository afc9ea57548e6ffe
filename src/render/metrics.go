package render

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by every session of a process.
type Metrics struct {
	FramesPresented      *prometheus.CounterVec
	FramesDropped        *prometheus.CounterVec
	SwapchainRecreations *prometheus.CounterVec
	AcquireTimeouts      *prometheus.CounterVec
	FrameDuration        *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesPresented: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vkframe_frames_presented_total",
				Help: "Frames handed to the presentation engine",
			},
			[]string{"session"},
		),
		FramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vkframe_frames_dropped_total",
				Help: "Frames abandoned after a failed submit or present",
			},
			[]string{"session"},
		),
		SwapchainRecreations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vkframe_swapchain_recreations_total",
				Help: "Swapchain rebuilds after invalidation or resize",
			},
			[]string{"session"},
		),
		AcquireTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vkframe_acquire_timeouts_total",
				Help: "Image acquisitions that timed out",
			},
			[]string{"session"},
		),
		FrameDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vkframe_frame_duration_seconds",
				Help:    "CPU time from acquire to present",
				Buckets: []float64{.001, .002, .004, .008, .016, .033, .066, .1, .25},
			},
			[]string{"session"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.FramesPresented,
			m.FramesDropped,
			m.SwapchainRecreations,
			m.AcquireTimeouts,
			m.FrameDuration,
		)
	}
	return m
}

type sessionMetrics struct {
	presented prometheus.Counter
	dropped   prometheus.Counter
	recreated prometheus.Counter
	timeouts  prometheus.Counter
	duration  prometheus.Observer
}

func (m *Metrics) session(id string) *sessionMetrics {
	if m == nil {
		m = NewMetrics(nil)
	}
	return &sessionMetrics{
		presented: m.FramesPresented.WithLabelValues(id),
		dropped:   m.FramesDropped.WithLabelValues(id),
		recreated: m.SwapchainRecreations.WithLabelValues(id),
		timeouts:  m.AcquireTimeouts.WithLabelValues(id),
		duration:  m.FrameDuration.WithLabelValues(id),
	}
}

func (s *sessionMetrics) observeFrame(start time.Time) {
	s.duration.Observe(time.Since(start).Seconds())
}
