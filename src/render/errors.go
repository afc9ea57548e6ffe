package render

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceUnavailable     = errors.New("no device offers graphics and presentation")
	ErrOutOfDate             = errors.New("swapchain out of date")
	ErrUnsupportedDimensions = errors.New("unsupported swapchain dimensions")
	ErrTimeout               = errors.New("timed out")
	ErrPresentFailed         = errors.New("present failed")
	ErrStaleFramebuffers     = errors.New("framebuffers built from a superseded swapchain")
	ErrFatal                 = errors.New("fatal render error")
)

// fatal tags err as ErrFatal unless it already is one.
func fatal(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrFatal) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrFatal, err)
}

// terminal normalises an error that ends a session so the trigger only
// ever sees ErrDeviceUnavailable or ErrFatal.
func terminal(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDeviceUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fatal(op, err)
}
