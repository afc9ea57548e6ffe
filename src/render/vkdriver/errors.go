package vkdriver

import (
	"fmt"
	"runtime"

	vk "github.com/vulkan-go/vulkan"

	"vkframe/src/render"
)

// NewError wraps a failed result together with the function that got it.
func NewError(retVal vk.Result) error {
	if !IsError(retVal) {
		return nil
	}
	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		return fmt.Errorf("vulkan error: %w (%d)", vk.Error(retVal), retVal)
	}
	return fmt.Errorf("vulkan error: %w (%d) on %s",
		vk.Error(retVal), retVal, runtime.FuncForPC(pc).Name())
}

func IsError(retVal vk.Result) bool {
	return retVal != vk.Success
}

// resultError maps the results the frame loop reacts to onto render's
// error kinds. Everything else keeps its vulkan error.
func resultError(op string, retVal vk.Result) error {
	switch retVal {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate:
		return fmt.Errorf("%s: %w: %w", op, render.ErrOutOfDate, vk.Error(retVal))
	case vk.Timeout, vk.NotReady:
		return fmt.Errorf("%s: %w (%d)", op, render.ErrTimeout, retVal)
	case vk.ErrorDeviceLost, vk.ErrorSurfaceLost:
		return fmt.Errorf("%s: %w: %w", op, render.ErrFatal, vk.Error(retVal))
	default:
		return fmt.Errorf("%s: vulkan error: %w (%d)", op, vk.Error(retVal), retVal)
	}
}

// orPanic runs finalizers and panics when err is set. Builders with many
// steps use it together with a deferred checkError.
func orPanic(err error, finalizers ...func()) {
	if err == nil {
		return
	}
	for _, fn := range finalizers {
		fn()
	}
	panic(err)
}

func checkError(err *error) {
	if v := recover(); v != nil {
		if e, ok := v.(error); ok {
			*err = e
			return
		}
		*err = fmt.Errorf("%+v", v)
	}
}
