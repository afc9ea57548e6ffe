package vkdriver

import (
	"fmt"
)

// imageSlots holds one object per swapchain image. A slot is handed out
// again only when its image comes back from acquire, which means the
// previous present of that image has consumed it. A slot marked stale is
// replaced once the queue has gone idle.
type imageSlots[T any] struct {
	items []T
	stale []bool

	create  func() (T, error)
	destroy func(T)
	idle    func() error
}

func newImageSlots[T any](n int, create func() (T, error), destroy func(T), idle func() error) (*imageSlots[T], error) {
	s := &imageSlots[T]{create: create, destroy: destroy, idle: idle}
	for i := 0; i < n; i++ {
		item, err := create()
		if err != nil {
			s.release()
			return nil, err
		}
		s.items = append(s.items, item)
		s.stale = append(s.stale, false)
	}
	return s, nil
}

func (s *imageSlots[T]) get(image uint32) (T, error) {
	var zero T
	if int(image) >= len(s.items) {
		return zero, fmt.Errorf("image %d out of range (%d images)", image, len(s.items))
	}
	if s.stale[image] {
		if err := s.idle(); err != nil {
			return zero, err
		}
		item, err := s.create()
		if err != nil {
			return zero, err
		}
		s.destroy(s.items[image])
		s.items[image] = item
		s.stale[image] = false
	}
	return s.items[image], nil
}

// markStale flags a slot whose pending wait may never run, such as after a
// failed present.
func (s *imageSlots[T]) markStale(image uint32) {
	if int(image) < len(s.stale) {
		s.stale[image] = true
	}
}

// release destroys every slot. Callers idle the device first.
func (s *imageSlots[T]) release() {
	for _, item := range s.items {
		s.destroy(item)
	}
	s.items = nil
	s.stale = nil
}
