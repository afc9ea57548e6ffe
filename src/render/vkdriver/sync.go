package vkdriver

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"

	"vkframe/src/render"
)

type queue struct {
	device *device
	handle vk.Queue
}

var _ render.Queue = (*queue)(nil)

// Submit turns the primitives of wait into GPU-side semaphore waits where
// it can. Acquisitions gate the color attachment stage, earlier submissions
// gate the whole pipe, and any other future is waited on the CPU first.
//
// When wait holds an acquisition, the submission also signals that image's
// render-done semaphore for Present.
func (q *queue) Submit(cmd render.CommandBuffer, wait render.Future) (render.Future, error) {
	buf, ok := cmd.(*commandBuffer)
	if !ok {
		return nil, fmt.Errorf("submit: foreign command buffer %T", cmd)
	}

	var (
		semaphores []vk.Semaphore
		stages     []vk.PipelineStageFlags
		chained    []*submission
		target     *acquisition
	)
	// Consumed chain semaphores pass to the new submission only once the
	// queue accepts it; until then fail hands them back.
	fail := func(err error) (render.Future, error) {
		for _, prev := range chained {
			prev.waited = false
		}
		buf.free()
		return nil, err
	}
	for _, part := range render.Flatten(wait) {
		switch f := part.(type) {
		case *acquisition:
			target = f
			semaphores = append(semaphores, f.semaphore)
			stages = append(stages, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit))
		case *submission:
			if f.waited {
				continue
			}
			f.waited = true
			chained = append(chained, f)
			semaphores = append(semaphores, f.chain)
			stages = append(stages, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit))
		default:
			if err := f.Wait(); err != nil {
				return fail(fmt.Errorf("submit: %w", err))
			}
		}
	}

	var renderDone vk.Semaphore
	if target != nil {
		sem, err := target.swapchain.renderDone.get(target.index)
		if err != nil {
			return fail(fmt.Errorf("submit: render semaphore: %w", err))
		}
		renderDone = sem
	}

	sub, err := q.newSubmission(buf)
	if err != nil {
		return fail(err)
	}
	signal := []vk.Semaphore{sub.chain}
	if target != nil {
		sub.renderDone, sub.presentable = renderDone, true
		signal = append(signal, renderDone)
	}
	info := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(semaphores)),
		PWaitSemaphores:      semaphores,
		PWaitDstStageMask:    stages,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{buf.handle},
		SignalSemaphoreCount: uint32(len(signal)),
		PSignalSemaphores:    signal,
	}
	if err := resultError("queue submit",
		vk.QueueSubmit(q.handle, 1, []vk.SubmitInfo{info}, sub.fence)); err != nil {
		sub.destroy()
		return fail(err)
	}
	for _, prev := range chained {
		sub.inherited = append(sub.inherited, prev.chain)
	}
	return sub, nil
}

func (q *queue) waitIdle() error {
	return resultError("queue wait idle", vk.QueueWaitIdle(q.handle))
}

func (q *queue) newSubmission(buf *commandBuffer) (*submission, error) {
	d := q.device
	fence, err := d.newFence()
	if err != nil {
		return nil, err
	}
	chain, err := d.newSemaphore()
	if err != nil {
		vk.DestroyFence(d.handle, fence, nil)
		return nil, err
	}
	return &submission{device: d, fence: fence, chain: chain, cmd: buf}, nil
}

// acquisition completes when the presentation engine hands over an image.
// The semaphore feeds the submission; the fence lets the CPU know when the
// semaphore can be destroyed.
type acquisition struct {
	device    *device
	swapchain *swapchain
	index     uint32
	semaphore vk.Semaphore
	fence     vk.Fence
	done      bool
	released  bool
}

func (a *acquisition) Poll() (bool, error) {
	if a.done || a.released {
		return true, nil
	}
	done, err := a.device.pollFence(a.fence)
	a.done = done
	return done, err
}

func (a *acquisition) Wait() error {
	if a.done || a.released {
		return nil
	}
	if err := a.device.waitFence(a.fence); err != nil {
		return err
	}
	a.done = true
	return nil
}

func (a *acquisition) Release() {
	if a.released {
		return
	}
	_ = a.Wait()
	a.released = true
	vk.DestroyFence(a.device.handle, a.fence, nil)
	vk.DestroySemaphore(a.device.handle, a.semaphore, nil)
}

// submission is one queue submission. chain is consumed by the next
// submission, which then owns it: a semaphore may not be destroyed while a
// queued wait on it is pending, and only the consumer's fence proves the
// wait ran. renderDone belongs to the swapchain image it was signalled for.
type submission struct {
	device      *device
	fence       vk.Fence
	chain       vk.Semaphore
	inherited   []vk.Semaphore
	renderDone  vk.Semaphore
	presentable bool
	cmd         *commandBuffer
	waited      bool
	done        bool
	released    bool
}

func (s *submission) Poll() (bool, error) {
	if s.done || s.released {
		return true, nil
	}
	done, err := s.device.pollFence(s.fence)
	s.done = done
	return done, err
}

func (s *submission) Wait() error {
	if s.done || s.released {
		return nil
	}
	if err := s.device.waitFence(s.fence); err != nil {
		return err
	}
	s.done = true
	return nil
}

func (s *submission) Release() {
	if s.released {
		return
	}
	_ = s.Wait()
	s.destroy()
}

func (s *submission) destroy() {
	s.released = true
	d := s.device
	if !s.waited {
		vk.DestroySemaphore(d.handle, s.chain, nil)
	}
	for _, sem := range s.inherited {
		vk.DestroySemaphore(d.handle, sem, nil)
	}
	s.inherited = nil
	vk.DestroyFence(d.handle, s.fence, nil)
	s.cmd.free()
}
