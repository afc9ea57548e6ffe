package vkdriver

import (
	"errors"
	"fmt"

	vk "github.com/vulkan-go/vulkan"

	"vkframe/src/render"
)

// commandBuffer is a finished recording. The submission that consumes it
// frees it.
type commandBuffer struct {
	device *device
	handle vk.CommandBuffer
	freed  bool
}

func (c *commandBuffer) free() {
	if c.freed {
		return
	}
	c.freed = true
	vk.FreeCommandBuffers(c.device.handle, c.device.pool, 1, []vk.CommandBuffer{c.handle})
}

// encoder records one frame. Handles of the wrong driver are collected and
// reported by Finish rather than at each call.
type encoder struct {
	buf  *commandBuffer
	errs []error
	open bool
}

var _ render.CommandEncoder = (*encoder)(nil)

func (d *device) NewCommandEncoder() (render.CommandEncoder, error) {
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	handles := make([]vk.CommandBuffer, 1)
	if err := NewError(vk.AllocateCommandBuffers(d.handle, &info, handles)); err != nil {
		return nil, fmt.Errorf("allocate command buffer: %w", err)
	}
	buf := &commandBuffer{device: d, handle: handles[0]}

	begin := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := NewError(vk.BeginCommandBuffer(buf.handle, &begin)); err != nil {
		buf.free()
		return nil, fmt.Errorf("begin command buffer: %w", err)
	}
	return &encoder{buf: buf}, nil
}

func (e *encoder) fail(op string, v interface{}) {
	e.errs = append(e.errs, fmt.Errorf("%s: foreign handle %T", op, v))
}

func (e *encoder) BindPipeline(p render.Pipeline) {
	pl, ok := p.(*pipeline)
	if !ok {
		e.fail("bind pipeline", p)
		return
	}
	vk.CmdBindPipeline(e.buf.handle, vk.PipelineBindPointGraphics, pl.handle)
}

func (e *encoder) BindVertexBuffer(b render.Buffer) {
	vb, ok := b.(*buffer)
	if !ok {
		e.fail("bind vertex buffer", b)
		return
	}
	vk.CmdBindVertexBuffers(e.buf.handle, 0, 1, []vk.Buffer{vb.handle}, []vk.DeviceSize{0})
}

func (e *encoder) SetViewport(v render.Viewport) {
	vk.CmdSetViewport(e.buf.handle, 0, 1, []vk.Viewport{{
		X:        v.X,
		Y:        v.Y,
		Width:    v.Width,
		Height:   v.Height,
		MinDepth: v.MinDepth,
		MaxDepth: v.MaxDepth,
	}})
	vk.CmdSetScissor(e.buf.handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: int32(v.X), Y: int32(v.Y)},
		Extent: vk.Extent2D{Width: uint32(v.Width), Height: uint32(v.Height)},
	}})
}

func (e *encoder) BeginRenderPass(p render.RenderPass, target render.Framebuffer, area render.Extent, clear [4]float32) {
	pass, ok := p.(*renderPass)
	if !ok {
		e.fail("begin render pass", p)
		return
	}
	fb, ok := target.(*framebuffer)
	if !ok {
		e.fail("begin render pass", target)
		return
	}
	info := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass.handle,
		Framebuffer: fb.handle,
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{Width: area.Width, Height: area.Height},
		},
		ClearValueCount: 1,
		PClearValues:    []vk.ClearValue{vk.NewClearValue(clear[:])},
	}
	vk.CmdBeginRenderPass(e.buf.handle, &info, vk.SubpassContentsInline)
	e.open = true
}

func (e *encoder) Draw(vertexCount uint32) {
	if !e.open {
		e.errs = append(e.errs, errors.New("draw outside a render pass"))
		return
	}
	vk.CmdDraw(e.buf.handle, vertexCount, 1, 0, 0)
}

func (e *encoder) EndRenderPass() {
	if !e.open {
		return
	}
	e.open = false
	vk.CmdEndRenderPass(e.buf.handle)
}

func (e *encoder) Finish() (render.CommandBuffer, error) {
	if err := errors.Join(e.errs...); err != nil {
		e.buf.free()
		return nil, err
	}
	if err := NewError(vk.EndCommandBuffer(e.buf.handle)); err != nil {
		e.buf.free()
		return nil, fmt.Errorf("end command buffer: %w", err)
	}
	return e.buf, nil
}
