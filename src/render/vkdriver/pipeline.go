package vkdriver

import (
	"fmt"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"vkframe/src/render"
)

type renderPass struct {
	device   *device
	handle   vk.RenderPass
	released bool
}

func (p *renderPass) Release() {
	if p.released {
		return
	}
	p.released = true
	vk.DestroyRenderPass(p.device.handle, p.handle, nil)
}

// CreateRenderPass builds a single subpass that clears one color attachment
// and leaves it ready for presentation.
func (d *device) CreateRenderPass(format render.Format) (render.RenderPass, error) {
	attachments := []vk.AttachmentDescription{{
		Format:         vk.Format(format),
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutPresentSrc,
	}}
	colorRefs := []vk.AttachmentReference{{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}}
	subpasses := []vk.SubpassDescription{{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments:    colorRefs,
	}}
	// The image layout transition waits for the acquire semaphore, which is
	// signalled at the color output stage.
	dependencies := []vk.SubpassDependency{{
		SrcSubpass:    vk.SubpassExternal,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
	}}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}
	var handle vk.RenderPass
	if err := NewError(vk.CreateRenderPass(d.handle, &info, nil, &handle)); err != nil {
		return nil, fmt.Errorf("create render pass: %w", err)
	}
	return &renderPass{device: d, handle: handle}, nil
}

type pipeline struct {
	device   *device
	handle   vk.Pipeline
	layout   vk.PipelineLayout
	released bool
}

func (p *pipeline) Release() {
	if p.released {
		return
	}
	p.released = true
	vk.DestroyPipeline(p.device.handle, p.handle, nil)
	vk.DestroyPipelineLayout(p.device.handle, p.layout, nil)
}

// CreatePipeline builds the triangle pipeline for pass. Viewport and scissor
// are dynamic so a resize only rebuilds framebuffers.
func (d *device) CreatePipeline(p render.RenderPass) (_ render.Pipeline, err error) {
	defer checkError(&err)

	pass, ok := p.(*renderPass)
	if !ok {
		return nil, fmt.Errorf("create pipeline: foreign render pass %T", p)
	}

	vertex, err := d.createShaderModule(d.driver.vertexCode)
	orPanic(err)
	defer vk.DestroyShaderModule(d.handle, vertex, nil)
	fragment, err := d.createShaderModule(d.driver.fragmentCode)
	orPanic(err)
	defer vk.DestroyShaderModule(d.handle, fragment, nil)

	stages := []vk.PipelineShaderStageCreateInfo{{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageVertexBit,
		Module: vertex,
		PName:  safeString("main"),
	}, {
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageFragmentBit,
		Module: fragment,
		PName:  safeString("main"),
	}}

	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                         vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount: 1,
		PVertexBindingDescriptions: []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    vertexStride,
			InputRate: vk.VertexInputRateVertex,
		}},
		VertexAttributeDescriptionCount: 1,
		PVertexAttributeDescriptions: []vk.VertexInputAttributeDescription{{
			Binding:  0,
			Location: 0,
			Format:   vk.FormatR32g32Sfloat,
			Offset:   0,
		}},
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	raster := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		CullMode:                vk.CullModeFlags(vk.CullModeNone),
		FrontFace:               vk.FrontFaceClockwise,
		DepthBiasEnable:         vk.False,
		LineWidth:               1,
	}
	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		SampleShadingEnable:  vk.False,
		PSampleMask:          []vk.SampleMask{vk.SampleMask(vk.MaxUint32)},
	}
	blend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments: []vk.PipelineColorBlendAttachmentState{{
			ColorWriteMask: vk.ColorComponentFlags(
				vk.ColorComponentRBit | vk.ColorComponentGBit |
					vk.ColorComponentBBit | vk.ColorComponentABit,
			),
			BlendEnable: vk.False,
		}},
	}
	dynamic := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: 2,
		PDynamicStates:    []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor},
	}

	var layout vk.PipelineLayout
	layoutInfo := vk.PipelineLayoutCreateInfo{SType: vk.StructureTypePipelineLayoutCreateInfo}
	orPanic(NewError(vk.CreatePipelineLayout(d.handle, &layoutInfo, nil, &layout)))

	infos := []vk.GraphicsPipelineCreateInfo{{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &raster,
		PMultisampleState:   &multisample,
		PColorBlendState:    &blend,
		PDynamicState:       &dynamic,
		Layout:              layout,
		RenderPass:          pass.handle,
	}}
	var cache vk.PipelineCache
	handles := make([]vk.Pipeline, 1)
	orPanic(NewError(vk.CreateGraphicsPipelines(d.handle, cache, 1, infos, nil, handles)), func() {
		vk.DestroyPipelineLayout(d.handle, layout, nil)
	})
	return &pipeline{device: d, handle: handles[0], layout: layout}, nil
}

type buffer struct {
	device   *device
	handle   vk.Buffer
	memory   vk.DeviceMemory
	released bool
}

func (b *buffer) Release() {
	if b.released {
		return
	}
	b.released = true
	vk.DestroyBuffer(b.device.handle, b.handle, nil)
	vk.FreeMemory(b.device.handle, b.memory, nil)
}

// CreateVertexBuffer uploads vertices into host visible memory. The data is
// written once, so no staging copy is made.
func (d *device) CreateVertexBuffer(vertices []render.Vertex) (_ render.Buffer, err error) {
	defer checkError(&err)

	data := vertexBytes(vertices)
	if len(data) == 0 {
		return nil, fmt.Errorf("create vertex buffer: no vertices")
	}
	info := vk.BufferCreateInfo{
		SType:                 vk.StructureTypeBufferCreateInfo,
		Size:                  vk.DeviceSize(len(data)),
		Usage:                 vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit),
		SharingMode:           vk.SharingModeExclusive,
		QueueFamilyIndexCount: 1,
		PQueueFamilyIndices:   []uint32{d.family},
	}
	var handle vk.Buffer
	orPanic(NewError(vk.CreateBuffer(d.handle, &info, nil, &handle)))
	destroyBuffer := func() { vk.DestroyBuffer(d.handle, handle, nil) }

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.handle, handle, &req)
	req.Deref()
	typeIndex, ok := vk.FindMemoryTypeIndex(d.gpu, req.MemoryTypeBits,
		vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	if !ok {
		orPanic(fmt.Errorf("create vertex buffer: no host visible memory"), destroyBuffer)
	}
	alloc := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: typeIndex,
	}
	var memory vk.DeviceMemory
	orPanic(NewError(vk.AllocateMemory(d.handle, &alloc, nil, &memory)), destroyBuffer)
	freeMemory := func() { vk.FreeMemory(d.handle, memory, nil) }

	var mapped unsafe.Pointer
	orPanic(NewError(vk.MapMemory(d.handle, memory, 0, vk.DeviceSize(len(data)), 0, &mapped)),
		destroyBuffer, freeMemory)
	if n := vk.Memcopy(mapped, data); n != len(data) {
		vk.UnmapMemory(d.handle, memory)
		orPanic(fmt.Errorf("create vertex buffer: copied %d of %d bytes", n, len(data)),
			destroyBuffer, freeMemory)
	}
	vk.UnmapMemory(d.handle, memory)
	orPanic(NewError(vk.BindBufferMemory(d.handle, handle, memory, 0)), destroyBuffer, freeMemory)

	return &buffer{device: d, handle: handle, memory: memory}, nil
}

type framebuffer struct {
	device   *device
	handle   vk.Framebuffer
	view     vk.ImageView
	released bool
}

func (f *framebuffer) Release() {
	if f.released {
		return
	}
	f.released = true
	vk.DestroyFramebuffer(f.device.handle, f.handle, nil)
	vk.DestroyImageView(f.device.handle, f.view, nil)
}

func (d *device) CreateFramebuffer(p render.RenderPass, img render.Image, format render.Format, extent render.Extent) (render.Framebuffer, error) {
	pass, ok := p.(*renderPass)
	if !ok {
		return nil, fmt.Errorf("create framebuffer: foreign render pass %T", p)
	}
	target, ok := img.(*image)
	if !ok {
		return nil, fmt.Errorf("create framebuffer: foreign image %T", img)
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    target.handle,
		ViewType: vk.ImageViewType2d,
		Format:   vk.Format(format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleR,
			G: vk.ComponentSwizzleG,
			B: vk.ComponentSwizzleB,
			A: vk.ComponentSwizzleA,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if err := NewError(vk.CreateImageView(d.handle, &viewInfo, nil, &view)); err != nil {
		return nil, fmt.Errorf("create image view %d: %w", target.index, err)
	}

	fbInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass.handle,
		AttachmentCount: 1,
		PAttachments:    []vk.ImageView{view},
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}
	var handle vk.Framebuffer
	if err := NewError(vk.CreateFramebuffer(d.handle, &fbInfo, nil, &handle)); err != nil {
		vk.DestroyImageView(d.handle, view, nil)
		return nil, fmt.Errorf("create framebuffer %d: %w", target.index, err)
	}
	return &framebuffer{device: d, handle: handle, view: view}, nil
}
