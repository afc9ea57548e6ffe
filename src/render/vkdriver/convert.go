package vkdriver

import (
	"encoding/binary"
	"math"

	vk "github.com/vulkan-go/vulkan"

	"vkframe/src/render"
)

// undefinedExtent is the special value a surface reports when the
// swapchain decides the window size.
const undefinedExtent = 0xFFFFFFFF

// safeString null-terminates s for the C side of the bindings.
func safeString(s string) string {
	if len(s) > 0 && s[len(s)-1] == 0 {
		return s
	}
	return s + "\x00"
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = safeString(s)
	}
	return out
}

func toExtent(e vk.Extent2D) render.Extent {
	return render.Extent{Width: e.Width, Height: e.Height}
}

func toCapabilities(caps vk.SurfaceCapabilities) render.SurfaceCapabilities {
	return render.SurfaceCapabilities{
		MinImageCount:    caps.MinImageCount,
		MaxImageCount:    caps.MaxImageCount,
		CurrentExtent:    toExtent(caps.CurrentExtent),
		HasCurrentExtent: caps.CurrentExtent.Width != undefinedExtent,
		MinExtent:        toExtent(caps.MinImageExtent),
		MaxExtent:        toExtent(caps.MaxImageExtent),
		CurrentTransform: render.SurfaceTransform(caps.CurrentTransform),
		CompositeAlpha:   alphaModes(vk.CompositeAlphaFlagBits(caps.SupportedCompositeAlpha)),
	}
}

// alphaModes lists the set bits of mask in ascending bit order.
func alphaModes(mask vk.CompositeAlphaFlagBits) []render.CompositeAlpha {
	var out []render.CompositeAlpha
	for _, bit := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if mask&bit != 0 {
			out = append(out, render.CompositeAlpha(bit))
		}
	}
	return out
}

// surfaceFormats keeps the driver's order. A lone undefined format means
// the surface takes anything.
func surfaceFormats(formats []vk.SurfaceFormat) []render.SurfaceFormat {
	if len(formats) == 1 && formats[0].Format == vk.FormatUndefined {
		return []render.SurfaceFormat{{
			Format:     render.Format(vk.FormatB8g8r8a8Unorm),
			ColorSpace: render.ColorSpace(formats[0].ColorSpace),
		}}
	}
	out := make([]render.SurfaceFormat, 0, len(formats))
	for _, f := range formats {
		out = append(out, render.SurfaceFormat{
			Format:     render.Format(f.Format),
			ColorSpace: render.ColorSpace(f.ColorSpace),
		})
	}
	return out
}

func presentModes(modes []vk.PresentMode) []render.PresentMode {
	out := make([]render.PresentMode, 0, len(modes))
	for _, m := range modes {
		out = append(out, render.PresentMode(m))
	}
	return out
}

func deviceKind(t vk.PhysicalDeviceType) string {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "cpu"
	default:
		return "other"
	}
}

// vertexBytes packs vertices as consecutive little-endian float32 pairs,
// the layout the pipeline's vertex input describes.
func vertexBytes(vertices []render.Vertex) []byte {
	out := make([]byte, len(vertices)*vertexStride)
	for i, v := range vertices {
		binary.LittleEndian.PutUint32(out[i*vertexStride:], math.Float32bits(v.X))
		binary.LittleEndian.PutUint32(out[i*vertexStride+4:], math.Float32bits(v.Y))
	}
	return out
}

const vertexStride = 8
