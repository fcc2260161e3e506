// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package wgpu

import (
	"github.com/gogpu/gputypes"

	"github.com/jjzhang166/SakuraEngine/gpu"
)

// RGB32Float has no counterpart.
var formats = map[gpu.Format]gputypes.TextureFormat{
	gpu.R8Unorm:        gputypes.TextureFormatR8Unorm,
	gpu.RG8Unorm:       gputypes.TextureFormatRG8Unorm,
	gpu.RGBA8Unorm:     gputypes.TextureFormatRGBA8Unorm,
	gpu.RGBA8SRGB:      gputypes.TextureFormatRGBA8UnormSrgb,
	gpu.BGRA8Unorm:     gputypes.TextureFormatBGRA8Unorm,
	gpu.BGRA8SRGB:      gputypes.TextureFormatBGRA8UnormSrgb,
	gpu.R16Float:       gputypes.TextureFormatR16Float,
	gpu.RG16Float:      gputypes.TextureFormatRG16Float,
	gpu.RGBA16Float:    gputypes.TextureFormatRGBA16Float,
	gpu.R32Uint:        gputypes.TextureFormatR32Uint,
	gpu.R32Sint:        gputypes.TextureFormatR32Sint,
	gpu.R32Float:       gputypes.TextureFormatR32Float,
	gpu.RG32Float:      gputypes.TextureFormatRG32Float,
	gpu.RGBA32Float:    gputypes.TextureFormatRGBA32Float,
	gpu.D16Unorm:       gputypes.TextureFormatDepth16Unorm,
	gpu.D32Float:       gputypes.TextureFormatDepth32Float,
	gpu.D24UnormS8Uint: gputypes.TextureFormatDepth24PlusStencil8,
	gpu.D32FloatS8Uint: gputypes.TextureFormatDepth32FloatStencil8,
}

func convFormat(f gpu.Format) (gputypes.TextureFormat, bool) {
	x, ok := formats[f]
	return x, ok
}

// formatSupport returns the capabilities that WebGPU
// guarantees for f.
// Texel buffers do not exist, so they are never reported.
func formatSupport(f gpu.Format) gpu.FormatSupport {
	if _, ok := formats[f]; !ok {
		if f == gpu.RGB32Float {
			return gpu.SupportVertex
		}
		return 0
	}
	if f.IsDepth() {
		return gpu.SupportSampled | gpu.SupportDepthStencil
	}
	s := gpu.SupportSampled | gpu.SupportRenderTarget | gpu.SupportVertex
	switch f {
	case gpu.RGBA8Unorm, gpu.RGBA16Float, gpu.R32Uint, gpu.R32Sint, gpu.R32Float, gpu.RG32Float, gpu.RGBA32Float:
		s |= gpu.SupportStorage
	case gpu.BGRA8SRGB, gpu.RGBA8SRGB:
		s &^= gpu.SupportVertex
	}
	return s
}

// bufferUsage restricts readback buffers to copy
// destinations, which is the only usage that may be
// combined with read mapping.
func bufferUsage(desc *gpu.BufferDescriptor) gputypes.BufferUsage {
	if desc.MemoryUsage == gpu.MemoryGPUToCPU {
		return gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	}
	u := gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	d := desc.Descriptors
	if d&gpu.ResourceUniformBuffer != 0 {
		u |= gputypes.BufferUsageUniform
	}
	if d&(gpu.ResourceBuffer|gpu.ResourceRWBuffer) != 0 {
		u |= gputypes.BufferUsageStorage
	}
	if d&gpu.ResourceVertexBuffer != 0 {
		u |= gputypes.BufferUsageVertex
	}
	if d&gpu.ResourceIndexBuffer != 0 {
		u |= gputypes.BufferUsageIndex
	}
	if d&gpu.ResourceIndirectBuffer != 0 {
		u |= gputypes.BufferUsageIndirect
	}
	return u
}

func textureUsage(desc *gpu.TextureDescriptor) gputypes.TextureUsage {
	u := gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
	d := desc.Descriptors
	if d&gpu.ResourceTexture != 0 {
		u |= gputypes.TextureUsageTextureBinding
	}
	if d&gpu.ResourceRWTexture != 0 {
		u |= gputypes.TextureUsageStorageBinding
	}
	if d&(gpu.ResourceRenderTarget|gpu.ResourceDepthStencil) != 0 {
		u |= gputypes.TextureUsageRenderAttachment
	}
	return u
}

func viewDimension(dim gpu.TextureDimension, layers int) gputypes.TextureViewDimension {
	switch dim {
	case gpu.Texture1D:
		return gputypes.TextureViewDimension1D
	case gpu.Texture3D:
		return gputypes.TextureViewDimension3D
	case gpu.TextureCube:
		if layers > 6 {
			return gputypes.TextureViewDimensionCubeArray
		}
		return gputypes.TextureViewDimensionCube
	}
	if layers > 1 {
		return gputypes.TextureViewDimension2DArray
	}
	return gputypes.TextureViewDimension2D
}

// addressMode maps clamp-to-border to clamp-to-edge, which
// is the closest mode available.
func addressMode(m gpu.AddressMode) gputypes.AddressMode {
	switch m {
	case gpu.AddressMirror:
		return gputypes.AddressModeMirrorRepeat
	case gpu.AddressClampToEdge, gpu.AddressClampToBorder:
		return gputypes.AddressModeClampToEdge
	}
	return gputypes.AddressModeRepeat
}

func filterMode(f gpu.Filter) gputypes.FilterMode {
	if f == gpu.FilterLinear {
		return gputypes.FilterModeLinear
	}
	return gputypes.FilterModeNearest
}
