// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package vk

import (
	vulkan "github.com/vulkan-go/vulkan"

	"github.com/jjzhang166/SakuraEngine/gpu"
	"github.com/jjzhang166/SakuraEngine/internal/memalloc"
)

var formats = map[gpu.Format]vulkan.Format{
	gpu.R8Unorm:        vulkan.FormatR8Unorm,
	gpu.RG8Unorm:       vulkan.FormatR8g8Unorm,
	gpu.RGBA8Unorm:     vulkan.FormatR8g8b8a8Unorm,
	gpu.RGBA8SRGB:      vulkan.FormatR8g8b8a8Srgb,
	gpu.BGRA8Unorm:     vulkan.FormatB8g8r8a8Unorm,
	gpu.BGRA8SRGB:      vulkan.FormatB8g8r8a8Srgb,
	gpu.R16Float:       vulkan.FormatR16Sfloat,
	gpu.RG16Float:      vulkan.FormatR16g16Sfloat,
	gpu.RGBA16Float:    vulkan.FormatR16g16b16a16Sfloat,
	gpu.R32Uint:        vulkan.FormatR32Uint,
	gpu.R32Sint:        vulkan.FormatR32Sint,
	gpu.R32Float:       vulkan.FormatR32Sfloat,
	gpu.RG32Float:      vulkan.FormatR32g32Sfloat,
	gpu.RGB32Float:     vulkan.FormatR32g32b32Sfloat,
	gpu.RGBA32Float:    vulkan.FormatR32g32b32a32Sfloat,
	gpu.D16Unorm:       vulkan.FormatD16Unorm,
	gpu.D32Float:       vulkan.FormatD32Sfloat,
	gpu.D24UnormS8Uint: vulkan.FormatD24UnormS8Uint,
	gpu.D32FloatS8Uint: vulkan.FormatD32SfloatS8Uint,
}

// convFormat converts a gpu.Format into a vulkan.Format.
func convFormat(f gpu.Format) (vulkan.Format, bool) {
	vf, ok := formats[f]
	return vf, ok
}

// unconvFormat converts a vulkan.Format into a gpu.Format.
func unconvFormat(vf vulkan.Format) gpu.Format {
	for f, x := range formats {
		if x == vf {
			return f
		}
	}
	return gpu.FormatUndefined
}

func formatSupport(props *vulkan.FormatProperties) gpu.FormatSupport {
	var s gpu.FormatSupport
	opt := props.OptimalTilingFeatures
	for _, x := range [...]struct {
		bit vulkan.FormatFeatureFlagBits
		sup gpu.FormatSupport
	}{
		{vulkan.FormatFeatureSampledImageBit, gpu.SupportSampled},
		{vulkan.FormatFeatureStorageImageBit, gpu.SupportStorage},
		{vulkan.FormatFeatureColorAttachmentBit, gpu.SupportRenderTarget},
		{vulkan.FormatFeatureDepthStencilAttachmentBit, gpu.SupportDepthStencil},
	} {
		if opt&vulkan.FormatFeatureFlags(x.bit) != 0 {
			s |= x.sup
		}
	}
	buf := props.BufferFeatures
	for _, x := range [...]struct {
		bit vulkan.FormatFeatureFlagBits
		sup gpu.FormatSupport
	}{
		{vulkan.FormatFeatureUniformTexelBufferBit, gpu.SupportUniformTexel},
		{vulkan.FormatFeatureStorageTexelBufferBit, gpu.SupportStorageTexel},
		{vulkan.FormatFeatureVertexBufferBit, gpu.SupportVertex},
	} {
		if buf&vulkan.FormatFeatureFlags(x.bit) != 0 {
			s |= x.sup
		}
	}
	return s
}

// bufferUsage returns the usage flags of a buffer.
// GPU-only and GPU-to-CPU buffers are also transfer
// destinations.
func bufferUsage(desc *gpu.BufferDescriptor) vulkan.BufferUsageFlags {
	u := vulkan.BufferUsageTransferSrcBit
	d := desc.Descriptors
	if d&gpu.ResourceUniformBuffer != 0 {
		u |= vulkan.BufferUsageUniformBufferBit
	}
	if d&(gpu.ResourceBuffer|gpu.ResourceRWBuffer) != 0 {
		u |= vulkan.BufferUsageStorageBufferBit
		if desc.Format != gpu.FormatUndefined {
			if d&gpu.ResourceBuffer != 0 {
				u |= vulkan.BufferUsageUniformTexelBufferBit
			}
			if d&gpu.ResourceRWBuffer != 0 {
				u |= vulkan.BufferUsageStorageTexelBufferBit
			}
		}
	}
	if d&gpu.ResourceVertexBuffer != 0 {
		u |= vulkan.BufferUsageVertexBufferBit
	}
	if d&gpu.ResourceIndexBuffer != 0 {
		u |= vulkan.BufferUsageIndexBufferBit
	}
	if d&gpu.ResourceIndirectBuffer != 0 {
		u |= vulkan.BufferUsageIndirectBufferBit
	}
	switch desc.MemoryUsage {
	case gpu.MemoryGPUOnly, gpu.MemoryGPUToCPU:
		u |= vulkan.BufferUsageTransferDstBit
	}
	return vulkan.BufferUsageFlags(u)
}

// imageUsage returns the usage flags of a texture.
func imageUsage(desc *gpu.TextureDescriptor) vulkan.ImageUsageFlags {
	u := vulkan.ImageUsageTransferSrcBit | vulkan.ImageUsageTransferDstBit
	d := desc.Descriptors
	if d&gpu.ResourceTexture != 0 {
		u |= vulkan.ImageUsageSampledBit
	}
	if d&gpu.ResourceRWTexture != 0 {
		u |= vulkan.ImageUsageStorageBit
	}
	if d&gpu.ResourceRenderTarget != 0 {
		u |= vulkan.ImageUsageColorAttachmentBit
	}
	if d&gpu.ResourceDepthStencil != 0 {
		u |= vulkan.ImageUsageDepthStencilAttachmentBit
	}
	return vulkan.ImageUsageFlags(u)
}

func aspect(f gpu.Format) vulkan.ImageAspectFlags {
	switch {
	case f.HasStencil():
		return vulkan.ImageAspectFlags(vulkan.ImageAspectDepthBit | vulkan.ImageAspectStencilBit)
	case f.IsDepth():
		return vulkan.ImageAspectFlags(vulkan.ImageAspectDepthBit)
	}
	return vulkan.ImageAspectFlags(vulkan.ImageAspectColorBit)
}

func viewType(dim gpu.TextureDimension, layers int) vulkan.ImageViewType {
	switch dim {
	case gpu.Texture1D:
		if layers > 1 {
			return vulkan.ImageViewType1dArray
		}
		return vulkan.ImageViewType1d
	case gpu.Texture3D:
		return vulkan.ImageViewType3d
	case gpu.TextureCube:
		if layers > 6 {
			return vulkan.ImageViewTypeCubeArray
		}
		return vulkan.ImageViewTypeCube
	}
	if layers > 1 {
		return vulkan.ImageViewType2dArray
	}
	return vulkan.ImageViewType2d
}

func filter(f gpu.Filter) vulkan.Filter {
	if f == gpu.FilterLinear {
		return vulkan.FilterLinear
	}
	return vulkan.FilterNearest
}

func mipmapMode(f gpu.Filter) vulkan.SamplerMipmapMode {
	if f == gpu.FilterLinear {
		return vulkan.SamplerMipmapModeLinear
	}
	return vulkan.SamplerMipmapModeNearest
}

func addressMode(m gpu.AddressMode) vulkan.SamplerAddressMode {
	switch m {
	case gpu.AddressMirror:
		return vulkan.SamplerAddressModeMirroredRepeat
	case gpu.AddressClampToEdge:
		return vulkan.SamplerAddressModeClampToEdge
	case gpu.AddressClampToBorder:
		return vulkan.SamplerAddressModeClampToBorder
	}
	return vulkan.SamplerAddressModeRepeat
}

func compareOp(c gpu.CompareFunc) vulkan.CompareOp {
	switch c {
	case gpu.CompareLess:
		return vulkan.CompareOpLess
	case gpu.CompareEqual:
		return vulkan.CompareOpEqual
	case gpu.CompareLessEqual:
		return vulkan.CompareOpLessOrEqual
	case gpu.CompareGreater:
		return vulkan.CompareOpGreater
	case gpu.CompareNotEqual:
		return vulkan.CompareOpNotEqual
	case gpu.CompareGreaterEqual:
		return vulkan.CompareOpGreaterOrEqual
	case gpu.CompareAlways:
		return vulkan.CompareOpAlways
	}
	return vulkan.CompareOpNever
}

// memoryProperties converts the memory properties of a
// physical device.
func memoryProperties(mprop *vulkan.PhysicalDeviceMemoryProperties) memalloc.Properties {
	var props memalloc.Properties
	for i := range mprop.MemoryTypeCount {
		t := mprop.MemoryTypes[i]
		var f memalloc.PropertyFlags
		for _, x := range [...]struct {
			bit  vulkan.MemoryPropertyFlagBits
			flag memalloc.PropertyFlags
		}{
			{vulkan.MemoryPropertyDeviceLocalBit, memalloc.DeviceLocal},
			{vulkan.MemoryPropertyHostVisibleBit, memalloc.HostVisible},
			{vulkan.MemoryPropertyHostCoherentBit, memalloc.HostCoherent},
			{vulkan.MemoryPropertyHostCachedBit, memalloc.HostCached},
		} {
			if t.PropertyFlags&vulkan.MemoryPropertyFlags(x.bit) != 0 {
				f |= x.flag
			}
		}
		props.Types = append(props.Types, memalloc.MemoryType{Flags: f, Heap: int(t.HeapIndex)})
	}
	for i := range mprop.MemoryHeapCount {
		props.Heaps = append(props.Heaps, uint64(mprop.MemoryHeaps[i].Size))
	}
	return props
}
