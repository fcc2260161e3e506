// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package vk

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vulkan "github.com/vulkan-go/vulkan"

	"github.com/jjzhang166/SakuraEngine/gpu"
	"github.com/jjzhang166/SakuraEngine/internal/memalloc"
)

// usage converts a gpu.MemoryUsage into a memalloc.Usage.
func usage(u gpu.MemoryUsage) memalloc.Usage {
	switch u {
	case gpu.MemoryGPUOnly:
		return memalloc.UsageGPUOnly
	case gpu.MemoryCPUOnly:
		return memalloc.UsageCPUOnly
	case gpu.MemoryCPUToGPU:
		return memalloc.UsageCPUToGPU
	case gpu.MemoryGPUToCPU:
		return memalloc.UsageGPUToCPU
	}
	return memalloc.UsageUnknown
}

// requirements converts VkMemoryRequirements.
func requirements(req *vulkan.MemoryRequirements, optimal bool) memalloc.Requirements {
	req.Deref()
	return memalloc.Requirements{
		Size:      uint64(req.Size),
		Alignment: uint64(req.Alignment),
		TypeBits:  req.MemoryTypeBits,
		Optimal:   optimal,
	}
}

type buffer struct {
	d   *device
	buf vulkan.Buffer
	al  *memalloc.Allocation
}

func (p *procs) CreateBuffer(dn gpu.Native, desc *gpu.BufferDescriptor, size uint64) (gpu.Native, []byte, error) {
	d := dn.(*device)
	info := vulkan.BufferCreateInfo{
		SType:       vulkan.StructureTypeBufferCreateInfo,
		Size:        vulkan.DeviceSize(size),
		Usage:       bufferUsage(desc),
		SharingMode: vulkan.SharingModeExclusive,
	}
	var buf vulkan.Buffer
	if err := checkResult(vulkan.CreateBuffer(d.dev, &info, nil, &buf)); err != nil {
		return nil, nil, err
	}
	var req vulkan.MemoryRequirements
	vulkan.GetBufferMemoryRequirements(d.dev, buf, &req)
	var flags memalloc.Flags
	if desc.Flags&gpu.BufferDedicated != 0 {
		flags |= memalloc.Dedicated
	}
	if desc.Flags&gpu.BufferPersistentMap != 0 {
		flags |= memalloc.Mapped
	}
	al, err := d.alloc.Allocate(requirements(&req, false), usage(desc.MemoryUsage), flags)
	if err != nil {
		vulkan.DestroyBuffer(d.dev, buf, nil)
		return nil, nil, err
	}
	mem := al.Memory().(*memory)
	if err := checkResult(vulkan.BindBufferMemory(d.dev, buf, mem.mem, vulkan.DeviceSize(al.Offset()))); err != nil {
		d.alloc.Free(al)
		vulkan.DestroyBuffer(d.dev, buf, nil)
		return nil, nil, err
	}
	return &buffer{d: d, buf: buf, al: al}, al.Mapped(), nil
}

func (p *procs) MapBuffer(bn gpu.Native) ([]byte, error) {
	b := bn.(*buffer)
	s, err := b.d.alloc.Map(b.al)
	if errors.Is(err, memalloc.ErrNotMappable) {
		return nil, errors.Wrap(gpu.ErrUnsupported, "vk: buffer memory is not host visible")
	}
	return s, err
}

func (p *procs) UnmapBuffer(bn gpu.Native) {
	b := bn.(*buffer)
	b.d.alloc.Unmap(b.al)
}

func (p *procs) FreeBuffer(bn gpu.Native) {
	b := bn.(*buffer)
	vulkan.DestroyBuffer(b.d.dev, b.buf, nil)
	b.d.alloc.Free(b.al)
}

type texelView struct {
	d    *device
	view vulkan.BufferView
}

func (p *procs) CreateTexelView(bn gpu.Native, desc *gpu.TexelViewDescriptor) (gpu.Native, error) {
	b := bn.(*buffer)
	f, ok := convFormat(desc.Format)
	if !ok {
		return nil, errors.Wrapf(gpu.ErrUnsupported, "vk: texel format %v", desc.Format)
	}
	info := vulkan.BufferViewCreateInfo{
		SType:  vulkan.StructureTypeBufferViewCreateInfo,
		Buffer: b.buf,
		Format: f,
		Offset: vulkan.DeviceSize(desc.Offset),
		Range:  vulkan.DeviceSize(desc.Range),
	}
	var view vulkan.BufferView
	if err := checkResult(vulkan.CreateBufferView(b.d.dev, &info, nil, &view)); err != nil {
		return nil, err
	}
	return &texelView{d: b.d, view: view}, nil
}

func (p *procs) FreeTexelView(vn gpu.Native) {
	v := vn.(*texelView)
	vulkan.DestroyBufferView(v.d.dev, v.view, nil)
}

type texture struct {
	d   *device
	img vulkan.Image
	// Swapchain images have no allocation and are not
	// destroyed through FreeTexture.
	al     *memalloc.Allocation
	format gpu.Format
	layers int
}

func (p *procs) CreateTexture(dn gpu.Native, desc *gpu.TextureDescriptor) (gpu.Native, error) {
	d := dn.(*device)
	f, ok := convFormat(desc.Format)
	if !ok {
		return nil, errors.Wrapf(gpu.ErrUnsupported, "vk: texture format %v", desc.Format)
	}
	info := vulkan.ImageCreateInfo{
		SType:     vulkan.StructureTypeImageCreateInfo,
		ImageType: vulkan.ImageType2d,
		Format:    f,
		Extent: vulkan.Extent3D{
			Width:  uint32(desc.Width),
			Height: uint32(desc.Height),
			Depth:  1,
		},
		MipLevels:     uint32(desc.MipLevels),
		ArrayLayers:   uint32(desc.ArraySize),
		Samples:       vulkan.SampleCountFlagBits(desc.SampleCount),
		Tiling:        vulkan.ImageTilingOptimal,
		Usage:         imageUsage(desc),
		SharingMode:   vulkan.SharingModeExclusive,
		InitialLayout: vulkan.ImageLayoutUndefined,
	}
	switch desc.Dimension {
	case gpu.Texture1D:
		info.ImageType = vulkan.ImageType1d
		info.Extent.Height = 1
	case gpu.Texture3D:
		info.ImageType = vulkan.ImageType3d
		info.Extent.Depth = uint32(desc.Depth)
	case gpu.TextureCube:
		info.Flags = vulkan.ImageCreateFlags(vulkan.ImageCreateCubeCompatibleBit)
		info.ArrayLayers *= 6
	}
	var img vulkan.Image
	if err := checkResult(vulkan.CreateImage(d.dev, &info, nil, &img)); err != nil {
		return nil, err
	}
	var req vulkan.MemoryRequirements
	vulkan.GetImageMemoryRequirements(d.dev, img, &req)
	var flags memalloc.Flags
	if desc.Flags&gpu.TextureDedicated != 0 {
		flags |= memalloc.Dedicated
	}
	al, err := d.alloc.Allocate(requirements(&req, true), memalloc.UsageGPUOnly, flags)
	if err != nil {
		vulkan.DestroyImage(d.dev, img, nil)
		return nil, err
	}
	mem := al.Memory().(*memory)
	if err := checkResult(vulkan.BindImageMemory(d.dev, img, mem.mem, vulkan.DeviceSize(al.Offset()))); err != nil {
		d.alloc.Free(al)
		vulkan.DestroyImage(d.dev, img, nil)
		return nil, err
	}
	return &texture{d: d, img: img, al: al, format: desc.Format, layers: int(info.ArrayLayers)}, nil
}

func (p *procs) FreeTexture(tn gpu.Native) {
	t := tn.(*texture)
	if t.al == nil {
		return
	}
	vulkan.DestroyImage(t.d.dev, t.img, nil)
	t.d.alloc.Free(t.al)
}

type textureView struct {
	d    *device
	view vulkan.ImageView
}

func (p *procs) CreateTextureView(tn gpu.Native, desc *gpu.TextureViewDescriptor) (gpu.Native, error) {
	t := tn.(*texture)
	f, ok := convFormat(desc.Format)
	if !ok {
		return nil, errors.Wrapf(gpu.ErrUnsupported, "vk: view format %v", desc.Format)
	}
	info := vulkan.ImageViewCreateInfo{
		SType:    vulkan.StructureTypeImageViewCreateInfo,
		Image:    t.img,
		ViewType: viewType(desc.Dimension, desc.LayerCount),
		Format:   f,
		Components: vulkan.ComponentMapping{
			R: vulkan.ComponentSwizzleIdentity,
			G: vulkan.ComponentSwizzleIdentity,
			B: vulkan.ComponentSwizzleIdentity,
			A: vulkan.ComponentSwizzleIdentity,
		},
		SubresourceRange: vulkan.ImageSubresourceRange{
			AspectMask:     aspect(t.format),
			BaseMipLevel:   uint32(desc.BaseMip),
			LevelCount:     uint32(desc.MipCount),
			BaseArrayLayer: uint32(desc.BaseLayer),
			LayerCount:     uint32(desc.LayerCount),
		},
	}
	var view vulkan.ImageView
	if err := checkResult(vulkan.CreateImageView(t.d.dev, &info, nil, &view)); err != nil {
		return nil, err
	}
	return &textureView{d: t.d, view: view}, nil
}

func (p *procs) FreeTextureView(vn gpu.Native) {
	v := vn.(*textureView)
	vulkan.DestroyImageView(v.d.dev, v.view, nil)
}

type sampler struct {
	d   *device
	spl vulkan.Sampler
}

func (p *procs) CreateSampler(dn gpu.Native, desc *gpu.SamplerDescriptor) (gpu.Native, error) {
	d := dn.(*device)
	info := vulkan.SamplerCreateInfo{
		SType:            vulkan.StructureTypeSamplerCreateInfo,
		MagFilter:        filter(desc.MagFilter),
		MinFilter:        filter(desc.MinFilter),
		MipmapMode:       mipmapMode(desc.MipmapMode),
		AddressModeU:     addressMode(desc.AddressU),
		AddressModeV:     addressMode(desc.AddressV),
		AddressModeW:     addressMode(desc.AddressW),
		AnisotropyEnable: vulkan.False,
		MaxAnisotropy:    desc.MaxAnisotropy,
		CompareEnable:    vulkan.False,
		CompareOp:        compareOp(desc.Compare),
		MinLod:           desc.MinLOD,
		MaxLod:           desc.MaxLOD,
		BorderColor:      vulkan.BorderColorFloatTransparentBlack,
	}
	if desc.MaxAnisotropy > 1 {
		info.AnisotropyEnable = vulkan.True
	}
	if desc.Compare != gpu.CompareNever {
		info.CompareEnable = vulkan.True
	}
	var spl vulkan.Sampler
	if err := checkResult(vulkan.CreateSampler(d.dev, &info, nil, &spl)); err != nil {
		return nil, err
	}
	return &sampler{d: d, spl: spl}, nil
}

func (p *procs) FreeSampler(sn gpu.Native) {
	s := sn.(*sampler)
	vulkan.DestroySampler(s.d.dev, s.spl, nil)
}

type shaderLibrary struct {
	d   *device
	mod vulkan.ShaderModule
}

func (p *procs) CreateShaderLibrary(dn gpu.Native, desc *gpu.ShaderLibraryDescriptor) (gpu.Native, error) {
	d := dn.(*device)
	code := unsafe.Slice((*uint32)(unsafe.Pointer(&desc.Code[0])), len(desc.Code)/4)
	info := vulkan.ShaderModuleCreateInfo{
		SType:    vulkan.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(desc.Code)),
		PCode:    code,
	}
	var mod vulkan.ShaderModule
	if err := checkResult(vulkan.CreateShaderModule(d.dev, &info, nil, &mod)); err != nil {
		return nil, err
	}
	return &shaderLibrary{d: d, mod: mod}, nil
}

func (p *procs) FreeShaderLibrary(sn gpu.Native) {
	s := sn.(*shaderLibrary)
	vulkan.DestroyShaderModule(s.d.dev, s.mod, nil)
}
