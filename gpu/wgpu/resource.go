// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package wgpu

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	log "github.com/sirupsen/logrus"

	"github.com/jjzhang166/SakuraEngine/gpu"
)

// buffer is a hal.Buffer.
// Host-visible buffers that the host writes keep a host
// copy, which is uploaded through the queue on Unmap and,
// for persistent mappings, before every submission.
// Readback buffers are mapped by the layer instead.
type buffer struct {
	d        *device
	buf      hal.Buffer
	size     uint64
	host     []byte
	readback bool
}

func (p *procs) CreateBuffer(dn gpu.Native, desc *gpu.BufferDescriptor, size uint64) (gpu.Native, []byte, error) {
	d := dn.(*device)
	persistent := desc.Flags&gpu.BufferPersistentMap != 0
	if persistent && desc.MemoryUsage == gpu.MemoryGPUToCPU {
		return nil, nil, errors.Wrap(gpu.ErrUnsupported, "wgpu: persistent readback mapping")
	}
	buf, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: p.label(desc.Name),
		Size:  size,
		Usage: bufferUsage(desc),
	})
	if err != nil {
		return nil, nil, errors.Wrapf(gpu.ErrNoDeviceMemory, "wgpu: %v", err)
	}
	b := &buffer{d: d, buf: buf, size: size}
	switch desc.MemoryUsage {
	case gpu.MemoryCPUOnly, gpu.MemoryCPUToGPU:
		b.host = make([]byte, size)
	case gpu.MemoryGPUToCPU:
		b.readback = true
	}
	if !persistent {
		return b, nil, nil
	}
	d.mu.Lock()
	d.mapped[b] = struct{}{}
	d.mu.Unlock()
	return b, b.host, nil
}

func (p *procs) MapBuffer(bn gpu.Native) ([]byte, error) {
	b := bn.(*buffer)
	switch {
	case b.host != nil:
		return b.host, nil
	case !b.readback:
		return nil, errors.Wrap(gpu.ErrUnsupported, "wgpu: buffer is not host visible")
	}
	m, err := b.d.dev.MapBuffer(b.buf, 0, b.size)
	if err != nil {
		return nil, errors.Wrap(err, "wgpu: map readback buffer")
	}
	return unsafe.Slice((*byte)(m.Ptr), b.size), nil
}

func (p *procs) UnmapBuffer(bn gpu.Native) {
	b := bn.(*buffer)
	var err error
	if b.readback {
		err = b.d.dev.UnmapBuffer(b.buf)
	} else {
		err = b.d.queue.WriteBuffer(b.buf, 0, b.host)
	}
	if err != nil {
		log.WithField("backend", p.name).WithError(err).Error("buffer unmap failed")
	}
}

func (p *procs) FreeBuffer(bn gpu.Native) {
	b := bn.(*buffer)
	b.d.mu.Lock()
	delete(b.d.mapped, b)
	b.d.mu.Unlock()
	b.d.dev.DestroyBuffer(b.buf)
}

func (p *procs) CreateTexelView(gpu.Native, *gpu.TexelViewDescriptor) (gpu.Native, error) {
	return nil, errors.Wrap(gpu.ErrUnsupported, "wgpu: texel buffer views")
}

func (p *procs) FreeTexelView(gpu.Native) {}

// texture is a hal.Texture, or a back buffer of a
// swapchain, whose texture is known only while acquired.
type texture struct {
	d      *device
	tex    hal.Texture
	format gputypes.TextureFormat
	sc     *swapChain
}

func (p *procs) CreateTexture(dn gpu.Native, desc *gpu.TextureDescriptor) (gpu.Native, error) {
	d := dn.(*device)
	f, ok := convFormat(desc.Format)
	if !ok {
		return nil, errors.Wrapf(gpu.ErrUnsupported, "wgpu: texture format %v", desc.Format)
	}
	hd := &hal.TextureDescriptor{
		Label: p.label(desc.Name),
		Size: hal.Extent3D{
			Width:              uint32(desc.Width),
			Height:             uint32(desc.Height),
			DepthOrArrayLayers: uint32(desc.ArraySize),
		},
		MipLevelCount: uint32(desc.MipLevels),
		SampleCount:   uint32(desc.SampleCount),
		Dimension:     gputypes.TextureDimension2D,
		Format:        f,
		Usage:         textureUsage(desc),
	}
	switch desc.Dimension {
	case gpu.Texture1D:
		hd.Dimension = gputypes.TextureDimension1D
		hd.Size.Height = 1
	case gpu.Texture3D:
		hd.Dimension = gputypes.TextureDimension3D
		hd.Size.DepthOrArrayLayers = uint32(desc.Depth)
	case gpu.TextureCube:
		hd.Size.DepthOrArrayLayers *= 6
	}
	tex, err := d.dev.CreateTexture(hd)
	if err != nil {
		return nil, errors.Wrapf(gpu.ErrNoDeviceMemory, "wgpu: %v", err)
	}
	return &texture{d: d, tex: tex, format: f}, nil
}

func (p *procs) FreeTexture(tn gpu.Native) {
	t := tn.(*texture)
	t.d.dev.DestroyTexture(t.tex)
}

type textureView struct {
	d    *device
	view hal.TextureView
}

func (p *procs) CreateTextureView(tn gpu.Native, desc *gpu.TextureViewDescriptor) (gpu.Native, error) {
	t := tn.(*texture)
	tex := t.tex
	if t.sc != nil {
		if tex = t.sc.current(t); tex == nil {
			return nil, errors.Wrap(gpu.ErrSwapChain, "wgpu: back buffer not acquired")
		}
	}
	f := t.format
	if desc.Format != gpu.FormatUndefined {
		var ok bool
		if f, ok = convFormat(desc.Format); !ok {
			return nil, errors.Wrapf(gpu.ErrUnsupported, "wgpu: view format %v", desc.Format)
		}
	}
	view, err := t.d.dev.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:           p.label(desc.Name),
		Format:          f,
		Dimension:       viewDimension(desc.Dimension, desc.LayerCount),
		Aspect:          gputypes.TextureAspectAll,
		BaseMipLevel:    uint32(desc.BaseMip),
		MipLevelCount:   uint32(desc.MipCount),
		BaseArrayLayer:  uint32(desc.BaseLayer),
		ArrayLayerCount: uint32(desc.LayerCount),
	})
	if err != nil {
		return nil, err
	}
	return &textureView{d: t.d, view: view}, nil
}

func (p *procs) FreeTextureView(vn gpu.Native) {
	v := vn.(*textureView)
	v.d.dev.DestroyTextureView(v.view)
}

type sampler struct {
	d   *device
	spl hal.Sampler
}

func (p *procs) CreateSampler(dn gpu.Native, desc *gpu.SamplerDescriptor) (gpu.Native, error) {
	d := dn.(*device)
	spl, err := d.dev.CreateSampler(&hal.SamplerDescriptor{
		Label:        p.label(desc.Name),
		AddressModeU: addressMode(desc.AddressU),
		AddressModeV: addressMode(desc.AddressV),
		AddressModeW: addressMode(desc.AddressW),
		MagFilter:    filterMode(desc.MagFilter),
		MinFilter:    filterMode(desc.MinFilter),
		MipmapFilter: filterMode(desc.MipmapMode),
	})
	if err != nil {
		return nil, err
	}
	return &sampler{d: d, spl: spl}, nil
}

func (p *procs) FreeSampler(sn gpu.Native) {
	s := sn.(*sampler)
	s.d.dev.DestroySampler(s.spl)
}

type shaderLibrary struct {
	d   *device
	mod hal.ShaderModule
}

func (p *procs) CreateShaderLibrary(dn gpu.Native, desc *gpu.ShaderLibraryDescriptor) (gpu.Native, error) {
	d := dn.(*device)
	code := unsafe.Slice((*uint32)(unsafe.Pointer(&desc.Code[0])), len(desc.Code)/4)
	mod, err := d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  p.label(desc.Name),
		Source: hal.ShaderSource{SPIRV: code},
	})
	if err != nil {
		return nil, err
	}
	return &shaderLibrary{d: d, mod: mod}, nil
}

func (p *procs) FreeShaderLibrary(sn gpu.Native) {
	s := sn.(*shaderLibrary)
	s.d.dev.DestroyShaderModule(s.mod)
}
