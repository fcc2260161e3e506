// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package null

import (
	"github.com/cockroachdb/errors"

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

type buffer struct {
	d     *device
	al    *memalloc.Allocation
	size  uint64
	views int
}

// bytes returns the memory of b in [off, off+n).
func (b *buffer) bytes(off, n uint64) []byte {
	m := b.al.Memory().(*memory)
	start := b.al.Offset() + off
	return m.b[start : start+n]
}

func (p *procs) CreateBuffer(dn gpu.Native, desc *gpu.BufferDescriptor, size uint64) (gpu.Native, []byte, error) {
	d := dn.(*device)
	var flags memalloc.Flags
	if desc.Flags&gpu.BufferDedicated != 0 {
		flags |= memalloc.Dedicated
	}
	if desc.Flags&gpu.BufferPersistentMap != 0 {
		flags |= memalloc.Mapped
	}
	req := memalloc.Requirements{
		Size:      size,
		Alignment: max(16, d.a.cfg.Detail.UniformBufferAlignment),
		TypeBits:  d.typeBits(),
	}
	al, err := d.alloc.Allocate(req, usage(desc.MemoryUsage), flags)
	if err != nil {
		return nil, nil, err
	}
	p.created()
	return &buffer{d: d, al: al, size: size}, al.Mapped(), nil
}

func (p *procs) MapBuffer(bn gpu.Native) ([]byte, error) {
	b := bn.(*buffer)
	s, err := b.d.alloc.Map(b.al)
	if errors.Is(err, memalloc.ErrNotMappable) {
		return nil, errors.Wrap(gpu.ErrUnsupported, "null: buffer memory is not host visible")
	}
	return s, err
}

func (p *procs) UnmapBuffer(bn gpu.Native) {
	b := bn.(*buffer)
	b.d.alloc.Unmap(b.al)
}

func (p *procs) FreeBuffer(bn gpu.Native) {
	b := bn.(*buffer)
	p.check(b.views == 0, "buffer freed with %d live texel view(s)", b.views)
	b.d.alloc.Free(b.al)
	p.freed()
}

type texelView struct {
	b    *buffer
	desc gpu.TexelViewDescriptor
}

func (p *procs) CreateTexelView(bn gpu.Native, desc *gpu.TexelViewDescriptor) (gpu.Native, error) {
	b := bn.(*buffer)
	if b.d.a.cfg.FailTexelViews {
		return nil, errors.New("null: texel view creation failed")
	}
	if desc.Offset+desc.Range > b.size {
		return nil, errors.Newf("null: texel view [%d, %d) exceeds buffer size %d", desc.Offset, desc.Offset+desc.Range, b.size)
	}
	b.views++
	p.created()
	return &texelView{b: b, desc: *desc}, nil
}

func (p *procs) FreeTexelView(v gpu.Native) {
	v.(*texelView).b.views--
	p.freed()
}

type texture struct {
	d     *device
	al    *memalloc.Allocation
	desc  gpu.TextureDescriptor
	views int
}

// textureSize returns the number of bytes that a texture
// with the given descriptor occupies.
func textureSize(desc *gpu.TextureDescriptor) uint64 {
	var n uint64
	w, h, dep := desc.Width, desc.Height, desc.Depth
	for range desc.MipLevels {
		n += uint64(w) * uint64(h) * uint64(dep)
		w, h, dep = max(w/2, 1), max(h/2, 1), max(dep/2, 1)
	}
	n *= uint64(desc.ArraySize) * uint64(desc.SampleCount) * uint64(desc.Format.Size())
	if desc.Dimension == gpu.TextureCube {
		n *= 6
	}
	return n
}

func (p *procs) newTexture(d *device, desc *gpu.TextureDescriptor) (*texture, error) {
	var flags memalloc.Flags
	if desc.Flags&gpu.TextureDedicated != 0 {
		flags |= memalloc.Dedicated
	}
	req := memalloc.Requirements{
		Size:      max(textureSize(desc), 1),
		Alignment: 4096,
		TypeBits:  d.typeBits(),
	}
	al, err := d.alloc.Allocate(req, memalloc.UsageGPUOnly, flags)
	if err != nil {
		return nil, err
	}
	p.created()
	return &texture{d: d, al: al, desc: *desc}, nil
}

func (p *procs) CreateTexture(dn gpu.Native, desc *gpu.TextureDescriptor) (gpu.Native, error) {
	return p.newTexture(dn.(*device), desc)
}

func (p *procs) FreeTexture(tn gpu.Native) {
	t := tn.(*texture)
	p.check(t.views == 0, "texture freed with %d live view(s)", t.views)
	t.d.alloc.Free(t.al)
	p.freed()
}

type textureView struct {
	t    *texture
	desc gpu.TextureViewDescriptor
}

func (p *procs) CreateTextureView(tn gpu.Native, desc *gpu.TextureViewDescriptor) (gpu.Native, error) {
	t := tn.(*texture)
	t.views++
	p.created()
	return &textureView{t: t, desc: *desc}, nil
}

func (p *procs) FreeTextureView(v gpu.Native) {
	v.(*textureView).t.views--
	p.freed()
}

type sampler struct {
	desc gpu.SamplerDescriptor
}

func (p *procs) CreateSampler(_ gpu.Native, desc *gpu.SamplerDescriptor) (gpu.Native, error) {
	p.created()
	return &sampler{desc: *desc}, nil
}

func (p *procs) FreeSampler(gpu.Native) { p.freed() }

type shaderLibrary struct {
	code []byte
}

func (p *procs) CreateShaderLibrary(_ gpu.Native, desc *gpu.ShaderLibraryDescriptor) (gpu.Native, error) {
	p.created()
	return &shaderLibrary{code: append([]byte(nil), desc.Code...)}, nil
}

func (p *procs) FreeShaderLibrary(gpu.Native) { p.freed() }
