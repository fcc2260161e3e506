// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package gpu

import (
	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
)

// errZeroSize means that a resource was described with no
// extent.
var errZeroSize = errors.New("gpu: zero-sized resource")

// Buffer is a linear memory resource.
type Buffer struct {
	dev  *Device
	desc BufferDescriptor
	// Realized allocation size.
	size uint64
	// Offset of the first structured element.
	offset uint64

	native    Native
	mapped    []byte
	mapCount  int
	views     [texelViewN]*TexelView
	status    [texelViewN]ViewStatus
	destroyed bool
}

// alignUp rounds n up to a multiple of align.
// An align of 0 leaves n unchanged.
func alignUp(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	return (n + align - 1) / align * align
}

// NewBuffer creates a new buffer.
// The allocation of a uniform buffer is rounded up to the
// uniform buffer alignment of the adapter.
// Texel views are created only if the descriptor asks for
// them and the adapter supports them for desc.Format;
// a missing view never causes NewBuffer to fail (see
// TexelViewStatus).
func (d *Device) NewBuffer(desc *BufferDescriptor) (*Buffer, error) {
	inst := d.inst()
	inst.assertf(!d.destroyed, "NewBuffer on destroyed device")
	if desc == nil || desc.Size == 0 {
		return nil, inst.creationFailed("buffer", "", errZeroSize)
	}
	size := desc.Size
	if desc.Descriptors&ResourceUniformBuffer != 0 {
		size = alignUp(size, d.adapter.detail.UniformBufferAlignment)
	}
	if lim := d.adapter.detail.MaxBufferSize; lim != 0 && size > lim {
		return nil, inst.creationFailed("buffer", desc.Name, errors.Wrapf(ErrUnsupported, "buffer size %d exceeds %d", size, lim))
	}
	b := &Buffer{dev: d, desc: *desc, size: size}
	n, mapped, err := d.procs().CreateBuffer(d.native, &b.desc, size)
	if err != nil {
		return nil, inst.creationFailed("buffer", desc.Name, err)
	}
	b.native = n
	b.mapped = mapped
	d.setName(n, desc.Name)
	if desc.Descriptors&(ResourceBuffer|ResourceRWBuffer) != 0 {
		b.offset = desc.FirstElement * desc.ElementStride
	}
	b.newTexelView(TexelUniform, ResourceBuffer, SupportUniformTexel)
	b.newTexelView(TexelStorage, ResourceRWBuffer, SupportStorageTexel)
	d.retain(kindBuffer)
	return b, nil
}

// newTexelView creates the texel view of the given kind
// if the descriptor asks for it and the format supports
// it, recording the outcome in b.status.
func (b *Buffer) newTexelView(kind TexelViewKind, bind ResourceType, feat FormatSupport) {
	desc := &b.desc
	if desc.Format == FormatUndefined || desc.Descriptors&bind == 0 {
		b.status[kind] = ViewNotRequested
		return
	}
	d := b.dev
	fields := log.Fields{
		"backend": d.inst().backend,
		"name":    desc.Name,
		"view":    kind.String(),
		"format":  desc.Format.String(),
	}
	if d.adapter.FormatSupport(desc.Format)&feat == 0 {
		log.WithFields(fields).Debug("texel view unsupported")
		b.status[kind] = ViewUnsupported
		return
	}
	stride := desc.ElementStride
	if stride == 0 {
		stride = uint64(desc.Format.Size())
	}
	off := desc.FirstElement * stride
	rng := desc.ElementCount * stride
	if rng == 0 && off < b.size {
		rng = b.size - off
	}
	vd := TexelViewDescriptor{Kind: kind, Format: desc.Format, Offset: off, Range: rng}
	n, err := d.procs().CreateTexelView(b.native, &vd)
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("texel view not created")
		b.status[kind] = ViewFailed
		return
	}
	b.views[kind] = &TexelView{buf: b, native: n, desc: vd}
	b.status[kind] = ViewReady
}

// Device returns the device b was created from.
func (b *Buffer) Device() *Device { return b.dev }

// Descriptor returns the descriptor b was created with.
func (b *Buffer) Descriptor() BufferDescriptor { return b.desc }

// Size returns the requested size of b.
func (b *Buffer) Size() uint64 { return b.desc.Size }

// AllocSize returns the size of the memory backing b.
func (b *Buffer) AllocSize() uint64 { return b.size }

// Offset returns the offset of the first structured
// element of b.
func (b *Buffer) Offset() uint64 { return b.offset }

// TexelView returns the texel view of the given kind, or
// nil if b has none.
func (b *Buffer) TexelView(kind TexelViewKind) *TexelView {
	if b.destroyed || kind < 0 || kind >= texelViewN {
		return nil
	}
	return b.views[kind]
}

// TexelViewStatus returns the outcome of the creation of
// the texel view of the given kind.
func (b *Buffer) TexelViewStatus(kind TexelViewKind) ViewStatus {
	if kind < 0 || kind >= texelViewN {
		return ViewNotRequested
	}
	return b.status[kind]
}

// Mapped returns the persistent mapping of b, or nil if
// b is not persistently mapped.
func (b *Buffer) Mapped() []byte { return b.mapped }

// Map maps the memory of b.
// Calls must be paired with Unmap, except for persistently
// mapped buffers, which Map returns as is.
func (b *Buffer) Map() ([]byte, error) {
	b.dev.inst().assertf(!b.destroyed, "Map on destroyed buffer")
	if b.mapped != nil {
		return b.mapped, nil
	}
	p, err := b.dev.procs().MapBuffer(b.native)
	if err != nil {
		return nil, err
	}
	b.mapCount++
	return p, nil
}

// Unmap unmaps the memory of b.
func (b *Buffer) Unmap() {
	if b.mapped != nil {
		return
	}
	b.dev.inst().assertf(b.mapCount > 0, "Unmap on buffer not mapped")
	if b.mapCount == 0 {
		return
	}
	b.mapCount--
	b.dev.procs().UnmapBuffer(b.native)
}

// Destroy destroys the buffer.
// Its texel views are destroyed first.
func (b *Buffer) Destroy() {
	if b == nil {
		return
	}
	d := b.dev
	d.inst().assertf(!b.destroyed, "buffer destroyed twice")
	if b.destroyed {
		return
	}
	for i, v := range b.views {
		if v != nil {
			d.procs().FreeTexelView(v.native)
			v.destroyed = true
			b.views[i] = nil
		}
	}
	for ; b.mapCount > 0; b.mapCount-- {
		d.procs().UnmapBuffer(b.native)
	}
	d.procs().FreeBuffer(b.native)
	b.mapped = nil
	b.destroyed = true
	d.release(kindBuffer)
}

// TexelView is a typed view of a buffer.
// It is owned by its buffer.
type TexelView struct {
	buf       *Buffer
	native    Native
	desc      TexelViewDescriptor
	destroyed bool
}

// Buffer returns the buffer v views.
func (v *TexelView) Buffer() *Buffer { return v.buf }

// Kind returns the kind of v.
func (v *TexelView) Kind() TexelViewKind { return v.desc.Kind }

// Format returns the format of v.
func (v *TexelView) Format() Format { return v.desc.Format }

// Offset returns the byte offset of v in its buffer.
func (v *TexelView) Offset() uint64 { return v.desc.Offset }

// Range returns the byte range of v.
func (v *TexelView) Range() uint64 { return v.desc.Range }

// Destroyed returns whether v was destroyed along with its
// buffer.
func (v *TexelView) Destroyed() bool { return v.destroyed }
