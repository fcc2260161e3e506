// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package gpu

import (
	"math/bits"

	"github.com/cockroachdb/errors"
)

// Texture is an image resource.
type Texture struct {
	dev  *Device
	desc TextureDescriptor
	// Set for swapchain back buffers, which are owned by
	// their swapchain.
	owner *SwapChain

	native    Native
	views     int
	destroyed bool
}

// usageSupport lists the format capability that each
// texture binding requires.
var usageSupport = [...]struct {
	bind ResourceType
	feat FormatSupport
}{
	{ResourceTexture, SupportSampled},
	{ResourceRWTexture, SupportStorage},
	{ResourceRenderTarget, SupportRenderTarget},
	{ResourceDepthStencil, SupportDepthStencil},
}

// NewTexture creates a new texture.
// Zero values of Depth, ArraySize, MipLevels and
// SampleCount mean 1.
func (d *Device) NewTexture(desc *TextureDescriptor) (*Texture, error) {
	inst := d.inst()
	inst.assertf(!d.destroyed, "NewTexture on destroyed device")
	if desc == nil || desc.Width <= 0 {
		return nil, inst.creationFailed("texture", "", errZeroSize)
	}
	td := *desc
	for _, p := range [...]*int{&td.Height, &td.Depth, &td.ArraySize, &td.MipLevels, &td.SampleCount} {
		if *p <= 0 {
			*p = 1
		}
	}
	if err := d.validateTexture(&td); err != nil {
		return nil, inst.creationFailed("texture", td.Name, err)
	}
	n, err := d.procs().CreateTexture(d.native, &td)
	if err != nil {
		return nil, inst.creationFailed("texture", td.Name, err)
	}
	d.setName(n, td.Name)
	d.retain(kindTexture)
	return &Texture{dev: d, desc: td, native: n}, nil
}

func (d *Device) validateTexture(desc *TextureDescriptor) error {
	if !desc.Format.valid() || desc.Format == FormatUndefined {
		return errors.Wrapf(ErrUnsupported, "texture format %s", desc.Format)
	}
	dim := d.adapter.detail.MaxTextureDimension
	if dim > 0 && (desc.Width > dim || desc.Height > dim || desc.Depth > dim) {
		return errors.Wrapf(ErrUnsupported, "texture extent %dx%dx%d exceeds %d",
			desc.Width, desc.Height, desc.Depth, dim)
	}
	maxMips := bits.Len(uint(max(desc.Width, desc.Height, desc.Depth)))
	if desc.MipLevels > maxMips {
		return errors.Wrapf(ErrUnsupported, "%d mip levels exceed %d", desc.MipLevels, maxMips)
	}
	if desc.SampleCount&(desc.SampleCount-1) != 0 {
		return errors.Wrapf(ErrUnsupported, "sample count %d", desc.SampleCount)
	}
	fs := d.adapter.FormatSupport(desc.Format)
	for _, u := range usageSupport {
		if desc.Descriptors&u.bind != 0 && fs&u.feat == 0 {
			return errors.Wrapf(ErrUnsupported, "format %s cannot be used as %#x", desc.Format, u.bind)
		}
	}
	return nil
}

// Device returns the device t was created from.
func (t *Texture) Device() *Device { return t.dev }

// Descriptor returns the descriptor of t, with defaults
// filled in.
func (t *Texture) Descriptor() TextureDescriptor { return t.desc }

// Format returns the format of t.
func (t *Texture) Format() Format { return t.desc.Format }

// Width returns the width of t.
func (t *Texture) Width() int { return t.desc.Width }

// Height returns the height of t.
func (t *Texture) Height() int { return t.desc.Height }

// SwapChain returns the swapchain that owns t, or nil if
// t is not a back buffer.
func (t *Texture) SwapChain() *SwapChain { return t.owner }

// NewView creates a view of t.
func (t *Texture) NewView(desc *TextureViewDescriptor) (*TextureView, error) {
	inst := t.dev.inst()
	inst.assertf(!t.destroyed, "NewView on destroyed texture")
	vd := TextureViewDescriptor{Dimension: t.desc.Dimension}
	if desc != nil {
		vd = *desc
	}
	if vd.Format == FormatUndefined {
		vd.Format = t.desc.Format
	}
	if vd.MipCount <= 0 {
		vd.MipCount = t.desc.MipLevels - vd.BaseMip
	}
	if vd.LayerCount <= 0 {
		vd.LayerCount = t.desc.ArraySize - vd.BaseLayer
	}
	inst.assertf(vd.BaseMip >= 0 && vd.BaseMip+vd.MipCount <= t.desc.MipLevels,
		"view mip range [%d, %d) exceeds %d", vd.BaseMip, vd.BaseMip+vd.MipCount, t.desc.MipLevels)
	inst.assertf(vd.BaseLayer >= 0 && vd.BaseLayer+vd.LayerCount <= t.desc.ArraySize,
		"view layer range [%d, %d) exceeds %d", vd.BaseLayer, vd.BaseLayer+vd.LayerCount, t.desc.ArraySize)
	n, err := t.dev.procs().CreateTextureView(t.native, &vd)
	if err != nil {
		return nil, inst.creationFailed("texture view", vd.Name, err)
	}
	t.dev.setName(n, vd.Name)
	t.views++
	return &TextureView{tex: t, native: n, desc: vd}, nil
}

// Destroy destroys the texture.
// Views of t must be destroyed first. Back buffers are
// destroyed by their swapchain.
func (t *Texture) Destroy() {
	if t == nil {
		return
	}
	inst := t.dev.inst()
	inst.assertf(t.owner == nil, "back buffer destroyed outside of its swapchain")
	inst.assertf(!t.destroyed, "texture destroyed twice")
	if t.owner != nil || t.destroyed {
		return
	}
	t.free()
	t.dev.release(kindTexture)
}

func (t *Texture) free() {
	t.dev.inst().assertf(t.views == 0, "texture destroyed with %d live view(s)", t.views)
	if t.owner == nil {
		t.dev.procs().FreeTexture(t.native)
	}
	t.destroyed = true
}

// TextureView is a view of a texture.
type TextureView struct {
	tex       *Texture
	native    Native
	desc      TextureViewDescriptor
	destroyed bool
}

// Texture returns the texture v views.
func (v *TextureView) Texture() *Texture { return v.tex }

// Descriptor returns the descriptor of v, with defaults
// filled in.
func (v *TextureView) Descriptor() TextureViewDescriptor { return v.desc }

// Destroy destroys the view.
func (v *TextureView) Destroy() {
	if v == nil {
		return
	}
	v.tex.dev.inst().assertf(!v.destroyed, "texture view destroyed twice")
	if v.destroyed {
		return
	}
	v.tex.dev.procs().FreeTextureView(v.native)
	v.destroyed = true
	v.tex.views--
}
