// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package gpu

import (
	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
)

// SwapChain is a set of presentable back buffers.
type SwapChain struct {
	dev     *Device
	surface *Surface
	desc    SwapChainDescriptor

	native    Native
	images    []*Texture
	format    Format
	width     int
	height    int
	destroyed bool
}

// NewSwapChain creates a new swapchain.
// desc.ImageCount is a request; the number of back buffers
// actually created is reported by ImageCount.
func (d *Device) NewSwapChain(desc *SwapChainDescriptor) (*SwapChain, error) {
	return d.newSwapChain(desc, nil)
}

func (d *Device) newSwapChain(desc *SwapChainDescriptor, old *SwapChain) (*SwapChain, error) {
	inst := d.inst()
	inst.assertf(!d.destroyed, "NewSwapChain on destroyed device")
	inst.assertf(desc != nil && desc.Surface != nil, "NewSwapChain without surface")
	if desc == nil || desc.Surface == nil {
		return nil, inst.creationFailed("swapchain", "", ErrSurfaceLost)
	}
	s := desc.Surface
	inst.assertf(s.inst == inst && !s.destroyed, "NewSwapChain with invalid surface")
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, inst.creationFailed("swapchain", "", errZeroSize)
	}
	params := SwapChainParams{
		Surface:    s.native,
		Width:      desc.Width,
		Height:     desc.Height,
		ImageCount: max(desc.ImageCount, 1),
		Format:     desc.Format,
		VSync:      desc.VSync,
	}
	if params.Format == FormatUndefined {
		params.Format = BGRA8Unorm
	}
	if old != nil && old.surface == s {
		params.Old = old.native
	}
	for _, q := range desc.PresentQueues {
		inst.assertf(q != nil && q.dev == d && !q.destroyed, "invalid present queue")
		params.PresentQueues = append(params.PresentQueues, q.native)
	}
	info, err := d.procs().CreateSwapChain(d.native, &params)
	if err != nil {
		return nil, inst.creationFailed("swapchain", "", err)
	}
	sc := &SwapChain{
		dev:     d,
		surface: s,
		desc:    *desc,
		native:  info.SwapChain,
		format:  info.Format,
		width:   info.Width,
		height:  info.Height,
	}
	sc.images = make([]*Texture, len(info.Images))
	for i, img := range info.Images {
		sc.images[i] = &Texture{
			dev: d,
			desc: TextureDescriptor{
				Width:       info.Width,
				Height:      info.Height,
				Depth:       1,
				ArraySize:   1,
				MipLevels:   1,
				SampleCount: 1,
				Format:      info.Format,
				Descriptors: ResourceRenderTarget,
			},
			owner:  sc,
			native: img,
		}
	}
	if n := len(sc.images); n != params.ImageCount {
		log.WithFields(log.Fields{
			"backend":   inst.backend,
			"requested": params.ImageCount,
			"created":   n,
		}).Debug("swapchain image count adjusted")
	}
	s.chains++
	d.retain(kindSwapChain)
	return sc, nil
}

// RecreateSwapChain replaces old with a new swapchain.
// The new swapchain is created first, then old is
// destroyed. If the surface of old was lost, a new surface
// is created from the same view and the old surface is
// destroyed as well. The returned swapchain is never old.
// If desc is nil, the descriptor of old is reused.
// On failure, old is left untouched.
func (d *Device) RecreateSwapChain(old *SwapChain, desc *SwapChainDescriptor) (*SwapChain, error) {
	inst := d.inst()
	inst.assertf(old != nil && !old.destroyed && old.dev == d, "RecreateSwapChain with invalid swapchain")
	nd := old.desc
	if desc != nil {
		nd = *desc
	}
	if nd.Surface == nil {
		nd.Surface = old.surface
	}
	sc, err := d.newSwapChain(&nd, old)
	var replaced *Surface
	if errors.Is(err, ErrSurfaceLost) {
		lost := nd.Surface
		fresh, serr := inst.NewSurface(lost.view)
		if serr != nil {
			return nil, serr
		}
		nd.Surface = fresh
		if sc, err = d.newSwapChain(&nd, nil); err != nil {
			fresh.Destroy()
			return nil, err
		}
		replaced = lost
	} else if err != nil {
		return nil, err
	}
	old.Destroy()
	if replaced != nil && replaced.chains == 0 && !replaced.destroyed {
		replaced.Destroy()
	}
	return sc, nil
}

// Device returns the device sc was created from.
func (sc *SwapChain) Device() *Device { return sc.dev }

// Surface returns the surface sc presents to.
func (sc *SwapChain) Surface() *Surface { return sc.surface }

// ImageCount returns the number of back buffers.
func (sc *SwapChain) ImageCount() int { return len(sc.images) }

// Image returns the back buffer at index.
func (sc *SwapChain) Image(index int) *Texture { return sc.images[index] }

// Format returns the format of the back buffers.
func (sc *SwapChain) Format() Format { return sc.format }

// Width returns the width of the back buffers.
func (sc *SwapChain) Width() int { return sc.width }

// Height returns the height of the back buffers.
func (sc *SwapChain) Height() int { return sc.height }

// AcquireNext returns the index of the next writable back
// buffer. ErrSwapChain means that sc must be recreated.
func (sc *SwapChain) AcquireNext() (int, error) {
	sc.dev.inst().assertf(!sc.destroyed, "AcquireNext on destroyed swapchain")
	return sc.dev.procs().AcquireNextImage(sc.native)
}

// Destroy destroys the swapchain and its back buffers.
// Views of the back buffers must be destroyed first.
func (sc *SwapChain) Destroy() {
	if sc == nil {
		return
	}
	d := sc.dev
	d.inst().assertf(!sc.destroyed, "swapchain destroyed twice")
	if sc.destroyed {
		return
	}
	for _, t := range sc.images {
		t.free()
	}
	d.procs().FreeSwapChain(sc.native)
	sc.destroyed = true
	sc.surface.chains--
	d.release(kindSwapChain)
}
