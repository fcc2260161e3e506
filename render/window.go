// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package render

import (
	"slices"

	log "github.com/sirupsen/logrus"

	"github.com/jjzhang166/SakuraEngine/gpu"
)

func (d *Device) swapChainDescriptor(w Window, s *gpu.Surface) *gpu.SwapChainDescriptor {
	width, height := w.Extent()
	return &gpu.SwapChainDescriptor{
		Surface:       s,
		Width:         width,
		Height:        height,
		ImageCount:    d.cfg.SwapChain.ImageCount,
		Format:        d.format,
		PresentQueues: []*gpu.Queue{d.gfx},
		VSync:         d.cfg.SwapChain.VSync,
	}
}

// RegisterWindow returns the swapchain of w, creating it
// if w was not registered yet.
// The surface of w is created once and kept until d is
// destroyed.
func (d *Device) RegisterWindow(w Window) (*gpu.SwapChain, error) {
	if sc, ok := d.chains[w]; ok {
		return sc, nil
	}
	s, ok := d.surfaces[w]
	if !ok {
		var err error
		if s, err = d.inst.NewSurface(w.NativeView()); err != nil {
			return nil, err
		}
		d.surfaces[w] = s
	}
	sc, err := d.dev.NewSwapChain(d.swapChainDescriptor(w, s))
	if err != nil {
		return nil, err
	}
	d.chains[w] = sc
	d.windows = append(d.windows, w)
	log.WithFields(log.Fields{
		"images": sc.ImageCount(),
		"width":  sc.Width(),
		"height": sc.Height(),
	}).Debug("window registered")
	return sc, nil
}

// RecreateWindowSwapChain replaces the swapchain of w with
// one that matches its current extent.
// The new swapchain is created before the old one is
// destroyed. If the surface of w was lost, it is replaced
// as well. It returns nil, nil if w is not registered.
func (d *Device) RecreateWindowSwapChain(w Window) (*gpu.SwapChain, error) {
	old, ok := d.chains[w]
	if !ok {
		return nil, nil
	}
	sc, err := d.dev.RecreateSwapChain(old, d.swapChainDescriptor(w, d.surfaces[w]))
	if err != nil {
		return nil, err
	}
	d.chains[w] = sc
	d.surfaces[w] = sc.Surface()
	return sc, nil
}

// UnregisterWindow destroys the swapchain and surface of
// w.
func (d *Device) UnregisterWindow(w Window) {
	if sc, ok := d.chains[w]; ok {
		sc.Destroy()
		delete(d.chains, w)
		d.windows = slices.DeleteFunc(d.windows, func(x Window) bool { return x == w })
	}
	if s, ok := d.surfaces[w]; ok {
		s.Destroy()
		delete(d.surfaces, w)
	}
}
