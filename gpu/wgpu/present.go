// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package wgpu

import (
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	log "github.com/sirupsen/logrus"

	"github.com/jjzhang166/SakuraEngine/gpu"
)

type surface struct {
	s hal.Surface

	mu    sync.Mutex
	chain *swapChain
}

func (p *procs) CreateSurface(view uintptr) (gpu.Native, error) {
	if view == 0 {
		return nil, errors.Wrap(gpu.ErrUnsupported, "wgpu: zero view")
	}
	s, err := p.inst.CreateSurface(p.display, view)
	if err != nil {
		return nil, errors.Wrapf(gpu.ErrSurfaceLost, "wgpu: %v", err)
	}
	return &surface{s: s}, nil
}

func (p *procs) FreeSurface(sn gpu.Native) { sn.(*surface).s.Destroy() }

// swapChain is a configured surface.
// The layer hands out one surface texture at a time, so
// the back buffers are placeholders that resolve to the
// acquired texture.
type swapChain struct {
	d      *device
	s      *surface
	images []*texture

	mu      sync.Mutex
	next    int
	acq     int
	cur     hal.SurfaceTexture
	retired bool
}

// presentMode picks the present mode for vsync among
// those that the surface supports.
// Fifo is always supported.
func presentMode(caps *hal.SurfaceCapabilities, vsync bool) gputypes.PresentMode {
	if !vsync && caps != nil {
		for _, m := range [...]gputypes.PresentMode{hal.PresentModeMailbox, hal.PresentModeImmediate} {
			if slices.Contains(caps.PresentModes, m) {
				return m
			}
		}
	}
	return hal.PresentModeFifo
}

// surfaceFormat returns f if the surface supports it, or
// the first format it supports otherwise.
func surfaceFormat(caps *hal.SurfaceCapabilities, f gpu.Format) (gputypes.TextureFormat, gpu.Format, error) {
	if x, ok := convFormat(f); ok && (caps == nil || slices.Contains(caps.Formats, x)) {
		return x, f, nil
	}
	if caps != nil {
		for _, x := range caps.Formats {
			for g, y := range formats {
				if x == y && !g.IsDepth() {
					return x, g, nil
				}
			}
		}
	}
	return 0, 0, errors.Wrapf(gpu.ErrUnsupported, "wgpu: surface format %v", f)
}

func (p *procs) CreateSwapChain(dn gpu.Native, params *gpu.SwapChainParams) (gpu.SwapChainInfo, error) {
	d := dn.(*device)
	s := params.Surface.(*surface)
	var old *swapChain
	if params.Old != nil {
		old = params.Old.(*swapChain)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chain != nil && s.chain != old {
		return gpu.SwapChainInfo{}, errors.New("wgpu: surface already in use")
	}
	caps := d.a.exp.Adapter.SurfaceCapabilities(s.s)
	x, f, err := surfaceFormat(caps, params.Format)
	if err != nil {
		return gpu.SwapChainInfo{}, err
	}
	err = s.s.Configure(d.dev, &hal.SurfaceConfiguration{
		Width:       uint32(params.Width),
		Height:      uint32(params.Height),
		Format:      x,
		Usage:       gputypes.TextureUsageRenderAttachment,
		PresentMode: presentMode(caps, params.VSync),
		AlphaMode:   hal.CompositeAlphaModeOpaque,
	})
	switch {
	case errors.Is(err, hal.ErrSurfaceLost):
		return gpu.SwapChainInfo{}, errors.Wrap(gpu.ErrSurfaceLost, err.Error())
	case err != nil:
		return gpu.SwapChainInfo{}, errors.Wrap(err, "wgpu: configure surface")
	}
	if old != nil {
		old.retire()
	}
	sc := &swapChain{d: d, s: s, acq: -1}
	info := gpu.SwapChainInfo{
		SwapChain: sc,
		Format:    f,
		Width:     params.Width,
		Height:    params.Height,
	}
	for range max(params.ImageCount, 2) {
		t := &texture{d: d, format: x, sc: sc}
		sc.images = append(sc.images, t)
		info.Images = append(info.Images, t)
	}
	s.chain = sc
	return info, nil
}

// retire discards the acquired texture of sc, if any, and
// makes further acquisitions fail.
func (sc *swapChain) retire() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.cur != nil {
		sc.s.s.DiscardTexture(sc.cur)
		sc.cur = nil
	}
	sc.acq = -1
	sc.retired = true
}

// current returns the surface texture that t resolves to,
// or nil if t is not acquired.
func (sc *swapChain) current(t *texture) hal.Texture {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.acq < 0 || sc.images[sc.acq] != t {
		return nil
	}
	return sc.cur
}

func (p *procs) FreeSwapChain(scn gpu.Native) {
	sc := scn.(*swapChain)
	s := sc.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chain != sc {
		sc.retire()
		return
	}
	sc.retire()
	s.s.Unconfigure(sc.d.dev)
	s.chain = nil
}

func (p *procs) AcquireNextImage(scn gpu.Native) (int, error) {
	sc := scn.(*swapChain)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.retired {
		return 0, gpu.ErrSwapChain
	}
	if sc.cur != nil {
		sc.s.s.DiscardTexture(sc.cur)
		sc.cur = nil
	}
	at, err := sc.s.s.AcquireTexture(nil)
	switch {
	case errors.Is(err, hal.ErrSurfaceLost):
		return 0, errors.Wrap(gpu.ErrSurfaceLost, err.Error())
	case errors.Is(err, hal.ErrSurfaceOutdated):
		return 0, errors.Wrap(gpu.ErrSwapChain, err.Error())
	case errors.Is(err, hal.ErrTimeout):
		return 0, errors.Wrap(gpu.ErrSwapChain, err.Error())
	case err != nil:
		return 0, errors.Wrap(err, "wgpu: acquire surface texture")
	}
	if at.Suboptimal {
		log.WithField("backend", p.name).Debug("suboptimal surface texture")
	}
	i := sc.next
	sc.next = (sc.next + 1) % len(sc.images)
	sc.acq = i
	sc.cur = at.Texture
	return i, nil
}

func (p *procs) Present(qn gpu.Native, scn gpu.Native, index int) error {
	d := qn.(*queue).d
	sc := scn.(*swapChain)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.cur == nil || sc.acq != index {
		return errors.Newf("wgpu: back buffer %d not acquired", index)
	}
	err := d.queue.Present(sc.s.s, sc.cur, nil)
	sc.cur = nil
	sc.acq = -1
	switch {
	case errors.Is(err, hal.ErrSurfaceLost):
		return errors.Wrap(gpu.ErrSurfaceLost, err.Error())
	case errors.Is(err, hal.ErrSurfaceOutdated):
		return errors.Wrap(gpu.ErrSwapChain, err.Error())
	}
	return err
}
