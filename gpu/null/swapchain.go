// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package null

import (
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/jjzhang166/SakuraEngine/gpu"
)

type surface struct {
	view  uintptr
	lost  bool
	chain *swapChain
}

func (p *procs) CreateSurface(view uintptr) (gpu.Native, error) {
	if view == 0 {
		return nil, errors.Wrap(gpu.ErrUnsupported, "null: zero view")
	}
	s := &surface{view: view}
	p.b.natives.Retain(view)
	p.b.mu.Lock()
	p.b.surfaces[view] = append(p.b.surfaces[view], s)
	p.b.mu.Unlock()
	p.created()
	return s, nil
}

func (p *procs) FreeSurface(sn gpu.Native) {
	s := sn.(*surface)
	p.check(s.chain == nil, "surface freed with a live swapchain")
	p.b.mu.Lock()
	ss := p.b.surfaces[s.view]
	if i := slices.Index(ss, s); i >= 0 {
		ss = slices.Delete(ss, i, i+1)
	}
	if len(ss) == 0 {
		delete(p.b.surfaces, s.view)
	} else {
		p.b.surfaces[s.view] = ss
	}
	if p.b.natives.Release(s.view) {
		p.b.releases[s.view]++
	}
	p.b.mu.Unlock()
	p.freed()
}

type swapChain struct {
	s       *surface
	images  []*texture
	next    int
	retired bool
}

func (p *procs) CreateSwapChain(dn gpu.Native, params *gpu.SwapChainParams) (gpu.SwapChainInfo, error) {
	d := dn.(*device)
	s := params.Surface.(*surface)
	p.b.mu.Lock()
	lost := s.lost
	p.b.mu.Unlock()
	if lost {
		return gpu.SwapChainInfo{}, gpu.ErrSurfaceLost
	}
	var old *swapChain
	if params.Old != nil {
		old = params.Old.(*swapChain)
	}
	if s.chain != nil && s.chain != old {
		return gpu.SwapChainInfo{}, errors.New("null: surface already in use")
	}
	cfg := &d.a.cfg
	f := params.Format
	if cfg.Formats[f]&gpu.SupportRenderTarget == 0 {
		f = gpu.BGRA8Unorm
	}
	n := min(max(params.ImageCount, cfg.MinImages), cfg.MaxImages)
	sc := &swapChain{s: s}
	desc := gpu.TextureDescriptor{
		Width:       params.Width,
		Height:      params.Height,
		Depth:       1,
		ArraySize:   1,
		MipLevels:   1,
		SampleCount: 1,
		Format:      f,
		Descriptors: gpu.ResourceRenderTarget,
	}
	info := gpu.SwapChainInfo{
		SwapChain: sc,
		Format:    f,
		Width:     params.Width,
		Height:    params.Height,
	}
	for range n {
		t, err := p.newTexture(d, &desc)
		if err != nil {
			for _, t := range sc.images {
				p.FreeTexture(t)
			}
			return gpu.SwapChainInfo{}, err
		}
		sc.images = append(sc.images, t)
		info.Images = append(info.Images, t)
	}
	if old != nil {
		old.retired = true
	}
	s.chain = sc
	p.created()
	return info, nil
}

func (p *procs) FreeSwapChain(scn gpu.Native) {
	sc := scn.(*swapChain)
	for _, t := range sc.images {
		p.FreeTexture(t)
	}
	if sc.s.chain == sc {
		sc.s.chain = nil
	}
	p.freed()
}

func (p *procs) AcquireNextImage(scn gpu.Native) (int, error) {
	sc := scn.(*swapChain)
	p.b.mu.Lock()
	lost := sc.s.lost
	p.b.mu.Unlock()
	switch {
	case lost:
		return 0, gpu.ErrSurfaceLost
	case sc.retired:
		return 0, gpu.ErrSwapChain
	}
	i := sc.next
	sc.next = (sc.next + 1) % len(sc.images)
	return i, nil
}

func (p *procs) Present(_ gpu.Native, scn gpu.Native, index int) error {
	sc := scn.(*swapChain)
	p.b.mu.Lock()
	lost := sc.s.lost
	p.b.mu.Unlock()
	if lost {
		return gpu.ErrSurfaceLost
	}
	if index < 0 || index >= len(sc.images) {
		return errors.Newf("null: image index %d out of range", index)
	}
	return nil
}
