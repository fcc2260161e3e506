// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package vk

import (
	"slices"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	vulkan "github.com/vulkan-go/vulkan"

	"github.com/jjzhang166/SakuraEngine/gpu"
)

// surface is a VkSurfaceKHR.
// The view given to CreateSurface is a VkSurfaceKHR that
// the windowing code created from the same instance;
// the backend takes ownership of it.
// Surfaces created from the same view share the handle,
// which is destroyed with the last of them. A lost handle
// stays lost: the windowing code must create a new one.
type surface struct {
	s vulkan.Surface
}

func (p *procs) CreateSurface(view uintptr) (gpu.Native, error) {
	if view == 0 {
		return nil, errors.Wrap(gpu.ErrUnsupported, "vk: null surface")
	}
	s := vulkan.SurfaceFromPointer(view)
	if !p.surfaces.Retain(s) {
		log.WithField("backend", Name).Debug("surface handle shared")
	}
	return &surface{s: s}, nil
}

func (p *procs) FreeSurface(sn gpu.Native) {
	s := sn.(*surface).s
	if p.surfaces.Release(s) {
		vulkan.DestroySurface(p.inst, s, nil)
	}
}

type swapChain struct {
	d      *device
	sc     vulkan.Swapchain
	images []*texture
	fence  vulkan.Fence
}

// presentMode selects a presentation mode.
// FIFO is always supported.
func presentMode(modes []vulkan.PresentMode, vsync bool) vulkan.PresentMode {
	if vsync {
		return vulkan.PresentModeFifo
	}
	for _, m := range [...]vulkan.PresentMode{vulkan.PresentModeMailbox, vulkan.PresentModeImmediate} {
		if slices.Contains(modes, m) {
			return m
		}
	}
	return vulkan.PresentModeFifo
}

func (p *procs) CreateSwapChain(dn gpu.Native, params *gpu.SwapChainParams) (gpu.SwapChainInfo, error) {
	d := dn.(*device)
	if !d.swapchain {
		return gpu.SwapChainInfo{}, errors.Wrap(gpu.ErrUnsupported, "vk: VK_KHR_swapchain not enabled")
	}
	s := params.Surface.(*surface)
	pdev := d.a.pdev

	var fams []uint32
	for _, qn := range params.PresentQueues {
		q := qn.(*queue)
		var ok vulkan.Bool32
		if err := checkResult(vulkan.GetPhysicalDeviceSurfaceSupport(pdev, q.family, s.s, &ok)); err != nil {
			return gpu.SwapChainInfo{}, err
		}
		if ok != vulkan.True {
			return gpu.SwapChainInfo{}, errors.Wrapf(gpu.ErrUnsupported, "vk: queue family %d cannot present", q.family)
		}
		if !slices.Contains(fams, q.family) {
			fams = append(fams, q.family)
		}
	}

	var caps vulkan.SurfaceCapabilities
	if err := checkResult(vulkan.GetPhysicalDeviceSurfaceCapabilities(pdev, s.s, &caps)); err != nil {
		return gpu.SwapChainInfo{}, err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	n := max(uint32(params.ImageCount), caps.MinImageCount)
	if caps.MaxImageCount > 0 {
		n = min(n, caps.MaxImageCount)
	}
	extent := caps.CurrentExtent
	if extent.Width == vulkan.MaxUint32 {
		extent.Width = min(max(uint32(params.Width), caps.MinImageExtent.Width), caps.MaxImageExtent.Width)
		extent.Height = min(max(uint32(params.Height), caps.MinImageExtent.Height), caps.MaxImageExtent.Height)
	}

	var nfmt uint32
	if err := checkResult(vulkan.GetPhysicalDeviceSurfaceFormats(pdev, s.s, &nfmt, nil)); err != nil {
		return gpu.SwapChainInfo{}, err
	}
	sfmts := make([]vulkan.SurfaceFormat, nfmt)
	if err := checkResult(vulkan.GetPhysicalDeviceSurfaceFormats(pdev, s.s, &nfmt, sfmts)); err != nil {
		return gpu.SwapChainInfo{}, err
	}
	if nfmt == 0 {
		return gpu.SwapChainInfo{}, errors.Wrap(gpu.ErrUnsupported, "vk: surface has no formats")
	}
	want, _ := convFormat(params.Format)
	sfmts[0].Deref()
	sfmt := sfmts[0]
	for i := range sfmts[:nfmt] {
		sfmts[i].Deref()
		if sfmts[i].Format == want {
			sfmt = sfmts[i]
			break
		}
	}
	format := unconvFormat(sfmt.Format)
	if format == gpu.FormatUndefined {
		return gpu.SwapChainInfo{}, errors.Wrapf(gpu.ErrUnsupported, "vk: surface format %d", sfmt.Format)
	}

	var nmode uint32
	vulkan.GetPhysicalDeviceSurfacePresentModes(pdev, s.s, &nmode, nil)
	modes := make([]vulkan.PresentMode, nmode)
	vulkan.GetPhysicalDeviceSurfacePresentModes(pdev, s.s, &nmode, modes)

	info := vulkan.SwapchainCreateInfo{
		SType:            vulkan.StructureTypeSwapchainCreateInfo,
		Surface:          s.s,
		MinImageCount:    n,
		ImageFormat:      sfmt.Format,
		ImageColorSpace:  sfmt.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vulkan.ImageUsageFlags(vulkan.ImageUsageColorAttachmentBit | vulkan.ImageUsageTransferDstBit),
		ImageSharingMode: vulkan.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vulkan.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode(modes[:nmode], params.VSync),
		Clipped:          vulkan.True,
		OldSwapchain:     vulkan.NullSwapchain,
	}
	if len(fams) > 1 {
		info.ImageSharingMode = vulkan.SharingModeConcurrent
		info.QueueFamilyIndexCount = uint32(len(fams))
		info.PQueueFamilyIndices = fams
	}
	if params.Old != nil {
		info.OldSwapchain = params.Old.(*swapChain).sc
	}
	sc := &swapChain{d: d}
	if err := checkResult(vulkan.CreateSwapchain(d.dev, &info, nil, &sc.sc)); err != nil {
		return gpu.SwapChainInfo{}, err
	}
	fence := vulkan.FenceCreateInfo{SType: vulkan.StructureTypeFenceCreateInfo}
	if err := checkResult(vulkan.CreateFence(d.dev, &fence, nil, &sc.fence)); err != nil {
		vulkan.DestroySwapchain(d.dev, sc.sc, nil)
		return gpu.SwapChainInfo{}, err
	}

	// The implementation may create more images than
	// requested.
	var nimg uint32
	vulkan.GetSwapchainImages(d.dev, sc.sc, &nimg, nil)
	imgs := make([]vulkan.Image, nimg)
	vulkan.GetSwapchainImages(d.dev, sc.sc, &nimg, imgs)
	out := gpu.SwapChainInfo{
		SwapChain: sc,
		Format:    format,
		Width:     int(extent.Width),
		Height:    int(extent.Height),
	}
	for _, img := range imgs[:nimg] {
		t := &texture{d: d, img: img, format: format, layers: 1}
		sc.images = append(sc.images, t)
		out.Images = append(out.Images, t)
	}
	log.WithFields(log.Fields{
		"backend": Name,
		"images":  nimg,
		"extent":  [2]uint32{extent.Width, extent.Height},
	}).Debug("swapchain created")
	return out, nil
}

func (p *procs) FreeSwapChain(scn gpu.Native) {
	sc := scn.(*swapChain)
	vulkan.DeviceWaitIdle(sc.d.dev)
	vulkan.DestroyFence(sc.d.dev, sc.fence, nil)
	vulkan.DestroySwapchain(sc.d.dev, sc.sc, nil)
}

func (p *procs) AcquireNextImage(scn gpu.Native) (int, error) {
	sc := scn.(*swapChain)
	var idx uint32
	res := vulkan.AcquireNextImage(sc.d.dev, sc.sc, vulkan.MaxUint64, vulkan.NullSemaphore, sc.fence, &idx)
	if err := checkResult(res); err != nil {
		return 0, err
	}
	fences := []vulkan.Fence{sc.fence}
	if err := checkResult(vulkan.WaitForFences(sc.d.dev, 1, fences, vulkan.True, vulkan.MaxUint64)); err != nil {
		return 0, err
	}
	if err := checkResult(vulkan.ResetFences(sc.d.dev, 1, fences)); err != nil {
		return 0, err
	}
	return int(idx), nil
}

func (p *procs) Present(qn gpu.Native, scn gpu.Native, index int) error {
	q := qn.(*queue)
	sc := scn.(*swapChain)
	res := vulkan.QueuePresent(q.q, &vulkan.PresentInfo{
		SType:          vulkan.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vulkan.Swapchain{sc.sc},
		PImageIndices:  []uint32{uint32(index)},
	})
	return checkResult(res)
}
