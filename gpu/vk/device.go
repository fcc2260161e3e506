// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package vk

import (
	"slices"
	"unsafe"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	vulkan "github.com/vulkan-go/vulkan"

	"github.com/jjzhang166/SakuraEngine/gpu"
	"github.com/jjzhang166/SakuraEngine/internal/memalloc"
)

type device struct {
	p     *procs
	a     *adapter
	dev   vulkan.Device
	alloc *memalloc.Allocator
	// Whether VK_KHR_swapchain was enabled.
	swapchain bool
	// Set only if resource naming is enabled.
	namer *namer
}

func (p *procs) CreateDevice(an gpu.Native, desc *gpu.DeviceDescriptor) (gpu.Native, error) {
	a := an.(*adapter)
	var qinfos []vulkan.DeviceQueueCreateInfo
	for _, g := range desc.QueueGroups {
		prio := make([]float32, g.Count)
		for i := range prio {
			prio[i] = 1
		}
		qinfos = append(qinfos, vulkan.DeviceQueueCreateInfo{
			SType:            vulkan.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: uint32(a.families[g.Type]),
			QueueCount:       uint32(g.Count),
			PQueuePriorities: prio,
		})
	}
	var exts []string
	swapchain := slices.Contains(a.exts, "VK_KHR_swapchain")
	if swapchain {
		exts = append(exts, "VK_KHR_swapchain")
	}
	naming := p.desc.EnableResourceNaming
	if naming && !p.utils {
		if naming = slices.Contains(a.exts, extDebugMarker); naming {
			exts = append(exts, extDebugMarker)
		}
	}
	info := vulkan.DeviceCreateInfo{
		SType:                   vulkan.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(qinfos)),
		PQueueCreateInfos:       qinfos,
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: safeStrings(exts),
	}
	var dev vulkan.Device
	err := checkResult(vulkan.CreateDevice(a.pdev, &info, nil, &dev))
	if err != nil {
		return nil, err
	}
	d := &device{p: p, a: a, dev: dev, swapchain: swapchain}
	if naming {
		if d.namer, err = newNamer(p.inst, dev, p.utils); err != nil {
			log.WithField("backend", Name).WithError(err).Warn("[!] resource naming unavailable")
		}
	} else if p.desc.EnableResourceNaming {
		log.WithField("backend", Name).Warn("[!] resource naming unavailable")
	}
	d.alloc = memalloc.New(d, memoryProperties(&a.mprop), &memalloc.Options{
		PageSize:    uint64(max(a.detail.UniformBufferAlignment, memalloc.DefaultPageSize)),
		Granularity: a.granularity,
		ThreadSafe:  true,
	})
	return d, nil
}

func (p *procs) FreeDevice(dn gpu.Native) {
	d := dn.(*device)
	vulkan.DeviceWaitIdle(d.dev)
	d.alloc.Destroy()
	vulkan.DestroyDevice(d.dev, nil)
}

// memory is a VkDeviceMemory.
// It implements memalloc.Memory.
type memory struct {
	d    *device
	mem  vulkan.DeviceMemory
	size uint64
}

// Allocate implements memalloc.Device.
func (d *device) Allocate(typ int, size uint64) (memalloc.Memory, error) {
	info := vulkan.MemoryAllocateInfo{
		SType:           vulkan.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vulkan.DeviceSize(size),
		MemoryTypeIndex: uint32(typ),
	}
	var mem vulkan.DeviceMemory
	if err := checkResult(vulkan.AllocateMemory(d.dev, &info, nil, &mem)); err != nil {
		return nil, err
	}
	return &memory{d: d, mem: mem, size: size}, nil
}

func (m *memory) Map() ([]byte, error) {
	var p unsafe.Pointer
	if err := checkResult(vulkan.MapMemory(m.d.dev, m.mem, 0, vulkan.DeviceSize(m.size), 0, &p)); err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(p), m.size), nil
}

func (m *memory) Unmap() { vulkan.UnmapMemory(m.d.dev, m.mem) }

func (m *memory) Free() { vulkan.FreeMemory(m.d.dev, m.mem, nil) }

type queue struct {
	d      *device
	q      vulkan.Queue
	family uint32
}

func (p *procs) GetQueue(dn gpu.Native, typ gpu.QueueType, index int) (gpu.Native, error) {
	d := dn.(*device)
	fam := d.a.families[typ]
	if fam < 0 || index >= d.a.counts[typ] {
		return nil, errors.Wrapf(gpu.ErrNoQueue, "vk: %s queue %d", typ, index)
	}
	var q vulkan.Queue
	vulkan.GetDeviceQueue(d.dev, uint32(fam), uint32(index), &q)
	return &queue{d: d, q: q, family: uint32(fam)}, nil
}

func (p *procs) FreeQueue(gpu.Native) {}

func (p *procs) SubmitQueue(qn gpu.Native, cmds []gpu.Native) error {
	q := qn.(*queue)
	cbs := make([]vulkan.CommandBuffer, len(cmds))
	for i, c := range cmds {
		cbs[i] = c.(*commandBuffer).cb
	}
	return checkResult(vulkan.QueueSubmit(q.q, 1, []vulkan.SubmitInfo{{
		SType:              vulkan.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(cbs)),
		PCommandBuffers:    cbs,
	}}, vulkan.NullFence))
}

func (p *procs) WaitQueueIdle(qn gpu.Native) error {
	return checkResult(vulkan.QueueWaitIdle(qn.(*queue).q))
}

type commandPool struct {
	q    *queue
	pool vulkan.CommandPool
}

func (p *procs) CreateCommandPool(qn gpu.Native, desc *gpu.CommandPoolDescriptor) (gpu.Native, error) {
	q := qn.(*queue)
	var flags vulkan.CommandPoolCreateFlagBits
	if desc.Transient {
		flags |= vulkan.CommandPoolCreateTransientBit
	}
	info := vulkan.CommandPoolCreateInfo{
		SType:            vulkan.StructureTypeCommandPoolCreateInfo,
		Flags:            vulkan.CommandPoolCreateFlags(flags),
		QueueFamilyIndex: q.family,
	}
	var pool vulkan.CommandPool
	if err := checkResult(vulkan.CreateCommandPool(q.d.dev, &info, nil, &pool)); err != nil {
		return nil, err
	}
	return &commandPool{q: q, pool: pool}, nil
}

func (p *procs) ResetCommandPool(pn gpu.Native) error {
	cp := pn.(*commandPool)
	return checkResult(vulkan.ResetCommandPool(cp.q.d.dev, cp.pool, 0))
}

func (p *procs) FreeCommandPool(pn gpu.Native) {
	cp := pn.(*commandPool)
	vulkan.DestroyCommandPool(cp.q.d.dev, cp.pool, nil)
}

type commandBuffer struct {
	pool *commandPool
	cb   vulkan.CommandBuffer
}

func (p *procs) CreateCommandBuffer(pn gpu.Native, desc *gpu.CommandBufferDescriptor) (gpu.Native, error) {
	cp := pn.(*commandPool)
	level := vulkan.CommandBufferLevelPrimary
	if desc.Secondary {
		level = vulkan.CommandBufferLevelSecondary
	}
	cbs := make([]vulkan.CommandBuffer, 1)
	info := vulkan.CommandBufferAllocateInfo{
		SType:              vulkan.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        cp.pool,
		Level:              level,
		CommandBufferCount: 1,
	}
	if err := checkResult(vulkan.AllocateCommandBuffers(cp.q.d.dev, &info, cbs)); err != nil {
		return nil, err
	}
	return &commandBuffer{pool: cp, cb: cbs[0]}, nil
}

func (p *procs) FreeCommandBuffer(c gpu.Native) {
	cb := c.(*commandBuffer)
	vulkan.FreeCommandBuffers(cb.pool.q.d.dev, cb.pool.pool, 1, []vulkan.CommandBuffer{cb.cb})
}

func (p *procs) CmdBegin(c gpu.Native) error {
	return checkResult(vulkan.BeginCommandBuffer(c.(*commandBuffer).cb, &vulkan.CommandBufferBeginInfo{
		SType: vulkan.StructureTypeCommandBufferBeginInfo,
		Flags: vulkan.CommandBufferUsageFlags(vulkan.CommandBufferUsageOneTimeSubmitBit),
	}))
}

func (p *procs) CmdEnd(c gpu.Native) error {
	return checkResult(vulkan.EndCommandBuffer(c.(*commandBuffer).cb))
}

func (p *procs) CmdCopyBuffer(c gpu.Native, dst gpu.Native, dstOff uint64, src gpu.Native, srcOff uint64, size uint64) {
	vulkan.CmdCopyBuffer(c.(*commandBuffer).cb, src.(*buffer).buf, dst.(*buffer).buf, 1, []vulkan.BufferCopy{{
		SrcOffset: vulkan.DeviceSize(srcOff),
		DstOffset: vulkan.DeviceSize(dstOff),
		Size:      vulkan.DeviceSize(size),
	}})
}
