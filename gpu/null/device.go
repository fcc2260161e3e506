// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package null

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/jjzhang166/SakuraEngine/gpu"
	"github.com/jjzhang166/SakuraEngine/internal/memalloc"
)

// blockSize is the size of the memory blocks that
// resources are sub-allocated from.
const blockSize = 4 << 20

type device struct {
	a      *adapter
	queues [3]int
	heaps  *heapSet
	alloc  *memalloc.Allocator
}

// heapSet implements memalloc.Device with byte slices.
type heapSet struct {
	mu    sync.Mutex
	types []memalloc.MemoryType
	size  []uint64
	used  []uint64
	host  []bool
}

func (h *heapSet) Allocate(typ int, size uint64) (memalloc.Memory, error) {
	heap := h.types[typ].Heap
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.used[heap]+size > h.size[heap] {
		if h.host[heap] {
			return nil, gpu.ErrNoHostMemory
		}
		return nil, gpu.ErrNoDeviceMemory
	}
	h.used[heap] += size
	return &memory{h: h, heap: heap, b: make([]byte, size)}, nil
}

type memory struct {
	h    *heapSet
	heap int
	b    []byte
	maps int
}

func (m *memory) Map() ([]byte, error) {
	m.maps++
	return m.b, nil
}

func (m *memory) Unmap() { m.maps-- }

func (m *memory) Free() {
	m.h.mu.Lock()
	m.h.used[m.heap] -= uint64(len(m.b))
	m.h.mu.Unlock()
	m.b = nil
}

// memoryProperties returns the memory layout of an
// adapter.
func memoryProperties(cfg *AdapterConfig) (memalloc.Properties, []bool) {
	const (
		local    = memalloc.DeviceLocal
		coherent = memalloc.HostVisible | memalloc.HostCoherent
	)
	if cfg.Detail.UMA {
		return memalloc.Properties{
			Types: []memalloc.MemoryType{
				{Flags: local | coherent, Heap: 0},
				{Flags: local | coherent | memalloc.HostCached, Heap: 0},
			},
			Heaps: []uint64{cfg.DeviceMemory},
		}, []bool{false}
	}
	props := memalloc.Properties{
		Types: []memalloc.MemoryType{
			{Flags: local, Heap: 0},
			{Flags: coherent, Heap: 1},
			{Flags: coherent | memalloc.HostCached, Heap: 1},
		},
		Heaps: []uint64{cfg.DeviceMemory, cfg.HostMemory},
	}
	if cfg.Detail.HostVisibleVRAM {
		props.Types = append(props.Types, memalloc.MemoryType{Flags: local | coherent, Heap: 0})
	}
	return props, []bool{false, true}
}

func (d *device) typeBits() uint32 { return 1<<len(d.heaps.types) - 1 }

func (p *procs) CreateDevice(a gpu.Native, desc *gpu.DeviceDescriptor) (gpu.Native, error) {
	ad := a.(*adapter)
	d := &device{a: ad}
	for _, g := range desc.QueueGroups {
		p.check(g.Count <= ad.cfg.Queues[g.Type], "%d %s queues requested", g.Count, g.Type)
		d.queues[g.Type] = g.Count
	}
	props, host := memoryProperties(&ad.cfg)
	d.heaps = &heapSet{
		types: props.Types,
		size:  props.Heaps,
		used:  make([]uint64, len(props.Heaps)),
		host:  host,
	}
	d.alloc = memalloc.New(d.heaps, props, &memalloc.Options{BlockSize: blockSize, ThreadSafe: true})
	p.devices++
	p.created()
	return d, nil
}

func (p *procs) FreeDevice(dn gpu.Native) {
	d := dn.(*device)
	leaked := d.alloc.Destroy()
	p.check(leaked == 0, "device freed with %d live allocation(s)", leaked)
	p.devices--
	p.freed()
}

type queue struct {
	d     *device
	typ   gpu.QueueType
	index int
}

func (p *procs) GetQueue(dn gpu.Native, typ gpu.QueueType, index int) (gpu.Native, error) {
	d := dn.(*device)
	if index >= d.queues[typ] {
		return nil, errors.Wrapf(gpu.ErrNoQueue, "null: %s queue %d", typ, index)
	}
	p.created()
	return &queue{d: d, typ: typ, index: index}, nil
}

func (p *procs) FreeQueue(gpu.Native) { p.freed() }

// SubmitQueue executes the recorded copies.
func (p *procs) SubmitQueue(qn gpu.Native, cmds []gpu.Native) error {
	q := qn.(*queue)
	for _, c := range cmds {
		cb := c.(*commandBuffer)
		p.check(!cb.recording, "submission of command buffer in recording state")
		p.check(cb.pool.q.d == q.d, "submission of command buffer from another device")
		for _, x := range cb.copies {
			copy(x.dst.bytes(x.dstOff, x.size), x.src.bytes(x.srcOff, x.size))
		}
	}
	return nil
}

func (p *procs) WaitQueueIdle(gpu.Native) error { return nil }

type commandPool struct {
	q       *queue
	buffers int
}

type copyCmd struct {
	dst, src       *buffer
	dstOff, srcOff uint64
	size           uint64
}

type commandBuffer struct {
	pool      *commandPool
	recording bool
	copies    []copyCmd
}

func (p *procs) CreateCommandPool(q gpu.Native, _ *gpu.CommandPoolDescriptor) (gpu.Native, error) {
	p.created()
	return &commandPool{q: q.(*queue)}, nil
}

func (p *procs) ResetCommandPool(gpu.Native) error { return nil }

func (p *procs) FreeCommandPool(pn gpu.Native) {
	cp := pn.(*commandPool)
	p.check(cp.buffers == 0, "command pool freed with %d command buffer(s)", cp.buffers)
	p.freed()
}

func (p *procs) CreateCommandBuffer(pn gpu.Native, _ *gpu.CommandBufferDescriptor) (gpu.Native, error) {
	cp := pn.(*commandPool)
	cp.buffers++
	p.created()
	return &commandBuffer{pool: cp}, nil
}

func (p *procs) FreeCommandBuffer(c gpu.Native) {
	c.(*commandBuffer).pool.buffers--
	p.freed()
}

func (p *procs) CmdBegin(c gpu.Native) error {
	cb := c.(*commandBuffer)
	cb.copies = cb.copies[:0]
	cb.recording = true
	return nil
}

func (p *procs) CmdEnd(c gpu.Native) error {
	c.(*commandBuffer).recording = false
	return nil
}

func (p *procs) CmdCopyBuffer(c gpu.Native, dst gpu.Native, dstOff uint64, src gpu.Native, srcOff uint64, size uint64) {
	cb := c.(*commandBuffer)
	cb.copies = append(cb.copies, copyCmd{
		dst:    dst.(*buffer),
		src:    src.(*buffer),
		dstOff: dstOff,
		srcOff: srcOff,
		size:   size,
	})
}
