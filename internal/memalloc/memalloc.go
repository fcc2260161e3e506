// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package memalloc implements the device memory allocator
// that backends delegate resource memory to.
// It selects memory types from a usage class, sub-allocates
// buffers and images from large blocks and supports
// dedicated and persistently mapped allocations.
package memalloc

import (
	"math"
	"math/bits"
	"sync"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
)

// PropertyFlags describes the properties of a memory type.
type PropertyFlags uint32

// Memory property flags.
const (
	DeviceLocal PropertyFlags = 1 << iota
	HostVisible
	HostCoherent
	HostCached
)

// Usage is the intended access pattern of an allocation.
type Usage int

// Usage classes.
const (
	UsageUnknown Usage = iota
	UsageGPUOnly
	UsageCPUOnly
	UsageCPUToGPU
	UsageGPUToCPU
)

// Flags modify how an allocation is made.
type Flags uint32

// Allocation flags.
const (
	// Dedicated requests a device memory object of its own.
	Dedicated Flags = 1 << iota
	// Mapped requests that the allocation stay mapped for
	// its whole lifetime.
	Mapped
)

// MemoryType describes one memory type of a device.
type MemoryType struct {
	Flags PropertyFlags
	Heap  int
}

// Properties describes the memory of a device.
type Properties struct {
	Types []MemoryType
	// Sizes of the memory heaps, in bytes.
	Heaps []uint64
}

// Memory is a device memory object allocated by a backend.
type Memory interface {
	// Map maps the whole memory object for host access.
	Map() ([]byte, error)
	Unmap()
	Free()
}

// Device is the interface that backends implement to
// allocate device memory objects.
type Device interface {
	Allocate(typeIndex int, size uint64) (Memory, error)
}

// Requirements are the memory requirements of a resource.
type Requirements struct {
	Size      uint64
	Alignment uint64
	// Bit i is set if memory type i is supported.
	TypeBits uint32
	// Whether the resource is an optimally tiled image.
	// Buffers and linear images are not.
	Optimal bool
}

// Options configures an Allocator.
// The zero value is valid.
type Options struct {
	// Size of the blocks that small allocations are
	// carved from. Defaults to 64 MiB.
	BlockSize uint64
	// Allocation granularity within a block.
	// Must be a power of two. Defaults to 256 bytes.
	PageSize uint64
	// Granularity at which linear and optimal resources
	// must not alias (bufferImageGranularity).
	// Must be a power of two. Values up to PageSize need no
	// separation.
	Granularity uint64
	// Whether calls are serialized by the allocator.
	ThreadSafe bool
}

// Default option values.
const (
	DefaultBlockSize = 64 << 20
	DefaultPageSize  = 256
)

// ErrNoMemoryType means that no memory type satisfies the
// requirements of an allocation.
var ErrNoMemoryType = errors.New("memalloc: no suitable memory type found")

// ErrNotMappable means that the allocation lives in memory
// that the host cannot access.
var ErrNotMappable = errors.New("memalloc: memory is not host visible")

// Allocation is a range of device memory.
type Allocation struct {
	mem       Memory
	offset    uint64
	size      uint64
	typ       int
	blk       *block
	first     int
	npage     int
	dedicated bool
	persist   bool
	maps      int
	p         []byte
}

// Memory returns the memory object that backs the allocation.
func (a *Allocation) Memory() Memory { return a.mem }

// Offset returns the offset of the allocation in its memory object.
func (a *Allocation) Offset() uint64 { return a.offset }

// Size returns the size of the allocation in bytes.
func (a *Allocation) Size() uint64 { return a.size }

// TypeIndex returns the memory type of the allocation.
func (a *Allocation) TypeIndex() int { return a.typ }

// Dedicated returns whether the allocation owns its memory object.
func (a *Allocation) Dedicated() bool { return a.dedicated }

// Mapped returns the host view of a mapped allocation, or nil.
func (a *Allocation) Mapped() []byte { return a.p }

// block is a memory object shared by many allocations.
type block struct {
	mem  Memory
	size uint64
	used pages
	maps int
	p    []byte
	// Class of the resources in the block, when classes
	// are separated.
	optimal bool
}

// Stats describes the state of an Allocator.
type Stats struct {
	Allocations int
	Dedicated   int
	Blocks      int
	// Bytes handed out per heap.
	Used []uint64
	// Bytes of device memory held per heap.
	Reserved []uint64
}

// Allocator sub-allocates device memory.
type Allocator struct {
	mu     sync.Mutex
	locked bool
	dev    Device
	props  Properties
	bsize  uint64
	psize  uint64
	split  bool
	blocks [][]*block
	live   map[*Allocation]struct{}
	used   []uint64
	resv   []uint64
}

// New creates a new Allocator.
func New(dev Device, props Properties, opts *Options) *Allocator {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.PageSize == 0 || o.PageSize&(o.PageSize-1) != 0 {
		o.PageSize = DefaultPageSize
	}
	if o.BlockSize < o.PageSize {
		o.BlockSize = o.PageSize
	}
	if o.Granularity&(o.Granularity-1) != 0 {
		o.Granularity = 1 << bits.Len64(o.Granularity)
	}
	return &Allocator{
		locked: o.ThreadSafe,
		dev:    dev,
		props:  props,
		bsize:  o.BlockSize,
		psize:  o.PageSize,
		split:  o.Granularity > o.PageSize,
		blocks: make([][]*block, len(props.Types)),
		live:   make(map[*Allocation]struct{}),
		used:   make([]uint64, len(props.Heaps)),
		resv:   make([]uint64, len(props.Heaps)),
	}
}

func (a *Allocator) lock() {
	if a.locked {
		a.mu.Lock()
	}
}

func (a *Allocator) unlock() {
	if a.locked {
		a.mu.Unlock()
	}
}

// preferences returns the required, preferred and not
// preferred property flags of a given usage class.
func preferences(usage Usage) (req, pref, notPref PropertyFlags) {
	switch usage {
	case UsageGPUOnly:
		pref = DeviceLocal
		notPref = HostVisible
	case UsageCPUOnly:
		req = HostVisible | HostCoherent
		notPref = DeviceLocal
	case UsageCPUToGPU:
		req = HostVisible
		pref = DeviceLocal | HostCoherent
	case UsageGPUToCPU:
		req = HostVisible
		pref = HostCached | HostCoherent
	}
	return
}

// SelectType selects the memory type that best fits usage.
// The type with fewest missing preferred flags and fewest
// present not-preferred flags wins.
func (a *Allocator) SelectType(typeBits uint32, usage Usage) (int, error) {
	req, pref, notPref := preferences(usage)
	best := -1
	cost := math.MaxInt
	for i, t := range a.props.Types {
		if typeBits&(1<<i) == 0 || t.Flags&req != req {
			continue
		}
		c := bits.OnesCount32(uint32(pref&^t.Flags)) + bits.OnesCount32(uint32(notPref&t.Flags))
		if c == 0 {
			return i, nil
		}
		if c < cost {
			best, cost = i, c
		}
	}
	if best == -1 {
		return -1, ErrNoMemoryType
	}
	return best, nil
}

// Allocate allocates memory that satisfies req.
func (a *Allocator) Allocate(req Requirements, usage Usage, flags Flags) (*Allocation, error) {
	if req.Size == 0 {
		return nil, errors.New("memalloc: zero-sized allocation")
	}
	a.lock()
	defer a.unlock()

	typ, err := a.SelectType(req.TypeBits, usage)
	if err != nil {
		return nil, err
	}
	if flags&Mapped != 0 && a.props.Types[typ].Flags&HostVisible == 0 {
		// Mapping is a request, not a requirement.
		flags &^= Mapped
	}
	// Large allocations do not share blocks.
	if req.Size > a.bsize/2 || req.Alignment > a.bsize {
		flags |= Dedicated
	}

	var al *Allocation
	if flags&Dedicated != 0 {
		al, err = a.allocDedicated(typ, req.Size)
	} else {
		al, err = a.allocBlock(typ, req)
	}
	if err != nil {
		return nil, err
	}
	if flags&Mapped != 0 {
		if _, err = a.mmap(al); err != nil {
			a.free(al)
			return nil, err
		}
		al.persist = true
	}
	a.live[al] = struct{}{}
	a.used[a.props.Types[typ].Heap] += al.size
	return al, nil
}

func (a *Allocator) allocDedicated(typ int, size uint64) (*Allocation, error) {
	mem, err := a.dev.Allocate(typ, size)
	if err != nil {
		return nil, err
	}
	a.resv[a.props.Types[typ].Heap] += size
	return &Allocation{
		mem:       mem,
		size:      size,
		typ:       typ,
		dedicated: true,
	}, nil
}

func (a *Allocator) allocBlock(typ int, req Requirements) (*Allocation, error) {
	npage := int((req.Size + a.psize - 1) / a.psize)
	align := 1
	if req.Alignment > a.psize {
		align = int(req.Alignment / a.psize)
	}
	for _, b := range a.blocks[typ] {
		// Pages are aligned to the granularity otherwise.
		if a.split && b.optimal != req.Optimal {
			continue
		}
		if i, ok := b.used.SearchRange(npage, align); ok {
			return a.place(b, typ, i, npage, req.Size), nil
		}
	}
	mem, err := a.dev.Allocate(typ, a.bsize)
	if err != nil {
		return nil, err
	}
	b := &block{
		mem:     mem,
		size:    a.bsize,
		used:    newPages(int(a.bsize / a.psize)),
		optimal: req.Optimal,
	}
	a.blocks[typ] = append(a.blocks[typ], b)
	a.resv[a.props.Types[typ].Heap] += a.bsize
	i, ok := b.used.SearchRange(npage, align)
	if !ok {
		panic("memalloc: new block cannot fit allocation")
	}
	return a.place(b, typ, i, npage, req.Size), nil
}

func (a *Allocator) place(b *block, typ, first, npage int, size uint64) *Allocation {
	b.used.SetRange(first, npage)
	return &Allocation{
		mem:    b.mem,
		offset: uint64(first) * a.psize,
		size:   size,
		typ:    typ,
		blk:    b,
		first:  first,
		npage:  npage,
	}
}

// Map maps al for host access.
// Calls to Map must be paired with calls to Unmap.
func (a *Allocator) Map(al *Allocation) ([]byte, error) {
	a.lock()
	defer a.unlock()
	return a.mmap(al)
}

func (a *Allocator) mmap(al *Allocation) ([]byte, error) {
	if a.props.Types[al.typ].Flags&HostVisible == 0 {
		return nil, ErrNotMappable
	}
	if al.maps > 0 {
		al.maps++
		return al.p, nil
	}
	if al.dedicated {
		p, err := al.mem.Map()
		if err != nil {
			return nil, errors.Wrap(err, "memalloc: map dedicated memory")
		}
		al.p = p[:al.size:al.size]
	} else {
		b := al.blk
		if b.maps == 0 {
			p, err := b.mem.Map()
			if err != nil {
				return nil, errors.Wrap(err, "memalloc: map block")
			}
			b.p = p
		}
		b.maps++
		al.p = b.p[al.offset : al.offset+al.size : al.offset+al.size]
	}
	al.maps = 1
	return al.p, nil
}

// Unmap undoes a call to Map.
// Persistently mapped allocations stay mapped.
func (a *Allocator) Unmap(al *Allocation) {
	a.lock()
	defer a.unlock()
	if al.maps == 0 || (al.persist && al.maps == 1) {
		return
	}
	a.unmap(al)
}

func (a *Allocator) unmap(al *Allocation) {
	al.maps--
	if al.maps > 0 {
		return
	}
	al.p = nil
	if al.dedicated {
		al.mem.Unmap()
		return
	}
	b := al.blk
	b.maps--
	if b.maps == 0 {
		b.mem.Unmap()
		b.p = nil
	}
}

// Free frees al.
func (a *Allocator) Free(al *Allocation) {
	if al == nil {
		return
	}
	a.lock()
	defer a.unlock()
	if _, ok := a.live[al]; !ok {
		log.Warn("[!] memalloc: free of unknown allocation")
		return
	}
	delete(a.live, al)
	a.used[a.props.Types[al.typ].Heap] -= al.size
	a.free(al)
}

func (a *Allocator) free(al *Allocation) {
	for al.maps > 0 {
		a.unmap(al)
	}
	heap := a.props.Types[al.typ].Heap
	if al.dedicated {
		al.mem.Free()
		a.resv[heap] -= al.size
		*al = Allocation{}
		return
	}
	b := al.blk
	b.used.UnsetRange(al.first, al.npage)
	// Keep one block per memory type around.
	if blks := a.blocks[al.typ]; b.used.Empty() && len(blks) > 1 {
		for i := range blks {
			if blks[i] == b {
				a.blocks[al.typ] = append(blks[:i], blks[i+1:]...)
				break
			}
		}
		b.mem.Free()
		a.resv[heap] -= b.size
	}
	*al = Allocation{}
}

// Stats returns a snapshot of the allocator state.
func (a *Allocator) Stats() Stats {
	a.lock()
	defer a.unlock()
	s := Stats{
		Allocations: len(a.live),
		Used:        append([]uint64(nil), a.used...),
		Reserved:    append([]uint64(nil), a.resv...),
	}
	for al := range a.live {
		if al.dedicated {
			s.Dedicated++
		}
	}
	for _, blks := range a.blocks {
		s.Blocks += len(blks)
	}
	return s
}

// Destroy frees every memory object held by the allocator.
// It returns the number of allocations that were still live,
// which are freed as well.
func (a *Allocator) Destroy() (leaked int) {
	a.lock()
	defer a.unlock()
	leaked = len(a.live)
	for al := range a.live {
		if al.dedicated {
			a.free(al)
		} else {
			for al.maps > 0 {
				a.unmap(al)
			}
		}
	}
	for typ, blks := range a.blocks {
		for _, b := range blks {
			if b.maps > 0 {
				b.mem.Unmap()
			}
			b.mem.Free()
		}
		a.blocks[typ] = nil
	}
	clear(a.live)
	clear(a.used)
	clear(a.resv)
	if leaked > 0 {
		log.WithField("allocations", leaked).Warn("[!] memalloc: destroyed with live allocations")
	}
	return
}
