// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package memalloc

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMemory struct {
	b      []byte
	mapped int
	freed  bool
}

func (m *testMemory) Map() ([]byte, error) { m.mapped++; return m.b, nil }
func (m *testMemory) Unmap()               { m.mapped-- }
func (m *testMemory) Free()                { m.freed = true }

type testDevice struct {
	mems  []*testMemory
	limit uint64
	total uint64
}

func (d *testDevice) Allocate(_ int, size uint64) (Memory, error) {
	if d.limit != 0 && d.total+size > d.limit {
		return nil, errors.New("out of device memory")
	}
	d.total += size
	m := &testMemory{b: make([]byte, size)}
	d.mems = append(d.mems, m)
	return m, nil
}

// discrete resembles a discrete GPU: device-local, host
// visible and host cached types on two heaps.
var discrete = Properties{
	Types: []MemoryType{
		{Flags: DeviceLocal, Heap: 0},
		{Flags: HostVisible | HostCoherent, Heap: 1},
		{Flags: HostVisible | HostCoherent | HostCached, Heap: 1},
		{Flags: DeviceLocal | HostVisible | HostCoherent, Heap: 0},
	},
	Heaps: []uint64{1 << 30, 1 << 30},
}

func TestSelectType(t *testing.T) {
	a := New(&testDevice{}, discrete, nil)
	for _, x := range [...]struct {
		bits  uint32
		usage Usage
		want  int
	}{
		{0xf, UsageGPUOnly, 0},
		{0xf, UsageCPUOnly, 1},
		{0xf, UsageCPUToGPU, 3},
		{0xf, UsageGPUToCPU, 2},
		{0x3, UsageCPUToGPU, 1},
		{0x8, UsageGPUOnly, 3},
		{0xf, UsageUnknown, 0},
	} {
		typ, err := a.SelectType(x.bits, x.usage)
		require.NoError(t, err)
		assert.Equalf(t, x.want, typ, "SelectType(%#x, %d)", x.bits, x.usage)
	}
	_, err := a.SelectType(0x1, UsageCPUOnly)
	assert.ErrorIs(t, err, ErrNoMemoryType)
}

func TestAllocateBlock(t *testing.T) {
	dev := &testDevice{}
	a := New(dev, discrete, &Options{BlockSize: 1 << 16, PageSize: 256})
	req := Requirements{Size: 1000, Alignment: 16, TypeBits: 0xf}

	al1, err := a.Allocate(req, UsageGPUOnly, 0)
	require.NoError(t, err)
	al2, err := a.Allocate(req, UsageGPUOnly, 0)
	require.NoError(t, err)

	assert.Len(t, dev.mems, 1, "allocations should share a block")
	assert.Same(t, al1.Memory(), al2.Memory())
	assert.Equal(t, uint64(0), al1.Offset())
	assert.Equal(t, uint64(1024), al2.Offset())
	assert.Equal(t, uint64(1000), al2.Size())
	assert.False(t, al1.Dedicated())

	s := a.Stats()
	assert.Equal(t, 2, s.Allocations)
	assert.Equal(t, 1, s.Blocks)
	assert.Equal(t, uint64(2000), s.Used[0])
	assert.Equal(t, uint64(1<<16), s.Reserved[0])

	a.Free(al1)
	al3, err := a.Allocate(Requirements{Size: 512, TypeBits: 0xf}, UsageGPUOnly, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), al3.Offset(), "freed range should be reused")

	a.Free(al2)
	a.Free(al3)
	assert.Equal(t, 0, a.Stats().Allocations)
	assert.Zero(t, a.Destroy())
	assert.True(t, dev.mems[0].freed)
}

func TestAllocateAlignment(t *testing.T) {
	a := New(&testDevice{}, discrete, &Options{BlockSize: 1 << 16, PageSize: 256})
	_, err := a.Allocate(Requirements{Size: 256, TypeBits: 0xf}, UsageGPUOnly, 0)
	require.NoError(t, err)
	al, err := a.Allocate(Requirements{Size: 256, Alignment: 4096, TypeBits: 0xf}, UsageGPUOnly, 0)
	require.NoError(t, err)
	assert.Zero(t, al.Offset()%4096, "offset %d not aligned", al.Offset())
	assert.NotZero(t, al.Offset())
	a.Destroy()
}

func TestAllocateDedicated(t *testing.T) {
	dev := &testDevice{}
	a := New(dev, discrete, &Options{BlockSize: 1 << 16})

	al, err := a.Allocate(Requirements{Size: 100, TypeBits: 0xf}, UsageGPUOnly, Dedicated)
	require.NoError(t, err)
	assert.True(t, al.Dedicated())
	assert.Equal(t, uint64(100), uint64(len(dev.mems[0].b)))

	// Larger than half a block.
	big, err := a.Allocate(Requirements{Size: 1<<15 + 1, TypeBits: 0xf}, UsageGPUOnly, 0)
	require.NoError(t, err)
	assert.True(t, big.Dedicated())

	assert.Equal(t, 2, a.Stats().Dedicated)
	a.Free(al)
	assert.True(t, dev.mems[0].freed)
	a.Free(big)
	assert.Zero(t, a.Destroy())
}

func TestMapped(t *testing.T) {
	dev := &testDevice{}
	a := New(dev, discrete, &Options{BlockSize: 1 << 16})

	al, err := a.Allocate(Requirements{Size: 64, TypeBits: 0xf}, UsageCPUToGPU, Mapped)
	require.NoError(t, err)
	require.Len(t, al.Mapped(), 64)
	al.Mapped()[0] = 42
	assert.Equal(t, byte(42), dev.mems[0].b[al.Offset()])

	// Unmap must not drop a persistent mapping.
	a.Unmap(al)
	assert.NotNil(t, al.Mapped())

	// Mapping device-local memory is refused.
	gpu, err := a.Allocate(Requirements{Size: 64, TypeBits: 0x1}, UsageGPUOnly, Mapped)
	require.NoError(t, err)
	assert.Nil(t, gpu.Mapped())
	_, err = a.Map(gpu)
	assert.ErrorIs(t, err, ErrNotMappable)

	a.Free(al)
	assert.Zero(t, dev.mems[0].mapped)
	a.Free(gpu)
	a.Destroy()
}

func TestMapPairs(t *testing.T) {
	dev := &testDevice{}
	a := New(dev, discrete, &Options{BlockSize: 1 << 16, ThreadSafe: true})
	al, err := a.Allocate(Requirements{Size: 64, TypeBits: 0x2}, UsageCPUOnly, 0)
	require.NoError(t, err)
	p1, err := a.Map(al)
	require.NoError(t, err)
	p2, err := a.Map(al)
	require.NoError(t, err)
	assert.Same(t, &p1[0], &p2[0])
	assert.Equal(t, 1, dev.mems[0].mapped)
	a.Unmap(al)
	assert.Equal(t, 1, dev.mems[0].mapped)
	a.Unmap(al)
	assert.Zero(t, dev.mems[0].mapped)
	a.Free(al)
	a.Destroy()
}

func TestOutOfMemory(t *testing.T) {
	a := New(&testDevice{limit: 1 << 12}, discrete, &Options{BlockSize: 1 << 16})
	al, err := a.Allocate(Requirements{Size: 64, TypeBits: 0xf}, UsageGPUOnly, 0)
	assert.Error(t, err)
	assert.Nil(t, al)
	assert.Zero(t, a.Stats().Allocations)
}

func TestDestroyLeaks(t *testing.T) {
	dev := &testDevice{}
	a := New(dev, discrete, &Options{BlockSize: 1 << 16})
	for range 3 {
		_, err := a.Allocate(Requirements{Size: 64, TypeBits: 0xf}, UsageCPUOnly, Mapped)
		require.NoError(t, err)
	}
	_, err := a.Allocate(Requirements{Size: 64, TypeBits: 0xf}, UsageGPUOnly, Dedicated)
	require.NoError(t, err)
	assert.Equal(t, 4, a.Destroy())
	for i, m := range dev.mems {
		assert.Truef(t, m.freed, "memory %d not freed", i)
		assert.Zerof(t, m.mapped, "memory %d still mapped", i)
	}
}

func TestBlockRelease(t *testing.T) {
	dev := &testDevice{}
	a := New(dev, discrete, &Options{BlockSize: 1 << 12, PageSize: 256})
	req := Requirements{Size: 2048, TypeBits: 0x1}
	var als []*Allocation
	for range 4 {
		al, err := a.Allocate(req, UsageGPUOnly, 0)
		require.NoError(t, err)
		als = append(als, al)
	}
	assert.Equal(t, 2, a.Stats().Blocks)
	a.Free(als[2])
	a.Free(als[3])
	assert.Equal(t, 1, a.Stats().Blocks, "empty extra block should be released")
	assert.True(t, dev.mems[1].freed)
	a.Free(als[0])
	a.Free(als[1])
	assert.Equal(t, 1, a.Stats().Blocks, "last block should be kept")
	a.Destroy()
}

// granularityPages returns the range of granularity pages
// that al spans.
func granularityPages(al *Allocation, gran uint64) (first, last uint64) {
	return al.Offset() / gran, (al.Offset() + al.Size() - 1) / gran
}

func TestGranularity(t *testing.T) {
	const gran = 4096
	dev := &testDevice{}
	a := New(dev, discrete, &Options{BlockSize: 1 << 16, PageSize: 256, Granularity: gran})
	linear := Requirements{Size: 300, Alignment: 16, TypeBits: 0x1}
	optimal := Requirements{Size: 300, Alignment: 256, TypeBits: 0x1, Optimal: true}

	var als []*Allocation
	for _, req := range [...]Requirements{linear, optimal, linear, optimal} {
		al, err := a.Allocate(req, UsageGPUOnly, 0)
		require.NoError(t, err)
		als = append(als, al)
	}
	for i, x := range als {
		for j, y := range als {
			if x.Memory() != y.Memory() || i%2 == j%2 {
				continue
			}
			xf, xl := granularityPages(x, gran)
			yf, yl := granularityPages(y, gran)
			assert.Falsef(t, xf <= yl && yf <= xl,
				"linear and optimal allocations %d and %d share a granularity page", i, j)
		}
	}
	assert.Same(t, als[0].Memory(), als[2].Memory(), "linear allocations should share a block")
	assert.Same(t, als[1].Memory(), als[3].Memory(), "optimal allocations should share a block")
	assert.Equal(t, 2, a.Stats().Blocks)
	a.Destroy()

	// A granularity within a page needs no separation.
	dev = &testDevice{}
	a = New(dev, discrete, &Options{BlockSize: 1 << 16, PageSize: 256, Granularity: 64})
	al1, err := a.Allocate(linear, UsageGPUOnly, 0)
	require.NoError(t, err)
	al2, err := a.Allocate(optimal, UsageGPUOnly, 0)
	require.NoError(t, err)
	assert.Same(t, al1.Memory(), al2.Memory())
	assert.Equal(t, uint64(512), al2.Offset())
	a.Destroy()
}
