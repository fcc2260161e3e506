// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package tracker_test

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjzhang166/SakuraEngine/gpu"
	"github.com/jjzhang166/SakuraEngine/gpu/ext/tracker"
	"github.com/jjzhang166/SakuraEngine/gpu/null"
)

var (
	generic = null.New("test-tracker-generic", null.DefaultAdapter())
	nvidia  = null.New("test-tracker-nvidia", func() null.AdapterConfig {
		c := null.DefaultAdapter()
		c.Detail.VendorID = gpu.VendorNVIDIA
		return c
	}())
)

func TestMain(m *testing.M) {
	gpu.Register(generic)
	gpu.Register(nvidia)
	os.Exit(m.Run())
}

func newInstance(t *testing.T, b *null.Backend) *gpu.Instance {
	t.Helper()
	inst, err := gpu.NewInstance(&gpu.InstanceDescriptor{Backend: b.Name(), EnableDebugLayer: true})
	require.NoError(t, err)
	return inst
}

func TestVendorGate(t *testing.T) {
	inst := newInstance(t, generic)
	defer inst.Destroy()

	tr, ok := tracker.New(inst, &tracker.Descriptor{Name: "t"})
	assert.False(t, ok)
	assert.Nil(t, tr)
	assert.Zero(t, inst.Registry().EnumServices(nil))

	tr, ok = tracker.New(inst, &tracker.Descriptor{Name: "t", AnyVendor: true})
	require.True(t, ok)
	assert.Equal(t, 1, inst.Registry().Refs(tracker.ServiceKey))
	tr.Destroy()
	assert.Zero(t, inst.Registry().Refs(tracker.ServiceKey))
}

func TestHubLifetime(t *testing.T) {
	inst := newInstance(t, nvidia)
	defer inst.Destroy()

	const n = 4
	trs := make([]*tracker.Tracker, n)
	for i := range trs {
		var ok bool
		trs[i], ok = tracker.New(inst, &tracker.Descriptor{Name: fmt.Sprint("t", i)})
		require.True(t, ok)
	}
	hub, ok := tracker.HubOf(inst)
	require.True(t, ok)
	for _, tr := range trs {
		assert.Same(t, hub, tr.Hub())
	}
	assert.Len(t, hub.Trackers(), n)

	for _, tr := range trs[:n-1] {
		tr.Destroy()
		assert.False(t, hub.Closed())
	}
	assert.Equal(t, []*tracker.Tracker{trs[n-1]}, hub.Trackers())
	trs[n-1].Destroy()
	assert.True(t, hub.Closed())
	_, ok = tracker.HubOf(inst)
	assert.False(t, ok)

	tr, ok := tracker.New(inst, nil)
	require.True(t, ok)
	defer tr.Destroy()
	assert.NotSame(t, hub, tr.Hub())
	assert.False(t, tr.Hub().Closed())
}

func TestMarkers(t *testing.T) {
	inst := newInstance(t, nvidia)
	defer inst.Destroy()

	tr, ok := tracker.New(inst, &tracker.Descriptor{MaxMarkers: 3})
	require.True(t, ok)
	defer tr.Destroy()

	assert.Empty(t, tr.Markers())
	tr.Mark("a")
	tr.Mark("b")
	labels := func() (s []string) {
		for _, m := range tr.Markers() {
			s = append(s, m.Label)
		}
		return
	}
	assert.Equal(t, []string{"a", "b"}, labels())
	for _, l := range []string{"c", "d", "e"} {
		tr.Mark(l)
	}
	assert.Equal(t, []string{"c", "d", "e"}, labels())
	ms := tr.Markers()
	assert.Equal(t, uint64(5), ms[2].Seq)
}

func TestDeviceLost(t *testing.T) {
	inst := newInstance(t, nvidia)
	defer inst.Destroy()

	dumps := make(map[string][]byte)
	onDump := func(tr *tracker.Tracker, dump []byte) { dumps[tr.Name()] = dump }
	a, _ := tracker.New(inst, &tracker.Descriptor{Name: "a", OnCrashDump: onDump})
	b, _ := tracker.New(inst, &tracker.Descriptor{Name: "b", OnCrashDump: onDump})
	silent, _ := tracker.New(inst, &tracker.Descriptor{Name: "silent"})
	defer a.Destroy()
	defer b.Destroy()
	defer silent.Destroy()

	a.Mark("shadow pass")
	a.Mark("gbuffer pass")
	b.Mark("upload")

	n := a.Hub().DeviceLost(gpu.ErrDeviceLost)
	assert.Equal(t, 2, n)
	require.Len(t, dumps, 2)

	cd, err := tracker.ReadDump(dumps["a"])
	require.NoError(t, err)
	assert.Equal(t, "a", cd.Tracker)
	assert.Equal(t, nvidia.Name(), cd.Backend)
	assert.Equal(t, gpu.ErrDeviceLost.Error(), cd.Cause)
	require.Len(t, cd.Markers, 2)
	assert.Equal(t, "gbuffer pass", cd.Markers[1].Label)

	_, err = tracker.ReadDump([]byte("not a dump"))
	assert.Error(t, err)
}

func TestInstanceDestroyClosesHub(t *testing.T) {
	inst := newInstance(t, nvidia)
	tr, ok := tracker.New(inst, nil)
	require.True(t, ok)
	hub := tr.Hub()
	inst.Destroy()
	assert.True(t, hub.Closed())
}

func TestDestroyTwice(t *testing.T) {
	for _, debug := range [...]bool{false, true} {
		inst, err := gpu.NewInstance(&gpu.InstanceDescriptor{Backend: nvidia.Name(), EnableDebugLayer: debug})
		require.NoError(t, err)

		tr, ok := tracker.New(inst, &tracker.Descriptor{Name: "twice"})
		require.True(t, ok)
		sibling, ok := tracker.New(inst, &tracker.Descriptor{Name: "sibling"})
		require.True(t, ok)
		hub := sibling.Hub()

		tr.Destroy()
		assert.Nil(t, tr.Hub())
		if debug {
			assert.Panics(t, tr.Destroy)
		} else {
			assert.NotPanics(t, tr.Destroy)
		}
		assert.Equal(t, 1, inst.Registry().Refs(tracker.ServiceKey), "debug %t", debug)
		assert.False(t, hub.Closed(), "debug %t", debug)
		assert.Equal(t, []*tracker.Tracker{sibling}, hub.Trackers())

		sibling.Destroy()
		assert.True(t, hub.Closed())
		inst.Destroy()
	}
}
