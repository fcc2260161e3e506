// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package gpu_test

import (
	"os"
	"testing"

	"github.com/jjzhang166/SakuraEngine/gpu"
	"github.com/jjzhang166/SakuraEngine/gpu/null"
)

func adapterWith(f func(*null.AdapterConfig)) null.AdapterConfig {
	c := null.DefaultAdapter()
	f(&c)
	return c
}

// Backends used by the tests.
// Their names must not contain one another.
var (
	basic      = null.New("test-basic", null.DefaultAdapter())
	noTransfer = null.New("test-notransfer", adapterWith(func(c *null.AdapterConfig) {
		c.Queues = [3]int{1, 1, 0}
	}))
	multi = null.New("test-multi",
		null.DefaultAdapter(),
		adapterWith(func(c *null.AdapterConfig) {
			c.Detail.Name = "Discrete"
			c.Detail.VendorID = gpu.VendorNVIDIA
			c.Detail.DeviceType = gpu.DeviceDiscrete
			c.Detail.UniformBufferAlignment = 64
		}),
		adapterWith(func(c *null.AdapterConfig) {
			c.Detail.Name = "Integrated"
			c.Detail.VendorID = gpu.VendorIntel
			c.Detail.DeviceType = gpu.DeviceIntegrated
			c.Detail.UMA = true
			c.Extensions = nil
		}),
	)
	texFail = null.New("test-texfail", adapterWith(func(c *null.AdapterConfig) {
		c.FailTexelViews = true
	}))
	lowMem = null.New("test-lowmem", adapterWith(func(c *null.AdapterConfig) {
		c.DeviceMemory = 8 << 20
		c.HostMemory = 8 << 20
	}))
)

func TestMain(m *testing.M) {
	for _, b := range [...]gpu.Backend{basic, noTransfer, multi, texFail, lowMem} {
		gpu.Register(b)
	}
	os.Exit(m.Run())
}

// env holds the objects most tests need.
type env struct {
	b    *null.Backend
	inst *gpu.Instance
	adap *gpu.Adapter
	dev  *gpu.Device
}

// newEnv creates an instance of b with debug layer and
// validation enabled, and a device from its first adapter.
func newEnv(t *testing.T, b *null.Backend, desc *gpu.DeviceDescriptor) *env {
	t.Helper()
	inst, err := gpu.NewInstance(&gpu.InstanceDescriptor{
		Backend:              b.Name(),
		EnableDebugLayer:     true,
		EnableGPUValidation:  true,
		EnableResourceNaming: true,
	})
	if err != nil {
		t.Fatalf("gpu.NewInstance(%q):\nhave %v\nwant nil", b.Name(), err)
	}
	if x := inst.Backend(); x != b.Name() {
		t.Fatalf("Instance.Backend:\nhave %s\nwant %s", x, b.Name())
	}
	var a [1]*gpu.Adapter
	if inst.EnumAdapters(a[:]) != 1 {
		t.Fatal("Instance.EnumAdapters: no adapter - cannot continue")
	}
	dev, err := a[0].NewDevice(desc)
	if err != nil {
		t.Fatalf("Adapter.NewDevice:\nhave %v\nwant nil", err)
	}
	return &env{b: b, inst: inst, adap: a[0], dev: dev}
}

func (e *env) destroy() {
	e.dev.Destroy()
	e.inst.Destroy()
}

// mustPanic checks that f panics.
func mustPanic(t *testing.T, what string, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s:\nhave no panic\nwant panic", what)
		}
	}()
	f()
}
