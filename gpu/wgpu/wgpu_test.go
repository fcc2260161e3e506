// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package wgpu_test

import (
	"fmt"
	"os"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/jjzhang166/SakuraEngine/gpu"
	"github.com/jjzhang166/SakuraEngine/gpu/wgpu"
)

const (
	testName  = "test-wgpu-noop"
	layerName = "test-wgpu-deferred"
)

var layer = &deferredAPI{}

func TestMain(m *testing.M) {
	gpu.Register(wgpu.New(testName, &noop.API{}))
	gpu.Register(wgpu.New(layerName, layer))
	os.Exit(m.Run())
}

func newDevice(t *testing.T, groups ...gpu.QueueGroup) (*gpu.Instance, *gpu.Device) {
	t.Helper()
	return newDeviceDesc(t, &gpu.InstanceDescriptor{Backend: testName, EnableDebugLayer: true}, groups...)
}

func newDeviceDesc(t *testing.T, desc *gpu.InstanceDescriptor, groups ...gpu.QueueGroup) (*gpu.Instance, *gpu.Device) {
	t.Helper()
	inst, err := gpu.NewInstance(desc)
	if err != nil {
		t.Fatalf("gpu.NewInstance:\nhave %v\nwant nil", err)
	}
	var a [1]*gpu.Adapter
	if inst.EnumAdapters(a[:]) != 1 {
		t.Fatal("Instance.EnumAdapters: no adapter - cannot continue")
	}
	dev, err := a[0].NewDevice(&gpu.DeviceDescriptor{QueueGroups: groups})
	if err != nil {
		t.Fatalf("Adapter.NewDevice:\nhave %v\nwant nil", err)
	}
	return inst, dev
}

func TestRegistered(t *testing.T) {
	if _, ok := gpu.Lookup(wgpu.Name); !ok {
		t.Fatalf("gpu.Lookup(%q): backend not registered", wgpu.Name)
	}
}

func TestQueues(t *testing.T) {
	inst, dev := newDevice(t,
		gpu.QueueGroup{Type: gpu.QueueGraphics, Count: 4},
		gpu.QueueGroup{Type: gpu.QueueTransfer, Count: 2})
	defer inst.Destroy()
	defer dev.Destroy()

	adap := dev.Adapter()
	for _, x := range [...]struct {
		typ  gpu.QueueType
		want int
	}{
		{gpu.QueueGraphics, 1},
		{gpu.QueueCompute, 0},
		{gpu.QueueTransfer, 0},
	} {
		if n := adap.QueueCount(x.typ); n != x.want {
			t.Errorf("Adapter.QueueCount(%v):\nhave %d\nwant %d", x.typ, n, x.want)
		}
		if n := dev.QueueGroupCount(x.typ); n != x.want {
			t.Errorf("Device.QueueGroupCount(%v):\nhave %d\nwant %d", x.typ, n, x.want)
		}
	}
	gfx, err := dev.Queue(gpu.QueueGraphics, 0)
	if err != nil {
		t.Fatalf("Device.Queue(graphics, 0):\nhave %v\nwant nil", err)
	}
	copyq, err := dev.Queue(gpu.QueueTransfer, 0)
	if err != nil {
		t.Fatalf("Device.Queue(transfer, 0):\nhave %v\nwant nil", err)
	}
	if copyq != gfx {
		t.Fatal("Device.Queue(transfer, 0): not an alias of graphics queue 0")
	}
	if _, err := dev.Queue(gpu.QueueTransfer, 1); !errors.Is(err, gpu.ErrNoQueue) {
		t.Fatalf("Device.Queue(transfer, 1):\nhave %v\nwant %v", err, gpu.ErrNoQueue)
	}
	if err := gfx.WaitIdle(); err != nil {
		t.Fatalf("Queue.WaitIdle:\nhave %v\nwant nil", err)
	}
	gfx.Destroy()
}

func TestBuffer(t *testing.T) {
	inst, dev := newDevice(t, gpu.QueueGroup{Type: gpu.QueueGraphics, Count: 1})
	defer inst.Destroy()
	defer dev.Destroy()

	align := dev.Adapter().Detail().UniformBufferAlignment
	ub, err := dev.NewBuffer(&gpu.BufferDescriptor{
		Size:        align + 1,
		Descriptors: gpu.ResourceUniformBuffer,
		MemoryUsage: gpu.MemoryCPUToGPU,
		Flags:       gpu.BufferPersistentMap,
	})
	if err != nil {
		t.Fatalf("Device.NewBuffer:\nhave %v\nwant nil", err)
	}
	if n := ub.AllocSize(); n != 2*align {
		t.Errorf("Buffer.AllocSize:\nhave %d\nwant %d", n, 2*align)
	}
	if n := len(ub.Mapped()); n != int(2*align) {
		t.Errorf("len(Buffer.Mapped()):\nhave %d\nwant %d", n, 2*align)
	}

	// Texel buffers are never available.
	sb, err := dev.NewBuffer(&gpu.BufferDescriptor{
		Size:          256,
		Descriptors:   gpu.ResourceBuffer | gpu.ResourceRWBuffer,
		MemoryUsage:   gpu.MemoryGPUOnly,
		Format:        gpu.R32Float,
		ElementCount:  64,
		ElementStride: 4,
	})
	if err != nil {
		t.Fatalf("Device.NewBuffer (texel):\nhave %v\nwant nil", err)
	}
	for _, k := range [...]gpu.TexelViewKind{gpu.TexelUniform, gpu.TexelStorage} {
		if s := sb.TexelViewStatus(k); s != gpu.ViewUnsupported {
			t.Errorf("Buffer.TexelViewStatus(%v):\nhave %v\nwant %v", k, s, gpu.ViewUnsupported)
		}
	}
	if _, err := sb.Map(); !errors.Is(err, gpu.ErrUnsupported) {
		t.Errorf("Buffer.Map (GPU only):\nhave %v\nwant %v", err, gpu.ErrUnsupported)
	}

	q, _ := dev.Queue(gpu.QueueGraphics, 0)
	defer q.Destroy()
	pool, err := q.NewCommandPool(&gpu.CommandPoolDescriptor{Name: "copy"})
	if err != nil {
		t.Fatalf("Queue.NewCommandPool:\nhave %v\nwant nil", err)
	}
	defer pool.Destroy()
	cb, err := pool.NewCommandBuffer(nil)
	if err != nil {
		t.Fatalf("CommandPool.NewCommandBuffer:\nhave %v\nwant nil", err)
	}
	if err := cb.Begin(); err != nil {
		t.Fatalf("CommandBuffer.Begin:\nhave %v\nwant nil", err)
	}
	cb.CopyBuffer(sb, 0, ub, 0, 256)
	if err := cb.End(); err != nil {
		t.Fatalf("CommandBuffer.End:\nhave %v\nwant nil", err)
	}
	copy(ub.Mapped(), "data")
	if err := q.Submit(&gpu.SubmitDescriptor{CommandBuffers: []*gpu.CommandBuffer{cb}}); err != nil {
		t.Fatalf("Queue.Submit:\nhave %v\nwant nil", err)
	}
	if _, err := pool.NewCommandBuffer(&gpu.CommandBufferDescriptor{Secondary: true}); !errors.Is(err, gpu.ErrUnsupported) {
		t.Errorf("CommandPool.NewCommandBuffer (secondary):\nhave %v\nwant %v", err, gpu.ErrUnsupported)
	}
	cb.Destroy()
	sb.Destroy()
	ub.Destroy()
}

func TestTexture(t *testing.T) {
	inst, dev := newDevice(t, gpu.QueueGroup{Type: gpu.QueueGraphics, Count: 1})
	defer inst.Destroy()
	defer dev.Destroy()

	for _, f := range [...]gpu.Format{gpu.RGBA8Unorm, gpu.D32Float} {
		bind := gpu.ResourceTexture | gpu.ResourceRenderTarget
		if f.IsDepth() {
			bind = gpu.ResourceTexture | gpu.ResourceDepthStencil
		}
		tex, err := dev.NewTexture(&gpu.TextureDescriptor{
			Name:        f.String(),
			Width:       64,
			Height:      64,
			Format:      f,
			Descriptors: bind,
		})
		if err != nil {
			t.Fatalf("Device.NewTexture(%v):\nhave %v\nwant nil", f, err)
		}
		view, err := tex.NewView(&gpu.TextureViewDescriptor{})
		if err != nil {
			t.Fatalf("Texture.NewView(%v):\nhave %v\nwant nil", f, err)
		}
		view.Destroy()
		tex.Destroy()
	}
	if _, err := dev.NewTexture(&gpu.TextureDescriptor{Width: 4, Height: 4, Format: gpu.RGB32Float}); err == nil {
		t.Error("Device.NewTexture(RGB32Float):\nhave nil\nwant non-nil")
	}

	spl, err := dev.NewSampler(&gpu.SamplerDescriptor{
		MinFilter: gpu.FilterLinear,
		MagFilter: gpu.FilterLinear,
		AddressU:  gpu.AddressClampToBorder,
	})
	if err != nil {
		t.Fatalf("Device.NewSampler:\nhave %v\nwant nil", err)
	}
	spl.Destroy()
}

func TestReadback(t *testing.T) {
	inst, dev := newDeviceDesc(t, &gpu.InstanceDescriptor{Backend: layerName, EnableDebugLayer: true},
		gpu.QueueGroup{Type: gpu.QueueGraphics, Count: 1})
	defer inst.Destroy()
	defer dev.Destroy()

	ub, err := dev.NewBuffer(&gpu.BufferDescriptor{
		Size:        64,
		MemoryUsage: gpu.MemoryCPUToGPU,
		Flags:       gpu.BufferPersistentMap,
	})
	if err != nil {
		t.Fatalf("Device.NewBuffer (upload):\nhave %v\nwant nil", err)
	}
	defer ub.Destroy()
	rb, err := dev.NewBuffer(&gpu.BufferDescriptor{Size: 64, MemoryUsage: gpu.MemoryGPUToCPU})
	if err != nil {
		t.Fatalf("Device.NewBuffer (readback):\nhave %v\nwant nil", err)
	}
	defer rb.Destroy()

	q, _ := dev.Queue(gpu.QueueGraphics, 0)
	defer q.Destroy()
	pool, err := q.NewCommandPool(&gpu.CommandPoolDescriptor{})
	if err != nil {
		t.Fatalf("Queue.NewCommandPool:\nhave %v\nwant nil", err)
	}
	defer pool.Destroy()
	cb, _ := pool.NewCommandBuffer(nil)
	if err := cb.Begin(); err != nil {
		t.Fatalf("CommandBuffer.Begin:\nhave %v\nwant nil", err)
	}
	cb.CopyBuffer(rb, 8, ub, 0, 16)
	if err := cb.End(); err != nil {
		t.Fatalf("CommandBuffer.End:\nhave %v\nwant nil", err)
	}
	copy(ub.Mapped(), "readback payload")
	if err := q.Submit(&gpu.SubmitDescriptor{CommandBuffers: []*gpu.CommandBuffer{cb}}); err != nil {
		t.Fatalf("Queue.Submit:\nhave %v\nwant nil", err)
	}
	if err := q.WaitIdle(); err != nil {
		t.Fatalf("Queue.WaitIdle:\nhave %v\nwant nil", err)
	}
	p, err := rb.Map()
	if err != nil {
		t.Fatalf("Buffer.Map (readback):\nhave %v\nwant nil", err)
	}
	if s := string(p[8:24]); s != "readback payload" {
		t.Errorf("Buffer.Map (readback):\nhave %q\nwant %q", s, "readback payload")
	}
	if n := len(p); n != 64 {
		t.Errorf("len(Buffer.Map()):\nhave %d\nwant 64", n)
	}
	rb.Unmap()
	cb.Destroy()
}

func TestLabels(t *testing.T) {
	for _, naming := range [...]bool{false, true} {
		inst, dev := newDeviceDesc(t, &gpu.InstanceDescriptor{Backend: layerName, EnableResourceNaming: naming})
		name := fmt.Sprintf("labeled-%t", naming)
		buf, err := dev.NewBuffer(&gpu.BufferDescriptor{Name: name + "-buffer", Size: 16, MemoryUsage: gpu.MemoryGPUOnly})
		if err != nil {
			t.Fatalf("Device.NewBuffer:\nhave %v\nwant nil", err)
		}
		tex, err := dev.NewTexture(&gpu.TextureDescriptor{Name: name + "-texture", Width: 4, Height: 4, Format: gpu.RGBA8Unorm})
		if err != nil {
			t.Fatalf("Device.NewTexture:\nhave %v\nwant nil", err)
		}
		for _, s := range [...]string{name + "-buffer", name + "-texture"} {
			if x := layer.labeled(s); x != naming {
				t.Errorf("label %q (naming %t):\nhave %t\nwant %t", s, naming, x, naming)
			}
		}
		tex.Destroy()
		buf.Destroy()
		dev.Destroy()
		inst.Destroy()
	}
}

func TestSurface(t *testing.T) {
	inst, dev := newDevice(t, gpu.QueueGroup{Type: gpu.QueueGraphics, Count: 1})
	defer inst.Destroy()
	defer dev.Destroy()

	if _, err := inst.NewSurface(0); !errors.Is(err, gpu.ErrUnsupported) {
		t.Errorf("Instance.NewSurface(0):\nhave %v\nwant %v", err, gpu.ErrUnsupported)
	}
	s, err := inst.NewSurface(1)
	if err != nil {
		t.Fatalf("Instance.NewSurface:\nhave %v\nwant nil", err)
	}
	defer s.Destroy()
	q, _ := dev.Queue(gpu.QueueGraphics, 0)
	defer q.Destroy()
	sc, err := dev.NewSwapChain(&gpu.SwapChainDescriptor{
		Surface:       s,
		Width:         320,
		Height:        240,
		ImageCount:    3,
		Format:        gpu.RGBA8Unorm,
		PresentQueues: []*gpu.Queue{q},
	})
	if err != nil {
		t.Fatalf("Device.NewSwapChain:\nhave %v\nwant nil", err)
	}
	if sc.ImageCount() != 3 || sc.Format() != gpu.RGBA8Unorm || sc.Width() != 320 {
		t.Errorf("Device.NewSwapChain: unexpected swapchain %v %dx%d, %d images",
			sc.Format(), sc.Width(), sc.Height(), sc.ImageCount())
	}
	if _, err := sc.Image(0).NewView(&gpu.TextureViewDescriptor{}); !errors.Is(err, gpu.ErrSwapChain) {
		t.Errorf("Texture.NewView (not acquired):\nhave %v\nwant %v", err, gpu.ErrSwapChain)
	}
	for want := range 4 {
		i, err := sc.AcquireNext()
		if err != nil {
			t.Fatalf("SwapChain.AcquireNext:\nhave %v\nwant nil", err)
		}
		if i != want%3 {
			t.Errorf("SwapChain.AcquireNext:\nhave %d\nwant %d", i, want%3)
		}
		view, err := sc.Image(i).NewView(&gpu.TextureViewDescriptor{})
		if err != nil {
			t.Fatalf("Texture.NewView (acquired):\nhave %v\nwant nil", err)
		}
		view.Destroy()
		if err := q.Present(sc, i); err != nil {
			t.Fatalf("Queue.Present:\nhave %v\nwant nil", err)
		}
	}
	if err := q.Present(sc, 0); err == nil {
		t.Error("Queue.Present (not acquired):\nhave nil\nwant non-nil")
	}

	sc2, err := dev.RecreateSwapChain(sc, &gpu.SwapChainDescriptor{Surface: s, Width: 640, Height: 480, VSync: true})
	if err != nil {
		t.Fatalf("Device.RecreateSwapChain:\nhave %v\nwant nil", err)
	}
	if sc2.Width() != 640 || sc2.ImageCount() < 2 {
		t.Errorf("Device.RecreateSwapChain: unexpected swapchain %dx%d, %d images",
			sc2.Width(), sc2.Height(), sc2.ImageCount())
	}
	if _, err := sc2.AcquireNext(); err != nil {
		t.Errorf("SwapChain.AcquireNext:\nhave %v\nwant nil", err)
	}
	sc2.Destroy()
}
