// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package wgpu implements a gpu backend on top of the
// gogpu hardware abstraction layer, which drives the
// native API of the platform.
//
// The layer exposes a single queue per device, so only one
// graphics queue is reported; transfer queue requests are
// served by aliasing it. Texel buffer views are not
// available.
//
// Presentation surfaces are created from a window handle.
// Platforms whose surfaces also need a display connection
// (Xlib, Wayland) take it from Backend.SetDisplay.
package wgpu

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	log "github.com/sirupsen/logrus"

	"github.com/jjzhang166/SakuraEngine/gpu"

	// Registers the Vulkan implementation of the layer.
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// Name is the name of the backend that this package
// registers.
const Name = "wgpu"

const (
	// idleTimeout bounds WaitQueueIdle.
	idleTimeout = 10 * time.Second
	// pollInterval is the delay between completion polls.
	pollInterval = 100 * time.Microsecond
)

func init() {
	gpu.Register(New(Name, nil))
}

var (
	_ gpu.Backend   = (*Backend)(nil)
	_ gpu.ProcTable = (*procs)(nil)
)

// API creates instances of the abstraction layer.
// hal.Backend values satisfy it, as does noop.API.
type API interface {
	CreateInstance(desc *hal.InstanceDescriptor) (hal.Instance, error)
}

// Backend implements gpu.Backend.
type Backend struct {
	name    string
	api     API
	display uintptr
}

// New returns a Backend that creates instances from api.
// A nil api selects the first native implementation
// registered with the layer.
func New(name string, api API) *Backend { return &Backend{name: name, api: api} }

// SetDisplay sets the native display connection passed to
// the layer when surfaces are created. It affects
// instances loaded afterwards.
func (b *Backend) SetDisplay(display uintptr) { b.display = display }

// Name implements gpu.Backend.
func (b *Backend) Name() string { return b.name }

// nativeAPI returns the preferred implementation of the
// layer that is linked in.
func nativeAPI() (API, error) {
	for _, v := range [...]gputypes.Backend{
		gputypes.BackendMetal,
		gputypes.BackendDX12,
		gputypes.BackendVulkan,
		gputypes.BackendGL,
	} {
		if hb, ok := hal.GetBackend(v); ok {
			return hb, nil
		}
	}
	return nil, errors.Wrap(gpu.ErrNotInstalled, "wgpu: no native implementation")
}

// Load implements gpu.Backend.
func (b *Backend) Load(desc *gpu.InstanceDescriptor) (gpu.ProcTable, error) {
	api := b.api
	if api == nil {
		var err error
		if api, err = nativeAPI(); err != nil {
			return nil, err
		}
	}
	inst, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, errors.Wrap(gpu.ErrNotInstalled, err.Error())
	}
	if desc.EnableDebugLayer {
		log.WithField("backend", b.name).Info("debug layer is not configurable; using instance defaults")
	}
	p := &procs{
		name:    b.name,
		inst:    inst,
		display: b.display,
		naming:  desc.EnableResourceNaming,
	}
	for _, x := range inst.EnumerateAdapters(nil) {
		p.adapters = append(p.adapters, newAdapter(x))
	}
	if len(p.adapters) == 0 {
		inst.Destroy()
		return nil, gpu.ErrNoDevice
	}
	return p, nil
}

// procs implements gpu.ProcTable.
type procs struct {
	name     string
	inst     hal.Instance
	display  uintptr
	naming   bool
	adapters []*adapter
}

func (p *procs) FreeInstance() { p.inst.Destroy() }

type adapter struct {
	exp    hal.ExposedAdapter
	detail gpu.AdapterDetail
}

func newAdapter(x hal.ExposedAdapter) *adapter {
	lim := gputypes.DefaultLimits()
	return &adapter{
		exp: x,
		detail: gpu.AdapterDetail{
			Name:                            x.Info.Name,
			VendorID:                        x.Info.VendorID,
			DeviceID:                        x.Info.DeviceID,
			DeviceType:                      deviceType(x.Info.DeviceType),
			FeatureLevel:                    "webgpu",
			UniformBufferAlignment:          uint64(lim.MinUniformBufferOffsetAlignment),
			UploadBufferTextureAlignment:    4,
			UploadBufferTextureRowAlignment: 256,
			MaxTextureDimension:             int(lim.MaxTextureDimension2D),
			MaxBufferSize:                   lim.MaxBufferSize,
			MaxVertexInputBindings:          int(lim.MaxVertexBuffers),
			UMA:                             x.Info.DeviceType == gputypes.DeviceTypeIntegratedGPU,
		},
	}
}

func deviceType(t gputypes.DeviceType) gpu.DeviceType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return gpu.DeviceDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return gpu.DeviceIntegrated
	case gputypes.DeviceTypeVirtualGPU:
		return gpu.DeviceVirtual
	case gputypes.DeviceTypeCPU:
		return gpu.DeviceCPU
	}
	return gpu.DeviceOther
}

func (p *procs) EnumAdapters() []gpu.Native {
	s := make([]gpu.Native, len(p.adapters))
	for i, a := range p.adapters {
		s[i] = a
	}
	return s
}

func (p *procs) QueryAdapterDetail(a gpu.Native) gpu.AdapterDetail { return a.(*adapter).detail }

func (p *procs) QueryQueueCount(_ gpu.Native, typ gpu.QueueType) int {
	if typ == gpu.QueueGraphics {
		return 1
	}
	return 0
}

func (p *procs) QueryFormatSupport(_ gpu.Native, f gpu.Format) gpu.FormatSupport {
	return formatSupport(f)
}

func (p *procs) QueryExtensions(gpu.Native) []string { return nil }

// label returns the debug label of an object named name.
// Objects are labeled only if resource naming is enabled.
func (p *procs) label(name string) string {
	if !p.naming {
		return ""
	}
	return name
}

// SetName does nothing: the layer only accepts labels at
// creation time, and every object was labeled then.
func (p *procs) SetName(gpu.Native, gpu.Native, string) {}

type device struct {
	p     *procs
	a     *adapter
	dev   hal.Device
	queue hal.Queue

	mu sync.Mutex
	// Persistently mapped buffers, whose contents are
	// uploaded before every submission.
	mapped map[*buffer]struct{}
	// Index of the last submission.
	last uint64
}

func (p *procs) CreateDevice(an gpu.Native, _ *gpu.DeviceDescriptor) (gpu.Native, error) {
	a := an.(*adapter)
	od, err := a.exp.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return nil, errors.Wrapf(gpu.ErrNoDevice, "wgpu: %v", err)
	}
	return &device{
		p:      p,
		a:      a,
		dev:    od.Device,
		queue:  od.Queue,
		mapped: make(map[*buffer]struct{}),
	}, nil
}

func (p *procs) FreeDevice(dn gpu.Native) { dn.(*device).dev.Destroy() }

type queue struct {
	d *device
}

func (p *procs) GetQueue(dn gpu.Native, typ gpu.QueueType, index int) (gpu.Native, error) {
	if typ != gpu.QueueGraphics || index != 0 {
		return nil, errors.Wrapf(gpu.ErrNoQueue, "wgpu: %s queue %d", typ, index)
	}
	return &queue{d: dn.(*device)}, nil
}

func (p *procs) FreeQueue(gpu.Native) {}

// flush uploads the host copies of persistently mapped
// buffers.
func (d *device) flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for b := range d.mapped {
		if err := d.queue.WriteBuffer(b.buf, 0, b.host); err != nil {
			return errors.Wrap(err, "wgpu: upload of mapped buffer")
		}
	}
	return nil
}

func (p *procs) SubmitQueue(qn gpu.Native, cmds []gpu.Native) error {
	d := qn.(*queue).d
	cbs := make([]hal.CommandBuffer, 0, len(cmds))
	for _, c := range cmds {
		cb := c.(*commandBuffer)
		if cb.cb == nil {
			return errors.New("wgpu: command buffer not ended")
		}
		cbs = append(cbs, cb.cb)
	}
	if err := d.flush(); err != nil {
		return err
	}
	idx, err := d.queue.Submit(cbs)
	if err != nil {
		return errors.Wrap(err, "wgpu: submit")
	}
	d.mu.Lock()
	d.last = max(d.last, idx)
	d.mu.Unlock()
	return nil
}

// WaitQueueIdle polls the queue until the last submission
// completes.
func (p *procs) WaitQueueIdle(qn gpu.Native) error {
	d := qn.(*queue).d
	d.mu.Lock()
	idx := d.last
	d.mu.Unlock()
	deadline := time.Now().Add(idleTimeout)
	for d.queue.PollCompleted() < idx {
		if time.Now().After(deadline) {
			return errors.Wrapf(gpu.ErrDeviceLost, "wgpu: submission %d not complete after %v", idx, idleTimeout)
		}
		time.Sleep(pollInterval)
	}
	return nil
}

// commandPool tracks the lists it created, since the
// layer has no pool object.
type commandPool struct {
	q     *queue
	label string
	bufs  map[*commandBuffer]struct{}
}

func (p *procs) CreateCommandPool(qn gpu.Native, desc *gpu.CommandPoolDescriptor) (gpu.Native, error) {
	return &commandPool{
		q:     qn.(*queue),
		label: p.label(desc.Name),
		bufs:  make(map[*commandBuffer]struct{}),
	}, nil
}

func (p *procs) ResetCommandPool(pn gpu.Native) error {
	for cb := range pn.(*commandPool).bufs {
		cb.release()
	}
	return nil
}

func (p *procs) FreeCommandPool(pn gpu.Native) {
	cp := pn.(*commandPool)
	for cb := range cp.bufs {
		cb.release()
	}
	clear(cp.bufs)
}

type commandBuffer struct {
	pool *commandPool
	enc  hal.CommandEncoder
	cb   hal.CommandBuffer
}

// release destroys the recorded commands and the encoder
// that produced them, if any.
func (c *commandBuffer) release() {
	dev := c.pool.q.d.dev
	if c.cb != nil {
		dev.FreeCommandBuffer(c.cb)
		c.cb = nil
	}
	if c.enc != nil {
		c.enc.Destroy()
		c.enc = nil
	}
}

func (p *procs) CreateCommandBuffer(pn gpu.Native, desc *gpu.CommandBufferDescriptor) (gpu.Native, error) {
	if desc.Secondary {
		return nil, errors.Wrap(gpu.ErrUnsupported, "wgpu: secondary command buffers")
	}
	cp := pn.(*commandPool)
	cb := &commandBuffer{pool: cp}
	cp.bufs[cb] = struct{}{}
	return cb, nil
}

func (p *procs) FreeCommandBuffer(c gpu.Native) {
	cb := c.(*commandBuffer)
	cb.release()
	delete(cb.pool.bufs, cb)
}

func (p *procs) CmdBegin(c gpu.Native) error {
	cb := c.(*commandBuffer)
	cb.release()
	enc, err := cb.pool.q.d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: cb.pool.label})
	if err != nil {
		return err
	}
	if err := enc.BeginEncoding(cb.pool.label); err != nil {
		return err
	}
	cb.enc = enc
	return nil
}

func (p *procs) CmdEnd(c gpu.Native) error {
	cb := c.(*commandBuffer)
	x, err := cb.enc.EndEncoding()
	if err != nil {
		return err
	}
	cb.cb = x
	return nil
}

func (p *procs) CmdCopyBuffer(c gpu.Native, dst gpu.Native, dstOff uint64, src gpu.Native, srcOff uint64, size uint64) {
	c.(*commandBuffer).enc.CopyBufferToBuffer(src.(*buffer).buf, dst.(*buffer).buf, []hal.BufferCopy{{
		SrcOffset: srcOff,
		DstOffset: dstOff,
		Size:      size,
	}})
}
