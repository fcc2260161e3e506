// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package wgpu_test

import (
	"slices"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// deferredAPI wraps the noop layer.
// Buffer copies run when the queue is polled, not when
// they are submitted, and creation labels are recorded.
type deferredAPI struct {
	noop.API

	mu     sync.Mutex
	labels []string
}

func (a *deferredAPI) CreateInstance(desc *hal.InstanceDescriptor) (hal.Instance, error) {
	inst, err := a.API.CreateInstance(desc)
	if err != nil {
		return nil, err
	}
	return &deferredInstance{Instance: inst, api: a}, nil
}

func (a *deferredAPI) label(s string) {
	if s == "" {
		return
	}
	a.mu.Lock()
	a.labels = append(a.labels, s)
	a.mu.Unlock()
}

func (a *deferredAPI) labeled(s string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Contains(a.labels, s)
}

type deferredInstance struct {
	hal.Instance
	api *deferredAPI
}

func (i *deferredInstance) EnumerateAdapters(hint hal.Surface) []hal.ExposedAdapter {
	xs := i.Instance.EnumerateAdapters(hint)
	for k := range xs {
		xs[k].Adapter = &deferredAdapter{Adapter: xs[k].Adapter, api: i.api}
	}
	return xs
}

type deferredAdapter struct {
	hal.Adapter
	api *deferredAPI
}

func (a *deferredAdapter) Open(f gputypes.Features, l gputypes.Limits) (hal.OpenDevice, error) {
	od, err := a.Adapter.Open(f, l)
	if err != nil {
		return od, err
	}
	od.Device = &deferredDevice{Device: od.Device, api: a.api}
	od.Queue = &deferredQueue{Queue: od.Queue}
	return od, nil
}

type deferredDevice struct {
	hal.Device
	api *deferredAPI
}

func (d *deferredDevice) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	d.api.label(desc.Label)
	return d.Device.CreateBuffer(desc)
}

func (d *deferredDevice) CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error) {
	d.api.label(desc.Label)
	return d.Device.CreateTexture(desc)
}

func (d *deferredDevice) CreateSampler(desc *hal.SamplerDescriptor) (hal.Sampler, error) {
	d.api.label(desc.Label)
	return d.Device.CreateSampler(desc)
}

func (d *deferredDevice) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	d.api.label(desc.Label)
	enc, err := d.Device.CreateCommandEncoder(desc)
	if err != nil {
		return nil, err
	}
	return &deferredEncoder{CommandEncoder: enc, dev: d.Device}, nil
}

type deferredEncoder struct {
	hal.CommandEncoder
	dev hal.Device
	ops []func()
}

func (e *deferredEncoder) CopyBufferToBuffer(src, dst hal.Buffer, regions []hal.BufferCopy) {
	for _, r := range regions {
		e.ops = append(e.ops, func() {
			s, err := e.dev.MapBuffer(src, r.SrcOffset, r.Size)
			if err != nil {
				panic(err)
			}
			d, err := e.dev.MapBuffer(dst, r.DstOffset, r.Size)
			if err != nil {
				panic(err)
			}
			copy(unsafe.Slice((*byte)(d.Ptr), r.Size), unsafe.Slice((*byte)(s.Ptr), r.Size))
		})
	}
}

func (e *deferredEncoder) EndEncoding() (hal.CommandBuffer, error) {
	cb, err := e.CommandEncoder.EndEncoding()
	if err != nil {
		return nil, err
	}
	ops := e.ops
	e.ops = nil
	return &deferredCommands{CommandBuffer: cb, ops: ops}, nil
}

type deferredCommands struct {
	hal.CommandBuffer
	ops []func()
}

// deferredQueue completes submissions only when polled.
type deferredQueue struct {
	hal.Queue

	mu        sync.Mutex
	pending   []func()
	submitted uint64
	completed uint64
}

func (q *deferredQueue) Submit(cbs []hal.CommandBuffer) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, cb := range cbs {
		if c, ok := cb.(*deferredCommands); ok {
			q.pending = append(q.pending, c.ops...)
		}
	}
	idx, err := q.Queue.Submit(cbs)
	if err != nil {
		return 0, err
	}
	q.submitted = idx
	return idx, nil
}

func (q *deferredQueue) PollCompleted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, op := range q.pending {
		op()
	}
	q.pending = nil
	q.completed = q.submitted
	return q.completed
}
