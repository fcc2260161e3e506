// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package render bootstraps the GPU objects that a
// renderer needs and owns their lifetime.
package render

import (
	"fmt"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jjzhang166/SakuraEngine/config"
	"github.com/jjzhang166/SakuraEngine/gpu"
	"github.com/jjzhang166/SakuraEngine/gpu/ext/stream"
	"github.com/jjzhang166/SakuraEngine/gpu/ext/tracker"
)

// StagingSize is the size of the staging buffers of
// streaming uploads, unless configured otherwise.
const StagingSize = 4096 * 4096 * 8

// Window is a target of presentation.
// Windows are compared with ==.
type Window interface {
	NativeView() uintptr
	Extent() (width, height int)
}

// Device is a render device.
type Device struct {
	cfg    config.Config
	format gpu.Format

	inst    *gpu.Instance
	adapter *gpu.Adapter
	dev     *gpu.Device
	tracker *tracker.Tracker

	gfx    *gpu.Queue
	copies []*gpu.Queue

	fileQueue   *stream.Queue
	memoryQueue *stream.Queue
	decompress  *stream.DecompressService
	sampler     *gpu.Sampler
	aux         []*AuxService

	windows  []Window
	chains   map[Window]*gpu.SwapChain
	surfaces map[Window]*gpu.Surface
}

// newInstance creates an instance for cfg.
// If no backend matches the configured name, every
// registered backend is tried.
func newInstance(cfg *config.Config) (*gpu.Instance, error) {
	desc := cfg.InstanceDescriptor()
	inst, err := gpu.NewInstance(desc)
	if err == nil || desc.Backend == "" || !errors.Is(err, gpu.ErrNoBackend) {
		return inst, err
	}
	log.WithField("backend", desc.Backend).Warn("[!] backend not found, trying all")
	desc.Backend = ""
	return gpu.NewInstance(desc)
}

// New creates a render device as configured by cfg.
// A nil cfg means config.Default.
func New(cfg *config.Config) (*Device, error) {
	if cfg == nil {
		c := config.Default()
		cfg = &c
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Device{
		cfg:      *cfg,
		chains:   make(map[Window]*gpu.SwapChain),
		surfaces: make(map[Window]*gpu.Surface),
	}
	d.format, _ = cfg.SwapChainFormat()
	if err := d.init(); err != nil {
		d.Destroy()
		return nil, err
	}
	log.WithFields(log.Fields{
		"backend":     d.inst.Backend(),
		"adapter":     d.adapter.Detail().Name,
		"copy queues": len(d.copies),
		"streaming":   d.fileQueue != nil,
		"tracker":     d.tracker != nil,
		"aux":         len(d.aux),
	}).Info("render device created")
	return d, nil
}

func (d *Device) init() (err error) {
	cfg := &d.cfg
	if d.inst, err = newInstance(cfg); err != nil {
		return
	}
	adapters := make([]*gpu.Adapter, d.inst.EnumAdapters(nil))
	if d.inst.EnumAdapters(adapters) == 0 {
		return gpu.ErrNoDevice
	}
	d.adapter = adapters[0]

	if cfg.Device.EnableTracker {
		d.tracker, _ = tracker.New(d.inst, &tracker.Descriptor{Name: "render"})
	}

	ncopy := min(d.adapter.QueueCount(gpu.QueueTransfer), cfg.Device.MaxCopyQueues)
	groups := []gpu.QueueGroup{{Type: gpu.QueueGraphics, Count: 1}}
	if ncopy > 0 {
		groups = append(groups, gpu.QueueGroup{Type: gpu.QueueTransfer, Count: ncopy})
	}
	if d.dev, err = d.adapter.NewDevice(&gpu.DeviceDescriptor{QueueGroups: groups}); err != nil {
		return
	}
	if d.gfx, err = d.dev.Queue(gpu.QueueGraphics, 0); err != nil {
		return
	}
	if ncopy == 0 {
		d.copies = []*gpu.Queue{d.gfx}
	}
	for i := range ncopy {
		q, err := d.dev.Queue(gpu.QueueTransfer, i)
		if err != nil {
			return err
		}
		d.copies = append(d.copies, q)
	}

	if cfg.Device.EnableStreaming && stream.Available(d.dev) != stream.AvailabilityNone {
		size := cfg.Device.StagingSize
		if size == 0 {
			size = StagingSize
		}
		stream.SetStagingSize(d.inst, size)
		if d.fileQueue, err = stream.NewQueue(d.dev, &stream.QueueDescriptor{
			Name:     "FileStreamQueue",
			Capacity: stream.MaxCapacity,
			Source:   stream.SourceFile,
			Upload:   d.copies[0],
		}); err != nil {
			return
		}
		if d.memoryQueue, err = stream.NewQueue(d.dev, &stream.QueueDescriptor{
			Name:     "MemoryStreamQueue",
			Capacity: stream.MaxCapacity,
			Source:   stream.SourceMemory,
			Upload:   d.copies[0],
		}); err != nil {
			return
		}
	}

	if d.sampler, err = d.dev.NewSampler(&gpu.SamplerDescriptor{
		Name:       "LinearSampler",
		MinFilter:  gpu.FilterLinear,
		MagFilter:  gpu.FilterLinear,
		MipmapMode: gpu.FilterLinear,
		AddressU:   gpu.AddressRepeat,
		AddressV:   gpu.AddressRepeat,
		AddressW:   gpu.AddressRepeat,
		Compare:    gpu.CompareNever,
	}); err != nil {
		return
	}
	d.decompress = stream.NewDecompressService(d.inst)

	for i := range cfg.Device.AuxThreads {
		d.aux = append(d.aux, NewAuxService(fmt.Sprint("RenderAuxService-", i)))
	}
	return nil
}

// Instance returns the instance of d.
func (d *Device) Instance() *gpu.Instance { return d.inst }

// Adapter returns the adapter that d uses.
func (d *Device) Adapter() *gpu.Adapter { return d.adapter }

// GPU returns the logical device of d.
func (d *Device) GPU() *gpu.Device { return d.dev }

// Backend returns the name of the backend in use.
func (d *Device) Backend() string { return d.inst.Backend() }

// GfxQueue returns the graphics queue.
func (d *Device) GfxQueue() *gpu.Queue { return d.gfx }

// CopyQueueCount returns the number of copy queues.
func (d *Device) CopyQueueCount() int { return len(d.copies) }

// CopyQueue returns the copy queue at index.
// It returns copy queue 0 if index is out of range,
// which is the graphics queue if the adapter has no
// transfer queues.
func (d *Device) CopyQueue(index int) *gpu.Queue {
	if index < 0 || index >= len(d.copies) {
		index = 0
	}
	return d.copies[index]
}

// FileQueue returns the streaming queue that reads files,
// or nil if streaming is unavailable.
func (d *Device) FileQueue() *stream.Queue { return d.fileQueue }

// MemoryQueue returns the streaming queue that reads
// memory, or nil if streaming is unavailable.
func (d *Device) MemoryQueue() *stream.Queue { return d.memoryQueue }

// LinearSampler returns the default linear sampler.
func (d *Device) LinearSampler() *gpu.Sampler { return d.sampler }

// Tracker returns the crash tracker, or nil if tracking is
// disabled or unavailable.
func (d *Device) Tracker() *tracker.Tracker { return d.tracker }

// Decompressor returns the decompression service.
func (d *Device) Decompressor() *stream.DecompressService { return d.decompress }

// AuxServiceCount returns the number of auxiliary workers.
func (d *Device) AuxServiceCount() int { return len(d.aux) }

// AuxService returns the auxiliary worker at index, or nil
// if there are none.
func (d *Device) AuxService(index int) *AuxService {
	if len(d.aux) == 0 {
		return nil
	}
	return d.aux[index]
}

// SwapChainFormat returns the format of the back buffers
// of the first registered window, or the configured format
// if no window was registered.
func (d *Device) SwapChainFormat() gpu.Format {
	if len(d.windows) > 0 {
		return d.chains[d.windows[0]].Format()
	}
	return d.format
}

// Destroy destroys d and everything it owns.
func (d *Device) Destroy() {
	if d == nil {
		return
	}
	for _, w := range d.windows {
		d.chains[w].Destroy()
	}
	clear(d.chains)
	for _, s := range d.surfaces {
		s.Destroy()
	}
	clear(d.surfaces)
	d.windows = nil

	d.sampler.Destroy()
	d.decompress.Destroy()
	d.fileQueue.Destroy()
	d.memoryQueue.Destroy()
	for _, q := range d.copies {
		if q != d.gfx {
			q.Destroy()
		}
	}
	d.gfx.Destroy()
	d.dev.Destroy()
	d.tracker.Destroy()
	d.inst.Destroy()

	var g errgroup.Group
	for _, s := range d.aux {
		g.Go(func() error {
			s.Drain()
			s.Stop()
			return nil
		})
	}
	g.Wait()
	*d = Device{}
}
