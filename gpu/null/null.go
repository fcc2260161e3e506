// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package null implements a gpu backend that runs in host
// memory.
// Adapters are described by AdapterConfig values, which
// makes the backend suitable for tests and for headless
// tooling. Command buffers only support copies, which are
// executed at submission.
package null

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jjzhang166/SakuraEngine/gpu"
	"github.com/jjzhang166/SakuraEngine/internal/refs"
)

// Name is the name of the backend that this package
// registers.
const Name = "null"

func init() {
	gpu.Register(New(Name, DefaultAdapter()))
}

var (
	_ gpu.Backend   = (*Backend)(nil)
	_ gpu.ProcTable = (*procs)(nil)
)

// AdapterConfig describes an adapter of a Backend.
type AdapterConfig struct {
	Detail gpu.AdapterDetail
	// Number of queues, indexed by gpu.QueueType.
	Queues     [3]int
	Extensions []string
	// Format capabilities. A nil map means DefaultFormats.
	Formats map[gpu.Format]gpu.FormatSupport
	// Sizes of the device-local and host heaps.
	DeviceMemory uint64
	HostMemory   uint64
	// Bounds of the number of swapchain images.
	MinImages int
	MaxImages int
	// Whether texel view creation fails.
	FailTexelViews bool
}

// DefaultAdapter returns the configuration of the adapter
// exposed by the registered null backend.
func DefaultAdapter() AdapterConfig {
	return AdapterConfig{
		Detail: gpu.AdapterDetail{
			Name:                            "Null Device",
			DeviceType:                      gpu.DeviceCPU,
			FeatureLevel:                    "1.3.0",
			UniformBufferAlignment:          256,
			UploadBufferTextureAlignment:    512,
			UploadBufferTextureRowAlignment: 256,
			MaxTextureDimension:             16384,
			MaxBufferSize:                   1 << 32,
			MaxVertexInputBindings:          32,
			HostVisibleVRAM:                 true,
			SupportsStreaming:               true,
		},
		Queues:       [3]int{1, 2, 2},
		Extensions:   []string{"VK_KHR_swapchain", "VK_EXT_debug_utils"},
		DeviceMemory: 1 << 30,
		HostMemory:   1 << 30,
		MinImages:    2,
		MaxImages:    3,
	}
}

// DefaultFormats returns the format capabilities used when
// AdapterConfig.Formats is nil.
func DefaultFormats() map[gpu.Format]gpu.FormatSupport {
	const (
		color = gpu.SupportSampled | gpu.SupportRenderTarget
		texel = gpu.SupportUniformTexel | gpu.SupportStorageTexel
		depth = gpu.SupportSampled | gpu.SupportDepthStencil
	)
	return map[gpu.Format]gpu.FormatSupport{
		gpu.R8Unorm:        color | gpu.SupportStorage | texel,
		gpu.RG8Unorm:       color | gpu.SupportStorage | texel,
		gpu.RGBA8Unorm:     color | gpu.SupportStorage | texel | gpu.SupportVertex,
		gpu.RGBA8SRGB:      color,
		gpu.BGRA8Unorm:     color,
		gpu.BGRA8SRGB:      color,
		gpu.R16Float:       color | gpu.SupportStorage | texel,
		gpu.RG16Float:      color | gpu.SupportStorage | texel,
		gpu.RGBA16Float:    color | gpu.SupportStorage | texel | gpu.SupportVertex,
		gpu.R32Uint:        color | gpu.SupportStorage | texel | gpu.SupportVertex,
		gpu.R32Sint:        color | gpu.SupportStorage | texel | gpu.SupportVertex,
		gpu.R32Float:       color | gpu.SupportStorage | texel | gpu.SupportVertex,
		gpu.RG32Float:      color | gpu.SupportStorage | texel | gpu.SupportVertex,
		gpu.RGB32Float:     gpu.SupportUniformTexel | gpu.SupportVertex,
		gpu.RGBA32Float:    color | gpu.SupportStorage | texel | gpu.SupportVertex,
		gpu.D16Unorm:       depth,
		gpu.D32Float:       depth,
		gpu.D24UnormS8Uint: gpu.SupportDepthStencil,
		gpu.D32FloatS8Uint: depth,
	}
}

// Backend implements gpu.Backend.
type Backend struct {
	name     string
	adapters []AdapterConfig
	live     atomic.Int64

	// Surfaces created from the same view share the native
	// surface of the view, which is released once all of
	// them are freed.
	natives  refs.Counter[uintptr]
	releases map[uintptr]int

	mu       sync.Mutex
	surfaces map[uintptr][]*surface
	names    []string
}

// New creates a new Backend exposing the given adapters.
// It is not registered.
func New(name string, adapters ...AdapterConfig) *Backend {
	return &Backend{
		name:     name,
		adapters: slices.Clone(adapters),
		surfaces: make(map[uintptr][]*surface),
		releases: make(map[uintptr]int),
	}
}

// Name implements gpu.Backend.
func (b *Backend) Name() string { return b.name }

// Load implements gpu.Backend.
func (b *Backend) Load(desc *gpu.InstanceDescriptor) (gpu.ProcTable, error) {
	p := &procs{b: b, validate: desc.EnableGPUValidation}
	for i := range b.adapters {
		cfg := b.adapters[i]
		if cfg.Formats == nil {
			cfg.Formats = DefaultFormats()
		}
		if cfg.MinImages <= 0 {
			cfg.MinImages = 1
		}
		if cfg.MaxImages < cfg.MinImages {
			cfg.MaxImages = cfg.MinImages
		}
		p.adapters = append(p.adapters, &adapter{cfg: cfg})
	}
	b.live.Add(1)
	return p, nil
}

// Live returns the number of objects created through b
// that were not freed yet, instances included.
func (b *Backend) Live() int { return int(b.live.Load()) }

// LoseSurface causes every surface currently created from
// view to report gpu.ErrSurfaceLost.
// Surfaces created from view afterwards are unaffected.
func (b *Backend) LoseSurface(view uintptr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.surfaces[view] {
		s.lost = true
	}
}

// SurfaceReleases returns how many times the native
// surface of view was released.
func (b *Backend) SurfaceReleases(view uintptr) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.releases[view]
}

// Names returns the debug names set through b, in order.
func (b *Backend) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.names)
}

// procs implements gpu.ProcTable.
type procs struct {
	b        *Backend
	adapters []*adapter
	validate bool
	devices  int
}

// check panics if validation is enabled and ok is false.
func (p *procs) check(ok bool, format string, args ...any) {
	if ok || !p.validate {
		return
	}
	err := errors.AssertionFailedf("null: "+format, args...)
	log.WithField("backend", p.b.name).Error(err)
	panic(err)
}

func (p *procs) created() { p.b.live.Add(1) }
func (p *procs) freed()   { p.b.live.Add(-1) }

type adapter struct {
	cfg AdapterConfig
}

func (p *procs) EnumAdapters() []gpu.Native {
	s := make([]gpu.Native, len(p.adapters))
	for i, a := range p.adapters {
		s[i] = a
	}
	return s
}

func (p *procs) FreeInstance() {
	p.check(p.devices == 0, "instance freed with %d live device(s)", p.devices)
	p.freed()
}

func (p *procs) QueryAdapterDetail(a gpu.Native) gpu.AdapterDetail {
	return a.(*adapter).cfg.Detail
}

func (p *procs) QueryQueueCount(a gpu.Native, typ gpu.QueueType) int {
	return a.(*adapter).cfg.Queues[typ]
}

func (p *procs) QueryFormatSupport(a gpu.Native, f gpu.Format) gpu.FormatSupport {
	return a.(*adapter).cfg.Formats[f]
}

func (p *procs) QueryExtensions(a gpu.Native) []string {
	return slices.Clone(a.(*adapter).cfg.Extensions)
}

func (p *procs) SetName(_ gpu.Native, _ gpu.Native, name string) {
	p.b.mu.Lock()
	p.b.names = append(p.b.names, name)
	p.b.mu.Unlock()
}
