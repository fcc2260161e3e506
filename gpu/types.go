// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package gpu

// QueueType is the type of a queue.
type QueueType int

// Queue types.
const (
	QueueGraphics QueueType = iota
	QueueCompute
	QueueTransfer
	queueTypeN
)

func (t QueueType) String() string {
	switch t {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	case QueueTransfer:
		return "transfer"
	}
	return "invalid"
}

// QueueTypes returns every queue type.
func QueueTypes() []QueueType { return []QueueType{QueueGraphics, QueueCompute, QueueTransfer} }

// DeviceType is the kind of a physical adapter.
type DeviceType int

// Device types.
const (
	DeviceOther DeviceType = iota
	DeviceIntegrated
	DeviceDiscrete
	DeviceVirtual
	DeviceCPU
)

func (t DeviceType) String() string {
	switch t {
	case DeviceIntegrated:
		return "integrated"
	case DeviceDiscrete:
		return "discrete"
	case DeviceVirtual:
		return "virtual"
	case DeviceCPU:
		return "cpu"
	}
	return "other"
}

// Known PCI vendor IDs.
const (
	VendorAMD    = 0x1002
	VendorNVIDIA = 0x10de
	VendorIntel  = 0x8086
	VendorApple  = 0x106b
)

// ResourceType is a mask of the ways a resource can be
// bound to shaders and to the pipeline.
type ResourceType uint32

// Resource types.
const (
	ResourceUniformBuffer ResourceType = 1 << iota
	// Read-only structured/texel buffer.
	ResourceBuffer
	// Read-write structured/texel buffer.
	ResourceRWBuffer
	ResourceVertexBuffer
	ResourceIndexBuffer
	ResourceIndirectBuffer
	ResourceTexture
	ResourceRWTexture
	ResourceRenderTarget
	ResourceDepthStencil
)

// MemoryUsage is the intended access pattern of resource
// memory.
type MemoryUsage int

// Memory usages.
const (
	MemoryUnknown MemoryUsage = iota
	// Device-local memory that the host does not access.
	MemoryGPUOnly
	// Host memory used for staging.
	MemoryCPUOnly
	// Host-visible memory written by the host every frame.
	MemoryCPUToGPU
	// Host-visible memory for readback.
	MemoryGPUToCPU
)

func (u MemoryUsage) String() string {
	switch u {
	case MemoryGPUOnly:
		return "gpu-only"
	case MemoryCPUOnly:
		return "cpu-only"
	case MemoryCPUToGPU:
		return "cpu-to-gpu"
	case MemoryGPUToCPU:
		return "gpu-to-cpu"
	}
	return "unknown"
}

// HostVisible returns whether memory of this usage can be
// mapped.
func (u MemoryUsage) HostVisible() bool {
	return u == MemoryCPUOnly || u == MemoryCPUToGPU || u == MemoryGPUToCPU
}

// BufferFlags modify how buffer memory is allocated.
type BufferFlags uint32

// Buffer flags.
const (
	// The buffer gets a device memory object of its own.
	BufferDedicated BufferFlags = 1 << iota
	// The buffer stays mapped for its whole lifetime.
	BufferPersistentMap
)

// TexelViewKind identifies the texel views of a buffer.
type TexelViewKind int

// Texel view kinds.
const (
	TexelUniform TexelViewKind = iota
	TexelStorage
	texelViewN
)

func (k TexelViewKind) String() string {
	if k == TexelStorage {
		return "storage"
	}
	return "uniform"
}

// ViewStatus is the outcome of the opportunistic creation
// of an optional view.
type ViewStatus int

// View statuses.
const (
	// The descriptor did not ask for the view.
	ViewNotRequested ViewStatus = iota
	// The adapter cannot create the view for the format.
	ViewUnsupported
	// The view was supported but its creation failed.
	ViewFailed
	// The view exists.
	ViewReady
)

func (s ViewStatus) String() string {
	switch s {
	case ViewUnsupported:
		return "unsupported"
	case ViewFailed:
		return "failed"
	case ViewReady:
		return "ready"
	}
	return "not requested"
}

// FormatSupport is a mask of the capabilities of a format
// on an adapter.
type FormatSupport uint32

// Format capabilities.
const (
	SupportSampled FormatSupport = 1 << iota
	SupportStorage
	SupportRenderTarget
	SupportDepthStencil
	SupportUniformTexel
	SupportStorageTexel
	SupportVertex
)

// AdapterDetail describes a physical adapter.
// It is immutable for the lifetime of the instance.
type AdapterDetail struct {
	Name       string
	VendorID   uint32
	DeviceID   uint32
	DeviceType DeviceType
	// Version of the API/feature level the adapter exposes,
	// e.g. "1.3.250".
	FeatureLevel string

	// Minimum alignment of uniform buffer sizes/offsets.
	UniformBufferAlignment uint64
	// Alignment of buffer offsets in buffer-texture copies.
	UploadBufferTextureAlignment uint64
	// Alignment of rows in buffer-texture copies.
	UploadBufferTextureRowAlignment uint64
	MaxTextureDimension             int
	MaxBufferSize                   uint64
	MaxVertexInputBindings          int

	// Whether device-local memory is shared with the host.
	UMA bool
	// Whether some device-local memory is host visible.
	HostVisibleVRAM bool
	// Whether the adapter can serve streaming queues.
	SupportsStreaming bool
}

// QueueGroup is a request for Count queues of a given type.
type QueueGroup struct {
	Type  QueueType
	Count int
}

// InstanceDescriptor describes an Instance.
type InstanceDescriptor struct {
	// Name of the backend, matched ignoring case.
	// The empty string selects the first registered backend.
	Backend              string
	EnableDebugLayer     bool
	EnableGPUValidation  bool
	EnableResourceNaming bool
}

// DeviceDescriptor describes a Device.
type DeviceDescriptor struct {
	QueueGroups []QueueGroup
}

// CommandPoolDescriptor describes a CommandPool.
type CommandPoolDescriptor struct {
	Name string
	// Whether lists are short-lived.
	Transient bool
}

// CommandBufferDescriptor describes a CommandBuffer.
type CommandBufferDescriptor struct {
	Secondary bool
}

// SubmitDescriptor describes a queue submission.
type SubmitDescriptor struct {
	CommandBuffers []*CommandBuffer
}

// BufferDescriptor describes a Buffer.
type BufferDescriptor struct {
	Name        string
	Size        uint64
	Descriptors ResourceType
	MemoryUsage MemoryUsage
	Flags       BufferFlags
	// Texel format of the elements. FormatUndefined
	// disables texel views.
	Format        Format
	FirstElement  uint64
	ElementCount  uint64
	ElementStride uint64
}

// TexelViewDescriptor is the backend form of a texel view
// request.
type TexelViewDescriptor struct {
	Kind   TexelViewKind
	Format Format
	Offset uint64
	Range  uint64
}

// TextureDimension is the dimensionality of a texture.
type TextureDimension int

// Texture dimensions.
const (
	Texture2D TextureDimension = iota
	Texture1D
	Texture3D
	TextureCube
)

// TextureFlags modify how texture memory is allocated.
type TextureFlags uint32

// Texture flags.
const (
	TextureDedicated TextureFlags = 1 << iota
)

// TextureDescriptor describes a Texture.
type TextureDescriptor struct {
	Name        string
	Dimension   TextureDimension
	Width       int
	Height      int
	Depth       int
	ArraySize   int
	MipLevels   int
	SampleCount int
	Format      Format
	Descriptors ResourceType
	Flags       TextureFlags
}

// TextureViewUsage is the way a texture view is bound.
type TextureViewUsage int

// Texture view usages.
const (
	ViewShaderRead TextureViewUsage = iota
	ViewShaderWrite
	ViewRenderTarget
)

// TextureViewDescriptor describes a TextureView.
// A zero MipCount or LayerCount covers the remaining
// levels/layers of the texture; FormatUndefined uses the
// texture format.
type TextureViewDescriptor struct {
	Name       string
	Format     Format
	Dimension  TextureDimension
	Usage      TextureViewUsage
	BaseMip    int
	MipCount   int
	BaseLayer  int
	LayerCount int
}

// Filter is a texture filter.
type Filter int

// Filters.
const (
	FilterNearest Filter = iota
	FilterLinear
)

// AddressMode is a texture addressing mode.
type AddressMode int

// Address modes.
const (
	AddressRepeat AddressMode = iota
	AddressMirror
	AddressClampToEdge
	AddressClampToBorder
)

// CompareFunc is a depth comparison function.
type CompareFunc int

// Comparison functions.
const (
	CompareNever CompareFunc = iota
	CompareLess
	CompareEqual
	CompareLessEqual
	CompareGreater
	CompareNotEqual
	CompareGreaterEqual
	CompareAlways
)

// SamplerDescriptor describes a Sampler.
type SamplerDescriptor struct {
	Name          string
	MinFilter     Filter
	MagFilter     Filter
	MipmapMode    Filter
	AddressU      AddressMode
	AddressV      AddressMode
	AddressW      AddressMode
	MaxAnisotropy float32
	Compare       CompareFunc
	MinLOD        float32
	MaxLOD        float32
}

// ShaderStage is a mask of pipeline stages.
type ShaderStage uint32

// Shader stages.
const (
	StageVertex ShaderStage = 1 << iota
	StageFragment
	StageCompute
)

// ShaderLibraryDescriptor describes a ShaderLibrary.
// Code is an opaque compiled blob (SPIR-V).
type ShaderLibraryDescriptor struct {
	Name  string
	Stage ShaderStage
	Code  []byte
}

// SwapChainDescriptor describes a SwapChain.
type SwapChainDescriptor struct {
	Surface *Surface
	Width   int
	Height  int
	// Requested number of back buffers.
	ImageCount    int
	Format        Format
	PresentQueues []*Queue
	VSync         bool
}
