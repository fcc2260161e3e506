// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package gpu defines a handle-based API encompassing
// common GPU functionality.
// Every call is routed through the ProcTable of a Backend
// chosen at instance creation, which allows platform-specific
// APIs to be implemented in a mostly straightforward manner.
package gpu

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
)

// Backend is the interface that provides a ProcTable for
// a native graphics API.
type Backend interface {
	// Name returns the name of the backend.
	// It must not cause the backend to be loaded.
	Name() string

	// Load binds a new ProcTable for one instance.
	// Distinct tables of the same backend must be usable
	// concurrently.
	Load(desc *InstanceDescriptor) (ProcTable, error)
}

// Native is a backend-private object.
// Backends type assert the values they created themselves;
// handles never expose them to clients.
type Native any

// ProcTable is the interface that a backend implements for
// every abstract operation.
// A backend that does not implement all of them does not
// compile.
type ProcTable interface {
	// EnumAdapters returns the physical adapters.
	// It is called once, during instance creation.
	EnumAdapters() []Native
	// FreeInstance releases the backend context.
	FreeInstance()

	QueryAdapterDetail(a Native) AdapterDetail
	QueryQueueCount(a Native, typ QueueType) int
	QueryFormatSupport(a Native, f Format) FormatSupport
	QueryExtensions(a Native) []string

	// CreateDevice creates a logical device.
	// Queue groups in desc are already clamped and contain
	// no empty group.
	CreateDevice(a Native, desc *DeviceDescriptor) (Native, error)
	FreeDevice(d Native)

	GetQueue(d Native, typ QueueType, index int) (Native, error)
	FreeQueue(q Native)
	SubmitQueue(q Native, cmds []Native) error
	WaitQueueIdle(q Native) error

	CreateCommandPool(q Native, desc *CommandPoolDescriptor) (Native, error)
	ResetCommandPool(p Native) error
	FreeCommandPool(p Native)
	CreateCommandBuffer(p Native, desc *CommandBufferDescriptor) (Native, error)
	FreeCommandBuffer(cb Native)
	CmdBegin(cb Native) error
	CmdEnd(cb Native) error
	CmdCopyBuffer(cb Native, dst Native, dstOff uint64, src Native, srcOff uint64, size uint64)

	// CreateBuffer creates a buffer whose memory is at least
	// size bytes.
	// If the buffer is persistently mapped, the returned
	// slice refers to its memory.
	CreateBuffer(d Native, desc *BufferDescriptor, size uint64) (Native, []byte, error)
	MapBuffer(b Native) ([]byte, error)
	UnmapBuffer(b Native)
	FreeBuffer(b Native)
	CreateTexelView(b Native, desc *TexelViewDescriptor) (Native, error)
	FreeTexelView(v Native)

	CreateTexture(d Native, desc *TextureDescriptor) (Native, error)
	FreeTexture(t Native)
	CreateTextureView(t Native, desc *TextureViewDescriptor) (Native, error)
	FreeTextureView(v Native)

	CreateSampler(d Native, desc *SamplerDescriptor) (Native, error)
	FreeSampler(s Native)
	CreateShaderLibrary(d Native, desc *ShaderLibraryDescriptor) (Native, error)
	FreeShaderLibrary(s Native)

	// SetName attaches a debug name to obj.
	SetName(d Native, obj Native, name string)

	CreateSurface(view uintptr) (Native, error)
	FreeSurface(s Native)
	CreateSwapChain(d Native, desc *SwapChainParams) (SwapChainInfo, error)
	FreeSwapChain(sc Native)
	AcquireNextImage(sc Native) (int, error)
	Present(q Native, sc Native, index int) error
}

// SwapChainParams is the backend form of a
// SwapChainDescriptor.
type SwapChainParams struct {
	Surface       Native
	Old           Native // swapchain being replaced, if any
	PresentQueues []Native
	Width         int
	Height        int
	ImageCount    int
	Format        Format
	VSync         bool
}

// SwapChainInfo describes a swapchain created by a backend.
type SwapChainInfo struct {
	SwapChain Native
	// Back buffers, in presentation order.
	Images []Native
	Format Format
	Width  int
	Height int
}

// ErrNotInstalled means that a platform-specific library
// required for the backend to work is not present in the
// system.
var ErrNotInstalled = errors.New("gpu: missing required library")

// ErrNoBackend means that no registered backend matches.
var ErrNoBackend = errors.New("gpu: no such backend")

// ErrNoDevice means that no suitable device could be
// found.
var ErrNoDevice = errors.New("gpu: no suitable device found")

// ErrNoQueue means that the device has no such queue.
var ErrNoQueue = errors.New("gpu: no such queue")

// ErrNoHostMemory means that host memory could not be
// allocated.
var ErrNoHostMemory = errors.New("gpu: out of host memory")

// ErrNoDeviceMemory means that device memory could not
// be allocated.
var ErrNoDeviceMemory = errors.New("gpu: out of device memory")

// ErrDeviceLost means that the device is in an
// unrecoverable state. Everything created from it must be
// destroyed, and then the device itself.
var ErrDeviceLost = errors.New("gpu: device lost")

// ErrSurfaceLost means that a surface can no longer be
// presented to and must be created again.
var ErrSurfaceLost = errors.New("gpu: surface lost")

// ErrSwapChain means that a swapchain is out of date and
// must be recreated.
var ErrSwapChain = errors.New("gpu: swapchain out of date")

// ErrUnsupported means that the backend does not support
// the requested operation.
var ErrUnsupported = errors.New("gpu: unsupported operation")

// Backends returns the registered Backends.
// Client code imports specific backend packages, which
// register themselves from init.
func Backends() []Backend {
	mu.Lock()
	defer mu.Unlock()
	b := make([]Backend, len(backends))
	copy(b, backends)
	return b
}

// Lookup returns the registered Backend whose name matches
// name, ignoring case.
func Lookup(name string) (Backend, bool) {
	mu.Lock()
	defer mu.Unlock()
	for _, b := range backends {
		if strings.EqualFold(b.Name(), name) {
			return b, true
		}
	}
	return nil, false
}

// Register registers a Backend.
// If a backend with the same name has already been
// registered, it will be replaced by b.
func Register(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	for i := range backends {
		if backends[i].Name() == b.Name() {
			backends[i] = b
			log.Warnf("[!] backend '%s' replaced", b.Name())
			return
		}
	}
	backends = append(backends, b)
	log.Debugf("backend '%s' registered", b.Name())
}

// Variables used for backend registration.
var (
	mu       sync.Mutex
	backends = make([]Backend, 0, 3)
)
