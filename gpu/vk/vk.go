// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package vk implements a gpu backend using the Vulkan API.
package vk

import (
	"fmt"
	"slices"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	vulkan "github.com/vulkan-go/vulkan"

	"github.com/jjzhang166/SakuraEngine/gpu"
	"github.com/jjzhang166/SakuraEngine/internal/refs"
)

// Name is the name of the backend that this package
// registers.
const Name = "vulkan"

const validationLayer = "VK_LAYER_KHRONOS_validation"

func init() {
	gpu.Register(&Backend{})
}

var (
	_ gpu.Backend   = (*Backend)(nil)
	_ gpu.ProcTable = (*procs)(nil)
)

// Backend implements gpu.Backend.
type Backend struct {
	once sync.Once
	err  error
}

// Name implements gpu.Backend.
func (b *Backend) Name() string { return Name }

// loadLibrary loads the Vulkan loader.
// It is only attempted once per process.
func (b *Backend) loadLibrary() error {
	b.once.Do(func() {
		if err := vulkan.SetDefaultGetInstanceProcAddr(); err != nil {
			b.err = errors.Wrap(gpu.ErrNotInstalled, err.Error())
			return
		}
		if err := vulkan.Init(); err != nil {
			b.err = errors.Wrap(gpu.ErrNotInstalled, err.Error())
		}
	})
	return b.err
}

// Load implements gpu.Backend.
func (b *Backend) Load(desc *gpu.InstanceDescriptor) (gpu.ProcTable, error) {
	if err := b.loadLibrary(); err != nil {
		return nil, err
	}
	p := &procs{desc: *desc}
	if err := p.initInstance(); err != nil {
		return nil, err
	}
	if err := p.initAdapters(); err != nil {
		p.FreeInstance()
		return nil, err
	}
	return p, nil
}

// procs implements gpu.ProcTable.
type procs struct {
	desc     gpu.InstanceDescriptor
	inst     vulkan.Instance
	report   vulkan.DebugReportCallback
	adapters []*adapter
	surfaces refs.Counter[vulkan.Surface]
	// Whether VK_EXT_debug_utils was enabled.
	utils bool
}

// safeString returns s as a NUL-terminated string.
func safeString(s string) string { return s + "\x00" }

func safeStrings(s []string) []string {
	c := make([]string, len(s))
	for i := range s {
		c[i] = safeString(s[i])
	}
	return c
}

// instanceExtensions returns the names of the available
// instance extensions.
func instanceExtensions() ([]string, error) {
	var n uint32
	if err := checkResult(vulkan.EnumerateInstanceExtensionProperties("", &n, nil)); err != nil {
		return nil, err
	}
	props := make([]vulkan.ExtensionProperties, n)
	if err := checkResult(vulkan.EnumerateInstanceExtensionProperties("", &n, props)); err != nil {
		return nil, err
	}
	names := make([]string, 0, n)
	for i := range props[:n] {
		props[i].Deref()
		names = append(names, vulkan.ToString(props[i].ExtensionName[:]))
	}
	return names, nil
}

func hasLayer(name string) bool {
	var n uint32
	if vulkan.EnumerateInstanceLayerProperties(&n, nil) != vulkan.Success {
		return false
	}
	props := make([]vulkan.LayerProperties, n)
	if vulkan.EnumerateInstanceLayerProperties(&n, props) != vulkan.Success {
		return false
	}
	for i := range props[:n] {
		props[i].Deref()
		if vulkan.ToString(props[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

// initInstance creates the Vulkan instance.
func (p *procs) initInstance() error {
	avail, err := instanceExtensions()
	if err != nil {
		return err
	}
	var exts, layers []string
	for _, e := range [...]string{
		"VK_KHR_surface",
		"VK_KHR_xlib_surface",
		"VK_KHR_xcb_surface",
		"VK_KHR_wayland_surface",
		"VK_KHR_win32_surface",
		"VK_KHR_android_surface",
		"VK_EXT_metal_surface",
	} {
		if slices.Contains(avail, e) {
			exts = append(exts, e)
		}
	}
	debug := p.desc.EnableDebugLayer && slices.Contains(avail, "VK_EXT_debug_report")
	if debug {
		exts = append(exts, "VK_EXT_debug_report")
		if hasLayer(validationLayer) {
			layers = append(layers, validationLayer)
		} else {
			log.WithField("layer", validationLayer).Warn("[!] validation layer not present")
		}
	}
	if p.desc.EnableResourceNaming && slices.Contains(avail, extDebugUtils) {
		exts = append(exts, extDebugUtils)
		p.utils = true
	}
	info := vulkan.InstanceCreateInfo{
		SType: vulkan.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vulkan.ApplicationInfo{
			SType:         vulkan.StructureTypeApplicationInfo,
			ApiVersion:    vulkan.MakeVersion(1, 1, 0),
			PEngineName:   safeString("SakuraEngine"),
			EngineVersion: vulkan.MakeVersion(0, 1, 0),
		},
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: safeStrings(exts),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     safeStrings(layers),
	}
	if err := checkResult(vulkan.CreateInstance(&info, nil, &p.inst)); err != nil {
		return errors.Wrap(err, "vk: CreateInstance")
	}
	if err := vulkan.InitInstance(p.inst); err != nil {
		vulkan.DestroyInstance(p.inst, nil)
		return errors.Wrap(err, "vk: InitInstance")
	}
	if debug {
		p.initDebugReport()
	}
	return nil
}

// initDebugReport forwards validation messages to the log.
func (p *procs) initDebugReport() {
	info := vulkan.DebugReportCallbackCreateInfo{
		SType: vulkan.StructureTypeDebugReportCallbackCreateInfo,
		Flags: vulkan.DebugReportFlags(vulkan.DebugReportErrorBit |
			vulkan.DebugReportWarningBit |
			vulkan.DebugReportPerformanceWarningBit),
		PfnCallback: func(flags vulkan.DebugReportFlags, _ vulkan.DebugReportObjectType, _ uint64, _ uint, code int32, prefix string, msg string, _ unsafe.Pointer) vulkan.Bool32 {
			e := log.WithFields(log.Fields{"backend": Name, "layer": prefix, "code": code})
			switch {
			case flags&vulkan.DebugReportFlags(vulkan.DebugReportErrorBit) != 0:
				e.Error(msg)
			case flags&vulkan.DebugReportFlags(vulkan.DebugReportPerformanceWarningBit) != 0:
				e.Info(msg)
			default:
				e.Warn(msg)
			}
			return vulkan.False
		},
	}
	if err := checkResult(vulkan.CreateDebugReportCallback(p.inst, &info, nil, &p.report)); err != nil {
		log.WithError(err).Warn("[!] debug report unavailable")
		p.report = nil
	}
}

func (p *procs) FreeInstance() {
	if p.report != nil {
		vulkan.DestroyDebugReportCallback(p.inst, p.report, nil)
	}
	vulkan.DestroyInstance(p.inst, nil)
}

// adapter is a physical device and the properties that are
// queried once.
type adapter struct {
	pdev     vulkan.PhysicalDevice
	detail   gpu.AdapterDetail
	families [3]int // queue family per gpu.QueueType, or -1
	counts   [3]int
	mprop    vulkan.PhysicalDeviceMemoryProperties
	exts     []string

	// bufferImageGranularity.
	granularity uint64
}

func (p *procs) initAdapters() error {
	var n uint32
	if err := checkResult(vulkan.EnumeratePhysicalDevices(p.inst, &n, nil)); err != nil {
		return err
	}
	if n == 0 {
		return gpu.ErrNoDevice
	}
	devs := make([]vulkan.PhysicalDevice, n)
	if err := checkResult(vulkan.EnumeratePhysicalDevices(p.inst, &n, devs)); err != nil {
		return err
	}
	for _, pd := range devs[:n] {
		a := newAdapter(pd)
		// Discrete adapters go first.
		if a.detail.DeviceType == gpu.DeviceDiscrete {
			p.adapters = slices.Insert(p.adapters, 0, a)
		} else {
			p.adapters = append(p.adapters, a)
		}
	}
	return nil
}

func newAdapter(pd vulkan.PhysicalDevice) *adapter {
	a := &adapter{pdev: pd, families: [3]int{-1, -1, -1}}

	var props vulkan.PhysicalDeviceProperties
	vulkan.GetPhysicalDeviceProperties(pd, &props)
	props.Deref()
	props.Limits.Deref()
	vulkan.GetPhysicalDeviceMemoryProperties(pd, &a.mprop)
	a.mprop.Deref()

	var nfam uint32
	vulkan.GetPhysicalDeviceQueueFamilyProperties(pd, &nfam, nil)
	fams := make([]vulkan.QueueFamilyProperties, nfam)
	vulkan.GetPhysicalDeviceQueueFamilyProperties(pd, &nfam, fams)
	const (
		graphics = vulkan.QueueFlags(vulkan.QueueGraphicsBit)
		compute  = vulkan.QueueFlags(vulkan.QueueComputeBit)
		transfer = vulkan.QueueFlags(vulkan.QueueTransferBit)
	)
	for i := range fams[:nfam] {
		fams[i].Deref()
		f := fams[i].QueueFlags
		var typ gpu.QueueType
		switch {
		case f&graphics != 0:
			typ = gpu.QueueGraphics
		case f&compute != 0:
			typ = gpu.QueueCompute
		case f&transfer != 0:
			typ = gpu.QueueTransfer
		default:
			continue
		}
		if a.families[typ] < 0 {
			a.families[typ] = i
			a.counts[typ] = int(fams[i].QueueCount)
		}
	}

	var hostVisibleVRAM bool
	for i := range a.mprop.MemoryTypeCount {
		a.mprop.MemoryTypes[i].Deref()
		const want = vulkan.MemoryPropertyFlags(vulkan.MemoryPropertyDeviceLocalBit | vulkan.MemoryPropertyHostVisibleBit)
		if a.mprop.MemoryTypes[i].PropertyFlags&want == want {
			hostVisibleVRAM = true
		}
	}
	var maxHeap uint64
	for i := range a.mprop.MemoryHeapCount {
		a.mprop.MemoryHeaps[i].Deref()
		maxHeap = max(maxHeap, uint64(a.mprop.MemoryHeaps[i].Size))
	}

	lim := &props.Limits
	a.granularity = uint64(lim.BufferImageGranularity)
	a.detail = gpu.AdapterDetail{
		Name:                            vulkan.ToString(props.DeviceName[:]),
		VendorID:                        props.VendorID,
		DeviceID:                        props.DeviceID,
		DeviceType:                      deviceType(props.DeviceType),
		FeatureLevel:                    versionString(props.ApiVersion),
		UniformBufferAlignment:          uint64(lim.MinUniformBufferOffsetAlignment),
		UploadBufferTextureAlignment:    uint64(lim.OptimalBufferCopyOffsetAlignment),
		UploadBufferTextureRowAlignment: uint64(lim.OptimalBufferCopyRowPitchAlignment),
		MaxTextureDimension:             int(lim.MaxImageDimension2D),
		MaxBufferSize:                   maxHeap,
		MaxVertexInputBindings:          int(lim.MaxVertexInputBindings),
		UMA:                             props.DeviceType == vulkan.PhysicalDeviceTypeIntegratedGpu,
		HostVisibleVRAM:                 hostVisibleVRAM,
		SupportsStreaming:               a.families[gpu.QueueTransfer] >= 0,
	}

	var next uint32
	if vulkan.EnumerateDeviceExtensionProperties(pd, "", &next, nil) == vulkan.Success {
		eprops := make([]vulkan.ExtensionProperties, next)
		if vulkan.EnumerateDeviceExtensionProperties(pd, "", &next, eprops) == vulkan.Success {
			for i := range eprops[:next] {
				eprops[i].Deref()
				a.exts = append(a.exts, vulkan.ToString(eprops[i].ExtensionName[:]))
			}
		}
	}
	return a
}

func deviceType(t vulkan.PhysicalDeviceType) gpu.DeviceType {
	switch t {
	case vulkan.PhysicalDeviceTypeIntegratedGpu:
		return gpu.DeviceIntegrated
	case vulkan.PhysicalDeviceTypeDiscreteGpu:
		return gpu.DeviceDiscrete
	case vulkan.PhysicalDeviceTypeVirtualGpu:
		return gpu.DeviceVirtual
	case vulkan.PhysicalDeviceTypeCpu:
		return gpu.DeviceCPU
	}
	return gpu.DeviceOther
}

// versionString formats a version generated by
// VK_MAKE_VERSION.
func versionString(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>22&0x7f, v>>12&0x3ff, v&0xfff)
}

func (p *procs) EnumAdapters() []gpu.Native {
	s := make([]gpu.Native, len(p.adapters))
	for i, a := range p.adapters {
		s[i] = a
	}
	return s
}

func (p *procs) QueryAdapterDetail(a gpu.Native) gpu.AdapterDetail {
	return a.(*adapter).detail
}

func (p *procs) QueryQueueCount(a gpu.Native, typ gpu.QueueType) int {
	return a.(*adapter).counts[typ]
}

func (p *procs) QueryFormatSupport(a gpu.Native, f gpu.Format) gpu.FormatSupport {
	vf, ok := convFormat(f)
	if !ok {
		return 0
	}
	var props vulkan.FormatProperties
	vulkan.GetPhysicalDeviceFormatProperties(a.(*adapter).pdev, vf, &props)
	props.Deref()
	return formatSupport(&props)
}

func (p *procs) QueryExtensions(a gpu.Native) []string {
	return slices.Clone(a.(*adapter).exts)
}

// checkResult converts a VkResult into an error.
// Results that are not errors yield nil.
func checkResult(res vulkan.Result) error {
	if res >= 0 {
		// VK_ERROR_* values are all negative.
		return nil
	}
	switch res {
	case vulkan.ErrorOutOfHostMemory:
		return gpu.ErrNoHostMemory
	case vulkan.ErrorOutOfDeviceMemory:
		return gpu.ErrNoDeviceMemory
	case vulkan.ErrorDeviceLost:
		return gpu.ErrDeviceLost
	case vulkan.ErrorSurfaceLost:
		return gpu.ErrSurfaceLost
	case vulkan.ErrorOutOfDate:
		return gpu.ErrSwapChain
	case vulkan.ErrorFormatNotSupported, vulkan.ErrorFeatureNotPresent, vulkan.ErrorExtensionNotPresent:
		return errors.Wrap(gpu.ErrUnsupported, vulkan.Error(res).Error())
	case vulkan.ErrorIncompatibleDriver:
		return errors.Wrap(gpu.ErrNotInstalled, vulkan.Error(res).Error())
	}
	return errors.Newf("vk: %v", vulkan.Error(res))
}
