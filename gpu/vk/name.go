// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package vk

// #include <stdlib.h>
// #include "name.h"
import "C"

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	vulkan "github.com/vulkan-go/vulkan"

	"github.com/jjzhang166/SakuraEngine/gpu"
)

const (
	extDebugUtils  = "VK_EXT_debug_utils"
	extDebugMarker = "VK_EXT_debug_marker"
)

// namer sets debug names through VK_EXT_debug_utils or,
// failing that, VK_EXT_debug_marker.
type namer struct {
	fn     unsafe.Pointer
	marker bool
}

// newNamer fetches the naming command of dev.
// utils states whether inst enabled VK_EXT_debug_utils;
// otherwise dev must have enabled VK_EXT_debug_marker.
func newNamer(inst vulkan.Instance, dev vulkan.Device, utils bool) (*namer, error) {
	gipa, err := instanceProcAddr()
	if err != nil {
		return nil, err
	}
	if utils {
		f := proc(gipa, unsafe.Pointer(inst), "vkSetDebugUtilsObjectNameEXT")
		if f == nil {
			return nil, errors.Wrap(gpu.ErrUnsupported, "vk: vkSetDebugUtilsObjectNameEXT")
		}
		return &namer{fn: f}, nil
	}
	gdpa := proc(gipa, unsafe.Pointer(inst), "vkGetDeviceProcAddr")
	if gdpa == nil {
		return nil, errors.Wrap(gpu.ErrUnsupported, "vk: vkGetDeviceProcAddr")
	}
	f := proc(gdpa, unsafe.Pointer(dev), "vkDebugMarkerSetObjectNameEXT")
	if f == nil {
		return nil, errors.Wrap(gpu.ErrUnsupported, "vk: vkDebugMarkerSetObjectNameEXT")
	}
	return &namer{fn: f, marker: true}, nil
}

// proc calls getProcAddr with handle and name.
func proc(getProcAddr, handle unsafe.Pointer, name string) unsafe.Pointer {
	s := C.CString(name)
	defer C.free(unsafe.Pointer(s))
	return C.nameProc(getProcAddr, handle, s)
}

// set names the object o of dev.
func (n *namer) set(dev vulkan.Device, o object, name string) error {
	s := C.CString(name)
	defer C.free(unsafe.Pointer(s))
	info := C.nameInfo{
		sType:       C.int32_t(vulkan.StructureTypeDebugUtilsObjectNameInfo),
		objectType:  C.int32_t(o.typ),
		object:      C.uint64_t(o.handle),
		pObjectName: s,
	}
	if n.marker {
		info.sType = C.int32_t(vulkan.StructureTypeDebugMarkerObjectNameInfo)
		info.objectType = C.int32_t(o.report)
	}
	return checkResult(vulkan.Result(C.nameSet(n.fn, unsafe.Pointer(dev), &info)))
}

// object identifies a Vulkan object for naming.
type object struct {
	typ    vulkan.ObjectType
	report vulkan.DebugReportObjectType
	handle uint64
}

// handle returns the 64-bit value of a Vulkan handle.
// Non-dispatchable handles are 64-bit integers on 32-bit
// platforms.
func handle[H any](h H) uint64 {
	switch unsafe.Sizeof(h) {
	case 8:
		return *(*uint64)(unsafe.Pointer(&h))
	case 4:
		return uint64(*(*uint32)(unsafe.Pointer(&h)))
	}
	panic("vk: unexpected handle size")
}

// objectOf returns the object that obj wraps.
func objectOf(obj gpu.Native) (object, bool) {
	switch x := obj.(type) {
	case *buffer:
		return object{vulkan.ObjectTypeBuffer, vulkan.DebugReportObjectTypeBuffer, handle(x.buf)}, true
	case *texelView:
		return object{vulkan.ObjectTypeBufferView, vulkan.DebugReportObjectTypeBufferView, handle(x.view)}, true
	case *texture:
		return object{vulkan.ObjectTypeImage, vulkan.DebugReportObjectTypeImage, handle(x.img)}, true
	case *textureView:
		return object{vulkan.ObjectTypeImageView, vulkan.DebugReportObjectTypeImageView, handle(x.view)}, true
	case *sampler:
		return object{vulkan.ObjectTypeSampler, vulkan.DebugReportObjectTypeSampler, handle(x.spl)}, true
	case *shaderLibrary:
		return object{vulkan.ObjectTypeShaderModule, vulkan.DebugReportObjectTypeShaderModule, handle(x.mod)}, true
	case *commandPool:
		return object{vulkan.ObjectTypeCommandPool, vulkan.DebugReportObjectTypeCommandPool, handle(x.pool)}, true
	case *queue:
		return object{vulkan.ObjectTypeQueue, vulkan.DebugReportObjectTypeQueue, handle(x.q)}, true
	case *swapChain:
		return object{vulkan.ObjectTypeSwapchain, vulkan.DebugReportObjectTypeSwapchainKhr, handle(x.sc)}, true
	}
	return object{}, false
}

func (p *procs) SetName(dn gpu.Native, obj gpu.Native, name string) {
	d := dn.(*device)
	if d.namer == nil {
		return
	}
	o, ok := objectOf(obj)
	if !ok {
		log.WithFields(log.Fields{"backend": Name, "name": name}).Debugf("%T cannot be named", obj)
		return
	}
	if err := d.namer.set(d.dev, o, name); err != nil {
		log.WithFields(log.Fields{"backend": Name, "name": name}).WithError(err).Warn("object not named")
	}
}
