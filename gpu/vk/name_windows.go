// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package vk

// #include <windows.h>
// #include <stdlib.h>
import "C"

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/jjzhang166/SakuraEngine/gpu"
)

var loader struct {
	once        sync.Once
	getProcAddr unsafe.Pointer
	err         error
}

// instanceProcAddr loads the Vulkan library and fetches
// vkGetInstanceProcAddr.
// The library stays loaded for the lifetime of the process.
func instanceProcAddr() (unsafe.Pointer, error) {
	loader.once.Do(func() {
		lib := C.CString("vulkan-1.dll")
		defer C.free(unsafe.Pointer(lib))
		h := C.LoadLibraryA(lib)
		if h == nil {
			loader.err = errors.Wrap(gpu.ErrNotInstalled, "vk: LoadLibrary")
			return
		}
		sym := C.CString("vkGetInstanceProcAddr")
		defer C.free(unsafe.Pointer(sym))
		f := C.GetProcAddress(h, sym)
		if f == nil {
			C.FreeLibrary(h)
			loader.err = errors.Wrap(gpu.ErrNotInstalled, "vk: vkGetInstanceProcAddr")
			return
		}
		loader.getProcAddr = unsafe.Pointer(f)
	})
	return loader.getProcAddr, loader.err
}
