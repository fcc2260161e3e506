// Copyright 2024 Gustavo C. Viegas. All rights reserved.

//go:build !windows

package vk

// #cgo linux LDFLAGS: -ldl
// #include <dlfcn.h>
// #include <stdlib.h>
import "C"

import (
	"runtime"
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
		var lib *C.char
		switch runtime.GOOS {
		case "android":
			lib = C.CString("libvulkan.so")
		case "darwin":
			lib = C.CString("libvulkan.1.dylib")
		default:
			lib = C.CString("libvulkan.so.1")
		}
		defer C.free(unsafe.Pointer(lib))
		h := C.dlopen(lib, C.RTLD_LAZY|C.RTLD_GLOBAL)
		if h == nil {
			loader.err = errors.Wrap(gpu.ErrNotInstalled, "vk: dlopen")
			return
		}
		sym := C.CString("vkGetInstanceProcAddr")
		defer C.free(unsafe.Pointer(sym))
		f := C.dlsym(h, sym)
		if f == nil {
			C.dlclose(h)
			loader.err = errors.Wrap(gpu.ErrNotInstalled, "vk: vkGetInstanceProcAddr")
			return
		}
		loader.getProcAddr = f
	})
	return loader.getProcAddr, loader.err
}
