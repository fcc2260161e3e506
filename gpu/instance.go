// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package gpu

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
)

// Instance is the root of every object created through a
// backend.
type Instance struct {
	desc     InstanceDescriptor
	backend  string
	procs    ProcTable
	adapters []*Adapter
	registry *Registry

	mu        sync.Mutex
	devices   int
	surfaces  int
	destroyed bool
}

// NewInstance creates a new instance.
// It tries every registered backend whose name contains
// desc.Backend, ignoring case, and uses the first one that
// loads. A nil desc is the same as the zero descriptor,
// which considers all registered backends.
func NewInstance(desc *InstanceDescriptor) (*Instance, error) {
	if desc == nil {
		desc = &InstanceDescriptor{}
	}
	name := strings.ToLower(desc.Backend)
	err := ErrNoBackend
	for _, b := range Backends() {
		if !strings.Contains(strings.ToLower(b.Name()), name) {
			continue
		}
		var procs ProcTable
		if procs, err = b.Load(desc); err != nil {
			log.WithField("backend", b.Name()).WithError(err).Warn("backend not loaded")
			continue
		}
		inst := &Instance{
			desc:    *desc,
			backend: b.Name(),
			procs:   procs,
		}
		inst.registry = newRegistry()
		for _, a := range procs.EnumAdapters() {
			inst.adapters = append(inst.adapters, newAdapter(inst, a))
		}
		log.WithFields(log.Fields{
			"backend":  inst.backend,
			"adapters": len(inst.adapters),
			"debug":    desc.EnableDebugLayer,
		}).Info("instance created")
		return inst, nil
	}
	if errors.Is(err, ErrNoBackend) {
		return nil, errors.Wrapf(err, "%q", desc.Backend)
	}
	return nil, err
}

// Backend returns the name of the backend that inst uses.
func (inst *Instance) Backend() string { return inst.backend }

// Descriptor returns the descriptor inst was created with.
func (inst *Instance) Descriptor() InstanceDescriptor { return inst.desc }

// Registry returns the extension registry of inst.
func (inst *Instance) Registry() *Registry { return inst.registry }

// EnumAdapters writes the adapters of inst into dst and
// returns how many were written.
// If dst is nil, it returns the number of adapters
// instead. The adapter at index 0 is the preferred one.
func (inst *Instance) EnumAdapters(dst []*Adapter) int {
	inst.assertf(!inst.destroyed, "EnumAdapters on destroyed instance")
	if dst == nil {
		return len(inst.adapters)
	}
	return copy(dst, inst.adapters)
}

// NewSurface creates a presentation surface from a native
// view handle.
func (inst *Instance) NewSurface(view uintptr) (*Surface, error) {
	inst.assertf(!inst.destroyed, "NewSurface on destroyed instance")
	s, err := inst.procs.CreateSurface(view)
	if err != nil {
		return nil, inst.creationFailed("surface", "", err)
	}
	inst.mu.Lock()
	inst.surfaces++
	inst.mu.Unlock()
	return &Surface{inst: inst, native: s, view: view}, nil
}

// Destroy destroys the instance.
// Every device and surface created from inst must have
// been destroyed already. Extension services that are
// still registered are closed.
// Adapters of inst must not be used afterwards.
func (inst *Instance) Destroy() {
	if inst == nil {
		return
	}
	inst.assertf(!inst.destroyed, "instance destroyed twice")
	inst.mu.Lock()
	devices, surfaces := inst.devices, inst.surfaces
	inst.mu.Unlock()
	inst.assertf(devices == 0 && surfaces == 0,
		"instance destroyed with %d live device(s) and %d live surface(s)", devices, surfaces)
	inst.registry.closeAll()
	inst.procs.FreeInstance()
	inst.destroyed = true
	inst.adapters = nil
}

// assertf checks a usage contract.
// Violations panic only if the debug layer is enabled.
func (inst *Instance) assertf(ok bool, format string, args ...any) {
	if ok || !inst.desc.EnableDebugLayer {
		return
	}
	err := errors.AssertionFailedf(format, args...)
	log.WithField("backend", inst.backend).Error(err)
	panic(err)
}

// Assertf checks a usage contract of code built on inst,
// such as extensions. It panics only if the debug layer is
// enabled.
func (inst *Instance) Assertf(ok bool, format string, args ...any) {
	inst.assertf(ok, format, args...)
}

// creationFailed logs a failed creation and returns err.
func (inst *Instance) creationFailed(object, name string, err error) error {
	log.WithFields(log.Fields{
		"backend": inst.backend,
		"object":  object,
		"name":    name,
	}).WithError(err).Error("creation failed")
	return err
}

// Surface is a presentation target derived from a native
// view.
type Surface struct {
	inst      *Instance
	native    Native
	view      uintptr
	chains    int
	destroyed bool
}

// View returns the native view s was created from.
func (s *Surface) View() uintptr { return s.view }

// Destroy destroys the surface.
// Swapchains created on s must be destroyed first.
func (s *Surface) Destroy() {
	if s == nil {
		return
	}
	s.inst.assertf(!s.destroyed, "surface destroyed twice")
	s.inst.assertf(s.chains == 0, "surface destroyed with %d live swapchain(s)", s.chains)
	s.inst.procs.FreeSurface(s.native)
	s.destroyed = true
	s.inst.mu.Lock()
	s.inst.surfaces--
	s.inst.mu.Unlock()
}
