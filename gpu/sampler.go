// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package gpu

import (
	"github.com/cockroachdb/errors"
)

// Sampler holds texture sampling state.
type Sampler struct {
	dev       *Device
	desc      SamplerDescriptor
	native    Native
	destroyed bool
}

// NewSampler creates a new sampler.
func (d *Device) NewSampler(desc *SamplerDescriptor) (*Sampler, error) {
	inst := d.inst()
	inst.assertf(!d.destroyed, "NewSampler on destroyed device")
	var sd SamplerDescriptor
	if desc != nil {
		sd = *desc
	}
	if sd.MaxAnisotropy < 1 {
		sd.MaxAnisotropy = 1
	}
	n, err := d.procs().CreateSampler(d.native, &sd)
	if err != nil {
		return nil, inst.creationFailed("sampler", sd.Name, err)
	}
	d.setName(n, sd.Name)
	d.retain(kindSampler)
	return &Sampler{dev: d, desc: sd, native: n}, nil
}

// Descriptor returns the descriptor of s.
func (s *Sampler) Descriptor() SamplerDescriptor { return s.desc }

// Destroy destroys the sampler.
func (s *Sampler) Destroy() {
	if s == nil {
		return
	}
	s.dev.inst().assertf(!s.destroyed, "sampler destroyed twice")
	if s.destroyed {
		return
	}
	s.dev.procs().FreeSampler(s.native)
	s.destroyed = true
	s.dev.release(kindSampler)
}

// errBadCode means that shader code is not valid SPIR-V.
var errBadCode = errors.New("gpu: invalid shader code")

// spirvMagic is the first word of a SPIR-V module.
const spirvMagic = 0x07230203

// ShaderLibrary is a compiled shader module.
// Its code is opaque to this package.
type ShaderLibrary struct {
	dev       *Device
	name      string
	stage     ShaderStage
	native    Native
	destroyed bool
}

// NewShaderLibrary creates a new shader library from
// SPIR-V code.
func (d *Device) NewShaderLibrary(desc *ShaderLibraryDescriptor) (*ShaderLibrary, error) {
	inst := d.inst()
	inst.assertf(!d.destroyed, "NewShaderLibrary on destroyed device")
	if desc == nil || len(desc.Code) < 4 || len(desc.Code)%4 != 0 {
		return nil, inst.creationFailed("shader library", "", errBadCode)
	}
	c := desc.Code
	if w := uint32(c[0]) | uint32(c[1])<<8 | uint32(c[2])<<16 | uint32(c[3])<<24; w != spirvMagic {
		return nil, inst.creationFailed("shader library", desc.Name, errors.Wrapf(errBadCode, "magic %#x", w))
	}
	n, err := d.procs().CreateShaderLibrary(d.native, desc)
	if err != nil {
		return nil, inst.creationFailed("shader library", desc.Name, err)
	}
	d.setName(n, desc.Name)
	d.retain(kindShaderLibrary)
	return &ShaderLibrary{dev: d, name: desc.Name, stage: desc.Stage, native: n}, nil
}

// Name returns the name of s.
func (s *ShaderLibrary) Name() string { return s.name }

// Stage returns the stages s was created for.
func (s *ShaderLibrary) Stage() ShaderStage { return s.stage }

// Destroy destroys the shader library.
func (s *ShaderLibrary) Destroy() {
	if s == nil {
		return
	}
	s.dev.inst().assertf(!s.destroyed, "shader library destroyed twice")
	if s.destroyed {
		return
	}
	s.dev.procs().FreeShaderLibrary(s.native)
	s.destroyed = true
	s.dev.release(kindShaderLibrary)
}
