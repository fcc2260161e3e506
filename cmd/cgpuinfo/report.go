// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package main

import (
	"github.com/jjzhang166/SakuraEngine/gpu"
)

type report struct {
	Backend  string          `json:"backend" yaml:"backend"`
	Adapters []adapterReport `json:"adapters" yaml:"adapters"`
}

type adapterReport struct {
	Index        int    `json:"index" yaml:"index"`
	Name         string `json:"name" yaml:"name"`
	Vendor       string `json:"vendor" yaml:"vendor"`
	VendorID     uint32 `json:"vendorID" yaml:"vendorID"`
	DeviceID     uint32 `json:"deviceID" yaml:"deviceID"`
	Type         string `json:"type" yaml:"type"`
	FeatureLevel string `json:"featureLevel" yaml:"featureLevel"`

	UniformBufferAlignment          uint64 `json:"uniformBufferAlignment" yaml:"uniformBufferAlignment"`
	UploadBufferTextureAlignment    uint64 `json:"uploadBufferTextureAlignment" yaml:"uploadBufferTextureAlignment"`
	UploadBufferTextureRowAlignment uint64 `json:"uploadBufferTextureRowAlignment" yaml:"uploadBufferTextureRowAlignment"`
	MaxTextureDimension             int    `json:"maxTextureDimension" yaml:"maxTextureDimension"`
	MaxBufferSize                   uint64 `json:"maxBufferSize" yaml:"maxBufferSize"`
	MaxVertexInputBindings          int    `json:"maxVertexInputBindings" yaml:"maxVertexInputBindings"`
	UMA                             bool   `json:"uma" yaml:"uma"`
	HostVisibleVRAM                 bool   `json:"hostVisibleVRAM" yaml:"hostVisibleVRAM"`
	SupportsStreaming               bool   `json:"supportsStreaming" yaml:"supportsStreaming"`

	Queues     map[string]int `json:"queues" yaml:"queues"`
	Extensions []string       `json:"extensions" yaml:"extensions"`
	Formats    []formatReport `json:"formats,omitempty" yaml:"formats,omitempty"`
}

type formatReport struct {
	Format  string   `json:"format" yaml:"format"`
	Support []string `json:"support" yaml:"support"`
}

var supportNames = [...]struct {
	bit  gpu.FormatSupport
	name string
}{
	{gpu.SupportSampled, "sampled"},
	{gpu.SupportStorage, "storage"},
	{gpu.SupportRenderTarget, "render-target"},
	{gpu.SupportDepthStencil, "depth-stencil"},
	{gpu.SupportUniformTexel, "uniform-texel"},
	{gpu.SupportStorageTexel, "storage-texel"},
	{gpu.SupportVertex, "vertex"},
}

func supportList(s gpu.FormatSupport) []string {
	var names []string
	for _, x := range supportNames {
		if s&x.bit != 0 {
			names = append(names, x.name)
		}
	}
	return names
}

func vendorName(a *gpu.Adapter) string {
	switch {
	case a.IsNVIDIA():
		return "NVIDIA"
	case a.IsAMD():
		return "AMD"
	case a.IsIntel():
		return "Intel"
	}
	return "other"
}

// newReport describes the adapters of inst.
// Format capabilities are included if formats is set.
func newReport(inst *gpu.Instance, formats bool) *report {
	r := &report{Backend: inst.Backend()}
	adapters := make([]*gpu.Adapter, inst.EnumAdapters(nil))
	inst.EnumAdapters(adapters)
	for i, a := range adapters {
		d := a.Detail()
		ar := adapterReport{
			Index:        i,
			Name:         d.Name,
			Vendor:       vendorName(a),
			VendorID:     d.VendorID,
			DeviceID:     d.DeviceID,
			Type:         d.DeviceType.String(),
			FeatureLevel: d.FeatureLevel,

			UniformBufferAlignment:          d.UniformBufferAlignment,
			UploadBufferTextureAlignment:    d.UploadBufferTextureAlignment,
			UploadBufferTextureRowAlignment: d.UploadBufferTextureRowAlignment,
			MaxTextureDimension:             d.MaxTextureDimension,
			MaxBufferSize:                   d.MaxBufferSize,
			MaxVertexInputBindings:          d.MaxVertexInputBindings,
			UMA:                             d.UMA,
			HostVisibleVRAM:                 d.HostVisibleVRAM,
			SupportsStreaming:               d.SupportsStreaming,

			Queues: make(map[string]int),
		}
		for _, t := range gpu.QueueTypes() {
			ar.Queues[t.String()] = a.QueueCount(t)
		}
		ar.Extensions = make([]string, a.EnumExtensions(nil))
		a.EnumExtensions(ar.Extensions)
		if formats {
			for _, f := range gpu.Formats() {
				if s := a.FormatSupport(f); s != 0 {
					ar.Formats = append(ar.Formats, formatReport{f.String(), supportList(s)})
				}
			}
		}
		r.Adapters = append(r.Adapters, ar)
	}
	return r
}
