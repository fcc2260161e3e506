// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package gpu

// Format describes the layout of texels and buffer
// elements.
type Format int

// Formats.
const (
	FormatUndefined Format = iota
	R8Unorm
	RG8Unorm
	RGBA8Unorm
	RGBA8SRGB
	BGRA8Unorm
	BGRA8SRGB
	R16Float
	RG16Float
	RGBA16Float
	R32Uint
	R32Sint
	R32Float
	RG32Float
	RGB32Float
	RGBA32Float
	D16Unorm
	D32Float
	D24UnormS8Uint
	D32FloatS8Uint
	formatN
)

var formatInfo = [formatN]struct {
	name  string
	size  int
	depth bool
}{
	FormatUndefined: {"undefined", 0, false},
	R8Unorm:         {"r8unorm", 1, false},
	RG8Unorm:        {"rg8unorm", 2, false},
	RGBA8Unorm:      {"rgba8unorm", 4, false},
	RGBA8SRGB:       {"rgba8srgb", 4, false},
	BGRA8Unorm:      {"bgra8unorm", 4, false},
	BGRA8SRGB:       {"bgra8srgb", 4, false},
	R16Float:        {"r16float", 2, false},
	RG16Float:       {"rg16float", 4, false},
	RGBA16Float:     {"rgba16float", 8, false},
	R32Uint:         {"r32uint", 4, false},
	R32Sint:         {"r32sint", 4, false},
	R32Float:        {"r32float", 4, false},
	RG32Float:       {"rg32float", 8, false},
	RGB32Float:      {"rgb32float", 12, false},
	RGBA32Float:     {"rgba32float", 16, false},
	D16Unorm:        {"d16unorm", 2, true},
	D32Float:        {"d32float", 4, true},
	D24UnormS8Uint:  {"d24unorms8uint", 4, true},
	D32FloatS8Uint:  {"d32floats8uint", 8, true},
}

func (f Format) valid() bool { return f >= 0 && f < formatN }

func (f Format) String() string {
	if !f.valid() {
		return "invalid"
	}
	return formatInfo[f].name
}

// Size returns the size in bytes of one texel.
// It returns 0 for FormatUndefined.
func (f Format) Size() int {
	if !f.valid() {
		return 0
	}
	return formatInfo[f].size
}

// IsDepth returns whether f has a depth aspect.
func (f Format) IsDepth() bool { return f.valid() && formatInfo[f].depth }

// HasStencil returns whether f has a stencil aspect.
func (f Format) HasStencil() bool { return f == D24UnormS8Uint || f == D32FloatS8Uint }

// Formats returns every defined format but
// FormatUndefined.
func Formats() []Format {
	s := make([]Format, 0, formatN-1)
	for f := FormatUndefined + 1; f < formatN; f++ {
		s = append(s, f)
	}
	return s
}

// ParseFormat returns the format named s.
func ParseFormat(s string) (Format, bool) {
	for f := range formatN {
		if formatInfo[f].name == s {
			return f, true
		}
	}
	return FormatUndefined, false
}
