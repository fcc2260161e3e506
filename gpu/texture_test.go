// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package gpu_test

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/jjzhang166/SakuraEngine/gpu"
)

func TestNewTexture(t *testing.T) {
	e := newEnv(t, basic, nil)
	defer e.destroy()

	tex, err := e.dev.NewTexture(&gpu.TextureDescriptor{
		Name:        "albedo",
		Width:       512,
		Height:      256,
		MipLevels:   10,
		Format:      gpu.RGBA8Unorm,
		Descriptors: gpu.ResourceTexture | gpu.ResourceRenderTarget,
	})
	if err != nil {
		t.Fatalf("Device.NewTexture:\nhave %v\nwant nil", err)
	}
	d := tex.Descriptor()
	if d.Depth != 1 || d.ArraySize != 1 || d.SampleCount != 1 || d.MipLevels != 10 {
		t.Errorf("Texture.Descriptor: unexpected defaults %+v", d)
	}
	if tex.Width() != 512 || tex.Height() != 256 || tex.Format() != gpu.RGBA8Unorm || tex.Device() != e.dev {
		t.Error("Texture: unexpected properties")
	}
	if tex.SwapChain() != nil {
		t.Error("Texture.SwapChain:\nhave non-nil\nwant nil")
	}

	v1, err := tex.NewView(nil)
	if err != nil {
		t.Fatal(err)
	}
	if vd := v1.Descriptor(); vd.Format != gpu.RGBA8Unorm || vd.MipCount != 10 || vd.LayerCount != 1 {
		t.Errorf("TextureView.Descriptor: unexpected defaults %+v", vd)
	}
	v2, err := tex.NewView(&gpu.TextureViewDescriptor{BaseMip: 2, MipCount: 3, Format: gpu.RGBA8SRGB})
	if err != nil {
		t.Fatal(err)
	}
	if v2.Texture() != tex {
		t.Error("TextureView.Texture: unexpected texture")
	}
	mustPanic(t, "Texture.NewView out of range", func() {
		tex.NewView(&gpu.TextureViewDescriptor{BaseMip: 8, MipCount: 3})
	})
	mustPanic(t, "Texture.Destroy with live views", tex.Destroy)
	v1.Destroy()
	v2.Destroy()
	mustPanic(t, "TextureView.Destroy twice", v2.Destroy)
	tex.Destroy()
}

func TestNewTextureFailure(t *testing.T) {
	e := newEnv(t, basic, nil)
	defer e.destroy()

	for _, x := range [...]struct {
		what string
		desc gpu.TextureDescriptor
	}{
		{"zero width", gpu.TextureDescriptor{Format: gpu.RGBA8Unorm}},
		{"undefined format", gpu.TextureDescriptor{Width: 16, Height: 16}},
		{"too large", gpu.TextureDescriptor{Width: 1 << 15, Height: 1, Format: gpu.RGBA8Unorm}},
		{"too many mips", gpu.TextureDescriptor{Width: 16, Height: 16, MipLevels: 6, Format: gpu.RGBA8Unorm}},
		{"sample count", gpu.TextureDescriptor{Width: 16, Height: 16, SampleCount: 3, Format: gpu.RGBA8Unorm}},
		{"render target", gpu.TextureDescriptor{Width: 16, Height: 16, Format: gpu.RGB32Float, Descriptors: gpu.ResourceRenderTarget}},
		{"depth", gpu.TextureDescriptor{Width: 16, Height: 16, Format: gpu.RGBA8Unorm, Descriptors: gpu.ResourceDepthStencil}},
		{"storage", gpu.TextureDescriptor{Width: 16, Height: 16, Format: gpu.BGRA8Unorm, Descriptors: gpu.ResourceRWTexture}},
	} {
		tex, err := e.dev.NewTexture(&x.desc)
		if tex != nil || err == nil {
			t.Errorf("Device.NewTexture (%s):\nhave %v, %v\nwant nil, non-nil", x.what, tex, err)
		}
	}
	_, err := e.dev.NewTexture(&gpu.TextureDescriptor{Width: 16, Height: 16, Format: gpu.RGB32Float, Descriptors: gpu.ResourceRenderTarget})
	if !errors.Is(err, gpu.ErrUnsupported) {
		t.Errorf("Device.NewTexture:\nhave %v\nwant %v", err, gpu.ErrUnsupported)
	}

	depth, err := e.dev.NewTexture(&gpu.TextureDescriptor{
		Width:       1920,
		Height:      1080,
		Format:      gpu.D32Float,
		Descriptors: gpu.ResourceDepthStencil | gpu.ResourceTexture,
		Flags:       gpu.TextureDedicated,
	})
	if err != nil {
		t.Fatalf("Device.NewTexture (depth):\nhave %v\nwant nil", err)
	}
	depth.Destroy()
}

func TestSamplerAndShader(t *testing.T) {
	e := newEnv(t, basic, nil)
	defer e.destroy()

	s, err := e.dev.NewSampler(&gpu.SamplerDescriptor{
		Name:      "linear",
		MinFilter: gpu.FilterLinear,
		MagFilter: gpu.FilterLinear,
		AddressU:  gpu.AddressClampToEdge,
	})
	if err != nil {
		t.Fatal(err)
	}
	if x := s.Descriptor().MaxAnisotropy; x != 1 {
		t.Errorf("Sampler.Descriptor: MaxAnisotropy:\nhave %v\nwant 1", x)
	}
	s.Destroy()
	mustPanic(t, "Sampler.Destroy twice", s.Destroy)

	code := []byte{0x03, 0x02, 0x23, 0x07, 0, 0, 1, 0}
	lib, err := e.dev.NewShaderLibrary(&gpu.ShaderLibraryDescriptor{Name: "vs", Stage: gpu.StageVertex, Code: code})
	if err != nil {
		t.Fatalf("Device.NewShaderLibrary:\nhave %v\nwant nil", err)
	}
	if lib.Name() != "vs" || lib.Stage() != gpu.StageVertex {
		t.Error("ShaderLibrary: unexpected properties")
	}
	lib.Destroy()

	for _, c := range [...][]byte{nil, {1, 2, 3}, {0, 0, 0, 0}, {0x03, 0x02, 0x23, 0x07, 0}} {
		if lib, err := e.dev.NewShaderLibrary(&gpu.ShaderLibraryDescriptor{Code: c}); lib != nil || err == nil {
			t.Errorf("Device.NewShaderLibrary(%v):\nhave %v, %v\nwant nil, non-nil", c, lib, err)
		}
	}
}
