// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jjzhang166/SakuraEngine/gpu"
	"github.com/jjzhang166/SakuraEngine/gpu/null"
)

const testBackend = "test-cgpuinfo"

func TestMain(m *testing.M) {
	integrated := null.DefaultAdapter()
	integrated.Detail.Name = "Integrated"
	integrated.Detail.DeviceType = gpu.DeviceIntegrated
	integrated.Detail.VendorID = gpu.VendorIntel
	integrated.Detail.UMA = true
	integrated.Queues = [3]int{1, 0, 0}
	integrated.Extensions = nil
	gpu.Register(null.New(testBackend, null.DefaultAdapter(), integrated))
	os.Exit(m.Run())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestYAML(t *testing.T) {
	out, err := execute(t, "--backend", testBackend)
	require.NoError(t, err)
	var r report
	require.NoError(t, yaml.Unmarshal([]byte(out), &r))
	assert.Equal(t, testBackend, r.Backend)
	require.Len(t, r.Adapters, 2)

	a := r.Adapters[0]
	assert.Equal(t, "Null Device", a.Name)
	assert.Equal(t, map[string]int{"graphics": 1, "compute": 2, "transfer": 2}, a.Queues)
	assert.Equal(t, []string{"VK_KHR_swapchain", "VK_EXT_debug_utils"}, a.Extensions)
	assert.Empty(t, a.Formats)

	b := r.Adapters[1]
	assert.Equal(t, 1, b.Index)
	assert.Equal(t, "Intel", b.Vendor)
	assert.Equal(t, "integrated", b.Type)
	assert.True(t, b.UMA)
	assert.Zero(t, b.Queues["transfer"])
	assert.Empty(t, b.Extensions)
}

func TestJSONFormats(t *testing.T) {
	out, err := execute(t, "-b", testBackend, "--format", "json", "--formats", "--debug")
	require.NoError(t, err)
	var r report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	require.NotEmpty(t, r.Adapters)
	var rgba *formatReport
	for i, f := range r.Adapters[0].Formats {
		assert.NotEmpty(t, f.Support, f.Format)
		if f.Format == gpu.RGBA8Unorm.String() {
			rgba = &r.Adapters[0].Formats[i]
		}
	}
	require.NotNil(t, rgba)
	assert.Contains(t, rgba.Support, "sampled")
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cgpu.toml")
	require.NoError(t, os.WriteFile(path, []byte("[instance]\nbackend = \""+testBackend+"\"\n"), 0o644))
	out, err := execute(t, "--config", path, "--format", "json", "--verbose")
	require.NoError(t, err)
	var r report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, testBackend, r.Backend)

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestBackends(t *testing.T) {
	out, err := execute(t, "backends", "--format", "json")
	require.NoError(t, err)
	var names []string
	require.NoError(t, json.Unmarshal([]byte(out), &names))
	assert.Contains(t, names, testBackend)
	assert.Contains(t, names, null.Name)
}

func TestErrors(t *testing.T) {
	_, err := execute(t, "--backend", testBackend, "--format", "xml")
	assert.Error(t, err)
	_, err = execute(t, "--backend", "no-such-backend")
	assert.ErrorIs(t, err, gpu.ErrNoBackend)
	_, err = execute(t, "extra")
	assert.Error(t, err)
}
