// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package stream_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjzhang166/SakuraEngine/gpu"
	"github.com/jjzhang166/SakuraEngine/gpu/ext/stream"
	"github.com/jjzhang166/SakuraEngine/gpu/null"
)

var (
	streaming = null.New("test-stream-sw", null.DefaultAdapter())
	noStream  = null.New("test-nostream", func() null.AdapterConfig {
		c := null.DefaultAdapter()
		c.Detail.SupportsStreaming = false
		return c
	}())
)

func TestMain(m *testing.M) {
	gpu.Register(streaming)
	gpu.Register(noStream)
	os.Exit(m.Run())
}

func newDevice(t *testing.T, b *null.Backend) (*gpu.Instance, *gpu.Device) {
	t.Helper()
	inst, err := gpu.NewInstance(&gpu.InstanceDescriptor{Backend: b.Name(), EnableDebugLayer: true})
	require.NoError(t, err)
	var a [1]*gpu.Adapter
	require.Equal(t, 1, inst.EnumAdapters(a[:]))
	dev, err := a[0].NewDevice(&gpu.DeviceDescriptor{
		QueueGroups: []gpu.QueueGroup{{Type: gpu.QueueGraphics, Count: 1}},
	})
	require.NoError(t, err)
	return inst, dev
}

func payload(n int) []byte {
	b := bytes.Repeat([]byte("streamed asset data "), n/20+1)
	return b[:n]
}

func TestAvailability(t *testing.T) {
	inst, dev := newDevice(t, noStream)
	defer inst.Destroy()
	defer dev.Destroy()

	assert.Equal(t, stream.AvailabilityNone, stream.Available(dev))
	q, err := stream.NewQueue(dev, &stream.QueueDescriptor{Name: "q"})
	assert.Nil(t, q)
	assert.True(t, errors.Is(err, gpu.ErrUnsupported))
	assert.Zero(t, inst.Registry().Refs(stream.DecompressKey))

	inst2, dev2 := newDevice(t, streaming)
	defer inst2.Destroy()
	defer dev2.Destroy()
	assert.Equal(t, stream.AvailabilitySoftware, stream.Available(dev2))
}

func TestDecompressService(t *testing.T) {
	inst, _ := gpu.NewInstance(&gpu.InstanceDescriptor{Backend: streaming.Name()})
	defer inst.Destroy()

	a := stream.NewDecompressService(inst)
	b := stream.NewDecompressService(inst)
	require.Same(t, a, b)
	assert.Equal(t, 2, inst.Registry().Refs(stream.DecompressKey))

	data := payload(1000)
	lz, err := stream.CompressLZ4(data)
	require.NoError(t, err)
	dst := make([]byte, len(data))
	n, err := a.Decompress(stream.CompressionLZ4, dst, lz)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, dst)

	_, err = a.Decompress(stream.CompressionNone, dst[:10], data)
	assert.Error(t, err)

	custom := stream.CompressionCustom + 1
	_, err = a.Decompress(custom, dst, data)
	assert.True(t, errors.Is(err, stream.ErrNoDecompressor))
	reverse := func(dst, src []byte) (int, error) {
		for i := range src {
			dst[len(src)-1-i] = src[i]
		}
		return len(src), nil
	}
	assert.True(t, a.RegisterCallback(custom, reverse))
	assert.False(t, a.RegisterCallback(custom, reverse))
	assert.False(t, a.RegisterCallback(stream.CompressionLZ4, reverse))
	n, err = b.Decompress(custom, dst[:3], []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "cba", string(dst[:n]))

	a.Destroy()
	assert.Equal(t, 1, inst.Registry().Refs(stream.DecompressKey))
	b.Destroy()
	assert.Zero(t, inst.Registry().Refs(stream.DecompressKey))
	_, err = b.Decompress(stream.CompressionNone, dst, dst)
	assert.Error(t, err)
}

func TestStagingSize(t *testing.T) {
	inst, _ := gpu.NewInstance(&gpu.InstanceDescriptor{Backend: streaming.Name()})
	defer inst.Destroy()

	assert.Equal(t, uint64(stream.DefaultStagingSize), stream.StagingSize(inst))
	stream.SetStagingSize(inst, 4096)
	stream.SetStagingSize(inst, 1024)
	assert.Equal(t, uint64(1024), stream.StagingSize(inst))
	assert.Equal(t, 1, inst.Registry().Refs(stream.FactoryKey))
}

func TestCapacity(t *testing.T) {
	inst, dev := newDevice(t, streaming)
	defer inst.Destroy()
	defer dev.Destroy()

	for _, x := range [...]struct{ in, want int }{
		{0, stream.MinCapacity},
		{1, stream.MinCapacity},
		{0x400, 0x400},
		{1 << 20, stream.MaxCapacity},
	} {
		q, err := stream.NewQueue(dev, &stream.QueueDescriptor{Capacity: x.in, Source: stream.SourceMemory})
		require.NoError(t, err)
		assert.Equal(t, x.want, q.Descriptor().Capacity)
		q.Destroy()
	}

	q, err := stream.NewQueue(dev, &stream.QueueDescriptor{Source: stream.SourceMemory})
	require.NoError(t, err)
	defer q.Destroy()
	dst := make([]byte, stream.MinCapacity)
	for i := range stream.MinCapacity {
		require.NoError(t, q.Enqueue(stream.Request{Memory: []byte{1}, Dest: dst[i : i+1]}))
	}
	assert.ErrorIs(t, q.Enqueue(stream.Request{Memory: []byte{1}, Dest: dst[:1]}), stream.ErrQueueFull)
	assert.Equal(t, stream.MinCapacity, q.Len())
	assert.Error(t, q.Enqueue(stream.Request{Memory: []byte{1}}))

	require.NoError(t, q.Submit(context.Background()))
	assert.Zero(t, q.Len())
	assert.Equal(t, bytes.Repeat([]byte{1}, stream.MinCapacity), dst)
}

func TestMemorySource(t *testing.T) {
	inst, dev := newDevice(t, streaming)
	defer inst.Destroy()
	defer dev.Destroy()

	q, err := stream.NewQueue(dev, &stream.QueueDescriptor{
		Name:     "memory",
		Source:   stream.SourceMemory,
		Priority: stream.PriorityHigh,
	})
	require.NoError(t, err)
	defer q.Destroy()

	data := payload(4096)
	lz, err := stream.CompressLZ4(data)
	require.NoError(t, err)
	buf, err := dev.NewBuffer(&gpu.BufferDescriptor{
		Size:        8192,
		MemoryUsage: gpu.MemoryCPUToGPU,
		Flags:       gpu.BufferPersistentMap,
	})
	require.NoError(t, err)
	defer buf.Destroy()
	plain := make([]byte, 100)

	var done atomic.Int32
	complete := func(_ *stream.Request, err error) {
		assert.NoError(t, err)
		done.Add(1)
	}
	require.NoError(t, q.Enqueue(stream.Request{
		Name:             "compressed",
		Memory:           lz,
		Compression:      stream.CompressionLZ4,
		UncompressedSize: int64(len(data)),
		Buffer:           buf,
		BufferOffset:     1024,
		OnComplete:       complete,
	}))
	require.NoError(t, q.Enqueue(stream.Request{
		Name:       "range",
		Memory:     data,
		Offset:     20,
		Size:       100,
		Dest:       plain,
		OnComplete: complete,
	}))
	require.NoError(t, q.Submit(context.Background()))
	assert.Equal(t, int32(2), done.Load())
	assert.Equal(t, data, buf.Mapped()[1024:1024+len(data)])
	assert.Equal(t, data[20:120], plain)
}

func TestFileSource(t *testing.T) {
	inst, dev := newDevice(t, streaming)
	defer inst.Destroy()
	defer dev.Destroy()

	data := payload(3000)
	path := filepath.Join(t.TempDir(), "asset.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	q, err := stream.NewQueue(dev, &stream.QueueDescriptor{Name: "file", Priority: stream.PriorityLow})
	require.NoError(t, err)
	defer q.Destroy()

	whole := make([]byte, len(data))
	part := make([]byte, 500)
	require.NoError(t, q.Enqueue(stream.Request{File: path, Dest: whole}))
	require.NoError(t, q.Enqueue(stream.Request{File: path, Offset: 1000, Size: 500, Dest: part}))
	require.NoError(t, q.Submit(context.Background()))
	assert.Equal(t, data, whole)
	assert.Equal(t, data[1000:1500], part)

	var got error
	require.NoError(t, q.Enqueue(stream.Request{
		Name:       "missing",
		File:       filepath.Join(t.TempDir(), "missing.bin"),
		Dest:       whole,
		OnComplete: func(_ *stream.Request, err error) { got = err },
	}))
	err = q.Submit(context.Background())
	assert.Error(t, err)
	assert.ErrorIs(t, got, os.ErrNotExist)
}

func TestUpload(t *testing.T) {
	inst, dev := newDevice(t, streaming)
	defer inst.Destroy()
	defer dev.Destroy()
	stream.SetStagingSize(inst, 256)

	dst, err := dev.NewBuffer(&gpu.BufferDescriptor{Size: 1000, MemoryUsage: gpu.MemoryGPUOnly})
	require.NoError(t, err)
	defer dst.Destroy()
	data := payload(1000)
	lz, err := stream.CompressLZ4(data)
	require.NoError(t, err)
	req := stream.Request{
		Memory:           lz,
		Compression:      stream.CompressionLZ4,
		UncompressedSize: int64(len(data)),
		Buffer:           dst,
	}

	noUpload, err := stream.NewQueue(dev, &stream.QueueDescriptor{Source: stream.SourceMemory})
	require.NoError(t, err)
	defer noUpload.Destroy()
	require.NoError(t, noUpload.Enqueue(req))
	assert.ErrorIs(t, noUpload.Submit(context.Background()), gpu.ErrUnsupported)

	gfx, err := dev.Queue(gpu.QueueGraphics, 0)
	require.NoError(t, err)
	defer gfx.Destroy()
	q, err := stream.NewQueue(dev, &stream.QueueDescriptor{Source: stream.SourceMemory, Upload: gfx})
	require.NoError(t, err)
	defer q.Destroy()
	require.NoError(t, q.Enqueue(req))
	require.NoError(t, q.Submit(context.Background()))

	// Read back.
	rb, err := dev.NewBuffer(&gpu.BufferDescriptor{
		Size:        1000,
		MemoryUsage: gpu.MemoryGPUToCPU,
		Flags:       gpu.BufferPersistentMap,
	})
	require.NoError(t, err)
	defer rb.Destroy()
	pool, err := gfx.NewCommandPool(&gpu.CommandPoolDescriptor{Name: "readback"})
	require.NoError(t, err)
	defer pool.Destroy()
	cb, err := pool.NewCommandBuffer(nil)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	cb.CopyBuffer(rb, 0, dst, 0, 1000)
	require.NoError(t, cb.End())
	require.NoError(t, gfx.Submit(&gpu.SubmitDescriptor{CommandBuffers: []*gpu.CommandBuffer{cb}}))
	assert.Equal(t, data, rb.Mapped()[:1000])
}

func TestCanceled(t *testing.T) {
	inst, dev := newDevice(t, streaming)
	defer inst.Destroy()
	defer dev.Destroy()

	q, err := stream.NewQueue(dev, &stream.QueueDescriptor{Source: stream.SourceMemory})
	require.NoError(t, err)
	defer q.Destroy()

	var errs atomic.Int32
	for range 4 {
		require.NoError(t, q.Enqueue(stream.Request{
			Memory: []byte("x"),
			Dest:   make([]byte, 1),
			OnComplete: func(_ *stream.Request, err error) {
				if err != nil {
					errs.Add(1)
				}
			},
		}))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Submit(ctx), context.Canceled)
	assert.Equal(t, int32(4), errs.Load())
}

func TestDestroyReleases(t *testing.T) {
	inst, dev := newDevice(t, streaming)
	defer inst.Destroy()
	defer dev.Destroy()

	q1, err := stream.NewQueue(dev, &stream.QueueDescriptor{})
	require.NoError(t, err)
	q2, err := stream.NewQueue(dev, &stream.QueueDescriptor{})
	require.NoError(t, err)
	assert.Same(t, q1.Decompressor(), q2.Decompressor())
	assert.Equal(t, 2, inst.Registry().Refs(stream.DecompressKey))

	require.NoError(t, q1.Enqueue(stream.Request{File: "unused", Dest: []byte{0}}))
	q1.Destroy()
	q2.Destroy()
	_, ok := inst.Registry().Lookup(stream.DecompressKey)
	assert.False(t, ok)
}
