// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package stream implements queues that stream data from
// files or memory into buffers, decompressing it on the
// way.
package stream

import (
	"context"
	"io"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jjzhang166/SakuraEngine/gpu"
)

// Availability is the level of streaming support of a
// device.
type Availability int

// Availability levels.
const (
	AvailabilityNone Availability = iota
	// Requests are served by host workers.
	AvailabilitySoftware
)

func (a Availability) String() string {
	if a == AvailabilitySoftware {
		return "software"
	}
	return "none"
}

// Available returns the streaming support of dev.
func Available(dev *gpu.Device) Availability {
	if dev.Adapter().Detail().SupportsStreaming {
		return AvailabilitySoftware
	}
	return AvailabilityNone
}

// Source is where the requests of a queue read from.
type Source int

// Sources.
const (
	SourceFile Source = iota
	SourceMemory
)

func (s Source) String() string {
	if s == SourceMemory {
		return "memory"
	}
	return "file"
}

// Priority is the priority of a queue.
type Priority int

// Priorities.
const (
	PriorityNormal Priority = iota
	PriorityLow
	PriorityHigh
	PriorityRealtime
)

// Queue capacity bounds.
const (
	MinCapacity = 0x80
	MaxCapacity = 0x2000
)

// FactoryKey is the key of the service that holds the
// streaming settings of an instance.
const FactoryKey = "gpu.stream.factory"

// DefaultStagingSize is the staging size of instances
// that never call SetStagingSize.
const DefaultStagingSize = 32 << 20

type factory struct {
	staging atomic.Uint64
}

func (f *factory) Close() {}

func acquireFactory(inst *gpu.Instance) *factory {
	s, _ := inst.Registry().Acquire(FactoryKey, func() (gpu.Service, error) {
		f := &factory{}
		f.staging.Store(DefaultStagingSize)
		return f, nil
	})
	return s.(*factory)
}

// SetStagingSize sets the size of the staging buffers
// used to upload into buffers that the host cannot map.
// The setting applies to queues created afterwards, and
// lasts until inst is destroyed.
func SetStagingSize(inst *gpu.Instance, size uint64) {
	if s, ok := inst.Registry().Lookup(FactoryKey); ok {
		s.(*factory).staging.Store(size)
		return
	}
	acquireFactory(inst).staging.Store(size)
}

// StagingSize returns the staging size of inst.
func StagingSize(inst *gpu.Instance) uint64 {
	if s, ok := inst.Registry().Lookup(FactoryKey); ok {
		return s.(*factory).staging.Load()
	}
	return DefaultStagingSize
}

// QueueDescriptor describes a Queue.
type QueueDescriptor struct {
	Name string
	// Maximum number of pending requests, clamped to
	// [MinCapacity, MaxCapacity].
	Capacity int
	Source   Source
	Priority Priority
	// Queue used to upload into buffers that the host
	// cannot map. The stream queue does not own it.
	// If nil, such destinations are not supported.
	Upload *gpu.Queue
}

// Request describes one transfer.
type Request struct {
	Name string
	// Path of the file to read, for SourceFile queues.
	File string
	// Data to read, for SourceMemory queues.
	Memory []byte
	// Offset and size of the source range. A zero Size
	// reads to the end of the source.
	Offset int64
	Size   int64

	Compression Compression
	// Size of the decompressed data. Zero means the source
	// size, which is only valid for CompressionNone.
	UncompressedSize int64

	// The destination is either a range of Buffer starting
	// at BufferOffset, or Dest.
	Buffer       *gpu.Buffer
	BufferOffset uint64
	Dest         []byte

	// OnComplete, if not nil, is called when the request
	// finishes, from a worker goroutine.
	OnComplete func(r *Request, err error)
}

// ErrQueueFull means that a queue has no room for more
// requests.
var ErrQueueFull = errors.New("stream: queue is full")

// Queue is a streaming queue.
type Queue struct {
	dev     *gpu.Device
	desc    QueueDescriptor
	dec     *DecompressService
	staging uint64
	workers int

	mu      sync.Mutex
	pending []*Request
}

// NewQueue creates a streaming queue on dev.
func NewQueue(dev *gpu.Device, desc *QueueDescriptor) (*Queue, error) {
	if Available(dev) == AvailabilityNone {
		return nil, errors.Wrap(gpu.ErrUnsupported, "stream: device cannot stream")
	}
	d := *desc
	d.Capacity = min(max(d.Capacity, MinCapacity), MaxCapacity)
	inst := dev.Adapter().Instance()
	q := &Queue{
		dev:     dev,
		desc:    d,
		dec:     NewDecompressService(inst),
		staging: StagingSize(inst),
		workers: workers(d.Priority),
	}
	log.WithFields(log.Fields{
		"queue":    d.Name,
		"source":   d.Source,
		"capacity": d.Capacity,
		"workers":  q.workers,
	}).Debug("stream queue created")
	return q, nil
}

// workers returns how many requests of a batch run at the
// same time.
func workers(p Priority) int {
	n := runtime.NumCPU()
	switch p {
	case PriorityLow:
		return 1
	case PriorityNormal:
		return max(n/2, 1)
	}
	return n
}

// Descriptor returns the descriptor of q, with its
// capacity clamped.
func (q *Queue) Descriptor() QueueDescriptor { return q.desc }

// Decompressor returns the decompression service used by
// q.
func (q *Queue) Decompressor() *DecompressService { return q.dec }

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Enqueue adds a request to the pending batch.
// The request is copied.
func (q *Queue) Enqueue(r Request) error {
	if (r.Buffer == nil) == (r.Dest == nil) {
		return errors.New("stream: request needs exactly one destination")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) >= q.desc.Capacity {
		return ErrQueueFull
	}
	q.pending = append(q.pending, &r)
	return nil
}

// Submit processes the pending batch.
// Requests run concurrently and each completion callback
// receives its own result. Submit returns the first error
// and cancels the requests that did not start yet.
func (q *Queue) Submit(ctx context.Context) error {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(q.workers)
	for _, r := range batch {
		g.Go(func() error {
			err := ctx.Err()
			if err == nil {
				err = q.process(r)
			}
			if err != nil {
				err = errors.Wrapf(err, "stream: request %q", r.Name)
			}
			if r.OnComplete != nil {
				r.OnComplete(r, err)
			}
			return err
		})
	}
	return g.Wait()
}

// read returns the source range of r.
func (q *Queue) read(r *Request) ([]byte, error) {
	switch q.desc.Source {
	case SourceMemory:
		if r.Offset < 0 || r.Offset > int64(len(r.Memory)) {
			return nil, errors.Newf("offset %d out of range", r.Offset)
		}
		s := r.Memory[r.Offset:]
		if r.Size > 0 {
			if r.Size > int64(len(s)) {
				return nil, errors.Newf("size %d out of range", r.Size)
			}
			s = s[:r.Size]
		}
		return s, nil
	default:
		f, err := os.Open(r.File)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		size := r.Size
		if size == 0 {
			info, err := f.Stat()
			if err != nil {
				return nil, err
			}
			size = info.Size() - r.Offset
		}
		if size < 0 || r.Offset < 0 {
			return nil, errors.Newf("range [%d, +%d) out of file", r.Offset, size)
		}
		s := make([]byte, size)
		if _, err := f.ReadAt(s, r.Offset); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return s, nil
	}
}

func (q *Queue) process(r *Request) error {
	src, err := q.read(r)
	if err != nil {
		return err
	}
	n := r.UncompressedSize
	if n == 0 {
		if r.Compression != CompressionNone {
			return errors.New("compressed request without uncompressed size")
		}
		n = int64(len(src))
	}
	dst := r.Dest
	if dst != nil {
		if int64(len(dst)) < n {
			return errors.Newf("destination of %d bytes for %d", len(dst), n)
		}
		_, err := q.dec.Decompress(r.Compression, dst[:n], src)
		return err
	}
	if r.BufferOffset+uint64(n) > r.Buffer.Size() {
		return errors.Newf("%d bytes at offset %d exceed buffer size %d", n, r.BufferOffset, r.Buffer.Size())
	}
	data, err := r.Buffer.Map()
	if err == nil {
		defer r.Buffer.Unmap()
		_, err := q.dec.Decompress(r.Compression, data[r.BufferOffset:][:n], src)
		return err
	}
	if !errors.Is(err, gpu.ErrUnsupported) {
		return err
	}
	tmp := make([]byte, n)
	if _, err := q.dec.Decompress(r.Compression, tmp, src); err != nil {
		return err
	}
	return q.upload(r.Buffer, r.BufferOffset, tmp)
}

// upload copies data into dst through a staging buffer,
// in chunks of the staging size.
func (q *Queue) upload(dst *gpu.Buffer, off uint64, data []byte) error {
	uq := q.desc.Upload
	if uq == nil {
		return errors.Wrap(gpu.ErrUnsupported, "buffer is not host visible and the queue has no upload queue")
	}
	chunk := min(q.staging, uint64(len(data)))
	stg, err := q.dev.NewBuffer(&gpu.BufferDescriptor{
		Name:        q.desc.Name + " staging",
		Size:        chunk,
		MemoryUsage: gpu.MemoryCPUToGPU,
		Flags:       gpu.BufferPersistentMap,
	})
	if err != nil {
		return err
	}
	defer stg.Destroy()
	pool, err := uq.NewCommandPool(&gpu.CommandPoolDescriptor{Name: q.desc.Name, Transient: true})
	if err != nil {
		return err
	}
	defer pool.Destroy()
	cb, err := pool.NewCommandBuffer(nil)
	if err != nil {
		return err
	}
	for done := uint64(0); done < uint64(len(data)); {
		n := uint64(copy(stg.Mapped()[:chunk], data[done:]))
		if err := cb.Begin(); err != nil {
			return err
		}
		cb.CopyBuffer(dst, off+done, stg, 0, n)
		if err := cb.End(); err != nil {
			return err
		}
		if err := uq.Submit(&gpu.SubmitDescriptor{CommandBuffers: []*gpu.CommandBuffer{cb}}); err != nil {
			return err
		}
		if err := uq.WaitIdle(); err != nil {
			return err
		}
		done += n
	}
	return nil
}

// Destroy destroys the queue.
// Pending requests are dropped.
func (q *Queue) Destroy() {
	if q == nil {
		return
	}
	q.mu.Lock()
	if n := len(q.pending); n > 0 {
		log.WithField("queue", q.desc.Name).Warnf("[!] %d pending request(s) dropped", n)
	}
	q.pending = nil
	q.mu.Unlock()
	q.dec.Destroy()
}
