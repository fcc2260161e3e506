// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package stream

import (
	"bytes"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/pierrec/lz4"
	log "github.com/sirupsen/logrus"

	"github.com/jjzhang166/SakuraEngine/gpu"
)

// DecompressKey is the key of the DecompressService in the
// registry of an instance.
const DecompressKey = "gpu.stream.decompress"

// Compression identifies the format of compressed data.
// Values from CompressionCustom on are free for
// application formats.
type Compression int

// Compression formats.
const (
	CompressionNone Compression = iota
	// LZ4 frame format.
	CompressionLZ4
	CompressionCustom Compression = 128
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	}
	return "custom"
}

// DecompressFunc decompresses src into dst, which has the
// uncompressed size, and returns the number of bytes
// written.
type DecompressFunc func(dst, src []byte) (int, error)

// ErrNoDecompressor means that no callback is registered
// for a compression format.
var ErrNoDecompressor = errors.New("stream: no decompressor for format")

// DecompressService decompresses data for the streaming
// queues of an instance.
// It is shared: every NewDecompressService call on the
// same instance returns the same service, and must be
// paired with a call to Destroy.
type DecompressService struct {
	inst *gpu.Instance

	mu     sync.RWMutex
	funcs  map[Compression]DecompressFunc
	closed bool
}

// NewDecompressService returns the decompression service
// of inst, creating it if needed.
// CompressionNone and CompressionLZ4 are always
// registered.
func NewDecompressService(inst *gpu.Instance) *DecompressService {
	s, _ := inst.Registry().Acquire(DecompressKey, func() (gpu.Service, error) {
		return &DecompressService{
			inst: inst,
			funcs: map[Compression]DecompressFunc{
				CompressionNone: decompressNone,
				CompressionLZ4:  decompressLZ4,
			},
		}, nil
	})
	return s.(*DecompressService)
}

func decompressNone(dst, src []byte) (int, error) {
	if len(src) != len(dst) {
		return 0, errors.Newf("stream: %d bytes for destination of %d", len(src), len(dst))
	}
	return copy(dst, src), nil
}

func decompressLZ4(dst, src []byte) (int, error) {
	n, err := io.ReadFull(lz4.NewReader(bytes.NewReader(src)), dst)
	if err != nil {
		return n, errors.Wrap(err, "stream: lz4")
	}
	return n, nil
}

// CompressLZ4 compresses src in the format that
// CompressionLZ4 expects.
func CompressLZ4(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RegisterCallback registers fn as the decompressor of c.
// It returns false if c already has one.
func (s *DecompressService) RegisterCallback(c Compression, fn DecompressFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.funcs[c]; ok || fn == nil {
		return false
	}
	s.funcs[c] = fn
	log.WithFields(log.Fields{"service": DecompressKey, "format": int(c)}).Debug("decompressor registered")
	return true
}

// Decompress decompresses src into dst.
func (s *DecompressService) Decompress(c Compression, dst, src []byte) (int, error) {
	s.mu.RLock()
	fn, ok := s.funcs[c]
	closed := s.closed
	s.mu.RUnlock()
	switch {
	case closed:
		return 0, errors.New("stream: decompress service closed")
	case !ok:
		return 0, errors.Wrapf(ErrNoDecompressor, "%v (%d)", c, int(c))
	}
	return fn(dst, src)
}

// Close implements gpu.Service.
func (s *DecompressService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.funcs = nil
}

// Destroy releases a reference to s.
func (s *DecompressService) Destroy() {
	if s == nil {
		return
	}
	s.inst.Registry().Release(DecompressKey)
}
