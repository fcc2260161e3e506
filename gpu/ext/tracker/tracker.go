// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package tracker implements GPU crash tracking as an
// extension service.
// Trackers record labelled markers while the application
// runs; when a device is lost, every tracker of the
// instance produces a compressed crash dump.
package tracker

import (
	"bytes"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pierrec/lz4"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/jjzhang166/SakuraEngine/gpu"
)

// ServiceKey is the key of the Hub in the registry of an
// instance.
const ServiceKey = "gpu.tracker"

// DefaultMarkers is the number of markers kept when
// Descriptor.MaxMarkers is not set.
const DefaultMarkers = 256

// Descriptor describes a Tracker.
type Descriptor struct {
	Name string
	// Number of most recent markers kept.
	MaxMarkers int
	// Whether to track on adapters of any vendor.
	// By default, tracking requires an NVIDIA adapter.
	AnyVendor bool
	// OnCrashDump receives the crash dump of the tracker.
	// It is called from the goroutine that calls
	// Hub.DeviceLost.
	OnCrashDump func(t *Tracker, dump []byte)
}

// Marker is a labelled point in the command stream.
type Marker struct {
	Seq   uint64    `yaml:"seq"`
	Label string    `yaml:"label"`
	Time  time.Time `yaml:"time"`
}

// Hub is the service shared by the trackers of an
// instance.
type Hub struct {
	mu       sync.Mutex
	trackers []*Tracker
	closed   bool
}

// Close implements gpu.Service.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trackers = nil
	h.closed = true
}

// Closed returns whether the hub was torn down.
func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Trackers returns the live trackers of the hub.
func (h *Hub) Trackers() []*Tracker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.trackers)
}

func (h *Hub) add(t *Tracker) {
	h.mu.Lock()
	h.trackers = append(h.trackers, t)
	h.mu.Unlock()
}

func (h *Hub) remove(t *Tracker) {
	h.mu.Lock()
	h.trackers = slices.DeleteFunc(h.trackers, func(x *Tracker) bool { return x == t })
	h.mu.Unlock()
}

// DeviceLost makes every tracker of the hub produce a
// crash dump describing cause.
// It returns the number of dumps delivered.
func (h *Hub) DeviceLost(cause error) int {
	n := 0
	for _, t := range h.Trackers() {
		dump, err := t.Dump(cause)
		if err != nil {
			log.WithField("tracker", t.desc.Name).WithError(err).Error("crash dump failed")
			continue
		}
		if t.desc.OnCrashDump != nil {
			t.desc.OnCrashDump(t, dump)
			n++
		}
	}
	log.WithFields(log.Fields{"dumps": n, "cause": cause}).Warn("[!] device lost")
	return n
}

// HubOf returns the hub of inst, if it has one.
func HubOf(inst *gpu.Instance) (*Hub, bool) {
	s, ok := inst.Registry().Lookup(ServiceKey)
	if !ok {
		return nil, false
	}
	h, ok := s.(*Hub)
	return h, ok
}

// Tracker records markers.
type Tracker struct {
	inst *gpu.Instance
	hub  *Hub
	desc Descriptor

	mu   sync.Mutex
	ring []Marker
	seq  uint64
}

// Available returns whether trackers can be created on
// inst with desc.
func Available(inst *gpu.Instance, desc *Descriptor) bool {
	if desc != nil && desc.AnyVendor {
		return true
	}
	as := make([]*gpu.Adapter, inst.EnumAdapters(nil))
	inst.EnumAdapters(as)
	return slices.ContainsFunc(as, (*gpu.Adapter).IsNVIDIA)
}

// New creates a tracker and adds it to the hub of inst,
// creating the hub if needed.
// It returns false if tracking is not available, in which
// case nothing is registered.
func New(inst *gpu.Instance, desc *Descriptor) (*Tracker, bool) {
	if !Available(inst, desc) {
		log.WithField("service", ServiceKey).Debug("no adapter supports crash tracking")
		return nil, false
	}
	var d Descriptor
	if desc != nil {
		d = *desc
	}
	if d.MaxMarkers <= 0 {
		d.MaxMarkers = DefaultMarkers
	}
	s, err := inst.Registry().Acquire(ServiceKey, func() (gpu.Service, error) {
		return &Hub{}, nil
	})
	if err != nil {
		return nil, false
	}
	t := &Tracker{
		inst: inst,
		hub:  s.(*Hub),
		desc: d,
		ring: make([]Marker, 0, d.MaxMarkers),
	}
	t.hub.add(t)
	return t, true
}

// Hub returns the hub that t belongs to, or nil once t
// is destroyed.
func (t *Tracker) Hub() *Hub {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hub
}

// Name returns the name of the tracker.
func (t *Tracker) Name() string { return t.desc.Name }

// Mark records a marker.
// The oldest marker is dropped when the tracker is full.
func (t *Tracker) Mark(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	m := Marker{Seq: t.seq, Label: label, Time: time.Now()}
	if len(t.ring) < cap(t.ring) {
		t.ring = append(t.ring, m)
		return
	}
	t.ring[(t.seq-1)%uint64(cap(t.ring))] = m
}

// Markers returns the recorded markers, oldest first.
func (t *Tracker) Markers() []Marker {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := make([]Marker, 0, len(t.ring))
	if len(t.ring) < cap(t.ring) {
		return append(s, t.ring...)
	}
	i := int(t.seq % uint64(cap(t.ring)))
	s = append(s, t.ring[i:]...)
	return append(s, t.ring[:i]...)
}

// CrashDump is the decoded content of a crash dump.
type CrashDump struct {
	Tracker string   `yaml:"tracker"`
	Backend string   `yaml:"backend"`
	Cause   string   `yaml:"cause"`
	Markers []Marker `yaml:"markers"`
}

// Dump returns the lz4-compressed crash dump of t.
func (t *Tracker) Dump(cause error) ([]byte, error) {
	cd := CrashDump{
		Tracker: t.desc.Name,
		Backend: t.inst.Backend(),
		Markers: t.Markers(),
	}
	if cause != nil {
		cd.Cause = cause.Error()
	}
	raw, err := yaml.Marshal(&cd)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadDump decodes a crash dump produced by Dump.
func ReadDump(dump []byte) (*CrashDump, error) {
	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(dump)))
	if err != nil {
		return nil, errors.Wrap(err, "tracker: decompress crash dump")
	}
	var cd CrashDump
	if err := yaml.Unmarshal(raw, &cd); err != nil {
		return nil, errors.Wrap(err, "tracker: decode crash dump")
	}
	return &cd, nil
}

// Destroy removes t from its hub.
// The hub is torn down when its last tracker is
// destroyed.
func (t *Tracker) Destroy() {
	if t == nil {
		return
	}
	t.mu.Lock()
	hub := t.hub
	t.hub = nil
	t.mu.Unlock()
	t.inst.Assertf(hub != nil, "tracker %q destroyed twice", t.desc.Name)
	if hub == nil {
		return
	}
	hub.remove(t)
	t.inst.Registry().Release(ServiceKey)
}
