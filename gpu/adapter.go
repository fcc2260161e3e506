// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package gpu

import (
	log "github.com/sirupsen/logrus"
)

// Adapter is a physical device exposed by an instance.
// Everything it reports is read once and never changes.
type Adapter struct {
	inst   *Instance
	native Native
	detail AdapterDetail
	queues [queueTypeN]int
	exts   []string
}

func newAdapter(inst *Instance, a Native) *Adapter {
	ad := &Adapter{
		inst:   inst,
		native: a,
		detail: inst.procs.QueryAdapterDetail(a),
		exts:   inst.procs.QueryExtensions(a),
	}
	for _, t := range QueueTypes() {
		ad.queues[t] = max(0, inst.procs.QueryQueueCount(a, t))
	}
	return ad
}

// Instance returns the instance that a belongs to.
func (a *Adapter) Instance() *Instance { return a.inst }

// Detail returns a description of the adapter.
func (a *Adapter) Detail() AdapterDetail { return a.detail }

// QueueCount returns the maximum number of queues of the
// given type that a device created from a can have.
func (a *Adapter) QueueCount(typ QueueType) int {
	if typ < 0 || typ >= queueTypeN {
		return 0
	}
	return a.queues[typ]
}

// FormatSupport returns the capabilities of f on a.
func (a *Adapter) FormatSupport(f Format) FormatSupport {
	if f == FormatUndefined || !f.valid() {
		return 0
	}
	return a.inst.procs.QueryFormatSupport(a.native, f)
}

// EnumExtensions writes the names of the extensions that
// a supports into dst and returns how many were written.
// If dst is nil, it returns the number of extensions
// instead.
func (a *Adapter) EnumExtensions(dst []string) int {
	if dst == nil {
		return len(a.exts)
	}
	return copy(dst, a.exts)
}

// HasExtension returns whether a supports the named
// extension.
func (a *Adapter) HasExtension(name string) bool {
	for _, e := range a.exts {
		if e == name {
			return true
		}
	}
	return false
}

// IsNVIDIA returns whether a is an NVIDIA device.
func (a *Adapter) IsNVIDIA() bool { return a.detail.VendorID == VendorNVIDIA }

// IsAMD returns whether a is an AMD device.
func (a *Adapter) IsAMD() bool { return a.detail.VendorID == VendorAMD }

// IsIntel returns whether a is an Intel device.
func (a *Adapter) IsIntel() bool { return a.detail.VendorID == VendorIntel }

// NewDevice creates a logical device.
// Queue counts are clamped to what a supports; groups
// left empty are not created. A device without transfer
// queues uses its first graphics queue for transfers.
// A nil desc (or one with no groups) requests a single
// graphics queue.
func (a *Adapter) NewDevice(desc *DeviceDescriptor) (*Device, error) {
	inst := a.inst
	inst.assertf(!inst.destroyed, "NewDevice on destroyed instance")
	var groups []QueueGroup
	if desc == nil || len(desc.QueueGroups) == 0 {
		groups = []QueueGroup{{Type: QueueGraphics, Count: 1}}
	} else {
		groups = desc.QueueGroups
	}

	var counts [queueTypeN]int
	var seen [queueTypeN]bool
	clamped := DeviceDescriptor{QueueGroups: make([]QueueGroup, 0, len(groups))}
	for _, g := range groups {
		inst.assertf(g.Type >= 0 && g.Type < queueTypeN, "invalid queue type %d", g.Type)
		if g.Type < 0 || g.Type >= queueTypeN {
			continue
		}
		inst.assertf(!seen[g.Type], "duplicate %s queue group", g.Type)
		seen[g.Type] = true
		n := min(max(g.Count, 0), a.queues[g.Type])
		if n < g.Count {
			log.WithFields(log.Fields{
				"backend":   inst.backend,
				"queue":     g.Type.String(),
				"requested": g.Count,
				"available": n,
			}).Debug("queue count clamped")
		}
		if n == 0 {
			continue
		}
		counts[g.Type] = n
		clamped.QueueGroups = append(clamped.QueueGroups, QueueGroup{Type: g.Type, Count: n})
	}
	if len(clamped.QueueGroups) == 0 {
		return nil, inst.creationFailed("device", a.detail.Name, ErrNoQueue)
	}

	d, err := inst.procs.CreateDevice(a.native, &clamped)
	if err != nil {
		return nil, inst.creationFailed("device", a.detail.Name, err)
	}
	inst.mu.Lock()
	inst.devices++
	inst.mu.Unlock()
	return &Device{
		adapter: a,
		native:  d,
		groups:  counts,
		queues:  make(map[queueKey]*Queue),
	}, nil
}
