// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package gpu

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// objectKind identifies the kinds of object whose
// lifetime a Device tracks.
type objectKind int

const (
	kindQueue objectKind = iota
	kindCommandPool
	kindBuffer
	kindTexture
	kindSampler
	kindShaderLibrary
	kindSwapChain
	kindN
)

var kindNames = [kindN]string{
	kindQueue:         "queue",
	kindCommandPool:   "command pool",
	kindBuffer:        "buffer",
	kindTexture:       "texture",
	kindSampler:       "sampler",
	kindShaderLibrary: "shader library",
	kindSwapChain:     "swapchain",
}

type queueKey struct {
	typ   QueueType
	index int
}

// Device is a logical device.
type Device struct {
	adapter *Adapter
	native  Native
	groups  [queueTypeN]int

	mu        sync.Mutex
	queues    map[queueKey]*Queue
	live      [kindN]int
	destroyed bool
}

func (d *Device) inst() *Instance  { return d.adapter.inst }
func (d *Device) procs() ProcTable { return d.adapter.inst.procs }

// Adapter returns the adapter d was created from.
func (d *Device) Adapter() *Adapter { return d.adapter }

// QueueGroupCount returns how many queues of the given
// type d was created with, after clamping.
func (d *Device) QueueGroupCount(typ QueueType) int {
	if typ < 0 || typ >= queueTypeN {
		return 0
	}
	return d.groups[typ]
}

// IsAliased returns whether the queue of the given type
// and index is an alias of a queue of another type.
// This is the case for transfer queue 0 on devices that
// have no transfer queues.
func (d *Device) IsAliased(typ QueueType, index int) bool {
	return typ == QueueTransfer && index == 0 && d.groups[QueueTransfer] == 0 && d.groups[QueueGraphics] > 0
}

// Queue returns the queue of the given type and index.
// Repeated calls return the same *Queue until it is
// destroyed. If d has no transfer queues, Queue(
// QueueTransfer, 0) returns Queue(QueueGraphics, 0).
func (d *Device) Queue(typ QueueType, index int) (*Queue, error) {
	inst := d.inst()
	inst.assertf(!d.destroyed, "Queue on destroyed device")
	inst.assertf(typ >= 0 && typ < queueTypeN, "invalid queue type %d", typ)
	if d.IsAliased(typ, index) {
		return d.Queue(QueueGraphics, 0)
	}
	if typ < 0 || typ >= queueTypeN || index < 0 || index >= d.groups[typ] {
		return nil, errors.Wrapf(ErrNoQueue, "%s queue %d", typ, index)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	key := queueKey{typ, index}
	if q, ok := d.queues[key]; ok {
		return q, nil
	}
	n, err := d.procs().GetQueue(d.native, typ, index)
	if err != nil {
		return nil, inst.creationFailed("queue", typ.String(), err)
	}
	q := &Queue{dev: d, native: n, typ: typ, index: index}
	d.queues[key] = q
	d.live[kindQueue]++
	return q, nil
}

func (d *Device) retain(k objectKind) {
	d.mu.Lock()
	d.live[k]++
	d.mu.Unlock()
}

func (d *Device) release(k objectKind) {
	d.mu.Lock()
	d.live[k]--
	d.mu.Unlock()
}

// setName names obj if resource naming is enabled.
func (d *Device) setName(obj Native, name string) {
	if name != "" && d.inst().desc.EnableResourceNaming {
		d.procs().SetName(d.native, obj, name)
	}
}

// liveObjects describes the objects of d not yet
// destroyed, or returns the empty string if there are
// none.
func (d *Device) liveObjects() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var s []string
	for k, n := range d.live {
		if n != 0 {
			s = append(s, fmt.Sprintf("%d %s(s)", n, kindNames[k]))
		}
	}
	return strings.Join(s, ", ")
}

// Destroy destroys the device.
// Every object created from d must have been destroyed
// already, queues included.
func (d *Device) Destroy() {
	if d == nil {
		return
	}
	inst := d.inst()
	inst.assertf(!d.destroyed, "device destroyed twice")
	live := d.liveObjects()
	inst.assertf(live == "", "device destroyed with live objects: %s", live)
	d.procs().FreeDevice(d.native)
	d.destroyed = true
	inst.mu.Lock()
	inst.devices--
	inst.mu.Unlock()
}

// Queue is a device queue.
type Queue struct {
	dev   *Device
	typ   QueueType
	index int

	// Native queues require external synchronization.
	mu        sync.Mutex
	native    Native
	destroyed bool
}

// Device returns the device q belongs to.
func (q *Queue) Device() *Device { return q.dev }

// Type returns the type of q.
func (q *Queue) Type() QueueType { return q.typ }

// Index returns the index of q in its group.
func (q *Queue) Index() int { return q.index }

// Submit submits command buffers for execution.
// Every command buffer must have been recorded from a pool
// of q, and must not have been invalidated since.
func (q *Queue) Submit(desc *SubmitDescriptor) error {
	inst := q.dev.inst()
	inst.assertf(!q.destroyed, "Submit on destroyed queue")
	if desc == nil || len(desc.CommandBuffers) == 0 {
		return nil
	}
	cmds := make([]Native, len(desc.CommandBuffers))
	for i, cb := range desc.CommandBuffers {
		inst.assertf(cb != nil && cb.pool.queue == q,
			"command buffer %d was not allocated from this queue", i)
		inst.assertf(!cb.Stale(), "command buffer %d is stale", i)
		inst.assertf(!cb.recording, "command buffer %d is still recording", i)
		cmds[i] = cb.native
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dev.procs().SubmitQueue(q.native, cmds)
}

// WaitIdle blocks until q has no pending work.
func (q *Queue) WaitIdle() error {
	q.dev.inst().assertf(!q.destroyed, "WaitIdle on destroyed queue")
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dev.procs().WaitQueueIdle(q.native)
}

// Present presents the back buffer at index of sc.
func (q *Queue) Present(sc *SwapChain, index int) error {
	inst := q.dev.inst()
	inst.assertf(!q.destroyed, "Present on destroyed queue")
	inst.assertf(sc != nil && !sc.destroyed && sc.dev == q.dev, "Present with invalid swapchain")
	inst.assertf(index >= 0 && index < len(sc.images), "back buffer index %d out of range", index)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dev.procs().Present(q.native, sc.native, index)
}

// Destroy releases the queue.
// Destroying an aliased queue through both of its handles
// is a usage error.
func (q *Queue) Destroy() {
	if q == nil {
		return
	}
	d := q.dev
	d.inst().assertf(!q.destroyed, "%s queue %d destroyed twice", q.typ, q.index)
	if q.destroyed {
		return
	}
	d.procs().FreeQueue(q.native)
	q.destroyed = true
	d.mu.Lock()
	delete(d.queues, queueKey{q.typ, q.index})
	d.live[kindQueue]--
	d.mu.Unlock()
}
