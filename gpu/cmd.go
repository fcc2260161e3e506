// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package gpu

// CommandPool allocates command buffers for one queue.
type CommandPool struct {
	queue  *Queue
	native Native
	// Incremented on every reset.
	gen       uint64
	buffers   map[*CommandBuffer]struct{}
	destroyed bool
}

// NewCommandPool creates a new command pool.
func (q *Queue) NewCommandPool(desc *CommandPoolDescriptor) (*CommandPool, error) {
	d := q.dev
	d.inst().assertf(!q.destroyed, "NewCommandPool on destroyed queue")
	if desc == nil {
		desc = &CommandPoolDescriptor{}
	}
	p, err := d.procs().CreateCommandPool(q.native, desc)
	if err != nil {
		return nil, d.inst().creationFailed("command pool", desc.Name, err)
	}
	d.setName(p, desc.Name)
	d.retain(kindCommandPool)
	return &CommandPool{
		queue:   q,
		native:  p,
		buffers: make(map[*CommandBuffer]struct{}),
	}, nil
}

// Queue returns the queue p belongs to.
func (p *CommandPool) Queue() *Queue { return p.queue }

// NewCommandBuffer allocates a command buffer from p.
func (p *CommandPool) NewCommandBuffer(desc *CommandBufferDescriptor) (*CommandBuffer, error) {
	d := p.queue.dev
	d.inst().assertf(!p.destroyed, "NewCommandBuffer on destroyed pool")
	if desc == nil {
		desc = &CommandBufferDescriptor{}
	}
	n, err := d.procs().CreateCommandBuffer(p.native, desc)
	if err != nil {
		return nil, d.inst().creationFailed("command buffer", "", err)
	}
	cb := &CommandBuffer{pool: p, native: n, gen: p.gen}
	p.buffers[cb] = struct{}{}
	return cb, nil
}

// Reset resets p.
// Every command buffer recorded from p so far becomes
// stale and must be recorded again before submission.
func (p *CommandPool) Reset() error {
	d := p.queue.dev
	d.inst().assertf(!p.destroyed, "Reset on destroyed pool")
	if err := d.procs().ResetCommandPool(p.native); err != nil {
		return err
	}
	p.gen++
	for cb := range p.buffers {
		cb.recording = false
	}
	return nil
}

// Destroy destroys the pool and every command buffer
// allocated from it.
func (p *CommandPool) Destroy() {
	if p == nil {
		return
	}
	d := p.queue.dev
	d.inst().assertf(!p.destroyed, "command pool destroyed twice")
	for cb := range p.buffers {
		d.procs().FreeCommandBuffer(cb.native)
		cb.destroyed = true
	}
	clear(p.buffers)
	d.procs().FreeCommandPool(p.native)
	p.destroyed = true
	d.release(kindCommandPool)
}

// CommandBuffer records commands for submission.
type CommandBuffer struct {
	pool      *CommandPool
	native    Native
	gen       uint64
	recording bool
	destroyed bool
}

// Pool returns the pool cb was allocated from.
func (cb *CommandBuffer) Pool() *CommandPool { return cb.pool }

// Stale returns whether cb cannot be submitted because it,
// or its pool, was reset or destroyed after it was last
// recorded.
func (cb *CommandBuffer) Stale() bool {
	return cb.destroyed || cb.pool.destroyed || cb.gen != cb.pool.gen
}

// Begin starts recording.
// It clears whatever cb had recorded before.
func (cb *CommandBuffer) Begin() error {
	inst := cb.pool.queue.dev.inst()
	inst.assertf(!cb.destroyed && !cb.pool.destroyed, "Begin on destroyed command buffer")
	inst.assertf(!cb.recording, "Begin on command buffer already recording")
	if err := cb.pool.queue.dev.procs().CmdBegin(cb.native); err != nil {
		return err
	}
	cb.gen = cb.pool.gen
	cb.recording = true
	return nil
}

// End ends recording.
func (cb *CommandBuffer) End() error {
	inst := cb.pool.queue.dev.inst()
	inst.assertf(cb.recording, "End on command buffer not recording")
	if err := cb.pool.queue.dev.procs().CmdEnd(cb.native); err != nil {
		return err
	}
	cb.recording = false
	return nil
}

// CopyBuffer records a copy of size bytes from src at
// srcOff to dst at dstOff.
func (cb *CommandBuffer) CopyBuffer(dst *Buffer, dstOff uint64, src *Buffer, srcOff uint64, size uint64) {
	d := cb.pool.queue.dev
	inst := d.inst()
	inst.assertf(cb.recording, "CopyBuffer on command buffer not recording")
	inst.assertf(dst != nil && src != nil && !dst.destroyed && !src.destroyed, "CopyBuffer with invalid buffer")
	inst.assertf(dst.dev == d && src.dev == d, "CopyBuffer with buffer from another device")
	inst.assertf(dstOff+size <= dst.size && srcOff+size <= src.size, "CopyBuffer out of range")
	d.procs().CmdCopyBuffer(cb.native, dst.native, dstOff, src.native, srcOff, size)
}

// Destroy frees cb.
func (cb *CommandBuffer) Destroy() {
	if cb == nil {
		return
	}
	p := cb.pool
	p.queue.dev.inst().assertf(!cb.destroyed, "command buffer destroyed twice")
	if cb.destroyed {
		return
	}
	p.queue.dev.procs().FreeCommandBuffer(cb.native)
	cb.destroyed = true
	delete(p.buffers, cb)
}
