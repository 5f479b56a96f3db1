// Package command hands out command buffers from one pool per frame in flight and from a global
// pool used for immediate submissions.
package command

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/quartermaster/gpu"
	"golang.org/x/exp/slog"
)

const DefaultFramesInFlight = 2

// Device is the subset of gpu.Device an Allocator needs
type Device interface {
	gpu.CommandDevice
	SetDebugName(handle gpu.Handle, name string)
}

type slot struct {
	buffer gpu.CommandBuffer
	dirty  bool
}

type framePool struct {
	pool  gpu.CommandPool
	slots []slot
}

// Allocator owns the command pools of one queue family.
//
// Buffers from AllocateCommandBuffer are checked out until the next ResetPool of their frame
// slot. Global buffers are checked out until they are handed back with FreeGlobalCommandBuffer;
// the global pool only grows when no freed buffer of the requested level is queued.
//
// Allocator is not safe for concurrent use.
type Allocator struct {
	logger      *slog.Logger
	device      Device
	queueFamily int

	frames []framePool

	globalPool      gpu.CommandPool
	globalAllocated int
	globalFree      map[core1_0.CommandBufferLevel][]gpu.CommandBuffer
	globalOut       map[gpu.Handle]struct{}
}

// New creates framesInFlight resettable pools and the global pool for queueFamily. Zero
// framesInFlight selects DefaultFramesInFlight. Invalid arguments are returned as errors; driver
// failures are fatal.
func New(logger *slog.Logger, device Device, queueFamily int, framesInFlight int) (*Allocator, error) {
	if device == nil {
		return nil, errors.New("command.New requires a device")
	}
	if framesInFlight == 0 {
		framesInFlight = DefaultFramesInFlight
	}
	if framesInFlight < 0 {
		return nil, errors.Newf("frames in flight must be positive, got %d", framesInFlight)
	}
	if queueFamily < 0 {
		return nil, errors.Newf("invalid queue family %d", queueFamily)
	}

	logger = gpu.DiscardLogger(logger)
	allocator := &Allocator{
		logger:      logger,
		device:      device,
		queueFamily: queueFamily,
		frames:      make([]framePool, framesInFlight),
		globalFree:  make(map[core1_0.CommandBufferLevel][]gpu.CommandBuffer),
		globalOut:   make(map[gpu.Handle]struct{}),
	}

	allocator.globalPool = allocator.createPool(
		core1_0.CommandPoolCreateTransient|core1_0.CommandPoolCreateResetBuffer,
		fmt.Sprintf("QueueFamily%d/GlobalCommandPool", queueFamily),
	)

	for i := range allocator.frames {
		allocator.frames[i].pool = allocator.createPool(0, fmt.Sprintf("QueueFamily%d/CommandPool/FIF%d", queueFamily, i))
	}

	return allocator, nil
}

// createPool creates a named pool. A driver failure releases the pools created so far and is
// fatal.
func (a *Allocator) createPool(flags core1_0.CommandPoolCreateFlags, name string) gpu.CommandPool {
	pool, res, err := a.device.CreateCommandPool(gpu.CommandPoolCreateInfo{
		Flags:       flags,
		QueueFamily: a.queueFamily,
		Name:        name,
	})
	if err != nil {
		a.Destroy()
		gpu.CheckResult(a.logger, res, err, "CommandBufferAllocator CreateCommandPool "+name)
	}
	a.device.SetDebugName(pool.Handle, name)
	return pool
}

func (a *Allocator) allocate(pool gpu.CommandPool, level core1_0.CommandBufferLevel, name string) gpu.CommandBuffer {
	buffers, res, err := a.device.AllocateCommandBuffers(pool, level, 1)
	gpu.CheckResult(a.logger, res, err, "CommandBufferAllocator AllocateCommandBuffers")
	if len(buffers) != 1 {
		gpu.Fatalf(a.logger, "expected 1 command buffer from pool %d, got %d", pool.Handle, len(buffers))
	}

	a.device.SetDebugName(buffers[0].Handle(), name)
	return buffers[0]
}

func (a *Allocator) frame(fif int) *framePool {
	if fif < 0 || fif >= len(a.frames) {
		gpu.Fatalf(a.logger, "frame in flight index %d out of range [0, %d)", fif, len(a.frames))
	}
	return &a.frames[fif]
}

func (a *Allocator) QueueFamily() int {
	return a.queueFamily
}

func (a *Allocator) FramesInFlight() int {
	return len(a.frames)
}

// AllocateCommandBuffer checks out the first clean buffer of the requested level in frame slot
// fif, allocating a new one only when every existing buffer is dirty.
func (a *Allocator) AllocateCommandBuffer(fif int, level core1_0.CommandBufferLevel) gpu.CommandBuffer {
	frame := a.frame(fif)

	for i := range frame.slots {
		s := &frame.slots[i]
		if !s.dirty && s.buffer.Level() == level {
			s.dirty = true
			return s.buffer
		}
	}

	name := fmt.Sprintf("QueueFamily%d/CommandBuffer/FIF%d/%d", a.queueFamily, fif, len(frame.slots))
	buffer := a.allocate(frame.pool, level, name)
	frame.slots = append(frame.slots, slot{buffer: buffer, dirty: true})

	a.logger.Debug("CommandBufferAllocator::AllocateCommandBuffer",
		slog.Int("FIF", fif),
		slog.Int("Count", len(frame.slots)),
	)
	return buffer
}

// ResetPool resets every buffer allocated for fif and marks them all clean. Call it once per
// frame, after the frame's fence has signalled.
func (a *Allocator) ResetPool(fif int) {
	frame := a.frame(fif)

	res, err := a.device.ResetCommandPool(frame.pool, 0)
	gpu.CheckResult(a.logger, res, err, "CommandBufferAllocator ResetCommandPool")

	for i := range frame.slots {
		frame.slots[i].dirty = false
	}
}

// AllocateGlobalCommandBuffer returns the oldest freed global buffer of the requested level, or a
// newly allocated one if none is queued
func (a *Allocator) AllocateGlobalCommandBuffer(level core1_0.CommandBufferLevel) gpu.CommandBuffer {
	var buffer gpu.CommandBuffer

	if queue := a.globalFree[level]; len(queue) > 0 {
		buffer = queue[0]
		queue[0] = nil
		a.globalFree[level] = queue[1:]
	} else {
		name := fmt.Sprintf("QueueFamily%d/GlobalCommandBuffer/%d", a.queueFamily, a.globalAllocated)
		buffer = a.allocate(a.globalPool, level, name)
		a.globalAllocated++
	}

	a.globalOut[buffer.Handle()] = struct{}{}
	return buffer
}

// FreeGlobalCommandBuffer queues buffer for reuse. Freeing a buffer that is not checked out is fatal.
func (a *Allocator) FreeGlobalCommandBuffer(buffer gpu.CommandBuffer) {
	if buffer == nil {
		gpu.Fatalf(a.logger, "freeing a nil global command buffer")
	}

	handle := buffer.Handle()
	if _, ok := a.globalOut[handle]; !ok {
		gpu.Fatalf(a.logger, "global command buffer %d is not checked out", handle)
	}
	delete(a.globalOut, handle)

	a.globalFree[buffer.Level()] = append(a.globalFree[buffer.Level()], buffer)
}

// Destroy resets every pool with ReleaseResources and destroys it
func (a *Allocator) Destroy() {
	if a.globalPool.Handle != gpu.NullHandle {
		res, err := a.device.ResetCommandPool(a.globalPool, core1_0.CommandPoolResetReleaseResources)
		gpu.CheckResult(a.logger, res, err, "CommandBufferAllocator ResetCommandPool")
		a.device.DestroyCommandPool(a.globalPool)
		a.globalPool = gpu.CommandPool{}
	}

	for i := range a.frames {
		frame := &a.frames[i]
		if frame.pool.Handle == gpu.NullHandle {
			continue
		}

		res, err := a.device.ResetCommandPool(frame.pool, core1_0.CommandPoolResetReleaseResources)
		gpu.CheckResult(a.logger, res, err, "CommandBufferAllocator ResetCommandPool")
		a.device.DestroyCommandPool(frame.pool)

		frame.pool = gpu.CommandPool{}
		frame.slots = nil
	}

	a.globalAllocated = 0
	a.globalFree = make(map[core1_0.CommandBufferLevel][]gpu.CommandBuffer)
	a.globalOut = make(map[gpu.Handle]struct{})
}

func (a *Allocator) BuildStatsString() string {
	writer := jwriter.NewWriter()
	obj := writer.Object()
	obj.Name("QueueFamily").Int(a.queueFamily)

	frames := obj.Name("Frames").Array()
	for _, frame := range a.frames {
		dirty := 0
		for _, s := range frame.slots {
			if s.dirty {
				dirty++
			}
		}

		frameObj := frames.Object()
		frameObj.Name("Allocated").Int(len(frame.slots))
		frameObj.Name("InUse").Int(dirty)
		frameObj.End()
	}
	frames.End()

	free := 0
	for _, queue := range a.globalFree {
		free += len(queue)
	}

	global := obj.Name("Global").Object()
	global.Name("Allocated").Int(a.globalAllocated)
	global.Name("InUse").Int(len(a.globalOut))
	global.Name("Free").Int(free)
	global.End()

	obj.End()
	return string(writer.Bytes())
}
