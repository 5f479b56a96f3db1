// Package block sub-allocates variable-sized regions out of one growable device buffer.
package block

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/quartermaster/barrier"
	"github.com/vkngwrapper/quartermaster/deletion"
	"github.com/vkngwrapper/quartermaster/gpu"
	"github.com/vkngwrapper/quartermaster/memutils"
	"golang.org/x/exp/slog"
)

// Allocator hands out blocks of one backing buffer. Allocation is first-fit over the free blocks
// in offset order; when nothing fits, the block is placed at the end and the buffer grows.
//
// Growth is deferred: Allocate only records the new capacity, and the next Update creates the
// larger buffer, records the copy of the live blocks and retires the old buffer through the
// deletion queue. Blocks allocated while a resize is pending should not be written until after
// that Update.
//
// Allocator is not safe for concurrent use.
type Allocator struct {
	logger *slog.Logger
	device gpu.BufferDevice

	usage      core1_0.BufferUsageFlags
	stageMask  core1_0.PipelineStageFlags
	accessMask core1_0.AccessFlags
	flags      gpu.BufferCreateFlags
	name       string

	growthNumerator uint64
	alignment       uint64

	used     blockSet
	free     blockSet
	capacity uint64

	buffer        gpu.Buffer
	resizePending bool
	// copySet is the snapshot of used blocks taken when the pending resize was first queued
	copySet []Block

	barriers barrier.Batch
}

// Buffer is the current backing buffer. It is null until the first Update after the first
// allocation and changes after every Update that materializes a resize.
func (a *Allocator) Buffer() gpu.Buffer {
	return a.buffer
}

// Capacity is the size the backing buffer has, or will have after the pending resize
func (a *Allocator) Capacity() uint64 {
	return a.capacity
}

// ResizePending reports whether the next Update will replace the backing buffer
func (a *Allocator) ResizePending() bool {
	return a.resizePending
}

// grownCapacity is ceil(growthFactor * required)
func (a *Allocator) grownCapacity(required uint64) uint64 {
	return (required*a.growthNumerator + growthPrecision - 1) / growthPrecision
}

// Allocate returns a block of at least size bytes. A size of zero is fatal.
func (a *Allocator) Allocate(size uint64) Block {
	a.logger.Debug("BlockAllocator::Allocate", slog.Uint64("Size", size))

	if size == 0 {
		gpu.Fatalf(a.logger, "%s: cannot allocate a zero-sized block", a.name)
	}
	memutils.DebugCheckPow2(a.alignment, "alignment")
	size = memutils.AlignUp(size, a.alignment)

	block, found := a.free.FirstFit(size)
	if found {
		a.free.Delete(block)
		if block.Size > size {
			a.free.Insert(Block{Offset: block.Offset + size, Size: block.Size - size})
		}

		allocated := Block{Offset: block.Offset, Size: size}
		a.used.Insert(allocated)
		memutils.DebugValidate(a)
		return allocated
	}

	// Nothing fits: place the block at the end, absorbing a free tail if there is one
	offset := a.capacity
	tail, hasTail := a.free.Last()
	if hasTail && tail.End() == a.capacity {
		a.free.Delete(tail)
		offset = tail.Offset
	}

	allocated := Block{Offset: offset, Size: size}
	a.queueResize(allocated.End())
	a.used.Insert(allocated)

	memutils.DebugValidate(a)
	return allocated
}

func (a *Allocator) queueResize(required uint64) {
	newCapacity := a.grownCapacity(required)

	a.logger.Debug("BlockAllocator::queueResize",
		slog.Uint64("OldCapacity", a.capacity),
		slog.Uint64("Required", required),
		slog.Uint64("NewCapacity", newCapacity),
	)

	if !a.resizePending {
		a.copySet = a.used.Slice()
		a.resizePending = true
	}

	if newCapacity > required {
		a.free.Insert(Block{Offset: required, Size: newCapacity - required})
	}
	a.capacity = newCapacity
}

// Free returns a block to the free set, merging it with adjacent free blocks. Freeing a block
// that is not currently allocated, including a second free of the same block, is fatal.
func (a *Allocator) Free(block Block) {
	a.logger.Debug("BlockAllocator::Free", slog.Uint64("Offset", block.Offset), slog.Uint64("Size", block.Size))

	if !a.used.Contains(block) {
		gpu.Fatalf(a.logger, "%s: freeing block at offset %d with size %d which is not allocated", a.name, block.Offset, block.Size)
	}
	a.used.Delete(block)

	merged := block
	previous, hasPrevious := a.free.Before(block.Offset)
	if hasPrevious && previous.End() == block.Offset {
		a.free.Delete(previous)
		merged.Offset = previous.Offset
		merged.Size += previous.Size
	}

	next, hasNext := a.free.At(block.End())
	if hasNext {
		a.free.Delete(next)
		merged.Size += next.Size
	}

	a.free.Insert(merged)
	memutils.DebugValidate(a)
}

// Update materializes a pending resize: it creates the new backing buffer, records the copy of
// every block of the copy snapshot that is still allocated, and pushes destruction of the old
// buffer to the deletion queue. Nothing is recorded when no resize is pending.
func (a *Allocator) Update(cmd gpu.CommandBuffer, deletionQueue *deletion.Queue) {
	if !a.resizePending {
		return
	}

	a.logger.Debug("BlockAllocator::Update", slog.Uint64("Capacity", a.capacity))

	oldBuffer := a.buffer
	newBuffer, res, err := a.device.CreateBuffer(gpu.BufferCreateInfo{
		Size:   a.capacity,
		Usage:  a.usage,
		Memory: gpu.MemoryUsageDeviceLocal,
		Flags:  a.flags,
		Name:   a.name,
	})
	gpu.CheckResult(a.logger, res, err, "BlockAllocator::Update CreateBuffer")

	if !oldBuffer.IsNull() {
		device := a.device
		deletionQueue.Push(func() {
			device.DestroyBuffer(oldBuffer)
		})

		a.recordMigration(cmd, oldBuffer, newBuffer)
	}

	a.buffer = newBuffer
	a.resizePending = false
	a.copySet = nil
}

func (a *Allocator) recordMigration(cmd gpu.CommandBuffer, oldBuffer, newBuffer gpu.Buffer) {
	regions := make([]gpu.BufferCopy, 0, len(a.copySet))
	for _, block := range a.copySet {
		if block.End() > oldBuffer.Size || !a.used.Contains(block) {
			continue
		}

		regions = append(regions, gpu.BufferCopy{
			SrcOffset: block.Offset,
			DstOffset: block.Offset,
			Size:      block.Size,
		})
	}

	if len(regions) == 0 {
		return
	}

	for _, region := range regions {
		a.barriers.WriteBufferBarrier(oldBuffer, barrier.BufferBarrier{
			SrcStageMask:  a.stageMask,
			SrcAccessMask: a.accessMask,
			DstStageMask:  core1_0.PipelineStageTransfer,
			DstAccessMask: core1_0.AccessTransferRead,
			Offset:        region.SrcOffset,
			Size:          region.Size,
		})
	}
	gpu.Check(a.logger, a.barriers.Execute(cmd), "BlockAllocator::Update source barriers")

	gpu.Check(a.logger, cmd.CopyBuffer(oldBuffer, newBuffer, regions), "BlockAllocator::Update CopyBuffer")

	for _, region := range regions {
		a.barriers.WriteBufferBarrier(newBuffer, barrier.BufferBarrier{
			SrcStageMask:  core1_0.PipelineStageTransfer,
			SrcAccessMask: core1_0.AccessTransferWrite,
			DstStageMask:  a.stageMask,
			DstAccessMask: a.accessMask,
			Offset:        region.DstOffset,
			Size:          region.Size,
		})
	}
	gpu.Check(a.logger, a.barriers.Execute(cmd), "BlockAllocator::Update destination barriers")
}

// Destroy destroys the backing buffer immediately and forgets every block
func (a *Allocator) Destroy() {
	if !a.buffer.IsNull() {
		a.device.DestroyBuffer(a.buffer)
	}

	a.buffer = gpu.Buffer{}
	a.used = newBlockSet()
	a.free = newBlockSet()
	a.capacity = 0
	a.resizePending = false
	a.copySet = nil
	a.barriers.Clear()
}

// UsedBlocks returns the allocated blocks in offset order
func (a *Allocator) UsedBlocks() []Block {
	return a.used.Slice()
}

// FreeBlocks returns the free blocks in offset order
func (a *Allocator) FreeBlocks() []Block {
	return a.free.Slice()
}

// Validate checks that the used and free blocks exactly partition [0, Capacity) and that no two
// free blocks are adjacent
func (a *Allocator) Validate() error {
	var offset uint64
	var previousFree bool
	var err error

	visit := func(block Block, free bool) {
		if err != nil {
			return
		}
		if block.Size == 0 {
			err = errors.Wrapf(memutils.PartitionError, "zero-sized block at offset %d", block.Offset)
			return
		}
		if block.Offset != offset {
			err = errors.Wrapf(memutils.PartitionError, "block at offset %d follows range ending at %d", block.Offset, offset)
			return
		}
		if free && previousFree {
			err = errors.Wrapf(memutils.PartitionError, "adjacent free blocks at offset %d", block.Offset)
			return
		}
		offset = block.End()
		previousFree = free
	}

	used := a.used.Slice()
	free := a.free.Slice()
	for len(used) > 0 || len(free) > 0 {
		if len(free) == 0 || (len(used) > 0 && used[0].Offset < free[0].Offset) {
			visit(used[0], false)
			used = used[1:]
		} else {
			visit(free[0], true)
			free = free[1:]
		}
	}

	if err != nil {
		return err
	}
	if offset != a.capacity {
		return errors.Wrapf(memutils.PartitionError, "ranges end at %d but capacity is %d", offset, a.capacity)
	}
	return nil
}

// Statistics fills stats with the current usage of the allocator
func (a *Allocator) Statistics(stats *memutils.DetailedStatistics) {
	stats.Clear()
	if !a.buffer.IsNull() {
		stats.BlockCount = 1
	}
	stats.BlockBytes = a.capacity

	a.used.Each(func(block Block) {
		stats.AddAllocation(block.Size)
	})
	a.free.Each(func(block Block) {
		stats.AddUnusedRange(block.Size)
	})
}

// TotalStatistics sums the statistics of several allocators, such as the vertex and index
// allocators of one scene
func TotalStatistics(allocators ...*Allocator) memutils.DetailedStatistics {
	var total memutils.DetailedStatistics
	total.Clear()

	var stats memutils.DetailedStatistics
	for _, allocator := range allocators {
		allocator.Statistics(&stats)
		total.AddDetailedStatistics(&stats)
	}
	return total
}

// BuildStatsString returns a json document describing the allocator. When detailed is true, every
// used and free block is listed.
func (a *Allocator) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()

	obj := writer.Object()
	obj.Name("Name").String(a.name)
	obj.Name("ResizePending").Bool(a.resizePending)

	var stats memutils.DetailedStatistics
	a.Statistics(&stats)
	statsObj := obj.Name("Total").Object()
	stats.PrintJson(&statsObj)
	statsObj.End()

	if detailed {
		blocks := obj.Name("Blocks").Array()
		a.printBlocks(&blocks)
		blocks.End()
	}

	obj.End()

	return string(writer.Bytes())
}

func (a *Allocator) printBlocks(json *jwriter.ArrayState) {
	printBlock := func(block Block, free bool) {
		obj := json.Object()
		defer obj.End()

		obj.Name("Offset").Float64(float64(block.Offset))
		obj.Name("Size").Float64(float64(block.Size))
		obj.Name("Free").Bool(free)
	}

	used := a.used.Slice()
	free := a.free.Slice()
	for len(used) > 0 || len(free) > 0 {
		if len(free) == 0 || (len(used) > 0 && used[0].Offset < free[0].Offset) {
			printBlock(used[0], false)
			used = used[1:]
		} else {
			printBlock(free[0], true)
			free = free[1:]
		}
	}
}
