// Package barrier accumulates buffer and image barriers and records them as one pipeline barrier.
package barrier

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/quartermaster/gpu"
)

// BufferBarrier describes a buffer barrier before it is bound to a buffer. A zero Size covers
// the buffer from Offset to its end.
type BufferBarrier struct {
	SrcStageMask  core1_0.PipelineStageFlags
	SrcAccessMask core1_0.AccessFlags
	DstStageMask  core1_0.PipelineStageFlags
	DstAccessMask core1_0.AccessFlags

	// QueueFamilyTransfer enables the queue family ownership transfer described by
	// SrcQueueFamilyIndex and DstQueueFamilyIndex. Both are ignored otherwise.
	QueueFamilyTransfer bool
	SrcQueueFamilyIndex int
	DstQueueFamilyIndex int

	Offset uint64
	Size   uint64
}

// ImageBarrier describes an image barrier before it is bound to an image. A zero LevelCount
// or LayerCount covers every remaining mip level or array layer of the image.
type ImageBarrier struct {
	SrcStageMask  core1_0.PipelineStageFlags
	SrcAccessMask core1_0.AccessFlags
	DstStageMask  core1_0.PipelineStageFlags
	DstAccessMask core1_0.AccessFlags
	OldLayout     core1_0.ImageLayout
	NewLayout     core1_0.ImageLayout

	QueueFamilyTransfer bool
	SrcQueueFamilyIndex int
	DstQueueFamilyIndex int

	BaseMipLevel   int
	LevelCount     int
	BaseArrayLayer int
	LayerCount     int
}

// Batch collects barriers until Execute records them. The zero value is ready to use. A Batch
// is not safe for concurrent use.
type Batch struct {
	bufferBarriers []gpu.BufferMemoryBarrier
	imageBarriers  []gpu.ImageMemoryBarrier
}

func queueFamilies(transfer bool, src, dst int) (int, int) {
	if !transfer {
		return gpu.QueueFamilyIgnored, gpu.QueueFamilyIgnored
	}
	return src, dst
}

// WriteBufferBarrier adds a barrier on buffer and returns the batch for chaining
func (b *Batch) WriteBufferBarrier(buffer gpu.Buffer, barrier BufferBarrier) *Batch {
	size := barrier.Size
	if size == 0 {
		size = gpu.WholeSize
	}

	srcFamily, dstFamily := queueFamilies(barrier.QueueFamilyTransfer, barrier.SrcQueueFamilyIndex, barrier.DstQueueFamilyIndex)

	b.bufferBarriers = append(b.bufferBarriers, gpu.BufferMemoryBarrier{
		Buffer:              buffer,
		SrcStageMask:        barrier.SrcStageMask,
		SrcAccessMask:       barrier.SrcAccessMask,
		DstStageMask:        barrier.DstStageMask,
		DstAccessMask:       barrier.DstAccessMask,
		SrcQueueFamilyIndex: srcFamily,
		DstQueueFamilyIndex: dstFamily,
		Offset:              barrier.Offset,
		Size:                size,
	})

	return b
}

// WriteImageBarrier adds a barrier on image and returns the batch for chaining. The aspect
// comes from the image.
func (b *Batch) WriteImageBarrier(image gpu.Image, barrier ImageBarrier) *Batch {
	levelCount := barrier.LevelCount
	if levelCount == 0 {
		levelCount = image.MipLevels - barrier.BaseMipLevel
	}

	layerCount := barrier.LayerCount
	if layerCount == 0 {
		layerCount = image.ArrayLayers - barrier.BaseArrayLayer
	}

	srcFamily, dstFamily := queueFamilies(barrier.QueueFamilyTransfer, barrier.SrcQueueFamilyIndex, barrier.DstQueueFamilyIndex)

	b.imageBarriers = append(b.imageBarriers, gpu.ImageMemoryBarrier{
		Image:               image,
		SrcStageMask:        barrier.SrcStageMask,
		SrcAccessMask:       barrier.SrcAccessMask,
		DstStageMask:        barrier.DstStageMask,
		DstAccessMask:       barrier.DstAccessMask,
		OldLayout:           barrier.OldLayout,
		NewLayout:           barrier.NewLayout,
		SrcQueueFamilyIndex: srcFamily,
		DstQueueFamilyIndex: dstFamily,
		SubresourceRange: gpu.ImageSubresourceRange{
			AspectMask:     image.Aspect,
			BaseMipLevel:   barrier.BaseMipLevel,
			LevelCount:     levelCount,
			BaseArrayLayer: barrier.BaseArrayLayer,
			LayerCount:     layerCount,
		},
	})

	return b
}

// Execute records every accumulated barrier as a single pipeline barrier and clears the batch.
// Nothing is recorded when the batch is empty.
func (b *Batch) Execute(cmd gpu.CommandBuffer) error {
	if b.IsEmpty() {
		return nil
	}

	dependency := gpu.DependencyInfo{
		BufferBarriers: make([]gpu.BufferMemoryBarrier, len(b.bufferBarriers)),
		ImageBarriers:  make([]gpu.ImageMemoryBarrier, len(b.imageBarriers)),
	}
	copy(dependency.BufferBarriers, b.bufferBarriers)
	copy(dependency.ImageBarriers, b.imageBarriers)

	b.Clear()

	return cmd.PipelineBarrier(dependency)
}

func (b *Batch) Clear() {
	b.bufferBarriers = b.bufferBarriers[:0]
	b.imageBarriers = b.imageBarriers[:0]
}

func (b *Batch) IsEmpty() bool {
	return len(b.bufferBarriers) == 0 && len(b.imageBarriers) == 0
}

// Len is the number of accumulated barriers
func (b *Batch) Len() int {
	return len(b.bufferBarriers) + len(b.imageBarriers)
}
