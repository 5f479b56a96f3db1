package gpu

import (
	"github.com/vkngwrapper/core/v2/core1_0"
)

// BufferMemoryBarrier is a single buffer barrier carrying its own stage masks
type BufferMemoryBarrier struct {
	Buffer              Buffer
	SrcStageMask        core1_0.PipelineStageFlags
	SrcAccessMask       core1_0.AccessFlags
	DstStageMask        core1_0.PipelineStageFlags
	DstAccessMask       core1_0.AccessFlags
	SrcQueueFamilyIndex int
	DstQueueFamilyIndex int
	Offset              uint64
	Size                uint64
}

// ImageMemoryBarrier is a single image barrier carrying its own stage masks
type ImageMemoryBarrier struct {
	Image               Image
	SrcStageMask        core1_0.PipelineStageFlags
	SrcAccessMask       core1_0.AccessFlags
	DstStageMask        core1_0.PipelineStageFlags
	DstAccessMask       core1_0.AccessFlags
	OldLayout           core1_0.ImageLayout
	NewLayout           core1_0.ImageLayout
	SrcQueueFamilyIndex int
	DstQueueFamilyIndex int
	SubresourceRange    ImageSubresourceRange
}

// DependencyInfo is the full set of barriers recorded by one pipeline barrier command
type DependencyInfo struct {
	BufferBarriers []BufferMemoryBarrier
	ImageBarriers  []ImageMemoryBarrier
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type BufferImageCopy struct {
	BufferOffset      uint64
	BufferRowLength   int
	BufferImageHeight int
	ImageSubresource  ImageSubresourceLayers
	ImageOffset       core1_0.Offset3D
	ImageExtent       core1_0.Extent3D
}

// CommandBuffer is a command buffer in the recording state. The resource core only records
// transfers and barriers; drawing and dispatch belong to the renderer.
type CommandBuffer interface {
	Handle() Handle
	Level() core1_0.CommandBufferLevel

	PipelineBarrier(dependency DependencyInfo) error
	CopyBuffer(src Buffer, dst Buffer, regions []BufferCopy) error
	CopyBufferToImage(src Buffer, dst Image, dstLayout core1_0.ImageLayout, regions []BufferImageCopy) error
}
