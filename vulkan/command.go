package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/quartermaster/gpu"
)

func (d *Device) CreateCommandPool(info gpu.CommandPoolCreateInfo) (gpu.CommandPool, common.VkResult, error) {
	pool, res, err := d.device.CreateCommandPool(d.allocationCallbacks, core1_0.CommandPoolCreateInfo{
		Flags:            info.Flags,
		QueueFamilyIndex: info.QueueFamily,
	})
	if err != nil {
		return gpu.CommandPool{}, res, err
	}

	result := gpu.CommandPool{
		Handle:      d.newHandle(),
		QueueFamily: info.QueueFamily,
		Flags:       info.Flags,
	}
	d.commandPools.put(result.Handle, pool)
	d.SetDebugName(result.Handle, info.Name)
	return result, res, nil
}

func (d *Device) ResetCommandPool(pool gpu.CommandPool, flags core1_0.CommandPoolResetFlags) (common.VkResult, error) {
	object, ok := d.commandPools.get(pool.Handle)
	if !ok {
		return core1_0.VKErrorUnknown, errors.Newf("resetting unknown command pool %d", pool.Handle)
	}

	return object.Reset(flags)
}

func (d *Device) DestroyCommandPool(pool gpu.CommandPool) {
	object, ok := d.commandPools.take(pool.Handle)
	if !ok {
		gpu.Fatalf(d.logger, "destroying unknown command pool %d", pool.Handle)
	}

	object.Destroy(d.allocationCallbacks)
	d.forget(pool.Handle)
}

func (d *Device) AllocateCommandBuffers(pool gpu.CommandPool, level core1_0.CommandBufferLevel, count int) ([]gpu.CommandBuffer, common.VkResult, error) {
	object, ok := d.commandPools.get(pool.Handle)
	if !ok {
		return nil, core1_0.VKErrorUnknown, errors.Newf("allocating from unknown command pool %d", pool.Handle)
	}

	commandBuffers, res, err := d.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        object,
		Level:              level,
		CommandBufferCount: count,
	})
	if err != nil {
		return nil, res, err
	}

	result := make([]gpu.CommandBuffer, 0, len(commandBuffers))
	for _, commandBuffer := range commandBuffers {
		result = append(result, &CommandBuffer{
			device:        d,
			handle:        d.newHandle(),
			level:         level,
			commandBuffer: commandBuffer,
		})
	}
	return result, res, nil
}

// CommandBuffer records transfers and barriers into a core1_0.CommandBuffer. The renderer begins
// and ends recording through Vulkan.
type CommandBuffer struct {
	device        *Device
	handle        gpu.Handle
	level         core1_0.CommandBufferLevel
	commandBuffer core1_0.CommandBuffer
}

var _ gpu.CommandBuffer = &CommandBuffer{}

func (c *CommandBuffer) Handle() gpu.Handle {
	return c.handle
}

func (c *CommandBuffer) Level() core1_0.CommandBufferLevel {
	return c.level
}

func (c *CommandBuffer) Vulkan() core1_0.CommandBuffer {
	return c.commandBuffer
}

func resolveRange(image gpu.Image, subresource gpu.ImageSubresourceRange) core1_0.ImageSubresourceRange {
	levelCount := subresource.LevelCount
	if levelCount == 0 {
		levelCount = image.MipLevels - subresource.BaseMipLevel
	}
	layerCount := subresource.LayerCount
	if layerCount == 0 {
		layerCount = image.ArrayLayers - subresource.BaseArrayLayer
	}

	aspect := subresource.AspectMask
	if aspect == 0 {
		aspect = image.Aspect
	}

	return core1_0.ImageSubresourceRange{
		AspectMask:     aspect,
		BaseMipLevel:   subresource.BaseMipLevel,
		LevelCount:     levelCount,
		BaseArrayLayer: subresource.BaseArrayLayer,
		LayerCount:     layerCount,
	}
}

// PipelineBarrier records every barrier in one vkCmdPipelineBarrier. Core 1.0 barriers carry no
// stage masks of their own, so the masks of all barriers are combined.
func (c *CommandBuffer) PipelineBarrier(dependency gpu.DependencyInfo) error {
	if len(dependency.BufferBarriers) == 0 && len(dependency.ImageBarriers) == 0 {
		return nil
	}

	var srcStages, dstStages core1_0.PipelineStageFlags

	bufferBarriers := make([]core1_0.BufferMemoryBarrier, 0, len(dependency.BufferBarriers))
	for _, barrier := range dependency.BufferBarriers {
		buffer := c.device.VulkanBuffer(barrier.Buffer)
		if buffer == nil {
			return errors.Newf("barrier references unknown buffer %d", barrier.Buffer.Handle)
		}

		srcStages |= barrier.SrcStageMask
		dstStages |= barrier.DstStageMask
		bufferBarriers = append(bufferBarriers, core1_0.BufferMemoryBarrier{
			SrcAccessMask:       barrier.SrcAccessMask,
			DstAccessMask:       barrier.DstAccessMask,
			SrcQueueFamilyIndex: barrier.SrcQueueFamilyIndex,
			DstQueueFamilyIndex: barrier.DstQueueFamilyIndex,
			Buffer:              buffer,
			Offset:              int(barrier.Offset),
			Size:                bufferRange(barrier.Size),
		})
	}

	imageBarriers := make([]core1_0.ImageMemoryBarrier, 0, len(dependency.ImageBarriers))
	for _, barrier := range dependency.ImageBarriers {
		image := c.device.VulkanImage(barrier.Image)
		if image == nil {
			return errors.Newf("barrier references unknown image %d", barrier.Image.Handle)
		}

		srcStages |= barrier.SrcStageMask
		dstStages |= barrier.DstStageMask
		imageBarriers = append(imageBarriers, core1_0.ImageMemoryBarrier{
			SrcAccessMask:       barrier.SrcAccessMask,
			DstAccessMask:       barrier.DstAccessMask,
			OldLayout:           barrier.OldLayout,
			NewLayout:           barrier.NewLayout,
			SrcQueueFamilyIndex: barrier.SrcQueueFamilyIndex,
			DstQueueFamilyIndex: barrier.DstQueueFamilyIndex,
			Image:               image,
			SubresourceRange:    resolveRange(barrier.Image, barrier.SubresourceRange),
		})
	}

	if srcStages == 0 {
		srcStages = core1_0.PipelineStageTopOfPipe
	}
	if dstStages == 0 {
		dstStages = core1_0.PipelineStageBottomOfPipe
	}

	return c.commandBuffer.CmdPipelineBarrier(srcStages, dstStages, 0, nil, bufferBarriers, imageBarriers)
}

func (c *CommandBuffer) CopyBuffer(src gpu.Buffer, dst gpu.Buffer, regions []gpu.BufferCopy) error {
	srcBuffer := c.device.VulkanBuffer(src)
	dstBuffer := c.device.VulkanBuffer(dst)
	if srcBuffer == nil || dstBuffer == nil {
		return errors.Newf("copy between unknown buffers %d and %d", src.Handle, dst.Handle)
	}

	copies := make([]core1_0.BufferCopy, 0, len(regions))
	for _, region := range regions {
		copies = append(copies, core1_0.BufferCopy{
			SrcOffset: int(region.SrcOffset),
			DstOffset: int(region.DstOffset),
			Size:      int(region.Size),
		})
	}

	return c.commandBuffer.CmdCopyBuffer(srcBuffer, dstBuffer, copies)
}

func (c *CommandBuffer) CopyBufferToImage(src gpu.Buffer, dst gpu.Image, dstLayout core1_0.ImageLayout, regions []gpu.BufferImageCopy) error {
	srcBuffer := c.device.VulkanBuffer(src)
	if srcBuffer == nil {
		return errors.Newf("copy from unknown buffer %d", src.Handle)
	}
	dstImage := c.device.VulkanImage(dst)
	if dstImage == nil {
		return errors.Newf("copy to unknown image %d", dst.Handle)
	}

	copies := make([]core1_0.BufferImageCopy, 0, len(regions))
	for _, region := range regions {
		aspect := region.ImageSubresource.AspectMask
		if aspect == 0 {
			aspect = dst.Aspect
		}
		layerCount := region.ImageSubresource.LayerCount
		if layerCount == 0 {
			layerCount = 1
		}

		copies = append(copies, core1_0.BufferImageCopy{
			BufferOffset:      int(region.BufferOffset),
			BufferRowLength:   region.BufferRowLength,
			BufferImageHeight: region.BufferImageHeight,
			ImageSubresource: core1_0.ImageSubresourceLayers{
				AspectMask:     aspect,
				MipLevel:       region.ImageSubresource.MipLevel,
				BaseArrayLayer: region.ImageSubresource.BaseArrayLayer,
				LayerCount:     layerCount,
			},
			ImageOffset: region.ImageOffset,
			ImageExtent: region.ImageExtent,
		})
	}

	return c.commandBuffer.CmdCopyBufferToImage(srcBuffer, dstImage, dstLayout, copies)
}
