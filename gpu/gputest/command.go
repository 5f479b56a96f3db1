package gputest

import (
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/quartermaster/gpu"
)

// Command is one recorded command. Exactly one of the payload fields is set.
type Command struct {
	Barrier    *gpu.DependencyInfo
	BufferCopy *BufferCopyCommand
	ImageCopy  *ImageCopyCommand
}

type BufferCopyCommand struct {
	Src     gpu.Buffer
	Dst     gpu.Buffer
	Regions []gpu.BufferCopy
}

type ImageCopyCommand struct {
	Src     gpu.Buffer
	Dst     gpu.Image
	Layout  core1_0.ImageLayout
	Regions []gpu.BufferImageCopy
}

// CommandBuffer records every command into Commands
type CommandBuffer struct {
	handle   gpu.Handle
	level    core1_0.CommandBufferLevel
	Pool     gpu.CommandPool
	Commands []Command
}

var _ gpu.CommandBuffer = &CommandBuffer{}

// NewCommandBuffer creates a recording command buffer that does not belong to any pool
func NewCommandBuffer() *CommandBuffer {
	return &CommandBuffer{handle: 1, level: core1_0.CommandBufferLevelPrimary}
}

func (c *CommandBuffer) Handle() gpu.Handle {
	return c.handle
}

func (c *CommandBuffer) Level() core1_0.CommandBufferLevel {
	return c.level
}

func (c *CommandBuffer) PipelineBarrier(dependency gpu.DependencyInfo) error {
	c.Commands = append(c.Commands, Command{Barrier: &dependency})
	return nil
}

func (c *CommandBuffer) CopyBuffer(src gpu.Buffer, dst gpu.Buffer, regions []gpu.BufferCopy) error {
	c.Commands = append(c.Commands, Command{BufferCopy: &BufferCopyCommand{
		Src:     src,
		Dst:     dst,
		Regions: append([]gpu.BufferCopy(nil), regions...),
	}})
	return nil
}

func (c *CommandBuffer) CopyBufferToImage(src gpu.Buffer, dst gpu.Image, dstLayout core1_0.ImageLayout, regions []gpu.BufferImageCopy) error {
	c.Commands = append(c.Commands, Command{ImageCopy: &ImageCopyCommand{
		Src:     src,
		Dst:     dst,
		Layout:  dstLayout,
		Regions: append([]gpu.BufferImageCopy(nil), regions...),
	}})
	return nil
}

// Barriers returns every recorded barrier command in order
func (c *CommandBuffer) Barriers() []gpu.DependencyInfo {
	var barriers []gpu.DependencyInfo
	for _, cmd := range c.Commands {
		if cmd.Barrier != nil {
			barriers = append(barriers, *cmd.Barrier)
		}
	}
	return barriers
}

func (c *CommandBuffer) Reset() {
	c.Commands = nil
}

func (d *Device) CreateCommandPool(info gpu.CommandPoolCreateInfo) (gpu.CommandPool, common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if res, err := d.fail("CreateCommandPool"); err != nil {
		return gpu.CommandPool{}, res, err
	}

	pool := gpu.CommandPool{Handle: d.create("commandPool"), QueueFamily: info.QueueFamily, Flags: info.Flags}
	if info.Name != "" {
		d.names[pool.Handle] = info.Name
	}
	return pool, core1_0.VKSuccess, nil
}

func (d *Device) ResetCommandPool(pool gpu.CommandPool, flags core1_0.CommandPoolResetFlags) (common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if res, err := d.fail("ResetCommandPool"); err != nil {
		return res, err
	}

	d.PoolResets[pool.Handle]++
	for _, buffer := range d.CommandBuffers {
		if buffer.Pool.Handle == pool.Handle {
			buffer.Reset()
		}
	}
	return core1_0.VKSuccess, nil
}

func (d *Device) DestroyCommandPool(pool gpu.CommandPool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.destroy(pool.Handle)
}

func (d *Device) AllocateCommandBuffers(pool gpu.CommandPool, level core1_0.CommandBufferLevel, count int) ([]gpu.CommandBuffer, common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if res, err := d.fail("AllocateCommandBuffers"); err != nil {
		return nil, res, err
	}

	buffers := make([]gpu.CommandBuffer, 0, count)
	for i := 0; i < count; i++ {
		d.nextHandle++
		buffer := &CommandBuffer{handle: d.nextHandle, level: level, Pool: pool}
		d.CommandBuffers = append(d.CommandBuffers, buffer)
		buffers = append(buffers, buffer)
	}
	return buffers, core1_0.VKSuccess, nil
}
