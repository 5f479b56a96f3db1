package gpu

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_2"
)

// Handle is an opaque identifier for a driver-owned object. Handles are assigned by the Device
// that created the object and are never reused by it. The zero Handle is the null handle.
type Handle uint64

const NullHandle Handle = 0

// WholeSize requests that a buffer range extend to the end of the buffer
const WholeSize uint64 = ^uint64(0)

// QueueFamilyIgnored marks a barrier that does not transfer queue family ownership
const QueueFamilyIgnored = -1

// Buffer is a device buffer created through a Device
type Buffer struct {
	Handle Handle
	Size   uint64
	Usage  core1_0.BufferUsageFlags
	// DeviceAddress is zero unless the buffer was created with BufferCreateDeviceAddress
	DeviceAddress uint64
	// Mapped is the persistently-mapped host memory of a host-visible buffer, nil otherwise
	Mapped []byte
}

func (b Buffer) IsNull() bool {
	return b.Handle == NullHandle
}

// Image is a device image created through a Device
type Image struct {
	Handle      Handle
	Type        core1_0.ImageType
	Format      core1_0.Format
	Extent      core1_0.Extent3D
	MipLevels   int
	ArrayLayers int
	Aspect      core1_0.ImageAspectFlags
	Usage       core1_0.ImageUsageFlags
}

func (i Image) IsNull() bool {
	return i.Handle == NullHandle
}

// FullRange is the subresource range covering every mip level and array layer of the image
func (i Image) FullRange() ImageSubresourceRange {
	return ImageSubresourceRange{
		AspectMask:     i.Aspect,
		BaseMipLevel:   0,
		LevelCount:     i.MipLevels,
		BaseArrayLayer: 0,
		LayerCount:     i.ArrayLayers,
	}
}

type ImageView struct {
	Handle Handle
	Image  Handle
}

type Sampler struct {
	Handle Handle
}

type DescriptorSetLayout struct {
	Handle Handle
}

type DescriptorPool struct {
	Handle  Handle
	MaxSets int
}

type DescriptorSet struct {
	Handle Handle
	Layout DescriptorSetLayout
}

type CommandPool struct {
	Handle      Handle
	QueueFamily int
	Flags       core1_0.CommandPoolCreateFlags
}

type ShaderModule struct {
	Handle Handle
	Stage  core1_0.ShaderStageFlags
}

type PipelineLayout struct {
	Handle Handle
}

type Pipeline struct {
	Handle    Handle
	BindPoint core1_0.PipelineBindPoint
	Layout    PipelineLayout
}

func (p Pipeline) IsNull() bool {
	return p.Handle == NullHandle
}

// ImageSubresourceRange selects mip levels and array layers of an image. A LevelCount or
// LayerCount of zero means every level or layer from the base onward.
type ImageSubresourceRange struct {
	AspectMask     core1_0.ImageAspectFlags
	BaseMipLevel   int
	LevelCount     int
	BaseArrayLayer int
	LayerCount     int
}

type ImageSubresourceLayers struct {
	AspectMask     core1_0.ImageAspectFlags
	MipLevel       int
	BaseArrayLayer int
	LayerCount     int
}

// DescriptorSetLayoutBinding describes one binding of a descriptor set layout
type DescriptorSetLayoutBinding struct {
	Binding int
	Type    core1_0.DescriptorType
	Count   int
	Stages  core1_0.ShaderStageFlags
	// Flags carries the descriptor indexing behavior of the binding: partially bound,
	// update after bind and so on
	Flags core1_2.DescriptorBindingFlags
}

// PipelineBindPointRayTracing is the ray tracing bind point, which core 1.0 does not define
const PipelineBindPointRayTracing core1_0.PipelineBindPoint = 1000165000
