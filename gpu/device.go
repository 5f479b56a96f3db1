package gpu

import (
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// MemoryUsage selects the kind of memory a buffer is placed in
type MemoryUsage int32

const (
	// MemoryUsageDeviceLocal places the buffer in device-local memory that the host cannot map
	MemoryUsageDeviceLocal MemoryUsage = iota
	// MemoryUsageHostUpload places the buffer in host-visible, coherent memory that is persistently
	// mapped, for staging data to the device
	MemoryUsageHostUpload
)

type BufferCreateInfo struct {
	Size   uint64
	Usage  core1_0.BufferUsageFlags
	Memory MemoryUsage
	Flags  BufferCreateFlags
	// Name is attached to the buffer as a debug name when it is not empty
	Name string
}

type ImageCreateInfo struct {
	Flags       core1_0.ImageCreateFlags
	Type        core1_0.ImageType
	Format      core1_0.Format
	Extent      core1_0.Extent3D
	MipLevels   int
	ArrayLayers int
	Usage       core1_0.ImageUsageFlags
	Name        string
}

type DescriptorSetLayoutCreateInfo struct {
	Flags    core1_0.DescriptorSetLayoutCreateFlags
	Bindings []DescriptorSetLayoutBinding
	Name     string
}

type DescriptorPoolSize struct {
	Type  core1_0.DescriptorType
	Count int
}

type DescriptorPoolCreateInfo struct {
	Flags     core1_0.DescriptorPoolCreateFlags
	MaxSets   int
	PoolSizes []DescriptorPoolSize
	Name      string
}

// DescriptorImageInfo is one element of a sampler or image descriptor write
type DescriptorImageInfo struct {
	Sampler Sampler
	View    ImageView
	Layout  core1_0.ImageLayout
}

type DescriptorBufferInfo struct {
	Buffer Buffer
	Offset uint64
	Range  uint64
}

// DescriptorWrite updates a run of consecutive array elements of one binding
type DescriptorWrite struct {
	Set          DescriptorSet
	Binding      int
	ArrayElement int
	Type         core1_0.DescriptorType
	Images       []DescriptorImageInfo
	Buffers      []DescriptorBufferInfo
}

type CommandPoolCreateInfo struct {
	Flags       core1_0.CommandPoolCreateFlags
	QueueFamily int
	Name        string
}

type PushConstantRange struct {
	Stages core1_0.ShaderStageFlags
	Offset int
	Size   int
}

type PipelineLayoutCreateInfo struct {
	SetLayouts    []DescriptorSetLayout
	PushConstants []PushConstantRange
}

type ShaderStage struct {
	Module     ShaderModule
	EntryPoint string
}

// GraphicsPipelineCreateInfo carries the fixed-function state of a graphics pipeline. Viewport and
// scissor are always dynamic; rendering targets are described by format so pipelines can be used
// with dynamic rendering.
type GraphicsPipelineCreateInfo struct {
	Name               string
	Layout             PipelineLayout
	Stages             []ShaderStage
	Topology           core1_0.PrimitiveTopology
	PolygonMode        core1_0.PolygonMode
	CullMode           core1_0.CullModeFlags
	FrontFace          core1_0.FrontFace
	DepthTest          bool
	DepthWrite         bool
	DepthCompareOp     core1_0.CompareOp
	Blend              []core1_0.PipelineColorBlendAttachmentState
	ColorFormats       []core1_0.Format
	DepthFormat        core1_0.Format
	RasterizationCount core1_0.SampleCountFlags
}

type ComputePipelineCreateInfo struct {
	Name   string
	Layout PipelineLayout
	Stage  ShaderStage
}

// RayTracingShaderGroup references stages of a ray tracing pipeline by index. An index of -1
// means the group has no shader of that kind.
type RayTracingShaderGroup struct {
	General      int
	ClosestHit   int
	AnyHit       int
	Intersection int
}

type RayTracingPipelineCreateInfo struct {
	Name              string
	Layout            PipelineLayout
	Stages            []ShaderStage
	Groups            []RayTracingShaderGroup
	MaxRecursionDepth int
}

// Limits reports the device limits the resource core clamps its fixed capacities against
type Limits struct {
	MaxDescriptorSetSamplers      int
	MaxDescriptorSetSampledImages int
	MaxDescriptorSetStorageImages int
	MaxPushConstantsSize          int
}

// BufferDevice creates and destroys buffers
type BufferDevice interface {
	CreateBuffer(info BufferCreateInfo) (Buffer, common.VkResult, error)
	DestroyBuffer(buffer Buffer)
}

// ImageDevice creates and destroys images and their views
type ImageDevice interface {
	CreateImage(info ImageCreateInfo) (Image, common.VkResult, error)
	DestroyImage(image Image)
}

// DescriptorDevice creates descriptor pools, layouts and sets and writes descriptors
type DescriptorDevice interface {
	CreateDescriptorSetLayout(info DescriptorSetLayoutCreateInfo) (DescriptorSetLayout, common.VkResult, error)
	DestroyDescriptorSetLayout(layout DescriptorSetLayout)
	CreateDescriptorPool(info DescriptorPoolCreateInfo) (DescriptorPool, common.VkResult, error)
	ResetDescriptorPool(pool DescriptorPool) (common.VkResult, error)
	DestroyDescriptorPool(pool DescriptorPool)
	// AllocateDescriptorSet allocates one set. Pool exhaustion is reported through the result
	// (core1_1.VkErrorOutOfPoolMemory or core1_0.VKErrorFragmentedPool) so callers can retry in
	// a different pool.
	AllocateDescriptorSet(pool DescriptorPool, layout DescriptorSetLayout) (DescriptorSet, common.VkResult, error)
	UpdateDescriptorSets(writes []DescriptorWrite) error
}

// CommandDevice creates command pools and allocates command buffers from them
type CommandDevice interface {
	CreateCommandPool(info CommandPoolCreateInfo) (CommandPool, common.VkResult, error)
	ResetCommandPool(pool CommandPool, flags core1_0.CommandPoolResetFlags) (common.VkResult, error)
	DestroyCommandPool(pool CommandPool)
	AllocateCommandBuffers(pool CommandPool, level core1_0.CommandBufferLevel, count int) ([]CommandBuffer, common.VkResult, error)
}

// PipelineDevice builds shader modules, pipeline layouts and pipelines. Each Create*Pipelines call
// creates every pipeline in the slice with a single driver call.
type PipelineDevice interface {
	CreateShaderModule(stage core1_0.ShaderStageFlags, code []byte) (ShaderModule, common.VkResult, error)
	DestroyShaderModule(module ShaderModule)
	CreatePipelineLayout(info PipelineLayoutCreateInfo) (PipelineLayout, common.VkResult, error)
	DestroyPipelineLayout(layout PipelineLayout)
	CreateGraphicsPipelines(infos []GraphicsPipelineCreateInfo) ([]Pipeline, common.VkResult, error)
	CreateComputePipelines(infos []ComputePipelineCreateInfo) ([]Pipeline, common.VkResult, error)
	CreateRayTracingPipelines(infos []RayTracingPipelineCreateInfo) ([]Pipeline, common.VkResult, error)
	DestroyPipeline(pipeline Pipeline)
}

// Device is the host graphics context every component of the resource core allocates from.
// Implementations must be safe for concurrent use: images and staging buffers are created from
// loader goroutines while the render goroutine creates everything else.
type Device interface {
	BufferDevice
	ImageDevice
	DescriptorDevice
	CommandDevice
	PipelineDevice

	Limits() Limits
	SetDebugName(handle Handle, name string)
}
