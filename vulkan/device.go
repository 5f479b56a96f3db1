// Package vulkan implements gpu.Device on top of a vkngwrapper core1_0.Device. Every buffer and
// image gets its own device memory allocation; sub-allocation is left to the block allocator
// built on top.
package vulkan

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_2"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/quartermaster/gpu"
	"golang.org/x/exp/slog"
)

type CreateOptions struct {
	// AllocationCallbacks are passed to every create and destroy call
	AllocationCallbacks *driver.AllocationCallbacks
	// UnsynchronizedHandles drops the locks around the handle tables. Only set it when a single
	// goroutine uses the Device, which rules out loading images in the background.
	UnsynchronizedHandles bool
}

type bufferObject struct {
	buffer core1_0.Buffer
	memory core1_0.DeviceMemory
}

type imageObject struct {
	image  core1_0.Image
	memory core1_0.DeviceMemory
}

// Device is the Vulkan implementation of gpu.Device. It is safe for concurrent use unless
// CreateOptions.UnsynchronizedHandles is set.
type Device struct {
	logger              *slog.Logger
	device              core1_0.Device
	physicalDevice      core1_0.PhysicalDevice
	allocationCallbacks *driver.AllocationCallbacks

	extensionData    *extensionData
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
	limits           gpu.Limits

	nextHandle atomic.Uint64
	names      *table[string]

	buffers         *table[bufferObject]
	images          *table[imageObject]
	imageViews      *table[core1_0.ImageView]
	samplers        *table[core1_0.Sampler]
	setLayouts      *table[core1_0.DescriptorSetLayout]
	descriptorPools *table[core1_0.DescriptorPool]
	descriptorSets  *table[descriptorSetObject]
	commandPools    *table[core1_0.CommandPool]
	shaderModules   *table[core1_0.ShaderModule]
	pipelineLayouts *table[core1_0.PipelineLayout]
	pipelines       *table[core1_0.Pipeline]

	renderPasses renderPassCache
}

var _ gpu.Device = &Device{}

func New(logger *slog.Logger, device core1_0.Device, physicalDevice core1_0.PhysicalDevice, options CreateOptions) (*Device, error) {
	if device == nil || physicalDevice == nil {
		return nil, errors.New("vulkan.New requires a device and a physical device")
	}

	properties, err := physicalDevice.Properties()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read physical device properties")
	}
	if properties.Limits == nil {
		return nil, errors.New("physical device reported no limits")
	}

	useMutex := !options.UnsynchronizedHandles
	d := &Device{
		logger:              gpu.DiscardLogger(logger),
		device:              device,
		physicalDevice:      physicalDevice,
		allocationCallbacks: options.AllocationCallbacks,

		extensionData:    newExtensionData(device),
		memoryProperties: physicalDevice.MemoryProperties(),
		limits: gpu.Limits{
			MaxDescriptorSetSamplers:      properties.Limits.MaxDescriptorSetSamplers,
			MaxDescriptorSetSampledImages: properties.Limits.MaxDescriptorSetSampledImages,
			MaxDescriptorSetStorageImages: properties.Limits.MaxDescriptorSetStorageImages,
			MaxPushConstantsSize:          properties.Limits.MaxPushConstantsSize,
		},

		names:           newTable[string](useMutex),
		buffers:         newTable[bufferObject](useMutex),
		images:          newTable[imageObject](useMutex),
		imageViews:      newTable[core1_0.ImageView](useMutex),
		samplers:        newTable[core1_0.Sampler](useMutex),
		setLayouts:      newTable[core1_0.DescriptorSetLayout](useMutex),
		descriptorPools: newTable[core1_0.DescriptorPool](useMutex),
		descriptorSets:  newTable[descriptorSetObject](useMutex),
		commandPools:    newTable[core1_0.CommandPool](useMutex),
		shaderModules:   newTable[core1_0.ShaderModule](useMutex),
		pipelineLayouts: newTable[core1_0.PipelineLayout](useMutex),
		pipelines:       newTable[core1_0.Pipeline](useMutex),

		renderPasses: renderPassCache{
			passes: swiss.NewMap[string, core1_0.RenderPass](8),
		},
	}

	d.logger.Info("created vulkan device",
		slog.String("Device", properties.DriverName),
		slog.Bool("DescriptorIndexing", d.extensionData.DescriptorIndexing),
		slog.Bool("BufferDeviceAddress", d.extensionData.BufferDeviceAddress != nil),
		slog.Bool("DedicatedAllocations", d.extensionData.DedicatedAllocations),
	)

	return d, nil
}

// Destroy releases the render passes the Device created for pipeline building. Every other object
// must already have been destroyed by its owner; leaks are logged.
func (d *Device) Destroy() {
	d.renderPasses.lock.Lock()
	defer d.renderPasses.lock.Unlock()

	d.renderPasses.passes.Iter(func(key string, renderPass core1_0.RenderPass) bool {
		renderPass.Destroy(d.allocationCallbacks)
		return false
	})
	d.renderPasses.passes = swiss.NewMap[string, core1_0.RenderPass](8)

	if live := d.LiveObjects(); live > 0 {
		d.logger.Warn("vulkan device destroyed with live objects", slog.Int("Objects", live))
	}
}

func (d *Device) newHandle() gpu.Handle {
	return gpu.Handle(d.nextHandle.Add(1))
}

func (d *Device) Limits() gpu.Limits {
	return d.limits
}

// SetDebugName records a name for handle, reported by Name and in the backend's log output
func (d *Device) SetDebugName(handle gpu.Handle, name string) {
	if handle == gpu.NullHandle {
		return
	}
	d.names.put(handle, name)
}

func (d *Device) Name(handle gpu.Handle) string {
	name, _ := d.names.get(handle)
	return name
}

func (d *Device) forget(handle gpu.Handle) {
	d.names.take(handle)
}

// LiveObjects is the number of objects created through the Device and not yet destroyed,
// excluding descriptor sets, which are released with their pool
func (d *Device) LiveObjects() int {
	return d.buffers.count() + d.images.count() + d.setLayouts.count() + d.descriptorPools.count() +
		d.commandPools.count() + d.shaderModules.count() + d.pipelineLayouts.count() + d.pipelines.count()
}

func (d *Device) CreateBuffer(info gpu.BufferCreateInfo) (gpu.Buffer, common.VkResult, error) {
	if info.Size == 0 {
		return gpu.Buffer{}, core1_0.VKErrorUnknown, errors.New("cannot create a zero-sized buffer")
	}

	deviceAddress := info.Flags.Has(gpu.BufferCreateDeviceAddress)
	if deviceAddress && d.extensionData.BufferDeviceAddress == nil {
		return gpu.Buffer{}, core1_0.VKErrorExtensionNotPresent, errors.New("buffer requests a device address, but khr_buffer_device_address is not active")
	}

	buffer, res, err := d.device.CreateBuffer(d.allocationCallbacks, core1_0.BufferCreateInfo{
		Size:        int(info.Size),
		Usage:       info.Usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return gpu.Buffer{}, res, err
	}

	var dedicated *dedicatedTarget
	if info.Flags.Has(gpu.BufferCreateDedicated) {
		dedicated = &dedicatedTarget{buffer: buffer}
	}

	memory, res, err := d.allocateMemory(buffer.MemoryRequirements(), info.Memory, deviceAddress, dedicated)
	if err != nil {
		buffer.Destroy(d.allocationCallbacks)
		return gpu.Buffer{}, res, err
	}

	release := func() {
		buffer.Destroy(d.allocationCallbacks)
		memory.Free(d.allocationCallbacks)
	}

	res, err = buffer.BindBufferMemory(memory, 0)
	if err != nil {
		release()
		return gpu.Buffer{}, res, err
	}

	result := gpu.Buffer{
		Handle: d.newHandle(),
		Size:   info.Size,
		Usage:  info.Usage,
	}

	if info.Memory == gpu.MemoryUsageHostUpload {
		result.Mapped, res, err = mapMemory(memory, info.Size)
		if err != nil {
			release()
			return gpu.Buffer{}, res, err
		}
	}

	if deviceAddress {
		result.DeviceAddress, err = d.extensionData.BufferDeviceAddress.GetBufferDeviceAddress(core1_2.BufferDeviceAddressInfo{
			Buffer: buffer,
		})
		if err != nil {
			if result.Mapped != nil {
				memory.Unmap()
			}
			release()
			return gpu.Buffer{}, core1_0.VKErrorUnknown, err
		}
	}

	d.buffers.put(result.Handle, bufferObject{buffer: buffer, memory: memory})
	d.SetDebugName(result.Handle, info.Name)

	d.logger.Debug("Device::CreateBuffer",
		slog.Uint64("Handle", uint64(result.Handle)),
		slog.Uint64("Size", info.Size),
		slog.String("Name", info.Name),
	)
	return result, core1_0.VKSuccess, nil
}

// DestroyBuffer destroys the buffer and frees its memory. Unknown handles are fatal.
func (d *Device) DestroyBuffer(buffer gpu.Buffer) {
	if buffer.Handle == gpu.NullHandle {
		return
	}

	object, ok := d.buffers.take(buffer.Handle)
	if !ok {
		gpu.Fatalf(d.logger, "destroying unknown buffer %d", buffer.Handle)
	}

	object.buffer.Destroy(d.allocationCallbacks)
	if buffer.Mapped != nil {
		object.memory.Unmap()
	}
	object.memory.Free(d.allocationCallbacks)
	d.forget(buffer.Handle)
}

func (d *Device) CreateImage(info gpu.ImageCreateInfo) (gpu.Image, common.VkResult, error) {
	image, res, err := d.device.CreateImage(d.allocationCallbacks, core1_0.ImageCreateInfo{
		Flags:         info.Flags,
		ImageType:     info.Type,
		Format:        info.Format,
		Extent:        info.Extent,
		MipLevels:     info.MipLevels,
		ArrayLayers:   info.ArrayLayers,
		Samples:       core1_0.Samples1,
		Tiling:        core1_0.ImageTilingOptimal,
		Usage:         info.Usage,
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	})
	if err != nil {
		return gpu.Image{}, res, err
	}

	memory, res, err := d.allocateMemory(image.MemoryRequirements(), gpu.MemoryUsageDeviceLocal, false, &dedicatedTarget{image: image})
	if err != nil {
		image.Destroy(d.allocationCallbacks)
		return gpu.Image{}, res, err
	}

	res, err = image.BindImageMemory(memory, 0)
	if err != nil {
		image.Destroy(d.allocationCallbacks)
		memory.Free(d.allocationCallbacks)
		return gpu.Image{}, res, err
	}

	result := gpu.Image{
		Handle:      d.newHandle(),
		Type:        info.Type,
		Format:      info.Format,
		Extent:      info.Extent,
		MipLevels:   info.MipLevels,
		ArrayLayers: info.ArrayLayers,
		Aspect:      aspectOf(info.Format),
		Usage:       info.Usage,
	}

	d.images.put(result.Handle, imageObject{image: image, memory: memory})
	d.SetDebugName(result.Handle, info.Name)
	return result, core1_0.VKSuccess, nil
}

func (d *Device) DestroyImage(image gpu.Image) {
	if image.Handle == gpu.NullHandle {
		return
	}

	object, ok := d.images.take(image.Handle)
	if !ok {
		gpu.Fatalf(d.logger, "destroying unknown image %d", image.Handle)
	}

	object.image.Destroy(d.allocationCallbacks)
	object.memory.Free(d.allocationCallbacks)
	d.forget(image.Handle)
}

// aspectOf picks the image aspect from the format's depth and stencil components
func aspectOf(format core1_0.Format) core1_0.ImageAspectFlags {
	switch format {
	case core1_0.FormatD16UnsignedNormalized, core1_0.FormatD24X8UnsignedNormalizedPacked, core1_0.FormatD32SignedFloat:
		return core1_0.ImageAspectDepth
	case core1_0.FormatS8UnsignedInt:
		return core1_0.ImageAspectStencil
	case core1_0.FormatD16UnsignedNormalizedS8UnsignedInt, core1_0.FormatD24UnsignedNormalizedS8UnsignedInt, core1_0.FormatD32SignedFloatS8UnsignedInt:
		return core1_0.ImageAspectDepth | core1_0.ImageAspectStencil
	default:
		return core1_0.ImageAspectColor
	}
}

// RegisterImageView gives a view created by the renderer a handle that can be written into
// descriptors. The Device does not take ownership of the view.
func (d *Device) RegisterImageView(view core1_0.ImageView, image gpu.Image) gpu.ImageView {
	handle := d.newHandle()
	d.imageViews.put(handle, view)
	return gpu.ImageView{Handle: handle, Image: image.Handle}
}

func (d *Device) UnregisterImageView(view gpu.ImageView) {
	d.imageViews.take(view.Handle)
	d.forget(view.Handle)
}

// RegisterSampler gives a sampler created by the renderer a handle that can be written into
// descriptors. The Device does not take ownership of the sampler.
func (d *Device) RegisterSampler(sampler core1_0.Sampler) gpu.Sampler {
	handle := d.newHandle()
	d.samplers.put(handle, sampler)
	return gpu.Sampler{Handle: handle}
}

func (d *Device) UnregisterSampler(sampler gpu.Sampler) {
	d.samplers.take(sampler.Handle)
	d.forget(sampler.Handle)
}

func (d *Device) VulkanBuffer(buffer gpu.Buffer) core1_0.Buffer {
	object, ok := d.buffers.get(buffer.Handle)
	if !ok {
		return nil
	}
	return object.buffer
}

func (d *Device) VulkanImage(image gpu.Image) core1_0.Image {
	object, ok := d.images.get(image.Handle)
	if !ok {
		return nil
	}
	return object.image
}

func (d *Device) VulkanDescriptorSet(set gpu.DescriptorSet) core1_0.DescriptorSet {
	object, _ := d.descriptorSets.get(set.Handle)
	return object.set
}

func (d *Device) VulkanPipeline(pipeline gpu.Pipeline) core1_0.Pipeline {
	object, _ := d.pipelines.get(pipeline.Handle)
	return object
}

func (d *Device) VulkanPipelineLayout(layout gpu.PipelineLayout) core1_0.PipelineLayout {
	object, _ := d.pipelineLayouts.get(layout.Handle)
	return object
}
