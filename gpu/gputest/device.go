// Package gputest provides an in-memory gpu.Device that records every call, for tests of the
// resource core that need to observe driver traffic without a GPU.
package gputest

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/quartermaster/gpu"
)

// Device is a fake gpu.Device. Every created object gets a fresh handle; destroyed handles are
// tracked so tests can assert on leaks and on deferred destruction.
type Device struct {
	mutex sync.Mutex

	nextHandle gpu.Handle
	live       map[gpu.Handle]string
	destroyed  []gpu.Handle
	names      map[gpu.Handle]string

	Buffers          map[gpu.Handle]gpu.Buffer
	Images           map[gpu.Handle]gpu.Image
	DescriptorWrites []gpu.DescriptorWrite
	PoolAllocations  map[gpu.Handle]int
	PoolCreateInfos  []gpu.DescriptorPoolCreateInfo
	LayoutInfos      map[gpu.Handle]gpu.DescriptorSetLayoutCreateInfo
	CommandBuffers   []*CommandBuffer
	PoolResets       map[gpu.Handle]int

	GraphicsBatches   [][]gpu.GraphicsPipelineCreateInfo
	ComputeBatches    [][]gpu.ComputePipelineCreateInfo
	RayTracingBatches [][]gpu.RayTracingPipelineCreateInfo
	ShaderModules     []gpu.ShaderModule

	DeviceLimits gpu.Limits

	// FailCall makes the named call return VKErrorUnknown when it returns true
	FailCall func(call string) bool
}

var _ gpu.Device = &Device{}

func NewDevice() *Device {
	return &Device{
		live:            make(map[gpu.Handle]string),
		names:           make(map[gpu.Handle]string),
		Buffers:         make(map[gpu.Handle]gpu.Buffer),
		Images:          make(map[gpu.Handle]gpu.Image),
		PoolAllocations: make(map[gpu.Handle]int),
		LayoutInfos:     make(map[gpu.Handle]gpu.DescriptorSetLayoutCreateInfo),
		PoolResets:      make(map[gpu.Handle]int),
		DeviceLimits: gpu.Limits{
			MaxDescriptorSetSamplers:      4000,
			MaxDescriptorSetSampledImages: 1 << 20,
			MaxDescriptorSetStorageImages: 1 << 20,
			MaxPushConstantsSize:          256,
		},
	}
}

func (d *Device) create(kind string) gpu.Handle {
	d.nextHandle++
	d.live[d.nextHandle] = kind
	return d.nextHandle
}

func (d *Device) destroy(handle gpu.Handle) {
	if handle == gpu.NullHandle {
		return
	}
	if _, ok := d.live[handle]; !ok {
		panic(errors.Newf("destroying handle %d that is not live", handle))
	}
	delete(d.live, handle)
	d.destroyed = append(d.destroyed, handle)
}

func (d *Device) fail(call string) (common.VkResult, error) {
	if d.FailCall != nil && d.FailCall(call) {
		return core1_0.VKErrorUnknown, core1_0.VKErrorUnknown.ToError()
	}
	return core1_0.VKSuccess, nil
}

// IsLive reports whether the handle was created and not yet destroyed
func (d *Device) IsLive(handle gpu.Handle) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	_, ok := d.live[handle]
	return ok
}

// LiveCount is the number of live objects of the given kind ("buffer", "image", "pipeline", ...)
func (d *Device) LiveCount(kind string) int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	count := 0
	for _, k := range d.live {
		if k == kind {
			count++
		}
	}
	return count
}

func (d *Device) Destroyed() []gpu.Handle {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return append([]gpu.Handle(nil), d.destroyed...)
}

func (d *Device) Name(handle gpu.Handle) string {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.names[handle]
}

func (d *Device) Limits() gpu.Limits {
	return d.DeviceLimits
}

func (d *Device) SetDebugName(handle gpu.Handle, name string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.names[handle] = name
}

func (d *Device) CreateBuffer(info gpu.BufferCreateInfo) (gpu.Buffer, common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if res, err := d.fail("CreateBuffer"); err != nil {
		return gpu.Buffer{}, res, err
	}

	buffer := gpu.Buffer{
		Handle: d.create("buffer"),
		Size:   info.Size,
		Usage:  info.Usage,
	}
	if info.Memory == gpu.MemoryUsageHostUpload {
		buffer.Mapped = make([]byte, info.Size)
	}
	if info.Flags.Has(gpu.BufferCreateDeviceAddress) {
		buffer.DeviceAddress = uint64(buffer.Handle) << 32
	}
	if info.Name != "" {
		d.names[buffer.Handle] = info.Name
	}
	d.Buffers[buffer.Handle] = buffer

	return buffer, core1_0.VKSuccess, nil
}

func (d *Device) DestroyBuffer(buffer gpu.Buffer) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.destroy(buffer.Handle)
}

func (d *Device) CreateImage(info gpu.ImageCreateInfo) (gpu.Image, common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if res, err := d.fail("CreateImage"); err != nil {
		return gpu.Image{}, res, err
	}

	image := gpu.Image{
		Handle:      d.create("image"),
		Type:        info.Type,
		Format:      info.Format,
		Extent:      info.Extent,
		MipLevels:   info.MipLevels,
		ArrayLayers: info.ArrayLayers,
		Aspect:      core1_0.ImageAspectColor,
		Usage:       info.Usage,
	}
	d.Images[image.Handle] = image

	return image, core1_0.VKSuccess, nil
}

func (d *Device) DestroyImage(image gpu.Image) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.destroy(image.Handle)
}
