package vulkan

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/core/v2/core1_2"
	"github.com/vkngwrapper/extensions/v2/ext_descriptor_indexing"
	"github.com/vkngwrapper/extensions/v2/khr_buffer_device_address"
	khr_buffer_device_address_shim "github.com/vkngwrapper/extensions/v2/khr_buffer_device_address/shim"
	"github.com/vkngwrapper/extensions/v2/khr_dedicated_allocation"
	"github.com/vkngwrapper/extensions/v2/khr_get_memory_requirements2"
)

// extensionData records which optional device features the backend can use
type extensionData struct {
	DedicatedAllocations bool
	DescriptorIndexing   bool
	BufferDeviceAddress  khr_buffer_device_address_shim.Shim
}

func newExtensionData(device core1_0.Device) *extensionData {
	data := &extensionData{}

	// Core 1.1 includes khr_dedicated_allocation
	if core1_1.PromoteDevice(device) != nil {
		data.DedicatedAllocations = true
	}

	// Core 1.2 includes descriptor indexing and buffer device addresses
	device12 := core1_2.PromoteDevice(device)
	if device12 != nil {
		data.DescriptorIndexing = true
		data.BufferDeviceAddress = device12
	}

	if !data.DedicatedAllocations &&
		device.IsDeviceExtensionActive(khr_get_memory_requirements2.ExtensionName) &&
		device.IsDeviceExtensionActive(khr_dedicated_allocation.ExtensionName) {
		data.DedicatedAllocations = true
	}

	if !data.DescriptorIndexing && device.IsDeviceExtensionActive(ext_descriptor_indexing.ExtensionName) {
		data.DescriptorIndexing = true
	}

	if data.BufferDeviceAddress == nil && device.IsDeviceExtensionActive(khr_buffer_device_address.ExtensionName) {
		extension := khr_buffer_device_address.CreateExtensionFromDevice(device)
		data.BufferDeviceAddress = khr_buffer_device_address_shim.NewShim(extension, device)
	}

	return data
}
