package vulkan

import (
	"math"
	"math/bits"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/core/v2/core1_2"
	"github.com/vkngwrapper/extensions/v2/khr_dedicated_allocation"
	"github.com/vkngwrapper/quartermaster/gpu"
)

func memoryPreferences(usage gpu.MemoryUsage) (required, preferred, notPreferred core1_0.MemoryPropertyFlags, err error) {
	switch usage {
	case gpu.MemoryUsageDeviceLocal:
		return core1_0.MemoryPropertyDeviceLocal, 0, core1_0.MemoryPropertyHostVisible, nil
	case gpu.MemoryUsageHostUpload:
		// Staging memory is written sequentially and never read back, so uncached is ideal
		return core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, 0, core1_0.MemoryPropertyHostCached, nil
	default:
		return 0, 0, 0, errors.Newf("unknown memory usage %d", usage)
	}
}

// findMemoryTypeIndex returns the allowed memory type with every required flag that misses the
// fewest preferred flags and carries the fewest unwanted ones
func findMemoryTypeIndex(types []core1_0.MemoryType, memoryTypeBits uint32, usage gpu.MemoryUsage) (int, error) {
	requiredFlags, preferredFlags, notPreferredFlags, err := memoryPreferences(usage)
	if err != nil {
		return -1, err
	}

	bestMemoryTypeIndex := -1
	minCost := math.MaxInt

	for memTypeIndex, memType := range types {
		if uint32(1<<memTypeIndex)&memoryTypeBits == 0 {
			continue
		}

		flags := memType.PropertyFlags
		if requiredFlags&flags != requiredFlags {
			continue
		}

		cost := bits.OnesCount32(uint32(preferredFlags&^flags)) + bits.OnesCount32(uint32(notPreferredFlags&flags))
		if cost == 0 {
			return memTypeIndex, nil
		} else if cost < minCost {
			bestMemoryTypeIndex = memTypeIndex
			minCost = cost
		}
	}

	if bestMemoryTypeIndex < 0 {
		return -1, errors.Wrapf(core1_0.VKErrorFeatureNotPresent.ToError(), "no memory type in %#x supports %s", memoryTypeBits, requiredFlags)
	}
	return bestMemoryTypeIndex, nil
}

type dedicatedTarget struct {
	buffer core1_0.Buffer
	image  core1_0.Image
}

// allocateMemory makes one device allocation for a single resource
func (d *Device) allocateMemory(requirements *core1_0.MemoryRequirements, usage gpu.MemoryUsage, deviceAddress bool, dedicated *dedicatedTarget) (core1_0.DeviceMemory, common.VkResult, error) {
	memoryTypeIndex, err := findMemoryTypeIndex(d.memoryProperties.MemoryTypes, requirements.MemoryTypeBits, usage)
	if err != nil {
		return nil, core1_0.VKErrorFeatureNotPresent, err
	}

	allocInfo := core1_0.MemoryAllocateInfo{
		MemoryTypeIndex: memoryTypeIndex,
		AllocationSize:  requirements.Size,
	}

	if dedicated != nil && d.extensionData.DedicatedAllocations {
		dedicatedAllocInfo := khr_dedicated_allocation.MemoryDedicatedAllocateInfo{
			Buffer: dedicated.buffer,
			Image:  dedicated.image,
		}
		dedicatedAllocInfo.Next = allocInfo.Next
		allocInfo.Next = dedicatedAllocInfo
	}

	if deviceAddress {
		allocFlagsInfo := core1_1.MemoryAllocateFlagsInfo{
			Flags: core1_2.MemoryAllocateDeviceAddress,
		}
		allocFlagsInfo.Next = allocInfo.Next
		allocInfo.Next = allocFlagsInfo
	}

	return d.device.AllocateMemory(d.allocationCallbacks, allocInfo)
}

// mapMemory maps the whole allocation for the lifetime of the resource
func mapMemory(memory core1_0.DeviceMemory, size uint64) ([]byte, common.VkResult, error) {
	data, res, err := memory.Map(0, -1, 0)
	if err != nil {
		return nil, res, err
	}
	if data == nil {
		return nil, core1_0.VKErrorMemoryMapFailed, core1_0.VKErrorMemoryMapFailed.ToError()
	}

	return unsafe.Slice((*byte)(data), size), res, nil
}
