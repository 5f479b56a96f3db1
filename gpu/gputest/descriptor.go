package gputest

import (
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/quartermaster/gpu"
)

func (d *Device) CreateDescriptorSetLayout(info gpu.DescriptorSetLayoutCreateInfo) (gpu.DescriptorSetLayout, common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if res, err := d.fail("CreateDescriptorSetLayout"); err != nil {
		return gpu.DescriptorSetLayout{}, res, err
	}

	layout := gpu.DescriptorSetLayout{Handle: d.create("descriptorSetLayout")}
	d.LayoutInfos[layout.Handle] = info
	return layout, core1_0.VKSuccess, nil
}

func (d *Device) DestroyDescriptorSetLayout(layout gpu.DescriptorSetLayout) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.destroy(layout.Handle)
}

func (d *Device) CreateDescriptorPool(info gpu.DescriptorPoolCreateInfo) (gpu.DescriptorPool, common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if res, err := d.fail("CreateDescriptorPool"); err != nil {
		return gpu.DescriptorPool{}, res, err
	}

	pool := gpu.DescriptorPool{Handle: d.create("descriptorPool"), MaxSets: info.MaxSets}
	d.PoolCreateInfos = append(d.PoolCreateInfos, info)
	d.PoolAllocations[pool.Handle] = 0
	return pool, core1_0.VKSuccess, nil
}

func (d *Device) ResetDescriptorPool(pool gpu.DescriptorPool) (common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.PoolAllocations[pool.Handle] = 0
	d.PoolResets[pool.Handle]++
	return core1_0.VKSuccess, nil
}

func (d *Device) DestroyDescriptorPool(pool gpu.DescriptorPool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.destroy(pool.Handle)
}

// AllocateDescriptorSet fails with VkErrorOutOfPoolMemory once a pool has handed out MaxSets sets
func (d *Device) AllocateDescriptorSet(pool gpu.DescriptorPool, layout gpu.DescriptorSetLayout) (gpu.DescriptorSet, common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if res, err := d.fail("AllocateDescriptorSet"); err != nil {
		return gpu.DescriptorSet{}, res, err
	}

	if d.PoolAllocations[pool.Handle] >= pool.MaxSets {
		return gpu.DescriptorSet{}, core1_1.VkErrorOutOfPoolMemory, core1_1.VkErrorOutOfPoolMemory.ToError()
	}
	d.PoolAllocations[pool.Handle]++

	d.nextHandle++
	return gpu.DescriptorSet{Handle: d.nextHandle, Layout: layout}, core1_0.VKSuccess, nil
}

func (d *Device) UpdateDescriptorSets(writes []gpu.DescriptorWrite) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if _, err := d.fail("UpdateDescriptorSets"); err != nil {
		return err
	}

	d.DescriptorWrites = append(d.DescriptorWrites, writes...)
	return nil
}
