package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_2"
	"github.com/vkngwrapper/quartermaster/gpu"
	"golang.org/x/exp/slog"
)

type descriptorSetObject struct {
	set  core1_0.DescriptorSet
	pool gpu.Handle
}

func (d *Device) CreateDescriptorSetLayout(info gpu.DescriptorSetLayoutCreateInfo) (gpu.DescriptorSetLayout, common.VkResult, error) {
	createInfo := core1_0.DescriptorSetLayoutCreateInfo{
		Flags:    info.Flags,
		Bindings: make([]core1_0.DescriptorSetLayoutBinding, 0, len(info.Bindings)),
	}

	needsBindingFlags := false
	bindingFlags := make([]core1_2.DescriptorBindingFlags, 0, len(info.Bindings))
	for _, binding := range info.Bindings {
		createInfo.Bindings = append(createInfo.Bindings, core1_0.DescriptorSetLayoutBinding{
			Binding:         binding.Binding,
			DescriptorType:  binding.Type,
			DescriptorCount: binding.Count,
			StageFlags:      binding.Stages,
		})
		bindingFlags = append(bindingFlags, binding.Flags)
		if binding.Flags != 0 {
			needsBindingFlags = true
		}
	}

	if needsBindingFlags {
		if !d.extensionData.DescriptorIndexing {
			return gpu.DescriptorSetLayout{}, core1_0.VKErrorExtensionNotPresent, errors.Newf("descriptor set layout %q uses binding flags, but descriptor indexing is not active", info.Name)
		}

		flagsInfo := core1_2.DescriptorSetLayoutBindingFlagsCreateInfo{
			BindingFlags: bindingFlags,
		}
		flagsInfo.Next = createInfo.Next
		createInfo.Next = flagsInfo
	}

	layout, res, err := d.device.CreateDescriptorSetLayout(d.allocationCallbacks, createInfo)
	if err != nil {
		return gpu.DescriptorSetLayout{}, res, err
	}

	result := gpu.DescriptorSetLayout{Handle: d.newHandle()}
	d.setLayouts.put(result.Handle, layout)
	d.SetDebugName(result.Handle, info.Name)
	return result, res, nil
}

func (d *Device) DestroyDescriptorSetLayout(layout gpu.DescriptorSetLayout) {
	object, ok := d.setLayouts.take(layout.Handle)
	if !ok {
		gpu.Fatalf(d.logger, "destroying unknown descriptor set layout %d", layout.Handle)
	}

	object.Destroy(d.allocationCallbacks)
	d.forget(layout.Handle)
}

func (d *Device) CreateDescriptorPool(info gpu.DescriptorPoolCreateInfo) (gpu.DescriptorPool, common.VkResult, error) {
	createInfo := core1_0.DescriptorPoolCreateInfo{
		Flags:   info.Flags,
		MaxSets: info.MaxSets,
	}
	for _, size := range info.PoolSizes {
		createInfo.PoolSizes = append(createInfo.PoolSizes, core1_0.DescriptorPoolSize{
			Type:            size.Type,
			DescriptorCount: size.Count,
		})
	}

	pool, res, err := d.device.CreateDescriptorPool(d.allocationCallbacks, createInfo)
	if err != nil {
		return gpu.DescriptorPool{}, res, err
	}

	result := gpu.DescriptorPool{
		Handle:  d.newHandle(),
		MaxSets: info.MaxSets,
	}
	d.descriptorPools.put(result.Handle, pool)
	d.SetDebugName(result.Handle, info.Name)
	return result, res, nil
}

// releaseSets forgets the sets allocated from pool, which the driver frees along with it
func (d *Device) releaseSets(pool gpu.Handle) {
	released := d.descriptorSets.removeIf(func(handle gpu.Handle, object descriptorSetObject) bool {
		return object.pool == pool
	})
	if released > 0 {
		d.logger.Debug("Device::releaseSets", slog.Uint64("Pool", uint64(pool)), slog.Int("Sets", released))
	}
}

func (d *Device) ResetDescriptorPool(pool gpu.DescriptorPool) (common.VkResult, error) {
	object, ok := d.descriptorPools.get(pool.Handle)
	if !ok {
		return core1_0.VKErrorUnknown, errors.Newf("resetting unknown descriptor pool %d", pool.Handle)
	}

	res, err := object.Reset(0)
	if err != nil {
		return res, err
	}

	d.releaseSets(pool.Handle)
	return res, nil
}

func (d *Device) DestroyDescriptorPool(pool gpu.DescriptorPool) {
	object, ok := d.descriptorPools.take(pool.Handle)
	if !ok {
		gpu.Fatalf(d.logger, "destroying unknown descriptor pool %d", pool.Handle)
	}

	object.Destroy(d.allocationCallbacks)
	d.releaseSets(pool.Handle)
	d.forget(pool.Handle)
}

func (d *Device) AllocateDescriptorSet(pool gpu.DescriptorPool, layout gpu.DescriptorSetLayout) (gpu.DescriptorSet, common.VkResult, error) {
	poolObject, ok := d.descriptorPools.get(pool.Handle)
	if !ok {
		return gpu.DescriptorSet{}, core1_0.VKErrorUnknown, errors.Newf("allocating from unknown descriptor pool %d", pool.Handle)
	}
	layoutObject, ok := d.setLayouts.get(layout.Handle)
	if !ok {
		return gpu.DescriptorSet{}, core1_0.VKErrorUnknown, errors.Newf("allocating with unknown descriptor set layout %d", layout.Handle)
	}

	sets, res, err := d.device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: poolObject,
		SetLayouts:     []core1_0.DescriptorSetLayout{layoutObject},
	})
	if err != nil {
		// Out of pool memory and fragmentation come back through res for the caller to act on
		return gpu.DescriptorSet{}, res, err
	}
	if len(sets) != 1 {
		return gpu.DescriptorSet{}, core1_0.VKErrorUnknown, errors.Newf("expected 1 descriptor set but the driver returned %d", len(sets))
	}

	result := gpu.DescriptorSet{
		Handle: d.newHandle(),
		Layout: layout,
	}
	d.descriptorSets.put(result.Handle, descriptorSetObject{set: sets[0], pool: pool.Handle})
	return result, res, nil
}

func bufferRange(size uint64) int {
	if size == gpu.WholeSize {
		return -1
	}
	return int(size)
}

func (d *Device) UpdateDescriptorSets(writes []gpu.DescriptorWrite) error {
	if len(writes) == 0 {
		return nil
	}

	driverWrites := make([]core1_0.WriteDescriptorSet, 0, len(writes))
	for writeIndex, write := range writes {
		set, ok := d.descriptorSets.get(write.Set.Handle)
		if !ok {
			return errors.Newf("descriptor write %d targets unknown set %d", writeIndex, write.Set.Handle)
		}

		driverWrite := core1_0.WriteDescriptorSet{
			DstSet:          set.set,
			DstBinding:      write.Binding,
			DstArrayElement: write.ArrayElement,
			DescriptorType:  write.Type,
		}

		for _, image := range write.Images {
			imageInfo := core1_0.DescriptorImageInfo{
				ImageLayout: image.Layout,
			}
			if image.Sampler.Handle != gpu.NullHandle {
				imageInfo.Sampler, ok = d.samplers.get(image.Sampler.Handle)
				if !ok {
					return errors.Newf("descriptor write %d references unknown sampler %d", writeIndex, image.Sampler.Handle)
				}
			}
			if image.View.Handle != gpu.NullHandle {
				imageInfo.ImageView, ok = d.imageViews.get(image.View.Handle)
				if !ok {
					return errors.Newf("descriptor write %d references unknown image view %d", writeIndex, image.View.Handle)
				}
			}
			driverWrite.ImageInfo = append(driverWrite.ImageInfo, imageInfo)
		}

		for _, buffer := range write.Buffers {
			object, ok := d.buffers.get(buffer.Buffer.Handle)
			if !ok {
				return errors.Newf("descriptor write %d references unknown buffer %d", writeIndex, buffer.Buffer.Handle)
			}
			driverWrite.BufferInfo = append(driverWrite.BufferInfo, core1_0.DescriptorBufferInfo{
				Buffer: object.buffer,
				Offset: int(buffer.Offset),
				Range:  bufferRange(buffer.Range),
			})
		}

		driverWrites = append(driverWrites, driverWrite)
	}

	return d.device.UpdateDescriptorSets(driverWrites, nil)
}
