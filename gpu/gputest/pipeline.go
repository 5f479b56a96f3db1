package gputest

import (
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/quartermaster/gpu"
)

func (d *Device) CreateShaderModule(stage core1_0.ShaderStageFlags, code []byte) (gpu.ShaderModule, common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if res, err := d.fail("CreateShaderModule"); err != nil {
		return gpu.ShaderModule{}, res, err
	}

	module := gpu.ShaderModule{Handle: d.create("shaderModule"), Stage: stage}
	d.ShaderModules = append(d.ShaderModules, module)
	return module, core1_0.VKSuccess, nil
}

func (d *Device) DestroyShaderModule(module gpu.ShaderModule) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.destroy(module.Handle)
}

func (d *Device) CreatePipelineLayout(info gpu.PipelineLayoutCreateInfo) (gpu.PipelineLayout, common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if res, err := d.fail("CreatePipelineLayout"); err != nil {
		return gpu.PipelineLayout{}, res, err
	}

	return gpu.PipelineLayout{Handle: d.create("pipelineLayout")}, core1_0.VKSuccess, nil
}

func (d *Device) DestroyPipelineLayout(layout gpu.PipelineLayout) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.destroy(layout.Handle)
}

func (d *Device) createPipelines(call string, bindPoint core1_0.PipelineBindPoint, layouts []gpu.PipelineLayout) ([]gpu.Pipeline, common.VkResult, error) {
	if res, err := d.fail(call); err != nil {
		return nil, res, err
	}

	pipelines := make([]gpu.Pipeline, 0, len(layouts))
	for _, layout := range layouts {
		pipelines = append(pipelines, gpu.Pipeline{
			Handle:    d.create("pipeline"),
			BindPoint: bindPoint,
			Layout:    layout,
		})
	}
	return pipelines, core1_0.VKSuccess, nil
}

func (d *Device) CreateGraphicsPipelines(infos []gpu.GraphicsPipelineCreateInfo) ([]gpu.Pipeline, common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.GraphicsBatches = append(d.GraphicsBatches, infos)
	layouts := make([]gpu.PipelineLayout, 0, len(infos))
	for _, info := range infos {
		layouts = append(layouts, info.Layout)
	}
	return d.createPipelines("CreateGraphicsPipelines", core1_0.PipelineBindPointGraphics, layouts)
}

func (d *Device) CreateComputePipelines(infos []gpu.ComputePipelineCreateInfo) ([]gpu.Pipeline, common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.ComputeBatches = append(d.ComputeBatches, infos)
	layouts := make([]gpu.PipelineLayout, 0, len(infos))
	for _, info := range infos {
		layouts = append(layouts, info.Layout)
	}
	return d.createPipelines("CreateComputePipelines", core1_0.PipelineBindPointCompute, layouts)
}

func (d *Device) CreateRayTracingPipelines(infos []gpu.RayTracingPipelineCreateInfo) ([]gpu.Pipeline, common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.RayTracingBatches = append(d.RayTracingBatches, infos)
	layouts := make([]gpu.PipelineLayout, 0, len(infos))
	for _, info := range infos {
		layouts = append(layouts, info.Layout)
	}
	return d.createPipelines("CreateRayTracingPipelines", gpu.PipelineBindPointRayTracing, layouts)
}

func (d *Device) DestroyPipeline(pipeline gpu.Pipeline) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.destroy(pipeline.Handle)
}
