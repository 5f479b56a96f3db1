package vulkan

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/quartermaster/gpu"
	"golang.org/x/exp/slog"
)

func (d *Device) CreateShaderModule(stage core1_0.ShaderStageFlags, code []byte) (gpu.ShaderModule, common.VkResult, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return gpu.ShaderModule{}, core1_0.VKErrorInitializationFailed, errors.Newf("SPIR-V code must be a non-empty multiple of 4 bytes, but was %d bytes", len(code))
	}

	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}

	module, res, err := d.device.CreateShaderModule(d.allocationCallbacks, core1_0.ShaderModuleCreateInfo{
		Code: words,
	})
	if err != nil {
		return gpu.ShaderModule{}, res, err
	}

	result := gpu.ShaderModule{
		Handle: d.newHandle(),
		Stage:  stage,
	}
	d.shaderModules.put(result.Handle, module)
	return result, res, nil
}

func (d *Device) DestroyShaderModule(module gpu.ShaderModule) {
	object, ok := d.shaderModules.take(module.Handle)
	if !ok {
		gpu.Fatalf(d.logger, "destroying unknown shader module %d", module.Handle)
	}

	object.Destroy(d.allocationCallbacks)
	d.forget(module.Handle)
}

func (d *Device) CreatePipelineLayout(info gpu.PipelineLayoutCreateInfo) (gpu.PipelineLayout, common.VkResult, error) {
	createInfo := core1_0.PipelineLayoutCreateInfo{}

	for _, setLayout := range info.SetLayouts {
		object, ok := d.setLayouts.get(setLayout.Handle)
		if !ok {
			return gpu.PipelineLayout{}, core1_0.VKErrorUnknown, errors.Newf("pipeline layout references unknown descriptor set layout %d", setLayout.Handle)
		}
		createInfo.SetLayouts = append(createInfo.SetLayouts, object)
	}

	for _, pushConstant := range info.PushConstants {
		if pushConstant.Offset+pushConstant.Size > d.limits.MaxPushConstantsSize {
			return gpu.PipelineLayout{}, core1_0.VKErrorUnknown, errors.Newf("push constant range %d+%d exceeds the device limit of %d bytes", pushConstant.Offset, pushConstant.Size, d.limits.MaxPushConstantsSize)
		}
		createInfo.PushConstantRanges = append(createInfo.PushConstantRanges, core1_0.PushConstantRange{
			StageFlags: pushConstant.Stages,
			Offset:     pushConstant.Offset,
			Size:       pushConstant.Size,
		})
	}

	layout, res, err := d.device.CreatePipelineLayout(d.allocationCallbacks, createInfo)
	if err != nil {
		return gpu.PipelineLayout{}, res, err
	}

	result := gpu.PipelineLayout{Handle: d.newHandle()}
	d.pipelineLayouts.put(result.Handle, layout)
	return result, res, nil
}

func (d *Device) DestroyPipelineLayout(layout gpu.PipelineLayout) {
	object, ok := d.pipelineLayouts.take(layout.Handle)
	if !ok {
		gpu.Fatalf(d.logger, "destroying unknown pipeline layout %d", layout.Handle)
	}

	object.Destroy(d.allocationCallbacks)
	d.forget(layout.Handle)
}

func (d *Device) shaderStages(stages []gpu.ShaderStage) ([]core1_0.PipelineShaderStageCreateInfo, error) {
	result := make([]core1_0.PipelineShaderStageCreateInfo, 0, len(stages))
	for _, stage := range stages {
		module, ok := d.shaderModules.get(stage.Module.Handle)
		if !ok {
			return nil, errors.Newf("pipeline references unknown shader module %d", stage.Module.Handle)
		}

		entryPoint := stage.EntryPoint
		if entryPoint == "" {
			entryPoint = "main"
		}
		result = append(result, core1_0.PipelineShaderStageCreateInfo{
			Name:   entryPoint,
			Stage:  stage.Module.Stage,
			Module: module,
		})
	}
	return result, nil
}

func (d *Device) pipelineLayout(layout gpu.PipelineLayout) (core1_0.PipelineLayout, error) {
	object, ok := d.pipelineLayouts.get(layout.Handle)
	if !ok {
		return nil, errors.Newf("pipeline references unknown pipeline layout %d", layout.Handle)
	}
	return object, nil
}

func (d *Device) CreateGraphicsPipelines(infos []gpu.GraphicsPipelineCreateInfo) ([]gpu.Pipeline, common.VkResult, error) {
	createInfos := make([]core1_0.GraphicsPipelineCreateInfo, 0, len(infos))

	for _, info := range infos {
		stages, err := d.shaderStages(info.Stages)
		if err != nil {
			return nil, core1_0.VKErrorUnknown, errors.Wrapf(err, "graphics pipeline %s", info.Name)
		}
		layout, err := d.pipelineLayout(info.Layout)
		if err != nil {
			return nil, core1_0.VKErrorUnknown, errors.Wrapf(err, "graphics pipeline %s", info.Name)
		}

		samples := info.RasterizationCount
		if samples == 0 {
			samples = core1_0.Samples1
		}

		renderPass, res, err := d.CompatibleRenderPass(info.ColorFormats, info.DepthFormat, samples)
		if err != nil {
			return nil, res, errors.Wrapf(err, "graphics pipeline %s", info.Name)
		}

		createInfos = append(createInfos, core1_0.GraphicsPipelineCreateInfo{
			Stages:           stages,
			VertexInputState: &core1_0.PipelineVertexInputStateCreateInfo{},
			InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
				Topology: info.Topology,
			},
			ViewportState: &core1_0.PipelineViewportStateCreateInfo{
				Viewports: []core1_0.Viewport{{Width: 1, Height: 1, MaxDepth: 1}},
				Scissors:  []core1_0.Rect2D{{Extent: core1_0.Extent2D{Width: 1, Height: 1}}},
			},
			RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
				PolygonMode: info.PolygonMode,
				CullMode:    info.CullMode,
				FrontFace:   info.FrontFace,
				LineWidth:   1,
			},
			MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
				RasterizationSamples: samples,
			},
			DepthStencilState: &core1_0.PipelineDepthStencilStateCreateInfo{
				DepthTestEnable:  info.DepthTest,
				DepthWriteEnable: info.DepthWrite,
				DepthCompareOp:   info.DepthCompareOp,
			},
			ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
				Attachments: info.Blend,
			},
			DynamicState: &core1_0.PipelineDynamicStateCreateInfo{
				DynamicStates: []core1_0.DynamicState{core1_0.DynamicStateViewport, core1_0.DynamicStateScissor},
			},
			Layout:            layout,
			RenderPass:        renderPass,
			BasePipelineIndex: -1,
		})
	}

	pipelines, res, err := d.device.CreateGraphicsPipelines(nil, d.allocationCallbacks, createInfos)
	if err != nil {
		return nil, res, err
	}

	return d.storePipelines(pipelines, core1_0.PipelineBindPointGraphics, func(index int) (string, gpu.PipelineLayout) {
		return infos[index].Name, infos[index].Layout
	}), res, nil
}

func (d *Device) CreateComputePipelines(infos []gpu.ComputePipelineCreateInfo) ([]gpu.Pipeline, common.VkResult, error) {
	createInfos := make([]core1_0.ComputePipelineCreateInfo, 0, len(infos))

	for _, info := range infos {
		stages, err := d.shaderStages([]gpu.ShaderStage{info.Stage})
		if err != nil {
			return nil, core1_0.VKErrorUnknown, errors.Wrapf(err, "compute pipeline %s", info.Name)
		}
		layout, err := d.pipelineLayout(info.Layout)
		if err != nil {
			return nil, core1_0.VKErrorUnknown, errors.Wrapf(err, "compute pipeline %s", info.Name)
		}

		createInfos = append(createInfos, core1_0.ComputePipelineCreateInfo{
			Stage:             stages[0],
			Layout:            layout,
			BasePipelineIndex: -1,
		})
	}

	pipelines, res, err := d.device.CreateComputePipelines(nil, d.allocationCallbacks, createInfos)
	if err != nil {
		return nil, res, err
	}

	return d.storePipelines(pipelines, core1_0.PipelineBindPointCompute, func(index int) (string, gpu.PipelineLayout) {
		return infos[index].Name, infos[index].Layout
	}), res, nil
}

// CreateRayTracingPipelines always fails: the core/v2 bindings do not expose
// khr_ray_tracing_pipeline
func (d *Device) CreateRayTracingPipelines(infos []gpu.RayTracingPipelineCreateInfo) ([]gpu.Pipeline, common.VkResult, error) {
	return nil, core1_0.VKErrorFeatureNotPresent, errors.Wrapf(core1_0.VKErrorFeatureNotPresent.ToError(), "ray tracing pipelines are not supported by the vulkan backend (%d requested)", len(infos))
}

func (d *Device) storePipelines(pipelines []core1_0.Pipeline, bindPoint core1_0.PipelineBindPoint, describe func(index int) (string, gpu.PipelineLayout)) []gpu.Pipeline {
	result := make([]gpu.Pipeline, 0, len(pipelines))
	for index, pipeline := range pipelines {
		name, layout := describe(index)
		handle := d.newHandle()
		d.pipelines.put(handle, pipeline)
		d.SetDebugName(handle, name)

		result = append(result, gpu.Pipeline{
			Handle:    handle,
			BindPoint: bindPoint,
			Layout:    layout,
		})
	}
	return result
}

func (d *Device) DestroyPipeline(pipeline gpu.Pipeline) {
	object, ok := d.pipelines.take(pipeline.Handle)
	if !ok {
		gpu.Fatalf(d.logger, "destroying unknown pipeline %d", pipeline.Handle)
	}

	object.Destroy(d.allocationCallbacks)
	d.forget(pipeline.Handle)
}

// renderPassCache holds one single-subpass render pass per attachment signature. Graphics
// pipelines are built against them and can be used with any compatible render pass.
type renderPassCache struct {
	lock   sync.Mutex
	passes *swiss.Map[string, core1_0.RenderPass]
}

func renderPassKey(colorFormats []core1_0.Format, depthFormat core1_0.Format, samples core1_0.SampleCountFlags) string {
	var key strings.Builder
	for _, format := range colorFormats {
		fmt.Fprintf(&key, "%d,", format)
	}
	fmt.Fprintf(&key, "d%d,s%d", depthFormat, samples)
	return key.String()
}

// CompatibleRenderPass returns the render pass graphics pipelines with these attachments are built
// against. The Device owns it until Destroy.
func (d *Device) CompatibleRenderPass(colorFormats []core1_0.Format, depthFormat core1_0.Format, samples core1_0.SampleCountFlags) (core1_0.RenderPass, common.VkResult, error) {
	key := renderPassKey(colorFormats, depthFormat, samples)

	d.renderPasses.lock.Lock()
	defer d.renderPasses.lock.Unlock()

	renderPass, ok := d.renderPasses.passes.Get(key)
	if ok {
		return renderPass, core1_0.VKSuccess, nil
	}

	createInfo := core1_0.RenderPassCreateInfo{}
	subpass := core1_0.SubpassDescription{
		PipelineBindPoint: core1_0.PipelineBindPointGraphics,
	}

	for _, format := range colorFormats {
		subpass.ColorAttachments = append(subpass.ColorAttachments, core1_0.AttachmentReference{
			Attachment: len(createInfo.Attachments),
			Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
		})
		createInfo.Attachments = append(createInfo.Attachments, core1_0.AttachmentDescription{
			Format:         format,
			Samples:        samples,
			LoadOp:         core1_0.AttachmentLoadOpLoad,
			StoreOp:        core1_0.AttachmentStoreOpStore,
			StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
			StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
			InitialLayout:  core1_0.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    core1_0.ImageLayoutColorAttachmentOptimal,
		})
	}

	if depthFormat != 0 {
		subpass.DepthStencilAttachment = &core1_0.AttachmentReference{
			Attachment: len(createInfo.Attachments),
			Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
		}
		createInfo.Attachments = append(createInfo.Attachments, core1_0.AttachmentDescription{
			Format:         depthFormat,
			Samples:        samples,
			LoadOp:         core1_0.AttachmentLoadOpLoad,
			StoreOp:        core1_0.AttachmentStoreOpStore,
			StencilLoadOp:  core1_0.AttachmentLoadOpLoad,
			StencilStoreOp: core1_0.AttachmentStoreOpStore,
			InitialLayout:  core1_0.ImageLayoutDepthStencilAttachmentOptimal,
			FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
		})
	}
	createInfo.Subpasses = []core1_0.SubpassDescription{subpass}

	renderPass, res, err := d.device.CreateRenderPass(d.allocationCallbacks, createInfo)
	if err != nil {
		return nil, res, err
	}

	d.renderPasses.passes.Put(key, renderPass)
	d.logger.Debug("Device::CompatibleRenderPass", slog.String("Attachments", key))
	return renderPass, res, nil
}
