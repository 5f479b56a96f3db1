package pipeline

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/quartermaster/gpu"
)

// Kind selects which batched creation call builds a pipeline
type Kind int32

const (
	KindGraphics Kind = iota
	KindCompute
	KindRayTracing
)

var kindNames = map[Kind]string{
	KindGraphics:   "Graphics",
	KindCompute:    "Compute",
	KindRayTracing: "RayTracing",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return "Unknown"
	}
	return name
}

func (k Kind) BindPoint() core1_0.PipelineBindPoint {
	switch k {
	case KindCompute:
		return core1_0.PipelineBindPointCompute
	case KindRayTracing:
		return gpu.PipelineBindPointRayTracing
	default:
		return core1_0.PipelineBindPointGraphics
	}
}

// Shader is one SPIR-V stage. Relative paths are resolved against Options.ShaderRoot.
type Shader struct {
	Path  string
	Stage core1_0.ShaderStageFlags
	// EntryPoint defaults to "main"
	EntryPoint string
}

// Config describes how to build one pipeline. Only the fields relevant to Kind are read: Groups
// and MaxRecursionDepth for ray tracing, the rasterization state for graphics.
//
// The manager keeps its own deep copy, so a Config may be reused or modified after AddPipeline.
type Config struct {
	Kind    Kind
	Shaders []Shader

	SetLayouts    []gpu.DescriptorSetLayout
	PushConstants []gpu.PushConstantRange

	Topology       core1_0.PrimitiveTopology
	PolygonMode    core1_0.PolygonMode
	CullMode       core1_0.CullModeFlags
	FrontFace      core1_0.FrontFace
	DepthTest      bool
	DepthWrite     bool
	DepthCompareOp core1_0.CompareOp
	Blend          []core1_0.PipelineColorBlendAttachmentState
	ColorFormats   []core1_0.Format
	DepthFormat    core1_0.Format
	Samples        core1_0.SampleCountFlags

	Groups            []gpu.RayTracingShaderGroup
	MaxRecursionDepth int
}

// GraphicsConfig returns a graphics config that draws filled, back-face culled triangle lists
// into the given color formats with depth testing disabled
func GraphicsConfig(colorFormats ...core1_0.Format) Config {
	config := Config{
		Kind:        KindGraphics,
		Topology:    core1_0.PrimitiveTopologyTriangleList,
		PolygonMode: core1_0.PolygonModeFill,
		CullMode:    core1_0.CullModeBack,
		FrontFace:   core1_0.FrontFaceCounterClockwise,
		Samples:     core1_0.Samples1,
	}

	for _, format := range colorFormats {
		config.ColorFormats = append(config.ColorFormats, format)
		config.Blend = append(config.Blend, DefaultBlendAttachment())
	}

	return config
}

func ComputeConfig(path string) Config {
	return Config{
		Kind:    KindCompute,
		Shaders: []Shader{{Path: path, Stage: core1_0.StageCompute}},
	}
}

// DefaultBlendAttachment writes every channel with blending off
func DefaultBlendAttachment() core1_0.PipelineColorBlendAttachmentState {
	return core1_0.PipelineColorBlendAttachmentState{
		ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen |
			core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
	}
}

func (c Config) validate() error {
	if _, ok := kindNames[c.Kind]; !ok {
		return errors.Newf("unknown pipeline kind %d", c.Kind)
	}

	if len(c.Shaders) == 0 {
		return errors.New("pipeline has no shaders")
	}

	for i, shader := range c.Shaders {
		if shader.Path == "" {
			return errors.Newf("shader %d has no path", i)
		}
		if shader.Stage == 0 {
			return errors.Newf("shader %s has no stage", shader.Path)
		}
	}

	switch c.Kind {
	case KindCompute:
		if len(c.Shaders) != 1 || c.Shaders[0].Stage != core1_0.StageCompute {
			return errors.New("compute pipelines take exactly one compute shader")
		}
	case KindGraphics:
		if len(c.Blend) != len(c.ColorFormats) {
			return errors.Newf("%d blend attachments for %d color formats", len(c.Blend), len(c.ColorFormats))
		}
	case KindRayTracing:
		if len(c.Groups) == 0 {
			return errors.New("ray tracing pipeline has no shader groups")
		}
		for i, group := range c.Groups {
			for _, index := range []int{group.General, group.ClosestHit, group.AnyHit, group.Intersection} {
				if index < -1 || index >= len(c.Shaders) {
					return errors.Newf("shader group %d references stage %d of %d", i, index, len(c.Shaders))
				}
			}
		}
	}

	return nil
}
