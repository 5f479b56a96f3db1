// Package pipeline builds pipelines from named configs, rebuilding only the configs that were
// added or reloaded since the last Update.
package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/jinzhu/copier"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/quartermaster/deletion"
	"github.com/vkngwrapper/quartermaster/gpu"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

const defaultEntryPoint = "main"

// Device is the subset of gpu.Device a Manager needs
type Device interface {
	gpu.PipelineDevice
	SetDebugName(handle gpu.Handle, name string)
}

type Options struct {
	// ShaderRoot is prepended to relative shader paths
	ShaderRoot string
	// ReadShader loads SPIR-V from a resolved path. It defaults to os.ReadFile.
	ReadShader func(path string) ([]byte, error)
	// WatchShaders starts a Watcher from New, which Destroy closes
	WatchShaders bool
}

// Manager owns every pipeline it builds along with its layout.
//
// Manager is not safe for concurrent use, with the exception of NotifyShaderChanged.
type Manager struct {
	logger        *slog.Logger
	device        Device
	deletionQueue *deletion.Queue
	shaderRoot    string
	readShader    func(path string) ([]byte, error)

	configs   *swiss.Map[string, Config]
	pipelines *swiss.Map[string, gpu.Pipeline]
	dirty     map[string]struct{}
	builds    int

	changes changeQueue
	watcher *Watcher
}

func New(logger *slog.Logger, device Device, deletionQueue *deletion.Queue, options Options) (*Manager, error) {
	if device == nil || deletionQueue == nil {
		return nil, errors.New("pipeline.New requires a device and a deletion queue")
	}

	readShader := options.ReadShader
	if readShader == nil {
		readShader = os.ReadFile
	}

	manager := &Manager{
		logger:        gpu.DiscardLogger(logger),
		device:        device,
		deletionQueue: deletionQueue,
		shaderRoot:    options.ShaderRoot,
		readShader:    readShader,

		configs:   swiss.NewMap[string, Config](16),
		pipelines: swiss.NewMap[string, gpu.Pipeline](16),
		dirty:     make(map[string]struct{}),
	}

	if options.WatchShaders {
		if _, err := manager.Watch(context.Background()); err != nil {
			return nil, err
		}
	}

	return manager, nil
}

// Watcher returns the running shader watcher, or nil when shaders are not watched
func (m *Manager) Watcher() *Watcher {
	return m.watcher
}

func (m *Manager) resolve(path string) string {
	if !filepath.IsAbs(path) && m.shaderRoot != "" {
		path = filepath.Join(m.shaderRoot, path)
	}
	return filepath.Clean(path)
}

// AddPipeline stores a copy of config under id and marks it for the next Update, replacing any
// config already registered under id. An invalid config is fatal.
func (m *Manager) AddPipeline(id string, config Config) {
	if err := config.validate(); err != nil {
		gpu.Fatalf(m.logger, "invalid pipeline config %s: %v", id, err)
	}

	var stored Config
	err := copier.CopyWithOption(&stored, &config, copier.Option{DeepCopy: true})
	gpu.Check(m.logger, err, "PipelineManager copy config")

	m.configs.Put(id, stored)
	m.dirty[id] = struct{}{}

	if m.watcher != nil {
		m.watcher.watchConfig(stored)
	}
}

// Reload marks the config registered under id for the next Update without changing it
func (m *Manager) Reload(id string) {
	if !m.configs.Has(id) {
		gpu.Fatalf(m.logger, "can't reload unknown pipeline %s", id)
	}
	m.dirty[id] = struct{}{}
}

func (m *Manager) ReloadAll() {
	m.configs.Iter(func(id string, _ Config) bool {
		m.dirty[id] = struct{}{}
		return false
	})
}

func (m *Manager) IsDirty(id string) bool {
	_, ok := m.dirty[id]
	return ok
}

func (m *Manager) DirtyCount() int {
	return len(m.dirty)
}

// GetPipeline returns the most recently built pipeline for id. A pipeline that has never been
// built, or an unknown id, is fatal.
func (m *Manager) GetPipeline(id string) gpu.Pipeline {
	pipeline, ok := m.pipelines.Get(id)
	if !ok {
		gpu.Fatalf(m.logger, "failed to find pipeline %s", id)
	}
	return pipeline
}

type batch[T any] struct {
	ids   []string
	infos []T
}

func (b *batch[T]) add(id string, info T) {
	b.ids = append(b.ids, id)
	b.infos = append(b.infos, info)
}

// Update builds every dirty config. Each kind of pipeline is created with a single driver call.
// Pipelines being replaced are destroyed through the deletion queue, since in-flight frames may
// still be using them.
func (m *Manager) Update() {
	if len(m.dirty) == 0 {
		return
	}

	ids := maps.Keys(m.dirty)
	slices.Sort(ids)

	var modules []gpu.ShaderModule
	defer func() {
		for _, module := range modules {
			m.device.DestroyShaderModule(module)
		}
	}()

	var graphics batch[gpu.GraphicsPipelineCreateInfo]
	var compute batch[gpu.ComputePipelineCreateInfo]
	var rayTracing batch[gpu.RayTracingPipelineCreateInfo]

	for _, id := range ids {
		config, _ := m.configs.Get(id)

		stages := make([]gpu.ShaderStage, 0, len(config.Shaders))
		for _, shader := range config.Shaders {
			module := m.loadShader(id, shader)
			modules = append(modules, module)

			entryPoint := shader.EntryPoint
			if entryPoint == "" {
				entryPoint = defaultEntryPoint
			}
			stages = append(stages, gpu.ShaderStage{Module: module, EntryPoint: entryPoint})
		}

		layout, res, err := m.device.CreatePipelineLayout(gpu.PipelineLayoutCreateInfo{
			SetLayouts:    config.SetLayouts,
			PushConstants: config.PushConstants,
		})
		gpu.CheckResult(m.logger, res, err, "PipelineManager CreatePipelineLayout")
		m.device.SetDebugName(layout.Handle, id+"/Pipeline/Layout")

		if old, ok := m.pipelines.Get(id); ok {
			m.deletionQueue.Push(func() {
				m.device.DestroyPipeline(old)
				m.device.DestroyPipelineLayout(old.Layout)
			})
			m.pipelines.Delete(id)
		}

		switch config.Kind {
		case KindGraphics:
			graphics.add(id, gpu.GraphicsPipelineCreateInfo{
				Name:               id,
				Layout:             layout,
				Stages:             stages,
				Topology:           config.Topology,
				PolygonMode:        config.PolygonMode,
				CullMode:           config.CullMode,
				FrontFace:          config.FrontFace,
				DepthTest:          config.DepthTest,
				DepthWrite:         config.DepthWrite,
				DepthCompareOp:     config.DepthCompareOp,
				Blend:              config.Blend,
				ColorFormats:       config.ColorFormats,
				DepthFormat:        config.DepthFormat,
				RasterizationCount: config.Samples,
			})
		case KindCompute:
			compute.add(id, gpu.ComputePipelineCreateInfo{
				Name:   id,
				Layout: layout,
				Stage:  stages[0],
			})
		case KindRayTracing:
			rayTracing.add(id, gpu.RayTracingPipelineCreateInfo{
				Name:              id,
				Layout:            layout,
				Stages:            stages,
				Groups:            config.Groups,
				MaxRecursionDepth: config.MaxRecursionDepth,
			})
		}
	}

	m.logger.Debug("Compiling pipelines!",
		slog.Int("Total", len(ids)),
		slog.Int("Graphics", len(graphics.ids)),
		slog.Int("Compute", len(compute.ids)),
		slog.Int("RayTracing", len(rayTracing.ids)),
	)

	if len(graphics.ids) > 0 {
		pipelines, res, err := m.device.CreateGraphicsPipelines(graphics.infos)
		gpu.CheckResult(m.logger, res, err, "PipelineManager CreateGraphicsPipelines")
		m.store(graphics.ids, pipelines)
	}

	if len(compute.ids) > 0 {
		pipelines, res, err := m.device.CreateComputePipelines(compute.infos)
		gpu.CheckResult(m.logger, res, err, "PipelineManager CreateComputePipelines")
		m.store(compute.ids, pipelines)
	}

	if len(rayTracing.ids) > 0 {
		pipelines, res, err := m.device.CreateRayTracingPipelines(rayTracing.infos)
		gpu.CheckResult(m.logger, res, err, "PipelineManager CreateRayTracingPipelines")
		m.store(rayTracing.ids, pipelines)
	}

	m.dirty = make(map[string]struct{})
	m.builds++
}

func (m *Manager) loadShader(id string, shader Shader) gpu.ShaderModule {
	path := m.resolve(shader.Path)

	code, err := m.readShader(path)
	if err != nil {
		gpu.Fatalf(m.logger, "unable to read shader %s for pipeline %s: %v", path, id, err)
	}

	module, res, err := m.device.CreateShaderModule(shader.Stage, code)
	gpu.CheckResult(m.logger, res, err, "PipelineManager CreateShaderModule")
	return module
}

func (m *Manager) store(ids []string, pipelines []gpu.Pipeline) {
	if len(pipelines) != len(ids) {
		gpu.Fatalf(m.logger, "driver returned %d pipelines for %d create infos", len(pipelines), len(ids))
	}

	for i, id := range ids {
		m.pipelines.Put(id, pipelines[i])
		m.device.SetDebugName(pipelines[i].Handle, id+"/Pipeline")
	}
}

// Destroy closes the shader watcher and destroys every pipeline and layout immediately. Configs
// are kept, so ReloadAll followed by Update rebuilds them.
func (m *Manager) Destroy() {
	if m.watcher != nil {
		if err := m.watcher.Close(); err != nil {
			m.logger.Warn("failed to close shader watcher", slog.Any("error", err))
		}
		m.watcher = nil
	}

	m.pipelines.Iter(func(id string, pipeline gpu.Pipeline) bool {
		m.device.DestroyPipeline(pipeline)
		m.device.DestroyPipelineLayout(pipeline.Layout)
		return false
	})

	m.pipelines = swiss.NewMap[string, gpu.Pipeline](16)
	m.dirty = make(map[string]struct{})
}

func (m *Manager) BuildStatsString() string {
	kinds := make(map[core1_0.PipelineBindPoint]int)
	m.pipelines.Iter(func(_ string, pipeline gpu.Pipeline) bool {
		kinds[pipeline.BindPoint]++
		return false
	})

	writer := jwriter.NewWriter()
	obj := writer.Object()
	obj.Name("Configs").Int(m.configs.Count())
	obj.Name("Pipelines").Int(m.pipelines.Count())
	obj.Name("Dirty").Int(len(m.dirty))
	obj.Name("Builds").Int(m.builds)

	kindObj := obj.Name("Kinds").Object()
	for _, kind := range []Kind{KindGraphics, KindCompute, KindRayTracing} {
		kindObj.Name(kind.String()).Int(kinds[kind.BindPoint()])
	}
	kindObj.End()

	obj.End()
	return string(writer.Bytes())
}
