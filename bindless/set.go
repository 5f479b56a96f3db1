// Package bindless manages one update-after-bind descriptor set holding every sampler, sampled
// image and storage image the renderer indexes by slot.
package bindless

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_2"
	"github.com/vkngwrapper/quartermaster/deletion"
	"github.com/vkngwrapper/quartermaster/gpu"
	"github.com/vkngwrapper/quartermaster/idalloc"
	"golang.org/x/exp/slog"
)

// Bindings of the three arrays in the set
const (
	SamplerBinding      = 0
	SampledImageBinding = 1
	StorageImageBinding = 2
)

// Compiled maximum array sizes. The arrays are further clamped to the device limits.
const (
	DefaultMaxSamplers      uint32 = 1 << 8
	DefaultMaxSampledImages uint32 = 1 << 16
	DefaultMaxStorageImages uint32 = 1 << 12
)

const bindingFlags = core1_2.DescriptorBindingPartiallyBound | core1_2.DescriptorBindingUpdateAfterBind

// Device is the subset of gpu.Device a Set needs
type Device interface {
	gpu.DescriptorDevice
	Limits() gpu.Limits
	SetDebugName(handle gpu.Handle, name string)
}

type CreateOptions struct {
	// MaxSamplers, MaxSampledImages and MaxStorageImages bound the array sizes. Zero selects the
	// compiled default. The device limit always wins when it is lower.
	MaxSamplers      uint32
	MaxSampledImages uint32
	MaxStorageImages uint32
	// Stages are the shader stages the arrays are visible to; zero means every stage
	Stages core1_0.ShaderStageFlags
}

// Set is the bindless descriptor set. Write* assign a slot and queue the descriptor write;
// nothing is visible to the GPU until Update. Freed slots return to their array only when the
// deletion queue is flushed, so a slot still referenced by a frame in flight is not reassigned.
//
// Set is not safe for concurrent use.
type Set struct {
	logger        *slog.Logger
	device        Device
	deletionQueue *deletion.Queue

	pool   gpu.DescriptorPool
	layout gpu.DescriptorSetLayout
	set    gpu.DescriptorSet

	samplers      *idalloc.Allocator
	sampledImages *idalloc.Allocator
	storageImages *idalloc.Allocator

	// slots freed but still waiting on the deletion queue
	pendingFrees map[pendingFree]struct{}

	writes []gpu.DescriptorWrite
}

type pendingFree struct {
	binding int
	slot    idalloc.ID
}

func clampCount(requested uint32, fallback uint32, limit int) uint32 {
	count := requested
	if count == 0 {
		count = fallback
	}
	if limit > 0 && uint32(limit) < count {
		count = uint32(limit)
	}
	return count
}

// New creates the descriptor pool, layout and set. Driver failures are fatal.
func New(logger *slog.Logger, device Device, deletionQueue *deletion.Queue, options CreateOptions) (*Set, error) {
	if device == nil || deletionQueue == nil {
		return nil, errors.New("bindless.New requires a device and a deletion queue")
	}

	logger = gpu.DiscardLogger(logger)
	limits := device.Limits()

	maxSamplers := clampCount(options.MaxSamplers, DefaultMaxSamplers, limits.MaxDescriptorSetSamplers)
	maxSampledImages := clampCount(options.MaxSampledImages, DefaultMaxSampledImages, limits.MaxDescriptorSetSampledImages)
	maxStorageImages := clampCount(options.MaxStorageImages, DefaultMaxStorageImages, limits.MaxDescriptorSetStorageImages)
	if maxSamplers == 0 || maxSampledImages == 0 || maxStorageImages == 0 {
		return nil, errors.Newf("bindless set would have an empty array: samplers %d, sampled images %d, storage images %d",
			maxSamplers, maxSampledImages, maxStorageImages)
	}

	stages := options.Stages
	if stages == 0 {
		stages = core1_0.StageAll
	}

	logger.Info("creating bindless set",
		slog.Int("MaxSamplers", int(maxSamplers)),
		slog.Int("MaxSampledImages", int(maxSampledImages)),
		slog.Int("MaxStorageImages", int(maxStorageImages)),
	)

	pool, res, err := device.CreateDescriptorPool(gpu.DescriptorPoolCreateInfo{
		Flags:   core1_2.DescriptorPoolCreateUpdateAfterBind,
		MaxSets: 1,
		PoolSizes: []gpu.DescriptorPoolSize{
			{Type: core1_0.DescriptorTypeSampler, Count: int(maxSamplers)},
			{Type: core1_0.DescriptorTypeSampledImage, Count: int(maxSampledImages)},
			{Type: core1_0.DescriptorTypeStorageImage, Count: int(maxStorageImages)},
		},
		Name: "BindlessSet/DescriptorPool",
	})
	gpu.CheckResult(logger, res, err, "bindless.New CreateDescriptorPool")

	layout, res, err := device.CreateDescriptorSetLayout(gpu.DescriptorSetLayoutCreateInfo{
		Flags: core1_2.DescriptorSetLayoutCreateUpdateAfterBindPool,
		Bindings: []gpu.DescriptorSetLayoutBinding{
			{Binding: SamplerBinding, Type: core1_0.DescriptorTypeSampler, Count: int(maxSamplers), Stages: stages, Flags: bindingFlags},
			{Binding: SampledImageBinding, Type: core1_0.DescriptorTypeSampledImage, Count: int(maxSampledImages), Stages: stages, Flags: bindingFlags},
			{Binding: StorageImageBinding, Type: core1_0.DescriptorTypeStorageImage, Count: int(maxStorageImages), Stages: stages, Flags: bindingFlags},
		},
		Name: "BindlessSet/DescriptorSetLayout",
	})
	gpu.CheckResult(logger, res, err, "bindless.New CreateDescriptorSetLayout")

	set, res, err := device.AllocateDescriptorSet(pool, layout)
	gpu.CheckResult(logger, res, err, "bindless.New AllocateDescriptorSet")
	device.SetDebugName(set.Handle, "BindlessSet/DescriptorSet")

	return &Set{
		logger:        logger,
		device:        device,
		deletionQueue: deletionQueue,

		pool:   pool,
		layout: layout,
		set:    set,

		samplers:      idalloc.New(logger, "BindlessSet/Samplers", maxSamplers),
		sampledImages: idalloc.New(logger, "BindlessSet/SampledImages", maxSampledImages),
		storageImages: idalloc.New(logger, "BindlessSet/StorageImages", maxStorageImages),

		pendingFrees: make(map[pendingFree]struct{}),
	}, nil
}

func (s *Set) DescriptorSet() gpu.DescriptorSet {
	return s.set
}

func (s *Set) Layout() gpu.DescriptorSetLayout {
	return s.layout
}

func (s *Set) queueWrite(binding int, slot idalloc.ID, descriptorType core1_0.DescriptorType, info gpu.DescriptorImageInfo) {
	s.writes = append(s.writes, gpu.DescriptorWrite{
		Set:          s.set,
		Binding:      binding,
		ArrayElement: int(slot),
		Type:         descriptorType,
		Images:       []gpu.DescriptorImageInfo{info},
	})
}

// WriteSampler assigns a sampler slot and queues its descriptor write
func (s *Set) WriteSampler(sampler gpu.Sampler) idalloc.ID {
	slot := s.samplers.Allocate()
	s.queueWrite(SamplerBinding, slot, core1_0.DescriptorTypeSampler, gpu.DescriptorImageInfo{Sampler: sampler})
	return slot
}

// WriteSampledImage assigns a sampled image slot and queues its descriptor write. The layout is
// the one the image will be in when shaders sample it.
func (s *Set) WriteSampledImage(view gpu.ImageView, layout core1_0.ImageLayout) idalloc.ID {
	slot := s.sampledImages.Allocate()
	s.queueWrite(SampledImageBinding, slot, core1_0.DescriptorTypeSampledImage, gpu.DescriptorImageInfo{View: view, Layout: layout})
	return slot
}

// WriteStorageImage assigns a storage image slot and queues its descriptor write
func (s *Set) WriteStorageImage(view gpu.ImageView, layout core1_0.ImageLayout) idalloc.ID {
	slot := s.storageImages.Allocate()
	s.queueWrite(StorageImageBinding, slot, core1_0.DescriptorTypeStorageImage, gpu.DescriptorImageInfo{View: view, Layout: layout})
	return slot
}

// free queues the slot's release. Freeing a slot twice is fatal at the second call, even while
// the first release is still queued.
func (s *Set) free(binding int, allocator *idalloc.Allocator, slot idalloc.ID) {
	if !allocator.IsLive(slot) {
		gpu.Fatalf(s.logger, "freeing bindless slot %d of binding %d which is not allocated", slot, binding)
	}

	key := pendingFree{binding: binding, slot: slot}
	if _, pending := s.pendingFrees[key]; pending {
		gpu.Fatalf(s.logger, "freeing bindless slot %d of binding %d twice before the deletion queue flushed", slot, binding)
	}
	s.pendingFrees[key] = struct{}{}

	s.deletionQueue.Push(func() {
		delete(s.pendingFrees, key)
		allocator.Free(slot)
	})
}

// FreeSampler returns a sampler slot. The slot is reused only after the deletion queue is flushed.
func (s *Set) FreeSampler(slot idalloc.ID) {
	s.free(SamplerBinding, s.samplers, slot)
}

func (s *Set) FreeSampledImage(slot idalloc.ID) {
	s.free(SampledImageBinding, s.sampledImages, slot)
}

func (s *Set) FreeStorageImage(slot idalloc.ID) {
	s.free(StorageImageBinding, s.storageImages, slot)
}

// HasPendingWrites reports whether Update has descriptor writes to flush
func (s *Set) HasPendingWrites() bool {
	return len(s.writes) > 0
}

// Update flushes every queued descriptor write to the set and clears the queue
func (s *Set) Update() {
	if len(s.writes) == 0 {
		return
	}

	s.logger.Debug("BindlessSet::Update", slog.Int("Writes", len(s.writes)))

	err := s.device.UpdateDescriptorSets(s.writes)
	gpu.Check(s.logger, err, "BindlessSet::Update UpdateDescriptorSets")

	s.writes = s.writes[:0]
}

// Destroy destroys the pool and layout immediately. The set must not be in use.
func (s *Set) Destroy() {
	s.device.DestroyDescriptorPool(s.pool)
	s.device.DestroyDescriptorSetLayout(s.layout)
	s.writes = nil
}

// BuildStatsString returns a json document with the usage of each array
func (s *Set) BuildStatsString() string {
	writer := jwriter.NewWriter()
	obj := writer.Object()

	printArray := func(name string, allocator *idalloc.Allocator) {
		arrayObj := obj.Name(name).Object()
		arrayObj.Name("Used").Int(allocator.UsedCount())
		arrayObj.Name("Free").Int(allocator.FreeSlotCount())
		arrayObj.Name("Allocated").Int(allocator.AllocatedCount())
		arrayObj.Name("Max").Int(allocator.MaxCount())
		arrayObj.End()
	}

	printArray("Samplers", s.samplers)
	printArray("SampledImages", s.sampledImages)
	printArray("StorageImages", s.storageImages)
	obj.Name("PendingWrites").Int(len(s.writes))
	obj.Name("PendingFrees").Int(len(s.pendingFrees))
	obj.End()

	return string(writer.Bytes())
}
