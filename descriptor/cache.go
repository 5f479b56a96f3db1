// Package descriptor caches descriptor set layouts and sets by string ID. Layouts and sets live
// until the cache is destroyed; sets come from a growable PoolAllocator.
package descriptor

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/quartermaster/gpu"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

const DefaultFramesInFlight = 2

type CacheOptions struct {
	// FramesInFlight is the number of sets AllocateSets returns; zero selects DefaultFramesInFlight
	FramesInFlight int
	Pool           PoolOptions
}

// Cache is a string-keyed registry of descriptor set layouts and the sets allocated from them.
// Every operation is idempotent per ID: registering or allocating the same ID twice returns the
// first result.
//
// Cache is not safe for concurrent use.
type Cache struct {
	logger         *slog.Logger
	device         gpu.DescriptorDevice
	framesInFlight int
	allocator      *PoolAllocator

	layouts *swiss.Map[string, gpu.DescriptorSetLayout]
	sets    *swiss.Map[string, gpu.DescriptorSet]
	setsFIF *swiss.Map[string, []gpu.DescriptorSet]
}

func NewCache(logger *slog.Logger, device gpu.DescriptorDevice, options CacheOptions) (*Cache, error) {
	if options.FramesInFlight == 0 {
		options.FramesInFlight = DefaultFramesInFlight
	}
	if options.FramesInFlight < 1 {
		return nil, errors.Newf("descriptor cache frames in flight must be positive, got %d", options.FramesInFlight)
	}

	logger = gpu.DiscardLogger(logger)
	allocator, err := NewPoolAllocator(logger, device, options.Pool)
	if err != nil {
		return nil, err
	}

	return &Cache{
		logger:         logger,
		device:         device,
		framesInFlight: options.FramesInFlight,
		allocator:      allocator,

		layouts: swiss.NewMap[string, gpu.DescriptorSetLayout](16),
		sets:    swiss.NewMap[string, gpu.DescriptorSet](16),
		setsFIF: swiss.NewMap[string, []gpu.DescriptorSet](16),
	}, nil
}

func (c *Cache) FramesInFlight() int {
	return c.framesInFlight
}

// AddLayout registers layout under id and takes ownership of it. If id is already registered,
// layout is destroyed and the cached layout is returned instead.
func (c *Cache) AddLayout(id string, layout gpu.DescriptorSetLayout) gpu.DescriptorSetLayout {
	existing, ok := c.layouts.Get(id)
	if ok {
		if existing.Handle != layout.Handle {
			c.device.DestroyDescriptorSetLayout(layout)
		}
		return existing
	}

	c.layouts.Put(id, layout)
	return layout
}

// CreateLayout returns the layout registered under id, creating it from info on first use
func (c *Cache) CreateLayout(id string, info gpu.DescriptorSetLayoutCreateInfo) gpu.DescriptorSetLayout {
	if existing, ok := c.layouts.Get(id); ok {
		return existing
	}

	if info.Name == "" {
		info.Name = id
	}
	layout, res, err := c.device.CreateDescriptorSetLayout(info)
	gpu.CheckResult(c.logger, res, err, "DescriptorCache CreateDescriptorSetLayout")

	c.layouts.Put(id, layout)
	return layout
}

// GetLayout is fatal if id was never registered
func (c *Cache) GetLayout(id string) gpu.DescriptorSetLayout {
	layout, ok := c.layouts.Get(id)
	if !ok {
		gpu.Fatalf(c.logger, "invalid descriptor set layout ID %q", id)
	}
	return layout
}

// AllocateSet allocates a single set for id using the layout registered as layoutID. Later
// calls with the same id return the cached set and ignore layoutID.
func (c *Cache) AllocateSet(id string, layoutID string) gpu.DescriptorSet {
	if set, ok := c.sets.Get(id); ok {
		return set
	}

	set := c.allocator.Allocate(c.GetLayout(layoutID))
	c.sets.Put(id, set)
	return set
}

// AllocateSets allocates one set per frame in flight for id. The returned slice must not be modified.
func (c *Cache) AllocateSets(id string, layoutID string) []gpu.DescriptorSet {
	if sets, ok := c.setsFIF.Get(id); ok {
		return sets
	}

	layout := c.GetLayout(layoutID)
	sets := make([]gpu.DescriptorSet, c.framesInFlight)
	for i := range sets {
		sets[i] = c.allocator.Allocate(layout)
	}

	c.setsFIF.Put(id, sets)
	return sets
}

// GetSet is fatal if id was never allocated with AllocateSet
func (c *Cache) GetSet(id string) gpu.DescriptorSet {
	set, ok := c.sets.Get(id)
	if !ok {
		gpu.Fatalf(c.logger, "invalid descriptor set ID %q", id)
	}
	return set
}

// GetSets is fatal if id was never allocated with AllocateSets
func (c *Cache) GetSets(id string) []gpu.DescriptorSet {
	sets, ok := c.setsFIF.Get(id)
	if !ok {
		gpu.Fatalf(c.logger, "invalid per-frame descriptor set ID %q", id)
	}
	return sets
}

// Destroy releases every pool (and with them every set) and every registered layout
func (c *Cache) Destroy() {
	c.allocator.Destroy()

	layouts := make(map[string]gpu.DescriptorSetLayout, c.layouts.Count())
	c.layouts.Iter(func(id string, layout gpu.DescriptorSetLayout) bool {
		layouts[id] = layout
		return false
	})

	ids := maps.Keys(layouts)
	slices.Sort(ids)
	for _, id := range ids {
		c.logger.Debug("destroying descriptor set layout", slog.String("ID", id), slog.Uint64("Handle", uint64(layouts[id].Handle)))
		c.device.DestroyDescriptorSetLayout(layouts[id])
	}

	c.layouts = swiss.NewMap[string, gpu.DescriptorSetLayout](16)
	c.sets = swiss.NewMap[string, gpu.DescriptorSet](16)
	c.setsFIF = swiss.NewMap[string, []gpu.DescriptorSet](16)
}

func (c *Cache) BuildStatsString() string {
	writer := jwriter.NewWriter()
	obj := writer.Object()
	obj.Name("Layouts").Int(c.layouts.Count())
	obj.Name("Sets").Int(c.sets.Count())
	obj.Name("PerFrameSets").Int(c.setsFIF.Count())
	obj.Name("FramesInFlight").Int(c.framesInFlight)
	obj.Name("Pools").Int(c.allocator.PoolCount())
	obj.Name("FullPools").Int(c.allocator.FullPoolCount())
	obj.Name("NextPoolSize").Int(c.allocator.NextPoolSize())
	obj.End()

	return string(writer.Bytes())
}
