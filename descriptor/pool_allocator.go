package descriptor

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/quartermaster/gpu"
	"golang.org/x/exp/slog"
)

const (
	DefaultInitialSets    = 64
	DefaultGrowthFactor   = 1.5
	DefaultMaxSetsPerPool = 4096
)

// PoolRatio is the number of descriptors of Type reserved per set in every pool
type PoolRatio struct {
	Type  core1_0.DescriptorType
	Ratio float64
}

// DefaultPoolRatios sizes pools for the common mix of uniform buffers and images
var DefaultPoolRatios = []PoolRatio{
	{Type: core1_0.DescriptorTypeUniformBuffer, Ratio: 4},
	{Type: core1_0.DescriptorTypeSampler, Ratio: 4},
	{Type: core1_0.DescriptorTypeCombinedImageSampler, Ratio: 4},
	{Type: core1_0.DescriptorTypeSampledImage, Ratio: 16},
}

type PoolOptions struct {
	// InitialSets is the set capacity of the first pool
	InitialSets int
	// GrowthFactor multiplies the set capacity each time a new pool is created
	GrowthFactor float64
	// MaxSetsPerPool caps the growth
	MaxSetsPerPool int
	Ratios         []PoolRatio
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.InitialSets == 0 {
		o.InitialSets = DefaultInitialSets
	}
	if o.GrowthFactor == 0 {
		o.GrowthFactor = DefaultGrowthFactor
	}
	if o.MaxSetsPerPool == 0 {
		o.MaxSetsPerPool = DefaultMaxSetsPerPool
	}
	if len(o.Ratios) == 0 {
		o.Ratios = DefaultPoolRatios
	}
	return o
}

func (o PoolOptions) validate() error {
	if o.InitialSets < 1 {
		return errors.Newf("descriptor pool initial set count must be positive, got %d", o.InitialSets)
	}
	if o.GrowthFactor < 1 {
		return errors.Newf("descriptor pool growth factor must be at least 1, got %f", o.GrowthFactor)
	}
	if o.MaxSetsPerPool < o.InitialSets {
		return errors.Newf("descriptor pool max sets %d is below the initial set count %d", o.MaxSetsPerPool, o.InitialSets)
	}
	for _, ratio := range o.Ratios {
		if ratio.Ratio <= 0 {
			return errors.Newf("descriptor pool ratio for %v must be positive", ratio.Type)
		}
	}
	return nil
}

// PoolAllocator hands out descriptor sets from a growing list of pools. A pool that reports it
// is out of memory is parked on the full list until Clear resets it.
type PoolAllocator struct {
	logger *slog.Logger
	device gpu.DescriptorDevice

	ratios         []PoolRatio
	growthFactor   float64
	maxSetsPerPool int
	setsPerPool    int

	readyPools []gpu.DescriptorPool
	fullPools  []gpu.DescriptorPool
}

// NewPoolAllocator creates the first pool with options.InitialSets sets
func NewPoolAllocator(logger *slog.Logger, device gpu.DescriptorDevice, options PoolOptions) (*PoolAllocator, error) {
	if device == nil {
		return nil, errors.New("descriptor.NewPoolAllocator requires a device")
	}

	options = options.withDefaults()
	if err := options.validate(); err != nil {
		return nil, err
	}

	allocator := &PoolAllocator{
		logger:         gpu.DiscardLogger(logger),
		device:         device,
		ratios:         append([]PoolRatio(nil), options.Ratios...),
		growthFactor:   options.GrowthFactor,
		maxSetsPerPool: options.MaxSetsPerPool,
	}
	allocator.setsPerPool = allocator.grow(options.InitialSets)
	allocator.readyPools = append(allocator.readyPools, allocator.createPool(options.InitialSets))

	return allocator, nil
}

func (a *PoolAllocator) grow(sets int) int {
	next := int(a.growthFactor * float64(sets))
	if next > a.maxSetsPerPool {
		next = a.maxSetsPerPool
	}
	return next
}

func (a *PoolAllocator) createPool(setCount int) gpu.DescriptorPool {
	sizes := make([]gpu.DescriptorPoolSize, 0, len(a.ratios))
	for _, ratio := range a.ratios {
		sizes = append(sizes, gpu.DescriptorPoolSize{
			Type:  ratio.Type,
			Count: int(ratio.Ratio * float64(setCount)),
		})
	}

	a.logger.Debug("PoolAllocator::createPool", slog.Int("MaxSets", setCount))

	pool, res, err := a.device.CreateDescriptorPool(gpu.DescriptorPoolCreateInfo{
		Flags:     core1_0.DescriptorPoolCreateFreeDescriptorSet,
		MaxSets:   setCount,
		PoolSizes: sizes,
	})
	gpu.CheckResult(a.logger, res, err, "PoolAllocator CreateDescriptorPool")

	return pool
}

func (a *PoolAllocator) getPool() gpu.DescriptorPool {
	if len(a.readyPools) > 0 {
		pool := a.readyPools[len(a.readyPools)-1]
		a.readyPools = a.readyPools[:len(a.readyPools)-1]
		return pool
	}

	pool := a.createPool(a.setsPerPool)
	a.setsPerPool = a.grow(a.setsPerPool)
	return pool
}

func poolExhausted(res common.VkResult) bool {
	return res == core1_1.VkErrorOutOfPoolMemory || res == core1_0.VKErrorFragmentedPool
}

// Allocate returns a set with the given layout. When the current pool is exhausted it is moved
// to the full list and the allocation is retried once in another pool; a second failure is fatal.
func (a *PoolAllocator) Allocate(layout gpu.DescriptorSetLayout) gpu.DescriptorSet {
	pool := a.getPool()

	set, res, err := a.device.AllocateDescriptorSet(pool, layout)
	if err != nil && poolExhausted(res) {
		a.logger.Debug("PoolAllocator::Allocate pool exhausted", slog.Any("Result", res))

		a.fullPools = append(a.fullPools, pool)
		pool = a.getPool()
		set, res, err = a.device.AllocateDescriptorSet(pool, layout)
	}

	// keep the pool around even if the retry failed so Destroy releases it
	a.readyPools = append(a.readyPools, pool)
	gpu.CheckResult(a.logger, res, err, "PoolAllocator AllocateDescriptorSet")

	return set
}

// Clear resets every pool, freeing all sets allocated so far, and makes every pool ready again
func (a *PoolAllocator) Clear() {
	for _, pool := range a.readyPools {
		res, err := a.device.ResetDescriptorPool(pool)
		gpu.CheckResult(a.logger, res, err, "PoolAllocator ResetDescriptorPool")
	}

	for _, pool := range a.fullPools {
		res, err := a.device.ResetDescriptorPool(pool)
		gpu.CheckResult(a.logger, res, err, "PoolAllocator ResetDescriptorPool")
		a.readyPools = append(a.readyPools, pool)
	}

	a.fullPools = a.fullPools[:0]
}

// Destroy destroys every pool. Sets allocated from the allocator become invalid.
func (a *PoolAllocator) Destroy() {
	for _, pool := range a.readyPools {
		a.device.DestroyDescriptorPool(pool)
	}
	for _, pool := range a.fullPools {
		a.device.DestroyDescriptorPool(pool)
	}

	a.readyPools = nil
	a.fullPools = nil
}

// PoolCount is the number of pools created so far
func (a *PoolAllocator) PoolCount() int {
	return len(a.readyPools) + len(a.fullPools)
}

// FullPoolCount is the number of pools parked until the next Clear
func (a *PoolAllocator) FullPoolCount() int {
	return len(a.fullPools)
}

// NextPoolSize is the set capacity the next created pool will have
func (a *PoolAllocator) NextPoolSize() int {
	return a.setsPerPool
}
