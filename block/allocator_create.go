package block

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_2"
	"github.com/vkngwrapper/quartermaster/gpu"
	"github.com/vkngwrapper/quartermaster/memutils"
	"golang.org/x/exp/slog"
)

// DefaultGrowthFactor is the value used as CreateOptions.GrowthFactor when none is provided
const DefaultGrowthFactor float64 = 1.3

// growthPrecision is the denominator growth factors are quantized to, so capacities are computed
// with integer arithmetic
const growthPrecision uint64 = 1000

// CreateOptions contains the settings for a new Allocator
type CreateOptions struct {
	// Usage is the usage of the backing buffer. Transfer source and destination are always added
	// so the buffer can be migrated when it grows.
	Usage core1_0.BufferUsageFlags
	// StageMask and AccessMask describe how the contents of the buffer are consumed. They are the
	// source scope of the barrier before a migration copy and the destination scope after it.
	StageMask  core1_0.PipelineStageFlags
	AccessMask core1_0.AccessFlags

	// GrowthFactor is the ratio between the new capacity and the capacity required when the
	// buffer grows. It must be greater than one; zero selects DefaultGrowthFactor.
	GrowthFactor float64
	// Alignment rounds every allocation size up to a power of two. Zero means byte alignment.
	Alignment uint64
	// BufferFlags are passed through to buffer creation
	BufferFlags gpu.BufferCreateFlags
	// Name is the debug name of the backing buffer
	Name string
}

// New creates an Allocator with no backing buffer. The buffer is created by the first Update
// after the first allocation.
func New(logger *slog.Logger, device gpu.BufferDevice, options CreateOptions) (*Allocator, error) {
	if device == nil {
		return nil, errors.New("block.New requires a device")
	}

	growthFactor := options.GrowthFactor
	if growthFactor == 0 {
		growthFactor = DefaultGrowthFactor
	}
	if growthFactor <= 1 || math.IsNaN(growthFactor) || math.IsInf(growthFactor, 0) {
		return nil, errors.Newf("block.CreateOptions.GrowthFactor must be greater than 1, but was %f", growthFactor)
	}

	alignment := options.Alignment
	if alignment == 0 {
		alignment = 1
	}
	err := memutils.CheckPow2(alignment, "block.CreateOptions.Alignment")
	if err != nil {
		return nil, err
	}

	if options.BufferFlags.Has(gpu.BufferCreateDeviceAddress) &&
		options.Usage&core1_2.BufferUsageShaderDeviceAddress == 0 {
		return nil, errors.New("block.CreateOptions.BufferFlags requests a device address, but Usage does not include shader device address")
	}

	name := options.Name
	if name == "" {
		name = "BlockAllocator"
	}

	return &Allocator{
		logger: gpu.DiscardLogger(logger),
		device: device,

		usage:      options.Usage | core1_0.BufferUsageTransferSrc | core1_0.BufferUsageTransferDst,
		stageMask:  options.StageMask,
		accessMask: options.AccessMask,
		flags:      options.BufferFlags,
		name:       name,

		growthNumerator: uint64(math.Round(growthFactor * float64(growthPrecision))),
		alignment:       alignment,

		used: newBlockSet(),
		free: newBlockSet(),
	}, nil
}
