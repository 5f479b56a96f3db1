// Package config loads the tunables of the resource core from TOML and hands them to each
// component as its own options struct.
package config

import (
	"bytes"
	"math"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/vkngwrapper/quartermaster/bindless"
	"github.com/vkngwrapper/quartermaster/block"
	"github.com/vkngwrapper/quartermaster/descriptor"
	"github.com/vkngwrapper/quartermaster/memutils"
	"github.com/vkngwrapper/quartermaster/pipeline"
)

type BindlessOptions struct {
	MaxSamplers      uint32 `toml:"max_samplers"`
	MaxSampledImages uint32 `toml:"max_sampled_images"`
	MaxStorageImages uint32 `toml:"max_storage_images"`
}

type BlockOptions struct {
	GrowthFactor float64 `toml:"growth_factor"`
	Alignment    uint64  `toml:"alignment"`
}

type DescriptorOptions struct {
	InitialSets    int     `toml:"initial_sets"`
	GrowthFactor   float64 `toml:"growth_factor"`
	MaxSetsPerPool int     `toml:"max_sets_per_pool"`
}

type ShaderOptions struct {
	Root string `toml:"root"`
	// Watch rebuilds pipelines when their shader files change on disk
	Watch bool `toml:"watch"`
}

// Options is the root of the configuration file. Fields left out of the file keep the values
// from Default.
type Options struct {
	FramesInFlight int `toml:"frames_in_flight"`

	Bindless   BindlessOptions   `toml:"bindless"`
	Block      BlockOptions      `toml:"block"`
	Descriptor DescriptorOptions `toml:"descriptor"`
	Shaders    ShaderOptions     `toml:"shaders"`
}

func Default() Options {
	return Options{
		FramesInFlight: 2,
		Bindless: BindlessOptions{
			MaxSamplers:      bindless.DefaultMaxSamplers,
			MaxSampledImages: bindless.DefaultMaxSampledImages,
			MaxStorageImages: bindless.DefaultMaxStorageImages,
		},
		Block: BlockOptions{
			GrowthFactor: block.DefaultGrowthFactor,
			Alignment:    1,
		},
		Descriptor: DescriptorOptions{
			InitialSets:    descriptor.DefaultInitialSets,
			GrowthFactor:   descriptor.DefaultGrowthFactor,
			MaxSetsPerPool: descriptor.DefaultMaxSetsPerPool,
		},
		Shaders: ShaderOptions{
			Root: "shaders",
		},
	}
}

// Parse decodes TOML on top of Default and validates the result. Unknown keys are an error.
func Parse(data []byte) (Options, error) {
	options := Default()

	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&options); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Options{}, errors.Newf("unknown configuration keys:\n%s", strict.String())
		}
		return Options{}, errors.Wrap(err, "failed to parse configuration")
	}

	if err := options.Validate(); err != nil {
		return Options{}, err
	}
	return options, nil
}

func Load(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, errors.Wrapf(err, "failed to read configuration %s", path)
	}

	options, err := Parse(data)
	if err != nil {
		return Options{}, errors.Wrapf(err, "configuration %s", path)
	}
	return options, nil
}

func checkGrowth(value float64, name string) error {
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 1 {
		return errors.Newf("%s must be greater than 1, but was %f", name, value)
	}
	return nil
}

// Validate reports the first value that no component would accept
func (o Options) Validate() error {
	if o.FramesInFlight < 1 {
		return errors.Newf("frames_in_flight must be at least 1, but was %d", o.FramesInFlight)
	}

	if o.Bindless.MaxSamplers == 0 || o.Bindless.MaxSampledImages == 0 || o.Bindless.MaxStorageImages == 0 {
		return errors.New("bindless array sizes must be positive")
	}

	if err := checkGrowth(o.Block.GrowthFactor, "block.growth_factor"); err != nil {
		return err
	}
	if err := memutils.CheckPow2(o.Block.Alignment, "block.alignment"); err != nil {
		return err
	}

	// descriptor pools may stay at a fixed size, so a factor of exactly 1 is allowed
	if math.IsNaN(o.Descriptor.GrowthFactor) || math.IsInf(o.Descriptor.GrowthFactor, 0) || o.Descriptor.GrowthFactor < 1 {
		return errors.Newf("descriptor.growth_factor must be at least 1, but was %f", o.Descriptor.GrowthFactor)
	}
	if o.Descriptor.InitialSets < 1 {
		return errors.Newf("descriptor.initial_sets must be at least 1, but was %d", o.Descriptor.InitialSets)
	}
	if o.Descriptor.MaxSetsPerPool < o.Descriptor.InitialSets {
		return errors.Newf("descriptor.max_sets_per_pool (%d) is below descriptor.initial_sets (%d)",
			o.Descriptor.MaxSetsPerPool, o.Descriptor.InitialSets)
	}

	return nil
}

func (o Options) BindlessOptions() bindless.CreateOptions {
	return bindless.CreateOptions{
		MaxSamplers:      o.Bindless.MaxSamplers,
		MaxSampledImages: o.Bindless.MaxSampledImages,
		MaxStorageImages: o.Bindless.MaxStorageImages,
	}
}

// BlockOptions fills in the growth factor and alignment of base
func (o Options) BlockOptions(base block.CreateOptions) block.CreateOptions {
	base.GrowthFactor = o.Block.GrowthFactor
	base.Alignment = o.Block.Alignment
	return base
}

func (o Options) DescriptorOptions() descriptor.CacheOptions {
	return descriptor.CacheOptions{
		FramesInFlight: o.FramesInFlight,
		Pool: descriptor.PoolOptions{
			InitialSets:    o.Descriptor.InitialSets,
			GrowthFactor:   o.Descriptor.GrowthFactor,
			MaxSetsPerPool: o.Descriptor.MaxSetsPerPool,
		},
	}
}

func (o Options) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		ShaderRoot:   o.Shaders.Root,
		WatchShaders: o.Shaders.Watch,
	}
}
