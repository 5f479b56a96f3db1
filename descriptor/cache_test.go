package descriptor_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/quartermaster/descriptor"
	"github.com/vkngwrapper/quartermaster/gpu"
	"github.com/vkngwrapper/quartermaster/gpu/gputest"
)

func TestAddLayoutDestroysDuplicate(t *testing.T) {
	device := gputest.NewDevice()
	cache, err := descriptor.NewCache(nil, device, descriptor.CacheOptions{})
	require.NoError(t, err)

	original := createLayout(t, device)
	duplicate := createLayout(t, device)

	require.Equal(t, original, cache.AddLayout("Material", original))
	require.Equal(t, original, cache.AddLayout("Material", duplicate))

	require.True(t, device.IsLive(original.Handle))
	require.False(t, device.IsLive(duplicate.Handle))

	// registering the cached handle again is harmless
	require.Equal(t, original, cache.AddLayout("Material", original))
	require.True(t, device.IsLive(original.Handle))
	require.Equal(t, original, cache.GetLayout("Material"))
}

func TestCreateLayoutOnlyOnce(t *testing.T) {
	device := gputest.NewDevice()
	cache, err := descriptor.NewCache(nil, device, descriptor.CacheOptions{})
	require.NoError(t, err)

	info := gpu.DescriptorSetLayoutCreateInfo{
		Bindings: []gpu.DescriptorSetLayoutBinding{
			{Binding: 0, Type: core1_0.DescriptorTypeCombinedImageSampler, Count: 1, Stages: core1_0.StageFragment},
		},
	}

	first := cache.CreateLayout("Shadow", info)
	second := cache.CreateLayout("Shadow", info)
	require.Equal(t, first, second)
	require.Equal(t, 1, device.LiveCount("descriptorSetLayout"))
	require.Equal(t, "Shadow", device.LayoutInfos[first.Handle].Name)
}

func TestAllocateSetIsIdempotent(t *testing.T) {
	device := gputest.NewDevice()
	cache, err := descriptor.NewCache(nil, device, descriptor.CacheOptions{})
	require.NoError(t, err)

	layout := cache.AddLayout("Camera", createLayout(t, device))

	set := cache.AllocateSet("SceneCamera", "Camera")
	require.Equal(t, layout, set.Layout)
	require.Equal(t, set, cache.AllocateSet("SceneCamera", "Camera"))
	require.Equal(t, set, cache.GetSet("SceneCamera"))

	allocated := 0
	for _, count := range device.PoolAllocations {
		allocated += count
	}
	require.Equal(t, 1, allocated)
}

func TestAllocateSetsPerFrameInFlight(t *testing.T) {
	testCases := map[string]struct {
		framesInFlight int
		expected       int
	}{
		"Default": {framesInFlight: 0, expected: descriptor.DefaultFramesInFlight},
		"Three":   {framesInFlight: 3, expected: 3},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			device := gputest.NewDevice()
			cache, err := descriptor.NewCache(nil, device, descriptor.CacheOptions{FramesInFlight: testCase.framesInFlight})
			require.NoError(t, err)

			cache.AddLayout("Lights", createLayout(t, device))

			sets := cache.AllocateSets("PointLights", "Lights")
			require.Len(t, sets, testCase.expected)

			seen := map[gpu.Handle]bool{}
			for _, set := range sets {
				require.False(t, seen[set.Handle])
				seen[set.Handle] = true
			}

			require.Equal(t, sets, cache.AllocateSets("PointLights", "Lights"))
			require.Equal(t, sets, cache.GetSets("PointLights"))
		})
	}
}

func TestUnknownIDsAreFatal(t *testing.T) {
	testCases := map[string]func(cache *descriptor.Cache){
		"GetLayout":         func(cache *descriptor.Cache) { cache.GetLayout("Missing") },
		"GetSet":            func(cache *descriptor.Cache) { cache.GetSet("Missing") },
		"GetSets":           func(cache *descriptor.Cache) { cache.GetSets("Missing") },
		"AllocateSetLayout": func(cache *descriptor.Cache) { cache.AllocateSet("Set", "Missing") },
		"AllocateSetsLayout": func(cache *descriptor.Cache) {
			cache.AllocateSets("Sets", "Missing")
		},
		// a single set and a per-frame array live in different namespaces
		"GetSetsForSingleSet": func(cache *descriptor.Cache) {
			cache.AllocateSet("Single", "Known")
			cache.GetSets("Single")
		},
	}

	for name, call := range testCases {
		t.Run(name, func(t *testing.T) {
			device := gputest.NewDevice()
			cache, err := descriptor.NewCache(nil, device, descriptor.CacheOptions{})
			require.NoError(t, err)
			cache.AddLayout("Known", createLayout(t, device))

			requireFatal(t, func() { call(cache) })
		})
	}
}

func TestCacheDestroy(t *testing.T) {
	device := gputest.NewDevice()
	cache, err := descriptor.NewCache(nil, device, descriptor.CacheOptions{})
	require.NoError(t, err)

	cache.AddLayout("A", createLayout(t, device))
	cache.AddLayout("B", createLayout(t, device))
	cache.AllocateSets("PerFrame", "A")
	cache.AllocateSet("Single", "B")

	cache.Destroy()

	require.Equal(t, 0, device.LiveCount("descriptorSetLayout"))
	require.Equal(t, 0, device.LiveCount("descriptorPool"))
	requireFatal(t, func() { cache.GetLayout("A") })
}

func TestCacheStats(t *testing.T) {
	device := gputest.NewDevice()
	cache, err := descriptor.NewCache(nil, device, descriptor.CacheOptions{})
	require.NoError(t, err)

	cache.AddLayout("A", createLayout(t, device))
	cache.AllocateSets("PerFrame", "A")
	cache.AllocateSet("Single", "A")

	require.Equal(t,
		`{"Layouts":1,"Sets":1,"PerFrameSets":1,"FramesInFlight":2,"Pools":1,"FullPools":0,"NextPoolSize":96}`,
		cache.BuildStatsString(),
	)
}
