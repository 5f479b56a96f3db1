package bindless_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_2"
	"github.com/vkngwrapper/quartermaster/bindless"
	"github.com/vkngwrapper/quartermaster/deletion"
	"github.com/vkngwrapper/quartermaster/gpu"
	"github.com/vkngwrapper/quartermaster/gpu/gputest"
	"github.com/vkngwrapper/quartermaster/idalloc"
)

func requireFatal(t *testing.T, f func()) {
	t.Helper()

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, isErr := r.(error)
		require.True(t, isErr)
		require.True(t, errors.Is(err, gpu.FatalError))
	}()

	f()
}

func TestCreateClampsToDeviceLimits(t *testing.T) {
	device := gputest.NewDevice()
	device.DeviceLimits.MaxDescriptorSetSamplers = 100

	set, err := bindless.New(nil, device, &deletion.Queue{}, bindless.CreateOptions{})
	require.NoError(t, err)

	require.Len(t, device.PoolCreateInfos, 1)
	poolInfo := device.PoolCreateInfos[0]
	require.Equal(t, 1, poolInfo.MaxSets)
	require.Equal(t, core1_2.DescriptorPoolCreateUpdateAfterBind, poolInfo.Flags)
	require.Equal(t, []gpu.DescriptorPoolSize{
		{Type: core1_0.DescriptorTypeSampler, Count: 100},
		{Type: core1_0.DescriptorTypeSampledImage, Count: 1 << 16},
		{Type: core1_0.DescriptorTypeStorageImage, Count: 1 << 12},
	}, poolInfo.PoolSizes)

	layoutInfo := device.LayoutInfos[set.Layout().Handle]
	require.Len(t, layoutInfo.Bindings, 3)
	for i, binding := range layoutInfo.Bindings {
		require.Equal(t, i, binding.Binding)
		require.Equal(t, core1_0.StageAll, binding.Stages)
		require.Equal(t, core1_2.DescriptorBindingPartiallyBound|core1_2.DescriptorBindingUpdateAfterBind, binding.Flags)
	}
	require.Equal(t, "BindlessSet/DescriptorSet", device.Name(set.DescriptorSet().Handle))
}

func TestWritesInvisibleUntilUpdate(t *testing.T) {
	device := gputest.NewDevice()
	set, err := bindless.New(nil, device, &deletion.Queue{}, bindless.CreateOptions{})
	require.NoError(t, err)

	require.Equal(t, idalloc.ID(0), set.WriteSampler(gpu.Sampler{Handle: 100}))
	require.Equal(t, idalloc.ID(1), set.WriteSampler(gpu.Sampler{Handle: 101}))
	require.Equal(t, idalloc.ID(0), set.WriteSampledImage(gpu.ImageView{Handle: 200}, core1_0.ImageLayoutShaderReadOnlyOptimal))
	require.Equal(t, idalloc.ID(0), set.WriteStorageImage(gpu.ImageView{Handle: 300}, core1_0.ImageLayoutGeneral))

	require.True(t, set.HasPendingWrites())
	require.Empty(t, device.DescriptorWrites)

	set.Update()
	require.False(t, set.HasPendingWrites())
	require.Len(t, device.DescriptorWrites, 4)

	write := device.DescriptorWrites[1]
	require.Equal(t, bindless.SamplerBinding, write.Binding)
	require.Equal(t, 1, write.ArrayElement)
	require.Equal(t, gpu.Handle(101), write.Images[0].Sampler.Handle)

	write = device.DescriptorWrites[3]
	require.Equal(t, bindless.StorageImageBinding, write.Binding)
	require.Equal(t, core1_0.DescriptorTypeStorageImage, write.Type)
	require.Equal(t, core1_0.ImageLayoutGeneral, write.Images[0].Layout)

	// Nothing new to flush
	set.Update()
	require.Len(t, device.DescriptorWrites, 4)
}

func TestFreedSlotReusedAfterFlush(t *testing.T) {
	device := gputest.NewDevice()
	queue := &deletion.Queue{}
	set, err := bindless.New(nil, device, queue, bindless.CreateOptions{})
	require.NoError(t, err)

	first := set.WriteSampledImage(gpu.ImageView{Handle: 1}, core1_0.ImageLayoutShaderReadOnlyOptimal)
	set.WriteSampledImage(gpu.ImageView{Handle: 2}, core1_0.ImageLayoutShaderReadOnlyOptimal)

	set.FreeSampledImage(first)
	require.Equal(t, idalloc.ID(2), set.WriteSampledImage(gpu.ImageView{Handle: 3}, core1_0.ImageLayoutShaderReadOnlyOptimal))

	queue.Flush()
	require.Equal(t, first, set.WriteSampledImage(gpu.ImageView{Handle: 4}, core1_0.ImageLayoutShaderReadOnlyOptimal))
}

func TestFreeUnknownSlotIsFatal(t *testing.T) {
	set, err := bindless.New(nil, gputest.NewDevice(), &deletion.Queue{}, bindless.CreateOptions{})
	require.NoError(t, err)

	requireFatal(t, func() { set.FreeSampler(7) })
}

func TestDoubleFreeBeforeFlushIsFatal(t *testing.T) {
	testCases := map[string]struct {
		write func(set *bindless.Set) idalloc.ID
		free  func(set *bindless.Set, slot idalloc.ID)
	}{
		"Sampler": {
			write: func(set *bindless.Set) idalloc.ID { return set.WriteSampler(gpu.Sampler{Handle: 1}) },
			free:  (*bindless.Set).FreeSampler,
		},
		"SampledImage": {
			write: func(set *bindless.Set) idalloc.ID {
				return set.WriteSampledImage(gpu.ImageView{Handle: 1}, core1_0.ImageLayoutShaderReadOnlyOptimal)
			},
			free: (*bindless.Set).FreeSampledImage,
		},
		"StorageImage": {
			write: func(set *bindless.Set) idalloc.ID {
				return set.WriteStorageImage(gpu.ImageView{Handle: 1}, core1_0.ImageLayoutGeneral)
			},
			free: (*bindless.Set).FreeStorageImage,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			queue := &deletion.Queue{}
			set, err := bindless.New(nil, gputest.NewDevice(), queue, bindless.CreateOptions{})
			require.NoError(t, err)

			slot := testCase.write(set)
			testCase.free(set, slot)
			requireFatal(t, func() { testCase.free(set, slot) })

			require.Equal(t, 1, queue.Len())
			require.NotPanics(t, queue.Flush)
		})
	}
}

func TestSlotFreedAgainAfterReuse(t *testing.T) {
	queue := &deletion.Queue{}
	set, err := bindless.New(nil, gputest.NewDevice(), queue, bindless.CreateOptions{})
	require.NoError(t, err)

	slot := set.WriteSampler(gpu.Sampler{Handle: 1})
	set.FreeSampler(slot)
	queue.Flush()

	require.Equal(t, slot, set.WriteSampler(gpu.Sampler{Handle: 2}))
	require.NotPanics(t, func() { set.FreeSampler(slot) })
	require.Contains(t, set.BuildStatsString(), `"PendingFrees":1`)
}

func TestExhaustedArrayIsFatal(t *testing.T) {
	set, err := bindless.New(nil, gputest.NewDevice(), &deletion.Queue{}, bindless.CreateOptions{MaxSamplers: 2})
	require.NoError(t, err)

	set.WriteSampler(gpu.Sampler{Handle: 1})
	set.WriteSampler(gpu.Sampler{Handle: 2})
	requireFatal(t, func() { set.WriteSampler(gpu.Sampler{Handle: 3}) })
}

func TestDestroy(t *testing.T) {
	device := gputest.NewDevice()
	set, err := bindless.New(nil, device, &deletion.Queue{}, bindless.CreateOptions{})
	require.NoError(t, err)

	set.Destroy()
	require.Equal(t, 0, device.LiveCount("descriptorPool"))
	require.Equal(t, 0, device.LiveCount("descriptorSetLayout"))
}

func TestStatsString(t *testing.T) {
	set, err := bindless.New(nil, gputest.NewDevice(), &deletion.Queue{}, bindless.CreateOptions{MaxSamplers: 16})
	require.NoError(t, err)

	set.WriteSampler(gpu.Sampler{Handle: 1})
	stats := set.BuildStatsString()
	require.Contains(t, stats, `"Samplers":{"Used":1,"Free":0,"Allocated":1,"Max":16}`)
	require.Contains(t, stats, `"PendingWrites":1`)
}
