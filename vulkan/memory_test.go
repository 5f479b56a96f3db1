package vulkan

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/quartermaster/gpu"
)

func TestFindMemoryTypeIndex(t *testing.T) {
	discrete := []core1_0.MemoryType{
		{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
		{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent | core1_0.MemoryPropertyHostCached, HeapIndex: 1},
		{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 1},
		{PropertyFlags: core1_0.MemoryPropertyDeviceLocal | core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 0},
	}
	integrated := []core1_0.MemoryType{
		{PropertyFlags: core1_0.MemoryPropertyDeviceLocal | core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 0},
	}

	testCases := map[string]struct {
		types          []core1_0.MemoryType
		memoryTypeBits uint32
		usage          gpu.MemoryUsage
		expected       int
	}{
		"DeviceLocalAvoidsHostVisible": {
			types:          discrete,
			memoryTypeBits: 0xffffffff,
			usage:          gpu.MemoryUsageDeviceLocal,
			expected:       0,
		},
		"DeviceLocalFallsBackToBar": {
			types:          discrete,
			memoryTypeBits: 0b1000,
			usage:          gpu.MemoryUsageDeviceLocal,
			expected:       3,
		},
		"UploadAvoidsCached": {
			types:          discrete,
			memoryTypeBits: 0xffffffff,
			usage:          gpu.MemoryUsageHostUpload,
			expected:       2,
		},
		"UploadAcceptsCached": {
			types:          discrete,
			memoryTypeBits: 0b0010,
			usage:          gpu.MemoryUsageHostUpload,
			expected:       1,
		},
		"IntegratedDeviceLocal": {
			types:          integrated,
			memoryTypeBits: 0xffffffff,
			usage:          gpu.MemoryUsageDeviceLocal,
			expected:       0,
		},
		"IntegratedUpload": {
			types:          integrated,
			memoryTypeBits: 0xffffffff,
			usage:          gpu.MemoryUsageHostUpload,
			expected:       0,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			index, err := findMemoryTypeIndex(testCase.types, testCase.memoryTypeBits, testCase.usage)
			require.NoError(t, err)
			require.Equal(t, testCase.expected, index)
		})
	}
}

func TestFindMemoryTypeIndex_NoMatch(t *testing.T) {
	types := []core1_0.MemoryType{
		{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
	}

	_, err := findMemoryTypeIndex(types, 0xffffffff, gpu.MemoryUsageHostUpload)
	require.Error(t, err)

	_, err = findMemoryTypeIndex(types, 0b10, gpu.MemoryUsageDeviceLocal)
	require.Error(t, err)

	_, err = findMemoryTypeIndex(types, 0xffffffff, gpu.MemoryUsage(7))
	require.ErrorContains(t, err, "unknown memory usage")
}

func TestAspectOf(t *testing.T) {
	require.Equal(t, core1_0.ImageAspectColor, aspectOf(core1_0.FormatR8G8B8A8UnsignedNormalized))
	require.Equal(t, core1_0.ImageAspectDepth, aspectOf(core1_0.FormatD32SignedFloat))
	require.Equal(t, core1_0.ImageAspectStencil, aspectOf(core1_0.FormatS8UnsignedInt))
	require.Equal(t, core1_0.ImageAspectDepth|core1_0.ImageAspectStencil, aspectOf(core1_0.FormatD24UnsignedNormalizedS8UnsignedInt))
}

func TestRenderPassKey(t *testing.T) {
	first := renderPassKey([]core1_0.Format{core1_0.FormatB8G8R8A8UnsignedNormalized, core1_0.FormatR16G16B16A16SignedFloat}, core1_0.FormatD32SignedFloat, core1_0.Samples1)
	require.Equal(t, first, renderPassKey([]core1_0.Format{core1_0.FormatB8G8R8A8UnsignedNormalized, core1_0.FormatR16G16B16A16SignedFloat}, core1_0.FormatD32SignedFloat, core1_0.Samples1))
	require.NotEqual(t, first, renderPassKey([]core1_0.Format{core1_0.FormatR16G16B16A16SignedFloat, core1_0.FormatB8G8R8A8UnsignedNormalized}, core1_0.FormatD32SignedFloat, core1_0.Samples1))
	require.NotEqual(t, first, renderPassKey([]core1_0.Format{core1_0.FormatB8G8R8A8UnsignedNormalized, core1_0.FormatR16G16B16A16SignedFloat}, 0, core1_0.Samples1))
	require.NotEqual(t, first, renderPassKey([]core1_0.Format{core1_0.FormatB8G8R8A8UnsignedNormalized, core1_0.FormatR16G16B16A16SignedFloat}, core1_0.FormatD32SignedFloat, core1_0.Samples4))
}
