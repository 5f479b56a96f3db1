package barrier_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/quartermaster/barrier"
	"github.com/vkngwrapper/quartermaster/gpu"
	"github.com/vkngwrapper/quartermaster/gpu/mocks"
	"go.uber.org/mock/gomock"
)

func TestExecuteEmptyRecordsNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cmd := mocks.NewMockCommandBuffer(ctrl)

	var batch barrier.Batch
	require.True(t, batch.IsEmpty())
	require.NoError(t, batch.Execute(cmd))
}

func TestExecuteRecordsOneBarrier(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	buffer := gpu.Buffer{Handle: 10, Size: 1024}
	image := gpu.Image{Handle: 11, MipLevels: 6, ArrayLayers: 2, Aspect: core1_0.ImageAspectColor}

	cmd := mocks.NewMockCommandBuffer(ctrl)
	cmd.EXPECT().PipelineBarrier(gomock.Any()).DoAndReturn(func(dependency gpu.DependencyInfo) error {
		require.Len(t, dependency.BufferBarriers, 2)
		require.Len(t, dependency.ImageBarriers, 1)

		whole := dependency.BufferBarriers[0]
		require.Equal(t, buffer, whole.Buffer)
		require.Equal(t, gpu.WholeSize, whole.Size)
		require.Equal(t, gpu.QueueFamilyIgnored, whole.SrcQueueFamilyIndex)
		require.Equal(t, gpu.QueueFamilyIgnored, whole.DstQueueFamilyIndex)
		require.Equal(t, core1_0.PipelineStageTransfer, whole.DstStageMask)

		ranged := dependency.BufferBarriers[1]
		require.Equal(t, uint64(64), ranged.Offset)
		require.Equal(t, uint64(128), ranged.Size)
		require.Equal(t, 0, ranged.SrcQueueFamilyIndex)
		require.Equal(t, 2, ranged.DstQueueFamilyIndex)

		imageBarrier := dependency.ImageBarriers[0]
		require.Equal(t, core1_0.ImageLayoutUndefined, imageBarrier.OldLayout)
		require.Equal(t, core1_0.ImageLayoutTransferDstOptimal, imageBarrier.NewLayout)
		require.Equal(t, gpu.ImageSubresourceRange{
			AspectMask:     core1_0.ImageAspectColor,
			BaseMipLevel:   2,
			LevelCount:     4,
			BaseArrayLayer: 0,
			LayerCount:     2,
		}, imageBarrier.SubresourceRange)
		return nil
	})

	var batch barrier.Batch
	batch.WriteBufferBarrier(buffer, barrier.BufferBarrier{
		SrcStageMask:  core1_0.PipelineStageVertexShader,
		SrcAccessMask: core1_0.AccessShaderRead,
		DstStageMask:  core1_0.PipelineStageTransfer,
		DstAccessMask: core1_0.AccessTransferRead,
	}).WriteBufferBarrier(buffer, barrier.BufferBarrier{
		QueueFamilyTransfer: true,
		SrcQueueFamilyIndex: 0,
		DstQueueFamilyIndex: 2,
		Offset:              64,
		Size:                128,
	}).WriteImageBarrier(image, barrier.ImageBarrier{
		DstStageMask:  core1_0.PipelineStageTransfer,
		DstAccessMask: core1_0.AccessTransferWrite,
		OldLayout:     core1_0.ImageLayoutUndefined,
		NewLayout:     core1_0.ImageLayoutTransferDstOptimal,
		BaseMipLevel:  2,
	})

	require.Equal(t, 3, batch.Len())
	require.NoError(t, batch.Execute(cmd))
	require.True(t, batch.IsEmpty())

	// Cleared after execute: a second execute records nothing
	require.NoError(t, batch.Execute(cmd))
}

func TestClear(t *testing.T) {
	var batch barrier.Batch
	batch.WriteBufferBarrier(gpu.Buffer{Handle: 1}, barrier.BufferBarrier{})
	require.False(t, batch.IsEmpty())

	batch.Clear()
	require.True(t, batch.IsEmpty())
	require.Equal(t, 0, batch.Len())
}
