// Package upload decodes images into host-visible staging buffers and records the copies that
// move them into sampled images.
package upload

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/quartermaster/barrier"
	"github.com/vkngwrapper/quartermaster/deletion"
	"github.com/vkngwrapper/quartermaster/gpu"
	"golang.org/x/exp/slog"
)

const imageUsage = core1_0.ImageUsageTransferDst | core1_0.ImageUsageSampled

// Device is the subset of gpu.Device an Uploader needs. LoadImage may call it from several
// goroutines at once.
type Device interface {
	gpu.BufferDevice
	gpu.ImageDevice
}

// PendingUpload is an image waiting for its staging buffer to be copied in
type PendingUpload struct {
	Image   gpu.Image
	Staging gpu.Buffer
	Regions []gpu.BufferImageCopy
}

// Uploader queues image uploads and records them into a command buffer once per frame.
//
// LoadImage, AppendUpload and HasPendingUploads may be called from any goroutine. FlushUploads
// and ClearUploads belong to the goroutine recording the frame.
type Uploader struct {
	logger        *slog.Logger
	device        Device
	deletionQueue *deletion.Queue

	mutex   sync.Mutex
	pending []PendingUpload

	batch barrier.Batch
}

func New(logger *slog.Logger, device Device, deletionQueue *deletion.Queue) (*Uploader, error) {
	if device == nil || deletionQueue == nil {
		return nil, errors.New("upload.New requires a device and a deletion queue")
	}

	return &Uploader{
		logger:        gpu.DiscardLogger(logger),
		device:        device,
		deletionQueue: deletionQueue,
	}, nil
}

// LoadImage decodes source, fills a staging buffer and creates the destination image, then
// queues the copy for the next FlushUploads. The returned image is in an undefined layout until
// the flushed commands have executed. Any decode or validation failure is fatal.
func (u *Uploader) LoadImage(source Source) gpu.Image {
	decoded, err := source.read()
	if err != nil {
		gpu.Fatalf(u.logger, "unable to load image %s: %v", source.Name(), err)
	}

	if decoded.stagingSize == 0 {
		gpu.Fatalf(u.logger, "image %s decoded to zero bytes", source.Name())
	}

	staging, res, err := u.device.CreateBuffer(gpu.BufferCreateInfo{
		Size:   decoded.stagingSize,
		Usage:  core1_0.BufferUsageTransferSrc,
		Memory: gpu.MemoryUsageHostUpload,
		Name:   source.Name() + "/Staging",
	})
	gpu.CheckResult(u.logger, res, err, "ImageUploader CreateBuffer")

	if uint64(len(staging.Mapped)) < decoded.stagingSize {
		u.device.DestroyBuffer(staging)
		gpu.Fatalf(u.logger, "staging buffer for %s is mapped with %d bytes, need %d", source.Name(), len(staging.Mapped), decoded.stagingSize)
	}
	decoded.fill(staging.Mapped[:decoded.stagingSize])

	imageType := core1_0.ImageType2D
	if decoded.extent.Depth > 1 {
		imageType = core1_0.ImageType3D
	}

	var flags core1_0.ImageCreateFlags
	if decoded.cube {
		flags |= core1_0.ImageCreateCubeCompatible
	}

	image, res, err := u.device.CreateImage(gpu.ImageCreateInfo{
		Flags:       flags,
		Type:        imageType,
		Format:      decoded.format,
		Extent:      decoded.extent,
		MipLevels:   decoded.mipLevels,
		ArrayLayers: decoded.arrayLayers,
		Usage:       imageUsage,
		Name:        source.Name(),
	})
	if err != nil {
		u.device.DestroyBuffer(staging)
	}
	gpu.CheckResult(u.logger, res, err, "ImageUploader CreateImage")

	u.logger.Debug("ImageUploader::LoadImage",
		slog.String("Source", source.Name()),
		slog.Int("Width", decoded.extent.Width),
		slog.Int("Height", decoded.extent.Height),
		slog.Int("MipLevels", decoded.mipLevels),
		slog.Uint64("StagingSize", decoded.stagingSize),
	)

	u.AppendUpload(PendingUpload{
		Image:   image,
		Staging: staging,
		Regions: decoded.regions,
	})

	return image
}

// AppendUpload queues an upload prepared by the caller. The uploader takes ownership of the
// staging buffer.
func (u *Uploader) AppendUpload(upload PendingUpload) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	u.pending = append(u.pending, upload)
}

func (u *Uploader) HasPendingUploads() bool {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	return len(u.pending) > 0
}

func (u *Uploader) PendingCount() int {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	return len(u.pending)
}

func (u *Uploader) drain() []PendingUpload {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	pending := u.pending
	u.pending = nil
	return pending
}

// FlushUploads records every pending upload into cmd: one barrier moving all images to
// transfer-dst, one copy per upload, and one barrier moving all images to shader-read-only.
// Staging buffers are handed to the deletion queue. Nothing is recorded when no upload is pending.
func (u *Uploader) FlushUploads(cmd gpu.CommandBuffer) {
	pending := u.drain()
	if len(pending) == 0 {
		return
	}
	defer u.batch.Clear()

	u.logger.Debug("ImageUploader::FlushUploads", slog.Int("Count", len(pending)))

	for _, upload := range pending {
		u.batch.WriteImageBarrier(upload.Image, barrier.ImageBarrier{
			SrcStageMask:  core1_0.PipelineStageTopOfPipe,
			SrcAccessMask: 0,
			DstStageMask:  core1_0.PipelineStageTransfer,
			DstAccessMask: core1_0.AccessTransferWrite,
			OldLayout:     core1_0.ImageLayoutUndefined,
			NewLayout:     core1_0.ImageLayoutTransferDstOptimal,
		})
	}
	gpu.Check(u.logger, u.batch.Execute(cmd), "ImageUploader PipelineBarrier")

	for _, upload := range pending {
		err := cmd.CopyBufferToImage(upload.Staging, upload.Image, core1_0.ImageLayoutTransferDstOptimal, upload.Regions)
		gpu.Check(u.logger, err, "ImageUploader CopyBufferToImage")
	}

	for _, upload := range pending {
		u.batch.WriteImageBarrier(upload.Image, barrier.ImageBarrier{
			SrcStageMask:  core1_0.PipelineStageTransfer,
			SrcAccessMask: core1_0.AccessTransferWrite,
			DstStageMask:  core1_0.PipelineStageFragmentShader | core1_0.PipelineStageComputeShader,
			DstAccessMask: core1_0.AccessShaderRead,
			OldLayout:     core1_0.ImageLayoutTransferDstOptimal,
			NewLayout:     core1_0.ImageLayoutShaderReadOnlyOptimal,
		})
	}
	gpu.Check(u.logger, u.batch.Execute(cmd), "ImageUploader PipelineBarrier")

	for _, upload := range pending {
		staging := upload.Staging
		u.deletionQueue.Push(func() {
			u.device.DestroyBuffer(staging)
		})
	}
}

// ClearUploads drops every pending upload, destroying its image and staging buffer immediately.
// Only call it when no submitted work references them, such as at shutdown.
func (u *Uploader) ClearUploads() {
	for _, upload := range u.drain() {
		u.device.DestroyBuffer(upload.Staging)
		u.device.DestroyImage(upload.Image)
	}
}
