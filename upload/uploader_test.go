package upload_test

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/quartermaster/deletion"
	"github.com/vkngwrapper/quartermaster/gpu"
	"github.com/vkngwrapper/quartermaster/gpu/gputest"
	"github.com/vkngwrapper/quartermaster/upload"
)

func requireFatal(t *testing.T, f func()) error {
	t.Helper()

	var fatal error
	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r)
			err, isErr := r.(error)
			require.True(t, isErr)
			require.True(t, errors.Is(err, gpu.FatalError))
			fatal = err
		}()

		f()
	}()

	return fatal
}

func newUploader(t *testing.T) (*upload.Uploader, *gputest.Device, *deletion.Queue) {
	device := gputest.NewDevice()
	queue := &deletion.Queue{}

	uploader, err := upload.New(nil, device, queue)
	require.NoError(t, err)
	return uploader, device, queue
}

// flushOne flushes the uploader and returns the single recorded image copy
func flushOne(t *testing.T, uploader *upload.Uploader) *gputest.ImageCopyCommand {
	cmd := gputest.NewCommandBuffer()
	uploader.FlushUploads(cmd)
	require.Len(t, cmd.Commands, 3)
	require.NotNil(t, cmd.Commands[1].ImageCopy)
	return cmd.Commands[1].ImageCopy
}

func encodePNG(t *testing.T, img image.Image) []byte {
	var buffer bytes.Buffer
	require.NoError(t, png.Encode(&buffer, img))
	return buffer.Bytes()
}

func twoRowImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(0, 1, color.NRGBA{B: 255, A: 128})
	return img
}

func TestLoadPNG(t *testing.T) {
	testCases := map[string]struct {
		source   upload.Source
		format   core1_0.Format
		expected []byte
	}{
		"Typed": {
			source:   upload.MemorySource{Data: nil, Type: "png"},
			format:   core1_0.FormatR8G8B8A8UnsignedNormalized,
			expected: []byte{255, 0, 0, 255, 0, 0, 255, 128},
		},
		"Sniffed": {
			source:   upload.MemorySource{Type: ""},
			format:   core1_0.FormatR8G8B8A8UnsignedNormalized,
			expected: []byte{255, 0, 0, 255, 0, 0, 255, 128},
		},
		"SRGB": {
			source:   upload.MemorySource{Type: "png", Flags: upload.LoadSRGB},
			format:   core1_0.FormatR8G8B8A8SRGB,
			expected: []byte{255, 0, 0, 255, 0, 0, 255, 128},
		},
		"Flipped": {
			source:   upload.MemorySource{Type: "PNG", Flags: upload.LoadFlipVertical},
			format:   core1_0.FormatR8G8B8A8UnsignedNormalized,
			expected: []byte{0, 0, 255, 128, 255, 0, 0, 255},
		},
	}

	encoded := encodePNG(t, twoRowImage())

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			uploader, device, _ := newUploader(t)

			source := testCase.source.(upload.MemorySource)
			source.Data = encoded
			source.Label = "Albedo"

			img := uploader.LoadImage(source)
			require.Equal(t, testCase.format, img.Format)
			require.Equal(t, core1_0.Extent3D{Width: 1, Height: 2, Depth: 1}, img.Extent)
			require.Equal(t, 1, img.MipLevels)
			require.Equal(t, core1_0.ImageUsageTransferDst|core1_0.ImageUsageSampled, img.Usage)
			require.Equal(t, core1_0.ImageType2D, img.Type)

			copyCommand := flushOne(t, uploader)
			require.Equal(t, testCase.expected, copyCommand.Src.Mapped)
			require.Equal(t, "Albedo/Staging", device.Name(copyCommand.Src.Handle))
			require.Equal(t, []gpu.BufferImageCopy{{
				ImageSubresource: gpu.ImageSubresourceLayers{AspectMask: core1_0.ImageAspectColor, LayerCount: 1},
				ImageExtent:      core1_0.Extent3D{Width: 1, Height: 2, Depth: 1},
			}}, copyCommand.Regions)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	uploader, _, _ := newUploader(t)

	path := filepath.Join(t.TempDir(), "brick.png")
	require.NoError(t, os.WriteFile(path, encodePNG(t, twoRowImage()), 0o644))

	img := uploader.LoadImage(upload.FileSource{Path: path})
	require.Equal(t, 2, img.Extent.Height)
	require.True(t, uploader.HasPendingUploads())
}

func TestLoadFailuresAreFatal(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.png")

	testCases := map[string]struct {
		source   upload.Source
		contains string
	}{
		"MissingFile":   {source: upload.FileSource{Path: missing}, contains: missing},
		"Garbage":       {source: upload.MemorySource{Label: "noise", Data: []byte("not an image at all")}, contains: "noise"},
		"Empty":         {source: upload.MemorySource{Label: "empty", Type: "png"}, contains: "empty"},
		"CorruptPNG":    {source: upload.MemorySource{Label: "corrupt", Data: []byte("\x89PNG\r\n\x1a\nbroken"), Type: "png"}, contains: "corrupt"},
		"RawWrongSize":  {source: upload.RawSource{Label: "raw", Data: make([]byte, 15), Width: 2, Height: 2, Format: core1_0.FormatR8G8B8A8UnsignedNormalized}, contains: "raw"},
		"RawZeroWidth":  {source: upload.RawSource{Label: "raw", Width: 0, Height: 2, Format: core1_0.FormatR8G8B8A8UnsignedNormalized}, contains: "dimensions"},
		"RawUnknownFmt": {source: upload.RawSource{Label: "raw", Data: make([]byte, 4), Width: 1, Height: 1, Format: core1_0.FormatR4G4UnsignedNormalizedPacked}, contains: "unsupported image format"},
		"HDRAsSRGB":     {source: upload.MemorySource{Label: "sky", Data: flatHDR(), Type: "hdr", Flags: upload.LoadSRGB}, contains: "sRGB"},
		"KTX2Flipped":   {source: upload.MemorySource{Label: "ktx", Data: buildKTX2(t, ktx2Options{}), Flags: upload.LoadFlipVertical}, contains: "flipped"},
		"KTX2BasisLZ": {
			source:   upload.MemorySource{Label: "ktx", Data: buildKTX2(t, ktx2Options{supercompression: 1})},
			contains: "supercompression",
		},
		"KTX2Basis": {
			source:   upload.MemorySource{Label: "ktx", Data: buildKTX2(t, ktx2Options{format: -1})},
			contains: "Basis",
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			uploader, device, _ := newUploader(t)

			err := requireFatal(t, func() { uploader.LoadImage(testCase.source) })
			require.Contains(t, err.Error(), testCase.contains)

			require.False(t, uploader.HasPendingUploads())
			require.Equal(t, 0, device.LiveCount("buffer"))
			require.Equal(t, 0, device.LiveCount("image"))
		})
	}
}

func TestLoadRaw(t *testing.T) {
	uploader, _, _ := newUploader(t)

	data := []byte{
		1, 2, 3, 4, 5, 6, 7, 8,
		9, 10, 11, 12, 13, 14, 15, 16,
	}
	img := uploader.LoadImage(upload.RawSource{Data: data, Width: 2, Height: 2, Format: core1_0.FormatR8G8B8A8UnsignedNormalized})
	require.Equal(t, core1_0.Extent3D{Width: 2, Height: 2, Depth: 1}, img.Extent)

	copyCommand := flushOne(t, uploader)
	require.Equal(t, data, copyCommand.Src.Mapped)
	require.Equal(t, uint64(16), copyCommand.Src.Size)
}

func TestFlushRecordsThreePhases(t *testing.T) {
	uploader, device, queue := newUploader(t)

	first := uploader.LoadImage(upload.RawSource{Data: make([]byte, 4), Width: 1, Height: 1, Format: core1_0.FormatR8G8B8A8UnsignedNormalized})
	second := uploader.LoadImage(upload.MemorySource{Data: buildKTX2(t, ktx2Options{}), Type: "ktx2"})

	cmd := gputest.NewCommandBuffer()
	uploader.FlushUploads(cmd)
	require.False(t, uploader.HasPendingUploads())

	require.Len(t, cmd.Commands, 4)

	toTransfer := cmd.Commands[0].Barrier
	require.NotNil(t, toTransfer)
	require.Empty(t, toTransfer.BufferBarriers)
	require.Len(t, toTransfer.ImageBarriers, 2)
	for i, img := range []gpu.Image{first, second} {
		b := toTransfer.ImageBarriers[i]
		require.Equal(t, img.Handle, b.Image.Handle)
		require.Equal(t, core1_0.ImageLayoutUndefined, b.OldLayout)
		require.Equal(t, core1_0.ImageLayoutTransferDstOptimal, b.NewLayout)
		require.Equal(t, core1_0.PipelineStageTransfer, b.DstStageMask)
		require.Equal(t, core1_0.AccessTransferWrite, b.DstAccessMask)
		require.Equal(t, img.MipLevels, b.SubresourceRange.LevelCount)
		require.Equal(t, img.ArrayLayers, b.SubresourceRange.LayerCount)
	}

	require.Equal(t, first.Handle, cmd.Commands[1].ImageCopy.Dst.Handle)
	require.Equal(t, second.Handle, cmd.Commands[2].ImageCopy.Dst.Handle)
	for _, c := range cmd.Commands[1:3] {
		require.Equal(t, core1_0.ImageLayoutTransferDstOptimal, c.ImageCopy.Layout)
	}

	toShader := cmd.Commands[3].Barrier
	require.NotNil(t, toShader)
	require.Len(t, toShader.ImageBarriers, 2)
	for _, b := range toShader.ImageBarriers {
		require.Equal(t, core1_0.ImageLayoutTransferDstOptimal, b.OldLayout)
		require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, b.NewLayout)
		require.Equal(t, core1_0.PipelineStageTransfer, b.SrcStageMask)
		require.Equal(t, core1_0.AccessTransferWrite, b.SrcAccessMask)
		require.Equal(t, core1_0.PipelineStageFragmentShader|core1_0.PipelineStageComputeShader, b.DstStageMask)
		require.Equal(t, core1_0.AccessShaderRead, b.DstAccessMask)
	}

	// staging buffers outlive the flush until the deletion queue runs
	staging := []gpu.Buffer{cmd.Commands[1].ImageCopy.Src, cmd.Commands[2].ImageCopy.Src}
	for _, buffer := range staging {
		require.True(t, device.IsLive(buffer.Handle))
	}
	require.Equal(t, 2, queue.Len())

	queue.Flush()
	for _, buffer := range staging {
		require.False(t, device.IsLive(buffer.Handle))
	}
	require.True(t, device.IsLive(first.Handle))
	require.True(t, device.IsLive(second.Handle))

	// a second flush has nothing to record
	next := gputest.NewCommandBuffer()
	uploader.FlushUploads(next)
	require.Empty(t, next.Commands)
}

func TestFlushWithNothingPending(t *testing.T) {
	uploader, _, queue := newUploader(t)

	cmd := gputest.NewCommandBuffer()
	uploader.FlushUploads(cmd)
	require.Empty(t, cmd.Commands)
	require.Equal(t, 0, queue.Len())
}

func TestAppendUploadTakesOwnership(t *testing.T) {
	uploader, device, queue := newUploader(t)

	staging, _, err := device.CreateBuffer(gpu.BufferCreateInfo{Size: 64, Usage: core1_0.BufferUsageTransferSrc, Memory: gpu.MemoryUsageHostUpload})
	require.NoError(t, err)
	img, _, err := device.CreateImage(gpu.ImageCreateInfo{
		Type: core1_0.ImageType2D, Format: core1_0.FormatR8G8B8A8UnsignedNormalized,
		Extent:    core1_0.Extent3D{Width: 4, Height: 4, Depth: 1},
		MipLevels: 1, ArrayLayers: 1,
	})
	require.NoError(t, err)

	regions := []gpu.BufferImageCopy{{ImageExtent: core1_0.Extent3D{Width: 4, Height: 4, Depth: 1}}}
	uploader.AppendUpload(upload.PendingUpload{Image: img, Staging: staging, Regions: regions})
	require.Equal(t, 1, uploader.PendingCount())

	copyCommand := flushOne(t, uploader)
	require.Equal(t, regions, copyCommand.Regions)

	queue.Flush()
	require.False(t, device.IsLive(staging.Handle))
}

func TestConcurrentLoads(t *testing.T) {
	uploader, device, _ := newUploader(t)

	const workers = 8
	const perWorker = 16

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				uploader.LoadImage(upload.RawSource{Data: make([]byte, 4), Width: 1, Height: 1, Format: core1_0.FormatR8G8B8A8UnsignedNormalized})
				uploader.HasPendingUploads()
			}
		}()
	}

	// the render goroutine flushes while workers are still loading
	cmd := gputest.NewCommandBuffer()
	uploader.FlushUploads(cmd)
	wg.Wait()
	uploader.FlushUploads(cmd)

	copies := 0
	for _, c := range cmd.Commands {
		if c.ImageCopy != nil {
			copies++
		}
	}
	require.Equal(t, workers*perWorker, copies)
	require.Equal(t, workers*perWorker, device.LiveCount("image"))
}

func TestClearUploads(t *testing.T) {
	uploader, device, queue := newUploader(t)

	uploader.LoadImage(upload.RawSource{Data: make([]byte, 4), Width: 1, Height: 1, Format: core1_0.FormatR8G8B8A8UnsignedNormalized})
	uploader.LoadImage(upload.RawSource{Data: make([]byte, 4), Width: 1, Height: 1, Format: core1_0.FormatR8G8B8A8UnsignedNormalized})

	uploader.ClearUploads()
	require.False(t, uploader.HasPendingUploads())
	require.Equal(t, 0, device.LiveCount("buffer"))
	require.Equal(t, 0, device.LiveCount("image"))
	require.Equal(t, 0, queue.Len())
}

type ktx2Options struct {
	// format -1 writes VK_FORMAT_UNDEFINED, zero selects R8G8B8A8 UNORM
	format           int
	supercompression uint32
	layers           uint32
	faces            uint32
}

// buildKTX2 writes a 4x4 three level texture. Level data is stored smallest first, each level
// filled with its mip index plus one. Supercompression scheme 2 stores each level zstd
// compressed; other schemes store the levels as is.
func buildKTX2(t *testing.T, options ktx2Options) []byte {
	format := uint32(core1_0.FormatR8G8B8A8UnsignedNormalized)
	if options.format == -1 {
		format = 0
	} else if options.format != 0 {
		format = uint32(options.format)
	}
	faces := options.faces
	if faces == 0 {
		faces = 1
	}
	layerCount := max(options.layers, 1) * faces

	const levels = 3
	levelSizes := []uint64{64, 16, 4}

	levelData := make([][]byte, levels)
	for level := 0; level < levels; level++ {
		levelData[level] = bytes.Repeat([]byte{byte(level + 1)}, int(levelSizes[level]*uint64(layerCount)))
	}

	stored := levelData
	if options.supercompression == 2 {
		encoder, err := zstd.NewWriter(nil)
		require.NoError(t, err)

		stored = make([][]byte, levels)
		for level := 0; level < levels; level++ {
			stored[level] = encoder.EncodeAll(levelData[level], nil)
		}
		require.NoError(t, encoder.Close())
	}

	var buffer bytes.Buffer
	buffer.Write([]byte{0xAB, 0x4B, 0x54, 0x58, 0x20, 0x32, 0x30, 0xBB, 0x0D, 0x0A, 0x1A, 0x0A})

	header := []uint32{format, 1, 4, 4, 0, options.layers, faces, levels, options.supercompression}
	require.NoError(t, binary.Write(&buffer, binary.LittleEndian, header))
	// dfd, kvd offsets and lengths, then sgd offset and length
	require.NoError(t, binary.Write(&buffer, binary.LittleEndian, []uint32{0, 0, 0, 0}))
	require.NoError(t, binary.Write(&buffer, binary.LittleEndian, []uint64{0, 0}))
	require.Equal(t, 80, buffer.Len())

	dataStart := uint64(80 + levels*24)
	offsets := make([]uint64, levels)
	next := dataStart
	for level := levels - 1; level >= 0; level-- {
		offsets[level] = next
		next += uint64(len(stored[level]))
	}

	for level := 0; level < levels; level++ {
		index := []uint64{offsets[level], uint64(len(stored[level])), uint64(len(levelData[level]))}
		require.NoError(t, binary.Write(&buffer, binary.LittleEndian, index))
	}

	for level := levels - 1; level >= 0; level-- {
		buffer.Write(stored[level])
	}

	return buffer.Bytes()
}

func TestLoadKTX2RegionPerLevel(t *testing.T) {
	uploader, _, _ := newUploader(t)

	img := uploader.LoadImage(upload.MemorySource{Data: buildKTX2(t, ktx2Options{}), Type: "ktx2"})
	require.Equal(t, 3, img.MipLevels)
	require.Equal(t, 1, img.ArrayLayers)
	require.Equal(t, core1_0.FormatR8G8B8A8UnsignedNormalized, img.Format)

	copyCommand := flushOne(t, uploader)
	require.Len(t, copyCommand.Src.Mapped, 84)

	// level 2 is stored first, then level 1, then level 0
	expected := []struct {
		offset uint64
		size   int
	}{{20, 4}, {4, 2}, {0, 1}}

	require.Len(t, copyCommand.Regions, 3)
	for mip, region := range copyCommand.Regions {
		require.Equal(t, expected[mip].offset, region.BufferOffset)
		require.Equal(t, mip, region.ImageSubresource.MipLevel)
		require.Equal(t, 1, region.ImageSubresource.LayerCount)
		require.Equal(t, core1_0.Extent3D{Width: expected[mip].size, Height: expected[mip].size, Depth: 1}, region.ImageExtent)
		require.Equal(t, byte(mip+1), copyCommand.Src.Mapped[region.BufferOffset])
	}
}

func TestLoadKTX2Cube(t *testing.T) {
	uploader, device, _ := newUploader(t)

	img := uploader.LoadImage(upload.MemorySource{Data: buildKTX2(t, ktx2Options{faces: 6}), Type: "ktx2"})
	require.Equal(t, 6, img.ArrayLayers)
	require.True(t, device.IsLive(img.Handle))

	copyCommand := flushOne(t, uploader)
	require.Len(t, copyCommand.Regions, 18)

	// faces of level 0 follow each other 64 bytes apart
	for face := 0; face < 6; face++ {
		region := copyCommand.Regions[face]
		require.Equal(t, 0, region.ImageSubresource.MipLevel)
		require.Equal(t, face, region.ImageSubresource.BaseArrayLayer)
		require.Equal(t, uint64((4+16)*6+64*face), region.BufferOffset)
	}
}

func TestLoadKTX2Zstd(t *testing.T) {
	uploader, _, _ := newUploader(t)

	img := uploader.LoadImage(upload.MemorySource{Data: buildKTX2(t, ktx2Options{supercompression: 2}), Type: "ktx2"})
	require.Equal(t, 3, img.MipLevels)
	require.Equal(t, core1_0.FormatR8G8B8A8UnsignedNormalized, img.Format)

	copyCommand := flushOne(t, uploader)
	require.Len(t, copyCommand.Src.Mapped, 84)

	// inflated levels are staged level 0 first
	expected := []struct {
		offset uint64
		size   int
	}{{0, 4}, {64, 2}, {80, 1}}

	require.Len(t, copyCommand.Regions, 3)
	for mip, region := range copyCommand.Regions {
		require.Equal(t, expected[mip].offset, region.BufferOffset)
		require.Equal(t, mip, region.ImageSubresource.MipLevel)
		require.Equal(t, core1_0.Extent3D{Width: expected[mip].size, Height: expected[mip].size, Depth: 1}, region.ImageExtent)

		levelBytes := 4 * expected[mip].size * expected[mip].size
		require.Equal(t, bytes.Repeat([]byte{byte(mip + 1)}, levelBytes),
			copyCommand.Src.Mapped[region.BufferOffset:region.BufferOffset+uint64(levelBytes)])
	}
}

func TestCorruptZstdKTX2IsFatal(t *testing.T) {
	uploader, _, _ := newUploader(t)

	data := buildKTX2(t, ktx2Options{supercompression: 2})
	// the smallest level is stored right after the level index; break its frame magic
	data[80+3*24] ^= 0xff

	err := requireFatal(t, func() { uploader.LoadImage(upload.MemorySource{Label: "zstd", Data: data, Type: "ktx2"}) })
	require.Contains(t, err.Error(), "inflating KTX2 level 2")
}

func TestKTX2LevelSizeMismatchIsFatal(t *testing.T) {
	uploader, _, _ := newUploader(t)

	// BC7 4x4 levels need 16 bytes each, not 64/16/4
	data := buildKTX2(t, ktx2Options{format: int(core1_0.FormatBC7_UnsignedNormalized)})
	err := requireFatal(t, func() { uploader.LoadImage(upload.MemorySource{Label: "bc7", Data: data, Type: "ktx2"}) })
	require.Contains(t, err.Error(), "expected 16")
}
