package upload

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/quartermaster/gpu"
)

var ktx2Identifier = []byte{0xAB, 0x4B, 0x54, 0x58, 0x20, 0x32, 0x30, 0xBB, 0x0D, 0x0A, 0x1A, 0x0A}

const (
	ktx2HeaderSize     = 80
	ktx2LevelIndexSize = 24

	ktx2SupercompressionNone = 0
	ktx2SupercompressionZstd = 2
)

// zstdDecoder is shared by every load; DecodeAll is safe for concurrent use
var zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

func isKTX2(data []byte) bool {
	return bytes.HasPrefix(data, ktx2Identifier)
}

type ktx2Header struct {
	VkFormat               uint32
	TypeSize               uint32
	PixelWidth             uint32
	PixelHeight            uint32
	PixelDepth             uint32
	LayerCount             uint32
	FaceCount              uint32
	LevelCount             uint32
	SupercompressionScheme uint32

	DFDByteOffset uint32
	DFDByteLength uint32
	KVDByteOffset uint32
	KVDByteLength uint32
	SGDByteOffset uint64
	SGDByteLength uint64
}

type ktx2Level struct {
	ByteOffset             uint64
	ByteLength             uint64
	UncompressedByteLength uint64
}

// ktx2Texture is a parsed KTX2 container. levels[i] is mip level i and indexes into data, which
// is the whole file, or the inflated levels when the file was zstd supercompressed.
type ktx2Texture struct {
	format core1_0.Format
	layout formatLayout
	width  int
	height int
	depth  int
	layers int
	faces  int
	levels []ktx2Level
	data   []byte
}

// arrayLayers is the image layer count: cube faces are stored as layers
func (t *ktx2Texture) arrayLayers() int {
	return t.layers * t.faces
}

// parseKTX2 validates the header and level index and inflates zstd supercompressed levels.
// BasisLZ, ZLIB and Basis Universal payloads are rejected since they need transcoding before
// upload.
func parseKTX2(data []byte) (*ktx2Texture, error) {
	if !isKTX2(data) {
		return nil, errors.New("missing KTX2 identifier")
	}
	if len(data) < ktx2HeaderSize {
		return nil, errors.Newf("KTX2 header truncated at %d bytes", len(data))
	}

	var header ktx2Header
	if err := binary.Read(bytes.NewReader(data[len(ktx2Identifier):ktx2HeaderSize]), binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(err, "reading KTX2 header")
	}

	if header.SupercompressionScheme != ktx2SupercompressionNone && header.SupercompressionScheme != ktx2SupercompressionZstd {
		return nil, errors.Newf("KTX2 supercompression scheme %d is not supported", header.SupercompressionScheme)
	}
	if header.VkFormat == 0 {
		return nil, errors.New("KTX2 file needs Basis Universal transcoding, which is not supported")
	}
	if header.PixelWidth == 0 {
		return nil, errors.New("KTX2 file has zero width")
	}
	if header.FaceCount != 1 && header.FaceCount != 6 {
		return nil, errors.Newf("KTX2 face count must be 1 or 6, got %d", header.FaceCount)
	}

	format := core1_0.Format(header.VkFormat)
	layout, err := layoutOf(format)
	if err != nil {
		return nil, err
	}

	texture := &ktx2Texture{
		format: format,
		layout: layout,
		width:  int(header.PixelWidth),
		height: max(int(header.PixelHeight), 1),
		depth:  max(int(header.PixelDepth), 1),
		layers: max(int(header.LayerCount), 1),
		faces:  int(header.FaceCount),
		data:   data,
	}

	// a level count of zero asks the loader to generate mips, which only the base level needs
	levelCount := max(int(header.LevelCount), 1)
	indexEnd := ktx2HeaderSize + levelCount*ktx2LevelIndexSize
	if len(data) < indexEnd {
		return nil, errors.Newf("KTX2 level index truncated: need %d bytes, have %d", indexEnd, len(data))
	}

	texture.levels = make([]ktx2Level, levelCount)
	if err := binary.Read(bytes.NewReader(data[ktx2HeaderSize:indexEnd]), binary.LittleEndian, texture.levels); err != nil {
		return nil, errors.Wrap(err, "reading KTX2 level index")
	}

	zstdCompressed := header.SupercompressionScheme == ktx2SupercompressionZstd
	for mip, level := range texture.levels {
		if level.ByteOffset+level.ByteLength > uint64(len(data)) || level.ByteOffset+level.ByteLength < level.ByteOffset {
			return nil, errors.Newf("KTX2 level %d [%d, +%d) lies outside the %d byte file", mip, level.ByteOffset, level.ByteLength, len(data))
		}

		size := level.ByteLength
		if zstdCompressed {
			size = level.UncompressedByteLength
		}

		width, height, depth := texture.mipExtent(mip)
		expected := layout.imageBytes(width, height, depth) * uint64(texture.arrayLayers())
		if size != expected {
			return nil, errors.Newf("KTX2 level %d holds %d bytes, expected %d for %dx%dx%d with %d layers",
				mip, size, expected, width, height, depth, texture.arrayLayers())
		}
	}

	if zstdCompressed {
		if err := texture.inflateZstd(); err != nil {
			return nil, err
		}
	}

	return texture, nil
}

// inflateZstd decompresses every level into one buffer, level 0 first, and points the level
// index at it
func (t *ktx2Texture) inflateZstd() error {
	var total uint64
	for _, level := range t.levels {
		total += level.UncompressedByteLength
	}

	inflated := make([]byte, 0, total)
	for mip, level := range t.levels {
		start := uint64(len(inflated))
		compressed := t.data[level.ByteOffset : level.ByteOffset+level.ByteLength]

		var err error
		inflated, err = zstdDecoder.DecodeAll(compressed, inflated)
		if err != nil {
			return errors.Wrapf(err, "inflating KTX2 level %d", mip)
		}
		if length := uint64(len(inflated)) - start; length != level.UncompressedByteLength {
			return errors.Newf("KTX2 level %d inflated to %d bytes, expected %d", mip, length, level.UncompressedByteLength)
		}

		t.levels[mip] = ktx2Level{
			ByteOffset:             start,
			ByteLength:             level.UncompressedByteLength,
			UncompressedByteLength: level.UncompressedByteLength,
		}
	}

	t.data = inflated
	return nil
}

func (t *ktx2Texture) mipExtent(mip int) (int, int, int) {
	return max(t.width>>mip, 1), max(t.height>>mip, 1), max(t.depth>>mip, 1)
}

// copyRegions returns one region per mip level and array layer. Region offsets are relative to
// the first level's byte offset, matching a staging buffer that holds stagingRange.
func (t *ktx2Texture) copyRegions(aspect core1_0.ImageAspectFlags) []gpu.BufferImageCopy {
	base, _ := t.stagingRange()
	layers := t.arrayLayers()

	regions := make([]gpu.BufferImageCopy, 0, len(t.levels)*layers)
	for mip, level := range t.levels {
		width, height, depth := t.mipExtent(mip)
		imageSize := level.ByteLength / uint64(layers)

		for layer := 0; layer < layers; layer++ {
			regions = append(regions, gpu.BufferImageCopy{
				BufferOffset: level.ByteOffset - base + uint64(layer)*imageSize,
				ImageSubresource: gpu.ImageSubresourceLayers{
					AspectMask:     aspect,
					MipLevel:       mip,
					BaseArrayLayer: layer,
					LayerCount:     1,
				},
				ImageExtent: core1_0.Extent3D{Width: width, Height: height, Depth: depth},
			})
		}
	}

	return regions
}

// stagingRange is the span of the file covering every level's data
func (t *ktx2Texture) stagingRange() (uint64, uint64) {
	start, end := t.levels[0].ByteOffset, t.levels[0].ByteOffset+t.levels[0].ByteLength
	for _, level := range t.levels[1:] {
		start = min(start, level.ByteOffset)
		end = max(end, level.ByteOffset+level.ByteLength)
	}
	return start, end
}
