package upload

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// formatLayout describes how texels of a format are laid out in a tightly packed buffer. For
// uncompressed formats the block is a single texel.
type formatLayout struct {
	blockBytes  int
	blockWidth  int
	blockHeight int
}

func (l formatLayout) compressed() bool {
	return l.blockWidth > 1 || l.blockHeight > 1
}

// imageBytes is the packed size of one width x height x depth image
func (l formatLayout) imageBytes(width, height, depth int) uint64 {
	blocksX := (width + l.blockWidth - 1) / l.blockWidth
	blocksY := (height + l.blockHeight - 1) / l.blockHeight
	return uint64(blocksX) * uint64(blocksY) * uint64(depth) * uint64(l.blockBytes)
}

// formatRange maps a contiguous run of Vulkan format enumerants (the values KTX2 headers
// store) to their packed layout
type formatRange struct {
	first, last core1_0.Format
	layout      formatLayout
}

func texels(bytes int) formatLayout {
	return formatLayout{blockBytes: bytes, blockWidth: 1, blockHeight: 1}
}

func blocks(bytes int) formatLayout {
	return formatLayout{blockBytes: bytes, blockWidth: 4, blockHeight: 4}
}

var formatRanges = []formatRange{
	{9, 15, texels(1)},     // R8
	{16, 22, texels(2)},    // R8G8
	{23, 36, texels(3)},    // R8G8B8, B8G8R8
	{37, 57, texels(4)},    // R8G8B8A8, B8G8R8A8, A8B8G8R8 packed
	{58, 69, texels(4)},    // A2R10G10B10, A2B10G10R10 packed
	{70, 76, texels(2)},    // R16
	{77, 83, texels(4)},    // R16G16
	{84, 90, texels(6)},    // R16G16B16
	{91, 97, texels(8)},    // R16G16B16A16
	{98, 100, texels(4)},   // R32
	{101, 103, texels(8)},  // R32G32
	{104, 106, texels(12)}, // R32G32B32
	{107, 109, texels(16)}, // R32G32B32A32
	{122, 123, texels(4)},  // B10G11R11 and E5B9G9R9 unsigned float
	{131, 134, blocks(8)},  // BC1
	{135, 138, blocks(16)}, // BC2, BC3
	{139, 140, blocks(8)},  // BC4
	{141, 146, blocks(16)}, // BC5, BC6H, BC7
	{147, 150, blocks(8)},  // ETC2 RGB8, RGB8A1
	{151, 152, blocks(16)}, // ETC2 RGBA8
	{153, 154, blocks(8)},  // EAC R11
	{155, 156, blocks(16)}, // EAC R11G11
}

const (
	formatASTCFirst = core1_0.FormatASTC4x4_UnsignedNormalized
	formatASTCLast  = core1_0.FormatASTC12x12_sRGB
)

// block footprints of the ASTC formats in enumerant order, each with a UNORM and an SRGB variant
var astcFootprints = [][2]int{
	{4, 4}, {5, 4}, {5, 5}, {6, 5}, {6, 6}, {8, 5}, {8, 6}, {8, 8},
	{10, 5}, {10, 6}, {10, 8}, {10, 10}, {12, 10}, {12, 12},
}

// layoutOf returns the packed layout of format, or an error for formats the uploader cannot size
func layoutOf(format core1_0.Format) (formatLayout, error) {
	if format >= formatASTCFirst && format <= formatASTCLast {
		footprint := astcFootprints[(format-formatASTCFirst)/2]
		return formatLayout{blockBytes: 16, blockWidth: footprint[0], blockHeight: footprint[1]}, nil
	}

	for _, r := range formatRanges {
		if format >= r.first && format <= r.last {
			return r.layout, nil
		}
	}

	return formatLayout{}, errors.Newf("unsupported image format %d", format)
}
