package upload

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/quartermaster/gpu"
	"github.com/vkngwrapper/quartermaster/internal/half"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// decodedImage is everything LoadImage needs to create the image and fill its staging buffer
type decodedImage struct {
	format      core1_0.Format
	extent      core1_0.Extent3D
	mipLevels   int
	arrayLayers int
	cube        bool

	stagingSize uint64
	fill        func(dst []byte)
	regions     []gpu.BufferImageCopy
}

func singleImage(format core1_0.Format, width, height int, size uint64, fill func(dst []byte)) *decodedImage {
	return &decodedImage{
		format:      format,
		extent:      core1_0.Extent3D{Width: width, Height: height, Depth: 1},
		mipLevels:   1,
		arrayLayers: 1,
		stagingSize: size,
		fill:        fill,
		regions: []gpu.BufferImageCopy{{
			ImageSubresource: gpu.ImageSubresourceLayers{
				AspectMask: core1_0.ImageAspectColor,
				LayerCount: 1,
			},
			ImageExtent: core1_0.Extent3D{Width: width, Height: height, Depth: 1},
		}},
	}
}

// flipRows reverses the row order of a tightly packed image in place
func flipRows[T any](pixels []T, rowLength int) {
	rows := len(pixels) / rowLength
	scratch := make([]T, rowLength)
	for top, bottom := 0, rows-1; top < bottom; top, bottom = top+1, bottom-1 {
		topRow := pixels[top*rowLength : (top+1)*rowLength]
		bottomRow := pixels[bottom*rowLength : (bottom+1)*rowLength]
		copy(scratch, topRow)
		copy(topRow, bottomRow)
		copy(bottomRow, scratch)
	}
}

// decode8Bit decodes any registered 8-bit container to straight alpha RGBA8
func decode8Bit(data []byte, flags LoadFlags) (*decodedImage, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decoding image")
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.Newf("image has empty bounds %v", bounds)
	}

	rgba, ok := src.(*image.NRGBA)
	if !ok || rgba.Stride != width*4 || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewNRGBA(image.Rect(0, 0, width, height))
		draw.Draw(rgba, rgba.Bounds(), src, bounds.Min, draw.Src)
	}

	if flags.Has(LoadFlipVertical) {
		flipRows(rgba.Pix, width*4)
	}

	format := core1_0.FormatR8G8B8A8UnsignedNormalized
	if flags.Has(LoadSRGB) {
		format = core1_0.FormatR8G8B8A8SRGB
	}

	return singleImage(format, width, height, uint64(len(rgba.Pix)), func(dst []byte) { copy(dst, rgba.Pix) }), nil
}

// decodeHDRImage decodes Radiance RGBE to RGBA float32 and stores it as half floats
func decodeHDRImage(data []byte, flags LoadFlags) (*decodedImage, error) {
	if flags.Has(LoadSRGB) {
		return nil, errors.New("HDR images cannot be loaded as sRGB")
	}

	hdr, err := decodeRadianceHDR(data)
	if err != nil {
		return nil, err
	}

	if flags.Has(LoadFlipVertical) {
		flipRows(hdr.pixels, hdr.width*4)
	}

	size := uint64(len(hdr.pixels)) * 2
	return singleImage(core1_0.FormatR16G16B16A16SignedFloat, hdr.width, hdr.height, size, func(dst []byte) {
		half.Convert(unsafe.Slice((*uint16)(unsafe.Pointer(&dst[0])), len(hdr.pixels)), hdr.pixels)
	}), nil
}

// decodeKTX2Image stages every level of a KTX2 container as stored, or inflated when zstd
// supercompressed, with one copy region per level and layer
func decodeKTX2Image(data []byte, flags LoadFlags) (*decodedImage, error) {
	if flags.Has(LoadFlipVertical) {
		return nil, errors.New("KTX2 images cannot be flipped at load time")
	}

	texture, err := parseKTX2(data)
	if err != nil {
		return nil, err
	}

	start, end := texture.stagingRange()
	payload := texture.data[start:end]

	return &decodedImage{
		format:      texture.format,
		extent:      core1_0.Extent3D{Width: texture.width, Height: texture.height, Depth: texture.depth},
		mipLevels:   len(texture.levels),
		arrayLayers: texture.arrayLayers(),
		cube:        texture.faces == 6,
		stagingSize: uint64(len(payload)),
		fill:        func(dst []byte) { copy(dst, payload) },
		regions:     texture.copyRegions(core1_0.ImageAspectColor),
	}, nil
}
