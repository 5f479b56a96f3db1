package upload

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/h2non/filetype"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Source is where LoadImage reads pixels from: a FileSource, MemorySource or RawSource
type Source interface {
	// Name identifies the source in diagnostics and debug names
	Name() string
	read() (*decodedImage, error)
}

// FileSource loads an encoded image from disk. The container is chosen by extension, or by
// content when the extension is not recognized.
type FileSource struct {
	Path  string
	Flags LoadFlags
}

func (s FileSource) Name() string {
	return s.Path
}

func (s FileSource) read() (*decodedImage, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, errors.Wrap(err, "reading image file")
	}

	kind := strings.ToLower(strings.TrimPrefix(filepath.Ext(s.Path), "."))
	return decodeEncoded(data, kind, s.Flags)
}

// MemorySource is an encoded image already in memory. Type is a file extension such as "png",
// "hdr" or "ktx2"; an empty Type sniffs the content.
type MemorySource struct {
	Label string
	Data  []byte
	Type  string
	Flags LoadFlags
}

func (s MemorySource) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return "memory image"
}

func (s MemorySource) read() (*decodedImage, error) {
	return decodeEncoded(s.Data, strings.ToLower(strings.TrimPrefix(s.Type, ".")), s.Flags)
}

// RawSource is tightly packed, already decoded texel data in Format
type RawSource struct {
	Label  string
	Data   []byte
	Width  int
	Height int
	Format core1_0.Format
}

func (s RawSource) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return "raw image"
}

func (s RawSource) read() (*decodedImage, error) {
	if s.Width <= 0 || s.Height <= 0 {
		return nil, errors.Newf("invalid raw image dimensions %dx%d", s.Width, s.Height)
	}

	layout, err := layoutOf(s.Format)
	if err != nil {
		return nil, err
	}

	size := layout.imageBytes(s.Width, s.Height, 1)
	if uint64(len(s.Data)) != size {
		return nil, errors.Newf("raw image holds %d bytes, format %d at %dx%d needs %d", len(s.Data), s.Format, s.Width, s.Height, size)
	}

	return singleImage(s.Format, s.Width, s.Height, size, func(dst []byte) { copy(dst, s.Data) }), nil
}

var (
	ktx2Type = filetype.NewType("ktx2", "image/ktx2")
	hdrType  = filetype.NewType("hdr", "image/vnd.radiance")
)

func init() {
	filetype.AddMatcher(ktx2Type, isKTX2)
	filetype.AddMatcher(hdrType, isRadianceHDR)
}

// sniff returns the extension of the container data is encoded in
func sniff(data []byte) (string, error) {
	kind, err := filetype.Match(data)
	if err != nil {
		return "", errors.Wrap(err, "detecting image type")
	}
	if kind == filetype.Unknown {
		return "", errors.New("unrecognized image data")
	}
	return kind.Extension, nil
}

func decodeEncoded(data []byte, kind string, flags LoadFlags) (*decodedImage, error) {
	if len(data) == 0 {
		return nil, errors.New("image data is empty")
	}

	if _, known := decoders[kind]; !known {
		sniffed, err := sniff(data)
		if err != nil {
			return nil, err
		}
		kind = sniffed
	}

	decode, ok := decoders[kind]
	if !ok {
		return nil, errors.Newf("unsupported image type %q", kind)
	}
	return decode(data, flags)
}

var decoders = map[string]func(data []byte, flags LoadFlags) (*decodedImage, error){
	"hdr":  decodeHDRImage,
	"ktx2": decodeKTX2Image,
	"png":  decode8Bit,
	"jpg":  decode8Bit,
	"jpeg": decode8Bit,
	"gif":  decode8Bit,
	"bmp":  decode8Bit,
	"tif":  decode8Bit,
	"tiff": decode8Bit,
	"webp": decode8Bit,
}
