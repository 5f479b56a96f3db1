package upload

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/codec/rgbe"
)

var hdrSignatures = [][]byte{[]byte("#?RADIANCE"), []byte("#?RGBE")}

func isRadianceHDR(data []byte) bool {
	for _, signature := range hdrSignatures {
		if bytes.HasPrefix(data, signature) {
			return true
		}
	}
	return false
}

// hdrImage is a decoded Radiance picture as RGBA float32, alpha 1, top row first
type hdrImage struct {
	width  int
	height int
	pixels []float32
}

// decodeRadianceHDR decodes an RGBE Radiance file, flat or run length encoded, and repacks it
// as tightly packed RGBA float32
func decodeRadianceHDR(data []byte) (*hdrImage, error) {
	if !isRadianceHDR(data) {
		return nil, errors.New("missing Radiance signature")
	}

	decoded, err := rgbe.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decoding Radiance RGBE")
	}

	picture, ok := decoded.(hdr.Image)
	if !ok {
		return nil, errors.Newf("Radiance decoder produced %T, which carries no HDR samples", decoded)
	}

	bounds := picture.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, errors.Newf("invalid Radiance dimensions %dx%d", width, height)
	}

	img := &hdrImage{
		width:  width,
		height: height,
		pixels: make([]float32, width*height*4),
	}

	for y := 0; y < height; y++ {
		row := img.pixels[y*width*4 : (y+1)*width*4]
		for x := 0; x < width; x++ {
			r, g, b, _ := picture.HDRAt(bounds.Min.X+x, bounds.Min.Y+y).HDRRGBA()
			row[x*4] = float32(r)
			row[x*4+1] = float32(g)
			row[x*4+2] = float32(b)
			row[x*4+3] = 1
		}
	}

	return img, nil
}
