package upload

import "github.com/vkngwrapper/core/v2/common"

// LoadFlags adjust how encoded sources are decoded
type LoadFlags int32

var loadFlagsMapping = common.NewFlagStringMapping[LoadFlags]()

func (f LoadFlags) Register(str string) {
	loadFlagsMapping.Register(f, str)
}
func (f LoadFlags) String() string {
	return loadFlagsMapping.FlagsToString(f)
}

func (f LoadFlags) Has(flag LoadFlags) bool {
	return f&flag == flag
}

func (f LoadFlags) Set(flag LoadFlags) LoadFlags {
	return f | flag
}

func (f LoadFlags) Clear(flag LoadFlags) LoadFlags {
	return f &^ flag
}

const (
	// LoadSRGB creates 8-bit images with an sRGB format instead of UNORM
	LoadSRGB LoadFlags = 1 << iota
	// LoadFlipVertical stores rows bottom-up. Block compressed sources cannot be flipped.
	LoadFlipVertical
)

func init() {
	LoadSRGB.Register("LoadSRGB")
	LoadFlipVertical.Register("LoadFlipVertical")
}
