package gpu

import "github.com/vkngwrapper/core/v2/common"

// BufferCreateFlags exposes optional behavior for Device.CreateBuffer
type BufferCreateFlags int32

var bufferCreateFlagsMapping = common.NewFlagStringMapping[BufferCreateFlags]()

func (f BufferCreateFlags) Register(str string) {
	bufferCreateFlagsMapping.Register(f, str)
}
func (f BufferCreateFlags) String() string {
	return bufferCreateFlagsMapping.FlagsToString(f)
}

// Has reports whether every bit of flag is set
func (f BufferCreateFlags) Has(flag BufferCreateFlags) bool {
	return f&flag == flag
}

func (f BufferCreateFlags) Set(flag BufferCreateFlags) BufferCreateFlags {
	return f | flag
}

func (f BufferCreateFlags) Clear(flag BufferCreateFlags) BufferCreateFlags {
	return f &^ flag
}

const (
	// BufferCreateDeviceAddress queries the device address of the buffer after creation and
	// stores it in Buffer.DeviceAddress. The usage must include shader device address.
	BufferCreateDeviceAddress BufferCreateFlags = 1 << iota
	// BufferCreateDedicated requests a dedicated memory allocation for the buffer
	BufferCreateDedicated
)

func init() {
	BufferCreateDeviceAddress.Register("BufferCreateDeviceAddress")
	BufferCreateDedicated.Register("BufferCreateDedicated")
}
