package mocks

//go:generate mockgen -destination command_buffer.go -package mocks github.com/vkngwrapper/quartermaster/gpu CommandBuffer
//go:generate mockgen -destination buffer_device.go -package mocks github.com/vkngwrapper/quartermaster/gpu BufferDevice
