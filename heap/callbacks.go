package heap

import "github.com/vkngwrapper/framecore/gpu"

type AllocateDeviceMemoryCallback func(
	classifier *Classifier,
	memoryType int,
	memory gpu.DeviceMemory,
	size int,
	userData interface{},
)

type FreeDeviceMemoryCallback func(
	classifier *Classifier,
	memoryType int,
	memory gpu.DeviceMemory,
	size int,
	userData interface{},
)

// MemoryCallbackOptions is an optional set of callbacks that are executed whenever the classifier
// allocates or frees driver memory
type MemoryCallbackOptions struct {
	Allocate AllocateDeviceMemoryCallback
	Free     FreeDeviceMemoryCallback
	UserData interface{}
}

type memoryCallbacks struct {
	Callbacks  *MemoryCallbackOptions
	Classifier *Classifier
}

func (c *memoryCallbacks) Allocate(memoryType int, memory gpu.DeviceMemory, size int) {
	if c.Callbacks != nil && c.Callbacks.Allocate != nil {
		c.Callbacks.Allocate(c.Classifier, memoryType, memory, size, c.Callbacks.UserData)
	}
}

func (c *memoryCallbacks) Free(memoryType int, memory gpu.DeviceMemory, size int) {
	if c.Callbacks != nil && c.Callbacks.Free != nil {
		c.Callbacks.Free(c.Classifier, memoryType, memory, size, c.Callbacks.UserData)
	}
}
