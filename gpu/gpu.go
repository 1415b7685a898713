// Package gpu declares the slice of an explicit graphics API that framecore consumes: memory heaps
// with property flags, update-after-bind descriptor sets, command buffers submitted to queues,
// fences, semaphores and a presentable surface. Package vulkan implements it on top of vkngwrapper;
// package mocks holds generated gomock doubles for tests.
package gpu

//go:generate mockgen -source=gpu.go -destination=./mocks/mocks.go -package=mocks

import (
	"time"
	"unsafe"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Fence is signaled by the device when a submission completes.
type Fence interface {
	// Status returns core1_0.VKSuccess when signaled and core1_0.VKNotReady otherwise
	Status() (common.VkResult, error)
	// Wait blocks for at most timeout and returns core1_0.VKTimeout if the fence did not signal
	Wait(timeout time.Duration) (common.VkResult, error)
	Reset() (common.VkResult, error)
	Destroy()
}

// Semaphore orders queue operations against each other on the device.
type Semaphore interface {
	Destroy()
}

// CommandBuffer is a recorded (or recordable) primary command buffer.
type CommandBuffer interface {
	Begin() (common.VkResult, error)
	End() (common.VkResult, error)
	Reset() (common.VkResult, error)
}

// DeviceMemory is a single driver memory allocation.
type DeviceMemory interface {
	Map(offset, size int) (unsafe.Pointer, common.VkResult, error)
	Unmap()
	// Flush makes host writes to a mapped non-coherent range visible to the device
	Flush(offset, size int) (common.VkResult, error)
	// Invalidate makes device writes to a mapped non-coherent range visible to the host
	Invalidate(offset, size int) (common.VkResult, error)
	Free()
}

// Buffer is a device buffer that needs memory bound before use.
type Buffer interface {
	Size() int
	MemoryRequirements() core1_0.MemoryRequirements
	BindMemory(memory DeviceMemory, offset int) (common.VkResult, error)
	Destroy()
}

// Image is a device image. Images owned by a Swapchain are never bound or destroyed by the caller.
type Image interface {
	MemoryRequirements() core1_0.MemoryRequirements
	BindMemory(memory DeviceMemory, offset int) (common.VkResult, error)
	Destroy()
}

type ImageView interface {
	Destroy()
}

type Sampler interface {
	Destroy()
}

type BufferView interface {
	Destroy()
}

// DescriptorSet is the single persistent bindless set. Write must be legal while the set is bound
// by pending command buffers (update-after-bind).
type DescriptorSet interface {
	Write(writes []DescriptorWrite) error
	Destroy()
}

type SubmitInfo struct {
	CommandBuffers   []CommandBuffer
	WaitSemaphores   []Semaphore
	WaitDstStageMask []core1_0.PipelineStageFlags
	SignalSemaphores []Semaphore
}

// Queue is a hardware queue. It is not safe for simultaneous submission from multiple goroutines.
type Queue interface {
	Submit(fence Fence, submits []SubmitInfo) (common.VkResult, error)
	Present(swapchain Swapchain, imageIndex int, waits []Semaphore) (common.VkResult, error)
	WaitIdle() (common.VkResult, error)
}

type Device interface {
	MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties
	DescriptorLimits() DescriptorLimits

	AllocateMemory(memoryTypeIndex int, size int) (DeviceMemory, common.VkResult, error)
	CreateBuffer(size int, usage core1_0.BufferUsageFlags) (Buffer, common.VkResult, error)
	CreateImage(o ImageCreateInfo) (Image, common.VkResult, error)
	CreateImageView(image Image, format Format) (ImageView, common.VkResult, error)
	CreateFence(signaled bool) (Fence, common.VkResult, error)
	CreateSemaphore() (Semaphore, common.VkResult, error)
	CreateDescriptorSet(bindings []DescriptorBinding) (DescriptorSet, common.VkResult, error)
	WaitIdle() (common.VkResult, error)
}

// Surface reports presentation capabilities and creates swapchains for them.
type Surface interface {
	Capabilities() (SurfaceCapabilities, common.VkResult, error)
	CreateSwapchain(o SwapchainCreateInfo, old Swapchain) (Swapchain, common.VkResult, error)
}

type Swapchain interface {
	Images() ([]Image, common.VkResult, error)
	AcquireNextImage(timeout time.Duration, semaphore Semaphore) (int, common.VkResult, error)
	Destroy()
}
