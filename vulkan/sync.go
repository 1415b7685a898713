package vulkan

import (
	"time"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

type Fence struct {
	device *Device
	fence  core1_0.Fence
}

func (f *Fence) Status() (common.VkResult, error) {
	return f.fence.Status()
}

func (f *Fence) Wait(timeout time.Duration) (common.VkResult, error) {
	return f.fence.Wait(timeoutOrZero(timeout))
}

func (f *Fence) Reset() (common.VkResult, error) {
	return f.fence.Reset()
}

func (f *Fence) Destroy() {
	f.fence.Destroy(f.device.allocationCallbacks)
}

type Semaphore struct {
	device    *Device
	semaphore core1_0.Semaphore
}

func (s *Semaphore) Destroy() {
	s.semaphore.Destroy(s.device.allocationCallbacks)
}

// CommandBuffer wraps a primary command buffer from Device.AllocateCommandBuffer
type CommandBuffer struct {
	buffer core1_0.CommandBuffer
}

// VulkanCommandBuffer returns the wrapped command buffer for recording
func (c *CommandBuffer) VulkanCommandBuffer() core1_0.CommandBuffer {
	return c.buffer
}

func (c *CommandBuffer) Begin() (common.VkResult, error) {
	return c.buffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
}

func (c *CommandBuffer) End() (common.VkResult, error) {
	return c.buffer.End()
}

func (c *CommandBuffer) Reset() (common.VkResult, error) {
	return c.buffer.Reset(0)
}
