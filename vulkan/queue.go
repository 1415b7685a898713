package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"github.com/vkngwrapper/framecore/gpu"
)

// Queue adapts a core1_0.Queue. It presents through the device's swapchain extension.
type Queue struct {
	queue     core1_0.Queue
	swapchain khr_swapchain.Extension
}

// NewQueue wraps queue, which must belong to device's queue family
func NewQueue(device *Device, queue core1_0.Queue) *Queue {
	return &Queue{
		queue:     queue,
		swapchain: device.extensions.Swapchain,
	}
}

func (q *Queue) Submit(fence gpu.Fence, submits []gpu.SubmitInfo) (common.VkResult, error) {
	var vulkanFence core1_0.Fence
	if fence != nil {
		wrapped, ok := fence.(*Fence)
		if !ok {
			return core1_0.VKErrorUnknown, errors.Newf("fence of type %T was not created by a vulkan.Device", fence)
		}
		vulkanFence = wrapped.fence
	}

	vulkanSubmits := make([]core1_0.SubmitInfo, 0, len(submits))
	for _, submit := range submits {
		commandBuffers := make([]core1_0.CommandBuffer, 0, len(submit.CommandBuffers))
		for _, commandBuffer := range submit.CommandBuffers {
			wrapped, ok := commandBuffer.(*CommandBuffer)
			if !ok {
				return core1_0.VKErrorUnknown, errors.Newf("command buffer of type %T was not allocated by a vulkan.Device", commandBuffer)
			}
			commandBuffers = append(commandBuffers, wrapped.buffer)
		}

		waits, err := unwrapSemaphores(submit.WaitSemaphores)
		if err != nil {
			return core1_0.VKErrorUnknown, err
		}
		signals, err := unwrapSemaphores(submit.SignalSemaphores)
		if err != nil {
			return core1_0.VKErrorUnknown, err
		}

		vulkanSubmits = append(vulkanSubmits, core1_0.SubmitInfo{
			CommandBuffers:   commandBuffers,
			WaitSemaphores:   waits,
			WaitDstStageMask: submit.WaitDstStageMask,
			SignalSemaphores: signals,
		})
	}

	return q.queue.Submit(vulkanFence, vulkanSubmits)
}

func (q *Queue) Present(swapchain gpu.Swapchain, imageIndex int, waits []gpu.Semaphore) (common.VkResult, error) {
	if q.swapchain == nil {
		return core1_0.VKErrorExtensionNotPresent, errors.New("present requires VK_KHR_swapchain to be active on the device")
	}

	wrapped, ok := swapchain.(*Swapchain)
	if !ok {
		return core1_0.VKErrorUnknown, errors.Newf("swapchain of type %T was not created by a vulkan.Surface", swapchain)
	}

	vulkanWaits, err := unwrapSemaphores(waits)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return q.swapchain.QueuePresent(q.queue, khr_swapchain.PresentInfo{
		WaitSemaphores: vulkanWaits,
		Swapchains:     []khr_swapchain.Swapchain{wrapped.swapchain},
		ImageIndices:   []int{imageIndex},
	})
}

func (q *Queue) WaitIdle() (common.VkResult, error) {
	return q.queue.WaitIdle()
}

func unwrapSemaphores(semaphores []gpu.Semaphore) ([]core1_0.Semaphore, error) {
	if len(semaphores) == 0 {
		return nil, nil
	}

	unwrapped := make([]core1_0.Semaphore, 0, len(semaphores))
	for _, semaphore := range semaphores {
		wrapped, ok := semaphore.(*Semaphore)
		if !ok {
			return nil, errors.Newf("semaphore of type %T was not created by a vulkan.Device", semaphore)
		}
		unwrapped = append(unwrapped, wrapped.semaphore)
	}
	return unwrapped, nil
}
