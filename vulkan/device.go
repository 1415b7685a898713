// Package vulkan implements the gpu interfaces on top of vkngwrapper. Objects created here must only
// be passed back to the Device that created them.
package vulkan

import (
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/core/v2/core1_2"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/framecore/gpu"
	extensions "github.com/vkngwrapper/framecore/internal/vulkan"
)

var (
	_ gpu.Device    = &Device{}
	_ gpu.Queue     = &Queue{}
	_ gpu.Surface   = &Surface{}
	_ gpu.Swapchain = &Swapchain{}
)

// Device adapts a core1_0.Device and the physical device it was created from
type Device struct {
	logger              *slog.Logger
	device              core1_0.Device
	physicalDevice      core1_0.PhysicalDevice
	extensions          *extensions.ExtensionData
	allocationCallbacks *driver.AllocationCallbacks

	queueFamilyIndex int
	commandPool      core1_0.CommandPool

	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
	descriptorLimits gpu.DescriptorLimits
}

// NewDevice wraps device. queueFamilyIndex is the family the frame engine submits to; command
// buffers from AllocateCommandBuffer belong to it.
func NewDevice(logger *slog.Logger, instance core1_0.Instance, physicalDevice core1_0.PhysicalDevice, device core1_0.Device, queueFamilyIndex int) (*Device, error) {
	if logger == nil {
		panic("attempted to create a vulkan device with a nil logger")
	}
	if device == nil {
		panic("attempted to create a vulkan device with a nil device")
	}

	d := &Device{
		logger:           logger,
		device:           device,
		physicalDevice:   physicalDevice,
		extensions:       extensions.NewExtensionData(device, physicalDevice, instance),
		queueFamilyIndex: queueFamilyIndex,
		memoryProperties: physicalDevice.MemoryProperties(),
	}

	if d.extensions.DescriptorIndexing {
		limits, err := d.readDescriptorLimits()
		if err != nil {
			return nil, err
		}
		d.descriptorLimits = limits
	} else {
		logger.Warn("device does not support descriptor indexing, bindless tables cannot be created")
	}

	commandPool, res, err := device.CreateCommandPool(d.allocationCallbacks, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: queueFamilyIndex,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create command pool: %s", res)
	}
	d.commandPool = commandPool

	logger.Debug("Device::New",
		slog.Int("MemoryTypes", len(d.memoryProperties.MemoryTypes)),
		slog.Int("MemoryHeaps", len(d.memoryProperties.MemoryHeaps)),
		slog.Bool("DescriptorIndexing", d.extensions.DescriptorIndexing),
		slog.Bool("Swapchain", d.extensions.Swapchain != nil),
	)

	return d, nil
}

func (d *Device) readDescriptorLimits() (gpu.DescriptorLimits, error) {
	indexing := &core1_2.PhysicalDeviceDescriptorIndexingProperties{}
	properties := &core1_1.PhysicalDeviceProperties2{
		NextOutData: common.NextOutData{Next: indexing},
	}

	err := d.extensions.GetPhysicalDeviceProperties2.Properties2(properties)
	if err != nil {
		return gpu.DescriptorLimits{}, errors.Wrap(err, "failed to read descriptor indexing properties")
	}

	return gpu.DescriptorLimits{
		Samplers:       indexing.MaxDescriptorSetUpdateAfterBindSamplers,
		SampledImages:  indexing.MaxDescriptorSetUpdateAfterBindSampledImages,
		StorageImages:  indexing.MaxDescriptorSetUpdateAfterBindStorageImages,
		StorageBuffers: indexing.MaxDescriptorSetUpdateAfterBindStorageBuffers,
	}, nil
}

func (d *Device) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return d.memoryProperties
}

func (d *Device) DescriptorLimits() gpu.DescriptorLimits {
	return d.descriptorLimits
}

func (d *Device) AllocateMemory(memoryTypeIndex int, size int) (gpu.DeviceMemory, common.VkResult, error) {
	memory, res, err := d.device.AllocateMemory(d.allocationCallbacks, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return nil, res, err
	}

	return &deviceMemory{device: d, memory: memory}, res, nil
}

func (d *Device) CreateBuffer(size int, usage core1_0.BufferUsageFlags) (gpu.Buffer, common.VkResult, error) {
	buffer, res, err := d.device.CreateBuffer(d.allocationCallbacks, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, res, err
	}

	return &Buffer{device: d, buffer: buffer, size: size}, res, nil
}

func (d *Device) CreateImage(o gpu.ImageCreateInfo) (gpu.Image, common.VkResult, error) {
	mipLevels := o.MipLevels
	if mipLevels == 0 {
		mipLevels = 1
	}

	image, res, err := d.device.CreateImage(d.allocationCallbacks, core1_0.ImageCreateInfo{
		ImageType:     core1_0.ImageType2D,
		Format:        core1_0.Format(o.Format),
		Extent:        core1_0.Extent3D{Width: o.Extent.Width, Height: o.Extent.Height, Depth: 1},
		MipLevels:     mipLevels,
		ArrayLayers:   1,
		Samples:       core1_0.Samples1,
		Tiling:        core1_0.ImageTilingOptimal,
		Usage:         o.Usage,
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	})
	if err != nil {
		return nil, res, err
	}

	return &Image{device: d, image: image, owned: true}, res, nil
}

func (d *Device) CreateImageView(image gpu.Image, format gpu.Format) (gpu.ImageView, common.VkResult, error) {
	view, res, err := d.device.CreateImageView(d.allocationCallbacks, core1_0.ImageViewCreateInfo{
		Image:    image.(*Image).image,
		ViewType: core1_0.ImageViewType2D,
		Format:   core1_0.Format(format),
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     core1_0.ImageAspectColor,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	if err != nil {
		return nil, res, err
	}

	return &ImageView{device: d, view: view}, res, nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, common.VkResult, error) {
	var flags core1_0.FenceCreateFlags
	if signaled {
		flags = core1_0.FenceCreateSignaled
	}

	fence, res, err := d.device.CreateFence(d.allocationCallbacks, core1_0.FenceCreateInfo{Flags: flags})
	if err != nil {
		return nil, res, err
	}

	return &Fence{device: d, fence: fence}, res, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, common.VkResult, error) {
	semaphore, res, err := d.device.CreateSemaphore(d.allocationCallbacks, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return nil, res, err
	}

	return &Semaphore{device: d, semaphore: semaphore}, res, nil
}

// AllocateCommandBuffer allocates a resettable primary command buffer from the device's pool
func (d *Device) AllocateCommandBuffer() (*CommandBuffer, common.VkResult, error) {
	buffers, res, err := d.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return nil, res, err
	}

	return &CommandBuffer{buffer: buffers[0]}, res, nil
}

func (d *Device) WaitIdle() (common.VkResult, error) {
	return d.device.WaitIdle()
}

// Destroy destroys the objects the adapter created for itself. The wrapped device is not destroyed.
func (d *Device) Destroy() {
	d.commandPool.Destroy(d.allocationCallbacks)
}

// timeoutOrZero clamps negative timeouts, which the driver would read as very large unsigned values
func timeoutOrZero(timeout time.Duration) time.Duration {
	if timeout < 0 {
		return 0
	}
	return timeout
}
