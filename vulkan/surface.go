package vulkan

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"github.com/vkngwrapper/framecore/gpu"
)

// Surface adapts a khr_surface.Surface created by the windowing layer. The surface itself is
// owned by the caller.
type Surface struct {
	device  *Device
	surface khr_surface.Surface
}

// NewSurface wraps surface for presentation from device
func NewSurface(device *Device, surface khr_surface.Surface) (*Surface, error) {
	if device.extensions.Swapchain == nil {
		return nil, errors.New("presentation requires VK_KHR_swapchain to be active on the device")
	}

	supported, _, err := surface.PhysicalDeviceSurfaceSupport(device.physicalDevice, device.queueFamilyIndex)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query surface support")
	}
	if !supported {
		return nil, errors.Newf("queue family %d cannot present to this surface", device.queueFamilyIndex)
	}

	return &Surface{device: device, surface: surface}, nil
}

func (s *Surface) Capabilities() (gpu.SurfaceCapabilities, common.VkResult, error) {
	physicalDevice := s.device.physicalDevice

	caps, res, err := s.surface.PhysicalDeviceSurfaceCapabilities(physicalDevice)
	if err != nil {
		return gpu.SurfaceCapabilities{}, res, err
	}

	formats, res, err := s.surface.PhysicalDeviceSurfaceFormats(physicalDevice)
	if err != nil {
		return gpu.SurfaceCapabilities{}, res, err
	}

	modes, res, err := s.surface.PhysicalDeviceSurfacePresentModes(physicalDevice)
	if err != nil {
		return gpu.SurfaceCapabilities{}, res, err
	}

	result := gpu.SurfaceCapabilities{
		CurrentExtent: convertExtent(caps.CurrentExtent),
		MinExtent:     convertExtent(caps.MinImageExtent),
		MaxExtent:     convertExtent(caps.MaxImageExtent),
		MinImageCount: caps.MinImageCount,
		MaxImageCount: caps.MaxImageCount,
		Formats:       make([]gpu.SurfaceFormat, 0, len(formats)),
		PresentModes:  make([]gpu.PresentMode, 0, len(modes)),
	}
	for _, format := range formats {
		result.Formats = append(result.Formats, gpu.SurfaceFormat{
			Format:     gpu.Format(format.Format),
			ColorSpace: gpu.ColorSpace(format.ColorSpace),
		})
	}
	for _, mode := range modes {
		result.PresentModes = append(result.PresentModes, gpu.PresentMode(mode))
	}

	return result, res, nil
}

func (s *Surface) CreateSwapchain(o gpu.SwapchainCreateInfo, old gpu.Swapchain) (gpu.Swapchain, common.VkResult, error) {
	var oldSwapchain khr_swapchain.Swapchain
	if old != nil {
		wrapped, ok := old.(*Swapchain)
		if !ok {
			return nil, core1_0.VKErrorUnknown, errors.Newf("swapchain of type %T was not created by a vulkan.Surface", old)
		}
		oldSwapchain = wrapped.swapchain
	}

	swapchain, res, err := s.device.extensions.Swapchain.CreateSwapchain(s.device.device, s.device.allocationCallbacks, khr_swapchain.SwapchainCreateInfo{
		Surface:          s.surface,
		MinImageCount:    o.ImageCount,
		ImageFormat:      core1_0.Format(o.Format.Format),
		ImageColorSpace:  khr_surface.ColorSpace(o.Format.ColorSpace),
		ImageExtent:      core1_0.Extent2D{Width: o.Extent.Width, Height: o.Extent.Height},
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,
		ImageSharingMode: core1_0.SharingModeExclusive,
		PreTransform:     khr_surface.TransformIdentity,
		CompositeAlpha:   khr_surface.CompositeAlphaOpaque,
		PresentMode:      khr_surface.PresentMode(o.PresentMode),
		Clipped:          true,
		OldSwapchain:     oldSwapchain,
	})
	if err != nil {
		return nil, res, err
	}

	return &Swapchain{device: s.device, swapchain: swapchain}, res, nil
}

// Swapchain adapts a khr_swapchain.Swapchain
type Swapchain struct {
	device    *Device
	swapchain khr_swapchain.Swapchain
}

func (s *Swapchain) Images() ([]gpu.Image, common.VkResult, error) {
	images, res, err := s.swapchain.SwapchainImages()
	if err != nil {
		return nil, res, err
	}

	wrapped := make([]gpu.Image, 0, len(images))
	for _, image := range images {
		wrapped = append(wrapped, &Image{device: s.device, image: image})
	}
	return wrapped, res, nil
}

func (s *Swapchain) AcquireNextImage(timeout time.Duration, semaphore gpu.Semaphore) (int, common.VkResult, error) {
	var vulkanSemaphore core1_0.Semaphore
	if semaphore != nil {
		wrapped, ok := semaphore.(*Semaphore)
		if !ok {
			return 0, core1_0.VKErrorUnknown, errors.Newf("semaphore of type %T was not created by a vulkan.Device", semaphore)
		}
		vulkanSemaphore = wrapped.semaphore
	}

	return s.swapchain.AcquireNextImage(timeoutOrZero(timeout), vulkanSemaphore, nil)
}

func (s *Swapchain) Destroy() {
	s.swapchain.Destroy(s.device.allocationCallbacks)
}

func convertExtent(extent core1_0.Extent2D) gpu.Extent {
	if extent.Width < 0 || extent.Height < 0 || extent.Width == math.MaxUint32 || extent.Height == math.MaxUint32 {
		return gpu.UndefinedExtent
	}
	return gpu.Extent{Width: extent.Width, Height: extent.Height}
}
