package vulkan

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/core/v2/core1_2"
	"github.com/vkngwrapper/extensions/v2/ext_descriptor_indexing"
	"github.com/vkngwrapper/extensions/v2/khr_get_physical_device_properties2"
	khr_get_physical_device_properties2_shim "github.com/vkngwrapper/extensions/v2/khr_get_physical_device_properties2/shim"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
)

type ExtensionData struct {
	// DescriptorIndexing means update-after-bind, partially bound descriptor sets are available
	DescriptorIndexing           bool
	Swapchain                    khr_swapchain.Extension
	GetPhysicalDeviceProperties2 khr_get_physical_device_properties2_shim.Shim
}

func NewExtensionData(device core1_0.Device, physicalDevice core1_0.PhysicalDevice, instance core1_0.Instance) *ExtensionData {
	data := &ExtensionData{}

	device12 := core1_2.PromoteDevice(device)
	if device12 != nil {
		// Core 1.2 active - descriptor indexing was promoted to core
		data.DescriptorIndexing = true
	}

	physicalDevice11 := core1_1.PromoteInstanceScopedPhysicalDevice(physicalDevice)
	if physicalDevice11 != nil {
		// Core 1.1 active on the instance side - that means we can use khr_get_physical_device_properties2
		data.GetPhysicalDeviceProperties2 = physicalDevice11
	}

	// khr_get_physical_device_properties2 if core 1.1 is not active
	if data.GetPhysicalDeviceProperties2 == nil && instance.IsInstanceExtensionActive(khr_get_physical_device_properties2.ExtensionName) {
		extension := khr_get_physical_device_properties2.CreateExtensionFromInstance(instance)
		data.GetPhysicalDeviceProperties2 = khr_get_physical_device_properties2_shim.NewShim(extension, physicalDevice)
	}

	// ext_descriptor_indexing if core 1.2 is not active. Its limits can only be read through properties2.
	if !data.DescriptorIndexing && data.GetPhysicalDeviceProperties2 != nil &&
		device.IsDeviceExtensionActive(ext_descriptor_indexing.ExtensionName) {
		data.DescriptorIndexing = true
	}

	// khr_swapchain
	if device.IsDeviceExtensionActive(khr_swapchain.ExtensionName) {
		data.Swapchain = khr_swapchain.CreateExtensionFromDevice(device)
	}

	return data
}
