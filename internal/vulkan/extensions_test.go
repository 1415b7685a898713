package vulkan

import (
	"testing"
	"unsafe"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	mock_driver "github.com/vkngwrapper/core/v2/driver/mocks"
	"github.com/vkngwrapper/core/v2/mocks"
	"github.com/vkngwrapper/extensions/v2/ext_descriptor_indexing"
	"github.com/vkngwrapper/extensions/v2/khr_get_physical_device_properties2"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"golang.org/x/exp/slices"
)

func extensionRig(ctrl *gomock.Controller, version common.APIVersion, instanceExtensions, deviceExtensions []string) (core1_0.Instance, core1_0.PhysicalDevice, core1_0.Device) {
	coreDriver := mock_driver.DriverForVersion(ctrl, version)
	coreDriver.EXPECT().LoadProcAddr(gomock.Any()).Return(unsafe.Pointer(nil)).AnyTimes()

	instance := mocks.EasyMockInstance(ctrl, coreDriver)
	instance.EXPECT().IsInstanceExtensionActive(gomock.Any()).DoAndReturn(func(name string) bool {
		return slices.Contains(instanceExtensions, name)
	}).AnyTimes()

	physicalDevice := mocks.EasyMockPhysicalDevice(ctrl, coreDriver)

	device := mocks.EasyMockDevice(ctrl, coreDriver)
	device.EXPECT().IsDeviceExtensionActive(gomock.Any()).DoAndReturn(func(name string) bool {
		return slices.Contains(deviceExtensions, name)
	}).AnyTimes()

	return instance, physicalDevice, device
}

func TestExtensionsNew_NoExtensions(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	instance, physicalDevice, device := extensionRig(ctrl, common.Vulkan1_0, []string{}, []string{})

	extension := NewExtensionData(device, physicalDevice, instance)

	require.Equal(t, &ExtensionData{}, extension)
}

func TestExtensionsNew_Core1_1(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	instance, physicalDevice, device := extensionRig(ctrl, common.Vulkan1_1, []string{}, []string{})

	extension := NewExtensionData(device, physicalDevice, instance)

	require.Equal(t, &ExtensionData{
		GetPhysicalDeviceProperties2: core1_1.PromoteInstanceScopedPhysicalDevice(physicalDevice),
	}, extension)
}

func TestExtensionsNew_Core1_2(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	instance, physicalDevice, device := extensionRig(ctrl, common.Vulkan1_2, []string{}, []string{})

	extension := NewExtensionData(device, physicalDevice, instance)

	require.Equal(t, &ExtensionData{
		DescriptorIndexing:           true,
		GetPhysicalDeviceProperties2: core1_1.PromoteInstanceScopedPhysicalDevice(physicalDevice),
	}, extension)
}

func TestExtensionsNew_DescriptorIndexingExtension(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	instance, physicalDevice, device := extensionRig(ctrl, common.Vulkan1_0,
		[]string{
			khr_get_physical_device_properties2.ExtensionName,
		},
		[]string{
			ext_descriptor_indexing.ExtensionName,
		})

	extension := NewExtensionData(device, physicalDevice, instance)

	require.NotNil(t, extension.GetPhysicalDeviceProperties2)
	extension.GetPhysicalDeviceProperties2 = nil

	require.Equal(t, &ExtensionData{
		DescriptorIndexing: true,
	}, extension)
}

func TestExtensionsNew_NoDescriptorIndexing(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// Without properties2 the update-after-bind limits cannot be read
	instance, physicalDevice, device := extensionRig(ctrl, common.Vulkan1_0, []string{},
		[]string{
			ext_descriptor_indexing.ExtensionName,
		})

	extension := NewExtensionData(device, physicalDevice, instance)

	require.Equal(t, &ExtensionData{}, extension)
}

func TestExtensionsNew_Swapchain(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	instance, physicalDevice, device := extensionRig(ctrl, common.Vulkan1_2, []string{},
		[]string{
			khr_swapchain.ExtensionName,
		})

	extension := NewExtensionData(device, physicalDevice, instance)

	require.NotNil(t, extension.Swapchain)
	extension.Swapchain = nil

	require.Equal(t, &ExtensionData{
		DescriptorIndexing:           true,
		GetPhysicalDeviceProperties2: core1_1.PromoteInstanceScopedPhysicalDevice(physicalDevice),
	}, extension)
}
