package main

import (
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_2"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"github.com/vkngwrapper/framecore/config"
	"github.com/vkngwrapper/framecore/frame"
	"github.com/vkngwrapper/framecore/vulkan"
)

// pickDevice returns the first Vulkan 1.2 device with a graphics queue family
func pickDevice(physicalDevices []core1_0.PhysicalDevice) (core1_0.PhysicalDevice, int, error) {
	for _, physicalDevice := range physicalDevices {
		if !physicalDevice.DeviceAPIVersion().IsAtLeast(common.Vulkan1_2) {
			continue
		}

		for familyIndex, family := range physicalDevice.QueueFamilyProperties() {
			if family.QueueFlags&core1_0.QueueGraphics != 0 {
				return physicalDevice, familyIndex, nil
			}
		}
	}

	return nil, -1, errors.New("no vulkan 1.2 device with a graphics queue was found")
}

func createDevice(physicalDevice core1_0.PhysicalDevice, familyIndex int) (core1_0.Device, error) {
	var extensionNames []string
	available, _, err := physicalDevice.EnumerateDeviceExtensionProperties()
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate device extensions")
	}
	if _, ok := available[khr_swapchain.ExtensionName]; ok {
		extensionNames = append(extensionNames, khr_swapchain.ExtensionName)
	}

	device, _, err := physicalDevice.CreateDevice(nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{
			{
				QueueFamilyIndex: familyIndex,
				QueuePriorities:  []float32{1},
			},
		},
		EnabledExtensionNames: extensionNames,
		NextOptions: common.NextOptions{Next: core1_2.PhysicalDeviceDescriptorIndexingFeatures{
			RuntimeDescriptorArray:                             true,
			DescriptorBindingPartiallyBound:                    true,
			DescriptorBindingSampledImageUpdateAfterBind:       true,
			DescriptorBindingStorageImageUpdateAfterBind:       true,
			DescriptorBindingStorageBufferUpdateAfterBind:      true,
			DescriptorBindingUniformTexelBufferUpdateAfterBind: true,
			DescriptorBindingStorageTexelBufferUpdateAfterBind: true,
		}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create device")
	}
	return device, nil
}

func runFrames(ctx context.Context, logger *slog.Logger, instance core1_0.Instance, physicalDevices []core1_0.PhysicalDevice, cfg *config.Config, watchPath string, frames int) error {
	physicalDevice, familyIndex, err := pickDevice(physicalDevices)
	if err != nil {
		return err
	}

	vulkanDevice, err := createDevice(physicalDevice, familyIndex)
	if err != nil {
		return err
	}
	defer vulkanDevice.Destroy(nil)

	device, err := vulkan.NewDevice(logger, instance, physicalDevice, vulkanDevice, familyIndex)
	if err != nil {
		return err
	}
	defer device.Destroy()

	queue := vulkan.NewQueue(device, vulkanDevice.GetQueue(familyIndex, 0))

	engine, err := frame.New(logger, device, queue, nil, cfg)
	if err != nil {
		return err
	}
	defer func() {
		destroyErr := engine.Destroy()
		if destroyErr != nil {
			logger.Error("engine did not shut down cleanly", slog.String("error", destroyErr.Error()))
		}
	}()

	if watchPath != "" {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		go func() {
			watchErr := config.Watch(watchCtx, logger, watchPath, func(reloaded *config.Config) {
				engine.RequestVSync(reloaded.Surface.VSync)
			})
			if watchErr != nil {
				logger.Error("config watch stopped", slog.String("error", watchErr.Error()))
			}
		}()
	}

	orchestrator, err := engine.Orchestrator()
	if err != nil {
		return err
	}

	commandBuffers := make([]*vulkan.CommandBuffer, cfg.FramesInFlight)
	for i := range commandBuffers {
		commandBuffers[i], _, err = device.AllocateCommandBuffer()
		if err != nil {
			return errors.Wrap(err, "failed to allocate command buffer")
		}
	}

	for i := 0; i < frames; i++ {
		if ctx.Err() != nil {
			break
		}

		err = orchestrator.BeginFrame()
		if err != nil {
			return err
		}

		_, ok := engine.PushUniformData(frameUniform(orchestrator.Frame()))
		if !ok {
			logger.Warn("uniform region exhausted", slog.Uint64("Frame", orchestrator.Frame()))
		}

		commandBuffer := commandBuffers[engine.Uniforms().FrameIndex()]
		_, err = commandBuffer.Reset()
		if err == nil {
			_, err = commandBuffer.Begin()
		}
		if err == nil {
			_, err = commandBuffer.End()
		}
		if err != nil {
			return errors.Wrap(err, "failed to record frame command buffer")
		}

		err = orchestrator.Present(commandBuffer)
		if err != nil {
			return err
		}

		err = orchestrator.EndFrame()
		if err != nil {
			return err
		}
	}

	for heapIndex, stats := range engine.Heaps().HeapStatistics() {
		logger.Info("heap usage",
			slog.Int("Heap", heapIndex),
			slog.Int("Blocks", stats.BlockCount),
			slog.Int("Bytes", stats.BlockBytes),
		)
	}

	logger.Info("frames complete",
		slog.Uint64("Frames", orchestrator.Frame()),
		slog.Uint64("LastCompleted", uint64(engine.Queue().LastCompleted())),
	)
	return nil
}

// frameUniform is a 16-byte block holding the frame number
func frameUniform(frame uint64) []byte {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data, frame)
	return data
}
