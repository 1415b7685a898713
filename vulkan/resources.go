package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framecore/gpu"
)

type deviceMemory struct {
	device *Device
	memory core1_0.DeviceMemory
}

func (m *deviceMemory) Map(offset, size int) (unsafe.Pointer, common.VkResult, error) {
	return m.memory.Map(offset, size, 0)
}

func (m *deviceMemory) Unmap() {
	m.memory.Unmap()
}

func (m *deviceMemory) mappedRange(offset, size int) []core1_0.MappedMemoryRange {
	return []core1_0.MappedMemoryRange{
		{
			Memory: m.memory,
			Offset: offset,
			Size:   size,
		},
	}
}

func (m *deviceMemory) Flush(offset, size int) (common.VkResult, error) {
	return m.device.device.FlushMappedMemoryRanges(m.mappedRange(offset, size))
}

func (m *deviceMemory) Invalidate(offset, size int) (common.VkResult, error) {
	return m.device.device.InvalidateMappedMemoryRanges(m.mappedRange(offset, size))
}

func (m *deviceMemory) Free() {
	m.memory.Free(m.device.allocationCallbacks)
}

func unwrapMemory(memory gpu.DeviceMemory) (core1_0.DeviceMemory, error) {
	wrapped, ok := memory.(*deviceMemory)
	if !ok {
		return nil, errors.Newf("memory of type %T was not allocated by a vulkan.Device", memory)
	}
	return wrapped.memory, nil
}

type Buffer struct {
	device *Device
	buffer core1_0.Buffer
	size   int
}

// VulkanBuffer returns the wrapped buffer for recording commands
func (b *Buffer) VulkanBuffer() core1_0.Buffer {
	return b.buffer
}

func (b *Buffer) Size() int {
	return b.size
}

func (b *Buffer) MemoryRequirements() core1_0.MemoryRequirements {
	return *b.buffer.MemoryRequirements()
}

func (b *Buffer) BindMemory(memory gpu.DeviceMemory, offset int) (common.VkResult, error) {
	vulkanMemory, err := unwrapMemory(memory)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return b.buffer.BindBufferMemory(vulkanMemory, offset)
}

func (b *Buffer) Destroy() {
	b.buffer.Destroy(b.device.allocationCallbacks)
}

// Image wraps either an image the device created or a swapchain image, which it does not own
type Image struct {
	device *Device
	image  core1_0.Image
	owned  bool
}

// VulkanImage returns the wrapped image for recording commands
func (i *Image) VulkanImage() core1_0.Image {
	return i.image
}

func (i *Image) MemoryRequirements() core1_0.MemoryRequirements {
	return *i.image.MemoryRequirements()
}

func (i *Image) BindMemory(memory gpu.DeviceMemory, offset int) (common.VkResult, error) {
	if !i.owned {
		return core1_0.VKErrorUnknown, errors.New("attempted to bind memory to a swapchain image")
	}

	vulkanMemory, err := unwrapMemory(memory)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return i.image.BindImageMemory(vulkanMemory, offset)
}

func (i *Image) Destroy() {
	if i.owned {
		i.image.Destroy(i.device.allocationCallbacks)
	}
}

type ImageView struct {
	device *Device
	view   core1_0.ImageView
}

func (v *ImageView) VulkanImageView() core1_0.ImageView {
	return v.view
}

func (v *ImageView) Destroy() {
	v.view.Destroy(v.device.allocationCallbacks)
}

type Sampler struct {
	device  *Device
	sampler core1_0.Sampler
}

// CreateSampler creates a sampler that can be written into the bindless table
func (d *Device) CreateSampler(o core1_0.SamplerCreateInfo) (*Sampler, common.VkResult, error) {
	sampler, res, err := d.device.CreateSampler(d.allocationCallbacks, o)
	if err != nil {
		return nil, res, err
	}

	return &Sampler{device: d, sampler: sampler}, res, nil
}

func (s *Sampler) Destroy() {
	s.sampler.Destroy(s.device.allocationCallbacks)
}

type BufferView struct {
	device *Device
	view   core1_0.BufferView
}

// CreateBufferView creates a texel buffer view over [offset, offset+size) of buffer
func (d *Device) CreateBufferView(buffer gpu.Buffer, format gpu.Format, offset, size int) (*BufferView, common.VkResult, error) {
	wrapped, ok := buffer.(*Buffer)
	if !ok {
		return nil, core1_0.VKErrorUnknown, errors.Newf("buffer of type %T was not created by a vulkan.Device", buffer)
	}

	view, res, err := d.device.CreateBufferView(d.allocationCallbacks, core1_0.BufferViewCreateInfo{
		Buffer: wrapped.buffer,
		Format: core1_0.Format(format),
		Offset: offset,
		Range:  size,
	})
	if err != nil {
		return nil, res, err
	}

	return &BufferView{device: d, view: view}, res, nil
}

func (v *BufferView) Destroy() {
	v.view.Destroy(v.device.allocationCallbacks)
}
