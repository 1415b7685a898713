package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_2"
	"github.com/vkngwrapper/framecore/gpu"
)

// DescriptorSet owns the pool and layout behind the single bindless set
type DescriptorSet struct {
	device *Device
	layout core1_0.DescriptorSetLayout
	pool   core1_0.DescriptorPool
	set    core1_0.DescriptorSet
}

func (d *Device) CreateDescriptorSet(bindings []gpu.DescriptorBinding) (gpu.DescriptorSet, common.VkResult, error) {
	if !d.extensions.DescriptorIndexing {
		return nil, core1_0.VKErrorFeatureNotPresent, errors.New("descriptor indexing is not supported by this device")
	}

	layoutBindings := make([]core1_0.DescriptorSetLayoutBinding, 0, len(bindings))
	bindingFlags := make([]core1_2.DescriptorBindingFlags, 0, len(bindings))
	poolSizes := make([]core1_0.DescriptorPoolSize, 0, len(bindings))
	for _, binding := range bindings {
		layoutBindings = append(layoutBindings, core1_0.DescriptorSetLayoutBinding{
			Binding:         binding.Binding,
			DescriptorType:  binding.Type,
			DescriptorCount: binding.Count,
			StageFlags:      core1_0.StageAll,
		})
		bindingFlags = append(bindingFlags, core1_2.DescriptorBindingPartiallyBound|core1_2.DescriptorBindingUpdateAfterBind)
		poolSizes = append(poolSizes, core1_0.DescriptorPoolSize{
			Type:            binding.Type,
			DescriptorCount: binding.Count,
		})
	}

	layout, res, err := d.device.CreateDescriptorSetLayout(d.allocationCallbacks, core1_0.DescriptorSetLayoutCreateInfo{
		Flags:    core1_2.DescriptorSetLayoutCreateUpdateAfterBindPool,
		Bindings: layoutBindings,
		NextOptions: common.NextOptions{Next: core1_2.DescriptorSetLayoutBindingFlagsCreateInfo{
			BindingFlags: bindingFlags,
		}},
	})
	if err != nil {
		return nil, res, errors.Wrap(err, "failed to create bindless descriptor set layout")
	}

	pool, res, err := d.device.CreateDescriptorPool(d.allocationCallbacks, core1_0.DescriptorPoolCreateInfo{
		Flags:     core1_2.DescriptorPoolCreateUpdateAfterBind,
		MaxSets:   1,
		PoolSizes: poolSizes,
	})
	if err != nil {
		layout.Destroy(d.allocationCallbacks)
		return nil, res, errors.Wrap(err, "failed to create bindless descriptor pool")
	}

	sets, res, err := d.device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout},
	})
	if err != nil {
		pool.Destroy(d.allocationCallbacks)
		layout.Destroy(d.allocationCallbacks)
		return nil, res, errors.Wrap(err, "failed to allocate bindless descriptor set")
	}

	return &DescriptorSet{
		device: d,
		layout: layout,
		pool:   pool,
		set:    sets[0],
	}, res, nil
}

// Layout returns the layout pipelines must declare to bind the set
func (s *DescriptorSet) Layout() core1_0.DescriptorSetLayout {
	return s.layout
}

// VulkanDescriptorSet returns the wrapped set for binding in command buffers
func (s *DescriptorSet) VulkanDescriptorSet() core1_0.DescriptorSet {
	return s.set
}

func (s *DescriptorSet) Write(writes []gpu.DescriptorWrite) error {
	vulkanWrites := make([]core1_0.WriteDescriptorSet, 0, len(writes))
	for _, write := range writes {
		vulkanWrite, err := s.convertWrite(write)
		if err != nil {
			return err
		}
		vulkanWrites = append(vulkanWrites, vulkanWrite)
	}

	return s.device.device.UpdateDescriptorSets(vulkanWrites, nil)
}

func (s *DescriptorSet) convertWrite(write gpu.DescriptorWrite) (core1_0.WriteDescriptorSet, error) {
	vulkanWrite := core1_0.WriteDescriptorSet{
		DstSet:          s.set,
		DstBinding:      write.Binding,
		DstArrayElement: write.ArrayElement,
		DescriptorType:  write.Type,
	}

	switch write.Type {
	case core1_0.DescriptorTypeSampler, core1_0.DescriptorTypeCombinedImageSampler, core1_0.DescriptorTypeSampledImage, core1_0.DescriptorTypeStorageImage:
		var imageInfo core1_0.DescriptorImageInfo
		if write.Type == core1_0.DescriptorTypeSampler || write.Type == core1_0.DescriptorTypeCombinedImageSampler {
			sampler, ok := write.Sampler.(*Sampler)
			if !ok {
				return vulkanWrite, errors.Newf("sampler of type %T was not created by a vulkan.Device", write.Sampler)
			}
			imageInfo.Sampler = sampler.sampler
		}
		if write.Type != core1_0.DescriptorTypeSampler {
			view, ok := write.ImageView.(*ImageView)
			if !ok {
				return vulkanWrite, errors.Newf("image view of type %T was not created by a vulkan.Device", write.ImageView)
			}
			imageInfo.ImageView = view.view
			imageInfo.ImageLayout = write.ImageLayout
		}
		vulkanWrite.ImageInfo = []core1_0.DescriptorImageInfo{imageInfo}
	case core1_0.DescriptorTypeStorageBuffer, core1_0.DescriptorTypeUniformBuffer:
		buffer, ok := write.Buffer.(*Buffer)
		if !ok {
			return vulkanWrite, errors.Newf("buffer of type %T was not created by a vulkan.Device", write.Buffer)
		}
		vulkanWrite.BufferInfo = []core1_0.DescriptorBufferInfo{{
			Buffer: buffer.buffer,
			Offset: write.Offset,
			Range:  write.Range,
		}}
	case core1_0.DescriptorTypeUniformTexelBuffer, core1_0.DescriptorTypeStorageTexelBuffer:
		view, ok := write.TexelBufferView.(*BufferView)
		if !ok {
			return vulkanWrite, errors.Newf("buffer view of type %T was not created by a vulkan.Device", write.TexelBufferView)
		}
		vulkanWrite.TexelBufferView = []core1_0.BufferView{view.view}
	default:
		return vulkanWrite, errors.Newf("unsupported descriptor type %s", write.Type)
	}

	return vulkanWrite, nil
}

func (s *DescriptorSet) Destroy() {
	s.pool.Destroy(s.device.allocationCallbacks)
	s.layout.Destroy(s.device.allocationCallbacks)
}
