package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
)

/**
 * @brief A descriptor set layout built from merged reflected bindings.
 */
type VulkanDescriptorSetLayout struct {
	context *Context
	/** @brief The internal layout handle. */
	Handle vk.DescriptorSetLayout
	/** @brief The bindings of the layout, an empty slice for gap sets. */
	Bindings []renderer.LayoutBinding
}

func (ctx *Context) CreateDescriptorSetLayout(bindings []renderer.LayoutBinding) (renderer.DescriptorSetLayout, error) {
	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  descriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      shaderStageFlags(b.Stages),
		}
	}

	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}

	var handle vk.DescriptorSetLayout
	if err := ctx.locks.SafeCall(DescriptorManagement, func() error {
		return resultError("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(ctx.Device.LogicalDevice, &createInfo, ctx.Allocator, &handle), core.ErrConfiguration)
	}); err != nil {
		return nil, err
	}
	return &VulkanDescriptorSetLayout{context: ctx, Handle: handle, Bindings: bindings}, nil
}

func (l *VulkanDescriptorSetLayout) Destroy() {
	if l.Handle == nil {
		return
	}
	_ = l.context.locks.SafeCall(DescriptorManagement, func() error {
		vk.DestroyDescriptorSetLayout(l.context.Device.LogicalDevice, l.Handle, l.context.Allocator)
		return nil
	})
	l.Handle = nil
}

/**
 * @brief A descriptor pool sized for every set of a pipeline, once per frame
 * in flight. Sets may be freed individually.
 */
type VulkanDescriptorPool struct {
	context *Context
	Handle  vk.DescriptorPool
}

func (ctx *Context) CreateDescriptorPool(sizes []renderer.DescriptorPoolSize, maxSets uint32) (renderer.DescriptorPool, error) {
	poolSizes := make([]vk.DescriptorPoolSize, 0, len(sizes))
	for _, s := range sizes {
		if s.Count == 0 {
			continue
		}
		poolSizes = append(poolSizes, vk.DescriptorPoolSize{
			Type:            descriptorType(s.Type),
			DescriptorCount: s.Count,
		})
	}

	createInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}

	var handle vk.DescriptorPool
	if err := ctx.locks.SafeCall(DescriptorManagement, func() error {
		return resultError("vkCreateDescriptorPool", vk.CreateDescriptorPool(ctx.Device.LogicalDevice, &createInfo, ctx.Allocator, &handle), core.ErrConfiguration)
	}); err != nil {
		return nil, err
	}
	return &VulkanDescriptorPool{context: ctx, Handle: handle}, nil
}

func (p *VulkanDescriptorPool) Allocate(layout renderer.DescriptorSetLayout) (renderer.DescriptorSet, error) {
	l, ok := layout.(*VulkanDescriptorSetLayout)
	if !ok {
		return nil, foreignObject("descriptor set layout", layout)
	}
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.Handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{l.Handle},
	}
	var handle vk.DescriptorSet
	if err := p.context.locks.SafeCall(DescriptorManagement, func() error {
		return resultError("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(p.context.Device.LogicalDevice, &allocInfo, &handle), core.ErrConfiguration)
	}); err != nil {
		return nil, err
	}
	return &VulkanDescriptorSet{context: p.context, Handle: handle}, nil
}

func (p *VulkanDescriptorPool) Free(sets []renderer.DescriptorSet) {
	_ = p.context.locks.SafeCall(DescriptorManagement, func() error {
		for _, s := range sets {
			ds, ok := s.(*VulkanDescriptorSet)
			if !ok || ds.Handle == nil {
				continue
			}
			if res := vk.FreeDescriptorSets(p.context.Device.LogicalDevice, p.Handle, 1, &ds.Handle); res != vk.Success {
				core.LogWarn("vkFreeDescriptorSets failed with %s", VulkanResultString(res, false))
			}
			ds.Handle = nil
		}
		return nil
	})
}

func (p *VulkanDescriptorPool) Destroy() {
	if p.Handle == nil {
		return
	}
	_ = p.context.locks.SafeCall(DescriptorManagement, func() error {
		vk.DestroyDescriptorPool(p.context.Device.LogicalDevice, p.Handle, p.context.Allocator)
		return nil
	})
	p.Handle = nil
}

type VulkanDescriptorSet struct {
	context *Context
	Handle  vk.DescriptorSet
}

func (s *VulkanDescriptorSet) WriteBuffer(binding, index uint32, t renderer.DescriptorType, buffer renderer.Buffer, offset, size uint64) {
	b, ok := buffer.(*VulkanBuffer)
	if !ok {
		_ = foreignObject("buffer", buffer)
		return
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          s.Handle,
		DstBinding:      binding,
		DstArrayElement: index,
		DescriptorCount: 1,
		DescriptorType:  descriptorType(t),
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: b.Handle,
			Offset: vk.DeviceSize(offset),
			Range:  vk.DeviceSize(size),
		}},
	}
	s.update(write)
}

func (s *VulkanDescriptorSet) WriteImage(binding, index uint32, t renderer.DescriptorType, image renderer.Image, sampler renderer.Sampler) {
	info := vk.DescriptorImageInfo{ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal}
	if img, ok := image.(*VulkanImage); ok {
		info.ImageView = img.View
	}
	if smp, ok := sampler.(*VulkanSampler); ok {
		info.Sampler = smp.Handle
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          s.Handle,
		DstBinding:      binding,
		DstArrayElement: index,
		DescriptorCount: 1,
		DescriptorType:  descriptorType(t),
		PImageInfo:      []vk.DescriptorImageInfo{info},
	}
	s.update(write)
}

func (s *VulkanDescriptorSet) update(write vk.WriteDescriptorSet) {
	_ = s.context.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(s.context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
		return nil
	})
}
