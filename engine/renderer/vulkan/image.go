package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
)

// VulkanImage is a device-local RGBA8 image with a color view.
type VulkanImage struct {
	context *Context
	Handle  vk.Image
	Memory  vk.DeviceMemory
	View    vk.ImageView
	width   uint32
	height  uint32
}

func (ctx *Context) CreateImage(desc renderer.ImageDesc) (renderer.Image, error) {
	if desc.Width == 0 || desc.Height == 0 {
		err := fmt.Errorf("image size %dx%d is empty: %w", desc.Width, desc.Height, core.ErrArgument)
		core.LogError(err.Error())
		return nil, err
	}

	createInfo := vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        vk.FormatR8g8b8a8Unorm,
		Extent:        vk.Extent3D{Width: desc.Width, Height: desc.Height, Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageTransferDstBit) | vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	img := &VulkanImage{context: ctx, width: desc.Width, height: desc.Height}
	if err := ctx.locks.SafeCall(ImageManagement, func() error {
		return resultError("vkCreateImage", vk.CreateImage(ctx.Device.LogicalDevice, &createInfo, ctx.Allocator, &img.Handle), core.ErrConfiguration)
	}); err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(ctx.Device.LogicalDevice, img.Handle, &reqs)
	reqs.Deref()

	memory, err := ctx.allocateMemory(reqs, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		img.Destroy()
		return nil, err
	}
	img.Memory = memory
	if res := vk.BindImageMemory(ctx.Device.LogicalDevice, img.Handle, img.Memory, 0); res != vk.Success {
		img.Destroy()
		return nil, resultError("vkBindImageMemory", res, core.ErrConfiguration)
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            img.Handle,
		ViewType:         vk.ImageViewType2d,
		Format:           createInfo.Format,
		SubresourceRange: colorRange(),
	}
	if err := ctx.locks.SafeCall(ImageManagement, func() error {
		return resultError("vkCreateImageView", vk.CreateImageView(ctx.Device.LogicalDevice, &viewInfo, ctx.Allocator, &img.View), core.ErrConfiguration)
	}); err != nil {
		img.Destroy()
		return nil, err
	}
	return img, nil
}

func (img *VulkanImage) Width() uint32  { return img.width }
func (img *VulkanImage) Height() uint32 { return img.height }

func (img *VulkanImage) Destroy() {
	_ = img.context.locks.SafeCall(ImageManagement, func() error {
		device := img.context.Device.LogicalDevice
		if img.View != nil {
			vk.DestroyImageView(device, img.View, img.context.Allocator)
			img.View = nil
		}
		if img.Handle != nil {
			vk.DestroyImage(device, img.Handle, img.context.Allocator)
			img.Handle = nil
		}
		if img.Memory != nil {
			vk.FreeMemory(device, img.Memory, img.context.Allocator)
			img.Memory = nil
		}
		return nil
	})
}

func colorRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

// transitionLayout records a barrier for the two transitions used by uploads.
func (img *VulkanImage) transitionLayout(cmd *VulkanCommandBuffer, oldLayout, newLayout vk.ImageLayout) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.Handle,
		SubresourceRange:    colorRange(),
	}

	var srcStage, dstStage vk.PipelineStageFlags
	if oldLayout == vk.ImageLayoutUndefined && newLayout == vk.ImageLayoutTransferDstOptimal {
		barrier.SrcAccessMask = 0
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	} else {
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit) | vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
	}

	vk.CmdPipelineBarrier(cmd.Handle, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

type VulkanSampler struct {
	context *Context
	Handle  vk.Sampler
}

func (ctx *Context) CreateSampler(linear bool) (renderer.Sampler, error) {
	filter := vk.FilterNearest
	if linear {
		filter = vk.FilterLinear
	}
	createInfo := vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        filter,
		MinFilter:        filter,
		MipmapMode:       vk.SamplerMipmapModeLinear,
		AddressModeU:     vk.SamplerAddressModeRepeat,
		AddressModeV:     vk.SamplerAddressModeRepeat,
		AddressModeW:     vk.SamplerAddressModeRepeat,
		AnisotropyEnable: vk.True,
		MaxAnisotropy:    16,
		BorderColor:      vk.BorderColorIntOpaqueBlack,
		CompareEnable:    vk.False,
		CompareOp:        vk.CompareOpAlways,
	}

	sampler := &VulkanSampler{context: ctx}
	if err := ctx.locks.SafeCall(SamplerManagement, func() error {
		return resultError("vkCreateSampler", vk.CreateSampler(ctx.Device.LogicalDevice, &createInfo, ctx.Allocator, &sampler.Handle), core.ErrConfiguration)
	}); err != nil {
		return nil, err
	}
	return sampler, nil
}

func (s *VulkanSampler) Destroy() {
	if s.Handle == nil {
		return
	}
	_ = s.context.locks.SafeCall(SamplerManagement, func() error {
		vk.DestroySampler(s.context.Device.LogicalDevice, s.Handle, s.context.Allocator)
		return nil
	})
	s.Handle = nil
}
