package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

type RenderPassConfig struct {
	ColorFormat vk.Format
	// Depth adds a depth attachment in the device's detected depth format.
	Depth bool
	// FinalLayout of the color attachment, for example
	// vk.ImageLayoutPresentSrc for swapchain targets.
	FinalLayout vk.ImageLayout
}

// VulkanRenderPass is the render target handle graphics pipelines are
// compiled against. It satisfies renderer.RenderPass.
type VulkanRenderPass struct {
	context *Context
	Handle  vk.RenderPass
	Config  RenderPassConfig
}

func (ctx *Context) NewRenderPass(config RenderPassConfig) (*VulkanRenderPass, error) {
	if config.ColorFormat == vk.FormatUndefined {
		config.ColorFormat = vk.FormatB8g8r8a8Unorm
	}
	if config.FinalLayout == vk.ImageLayoutUndefined {
		config.FinalLayout = vk.ImageLayoutShaderReadOnlyOptimal
	}

	attachments := []vk.AttachmentDescription{{
		Format:         config.ColorFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    config.FinalLayout,
	}}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}},
	}

	if config.Depth {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         ctx.Device.DepthFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
	}

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var handle vk.RenderPass
	if err := ctx.locks.SafeCall(RenderpassManagement, func() error {
		return resultError("vkCreateRenderPass", vk.CreateRenderPass(ctx.Device.LogicalDevice, &createInfo, ctx.Allocator, &handle), core.ErrConfiguration)
	}); err != nil {
		return nil, err
	}
	return &VulkanRenderPass{context: ctx, Handle: handle, Config: config}, nil
}

func (rp *VulkanRenderPass) Destroy() {
	if rp.Handle == nil {
		return
	}
	_ = rp.context.locks.SafeCall(RenderpassManagement, func() error {
		vk.DestroyRenderPass(rp.context.Device.LogicalDevice, rp.Handle, rp.context.Allocator)
		return nil
	})
	rp.Handle = nil
}
