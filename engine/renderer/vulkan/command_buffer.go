package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandBuffer struct {
	context *Context
	pool    vk.CommandPool
	family  uint32
	Handle  vk.CommandBuffer
	State   VulkanCommandBufferState
}

func (ctx *Context) CreateCommandBuffer(queue renderer.HardwareQueue) (renderer.CommandBuffer, error) {
	q, ok := queue.(*Queue)
	if !ok {
		return nil, foreignObject("queue", queue)
	}
	pool, err := ctx.commandPool(q.family)
	if err != nil {
		return nil, err
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}

	handles := make([]vk.CommandBuffer, 1)
	if err := ctx.locks.SafeCall(CommandPoolManagement, func() error {
		return resultError("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(ctx.Device.LogicalDevice, &allocateInfo, handles), core.ErrConfiguration)
	}); err != nil {
		return nil, err
	}

	return &VulkanCommandBuffer{
		context: ctx,
		pool:    pool,
		family:  q.family,
		Handle:  handles[0],
		State:   COMMAND_BUFFER_STATE_READY,
	}, nil
}

func (v *VulkanCommandBuffer) Free() {
	if v.Handle == nil {
		return
	}
	_ = v.context.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(v.context.Device.LogicalDevice, v.pool, 1, []vk.CommandBuffer{v.Handle})
		return nil
	})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin() error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	return v.context.locks.SafeCall(CommandBufferManagement, func() error {
		if res := vk.BeginCommandBuffer(v.Handle, &beginInfo); res != vk.Success {
			return resultError("vkBeginCommandBuffer", res, core.ErrStateMisuse)
		}
		v.State = COMMAND_BUFFER_STATE_RECORDING
		return nil
	})
}

func (v *VulkanCommandBuffer) End() error {
	return v.context.locks.SafeCall(CommandBufferManagement, func() error {
		if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
			return resultError("vkEndCommandBuffer", res, core.ErrStateMisuse)
		}
		v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
		return nil
	})
}

// Reset returns the buffer to the initial state. The pool was created with
// the reset-command-buffer flag.
func (v *VulkanCommandBuffer) Reset() error {
	if err := v.context.locks.SafeCall(CommandPoolManagement, func() error {
		return resultError("vkResetCommandBuffer", vk.ResetCommandBuffer(v.Handle, 0), core.ErrSynchronization)
	}); err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_READY
	return nil
}

func (v *VulkanCommandBuffer) BindPipeline(point renderer.BindPoint, pipeline renderer.NativePipeline) {
	p, ok := pipeline.(*VulkanPipeline)
	if !ok {
		_ = foreignObject("pipeline", pipeline)
		return
	}
	vk.CmdBindPipeline(v.Handle, bindPoint(point), p.Handle)
}

func (v *VulkanCommandBuffer) BindDescriptorSets(point renderer.BindPoint, layout renderer.PipelineLayout, firstSet uint32, sets []renderer.DescriptorSet) {
	l, ok := layout.(*VulkanPipelineLayout)
	if !ok {
		_ = foreignObject("pipeline layout", layout)
		return
	}
	handles := make([]vk.DescriptorSet, 0, len(sets))
	for _, s := range sets {
		ds, ok := s.(*VulkanDescriptorSet)
		if !ok {
			_ = foreignObject("descriptor set", s)
			return
		}
		handles = append(handles, ds.Handle)
	}
	if len(handles) == 0 {
		return
	}
	vk.CmdBindDescriptorSets(v.Handle, bindPoint(point), l.Handle, firstSet, uint32(len(handles)), handles, 0, nil)
}

func (v *VulkanCommandBuffer) SetViewport(viewport renderer.Viewport) {
	vk.CmdSetViewport(v.Handle, 0, 1, []vk.Viewport{{
		X:        viewport.X,
		Y:        viewport.Y,
		Width:    viewport.Width,
		Height:   viewport.Height,
		MinDepth: viewport.MinDepth,
		MaxDepth: viewport.MaxDepth,
	}})
}

func (v *VulkanCommandBuffer) SetScissor(scissor renderer.Rect) {
	vk.CmdSetScissor(v.Handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: scissor.X, Y: scissor.Y},
		Extent: vk.Extent2D{Width: scissor.Width, Height: scissor.Height},
	}})
}

func (v *VulkanCommandBuffer) CopyBuffer(src, dst renderer.Buffer, srcOffset, dstOffset, size uint64) {
	s, ok1 := src.(*VulkanBuffer)
	d, ok2 := dst.(*VulkanBuffer)
	if !ok1 || !ok2 {
		_ = foreignObject("buffer", src)
		return
	}
	vk.CmdCopyBuffer(v.Handle, s.Handle, d.Handle, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
}

// CopyBufferToImage transitions the whole image to transfer-dst, copies the
// buffer into it and leaves it shader-read-only for sampling.
func (v *VulkanCommandBuffer) CopyBufferToImage(src renderer.Buffer, dst renderer.Image) {
	s, ok1 := src.(*VulkanBuffer)
	img, ok2 := dst.(*VulkanImage)
	if !ok1 || !ok2 {
		_ = foreignObject("copy operand", dst)
		return
	}

	img.transitionLayout(v, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal)
	vk.CmdCopyBufferToImage(v.Handle, s.Handle, img.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageExtent: vk.Extent3D{Width: img.width, Height: img.height, Depth: 1},
	}})
	img.transitionLayout(v, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal)
}
