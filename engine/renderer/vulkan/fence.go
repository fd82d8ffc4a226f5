package vulkan

import (
	"fmt"
	"math"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
)

type VulkanFence struct {
	context *Context
	Handle  vk.Fence
	// Cached once a wait or poll observed the signal, cleared on reset.
	IsSignaled bool
}

func (ctx *Context) CreateFence(signaled bool) (renderer.Fence, error) {
	fence := &VulkanFence{
		context:    ctx,
		IsSignaled: signaled,
	}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	if res := vk.CreateFence(ctx.Device.LogicalDevice, &fenceCreateInfo, ctx.Allocator, &pFence); res != vk.Success {
		return nil, resultError("vkCreateFence", res, core.ErrSynchronization)
	}
	fence.Handle = pFence
	return fence, nil
}

func (vf *VulkanFence) Status() (bool, error) {
	if vf.IsSignaled {
		return true, nil
	}
	switch res := vk.GetFenceStatus(vf.context.Device.LogicalDevice, vf.Handle); res {
	case vk.Success:
		vf.IsSignaled = true
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, resultError("vkGetFenceStatus", res, core.ErrSynchronization)
	}
}

func (vf *VulkanFence) Wait(timeout time.Duration) error {
	if vf.IsSignaled {
		return nil
	}
	timeoutNs := uint64(math.MaxUint64)
	if timeout != core.WaitForever {
		timeoutNs = uint64(timeout.Nanoseconds())
	}

	result := vk.WaitForFences(vf.context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, timeoutNs)
	switch result {
	case vk.Success:
		vf.IsSignaled = true
		return nil
	case vk.Timeout:
		return fmt.Errorf("vkWaitForFences after %s: %w", timeout, core.ErrTimeout)
	default:
		return resultError("vkWaitForFences", result, core.ErrSynchronization)
	}
}

func (vf *VulkanFence) Reset() error {
	if res := vk.ResetFences(vf.context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}); res != vk.Success {
		return resultError("vkResetFences", res, core.ErrSynchronization)
	}
	vf.IsSignaled = false
	return nil
}

func (vf *VulkanFence) Destroy() {
	if vf.Handle != nil {
		vk.DestroyFence(vf.context.Device.LogicalDevice, vf.Handle, vf.context.Allocator)
		vf.Handle = nil
	}
	vf.IsSignaled = false
}

type VulkanSemaphore struct {
	context *Context
	Handle  vk.Semaphore
}

func (ctx *Context) CreateSemaphore() (renderer.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var handle vk.Semaphore
	if res := vk.CreateSemaphore(ctx.Device.LogicalDevice, &info, ctx.Allocator, &handle); res != vk.Success {
		return nil, resultError("vkCreateSemaphore", res, core.ErrSynchronization)
	}
	return &VulkanSemaphore{context: ctx, Handle: handle}, nil
}

func (s *VulkanSemaphore) Destroy() {
	if s.Handle != nil {
		vk.DestroySemaphore(s.context.Device.LogicalDevice, s.Handle, s.context.Allocator)
		s.Handle = nil
	}
}
