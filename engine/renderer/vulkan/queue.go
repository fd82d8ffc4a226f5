package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
)

// Queue is the first queue of a family. Submission is serialized per family
// through the lock pool.
type Queue struct {
	context *Context
	family  uint32
	handle  vk.Queue
	flags   renderer.QueueFlags
}

func (q *Queue) Flags() renderer.QueueFlags { return q.flags }

func (q *Queue) Family() uint32 { return q.family }

func (q *Queue) Submit(batch renderer.SubmitBatch, fence renderer.Fence) error {
	buffers := make([]vk.CommandBuffer, 0, len(batch.CommandBuffers))
	for _, cb := range batch.CommandBuffers {
		vcb, ok := cb.(*VulkanCommandBuffer)
		if !ok {
			return foreignObject("command buffer", cb)
		}
		buffers = append(buffers, vcb.Handle)
	}

	waits := make([]vk.Semaphore, 0, len(batch.Waits))
	stages := make([]vk.PipelineStageFlags, 0, len(batch.Waits))
	for _, w := range batch.Waits {
		s, ok := w.Semaphore.(*VulkanSemaphore)
		if !ok {
			return foreignObject("semaphore", w.Semaphore)
		}
		waits = append(waits, s.Handle)
		stages = append(stages, pipelineStageFlags(w.Stage))
	}

	signals := make([]vk.Semaphore, 0, len(batch.Signals))
	for _, sig := range batch.Signals {
		s, ok := sig.(*VulkanSemaphore)
		if !ok {
			return foreignObject("semaphore", sig)
		}
		signals = append(signals, s.Handle)
	}

	var fenceHandle vk.Fence
	if fence != nil {
		vf, ok := fence.(*VulkanFence)
		if !ok {
			return foreignObject("fence", fence)
		}
		fenceHandle = vf.Handle
		vf.IsSignaled = false
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    stages,
		CommandBufferCount:   uint32(len(buffers)),
		PCommandBuffers:      buffers,
		SignalSemaphoreCount: uint32(len(signals)),
		PSignalSemaphores:    signals,
	}

	return q.context.locks.SafeQueueCall(q.family, func() error {
		res := vk.QueueSubmit(q.handle, 1, []vk.SubmitInfo{submitInfo}, fenceHandle)
		return resultError("vkQueueSubmit", res, core.ErrSynchronization)
	})
}

func (q *Queue) WaitIdle() error {
	return q.context.locks.SafeQueueCall(q.family, func() error {
		return resultError("vkQueueWaitIdle", vk.QueueWaitIdle(q.handle), core.ErrSynchronization)
	})
}

func foreignObject(kind string, obj interface{}) error {
	err := fmt.Errorf("%s %T was not created by the Vulkan backend: %w", kind, obj, core.ErrArgument)
	core.LogError(err.Error())
	return err
}
