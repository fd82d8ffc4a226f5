package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
)

type VulkanBuffer struct {
	context    *Context
	Handle     vk.Buffer
	Memory     vk.DeviceMemory
	size       uint64
	usage      renderer.BufferUsage
	hostMapped bool
}

func (ctx *Context) CreateBuffer(size uint64, usage renderer.BufferUsage) (renderer.Buffer, error) {
	if size == 0 {
		err := fmt.Errorf("buffer size must be greater than 0: %w", core.ErrArgument)
		core.LogError(err.Error())
		return nil, err
	}
	usageFlags, memoryFlags := bufferUsage(usage)

	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usageFlags,
		SharingMode: vk.SharingModeExclusive,
	}

	buffer := &VulkanBuffer{
		context:    ctx,
		size:       size,
		usage:      usage,
		hostMapped: usage&renderer.BufferUsageHostVisible != 0,
	}
	if err := ctx.locks.SafeCall(BufferManagement, func() error {
		return resultError("vkCreateBuffer", vk.CreateBuffer(ctx.Device.LogicalDevice, &createInfo, ctx.Allocator, &buffer.Handle), core.ErrConfiguration)
	}); err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(ctx.Device.LogicalDevice, buffer.Handle, &reqs)
	reqs.Deref()

	memory, err := ctx.allocateMemory(reqs, memoryFlags)
	if err != nil {
		buffer.Destroy()
		return nil, err
	}
	buffer.Memory = memory

	if res := vk.BindBufferMemory(ctx.Device.LogicalDevice, buffer.Handle, buffer.Memory, 0); res != vk.Success {
		buffer.Destroy()
		return nil, resultError("vkBindBufferMemory", res, core.ErrConfiguration)
	}
	return buffer, nil
}

func (b *VulkanBuffer) Size() uint64 { return b.size }

// Write maps the range, copies data and unmaps. The memory is host coherent so
// no flush is needed.
func (b *VulkanBuffer) Write(offset uint64, data []byte) error {
	if !b.hostMapped {
		err := fmt.Errorf("buffer memory is not host visible: %w", core.ErrStateMisuse)
		core.LogError(err.Error())
		return err
	}
	if offset+uint64(len(data)) > b.size {
		err := fmt.Errorf("write of %d bytes at %d exceeds buffer size %d: %w", len(data), offset, b.size, core.ErrRange)
		core.LogError(err.Error())
		return err
	}
	if len(data) == 0 {
		return nil
	}

	return b.context.locks.SafeCall(MemoryManagement, func() error {
		var mapped unsafe.Pointer
		res := vk.MapMemory(b.context.Device.LogicalDevice, b.Memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &mapped)
		if err := resultError("vkMapMemory", res, core.ErrSynchronization); err != nil {
			return err
		}
		vk.Memcopy(mapped, data)
		vk.UnmapMemory(b.context.Device.LogicalDevice, b.Memory)
		return nil
	})
}

func (b *VulkanBuffer) Destroy() {
	_ = b.context.locks.SafeCall(BufferManagement, func() error {
		if b.Handle != nil {
			vk.DestroyBuffer(b.context.Device.LogicalDevice, b.Handle, b.context.Allocator)
			b.Handle = nil
		}
		if b.Memory != nil {
			vk.FreeMemory(b.context.Device.LogicalDevice, b.Memory, b.context.Allocator)
			b.Memory = nil
		}
		return nil
	})
}
