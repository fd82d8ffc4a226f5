package vulkan

import (
	"sync"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

func TestDescriptorTypeMapping(t *testing.T) {
	assert.Equal(t, vk.DescriptorTypeCombinedImageSampler, descriptorType(renderer.DescriptorTypeCombinedImageSampler))
	assert.Equal(t, vk.DescriptorTypeSampledImage, descriptorType(renderer.DescriptorTypeSampledImage))
	assert.Equal(t, vk.DescriptorTypeSampler, descriptorType(renderer.DescriptorTypeSampler))
	assert.Equal(t, vk.DescriptorTypeUniformBuffer, descriptorType(renderer.DescriptorTypeUniformBuffer))
	assert.Equal(t, vk.DescriptorTypeStorageBuffer, descriptorType(renderer.DescriptorTypeStorageBuffer))
}

func TestShaderStageFlags(t *testing.T) {
	stages := metadata.ShaderStageFlags(metadata.ShaderStageVertex) | metadata.ShaderStageFlags(metadata.ShaderStageFragment)
	want := vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	assert.Equal(t, want, shaderStageFlags(stages))
	assert.Equal(t, vk.ShaderStageComputeBit, shaderStageBit(metadata.ShaderStageCompute))
	assert.Equal(t, vk.ShaderStageFlags(0), shaderStageFlags(0))
}

func TestPipelineStageFlags(t *testing.T) {
	got := pipelineStageFlags(renderer.PipelineStageColorAttachmentOutput | renderer.PipelineStageTransfer)
	want := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit) | vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	assert.Equal(t, want, got)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit), pipelineStageFlags(0))
}

func TestVertexFormatMapping(t *testing.T) {
	assert.Equal(t, vk.FormatR32g32b32Sfloat, vertexFormat(renderer.VertexFormatFloat3))
	assert.Equal(t, vk.FormatR32Sint, vertexFormat(renderer.VertexFormatSint))
	assert.Equal(t, vk.FormatR32g32b32a32Uint, vertexFormat(renderer.VertexFormatUint4))
	assert.Equal(t, vk.FormatUndefined, vertexFormat(renderer.VertexFormat(99)))
}

func TestColorBlendAttachment(t *testing.T) {
	disabled := colorBlendAttachment(renderer.BlendState{})
	assert.Equal(t, vk.Bool32(vk.False), disabled.BlendEnable)

	alpha, err := renderer.ResolveBlendState(metadata.BlendModeAlpha)
	require.NoError(t, err)
	state := colorBlendAttachment(alpha)
	assert.Equal(t, vk.Bool32(vk.True), state.BlendEnable)
	assert.Equal(t, vk.BlendFactorSrcAlpha, state.SrcColorBlendFactor)
	assert.Equal(t, vk.BlendFactorOneMinusSrcAlpha, state.DstColorBlendFactor)
	assert.Equal(t, vk.BlendFactorOne, state.SrcAlphaBlendFactor)
	assert.Equal(t, vk.BlendOpAdd, state.AlphaBlendOp)
}

func TestFrontFace(t *testing.T) {
	f, err := frontFace("")
	require.NoError(t, err)
	assert.Equal(t, vk.FrontFaceCounterClockwise, f)

	f, err = frontFace(metadata.FrontFaceClockwise)
	require.NoError(t, err)
	assert.Equal(t, vk.FrontFaceClockwise, f)

	_, err = frontFace("sideways")
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestBufferUsage(t *testing.T) {
	usage, memory := bufferUsage(renderer.BufferUsageUniform | renderer.BufferUsageHostVisible)
	assert.Equal(t, vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit), usage)
	assert.NotZero(t, memory&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit))
	assert.NotZero(t, memory&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))

	usage, memory = bufferUsage(renderer.BufferUsageStorage | renderer.BufferUsageTransferDst)
	assert.Equal(t, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit), usage)
	assert.Equal(t, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), memory)
}

func TestVertexInputState(t *testing.T) {
	empty := vertexInputState(nil)
	assert.Zero(t, empty.VertexBindingDescriptionCount)

	info := vertexInputState(&renderer.VertexLayout{
		Stride: 20,
		Attributes: []renderer.VertexAttribute{
			{Name: "in_position", Location: 0, Format: renderer.VertexFormatFloat3, Offset: 0},
			{Name: "in_uv", Location: 1, Format: renderer.VertexFormatFloat2, Offset: 12},
		},
	})
	require.Len(t, info.PVertexAttributeDescriptions, 2)
	assert.Equal(t, uint32(20), info.PVertexBindingDescriptions[0].Stride)
	assert.Equal(t, uint32(12), info.PVertexAttributeDescriptions[1].Offset)
	assert.Equal(t, vk.FormatR32g32Sfloat, info.PVertexAttributeDescriptions[1].Format)
}

func TestSelectQueueFamilies(t *testing.T) {
	gfx := vk.QueueFlags(vk.QueueGraphicsBit) | vk.QueueFlags(vk.QueueComputeBit) | vk.QueueFlags(vk.QueueTransferBit)
	compute := vk.QueueFlags(vk.QueueComputeBit) | vk.QueueFlags(vk.QueueTransferBit)
	transfer := vk.QueueFlags(vk.QueueTransferBit)

	g, c, x := selectQueueFamilies([]vk.QueueFlags{gfx, compute, transfer})
	assert.Equal(t, int32(0), g)
	assert.Equal(t, int32(1), c)
	assert.Equal(t, int32(2), x)

	g, c, x = selectQueueFamilies([]vk.QueueFlags{gfx})
	assert.Equal(t, int32(0), g)
	assert.Equal(t, int32(0), c)
	assert.Equal(t, int32(0), x)

	g, _, _ = selectQueueFamilies([]vk.QueueFlags{transfer})
	assert.Equal(t, int32(-1), g)
}

func TestQueueFlagsOf(t *testing.T) {
	assert.Equal(t, renderer.QueueGraphics|renderer.QueueTransfer, queueFlagsOf(vk.QueueFlags(vk.QueueGraphicsBit)))
	assert.Equal(t, renderer.QueueTransfer, queueFlagsOf(vk.QueueFlags(vk.QueueTransferBit)))
}

func TestResultError(t *testing.T) {
	assert.NoError(t, resultError("vkQueueSubmit", vk.Success, core.ErrSynchronization))
	assert.NoError(t, resultError("vkWaitForFences", vk.Timeout, core.ErrSynchronization))

	err := resultError("vkQueueSubmit", vk.ErrorOutOfHostMemory, core.ErrSynchronization)
	assert.ErrorIs(t, err, core.ErrSynchronization)
	assert.Contains(t, err.Error(), "VK_ERROR_OUT_OF_HOST_MEMORY")

	err = resultError("vkQueueSubmit", vk.ErrorDeviceLost, core.ErrSynchronization)
	assert.ErrorIs(t, err, core.ErrDeviceLost)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "main\x00", VulkanSafeString("main"))
	assert.Equal(t, "main\x00", VulkanSafeString("main\x00"))
	assert.Equal(t, "\x00", VulkanSafeString(""))

	in := []string{"a", "b"}
	out := VulkanSafeStrings(in)
	assert.Equal(t, []string{"a\x00", "b\x00"}, out)
	assert.Equal(t, []string{"a", "b"}, in)

	assert.Equal(t, "VK_LAYER", cString([]byte{'V', 'K', '_', 'L', 'A', 'Y', 'E', 'R', 0, 0}))
	assert.Equal(t, "VK_TIMEOUT", VulkanResultString(vk.Timeout, false))
}

func TestLockPoolSerializesGroup(t *testing.T) {
	pool := NewVulkanLockPool()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.SafeCall(BufferManagement, func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)

	// Nested calls on different groups and queues must not deadlock.
	err := pool.SafeCall(PipelineManagement, func() error {
		return pool.SafeQueueCall(0, func() error {
			return pool.SafeCall(ShaderManagement, func() error { return nil })
		})
	})
	assert.NoError(t, err)
}

func TestLockPoolGroupsAreIndependent(t *testing.T) {
	pool := NewVulkanLockPool()
	recording := pool.groupLock(CommandBufferManagement)
	assert.Same(t, recording, pool.groupLock(CommandBufferManagement))
	assert.NotSame(t, recording, pool.groupLock(CommandPoolManagement))

	// a reset under the pool lock never waits on a recording in progress
	err := pool.SafeCall(CommandBufferManagement, func() error {
		return pool.SafeCall(CommandPoolManagement, func() error { return nil })
	})
	require.NoError(t, err)
}
