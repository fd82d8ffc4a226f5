package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

func descriptorType(t renderer.DescriptorType) vk.DescriptorType {
	switch t {
	case renderer.DescriptorTypeCombinedImageSampler:
		return vk.DescriptorTypeCombinedImageSampler
	case renderer.DescriptorTypeSampledImage:
		return vk.DescriptorTypeSampledImage
	case renderer.DescriptorTypeSampler:
		return vk.DescriptorTypeSampler
	case renderer.DescriptorTypeStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	default:
		return vk.DescriptorTypeUniformBuffer
	}
}

func shaderStageBit(stage metadata.ShaderStage) vk.ShaderStageFlagBits {
	switch stage {
	case metadata.ShaderStageGeometry:
		return vk.ShaderStageGeometryBit
	case metadata.ShaderStageFragment:
		return vk.ShaderStageFragmentBit
	case metadata.ShaderStageCompute:
		return vk.ShaderStageComputeBit
	default:
		return vk.ShaderStageVertexBit
	}
}

func shaderStageFlags(stages metadata.ShaderStageFlags) vk.ShaderStageFlags {
	var flags vk.ShaderStageFlags
	for _, s := range metadata.ShaderStages {
		if stages.Has(s) {
			flags |= vk.ShaderStageFlags(shaderStageBit(s))
		}
	}
	return flags
}

func pipelineStageFlags(stage renderer.PipelineStage) vk.PipelineStageFlags {
	pairs := []struct {
		from renderer.PipelineStage
		to   vk.PipelineStageFlagBits
	}{
		{renderer.PipelineStageTopOfPipe, vk.PipelineStageTopOfPipeBit},
		{renderer.PipelineStageVertexInput, vk.PipelineStageVertexInputBit},
		{renderer.PipelineStageVertexShader, vk.PipelineStageVertexShaderBit},
		{renderer.PipelineStageFragmentShader, vk.PipelineStageFragmentShaderBit},
		{renderer.PipelineStageColorAttachmentOutput, vk.PipelineStageColorAttachmentOutputBit},
		{renderer.PipelineStageComputeShader, vk.PipelineStageComputeShaderBit},
		{renderer.PipelineStageTransfer, vk.PipelineStageTransferBit},
		{renderer.PipelineStageBottomOfPipe, vk.PipelineStageBottomOfPipeBit},
		{renderer.PipelineStageAllCommands, vk.PipelineStageAllCommandsBit},
	}
	var flags vk.PipelineStageFlags
	for _, p := range pairs {
		if stage&p.from != 0 {
			flags |= vk.PipelineStageFlags(p.to)
		}
	}
	if flags == 0 {
		flags = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	}
	return flags
}

func bindPoint(p renderer.BindPoint) vk.PipelineBindPoint {
	if p == renderer.BindPointCompute {
		return vk.PipelineBindPointCompute
	}
	return vk.PipelineBindPointGraphics
}

func vertexFormat(f renderer.VertexFormat) vk.Format {
	formats := [...]vk.Format{
		vk.FormatR32Sfloat, vk.FormatR32g32Sfloat, vk.FormatR32g32b32Sfloat, vk.FormatR32g32b32a32Sfloat,
		vk.FormatR32Sint, vk.FormatR32g32Sint, vk.FormatR32g32b32Sint, vk.FormatR32g32b32a32Sint,
		vk.FormatR32Uint, vk.FormatR32g32Uint, vk.FormatR32g32b32Uint, vk.FormatR32g32b32a32Uint,
	}
	if int(f) < 0 || int(f) >= len(formats) {
		return vk.FormatUndefined
	}
	return formats[f]
}

func blendFactor(f renderer.BlendFactor) vk.BlendFactor {
	switch f {
	case renderer.BlendFactorOne:
		return vk.BlendFactorOne
	case renderer.BlendFactorSrcColor:
		return vk.BlendFactorSrcColor
	case renderer.BlendFactorSrcAlpha:
		return vk.BlendFactorSrcAlpha
	case renderer.BlendFactorOneMinusSrcAlpha:
		return vk.BlendFactorOneMinusSrcAlpha
	default:
		return vk.BlendFactorZero
	}
}

func blendOp(renderer.BlendOp) vk.BlendOp {
	return vk.BlendOpAdd
}

func frontFace(f metadata.FrontFace) (vk.FrontFace, error) {
	switch f {
	case "", metadata.FrontFaceCounterClockwise:
		return vk.FrontFaceCounterClockwise, nil
	case metadata.FrontFaceClockwise:
		return vk.FrontFaceClockwise, nil
	}
	err := fmt.Errorf("unknown front face `%s`: %w", f, core.ErrConfiguration)
	core.LogError(err.Error())
	return 0, err
}

// bufferUsage splits renderer usage into Vulkan usage bits and memory properties.
func bufferUsage(usage renderer.BufferUsage) (vk.BufferUsageFlags, vk.MemoryPropertyFlags) {
	pairs := []struct {
		from renderer.BufferUsage
		to   vk.BufferUsageFlagBits
	}{
		{renderer.BufferUsageUniform, vk.BufferUsageUniformBufferBit},
		{renderer.BufferUsageStorage, vk.BufferUsageStorageBufferBit},
		{renderer.BufferUsageTransferSrc, vk.BufferUsageTransferSrcBit},
		{renderer.BufferUsageTransferDst, vk.BufferUsageTransferDstBit},
		{renderer.BufferUsageVertex, vk.BufferUsageVertexBufferBit},
		{renderer.BufferUsageIndex, vk.BufferUsageIndexBufferBit},
	}
	var flags vk.BufferUsageFlags
	for _, p := range pairs {
		if usage&p.from != 0 {
			flags |= vk.BufferUsageFlags(p.to)
		}
	}
	memory := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if usage&renderer.BufferUsageHostVisible != 0 {
		memory = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) | vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)
	}
	return flags, memory
}
