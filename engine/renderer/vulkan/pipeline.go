package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

/**
 * @brief A pipeline layout spanning set 0 through the highest referenced set.
 */
type VulkanPipelineLayout struct {
	context *Context
	/** @brief The internal layout handle. */
	Handle vk.PipelineLayout
}

func (ctx *Context) CreatePipelineLayout(setLayouts []renderer.DescriptorSetLayout) (renderer.PipelineLayout, error) {
	handles := make([]vk.DescriptorSetLayout, len(setLayouts))
	for i, l := range setLayouts {
		vl, ok := l.(*VulkanDescriptorSetLayout)
		if !ok {
			return nil, foreignObject("descriptor set layout", l)
		}
		handles[i] = vl.Handle
	}

	createInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(handles)),
		PSetLayouts:    handles,
	}

	var handle vk.PipelineLayout
	if err := ctx.locks.SafeCall(PipelineManagement, func() error {
		return resultError("vkCreatePipelineLayout", vk.CreatePipelineLayout(ctx.Device.LogicalDevice, &createInfo, ctx.Allocator, &handle), core.ErrConfiguration)
	}); err != nil {
		return nil, err
	}
	return &VulkanPipelineLayout{context: ctx, Handle: handle}, nil
}

func (l *VulkanPipelineLayout) Destroy() {
	if l.Handle == nil {
		return
	}
	_ = l.context.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipelineLayout(l.context.Device.LogicalDevice, l.Handle, l.context.Allocator)
		return nil
	})
	l.Handle = nil
}

/**
 * @brief Holds a compiled graphics or compute pipeline.
 */
type VulkanPipeline struct {
	context *Context
	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	Name   string
}

func (p *VulkanPipeline) Destroy() {
	if p.Handle == nil {
		return
	}
	_ = p.context.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipeline(p.context.Device.LogicalDevice, p.Handle, p.context.Allocator)
		return nil
	})
	p.Handle = nil
}

/**
 * @brief Represents a single shader stage.
 */
type VulkanShaderStage struct {
	/** @brief The internal shader module handle. */
	Handle vk.ShaderModule
	/** @brief The pipeline shader stage creation info. */
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

func (ctx *Context) createShaderStage(module metadata.ShaderModule) (*VulkanShaderStage, error) {
	if len(module.Code) == 0 {
		err := fmt.Errorf("%s stage `%s` has no code: %w", module.Stage, module.Name, core.ErrArgument)
		core.LogError(err.Error())
		return nil, err
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(module.Code) * 4),
		PCode:    module.Code,
	}

	stage := &VulkanShaderStage{}
	if err := ctx.locks.SafeCall(ShaderManagement, func() error {
		return resultError("vkCreateShaderModule", vk.CreateShaderModule(ctx.Device.LogicalDevice, &createInfo, ctx.Allocator, &stage.Handle), core.ErrConfiguration)
	}); err != nil {
		return nil, err
	}

	entry := module.EntryPoint
	if entry == "" {
		entry = "main"
	}
	stage.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  shaderStageBit(module.Stage),
		Module: stage.Handle,
		PName:  VulkanSafeString(entry),
	}
	return stage, nil
}

// destroyShaderStages runs once the pipeline is created; the modules are not
// referenced by the compiled pipeline.
func (ctx *Context) destroyShaderStages(stages []*VulkanShaderStage) {
	_ = ctx.locks.SafeCall(ShaderManagement, func() error {
		for _, s := range stages {
			if s.Handle != nil {
				vk.DestroyShaderModule(ctx.Device.LogicalDevice, s.Handle, ctx.Allocator)
				s.Handle = nil
			}
		}
		return nil
	})
}

func (ctx *Context) CreateGraphicsPipeline(desc *renderer.GraphicsPipelineDesc) (renderer.NativePipeline, error) {
	layout, ok := desc.Layout.(*VulkanPipelineLayout)
	if !ok {
		return nil, foreignObject("pipeline layout", desc.Layout)
	}
	renderPass, ok := desc.RenderPass.(*VulkanRenderPass)
	if !ok {
		return nil, foreignObject("render pass", desc.RenderPass)
	}
	face, err := frontFace(desc.FrontFace)
	if err != nil {
		return nil, err
	}

	stages := make([]*VulkanShaderStage, 0, len(desc.Stages))
	stageInfos := make([]vk.PipelineShaderStageCreateInfo, 0, len(desc.Stages))
	for _, m := range desc.Stages {
		s, err := ctx.createShaderStage(m)
		if err != nil {
			ctx.destroyShaderStages(stages)
			return nil, err
		}
		stages = append(stages, s)
		stageInfos = append(stageInfos, s.ShaderStageCreateInfo)
	}

	// Viewport and scissor are set per frame.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		LineWidth:   1.0,
		FrontFace:   face,
		CullMode:    vk.CullModeFlags(vk.CullModeNone),
	}
	if desc.CullBack {
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeBackBit)
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:  vk.False,
		DepthWriteEnable: vk.False,
		DepthCompareOp:   vk.CompareOpLess,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
	}
	if desc.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	colorBlendAttachmentState := colorBlendAttachment(desc.Blend)
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState},
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	vertexInputInfo := vertexInputState(desc.Vertex)

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stageInfos)),
		PStages:             stageInfos,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              layout.Handle,
		RenderPass:          renderPass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if err := ctx.locks.SafeCall(PipelineManagement, func() error {
		res := vk.CreateGraphicsPipelines(ctx.Device.LogicalDevice, vk.NullPipelineCache, 1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, ctx.Allocator, pipelines)
		return resultError("vkCreateGraphicsPipelines", res, core.ErrConfiguration)
	}); err != nil {
		ctx.destroyShaderStages(stages)
		return nil, err
	}
	ctx.destroyShaderStages(stages)

	core.LogDebug("Graphics pipeline `%s` created.", desc.Name)
	return &VulkanPipeline{context: ctx, Handle: pipelines[0], Name: desc.Name}, nil
}

func (ctx *Context) CreateComputePipeline(desc *renderer.ComputePipelineDesc) (renderer.NativePipeline, error) {
	layout, ok := desc.Layout.(*VulkanPipelineLayout)
	if !ok {
		return nil, foreignObject("pipeline layout", desc.Layout)
	}
	stage, err := ctx.createShaderStage(desc.Stage)
	if err != nil {
		return nil, err
	}
	defer ctx.destroyShaderStages([]*VulkanShaderStage{stage})

	createInfo := vk.ComputePipelineCreateInfo{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              stage.ShaderStageCreateInfo,
		Layout:             layout.Handle,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if err := ctx.locks.SafeCall(PipelineManagement, func() error {
		res := vk.CreateComputePipelines(ctx.Device.LogicalDevice, vk.NullPipelineCache, 1,
			[]vk.ComputePipelineCreateInfo{createInfo}, ctx.Allocator, pipelines)
		return resultError("vkCreateComputePipelines", res, core.ErrConfiguration)
	}); err != nil {
		return nil, err
	}

	core.LogDebug("Compute pipeline `%s` created.", desc.Name)
	return &VulkanPipeline{context: ctx, Handle: pipelines[0], Name: desc.Name}, nil
}

func colorBlendAttachment(blend renderer.BlendState) vk.PipelineColorBlendAttachmentState {
	state := vk.PipelineColorBlendAttachmentState{
		BlendEnable: vk.False,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	if !blend.Enabled {
		return state
	}
	state.BlendEnable = vk.True
	state.SrcColorBlendFactor = blendFactor(blend.SrcColorFactor)
	state.DstColorBlendFactor = blendFactor(blend.DstColorFactor)
	state.ColorBlendOp = blendOp(blend.ColorOp)
	state.SrcAlphaBlendFactor = blendFactor(blend.SrcAlphaFactor)
	state.DstAlphaBlendFactor = blendFactor(blend.DstAlphaFactor)
	state.AlphaBlendOp = blendOp(blend.AlphaOp)
	return state
}

// vertexInputState describes one interleaved binding at index 0.
func vertexInputState(layout *renderer.VertexLayout) vk.PipelineVertexInputStateCreateInfo {
	info := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	if layout == nil || len(layout.Attributes) == 0 {
		return info
	}

	attributes := make([]vk.VertexInputAttributeDescription, len(layout.Attributes))
	for i, a := range layout.Attributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  0,
			Format:   vertexFormat(a.Format),
			Offset:   a.Offset,
		}
	}
	info.VertexBindingDescriptionCount = 1
	info.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    layout.Stride,
		InputRate: vk.VertexInputRateVertex,
	}}
	info.VertexAttributeDescriptionCount = uint32(len(attributes))
	info.PVertexAttributeDescriptions = attributes
	return info
}
