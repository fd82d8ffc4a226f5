package renderer

import (
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// QueueFlags selects a hardware queue class.
type QueueFlags uint32

const (
	QueueGraphics QueueFlags = 1 << iota
	QueueCompute
	QueueTransfer
)

// PipelineStage marks the point in the pipeline where a semaphore wait applies.
type PipelineStage uint32

const (
	PipelineStageTopOfPipe PipelineStage = 1 << iota
	PipelineStageVertexInput
	PipelineStageVertexShader
	PipelineStageFragmentShader
	PipelineStageColorAttachmentOutput
	PipelineStageComputeShader
	PipelineStageTransfer
	PipelineStageBottomOfPipe
	PipelineStageAllCommands
)

type BindPoint int

const (
	BindPointGraphics BindPoint = iota
	BindPointCompute
)

type DescriptorType int

const (
	DescriptorTypeCombinedImageSampler DescriptorType = iota
	DescriptorTypeSampledImage
	DescriptorTypeSampler
	DescriptorTypeUniformBuffer
	DescriptorTypeStorageBuffer
)

func (t DescriptorType) String() string {
	switch t {
	case DescriptorTypeCombinedImageSampler:
		return "combined-image-sampler"
	case DescriptorTypeSampledImage:
		return "sampled-image"
	case DescriptorTypeSampler:
		return "sampler"
	case DescriptorTypeUniformBuffer:
		return "uniform-buffer"
	case DescriptorTypeStorageBuffer:
		return "storage-buffer"
	}
	return "unknown"
}

// BufferUsage describes how a buffer will be used.
type BufferUsage uint32

const (
	BufferUsageUniform BufferUsage = 1 << iota
	BufferUsageStorage
	BufferUsageTransferSrc
	BufferUsageTransferDst
	BufferUsageVertex
	BufferUsageIndex
	// BufferUsageHostVisible requests host-mappable memory.
	BufferUsageHostVisible
)

// Fence is signaled by the device when the submission it guards completes.
type Fence interface {
	// Status polls the fence without blocking.
	Status() (bool, error)
	// Wait blocks until the fence signals. core.WaitForever disables the
	// timeout; an expired wait returns core.ErrTimeout.
	Wait(timeout time.Duration) error
	Reset() error
	Destroy()
}

type Semaphore interface {
	Destroy()
}

// SemaphoreWait is a wait dependency applied at a pipeline stage.
type SemaphoreWait struct {
	Semaphore Semaphore
	Stage     PipelineStage
}

// SubmitBatch is what a HardwareQueue receives on submission.
type SubmitBatch struct {
	CommandBuffers []CommandBuffer
	Waits          []SemaphoreWait
	Signals        []Semaphore
}

// HardwareQueue is a device queue returned by Device.Queue.
type HardwareQueue interface {
	Flags() QueueFlags
	Submit(batch SubmitBatch, fence Fence) error
	WaitIdle() error
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type Rect struct {
	X, Y          int32
	Width, Height uint32
}

// CommandBuffer is the native recording object behind a CommandList.
type CommandBuffer interface {
	Begin() error
	End() error
	Reset() error
	Free()
	BindPipeline(bindPoint BindPoint, pipeline NativePipeline)
	BindDescriptorSets(bindPoint BindPoint, layout PipelineLayout, firstSet uint32, sets []DescriptorSet)
	SetViewport(viewport Viewport)
	SetScissor(scissor Rect)
	CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size uint64)
	CopyBufferToImage(src Buffer, dst Image)
}

// LayoutBinding is one slot of a descriptor set layout.
type LayoutBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  metadata.ShaderStageFlags
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

type DescriptorSetLayout interface {
	Destroy()
}

type DescriptorSet interface {
	WriteBuffer(binding, index uint32, descriptorType DescriptorType, buffer Buffer, offset, size uint64)
	WriteImage(binding, index uint32, descriptorType DescriptorType, image Image, sampler Sampler)
}

type DescriptorPool interface {
	Allocate(layout DescriptorSetLayout) (DescriptorSet, error)
	Free(sets []DescriptorSet)
	Destroy()
}

type PipelineLayout interface {
	Destroy()
}

type NativePipeline interface {
	Destroy()
}

// RenderPass is an opaque render-pass handle supplied by the render target collaborator.
type RenderPass interface{}

type GraphicsPipelineDesc struct {
	Name       string
	Stages     []metadata.ShaderModule
	Layout     PipelineLayout
	RenderPass RenderPass
	Vertex     *VertexLayout
	FrontFace  metadata.FrontFace
	CullBack   bool
	DepthTest  bool
	DepthWrite bool
	Blend      BlendState
}

type ComputePipelineDesc struct {
	Name   string
	Stage  metadata.ShaderModule
	Layout PipelineLayout
}

type Buffer interface {
	Size() uint64
	// Write copies data into host-visible memory at offset.
	Write(offset uint64, data []byte) error
	Destroy()
}

type ImageDesc struct {
	Width, Height uint32
}

// Image is an RGBA8 sampled image.
type Image interface {
	Width() uint32
	Height() uint32
	Destroy()
}

type Sampler interface {
	Destroy()
}

// Device is the graphics-context collaborator. All methods are called from
// the thread that owns the objects being created.
type Device interface {
	// Queue returns a hardware queue supporting every flag in flags.
	Queue(flags QueueFlags) (HardwareQueue, error)
	CreateCommandBuffer(queue HardwareQueue) (CommandBuffer, error)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	CreateDescriptorSetLayout(bindings []LayoutBinding) (DescriptorSetLayout, error)
	CreateDescriptorPool(sizes []DescriptorPoolSize, maxSets uint32) (DescriptorPool, error)
	CreatePipelineLayout(setLayouts []DescriptorSetLayout) (PipelineLayout, error)
	CreateGraphicsPipeline(desc *GraphicsPipelineDesc) (NativePipeline, error)
	CreateComputePipeline(desc *ComputePipelineDesc) (NativePipeline, error)
	CreateBuffer(size uint64, usage BufferUsage) (Buffer, error)
	CreateImage(desc ImageDesc) (Image, error)
	CreateSampler(linear bool) (Sampler, error)
	WaitIdle() error
}

// ReflectFunc turns a compiled stage into its reflection result.
type ReflectFunc func(module metadata.ShaderModule) (*metadata.ReflectionResult, error)
