package renderer

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// fakeDevice records every object it creates. Fences never signal on their
// own: tests complete work by calling signal, or through onWait.
type fakeDevice struct {
	queue    *fakeQueue
	events   []string
	buffers  []*fakeCommandBuffer
	fences   []*fakeFence
	pools    []*fakeDescriptorPool
	layouts  []*fakeSetLayout
	natives  []*fakeNative
	graphics []*GraphicsPipelineDesc

	// called by an unsignaled fence that is asked to block
	onWait func(f *fakeFence)
	// fence reuse or early reset
	violations []string

	failGraphics error
}

func newFakeDevice() *fakeDevice {
	d := &fakeDevice{}
	d.queue = &fakeQueue{device: d, flags: QueueGraphics | QueueCompute | QueueTransfer}
	return d
}

func (d *fakeDevice) record(format string, args ...any) {
	d.events = append(d.events, fmt.Sprintf(format, args...))
}

func (d *fakeDevice) violation(format string, args ...any) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

func (d *fakeDevice) Queue(flags QueueFlags) (HardwareQueue, error) {
	if d.queue.flags&flags != flags {
		return nil, errors.New("no matching queue family")
	}
	return d.queue, nil
}

func (d *fakeDevice) CreateCommandBuffer(queue HardwareQueue) (CommandBuffer, error) {
	cb := &fakeCommandBuffer{device: d, id: len(d.buffers)}
	d.buffers = append(d.buffers, cb)
	return cb, nil
}

func (d *fakeDevice) CreateFence(signaled bool) (Fence, error) {
	f := &fakeFence{device: d, id: len(d.fences), signaled: signaled}
	d.fences = append(d.fences, f)
	return f, nil
}

func (d *fakeDevice) CreateSemaphore() (Semaphore, error) {
	return &fakeSemaphore{}, nil
}

func (d *fakeDevice) CreateDescriptorSetLayout(bindings []LayoutBinding) (DescriptorSetLayout, error) {
	l := &fakeSetLayout{device: d, id: len(d.layouts), bindings: append([]LayoutBinding(nil), bindings...)}
	d.layouts = append(d.layouts, l)
	return l, nil
}

func (d *fakeDevice) CreateDescriptorPool(sizes []DescriptorPoolSize, maxSets uint32) (DescriptorPool, error) {
	p := &fakeDescriptorPool{device: d, sizes: append([]DescriptorPoolSize(nil), sizes...), maxSets: maxSets}
	d.pools = append(d.pools, p)
	return p, nil
}

func (d *fakeDevice) CreatePipelineLayout(setLayouts []DescriptorSetLayout) (PipelineLayout, error) {
	return &fakePipelineLayout{device: d, sets: len(setLayouts)}, nil
}

func (d *fakeDevice) CreateGraphicsPipeline(desc *GraphicsPipelineDesc) (NativePipeline, error) {
	if d.failGraphics != nil {
		return nil, d.failGraphics
	}
	d.graphics = append(d.graphics, desc)
	n := &fakeNative{device: d, name: desc.Name}
	d.natives = append(d.natives, n)
	return n, nil
}

func (d *fakeDevice) CreateComputePipeline(desc *ComputePipelineDesc) (NativePipeline, error) {
	n := &fakeNative{device: d, name: desc.Name, compute: true}
	d.natives = append(d.natives, n)
	return n, nil
}

func (d *fakeDevice) CreateBuffer(size uint64, usage BufferUsage) (Buffer, error) {
	return &fakeBuffer{size: size, usage: usage, data: make([]byte, size)}, nil
}

func (d *fakeDevice) CreateImage(desc ImageDesc) (Image, error) {
	return &fakeImage{width: desc.Width, height: desc.Height}, nil
}

func (d *fakeDevice) CreateSampler(linear bool) (Sampler, error) {
	return &fakeSampler{}, nil
}

func (d *fakeDevice) WaitIdle() error {
	return d.queue.WaitIdle()
}

type fakeQueue struct {
	device  *fakeDevice
	flags   QueueFlags
	batches []SubmitBatch
	fail    error
}

func (q *fakeQueue) Flags() QueueFlags {
	return q.flags
}

func (q *fakeQueue) Submit(batch SubmitBatch, fence Fence) error {
	if q.fail != nil {
		return q.fail
	}
	f := fence.(*fakeFence)
	if f.inUse {
		q.device.violation("fence %d submitted while guarding earlier work", f.id)
	}
	if f.signaled {
		q.device.violation("fence %d submitted while signaled", f.id)
	}
	f.inUse = true
	for _, cb := range batch.CommandBuffers {
		cb.(*fakeCommandBuffer).fence = f
	}
	q.batches = append(q.batches, batch)
	return nil
}

// WaitIdle completes every submission.
func (q *fakeQueue) WaitIdle() error {
	for _, f := range q.device.fences {
		if f.inUse {
			f.signaled = true
		}
	}
	return nil
}

type fakeFence struct {
	device    *fakeDevice
	id        int
	signaled  bool
	inUse     bool
	resets    int
	destroyed bool
}

func (f *fakeFence) signal() {
	f.signaled = true
}

func (f *fakeFence) Status() (bool, error) {
	return f.signaled, nil
}

func (f *fakeFence) Wait(timeout time.Duration) error {
	if !f.signaled && f.device.onWait != nil {
		f.device.onWait(f)
	}
	if f.signaled {
		return nil
	}
	if timeout == core.WaitForever {
		return errors.New("fake fence would block forever")
	}
	return core.ErrTimeout
}

func (f *fakeFence) Reset() error {
	if f.inUse && !f.signaled {
		f.device.violation("fence %d reset before signaling", f.id)
	}
	f.signaled = false
	f.inUse = false
	f.resets++
	return nil
}

func (f *fakeFence) Destroy() {
	f.destroyed = true
}

type fakeSemaphore struct{}

func (s *fakeSemaphore) Destroy() {}

type fakeCommandBuffer struct {
	device    *fakeDevice
	id        int
	fence     *fakeFence
	begins    int
	resets    int
	freed     bool
	bound     []NativePipeline
	boundSets [][]DescriptorSet
	viewports []Viewport
	copies    int
	resetErr  error
}

func (cb *fakeCommandBuffer) Begin() error {
	cb.begins++
	return nil
}

func (cb *fakeCommandBuffer) End() error {
	return nil
}

func (cb *fakeCommandBuffer) Reset() error {
	if cb.resetErr != nil {
		return cb.resetErr
	}
	if cb.fence != nil && !cb.fence.signaled && cb.fence.inUse {
		cb.device.violation("command buffer %d reset while its fence is unsignaled", cb.id)
	}
	cb.fence = nil
	cb.resets++
	return nil
}

func (cb *fakeCommandBuffer) Free() {
	cb.freed = true
}

func (cb *fakeCommandBuffer) BindPipeline(bindPoint BindPoint, pipeline NativePipeline) {
	cb.bound = append(cb.bound, pipeline)
}

func (cb *fakeCommandBuffer) BindDescriptorSets(bindPoint BindPoint, layout PipelineLayout, firstSet uint32, sets []DescriptorSet) {
	cb.boundSets = append(cb.boundSets, sets)
}

func (cb *fakeCommandBuffer) SetViewport(viewport Viewport) {
	cb.viewports = append(cb.viewports, viewport)
}

func (cb *fakeCommandBuffer) SetScissor(scissor Rect) {}

func (cb *fakeCommandBuffer) CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size uint64) {
	cb.copies++
}

func (cb *fakeCommandBuffer) CopyBufferToImage(src Buffer, dst Image) {
	cb.copies++
}

type fakeSetLayout struct {
	device   *fakeDevice
	id       int
	bindings []LayoutBinding
}

func (l *fakeSetLayout) Destroy() {
	l.device.record("set-layout-%d", l.id)
}

type descriptorWrite struct {
	binding, index uint32
	kind           DescriptorType
	resource       any
}

type fakeDescriptorSet struct {
	layout *fakeSetLayout
	writes []descriptorWrite
}

func (s *fakeDescriptorSet) WriteBuffer(binding, index uint32, descriptorType DescriptorType, buffer Buffer, offset, size uint64) {
	s.writes = append(s.writes, descriptorWrite{binding: binding, index: index, kind: descriptorType, resource: buffer})
}

func (s *fakeDescriptorSet) WriteImage(binding, index uint32, descriptorType DescriptorType, image Image, sampler Sampler) {
	s.writes = append(s.writes, descriptorWrite{binding: binding, index: index, kind: descriptorType, resource: image})
}

type fakeDescriptorPool struct {
	device    *fakeDevice
	sizes     []DescriptorPoolSize
	maxSets   uint32
	allocated []*fakeDescriptorSet
	freed     int
}

func (p *fakeDescriptorPool) Allocate(layout DescriptorSetLayout) (DescriptorSet, error) {
	if uint32(len(p.allocated)) >= p.maxSets {
		return nil, errors.New("descriptor pool exhausted")
	}
	s := &fakeDescriptorSet{layout: layout.(*fakeSetLayout)}
	p.allocated = append(p.allocated, s)
	return s, nil
}

func (p *fakeDescriptorPool) Free(sets []DescriptorSet) {
	p.freed += len(sets)
	p.device.record("sets")
}

func (p *fakeDescriptorPool) Destroy() {
	p.device.record("pool")
}

type fakePipelineLayout struct {
	device *fakeDevice
	sets   int
}

func (l *fakePipelineLayout) Destroy() {
	l.device.record("pipeline-layout")
}

type fakeNative struct {
	device  *fakeDevice
	name    string
	compute bool
}

func (n *fakeNative) Destroy() {
	n.device.record("pipeline")
}

type fakeBuffer struct {
	size      uint64
	usage     BufferUsage
	data      []byte
	destroyed bool
}

func (b *fakeBuffer) Size() uint64 {
	return b.size
}

func (b *fakeBuffer) Write(offset uint64, data []byte) error {
	copy(b.data[offset:], data)
	return nil
}

func (b *fakeBuffer) Destroy() {
	b.destroyed = true
}

type fakeImage struct {
	width, height uint32
	destroyed     bool
}

func (i *fakeImage) Width() uint32 {
	return i.width
}

func (i *fakeImage) Height() uint32 {
	return i.height
}

func (i *fakeImage) Destroy() {
	i.destroyed = true
}

type fakeSampler struct{}

func (s *fakeSampler) Destroy() {}

// fakeReflector serves prepared reflection results by module name.
type fakeReflector map[string]*metadata.ReflectionResult

func (r fakeReflector) reflect(module metadata.ShaderModule) (*metadata.ReflectionResult, error) {
	refl, ok := r[module.Name]
	if !ok {
		return nil, fmt.Errorf("no reflection for `%s`", module.Name)
	}
	return cloneReflection(refl), nil
}

func cloneReflection(src *metadata.ReflectionResult) *metadata.ReflectionResult {
	dst := metadata.NewReflectionResult(src.Stage)
	dst.EntryPoint = src.EntryPoint
	for set, bindings := range src.Resources {
		for binding, res := range bindings {
			dst.AddResource(set, binding, res)
		}
	}
	for id, t := range src.Types {
		copied := *t
		dst.Types[id] = &copied
	}
	dst.Inputs = append(dst.Inputs, src.Inputs...)
	dst.Outputs = append(dst.Outputs, src.Outputs...)
	return dst
}

// Type ids shared by the reflection fixtures.
const (
	typeFloat uint32 = iota + 1
	typeVec2
	typeVec3
	typeVec4
	typeMat4
	typeCamera
	typeLightArray
	typeLights
	typeSampler2D
	typeIVec4
	typeDouble
	typeMat4Array
)

func fixtureTypes() map[uint32]*metadata.TypeDescriptor {
	return map[uint32]*metadata.TypeDescriptor{
		typeFloat: {Class: metadata.TypeClassScalar, Scalar: metadata.ScalarKindFloat, Rows: 1, Columns: 1, ElementSize: 4, Size: 4},
		typeVec2:  {Class: metadata.TypeClassVector, Scalar: metadata.ScalarKindFloat, Rows: 2, Columns: 1, ElementSize: 4, Size: 8},
		typeVec3:  {Class: metadata.TypeClassVector, Scalar: metadata.ScalarKindFloat, Rows: 3, Columns: 1, ElementSize: 4, Size: 12},
		typeVec4:  {Class: metadata.TypeClassVector, Scalar: metadata.ScalarKindFloat, Rows: 4, Columns: 1, ElementSize: 4, Size: 16},
		typeIVec4: {Class: metadata.TypeClassVector, Scalar: metadata.ScalarKindSInt, Rows: 4, Columns: 1, ElementSize: 4, Size: 16},
		typeDouble: {Class: metadata.TypeClassScalar, Scalar: metadata.ScalarKindFloat, Rows: 1, Columns: 1, ElementSize: 8, Size: 8},
		typeMat4:  {Class: metadata.TypeClassMatrix, Scalar: metadata.ScalarKindFloat, Rows: 4, Columns: 4, ElementSize: 4, Size: 64},
		typeCamera: {
			Class: metadata.TypeClassStruct, Size: 64,
			Fields:     map[string]metadata.Field{"view_projection": {TypeID: typeMat4, Offset: 0}},
			FieldOrder: []string{"view_projection"},
		},
		// struct Light { vec4 color; vec4 position; }
		typeLightArray: {
			Class: metadata.TypeClassStruct, Size: 32 * 4, ArrayDims: []uint32{4},
			Fields: map[string]metadata.Field{
				"color":    {TypeID: typeVec4, Offset: 0},
				"position": {TypeID: typeVec4, Offset: 16},
			},
			FieldOrder: []string{"color", "position"},
		},
		typeMat4Array: {Class: metadata.TypeClassMatrix, Scalar: metadata.ScalarKindFloat, Rows: 4, Columns: 4, ElementSize: 4, Size: 64 * 6, ArrayDims: []uint32{2, 3}},
		// uniform Lights { float ambient; Light lights[4]; mat4 bones[2][3]; }
		typeLights: {
			Class: metadata.TypeClassStruct, Size: 16 + 128 + 384,
			Fields: map[string]metadata.Field{
				"ambient": {TypeID: typeFloat, Offset: 0},
				"lights":  {TypeID: typeLightArray, Offset: 16, ArrayStride: 32},
				"bones":   {TypeID: typeMat4Array, Offset: 144, ArrayStride: 64},
			},
			FieldOrder: []string{"ambient", "lights", "bones"},
		},
		typeSampler2D: {Class: metadata.TypeClassSampledImage},
	}
}

// vertexReflection declares position(0) vec3, uv(1) vec2, color(2) vec4 and
// the Camera uniform at set 0 binding 0.
func vertexReflection() *metadata.ReflectionResult {
	r := metadata.NewReflectionResult(metadata.ShaderStageVertex)
	r.Types = fixtureTypes()
	r.AddResource(0, 0, metadata.ResourceDescriptor{
		Name:   "Camera",
		Flags:  metadata.ResourceTypeBuffer | metadata.ResourceTypeUniform,
		TypeID: typeCamera,
	})
	r.Inputs = []metadata.StageVariable{
		{Name: "in_color", Location: 2, TypeID: typeVec4},
		{Name: "in_position", Location: 0, TypeID: typeVec3},
		{Name: "in_uv", Location: 1, TypeID: typeVec2},
	}
	return r
}

func fragmentReflection() *metadata.ReflectionResult {
	r := metadata.NewReflectionResult(metadata.ShaderStageFragment)
	r.Types = fixtureTypes()
	r.AddResource(0, 0, metadata.ResourceDescriptor{
		Name:   "Camera",
		Flags:  metadata.ResourceTypeBuffer | metadata.ResourceTypeUniform,
		TypeID: typeCamera,
	})
	r.AddResource(2, 0, metadata.ResourceDescriptor{
		Name:   "Lights",
		Flags:  metadata.ResourceTypeBuffer | metadata.ResourceTypeUniform,
		TypeID: typeLights,
	})
	r.AddResource(2, 1, metadata.ResourceDescriptor{
		Name:   "diffuse",
		Flags:  metadata.ResourceTypeImage | metadata.ResourceTypeSampler,
		TypeID: typeSampler2D,
	})
	return r
}

func graphicsStages() map[metadata.ShaderStage]metadata.ShaderModule {
	return map[metadata.ShaderStage]metadata.ShaderModule{
		metadata.ShaderStageVertex:   {Name: "world.vert", EntryPoint: "main", Code: []uint32{0x07230203}},
		metadata.ShaderStageFragment: {Name: "world.frag", EntryPoint: "main", Code: []uint32{0x07230203}},
	}
}

type fakeRenderPass struct{}

func newTestPipeline(device *fakeDevice, reflector fakeReflector, cfg *metadata.PipelineConfig) (*Pipeline, error) {
	return NewPipeline(device, PipelineDesc{
		Config:         cfg,
		FramesInFlight: 2,
		RenderPass:     &fakeRenderPass{},
		Reflect:        reflector.reflect,
	})
}

func worldConfig() *metadata.PipelineConfig {
	return &metadata.PipelineConfig{
		Name:      "world",
		Kind:      metadata.PipelineKindGraphics,
		Stages:    map[string]string{"vertex": "world.vert.spv", "fragment": "world.frag.spv"},
		DepthTest: true,
		BlendMode: metadata.BlendModeAlpha,
	}
}

func worldReflector() fakeReflector {
	return fakeReflector{
		"world.vert": vertexReflection(),
		"world.frag": fragmentReflection(),
	}
}
