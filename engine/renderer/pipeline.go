package renderer

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// NotFound is returned by lookups that miss.
const NotFound = -1

const defaultFramesInFlight = 3

type PipelineDesc struct {
	Config *metadata.PipelineConfig
	// FramesInFlight is used when the config does not override it.
	FramesInFlight uint32
	// RenderPass is required for graphics pipelines.
	RenderPass RenderPass
	Reflect    ReflectFunc
}

// ResourceLocation is where a named resource lives.
type ResourceLocation struct {
	Stage   metadata.ShaderStage
	Set     uint32
	Binding uint32
}

type bindingSlot struct {
	set, binding, index uint32
}

// Pipeline is a graphics or compute pipeline whose layouts are derived from
// the reflection of its stages. It is either fully loaded or fully unloaded.
type Pipeline struct {
	device     Device
	config     metadata.PipelineConfig
	frames     uint32
	renderPass RenderPass
	reflect    ReflectFunc

	loaded    bool
	destroyed bool

	// valid while loaded, in pipeline stage order
	reflections    []*metadata.ReflectionResult
	layout         *DescriptorLayout
	vertex         *VertexLayout
	pool           DescriptorPool
	setLayouts     []DescriptorSetLayout
	sets           [][]DescriptorSet // frame -> set index
	pipelineLayout PipelineLayout
	native         NativePipeline

	bindings map[bindingSlot]Resource
}

func NewPipeline(device Device, desc PipelineDesc) (*Pipeline, error) {
	if desc.Config == nil {
		err := fmt.Errorf("pipeline requires a configuration: %w", core.ErrArgument)
		core.LogError(err.Error())
		return nil, err
	}
	if err := desc.Config.Validate(); err != nil {
		err = fmt.Errorf("%v: %w", err, core.ErrConfiguration)
		core.LogError(err.Error())
		return nil, err
	}
	if desc.Reflect == nil {
		err := fmt.Errorf("pipeline `%s` has no reflection function: %w", desc.Config.Name, core.ErrArgument)
		core.LogError(err.Error())
		return nil, err
	}

	frames := desc.Config.FramesInFlight
	if frames == 0 {
		frames = desc.FramesInFlight
	}
	if frames == 0 {
		frames = defaultFramesInFlight
	}

	return &Pipeline{
		device:     device,
		config:     *desc.Config,
		frames:     frames,
		renderPass: desc.RenderPass,
		reflect:    desc.Reflect,
		bindings:   make(map[bindingSlot]Resource),
	}, nil
}

func (p *Pipeline) Name() string {
	return p.config.Name
}

func (p *Pipeline) Config() metadata.PipelineConfig {
	return p.config
}

func (p *Pipeline) IsLoaded() bool {
	return p.loaded
}

func (p *Pipeline) FramesInFlight() uint32 {
	return p.frames
}

// Layout returns the synthesized descriptor layout, nil when unloaded.
func (p *Pipeline) Layout() *DescriptorLayout {
	return p.layout
}

// VertexLayout returns the synthesized vertex input layout. It is nil for
// compute pipelines and when unloaded.
func (p *Pipeline) VertexLayout() *VertexLayout {
	return p.vertex
}

func (p *Pipeline) bindPoint() BindPoint {
	if p.config.Kind == metadata.PipelineKindCompute {
		return BindPointCompute
	}
	return BindPointGraphics
}

// Load tears down any previous state and builds every native object from the
// reflection of the supplied stages.
func (p *Pipeline) Load(stages map[metadata.ShaderStage]metadata.ShaderModule) error {
	if p.destroyed {
		err := fmt.Errorf("pipeline `%s` was destroyed: %w", p.config.Name, core.ErrStateMisuse)
		core.LogError(err.Error())
		return err
	}
	p.Unload()

	modules, err := p.applicableStages(stages)
	if err != nil {
		core.LogError(err.Error())
		return err
	}

	if err := p.load(modules); err != nil {
		p.teardown()
		return err
	}
	p.loaded = true
	core.LogDebug("pipeline `%s` loaded with %d stage(s) and %d descriptor set(s)", p.config.Name, len(modules), len(p.setLayouts))
	return nil
}

func (p *Pipeline) applicableStages(stages map[metadata.ShaderStage]metadata.ShaderModule) ([]metadata.ShaderModule, error) {
	var modules []metadata.ShaderModule
	for _, stage := range metadata.ShaderStages {
		module, ok := stages[stage]
		if !ok {
			continue
		}
		if p.config.Kind == metadata.PipelineKindCompute && stage != metadata.ShaderStageCompute {
			continue
		}
		if p.config.Kind == metadata.PipelineKindGraphics && stage == metadata.ShaderStageCompute {
			continue
		}
		module.Stage = stage
		modules = append(modules, module)
	}

	if len(modules) == 0 {
		return nil, fmt.Errorf("pipeline `%s` has no %s stage: %w", p.config.Name, p.config.Kind, core.ErrArgument)
	}
	if p.config.Kind == metadata.PipelineKindGraphics {
		if _, ok := stages[metadata.ShaderStageVertex]; !ok {
			return nil, fmt.Errorf("graphics pipeline `%s` is missing a vertex stage: %w", p.config.Name, core.ErrArgument)
		}
		if _, ok := stages[metadata.ShaderStageFragment]; !ok {
			return nil, fmt.Errorf("graphics pipeline `%s` is missing a fragment stage: %w", p.config.Name, core.ErrArgument)
		}
	}
	return modules, nil
}

func (p *Pipeline) load(modules []metadata.ShaderModule) error {
	for i, module := range modules {
		refl, err := p.reflect(module)
		if err != nil {
			err = fmt.Errorf("failed to reflect %s stage of pipeline `%s`: %w", module.Stage, p.config.Name, err)
			core.LogError(err.Error())
			return err
		}
		refl.Stage = module.Stage
		if module.EntryPoint == "" {
			modules[i].EntryPoint = refl.EntryPoint
		}
		p.reflections = append(p.reflections, refl)
	}

	layout, err := SynthesizeDescriptorLayout(p.reflections)
	if err != nil {
		return err
	}
	p.layout = layout

	if err := p.createDescriptors(); err != nil {
		return err
	}

	pipelineLayout, err := p.device.CreatePipelineLayout(p.setLayouts)
	if err != nil {
		err = fmt.Errorf("failed to create pipeline layout for `%s`: %w", p.config.Name, err)
		core.LogError(err.Error())
		return err
	}
	p.pipelineLayout = pipelineLayout

	if p.config.Kind == metadata.PipelineKindCompute {
		return p.createCompute(modules[0])
	}
	return p.createGraphics(modules)
}

func (p *Pipeline) createDescriptors() error {
	for _, set := range p.layout.Sets {
		setLayout, err := p.device.CreateDescriptorSetLayout(set.Bindings)
		if err != nil {
			err = fmt.Errorf("failed to create descriptor set layout %d for `%s`: %w", set.Set, p.config.Name, err)
			core.LogError(err.Error())
			return err
		}
		p.setLayouts = append(p.setLayouts, setLayout)
	}
	if len(p.setLayouts) == 0 {
		return nil
	}

	sizes := p.layout.PoolSizes()
	for i := range sizes {
		sizes[i].Count *= p.frames
	}
	pool, err := p.device.CreateDescriptorPool(sizes, uint32(len(p.setLayouts))*p.frames)
	if err != nil {
		err = fmt.Errorf("failed to create descriptor pool for `%s`: %w", p.config.Name, err)
		core.LogError(err.Error())
		return err
	}
	p.pool = pool

	p.sets = make([][]DescriptorSet, p.frames)
	for frame := range p.sets {
		p.sets[frame] = make([]DescriptorSet, 0, len(p.setLayouts))
		for i, setLayout := range p.setLayouts {
			set, err := pool.Allocate(setLayout)
			if err != nil {
				err = fmt.Errorf("failed to allocate descriptor set %d for frame %d of `%s`: %w", i, frame, p.config.Name, err)
				core.LogError(err.Error())
				return err
			}
			p.sets[frame] = append(p.sets[frame], set)
		}
	}
	return nil
}

func (p *Pipeline) createGraphics(modules []metadata.ShaderModule) error {
	if p.renderPass == nil {
		err := fmt.Errorf("graphics pipeline `%s` requires a render pass: %w", p.config.Name, core.ErrArgument)
		core.LogError(err.Error())
		return err
	}

	vertex, err := SynthesizeVertexLayout(p.reflections[0])
	if err != nil {
		return err
	}
	blend, err := ResolveBlendState(p.config.BlendMode)
	if err != nil {
		return err
	}
	frontFace := p.config.FrontFace
	if frontFace == "" {
		frontFace = metadata.FrontFaceCounterClockwise
	}
	if frontFace != metadata.FrontFaceCounterClockwise && frontFace != metadata.FrontFaceClockwise {
		err := fmt.Errorf("pipeline `%s` has unknown front face `%s`: %w", p.config.Name, frontFace, core.ErrConfiguration)
		core.LogError(err.Error())
		return err
	}

	native, err := p.device.CreateGraphicsPipeline(&GraphicsPipelineDesc{
		Name:       p.config.Name,
		Stages:     modules,
		Layout:     p.pipelineLayout,
		RenderPass: p.renderPass,
		Vertex:     vertex,
		FrontFace:  frontFace,
		CullBack:   !p.config.DisableCulling,
		DepthTest:  p.config.DepthTest,
		DepthWrite: p.config.DepthWrite,
		Blend:      blend,
	})
	if err != nil {
		err = fmt.Errorf("failed to create graphics pipeline `%s`: %w", p.config.Name, err)
		core.LogError(err.Error())
		return err
	}
	p.vertex = vertex
	p.native = native
	return nil
}

func (p *Pipeline) createCompute(module metadata.ShaderModule) error {
	native, err := p.device.CreateComputePipeline(&ComputePipelineDesc{
		Name:   p.config.Name,
		Stage:  module,
		Layout: p.pipelineLayout,
	})
	if err != nil {
		err = fmt.Errorf("failed to create compute pipeline `%s`: %w", p.config.Name, err)
		core.LogError(err.Error())
		return err
	}
	p.native = native
	return nil
}

// Unload unbinds every resource and releases the native objects. It is a
// no-op on a pipeline that was never loaded.
func (p *Pipeline) Unload() {
	p.unbindAll()
	p.teardown()
}

// Destroy unloads the pipeline for good.
func (p *Pipeline) Destroy() {
	p.Unload()
	p.destroyed = true
}

func (p *Pipeline) unbindAll() {
	slots := make([]bindingSlot, 0, len(p.bindings))
	for slot := range p.bindings {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if a.set != b.set {
			return a.set < b.set
		}
		if a.binding != b.binding {
			return a.binding < b.binding
		}
		return a.index < b.index
	})
	for _, slot := range slots {
		if err := p.bindings[slot].Unbind(p.target(slot)); err != nil {
			core.LogWarn("failed to unbind resource at set %d binding %d index %d of `%s`: %s",
				slot.set, slot.binding, slot.index, p.config.Name, err.Error())
		}
		delete(p.bindings, slot)
	}
}

// teardown releases native objects in dependency order: pipeline before its
// layout, descriptor sets before set layouts before the pool.
func (p *Pipeline) teardown() {
	p.loaded = false
	if p.native != nil {
		p.native.Destroy()
		p.native = nil
	}
	if p.pipelineLayout != nil {
		p.pipelineLayout.Destroy()
		p.pipelineLayout = nil
	}
	if p.pool != nil {
		for _, frameSets := range p.sets {
			if len(frameSets) > 0 {
				p.pool.Free(frameSets)
			}
		}
	}
	p.sets = nil
	for i := len(p.setLayouts) - 1; i >= 0; i-- {
		p.setLayouts[i].Destroy()
	}
	p.setLayouts = nil
	if p.pool != nil {
		p.pool.Destroy()
		p.pool = nil
	}
	p.reflections = nil
	p.layout = nil
	p.vertex = nil
}

// Bind records the pipeline and the descriptor sets of frame into cmd.
func (p *Pipeline) Bind(cmd *CommandList, frame uint32) error {
	if err := p.requireLoaded("bind"); err != nil {
		return err
	}
	if frame >= p.frames {
		err := fmt.Errorf("frame %d is outside the %d frames in flight of `%s`: %w", frame, p.frames, p.config.Name, core.ErrRange)
		core.LogError(err.Error())
		return err
	}
	if err := cmd.requireRecording("bind pipeline"); err != nil {
		return err
	}
	cmd.buffer.BindPipeline(p.bindPoint(), p.native)
	if len(p.sets) > 0 && len(p.sets[frame]) > 0 {
		cmd.buffer.BindDescriptorSets(p.bindPoint(), p.pipelineLayout, 0, p.sets[frame])
	}
	return nil
}

// FindResource returns the first resource named name, scanning stages in
// pipeline order, then sets and bindings in ascending order. Names are
// expected to be unique across stages.
func (p *Pipeline) FindResource(name string) (ResourceLocation, bool) {
	loc, _, _, ok := p.findResource(name)
	return loc, ok
}

func (p *Pipeline) ResourceExists(name string) bool {
	_, ok := p.FindResource(name)
	return ok
}

func (p *Pipeline) findResource(name string) (ResourceLocation, *metadata.ReflectionResult, metadata.ResourceDescriptor, bool) {
	for _, refl := range p.reflections {
		for _, set := range refl.Sets() {
			for _, binding := range refl.Bindings(set) {
				res := refl.Resources[set][binding]
				if res.Name == name {
					return ResourceLocation{Stage: refl.Stage, Set: set, Binding: binding}, refl, res, true
				}
			}
		}
	}
	return ResourceLocation{}, nil, metadata.ResourceDescriptor{}, false
}

// BindResource places resource at index of the binding named name. Binding
// the resource already in the slot does nothing; any other occupant is
// unbound first.
func (p *Pipeline) BindResource(resource Resource, name string, index uint32) error {
	if err := p.requireLoaded("bind resource `" + name + "`"); err != nil {
		return err
	}
	slot, err := p.resolveSlot(name, index)
	if err != nil {
		return err
	}

	if current, ok := p.bindings[slot]; ok {
		if current.ID() == resource.ID() {
			return nil
		}
		if err := current.Unbind(p.target(slot)); err != nil {
			err = fmt.Errorf("failed to unbind previous occupant of `%s`[%d]: %w", name, index, err)
			core.LogError(err.Error())
			return err
		}
		delete(p.bindings, slot)
	}

	if err := resource.Bind(p.target(slot)); err != nil {
		return err
	}
	p.bindings[slot] = resource
	return nil
}

// UnbindResource clears index of the binding named name.
func (p *Pipeline) UnbindResource(name string, index uint32) error {
	if err := p.requireLoaded("unbind resource `" + name + "`"); err != nil {
		return err
	}
	slot, err := p.resolveSlot(name, index)
	if err != nil {
		return err
	}
	current, ok := p.bindings[slot]
	if !ok {
		return nil
	}
	delete(p.bindings, slot)
	return current.Unbind(p.target(slot))
}

// BoundResource returns the occupant of a slot, or nil.
func (p *Pipeline) BoundResource(set, binding, index uint32) Resource {
	return p.bindings[bindingSlot{set: set, binding: binding, index: index}]
}

func (p *Pipeline) resolveSlot(name string, index uint32) (bindingSlot, error) {
	loc, ok := p.FindResource(name)
	if !ok {
		err := fmt.Errorf("pipeline `%s` has no resource named `%s`: %w", p.config.Name, name, core.ErrResourceNotFound)
		core.LogError(err.Error())
		return bindingSlot{}, err
	}
	binding, _ := p.layout.Binding(loc.Set, loc.Binding)
	if index >= binding.Count {
		err := fmt.Errorf("index %d of `%s` exceeds its %d descriptor(s): %w", index, name, binding.Count, core.ErrRange)
		core.LogError(err.Error())
		return bindingSlot{}, err
	}
	return bindingSlot{set: loc.Set, binding: loc.Binding, index: index}, nil
}

func (p *Pipeline) target(slot bindingSlot) BindTarget {
	sets := make([]DescriptorSet, 0, len(p.sets))
	for _, frameSets := range p.sets {
		if int(slot.set) < len(frameSets) {
			sets = append(sets, frameSets[slot.set])
		}
	}
	binding, _ := p.layout.Binding(slot.set, slot.binding)
	return BindTarget{
		Sets:     sets,
		Set:      slot.set,
		Binding:  slot.binding,
		Index:    slot.index,
		Type:     binding.Type,
		Pipeline: p,
	}
}

func (p *Pipeline) requireLoaded(op string) error {
	if !p.loaded {
		err := fmt.Errorf("cannot %s: pipeline `%s` is not loaded: %w", op, p.config.Name, core.ErrStateMisuse)
		core.LogError(err.Error())
		return err
	}
	return nil
}
