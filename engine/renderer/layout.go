package renderer

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// SetLayout is the merged view of one descriptor set across every stage.
type SetLayout struct {
	Set uint32
	// Bindings sorted by binding index. Empty for gap sets.
	Bindings []LayoutBinding
}

// DescriptorLayout spans set 0 through the highest referenced set.
type DescriptorLayout struct {
	Sets []SetLayout
}

// Binding looks up a merged binding.
func (l *DescriptorLayout) Binding(set, binding uint32) (LayoutBinding, bool) {
	if int(set) >= len(l.Sets) {
		return LayoutBinding{}, false
	}
	for _, b := range l.Sets[set].Bindings {
		if b.Binding == binding {
			return b, true
		}
	}
	return LayoutBinding{}, false
}

// PoolSizes totals the descriptors of every type needed for one copy of
// every set.
func (l *DescriptorLayout) PoolSizes() []DescriptorPoolSize {
	totals := map[DescriptorType]uint32{}
	for _, s := range l.Sets {
		for _, b := range s.Bindings {
			totals[b.Type] += b.Count
		}
	}
	sizes := make([]DescriptorPoolSize, 0, len(totals))
	for t, c := range totals {
		sizes = append(sizes, DescriptorPoolSize{Type: t, Count: c})
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i].Type < sizes[j].Type })
	return sizes
}

// descriptorTypeOf maps reflected resource flags to exactly one descriptor type.
func descriptorTypeOf(flags metadata.ResourceTypeFlags) (DescriptorType, error) {
	image := flags.Has(metadata.ResourceTypeImage)
	sampler := flags.Has(metadata.ResourceTypeSampler)
	buffer := flags.Has(metadata.ResourceTypeBuffer)
	uniform := flags.Has(metadata.ResourceTypeUniform)
	storage := flags.Has(metadata.ResourceTypeStorage)

	candidates := []struct {
		match bool
		kind  DescriptorType
	}{
		{image && sampler && !buffer && !storage, DescriptorTypeCombinedImageSampler},
		{image && !sampler && !buffer && !storage, DescriptorTypeSampledImage},
		{sampler && !image && !buffer && !storage, DescriptorTypeSampler},
		{buffer && uniform && !storage && !image && !sampler, DescriptorTypeUniformBuffer},
		{buffer && storage && !uniform && !image && !sampler, DescriptorTypeStorageBuffer},
	}

	found := -1
	for i, c := range candidates {
		if !c.match {
			continue
		}
		if found >= 0 {
			return 0, fmt.Errorf("resource flags %05b match more than one descriptor type: %w", flags, core.ErrConfiguration)
		}
		found = i
	}
	if found < 0 {
		return 0, fmt.Errorf("resource flags %05b match no descriptor type: %w", flags, core.ErrConfiguration)
	}
	return candidates[found].kind, nil
}

// SynthesizeDescriptorLayout merges the resources of every reflected stage
// into one layout per set index. Redeclaring a binding with the same type
// merges the stage masks; a different type is an error.
func SynthesizeDescriptorLayout(reflections []*metadata.ReflectionResult) (*DescriptorLayout, error) {
	merged := map[uint32]map[uint32]*LayoutBinding{}
	highest := -1

	for _, refl := range reflections {
		for _, set := range refl.Sets() {
			for _, binding := range refl.Bindings(set) {
				res := refl.Resources[set][binding]
				kind, err := descriptorTypeOf(res.Flags)
				if err != nil {
					err = fmt.Errorf("%s stage resource `%s` (set %d, binding %d): %w", refl.Stage, res.Name, set, binding, err)
					core.LogError(err.Error())
					return nil, err
				}
				count := uint32(1)
				if t, ok := refl.Type(res.TypeID); ok {
					count = t.ElementCount()
				}

				bindings, ok := merged[set]
				if !ok {
					bindings = map[uint32]*LayoutBinding{}
					merged[set] = bindings
				}
				if existing, ok := bindings[binding]; ok {
					if existing.Type != kind {
						err := fmt.Errorf("set %d binding %d declared as %s and %s (`%s` in %s stage): %w",
							set, binding, existing.Type, kind, res.Name, refl.Stage, core.ErrDuplicateResource)
						core.LogError(err.Error())
						return nil, err
					}
					existing.Stages |= metadata.ShaderStageFlags(refl.Stage)
					if count > existing.Count {
						existing.Count = count
					}
				} else {
					bindings[binding] = &LayoutBinding{
						Binding: binding,
						Type:    kind,
						Count:   count,
						Stages:  metadata.ShaderStageFlags(refl.Stage),
					}
				}
				if int(set) > highest {
					highest = int(set)
				}
			}
		}
	}

	layout := &DescriptorLayout{Sets: make([]SetLayout, highest+1)}
	for i := range layout.Sets {
		layout.Sets[i].Set = uint32(i)
		bindings := merged[uint32(i)]
		for _, b := range bindings {
			layout.Sets[i].Bindings = append(layout.Sets[i].Bindings, *b)
		}
		sort.Slice(layout.Sets[i].Bindings, func(a, b int) bool {
			return layout.Sets[i].Bindings[a].Binding < layout.Sets[i].Bindings[b].Binding
		})
	}
	return layout, nil
}

type VertexFormat int

const (
	VertexFormatFloat VertexFormat = iota
	VertexFormatFloat2
	VertexFormatFloat3
	VertexFormatFloat4
	VertexFormatSint
	VertexFormatSint2
	VertexFormatSint3
	VertexFormatSint4
	VertexFormatUint
	VertexFormatUint2
	VertexFormatUint3
	VertexFormatUint4
)

// Components is the number of 32-bit components of the format.
func (f VertexFormat) Components() uint32 {
	return uint32(f%4) + 1
}

func (f VertexFormat) Size() uint32 {
	return f.Components() * 4
}

func (f VertexFormat) String() string {
	kinds := [...]string{"float", "sint", "uint"}
	return fmt.Sprintf("%s%d", kinds[f/4], f.Components())
}

type VertexAttribute struct {
	Name     string
	Location uint32
	Format   VertexFormat
	Offset   uint32
}

// VertexLayout describes a single interleaved vertex buffer binding.
type VertexLayout struct {
	Stride     uint32
	Attributes []VertexAttribute
}

// SynthesizeVertexLayout packs the vertex stage inputs by ascending location
// with no padding.
func SynthesizeVertexLayout(vertex *metadata.ReflectionResult) (*VertexLayout, error) {
	inputs := make([]metadata.StageVariable, len(vertex.Inputs))
	copy(inputs, vertex.Inputs)
	sort.SliceStable(inputs, func(i, j int) bool { return inputs[i].Location < inputs[j].Location })

	layout := &VertexLayout{}
	for _, in := range inputs {
		t, ok := vertex.Type(in.TypeID)
		if !ok {
			err := fmt.Errorf("vertex input `%s` has no reflected type: %w", in.Name, core.ErrConfiguration)
			core.LogError(err.Error())
			return nil, err
		}
		format, err := vertexFormatOf(t)
		if err != nil {
			err = fmt.Errorf("vertex input `%s` (location %d): %w", in.Name, in.Location, err)
			core.LogError(err.Error())
			return nil, err
		}
		layout.Attributes = append(layout.Attributes, VertexAttribute{
			Name:     in.Name,
			Location: in.Location,
			Format:   format,
			Offset:   layout.Stride,
		})
		layout.Stride += format.Size()
	}
	return layout, nil
}

func vertexFormatOf(t *metadata.TypeDescriptor) (VertexFormat, error) {
	if t.Class != metadata.TypeClassScalar && t.Class != metadata.TypeClassVector {
		return 0, fmt.Errorf("only scalar and vector attributes are supported: %w", core.ErrConfiguration)
	}
	if t.IsArray() || t.Columns > 1 {
		return 0, fmt.Errorf("array and matrix attributes are not supported: %w", core.ErrConfiguration)
	}
	if t.ElementSize != 4 {
		return 0, fmt.Errorf("component size %d is not 32-bit: %w", t.ElementSize, core.ErrConfiguration)
	}
	if t.Rows < 1 || t.Rows > 4 {
		return 0, fmt.Errorf("unsupported component count %d: %w", t.Rows, core.ErrConfiguration)
	}
	var base VertexFormat
	switch t.Scalar {
	case metadata.ScalarKindFloat:
		base = VertexFormatFloat
	case metadata.ScalarKindSInt:
		base = VertexFormatSint
	case metadata.ScalarKindUInt:
		base = VertexFormatUint
	default:
		return 0, fmt.Errorf("unsupported component kind: %w", core.ErrConfiguration)
	}
	return base + VertexFormat(t.Rows-1), nil
}

type BlendFactor int

const (
	BlendFactorZero BlendFactor = iota
	BlendFactorOne
	BlendFactorSrcColor
	BlendFactorSrcAlpha
	BlendFactorOneMinusSrcAlpha
)

type BlendOp int

const (
	BlendOpAdd BlendOp = iota
)

// BlendState is the color attachment blend configuration.
type BlendState struct {
	Enabled        bool
	SrcColorFactor BlendFactor
	DstColorFactor BlendFactor
	ColorOp        BlendOp
	SrcAlphaFactor BlendFactor
	DstAlphaFactor BlendFactor
	AlphaOp        BlendOp
}

// ResolveBlendState expands a preset. An empty mode means disabled.
func ResolveBlendState(mode metadata.BlendMode) (BlendState, error) {
	switch mode {
	case "", metadata.BlendModeDisabled:
		return BlendState{}, nil
	case metadata.BlendModeAlpha:
		return BlendState{
			Enabled:        true,
			SrcColorFactor: BlendFactorSrcAlpha,
			DstColorFactor: BlendFactorOneMinusSrcAlpha,
			SrcAlphaFactor: BlendFactorOne,
			DstAlphaFactor: BlendFactorOneMinusSrcAlpha,
		}, nil
	case metadata.BlendModeAdditive:
		return BlendState{
			Enabled:        true,
			SrcColorFactor: BlendFactorOne,
			DstColorFactor: BlendFactorOne,
			SrcAlphaFactor: BlendFactorOne,
			DstAlphaFactor: BlendFactorZero,
		}, nil
	case metadata.BlendModeMultiply:
		return BlendState{
			Enabled:        true,
			SrcColorFactor: BlendFactorZero,
			DstColorFactor: BlendFactorSrcColor,
			SrcAlphaFactor: BlendFactorZero,
			DstAlphaFactor: BlendFactorSrcColor,
		}, nil
	}
	err := fmt.Errorf("unknown blend mode `%s`: %w", mode, core.ErrConfiguration)
	core.LogError(err.Error())
	return BlendState{}, err
}
