package metadata

import (
	"sort"
)

/** @brief Flags describing what kind of shader resource a binding refers to. */
type ResourceTypeFlags uint32

const (
	ResourceTypeBuffer ResourceTypeFlags = 1 << iota
	ResourceTypeImage
	ResourceTypeSampler
	ResourceTypeUniform
	ResourceTypeStorage
)

func (f ResourceTypeFlags) Has(flags ResourceTypeFlags) bool {
	return f&flags == flags
}

/**
 * @brief A single resource (buffer, image or sampler) declared by a shader
 * stage at a given set and binding.
 */
type ResourceDescriptor struct {
	/** @brief The resource name as declared in the shader. */
	Name string
	/** @brief The kind of resource. */
	Flags ResourceTypeFlags
	/** @brief Key into ReflectionResult.Types describing the resource's type. */
	TypeID uint32
}

/** @brief The shape of a reflected type. */
type TypeClass int

const (
	TypeClassScalar TypeClass = iota
	TypeClassVector
	TypeClassMatrix
	TypeClassStruct
	TypeClassImage
	TypeClassSampler
	TypeClassSampledImage
)

/** @brief The component kind of numeric types. */
type ScalarKind int

const (
	ScalarKindNone ScalarKind = iota
	ScalarKindFloat
	ScalarKindSInt
	ScalarKindUInt
	ScalarKindBool
)

/**
 * @brief A member of a struct type.
 */
type Field struct {
	/** @brief The member's type. Array members carry their dimensions on that type. */
	TypeID uint32
	/** @brief Byte offset from the start of the enclosing struct. */
	Offset uint32
	/** @brief Byte distance between consecutive innermost elements, 0 for non-arrays. */
	ArrayStride uint32
}

/**
 * @brief Describes a reflected type. Arrays are expressed as the element type
 * with a non-empty ArrayDims list rather than a separate class.
 */
type TypeDescriptor struct {
	Class TypeClass
	/** @brief Component kind for scalars, vectors and matrices. */
	Scalar ScalarKind
	/** @brief Components per vector (1 for scalars, column height for matrices). */
	Rows uint32
	/** @brief Number of matrix columns (1 otherwise). */
	Columns uint32
	/** @brief Size in bytes of one component. */
	ElementSize uint32
	/** @brief Total size in bytes including every array element, 0 when unknown (runtime arrays). */
	Size uint32
	/** @brief Array dimensions, outermost first. A 0 entry is runtime-sized. */
	ArrayDims []uint32
	/** @brief Members of struct types by name. */
	Fields map[string]Field
	/** @brief Struct member names in declaration order. */
	FieldOrder []string
}

func (t *TypeDescriptor) IsArray() bool {
	return len(t.ArrayDims) > 0
}

// ElementCount is the product of the array dimensions; runtime-sized and
// non-array types count as one.
func (t *TypeDescriptor) ElementCount() uint32 {
	count := uint32(1)
	for _, d := range t.ArrayDims {
		if d > 0 {
			count *= d
		}
	}
	return count
}

/** @brief An input or output interface variable of a stage. */
type StageVariable struct {
	Name     string
	Location uint32
	TypeID   uint32
}

/**
 * @brief Structured description of a compiled shader stage. Produced once per
 * load by the reflection collaborator and treated as immutable afterwards.
 */
type ReflectionResult struct {
	Stage      ShaderStage
	EntryPoint string
	/** @brief set -> binding -> resource */
	Resources map[uint32]map[uint32]ResourceDescriptor
	Types     map[uint32]*TypeDescriptor
	/** @brief Stage inputs sorted by location. */
	Inputs []StageVariable
	/** @brief Stage outputs sorted by location. */
	Outputs []StageVariable
}

func NewReflectionResult(stage ShaderStage) *ReflectionResult {
	return &ReflectionResult{
		Stage:      stage,
		EntryPoint: "main",
		Resources:  make(map[uint32]map[uint32]ResourceDescriptor),
		Types:      make(map[uint32]*TypeDescriptor),
	}
}

// AddResource registers a resource at set/binding, replacing any previous one.
func (r *ReflectionResult) AddResource(set, binding uint32, res ResourceDescriptor) {
	bindings, ok := r.Resources[set]
	if !ok {
		bindings = make(map[uint32]ResourceDescriptor)
		r.Resources[set] = bindings
	}
	bindings[binding] = res
}

func (r *ReflectionResult) Type(id uint32) (*TypeDescriptor, bool) {
	t, ok := r.Types[id]
	return t, ok
}

// Sets returns the referenced set indices in ascending order.
func (r *ReflectionResult) Sets() []uint32 {
	sets := make([]uint32, 0, len(r.Resources))
	for s := range r.Resources {
		sets = append(sets, s)
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i] < sets[j] })
	return sets
}

// Bindings returns the binding indices of set in ascending order.
func (r *ReflectionResult) Bindings(set uint32) []uint32 {
	bindings := make([]uint32, 0, len(r.Resources[set]))
	for b := range r.Resources[set] {
		bindings = append(bindings, b)
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i] < bindings[j] })
	return bindings
}

// SortStageVariables orders inputs and outputs by location.
func (r *ReflectionResult) SortStageVariables() {
	sort.SliceStable(r.Inputs, func(i, j int) bool { return r.Inputs[i].Location < r.Inputs[j].Location })
	sort.SliceStable(r.Outputs, func(i, j int) bool { return r.Outputs[i].Location < r.Outputs[j].Location })
}
