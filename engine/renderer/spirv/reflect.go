package spirv

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

const uniformBlockAlignment = 16

type variable struct {
	id      uint32
	pointer uint32
	storage StorageClass
}

type entryPoint struct {
	model ExecutionModel
	name  string
}

// module is the subset of a SPIR-V module needed for reflection, indexed by
// result id.
type module struct {
	names             map[uint32]string
	memberNames       map[uint32]map[uint32]string
	decorations       map[uint32]map[Decoration][]uint32
	memberDecorations map[uint32]map[uint32]map[Decoration][]uint32
	types             map[uint32]instruction
	constants         map[uint32]uint32
	variables         []variable
	entry             *entryPoint
}

func parse(words []uint32) (*module, error) {
	insts, err := instructions(words)
	if err != nil {
		return nil, err
	}

	m := &module{
		names:             make(map[uint32]string),
		memberNames:       make(map[uint32]map[uint32]string),
		decorations:       make(map[uint32]map[Decoration][]uint32),
		memberDecorations: make(map[uint32]map[uint32]map[Decoration][]uint32),
		types:             make(map[uint32]instruction),
		constants:         make(map[uint32]uint32),
	}

	for _, inst := range insts {
		ops := inst.operands
		if !hasOperands(inst) {
			return nil, fmt.Errorf("SPIR-V instruction %d has too few operands: %w", inst.op, core.ErrArgument)
		}
		switch inst.op {
		case OpName:
			m.names[ops[0]], _ = literalString(ops[1:])
		case OpMemberName:
			members, ok := m.memberNames[ops[0]]
			if !ok {
				members = make(map[uint32]string)
				m.memberNames[ops[0]] = members
			}
			members[ops[1]], _ = literalString(ops[2:])
		case OpEntryPoint:
			// only the first entry point is reflected
			if m.entry == nil {
				name, _ := literalString(ops[2:])
				m.entry = &entryPoint{model: ExecutionModel(ops[0]), name: name}
			}
		case OpDecorate:
			decos, ok := m.decorations[ops[0]]
			if !ok {
				decos = make(map[Decoration][]uint32)
				m.decorations[ops[0]] = decos
			}
			decos[Decoration(ops[1])] = ops[2:]
		case OpMemberDecorate:
			members, ok := m.memberDecorations[ops[0]]
			if !ok {
				members = make(map[uint32]map[Decoration][]uint32)
				m.memberDecorations[ops[0]] = members
			}
			decos, ok := members[ops[1]]
			if !ok {
				decos = make(map[Decoration][]uint32)
				members[ops[1]] = decos
			}
			decos[Decoration(ops[2])] = ops[3:]
		case OpTypeVoid, OpTypeBool, OpTypeInt, OpTypeFloat, OpTypeVector, OpTypeMatrix,
			OpTypeImage, OpTypeSampler, OpTypeSampledImage, OpTypeArray, OpTypeRuntimeArray,
			OpTypeStruct, OpTypePointer, OpTypeFunction:
			m.types[ops[0]] = inst
		case OpConstant:
			m.constants[ops[1]] = ops[2]
		case OpVariable:
			m.variables = append(m.variables, variable{id: ops[1], pointer: ops[0], storage: StorageClass(ops[2])})
		}
	}
	return m, nil
}

// minimum operand counts of the instructions parse reads
var minOperands = map[OpCode]int{
	OpName:             1,
	OpMemberName:       2,
	OpEntryPoint:       2,
	OpDecorate:         2,
	OpMemberDecorate:   3,
	OpTypeInt:          3,
	OpTypeFloat:        2,
	OpTypeVector:       3,
	OpTypeMatrix:       3,
	OpTypeImage:        8,
	OpTypeSampledImage: 2,
	OpTypeArray:        3,
	OpTypeRuntimeArray: 2,
	OpTypeStruct:       1,
	OpTypePointer:      3,
	OpConstant:         3,
	OpVariable:         3,
}

func hasOperands(inst instruction) bool {
	n, ok := minOperands[inst.op]
	return !ok || len(inst.operands) >= n
}

func (m *module) decoration(id uint32, d Decoration) (uint32, bool) {
	values, ok := m.decorations[id][d]
	if !ok {
		return 0, false
	}
	if len(values) == 0 {
		return 0, true
	}
	return values[0], true
}

func (m *module) memberDecoration(id, member uint32, d Decoration) (uint32, bool) {
	values, ok := m.memberDecorations[id][member][d]
	if !ok || len(values) == 0 {
		return 0, ok
	}
	return values[0], true
}

// Reflect parses a SPIR-V binary and describes its resources, stage
// variables and types.
func Reflect(words []uint32) (*metadata.ReflectionResult, error) {
	m, err := parse(words)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	if m.entry == nil {
		err := fmt.Errorf("SPIR-V module declares no entry point: %w", core.ErrArgument)
		core.LogError(err.Error())
		return nil, err
	}
	stage, err := stageOf(m.entry.model)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	result := metadata.NewReflectionResult(stage)
	result.EntryPoint = m.entry.name
	r := &reflector{module: m, result: result}

	for _, v := range m.variables {
		if err := r.variable(v); err != nil {
			err = fmt.Errorf("variable `%s` (%%%d): %w", m.names[v.id], v.id, err)
			core.LogError(err.Error())
			return nil, err
		}
	}
	result.SortStageVariables()
	return result, nil
}

// Reflector adapts Reflect to the shader-module signature used by pipelines.
func Reflector(shader metadata.ShaderModule) (*metadata.ReflectionResult, error) {
	result, err := Reflect(shader.Code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", shader.Name, err)
	}
	if result.Stage != shader.Stage {
		err := fmt.Errorf("%s: module is a %s shader, expected %s: %w", shader.Name, result.Stage, shader.Stage, core.ErrConfiguration)
		core.LogError(err.Error())
		return nil, err
	}
	return result, nil
}

func stageOf(model ExecutionModel) (metadata.ShaderStage, error) {
	switch model {
	case ExecutionModelVertex:
		return metadata.ShaderStageVertex, nil
	case ExecutionModelGeometry:
		return metadata.ShaderStageGeometry, nil
	case ExecutionModelFragment:
		return metadata.ShaderStageFragment, nil
	case ExecutionModelGLCompute:
		return metadata.ShaderStageCompute, nil
	}
	return 0, fmt.Errorf("unsupported execution model %d: %w", model, core.ErrArgument)
}

type reflector struct {
	module *module
	result *metadata.ReflectionResult
}

func (r *reflector) variable(v variable) error {
	m := r.module
	ptr, ok := m.types[v.pointer]
	if !ok || ptr.op != OpTypePointer {
		return fmt.Errorf("variable type %%%d is not a pointer: %w", v.pointer, core.ErrArgument)
	}
	pointee := ptr.operands[2]

	switch v.storage {
	case StorageClassInput, StorageClassOutput:
		if r.isBuiltin(v.id, pointee) {
			return nil
		}
		location, ok := m.decoration(v.id, DecorationLocation)
		if !ok {
			return nil
		}
		if _, err := r.convert(pointee); err != nil {
			return err
		}
		sv := metadata.StageVariable{Name: m.names[v.id], Location: location, TypeID: pointee}
		if v.storage == StorageClassInput {
			r.result.Inputs = append(r.result.Inputs, sv)
		} else {
			r.result.Outputs = append(r.result.Outputs, sv)
		}

	case StorageClassUniformConstant, StorageClassUniform, StorageClassStorageBuffer:
		binding, ok := m.decoration(v.id, DecorationBinding)
		if !ok {
			core.LogDebug("skipping resource %%%d without a binding decoration", v.id)
			return nil
		}
		set, _ := m.decoration(v.id, DecorationDescriptorSet)
		flags, base, ok := r.resourceFlags(pointee, v.storage)
		if !ok {
			core.LogDebug("skipping resource %%%d of unsupported type", v.id)
			return nil
		}
		if flags.Has(metadata.ResourceTypeUniform) {
			block, err := r.convert(base)
			if err != nil {
				return err
			}
			// std140 rounds a block up to the alignment of a vec4
			block.Size = core.AlignUp(block.Size, uniformBlockAlignment)
		}
		if _, err := r.convert(pointee); err != nil {
			return err
		}
		r.result.AddResource(set, binding, metadata.ResourceDescriptor{
			Name:   r.resourceName(v.id, base, flags),
			Flags:  flags,
			TypeID: pointee,
		})

	case StorageClassPushConstant:
		core.LogDebug("push constant block %%%d is not reflected", v.id)
	}
	return nil
}

// isBuiltin reports builtin variables and blocks such as gl_PerVertex.
func (r *reflector) isBuiltin(id, pointee uint32) bool {
	if _, ok := r.module.decoration(id, DecorationBuiltIn); ok {
		return true
	}
	base := r.stripArrays(pointee)
	for _, decos := range r.module.memberDecorations[base] {
		if _, ok := decos[DecorationBuiltIn]; ok {
			return true
		}
	}
	return false
}

func (r *reflector) stripArrays(id uint32) uint32 {
	for {
		t, ok := r.module.types[id]
		if !ok || (t.op != OpTypeArray && t.op != OpTypeRuntimeArray) {
			return id
		}
		id = t.operands[1]
	}
}

func (r *reflector) resourceFlags(pointee uint32, storage StorageClass) (metadata.ResourceTypeFlags, uint32, bool) {
	base := r.stripArrays(pointee)
	t, ok := r.module.types[base]
	if !ok {
		return 0, base, false
	}

	switch storage {
	case StorageClassStorageBuffer:
		return metadata.ResourceTypeBuffer | metadata.ResourceTypeStorage, base, t.op == OpTypeStruct
	case StorageClassUniform:
		if t.op != OpTypeStruct {
			return 0, base, false
		}
		if _, ok := r.module.decoration(base, DecorationBufferBlock); ok {
			return metadata.ResourceTypeBuffer | metadata.ResourceTypeStorage, base, true
		}
		return metadata.ResourceTypeBuffer | metadata.ResourceTypeUniform, base, true
	}

	switch t.op {
	case OpTypeImage:
		// sampled operand 2 marks a storage image
		if t.operands[6] == 2 {
			return metadata.ResourceTypeImage | metadata.ResourceTypeStorage, base, true
		}
		return metadata.ResourceTypeImage, base, true
	case OpTypeSampler:
		return metadata.ResourceTypeSampler, base, true
	case OpTypeSampledImage:
		return metadata.ResourceTypeImage | metadata.ResourceTypeSampler, base, true
	}
	return 0, base, false
}

// resourceName prefers the block name for buffers so that
// `uniform Camera { ... } camera;` is found as "Camera".
func (r *reflector) resourceName(id, base uint32, flags metadata.ResourceTypeFlags) string {
	if flags.Has(metadata.ResourceTypeBuffer) {
		if name := r.module.names[base]; name != "" {
			return name
		}
	}
	return r.module.names[id]
}

// convert translates the type id into the result's type table.
func (r *reflector) convert(id uint32) (*metadata.TypeDescriptor, error) {
	if t, ok := r.result.Types[id]; ok {
		return t, nil
	}
	inst, ok := r.module.types[id]
	if !ok {
		return nil, fmt.Errorf("unknown type %%%d: %w", id, core.ErrArgument)
	}
	ops := inst.operands

	var desc *metadata.TypeDescriptor
	switch inst.op {
	case OpTypeBool:
		desc = &metadata.TypeDescriptor{Class: metadata.TypeClassScalar, Scalar: metadata.ScalarKindBool, Rows: 1, Columns: 1, ElementSize: 4, Size: 4}

	case OpTypeInt:
		kind := metadata.ScalarKindUInt
		if ops[2] != 0 {
			kind = metadata.ScalarKindSInt
		}
		size := ops[1] / 8
		desc = &metadata.TypeDescriptor{Class: metadata.TypeClassScalar, Scalar: kind, Rows: 1, Columns: 1, ElementSize: size, Size: size}

	case OpTypeFloat:
		size := ops[1] / 8
		desc = &metadata.TypeDescriptor{Class: metadata.TypeClassScalar, Scalar: metadata.ScalarKindFloat, Rows: 1, Columns: 1, ElementSize: size, Size: size}

	case OpTypeVector:
		comp, err := r.convert(ops[1])
		if err != nil {
			return nil, err
		}
		desc = &metadata.TypeDescriptor{
			Class:       metadata.TypeClassVector,
			Scalar:      comp.Scalar,
			Rows:        ops[2],
			Columns:     1,
			ElementSize: comp.ElementSize,
			Size:        comp.ElementSize * ops[2],
		}

	case OpTypeMatrix:
		column, err := r.convert(ops[1])
		if err != nil {
			return nil, err
		}
		desc = &metadata.TypeDescriptor{
			Class:       metadata.TypeClassMatrix,
			Scalar:      column.Scalar,
			Rows:        column.Rows,
			Columns:     ops[2],
			ElementSize: column.ElementSize,
			Size:        column.Size * ops[2],
		}

	case OpTypeImage:
		desc = &metadata.TypeDescriptor{Class: metadata.TypeClassImage}
	case OpTypeSampler:
		desc = &metadata.TypeDescriptor{Class: metadata.TypeClassSampler}
	case OpTypeSampledImage:
		desc = &metadata.TypeDescriptor{Class: metadata.TypeClassSampledImage}

	case OpTypeArray, OpTypeRuntimeArray:
		elem, err := r.convert(ops[1])
		if err != nil {
			return nil, err
		}
		length := uint32(0)
		if inst.op == OpTypeArray {
			value, ok := r.module.constants[ops[2]]
			if !ok {
				return nil, fmt.Errorf("array %%%d length is not a constant: %w", id, core.ErrArgument)
			}
			length = value
		}
		stride, ok := r.module.decoration(id, DecorationArrayStride)
		if !ok || stride == 0 {
			stride = elem.Size
		}
		copied := *elem
		copied.ArrayDims = append([]uint32{length}, elem.ArrayDims...)
		copied.Size = length * stride
		desc = &copied

	case OpTypeStruct:
		desc = &metadata.TypeDescriptor{
			Class:  metadata.TypeClassStruct,
			Fields: make(map[string]metadata.Field, len(ops)-1),
		}
		for i, member := range ops[1:] {
			index := uint32(i)
			mt, err := r.convert(member)
			if err != nil {
				return nil, err
			}
			name := r.module.memberNames[id][index]
			if name == "" {
				name = fmt.Sprintf("_m%d", index)
			}
			offset, _ := r.module.memberDecoration(id, index, DecorationOffset)
			desc.Fields[name] = metadata.Field{
				TypeID:      member,
				Offset:      offset,
				ArrayStride: r.innermostStride(member),
			}
			desc.FieldOrder = append(desc.FieldOrder, name)
			if end := offset + r.memberSize(id, index, mt); end > desc.Size {
				desc.Size = end
			}
		}

	case OpTypePointer:
		return r.convert(ops[2])

	default:
		return nil, fmt.Errorf("unsupported type instruction %d for %%%d: %w", inst.op, id, core.ErrArgument)
	}

	r.result.Types[id] = desc
	return desc, nil
}

// memberSize is the size a struct member occupies. Matrix members are laid
// out with their MatrixStride between columns, or between rows when RowMajor.
func (r *reflector) memberSize(id, member uint32, t *metadata.TypeDescriptor) uint32 {
	if t.Class != metadata.TypeClassMatrix || t.IsArray() {
		return t.Size
	}
	stride, ok := r.module.memberDecoration(id, member, DecorationMatrixStride)
	if !ok || stride == 0 {
		return t.Size
	}
	if _, rowMajor := r.module.memberDecoration(id, member, DecorationRowMajor); rowMajor {
		return stride * t.Rows
	}
	return stride * t.Columns
}

// innermostStride is the ArrayStride of the innermost array of id, 0 when
// id is not an array.
func (r *reflector) innermostStride(id uint32) uint32 {
	stride := uint32(0)
	for {
		t, ok := r.module.types[id]
		if !ok || (t.op != OpTypeArray && t.op != OpTypeRuntimeArray) {
			return stride
		}
		stride, _ = r.module.decoration(id, DecorationArrayStride)
		id = t.operands[1]
	}
}
