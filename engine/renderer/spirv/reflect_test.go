package spirv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// assembler emits a SPIR-V module one instruction at a time.
type assembler struct {
	words []uint32
}

func newAssembler() *assembler {
	return &assembler{words: []uint32{Magic, 0x00010300, 0, 200, 0}}
}

func (a *assembler) op(op OpCode, operands ...uint32) *assembler {
	a.words = append(a.words, uint32(len(operands)+1)<<16|uint32(op))
	a.words = append(a.words, operands...)
	return a
}

func (a *assembler) name(id uint32, name string) *assembler {
	return a.op(OpName, append([]uint32{id}, str(name)...)...)
}

func (a *assembler) memberName(id, member uint32, name string) *assembler {
	return a.op(OpMemberName, append([]uint32{id, member}, str(name)...)...)
}

func (a *assembler) decorate(id uint32, d Decoration, literals ...uint32) *assembler {
	return a.op(OpDecorate, append([]uint32{id, uint32(d)}, literals...)...)
}

func (a *assembler) memberDecorate(id, member uint32, d Decoration, literals ...uint32) *assembler {
	return a.op(OpMemberDecorate, append([]uint32{id, member, uint32(d)}, literals...)...)
}

func str(s string) []uint32 {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	words, _ := BytesToWords(b)
	return words
}

// ids used by the fixtures
const (
	idMain uint32 = iota + 1
	idVoid
	idFloat
	idInt
	idUint
	idVec2
	idVec3
	idVec4
	idMat4
	idCamera
	idCameraPtr
	idCameraVar
	idInPos
	idInUV
	idVec3InPtr
	idVec2InPtr
	idPerVertex
	idPerVertexPtr
	idPerVertexVar
	idOutColor
	idVec4OutPtr
	idConst4
	idConst3
	idConst2
	idLight
	idLightArray
	idMat4Inner
	idMat4Outer
	idLights
	idLightsPtr
	idLightsVar
	idImage
	idSampledImage
	idSampledImagePtr
	idTexturesArray
	idTexturesPtr
	idTexturesVar
	idParticles
	idParticlesArray
	idParticlesPtr
	idParticlesVar
	idStorageImage
	idStorageImagePtr
	idStorageImageVar
)

func vertexModule() []uint32 {
	a := newAssembler()
	a.op(OpEntryPoint, append(append([]uint32{uint32(ExecutionModelVertex), idMain}, str("main")...), idInPos, idInUV, idPerVertexVar)...)
	a.name(idCamera, "Camera").memberName(idCamera, 0, "view_projection").name(idCameraVar, "camera")
	a.name(idInPos, "in_position").name(idInUV, "in_uv")
	a.name(idPerVertex, "gl_PerVertex").memberName(idPerVertex, 0, "gl_Position")

	a.decorate(idCamera, DecorationBlock)
	a.memberDecorate(idCamera, 0, DecorationOffset, 0)
	a.memberDecorate(idCamera, 0, DecorationMatrixStride, 16)
	a.decorate(idCameraVar, DecorationDescriptorSet, 0)
	a.decorate(idCameraVar, DecorationBinding, 0)
	a.decorate(idInUV, DecorationLocation, 1)
	a.decorate(idInPos, DecorationLocation, 0)
	a.decorate(idPerVertex, DecorationBlock)
	a.memberDecorate(idPerVertex, 0, DecorationBuiltIn, 0)

	a.op(OpTypeVoid, idVoid)
	a.op(OpTypeFloat, idFloat, 32)
	a.op(OpTypeVector, idVec2, idFloat, 2)
	a.op(OpTypeVector, idVec3, idFloat, 3)
	a.op(OpTypeVector, idVec4, idFloat, 4)
	a.op(OpTypeMatrix, idMat4, idVec4, 4)
	a.op(OpTypeStruct, idCamera, idMat4)
	a.op(OpTypePointer, idCameraPtr, uint32(StorageClassUniform), idCamera)
	a.op(OpVariable, idCameraPtr, idCameraVar, uint32(StorageClassUniform))
	a.op(OpTypePointer, idVec3InPtr, uint32(StorageClassInput), idVec3)
	a.op(OpTypePointer, idVec2InPtr, uint32(StorageClassInput), idVec2)
	a.op(OpVariable, idVec2InPtr, idInUV, uint32(StorageClassInput))
	a.op(OpVariable, idVec3InPtr, idInPos, uint32(StorageClassInput))
	a.op(OpTypeStruct, idPerVertex, idVec4)
	a.op(OpTypePointer, idPerVertexPtr, uint32(StorageClassOutput), idPerVertex)
	a.op(OpVariable, idPerVertexPtr, idPerVertexVar, uint32(StorageClassOutput))
	return a.words
}

func fragmentModule() []uint32 {
	a := newAssembler()
	a.op(OpEntryPoint, append(append([]uint32{uint32(ExecutionModelFragment), idMain}, str("main")...), idOutColor)...)
	a.name(idOutColor, "out_color")
	a.name(idLight, "Light").memberName(idLight, 0, "color").memberName(idLight, 1, "position")
	a.name(idLights, "Lights").memberName(idLights, 0, "ambient").memberName(idLights, 1, "lights").memberName(idLights, 2, "bones")
	a.name(idLightsVar, "lights")
	a.name(idTexturesVar, "textures")
	a.name(idParticles, "Particles").memberName(idParticles, 0, "data").name(idParticlesVar, "particles")

	a.decorate(idOutColor, DecorationLocation, 0)
	a.memberDecorate(idLight, 0, DecorationOffset, 0)
	a.memberDecorate(idLight, 1, DecorationOffset, 16)
	a.decorate(idLightArray, DecorationArrayStride, 32)
	a.decorate(idMat4Inner, DecorationArrayStride, 64)
	a.decorate(idMat4Outer, DecorationArrayStride, 192)
	a.decorate(idLights, DecorationBlock)
	a.memberDecorate(idLights, 0, DecorationOffset, 0)
	a.memberDecorate(idLights, 1, DecorationOffset, 16)
	a.memberDecorate(idLights, 2, DecorationOffset, 144)
	a.decorate(idLightsVar, DecorationDescriptorSet, 2)
	a.decorate(idLightsVar, DecorationBinding, 0)
	a.decorate(idTexturesVar, DecorationDescriptorSet, 2)
	a.decorate(idTexturesVar, DecorationBinding, 1)
	a.decorate(idParticlesArray, DecorationArrayStride, 4)
	a.decorate(idParticles, DecorationBlock)
	a.memberDecorate(idParticles, 0, DecorationOffset, 0)
	a.decorate(idParticlesVar, DecorationDescriptorSet, 1)
	a.decorate(idParticlesVar, DecorationBinding, 0)
	a.decorate(idStorageImageVar, DecorationDescriptorSet, 3)
	a.decorate(idStorageImageVar, DecorationBinding, 0)

	a.op(OpTypeFloat, idFloat, 32)
	a.op(OpTypeInt, idUint, 32, 0)
	a.op(OpTypeVector, idVec4, idFloat, 4)
	a.op(OpTypeMatrix, idMat4, idVec4, 4)
	a.op(OpConstant, idUint, idConst4, 4)
	a.op(OpConstant, idUint, idConst3, 3)
	a.op(OpConstant, idUint, idConst2, 2)
	a.op(OpTypeStruct, idLight, idVec4, idVec4)
	a.op(OpTypeArray, idLightArray, idLight, idConst4)
	a.op(OpTypeArray, idMat4Inner, idMat4, idConst3)
	a.op(OpTypeArray, idMat4Outer, idMat4Inner, idConst2)
	a.op(OpTypeStruct, idLights, idFloat, idLightArray, idMat4Outer)
	a.op(OpTypePointer, idLightsPtr, uint32(StorageClassUniform), idLights)
	a.op(OpVariable, idLightsPtr, idLightsVar, uint32(StorageClassUniform))

	// sampler2D textures[4]
	a.op(OpTypeImage, idImage, idFloat, 1, 0, 0, 0, 1, 0)
	a.op(OpTypeSampledImage, idSampledImage, idImage)
	a.op(OpTypeArray, idTexturesArray, idSampledImage, idConst4)
	a.op(OpTypePointer, idTexturesPtr, uint32(StorageClassUniformConstant), idTexturesArray)
	a.op(OpVariable, idTexturesPtr, idTexturesVar, uint32(StorageClassUniformConstant))

	// buffer Particles { uint data[]; }
	a.op(OpTypeRuntimeArray, idParticlesArray, idUint)
	a.op(OpTypeStruct, idParticles, idParticlesArray)
	a.op(OpTypePointer, idParticlesPtr, uint32(StorageClassStorageBuffer), idParticles)
	a.op(OpVariable, idParticlesPtr, idParticlesVar, uint32(StorageClassStorageBuffer))

	// image2D with sampled=2
	a.op(OpTypeImage, idStorageImage, idFloat, 1, 0, 0, 0, 2, 1)
	a.op(OpTypePointer, idStorageImagePtr, uint32(StorageClassUniformConstant), idStorageImage)
	a.op(OpVariable, idStorageImagePtr, idStorageImageVar, uint32(StorageClassUniformConstant))

	a.op(OpTypePointer, idVec4OutPtr, uint32(StorageClassOutput), idVec4)
	a.op(OpVariable, idVec4OutPtr, idOutColor, uint32(StorageClassOutput))
	return a.words
}

func TestReflectVertexStage(t *testing.T) {
	result, err := Reflect(vertexModule())
	require.NoError(t, err)

	assert.Equal(t, metadata.ShaderStageVertex, result.Stage)
	assert.Equal(t, "main", result.EntryPoint)

	camera := result.Resources[0][0]
	assert.Equal(t, "Camera", camera.Name)
	assert.Equal(t, metadata.ResourceTypeBuffer|metadata.ResourceTypeUniform, camera.Flags)

	cameraType, ok := result.Type(camera.TypeID)
	require.True(t, ok)
	assert.Equal(t, metadata.TypeClassStruct, cameraType.Class)
	assert.Equal(t, uint32(64), cameraType.Size)
	assert.Equal(t, []string{"view_projection"}, cameraType.FieldOrder)

	mat, ok := result.Type(cameraType.Fields["view_projection"].TypeID)
	require.True(t, ok)
	assert.Equal(t, metadata.TypeClassMatrix, mat.Class)
	assert.Equal(t, uint32(4), mat.Rows)
	assert.Equal(t, uint32(4), mat.Columns)

	// gl_PerVertex is a builtin block and is not a stage output
	assert.Empty(t, result.Outputs)
	require.Len(t, result.Inputs, 2)
	assert.Equal(t, "in_position", result.Inputs[0].Name)
	assert.Equal(t, uint32(0), result.Inputs[0].Location)
	assert.Equal(t, "in_uv", result.Inputs[1].Name)

	pos, ok := result.Type(result.Inputs[0].TypeID)
	require.True(t, ok)
	assert.Equal(t, metadata.TypeClassVector, pos.Class)
	assert.Equal(t, metadata.ScalarKindFloat, pos.Scalar)
	assert.Equal(t, uint32(3), pos.Rows)
	assert.Equal(t, uint32(4), pos.ElementSize)
}

func TestReflectFragmentResources(t *testing.T) {
	result, err := Reflect(fragmentModule())
	require.NoError(t, err)
	assert.Equal(t, metadata.ShaderStageFragment, result.Stage)
	assert.Equal(t, []uint32{1, 2, 3}, result.Sets())

	lights := result.Resources[2][0]
	assert.Equal(t, "Lights", lights.Name)
	lightsType, ok := result.Type(lights.TypeID)
	require.True(t, ok)
	assert.Equal(t, uint32(16+128+384), lightsType.Size)

	lightsField := lightsType.Fields["lights"]
	assert.Equal(t, uint32(16), lightsField.Offset)
	assert.Equal(t, uint32(32), lightsField.ArrayStride)
	arr, ok := result.Type(lightsField.TypeID)
	require.True(t, ok)
	assert.Equal(t, []uint32{4}, arr.ArrayDims)
	assert.Equal(t, metadata.TypeClassStruct, arr.Class)
	assert.Contains(t, arr.Fields, "position")

	bones := lightsType.Fields["bones"]
	assert.Equal(t, uint32(144), bones.Offset)
	assert.Equal(t, uint32(64), bones.ArrayStride)
	bonesType, ok := result.Type(bones.TypeID)
	require.True(t, ok)
	assert.Equal(t, []uint32{2, 3}, bonesType.ArrayDims)
	assert.Equal(t, uint32(384), bonesType.Size)

	textures := result.Resources[2][1]
	assert.Equal(t, "textures", textures.Name)
	assert.Equal(t, metadata.ResourceTypeImage|metadata.ResourceTypeSampler, textures.Flags)
	texType, ok := result.Type(textures.TypeID)
	require.True(t, ok)
	assert.Equal(t, uint32(4), texType.ElementCount())

	particles := result.Resources[1][0]
	assert.Equal(t, "Particles", particles.Name)
	assert.Equal(t, metadata.ResourceTypeBuffer|metadata.ResourceTypeStorage, particles.Flags)
	particlesType, ok := result.Type(particles.TypeID)
	require.True(t, ok)
	data, ok := result.Type(particlesType.Fields["data"].TypeID)
	require.True(t, ok)
	assert.Equal(t, []uint32{0}, data.ArrayDims)

	storageImage := result.Resources[3][0]
	assert.Equal(t, metadata.ResourceTypeImage|metadata.ResourceTypeStorage, storageImage.Flags)

	require.Len(t, result.Outputs, 1)
	assert.Equal(t, "out_color", result.Outputs[0].Name)
}

// ids of the matrix layout fixture
const (
	idTransform uint32 = iota + 100
	idTransformPtr
	idTransformVar
	idRowMajor
	idRowMajorPtr
	idRowMajorVar
	idPacked
	idPackedPtr
	idPackedVar
	idTail
	idTailPtr
	idTailVar
	idMat2
	idMat2x3
	idMat3
)

// matrixModule declares
//
//	uniform Transform { float scale; mat2 basis; };
//	uniform RowMajor { float scale; layout(row_major) mat2x3 basis; };
//	buffer Packed { float scale; mat3 basis; };
//	buffer Tail { vec3 value; };
//
// where every matrix has a 16 byte MatrixStride.
func matrixModule() []uint32 {
	a := newAssembler()
	a.op(OpEntryPoint, append([]uint32{uint32(ExecutionModelFragment), idMain}, str("main")...)...)
	a.name(idTransform, "Transform").memberName(idTransform, 0, "scale").memberName(idTransform, 1, "basis")
	a.name(idRowMajor, "RowMajor").memberName(idRowMajor, 0, "scale").memberName(idRowMajor, 1, "basis")
	a.name(idPacked, "Packed").memberName(idPacked, 0, "scale").memberName(idPacked, 1, "basis")
	a.name(idTail, "Tail").memberName(idTail, 0, "value")

	binding := uint32(0)
	for _, block := range []uint32{idTransform, idRowMajor, idPacked} {
		a.decorate(block, DecorationBlock)
		a.memberDecorate(block, 0, DecorationOffset, 0)
		a.memberDecorate(block, 1, DecorationOffset, 16)
		a.memberDecorate(block, 1, DecorationMatrixStride, 16)
		a.decorate(block+2, DecorationDescriptorSet, 0)
		a.decorate(block+2, DecorationBinding, binding)
		binding++
	}
	a.memberDecorate(idRowMajor, 1, DecorationRowMajor)
	a.decorate(idTail, DecorationBlock)
	a.memberDecorate(idTail, 0, DecorationOffset, 0)
	a.decorate(idTailVar, DecorationDescriptorSet, 0)
	a.decorate(idTailVar, DecorationBinding, binding)

	a.op(OpTypeFloat, idFloat, 32)
	a.op(OpTypeVector, idVec2, idFloat, 2)
	a.op(OpTypeVector, idVec3, idFloat, 3)
	a.op(OpTypeMatrix, idMat2, idVec2, 2)
	a.op(OpTypeMatrix, idMat2x3, idVec3, 2)
	a.op(OpTypeMatrix, idMat3, idVec3, 3)
	a.op(OpTypeStruct, idTransform, idFloat, idMat2)
	a.op(OpTypePointer, idTransformPtr, uint32(StorageClassUniform), idTransform)
	a.op(OpVariable, idTransformPtr, idTransformVar, uint32(StorageClassUniform))
	a.op(OpTypeStruct, idRowMajor, idFloat, idMat2x3)
	a.op(OpTypePointer, idRowMajorPtr, uint32(StorageClassUniform), idRowMajor)
	a.op(OpVariable, idRowMajorPtr, idRowMajorVar, uint32(StorageClassUniform))
	a.op(OpTypeStruct, idPacked, idFloat, idMat3)
	a.op(OpTypePointer, idPackedPtr, uint32(StorageClassStorageBuffer), idPacked)
	a.op(OpVariable, idPackedPtr, idPackedVar, uint32(StorageClassStorageBuffer))
	a.op(OpTypeStruct, idTail, idVec3)
	a.op(OpTypePointer, idTailPtr, uint32(StorageClassStorageBuffer), idTail)
	a.op(OpVariable, idTailPtr, idTailVar, uint32(StorageClassStorageBuffer))
	return a.words
}

func TestReflectMatrixStride(t *testing.T) {
	result, err := Reflect(matrixModule())
	require.NoError(t, err)

	sizeOf := func(binding uint32) uint32 {
		t.Helper()
		desc, ok := result.Type(result.Resources[0][binding].TypeID)
		require.True(t, ok)
		return desc.Size
	}

	// two columns of 16 bytes after the float
	assert.Equal(t, uint32(48), sizeOf(0))
	// three rows of 16 bytes
	assert.Equal(t, uint32(64), sizeOf(1))
	// three columns of 16 bytes, no vec3 packing
	assert.Equal(t, uint32(64), sizeOf(2))
	// storage blocks keep their natural size
	assert.Equal(t, metadata.ResourceTypeBuffer|metadata.ResourceTypeStorage, result.Resources[0][3].Flags)
	assert.Equal(t, uint32(12), sizeOf(3))

	transform, ok := result.Type(result.Resources[0][0].TypeID)
	require.True(t, ok)
	assert.Equal(t, uint32(16), transform.Fields["basis"].Offset)
}

func TestReflectRoundsUniformBlocks(t *testing.T) {
	a := newAssembler()
	a.op(OpEntryPoint, append([]uint32{uint32(ExecutionModelFragment), idMain}, str("main")...)...)
	a.name(idTail, "Tail")
	a.decorate(idTail, DecorationBlock)
	a.memberDecorate(idTail, 0, DecorationOffset, 0)
	a.decorate(idTailVar, DecorationDescriptorSet, 0)
	a.decorate(idTailVar, DecorationBinding, 0)
	a.op(OpTypeFloat, idFloat, 32)
	a.op(OpTypeVector, idVec3, idFloat, 3)
	a.op(OpTypeStruct, idTail, idVec3)
	a.op(OpTypePointer, idTailPtr, uint32(StorageClassUniform), idTail)
	a.op(OpVariable, idTailPtr, idTailVar, uint32(StorageClassUniform))

	result, err := Reflect(a.words)
	require.NoError(t, err)
	tail, ok := result.Type(result.Resources[0][0].TypeID)
	require.True(t, ok)
	assert.Equal(t, uint32(16), tail.Size)
}

func TestReflectRejectsMalformedModules(t *testing.T) {
	_, err := Reflect([]uint32{Magic, 0, 0})
	assert.ErrorIs(t, err, core.ErrArgument)

	_, err = Reflect([]uint32{0xDEADBEEF, 0, 0, 0, 0})
	assert.ErrorIs(t, err, core.ErrArgument)

	truncated := append(newAssembler().words, 4<<16|uint32(OpTypeVector), 1)
	_, err = Reflect(truncated)
	assert.ErrorIs(t, err, core.ErrArgument)

	// no entry point
	_, err = Reflect(newAssembler().op(OpTypeFloat, 1, 32).words)
	assert.ErrorIs(t, err, core.ErrArgument)
}

func TestReflectorChecksStage(t *testing.T) {
	_, err := Reflector(metadata.ShaderModule{Name: "world.vert", Stage: metadata.ShaderStageFragment, Code: vertexModule()})
	assert.ErrorIs(t, err, core.ErrConfiguration)

	result, err := Reflector(metadata.ShaderModule{Name: "world.vert", Stage: metadata.ShaderStageVertex, Code: vertexModule()})
	require.NoError(t, err)
	assert.Equal(t, metadata.ShaderStageVertex, result.Stage)
}

func TestLiteralString(t *testing.T) {
	s, n := literalString(str("main"))
	assert.Equal(t, "main", s)
	assert.Equal(t, 2, n)

	s, n = literalString(str("abc"))
	assert.Equal(t, "abc", s)
	assert.Equal(t, 1, n)
}

func TestBytesToWords(t *testing.T) {
	words, err := BytesToWords([]byte{0x03, 0x02, 0x23, 0x07})
	require.NoError(t, err)
	assert.Equal(t, []uint32{Magic}, words)

	_, err = BytesToWords([]byte{1, 2, 3})
	assert.ErrorIs(t, err, core.ErrArgument)
}
