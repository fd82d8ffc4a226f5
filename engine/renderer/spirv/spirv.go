// Package spirv extracts reflection metadata from SPIR-V binaries and
// compiles WGSL sources into SPIR-V.
package spirv

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// Magic is the first word of every SPIR-V module.
const Magic uint32 = 0x07230203

const headerWords = 5

type OpCode uint16

const (
	OpName             OpCode = 5
	OpMemberName       OpCode = 6
	OpEntryPoint       OpCode = 15
	OpTypeVoid         OpCode = 19
	OpTypeBool         OpCode = 20
	OpTypeInt          OpCode = 21
	OpTypeFloat        OpCode = 22
	OpTypeVector       OpCode = 23
	OpTypeMatrix       OpCode = 24
	OpTypeImage        OpCode = 25
	OpTypeSampler      OpCode = 26
	OpTypeSampledImage OpCode = 27
	OpTypeArray        OpCode = 28
	OpTypeRuntimeArray OpCode = 29
	OpTypeStruct       OpCode = 30
	OpTypePointer      OpCode = 32
	OpTypeFunction     OpCode = 33
	OpConstant         OpCode = 43
	OpFunction         OpCode = 54
	OpVariable         OpCode = 59
	OpDecorate         OpCode = 71
	OpMemberDecorate   OpCode = 72
)

type Decoration uint32

const (
	DecorationBlock         Decoration = 2
	DecorationBufferBlock   Decoration = 3
	DecorationRowMajor      Decoration = 4
	DecorationArrayStride   Decoration = 6
	DecorationMatrixStride  Decoration = 7
	DecorationBuiltIn       Decoration = 11
	DecorationLocation      Decoration = 30
	DecorationBinding       Decoration = 33
	DecorationDescriptorSet Decoration = 34
	DecorationOffset        Decoration = 35
)

type StorageClass uint32

const (
	StorageClassUniformConstant StorageClass = 0
	StorageClassInput           StorageClass = 1
	StorageClassUniform         StorageClass = 2
	StorageClassOutput          StorageClass = 3
	StorageClassPushConstant    StorageClass = 9
	StorageClassStorageBuffer   StorageClass = 12
)

type ExecutionModel uint32

const (
	ExecutionModelVertex    ExecutionModel = 0
	ExecutionModelGeometry  ExecutionModel = 3
	ExecutionModelFragment  ExecutionModel = 4
	ExecutionModelGLCompute ExecutionModel = 5
)

// instruction is a decoded opcode with its operand words.
type instruction struct {
	op       OpCode
	operands []uint32
}

// instructions walks the module after validating the header.
func instructions(words []uint32) ([]instruction, error) {
	if len(words) < headerWords {
		return nil, fmt.Errorf("SPIR-V module has %d words, need at least %d: %w", len(words), headerWords, core.ErrArgument)
	}
	if words[0] != Magic {
		return nil, fmt.Errorf("invalid SPIR-V magic: 0x%08X, want 0x%08X: %w", words[0], Magic, core.ErrArgument)
	}

	var out []instruction
	for i := headerWords; i < len(words); {
		count := int(words[i] >> 16)
		op := OpCode(words[i] & 0xFFFF)
		if count == 0 || i+count > len(words) {
			return nil, fmt.Errorf("truncated SPIR-V instruction %d at word %d: %w", op, i, core.ErrArgument)
		}
		out = append(out, instruction{op: op, operands: words[i+1 : i+count]})
		i += count
	}
	return out, nil
}

// literalString decodes a nul-terminated UTF-8 string packed little endian
// into words and returns it with the number of words consumed.
func literalString(words []uint32) (string, int) {
	buf := make([]byte, 0, len(words)*4)
	for i, w := range words {
		for b := 0; b < 4; b++ {
			c := byte(w >> (8 * b))
			if c == 0 {
				return string(buf), i + 1
			}
			buf = append(buf, c)
		}
	}
	return string(buf), len(words)
}

// BytesToWords converts little endian SPIR-V bytes into words.
func BytesToWords(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V byte length %d is not a multiple of 4: %w", len(data), core.ErrArgument)
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
	}
	return words, nil
}
