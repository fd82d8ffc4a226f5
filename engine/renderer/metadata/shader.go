package metadata

import (
	"fmt"
	"strings"
)

/** @brief Shader stages available in the system. */
type ShaderStage int

const (
	ShaderStageVertex   ShaderStage = 0x00000001
	ShaderStageGeometry ShaderStage = 0x00000002
	ShaderStageFragment ShaderStage = 0x00000004
	ShaderStageCompute  ShaderStage = 0x00000008
)

/** @brief Every stage in pipeline order. */
var ShaderStages = []ShaderStage{
	ShaderStageVertex,
	ShaderStageGeometry,
	ShaderStageFragment,
	ShaderStageCompute,
}

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "vertex"
	case ShaderStageGeometry:
		return "geometry"
	case ShaderStageFragment:
		return "fragment"
	case ShaderStageCompute:
		return "compute"
	}
	return fmt.Sprintf("ShaderStage(%d)", int(s))
}

func ShaderStageFromString(s string) (ShaderStage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vertex", "vert":
		return ShaderStageVertex, nil
	case "geometry", "geom":
		return ShaderStageGeometry, nil
	case "fragment", "frag":
		return ShaderStageFragment, nil
	case "compute", "comp":
		return ShaderStageCompute, nil
	}
	return 0, fmt.Errorf("string %s is not a valid ShaderStage", s)
}

/** @brief Bitmask of shader stages. */
type ShaderStageFlags uint32

func (f ShaderStageFlags) Has(stage ShaderStage) bool {
	return f&ShaderStageFlags(stage) != 0
}

/**
 * @brief A compiled shader stage: SPIR-V words plus the entry point name.
 */
type ShaderModule struct {
	Stage      ShaderStage
	Name       string
	EntryPoint string
	Code       []uint32
}
