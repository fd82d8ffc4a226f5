package metadata

import (
	"fmt"
	"sort"
)

/** @brief Whether a pipeline rasterizes or dispatches. */
type PipelineKind string

const (
	PipelineKindGraphics PipelineKind = "graphics"
	PipelineKindCompute  PipelineKind = "compute"
)

/** @brief Winding order that marks a triangle as front facing. */
type FrontFace string

const (
	FrontFaceCounterClockwise FrontFace = "counter_clockwise"
	FrontFaceClockwise        FrontFace = "clockwise"
)

/** @brief Colour blend presets. */
type BlendMode string

const (
	/** @brief No blending; source overwrites destination. */
	BlendModeDisabled BlendMode = "disabled"
	/** @brief Straight alpha: src*a + dst*(1-a). */
	BlendModeAlpha BlendMode = "alpha"
	/** @brief Additive with factors one/zero. */
	BlendModeAdditive BlendMode = "additive"
	/** @brief Multiply: zero/src-color. */
	BlendModeMultiply BlendMode = "multiply"
)

/**
 * @brief Configuration for a pipeline. Typically read from a .pipelinecfg
 * TOML file by the asset loaders.
 */
type PipelineConfig struct {
	/** @brief The unique name of the pipeline. */
	Name string `toml:"name"`
	/** @brief graphics or compute. */
	Kind PipelineKind `toml:"kind"`
	/** @brief Stage name (vertex, fragment, ...) to SPIR-V file path. */
	Stages map[string]string `toml:"stages"`
	/** @brief Default is counter clockwise. */
	FrontFace FrontFace `toml:"front_face"`
	/** @brief Back faces are culled unless this is set. */
	DisableCulling bool      `toml:"disable_culling"`
	DepthTest      bool      `toml:"depth_test"`
	DepthWrite     bool      `toml:"depth_write"`
	BlendMode      BlendMode `toml:"blend_mode"`
	/** @brief Overrides the renderer's frames in flight when non-zero. */
	FramesInFlight uint32 `toml:"frames_in_flight"`
}

// StageFiles resolves the configured stage names, sorted in pipeline order.
func (c *PipelineConfig) StageFiles() (map[ShaderStage]string, []ShaderStage, error) {
	files := make(map[ShaderStage]string, len(c.Stages))
	for name, path := range c.Stages {
		stage, err := ShaderStageFromString(name)
		if err != nil {
			return nil, nil, err
		}
		files[stage] = path
	}
	order := make([]ShaderStage, 0, len(files))
	for s := range files {
		order = append(order, s)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	return files, order, nil
}

func (c *PipelineConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("pipeline config is missing a name")
	}
	switch c.Kind {
	case PipelineKindGraphics, PipelineKindCompute:
	default:
		return fmt.Errorf("pipeline `%s` has unknown kind `%s`", c.Name, c.Kind)
	}
	if len(c.Stages) == 0 {
		return fmt.Errorf("pipeline `%s` declares no stages", c.Name)
	}
	return nil
}
