package loaders

import (
	"fmt"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// PipelineConfigLoader decodes a .pipelinecfg TOML file. Relative stage paths
// are resolved against the directory of the config file.
type PipelineConfigLoader struct{}

func (pl *PipelineConfigLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := ParsePipelineConfig(data)
	if err != nil {
		err = fmt.Errorf("`%s`: %w", path, err)
		core.LogError(err.Error())
		return nil, err
	}

	dir := filepath.Dir(path)
	for stage, file := range cfg.Stages {
		if !filepath.IsAbs(file) {
			cfg.Stages[stage] = filepath.Join(dir, file)
		}
	}

	name := cfg.Name
	if p, ok := params.(map[string]string); ok && p["name"] != "" {
		name = p["name"]
	}
	return &metadata.Resource{
		Name:     name,
		Type:     assetType,
		FullPath: path,
		DataSize: uint64(len(data)),
		Data:     cfg,
	}, nil
}

func (pl *PipelineConfigLoader) Unload(res *metadata.Resource) error {
	res.Data = nil
	return nil
}

// ParsePipelineConfig decodes and validates pipeline config TOML.
func ParsePipelineConfig(data []byte) (*metadata.PipelineConfig, error) {
	cfg := &metadata.PipelineConfig{
		Kind:      metadata.PipelineKindGraphics,
		FrontFace: metadata.FrontFaceCounterClockwise,
		BlendMode: metadata.BlendModeDisabled,
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unable to decode pipeline config: %v: %w", err, core.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, core.ErrConfiguration)
	}
	return cfg, nil
}
