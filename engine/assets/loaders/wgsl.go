package loaders

import (
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/spirv"
)

// WGSLLoader compiles WGSL source to SPIR-V words on load.
type WGSLLoader struct{}

func (wl *WGSLLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	src, err := readFile(path)
	if err != nil {
		return nil, err
	}
	words, err := spirv.CompileWGSL(string(src))
	if err != nil {
		return nil, err
	}
	return &metadata.Resource{
		Name:     resourceName(path, params),
		Type:     assetType,
		FullPath: path,
		DataSize: uint64(len(words) * 4),
		Data:     words,
	}, nil
}

func (wl *WGSLLoader) Unload(res *metadata.Resource) error {
	res.Data = nil
	res.DataSize = 0
	return nil
}
