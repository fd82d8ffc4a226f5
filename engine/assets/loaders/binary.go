package loaders

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/spirv"
)

// BinaryLoader reads a compiled SPIR-V stage into words.
type BinaryLoader struct{}

func (bl *BinaryLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	buf, err := readFile(path)
	if err != nil {
		return nil, err
	}

	words, err := spirv.BytesToWords(buf)
	if err != nil {
		err = fmt.Errorf("`%s`: %w", path, err)
		core.LogError(err.Error())
		return nil, err
	}

	return &metadata.Resource{
		Name:     resourceName(path, params),
		Type:     assetType,
		FullPath: path,
		DataSize: uint64(len(buf)),
		Data:     words,
	}, nil
}

func (bl *BinaryLoader) Unload(res *metadata.Resource) error {
	res.Data = nil
	res.DataSize = 0
	return nil
}

func readFile(path string) ([]byte, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("unable to read `%s`: %v: %w", path, err, core.ErrResourceNotFound)
		core.LogError(err.Error())
		return nil, err
	}
	return buf, nil
}

// resourceName prefers the "name" param and falls back to the file name
// without its extension.
func resourceName(path string, params interface{}) string {
	if p, ok := params.(map[string]string); ok && p["name"] != "" {
		return p["name"]
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
