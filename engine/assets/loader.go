package assets

import "github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"

type Loader interface {
	// Load reads path; params is loader specific, typically a map[string]string
	// with an optional "name".
	Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error)
	Unload(*metadata.Resource) error
}
