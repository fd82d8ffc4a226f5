package metadata

type ResourceType int

/** @brief Asset types understood by the loaders. */
const (
	ResourceTypeNone ResourceType = iota
	/** @brief Compiled SPIR-V stage. */
	ResourceTypeBinary
	/** @brief WGSL source compiled to SPIR-V on load. */
	ResourceTypeWGSL
	/** @brief A .pipelinecfg TOML file. */
	ResourceTypePipelineConfig
	/** @brief A png, jpeg, bmp or tiff image used as a texture. */
	ResourceTypeTexture
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeBinary:
		return "binary"
	case ResourceTypeWGSL:
		return "wgsl"
	case ResourceTypePipelineConfig:
		return "pipeline-config"
	case ResourceTypeTexture:
		return "texture"
	}
	return "none"
}

/**
 * @brief A generic structure for a resource. All resource loaders
 * load data into these.
 */
type Resource struct {
	/** @brief The name of the resource. */
	Name string
	/** @brief The resource type. */
	Type ResourceType
	/** @brief The full file path of the resource. */
	FullPath string
	/** @brief The size of the resource data in bytes. */
	DataSize uint64
	/**
	 * @brief The resource data: []uint32 for shader stages,
	 * *PipelineConfig for pipeline configs and image.Image for images.
	 */
	Data interface{}
}
