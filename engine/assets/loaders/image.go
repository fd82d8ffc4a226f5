package loaders

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// ImageLoader decodes png, jpeg, bmp and tiff files into an image.Image,
// ready for TextureResource.Upload.
type ImageLoader struct{}

func (il *ImageLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		err = fmt.Errorf("unable to decode image `%s`: %v: %w", path, err, core.ErrArgument)
		core.LogError(err.Error())
		return nil, err
	}
	core.LogDebug("decoded %s image %s (%dx%d)", format, path, img.Bounds().Dx(), img.Bounds().Dy())

	return &metadata.Resource{
		Name:     resourceName(path, params),
		Type:     assetType,
		FullPath: path,
		DataSize: uint64(len(data)),
		Data:     img,
	}, nil
}

func (il *ImageLoader) Unload(res *metadata.Resource) error {
	res.Data = nil
	return nil
}
