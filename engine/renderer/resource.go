package renderer

import (
	"fmt"
	"image"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// BindTarget identifies one slot of a pipeline's binding table together with
// the per-frame descriptor sets that back it.
type BindTarget struct {
	// Sets holds one descriptor set per frame in flight for Set.
	Sets     []DescriptorSet
	Set      uint32
	Binding  uint32
	Index    uint32
	Type     DescriptorType
	Pipeline *Pipeline
}

// Resource is anything that can occupy a binding slot. Bind and Unbind are
// notifications; the pipeline never takes ownership of the resource.
type Resource interface {
	ID() uuid.UUID
	Bind(target BindTarget) error
	Unbind(target BindTarget) error
}

// BufferResource is a host-visible uniform or storage buffer.
type BufferResource struct {
	id     uuid.UUID
	buffer Buffer
	usage  BufferUsage
}

func NewBufferResource(device Device, size uint64, usage BufferUsage) (*BufferResource, error) {
	if usage&(BufferUsageUniform|BufferUsageStorage) == 0 {
		err := fmt.Errorf("buffer resource must be a uniform or storage buffer: %w", core.ErrArgument)
		core.LogError(err.Error())
		return nil, err
	}
	if size == 0 {
		err := fmt.Errorf("buffer resource size must be greater than zero: %w", core.ErrArgument)
		core.LogError(err.Error())
		return nil, err
	}
	usage |= BufferUsageHostVisible
	buffer, err := device.CreateBuffer(size, usage)
	if err != nil {
		err = fmt.Errorf("failed to create buffer resource: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	return &BufferResource{
		id:     uuid.New(),
		buffer: buffer,
		usage:  usage,
	}, nil
}

func (b *BufferResource) ID() uuid.UUID {
	return b.id
}

func (b *BufferResource) Size() uint64 {
	return b.buffer.Size()
}

func (b *BufferResource) Buffer() Buffer {
	return b.buffer
}

// Write copies data into the buffer at offset.
func (b *BufferResource) Write(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > b.buffer.Size() {
		err := fmt.Errorf("write of %d bytes at offset %d exceeds buffer size %d: %w", len(data), offset, b.buffer.Size(), core.ErrRange)
		core.LogError(err.Error())
		return err
	}
	return b.buffer.Write(offset, data)
}

func (b *BufferResource) Bind(target BindTarget) error {
	switch target.Type {
	case DescriptorTypeUniformBuffer:
		if b.usage&BufferUsageUniform == 0 {
			return b.mismatch(target)
		}
	case DescriptorTypeStorageBuffer:
		if b.usage&BufferUsageStorage == 0 {
			return b.mismatch(target)
		}
	default:
		return b.mismatch(target)
	}
	for _, set := range target.Sets {
		set.WriteBuffer(target.Binding, target.Index, target.Type, b.buffer, 0, b.buffer.Size())
	}
	return nil
}

func (b *BufferResource) Unbind(target BindTarget) error {
	return nil
}

func (b *BufferResource) Destroy() {
	if b.buffer != nil {
		b.buffer.Destroy()
		b.buffer = nil
	}
}

func (b *BufferResource) mismatch(target BindTarget) error {
	err := fmt.Errorf("buffer %s cannot be bound as %s (set %d, binding %d): %w",
		b.id, target.Type, target.Set, target.Binding, core.ErrArgument)
	core.LogError(err.Error())
	return err
}

// TextureResource is an RGBA8 sampled image paired with a sampler.
type TextureResource struct {
	id      uuid.UUID
	device  Device
	image   Image
	sampler Sampler
}

func NewTexture(device Device, width, height uint32) (*TextureResource, error) {
	if width == 0 || height == 0 {
		err := fmt.Errorf("texture dimensions must be non zero, got %dx%d: %w", width, height, core.ErrArgument)
		core.LogError(err.Error())
		return nil, err
	}
	img, err := device.CreateImage(ImageDesc{Width: width, Height: height})
	if err != nil {
		err = fmt.Errorf("failed to create texture image: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	sampler, err := device.CreateSampler(true)
	if err != nil {
		img.Destroy()
		err = fmt.Errorf("failed to create texture sampler: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	return &TextureResource{
		id:      uuid.New(),
		device:  device,
		image:   img,
		sampler: sampler,
	}, nil
}

func (t *TextureResource) ID() uuid.UUID {
	return t.id
}

func (t *TextureResource) Image() Image {
	return t.image
}

// Upload records a copy of img into the texture. The pixels are converted to
// RGBA8 and scaled to the texture size when needed. The staging buffer is
// handed to cmd and released once the list has executed.
func (t *TextureResource) Upload(cmd *CommandList, img image.Image) error {
	if err := cmd.requireRecording("upload a texture"); err != nil {
		return err
	}

	width, height := int(t.image.Width()), int(t.image.Height())
	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	src := img.Bounds()
	if src.Dx() == width && src.Dy() == height {
		draw.Draw(rgba, rgba.Bounds(), img, src.Min, draw.Src)
	} else {
		core.LogDebug("scaling texture source from %dx%d to %dx%d", src.Dx(), src.Dy(), width, height)
		draw.CatmullRom.Scale(rgba, rgba.Bounds(), img, src, draw.Src, nil)
	}

	staging, err := t.device.CreateBuffer(uint64(len(rgba.Pix)), BufferUsageTransferSrc|BufferUsageHostVisible)
	if err != nil {
		err = fmt.Errorf("failed to create texture staging buffer: %w", err)
		core.LogError(err.Error())
		return err
	}
	if err := staging.Write(0, rgba.Pix); err != nil {
		staging.Destroy()
		return err
	}
	cmd.buffer.CopyBufferToImage(staging, t.image)
	return cmd.PushStagingResource(staging)
}

func (t *TextureResource) Bind(target BindTarget) error {
	switch target.Type {
	case DescriptorTypeCombinedImageSampler, DescriptorTypeSampledImage, DescriptorTypeSampler:
	default:
		err := fmt.Errorf("texture %s cannot be bound as %s (set %d, binding %d): %w",
			t.id, target.Type, target.Set, target.Binding, core.ErrArgument)
		core.LogError(err.Error())
		return err
	}
	for _, set := range target.Sets {
		set.WriteImage(target.Binding, target.Index, target.Type, t.image, t.sampler)
	}
	return nil
}

func (t *TextureResource) Unbind(target BindTarget) error {
	return nil
}

func (t *TextureResource) Destroy() {
	if t.sampler != nil {
		t.sampler.Destroy()
		t.sampler = nil
	}
	if t.image != nil {
		t.image.Destroy()
		t.image = nil
	}
}
