package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/modelviewer/gpu"
	"github.com/vkngwrapper/modelviewer/model"
	"golang.org/x/exp/slog"
)

// fallbackKey is the cache key of the 1x1 white texture used for meshes without a
// diffuse texture and for textures that failed to load.
const fallbackKey = ""

var fallbackPixels = &model.Texture{Width: 1, Height: 1, Pixels: []byte{255, 255, 255, 255}}

type textureEntry struct {
	image *gpu.Image
	view  *gpu.ImageView
	set   core1_0.DescriptorSet
}

func (e *textureEntry) destroy() {
	e.view.Destroy()
	e.image.Destroy()
}

// textureCache maps texture paths to uploaded textures. Entries are never evicted.
// Paths that failed to load map to the fallback entry itself.
type textureCache struct {
	entries map[string]*textureEntry
}

func newTextureCache() textureCache {
	return textureCache{entries: make(map[string]*textureEntry)}
}

func (c *textureCache) fallback() *textureEntry {
	return c.entries[fallbackKey]
}

func (c *textureCache) lookup(path string) (*textureEntry, bool) {
	entry, ok := c.entries[path]
	return entry, ok
}

// len counts cached paths, excluding the fallback key.
func (c *textureCache) len() int {
	if _, ok := c.entries[fallbackKey]; ok {
		return len(c.entries) - 1
	}
	return len(c.entries)
}

// destroy releases every distinct entry once.
func (c *textureCache) destroy() {
	fallback := c.fallback()
	for path, entry := range c.entries {
		if path != fallbackKey && entry == fallback {
			continue
		}
		entry.destroy()
	}
	c.entries = make(map[string]*textureEntry)
}

// ensureTexture makes sure path is in the cache, loading it on first sight. A failed
// load is logged and the path is cached as an alias of the fallback texture.
func (r *Renderer) ensureTexture(path string) {
	if _, ok := r.textures.lookup(path); ok {
		return
	}

	entry, err := r.loadTexture(path)
	if err != nil {
		r.stats.TextureFailures++
		r.logger.Error("texture load failed, using fallback", slog.String("path", path), slog.Any("error", err))
		r.textures.entries[path] = r.textures.fallback()
		return
	}

	r.stats.TextureLoads++
	r.textures.entries[path] = entry
}

func (r *Renderer) decodeAndUpload(path string) (*textureEntry, error) {
	texture, err := r.opts.Decoder.Decode(path)
	if err != nil {
		return nil, err
	}
	return r.uploadTexture(texture)
}

// uploadTexture copies pixels into a new sampled image through a staging buffer and
// allocates its descriptor set.
func (r *Renderer) uploadTexture(texture *model.Texture) (*textureEntry, error) {
	if texture.Width <= 0 || texture.Height <= 0 || len(texture.Pixels) != texture.Width*texture.Height*4 {
		return nil, errors.Wrapf(ErrInvalidTexture, "%dx%d with %d bytes", texture.Width, texture.Height, len(texture.Pixels))
	}

	staging, err := r.ctx.CreateBuffer(len(texture.Pixels), core1_0.BufferUsageTransferSrc, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	err = staging.WriteBytes(0, texture.Pixels)
	if err != nil {
		return nil, err
	}

	entry := &textureEntry{}
	success := false
	defer func() {
		if !success {
			entry.destroy()
		}
	}()

	entry.image, err = r.ctx.CreateImage(texture.Width, texture.Height,
		core1_0.FormatR8G8B8A8SRGB,
		core1_0.ImageTilingOptimal,
		core1_0.ImageUsageTransferDst|core1_0.ImageUsageSampled,
		core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return nil, err
	}

	err = r.ctx.TransitionImageLayout(entry.image.Handle(), core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal)
	if err != nil {
		return nil, err
	}

	err = r.ctx.CopyBufferToImage(staging.Handle(), entry.image.Handle(), texture.Width, texture.Height)
	if err != nil {
		return nil, err
	}

	err = r.ctx.TransitionImageLayout(entry.image.Handle(), core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal)
	if err != nil {
		return nil, err
	}

	entry.view, err = r.ctx.CreateImageView(entry.image.Handle(), core1_0.FormatR8G8B8A8SRGB, core1_0.ImageAspectColor)
	if err != nil {
		return nil, err
	}

	entry.set, err = r.allocateTextureSet(entry.view)
	if err != nil {
		return nil, err
	}

	success = true
	return entry, nil
}

func (r *Renderer) createTexturePool() error {
	var err error
	r.texturePool, _, err = r.ctx.Device().CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: r.opts.MaxTextures + 1,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: r.opts.MaxTextures + 1,
			},
		},
	})
	return errors.Wrap(err, "create texture descriptor pool")
}

func (r *Renderer) allocateTextureSet(view *gpu.ImageView) (core1_0.DescriptorSet, error) {
	device := r.ctx.Device()

	sets, _, err := device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: r.texturePool,
		SetLayouts:     []core1_0.DescriptorSetLayout{r.textureSetLayout},
	})
	if err != nil {
		return core1_0.DescriptorSet{}, errors.Wrap(err, "allocate texture descriptor set")
	}

	err = device.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
		{
			DstSet:          sets[0],
			DstBinding:      0,
			DstArrayElement: 0,

			DescriptorType: core1_0.DescriptorTypeCombinedImageSampler,

			ImageInfo: []core1_0.DescriptorImageInfo{
				{
					ImageView:   view.Handle(),
					Sampler:     r.sampler,
					ImageLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
				},
			},
		},
	}, nil)
	if err != nil {
		return core1_0.DescriptorSet{}, errors.Wrap(err, "update texture descriptor set")
	}

	return sets[0], nil
}

func (r *Renderer) createFallbackTexture() error {
	entry, err := r.uploadTexture(fallbackPixels)
	if err != nil {
		return errors.Wrap(err, "create fallback texture")
	}
	r.textures.entries[fallbackKey] = entry
	return nil
}
