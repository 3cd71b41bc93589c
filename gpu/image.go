package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// Image owns one 2D VkImage with a single mip level and array layer, and the memory
// bound to it.
type Image struct {
	device core1_0.DeviceDriver
	image  core1_0.Image
	memory core1_0.DeviceMemory
	format core1_0.Format
	width  int
	height int
}

func (c *Context) CreateImage(width, height int, format core1_0.Format, tiling core1_0.ImageTiling, usage core1_0.ImageUsageFlags, properties core1_0.MemoryPropertyFlags) (*Image, error) {
	sharingMode, families := c.SharingMode()

	handle, _, err := c.deviceDriver.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:          1,
		ArrayLayers:        1,
		Format:             format,
		Tiling:             tiling,
		InitialLayout:      core1_0.ImageLayoutUndefined,
		Usage:              usage,
		SharingMode:        sharingMode,
		QueueFamilyIndices: families,
		Samples:            core1_0.Samples1,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create %dx%d image", width, height)
	}

	image := &Image{
		device: c.deviceDriver,
		image:  handle,
		format: format,
		width:  width,
		height: height,
	}

	memReqs := c.deviceDriver.GetImageMemoryRequirements(handle)
	image.memory, err = c.allocate(memReqs.Size, memReqs.MemoryTypeBits, properties)
	if err != nil {
		image.Destroy()
		return nil, err
	}

	_, err = c.deviceDriver.BindImageMemory(handle, image.memory, 0)
	if err != nil {
		image.Destroy()
		return nil, errors.Mark(errors.Wrap(err, "bind image memory"), ErrAllocationFailed)
	}

	return image, nil
}

func (i *Image) Handle() core1_0.Image { return i.image }
func (i *Image) Format() core1_0.Format { return i.format }
func (i *Image) Extent() (int, int) { return i.width, i.height }

// Destroy destroys the image and then frees its memory. Later calls do nothing.
func (i *Image) Destroy() {
	if i == nil {
		return
	}

	if i.image.Initialized() {
		i.device.DestroyImage(i.image, nil)
		i.image = core1_0.Image{}
	}

	if i.memory.Initialized() {
		i.device.FreeMemory(i.memory, nil)
		i.memory = core1_0.DeviceMemory{}
	}
}

type ImageView struct {
	device core1_0.DeviceDriver
	view   core1_0.ImageView
}

// CreateImageView creates a 2D view over a single mip level and layer of image.
func (c *Context) CreateImageView(image core1_0.Image, format core1_0.Format, aspect core1_0.ImageAspectFlags) (*ImageView, error) {
	view, _, err := c.deviceDriver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    image,
		ViewType: core1_0.ImageViewType2D,
		Format:   format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create image view")
	}

	return &ImageView{device: c.deviceDriver, view: view}, nil
}

func (v *ImageView) Handle() core1_0.ImageView { return v.view }

func (v *ImageView) Destroy() {
	if v == nil {
		return
	}

	if v.view.Initialized() {
		v.device.DestroyImageView(v.view, nil)
		v.view = core1_0.ImageView{}
	}
}

// FindSupportedFormat returns the first candidate whose tiling features include features.
func (c *Context) FindSupportedFormat(candidates []core1_0.Format, tiling core1_0.ImageTiling, features core1_0.FormatFeatureFlags) (core1_0.Format, error) {
	for _, format := range candidates {
		props := c.instanceDriver.GetPhysicalDeviceFormatProperties(c.physicalDevice, format)

		if tiling == core1_0.ImageTilingLinear && (props.LinearTilingFeatures&features) == features {
			return format, nil
		} else if tiling == core1_0.ImageTilingOptimal && (props.OptimalTilingFeatures&features) == features {
			return format, nil
		}
	}

	return 0, errors.Wrapf(ErrNoSupportedFormat, "tiling %s, featureset %s", tiling, features)
}
