package swapchain

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

var (
	ErrNoSupportedSurfaceFormat = errors.New("surface reports no formats")
	ErrNoSupportedPresentMode   = errors.New("surface reports no present modes")
	// ErrSwapchainCreation wraps any failure of the swapchain create call itself.
	ErrSwapchainCreation = errors.New("swapchain creation failed")
	// ErrClosed is returned by Rebuild when the window was closed while it waited for
	// a nonzero drawable size.
	ErrClosed = errors.New("window closed during swapchain rebuild")
)

// ChooseSurfaceFormat prefers 8-bit BGRA sRGB in the sRGB non-linear colour space and
// otherwise takes whatever the surface lists first.
func ChooseSurfaceFormat(availableFormats []khr_surface.SurfaceFormat) (khr_surface.SurfaceFormat, error) {
	if len(availableFormats) == 0 {
		return khr_surface.SurfaceFormat{}, ErrNoSupportedSurfaceFormat
	}

	for _, format := range availableFormats {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format, nil
		}
	}

	return availableFormats[0], nil
}

// ChoosePresentMode picks mailbox when available and FIFO otherwise. FIFO is
// guaranteed to be supported, so it is also used whenever vsync is requested.
func ChoosePresentMode(availablePresentModes []khr_surface.PresentMode, vsync bool) (khr_surface.PresentMode, error) {
	if len(availablePresentModes) == 0 {
		return 0, ErrNoSupportedPresentMode
	}

	if vsync {
		return khr_surface.PresentModeFIFO, nil
	}

	for _, presentMode := range availablePresentModes {
		if presentMode == khr_surface.PresentModeMailbox {
			return presentMode, nil
		}
	}

	return khr_surface.PresentModeFIFO, nil
}

// ChooseExtent returns the surface's current extent, or when the surface leaves it
// undefined (width -1), the drawable size clamped into the supported range.
func ChooseExtent(capabilities *khr_surface.SurfaceCapabilities, drawableWidth, drawableHeight int) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	return core1_0.Extent2D{
		Width:  clamp(drawableWidth, capabilities.MinImageExtent.Width, capabilities.MaxImageExtent.Width),
		Height: clamp(drawableHeight, capabilities.MinImageExtent.Height, capabilities.MaxImageExtent.Height),
	}
}

// ChooseImageCount requests one image more than the minimum, capped at the maximum.
// A maximum of zero means the surface has no upper bound.
func ChooseImageCount(minImageCount, maxImageCount int) int {
	imageCount := minImageCount + 1
	if maxImageCount > 0 && maxImageCount < imageCount {
		imageCount = maxImageCount
	}

	return imageCount
}

func clamp(value, low, high int) int {
	if value < low {
		value = low
	}
	if value > high {
		value = high
	}
	return value
}
