// Package window wraps an SDL2 window for Vulkan presentation. It provides the
// Vulkan loader and surface, and pumps window events into an input tracker.
package window

import (
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"
	"github.com/vkngwrapper/modelviewer/gpu"
	"github.com/vkngwrapper/modelviewer/input"
	"github.com/vkngwrapper/modelviewer/swapchain"
)

var (
	_ gpu.SurfaceProvider = (*Window)(nil)
	_ swapchain.Window    = (*Window)(nil)
)

// Window must be created and used from the thread that initialized SDL, which
// should be locked with runtime.LockOSThread.
type Window struct {
	window *sdl.Window
	input  *input.Tracker

	closeRequested bool
	resized        bool
}

// New initializes SDL video and opens a resizable Vulkan window.
func New(title string, width, height int) (*Window, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, errors.Wrap(err, "initialize sdl")
	}

	window, err := sdl.CreateWindow(title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, int32(width), int32(height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		sdl.Quit()
		return nil, errors.Wrap(err, "create window")
	}

	return &Window{window: window, input: input.NewTracker()}, nil
}

func (w *Window) GlobalDriver() (core1_0.GlobalDriver, error) {
	driver, err := core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	return driver, errors.Wrap(err, "load vulkan loader")
}

func (w *Window) InstanceExtensions() []string {
	return w.window.VulkanGetInstanceExtensions()
}

func (w *Window) CreateSurface(instance core1_0.Instance, surfaceExtension khr_surface.ExtensionDriver) (khr_surface.Surface, error) {
	surface, err := vkng_sdl2.CreateSurface(instance, surfaceExtension, w.window)
	return surface, errors.Wrap(err, "create window surface")
}

// DrawableSize returns the size of the drawable area in pixels. It is zero while
// the window is minimized.
func (w *Window) DrawableSize() (int, int) {
	if (w.window.GetFlags() & sdl.WINDOW_MINIMIZED) != 0 {
		return 0, 0
	}

	width, height := w.window.VulkanGetDrawableSize()
	return int(width), int(height)
}

// PollEvents handles every pending event without blocking.
func (w *Window) PollEvents() {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		w.handle(event)
	}
}

// WaitEvents blocks until at least one event arrives, then handles everything
// pending.
func (w *Window) WaitEvents() {
	if event := sdl.WaitEvent(); event != nil {
		w.handle(event)
	}
	w.PollEvents()
}

func (w *Window) handle(event sdl.Event) {
	switch e := event.(type) {
	case *sdl.QuitEvent:
		w.closeRequested = true
	case *sdl.WindowEvent:
		switch e.Event {
		case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED, sdl.WINDOWEVENT_RESTORED:
			w.resized = true
		case sdl.WINDOWEVENT_CLOSE:
			w.closeRequested = true
		}
	case *sdl.KeyboardEvent:
		if e.Type == sdl.KEYUP && e.Keysym.Sym == sdl.K_ESCAPE {
			w.closeRequested = true
		}
	}

	w.input.HandleEvent(event)
}

func (w *Window) ShouldClose() bool { return w.closeRequested }

// TakeResized reports whether the window changed size since the last call.
func (w *Window) TakeResized() bool {
	resized := w.resized
	w.resized = false
	return resized
}

func (w *Window) Input() *input.Tracker { return w.input }

func (w *Window) SetTitle(title string) {
	w.window.SetTitle(title)
}

func (w *Window) Destroy() {
	if w == nil || w.window == nil {
		return
	}

	_ = w.window.Destroy()
	w.window = nil
	sdl.Quit()
}
