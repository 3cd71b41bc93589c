package swapchain

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/modelviewer/gpu"
	"golang.org/x/exp/slog"
)

type State int

const (
	Uninitialized State = iota
	Ready
	Rebuilding
	Destroyed
)

var stateNames = map[State]string{
	Uninitialized: "Uninitialized",
	Ready:         "Ready",
	Rebuilding:    "Rebuilding",
	Destroyed:     "Destroyed",
}

func (s State) String() string {
	name, ok := stateNames[s]
	if !ok {
		return "Unknown"
	}
	return name
}

// Window is the part of the window system the swapchain needs: the drawable size in
// pixels, a way to block until the window system has something to report, and
// whether the user has asked to close the window.
type Window interface {
	DrawableSize() (width, height int)
	WaitEvents()
	ShouldClose() bool
}

type Options struct {
	VSync  bool
	Logger *slog.Logger
}

var depthFormatCandidates = []core1_0.Format{
	core1_0.FormatD32SignedFloat,
	core1_0.FormatD32SignedFloatS8UnsignedInt,
	core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
}

// Manager owns the swapchain and everything whose lifetime is tied to it: one image
// view, framebuffer and primary command buffer per swapchain image, the shared depth
// attachment, and the render pass. All per-image slices always have the same length.
type Manager struct {
	ctx    *gpu.Context
	window Window
	opts   Options
	logger *slog.Logger
	state  State

	extension khr_swapchain.ExtensionDriver
	swapchain khr_swapchain.Swapchain
	images    []core1_0.Image
	format    core1_0.Format
	extent    core1_0.Extent2D

	views          []*gpu.ImageView
	depthFormat    core1_0.Format
	depthImage     *gpu.Image
	depthView      *gpu.ImageView
	renderPass     core1_0.RenderPass
	framebuffers   []core1_0.Framebuffer
	commandBuffers []core1_0.CommandBuffer
}

// New creates a Manager and builds the initial swapchain.
func New(ctx *gpu.Context, window Window, opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = ctx.Logger()
	}

	m := &Manager{
		ctx:       ctx,
		window:    window,
		opts:      opts,
		logger:    opts.Logger,
		extension: khr_swapchain.CreateExtensionDriverFromCoreDriver(ctx.Device()),
	}

	err := m.Build()
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Build creates the swapchain and its dependent objects. It must only be called on a
// Manager with nothing built, which is the case after New fails or during Rebuild.
func (m *Manager) Build() error {
	if m.state == Ready || m.state == Destroyed {
		return errors.Errorf("swapchain build in state %s", m.state)
	}

	buildSteps := []func() error{
		m.createSwapchain,
		m.createImageViews,
		m.createRenderPass,
		m.createDepthResources,
		m.createFramebuffers,
		m.createCommandBuffers,
	}

	for _, step := range buildSteps {
		err := step()
		if err != nil {
			m.teardown()
			m.state = Uninitialized
			return err
		}
	}

	m.state = Ready
	m.logger.Debug("swapchain built",
		slog.Int("images", len(m.images)),
		slog.Int("width", m.extent.Width),
		slog.Int("height", m.extent.Height),
		slog.Any("format", m.format),
	)
	return nil
}

// Rebuild blocks while the window is minimized, waits for the device to go idle, then
// tears down and rebuilds everything the Manager owns. If the window is closed while
// minimized it returns ErrClosed and leaves the current swapchain in place.
func (m *Manager) Rebuild() error {
	if m.state == Destroyed {
		return errors.New("swapchain rebuild after destroy")
	}

	width, height := m.window.DrawableSize()
	for width == 0 || height == 0 {
		if m.window.ShouldClose() {
			return ErrClosed
		}
		m.window.WaitEvents()
		width, height = m.window.DrawableSize()
	}

	err := m.ctx.WaitIdle()
	if err != nil {
		return err
	}

	m.state = Rebuilding
	m.teardown()

	return m.Build()
}

func (m *Manager) createSwapchain() error {
	surfaceExtension := m.ctx.SurfaceExtension()
	physicalDevice := m.ctx.PhysicalDevice()

	capabilities, _, err := surfaceExtension.GetPhysicalDeviceSurfaceCapabilities(m.ctx.Surface(), physicalDevice)
	if err != nil {
		return errors.Wrap(err, "query surface capabilities")
	}

	formats, _, err := surfaceExtension.GetPhysicalDeviceSurfaceFormats(m.ctx.Surface(), physicalDevice)
	if err != nil {
		return errors.Wrap(err, "query surface formats")
	}

	presentModes, _, err := surfaceExtension.GetPhysicalDeviceSurfacePresentModes(m.ctx.Surface(), physicalDevice)
	if err != nil {
		return errors.Wrap(err, "query present modes")
	}

	surfaceFormat, err := ChooseSurfaceFormat(formats)
	if err != nil {
		return err
	}

	presentMode, err := ChoosePresentMode(presentModes, m.opts.VSync)
	if err != nil {
		return err
	}

	width, height := m.window.DrawableSize()
	extent := ChooseExtent(capabilities, width, height)
	imageCount := ChooseImageCount(capabilities.MinImageCount, capabilities.MaxImageCount)
	sharingMode, queueFamilyIndices := m.ctx.SharingMode()

	swapchain, _, err := m.extension.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: m.ctx.Surface(),

		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: queueFamilyIndices,

		PreTransform:   capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,
	})
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "create %dx%d swapchain", extent.Width, extent.Height), ErrSwapchainCreation)
	}

	m.swapchain = swapchain
	m.extent = extent
	m.format = surfaceFormat.Format
	return nil
}

func (m *Manager) createImageViews() error {
	images, _, err := m.extension.GetSwapchainImages(m.swapchain)
	if err != nil {
		return errors.Wrap(err, "get swapchain images")
	}
	m.images = images

	for _, image := range images {
		view, err := m.ctx.CreateImageView(image, m.format, core1_0.ImageAspectColor)
		if err != nil {
			return err
		}

		m.views = append(m.views, view)
	}

	return nil
}

func (m *Manager) createRenderPass() error {
	depthFormat, err := m.ctx.FindSupportedFormat(depthFormatCandidates, core1_0.ImageTilingOptimal, core1_0.FormatFeatureDepthStencilAttachment)
	if err != nil {
		return errors.Wrap(err, "find depth format")
	}
	m.depthFormat = depthFormat

	renderPass, _, err := m.ctx.Device().CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         m.format,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
			},
			{
				Format:         depthFormat,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpDontCare,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 0,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
				DepthStencilAttachment: &core1_0.AttachmentReference{
					Attachment: 1,
					Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				DstAccessMask: core1_0.AccessColorAttachmentWrite | core1_0.AccessDepthStencilAttachmentWrite,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "create render pass")
	}

	m.renderPass = renderPass
	return nil
}

func (m *Manager) createDepthResources() error {
	var err error
	m.depthImage, err = m.ctx.CreateImage(m.extent.Width, m.extent.Height,
		m.depthFormat,
		core1_0.ImageTilingOptimal,
		core1_0.ImageUsageDepthStencilAttachment,
		core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return errors.Wrap(err, "create depth image")
	}

	m.depthView, err = m.ctx.CreateImageView(m.depthImage.Handle(), m.depthFormat, core1_0.ImageAspectDepth)
	return err
}

func (m *Manager) createFramebuffers() error {
	for _, view := range m.views {
		framebuffer, _, err := m.ctx.Device().CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
			RenderPass: m.renderPass,
			Layers:     1,
			Attachments: []core1_0.ImageView{
				view.Handle(),
				m.depthView.Handle(),
			},
			Width:  m.extent.Width,
			Height: m.extent.Height,
		})
		if err != nil {
			return errors.Wrap(err, "create framebuffer")
		}

		m.framebuffers = append(m.framebuffers, framebuffer)
	}

	return nil
}

func (m *Manager) createCommandBuffers() error {
	buffers, _, err := m.ctx.Device().AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        m.ctx.CommandPool(),
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: len(m.images),
	})
	if err != nil {
		return errors.Wrap(err, "allocate frame command buffers")
	}

	m.commandBuffers = buffers
	return nil
}

// teardown releases framebuffers, render pass, depth resources, command buffers, image
// views and finally the swapchain. Anything not yet created is skipped.
func (m *Manager) teardown() {
	device := m.ctx.Device()

	for _, framebuffer := range m.framebuffers {
		device.DestroyFramebuffer(framebuffer, nil)
	}
	m.framebuffers = nil

	if m.renderPass.Initialized() {
		device.DestroyRenderPass(m.renderPass, nil)
		m.renderPass = core1_0.RenderPass{}
	}

	m.depthView.Destroy()
	m.depthView = nil
	m.depthImage.Destroy()
	m.depthImage = nil

	if len(m.commandBuffers) > 0 {
		device.FreeCommandBuffers(m.commandBuffers...)
		m.commandBuffers = nil
	}

	for _, view := range m.views {
		view.Destroy()
	}
	m.views = nil
	m.images = nil

	if m.swapchain.Initialized() {
		m.extension.DestroySwapchain(m.swapchain, nil)
		m.swapchain = khr_swapchain.Swapchain{}
	}
}

// Destroy tears down everything the Manager owns. Later calls do nothing.
func (m *Manager) Destroy() {
	if m == nil || m.state == Destroyed {
		return
	}

	if m.ctx != nil {
		m.teardown()
	}
	m.state = Destroyed
}

func (m *Manager) State() State { return m.state }
func (m *Manager) Format() core1_0.Format { return m.format }
func (m *Manager) Extent() core1_0.Extent2D { return m.extent }
func (m *Manager) ImageCount() int { return len(m.images) }
func (m *Manager) RenderPass() core1_0.RenderPass { return m.renderPass }
func (m *Manager) Swapchain() khr_swapchain.Swapchain { return m.swapchain }
func (m *Manager) Extension() khr_swapchain.ExtensionDriver { return m.extension }

func (m *Manager) Framebuffer(imageIndex int) core1_0.Framebuffer {
	return m.framebuffers[imageIndex]
}

func (m *Manager) CommandBuffer(imageIndex int) core1_0.CommandBuffer {
	return m.commandBuffers[imageIndex]
}
