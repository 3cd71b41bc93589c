package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"golang.org/x/exp/slog"
)

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}

// SurfaceProvider is implemented by the window system. It supplies the Vulkan loader,
// the instance extensions it needs, and creates the presentation surface once the
// instance exists.
type SurfaceProvider interface {
	GlobalDriver() (core1_0.GlobalDriver, error)
	InstanceExtensions() []string
	CreateSurface(instance core1_0.Instance, surfaceExtension khr_surface.ExtensionDriver) (khr_surface.Surface, error)
}

type ContextOptions struct {
	ApplicationName  string
	EnableValidation bool
	// AllowIntegrated lets device selection fall back to a non-discrete GPU when no
	// discrete GPU qualifies.
	AllowIntegrated bool
	Logger          *slog.Logger
}

// Context owns the instance, surface, physical and logical device, the queues, and a
// default command pool used for one-off transfer work. Exactly one Context should exist
// per process; every GPU object in the viewer is created from it and must be destroyed
// before it.
//
// The accessors assume NewContext returned successfully; calling them on a Context that
// failed to initialize or has been destroyed is undefined.
type Context struct {
	logger *slog.Logger

	globalDriver   core1_0.GlobalDriver
	instanceDriver core1_0.CoreInstanceDriver
	deviceDriver   core1_0.CoreDeviceDriver

	debugDriver      ext_debug_utils.ExtensionDriver
	debugMessenger   ext_debug_utils.DebugUtilsMessenger
	surfaceExtension khr_surface.ExtensionDriver
	surface          khr_surface.Surface

	physicalDevice core1_0.PhysicalDevice
	properties     *core1_0.PhysicalDeviceProperties
	memoryTypes    []core1_0.MemoryPropertyFlags
	queues         QueueFamilyIndices

	graphicsQueue core1_0.Queue
	presentQueue  core1_0.Queue
	commandPool   core1_0.CommandPool
}

// NewContext performs the one-time device acquisition. On failure everything created so
// far is destroyed before the error is returned.
func NewContext(provider SurfaceProvider, opts ContextOptions) (*Context, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ApplicationName == "" {
		opts.ApplicationName = "Model Viewer"
	}

	c := &Context{logger: opts.Logger}

	var err error
	c.globalDriver, err = provider.GlobalDriver()
	if err != nil {
		return nil, errors.Wrap(err, "load vulkan driver")
	}

	initSteps := []func() error{
		func() error { return c.createInstance(provider, opts) },
		func() error { return c.setupDebugMessenger(opts) },
		func() error { return c.createSurface(provider) },
		func() error { return c.pickPhysicalDevice(opts.AllowIntegrated) },
		c.createLogicalDevice,
		c.createCommandPool,
	}

	for _, step := range initSteps {
		err = step()
		if err != nil {
			c.Destroy()
			return nil, err
		}
	}

	c.logger.Info("vulkan context ready",
		slog.String("device", c.properties.DeviceName),
		slog.Int("graphicsFamily", *c.queues.GraphicsFamily),
		slog.Int("presentFamily", *c.queues.PresentFamily),
	)

	return c, nil
}

func (c *Context) createInstance(provider SurfaceProvider, opts ContextOptions) error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    opts.ApplicationName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "No Engine",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	extensions, _, err := c.globalDriver.AvailableExtensions()
	if err != nil {
		return errors.Wrap(err, "enumerate instance extensions")
	}

	for _, ext := range provider.InstanceExtensions() {
		_, hasExt := extensions[ext]
		if !hasExt {
			return errors.Errorf("createInstance: missing window system extension %s", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	_, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]
	if enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if opts.EnableValidation {
		layers, _, err := c.globalDriver.AvailableLayers()
		if err != nil {
			return errors.Wrap(err, "enumerate instance layers")
		}

		for _, layer := range validationLayers {
			_, hasValidation := layers[layer]
			if !hasValidation {
				return errors.Errorf("createInstance: cannot add validation layer %s - install the LunarG Vulkan SDK", layer)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}

		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
		instanceOptions.Next = c.debugMessengerOptions()
	}

	c.instanceDriver, _, err = c.globalDriver.CreateInstance(nil, instanceOptions)
	if err != nil {
		return errors.Wrap(err, "create instance")
	}

	return nil
}

func (c *Context) setupDebugMessenger(opts ContextOptions) error {
	if !opts.EnableValidation {
		return nil
	}

	var err error
	c.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(c.instanceDriver)
	c.debugMessenger, _, err = c.debugDriver.CreateDebugUtilsMessenger(nil, c.debugMessengerOptions())
	if err != nil {
		return errors.Wrap(err, "create debug messenger")
	}

	return nil
}

func (c *Context) createSurface(provider SurfaceProvider) error {
	c.surfaceExtension = khr_surface.CreateExtensionDriverFromCoreDriver(c.instanceDriver)
	surface, err := provider.CreateSurface(c.instanceDriver.Instance(), c.surfaceExtension)
	if err != nil {
		return errors.Wrap(err, "create surface")
	}

	c.surface = surface
	return nil
}

func (c *Context) pickPhysicalDevice(allowIntegrated bool) error {
	physicalDevices, _, err := c.instanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return errors.Wrap(err, "enumerate physical devices")
	}

	candidates := make([]deviceCandidate, 0, len(physicalDevices))
	for _, device := range physicalDevices {
		candidate, err := c.inspectDevice(device)
		if err != nil {
			return err
		}

		c.logger.Debug("physical device",
			slog.String("name", candidate.name),
			slog.Bool("discrete", candidate.discrete),
			slog.Bool("suitable", candidate.suitable()),
		)
		candidates = append(candidates, candidate)
	}

	selected, err := selectDevice(candidates, allowIntegrated)
	if err != nil {
		return err
	}

	c.physicalDevice = physicalDevices[selected]
	c.queues = candidates[selected].queues

	c.properties, err = c.instanceDriver.GetPhysicalDeviceProperties(c.physicalDevice)
	if err != nil {
		return errors.Wrap(err, "get physical device properties")
	}

	memProperties := c.instanceDriver.GetPhysicalDeviceMemoryProperties(c.physicalDevice)
	c.memoryTypes = c.memoryTypes[:0]
	for _, memoryType := range memProperties.MemoryTypes {
		c.memoryTypes = append(c.memoryTypes, memoryType.PropertyFlags)
	}

	return nil
}

func (c *Context) inspectDevice(device core1_0.PhysicalDevice) (deviceCandidate, error) {
	var candidate deviceCandidate

	properties, err := c.instanceDriver.GetPhysicalDeviceProperties(device)
	if err != nil {
		return candidate, errors.Wrap(err, "get physical device properties")
	}
	candidate.name = properties.DeviceName
	candidate.discrete = properties.Type == core1_0.PhysicalDeviceTypeDiscreteGPU

	extensions, _, err := c.instanceDriver.EnumerateDeviceExtensionProperties(device)
	if err != nil {
		return candidate, errors.Wrap(err, "enumerate device extensions")
	}
	candidate.extensionsSupported = hasExtensions(extensions, requiredDeviceExtensions)

	if candidate.extensionsSupported {
		formats, _, err := c.surfaceExtension.GetPhysicalDeviceSurfaceFormats(c.surface, device)
		if err != nil {
			return candidate, errors.Wrap(err, "query surface formats")
		}
		presentModes, _, err := c.surfaceExtension.GetPhysicalDeviceSurfacePresentModes(c.surface, device)
		if err != nil {
			return candidate, errors.Wrap(err, "query present modes")
		}
		candidate.surfaceAdequate = len(formats) > 0 && len(presentModes) > 0
	}

	features := c.instanceDriver.GetPhysicalDeviceFeatures(device)
	candidate.samplerAnisotropy = features.SamplerAnisotropy

	var families []core1_0.QueueFlags
	for _, family := range c.instanceDriver.GetPhysicalDeviceQueueFamilyProperties(device) {
		families = append(families, family.QueueFlags)
	}

	candidate.queues, err = findQueueFamilies(families, func(family int) (bool, error) {
		supported, _, err := c.surfaceExtension.GetPhysicalDeviceSurfaceSupport(c.surface, device, family)
		return supported, err
	})
	if err != nil {
		return candidate, errors.Wrap(err, "query surface support")
	}

	return candidate, nil
}

func (c *Context) createLogicalDevice() error {
	uniqueQueueFamilies := []int{*c.queues.GraphicsFamily}
	if uniqueQueueFamilies[0] != *c.queues.PresentFamily {
		uniqueQueueFamilies = append(uniqueQueueFamilies, *c.queues.PresentFamily)
	}

	var queueFamilyOptions []core1_0.DeviceQueueCreateInfo
	queuePriority := float32(1.0)
	for _, queueFamily := range uniqueQueueFamilies {
		queueFamilyOptions = append(queueFamilyOptions, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{queuePriority},
		})
	}

	extensionNames := append([]string{}, requiredDeviceExtensions...)

	// Needed to run on MoltenVK
	extensions, _, err := c.instanceDriver.EnumerateDeviceExtensionProperties(c.physicalDevice)
	if err != nil {
		return errors.Wrap(err, "enumerate device extensions")
	}

	_, supported := extensions[khr_portability_subset.ExtensionName]
	if supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	c.deviceDriver, _, err = c.instanceDriver.CreateDevice(c.physicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: queueFamilyOptions,
		EnabledFeatures: &core1_0.PhysicalDeviceFeatures{
			SamplerAnisotropy: true,
		},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return errors.Wrap(err, "create logical device")
	}

	c.graphicsQueue = c.deviceDriver.GetQueue(*c.queues.GraphicsFamily, 0)
	c.presentQueue = c.deviceDriver.GetQueue(*c.queues.PresentFamily, 0)
	return nil
}

func (c *Context) createCommandPool() error {
	pool, _, err := c.deviceDriver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: *c.queues.GraphicsFamily,
	})
	if err != nil {
		return errors.Wrap(err, "create default command pool")
	}

	c.commandPool = pool
	return nil
}

// Destroy releases the command pool, logical device, debug messenger, surface and
// instance in that order. It is safe to call on a partially initialized Context and
// safe to call more than once.
func (c *Context) Destroy() {
	if c == nil {
		return
	}

	if c.commandPool.Initialized() {
		c.deviceDriver.DestroyCommandPool(c.commandPool, nil)
		c.commandPool = core1_0.CommandPool{}
	}

	if c.deviceDriver != nil {
		c.deviceDriver.DestroyDevice(nil)
		c.deviceDriver = nil
	}

	if c.debugMessenger.Initialized() {
		c.debugDriver.DestroyDebugUtilsMessenger(c.debugMessenger, nil)
		c.debugMessenger = ext_debug_utils.DebugUtilsMessenger{}
	}

	if c.surface.Initialized() {
		c.surfaceExtension.DestroySurface(c.surface, nil)
		c.surface = khr_surface.Surface{}
	}

	if c.instanceDriver != nil {
		c.instanceDriver.DestroyInstance(nil)
		c.instanceDriver = nil
	}
}

// WaitIdle blocks until all queues of the logical device are idle.
func (c *Context) WaitIdle() error {
	_, err := c.deviceDriver.DeviceWaitIdle()
	return errors.Wrap(err, "device wait idle")
}

// SharingMode reports how buffers and images shared between the graphics and present
// queues are created: concurrent across both families when they differ, exclusive
// otherwise.
func (c *Context) SharingMode() (core1_0.SharingMode, []int) {
	return sharingMode(c.queues)
}

func sharingMode(queues QueueFamilyIndices) (core1_0.SharingMode, []int) {
	if *queues.GraphicsFamily != *queues.PresentFamily {
		return core1_0.SharingModeConcurrent, []int{*queues.GraphicsFamily, *queues.PresentFamily}
	}

	return core1_0.SharingModeExclusive, nil
}

func (c *Context) Logger() *slog.Logger { return c.logger }
func (c *Context) Instance() core1_0.CoreInstanceDriver { return c.instanceDriver }
func (c *Context) Surface() khr_surface.Surface { return c.surface }
func (c *Context) SurfaceExtension() khr_surface.ExtensionDriver { return c.surfaceExtension }
func (c *Context) PhysicalDevice() core1_0.PhysicalDevice { return c.physicalDevice }
func (c *Context) Properties() *core1_0.PhysicalDeviceProperties { return c.properties }
func (c *Context) Device() core1_0.CoreDeviceDriver { return c.deviceDriver }
func (c *Context) GraphicsQueue() core1_0.Queue { return c.graphicsQueue }
func (c *Context) PresentQueue() core1_0.Queue { return c.presentQueue }
func (c *Context) GraphicsFamily() int { return *c.queues.GraphicsFamily }
func (c *Context) PresentFamily() int { return *c.queues.PresentFamily }
func (c *Context) CommandPool() core1_0.CommandPool { return c.commandPool }
