package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
)

type ContextConfig struct {
	ApplicationName string
	// Validation enables VK_LAYER_KHRONOS_validation and the debug report callback.
	Validation bool
	// LoaderGLFW resolves vkGetInstanceProcAddr through GLFW instead of the
	// system loader. GLFW must already be initialized.
	LoaderGLFW bool
	// RequireDiscreteGPU skips integrated devices. Ignored on darwin.
	RequireDiscreteGPU bool
	// Extensions are extra instance extensions, for example the ones GLFW
	// needs to create a window surface.
	Extensions []string
}

// Context owns the Vulkan instance and logical device and implements
// renderer.Device.
type Context struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks

	debugMessenger vk.DebugReportCallback

	Device *VulkanDevice

	locks  *VulkanLockPool
	queues map[uint32]*Queue
}

var _ renderer.Device = (*Context)(nil)

func NewContext(cfg ContextConfig) (*Context, error) {
	if cfg.LoaderGLFW {
		procAddr := glfw.GetVulkanGetInstanceProcAddress()
		if procAddr == nil {
			err := fmt.Errorf("GetInstanceProcAddress is nil: %w", core.ErrConfiguration)
			core.LogError(err.Error())
			return nil, err
		}
		vk.SetGetInstanceProcAddr(procAddr)
	} else if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		err = fmt.Errorf("unable to load the Vulkan library: %v: %w", err, core.ErrConfiguration)
		core.LogError(err.Error())
		return nil, err
	}

	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk", "err", err)
		return nil, err
	}

	ctx := &Context{
		Allocator: nil,
		locks:     NewVulkanLockPool(),
		queues:    make(map[uint32]*Queue),
	}
	if err := ctx.createInstance(cfg); err != nil {
		return nil, err
	}
	if cfg.Validation {
		if err := ctx.createDebugger(); err != nil {
			ctx.Destroy()
			return nil, err
		}
	}
	device, err := DeviceCreate(ctx, cfg.RequireDiscreteGPU && runtime.GOOS != "darwin")
	if err != nil {
		ctx.Destroy()
		return nil, err
	}
	ctx.Device = device

	for _, family := range device.families() {
		var handle vk.Queue
		vk.GetDeviceQueue(device.LogicalDevice, family, 0, &handle)
		ctx.queues[family] = &Queue{
			context: ctx,
			family:  family,
			handle:  handle,
			flags:   device.familyFlags(family),
		}
	}
	core.LogInfo("Vulkan context created with %d queue families.", len(ctx.queues))
	return ctx, nil
}

func (ctx *Context) createInstance(cfg ContextConfig) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(cfg.ApplicationName),
		PEngineName:        VulkanSafeString("Anima RHI"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string{}, cfg.Extensions...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	layers := []string{}
	if cfg.Validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		layers = append(layers, "VK_LAYER_KHRONOS_validation")
		if err := requireLayers(layers); err != nil {
			return err
		}
	}
	for _, e := range extensions {
		core.LogDebug("Required instance extension: %s", e)
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, ctx.Allocator, &instance); res != vk.Success {
		return resultError("vkCreateInstance", res, core.ErrConfiguration)
	}
	if err := vk.InitInstance(instance); err != nil {
		core.LogError("vk.InitInstance failed", "err", err)
		return err
	}
	ctx.Instance = instance
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func requireLayers(required []string) error {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return resultError("vkEnumerateInstanceLayerProperties", res, core.ErrConfiguration)
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return resultError("vkEnumerateInstanceLayerProperties", res, core.ErrConfiguration)
	}

	for _, name := range required {
		found := false
		for i := range available {
			available[i].Deref()
			if cString(available[i].LayerName[:]) == name {
				found = true
				break
			}
		}
		if !found {
			err := fmt.Errorf("required validation layer is missing: %s: %w", name, core.ErrConfiguration)
			core.LogError(err.Error())
			return err
		}
	}
	core.LogInfo("All required validation layers are present.")
	return nil
}

func (ctx *Context) createDebugger() error {
	core.LogDebug("Creating Vulkan debugger...")
	debugCreateInfo := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: dbgCallbackFunc,
	}
	var dbg vk.DebugReportCallback
	if res := vk.CreateDebugReportCallback(ctx.Instance, &debugCreateInfo, ctx.Allocator, &dbg); res != vk.Success {
		return resultError("vkCreateDebugReportCallback", res, core.ErrConfiguration)
	}
	ctx.debugMessenger = dbg
	core.LogDebug("Vulkan debugger created.")
	return nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("validation", "layer", pLayerPrefix, "code", messageCode, "msg", pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}

// Destroy releases the device and instance. Every object created from the
// context must be destroyed first.
func (ctx *Context) Destroy() {
	if ctx.Device != nil {
		if err := ctx.WaitIdle(); err != nil {
			core.LogWarn("device did not idle before shutdown: %v", err)
		}
		ctx.queues = make(map[uint32]*Queue)
		DeviceDestroy(ctx, ctx.Device)
		ctx.Device = nil
	}
	if ctx.debugMessenger != nil {
		vk.DestroyDebugReportCallback(ctx.Instance, ctx.debugMessenger, ctx.Allocator)
		ctx.debugMessenger = nil
	}
	if ctx.Instance != nil {
		vk.DestroyInstance(ctx.Instance, ctx.Allocator)
		ctx.Instance = nil
	}
}

// Queue returns the queue of the first selected family supporting every flag.
// Transfer-only requests prefer the dedicated transfer family.
func (ctx *Context) Queue(flags renderer.QueueFlags) (renderer.HardwareQueue, error) {
	d := ctx.Device
	order := []uint32{d.GraphicsQueueIndex, d.ComputeQueueIndex, d.TransferQueueIndex}
	switch {
	case flags == renderer.QueueTransfer:
		order = []uint32{d.TransferQueueIndex, d.ComputeQueueIndex, d.GraphicsQueueIndex}
	case flags&renderer.QueueGraphics == 0 && flags&renderer.QueueCompute != 0:
		order = []uint32{d.ComputeQueueIndex, d.GraphicsQueueIndex}
	}
	for _, family := range order {
		q, ok := ctx.queues[family]
		if ok && q.flags&flags == flags {
			return q, nil
		}
	}
	err := fmt.Errorf("no queue family supports flags %03b: %w", flags, core.ErrArgument)
	core.LogError(err.Error())
	return nil, err
}

func (ctx *Context) WaitIdle() error {
	return ctx.locks.SafeCall(SynchronizationManagement, func() error {
		return resultError("vkDeviceWaitIdle", vk.DeviceWaitIdle(ctx.Device.LogicalDevice), core.ErrSynchronization)
	})
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// has every property flag, or -1.
func (ctx *Context) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(ctx.Device.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (memoryProperties.MemoryTypes[i].PropertyFlags&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

// allocateMemory allocates memory matching the requirements of a buffer or image.
func (ctx *Context) allocateMemory(reqs vk.MemoryRequirements, properties vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	index := ctx.FindMemoryIndex(reqs.MemoryTypeBits, properties)
	if index < 0 {
		err := fmt.Errorf("no memory type with properties %b: %w", properties, core.ErrConfiguration)
		core.LogError(err.Error())
		return nil, err
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  core.AlignUp(reqs.Size, reqs.Alignment),
		MemoryTypeIndex: uint32(index),
	}
	var memory vk.DeviceMemory
	err := ctx.locks.SafeCall(MemoryManagement, func() error {
		return resultError("vkAllocateMemory", vk.AllocateMemory(ctx.Device.LogicalDevice, &allocInfo, ctx.Allocator, &memory), core.ErrConfiguration)
	})
	return memory, err
}
