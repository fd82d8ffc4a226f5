package vulkan

import (
	"fmt"
	"sort"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
)

type VulkanDevice struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device

	GraphicsQueueIndex uint32
	ComputeQueueIndex  uint32
	TransferQueueIndex uint32

	// Capabilities of every queue family on the physical device.
	familyCaps []vk.QueueFlags
	// One resettable command pool per selected family.
	CommandPools map[uint32]vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	DepthFormat vk.Format
}

type VulkanPhysicalDeviceRequirements struct {
	Graphics          bool
	Compute           bool
	Transfer          bool
	SamplerAnisotropy bool
	DiscreteGPU       bool
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	ComputeFamilyIndex  int32
	TransferFamilyIndex int32
}

func DeviceCreate(context *Context, discrete bool) (*VulkanDevice, error) {
	device, err := SelectPhysicalDevice(context, &VulkanPhysicalDeviceRequirements{
		Graphics:          true,
		Compute:           true,
		Transfer:          true,
		SamplerAnisotropy: true,
		DiscreteGPU:       discrete,
	})
	if err != nil {
		return nil, err
	}

	core.LogInfo("Creating logical device...")

	families := device.families()
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(families))
	for i, family := range families {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	deviceFeatures := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy: vk.True,
	}

	extensionNames := []string{}
	portability, err := hasDeviceExtension(device.PhysicalDevice, "VK_KHR_portability_subset")
	if err != nil {
		return nil, err
	}
	if portability {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	if res := vk.CreateDevice(device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &device.LogicalDevice); res != vk.Success {
		return nil, resultError("vkCreateDevice", res, core.ErrConfiguration)
	}
	core.LogInfo("Logical device created.")

	device.CommandPools = make(map[uint32]vk.CommandPool, len(families))
	for _, family := range families {
		poolCreateInfo := vk.CommandPoolCreateInfo{
			SType:            vk.StructureTypeCommandPoolCreateInfo,
			QueueFamilyIndex: family,
			Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		}
		var pool vk.CommandPool
		if res := vk.CreateCommandPool(device.LogicalDevice, &poolCreateInfo, context.Allocator, &pool); res != vk.Success {
			DeviceDestroy(context, device)
			return nil, resultError("vkCreateCommandPool", res, core.ErrConfiguration)
		}
		device.CommandPools[family] = pool
	}
	core.LogInfo("Command pools created for %d queue families.", len(families))

	if !DeviceDetectDepthFormat(device) {
		core.LogWarn("No depth format with optimal tiling support was found.")
	}
	return device, nil
}

func DeviceDestroy(context *Context, device *VulkanDevice) {
	core.LogInfo("Destroying command pools...")
	for family, pool := range device.CommandPools {
		vk.DestroyCommandPool(device.LogicalDevice, pool, context.Allocator)
		delete(device.CommandPools, family)
	}

	core.LogInfo("Destroying logical device...")
	if device.LogicalDevice != nil {
		vk.DestroyDevice(device.LogicalDevice, context.Allocator)
		device.LogicalDevice = nil
	}
	// Physical devices are not destroyed.
	device.PhysicalDevice = nil
}

// families returns the distinct selected family indices in ascending order.
func (d *VulkanDevice) families() []uint32 {
	seen := map[uint32]bool{}
	out := []uint32{}
	for _, f := range []uint32{d.GraphicsQueueIndex, d.ComputeQueueIndex, d.TransferQueueIndex} {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (d *VulkanDevice) familyFlags(family uint32) renderer.QueueFlags {
	if int(family) >= len(d.familyCaps) {
		return 0
	}
	return queueFlagsOf(d.familyCaps[family])
}

// queueFlagsOf maps Vulkan family capabilities. Graphics and compute families
// implicitly support transfer.
func queueFlagsOf(caps vk.QueueFlags) renderer.QueueFlags {
	var flags renderer.QueueFlags
	if caps&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
		flags |= renderer.QueueGraphics | renderer.QueueTransfer
	}
	if caps&vk.QueueFlags(vk.QueueComputeBit) != 0 {
		flags |= renderer.QueueCompute | renderer.QueueTransfer
	}
	if caps&vk.QueueFlags(vk.QueueTransferBit) != 0 {
		flags |= renderer.QueueTransfer
	}
	return flags
}

func DeviceDetectDepthFormat(device *VulkanDevice) bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(device.PhysicalDevice, candidate, &properties)
		properties.Deref()
		if properties.LinearTilingFeatures&flags == flags || properties.OptimalTilingFeatures&flags == flags {
			device.DepthFormat = candidate
			return true
		}
	}
	return false
}

func SelectPhysicalDevice(context *Context, requirements *VulkanPhysicalDeviceRequirements) (*VulkanDevice, error) {
	var physicalDeviceCount uint32
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil); res != vk.Success {
		return nil, resultError("vkEnumeratePhysicalDevices", res, core.ErrConfiguration)
	}
	if physicalDeviceCount == 0 {
		err := fmt.Errorf("no devices which support Vulkan were found: %w", core.ErrConfiguration)
		core.LogError(err.Error())
		return nil, err
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices); res != vk.Success {
		return nil, resultError("vkEnumeratePhysicalDevices", res, core.ErrConfiguration)
	}

	for _, physical := range physicalDevices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(physical, &properties)
		properties.Deref()

		var features vk.PhysicalDeviceFeatures
		vk.GetPhysicalDeviceFeatures(physical, &features)
		features.Deref()

		var memory vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(physical, &memory)
		memory.Deref()

		queueInfo, caps, ok := PhysicalDeviceMeetsRequirements(physical, &properties, &features, requirements)
		if !ok {
			continue
		}

		name := cString(properties.DeviceName[:])
		core.LogInfo("Selected device: '%s'.", name)
		switch properties.DeviceType {
		case vk.PhysicalDeviceTypeIntegratedGpu:
			core.LogInfo("GPU type is Integrated.")
		case vk.PhysicalDeviceTypeDiscreteGpu:
			core.LogInfo("GPU type is Discrete.")
		case vk.PhysicalDeviceTypeVirtualGpu:
			core.LogInfo("GPU type is Virtual.")
		case vk.PhysicalDeviceTypeCpu:
			core.LogInfo("GPU type is CPU.")
		default:
			core.LogInfo("GPU type is Unknown.")
		}
		core.LogInfo(
			"Vulkan API version: %d.%d.%d",
			vk.Version(properties.ApiVersion).Major(),
			vk.Version(properties.ApiVersion).Minor(),
			vk.Version(properties.ApiVersion).Patch(),
		)
		for j := uint32(0); j < memory.MemoryHeapCount; j++ {
			memory.MemoryHeaps[j].Deref()
			sizeGib := float64(memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
			if memory.MemoryHeaps[j].Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0 {
				core.LogInfo("Local GPU memory: %.2f GiB", sizeGib)
			} else {
				core.LogInfo("Shared System memory: %.2f GiB", sizeGib)
			}
		}

		return &VulkanDevice{
			PhysicalDevice:     physical,
			GraphicsQueueIndex: uint32(queueInfo.GraphicsFamilyIndex),
			ComputeQueueIndex:  uint32(queueInfo.ComputeFamilyIndex),
			TransferQueueIndex: uint32(queueInfo.TransferFamilyIndex),
			familyCaps:         caps,
			Properties:         properties,
			Features:           features,
			Memory:             memory,
		}, nil
	}

	err := fmt.Errorf("no physical devices were found which meet the requirements: %w", core.ErrConfiguration)
	core.LogError(err.Error())
	return nil, err
}

// PhysicalDeviceMeetsRequirements picks queue families for a device. The
// transfer family is the one with the fewest other capabilities, which makes
// a dedicated transfer queue more likely.
func PhysicalDeviceMeetsRequirements(device vk.PhysicalDevice, properties *vk.PhysicalDeviceProperties, features *vk.PhysicalDeviceFeatures, requirements *VulkanPhysicalDeviceRequirements) (VulkanPhysicalDeviceQueueFamilyInfo, []vk.QueueFlags, bool) {
	info := VulkanPhysicalDeviceQueueFamilyInfo{-1, -1, -1}

	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogInfo("Device is not a discrete GPU, and one is required. Skipping.")
		return info, nil, false
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	caps := make([]vk.QueueFlags, queueFamilyCount)
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		caps[i] = queueFamilies[i].QueueFlags
	}
	info.GraphicsFamilyIndex, info.ComputeFamilyIndex, info.TransferFamilyIndex = selectQueueFamilies(caps)

	core.LogDebug("Graphics Family Index: %d", info.GraphicsFamilyIndex)
	core.LogDebug("Compute Family Index:  %d", info.ComputeFamilyIndex)
	core.LogDebug("Transfer Family Index: %d", info.TransferFamilyIndex)

	if (requirements.Graphics && info.GraphicsFamilyIndex < 0) ||
		(requirements.Compute && info.ComputeFamilyIndex < 0) ||
		(requirements.Transfer && info.TransferFamilyIndex < 0) {
		core.LogInfo("Device does not meet queue requirements. Skipping.")
		return info, nil, false
	}
	if requirements.SamplerAnisotropy && features.SamplerAnisotropy == vk.False {
		core.LogInfo("Device does not support samplerAnisotropy, skipping.")
		return info, nil, false
	}
	return info, caps, true
}

// selectQueueFamilies returns the graphics, compute and transfer family
// indices, -1 when absent. Compute prefers a family without graphics.
func selectQueueFamilies(caps []vk.QueueFlags) (graphics, compute, transfer int32) {
	graphics, compute, transfer = -1, -1, -1
	minTransferScore := 255
	for i, c := range caps {
		score := 0
		if c&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			if graphics < 0 {
				graphics = int32(i)
			}
			score++
		}
		if c&vk.QueueFlags(vk.QueueComputeBit) != 0 {
			if compute < 0 || (c&vk.QueueFlags(vk.QueueGraphicsBit) == 0 && caps[compute]&vk.QueueFlags(vk.QueueGraphicsBit) != 0) {
				compute = int32(i)
			}
			score++
		}
		if c&vk.QueueFlags(vk.QueueTransferBit) != 0 || score > 0 {
			if score < minTransferScore {
				minTransferScore = score
				transfer = int32(i)
			}
		}
	}
	return graphics, compute, transfer
}

func hasDeviceExtension(device vk.PhysicalDevice, name string) (bool, error) {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success {
		return false, resultError("vkEnumerateDeviceExtensionProperties", res, core.ErrConfiguration)
	}
	if count == 0 {
		return false, nil
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, available); res != vk.Success {
		return false, resultError("vkEnumerateDeviceExtensionProperties", res, core.ErrConfiguration)
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].ExtensionName[:]) == name {
			return true, nil
		}
	}
	return false, nil
}

func (ctx *Context) commandPool(family uint32) (vk.CommandPool, error) {
	pool, ok := ctx.Device.CommandPools[family]
	if !ok {
		err := fmt.Errorf("no command pool for queue family %d: %w", family, core.ErrArgument)
		core.LogError(err.Error())
		return nil, err
	}
	return pool, nil
}
