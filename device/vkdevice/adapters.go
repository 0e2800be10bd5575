// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkdevice

import (
	"strings"

	"github.com/devblok/vkloop/device"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

func enumerateDevices(instance vk.Instance) ([]vk.PhysicalDevice, error) {
	var deviceCount uint32
	if err := check(vk.EnumeratePhysicalDevices(instance, &deviceCount, nil), "vk.EnumeratePhysicalDevices()"); err != nil {
		return nil, err
	}
	availableDevices := make([]vk.PhysicalDevice, deviceCount)
	if err := check(vk.EnumeratePhysicalDevices(instance, &deviceCount, availableDevices), "vk.EnumeratePhysicalDevices()"); err != nil {
		return nil, err
	}
	return availableDevices[:deviceCount], nil
}

func instanceLayers() ([]string, error) {
	var count uint32
	if err := check(vk.EnumerateInstanceLayerProperties(&count, nil), "vk.EnumerateInstanceLayerProperties()"); err != nil {
		return nil, err
	}
	list := make([]vk.LayerProperties, count)
	if err := check(vk.EnumerateInstanceLayerProperties(&count, list), "vk.EnumerateInstanceLayerProperties()"); err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for _, layer := range list[:count] {
		layer.Deref()
		names = append(names, vk.ToString(layer.LayerName[:]))
	}
	return names, nil
}

func instanceExtensions() ([]string, error) {
	var count uint32
	if err := check(vk.EnumerateInstanceExtensionProperties("", &count, nil), "vk.EnumerateInstanceExtensionProperties()"); err != nil {
		return nil, err
	}
	list := make([]vk.ExtensionProperties, count)
	if err := check(vk.EnumerateInstanceExtensionProperties("", &count, list), "vk.EnumerateInstanceExtensionProperties()"); err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for _, ext := range list[:count] {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, nil
}

// resolveExtensions returns the instance extensions to enable. Every
// required extension has to be available. The debug report extension
// is added for validation only when the loader has it, reports tells
// whether it was.
func resolveExtensions(available, required []string, validation bool) (extensions []string, reports bool, err error) {
	if names := missing(available, required); len(names) > 0 {
		return nil, false, errors.Wrapf(device.ErrorExtensionNotPresent,
			"required instance extension %s is unsupported", strings.TrimSuffix(names[0], "\x00"))
	}
	extensions = append([]string(nil), required...)
	if validation && len(missing(available, []string{debugReportExtension})) == 0 {
		extensions = appendUnique(extensions, debugReportExtension)
		reports = true
	}
	return extensions, reports, nil
}

// withoutMissing keeps the names of required that are available.
func withoutMissing(available, required []string) []string {
	var out []string
	for _, name := range required {
		if len(missing(available, []string{name})) == 0 {
			out = append(out, name)
		}
	}
	return out
}

func deviceExtensions(gpu vk.PhysicalDevice) ([]string, error) {
	var count uint32
	if err := check(vk.EnumerateDeviceExtensionProperties(gpu, "", &count, nil), "vk.EnumerateDeviceExtensionProperties()"); err != nil {
		return nil, err
	}
	list := make([]vk.ExtensionProperties, count)
	if err := check(vk.EnumerateDeviceExtensionProperties(gpu, "", &count, list), "vk.EnumerateDeviceExtensionProperties()"); err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for _, ext := range list[:count] {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, nil
}

func surfaceFormats(gpu vk.PhysicalDevice, srf vk.Surface) ([]device.SurfaceFormat, error) {
	var count uint32
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(gpu, srf, &count, nil), "vk.GetPhysicalDeviceSurfaceFormats()"); err != nil {
		return nil, err
	}
	list := make([]vk.SurfaceFormat, count)
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(gpu, srf, &count, list), "vk.GetPhysicalDeviceSurfaceFormats()"); err != nil {
		return nil, err
	}
	formats := make([]device.SurfaceFormat, 0, count)
	for _, f := range list[:count] {
		f.Deref()
		formats = append(formats, device.SurfaceFormat{
			Format:     device.Format(f.Format),
			ColorSpace: device.ColorSpace(f.ColorSpace),
		})
	}
	return formats, nil
}

func presentModes(gpu vk.PhysicalDevice, srf vk.Surface) ([]device.PresentMode, error) {
	var count uint32
	if err := check(vk.GetPhysicalDeviceSurfacePresentModes(gpu, srf, &count, nil), "vk.GetPhysicalDeviceSurfacePresentModes()"); err != nil {
		return nil, err
	}
	list := make([]vk.PresentMode, count)
	if err := check(vk.GetPhysicalDeviceSurfacePresentModes(gpu, srf, &count, list), "vk.GetPhysicalDeviceSurfacePresentModes()"); err != nil {
		return nil, err
	}
	modes := make([]device.PresentMode, 0, count)
	for _, m := range list[:count] {
		modes = append(modes, device.PresentMode(m))
	}
	return modes, nil
}

func queueFamilies(gpu vk.PhysicalDevice, srf vk.Surface) []device.QueueFamily {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	list := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, list)

	families := make([]device.QueueFamily, 0, count)
	for i := uint32(0); i < count; i++ {
		list[i].Deref()
		var supportsPresent vk.Bool32
		if srf != vk.NullSurface {
			vk.GetPhysicalDeviceSurfaceSupport(gpu, i, srf, &supportsPresent)
		}
		families = append(families, device.QueueFamily{
			Index:           i,
			Flags:           device.QueueFlags(list[i].QueueFlags),
			Count:           list[i].QueueCount,
			SupportsPresent: supportsPresent.B(),
		})
	}
	return families
}

func describe(gpu vk.PhysicalDevice) device.Adapter {
	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(gpu, &props)
	props.Deref()

	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(gpu, &memoryProperties)
	memoryProperties.Deref()
	var memory uint64
	for i := uint32(0); i < memoryProperties.MemoryHeapCount; i++ {
		memoryProperties.MemoryHeaps[i].Deref()
		heap := memoryProperties.MemoryHeaps[i]
		if heap.Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0 {
			memory += uint64(heap.Size)
		}
	}

	return device.Adapter{
		Name:          vk.ToString(props.DeviceName[:]),
		Type:          device.AdapterType(props.DeviceType),
		VendorID:      props.VendorID,
		DeviceID:      props.DeviceID,
		DriverVersion: props.DriverVersion,
		MemorySize:    memory,
	}
}

// Adapters implements device.Driver. Adapters that fail to report
// their extensions or surface support are skipped with a warning.
func (d *Driver) Adapters(surfaceHandle device.Handle) ([]device.Adapter, error) {
	srf := vk.NullSurface
	if surfaceHandle != device.NullHandle {
		s, err := d.vkSurface(surfaceHandle)
		if err != nil {
			return nil, err
		}
		srf = s
	}

	adapters := make([]device.Adapter, 0, len(d.adapters))
	for _, h := range d.adapters {
		gpu, err := d.gpu(h)
		if err != nil {
			return nil, err
		}
		a := describe(gpu)
		a.ID = h
		a.QueueFamilies = queueFamilies(gpu, srf)
		entry := d.log.WithField("adapter", a.Name)

		if a.Extensions, err = deviceExtensions(gpu); err != nil {
			entry.WithError(err).Warn("skipping adapter")
			continue
		}
		if srf != vk.NullSurface {
			if a.SurfaceFormats, err = surfaceFormats(gpu, srf); err != nil {
				entry.WithError(err).Warn("skipping adapter")
				continue
			}
			if a.PresentModes, err = presentModes(gpu, srf); err != nil {
				entry.WithError(err).Warn("skipping adapter")
				continue
			}
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// SurfaceCapabilities implements device.Driver
func (d *Driver) SurfaceCapabilities(adapter, surfaceHandle device.Handle) (device.SurfaceCapabilities, error) {
	gpu, err := d.gpu(adapter)
	if err != nil {
		return device.SurfaceCapabilities{}, err
	}
	srf, err := d.vkSurface(surfaceHandle)
	if err != nil {
		return device.SurfaceCapabilities{}, err
	}

	var caps vk.SurfaceCapabilities
	if err := check(vk.GetPhysicalDeviceSurfaceCapabilities(gpu, srf, &caps), "vk.GetPhysicalDeviceSurfaceCapabilities()"); err != nil {
		return device.SurfaceCapabilities{}, err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	out := device.SurfaceCapabilities{
		MinImageCount:           caps.MinImageCount,
		MaxImageCount:           caps.MaxImageCount,
		CurrentExtent:           device.Extent{Width: caps.CurrentExtent.Width, Height: caps.CurrentExtent.Height},
		MinImageExtent:          device.Extent{Width: caps.MinImageExtent.Width, Height: caps.MinImageExtent.Height},
		MaxImageExtent:          device.Extent{Width: caps.MaxImageExtent.Width, Height: caps.MaxImageExtent.Height},
		SupportedCompositeAlpha: device.CompositeAlpha(caps.SupportedCompositeAlpha),
	}
	if out.Formats, err = surfaceFormats(gpu, srf); err != nil {
		return device.SurfaceCapabilities{}, err
	}
	if out.PresentModes, err = presentModes(gpu, srf); err != nil {
		return device.SurfaceCapabilities{}, err
	}
	return out, nil
}

// errNoQueueFamilies is returned when device creation names no queue family.
var errNoQueueFamilies = errors.Wrap(device.ErrorInitializationFailed, "no queue families requested")
