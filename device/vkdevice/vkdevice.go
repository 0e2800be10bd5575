// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package vkdevice implements device.Driver on top of Vulkan.
//
// The driver owns the Vulkan instance. Windowing code creates a surface
// for Instance() and hands it over with RegisterSurface, everything else
// is created through the device.Driver methods and referred to by handle.
package vkdevice

import (
	"unsafe"

	"github.com/devblok/vkloop/device"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

// ValidationLayer is enabled when validation is requested.
const ValidationLayer = "VK_LAYER_KHRONOS_validation"

const debugReportExtension = "VK_EXT_debug_report"

// Options configure the instance.
type Options struct {
	ApplicationName string

	// Extensions are required instance extensions, usually the
	// surface extensions reported by the window system.
	Extensions []string
	Layers     []string

	// Validation enables the validation layer and routes its
	// reports to the logger.
	Validation bool

	// ProcAddr is vkGetInstanceProcAddr as loaded by the window system,
	// nil loads the system Vulkan library.
	ProcAddr unsafe.Pointer

	Logger log.FieldLogger
}

// Driver is a Vulkan implementation of device.Driver.
type Driver struct {
	instance      vk.Instance
	debugCallback vk.DebugReportCallback
	adapters      []device.Handle

	objects *arena
	log     log.FieldLogger
}

var _ device.Driver = (*Driver)(nil)

type physical struct {
	gpu vk.PhysicalDevice
}

type surface struct {
	surface vk.Surface
}

type logical struct {
	device vk.Device
	gpu    vk.PhysicalDevice
	cache  vk.PipelineCache
	queues []device.Handle
	memory vk.PhysicalDeviceMemoryProperties
}

type swapchain struct {
	swapchain vk.Swapchain
	images    []device.Handle
}

type commandPool struct {
	pool    vk.CommandPool
	buffers []device.Handle
}

type commandBuffer struct {
	buffer vk.CommandBuffer
	pool   device.Handle
}

type buffer struct {
	buffer vk.Buffer
	memory vk.DeviceMemory
	size   uint64
}

// New loads Vulkan and creates an instance.
func New(opts Options) (*Driver, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	if opts.ProcAddr == nil {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			return nil, errors.Wrap(err, "vk.SetDefaultGetInstanceProcAddr()")
		}
	} else {
		vk.SetGetInstanceProcAddr(opts.ProcAddr)
	}
	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "vk.Init()")
	}

	available, err := instanceExtensions()
	if err != nil {
		return nil, err
	}
	extensions, reports, err := resolveExtensions(available, opts.Extensions, opts.Validation)
	if err != nil {
		return nil, err
	}
	if opts.Validation && !reports {
		logger.WithField("extension", debugReportExtension).Warn("instance extension not available, validation messages will not be logged")
	}

	layers := opts.Layers
	if opts.Validation {
		layers = appendUnique(layers, ValidationLayer)
	}
	if available, err := instanceLayers(); err == nil {
		for _, name := range missing(available, layers) {
			logger.WithField("layer", name).Warn("instance layer not available")
		}
		layers = withoutMissing(available, layers)
	}

	name := opts.ApplicationName
	if name == "" {
		name = "vkloop"
	}
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         vk.MakeVersion(1, 0, 0),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PApplicationName:   safeString(name),
		PEngineName:        safeString("vkloop"),
	}
	instanceInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     safeStrings(layers),
	}

	var instance vk.Instance
	if err := check(vk.CreateInstance(&instanceInfo, nil, &instance), "vk.CreateInstance()"); err != nil {
		return nil, err
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, errors.Wrap(err, "vk.InitInstance()")
	}

	d := &Driver{
		instance: instance,
		objects:  newArena(),
		log:      logger,
	}

	if reports {
		ret := vk.CreateDebugReportCallback(instance, &vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: d.debugReport,
		}, nil, &d.debugCallback)
		if err := check(ret, "vk.CreateDebugReportCallback()"); err != nil {
			logger.WithError(err).Warn("validation messages will not be logged")
		}
	}

	gpus, err := enumerateDevices(instance)
	if err != nil {
		d.Destroy()
		return nil, err
	}
	for _, gpu := range gpus {
		d.adapters = append(d.adapters, d.objects.put(&physical{gpu: gpu}))
	}
	logger.WithField("adapters", len(gpus)).Debug("vulkan instance created")
	return d, nil
}

// Instance returns the native instance for surface creation.
func (d *Driver) Instance() vk.Instance {
	return d.instance
}

// RegisterSurface takes ownership of a VkSurfaceKHR created by the
// window system for Instance(). It is destroyed with the driver.
func (d *Driver) RegisterSurface(ptr unsafe.Pointer) device.Handle {
	return d.objects.put(&surface{surface: vk.SurfaceFromPointer(uintptr(ptr))})
}

func (d *Driver) debugReport(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, pLayerPrefix string,
	pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

	entry := d.log.WithFields(log.Fields{"layer": pLayerPrefix, "code": messageCode})
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		entry.Error(pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		entry.Warn(pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		entry.WithField("performance", true).Warn(pMessage)
	default:
		entry.Debug(pMessage)
	}
	return vk.Bool32(vk.False)
}

// Destroy implements device.Driver. Surfaces registered with
// RegisterSurface are destroyed here.
func (d *Driver) Destroy() {
	if d.instance == nil {
		return
	}
	d.objects.mu.Lock()
	for h, o := range d.objects.objects {
		switch o := o.(type) {
		case *surface:
			vk.DestroySurface(d.instance, o.surface, nil)
		case *physical:
		default:
			d.log.WithField("handle", h).Warnf("%T still alive at driver destruction", o)
		}
	}
	d.objects.objects = make(map[device.Handle]interface{})
	d.objects.mu.Unlock()

	if d.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(d.instance, d.debugCallback, nil)
		d.debugCallback = vk.NullDebugReportCallback
	}
	vk.DestroyInstance(d.instance, nil)
	d.instance = nil
	d.adapters = nil
}

func (d *Driver) gpu(h device.Handle) (vk.PhysicalDevice, error) {
	o, ok := d.objects.get(h)
	if p, isPhysical := o.(*physical); ok && isPhysical {
		return p.gpu, nil
	}
	return nil, errors.Wrapf(device.ErrorValidationFailed, "adapter %d does not exist", h)
}

func (d *Driver) vkSurface(h device.Handle) (vk.Surface, error) {
	o, ok := d.objects.get(h)
	if s, isSurface := o.(*surface); ok && isSurface {
		return s.surface, nil
	}
	return vk.NullSurface, errors.Wrapf(device.ErrorValidationFailed, "surface %d does not exist", h)
}

func (d *Driver) logical(h device.Handle) (*logical, error) {
	o, ok := d.objects.get(h)
	if l, isLogical := o.(*logical); ok && isLogical {
		return l, nil
	}
	return nil, errors.Wrapf(device.ErrorValidationFailed, "device %d does not exist", h)
}

func (d *Driver) vkDevice(h device.Handle) vk.Device {
	if l, err := d.logical(h); err == nil {
		return l.device
	}
	return nil
}

func (d *Driver) lookup(h device.Handle) interface{} {
	o, _ := d.objects.get(h)
	return o
}
