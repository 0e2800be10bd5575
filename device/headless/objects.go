// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless

import (
	"encoding/binary"

	"github.com/devblok/vkloop/device"
	"github.com/pkg/errors"
)

const spirvMagic = 0x07230203

// CreateDevice implements device.Driver
func (d *Driver) CreateDevice(adapter device.Handle, info device.DeviceInfo) (device.Handle, device.Queues, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if res, ok := d.fault(OpCreateDevice); ok {
		return device.NullHandle, device.Queues{}, errors.Wrap(res, "create device")
	}
	if _, err := d.get(adapter, kindAdapter); err != nil {
		return device.NullHandle, device.Queues{}, err
	}

	var a device.Adapter
	for _, candidate := range d.adapters {
		if candidate.ID == adapter {
			a = candidate
		}
	}
	for _, ext := range info.Extensions {
		if !a.HasExtension(ext) {
			return device.NullHandle, device.Queues{}, errors.Wrapf(device.ErrorExtensionNotPresent, "create device: %s", ext)
		}
	}
	if len(info.QueueFamilies) == 0 {
		return device.NullHandle, device.Queues{}, errors.Wrap(device.ErrorInitializationFailed, "create device: no queues requested")
	}
	for _, family := range info.QueueFamilies {
		if int(family) >= len(a.QueueFamilies) {
			return device.NullHandle, device.Queues{}, errors.Wrapf(device.ErrorInitializationFailed, "create device: no queue family %d", family)
		}
	}

	dev := d.add(&object{kind: kindDevice})
	queues := make(map[uint32]device.Handle)
	for _, family := range info.QueueFamilies {
		if _, ok := queues[family]; !ok {
			queues[family] = d.add(&object{kind: kindQueue, parent: dev})
		}
	}
	graphics, present := info.QueueFamilies[0], info.QueueFamilies[0]
	if len(info.QueueFamilies) > 1 {
		present = info.QueueFamilies[1]
	}
	d.lost = false
	return dev, device.Queues{
		Graphics:       queues[graphics],
		Present:        queues[present],
		GraphicsFamily: graphics,
		PresentFamily:  present,
	}, nil
}

// DestroyDevice implements device.Driver
func (d *Driver) DestroyDevice(dev device.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := d.children(dev); n > 0 {
		d.violate("device destroyed with %d live child objects", n)
	}
	for h, o := range d.objects {
		if o.kind == kindQueue && o.parent == dev {
			delete(d.objects, h)
		}
	}
	d.pending = nil
	d.remove(dev, kindDevice)
}

// DeviceWaitIdle implements device.Driver
func (d *Driver) DeviceWaitIdle(dev device.Handle) device.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return device.ErrorDeviceLost
	}
	d.retire(len(d.pending))
	return device.Success
}

// CreateSwapchain implements device.Driver
func (d *Driver) CreateSwapchain(dev device.Handle, info device.SwapchainInfo) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return device.NullHandle, err
	}
	if res, ok := d.fault(OpCreateSwapchain); ok {
		return device.NullHandle, errors.Wrap(res, "create swapchain")
	}
	w, err := d.window(info.Surface)
	if err != nil {
		return device.NullHandle, err
	}
	if w.lost {
		return device.NullHandle, errors.Wrap(device.ErrorSurfaceLost, "create swapchain")
	}
	if info.Extent.IsZero() || info.Extent.Width > 16384 || info.Extent.Height > 16384 {
		return device.NullHandle, errors.Wrapf(device.ErrorValidationFailed, "create swapchain: extent %s out of range", info.Extent)
	}
	if info.MinImageCount < d.opts.MinImageCount || (d.opts.MaxImageCount > 0 && info.MinImageCount > d.opts.MaxImageCount) {
		return device.NullHandle, errors.Wrapf(device.ErrorValidationFailed, "create swapchain: image count %d out of range", info.MinImageCount)
	}
	if !containsFormat(d.opts.SurfaceFormats, info.Format) {
		return device.NullHandle, errors.Wrapf(device.ErrorFormatNotSupported, "create swapchain: %s", info.Format.Format)
	}
	if !containsMode(d.opts.PresentModes, info.PresentMode) {
		return device.NullHandle, errors.Wrapf(device.ErrorFeatureNotPresent, "create swapchain: present mode %s", info.PresentMode)
	}

	for h, o := range d.objects {
		if o.kind == kindSwapchain && o.window == info.Surface && !o.retired && h != info.Old {
			return device.NullHandle, errors.Wrap(device.ErrorNativeWindowInUse, "create swapchain")
		}
	}
	if info.Old != device.NullHandle {
		old, err := d.get(info.Old, kindSwapchain)
		if err != nil {
			return device.NullHandle, err
		}
		old.retired = true
	}

	sc := &object{
		kind:     kindSwapchain,
		parent:   dev,
		window:   info.Surface,
		extent:   info.Extent,
		format:   info.Format.Format,
		acquired: make([]bool, info.MinImageCount),
	}
	handle := d.add(sc)
	for i := uint32(0); i < info.MinImageCount; i++ {
		sc.images = append(sc.images, d.add(&object{kind: kindImage, parent: handle, format: sc.format, extent: sc.extent}))
	}
	d.swapchainsCreated++
	return handle, nil
}

// DestroySwapchain implements device.Driver
func (d *Driver) DestroySwapchain(dev, swapchain device.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc := d.remove(swapchain, kindSwapchain)
	if sc == nil {
		return
	}
	for _, img := range sc.images {
		delete(d.objects, img)
	}
}

// SwapchainImages implements device.Driver
func (d *Driver) SwapchainImages(dev, swapchain device.Handle) ([]device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, err := d.get(swapchain, kindSwapchain)
	if err != nil {
		return nil, err
	}
	return append([]device.Handle(nil), sc.images...), nil
}

// CreateImageView implements device.Driver
func (d *Driver) CreateImageView(dev, image device.Handle, format device.Format) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return device.NullHandle, err
	}
	img, err := d.get(image, kindImage)
	if err != nil {
		return device.NullHandle, err
	}
	if img.format != format {
		return device.NullHandle, errors.Wrapf(device.ErrorFormatNotSupported, "create image view: %s on a %s image", format, img.format)
	}
	return d.add(&object{kind: kindImageView, parent: dev, image: image, extent: img.extent, format: format}), nil
}

// DestroyImageView implements device.Driver
func (d *Driver) DestroyImageView(dev, view device.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remove(view, kindImageView)
}

// CreateRenderPass implements device.Driver
func (d *Driver) CreateRenderPass(dev device.Handle, colorFormat device.Format) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return device.NullHandle, err
	}
	if colorFormat == device.FormatUndefined {
		return device.NullHandle, errors.Wrap(device.ErrorFormatNotSupported, "create render pass")
	}
	return d.add(&object{kind: kindRenderPass, parent: dev, format: colorFormat}), nil
}

// DestroyRenderPass implements device.Driver
func (d *Driver) DestroyRenderPass(dev, pass device.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remove(pass, kindRenderPass)
}

// CreateFramebuffer implements device.Driver
func (d *Driver) CreateFramebuffer(dev device.Handle, info device.FramebufferInfo) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return device.NullHandle, err
	}
	pass, err := d.get(info.RenderPass, kindRenderPass)
	if err != nil {
		return device.NullHandle, err
	}
	for _, a := range info.Attachments {
		view, err := d.get(a, kindImageView)
		if err != nil {
			return device.NullHandle, err
		}
		if view.format != pass.format {
			return device.NullHandle, errors.Wrapf(device.ErrorValidationFailed, "create framebuffer: attachment %s, render pass %s", view.format, pass.format)
		}
		if view.extent != info.Extent {
			return device.NullHandle, errors.Wrapf(device.ErrorValidationFailed, "create framebuffer: attachment %s, framebuffer %s", view.extent, info.Extent)
		}
	}
	return d.add(&object{
		kind:        kindFramebuffer,
		parent:      dev,
		renderPass:  info.RenderPass,
		attachments: append([]device.Handle(nil), info.Attachments...),
		extent:      info.Extent,
	}), nil
}

// DestroyFramebuffer implements device.Driver
func (d *Driver) DestroyFramebuffer(dev, framebuffer device.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remove(framebuffer, kindFramebuffer)
}

// CreateShaderModule implements device.Driver
func (d *Driver) CreateShaderModule(dev device.Handle, code []byte) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return device.NullHandle, err
	}
	if len(code) < 20 || len(code)%4 != 0 || binary.LittleEndian.Uint32(code) != spirvMagic {
		return device.NullHandle, errors.Wrap(device.ErrorValidationFailed, "create shader module: not SPIR-V")
	}
	return d.add(&object{kind: kindShaderModule, parent: dev}), nil
}

// DestroyShaderModule implements device.Driver
func (d *Driver) DestroyShaderModule(dev, module device.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remove(module, kindShaderModule)
}

// CreatePipelineLayout implements device.Driver
func (d *Driver) CreatePipelineLayout(dev device.Handle, pushConstantSize uint32) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return device.NullHandle, err
	}
	if pushConstantSize%4 != 0 || pushConstantSize > 128 {
		return device.NullHandle, errors.Wrapf(device.ErrorValidationFailed, "create pipeline layout: push constant size %d", pushConstantSize)
	}
	return d.add(&object{kind: kindPipelineLayout, parent: dev}), nil
}

// DestroyPipelineLayout implements device.Driver
func (d *Driver) DestroyPipelineLayout(dev, layout device.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remove(layout, kindPipelineLayout)
}

// CreateGraphicsPipeline implements device.Driver
func (d *Driver) CreateGraphicsPipeline(dev device.Handle, info device.PipelineInfo) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return device.NullHandle, err
	}
	if res, ok := d.fault(OpCreatePipeline); ok {
		return device.NullHandle, errors.Wrap(res, "create graphics pipeline")
	}
	pass, err := d.get(info.RenderPass, kindRenderPass)
	if err != nil {
		return device.NullHandle, err
	}
	if _, err := d.get(info.Layout, kindPipelineLayout); err != nil {
		return device.NullHandle, err
	}
	var hasVertex bool
	for _, stage := range info.Stages {
		if _, err := d.get(stage.Module, kindShaderModule); err != nil {
			return device.NullHandle, err
		}
		if stage.Kind == device.VertexShader {
			hasVertex = true
		}
	}
	if !hasVertex {
		return device.NullHandle, errors.Wrap(device.ErrorValidationFailed, "create graphics pipeline: no vertex stage")
	}
	d.pipelinesCreated++
	return d.add(&object{kind: kindPipeline, parent: dev, renderPass: info.RenderPass, format: pass.format}), nil
}

// DestroyPipeline implements device.Driver
func (d *Driver) DestroyPipeline(dev, pipeline device.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remove(pipeline, kindPipeline)
}

// CreateCommandPool implements device.Driver
func (d *Driver) CreateCommandPool(dev device.Handle, queueFamily uint32) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return device.NullHandle, err
	}
	return d.add(&object{kind: kindCommandPool, parent: dev}), nil
}

// DestroyCommandPool implements device.Driver. Command buffers
// allocated from the pool are freed with it.
func (d *Driver) DestroyCommandPool(dev, pool device.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for h, o := range d.objects {
		if o.kind == kindCommandBuffer && o.parent == pool {
			if o.state == commandPending {
				d.violate("command buffer %d freed while pending", h)
			}
			delete(d.objects, h)
		}
	}
	d.remove(pool, kindCommandPool)
}

// AllocateCommandBuffers implements device.Driver
func (d *Driver) AllocateCommandBuffers(dev, pool device.Handle, count int) ([]device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return nil, err
	}
	if _, err := d.get(pool, kindCommandPool); err != nil {
		return nil, err
	}
	buffers := make([]device.Handle, count)
	for i := range buffers {
		buffers[i] = d.add(&object{kind: kindCommandBuffer, parent: pool})
	}
	return buffers, nil
}

// CreateSemaphore implements device.Driver
func (d *Driver) CreateSemaphore(dev device.Handle) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return device.NullHandle, err
	}
	return d.add(&object{kind: kindSemaphore, parent: dev}), nil
}

// DestroySemaphore implements device.Driver
func (d *Driver) DestroySemaphore(dev, semaphore device.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remove(semaphore, kindSemaphore)
}

// CreateFence implements device.Driver
func (d *Driver) CreateFence(dev device.Handle, signaled bool) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return device.NullHandle, err
	}
	return d.add(&object{kind: kindFence, parent: dev, signaled: signaled}), nil
}

// DestroyFence implements device.Driver
func (d *Driver) DestroyFence(dev, fence device.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if o, err := d.get(fence, kindFence); err == nil && o.pending {
		d.violate("fence %d destroyed while pending", fence)
	}
	d.remove(fence, kindFence)
}

// CreateBuffer implements device.Driver
func (d *Driver) CreateBuffer(dev device.Handle, size uint64) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return device.NullHandle, err
	}
	if size == 0 {
		return device.NullHandle, errors.Wrap(device.ErrorValidationFailed, "create buffer: zero size")
	}
	return d.add(&object{kind: kindBuffer, parent: dev, data: make([]byte, size)}), nil
}

// WriteBuffer implements device.Driver
func (d *Driver) WriteBuffer(dev, buffer device.Handle, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return err
	}
	buf, err := d.get(buffer, kindBuffer)
	if err != nil {
		return err
	}
	if len(data) > len(buf.data) {
		return errors.Wrapf(device.ErrorOutOfDeviceMemory, "write buffer: %d bytes into %d", len(data), len(buf.data))
	}
	copy(buf.data, data)
	return nil
}

// DestroyBuffer implements device.Driver
func (d *Driver) DestroyBuffer(dev, buffer device.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remove(buffer, kindBuffer)
}

// BufferContents returns a copy of what was last written into buffer.
func (d *Driver) BufferContents(buffer device.Handle) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, err := d.get(buffer, kindBuffer)
	if err != nil {
		return nil
	}
	return append([]byte(nil), buf.data...)
}

func containsFormat(formats []device.SurfaceFormat, f device.SurfaceFormat) bool {
	for _, candidate := range formats {
		if candidate == f {
			return true
		}
	}
	return false
}

func containsMode(modes []device.PresentMode, m device.PresentMode) bool {
	for _, candidate := range modes {
		if candidate == m {
			return true
		}
	}
	return false
}
