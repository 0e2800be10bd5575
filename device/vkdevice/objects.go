// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkdevice

import (
	"github.com/devblok/vkloop/device"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// CreateDevice implements device.Driver. The first queue family is the
// graphics family, the last one is used for presentation.
func (d *Driver) CreateDevice(adapter device.Handle, info device.DeviceInfo) (device.Handle, device.Queues, error) {
	gpu, err := d.gpu(adapter)
	if err != nil {
		return device.NullHandle, device.Queues{}, err
	}
	if len(info.QueueFamilies) == 0 {
		return device.NullHandle, device.Queues{}, errNoQueueFamilies
	}

	var queueInfos []vk.DeviceQueueCreateInfo
	seen := make(map[uint32]bool)
	for _, family := range info.QueueFamilies {
		if seen[family] {
			continue
		}
		seen[family] = true
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}

	var layers []string
	if info.Validation {
		layers = []string{ValidationLayer}
	}
	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(info.Extensions)),
		PpEnabledExtensionNames: safeStrings(info.Extensions),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     safeStrings(layers),
	}

	var vkDevice vk.Device
	if err := check(vk.CreateDevice(gpu, &dci, nil, &vkDevice), "vk.CreateDevice()"); err != nil {
		return device.NullHandle, device.Queues{}, err
	}

	var cache vk.PipelineCache
	pcci := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}
	if err := check(vk.CreatePipelineCache(vkDevice, &pcci, nil, &cache), "vk.CreatePipelineCache()"); err != nil {
		vk.DestroyDevice(vkDevice, nil)
		return device.NullHandle, device.Queues{}, err
	}

	l := &logical{
		device: vkDevice,
		gpu:    gpu,
		cache:  cache,
	}
	vk.GetPhysicalDeviceMemoryProperties(gpu, &l.memory)
	l.memory.Deref()

	graphicsFamily := info.QueueFamilies[0]
	presentFamily := info.QueueFamilies[len(info.QueueFamilies)-1]

	var graphicsQueue vk.Queue
	vk.GetDeviceQueue(vkDevice, graphicsFamily, 0, &graphicsQueue)
	queues := device.Queues{
		Graphics:       d.objects.put(graphicsQueue),
		GraphicsFamily: graphicsFamily,
		PresentFamily:  presentFamily,
	}
	l.queues = append(l.queues, queues.Graphics)
	if presentFamily == graphicsFamily {
		queues.Present = queues.Graphics
	} else {
		var presentQueue vk.Queue
		vk.GetDeviceQueue(vkDevice, presentFamily, 0, &presentQueue)
		queues.Present = d.objects.put(presentQueue)
		l.queues = append(l.queues, queues.Present)
	}

	return d.objects.put(l), queues, nil
}

// DestroyDevice implements device.Driver
func (d *Driver) DestroyDevice(dev device.Handle) {
	o, ok := d.objects.take(dev)
	if !ok {
		return
	}
	l := o.(*logical)
	for _, q := range l.queues {
		d.objects.take(q)
	}
	vk.DestroyPipelineCache(l.device, l.cache, nil)
	vk.DestroyDevice(l.device, nil)
}

// DeviceWaitIdle implements device.Driver
func (d *Driver) DeviceWaitIdle(dev device.Handle) device.Result {
	l, err := d.logical(dev)
	if err != nil {
		return device.ErrorValidationFailed
	}
	return device.Result(vk.DeviceWaitIdle(l.device))
}

// CreateSwapchain implements device.Driver
func (d *Driver) CreateSwapchain(dev device.Handle, info device.SwapchainInfo) (device.Handle, error) {
	l, err := d.logical(dev)
	if err != nil {
		return device.NullHandle, err
	}
	srf, err := d.vkSurface(info.Surface)
	if err != nil {
		return device.NullHandle, err
	}
	old := vk.NullSwapchain
	if info.Old != device.NullHandle {
		if sc, ok := d.lookup(info.Old).(*swapchain); ok {
			old = sc.swapchain
		}
	}

	scci := vk.SwapchainCreateInfo{
		SType:           vk.StructureTypeSwapchainCreateInfo,
		Surface:         srf,
		MinImageCount:   info.MinImageCount,
		ImageFormat:     vk.Format(info.Format.Format),
		ImageColorSpace: vk.ColorSpace(info.Format.ColorSpace),
		ImageExtent: vk.Extent2D{
			Width:  info.Extent.Width,
			Height: info.Extent.Height,
		},
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     vk.SurfaceTransformIdentityBit,
		CompositeAlpha:   vk.CompositeAlphaFlagBits(info.CompositeAlpha),
		PresentMode:      vk.PresentMode(info.PresentMode),
		Clipped:          vk.True,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
		OldSwapchain:     old,
	}
	if len(info.QueueFamilies) > 1 && info.QueueFamilies[0] != info.QueueFamilies[1] {
		scci.ImageSharingMode = vk.SharingModeConcurrent
		scci.QueueFamilyIndexCount = uint32(len(info.QueueFamilies))
		scci.PQueueFamilyIndices = info.QueueFamilies
	}

	var sc vk.Swapchain
	if err := check(vk.CreateSwapchain(l.device, &scci, nil, &sc), "vk.CreateSwapchain()"); err != nil {
		return device.NullHandle, err
	}
	return d.objects.put(&swapchain{swapchain: sc}), nil
}

// DestroySwapchain implements device.Driver. Image handles of the
// swapchain become invalid.
func (d *Driver) DestroySwapchain(dev, h device.Handle) {
	o, ok := d.objects.take(h)
	if !ok {
		return
	}
	sc := o.(*swapchain)
	for _, img := range sc.images {
		d.objects.take(img)
	}
	vk.DestroySwapchain(d.vkDevice(dev), sc.swapchain, nil)
}

// SwapchainImages implements device.Driver. Repeated calls return
// the same handles.
func (d *Driver) SwapchainImages(dev, h device.Handle) ([]device.Handle, error) {
	l, err := d.logical(dev)
	if err != nil {
		return nil, err
	}
	sc, ok := d.lookup(h).(*swapchain)
	if !ok {
		return nil, errors.Wrapf(device.ErrorValidationFailed, "swapchain %d does not exist", h)
	}
	if sc.images != nil {
		return sc.images, nil
	}

	var numImages uint32
	if err := check(vk.GetSwapchainImages(l.device, sc.swapchain, &numImages, nil), "vk.GetSwapchainImages()"); err != nil {
		return nil, err
	}
	images := make([]vk.Image, numImages)
	if err := check(vk.GetSwapchainImages(l.device, sc.swapchain, &numImages, images), "vk.GetSwapchainImages()"); err != nil {
		return nil, err
	}
	handles := make([]device.Handle, 0, numImages)
	for _, img := range images[:numImages] {
		handles = append(handles, d.objects.put(img))
	}
	sc.images = handles
	return handles, nil
}

// CreateImageView implements device.Driver
func (d *Driver) CreateImageView(dev, image device.Handle, format device.Format) (device.Handle, error) {
	l, err := d.logical(dev)
	if err != nil {
		return device.NullHandle, err
	}
	img, ok := d.lookup(image).(vk.Image)
	if !ok {
		return device.NullHandle, errors.Wrapf(device.ErrorValidationFailed, "image %d does not exist", image)
	}

	ivci := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img,
		ViewType: vk.ImageViewType2d,
		Format:   vk.Format(format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	var view vk.ImageView
	if err := check(vk.CreateImageView(l.device, &ivci, nil, &view), "vk.CreateImageView()"); err != nil {
		return device.NullHandle, err
	}
	return d.objects.put(view), nil
}

// DestroyImageView implements device.Driver
func (d *Driver) DestroyImageView(dev, h device.Handle) {
	if o, ok := d.objects.take(h); ok {
		vk.DestroyImageView(d.vkDevice(dev), o.(vk.ImageView), nil)
	}
}

// CreateRenderPass implements device.Driver. The pass has a single
// color attachment that is cleared and left ready for presentation.
func (d *Driver) CreateRenderPass(dev device.Handle, colorFormat device.Format) (device.Handle, error) {
	l, err := d.logical(dev)
	if err != nil {
		return device.NullHandle, err
	}

	attachments := []vk.AttachmentDescription{{
		Format:         vk.Format(colorFormat),
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutPresentSrc,
	}}
	colorAttachmentRef := []vk.AttachmentReference{{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorAttachmentRef)),
		PColorAttachments:    colorAttachmentRef,
	}
	subpassDependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
	}

	rpci := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{subpassDependency},
	}

	var renderPass vk.RenderPass
	if err := check(vk.CreateRenderPass(l.device, &rpci, nil, &renderPass), "vk.CreateRenderPass()"); err != nil {
		return device.NullHandle, err
	}
	return d.objects.put(renderPass), nil
}

// DestroyRenderPass implements device.Driver
func (d *Driver) DestroyRenderPass(dev, h device.Handle) {
	if o, ok := d.objects.take(h); ok {
		vk.DestroyRenderPass(d.vkDevice(dev), o.(vk.RenderPass), nil)
	}
}

// CreateFramebuffer implements device.Driver
func (d *Driver) CreateFramebuffer(dev device.Handle, info device.FramebufferInfo) (device.Handle, error) {
	l, err := d.logical(dev)
	if err != nil {
		return device.NullHandle, err
	}
	renderPass, ok := d.lookup(info.RenderPass).(vk.RenderPass)
	if !ok {
		return device.NullHandle, errors.Wrapf(device.ErrorValidationFailed, "render pass %d does not exist", info.RenderPass)
	}
	attachments := make([]vk.ImageView, 0, len(info.Attachments))
	for _, h := range info.Attachments {
		view, ok := d.lookup(h).(vk.ImageView)
		if !ok {
			return device.NullHandle, errors.Wrapf(device.ErrorValidationFailed, "image view %d does not exist", h)
		}
		attachments = append(attachments, view)
	}

	fci := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderPass,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           info.Extent.Width,
		Height:          info.Extent.Height,
		Layers:          1,
	}

	var framebuffer vk.Framebuffer
	if err := check(vk.CreateFramebuffer(l.device, &fci, nil, &framebuffer), "vk.CreateFramebuffer()"); err != nil {
		return device.NullHandle, err
	}
	return d.objects.put(framebuffer), nil
}

// DestroyFramebuffer implements device.Driver
func (d *Driver) DestroyFramebuffer(dev, h device.Handle) {
	if o, ok := d.objects.take(h); ok {
		vk.DestroyFramebuffer(d.vkDevice(dev), o.(vk.Framebuffer), nil)
	}
}

// CreateShaderModule implements device.Driver
func (d *Driver) CreateShaderModule(dev device.Handle, code []byte) (device.Handle, error) {
	l, err := d.logical(dev)
	if err != nil {
		return device.NullHandle, err
	}
	words, err := SliceUint32(code)
	if err != nil {
		return device.NullHandle, errors.Wrap(device.ErrorValidationFailed, err.Error())
	}

	smci := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}
	var module vk.ShaderModule
	if err := check(vk.CreateShaderModule(l.device, &smci, nil, &module), "vk.CreateShaderModule()"); err != nil {
		return device.NullHandle, err
	}
	return d.objects.put(module), nil
}

// DestroyShaderModule implements device.Driver
func (d *Driver) DestroyShaderModule(dev, h device.Handle) {
	if o, ok := d.objects.take(h); ok {
		vk.DestroyShaderModule(d.vkDevice(dev), o.(vk.ShaderModule), nil)
	}
}

// CreatePipelineLayout implements device.Driver. The push constant
// range, if any, is visible to the vertex stage.
func (d *Driver) CreatePipelineLayout(dev device.Handle, pushConstantSize uint32) (device.Handle, error) {
	l, err := d.logical(dev)
	if err != nil {
		return device.NullHandle, err
	}

	plci := vk.PipelineLayoutCreateInfo{
		SType: vk.StructureTypePipelineLayoutCreateInfo,
	}
	if pushConstantSize > 0 {
		plci.PushConstantRangeCount = 1
		plci.PPushConstantRanges = []vk.PushConstantRange{{
			Offset:     0,
			Size:       pushConstantSize,
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit),
		}}
	}

	var layout vk.PipelineLayout
	if err := check(vk.CreatePipelineLayout(l.device, &plci, nil, &layout), "vk.CreatePipelineLayout()"); err != nil {
		return device.NullHandle, err
	}
	return d.objects.put(layout), nil
}

// DestroyPipelineLayout implements device.Driver
func (d *Driver) DestroyPipelineLayout(dev, h device.Handle) {
	if o, ok := d.objects.take(h); ok {
		vk.DestroyPipelineLayout(d.vkDevice(dev), o.(vk.PipelineLayout), nil)
	}
}

func shaderStage(kind device.ShaderKind) (vk.ShaderStageFlagBits, error) {
	switch kind {
	case device.VertexShader:
		return vk.ShaderStageVertexBit, nil
	case device.FragmentShader:
		return vk.ShaderStageFragmentBit, nil
	}
	return 0, errors.Wrapf(device.ErrorFeatureNotPresent, "unsupported shader stage %s", kind)
}

// CreateGraphicsPipeline implements device.Driver
func (d *Driver) CreateGraphicsPipeline(dev device.Handle, info device.PipelineInfo) (device.Handle, error) {
	l, err := d.logical(dev)
	if err != nil {
		return device.NullHandle, err
	}
	renderPass, ok := d.lookup(info.RenderPass).(vk.RenderPass)
	if !ok {
		return device.NullHandle, errors.Wrapf(device.ErrorValidationFailed, "render pass %d does not exist", info.RenderPass)
	}
	layout, ok := d.lookup(info.Layout).(vk.PipelineLayout)
	if !ok {
		return device.NullHandle, errors.Wrapf(device.ErrorValidationFailed, "pipeline layout %d does not exist", info.Layout)
	}

	stages := make([]vk.PipelineShaderStageCreateInfo, len(info.Stages))
	for idx, s := range info.Stages {
		stage, err := shaderStage(s.Kind)
		if err != nil {
			return device.NullHandle, err
		}
		module, ok := d.lookup(s.Module).(vk.ShaderModule)
		if !ok {
			return device.NullHandle, errors.Wrapf(device.ErrorValidationFailed, "shader module %d does not exist", s.Module)
		}
		entry := s.Entry
		if entry == "" {
			entry = "main"
		}
		stages[idx] = vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  stage,
			Module: module,
			PName:  safeString(entry),
		}
	}

	bindings := []vk.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    info.VertexLayout.Stride,
		InputRate: vk.VertexInputRateVertex,
	}}
	attributes := make([]vk.VertexInputAttributeDescription, 0, len(info.VertexLayout.Attributes))
	for _, a := range info.VertexLayout.Attributes {
		attributes = append(attributes, vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  0,
			Format:   vk.Format(a.Format),
			Offset:   a.Offset,
		})
	}

	cullMode := vk.CullModeFlags(vk.CullModeNone)
	if info.CullBackFaces {
		cullMode = vk.CullModeFlags(vk.CullModeBackBit)
	}

	gpci := []vk.GraphicsPipelineCreateInfo{{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
			VertexBindingDescriptionCount:   uint32(len(bindings)),
			PVertexBindingDescriptions:      bindings,
			VertexAttributeDescriptionCount: uint32(len(attributes)),
			PVertexAttributeDescriptions:    attributes,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: vk.PrimitiveTopology(info.Topology),
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			CullMode:    cullMode,
			FrontFace:   vk.FrontFaceCounterClockwise,
			LineWidth:   1.0,
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: 1,
			PAttachments: []vk.PipelineColorBlendAttachmentState{{
				ColorWriteMask: 0xF,
				BlendEnable:    vk.False,
			}},
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: 2,
			PDynamicStates: []vk.DynamicState{
				vk.DynamicStateScissor,
				vk.DynamicStateViewport,
			},
		},
		Layout:     layout,
		RenderPass: renderPass,
	}}

	pipelines := make([]vk.Pipeline, len(gpci))
	if err := check(vk.CreateGraphicsPipelines(l.device, l.cache, uint32(len(gpci)), gpci, nil, pipelines), "vk.CreateGraphicsPipelines()"); err != nil {
		return device.NullHandle, err
	}
	return d.objects.put(pipelines[0]), nil
}

// DestroyPipeline implements device.Driver
func (d *Driver) DestroyPipeline(dev, h device.Handle) {
	if o, ok := d.objects.take(h); ok {
		vk.DestroyPipeline(d.vkDevice(dev), o.(vk.Pipeline), nil)
	}
}
