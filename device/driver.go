// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import "time"

// Driver is the native graphics layer. Every object it creates is
// referred to by a Handle, and must be destroyed through the same Driver.
// Creation calls return an error that unwraps to a Result, per frame
// calls return the Result directly so callers can branch on it without
// allocating.
type Driver interface {
	// Adapters enumerates physical devices, with presentation
	// support, formats and present modes resolved against surface.
	Adapters(surface Handle) ([]Adapter, error)

	// CreateDevice creates a logical device on adapter.
	CreateDevice(adapter Handle, info DeviceInfo) (Handle, Queues, error)
	DestroyDevice(dev Handle)

	// DeviceWaitIdle blocks until all submitted work is finished.
	DeviceWaitIdle(dev Handle) Result

	// SurfaceCapabilities reads current capabilities of surface.
	SurfaceCapabilities(adapter, surface Handle) (SurfaceCapabilities, error)

	CreateSwapchain(dev Handle, info SwapchainInfo) (Handle, error)
	DestroySwapchain(dev, swapchain Handle)
	SwapchainImages(dev, swapchain Handle) ([]Handle, error)

	CreateImageView(dev, image Handle, format Format) (Handle, error)
	DestroyImageView(dev, view Handle)

	CreateRenderPass(dev Handle, colorFormat Format) (Handle, error)
	DestroyRenderPass(dev, pass Handle)

	CreateFramebuffer(dev Handle, info FramebufferInfo) (Handle, error)
	DestroyFramebuffer(dev, framebuffer Handle)

	CreateShaderModule(dev Handle, code []byte) (Handle, error)
	DestroyShaderModule(dev, module Handle)

	CreatePipelineLayout(dev Handle, pushConstantSize uint32) (Handle, error)
	DestroyPipelineLayout(dev, layout Handle)

	CreateGraphicsPipeline(dev Handle, info PipelineInfo) (Handle, error)
	DestroyPipeline(dev, pipeline Handle)

	CreateCommandPool(dev Handle, queueFamily uint32) (Handle, error)
	DestroyCommandPool(dev, pool Handle)
	AllocateCommandBuffers(dev, pool Handle, count int) ([]Handle, error)

	// ResetCommandBuffer returns a command buffer to its initial state.
	// The buffer must not be pending execution.
	ResetCommandBuffer(dev, cmd Handle) error

	// RecordCommandBuffer records a single render pass draw into cmd.
	RecordCommandBuffer(dev, cmd Handle, rec Recording) error

	CreateSemaphore(dev Handle) (Handle, error)
	DestroySemaphore(dev, semaphore Handle)

	CreateFence(dev Handle, signaled bool) (Handle, error)
	DestroyFence(dev, fence Handle)

	// WaitForFence returns Success once the fence is signaled,
	// Timeout when timeout elapses first.
	WaitForFence(dev, fence Handle, timeout time.Duration) Result
	ResetFence(dev, fence Handle) Result

	// CreateBuffer creates a host visible vertex buffer of size bytes.
	CreateBuffer(dev Handle, size uint64) (Handle, error)
	WriteBuffer(dev, buffer Handle, data []byte) error
	DestroyBuffer(dev, buffer Handle)

	// AcquireNextImage signals semaphore once the returned image can be
	// rendered to. Suboptimal still returns a usable image, ErrorOutOfDate
	// and ErrorSurfaceLost do not.
	AcquireNextImage(dev, swapchain Handle, timeout time.Duration, semaphore Handle) (uint32, Result)

	// QueueSubmit submits one command buffer. Fence is signaled when done.
	QueueSubmit(queue Handle, submission Submission) Result

	// QueuePresent queues an image for presentation.
	QueuePresent(queue Handle, presentation Presentation) Result

	// Destroy releases the driver itself, every object created
	// through it must be destroyed before.
	Destroy()
}

// DeviceInfo configures logical device creation.
type DeviceInfo struct {
	QueueFamilies []uint32
	Extensions    []string
	Validation    bool
}

// SwapchainInfo describes a swapchain to be created. Old is the
// swapchain being replaced, NullHandle on first creation.
type SwapchainInfo struct {
	Surface        Handle
	MinImageCount  uint32
	Format         SurfaceFormat
	Extent         Extent
	PresentMode    PresentMode
	CompositeAlpha CompositeAlpha
	QueueFamilies  []uint32
	Old            Handle
}

// FramebufferInfo binds image views to a render pass.
type FramebufferInfo struct {
	RenderPass  Handle
	Attachments []Handle
	Extent      Extent
}

// ShaderKind identifies a programmable pipeline stage.
type ShaderKind int

// Supported stages
const (
	VertexShader ShaderKind = iota
	FragmentShader
)

func (k ShaderKind) String() string {
	switch k {
	case VertexShader:
		return "vert"
	case FragmentShader:
		return "frag"
	}
	return "unknown"
}

// ShaderStage is compiled SPIR-V code for one stage.
type ShaderStage struct {
	Name  string
	Kind  ShaderKind
	Entry string
	Code  []byte
}

// VertexAttribute is one input of the vertex shader.
type VertexAttribute struct {
	Location uint32
	Format   Format
	Offset   uint32
}

// VertexLayout is the layout of a single interleaved vertex binding.
type VertexLayout struct {
	Stride     uint32
	Attributes []VertexAttribute
}

// Topology values match VkPrimitiveTopology.
type Topology int32

// Primitive topologies
const (
	TopologyPointList     Topology = 0
	TopologyLineList      Topology = 1
	TopologyTriangleList  Topology = 3
	TopologyTriangleStrip Topology = 4
)

// PipelineStage is a shader module bound to its stage.
type PipelineStage struct {
	Kind   ShaderKind
	Module Handle
	Entry  string
}

// PipelineInfo describes a graphics pipeline. Viewport and scissor
// are always dynamic state.
type PipelineInfo struct {
	RenderPass    Handle
	Layout        Handle
	Stages        []PipelineStage
	VertexLayout  VertexLayout
	Topology      Topology
	CullBackFaces bool
}

// Recording is the content of one frame's command buffer.
type Recording struct {
	RenderPass    Handle
	Framebuffer   Handle
	Pipeline      Handle
	Layout        Handle
	Extent        Extent
	ClearColor    [4]float32
	VertexBuffer  Handle
	VertexCount   uint32
	PushConstants []byte
}

// Submission of one command buffer to a queue.
type Submission struct {
	Command Handle
	Wait    Handle
	Signal  Handle
	Fence   Handle
}

// Presentation of one swapchain image.
type Presentation struct {
	Swapchain  Handle
	ImageIndex uint32
	Wait       Handle
}
