// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"encoding/binary"

	"github.com/devblok/vkloop/device"
	"github.com/devblok/vkloop/model"
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const spirvMagic = 0x07230203

// DefaultVertexCapacity is the vertex buffer size of a frame slot,
// in vertices, when the description does not set one.
const DefaultVertexCapacity = 1024

// PipelineDescription is everything needed to build pipeline state,
// apart from the surface format.
type PipelineDescription struct {
	Shaders          []device.ShaderStage
	VertexLayout     device.VertexLayout
	Topology         device.Topology
	CullBackFaces    bool
	PushConstantSize uint32

	// VertexCapacity is the number of vertices a frame can draw.
	VertexCapacity uint32
}

// DefaultPipelineDescription draws model vertices with a push constant transform.
func DefaultPipelineDescription(shaders []device.ShaderStage) PipelineDescription {
	return PipelineDescription{
		Shaders:          shaders,
		VertexLayout:     model.VertexLayout(),
		Topology:         device.TopologyTriangleList,
		PushConstantSize: model.PushConstantSize,
		VertexCapacity:   DefaultVertexCapacity,
	}
}

// Validate checks the description before any native object is created.
func (d PipelineDescription) Validate() error {
	var vertex, fragment bool
	for _, s := range d.Shaders {
		if len(s.Code) < 20 || len(s.Code)%4 != 0 {
			return errors.Errorf("shader %s: code size %d is not a SPIR-V module", s.Name, len(s.Code))
		}
		if binary.LittleEndian.Uint32(s.Code) != spirvMagic {
			return errors.Errorf("shader %s: bad SPIR-V magic", s.Name)
		}
		switch s.Kind {
		case device.VertexShader:
			vertex = true
		case device.FragmentShader:
			fragment = true
		}
	}
	if !vertex || !fragment {
		return errors.New("a vertex and a fragment shader are required")
	}
	if d.VertexLayout.Stride == 0 {
		return errors.New("vertex stride is zero")
	}
	for _, a := range d.VertexLayout.Attributes {
		if a.Format.Size() == 0 {
			return errors.Errorf("attribute %d: %s is not a vertex format", a.Location, a.Format)
		}
		if a.Offset+a.Format.Size() > d.VertexLayout.Stride {
			return errors.Errorf("attribute %d: ends past vertex stride %d", a.Location, d.VertexLayout.Stride)
		}
	}
	if d.PushConstantSize%4 != 0 || d.PushConstantSize > model.PushConstantSize {
		return errors.Errorf("push constant size %d, expected a multiple of 4 up to %d", d.PushConstantSize, model.PushConstantSize)
	}
	return nil
}

// Binding is what a pipeline state was built against. Two builds
// from one description and format produce equal bindings.
type Binding struct {
	Format           device.Format
	Stages           int
	VertexStride     uint32
	Topology         device.Topology
	PushConstantSize uint32
}

// PipelineState is an immutable render pass, layout and pipeline triple.
// It is rebuilt, never modified, when the surface format changes.
type PipelineState struct {
	RenderPass device.Handle
	Layout     device.Handle
	Pipeline   device.Handle
	Binding    Binding
}

// BuildPipeline builds pipeline state for desc rendering into format.
// Viewport and scissor are dynamic, so the state does not depend on the extent.
func BuildPipeline(ctx *Context, desc PipelineDescription, format device.Format) (*PipelineState, error) {
	if err := desc.Validate(); err != nil {
		return nil, newError(InitializationError, StagePipeline, err)
	}
	drv, dev := ctx.Driver, ctx.Device
	ps := &PipelineState{
		Binding: Binding{
			Format:           format,
			Stages:           len(desc.Shaders),
			VertexStride:     desc.VertexLayout.Stride,
			Topology:         desc.Topology,
			PushConstantSize: desc.PushConstantSize,
		},
	}

	var err error
	if ps.RenderPass, err = drv.CreateRenderPass(dev, format); err != nil {
		return nil, newError(InitializationError, StagePipeline, errors.Wrap(err, "create render pass"))
	}
	if ps.Layout, err = drv.CreatePipelineLayout(dev, desc.PushConstantSize); err != nil {
		ps.Destroy(ctx)
		return nil, newError(InitializationError, StagePipeline, errors.Wrap(err, "create pipeline layout"))
	}

	stages := make([]device.PipelineStage, 0, len(desc.Shaders))
	defer func() {
		// modules are only needed until the pipeline exists
		for _, s := range stages {
			drv.DestroyShaderModule(dev, s.Module)
		}
	}()
	for _, s := range desc.Shaders {
		module, err := drv.CreateShaderModule(dev, s.Code)
		if err != nil {
			ps.Destroy(ctx)
			return nil, newError(InitializationError, StagePipeline, errors.Wrapf(err, "shader %s", s.Name))
		}
		entry := s.Entry
		if entry == "" {
			entry = "main"
		}
		stages = append(stages, device.PipelineStage{Kind: s.Kind, Module: module, Entry: entry})
	}

	if ps.Pipeline, err = drv.CreateGraphicsPipeline(dev, device.PipelineInfo{
		RenderPass:    ps.RenderPass,
		Layout:        ps.Layout,
		Stages:        stages,
		VertexLayout:  desc.VertexLayout,
		Topology:      desc.Topology,
		CullBackFaces: desc.CullBackFaces,
	}); err != nil {
		ps.Destroy(ctx)
		return nil, newError(InitializationError, StagePipeline, errors.Wrap(err, "create graphics pipeline"))
	}
	return ps, nil
}

// Destroy destroys the pipeline, layout and render pass.
func (p *PipelineState) Destroy(ctx *Context) {
	drv, dev := ctx.Driver, ctx.Device
	if p.Pipeline != device.NullHandle {
		drv.DestroyPipeline(dev, p.Pipeline)
	}
	if p.Layout != device.NullHandle {
		drv.DestroyPipelineLayout(dev, p.Layout)
	}
	if p.RenderPass != device.NullHandle {
		drv.DestroyRenderPass(dev, p.RenderPass)
	}
	*p = PipelineState{}
}

// FrameSlot holds the objects of one in-flight frame. It refers to
// swapchain images by index only.
type FrameSlot struct {
	Index          int
	Command        device.Handle
	ImageAvailable device.Handle
	RenderFinished device.Handle
	InFlight       device.Handle
	VertexBuffer   device.Handle
	VertexCapacity uint64

	State FrameState

	// submitted is set while InFlight may be unsignaled
	submitted bool
}

// DrawState is the per frame input of the frame loop.
type DrawState struct {
	Mesh       model.Mesh
	Transform  glm.Mat4
	ClearColor *[4]float32
}

// ResourceSet owns pipeline state, framebuffers and frame slots.
type ResourceSet struct {
	ctx  *Context
	desc PipelineDescription
	cfg  RendererConfiguration
	log  log.FieldLogger

	Pipeline     *PipelineState
	Framebuffers []device.Handle
	Slots        []FrameSlot

	extent device.Extent
	pool   device.Handle
}

// NewResourceSet builds pipeline state for the swapchain format, one
// framebuffer per swapchain image and cfg.InFlightFrames frame slots.
func NewResourceSet(ctx *Context, sc *Swapchain, desc PipelineDescription, cfg RendererConfiguration) (*ResourceSet, error) {
	if desc.VertexCapacity == 0 {
		desc.VertexCapacity = DefaultVertexCapacity
	}
	rs := &ResourceSet{
		ctx:  ctx,
		desc: desc,
		cfg:  cfg,
		log:  ctx.Logger().WithField("component", "resources"),
	}

	pipeline, err := BuildPipeline(ctx, desc, sc.Format.Format)
	if err != nil {
		return nil, err
	}
	rs.Pipeline = pipeline

	if err := rs.createFramebuffers(sc); err != nil {
		rs.Destroy()
		return nil, err
	}
	if err := rs.createSlots(cfg.InFlightFrames); err != nil {
		rs.Destroy()
		return nil, err
	}
	rs.log.WithFields(log.Fields{
		"slots":        len(rs.Slots),
		"framebuffers": len(rs.Framebuffers),
	}).Debug("resources created")
	return rs, nil
}

// Extent returns the extent the framebuffers were built for.
func (r *ResourceSet) Extent() device.Extent {
	return r.extent
}

// DestroyFramebuffers releases every framebuffer. Must happen before
// the image views they reference are destroyed.
func (r *ResourceSet) DestroyFramebuffers() {
	for _, fb := range r.Framebuffers {
		r.ctx.Driver.DestroyFramebuffer(r.ctx.Device, fb)
	}
	r.Framebuffers = nil
}

// Rebuild adapts to a recreated swapchain. Pipeline state is rebuilt
// only when the format changed.
func (r *ResourceSet) Rebuild(sc *Swapchain, formatChanged bool) error {
	r.DestroyFramebuffers()
	if formatChanged || r.Pipeline == nil || r.Pipeline.Binding.Format != sc.Format.Format {
		if r.Pipeline != nil {
			r.Pipeline.Destroy(r.ctx)
			r.Pipeline = nil
		}
		pipeline, err := BuildPipeline(r.ctx, r.desc, sc.Format.Format)
		if err != nil {
			return newError(FrameLoopFailure, StageRecreate, err)
		}
		r.Pipeline = pipeline
		r.log.WithField("format", sc.Format.Format.String()).Info("pipeline rebuilt")
	}
	if err := r.createFramebuffers(sc); err != nil {
		return newError(FrameLoopFailure, StageRecreate, err)
	}
	return nil
}

// Record resets and records the command buffer of slot to draw
// state into the framebuffer of image.
func (r *ResourceSet) Record(slot *FrameSlot, image uint32, state DrawState) error {
	drv, dev := r.ctx.Driver, r.ctx.Device
	if int(image) >= len(r.Framebuffers) {
		return &Error{Kind: RecordingError, Stage: StageRecord, Err: errors.Errorf("no framebuffer for image %d", image)}
	}
	if err := drv.ResetCommandBuffer(dev, slot.Command); err != nil {
		return newError(RecordingError, StageRecord, errors.Wrap(err, "reset command buffer"))
	}

	vertices := state.Mesh.Bytes()
	if uint64(len(vertices)) > slot.VertexCapacity {
		return &Error{Kind: RecordingError, Stage: StageRecord, Err: errors.Errorf("%d vertices exceed slot capacity", state.Mesh.Len())}
	}
	if len(vertices) > 0 {
		if err := drv.WriteBuffer(dev, slot.VertexBuffer, vertices); err != nil {
			return newError(RecordingError, StageRecord, errors.Wrap(err, "write vertex buffer"))
		}
	}

	clear := r.cfg.ClearColor
	if state.ClearColor != nil {
		clear = *state.ClearColor
	}
	transform := state.Transform
	if transform == (glm.Mat4{}) {
		transform = glm.Ident4()
	}

	rec := device.Recording{
		RenderPass:   r.Pipeline.RenderPass,
		Framebuffer:  r.Framebuffers[image],
		Pipeline:     r.Pipeline.Pipeline,
		Layout:       r.Pipeline.Layout,
		Extent:       r.extent,
		ClearColor:   clear,
		VertexBuffer: slot.VertexBuffer,
		VertexCount:  state.Mesh.Len(),
	}
	if r.desc.PushConstantSize > 0 {
		rec.PushConstants = model.PushConstant{Transform: transform}.Bytes()[:r.desc.PushConstantSize]
	}
	if err := drv.RecordCommandBuffer(dev, slot.Command, rec); err != nil {
		return newError(RecordingError, StageRecord, errors.Wrap(err, "record command buffer"))
	}
	return nil
}

// Destroy releases everything in reverse creation order. Slots must
// not be in flight.
func (r *ResourceSet) Destroy() {
	drv, dev := r.ctx.Driver, r.ctx.Device
	for i := len(r.Slots) - 1; i >= 0; i-- {
		s := r.Slots[i]
		drv.DestroyBuffer(dev, s.VertexBuffer)
		drv.DestroyFence(dev, s.InFlight)
		drv.DestroySemaphore(dev, s.RenderFinished)
		drv.DestroySemaphore(dev, s.ImageAvailable)
	}
	r.Slots = nil
	if r.pool != device.NullHandle {
		drv.DestroyCommandPool(dev, r.pool)
		r.pool = device.NullHandle
	}
	r.DestroyFramebuffers()
	if r.Pipeline != nil {
		r.Pipeline.Destroy(r.ctx)
		r.Pipeline = nil
	}
}

func (r *ResourceSet) createFramebuffers(sc *Swapchain) error {
	for _, view := range sc.Views {
		fb, err := r.ctx.Driver.CreateFramebuffer(r.ctx.Device, device.FramebufferInfo{
			RenderPass:  r.Pipeline.RenderPass,
			Attachments: []device.Handle{view},
			Extent:      sc.Extent,
		})
		if err != nil {
			r.DestroyFramebuffers()
			return newError(InitializationError, StageResources, errors.Wrap(err, "create framebuffer"))
		}
		r.Framebuffers = append(r.Framebuffers, fb)
	}
	r.extent = sc.Extent
	return nil
}

func (r *ResourceSet) createSlots(count int) error {
	drv, dev := r.ctx.Driver, r.ctx.Device
	wrap := func(err error, msg string) error {
		return newError(InitializationError, StageResources, errors.Wrap(err, msg))
	}

	pool, err := drv.CreateCommandPool(dev, r.ctx.Queues.GraphicsFamily)
	if err != nil {
		return wrap(err, "create command pool")
	}
	r.pool = pool

	commands, err := drv.AllocateCommandBuffers(dev, pool, count)
	if err != nil {
		return wrap(err, "allocate command buffers")
	}

	capacity := uint64(r.desc.VertexCapacity) * uint64(r.desc.VertexLayout.Stride)
	for i := 0; i < count; i++ {
		slot := FrameSlot{
			Index:          i,
			Command:        commands[i],
			VertexCapacity: capacity,
		}
		// appended first so Destroy releases whatever was created
		r.Slots = append(r.Slots, slot)
		s := &r.Slots[i]
		if s.ImageAvailable, err = drv.CreateSemaphore(dev); err != nil {
			return wrap(err, "create semaphore")
		}
		if s.RenderFinished, err = drv.CreateSemaphore(dev); err != nil {
			return wrap(err, "create semaphore")
		}
		if s.InFlight, err = drv.CreateFence(dev, true); err != nil {
			return wrap(err, "create fence")
		}
		if s.VertexBuffer, err = drv.CreateBuffer(dev, capacity); err != nil {
			return wrap(err, "create vertex buffer")
		}
	}
	return nil
}
