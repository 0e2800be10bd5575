// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless_test

import (
	"encoding/binary"
	"io/ioutil"
	"testing"

	"github.com/devblok/vkloop/device"
	"github.com/devblok/vkloop/device/headless"
	qt "github.com/frankban/quicktest"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	srgb   = device.SurfaceFormat{Format: device.FormatB8G8R8A8Srgb, ColorSpace: device.ColorSpaceSrgbNonlinear}
	extent = device.Extent{Width: 640, Height: 480}
)

type env struct {
	c      *qt.C
	drv    *headless.Driver
	window *headless.Window
	dev    device.Handle
	queues device.Queues
}

func newEnv(c *qt.C, configure func(*headless.Options)) *env {
	logger := log.New()
	logger.Out = ioutil.Discard
	opts := headless.DefaultOptions()
	opts.Logger = logger
	if configure != nil {
		configure(&opts)
	}

	drv := headless.New(opts)
	window := drv.NewWindow(extent)
	adapters, err := drv.Adapters(window.Surface())
	c.Assert(err, qt.IsNil)
	dev, queues, err := drv.CreateDevice(adapters[0].ID, device.DeviceInfo{
		QueueFamilies: []uint32{0},
		Extensions:    []string{device.SwapchainExtension},
	})
	c.Assert(err, qt.IsNil)
	return &env{c: c, drv: drv, window: window, dev: dev, queues: queues}
}

func (e *env) swapchain(images uint32, old device.Handle) device.Handle {
	sc, err := e.drv.CreateSwapchain(e.dev, device.SwapchainInfo{
		Surface:       e.window.Surface(),
		MinImageCount: images,
		Format:        srgb,
		Extent:        e.window.FramebufferExtent(),
		PresentMode:   device.PresentModeFifo,
		Old:           old,
	})
	e.c.Assert(err, qt.IsNil)
	return sc
}

func (e *env) semaphore() device.Handle {
	s, err := e.drv.CreateSemaphore(e.dev)
	e.c.Assert(err, qt.IsNil)
	return s
}

func (e *env) fence(signaled bool) device.Handle {
	f, err := e.drv.CreateFence(e.dev, signaled)
	e.c.Assert(err, qt.IsNil)
	return f
}

// recorded returns count executable command buffers drawing into a fresh framebuffer.
func (e *env) recorded(sc device.Handle, count int) (cmds []device.Handle, cleanup func()) {
	drv, dev := e.drv, e.dev
	images, err := drv.SwapchainImages(dev, sc)
	e.c.Assert(err, qt.IsNil)
	view, err := drv.CreateImageView(dev, images[0], srgb.Format)
	e.c.Assert(err, qt.IsNil)
	pass, err := drv.CreateRenderPass(dev, srgb.Format)
	e.c.Assert(err, qt.IsNil)
	fb, err := drv.CreateFramebuffer(dev, device.FramebufferInfo{RenderPass: pass, Attachments: []device.Handle{view}, Extent: extent})
	e.c.Assert(err, qt.IsNil)
	layout, err := drv.CreatePipelineLayout(dev, 64)
	e.c.Assert(err, qt.IsNil)
	module, err := drv.CreateShaderModule(dev, spirv())
	e.c.Assert(err, qt.IsNil)
	pipeline, err := drv.CreateGraphicsPipeline(dev, device.PipelineInfo{
		RenderPass: pass,
		Layout:     layout,
		Stages:     []device.PipelineStage{{Kind: device.VertexShader, Module: module, Entry: "main"}},
	})
	e.c.Assert(err, qt.IsNil)
	drv.DestroyShaderModule(dev, module)

	pool, err := drv.CreateCommandPool(dev, 0)
	e.c.Assert(err, qt.IsNil)
	cmds, err = drv.AllocateCommandBuffers(dev, pool, count)
	e.c.Assert(err, qt.IsNil)
	for _, cmd := range cmds {
		e.c.Assert(drv.RecordCommandBuffer(dev, cmd, device.Recording{
			RenderPass:  pass,
			Framebuffer: fb,
			Pipeline:    pipeline,
			Layout:      layout,
			Extent:      extent,
		}), qt.IsNil)
	}

	return cmds, func() {
		drv.DestroyCommandPool(dev, pool)
		drv.DestroyPipeline(dev, pipeline)
		drv.DestroyPipelineLayout(dev, layout)
		drv.DestroyFramebuffer(dev, fb)
		drv.DestroyRenderPass(dev, pass)
		drv.DestroyImageView(dev, view)
	}
}

func spirv() []byte {
	code := make([]byte, 20)
	binary.LittleEndian.PutUint32(code, 0x07230203)
	return code
}

func TestAdapters(t *testing.T) {
	c := qt.New(t)
	drv := headless.New(headless.DefaultOptions())
	window := drv.NewWindow(extent)

	adapters, err := drv.Adapters(window.Surface())
	c.Assert(err, qt.IsNil)
	c.Assert(adapters, qt.HasLen, 1)
	c.Assert(adapters[0].ID, qt.Not(qt.Equals), device.NullHandle)
	c.Assert(adapters[0].SurfaceFormats, qt.DeepEquals, headless.DefaultOptions().SurfaceFormats)

	_, err = drv.Adapters(device.Handle(9999))
	c.Assert(errors.Is(err, device.ErrorValidationFailed), qt.IsTrue)

	adapters, err = drv.Adapters(device.NullHandle)
	c.Assert(err, qt.IsNil)
	c.Assert(adapters, qt.HasLen, 1)
	c.Assert(adapters[0].QueueFamilies[0].SupportsPresent, qt.IsFalse)
	c.Assert(adapters[0].SurfaceFormats, qt.HasLen, 0)
}

func TestSurfaceCapabilities(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c, nil)
	adapters, _ := e.drv.Adapters(e.window.Surface())

	caps, err := e.drv.SurfaceCapabilities(adapters[0].ID, e.window.Surface())
	c.Assert(err, qt.IsNil)
	c.Assert(caps.CurrentExtent, qt.Equals, extent)
	c.Assert(caps.MinImageCount, qt.Equals, uint32(2))

	e.window.Resize(device.Extent{})
	caps, err = e.drv.SurfaceCapabilities(adapters[0].ID, e.window.Surface())
	c.Assert(err, qt.IsNil)
	c.Assert(caps.CurrentExtent.IsZero(), qt.IsTrue)
	c.Assert(caps.MinImageExtent.IsZero(), qt.IsTrue)

	e.window.Lose()
	_, err = e.drv.SurfaceCapabilities(adapters[0].ID, e.window.Surface())
	c.Assert(err, qt.Equals, device.ErrorSurfaceLost)
}

func TestSwapchainRules(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c, nil)

	sc := e.swapchain(3, device.NullHandle)
	images, err := e.drv.SwapchainImages(e.dev, sc)
	c.Assert(err, qt.IsNil)
	c.Assert(images, qt.HasLen, 3)

	_, err = e.drv.CreateSwapchain(e.dev, device.SwapchainInfo{
		Surface: e.window.Surface(), MinImageCount: 3, Format: srgb, Extent: extent, PresentMode: device.PresentModeFifo,
	})
	c.Assert(errors.Is(err, device.ErrorNativeWindowInUse), qt.IsTrue)

	_, err = e.drv.CreateSwapchain(e.dev, device.SwapchainInfo{
		Surface: e.window.Surface(), MinImageCount: 3, Format: srgb, Extent: extent, PresentMode: device.PresentModeImmediate, Old: sc,
	})
	c.Assert(errors.Is(err, device.ErrorFeatureNotPresent), qt.IsTrue)

	_, err = e.drv.CreateSwapchain(e.dev, device.SwapchainInfo{
		Surface: e.window.Surface(), MinImageCount: 1, Format: srgb, Extent: extent, PresentMode: device.PresentModeFifo, Old: sc,
	})
	c.Assert(errors.Is(err, device.ErrorValidationFailed), qt.IsTrue)

	replacement := e.swapchain(3, sc)
	sem := e.semaphore()
	_, res := e.drv.AcquireNextImage(e.dev, sc, 0, sem)
	c.Assert(res, qt.Equals, device.ErrorOutOfDate)

	e.drv.DestroySwapchain(e.dev, sc)
	e.drv.DestroySwapchain(e.dev, replacement)
	e.drv.DestroySemaphore(e.dev, sem)
	e.drv.DestroyDevice(e.dev)
	c.Assert(e.drv.Violations(), qt.HasLen, 0)
	c.Assert(e.drv.Stats().Live, qt.Equals, 0)
}

func TestAcquireRoundRobin(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c, nil)
	sc := e.swapchain(2, device.NullHandle)
	first, second, third := e.semaphore(), e.semaphore(), e.semaphore()

	idx, res := e.drv.AcquireNextImage(e.dev, sc, 0, first)
	c.Assert(res, qt.Equals, device.Success)
	c.Assert(idx, qt.Equals, uint32(0))
	idx, res = e.drv.AcquireNextImage(e.dev, sc, 0, second)
	c.Assert(res, qt.Equals, device.Success)
	c.Assert(idx, qt.Equals, uint32(1))

	_, res = e.drv.AcquireNextImage(e.dev, sc, 0, third)
	c.Assert(res, qt.Equals, device.NotReady)

	c.Assert(e.drv.QueuePresent(e.queues.Present, device.Presentation{Swapchain: sc, ImageIndex: 0, Wait: first}), qt.Equals, device.Success)
	idx, res = e.drv.AcquireNextImage(e.dev, sc, 0, third)
	c.Assert(res, qt.Equals, device.Success)
	c.Assert(idx, qt.Equals, uint32(0))

	e.window.Resize(device.Extent{Width: 10, Height: 10})
	c.Assert(e.drv.QueuePresent(e.queues.Present, device.Presentation{Swapchain: sc, ImageIndex: 1, Wait: second}), qt.Equals, device.ErrorOutOfDate)
	c.Assert(e.drv.Violations(), qt.HasLen, 0)
	c.Assert(e.drv.Stats().Presents, qt.Equals, 2)
}

func TestSubmitAndWait(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c, nil)
	sc := e.swapchain(2, device.NullHandle)
	cmds, cleanup := e.recorded(sc, 1)
	defer cleanup()
	cmd := cmds[0]

	fence := e.fence(false)
	c.Assert(e.drv.QueueSubmit(e.queues.Graphics, device.Submission{Command: cmd, Fence: fence}), qt.Equals, device.Success)
	c.Assert(e.drv.Stats().Pending, qt.Equals, 1)

	// a pending command buffer cannot be reset
	c.Assert(e.drv.ResetCommandBuffer(e.dev, cmd), qt.Not(qt.IsNil))
	c.Assert(e.drv.Violations(), qt.HasLen, 1)

	c.Assert(e.drv.WaitForFence(e.dev, fence, 0), qt.Equals, device.Success)
	c.Assert(e.drv.Stats().Pending, qt.Equals, 0)
	c.Assert(e.drv.ResetCommandBuffer(e.dev, cmd), qt.IsNil)
	c.Assert(e.drv.ResetFence(e.dev, fence), qt.Equals, device.Success)
	e.drv.DestroyFence(e.dev, fence)
}

func TestSynchronizationViolations(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c, nil)
	sc := e.swapchain(2, device.NullHandle)
	cmds, cleanup := e.recorded(sc, 1)
	defer cleanup()
	cmd := cmds[0]

	signaled := e.fence(true)
	unsignaled := e.fence(false)
	wait := e.semaphore()

	// submitting with a fence that was not reset
	c.Assert(e.drv.QueueSubmit(e.queues.Graphics, device.Submission{Command: cmd, Fence: signaled}), qt.Equals, device.Success)
	c.Assert(e.drv.Violations(), qt.HasLen, 1)
	c.Assert(e.drv.DeviceWaitIdle(e.dev), qt.Equals, device.Success)

	// waiting on a semaphore nothing signals
	c.Assert(e.drv.QueueSubmit(e.queues.Graphics, device.Submission{Command: cmd, Wait: wait}), qt.Equals, device.Success)
	c.Assert(e.drv.Violations(), qt.HasLen, 2)
	c.Assert(e.drv.DeviceWaitIdle(e.dev), qt.Equals, device.Success)

	// waiting on a fence that is never signaled would hang
	c.Assert(e.drv.WaitForFence(e.dev, unsignaled, 0), qt.Equals, device.Timeout)
	c.Assert(e.drv.Violations(), qt.HasLen, 3)
}

func TestLatencyRetiresSubmissions(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c, func(opts *headless.Options) { opts.Latency = 1 })
	sc := e.swapchain(2, device.NullHandle)
	cmds, cleanup := e.recorded(sc, 2)
	defer cleanup()

	first, second := e.fence(false), e.fence(false)
	c.Assert(e.drv.QueueSubmit(e.queues.Graphics, device.Submission{Command: cmds[0], Fence: first}), qt.Equals, device.Success)
	c.Assert(e.drv.QueueSubmit(e.queues.Graphics, device.Submission{Command: cmds[1], Fence: second}), qt.Equals, device.Success)
	c.Assert(e.drv.Stats().MaxPending, qt.Equals, 1)

	// the first submission completed when the second one was queued
	c.Assert(e.drv.ResetCommandBuffer(e.dev, cmds[0]), qt.IsNil)
	c.Assert(e.drv.WaitForFence(e.dev, first, 0), qt.Equals, device.Success)
	c.Assert(e.drv.WaitForFence(e.dev, second, 0), qt.Equals, device.Success)
	c.Assert(e.drv.Violations(), qt.HasLen, 0)
}

func TestFaultInjection(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c, nil)
	sc := e.swapchain(2, device.NullHandle)
	sem := e.semaphore()

	e.drv.Inject(headless.OpAcquire, device.ErrorOutOfDate)
	e.drv.Inject(headless.OpAcquire, device.Suboptimal)

	_, res := e.drv.AcquireNextImage(e.dev, sc, 0, sem)
	c.Assert(res, qt.Equals, device.ErrorOutOfDate)
	idx, res := e.drv.AcquireNextImage(e.dev, sc, 0, sem)
	c.Assert(res, qt.Equals, device.Suboptimal)
	c.Assert(idx, qt.Equals, uint32(0))

	e.drv.LoseDevice()
	_, res = e.drv.AcquireNextImage(e.dev, sc, 0, sem)
	c.Assert(res, qt.Equals, device.ErrorDeviceLost)
	c.Assert(e.drv.DeviceWaitIdle(e.dev), qt.Equals, device.ErrorDeviceLost)
}

func TestShaderModuleValidation(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c, nil)

	_, err := e.drv.CreateShaderModule(e.dev, []byte("not spirv at all...."))
	c.Assert(errors.Is(err, device.ErrorValidationFailed), qt.IsTrue)
	_, err = e.drv.CreateShaderModule(e.dev, spirv()[:16])
	c.Assert(errors.Is(err, device.ErrorValidationFailed), qt.IsTrue)
	_, err = e.drv.CreatePipelineLayout(e.dev, 130)
	c.Assert(errors.Is(err, device.ErrorValidationFailed), qt.IsTrue)
}

func TestBuffers(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c, nil)

	buf, err := e.drv.CreateBuffer(e.dev, 8)
	c.Assert(err, qt.IsNil)
	c.Assert(e.drv.WriteBuffer(e.dev, buf, []byte{1, 2, 3}), qt.IsNil)
	c.Assert(e.drv.BufferContents(buf), qt.DeepEquals, []byte{1, 2, 3, 0, 0, 0, 0, 0})
	c.Assert(errors.Is(e.drv.WriteBuffer(e.dev, buf, make([]byte, 9)), device.ErrorOutOfDeviceMemory), qt.IsTrue)
	e.drv.DestroyBuffer(e.dev, buf)
}

func TestLeakDetection(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c, nil)
	e.semaphore()
	e.fence(true)

	c.Assert(e.drv.Stats().Live, qt.Equals, 3)
	e.drv.DestroyDevice(e.dev)
	c.Assert(e.drv.Violations(), qt.HasLen, 1)
	c.Assert(e.drv.Violations()[0], qt.Equals, "device destroyed with 2 live child objects")

	e.drv.Destroy()
	c.Assert(e.drv.Violations(), qt.HasLen, 2)
}

func TestDestroyTwice(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c, nil)
	sem := e.semaphore()
	e.drv.DestroySemaphore(e.dev, sem)
	e.drv.DestroySemaphore(e.dev, sem)
	e.drv.DestroySemaphore(e.dev, device.NullHandle)
	c.Assert(e.drv.Violations(), qt.HasLen, 1)
}
