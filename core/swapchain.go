// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"time"

	"github.com/devblok/vkloop/device"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Window is the windowing collaborator. It owns the surface and
// reports the drawable size in pixels.
type Window interface {
	Surface() device.Handle
	FramebufferExtent() device.Extent
}

// SurfaceStatus is the outcome of acquire and present that
// does not abort the frame loop.
type SurfaceStatus int

// Surface statuses
const (
	SurfaceOK SurfaceStatus = iota
	SurfaceSuboptimal
	SurfaceOutOfDate
	SurfaceLost
)

func (s SurfaceStatus) String() string {
	switch s {
	case SurfaceOK:
		return "ok"
	case SurfaceSuboptimal:
		return "suboptimal"
	case SurfaceOutOfDate:
		return "out of date"
	case SurfaceLost:
		return "surface lost"
	}
	return "unknown"
}

// Invalidates reports whether the swapchain has to be recreated.
func (s SurfaceStatus) Invalidates() bool {
	return s != SurfaceOK
}

// preferredSurfaceFormats in order of preference
var preferredSurfaceFormats = []device.SurfaceFormat{
	{Format: device.FormatB8G8R8A8Srgb, ColorSpace: device.ColorSpaceSrgbNonlinear},
	{Format: device.FormatR8G8B8A8Srgb, ColorSpace: device.ColorSpaceSrgbNonlinear},
}

var compositeAlphaPreference = []device.CompositeAlpha{
	device.CompositeAlphaOpaque,
	device.CompositeAlphaPreMultiplied,
	device.CompositeAlphaPostMultiplied,
	device.CompositeAlphaInherit,
}

// Swapchain is one generation of the presentable image set. It is never
// modified after creation, recreation builds a new one.
type Swapchain struct {
	Handle      device.Handle
	Format      device.SurfaceFormat
	PresentMode device.PresentMode
	Extent      device.Extent
	Images      []device.Handle
	Views       []device.Handle
}

// ImageCount returns the number of images in the chain.
func (s *Swapchain) ImageCount() int {
	return len(s.Images)
}

// RecreateResult tells what dependent resources must be rebuilt.
type RecreateResult struct {
	FormatChanged bool
	ExtentChanged bool
}

type swapchainPlan struct {
	format         device.SurfaceFormat
	presentMode    device.PresentMode
	extent         device.Extent
	imageCount     uint32
	compositeAlpha device.CompositeAlpha
}

// SwapchainManager negotiates, creates and recreates the swapchain
// for one surface. Per image resources are owned here and addressed
// by image index.
type SwapchainManager struct {
	ctx    *Context
	window Window
	cfg    RendererConfiguration
	log    log.FieldLogger

	current *Swapchain
	owners  []int
}

// NewSwapchainManager creates a manager, Create must be called before use.
func NewSwapchainManager(ctx *Context, window Window, cfg RendererConfiguration) *SwapchainManager {
	return &SwapchainManager{
		ctx:    ctx,
		window: window,
		cfg:    cfg,
		log:    ctx.Logger().WithField("component", "swapchain"),
	}
}

// Create negotiates and creates the first swapchain.
func (m *SwapchainManager) Create() error {
	plan, err := m.negotiate()
	if err != nil {
		return newError(InitializationError, StageSurface, err)
	}
	sc, err := m.create(plan, device.NullHandle)
	if err != nil {
		return newError(InitializationError, StageSurface, err)
	}
	m.install(sc)
	m.log.WithFields(log.Fields{
		"extent":  sc.Extent.String(),
		"images":  sc.ImageCount(),
		"format":  sc.Format.Format.String(),
		"present": sc.PresentMode.String(),
	}).Info("swapchain created")
	return nil
}

// Current returns the live swapchain.
func (m *SwapchainManager) Current() *Swapchain {
	return m.current
}

// Recreate replaces the swapchain after waiting for the device to go
// idle. The previous chain is handed to the driver as the old swapchain
// and destroyed once the new one exists. While the surface has no area
// the current chain is kept and a transient error is returned.
func (m *SwapchainManager) Recreate() (RecreateResult, error) {
	if err := m.ctx.WaitIdle(); err != nil {
		return RecreateResult{}, err
	}

	plan, err := m.negotiate()
	if err != nil {
		if errors.Is(err, errSurfaceZeroExtent) {
			return RecreateResult{}, err
		}
		return RecreateResult{}, newError(FrameLoopFailure, StageRecreate, err)
	}

	old := m.current
	m.destroyViews(old)

	sc, err := m.create(plan, old.Handle)
	if err != nil {
		return RecreateResult{}, newError(FrameLoopFailure, StageRecreate, err)
	}
	m.ctx.Driver.DestroySwapchain(m.ctx.Device, old.Handle)
	m.install(sc)

	result := RecreateResult{
		FormatChanged: sc.Format != old.Format,
		ExtentChanged: sc.Extent != old.Extent,
	}
	m.log.WithFields(log.Fields{
		"extent":        sc.Extent.String(),
		"images":        sc.ImageCount(),
		"formatChanged": result.FormatChanged,
	}).Info("swapchain recreated")
	return result, nil
}

// AcquireNextImage acquires an image to render into, signaling semaphore
// when it is ready. Out of date and lost surfaces are reported as status.
func (m *SwapchainManager) AcquireNextImage(timeout time.Duration, semaphore device.Handle) (uint32, SurfaceStatus, error) {
	idx, res := m.ctx.Driver.AcquireNextImage(m.ctx.Device, m.current.Handle, timeout, semaphore)
	status, err := surfaceStatus(StageAcquire, res)
	return idx, status, err
}

// Present queues image for presentation after wait is signaled.
func (m *SwapchainManager) Present(image uint32, wait device.Handle) (SurfaceStatus, error) {
	res := m.ctx.Driver.QueuePresent(m.ctx.Queues.Present, device.Presentation{
		Swapchain:  m.current.Handle,
		ImageIndex: image,
		Wait:       wait,
	})
	return surfaceStatus(StagePresent, res)
}

// ImageOwner returns the frame slot last rendering into image, -1 if none.
func (m *SwapchainManager) ImageOwner(image uint32) int {
	return m.owners[image]
}

// SetImageOwner records that slot renders into image.
func (m *SwapchainManager) SetImageOwner(image uint32, slot int) {
	m.owners[image] = slot
}

// Destroy destroys the image views and the swapchain.
func (m *SwapchainManager) Destroy() {
	if m.current == nil {
		return
	}
	m.destroyViews(m.current)
	m.ctx.Driver.DestroySwapchain(m.ctx.Device, m.current.Handle)
	m.current = nil
	m.owners = nil
}

func (m *SwapchainManager) install(sc *Swapchain) {
	m.current = sc
	m.owners = make([]int, len(sc.Images))
	for i := range m.owners {
		m.owners[i] = -1
	}
}

func (m *SwapchainManager) negotiate() (swapchainPlan, error) {
	caps, err := m.ctx.Driver.SurfaceCapabilities(m.ctx.Adapter.ID, m.ctx.Surface)
	if err != nil {
		return swapchainPlan{}, errors.Wrap(err, "surface capabilities")
	}

	extent := chooseExtent(caps, m.window.FramebufferExtent())
	if extent.IsZero() {
		return swapchainPlan{}, errSurfaceZeroExtent
	}
	format, err := chooseSurfaceFormat(caps.Formats)
	if err != nil {
		return swapchainPlan{}, err
	}
	mode, err := choosePresentMode(caps.PresentModes, m.cfg.PresentMode)
	if err != nil {
		return swapchainPlan{}, err
	}
	if mode != m.cfg.PresentMode {
		m.log.WithField("preferred", m.cfg.PresentMode.String()).Debug("present mode unsupported, using fifo")
	}
	return swapchainPlan{
		format:         format,
		presentMode:    mode,
		extent:         extent,
		imageCount:     chooseImageCount(caps, m.cfg.SwapchainSize, mode),
		compositeAlpha: chooseCompositeAlpha(caps.SupportedCompositeAlpha),
	}, nil
}

func (m *SwapchainManager) create(plan swapchainPlan, old device.Handle) (*Swapchain, error) {
	drv, dev := m.ctx.Driver, m.ctx.Device

	families := []uint32{m.ctx.Queues.GraphicsFamily}
	if m.ctx.Queues.PresentFamily != m.ctx.Queues.GraphicsFamily {
		families = append(families, m.ctx.Queues.PresentFamily)
	}

	handle, err := drv.CreateSwapchain(dev, device.SwapchainInfo{
		Surface:        m.ctx.Surface,
		MinImageCount:  plan.imageCount,
		Format:         plan.format,
		Extent:         plan.extent,
		PresentMode:    plan.presentMode,
		CompositeAlpha: plan.compositeAlpha,
		QueueFamilies:  families,
		Old:            old,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create swapchain")
	}

	sc := &Swapchain{
		Handle:      handle,
		Format:      plan.format,
		PresentMode: plan.presentMode,
		Extent:      plan.extent,
	}
	if sc.Images, err = drv.SwapchainImages(dev, handle); err != nil {
		drv.DestroySwapchain(dev, handle)
		return nil, errors.Wrap(err, "swapchain images")
	}
	for _, img := range sc.Images {
		view, err := drv.CreateImageView(dev, img, plan.format.Format)
		if err != nil {
			m.destroyViews(sc)
			drv.DestroySwapchain(dev, handle)
			return nil, errors.Wrap(err, "create image view")
		}
		sc.Views = append(sc.Views, view)
	}
	return sc, nil
}

func (m *SwapchainManager) destroyViews(sc *Swapchain) {
	for _, view := range sc.Views {
		m.ctx.Driver.DestroyImageView(m.ctx.Device, view)
	}
	sc.Views = nil
}

func surfaceStatus(stage string, res device.Result) (SurfaceStatus, error) {
	switch res {
	case device.Success:
		return SurfaceOK, nil
	case device.Suboptimal:
		return SurfaceSuboptimal, nil
	case device.ErrorOutOfDate:
		return SurfaceOutOfDate, nil
	case device.ErrorSurfaceLost:
		return SurfaceLost, nil
	}
	return SurfaceOK, frameError(stage, res)
}

func chooseSurfaceFormat(formats []device.SurfaceFormat) (device.SurfaceFormat, error) {
	if len(formats) == 0 {
		return device.SurfaceFormat{}, errors.New("surface advertises no formats")
	}
	// a single undefined entry means any format may be used
	if len(formats) == 1 && formats[0].Format == device.FormatUndefined {
		return preferredSurfaceFormats[0], nil
	}
	for _, want := range preferredSurfaceFormats {
		for _, have := range formats {
			if want == have {
				return have, nil
			}
		}
	}
	return formats[0], nil
}

func choosePresentMode(modes []device.PresentMode, preferred device.PresentMode) (device.PresentMode, error) {
	var fifo bool
	for _, mode := range modes {
		if mode == preferred {
			return mode, nil
		}
		if mode == device.PresentModeFifo {
			fifo = true
		}
	}
	if !fifo {
		return device.PresentModeFifo, errors.Errorf("surface supports neither %s nor fifo", preferred)
	}
	return device.PresentModeFifo, nil
}

func chooseExtent(caps device.SurfaceCapabilities, desired device.Extent) device.Extent {
	if caps.CurrentExtent.Width != device.UndefinedExtent {
		return caps.CurrentExtent
	}
	return desired.Clamp(caps.MinImageExtent, caps.MaxImageExtent)
}

func chooseImageCount(caps device.SurfaceCapabilities, preferred uint32, mode device.PresentMode) uint32 {
	count := caps.MinImageCount + 1
	if preferred > count {
		count = preferred
	}
	if mode == device.PresentModeMailbox && count < 3 {
		count = 3
	}
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	if count < caps.MinImageCount {
		count = caps.MinImageCount
	}
	return count
}

func chooseCompositeAlpha(supported device.CompositeAlpha) device.CompositeAlpha {
	for _, alpha := range compositeAlphaPreference {
		if supported&alpha != 0 {
			return alpha
		}
	}
	return device.CompositeAlphaOpaque
}
