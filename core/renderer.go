// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"context"

	"github.com/devblok/vkloop/device"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// NewFrameRenderer creates a not yet initialised renderer drawing
// into window through drv.
func NewFrameRenderer(drv device.Driver, window Window, desc PipelineDescription, cfg Configuration, logger log.FieldLogger) (*FrameRenderer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Kind: InitializationError, Stage: "configuration", Err: err}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &FrameRenderer{
		driver:      drv,
		window:      window,
		description: desc,
		cfg:         cfg,
		log:         logger,
	}, nil
}

// FrameRenderer wires the device context, swapchain manager, resource
// set and frame loop together in lifecycle order.
type FrameRenderer struct {
	driver      device.Driver
	window      Window
	description PipelineDescription
	cfg         Configuration
	log         log.FieldLogger

	context   *Context
	swapchain *SwapchainManager
	resources *ResourceSet
	loop      *FrameLoop
	time      *Time
}

var _ Renderer = (*FrameRenderer)(nil)

// Initialise implements interface
func (r *FrameRenderer) Initialise() error {
	if r.loop != nil {
		return errors.New("renderer already initialised")
	}

	ctx, err := NewContext(r.driver, r.window.Surface(), r.cfg, r.log)
	if err != nil {
		return err
	}
	r.context = ctx

	r.swapchain = NewSwapchainManager(ctx, r.window, r.cfg.Renderer)
	if err := r.swapchain.Create(); err != nil {
		r.Destroy()
		return err
	}

	resources, err := NewResourceSet(ctx, r.swapchain.Current(), r.description, r.cfg.Renderer)
	if err != nil {
		r.Destroy()
		return err
	}
	r.resources = resources

	r.loop = NewFrameLoop(ctx, r.swapchain, resources, r.cfg.Renderer)
	r.time = NewTime(r.cfg.Time)
	return nil
}

// Draw implements interface
func (r *FrameRenderer) Draw(ctx context.Context, state DrawState) error {
	if r.loop == nil {
		return errors.New("renderer not initialised")
	}
	return r.loop.Frame(ctx, state)
}

// Run implements interface
func (r *FrameRenderer) Run(ctx context.Context, source DrawSource) error {
	if r.loop == nil {
		return errors.New("renderer not initialised")
	}
	return r.loop.Run(ctx, source, r.time)
}

// NotifyResize implements interface
func (r *FrameRenderer) NotifyResize() {
	if r.loop != nil {
		r.loop.NotifyResize()
	}
}

// Stats implements interface
func (r *FrameRenderer) Stats() Stats {
	if r.loop == nil {
		return Stats{}
	}
	return r.loop.Stats()
}

// Swapchain returns the live swapchain, nil before initialisation.
func (r *FrameRenderer) Swapchain() *Swapchain {
	if r.swapchain == nil {
		return nil
	}
	return r.swapchain.Current()
}

// FrameCounter returns the number of presented frames.
func (r *FrameRenderer) FrameCounter() uint64 {
	if r.loop == nil {
		return 0
	}
	return r.loop.FrameCounter()
}

// Time returns the time service pacing Run, nil before initialisation.
// The window event loop polls on its event ticker.
func (r *FrameRenderer) Time() *Time {
	return r.time
}

// Context returns the device context, nil before initialisation.
func (r *FrameRenderer) Context() *Context {
	return r.context
}

// Destroy implements interface. Every in flight frame is waited for
// before anything is destroyed, teardown runs in reverse creation order.
func (r *FrameRenderer) Destroy() {
	if r.loop != nil {
		if err := r.loop.Drain(context.Background()); err != nil {
			r.log.WithError(err).Warn("draining frames failed")
		}
		r.loop = nil
	}
	if r.time != nil {
		r.time.Stop()
		r.time = nil
	}
	if r.resources != nil {
		r.resources.Destroy()
		r.resources = nil
	}
	if r.swapchain != nil {
		r.swapchain.Destroy()
		r.swapchain = nil
	}
	if r.context != nil {
		r.context.Destroy()
		r.context = nil
	}
}
