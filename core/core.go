// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package core brings up a graphics device and drives the per frame
// render loop on it: adapter selection, swapchain negotiation and
// recreation, pipeline state and frame slot resources, and host to
// device synchronization.
package core

import "context"

// Renderer describes the rendering machinery.
// It's created only with internal values set,
// it needs to be initialised with Initialise() before use.
type Renderer interface {
	// Initialise sets up the device, swapchain, pipeline and frame slots
	Initialise() error

	// Draw renders and presents a single frame
	Draw(context.Context, DrawState) error

	// Run draws frames from the source until the context is done
	Run(context.Context, DrawSource) error

	// NotifyResize tells the renderer the window changed size,
	// safe to call from any goroutine
	NotifyResize()

	// Stats returns frame loop counters
	Stats() Stats

	// Destroy waits for in flight frames and destroys internal members
	Destroy()
}
