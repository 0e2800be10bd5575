// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"sync"

	"github.com/devblok/vkloop/device"
	"github.com/devblok/vkloop/device/vkdevice"
	"github.com/pkg/errors"
	"github.com/veandco/go-sdl2/sdl"
)

// window is an SDL window with a Vulkan surface. SDL calls are made
// on the main thread only, the drawable size is cached for the
// render goroutine.
type window struct {
	window  *sdl.Window
	surface device.Handle

	mu     sync.Mutex
	extent device.Extent
}

func newWindow(title string, width, height uint32) (*window, error) {
	w, err := sdl.CreateWindow(title,
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(width),
		int32(height),
		sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return nil, errors.Wrap(err, "sdl.CreateWindow()")
	}
	win := &window{window: w}
	win.updateExtent()
	return win, nil
}

// createSurface creates the Vulkan surface for drv and hands it over.
func (w *window) createSurface(drv *vkdevice.Driver) error {
	ptr, err := w.window.VulkanCreateSurface(drv.Instance())
	if err != nil {
		return errors.Wrap(err, "sdl.Window.VulkanCreateSurface()")
	}
	w.surface = drv.RegisterSurface(ptr)
	return nil
}

// Surface implements core.Window
func (w *window) Surface() device.Handle {
	return w.surface
}

// FramebufferExtent implements core.Window
func (w *window) FramebufferExtent() device.Extent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.extent
}

// updateExtent reads the drawable size. Minimized windows report zero.
func (w *window) updateExtent() device.Extent {
	width, height := w.window.VulkanGetDrawableSize()
	if w.window.GetFlags()&sdl.WINDOW_MINIMIZED != 0 {
		width, height = 0, 0
	}
	extent := device.Extent{Width: uint32(width), Height: uint32(height)}
	w.mu.Lock()
	w.extent = extent
	w.mu.Unlock()
	return extent
}

func (w *window) destroy() {
	if w.window != nil {
		w.window.Destroy()
		w.window = nil
	}
}
