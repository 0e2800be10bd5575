// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless

import (
	"github.com/devblok/vkloop/device"
	"github.com/pkg/errors"
)

// Window is a simulated presentation surface. It can be resized and
// lost from any goroutine.
type Window struct {
	driver *Driver
	handle device.Handle

	// guarded by driver.mu
	extent device.Extent
	lost   bool
}

// NewWindow creates a surface of the given size.
func (d *Driver) NewWindow(extent device.Extent) *Window {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := &Window{
		driver: d,
		extent: extent,
	}
	w.handle = d.add(&object{kind: kindWindow})
	if d.windows == nil {
		d.windows = make(map[device.Handle]*Window)
	}
	d.windows[w.handle] = w
	return w
}

// Surface returns the surface handle.
func (w *Window) Surface() device.Handle {
	return w.handle
}

// FramebufferExtent returns the current drawable size.
func (w *Window) FramebufferExtent() device.Extent {
	w.driver.mu.Lock()
	defer w.driver.mu.Unlock()
	return w.extent
}

// Resize changes the drawable size. Swapchains created for the
// previous size become out of date.
func (w *Window) Resize(extent device.Extent) {
	w.driver.mu.Lock()
	defer w.driver.mu.Unlock()
	w.extent = extent
}

// Lose detaches the surface from the window system.
func (w *Window) Lose() {
	w.driver.mu.Lock()
	defer w.driver.mu.Unlock()
	w.lost = true
}

// Restore reattaches a lost surface.
func (w *Window) Restore() {
	w.driver.mu.Lock()
	defer w.driver.mu.Unlock()
	w.lost = false
}

func (d *Driver) window(h device.Handle) (*Window, error) {
	w, ok := d.windows[h]
	if !ok {
		return nil, errors.Wrapf(device.ErrorValidationFailed, "surface %d does not exist", h)
	}
	return w, nil
}

// SetSurfaceFormats replaces the formats every surface advertises,
// as happens when a window moves to a display with different capabilities.
func (d *Driver) SetSurfaceFormats(formats []device.SurfaceFormat) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.SurfaceFormats = append([]device.SurfaceFormat(nil), formats...)
}

// Adapters implements device.Driver. Without a surface no queue
// family supports presentation and no surface formats are reported.
func (d *Driver) Adapters(surface device.Handle) ([]device.Adapter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if surface != device.NullHandle {
		if _, err := d.window(surface); err != nil {
			return nil, err
		}
	}

	adapters := make([]device.Adapter, len(d.adapters))
	for i, a := range d.adapters {
		a.QueueFamilies = append([]device.QueueFamily(nil), a.QueueFamilies...)
		a.Extensions = append([]string(nil), a.Extensions...)
		if surface == device.NullHandle {
			for j := range a.QueueFamilies {
				a.QueueFamilies[j].SupportsPresent = false
			}
			a.SurfaceFormats, a.PresentModes = nil, nil
			adapters[i] = a
			continue
		}
		if a.SurfaceFormats == nil {
			a.SurfaceFormats = append([]device.SurfaceFormat(nil), d.opts.SurfaceFormats...)
		}
		if a.PresentModes == nil {
			a.PresentModes = append([]device.PresentMode(nil), d.opts.PresentModes...)
		}
		adapters[i] = a
	}
	return adapters, nil
}

// SurfaceCapabilities implements device.Driver
func (d *Driver) SurfaceCapabilities(adapter, surface device.Handle) (device.SurfaceCapabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.get(adapter, kindAdapter); err != nil {
		return device.SurfaceCapabilities{}, err
	}
	w, err := d.window(surface)
	if err != nil {
		return device.SurfaceCapabilities{}, err
	}
	if w.lost {
		return device.SurfaceCapabilities{}, device.ErrorSurfaceLost
	}

	current := w.extent
	if d.opts.UndefinedExtent {
		current = device.Extent{Width: device.UndefinedExtent, Height: device.UndefinedExtent}
	}
	min := device.Extent{Width: 1, Height: 1}
	if w.extent.IsZero() {
		// minimized windows report a zero sized box
		min = device.Extent{}
	}
	return device.SurfaceCapabilities{
		MinImageCount:           d.opts.MinImageCount,
		MaxImageCount:           d.opts.MaxImageCount,
		CurrentExtent:           current,
		MinImageExtent:          min,
		MaxImageExtent:          device.Extent{Width: 16384, Height: 16384},
		SupportedCompositeAlpha: device.CompositeAlphaOpaque | device.CompositeAlphaInherit,
		Formats:                 append([]device.SurfaceFormat(nil), d.opts.SurfaceFormats...),
		PresentModes:            append([]device.PresentMode(nil), d.opts.PresentModes...),
	}, nil
}
