// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless

import (
	"github.com/devblok/vkloop/device"
	"github.com/pkg/errors"
)

type kind int

const (
	kindAdapter kind = iota
	kindWindow
	kindDevice
	kindQueue
	kindSwapchain
	kindImage
	kindImageView
	kindRenderPass
	kindFramebuffer
	kindShaderModule
	kindPipelineLayout
	kindPipeline
	kindCommandPool
	kindCommandBuffer
	kindSemaphore
	kindFence
	kindBuffer
)

var kindNames = [...]string{
	"adapter", "window", "device", "queue", "swapchain", "image", "image view",
	"render pass", "framebuffer", "shader module", "pipeline layout", "pipeline",
	"command pool", "command buffer", "semaphore", "fence", "buffer",
}

func (k kind) String() string {
	return kindNames[k]
}

type commandState int

const (
	commandInitial commandState = iota
	commandExecutable
	commandPending
)

type object struct {
	kind   kind
	parent device.Handle

	// swapchain
	window   device.Handle
	extent   device.Extent
	format   device.Format
	images   []device.Handle
	acquired []bool
	cursor   uint32
	retired  bool

	// image view, framebuffer
	image       device.Handle
	renderPass  device.Handle
	attachments []device.Handle

	// fence, semaphore
	signaled bool
	pending  bool

	// command buffer
	state  commandState
	record device.Recording

	// buffer
	data []byte
}

type submission struct {
	command device.Handle
	fence   device.Handle
}

func (d *Driver) add(o *object) device.Handle {
	d.next++
	d.objects[d.next] = o
	return d.next
}

func (d *Driver) get(h device.Handle, k kind) (*object, error) {
	o, ok := d.objects[h]
	if !ok {
		return nil, errors.Wrapf(device.ErrorValidationFailed, "%s %d does not exist", k, h)
	}
	if o.kind != k {
		return nil, errors.Wrapf(device.ErrorValidationFailed, "handle %d is a %s, not a %s", h, o.kind, k)
	}
	return o, nil
}

// remove destroys h, recording a violation when h is not a live object of kind k.
func (d *Driver) remove(h device.Handle, k kind) *object {
	if h == device.NullHandle {
		return nil
	}
	o, err := d.get(h, k)
	if err != nil {
		d.violate("destroy: %s", err.Error())
		return nil
	}
	delete(d.objects, h)
	return o
}

func (d *Driver) deviceObject(h device.Handle) (*object, error) {
	if d.lost {
		return nil, device.ErrorDeviceLost
	}
	return d.get(h, kindDevice)
}

// children counts live objects created on dev.
func (d *Driver) children(dev device.Handle) int {
	var n int
	for _, o := range d.objects {
		if o.parent == dev && o.kind != kindQueue && o.kind != kindImage {
			n++
		}
	}
	return n
}
