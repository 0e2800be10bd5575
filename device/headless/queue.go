// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless

import (
	"time"

	"github.com/devblok/vkloop/device"
	"github.com/pkg/errors"
)

// WaitForFence implements device.Driver. A pending fence completes
// together with every submission queued before it.
func (d *Driver) WaitForFence(dev, fence device.Handle, timeout time.Duration) device.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return device.ErrorDeviceLost
	}
	if res, ok := d.fault(OpWaitFence); ok {
		return res
	}
	f, err := d.get(fence, kindFence)
	if err != nil {
		d.violate("wait: %s", err.Error())
		return device.ErrorValidationFailed
	}
	if f.signaled {
		return device.Success
	}
	if !f.pending {
		d.violate("wait on fence %d that was never submitted", fence)
		return device.Timeout
	}
	for i, sub := range d.pending {
		if sub.fence == fence {
			d.retire(i + 1)
			break
		}
	}
	return device.Success
}

// ResetFence implements device.Driver
func (d *Driver) ResetFence(dev, fence device.Handle) device.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return device.ErrorDeviceLost
	}
	f, err := d.get(fence, kindFence)
	if err != nil {
		d.violate("reset: %s", err.Error())
		return device.ErrorValidationFailed
	}
	if f.pending {
		d.violate("fence %d reset while pending", fence)
	}
	f.signaled = false
	return device.Success
}

// ResetCommandBuffer implements device.Driver
func (d *Driver) ResetCommandBuffer(dev, cmd device.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return err
	}
	c, err := d.get(cmd, kindCommandBuffer)
	if err != nil {
		return err
	}
	if c.state == commandPending {
		d.violate("command buffer %d reset while pending", cmd)
		return errors.Wrap(device.ErrorValidationFailed, "reset command buffer: pending")
	}
	c.state = commandInitial
	c.record = device.Recording{}
	return nil
}

// RecordCommandBuffer implements device.Driver
func (d *Driver) RecordCommandBuffer(dev, cmd device.Handle, rec device.Recording) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return err
	}
	if res, ok := d.fault(OpRecord); ok {
		return errors.Wrap(res, "record command buffer")
	}
	c, err := d.get(cmd, kindCommandBuffer)
	if err != nil {
		return err
	}
	if c.state == commandPending {
		d.violate("command buffer %d recorded while pending", cmd)
		return errors.Wrap(device.ErrorValidationFailed, "record command buffer: pending")
	}

	fb, err := d.get(rec.Framebuffer, kindFramebuffer)
	if err != nil {
		return errors.Wrap(err, "record command buffer")
	}
	if fb.renderPass != rec.RenderPass {
		return errors.Wrap(device.ErrorValidationFailed, "record command buffer: framebuffer built for another render pass")
	}
	if fb.extent != rec.Extent {
		return errors.Wrapf(device.ErrorValidationFailed, "record command buffer: render area %s, framebuffer %s", rec.Extent, fb.extent)
	}
	pipeline, err := d.get(rec.Pipeline, kindPipeline)
	if err != nil {
		return errors.Wrap(err, "record command buffer")
	}
	if pipeline.renderPass != rec.RenderPass {
		return errors.Wrap(device.ErrorValidationFailed, "record command buffer: pipeline built for another render pass")
	}
	if _, err := d.get(rec.Layout, kindPipelineLayout); err != nil {
		return errors.Wrap(err, "record command buffer")
	}
	if rec.VertexCount > 0 {
		if _, err := d.get(rec.VertexBuffer, kindBuffer); err != nil {
			return errors.Wrap(err, "record command buffer")
		}
	}
	c.record = rec
	c.state = commandExecutable
	return nil
}

// AcquireNextImage implements device.Driver
func (d *Driver) AcquireNextImage(dev, swapchain device.Handle, timeout time.Duration, semaphore device.Handle) (uint32, device.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.deviceObject(dev); err != nil {
		return 0, device.ErrorDeviceLost
	}
	d.acquires++
	injected, faulted := d.fault(OpAcquire)
	if faulted && injected != device.Suboptimal {
		return 0, injected
	}

	sc, err := d.get(swapchain, kindSwapchain)
	if err != nil {
		d.violate("acquire: %s", err.Error())
		return 0, device.ErrorValidationFailed
	}
	w := d.windows[sc.window]
	switch {
	case w.lost:
		return 0, device.ErrorSurfaceLost
	case sc.retired, w.extent != sc.extent:
		return 0, device.ErrorOutOfDate
	}

	sem, err := d.get(semaphore, kindSemaphore)
	if err != nil {
		d.violate("acquire: %s", err.Error())
		return 0, device.ErrorValidationFailed
	}
	if sem.signaled {
		d.violate("acquire signals semaphore %d that is already signaled", semaphore)
	}

	count := uint32(len(sc.images))
	for i := uint32(0); i < count; i++ {
		idx := (sc.cursor + i) % count
		if sc.acquired[idx] {
			continue
		}
		sc.acquired[idx] = true
		sc.cursor = (idx + 1) % count
		sem.signaled = true
		if faulted {
			return idx, device.Suboptimal
		}
		return idx, device.Success
	}
	if timeout == 0 {
		return 0, device.NotReady
	}
	return 0, device.Timeout
}

// QueueSubmit implements device.Driver
func (d *Driver) QueueSubmit(queue device.Handle, sub device.Submission) device.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return device.ErrorDeviceLost
	}
	if res, ok := d.fault(OpSubmit); ok {
		return res
	}
	if _, err := d.get(queue, kindQueue); err != nil {
		d.violate("submit: %s", err.Error())
		return device.ErrorValidationFailed
	}
	d.submits++

	cmd, err := d.get(sub.Command, kindCommandBuffer)
	if err != nil {
		d.violate("submit: %s", err.Error())
		return device.ErrorValidationFailed
	}
	if cmd.state != commandExecutable {
		d.violate("command buffer %d submitted without being recorded", sub.Command)
		return device.ErrorValidationFailed
	}
	if sub.Wait != device.NullHandle {
		sem, err := d.get(sub.Wait, kindSemaphore)
		if err != nil {
			d.violate("submit: %s", err.Error())
			return device.ErrorValidationFailed
		}
		if !sem.signaled {
			d.violate("submit waits on semaphore %d that nothing signals", sub.Wait)
		}
		sem.signaled = false
	}
	if sub.Signal != device.NullHandle {
		sem, err := d.get(sub.Signal, kindSemaphore)
		if err != nil {
			d.violate("submit: %s", err.Error())
			return device.ErrorValidationFailed
		}
		if sem.signaled {
			d.violate("submit signals semaphore %d that is already signaled", sub.Signal)
		}
		sem.signaled = true
	}
	if sub.Fence != device.NullHandle {
		f, err := d.get(sub.Fence, kindFence)
		if err != nil {
			d.violate("submit: %s", err.Error())
			return device.ErrorValidationFailed
		}
		if f.signaled || f.pending {
			d.violate("submit with fence %d that was not reset", sub.Fence)
		}
		f.pending = true
	}

	cmd.state = commandPending
	d.pending = append(d.pending, submission{command: sub.Command, fence: sub.Fence})
	if d.opts.Latency > 0 && len(d.pending) > d.opts.Latency {
		d.retire(len(d.pending) - d.opts.Latency)
	}
	if len(d.pending) > d.maxPending {
		d.maxPending = len(d.pending)
	}
	return device.Success
}

// QueuePresent implements device.Driver. The wait semaphore is
// consumed and the image released even when the swapchain is out of date.
func (d *Driver) QueuePresent(queue device.Handle, p device.Presentation) device.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return device.ErrorDeviceLost
	}
	if _, err := d.get(queue, kindQueue); err != nil {
		d.violate("present: %s", err.Error())
		return device.ErrorValidationFailed
	}
	sc, err := d.get(p.Swapchain, kindSwapchain)
	if err != nil {
		d.violate("present: %s", err.Error())
		return device.ErrorValidationFailed
	}
	if int(p.ImageIndex) >= len(sc.images) || !sc.acquired[p.ImageIndex] {
		d.violate("present of image %d that was not acquired", p.ImageIndex)
		return device.ErrorValidationFailed
	}
	sc.acquired[p.ImageIndex] = false

	if p.Wait != device.NullHandle {
		sem, err := d.get(p.Wait, kindSemaphore)
		if err != nil {
			d.violate("present: %s", err.Error())
			return device.ErrorValidationFailed
		}
		if !sem.signaled {
			d.violate("present waits on semaphore %d that nothing signals", p.Wait)
		}
		sem.signaled = false
	}
	d.presents++

	if res, ok := d.fault(OpPresent); ok {
		return res
	}
	w := d.windows[sc.window]
	switch {
	case w.lost:
		return device.ErrorSurfaceLost
	case sc.retired, w.extent != sc.extent:
		return device.ErrorOutOfDate
	}
	return device.Success
}

// retire completes the first n pending submissions in queue order.
func (d *Driver) retire(n int) {
	for _, sub := range d.pending[:n] {
		if cmd, ok := d.objects[sub.command]; ok {
			cmd.state = commandExecutable
		}
		if f, ok := d.objects[sub.fence]; ok {
			f.pending = false
			f.signaled = true
		}
	}
	d.pending = append(d.pending[:0], d.pending[n:]...)
}
